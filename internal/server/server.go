// Package server exposes an executor over HTTP using the GraphQL-over-HTTP
// conventions: GET with query parameters, POST with a JSON body, and JSON
// arrays for batches.
package server

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"time"

	eventbus "github.com/hanpama/nestgraph/internal/eventbus"
	events "github.com/hanpama/nestgraph/internal/events"
	executor "github.com/hanpama/nestgraph/internal/executor"
	language "github.com/hanpama/nestgraph/internal/language"
	reqid "github.com/hanpama/nestgraph/internal/reqid"
	schema "github.com/hanpama/nestgraph/internal/schema"
)

// DefaultRequestIDHeader carries the request id in both directions.
const DefaultRequestIDHeader = "X-Request-Id"

type Handler struct {
	exec *executor.Executor
	opt  Options
}

type Options struct {
	// Timeout applies when the incoming context has no deadline. Zero
	// disables it.
	Timeout time.Duration

	// Pretty indents JSON responses.
	Pretty bool

	// MaxBodyBytes caps the request body. Zero means unlimited.
	MaxBodyBytes int64

	// AllowedOrigins enables CORS for the listed origins; "*" allows any.
	AllowedOrigins []string

	// RequestContext prepares the context of every executed operation.
	// Operations of a batch each get their own context.
	RequestContext func(context.Context) context.Context

	// RequestIDHeader names the header an incoming request id is read from
	// and echoed to. Requests without one get a fresh id.
	RequestIDHeader string
}

type Option func(*Options)

func WithTimeout(d time.Duration) Option     { return func(o *Options) { o.Timeout = d } }
func WithPretty() Option                     { return func(o *Options) { o.Pretty = true } }
func WithMaxBodyBytes(n int64) Option        { return func(o *Options) { o.MaxBodyBytes = n } }
func WithCORS(origins ...string) Option      { return func(o *Options) { o.AllowedOrigins = origins } }
func WithRequestIDHeader(name string) Option { return func(o *Options) { o.RequestIDHeader = name } }
func WithRequestContext(f func(context.Context) context.Context) Option {
	return func(o *Options) { o.RequestContext = f }
}

// New returns a handler executing requests against sch with runtime.
func New(runtime executor.Runtime, sch *schema.Schema, opts ...Option) (*Handler, error) {
	o := Options{Timeout: 10 * time.Second, RequestIDHeader: DefaultRequestIDHeader}
	for _, apply := range opts {
		apply(&o)
	}
	return &Handler{exec: executor.NewExecutor(runtime, sch), opt: o}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := ctx.Deadline(); !ok && h.opt.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opt.Timeout)
		defer cancel()
	}
	ctx = h.requestID(ctx, w, r)

	start := time.Now()
	status := http.StatusOK
	eventbus.Publish(ctx, events.RequestStart{Request: r})
	defer func() {
		eventbus.Publish(ctx, events.RequestFinish{Request: r, Status: status, Duration: time.Since(start)})
	}()

	h.cors(w, r)
	switch r.Method {
	case http.MethodOptions:
		status = http.StatusNoContent
		w.WriteHeader(status)
		return
	case http.MethodGet, http.MethodPost:
	default:
		status = http.StatusMethodNotAllowed
		h.write(w, status, failure(&requestError{status: status, msg: "method not allowed"}))
		return
	}

	batch, single, err := decodeRequest(r, h.opt.MaxBodyBytes)
	if err != nil {
		status = err.status
		h.write(w, status, failure(err))
		return
	}
	if !single {
		out := make([]response, len(batch))
		for i, req := range batch {
			out[i] = h.execute(ctx, i, req)
		}
		h.write(w, status, out)
		return
	}
	h.write(w, status, h.execute(ctx, 0, batch[0]))
}

// requestID takes the id from the configured header or generates one, and
// echoes it on the response.
func (h *Handler) requestID(ctx context.Context, w http.ResponseWriter, r *http.Request) context.Context {
	name := h.opt.RequestIDHeader
	if name == "" {
		ctx, _ = reqid.NewContext(ctx)
		return ctx
	}
	var rid string
	if rid = strings.TrimSpace(r.Header.Get(name)); rid != "" {
		ctx = reqid.WithID(ctx, rid)
	} else {
		ctx, rid = reqid.NewContext(ctx)
	}
	w.Header().Set(name, rid)
	return ctx
}

func (h *Handler) execute(ctx context.Context, index int, req Request) response {
	if h.opt.RequestContext != nil {
		ctx = h.opt.RequestContext(ctx)
	}
	doc, err := language.ParseQuery(req.Query)
	if err != nil {
		return failure(err)
	}

	var opType string
	if op := doc.Operations.ForName(req.OperationName); op != nil {
		opType = string(op.Operation)
	} else if len(doc.Operations) == 1 {
		opType = string(doc.Operations[0].Operation)
	}

	start := time.Now()
	eventbus.Publish(ctx, events.OperationStart{
		Index:         index,
		Query:         req.Query,
		OperationName: req.OperationName,
		OperationType: opType,
	})
	result := h.exec.ExecuteRequest(ctx, doc, req.OperationName, req.Variables, nil)
	errs := make([]error, len(result.Errors))
	for i, e := range result.Errors {
		errs[i] = e
	}
	eventbus.Publish(ctx, events.OperationFinish{
		Index:         index,
		OperationName: req.OperationName,
		OperationType: opType,
		Errors:        errs,
		Duration:      time.Since(start),
	})
	return fromResult(result)
}

// cors sets the CORS headers for requests from an allowed origin.
func (h *Handler) cors(w http.ResponseWriter, r *http.Request) {
	origins := h.opt.AllowedOrigins
	origin := r.Header.Get("Origin")
	if origin == "" || len(origins) == 0 {
		return
	}
	switch {
	case slices.Contains(origins, "*"):
		w.Header().Set("Access-Control-Allow-Origin", "*")
	case slices.Contains(origins, origin):
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Add("Vary", "Origin")
	default:
		return
	}
	if r.Method == http.MethodOptions {
		if hdr := r.Header.Get("Access-Control-Request-Headers"); hdr != "" {
			w.Header().Set("Access-Control-Allow-Headers", hdr)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	}
}
