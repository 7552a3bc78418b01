package otel

import (
	"context"
	"strconv"
	"strings"
	"sync"

	eventbus "github.com/hanpama/nestgraph/internal/eventbus"
	events "github.com/hanpama/nestgraph/internal/events"
	reqid "github.com/hanpama/nestgraph/internal/reqid"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const tracerName = "nestgraph"

// Setup configures OpenTelemetry and attaches eventbus subscribers.
// If endpoint is empty, no telemetry is configured.
func Setup(endpoint, service string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(context.Background(),
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
		)),
	)
	otel.SetTracerProvider(tp)

	unsubscribe := Subscribe(tp.Tracer(tracerName))
	return func(ctx context.Context) error {
		unsubscribe()
		return tp.Shutdown(ctx)
	}, nil
}

// Subscribe attaches span-producing handlers for server and nested filter
// events to the global bus and returns a function detaching them.
func Subscribe(tracer trace.Tracer) (unsubscribe func()) {
	s := &subscriber{tracer: tracer}
	return s.register()
}

type subscriber struct {
	tracer     trace.Tracer
	spans      sync.Map // spanKey -> trace.Span
	operations sync.Map // rid -> path of the running operation
}

// spanKey locates an open span within a request: the request itself has no
// path, an operation has "#<index>", a resolver has its response path.
type spanKey struct {
	rid  string
	path string
}

func operationPath(index int) string { return "#" + strconv.Itoa(index) }

func (s *subscriber) open(parent context.Context, key spanKey, name string, attrs ...attribute.KeyValue) {
	_, span := s.tracer.Start(parent, name, trace.WithAttributes(attrs...))
	s.spans.Store(key, span)
}

func (s *subscriber) close(key spanKey, finish func(trace.Span)) {
	v, ok := s.spans.LoadAndDelete(key)
	if !ok {
		return
	}
	span := v.(trace.Span)
	if finish != nil {
		finish(span)
	}
	span.End()
}

func (s *subscriber) lookup(key spanKey) (trace.Span, bool) {
	v, ok := s.spans.Load(key)
	if !ok {
		return nil, false
	}
	return v.(trace.Span), true
}

// parentPath drops the last segment of a dotted response path.
func parentPath(path string) string {
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		return path[:i]
	}
	return ""
}

// within returns ctx carrying the closest open span enclosing path: the
// nearest ancestor resolver, then the running operation, then the request.
func (s *subscriber) within(ctx context.Context, rid, path string) context.Context {
	for p := parentPath(path); p != ""; p = parentPath(p) {
		if span, ok := s.lookup(spanKey{rid, p}); ok {
			return trace.ContextWithSpan(ctx, span)
		}
	}
	if v, ok := s.operations.Load(rid); ok {
		if span, ok := s.lookup(spanKey{rid, v.(string)}); ok {
			return trace.ContextWithSpan(ctx, span)
		}
	}
	if span, ok := s.lookup(spanKey{rid: rid}); ok {
		return trace.ContextWithSpan(ctx, span)
	}
	return ctx
}

func requestID(ctx context.Context) string {
	rid, _ := reqid.FromContext(ctx)
	return rid
}

func (s *subscriber) register() func() {
	unsubs := []func(){
		eventbus.Subscribe(func(ctx context.Context, e events.RequestStart) {
			rid := requestID(ctx)
			s.open(ctx, spanKey{rid: rid}, "http.request",
				semconv.HTTPMethodKey.String(e.Request.Method),
				attribute.String("http.target", e.Request.URL.Path),
				attribute.String("request.id", rid))
		}),
		eventbus.Subscribe(func(ctx context.Context, e events.RequestFinish) {
			s.close(spanKey{rid: requestID(ctx)}, func(span trace.Span) {
				span.SetAttributes(semconv.HTTPStatusCodeKey.Int(e.Status))
			})
		}),
		eventbus.Subscribe(func(ctx context.Context, e events.OperationStart) {
			rid := requestID(ctx)
			path := operationPath(e.Index)
			s.open(s.within(ctx, rid, ""), spanKey{rid, path}, "graphql.operation",
				attribute.String("graphql.operation.name", e.OperationName),
				attribute.String("graphql.operation.type", e.OperationType),
				attribute.Int("graphql.operation.index", e.Index))
			s.operations.Store(rid, path)
		}),
		eventbus.Subscribe(func(ctx context.Context, e events.OperationFinish) {
			rid := requestID(ctx)
			s.operations.Delete(rid)
			s.close(spanKey{rid, operationPath(e.Index)}, func(span trace.Span) {
				span.SetAttributes(attribute.Int("graphql.error_count", len(e.Errors)))
				if len(e.Errors) > 0 {
					span.SetStatus(codes.Error, e.Errors[0].Error())
				}
			})
		}),
		eventbus.Subscribe(func(ctx context.Context, e events.ResolverStart) {
			rid := requestID(ctx)
			s.open(s.within(ctx, rid, e.Path), spanKey{rid, e.Path}, "graphql.resolve",
				attribute.String("graphql.field.type", e.ObjectType),
				attribute.String("graphql.field.name", e.Field),
				attribute.String("graphql.field.path", e.Path),
				attribute.StringSlice("nestedfilter.types", e.Types))
		}),
		eventbus.Subscribe(func(ctx context.Context, e events.ResolverFinish) {
			s.close(spanKey{requestID(ctx), e.Path}, func(span trace.Span) {
				if e.Err != nil {
					span.RecordError(e.Err)
					span.SetStatus(codes.Error, e.Err.Error())
				}
			})
		}),
		eventbus.Subscribe(func(ctx context.Context, e events.FilterComposed) {
			s.annotate(ctx, e.Path, "nestedfilter.composed",
				attribute.String("nestedfilter.type", e.Type),
				attribute.Int("nestedfilter.conditions", e.Conditions))
		}),
		eventbus.Subscribe(func(ctx context.Context, e events.FilterViolation) {
			s.annotate(ctx, e.Path, "nestedfilter.violation",
				attribute.String("nestedfilter.type", e.Type),
				attribute.StringSlice("nestedfilter.missing", e.Missing))
		}),
		eventbus.Subscribe(func(ctx context.Context, e events.ResultCacheLookup) {
			trace.SpanFromContext(ctx).AddEvent("nestedfilter.cache", trace.WithAttributes(
				attribute.String("nestedfilter.type", e.Type),
				attribute.String("nestedfilter.key", e.Key),
				attribute.Bool("nestedfilter.hit", e.Hit)))
		}),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func (s *subscriber) annotate(ctx context.Context, path, name string, attrs ...attribute.KeyValue) {
	if span, ok := s.lookup(spanKey{requestID(ctx), path}); ok {
		span.AddEvent(name, trace.WithAttributes(attrs...))
	}
}
