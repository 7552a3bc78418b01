package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
	executor "github.com/hanpama/nestgraph/internal/executor"
	reqid "github.com/hanpama/nestgraph/internal/reqid"
	schema "github.com/hanpama/nestgraph/internal/schema"
)

func newTestHandler(t *testing.T, rt executor.Runtime, opts ...Option) *Handler {
	t.Helper()
	sdl := `type Query { hello: String }`
	sch, err := schema.BuildFromSDL(sdl)
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	h, err := New(rt, sch, opts...)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	return h
}

func postQuery(body string) *http.Request {
	req := httptest.NewRequest("POST", "/", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

type ctxMarker struct{}

func TestRequestContextPerOperation(t *testing.T) {
	rt := executor.NewFuncRuntime(nil)
	var seen []int
	rt.SetResolver("Query", "hello", func(ctx context.Context, src any, args map[string]any) (any, error) {
		n, _ := ctx.Value(ctxMarker{}).(int)
		seen = append(seen, n)
		return "world", nil
	})
	calls := 0
	h := newTestHandler(t, rt, WithRequestContext(func(ctx context.Context) context.Context {
		calls++
		return context.WithValue(ctx, ctxMarker{}, calls)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, postQuery(`[{"query":"{ hello }"},{"query":"{ hello }"}]`))
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	if len(seen) != 2 || seen[0] != 1 || seen[1] != 2 {
		t.Fatalf("each operation should get its own context: %v", seen)
	}
}

func TestCORSAndPreflight(t *testing.T) {
	rt := executor.NewFuncRuntime(map[string]executor.ResolverFunc{
		"Query.hello": executor.ValueResolver("world"),
	})
	h := newTestHandler(t, rt, WithCORS("*"))

	// simple request
	req := postQuery(`{"query":"{ hello }"}`)
	req.Header.Set("Origin", "http://example.com")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("missing CORS header")
	}

	// preflight
	pre := httptest.NewRequest("OPTIONS", "/", nil)
	pre.Header.Set("Origin", "http://example.com")
	pre.Header.Set("Access-Control-Request-Headers", "X-Test")
	pw := httptest.NewRecorder()
	h.ServeHTTP(pw, pre)
	if pw.Code != http.StatusNoContent {
		t.Fatalf("preflight status %d", pw.Code)
	}
	if pw.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("preflight missing CORS header")
	}
	if pw.Header().Get("Access-Control-Allow-Headers") != "X-Test" {
		t.Fatalf("preflight missing allow headers")
	}
}

func TestMaxBodyBytes(t *testing.T) {
	rt := executor.NewFuncRuntime(map[string]executor.ResolverFunc{
		"Query.hello": executor.ValueResolver("world"),
	})
	h := newTestHandler(t, rt, WithMaxBodyBytes(10))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, postQuery(`{"query":"1234567890"}`))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 got %d", w.Code)
	}
}

func TestRequestID(t *testing.T) {
	rt := executor.NewFuncRuntime(nil)
	var capturedID string
	rt.SetResolver("Query", "hello", func(ctx context.Context, src any, args map[string]any) (any, error) {
		capturedID, _ = reqid.FromContext(ctx)
		return "world", nil
	})
	h := newTestHandler(t, rt)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, postQuery(`{"query":"{ hello }"}`))
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	if capturedID == "" {
		t.Fatalf("missing request id in context")
	}
	if got := w.Header().Get(DefaultRequestIDHeader); got != capturedID {
		t.Fatalf("response header %q, context id %q", got, capturedID)
	}

	req := postQuery(`{"query":"{ hello }"}`)
	req.Header.Set(DefaultRequestIDHeader, "abc-123")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if capturedID != "abc-123" || w.Header().Get(DefaultRequestIDHeader) != "abc-123" {
		t.Fatalf("incoming request id not honored: ctx %q header %q", capturedID, w.Header().Get(DefaultRequestIDHeader))
	}
}

func TestGetQueryAndErrors(t *testing.T) {
	rt := executor.NewFuncRuntime(map[string]executor.ResolverFunc{
		"Query.hello": executor.ValueResolver("world"),
	})
	h := newTestHandler(t, rt)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/?query=%7B%20hello%20%7D", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status %d", w.Code)
	}
	var out struct {
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Data["hello"] != "world" {
		t.Fatalf("unexpected body %s", w.Body.String())
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("PUT", "/", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 got %d", w.Code)
	}
}

func TestResponses(t *testing.T) {
	rt := executor.NewFuncRuntime(map[string]executor.ResolverFunc{
		"Query.hello": executor.ValueResolver("world"),
	})
	h := newTestHandler(t, rt)

	tests := []struct {
		name       string
		req        *http.Request
		wantStatus int
		wantBody   any
	}{
		{
			name:       "batch",
			req:        postQuery(`[{"query":"{ hello }"},{"query":"{ a: hello }"}]`),
			wantStatus: http.StatusOK,
			wantBody: []any{
				map[string]any{"data": map[string]any{"hello": "world"}},
				map[string]any{"data": map[string]any{"a": "world"}},
			},
		},
		{
			name:       "syntax error keeps location",
			req:        postQuery(`{"query":"{ hello"}`),
			wantStatus: http.StatusOK,
			wantBody: map[string]any{
				"data": nil,
				"errors": []any{map[string]any{
					"message":   "Expected Name, found <EOF>",
					"locations": []any{map[string]any{"line": float64(1), "column": float64(8)}},
				}},
			},
		},
		{
			name:       "empty batch",
			req:        postQuery(`[]`),
			wantStatus: http.StatusBadRequest,
			wantBody: map[string]any{
				"data":   nil,
				"errors": []any{map[string]any{"message": "empty batch"}},
			},
		},
		{
			name: "unsupported content type",
			req: func() *http.Request {
				r := postQuery(`query=x`)
				r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
				return r
			}(),
			wantStatus: http.StatusUnsupportedMediaType,
			wantBody: map[string]any{
				"data":   nil,
				"errors": []any{map[string]any{"message": "unsupported Content-Type"}},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			h.ServeHTTP(w, tt.req)
			if w.Code != tt.wantStatus {
				t.Fatalf("status %d, want %d", w.Code, tt.wantStatus)
			}
			var got any
			if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if diff := cmp.Diff(tt.wantBody, got); diff != "" {
				t.Errorf("body mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
