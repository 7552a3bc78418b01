package server

import (
	"encoding/json"
	"errors"
	"net/http"

	executor "github.com/hanpama/nestgraph/internal/executor"
	language "github.com/hanpama/nestgraph/internal/language"
)

type location struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

type responseError struct {
	Message    string         `json:"message"`
	Locations  []location     `json:"locations,omitempty"`
	Path       []any          `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

type response struct {
	Data   any             `json:"data"`
	Errors []responseError `json:"errors,omitempty"`
}

// failure is the response for an operation that did not execute. Syntax
// errors keep their source locations.
func failure(err error) response {
	re := responseError{Message: err.Error()}
	var syntax *language.Error
	if errors.As(err, &syntax) {
		re.Message = syntax.Message
		for _, l := range syntax.Locations {
			re.Locations = append(re.Locations, location{Line: l.Line, Column: l.Column})
		}
	}
	return response{Errors: []responseError{re}}
}

func fromResult(res *executor.ExecutionResult) response {
	out := response{Data: res.Data}
	for _, e := range res.Errors {
		re := responseError{Message: e.Message, Extensions: e.Extensions}
		if len(e.Path) > 0 {
			re.Path = make([]any, len(e.Path))
			for i, seg := range e.Path {
				re.Path[i] = seg
			}
		}
		out.Errors = append(out.Errors, re)
	}
	return out
}

func (h *Handler) write(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	if h.opt.Pretty {
		enc.SetIndent("", "  ")
	}
	_ = enc.Encode(v)
}
