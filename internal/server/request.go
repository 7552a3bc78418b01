package server

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strings"
)

// Request is one GraphQL operation request.
type Request struct {
	Query         string         `json:"query"`
	OperationName string         `json:"operationName,omitempty"`
	Variables     map[string]any `json:"variables,omitempty"`
	Extensions    map[string]any `json:"extensions,omitempty"`
}

// requestError rejects a request before execution with an HTTP status.
type requestError struct {
	status int
	msg    string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(msg string) *requestError {
	return &requestError{status: http.StatusBadRequest, msg: msg}
}

// decodeRequest reads the operations of r. single is false when the body
// was a JSON array.
func decodeRequest(r *http.Request, maxBody int64) (reqs []Request, single bool, err *requestError) {
	if r.Method == http.MethodGet {
		req, err := decodeQueryString(r)
		if err != nil {
			return nil, false, err
		}
		return []Request{req}, true, nil
	}

	if ct := r.Header.Get("Content-Type"); ct != "" {
		if mt, _, perr := mime.ParseMediaType(ct); perr != nil || mt != "application/json" {
			return nil, false, &requestError{status: http.StatusUnsupportedMediaType, msg: "unsupported Content-Type"}
		}
	}
	defer r.Body.Close()
	body := io.Reader(r.Body)
	if maxBody > 0 {
		body = io.LimitReader(r.Body, maxBody+1)
	}
	raw, rerr := io.ReadAll(body)
	if rerr != nil {
		return nil, false, badRequest("failed to read body")
	}
	if maxBody > 0 && int64(len(raw)) > maxBody {
		return nil, false, &requestError{status: http.StatusRequestEntityTooLarge, msg: "body too large"}
	}

	if trimmed := strings.TrimSpace(string(raw)); strings.HasPrefix(trimmed, "[") {
		if jerr := json.Unmarshal(raw, &reqs); jerr != nil {
			return nil, false, badRequest("invalid JSON")
		}
		if len(reqs) == 0 {
			return nil, false, badRequest("empty batch")
		}
		return reqs, false, nil
	}
	var req Request
	if jerr := json.Unmarshal(raw, &req); jerr != nil {
		return nil, false, badRequest("invalid JSON")
	}
	if req.Query == "" {
		return nil, false, badRequest("missing 'query'")
	}
	return []Request{req}, true, nil
}

func decodeQueryString(r *http.Request) (Request, *requestError) {
	params := r.URL.Query()
	req := Request{Query: params.Get("query"), OperationName: params.Get("operationName")}
	if req.Query == "" {
		return req, badRequest("missing 'query'")
	}
	if v := params.Get("variables"); v != "" {
		if err := json.Unmarshal([]byte(v), &req.Variables); err != nil {
			return req, badRequest("invalid 'variables' JSON")
		}
	}
	return req, nil
}
