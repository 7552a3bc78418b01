package events

import (
	"net/http"
	"time"
)

// RequestStart is published when the HTTP handler accepts a request.
type RequestStart struct {
	Request *http.Request
}

// RequestFinish is published when the response has been written.
type RequestFinish struct {
	Request  *http.Request
	Status   int
	Duration time.Duration
}

// OperationStart is published before one GraphQL operation of a request is
// executed. Index is the position of the operation in a batch.
type OperationStart struct {
	Index         int
	Query         string
	OperationName string
	OperationType string
}

type OperationFinish struct {
	Index         int
	OperationName string
	OperationType string
	Errors        []error
	Duration      time.Duration
}
