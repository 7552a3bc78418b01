package executor

import (
	"context"
	"strconv"

	schema "github.com/hanpama/nestgraph/internal/schema"
)

// Runtime defines the host integration surface for field resolution, batching,
// abstract type resolution, and leaf-value serialization used by the Executor.
//
// General contract
//   - The Executor performs a breadth-first execution. Synchronous fields are
//     resolved via ResolveSync while a depth is expanded; the async fields of
//     that depth are then handed to BatchResolveAsync in one call.
//   - ResolveSync is never invoked for fields marked async, and
//     BatchResolveAsync is only invoked when at least one async field is pending.
//   - Errors returned from any method are converted into located GraphQL errors
//     and null propagation follows the field's nullability.
//   - Implementations must not mutate source or args values.
//
// Every resolution is described by a ResolveTask carrying the field's position
// in the response (Path) and its declared return type, so middleware can key
// per-position state without re-deriving it from the document.
type Runtime interface {
	// ResolveSync resolves a synchronous field value immediately.
	// Return (nil, nil) to produce a GraphQL null for nullable fields.
	ResolveSync(ctx context.Context, task ResolveTask) (any, error)

	// BatchResolveAsync resolves one execution depth of async field tasks.
	//
	// Requirements:
	// - Return len(results) == len(tasks).
	// - results[i] corresponds to tasks[i].
	// - Return independent errors per element without failing the whole batch.
	BatchResolveAsync(ctx context.Context, tasks []ResolveTask) []ResolveResult

	// ResolveType determines the concrete runtime type name for a value of an
	// abstract GraphQL type (interface or union).
	ResolveType(ctx context.Context, abstractType string, value any) (string, error)

	// SerializeLeafValue serializes a scalar or enum value to a JSON-safe Go
	// value. For enums, return the symbolic name as string.
	SerializeLeafValue(ctx context.Context, scalarOrEnumTypeName string, value any) (any, error)
}

// ResolveTask describes a single field resolution.
type ResolveTask struct {
	// ObjectType is the parent GraphQL object type name for the field.
	ObjectType string
	// Field is the GraphQL field name to resolve.
	Field string
	// Source is the parent object value (the root value for root fields).
	Source any
	// Args are the field arguments, coerced to Go values per the schema.
	Args map[string]any
	// Path is the response path of the field, list indices included.
	Path Path
	// ReturnType is the declared return type of the field.
	ReturnType *schema.TypeRef
	// ReturnsLeaf is true when the named return type is a scalar or an enum.
	ReturnsLeaf bool
}

type ResolveResult struct {
	// Value is the resolved raw value prior to completion, or nil on error.
	Value any
	// Error contains a failure specific to this element; other elements in the
	// same batch are unaffected.
	Error error
}

// Segments renders the path as strings, list indices in decimal.
func (p Path) Segments() []string {
	out := make([]string, len(p))
	for i, elem := range p {
		switch v := elem.(type) {
		case string:
			out[i] = v
		case int:
			out[i] = strconv.Itoa(v)
		}
	}
	return out
}
