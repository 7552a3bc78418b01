package nestedfilter

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotConfigured is returned when nested filter operations are used
	// outside a request prepared by Middleware.NewRequestContext.
	ErrNotConfigured = errors.New("nested filter hasn't been configured")
	// ErrScopeClosed is returned by Scope methods after the resolver settled.
	ErrScopeClosed = errors.New("nested filter scope is closed")
	// ErrEmptyPath is returned when a resolver position has no segments.
	ErrEmptyPath = errors.New("resolver path is empty")

	ErrNestedResultNotPresent = errors.New("nested result is not present")
	ErrUncacheableResult      = errors.New("nested result can not be cached")
	ErrFilterNotRegistered    = errors.New("nested filter is not registered")
	ErrMappingNotDeclared     = errors.New("mapping is not declared")
	ErrMappingCycle           = errors.New("nested filter mapping refers to itself")
	ErrMergeConflict          = errors.New("conflicting nested filter mappings")
	ErrBooleanMapping         = errors.New("mapping value can't be boolean, not supported yet")
	ErrUnknownType            = errors.New("unknown entity type")
	ErrMissingMapping         = errors.New("nested filter mapping is missing")
)

// kindError carries an exact message while matching a sentinel with errors.Is.
type kindError struct {
	kind error
	msg  string
}

func newError(kind error, format string, args ...any) error {
	return &kindError{kind: kind, msg: fmt.Sprintf(format, args...)}
}

func (e *kindError) Error() string        { return e.msg }
func (e *kindError) Is(target error) bool { return target == e.kind }

// MissingMappingError reports ancestor types that a composed filter of Type
// neither constrained nor explicitly ignored.
type MissingMappingError struct {
	Type    Type
	Missing []Type
}

func (e *MissingMappingError) Error() string {
	return fmt.Sprintf("%s nested filter doesn't contain mapping for following types (%s).",
		e.Type, strings.Join(typeNames(e.Missing), ","))
}

func (e *MissingMappingError) Is(target error) bool { return target == ErrMissingMapping }
