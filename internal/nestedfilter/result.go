package nestedfilter

import (
	"fmt"
	"slices"
)

// Mode classifies a mapping result.
type Mode uint8

const (
	// Assign: the value is fully constant and taken verbatim.
	Assign Mode = iota
	// Merge: the value depends on ancestors that are all present.
	Merge
	// Ignore: the target contributes nothing and that is acceptable.
	Ignore
	// Invalid: a required ancestor is absent; the target contributes nothing.
	Invalid
)

func (m Mode) String() string {
	switch m {
	case Assign:
		return "ASSIGN"
	case Merge:
		return "MERGE"
	case Ignore:
		return "IGNORE"
	case Invalid:
		return "INVALID"
	}
	return fmt.Sprintf("Mode(%d)", uint8(m))
}

// Contributes reports whether a result of this mode adds a filter fragment.
func (m Mode) Contributes() bool { return m == Assign || m == Merge }

// IgnoreKind tells an ignored rule from a suppression.
type IgnoreKind uint8

const (
	IgnoreIgnored IgnoreKind = iota
	IgnoreSuppressedBy
)

// Ref names an attribute path read through a type, e.g. (Author, "Author.id").
type Ref struct {
	Type Type
	Path string
}

// IgnoreRule records that Type was deliberately omitted. Suppressions carry
// the reference that must be covered elsewhere for the omission to count.
type IgnoreRule struct {
	Type         Type
	Kind         IgnoreKind
	SuppressedBy Ref
}

// UsageRule records that a mapping for Type read Path from an ancestor.
type UsageRule struct {
	Type Type
	Path string
}

// ResultOptions accumulates rules across sibling evaluations. Values are
// immutable: each step returns a new ResultOptions.
type ResultOptions struct {
	IgnoreRules []IgnoreRule
	UsageRules  []UsageRule
}

func (o ResultOptions) WithIgnore(r IgnoreRule) ResultOptions {
	return ResultOptions{
		IgnoreRules: append(slices.Clip(o.IgnoreRules), r),
		UsageRules:  o.UsageRules,
	}
}

func (o ResultOptions) WithUsage(r UsageRule) ResultOptions {
	return ResultOptions{
		IgnoreRules: o.IgnoreRules,
		UsageRules:  append(slices.Clip(o.UsageRules), r),
	}
}

// Result is the outcome of resolving a mapping value.
type Result struct {
	Mode    Mode
	Where   any
	Options ResultOptions
}

// TypeResult is the result of one top-level mapping entry.
type TypeResult struct {
	Type   Type
	Result Result
}

// MappingResults holds per-target results in mapping order.
type MappingResults []TypeResult

func (rs MappingResults) Get(t Type) (Result, bool) {
	for _, r := range rs {
		if r.Type == t {
			return r.Result, true
		}
	}
	return Result{}, false
}
