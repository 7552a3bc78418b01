package events

import "time"

// ResolverStart is emitted when the nested filter middleware enters a
// resolver call, after the ancestor lookup table was assembled.
type ResolverStart struct {
	ObjectType string
	Field      string
	Path       string
	// Types lists the entity types visible to the resolver.
	Types []string
}

// ResolverFinish is emitted after the resolver and its validation settled.
type ResolverFinish struct {
	ObjectType string
	Field      string
	Path       string
	Err        error
	Duration   time.Duration
}

// FilterComposed is emitted each time a resolver composes a nested filter.
type FilterComposed struct {
	Path string
	Type string
	// Conditions is the number of fragments joined under AND.
	Conditions int
	Where      map[string]any
}

// FilterViolation is emitted when a composed filter left an ancestor type
// unaccounted for.
type FilterViolation struct {
	Path    string
	Type    string
	Missing []string
}

// ResultCacheLookup is emitted by GetNestedResult when a cache key is used.
type ResultCacheLookup struct {
	Type string
	Key  string
	Hit  bool
}
