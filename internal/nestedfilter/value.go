package nestedfilter

import (
	"fmt"
	"reflect"
	"sort"
)

// Kind discriminates mapping values.
type Kind uint8

const (
	// KindLiteral is a constant copied verbatim into the filter.
	KindLiteral Kind = iota
	// KindNested is an ordered set of named children.
	KindNested
	// KindList is an ordered sequence of children.
	KindList
	// KindValueRef reads an attribute of an ancestor entity ("Post.id").
	KindValueRef
	// KindFilterRef reuses another declaration's mapping for the same target.
	KindFilterRef
	// KindSuppressed omits the target unless another type already covers a path.
	KindSuppressed
	// KindIgnored omits the target unconditionally.
	KindIgnored
	// KindCustom runs a user Evaluator.
	KindCustom
)

func (k Kind) String() string {
	switch k {
	case KindLiteral:
		return "literal"
	case KindNested:
		return "nested"
	case KindList:
		return "list"
	case KindValueRef:
		return "mapValue"
	case KindFilterRef:
		return "mapFilter"
	case KindSuppressed:
		return "suppressedBy"
	case KindIgnored:
		return "ignored"
	case KindCustom:
		return "custom"
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Evaluator computes a mapping result for target given the options threaded
// so far. Custom values use it to plug in arbitrary mapping functions.
type Evaluator func(target Type, opts ResultOptions, env *Env) (Result, error)

// Value is one node of a mapping declaration. The zero Value is a nil literal.
type Value struct {
	kind    Kind
	literal any
	fields  []Member
	items   []Value
	typ     Type
	path    string
	eval    Evaluator
}

// Member is a named child of a nested value.
type Member struct {
	Key   string
	Value Value
}

// Key pairs a child name with its value.
func Key(name string, v Value) Member { return Member{Key: name, Value: v} }

func Literal(v any) Value { return Value{kind: KindLiteral, literal: v} }

// Nested builds an object-shaped value; members keep their order.
func Nested(members ...Member) Value {
	return Value{kind: KindNested, fields: append([]Member{}, members...)}
}

func List(items ...Value) Value {
	return Value{kind: KindList, items: append([]Value{}, items...)}
}

// MapValue reads a dotted attribute path of an ancestor, e.g. "Post.id".
func MapValue(path string) Value { return Value{kind: KindValueRef, path: path} }

// MapFilter reuses the mapping the filter of t declares for the current target.
func MapFilter(t Type) Value { return Value{kind: KindFilterRef, typ: t} }

// SuppressedBy omits the target when type t already reads path.
func SuppressedBy(t Type, path string) Value {
	return Value{kind: KindSuppressed, typ: t, path: path}
}

func Ignored() Value { return Value{kind: KindIgnored} }

func Custom(eval Evaluator) Value { return Value{kind: KindCustom, eval: eval} }

func (v Value) Kind() Kind { return v.kind }

// Members returns the children of a nested value.
func (v Value) Members() []Member { return v.fields }

// Items returns the children of a list value.
func (v Value) Items() []Value { return v.items }

// Ref returns the type and path of reference values.
func (v Value) Ref() (Type, string) { return v.typ, v.path }

// LiteralValue returns the constant of a literal value.
func (v Value) LiteralValue() any { return v.literal }

// Member returns the child named key of a nested value.
func (v Value) Member(key string) (Value, bool) {
	for _, m := range v.fields {
		if m.Key == key {
			return m.Value, true
		}
	}
	return Value{}, false
}

// FromAny converts plain Go data into a Value. Maps become nested values
// with sorted keys, slices become lists, Values pass through and everything
// else is a literal.
func FromAny(x any) Value {
	switch t := x.(type) {
	case Value:
		return t
	case Member:
		return Nested(t)
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		members := make([]Member, len(keys))
		for i, k := range keys {
			members[i] = Key(k, FromAny(t[k]))
		}
		return Nested(members...)
	case []any:
		items := make([]Value, len(t))
		for i, it := range t {
			items[i] = FromAny(it)
		}
		return List(items...)
	}
	return Literal(x)
}

// Equal reports whether two values are structurally identical. Custom
// values are never equal.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindLiteral:
		return reflect.DeepEqual(a.literal, b.literal)
	case KindNested:
		if len(a.fields) != len(b.fields) {
			return false
		}
		for i := range a.fields {
			if a.fields[i].Key != b.fields[i].Key || !Equal(a.fields[i].Value, b.fields[i].Value) {
				return false
			}
		}
		return true
	case KindList:
		if len(a.items) != len(b.items) {
			return false
		}
		for i := range a.items {
			if !Equal(a.items[i], b.items[i]) {
				return false
			}
		}
		return true
	case KindValueRef, KindFilterRef, KindSuppressed:
		return a.typ == b.typ && a.path == b.path
	case KindIgnored:
		return true
	}
	return false
}

// MappingEntry binds a target type to the value describing how to constrain
// the filtered type by it.
type MappingEntry struct {
	Target Type
	Value  Value
}

// Target pairs a target type with its mapping value.
func Target(t Type, v Value) MappingEntry { return MappingEntry{Target: t, Value: v} }

// Mapping is an ordered set of target entries. Methods never modify the
// receiver.
type Mapping struct {
	entries []MappingEntry
}

// NewMapping builds a mapping; a repeated target replaces the earlier entry
// in place.
func NewMapping(entries ...MappingEntry) Mapping {
	var m Mapping
	for _, e := range entries {
		m = m.With(e.Target, e.Value)
	}
	return m
}

func (m Mapping) Get(t Type) (Value, bool) {
	for _, e := range m.entries {
		if e.Target == t {
			return e.Value, true
		}
	}
	return Value{}, false
}

// With returns a copy where t maps to v.
func (m Mapping) With(t Type, v Value) Mapping {
	out := Mapping{entries: make([]MappingEntry, len(m.entries), len(m.entries)+1)}
	copy(out.entries, m.entries)
	for i, e := range out.entries {
		if e.Target == t {
			out.entries[i].Value = v
			return out
		}
	}
	out.entries = append(out.entries, MappingEntry{Target: t, Value: v})
	return out
}

// Override returns a copy with every entry of other applied on top.
func (m Mapping) Override(other Mapping) Mapping {
	out := m
	for _, e := range other.entries {
		out = out.With(e.Target, e.Value)
	}
	return out
}

func (m Mapping) Entries() []MappingEntry { return append([]MappingEntry(nil), m.entries...) }

func (m Mapping) Targets() []Type {
	out := make([]Type, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.Target
	}
	return out
}

func (m Mapping) Len() int { return len(m.entries) }
