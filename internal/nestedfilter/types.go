package nestedfilter

import "slices"

// Type names an entity kind, e.g. "Post". Filter declarations, mapping
// targets and ancestor lookup tables are all keyed by Type.
type Type string

// Condition is the opaque filter handed to the data mapper. Composition
// always produces {"AND": [...]}.
type Condition = map[string]any

// And joins conditions the way the data mapper expects.
func And(conditions ...any) Condition {
	if conditions == nil {
		conditions = []any{}
	}
	return Condition{"AND": conditions}
}

// NestedArgMap maps entity types to the entity visible at a resolver
// position. Iteration follows insertion order; overwriting a type keeps its
// original position. The zero value and nil are empty maps for reading.
type NestedArgMap struct {
	types  []Type
	values map[Type]any
}

func NewNestedArgMap() *NestedArgMap {
	return &NestedArgMap{values: make(map[Type]any)}
}

// Get returns the entity stored for t.
func (m *NestedArgMap) Get(t Type) (any, bool) {
	if m == nil {
		return nil, false
	}
	v, ok := m.values[t]
	return v, ok
}

func (m *NestedArgMap) Has(t Type) bool {
	_, ok := m.Get(t)
	return ok
}

// Set stores v under t.
func (m *NestedArgMap) Set(t Type, v any) {
	if m.values == nil {
		m.values = make(map[Type]any)
	}
	if _, ok := m.values[t]; !ok {
		m.types = append(m.types, t)
	}
	m.values[t] = v
}

// Types lists the stored types in insertion order.
func (m *NestedArgMap) Types() []Type {
	if m == nil {
		return nil
	}
	return slices.Clone(m.types)
}

func (m *NestedArgMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.types)
}

// Clone returns an independent copy. Entities are shared.
func (m *NestedArgMap) Clone() *NestedArgMap {
	out := NewNestedArgMap()
	out.Merge(m)
	return out
}

// Merge copies every entry of other into m; other's entries win.
func (m *NestedArgMap) Merge(other *NestedArgMap) {
	if other == nil {
		return
	}
	for _, t := range other.types {
		m.Set(t, other.values[t])
	}
}

// ToMap returns the entries as a plain map.
func (m *NestedArgMap) ToMap() map[Type]any {
	out := make(map[Type]any, m.Len())
	if m == nil {
		return out
	}
	for _, t := range m.types {
		out[t] = m.values[t]
	}
	return out
}

func typeNames(types []Type) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}
