package nestedfilter

import (
	"fmt"
	"reflect"
	"sort"
)

// Declaration is the filter definition of one entity type: how to constrain
// a query for Type by each possible ancestor type.
type Declaration struct {
	Type    Type
	Mapping Mapping
}

// Declare builds a declaration from target entries.
func Declare(t Type, entries ...MappingEntry) Declaration {
	return Declaration{Type: t, Mapping: NewMapping(entries...)}
}

// TypeDef describes an entity type known to the application: its name, the
// Go type of its rows and the Go type of its where input. Both Go types are
// informative and may be nil.
type TypeDef struct {
	Name      Type
	Structure reflect.Type
	Where     reflect.Type
}

// Catalog is the closed set of entity types declarations may name.
type Catalog struct {
	defs  map[Type]TypeDef
	order []Type
}

func NewCatalog(defs ...TypeDef) *Catalog {
	c := &Catalog{defs: make(map[Type]TypeDef, len(defs))}
	for _, d := range defs {
		if _, ok := c.defs[d.Name]; !ok {
			c.order = append(c.order, d.Name)
		}
		c.defs[d.Name] = d
	}
	return c
}

func (c *Catalog) Lookup(t Type) (TypeDef, bool) {
	if c == nil {
		return TypeDef{}, false
	}
	d, ok := c.defs[t]
	return d, ok
}

func (c *Catalog) Types() []Type {
	if c == nil {
		return nil
	}
	return append([]Type(nil), c.order...)
}

func (c *Catalog) check(t Type) error {
	if c == nil {
		return nil
	}
	if _, ok := c.defs[t]; !ok {
		return newError(ErrUnknownType, "type (%s) is not declared in the catalog", t)
	}
	return nil
}

// Registry holds the merged declaration of every filtered type. It is
// immutable once built and safe for concurrent use.
type Registry struct {
	catalog *Catalog
	decls   map[Type]Declaration
	order   []Type
}

// NewRegistry collects and merges declarations from items (see Collect).
// With a non-nil catalog every declared and targeted type must be listed.
func NewRegistry(catalog *Catalog, items ...any) (*Registry, error) {
	r := &Registry{catalog: catalog, decls: make(map[Type]Declaration)}
	return r.add(items...)
}

// With returns a registry extending r by items; r is left unchanged.
func (r *Registry) With(items ...any) (*Registry, error) {
	out := &Registry{decls: make(map[Type]Declaration)}
	if r != nil {
		out.catalog = r.catalog
		out.order = append(out.order, r.order...)
		for t, d := range r.decls {
			out.decls[t] = d
		}
	}
	return out.add(items...)
}

func (r *Registry) add(items ...any) (*Registry, error) {
	decls, err := Collect(items...)
	if err != nil {
		return nil, err
	}
	for _, d := range decls {
		if err := r.catalog.check(d.Type); err != nil {
			return nil, err
		}
		normalized, err := normalizeMapping(d)
		if err != nil {
			return nil, err
		}
		for _, e := range normalized.entries {
			if err := r.catalog.check(e.Target); err != nil {
				return nil, err
			}
		}
		prev, ok := r.decls[d.Type]
		if !ok {
			r.order = append(r.order, d.Type)
			r.decls[d.Type] = Declaration{Type: d.Type, Mapping: normalized}
			continue
		}
		merged, err := mergeMappings(d.Type, prev.Mapping, normalized)
		if err != nil {
			return nil, err
		}
		r.decls[d.Type] = Declaration{Type: d.Type, Mapping: merged}
	}
	return r, nil
}

// Lookup returns the merged declaration of t.
func (r *Registry) Lookup(t Type) (Declaration, bool) {
	if r == nil {
		return Declaration{}, false
	}
	d, ok := r.decls[t]
	return d, ok
}

// Types lists declared types in first-registration order.
func (r *Registry) Types() []Type {
	if r == nil {
		return nil
	}
	return append([]Type(nil), r.order...)
}

func (r *Registry) Catalog() *Catalog {
	if r == nil {
		return nil
	}
	return r.catalog
}

// Collect flattens declarations out of arbitrarily nested collections:
// Declaration values and pointers, slices and arrays, and maps (visited in
// sorted key order). Nil items are skipped.
func Collect(items ...any) ([]Declaration, error) {
	var out []Declaration
	for _, it := range items {
		if err := collect(reflect.ValueOf(it), &out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

var declarationType = reflect.TypeOf(Declaration{})

func collect(v reflect.Value, out *[]Declaration) error {
	if !v.IsValid() {
		return nil
	}
	if v.Type() == declarationType {
		*out = append(*out, v.Interface().(Declaration))
		return nil
	}
	switch v.Kind() {
	case reflect.Interface, reflect.Pointer:
		if v.IsNil() {
			return nil
		}
		return collect(v.Elem(), out)
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if err := collect(v.Index(i), out); err != nil {
				return err
			}
		}
		return nil
	case reflect.Map:
		keys := v.MapKeys()
		sort.Slice(keys, func(i, j int) bool {
			return fmt.Sprint(keys[i].Interface()) < fmt.Sprint(keys[j].Interface())
		})
		for _, k := range keys {
			if err := collect(v.MapIndex(k), out); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("unsupported declaration container %s", v.Type())
}

// normalizeMapping expands top-level shorthands: a string literal s becomes
// {s: true}; boolean literals are rejected.
func normalizeMapping(d Declaration) (Mapping, error) {
	var m Mapping
	for _, e := range d.Mapping.entries {
		v := e.Value
		if v.kind == KindLiteral {
			switch lit := v.literal.(type) {
			case string:
				v = Nested(Key(lit, Literal(true)))
			case bool:
				return Mapping{}, ErrBooleanMapping
			}
		}
		m = m.With(e.Target, v)
	}
	return m, nil
}

// mergeMappings folds next into prev per target: nested values are united
// shallowly with next winning per key. Any other pair conflicts, equal or
// not, so each non-object mapping has a single author.
func mergeMappings(filter Type, prev, next Mapping) (Mapping, error) {
	out := prev
	for _, e := range next.entries {
		old, ok := out.Get(e.Target)
		if !ok {
			out = out.With(e.Target, e.Value)
			continue
		}
		switch {
		case old.kind == KindNested && e.Value.kind == KindNested:
			merged := old
			for _, m := range e.Value.fields {
				merged = merged.withMember(m.Key, m.Value)
			}
			out = out.With(e.Target, merged)
		default:
			return Mapping{}, newError(ErrMergeConflict,
				"conflicting mappings for type (%s) in nested filter (%s): %s and %s",
				e.Target, filter, old.kind, e.Value.kind)
		}
	}
	return out, nil
}

func (v Value) withMember(key string, child Value) Value {
	fields := append([]Member(nil), v.fields...)
	for i, m := range fields {
		if m.Key == key {
			fields[i].Value = child
			return Value{kind: KindNested, fields: fields}
		}
	}
	return Value{kind: KindNested, fields: append(fields, Member{Key: key, Value: child})}
}
