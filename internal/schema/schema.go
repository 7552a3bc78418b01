// Package schema is the type system the executor runs against: named types,
// their fields and arguments, and wrapped type references.
package schema

import "slices"

// Schema is a set of named types with up to three root operation types.
type Schema struct {
	QueryType        string
	MutationType     string
	SubscriptionType string
	Description      string
	Types            map[string]*Type
	Directives       map[string]*Directive
}

func (s *Schema) GetQueryType() *Type        { return s.Types[s.QueryType] }
func (s *Schema) GetMutationType() *Type     { return s.Types[s.MutationType] }
func (s *Schema) GetSubscriptionType() *Type { return s.Types[s.SubscriptionType] }

// PossibleType reports whether values of the object type named object may
// appear where the type named abstract is expected. An object is possible
// for itself, for every interface it implements and for every union listing
// it.
func (s *Schema) PossibleType(abstract, object string) bool {
	if abstract == object {
		return true
	}
	t, obj := s.Types[abstract], s.Types[object]
	if t == nil || obj == nil {
		return false
	}
	switch t.Kind {
	case TypeKindUnion:
		return slices.Contains(t.PossibleTypes, object)
	case TypeKindInterface:
		return slices.Contains(obj.Interfaces, abstract) || slices.Contains(t.PossibleTypes, object)
	}
	return false
}

type TypeKind string

const (
	TypeKindScalar      TypeKind = "SCALAR"
	TypeKindObject      TypeKind = "OBJECT"
	TypeKindInterface   TypeKind = "INTERFACE"
	TypeKindUnion       TypeKind = "UNION"
	TypeKindEnum        TypeKind = "ENUM"
	TypeKindInputObject TypeKind = "INPUT_OBJECT"
)

// Type is a named type. Which of the slices are populated depends on Kind:
// objects and interfaces carry Fields and Interfaces, unions carry
// PossibleTypes, enums EnumValues and input objects InputFields.
type Type struct {
	Name           string
	Kind           TypeKind
	Description    string
	Fields         []*Field
	Interfaces     []string
	PossibleTypes  []string
	EnumValues     []*EnumValue
	InputFields    []*InputValue
	SpecifiedByURL *string
	OneOf          bool
}

// Field is an output field. Async fields are resolved in batches, one batch
// per execution depth.
type Field struct {
	Name              string
	Description       string
	Type              *TypeRef
	Arguments         []*InputValue
	Async             bool
	IsDeprecated      bool
	DeprecationReason string
}

// InputValue is an argument or an input object field.
type InputValue struct {
	Name              string
	Description       string
	Type              *TypeRef
	DefaultValue      any
	IsDeprecated      bool
	DeprecationReason string
}

type EnumValue struct {
	Name              string
	Description       string
	IsDeprecated      bool
	DeprecationReason string
}

type Directive struct {
	Name         string
	Description  string
	Locations    []string
	Arguments    []*InputValue
	IsRepeatable bool
}
