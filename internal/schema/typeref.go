package schema

type TypeRefKind string

const (
	TypeRefKindNamed   TypeRefKind = "NAMED"
	TypeRefKindList    TypeRefKind = "LIST"
	TypeRefKindNonNull TypeRefKind = "NON_NULL"
)

// TypeRef refers to a named type, possibly wrapped in lists and non-null
// markers. Wrappers carry OfType; only the innermost reference has Named.
type TypeRef struct {
	Kind   TypeRefKind
	OfType *TypeRef
	Named  string
}

func NamedType(name string) *TypeRef   { return &TypeRef{Kind: TypeRefKindNamed, Named: name} }
func ListType(of *TypeRef) *TypeRef    { return &TypeRef{Kind: TypeRefKindList, OfType: of} }
func NonNullType(of *TypeRef) *TypeRef { return &TypeRef{Kind: TypeRefKindNonNull, OfType: of} }

func (t *TypeRef) IsNonNull() bool { return t != nil && t.Kind == TypeRefKindNonNull }

// IsList reports whether t is a list, nullable or not.
func (t *TypeRef) IsList() bool {
	if t == nil {
		return false
	}
	if t.Kind == TypeRefKindNonNull {
		return t.OfType != nil && t.OfType.Kind == TypeRefKindList
	}
	return t.Kind == TypeRefKindList
}

// Unwrap strips one wrapper. Named references are returned as is.
func (t *TypeRef) Unwrap() *TypeRef {
	if t.Kind == TypeRefKindNamed {
		return t
	}
	return t.OfType
}

// GetNamedType returns the name of the innermost type.
func (t *TypeRef) GetNamedType() string {
	for ; t != nil; t = t.OfType {
		if t.Named != "" {
			return t.Named
		}
	}
	return ""
}

// String renders t in SDL notation, e.g. "[Post!]!".
func (t *TypeRef) String() string {
	switch {
	case t == nil:
		return ""
	case t.Kind == TypeRefKindNonNull:
		return t.OfType.String() + "!"
	case t.Kind == TypeRefKindList:
		return "[" + t.OfType.String() + "]"
	}
	return t.Named
}

func IsNonNull(t *TypeRef) bool      { return t.IsNonNull() }
func IsList(t *TypeRef) bool         { return t.IsList() }
func Unwrap(t *TypeRef) *TypeRef     { return t.Unwrap() }
func GetNamedType(t *TypeRef) string { return t.GetNamedType() }
