package blog

import (
	"reflect"

	nestedfilter "github.com/hanpama/nestgraph/internal/nestedfilter"
	store "github.com/hanpama/nestgraph/internal/store"
)

const (
	TypePost    nestedfilter.Type = "Post"
	TypeAuthor  nestedfilter.Type = "Author"
	TypeComment nestedfilter.Type = "Comment"
)

// Catalog lists the entity types of the blog.
func Catalog() *nestedfilter.Catalog {
	row := reflect.TypeFor[store.Row]()
	where := reflect.TypeFor[map[string]any]()
	return nestedfilter.NewCatalog(
		nestedfilter.TypeDef{Name: TypePost, Structure: row, Where: where},
		nestedfilter.TypeDef{Name: TypeAuthor, Structure: row, Where: where},
		nestedfilter.TypeDef{Name: TypeComment, Structure: row, Where: where},
	)
}

func live(t nestedfilter.Type) nestedfilter.Value {
	return nestedfilter.Nested(
		nestedfilter.Key("id", nestedfilter.MapValue(string(t)+".id")),
		nestedfilter.Key("deleted", nestedfilter.Literal(false)),
	)
}

// Declarations returns the built-in nested filters. Comment is declared twice
// and merged.
func Declarations() []nestedfilter.Declaration {
	return []nestedfilter.Declaration{
		nestedfilter.Declare(TypePost,
			nestedfilter.Target(TypePost, live(TypePost)),
		),
		nestedfilter.Declare(TypeAuthor,
			nestedfilter.Target(TypeAuthor, live(TypeAuthor)),
		),
		nestedfilter.Declare(TypeComment,
			nestedfilter.Target(TypeComment, live(TypeComment)),
			nestedfilter.Target(TypePost, nestedfilter.Nested(
				nestedfilter.Key("post", nestedfilter.MapFilter(TypePost)),
			)),
		),
		nestedfilter.Declare(TypeComment,
			nestedfilter.Target(TypeAuthor, nestedfilter.Nested(
				nestedfilter.Key("author", nestedfilter.MapFilter(TypeAuthor)),
			)),
		),
	}
}

// NewRegistry merges the built-in declarations with extra ones.
func NewRegistry(extra ...nestedfilter.Declaration) (*nestedfilter.Registry, error) {
	return nestedfilter.NewRegistry(Catalog(), Declarations(), extra)
}

var (
	notDeleted = nestedfilter.Nested(nestedfilter.Key("deleted", nestedfilter.Literal(false)))

	// Comments of an author are not limited to the comment being resolved.
	authorCommentMapping = nestedfilter.NewMapping(
		nestedfilter.Target(TypeComment, nestedfilter.Ignored()),
	)

	// Posts of an author are not limited to the post being resolved.
	authorPostMapping = nestedfilter.NewMapping(
		nestedfilter.Target(TypePost, nestedfilter.Ignored()),
		nestedfilter.Target(TypeAuthor, nestedfilter.Nested(
			nestedfilter.Key("author", nestedfilter.MapFilter(TypeAuthor)),
		)),
	)
)
