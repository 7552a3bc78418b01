// Package nestedfilter lets resolvers build query filters from the entities
// their ancestors resolved earlier in the same request.
//
// # Declarations
//
// A Declaration describes, for one entity type, how to constrain a query by
// each ancestor type that may be known:
//
//	nestedfilter.Declare("Comment",
//		nestedfilter.Target("Post", nestedfilter.Nested(
//			nestedfilter.Key("post", nestedfilter.Nested(
//				nestedfilter.Key("id", nestedfilter.MapValue("Post.id")),
//			)),
//		)),
//		nestedfilter.Target("Author", nestedfilter.SuppressedBy("Author", "Author.id")),
//	)
//
// Declarations are merged per type into a Registry. They can also be loaded
// from YAML with LoadDeclarations.
//
// # Requests
//
// Middleware wraps an executor.Runtime. Every resolver call records its
// source in a per-request Tree keyed by response path and receives a Scope
// in its context. WithNestedFilters composes {"AND": [...]} from the
// ancestors visible to the call; when the resolver returns, every composed
// type is checked for ancestors that were neither mapped nor ignored.
package nestedfilter
