// Package executor implements a breadth-first, batch-friendly GraphQL executor
// with explicit runtime hooks for synchronous resolution, depth-wise batching of
// asynchronous work, abstract-type resolution, and leaf serialization.
//
// # Execution Model
//
// Fields marked schema.Field.Async are queued while the current depth is
// expanded and resolved together by a single Runtime.BatchResolveAsync call;
// every other field is resolved on the spot through Runtime.ResolveSync and
// completed immediately, so synchronous descents never add batch depth. For a
// graph with asynchronous depth d, BatchResolveAsync is invoked exactly d times.
//
// Values are completed per the GraphQL rules. A Non-Null violation found while
// expanding synchronously nulls the enclosing object; one found when an async
// batch completes nulls the top-level field, and queued tasks below it are
// dropped. Leaves go through Runtime.SerializeLeafValue and abstract
// values through Runtime.ResolveType. Errors are collected as located errors and execution
// continues.
//
// # Positions
//
// Each resolution is handed to the runtime as a ResolveTask. Besides the parent
// type, field, source and coerced arguments, the task carries:
//
//   - Path: the response path, e.g. posts.0.commentList. List indices are part
//     of the path, so two rows of the same list never share a position.
//   - ReturnType and ReturnsLeaf: the declared return type, and whether it names
//     a scalar or an enum.
//
// Middleware wrapping a Runtime (see the nestedfilter package) keys its
// per-position state on these fields. Because a parent's resolver always runs
// before any of its children, middleware may rely on pre-order arrival along
// each branch; siblings, including the tasks of one async batch, carry no
// ordering guarantee.
//
// # Notes
//
//   - Mutation fields are not forced to be synchronous; async mutation fields
//     are supported if the schema marks them.
//   - A fragment type condition may name the object type itself or any
//     interface or union it belongs to.
package executor
