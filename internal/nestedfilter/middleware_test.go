package nestedfilter

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	executor "github.com/hanpama/nestgraph/internal/executor"
	language "github.com/hanpama/nestgraph/internal/language"
	schema "github.com/hanpama/nestgraph/internal/schema"
)

const testSDL = `
type Query {
  posts: [Post!]! @async
}

type Post {
  id: ID!
  title: String
  commentList: [Comment!]! @async
}

type Comment {
  id: ID!
  text: String
  author: Author
}

type Author {
  id: ID!
  commentList: [Comment!]!
}
`

var (
	testPosts = []any{
		map[string]any{"id": "p1", "title": "First"},
		map[string]any{"id": "p2", "title": "Second"},
	}
	testComments = []map[string]any{
		{"id": "c1", "postId": "p1", "authorId": "a1"},
		{"id": "c2", "postId": "p1", "authorId": "a2"},
		{"id": "c3", "postId": "p2", "authorId": "a1"},
	}
	testAuthors = map[string]map[string]any{
		"a1": {"id": "a1"},
		"a2": {"id": "a2"},
	}
)

func commentDeclaration() Declaration {
	return Declare("Comment",
		Target("Post", Nested(Key("postId", MapValue("Post.id")))),
		Target("Author", Nested(Key("authorId", MapValue("Author.id")))),
	)
}

// filterComments applies a flat {"AND": [{column: value}...]} condition.
func filterComments(where Condition) []any {
	out := []any{}
	for _, c := range testComments {
		ok := true
		for _, part := range where["AND"].([]any) {
			for col, want := range part.(map[string]any) {
				if c[col] != want {
					ok = false
				}
			}
		}
		if ok {
			out = append(out, c)
		}
	}
	return out
}

type blogFixture struct {
	rt      *executor.FuncRuntime
	mw      *Middleware
	exec    *executor.Executor
	fetches atomic.Int32

	mu       sync.Mutex
	composed map[string]Condition
}

func newBlogFixture(t *testing.T, authorCommentMapping Mapping, opts ...Option) *blogFixture {
	t.Helper()
	sch, err := schema.BuildFromSDL(testSDL)
	require.NoError(t, err)
	reg, err := NewRegistry(nil, commentDeclaration())
	require.NoError(t, err)

	f := &blogFixture{composed: make(map[string]Condition)}
	commentList := func(mapping Mapping) executor.ResolverFunc {
		return func(ctx context.Context, source any, args map[string]any) (any, error) {
			where, err := WithNestedFilters(ctx, ComposeOptions{Type: "Comment", Mapping: mapping})
			if err != nil {
				return nil, err
			}
			s, _ := FromContext(ctx)
			f.mu.Lock()
			f.composed[strings.Join(s.Invocation().Path, ".")] = where
			f.mu.Unlock()
			return filterComments(where), nil
		}
	}
	f.rt = executor.NewFuncRuntime(map[string]executor.ResolverFunc{
		"Query.posts":        executor.ValueResolver(testPosts),
		"Post.commentList":   commentList(Mapping{}),
		"Author.commentList": commentList(authorCommentMapping),
		"Comment.author": func(ctx context.Context, source any, args map[string]any) (any, error) {
			id, _ := executor.Property(source, "authorId").(string)
			return GetNestedResult(ctx, GetOptions{
				Type:     "Author",
				CacheKey: id,
				OnGet: func(ctx context.Context) (any, error) {
					f.fetches.Add(1)
					return testAuthors[id], nil
				},
			})
		},
	})
	f.rt.SetFallback(executor.PropertyResolver)
	opts = append([]Option{WithLogger(slog.New(slog.DiscardHandler))}, opts...)
	f.mw = Wrap(f.rt, reg, opts...)
	f.exec = executor.NewExecutor(f.mw, sch)
	return f
}

func (f *blogFixture) run(t *testing.T, ctx context.Context, query string) *executor.ExecutionResult {
	t.Helper()
	doc, err := language.ParseQuery(query)
	require.NoError(t, err)
	return f.exec.ExecuteRequest(ctx, doc, "", nil, nil)
}

const nestedQuery = `{ posts { id commentList { id author { id commentList { id } } } } }`

func TestMiddlewareComposesFromAncestors(t *testing.T) {
	f := newBlogFixture(t, NewMapping(Target("Comment", Ignored())))
	res := f.run(t, f.mw.NewRequestContext(context.Background()), nestedQuery)
	require.Empty(t, res.Errors)

	comment := func(id, author string, own ...string) map[string]any {
		list := []any{}
		for _, c := range own {
			list = append(list, map[string]any{"id": c})
		}
		return map[string]any{"id": id, "author": map[string]any{"id": author, "commentList": list}}
	}
	want := map[string]any{"posts": []any{
		map[string]any{"id": "p1", "commentList": []any{comment("c1", "a1", "c1"), comment("c2", "a2", "c2")}},
		map[string]any{"id": "p2", "commentList": []any{comment("c3", "a1", "c3")}},
	}}
	if diff := cmp.Diff(want, res.Data); diff != "" {
		t.Fatalf("data mismatch (-want +got):\n%s", diff)
	}

	wantWhere := map[string]Condition{
		"posts.0.commentList":                      And(map[string]any{"postId": "p1"}),
		"posts.1.commentList":                      And(map[string]any{"postId": "p2"}),
		"posts.0.commentList.0.author.commentList": And(map[string]any{"postId": "p1"}, map[string]any{"authorId": "a1"}),
		"posts.0.commentList.1.author.commentList": And(map[string]any{"postId": "p1"}, map[string]any{"authorId": "a2"}),
		"posts.1.commentList.0.author.commentList": And(map[string]any{"postId": "p2"}, map[string]any{"authorId": "a1"}),
	}
	if diff := cmp.Diff(wantWhere, f.composed); diff != "" {
		t.Errorf("composed mismatch (-want +got):\n%s", diff)
	}
	require.EqualValues(t, 2, f.fetches.Load())
}

func TestMiddlewareReportsUnmappedAncestor(t *testing.T) {
	f := newBlogFixture(t, Mapping{})
	res := f.run(t, f.mw.NewRequestContext(context.Background()), nestedQuery)
	require.Len(t, res.Errors, 3)
	for _, e := range res.Errors {
		require.Equal(t, "Comment nested filter doesn't contain mapping for following types (Comment).", e.Message)
		require.Equal(t, "commentList", e.Path[len(e.Path)-1])
	}

	t.Run("ignored type", func(t *testing.T) {
		f := newBlogFixture(t, Mapping{}, WithIgnoredTypes("Comment"))
		res := f.run(t, f.mw.NewRequestContext(context.Background()), nestedQuery)
		require.Empty(t, res.Errors)
	})
}

func TestMiddlewareRequiresRequestContext(t *testing.T) {
	f := newBlogFixture(t, Mapping{})
	res := f.run(t, context.Background(), `{ posts { id } }`)
	require.Len(t, res.Errors, 1)
	require.Equal(t, "nested filter hasn't been configured", res.Errors[0].Message)

	_, err := WithNestedFilters(context.Background(), ComposeOptions{Type: "Comment"})
	require.ErrorIs(t, err, ErrNotConfigured)
	_, err = GetNestedResult(context.Background(), GetOptions{Type: "Comment"})
	require.ErrorIs(t, err, ErrNotConfigured)
	require.ErrorIs(t, AddNestedResult(context.Background(), "Comment", 1, Direct), ErrNotConfigured)
	require.ErrorIs(t, ReplaceNestedResult(context.Background(), "Comment", 1), ErrNotConfigured)
	_, err = NestedArgMapFromContext(context.Background())
	require.ErrorIs(t, err, ErrNotConfigured)
}

// callHarness runs single resolver calls through a Middleware.
type callHarness struct {
	rt *executor.FuncRuntime
	mw *Middleware
}

func newCallHarness(t *testing.T, opts ...Option) *callHarness {
	t.Helper()
	reg, err := NewRegistry(nil, commentDeclaration())
	require.NoError(t, err)
	rt := executor.NewFuncRuntime(nil)
	opts = append([]Option{WithLogger(slog.New(slog.DiscardHandler))}, opts...)
	return &callHarness{rt: rt, mw: Wrap(rt, reg, opts...)}
}

func (h *callHarness) call(ctx context.Context, objectType, field string, source any, path executor.Path, fn executor.ResolverFunc) (any, error) {
	h.rt.SetResolver(objectType, field, fn)
	return h.mw.ResolveSync(ctx, executor.ResolveTask{
		ObjectType: objectType,
		Field:      field,
		Source:     source,
		Path:       path,
	})
}

var post1 = map[string]any{"id": "p1"}

func TestGetNestedResult(t *testing.T) {
	h := newCallHarness(t)
	ctx := h.mw.NewRequestContext(context.Background())
	author := map[string]any{"id": "a1"}

	t.Run("existing ancestor", func(t *testing.T) {
		_, err := h.call(ctx, "Post", "commentList", post1, executor.Path{"posts", 0, "commentList"}, func(ctx context.Context, _ any, _ map[string]any) (any, error) {
			got, err := GetNestedResult(ctx, GetOptions{Type: "Post"})
			require.NoError(t, err)
			require.Equal(t, post1, got)
			return nil, nil
		})
		require.NoError(t, err)
	})

	t.Run("not present", func(t *testing.T) {
		_, err := h.call(ctx, "Post", "commentList", post1, executor.Path{"posts", 0, "commentList"}, func(ctx context.Context, _ any, _ map[string]any) (any, error) {
			return GetNestedResult(ctx, GetOptions{Type: "Author"})
		})
		require.EqualError(t, err, "Nested result for (Author) is not present.")
		require.ErrorIs(t, err, ErrNestedResultNotPresent)
	})

	t.Run("fetched once per call", func(t *testing.T) {
		var calls int
		onGet := func(context.Context) (any, error) { calls++; return author, nil }
		_, err := h.call(ctx, "Post", "commentList", post1, executor.Path{"posts", 0, "commentList"}, func(ctx context.Context, _ any, _ map[string]any) (any, error) {
			for i := 0; i < 2; i++ {
				got, err := GetNestedResult(ctx, GetOptions{Type: "Author", OnGet: onGet})
				require.NoError(t, err)
				require.Equal(t, author, got)
			}
			return nil, nil
		})
		require.NoError(t, err)
		require.Equal(t, 1, calls)
	})

	t.Run("non object without cache key", func(t *testing.T) {
		_, err := h.call(ctx, "Post", "commentList", post1, executor.Path{"posts", 0, "commentList"}, func(ctx context.Context, _ any, _ map[string]any) (any, error) {
			return GetNestedResult(ctx, GetOptions{Type: "Author", OnGet: func(context.Context) (any, error) { return 42, nil }})
		})
		require.EqualError(t, err, "Non object nested result for (Author) can not be cached without cache key")
		require.ErrorIs(t, err, ErrUncacheableResult)
	})

	t.Run("time pointer without cache key", func(t *testing.T) {
		now := time.Now()
		_, err := h.call(ctx, "Post", "commentList", post1, executor.Path{"posts", 0, "commentList"}, func(ctx context.Context, _ any, _ map[string]any) (any, error) {
			return GetNestedResult(ctx, GetOptions{Type: "Author", OnGet: func(context.Context) (any, error) { return &now, nil }})
		})
		require.ErrorIs(t, err, ErrUncacheableResult)
	})

	t.Run("concurrent calls share one fetch", func(t *testing.T) {
		var calls atomic.Int32
		started := make(chan struct{})
		release := make(chan struct{})
		onGet := func(context.Context) (any, error) {
			calls.Add(1)
			close(started)
			<-release
			return author, nil
		}
		_, err := h.call(ctx, "Post", "commentList", post1, executor.Path{"posts", 0, "commentList"}, func(ctx context.Context, _ any, _ map[string]any) (any, error) {
			got := make([]any, 4)
			errs := make([]error, len(got))
			var wg sync.WaitGroup
			fetch := func(i int) {
				defer wg.Done()
				got[i], errs[i] = GetNestedResult(ctx, GetOptions{Type: "Author", OnGet: onGet})
			}
			wg.Add(1)
			go fetch(0)
			<-started
			for i := 1; i < len(got); i++ {
				wg.Add(1)
				go fetch(i)
			}
			close(release)
			wg.Wait()
			for i := range got {
				require.NoError(t, errs[i])
				require.Equal(t, author, got[i])
			}
			return nil, nil
		})
		require.NoError(t, err)
		require.EqualValues(t, 1, calls.Load())
	})

	t.Run("fetch error", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := h.call(ctx, "Post", "commentList", post1, executor.Path{"posts", 0, "commentList"}, func(ctx context.Context, _ any, _ map[string]any) (any, error) {
			return GetNestedResult(ctx, GetOptions{Type: "Author", OnGet: func(context.Context) (any, error) { return nil, boom }})
		})
		require.ErrorIs(t, err, boom)
	})
}

func TestGetNestedResultCacheAcrossRequests(t *testing.T) {
	cache := NewMemoryCache()
	h := newCallHarness(t, WithResultCache(cache))
	author := map[string]any{"id": "a1"}
	var calls int
	onGet := func(context.Context) (any, error) { calls++; return author, nil }

	for i := 0; i < 2; i++ {
		ctx := h.mw.NewRequestContext(context.Background())
		got, err := h.call(ctx, "Post", "commentList", post1, executor.Path{"posts", 0, "commentList"}, func(ctx context.Context, _ any, _ map[string]any) (any, error) {
			return GetNestedResult(ctx, GetOptions{Type: "Author", OnGet: onGet, CacheKey: "a1"})
		})
		require.NoError(t, err)
		require.Equal(t, author, got)
	}
	require.Equal(t, 1, calls)

	// Without a key the fetched entity is stored by its id attribute.
	ctx := h.mw.NewRequestContext(context.Background())
	_, err := h.call(ctx, "Post", "commentList", post1, executor.Path{"posts", 0, "commentList"}, func(ctx context.Context, _ any, _ map[string]any) (any, error) {
		return GetNestedResult(ctx, GetOptions{Type: "Tag", OnGet: func(context.Context) (any, error) {
			return map[string]any{"slug": "go"}, nil
		}, CacheKeyAttribute: "slug"})
	})
	require.NoError(t, err)
	v, ok := cache.Lookup("Tag", "go")
	require.True(t, ok)
	require.Equal(t, map[string]any{"slug": "go"}, v)
}

func TestAddNestedResultModes(t *testing.T) {
	h := newCallHarness(t)
	ctx := h.mw.NewRequestContext(context.Background())
	author := map[string]any{"id": "a1"}
	tag := map[string]any{"id": "t1"}

	_, err := h.call(ctx, "Query", "post", nil, executor.Path{"post"}, func(ctx context.Context, _ any, _ map[string]any) (any, error) {
		require.NoError(t, AddNestedResult(ctx, "Author", author, Children))
		_, err := GetNestedResult(ctx, GetOptions{Type: "Author"})
		require.EqualError(t, err, "Nested result for (Author) is not present.")

		require.NoError(t, AddNestedResult(ctx, "Tag", tag, Direct))
		got, err := GetNestedResult(ctx, GetOptions{Type: "Tag"})
		require.NoError(t, err)
		require.Equal(t, tag, got)
		return post1, nil
	})
	require.NoError(t, err)

	_, err = h.call(ctx, "Post", "commentList", post1, executor.Path{"post", "commentList"}, func(ctx context.Context, _ any, _ map[string]any) (any, error) {
		table, err := NestedArgMapFromContext(ctx)
		require.NoError(t, err)
		require.Equal(t, map[Type]any{"Author": author, "Tag": tag, "Post": post1}, table.ToMap())
		return nil, nil
	})
	require.NoError(t, err)
}

func TestGetNestedResultAddsToTree(t *testing.T) {
	h := newCallHarness(t)
	ctx := h.mw.NewRequestContext(context.Background())
	author := map[string]any{"id": "a1"}

	_, err := h.call(ctx, "Query", "post", nil, executor.Path{"post"}, func(ctx context.Context, _ any, _ map[string]any) (any, error) {
		_, err := GetNestedResult(ctx, GetOptions{Type: "Author", OnGet: func(context.Context) (any, error) { return author, nil }, AddNestedResult: true})
		return post1, err
	})
	require.NoError(t, err)

	_, err = h.call(ctx, "Post", "title", post1, executor.Path{"post", "title"}, func(ctx context.Context, _ any, _ map[string]any) (any, error) {
		got, err := GetNestedResult(ctx, GetOptions{Type: "Author"})
		require.NoError(t, err)
		require.Equal(t, author, got)
		return "T", nil
	})
	require.NoError(t, err)
}

func TestReplaceNestedResult(t *testing.T) {
	h := newCallHarness(t)
	ctx := h.mw.NewRequestContext(context.Background())
	stub := map[string]any{"id": "a1"}
	full := map[string]any{"id": "a1", "firstName": "Ada"}

	_, err := h.call(ctx, "Query", "post", nil, executor.Path{"post"}, func(ctx context.Context, _ any, _ map[string]any) (any, error) {
		return post1, AddNestedResult(ctx, "Author", stub, Children)
	})
	require.NoError(t, err)

	_, err = h.call(ctx, "Post", "commentList", post1, executor.Path{"post", "commentList"}, func(ctx context.Context, _ any, _ map[string]any) (any, error) {
		got, _ := GetNestedResult(ctx, GetOptions{Type: "Author"})
		require.Equal(t, stub, got)
		require.NoError(t, ReplaceNestedResult(ctx, "Author", full))
		got, _ = GetNestedResult(ctx, GetOptions{Type: "Author"})
		require.Equal(t, full, got)
		return nil, nil
	})
	require.NoError(t, err)

	_, err = h.call(ctx, "Post", "author", post1, executor.Path{"post", "author"}, func(ctx context.Context, _ any, _ map[string]any) (any, error) {
		got, _ := GetNestedResult(ctx, GetOptions{Type: "Author"})
		require.Equal(t, full, got)
		return nil, nil
	})
	require.NoError(t, err)
}

func TestScopeClosesAfterResolver(t *testing.T) {
	h := newCallHarness(t)
	ctx := h.mw.NewRequestContext(context.Background())
	var scope *Scope
	_, err := h.call(ctx, "Query", "post", nil, executor.Path{"post"}, func(ctx context.Context, _ any, _ map[string]any) (any, error) {
		scope, _ = FromContext(ctx)
		return nil, nil
	})
	require.NoError(t, err)
	require.ErrorIs(t, scope.AddNestedResult("Post", post1, Direct), ErrScopeClosed)
	_, err = scope.WithNestedFilters(ctx, ComposeOptions{Type: "Comment"})
	require.ErrorIs(t, err, ErrScopeClosed)
}

func TestMiddlewareEntityBoundaries(t *testing.T) {
	h := newCallHarness(t, WithLeafTypes("PostPayload"))
	ctx := h.mw.NewRequestContext(context.Background())
	tableAt := func(objectType, field string, source any, path executor.Path, leaf bool) map[Type]any {
		h.rt.SetResolver(objectType, field, func(ctx context.Context, _ any, _ map[string]any) (any, error) {
			table, err := NestedArgMapFromContext(ctx)
			return table.ToMap(), err
		})
		v, err := h.mw.ResolveSync(ctx, executor.ResolveTask{ObjectType: objectType, Field: field, Source: source, Path: path, ReturnsLeaf: leaf})
		require.NoError(t, err)
		return v.(map[Type]any)
	}

	require.Empty(t, tableAt("Mutation", "post", map[string]any{"root": true}, executor.Path{"post"}, false))
	require.Equal(t, map[Type]any{"Post": post1}, tableAt("PostMutation", "addComment", post1, executor.Path{"post", "addComment"}, false))
	require.Empty(t, tableAt("Post", "title", post1, executor.Path{"posts", 0, "title"}, true))
	require.Empty(t, tableAt("PostPayload", "post", post1, executor.Path{"createPost", "post"}, false))
	require.Empty(t, tableAt("Post", "author", "not an entity", executor.Path{"posts", 1, "author"}, false))
	now := time.Now()
	require.Empty(t, tableAt("Post", "author", now, executor.Path{"posts", 2, "author"}, false))
	require.Empty(t, tableAt("Post", "author", &now, executor.Path{"posts", 3, "author"}, false))
}

func TestBatchResolveAsync(t *testing.T) {
	tasks := func() []executor.ResolveTask {
		out := make([]executor.ResolveTask, 4)
		for i := range out {
			out[i] = executor.ResolveTask{
				ObjectType:  "Post",
				Field:       "title",
				Source:      map[string]any{"id": i},
				Path:        executor.Path{"posts", i, "title"},
				ReturnsLeaf: true,
			}
		}
		return out
	}
	boom := errors.New("boom")

	t.Run("failures stay with their task", func(t *testing.T) {
		h := newCallHarness(t)
		ctx := h.mw.NewRequestContext(context.Background())
		h.rt.SetResolver("Post", "title", func(_ context.Context, src any, _ map[string]any) (any, error) {
			if src.(map[string]any)["id"] == 2 {
				return nil, boom
			}
			return "ok", nil
		})
		results := h.mw.BatchResolveAsync(ctx, tasks())
		want := []executor.ResolveResult{{Value: "ok"}, {Value: "ok"}, {Error: boom}, {Value: "ok"}}
		if diff := cmp.Diff(want, results, cmp.Comparer(func(a, b error) bool { return errors.Is(a, b) })); diff != "" {
			t.Fatalf("mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("concurrency cap", func(t *testing.T) {
		h := newCallHarness(t, WithBatchConcurrency(1))
		ctx := h.mw.NewRequestContext(context.Background())
		var running, peak atomic.Int32
		h.rt.SetResolver("Post", "title", func(context.Context, any, map[string]any) (any, error) {
			n := running.Add(1)
			defer running.Add(-1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			return "ok", nil
		})
		results := h.mw.BatchResolveAsync(ctx, tasks())
		require.Len(t, results, 4)
		require.EqualValues(t, 1, peak.Load())
	})
}

func TestMiddlewareResolverErrorWins(t *testing.T) {
	h := newCallHarness(t)
	ctx := h.mw.NewRequestContext(context.Background())
	boom := errors.New("boom")
	_, err := h.call(ctx, "Author", "commentList", map[string]any{"id": "a1"}, executor.Path{"posts", 0, "commentList", 0, "author", "commentList"}, func(ctx context.Context, _ any, _ map[string]any) (any, error) {
		_, err := WithNestedFilters(ctx, ComposeOptions{Type: "Post"})
		require.NoError(t, err)
		return nil, boom
	})
	require.ErrorIs(t, err, boom)

	_, err = h.call(ctx, "Author", "commentList", map[string]any{"id": "a1"}, executor.Path{"posts", 0, "commentList", 0, "author", "commentList"}, func(ctx context.Context, _ any, _ map[string]any) (any, error) {
		_, err := WithNestedFilters(ctx, ComposeOptions{Type: "Post"})
		return []any{}, err
	})
	require.EqualError(t, err, "Post nested filter doesn't contain mapping for following types (Author).")
}

func TestStripMutationSuffix(t *testing.T) {
	require.Equal(t, "Post", StripMutationSuffix("PostMutation"))
	require.Equal(t, "Mutation", StripMutationSuffix("Mutation"))
	require.Equal(t, "Author", StripMutationSuffix("Author"))
}
