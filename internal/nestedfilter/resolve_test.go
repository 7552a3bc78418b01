package nestedfilter

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	executor "github.com/hanpama/nestgraph/internal/executor"
)

func argMap(pairs ...any) *NestedArgMap {
	m := NewNestedArgMap()
	for i := 0; i+1 < len(pairs); i += 2 {
		m.Set(pairs[i].(Type), pairs[i+1])
	}
	return m
}

func envWith(t *testing.T, table *NestedArgMap, decls ...Declaration) *Env {
	t.Helper()
	reg, err := NewRegistry(nil, decls)
	require.NoError(t, err)
	return NewEnv(reg, &Invocation{NestedArgMap: table})
}

func TestResolveLiteralShapeIsAssigned(t *testing.T) {
	env := envWith(t, nil)
	v := FromAny(map[string]any{
		"deleted": false,
		"status":  []any{"DRAFT", "PUBLISHED"},
		"title":   map[string]any{"contains": "go"},
	})
	got, err := env.Resolve("Post", v, ResultOptions{})
	require.NoError(t, err)
	want := Result{Mode: Assign, Where: map[string]any{
		"deleted": false,
		"status":  []any{"DRAFT", "PUBLISHED"},
		"title":   map[string]any{"contains": "go"},
	}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveCombineModes(t *testing.T) {
	table := argMap(Type("Post"), map[string]any{"id": "p1"})
	env := envWith(t, table)

	cases := []struct {
		name string
		v    Value
		want Mode
	}{
		{"empty list", List(), Assign},
		{"empty object", Nested(), Assign},
		{"all literals", List(Literal(1), Literal(2)), Assign},
		{"value ref", Nested(Key("id", MapValue("Post.id"))), Merge},
		{"missing ancestor", Nested(Key("id", MapValue("Author.id")), Key("x", Literal(1))), Invalid},
		{"missing attribute", Nested(Key("id", MapValue("Post.title"))), Invalid},
		{"invalid wins over ignore", List(Ignored(), MapValue("Author.id")), Invalid},
		{"all ignored", List(Ignored(), SuppressedBy("Author", "Author.id")), Ignore},
		{"ignore and literal", List(Ignored(), Literal(1)), Merge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := env.Resolve("Comment", tc.v, ResultOptions{})
			require.NoError(t, err)
			require.Equal(t, tc.want, got.Mode)
		})
	}
}

func TestResolveMergeDropsIgnoredChildren(t *testing.T) {
	env := envWith(t, argMap(Type("Post"), map[string]any{"id": "p1"}))
	v := Nested(
		Key("post", Nested(Key("id", MapValue("Post.id")))),
		Key("author", Ignored()),
		Key("deleted", Literal(false)),
	)
	got, err := env.Resolve("Comment", v, ResultOptions{})
	require.NoError(t, err)
	require.Equal(t, Merge, got.Mode)
	want := map[string]any{"post": map[string]any{"id": "p1"}, "deleted": false}
	if diff := cmp.Diff(want, got.Where); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveThreadsOptionsInDeclarationOrder(t *testing.T) {
	env := envWith(t, argMap(Type("Post"), map[string]any{"id": "p1"}, Type("Author"), map[string]any{"id": "a1"}))
	v := List(
		Nested(Key("post", MapValue("Post.id"))),
		SuppressedBy("Author", "Author.id"),
		Nested(Key("author", MapValue("Author.id"))),
		Ignored(),
	)
	got, err := env.Resolve("Comment", v, ResultOptions{})
	require.NoError(t, err)
	want := ResultOptions{
		IgnoreRules: []IgnoreRule{
			{Type: "Comment", Kind: IgnoreSuppressedBy, SuppressedBy: Ref{Type: "Author", Path: "Author.id"}},
			{Type: "Comment", Kind: IgnoreIgnored},
		},
		UsageRules: []UsageRule{
			{Type: "Comment", Path: "Post.id"},
			{Type: "Comment", Path: "Author.id"},
		},
	}
	if diff := cmp.Diff(want, got.Options); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveMapValueDeepPath(t *testing.T) {
	type author struct {
		ID string `json:"id"`
	}
	type post struct {
		ID     string
		Author *author
		Tags   []string
	}
	p := &post{ID: "p1", Author: &author{ID: "a1"}, Tags: []string{"go", "sql"}}
	env := envWith(t, argMap(Type("Post"), p))

	got, err := env.Resolve("Comment", MapValue("Post.author.id"), ResultOptions{})
	require.NoError(t, err)
	require.Equal(t, "a1", got.Where)

	got, err = env.Resolve("Comment", MapValue("Post.tags.1"), ResultOptions{})
	require.NoError(t, err)
	require.Equal(t, "sql", got.Where)

	got, err = env.Resolve("Comment", MapValue("Post.missing"), ResultOptions{})
	require.NoError(t, err)
	require.Equal(t, Invalid, got.Mode)
	require.Empty(t, got.Options.UsageRules)

	got, err = env.Resolve("Comment", MapValue("Post.tags.5"), ResultOptions{})
	require.NoError(t, err)
	require.Equal(t, Invalid, got.Mode)

	_, err = env.Resolve("Comment", MapValue("Post..id"), ResultOptions{})
	require.Error(t, err)
}

func TestResolveAbsentAttributeStopsFragment(t *testing.T) {
	env := envWith(t, argMap(Type("Post"), map[string]any{"title": "no id here"}))
	v := Nested(
		Key("post", Nested(Key("id", MapValue("Post.id")))),
		Key("deleted", Literal(false)),
	)
	got, err := env.Resolve("Comment", v, ResultOptions{})
	require.NoError(t, err)
	require.Equal(t, Invalid, got.Mode)
	require.Nil(t, got.Where)
	require.Empty(t, got.Options.UsageRules)

	env = envWith(t, argMap(Type("Post"), map[string]any{"id": nil}))
	got, err = env.Resolve("Comment", MapValue("Post.id"), ResultOptions{})
	require.NoError(t, err)
	require.Equal(t, Merge, got.Mode)
	require.Nil(t, got.Where)
}

func TestResolveMapFilterReusesDeclaration(t *testing.T) {
	post := Declare("Post", Target("Post", Nested(Key("post", Nested(Key("id", MapValue("Post.id")))))))
	env := envWith(t, argMap(Type("Post"), map[string]any{"id": "post.id.1"}), post)

	inline, err := env.Resolve("Post", Nested(Key("post", Nested(Key("id", MapValue("Post.id"))))), ResultOptions{})
	require.NoError(t, err)
	viaFilter, err := env.Resolve("Post", MapFilter("Post"), ResultOptions{})
	require.NoError(t, err)
	if diff := cmp.Diff(inline, viaFilter); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestResolveMapFilterErrors(t *testing.T) {
	post := Declare("Post", Target("Post", MapValue("Post.id")))
	env := envWith(t, argMap(Type("Post"), map[string]any{"id": "p1"}), post)

	_, err := env.Resolve("Comment", MapFilter("Author"), ResultOptions{})
	require.EqualError(t, err, "nested filter (Author) is not registered yet")
	require.True(t, errors.Is(err, ErrFilterNotRegistered))

	_, err = env.Resolve("Comment", MapFilter("Post"), ResultOptions{})
	require.EqualError(t, err, "mapping for type (Comment) in nested filter (Post) is not declared")
	require.True(t, errors.Is(err, ErrMappingNotDeclared))
}

func TestResolveMapFilterCycle(t *testing.T) {
	a := Declare("A", Target("Post", MapFilter("B")))
	b := Declare("B", Target("Post", MapFilter("A")))
	env := envWith(t, nil, a, b)
	_, err := env.Resolve("Post", MapFilter("A"), ResultOptions{})
	require.ErrorIs(t, err, ErrMappingCycle)
}

func TestResolveCustomEvaluator(t *testing.T) {
	env := envWith(t, argMap(Type("Post"), map[string]any{"id": "p1"}))
	custom := Custom(func(target Type, opts ResultOptions, env *Env) (Result, error) {
		p, ok := env.NestedArgMap().Get("Post")
		if !ok {
			return Result{Mode: Invalid, Options: opts}, nil
		}
		return Result{
			Mode:    Merge,
			Where:   map[string]any{"postId": executor.Property(p, "id"), "for": string(target)},
			Options: opts.WithUsage(UsageRule{Type: target, Path: "Post.id"}),
		}, nil
	})
	got, err := env.Resolve("Comment", Nested(Key("custom", custom)), ResultOptions{})
	require.NoError(t, err)
	require.Equal(t, map[string]any{"custom": map[string]any{"postId": "p1", "for": "Comment"}}, got.Where)
	require.Equal(t, []UsageRule{{Type: "Comment", Path: "Post.id"}}, got.Options.UsageRules)
}

func TestResolveMappingStartsEachTargetWithEmptyOptions(t *testing.T) {
	env := envWith(t, nil)
	m := NewMapping(
		Target("Post", Ignored()),
		Target("Author", Literal("x")),
	)
	got, err := env.ResolveMapping(m)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Len(t, got[0].Result.Options.IgnoreRules, 1)
	require.Empty(t, got[1].Result.Options.IgnoreRules)
	r, ok := got.Get("Author")
	require.True(t, ok)
	require.Equal(t, Assign, r.Mode)
}
