package nestedfilter

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/require"
)

func newGoldie(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func segs(p string) []string { return strings.Split(p, ".") }

func TestTreeAncestorVisibility(t *testing.T) {
	post := map[string]any{"id": "p1"}
	comment := map[string]any{"id": "c1"}
	tree := NewTree()

	_, table, err := tree.Descend(segs("posts"), nil)
	require.NoError(t, err)
	require.Zero(t, table.Len())

	_, table, err = tree.Descend(segs("posts.0.commentList"), &Entity{Type: "Post", Value: post})
	require.NoError(t, err)
	require.Equal(t, map[Type]any{"Post": post}, table.ToMap())

	_, table, err = tree.Descend(segs("posts.0.commentList.0.author"), &Entity{Type: "Comment", Value: comment})
	require.NoError(t, err)
	if diff := cmp.Diff(map[Type]any{"Post": post, "Comment": comment}, table.ToMap()); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
	require.Equal(t, []Type{"Post", "Comment"}, table.Types())
}

func TestTreeDeeperEntriesWin(t *testing.T) {
	tree := NewTree()
	outer := map[string]any{"id": "outer"}
	inner := map[string]any{"id": "inner"}
	tree.Descend(segs("posts.0.author"), &Entity{Type: "Post", Value: outer})
	tree.Descend(segs("posts.0.author.postList.0.title"), &Entity{Type: "Post", Value: inner})

	_, table, err := tree.Descend(segs("posts.0.author.postList.0.title"), nil)
	require.NoError(t, err)
	require.Equal(t, inner, mustGet(t, table, "Post"))

	_, table, err = tree.Descend(segs("posts.0.author.postList"), nil)
	require.NoError(t, err)
	require.Equal(t, outer, mustGet(t, table, "Post"))
}

func TestTreeAddModes(t *testing.T) {
	tree := NewTree()
	author := map[string]any{"id": "a1"}
	tag := map[string]any{"id": "t1"}
	node, _, err := tree.Descend(segs("posts.0.commentList"), &Entity{Type: "Post", Value: map[string]any{"id": "p1"}})
	require.NoError(t, err)

	tree.Add(node, "Author", author, Children)
	tree.Add(node, "Tag", tag, Direct)

	_, table, _ := tree.Descend(segs("posts.0.commentList"), nil)
	require.False(t, table.Has("Author"))
	require.Equal(t, tag, mustGet(t, table, "Tag"))

	_, table, _ = tree.Descend(segs("posts.0.commentList.0.text"), nil)
	require.Equal(t, author, mustGet(t, table, "Author"))
	require.Equal(t, tag, mustGet(t, table, "Tag"))

	_, table, _ = tree.Descend(segs("posts.1.commentList"), nil)
	require.False(t, table.Has("Author"))
	require.False(t, table.Has("Tag"))
}

func TestTreeReplaceRewritesOverrides(t *testing.T) {
	tree := NewTree()
	stub := map[string]any{"id": "a1"}
	full := map[string]any{"id": "a1", "firstName": "Ada"}
	entity := map[string]any{"id": "a2"}

	first, _, _ := tree.Descend(segs("posts.0.commentList"), nil)
	second, _, _ := tree.Descend(segs("authors.0.postList"), &Entity{Type: "Author", Value: entity})
	tree.Add(first, "Author", stub, Direct)
	tree.Add(second, "Author", stub, Children)

	tree.Replace("Author", full)

	_, table, _ := tree.Descend(segs("posts.0.commentList"), nil)
	require.Equal(t, full, mustGet(t, table, "Author"))
	_, table, _ = tree.Descend(segs("authors.0.postList.0.id"), nil)
	require.Equal(t, full, mustGet(t, table, "Author"))
	_, table, _ = tree.Descend(segs("authors.0.postList"), nil)
	require.Equal(t, entity, mustGet(t, table, "Author"))
}

func TestTreeEmptyPath(t *testing.T) {
	_, _, err := NewTree().Descend(nil, nil)
	require.ErrorIs(t, err, ErrEmptyPath)
}

func TestTreeRender(t *testing.T) {
	tree := NewTree()
	node, _, _ := tree.Descend(segs("posts.0.commentList"), &Entity{Type: "Post", Value: map[string]any{"id": "p1"}})
	tree.Add(node, "Author", map[string]any{"id": "a1"}, Children)
	tree.Descend(segs("posts.0.commentList.0.author"), &Entity{Type: "Comment", Value: map[string]any{"id": "c1"}})
	tree.Descend(segs("posts.10.title"), nil)
	tree.Descend(segs("posts.2.title"), nil)

	newGoldie(t).Assert(t, "tree_render", []byte(tree.Render()))
}

func mustGet(t *testing.T, m *NestedArgMap, typ Type) any {
	t.Helper()
	v, ok := m.Get(typ)
	require.True(t, ok, "missing %s", typ)
	return v
}
