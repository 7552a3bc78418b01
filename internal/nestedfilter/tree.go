package nestedfilter

import (
	"sort"
	"strconv"
	"strings"
	"sync"
)

// AddMode selects who sees an added nested result.
type AddMode uint8

const (
	// Direct results are visible to the adding position and its descendants.
	Direct AddMode = iota
	// Children results are visible to descendants only.
	Children
)

// Entity is a resolved value tagged with its entity type.
type Entity struct {
	Type  Type
	Value any
}

// Node is one resolver position of a request.
type Node struct {
	key      string
	entity   *Entity
	children map[string]*Node
	// direct overrides apply to this position and below, children overrides
	// strictly below.
	direct *NestedArgMap
	below  *NestedArgMap
}

func newNode(key string) *Node {
	return &Node{key: key, children: make(map[string]*Node)}
}

// Key is the path segment of the node.
func (n *Node) Key() string { return n.key }

// Tree holds the positions one request has visited. Nodes are created the
// first time a position is resolved and are only discarded with the tree.
// All access is serialized, so resolvers of one request may run concurrently.
type Tree struct {
	mu   sync.Mutex
	root *Node
}

func NewTree() *Tree { return &Tree{root: newNode("")} }

// Descend walks path from the root, creating missing nodes, and returns the
// final node with the lookup table visible there. Each step folds the node's
// entity, then its direct overrides, then (for ancestors only) its children
// overrides, so deeper entries win. When current is non-nil it becomes the
// final node's entity.
func (t *Tree) Descend(path []string, current *Entity) (*Node, *NestedArgMap, error) {
	if len(path) == 0 {
		return nil, nil, ErrEmptyPath
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	table := NewNestedArgMap()
	node := t.root
	table.Merge(node.direct)
	table.Merge(node.below)
	for i, seg := range path {
		child, ok := node.children[seg]
		if !ok {
			child = newNode(seg)
			node.children[seg] = child
		}
		node = child
		last := i == len(path)-1
		if last && current != nil {
			e := *current
			node.entity = &e
		}
		if node.entity != nil {
			table.Set(node.entity.Type, node.entity.Value)
		}
		table.Merge(node.direct)
		if !last {
			table.Merge(node.below)
		}
	}
	return node, table, nil
}

// Add records result as an override of typ at n.
func (t *Tree) Add(n *Node, typ Type, result any, mode AddMode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if mode == Children {
		if n.below == nil {
			n.below = NewNestedArgMap()
		}
		n.below.Set(typ, result)
		return
	}
	if n.direct == nil {
		n.direct = NewNestedArgMap()
	}
	n.direct.Set(typ, result)
}

// Replace overwrites every existing override of typ anywhere in the tree.
// Entities recorded from resolver sources are left alone.
func (t *Tree) Replace(typ Type, result any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var walk func(n *Node)
	walk = func(n *Node) {
		if n.direct.Has(typ) {
			n.direct.Set(typ, result)
		}
		if n.below.Has(typ) {
			n.below.Set(typ, result)
		}
		for _, c := range n.children {
			walk(c)
		}
	}
	walk(t.root)
}

// Render draws the tree, one position per line. Each line shows the path
// segment, the entity type in brackets, direct overrides after '+' and
// children overrides after '^'.
func (t *Tree) Render() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var b strings.Builder
	b.WriteString(label(t.root, "(root)"))
	b.WriteByte('\n')
	renderChildren(&b, t.root, "")
	return b.String()
}

func renderChildren(b *strings.Builder, n *Node, indent string) {
	keys := make([]string, 0, len(n.children))
	for k := range n.children {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return segmentLess(keys[i], keys[j]) })
	for i, k := range keys {
		child := n.children[k]
		branch, next := "├── ", "│   "
		if i == len(keys)-1 {
			branch, next = "└── ", "    "
		}
		b.WriteString(indent)
		b.WriteString(branch)
		b.WriteString(label(child, child.key))
		b.WriteByte('\n')
		renderChildren(b, child, indent+next)
	}
}

func label(n *Node, name string) string {
	var b strings.Builder
	b.WriteString(name)
	if n.entity != nil {
		b.WriteString(" [")
		b.WriteString(string(n.entity.Type))
		b.WriteByte(']')
	}
	if n.direct.Len() > 0 {
		b.WriteString(" +{")
		b.WriteString(strings.Join(typeNames(n.direct.Types()), ","))
		b.WriteByte('}')
	}
	if n.below.Len() > 0 {
		b.WriteString(" ^{")
		b.WriteString(strings.Join(typeNames(n.below.Types()), ","))
		b.WriteByte('}')
	}
	return b.String()
}

// segmentLess orders list indices numerically and before field names.
func segmentLess(a, b string) bool {
	ai, aerr := strconv.Atoi(a)
	bi, berr := strconv.Atoi(b)
	switch {
	case aerr == nil && berr == nil:
		return ai < bi
	case aerr == nil:
		return true
	case berr == nil:
		return false
	}
	return a < b
}
