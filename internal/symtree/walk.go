package symtree

import (
	"sort"

	"github.com/sizemap/pkg/model"
)

// Visit is a node reached by Walk. Path holds the names from the first
// level below the root down to Node and is empty for the root. Each Visit
// owns its Path.
type Visit struct {
	Node  *Node
	Depth int
	Path  model.SymbolPath
}

// Walk visits every node in pre-order, children in order. Returning false
// from fn skips the node's children.
func (t *Tree) Walk(fn func(v Visit) bool) {
	if t == nil || t.Root == nil {
		return
	}
	stack := []Visit{{Node: t.Root}}
	for len(stack) > 0 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !fn(v) {
			continue
		}
		children := v.Node.Children
		for i := len(children) - 1; i >= 0; i-- {
			c := children[i]
			path := make(model.SymbolPath, len(v.Path)+1)
			copy(path, v.Path)
			path[len(v.Path)] = c.Name
			stack = append(stack, Visit{Node: c, Depth: v.Depth + 1, Path: path})
		}
	}
}

// walkNodes is Walk without paths.
func (t *Tree) walkNodes(fn func(n *Node, depth int)) {
	if t == nil || t.Root == nil {
		return
	}
	type item struct {
		node  *Node
		depth int
	}
	stack := []item{{node: t.Root}}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		fn(it.node, it.depth)
		for i := len(it.node.Children) - 1; i >= 0; i-- {
			stack = append(stack, item{node: it.node.Children[i], depth: it.depth + 1})
		}
	}
}

// Leaves returns every node without children, in pre-order. A tree with an
// empty root has no leaves.
func (t *Tree) Leaves() []Visit {
	var out []Visit
	t.Walk(func(v Visit) bool {
		if v.Depth > 0 && v.Node.IsLeaf() {
			out = append(out, v)
		}
		return true
	})
	return out
}

// MaxDepth returns the depth of the deepest node. The root is at depth 0.
func (t *Tree) MaxDepth() int {
	deepest := 0
	t.walkNodes(func(_ *Node, depth int) {
		if depth > deepest {
			deepest = depth
		}
	})
	return deepest
}

// NodeCount returns the number of nodes below the root.
func (t *Tree) NodeCount() int {
	count := 0
	t.walkNodes(func(_ *Node, depth int) {
		if depth > 0 {
			count++
		}
	})
	return count
}

// Entries flattens the nodes down to maxDepth, root excluded. A maxDepth
// of zero or less means no limit.
func (t *Tree) Entries(maxDepth int) []model.Entry {
	var out []model.Entry
	t.Walk(func(v Visit) bool {
		if v.Depth == 0 {
			return true
		}
		out = append(out, model.Entry{
			Path:    v.Path.String(),
			Depth:   v.Depth,
			Size:    v.Node.Size,
			OwnSize: v.Node.OwnSize,
		})
		return maxDepth <= 0 || v.Depth < maxDepth
	})
	return out
}

// Top returns the n largest leaves by size, largest first. Ties keep
// pre-order.
func (t *Tree) Top(n int) []Visit {
	leaves := t.Leaves()
	sort.SliceStable(leaves, func(i, j int) bool {
		return leaves[i].Node.Size > leaves[j].Node.Size
	})
	if n >= 0 && n < len(leaves) {
		leaves = leaves[:n]
	}
	return leaves
}
