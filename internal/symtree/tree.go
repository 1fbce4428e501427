package symtree

import (
	"github.com/sizemap/pkg/model"
)

// Tree is the folded size tree of one artifact.
type Tree struct {
	Root *Node `json:"root"`
	// Records is the number of path records folded in.
	Records int `json:"records"`
}

// BuildOption configures Build.
type BuildOption func(*buildOptions)

type buildOptions struct {
	pruneZero bool
	minSize   uint64
}

// WithPruneZero removes subtrees whose cumulative size is zero.
func WithPruneZero(on bool) BuildOption {
	return func(o *buildOptions) { o.pruneZero = on }
}

// WithMinSize removes subtrees smaller than n bytes. Their size moves
// into the parent's own size.
func WithMinSize(n uint64) BuildOption {
	return func(o *buildOptions) { o.minSize = n }
}

// Build folds records into a tree. Duplicate paths add up at the same
// node and children keep first-seen order.
func Build(records []model.PathRecord, opts ...BuildOption) *Tree {
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}

	t := &Tree{Root: NewNode(RootName, 0), Records: len(records)}
	for _, rec := range records {
		node := t.Root
		for _, seg := range rec.Path {
			node = node.child(seg)
		}
		node.OwnSize = addSat(node.OwnSize, rec.Size)
	}

	t.accumulate()
	if o.pruneZero || o.minSize > 0 {
		t.prune(o)
	}
	return t
}

// accumulate computes every cumulative size in one post-order pass.
func (t *Tree) accumulate() {
	type frame struct {
		node *Node
		next int
	}
	stack := []frame{{node: t.Root}}
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.next < len(top.node.Children) {
			child := top.node.Children[top.next]
			top.next++
			stack = append(stack, frame{node: child})
			continue
		}
		n := top.node
		n.Size = n.OwnSize
		for _, c := range n.Children {
			n.Size = addSat(n.Size, c.Size)
		}
		stack = stack[:len(stack)-1]
	}
}

// prune drops small children top-down. A dropped child's size is added to
// its parent's own size, so Size stays the same at every kept node.
func (t *Tree) prune(o buildOptions) {
	stack := []*Node{t.Root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n.IsLeaf() {
			continue
		}

		kept := n.Children[:0]
		for _, c := range n.Children {
			if (o.pruneZero && c.Size == 0) || c.Size < o.minSize {
				n.OwnSize = addSat(n.OwnSize, c.Size)
				continue
			}
			kept = append(kept, c)
		}
		for i := len(kept); i < len(n.Children); i++ {
			n.Children[i] = nil
		}
		n.Children = kept
		n.childIndex = make(map[string]int, len(kept))
		for i, c := range kept {
			n.childIndex[c.Name] = i
		}
		stack = append(stack, kept...)
	}
}

// TotalSize returns the root's cumulative size.
func (t *Tree) TotalSize() uint64 {
	if t == nil || t.Root == nil {
		return 0
	}
	return t.Root.Size
}
