// Package symtree folds resolved symbol paths into a size tree.
package symtree

// RootName is the name of a tree's root node.
const RootName = "root"

// Node is one namespace, type or symbol in the size tree. Size is the
// cumulative size: OwnSize plus the Size of every child.
type Node struct {
	Name     string  `json:"name"`
	OwnSize  uint64  `json:"own_size"`
	Size     uint64  `json:"size"`
	Children []*Node `json:"children,omitempty"`

	// Internal use only, not serialized
	childIndex map[string]int
}

// NewNode creates a node with no children.
func NewNode(name string, ownSize uint64) *Node {
	return &Node{Name: name, OwnSize: ownSize}
}

// AddChild appends child unless a child of the same name exists, and
// returns the index of the child with that name.
func (n *Node) AddChild(child *Node) int {
	if idx, ok := n.childIndex[child.Name]; ok {
		return idx
	}
	if n.childIndex == nil {
		n.childIndex = make(map[string]int)
	}
	idx := len(n.Children)
	n.childIndex[child.Name] = idx
	n.Children = append(n.Children, child)
	return idx
}

// GetChild returns the child with the given name, or nil.
func (n *Node) GetChild(name string) *Node {
	if idx, ok := n.childIndex[name]; ok {
		return n.Children[idx]
	}
	return nil
}

// child returns the named child, creating it when missing.
func (n *Node) child(name string) *Node {
	if c := n.GetChild(name); c != nil {
		return c
	}
	c := NewNode(name, 0)
	n.AddChild(c)
	return c
}

// IsLeaf reports whether n has no children.
func (n *Node) IsLeaf() bool {
	return len(n.Children) == 0
}

// addSat adds b to a, saturating at the maximum uint64.
func addSat(a, b uint64) uint64 {
	if s := a + b; s >= a {
		return s
	}
	return ^uint64(0)
}
