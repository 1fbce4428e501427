package treemap

import (
	"math"
	"sort"

	"github.com/sizemap/internal/symtree"
)

// Cell is a tree node with its position. A node's own size has no cell of
// its own; it is the part of the node's rectangle its children leave free.
type Cell struct {
	Name    string `json:"name"`
	Size    uint64 `json:"size"`
	OwnSize uint64 `json:"own_size"`
	Rect
	Children []*Cell `json:"children,omitempty"`
}

// Walk visits c and its descendants in pre-order. Returning false from fn
// skips the cell's children.
func (c *Cell) Walk(fn func(cell *Cell, depth int) bool) {
	type frame struct {
		cell  *Cell
		depth int
	}
	stack := []frame{{cell: c}}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !fn(f.cell, f.depth) {
			continue
		}
		for i := len(f.cell.Children) - 1; i >= 0; i-- {
			stack = append(stack, frame{cell: f.cell.Children[i], depth: f.depth + 1})
		}
	}
}

// Layout assigns a rectangle to every node of tree. The root gets bounds;
// each node's children and its own size then share the node's rectangle
// in proportion to their sizes. Nodes of size zero, and everything below
// them, get an empty rectangle at their parent's origin.
func Layout(tree *symtree.Tree, bounds Rect) *Cell {
	bounds = clamp(bounds)
	if tree == nil || tree.Root == nil {
		return &Cell{Name: symtree.RootName, Rect: bounds}
	}

	root := newCell(tree.Root, bounds)
	type work struct {
		node *symtree.Node
		cell *Cell
	}
	queue := []work{{node: tree.Root, cell: root}}
	for len(queue) > 0 {
		w := queue[len(queue)-1]
		queue = queue[:len(queue)-1]
		if w.node.IsLeaf() {
			continue
		}

		rects := squarify(w.node, w.cell.Rect)
		w.cell.Children = make([]*Cell, len(w.node.Children))
		for i, child := range w.node.Children {
			cell := newCell(child, rects[i])
			w.cell.Children[i] = cell
			queue = append(queue, work{node: child, cell: cell})
		}
	}
	return root
}

func newCell(n *symtree.Node, r Rect) *Cell {
	return &Cell{Name: n.Name, Size: n.Size, OwnSize: n.OwnSize, Rect: r}
}

// maxArea bounds the area squarify works in, so that squared areas in worst
// stay finite. Larger rectangles are laid out in a scaled-down copy.
const maxArea = 1e100

// ownItem marks the item standing for the parent's own size.
const ownItem = -1

type item struct {
	child int
	area  float64
}

// squarify splits r between n's children and n's own size and returns
// one rectangle per child, in child order.
func squarify(n *symtree.Node, r Rect) []Rect {
	rects := make([]Rect, len(n.Children))
	for i := range rects {
		rects[i] = Rect{X: r.X, Y: r.Y}
	}
	if n.Size == 0 || r.W <= 0 || r.H <= 0 {
		return rects
	}
	area := r.Area()
	if area > maxArea || math.IsInf(area, 0) {
		k := math.Max(r.W, r.H)
		for i, s := range squarify(n, Rect{W: r.W / k, H: r.H / k}) {
			rects[i] = Rect{X: r.X + s.X*k, Y: r.Y + s.Y*k, W: s.W * k, H: s.H * k}
		}
		return rects
	}
	if area <= 0 {
		return rects
	}

	scale := area / float64(n.Size)
	items := make([]item, 0, len(n.Children)+1)
	for i, c := range n.Children {
		if c.Size > 0 {
			items = append(items, item{child: i, area: float64(c.Size) * scale})
		}
	}
	if n.OwnSize > 0 {
		items = append(items, item{child: ownItem, area: float64(n.OwnSize) * scale})
	}
	// Stable, so equal sizes keep child order and the own item comes last.
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].area > items[j].area
	})

	rem := r
	for start := 0; start < len(items); {
		side := math.Min(rem.W, rem.H)
		end, sum := growRun(items, start, side)
		rem = placeStrip(items[start:end], sum, rem, end == len(items), rects)
		start = end
	}
	return rects
}

// growRun extends the run starting at items[start] while adding the next
// item does not make its worst aspect ratio any worse. It returns the end
// of the run and the run's total area.
func growRun(items []item, start int, side float64) (int, float64) {
	sum := items[start].area
	hi, lo := sum, sum
	cur := worst(sum, hi, lo, side)

	end := start + 1
	for ; end < len(items); end++ {
		a := items[end].area
		nextSum := sum + a
		nextHi, nextLo := math.Max(hi, a), math.Min(lo, a)
		next := worst(nextSum, nextHi, nextLo, side)
		if next > cur {
			break
		}
		sum, hi, lo, cur = nextSum, nextHi, nextLo, next
	}
	return end, sum
}

// worst is the largest aspect ratio in a run of total area s laid along a
// side of length w, whose items range in area from lo to hi.
func worst(s, hi, lo, w float64) float64 {
	if s <= 0 || w <= 0 || lo <= 0 {
		return math.Inf(1)
	}
	w2, s2 := w*w, s*s
	return math.Max(w2*hi/s2, s2/(w2*lo))
}

// placeStrip lays run along the shorter side of rem as one strip and
// returns what is left of rem. The last strip takes all of rem and the last
// item of each strip takes what is left of the strip.
func placeStrip(run []item, sum float64, rem Rect, last bool, rects []Rect) Rect {
	vertical := rem.W >= rem.H

	span, depth := rem.W, rem.H
	if vertical {
		span, depth = rem.H, rem.W
	}
	thick := depth
	if !last && span > 0 {
		thick = math.Min(sum/span, depth)
	}
	thick = nonNegative(thick)

	pos := 0.0
	for k, it := range run {
		length := 0.0
		if sum > 0 {
			length = span * it.area / sum
		}
		if k == len(run)-1 {
			length = span - pos
		}
		length = math.Max(0, math.Min(length, span-pos))

		if it.child != ownItem {
			if vertical {
				rects[it.child] = Rect{X: rem.X, Y: rem.Y + pos, W: thick, H: length}
			} else {
				rects[it.child] = Rect{X: rem.X + pos, Y: rem.Y, W: length, H: thick}
			}
		}
		pos += length
	}

	if vertical {
		return Rect{X: rem.X + thick, Y: rem.Y, W: nonNegative(rem.W - thick), H: rem.H}
	}
	return Rect{X: rem.X, Y: rem.Y + thick, W: rem.W, H: nonNegative(rem.H - thick)}
}
