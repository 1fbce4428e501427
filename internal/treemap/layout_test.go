package treemap

import (
	"encoding/json"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sizemap/internal/symtree"
	"github.com/sizemap/pkg/model"
)

const eps = 1e-6

func build(records ...model.PathRecord) *symtree.Tree {
	return symtree.Build(records)
}

func rec(size uint64, path ...string) model.PathRecord {
	return model.PathRecord{Path: path, Size: size}
}

func find(c *Cell, names ...string) *Cell {
	for _, name := range names {
		var next *Cell
		for _, child := range c.Children {
			if child.Name == name {
				next = child
				break
			}
		}
		if next == nil {
			return nil
		}
		c = next
	}
	return c
}

// assertTiling checks that children lie inside their parent, do not
// overlap, and cover the parent's area minus its own-size share.
func assertTiling(t *testing.T, root *Cell) {
	t.Helper()
	root.Walk(func(c *Cell, _ int) bool {
		if len(c.Children) == 0 {
			return true
		}
		var covered float64
		for i, a := range c.Children {
			assert.True(t, c.Rect.Contains(a.Rect, eps), "%s escapes %s: %+v in %+v", a.Name, c.Name, a.Rect, c.Rect)
			assert.GreaterOrEqual(t, a.W, 0.0)
			assert.GreaterOrEqual(t, a.H, 0.0)
			covered += a.Area()
			for _, b := range c.Children[i+1:] {
				assert.InDelta(t, 0, a.Intersection(b.Rect), eps, "%s overlaps %s", a.Name, b.Name)
			}
		}
		if c.Size > 0 {
			want := c.Area() * float64(c.Size-c.OwnSize) / float64(c.Size)
			assert.InDelta(t, want, covered, 1e-6*math.Max(1, c.Area()), "children of %s", c.Name)
		}
		return true
	})
}

func TestLayout_Scenario(t *testing.T) {
	tree := build(rec(100, "crate", "mod", "f"), rec(300, "crate", "mod", "g"))
	root := Layout(tree, Rect{W: 400, H: 100})

	assert.Equal(t, Rect{W: 400, H: 100}, root.Rect)
	assert.Equal(t, uint64(400), root.Size)

	mod := find(root, "crate", "mod")
	require.NotNil(t, mod)
	assert.Equal(t, uint64(400), mod.Size)
	assert.InDelta(t, 40000, mod.Area(), eps)

	f, g := find(mod, "f"), find(mod, "g")
	require.NotNil(t, f)
	require.NotNil(t, g)
	assert.InDelta(t, 0, g.X, eps)
	assert.InDelta(t, 300, g.W, eps)
	assert.InDelta(t, 100, g.H, eps)
	assert.InDelta(t, 300, f.X, eps)
	assert.InDelta(t, 100, f.W, eps)
	assert.InDelta(t, 100, f.H, eps)
	assert.InDelta(t, 3, g.Area()/f.Area(), eps)
	assert.InDelta(t, 40000, f.Area()+g.Area(), eps)
	assertTiling(t, root)
}

func TestLayout_OwnSizeLeavesRoom(t *testing.T) {
	tree := build(rec(50, "a"), rec(50, "a", "b"))
	root := Layout(tree, Rect{W: 100, H: 100})

	a := find(root, "a")
	b := find(root, "a", "b")
	require.NotNil(t, b)
	assert.InDelta(t, a.Area()/2, b.Area(), eps)
	assertTiling(t, root)
}

func TestLayout_ZeroSize(t *testing.T) {
	t.Run("ZeroLeaf", func(t *testing.T) {
		tree := build(rec(0, "ns", "empty"), rec(10, "ns", "full"))
		root := Layout(tree, Rect{X: 5, Y: 7, W: 10, H: 10})

		ns := find(root, "ns")
		empty := find(root, "ns", "empty")
		require.NotNil(t, empty)
		assert.Equal(t, Rect{X: ns.X, Y: ns.Y}, empty.Rect)
		assert.InDelta(t, 100, find(root, "ns", "full").Area(), eps)
	})

	t.Run("ZeroSubtree", func(t *testing.T) {
		tree := build(rec(0, "z", "a", "b"), rec(4, "w"))
		root := Layout(tree, Rect{W: 2, H: 2})

		z := find(root, "z")
		require.NotNil(t, z)
		z.Walk(func(c *Cell, _ int) bool {
			assert.Equal(t, Rect{X: z.X, Y: z.Y}, c.Rect, c.Name)
			return true
		})
	})

	t.Run("EmptyTree", func(t *testing.T) {
		root := Layout(build(), Rect{W: 10, H: 10})
		assert.Equal(t, Rect{W: 10, H: 10}, root.Rect)
		assert.Empty(t, root.Children)
	})
}

func TestLayout_DegenerateBounds(t *testing.T) {
	tree := build(rec(3, "a", "x"), rec(5, "b"))

	tests := []struct {
		name   string
		bounds Rect
		want   Rect
	}{
		{"ZeroWidth", Rect{W: 0, H: 10}, Rect{W: 0, H: 10}},
		{"Negative", Rect{W: -5, H: 10}, Rect{W: 0, H: 10}},
		{"NaN", Rect{X: math.NaN(), W: math.NaN(), H: 1}, Rect{H: 1}},
		{"Inf", Rect{W: math.Inf(1), H: math.Inf(-1)}, Rect{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := Layout(tree, tt.bounds)
			assert.Equal(t, tt.want, root.Rect)
			root.Walk(func(c *Cell, depth int) bool {
				if depth > 0 {
					assert.Equal(t, 0.0, c.Area(), c.Name)
					assert.False(t, math.IsNaN(c.X) || math.IsNaN(c.Y) || math.IsNaN(c.W) || math.IsNaN(c.H))
				}
				return true
			})
		})
	}
}

func TestLayout_HugeBounds(t *testing.T) {
	const scale = 1e200
	tree := build(rec(3, "a", "x"), rec(1, "a", "y"), rec(5, "b"), rec(0, "c"))

	small := Layout(tree, Rect{W: 4, H: 1})
	huge := Layout(tree, Rect{W: 4 * scale, H: scale})
	require.Equal(t, Rect{W: 4 * scale, H: scale}, huge.Rect)

	var want []*Cell
	small.Walk(func(c *Cell, _ int) bool {
		want = append(want, c)
		return true
	})
	i := 0
	huge.Walk(func(c *Cell, _ int) bool {
		require.Less(t, i, len(want))
		w := want[i]
		i++
		assert.Equal(t, w.Name, c.Name)
		assert.InDelta(t, w.X*scale, c.X, 1e-9*scale, c.Name)
		assert.InDelta(t, w.Y*scale, c.Y, 1e-9*scale, c.Name)
		assert.InDelta(t, w.W*scale, c.W, 1e-9*scale, c.Name)
		assert.InDelta(t, w.H*scale, c.H, 1e-9*scale, c.Name)
		if c.Size > 0 {
			assert.Positive(t, c.W, c.Name)
			assert.Positive(t, c.H, c.Name)
		}
		return true
	})
	assert.Equal(t, len(want), i)
}

func randomTree(rng *rand.Rand, n int) *symtree.Tree {
	names := []string{"a", "b", "c", "d", "e", "f"}
	records := make([]model.PathRecord, n)
	for i := range records {
		path := make([]string, 1+rng.Intn(4))
		for j := range path {
			path[j] = names[rng.Intn(len(names))]
		}
		size := uint64(rng.Intn(5000))
		if rng.Intn(10) == 0 {
			size = 0
		}
		records[i] = rec(size, path...)
	}
	return symtree.Build(records)
}

func TestLayout_Tiling(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	bounds := []Rect{{W: 1200, H: 800}, {W: 100, H: 1000}, {X: -50, Y: 20, W: 333.3, H: 77.7}}
	for i := 0; i < 30; i++ {
		tree := randomTree(rng, 1+rng.Intn(300))
		assertTiling(t, Layout(tree, bounds[i%len(bounds)]))
	}
}

func TestLayout_Monotonic(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	for i := 0; i < 20; i++ {
		root := Layout(randomTree(rng, 200), Rect{W: 640, H: 480})
		root.Walk(func(c *Cell, _ int) bool {
			for _, a := range c.Children {
				for _, b := range c.Children {
					if a.Size > b.Size {
						assert.GreaterOrEqual(t, a.Area()+eps, b.Area(), "%s vs %s", a.Name, b.Name)
					}
				}
			}
			return true
		})
	}
}

func TestLayout_Deterministic(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	tree := randomTree(rng, 400)

	first, err := json.Marshal(Layout(tree, Rect{W: 1000, H: 600}))
	require.NoError(t, err)
	second, err := json.Marshal(Layout(tree, Rect{W: 1000, H: 600}))
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestLayout_TiesKeepOrder(t *testing.T) {
	tree := build(rec(10, "first"), rec(10, "second"))
	root := Layout(tree, Rect{W: 20, H: 10})

	first, second := find(root, "first"), find(root, "second")
	assert.InDelta(t, 0, first.X, eps)
	assert.InDelta(t, 10, second.X, eps)
}

func TestWorst(t *testing.T) {
	assert.InDelta(t, 3, worst(30000, 30000, 30000, 100), eps)
	assert.InDelta(t, 16, worst(40000, 30000, 10000, 100), eps)
	assert.True(t, math.IsInf(worst(10, 10, 10, 0), 1))
}

func TestRect(t *testing.T) {
	a := Rect{W: 10, H: 10}
	assert.InDelta(t, 25, a.Intersection(Rect{X: 5, Y: 5, W: 10, H: 10}), eps)
	assert.Equal(t, 0.0, a.Intersection(Rect{X: 10, W: 5, H: 5}))
	assert.True(t, a.Contains(Rect{X: 1, Y: 1, W: 9, H: 9}, 0))
	assert.False(t, a.Contains(Rect{X: 1, Y: 1, W: 10, H: 9}, 0))
}
