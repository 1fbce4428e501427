// Package treemap positions a size tree inside a rectangle with the
// squarified treemap algorithm.
package treemap

import "math"

// Rect is an axis-aligned rectangle with its origin at the top-left.
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"width"`
	H float64 `json:"height"`
}

// Area returns W*H.
func (r Rect) Area() float64 {
	return r.W * r.H
}

// Intersection returns the area r shares with o.
func (r Rect) Intersection(o Rect) float64 {
	w := math.Min(r.X+r.W, o.X+o.W) - math.Max(r.X, o.X)
	h := math.Min(r.Y+r.H, o.Y+o.H) - math.Max(r.Y, o.Y)
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Contains reports whether o lies inside r, allowing eps of slack on each
// edge.
func (r Rect) Contains(o Rect, eps float64) bool {
	return o.X >= r.X-eps && o.Y >= r.Y-eps &&
		o.X+o.W <= r.X+r.W+eps && o.Y+o.H <= r.Y+r.H+eps
}

// clamp zeroes non-finite coordinates and non-finite or negative extents.
func clamp(r Rect) Rect {
	return Rect{X: finite(r.X), Y: finite(r.Y), W: nonNegative(r.W), H: nonNegative(r.H)}
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func nonNegative(v float64) float64 {
	v = finite(v)
	if v < 0 {
		return 0
	}
	return v
}
