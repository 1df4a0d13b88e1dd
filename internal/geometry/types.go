// Package geometry holds the normalized-coordinate math shared by the canvas:
// points, rectangles, viewport transforms and fit-to-content.
package geometry

import "math"

// Point is a position on the normalized [0,1] plane, or a pixel position
// when used on the screen side of a transform.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p Point) Add(other Point) Point {
	return Point{X: p.X + other.X, Y: p.Y + other.Y}
}

func (p Point) Sub(other Point) Point {
	return Point{X: p.X - other.X, Y: p.Y - other.Y}
}

func (p Point) Scale(factor float64) Point {
	return Point{X: p.X * factor, Y: p.Y * factor}
}

// Distance returns the Euclidean distance to another point.
func (p Point) Distance(other Point) float64 {
	return math.Hypot(p.X-other.X, p.Y-other.Y)
}

// InUnitSquare reports whether both coordinates lie in [0,1].
func (p Point) InUnitSquare() bool {
	return p.X >= 0 && p.X <= 1 && p.Y >= 0 && p.Y <= 1
}

// Size is a viewport size in pixels.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Rect is an axis-aligned rectangle stored as min/max extents.
type Rect struct {
	MinX float64 `json:"minX"`
	MaxX float64 `json:"maxX"`
	MinY float64 `json:"minY"`
	MaxY float64 `json:"maxY"`
}

// RectFromCorners builds a rectangle from two opposite corners given in any order.
func RectFromCorners(a, b Point) Rect {
	return Rect{
		MinX: math.Min(a.X, b.X),
		MaxX: math.Max(a.X, b.X),
		MinY: math.Min(a.Y, b.Y),
		MaxY: math.Max(a.Y, b.Y),
	}
}

// Normalize swaps inverted extents.
func (r Rect) Normalize() Rect {
	return RectFromCorners(Point{X: r.MinX, Y: r.MinY}, Point{X: r.MaxX, Y: r.MaxY})
}

// Contains is a closed test: points on the edge are inside.
func (r Rect) Contains(p Point) bool {
	return p.X >= r.MinX && p.X <= r.MaxX && p.Y >= r.MinY && p.Y <= r.MaxY
}

func (r Rect) Width() float64 {
	return r.MaxX - r.MinX
}

func (r Rect) Height() float64 {
	return r.MaxY - r.MinY
}

func (r Rect) Center() Point {
	return Point{X: (r.MinX + r.MaxX) / 2, Y: (r.MinY + r.MaxY) / 2}
}

// Expand grows each side by fraction of the rectangle's extent on that axis.
func (r Rect) Expand(fraction float64) Rect {
	dx := r.Width() * fraction
	dy := r.Height() * fraction
	return Rect{MinX: r.MinX - dx, MaxX: r.MaxX + dx, MinY: r.MinY - dy, MaxY: r.MaxY + dy}
}

// UnitRect covers the whole normalized plane.
func UnitRect() Rect {
	return Rect{MinX: 0, MaxX: 1, MinY: 0, MaxY: 1}
}
