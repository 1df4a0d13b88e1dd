package geometry

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

const (
	DefaultZoomMin = 0.1
	DefaultZoomMax = 10.0
	// ZoomStep is the multiplicative factor applied by ZoomIn and ZoomOut.
	ZoomStep = 1.2
	// MinContentExtent replaces a zero-width or zero-height content box.
	MinContentExtent = 0.01
)

type ZoomLimits struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

func DefaultZoomLimits() ZoomLimits {
	return ZoomLimits{Min: DefaultZoomMin, Max: DefaultZoomMax}
}

// Valid reports whether the limits describe a usable positive range.
func (l ZoomLimits) Valid() bool {
	return l.Min > 0 && l.Max >= l.Min && !math.IsInf(l.Max, 0)
}

// Viewport maps normalized coordinates to screen pixels:
// screen = normalized * size * Zoom + Pan.
type Viewport struct {
	Zoom   float64 `json:"zoom"`
	Pan    Point   `json:"pan"`
	Bounds Rect    `json:"bounds"`
	Center Point   `json:"center"`
}

func DefaultViewport() Viewport {
	return Viewport{
		Zoom:   1,
		Bounds: UnitRect(),
		Center: Point{X: 0.5, Y: 0.5},
	}
}

// ClampZoom limits zoom to [limits.Min, limits.Max]. NaN maps to the minimum.
func ClampZoom(zoom float64, limits ZoomLimits) float64 {
	if math.IsNaN(zoom) {
		return limits.Min
	}
	if zoom < limits.Min {
		return limits.Min
	}
	if zoom > limits.Max {
		return limits.Max
	}
	return zoom
}

func ZoomIn(v Viewport, limits ZoomLimits) Viewport {
	v.Zoom = ClampZoom(v.Zoom*ZoomStep, limits)
	return v
}

func ZoomOut(v Viewport, limits ZoomLimits) Viewport {
	v.Zoom = ClampZoom(v.Zoom/ZoomStep, limits)
	return v
}

// ToScreen converts a normalized point to pixel coordinates.
func ToScreen(p Point, v Viewport, size Size) Point {
	return Point{
		X: p.X*size.Width*v.Zoom + v.Pan.X,
		Y: p.Y*size.Height*v.Zoom + v.Pan.Y,
	}
}

// FromScreen is the inverse of ToScreen. A degenerate viewport yields the
// viewport center.
func FromScreen(p Point, v Viewport, size Size) Point {
	sx := size.Width * v.Zoom
	sy := size.Height * v.Zoom
	if sx == 0 || sy == 0 {
		return v.Center
	}
	return Point{
		X: (p.X - v.Pan.X) / sx,
		Y: (p.Y - v.Pan.Y) / sy,
	}
}

// BoundsOf returns the minimal rectangle covering points. ok is false for an
// empty input.
func BoundsOf(points []Point) (r Rect, ok bool) {
	if len(points) == 0 {
		return Rect{}, false
	}
	xs := make([]float64, len(points))
	ys := make([]float64, len(points))
	for i, p := range points {
		xs[i] = p.X
		ys[i] = p.Y
	}
	return Rect{
		MinX: floats.Min(xs),
		MaxX: floats.Max(xs),
		MinY: floats.Min(ys),
		MaxY: floats.Max(ys),
	}, true
}

// FitToContent computes the viewport that shows every point with padding
// (a fraction of the content extent added on each side). With no points the
// current viewport is returned unchanged.
func FitToContent(points []Point, current Viewport, size Size, padding float64, limits ZoomLimits) Viewport {
	box, ok := BoundsOf(points)
	if !ok {
		return current
	}
	if padding < 0 || math.IsNaN(padding) {
		padding = 0
	}

	center := box.Center()
	if box.Width() < MinContentExtent {
		box.MinX = center.X - MinContentExtent/2
		box.MaxX = center.X + MinContentExtent/2
	}
	if box.Height() < MinContentExtent {
		box.MinY = center.Y - MinContentExtent/2
		box.MaxY = center.Y + MinContentExtent/2
	}
	box = box.Expand(padding)

	zoom := current.Zoom
	if size.Width > 0 && size.Height > 0 {
		zoomX := size.Width / (box.Width() * size.Width)
		zoomY := size.Height / (box.Height() * size.Height)
		zoom = math.Min(math.Min(zoomX, zoomY), limits.Max)
	}
	zoom = ClampZoom(zoom, limits)

	return Viewport{
		Zoom: zoom,
		Pan: Point{
			X: size.Width/2 - center.X*size.Width*zoom,
			Y: size.Height/2 - center.Y*size.Height*zoom,
		},
		Bounds: box,
		Center: center,
	}
}

// SnapToGrid rounds each axis to the nearest multiple of grid. A
// non-positive grid leaves the point unchanged.
func SnapToGrid(p Point, grid float64) Point {
	if grid <= 0 || math.IsNaN(grid) {
		return p
	}
	return Point{
		X: math.Round(p.X/grid) * grid,
		Y: math.Round(p.Y/grid) * grid,
	}
}
