package canvas

import (
	"fmt"
	"math"
	"testing"
	"time"

	"smartpin/api/internal/geometry"
)

func newTestCanvas(t *testing.T, opts ...Option) *Canvas {
	t.Helper()
	seq := 0
	clock := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	base := []Option{
		WithIDGenerator(func(prefix string) string {
			seq++
			return fmt.Sprintf("%s-%d", prefix, seq)
		}),
		WithClock(func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		}),
	}
	return New(append(base, opts...)...)
}

func mustLayer(t *testing.T, c *Canvas, name string, kind LayerKind) Layer {
	t.Helper()
	layer, err := c.CreateLayer(LayerInput{Name: name, Kind: kind})
	if err != nil {
		t.Fatalf("CreateLayer(%q) error = %v", name, err)
	}
	return layer
}

func mustPin(t *testing.T, c *Canvas, layerID string, x, y float64) Pin {
	t.Helper()
	pin, err := c.CreatePin(PinInput{LayerID: layerID, Position: geometry.Point{X: x, Y: y}})
	if err != nil {
		t.Fatalf("CreatePin(%s, %v, %v) error = %v", layerID, x, y, err)
	}
	return pin
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func ids(pins []Pin) []string {
	out := make([]string, len(pins))
	for i, p := range pins {
		out[i] = p.ID
	}
	return out
}

type denyAll struct {
	ops []string
}

func (d *denyAll) HasPermission(req PermissionRequest) PermissionResult {
	d.ops = append(d.ops, req.Operation)
	return PermissionResult{Allowed: false, Reason: "read only"}
}
