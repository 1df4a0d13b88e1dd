package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"smartpin/api/internal/canvas"
	"smartpin/api/internal/geometry"
)

// CanvasDefaults is the optional YAML file that tunes every new canvas and
// lists the layers seeded into a roof that has none.
type CanvasDefaults struct {
	Zoom            geometry.ZoomLimits `yaml:"zoom"`
	HistoryDepth    int                 `yaml:"historyDepth"`
	MaxLayers       int                 `yaml:"maxLayers"`
	SnapToGrid      bool                `yaml:"snapToGrid"`
	GridSize        float64             `yaml:"gridSize"`
	DuplicateOffset float64             `yaml:"duplicateOffset"`
	SeedLayers      []SeedLayer         `yaml:"seedLayers"`
}

type SeedLayer struct {
	Name        string           `yaml:"name"`
	Kind        canvas.LayerKind `yaml:"kind"`
	Color       string           `yaml:"color"`
	Icon        string           `yaml:"icon"`
	Description string           `yaml:"description"`
}

func BuiltinCanvasDefaults() CanvasDefaults {
	settings := canvas.DefaultSettings()
	return CanvasDefaults{
		Zoom:            settings.ZoomLimits,
		HistoryDepth:    settings.HistoryDepth,
		MaxLayers:       settings.MaxLayers,
		GridSize:        settings.GridSize,
		DuplicateOffset: settings.DuplicateOffset,
		SeedLayers: []SeedLayer{
			{Name: "Issues", Kind: canvas.KindIssue},
			{Name: "RFIs", Kind: canvas.KindRFI},
			{Name: "Details", Kind: canvas.KindDetail},
			{Name: "Notes", Kind: canvas.KindNote},
		},
	}
}

// LoadCanvasDefaults reads path. A missing file yields the built-in
// defaults; fields absent from the file keep their built-in values.
func LoadCanvasDefaults(path string) (CanvasDefaults, error) {
	defaults := BuiltinCanvasDefaults()
	if path == "" {
		return defaults, nil
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return defaults, nil
	}
	if err != nil {
		return CanvasDefaults{}, fmt.Errorf("read canvas defaults: %w", err)
	}
	if err := yaml.Unmarshal(raw, &defaults); err != nil {
		return CanvasDefaults{}, fmt.Errorf("parse canvas defaults %s: %w", path, err)
	}
	for i, layer := range defaults.SeedLayers {
		if !layer.Kind.Valid() {
			return CanvasDefaults{}, fmt.Errorf("canvas defaults %s: seed layer %d has unknown kind %q", path, i, layer.Kind)
		}
	}
	return defaults, nil
}

// Settings converts the file into canvas settings. Out-of-range values fall
// back to the canvas defaults.
func (d CanvasDefaults) Settings() canvas.Settings {
	return canvas.Settings{
		ZoomLimits:      d.Zoom,
		MaxLayers:       d.MaxLayers,
		HistoryDepth:    d.HistoryDepth,
		SnapToGrid:      d.SnapToGrid,
		GridSize:        d.GridSize,
		DuplicateOffset: d.DuplicateOffset,
	}
}

func (d CanvasDefaults) SeedInputs() []canvas.LayerInput {
	out := make([]canvas.LayerInput, 0, len(d.SeedLayers))
	for _, layer := range d.SeedLayers {
		out = append(out, canvas.LayerInput{
			Name:        layer.Name,
			Kind:        layer.Kind,
			Color:       layer.Color,
			Icon:        layer.Icon,
			Description: layer.Description,
		})
	}
	return out
}
