package canvas

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"slices"
	"sort"
	"time"

	"smartpin/api/internal/geometry"
	"smartpin/api/internal/inspection"
)

// Snapshot is a deep copy of the undoable state: layers in display order and
// pins. Transient render flags are not part of it.
type Snapshot struct {
	Layers []Layer
	Pins   []Pin
}

func (c *Canvas) capture() Snapshot {
	s := Snapshot{
		Layers: make([]Layer, 0, len(c.order)),
		Pins:   make([]Pin, 0, len(c.pins)),
	}
	for _, id := range c.order {
		s.Layers = append(s.Layers, c.layers[id])
	}
	for _, pin := range c.pins {
		pin = pin.Clone()
		pin.Render.Selected = false
		pin.Render.Dragging = false
		s.Pins = append(s.Pins, pin)
	}
	return s
}

// restore applies a snapshot to the live state, pruning the selection and
// the active layer of anything that no longer exists.
func (c *Canvas) restore(s Snapshot) {
	c.layers = make(map[string]Layer, len(s.Layers))
	c.order = make([]string, 0, len(s.Layers))
	for _, layer := range s.Layers {
		c.layers[layer.ID] = layer
		c.order = append(c.order, layer.ID)
	}
	if _, ok := c.layers[c.activeLayer]; !ok {
		c.activeLayer = ""
	}
	for id := range c.layerFilter {
		if _, ok := c.layers[id]; !ok {
			delete(c.layerFilter, id)
		}
	}
	c.touchLayers()

	hadSelection := len(c.selected)
	c.replacePins(s.Pins)

	c.emit(EventLayersReordered, c.LayerOrder())
	c.emitPins(PinsReplaced, c.pinIDs()...)
	if len(c.selected) != hadSelection {
		c.emit(EventSelectionChanged, c.Selection())
	}
}

const exportVersion = 1

type exportDocument struct {
	Version    int               `json:"version"`
	ExportedAt time.Time         `json:"exportedAt"`
	Layers     []Layer           `json:"layers"`
	Pins       []Pin             `json:"pins"`
	Viewport   geometry.Viewport `json:"viewport"`
	Settings   Settings          `json:"settings"`
}

type importDocument struct {
	Version  int                `json:"version"`
	Layers   *[]Layer           `json:"layers"`
	Pins     *[]Pin             `json:"pins"`
	Viewport *geometry.Viewport `json:"viewport"`
	Settings *Settings          `json:"settings"`
}

// ExportState serialises layers, pins, viewport and settings.
func (c *Canvas) ExportState() ([]byte, error) {
	snapshot := c.capture()
	doc := exportDocument{
		Version:    exportVersion,
		ExportedAt: c.now().UTC(),
		Layers:     snapshot.Layers,
		Pins:       snapshot.Pins,
		Viewport:   c.viewport,
		Settings:   c.settings,
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal canvas state: %w", err)
	}
	return payload, nil
}

// ImportState replaces layers, pins, viewport and settings with the
// contents of data. Everything is parsed and validated before any state
// changes; on failure the canvas is untouched and an IMPORT_FAILED error is
// returned. History restarts from the imported state.
func (c *Canvas) ImportState(data []byte) error {
	var doc importDocument
	decoder := json.NewDecoder(bytes.NewReader(data))
	if err := decoder.Decode(&doc); err != nil {
		return opError(CodeImportFailed, fmt.Sprintf("invalid JSON: %v", err))
	}
	if decoder.More() {
		return opError(CodeImportFailed, "unexpected data after JSON document")
	}
	if doc.Version > exportVersion {
		return opError(CodeImportFailed, fmt.Sprintf("unsupported version %d", doc.Version))
	}
	if doc.Layers == nil || doc.Pins == nil {
		return opError(CodeImportFailed, "layers and pins are required")
	}

	settings := c.settings
	if doc.Settings != nil {
		settings = doc.Settings.normalized()
	}

	layers, problems := c.validateImportedLayers(*doc.Layers, settings)
	pins, pinProblems := validateImportedPins(*doc.Pins, layers)
	problems = append(problems, pinProblems...)
	if len(problems) > 0 {
		return opError(CodeImportFailed, problems...)
	}

	viewport := geometry.DefaultViewport()
	if doc.Viewport != nil {
		viewport = *doc.Viewport
	}
	viewport.Zoom = geometry.ClampZoom(viewport.Zoom, settings.ZoomLimits)

	c.settings = settings
	c.viewport = viewport
	c.commit(layers, pins)
	c.emit(EventStateImported, nil)
	c.emit(EventHistoryChanged, c.HistoryStatus())
	return nil
}

// LoadState replaces layers and pins with stored records, keeping viewport
// and settings. Validation matches ImportState; history restarts.
func (c *Canvas) LoadState(layers []Layer, pins []Pin) error {
	layers, problems := c.validateImportedLayers(layers, c.settings)
	pins, pinProblems := validateImportedPins(pins, layers)
	problems = append(problems, pinProblems...)
	if len(problems) > 0 {
		return opError(CodeImportFailed, problems...)
	}
	c.commit(layers, pins)
	c.emit(EventStateImported, nil)
	c.emit(EventHistoryChanged, c.HistoryStatus())
	return nil
}

// LoadStored is LoadState for records that may have been written by older
// or buggy clients: a layer or pin that fails validation is left out
// instead of failing the whole load. It returns why each record was
// skipped.
func (c *Canvas) LoadStored(layers []Layer, pins []Pin) []string {
	sorted := append([]Layer(nil), layers...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

	var skipped []string
	var kept []Layer
	for _, layer := range sorted {
		candidate := append(append([]Layer(nil), kept...), layer)
		if _, problems := c.validateImportedLayers(candidate, c.settings); len(problems) > 0 {
			skipped = append(skipped, problems...)
			continue
		}
		kept = candidate
	}
	kept, _ = c.validateImportedLayers(kept, c.settings)

	seen := make(map[string]struct{}, len(pins))
	loaded := make([]Pin, 0, len(pins))
	for _, pin := range pins {
		if _, dup := seen[pin.ID]; dup && pin.ID != "" {
			skipped = append(skipped, fmt.Sprintf("duplicate pin id %s", pin.ID))
			continue
		}
		valid, problems := validateImportedPins([]Pin{pin}, kept)
		if len(problems) > 0 {
			skipped = append(skipped, problems...)
			continue
		}
		seen[pin.ID] = struct{}{}
		loaded = append(loaded, valid...)
	}

	c.commit(kept, loaded)
	c.emit(EventStateImported, nil)
	c.emit(EventHistoryChanged, c.HistoryStatus())
	return skipped
}

// Checkpoint is a saved copy of a canvas that Rollback returns to. A
// checkpoint is meant to be rolled back to at most once.
type Checkpoint struct {
	saved Canvas
}

// Checkpoint copies the current state, undo history included.
func (c *Canvas) Checkpoint() Checkpoint {
	saved := *c
	saved.layers = maps.Clone(c.layers)
	saved.order = slices.Clone(c.order)
	saved.layerFilter = maps.Clone(c.layerFilter)
	saved.pins = make([]Pin, len(c.pins))
	for i, pin := range c.pins {
		saved.pins[i] = pin.Clone()
	}
	saved.memory = maps.Clone(c.memory)
	saved.selected = maps.Clone(c.selected)
	if c.selectionArea != nil {
		area := *c.selectionArea
		saved.selectionArea = &area
	}
	if c.drag != nil {
		drag := *c.drag
		saved.drag = &drag
	}
	saved.history = c.history.Clone()
	saved.visibleCache = nil
	saved.cacheValid = false
	saved.listeners = nil
	return Checkpoint{saved: saved}
}

// Rollback puts the canvas back to cp. Listeners and the permission checker
// stay as they are and no events are emitted.
func (c *Canvas) Rollback(cp Checkpoint) {
	listeners, perms := c.listeners, c.perms
	pinsVersion, layersVersion := c.pinsVersion, c.layersVersion
	*c = cp.saved
	c.listeners = listeners
	c.perms = perms
	c.pinsVersion, c.layersVersion = pinsVersion, layersVersion
	c.touchPins()
	c.touchLayers()
}

// commit installs validated layers and pins and resets every piece of
// transient state that could refer to the old ones.
func (c *Canvas) commit(layers []Layer, pins []Pin) {
	c.cancelDrag()
	c.layers = make(map[string]Layer, len(layers))
	c.order = make([]string, 0, len(layers))
	for _, layer := range layers {
		c.layers[layer.ID] = layer
		c.order = append(c.order, layer.ID)
	}
	c.activeLayer = ""
	c.layerFilter = make(map[string]struct{})
	c.selected = make(map[string]struct{})
	c.selectionArea = nil
	c.lastSelected = ""
	c.selectionMode = SelectSingle
	c.memory = make(map[string]struct{})
	c.creating = false
	c.creationKind = ""
	c.mode = ModeSelect
	c.touchLayers()
	c.replacePins(pins)
	c.history = newHistoryFor(c)
}

func (c *Canvas) validateImportedLayers(in []Layer, settings Settings) ([]Layer, []string) {
	var problems []string
	if len(in) > settings.MaxLayers {
		problems = append(problems, fmt.Sprintf("%d layers exceeds the maximum of %d", len(in), settings.MaxLayers))
	}

	layers := append([]Layer(nil), in...)
	sort.SliceStable(layers, func(i, j int) bool { return layers[i].Order < layers[j].Order })

	// Validate against a scratch registry so name uniqueness is checked
	// among the imported layers only.
	scratch := &Canvas{layers: make(map[string]Layer, len(layers))}
	for i := range layers {
		layer := &layers[i]
		layer.Order = i
		if layer.ID == "" {
			problems = append(problems, fmt.Sprintf("layer %d has no id", i))
			continue
		}
		if _, dup := scratch.layers[layer.ID]; dup {
			problems = append(problems, fmt.Sprintf("duplicate layer id %s", layer.ID))
			continue
		}
		for _, p := range scratch.validateLayer(*layer, "") {
			problems = append(problems, fmt.Sprintf("layer %s: %s", layer.ID, p))
		}
		scratch.layers[layer.ID] = *layer
		scratch.order = append(scratch.order, layer.ID)
	}
	return layers, problems
}

func validateImportedPins(in []Pin, layers []Layer) ([]Pin, []string) {
	kinds := make(map[string]LayerKind, len(layers))
	for _, layer := range layers {
		kinds[layer.ID] = layer.Kind
	}

	var problems []string
	seen := make(map[string]struct{}, len(in))
	pins := make([]Pin, 0, len(in))
	for i, pin := range in {
		if pin.ID == "" {
			problems = append(problems, fmt.Sprintf("pin %d has no id", i))
			continue
		}
		if _, dup := seen[pin.ID]; dup {
			problems = append(problems, fmt.Sprintf("duplicate pin id %s", pin.ID))
			continue
		}
		seen[pin.ID] = struct{}{}
		kind, ok := kinds[pin.LayerID]
		if !ok {
			problems = append(problems, fmt.Sprintf("pin %s references unknown layer %s", pin.ID, pin.LayerID))
			continue
		}
		if pin.Kind == "" {
			pin.Kind = kind
		} else if !pin.Kind.Valid() {
			problems = append(problems, fmt.Sprintf("pin %s has unknown kind %q", pin.ID, pin.Kind))
		}
		if !finite(pin.Position.X) || !finite(pin.Position.Y) {
			problems = append(problems, fmt.Sprintf("pin %s has a non-finite position", pin.ID))
		}
		if pin.Status == "" {
			pin.Status = inspection.StatusOpen
		} else if !pin.Status.Valid() {
			problems = append(problems, fmt.Sprintf("pin %s has unknown status %q", pin.ID, pin.Status))
		}
		pin.Render.Selected = false
		pin.Render.Dragging = false
		pins = append(pins, pin)
	}
	return pins, problems
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
