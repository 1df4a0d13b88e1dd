package canvas

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"unicode/utf8"

	"smartpin/api/internal/inspection"
)

const (
	minLayerName = 3
	maxLayerName = 50
)

var colorPattern = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

var kindDefaults = map[LayerKind]struct {
	color string
	icon  string
}{
	KindIssue:  {color: "#EF4444", icon: "alert-triangle"},
	KindRFI:    {color: "#3B82F6", icon: "help-circle"},
	KindDetail: {color: "#10B981", icon: "zoom-in"},
	KindNote:   {color: "#F59E0B", icon: "sticky-note"},
}

func defaultLayerSettings() LayerSettings {
	return LayerSettings{
		ShowTooltips:     true,
		ClusterThreshold: 10,
		ShowLabels:       true,
		GridSize:         20,
		Opacity:          1,
	}
}

func allPermissions() LayerPermissions {
	return LayerPermissions{View: true, Create: true, Edit: true, Delete: true, Manage: true}
}

// validateLayer returns every problem with l. excludeID is skipped in the
// name uniqueness check.
func (c *Canvas) validateLayer(l Layer, excludeID string) []string {
	var problems []string
	name := strings.TrimSpace(l.Name)
	switch n := utf8.RuneCountInString(name); {
	case n == 0:
		problems = append(problems, "name is required")
	case n < minLayerName || n > maxLayerName:
		problems = append(problems, fmt.Sprintf("name must be between %d and %d characters", minLayerName, maxLayerName))
	}
	if name != "" {
		for _, id := range c.order {
			if id == excludeID {
				continue
			}
			if strings.EqualFold(strings.TrimSpace(c.layers[id].Name), name) {
				problems = append(problems, fmt.Sprintf("layer name %q already exists", name))
				break
			}
		}
	}
	if !l.Kind.Valid() {
		problems = append(problems, fmt.Sprintf("unknown layer kind %q", l.Kind))
	}
	if !colorPattern.MatchString(l.Color) {
		problems = append(problems, "color must be a 6-digit hex value like #AABBCC")
	}
	if !l.Visibility.Valid() {
		problems = append(problems, fmt.Sprintf("unknown visibility %q", l.Visibility))
	}
	if !l.Status.Valid() {
		problems = append(problems, fmt.Sprintf("unknown status %q", l.Status))
	}
	if l.Settings.Opacity < 0 || l.Settings.Opacity > 1 {
		problems = append(problems, "opacity must be between 0 and 1")
	}
	if l.Settings.GridSize < 1 {
		problems = append(problems, "grid size must be at least 1")
	}
	if l.Settings.ClusterThreshold < 1 {
		problems = append(problems, "cluster threshold must be at least 1")
	}
	return problems
}

// CreateLayer validates input against the registry and appends the layer.
func (c *Canvas) CreateLayer(input LayerInput) (Layer, error) {
	if err := c.checkPermission(OpCreateLayer, "", input.Kind); err != nil {
		return Layer{}, err
	}
	if len(c.order) >= c.settings.MaxLayers {
		return Layer{}, opError(CodeValidationFailed, fmt.Sprintf("maximum of %d layers reached", c.settings.MaxLayers))
	}

	now := c.now()
	layer := Layer{
		Kind:        input.Kind,
		Name:        strings.TrimSpace(input.Name),
		Description: input.Description,
		Color:       input.Color,
		Icon:        input.Icon,
		Visibility:  input.Visibility,
		Status:      input.Status,
		Order:       len(c.order),
		Permissions: allPermissions(),
		Settings:    defaultLayerSettings(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if defaults, ok := kindDefaults[input.Kind]; ok {
		if layer.Color == "" {
			layer.Color = defaults.color
		}
		if layer.Icon == "" {
			layer.Icon = defaults.icon
		}
	}
	if layer.Visibility == "" {
		layer.Visibility = Visible
	}
	if layer.Status == "" {
		layer.Status = LayerActive
	}
	if input.Permissions != nil {
		layer.Permissions = *input.Permissions
	}
	if input.Settings != nil {
		layer.Settings = *input.Settings
	} else {
		layer.Settings.ZIndex = layer.Order
	}

	if problems := c.validateLayer(layer, ""); len(problems) > 0 {
		return Layer{}, opError(CodeValidationFailed, problems...)
	}

	layer.ID = c.newID("layer")
	c.layers[layer.ID] = layer
	c.order = append(c.order, layer.ID)
	c.touchLayers()
	c.record()
	c.emit(EventLayerCreated, layer)
	return c.withStats(layer), nil
}

// UpdateLayer merges patch into the layer and re-validates the result.
func (c *Canvas) UpdateLayer(id string, patch LayerPatch) (Layer, error) {
	current, ok := c.layers[id]
	if !ok {
		return Layer{}, opError(CodeLayerNotFound, fmt.Sprintf("layer %s not found", id))
	}
	if err := c.checkPermission(OpEditLayer, id, current.Kind); err != nil {
		return Layer{}, err
	}

	merged := patch.apply(current)
	merged.Name = strings.TrimSpace(merged.Name)
	if problems := c.validateLayer(merged, id); len(problems) > 0 {
		return Layer{}, opError(CodeValidationFailed, problems...)
	}
	merged.UpdatedAt = c.now()

	c.layers[id] = merged
	c.touchLayers()
	if merged.Kind != current.Kind {
		// Denormalized kind follows the layer.
		for i := range c.pins {
			if c.pins[i].LayerID == id {
				c.pins[i].Kind = merged.Kind
			}
		}
		c.touchPins()
	}
	c.record()
	c.emit(EventLayerUpdated, LayerChange{Previous: current, Current: merged})
	return c.withStats(merged), nil
}

// DeleteLayer removes the layer and every pin on it.
func (c *Canvas) DeleteLayer(id string) error {
	layer, ok := c.layers[id]
	if !ok {
		return opError(CodeLayerNotFound, fmt.Sprintf("layer %s not found", id))
	}
	if err := c.checkPermission(OpDeleteLayer, id, layer.Kind); err != nil {
		return err
	}

	delete(c.layers, id)
	c.order = slices.DeleteFunc(c.order, func(other string) bool { return other == id })
	c.renumber()
	delete(c.layerFilter, id)
	if c.activeLayer == id {
		c.activeLayer = ""
	}
	c.touchLayers()

	var removed []string
	for _, pin := range c.pins {
		if pin.LayerID == id {
			removed = append(removed, pin.ID)
		}
	}
	c.dropPins(removed)

	c.record()
	c.emit(EventLayerDeleted, layer)
	if len(removed) > 0 {
		c.emitPins(PinsRemoved, removed...)
	}
	return nil
}

// PutLayer inserts or replaces a layer under its own id, at position
// layer.Order clamped to the layer count. It replays layers created
// elsewhere, so permissions are not consulted.
func (c *Canvas) PutLayer(layer Layer) (Layer, error) {
	if layer.ID == "" {
		return Layer{}, opError(CodeValidationFailed, "layer id is required")
	}
	layer.Name = strings.TrimSpace(layer.Name)
	if problems := c.validateLayer(layer, layer.ID); len(problems) > 0 {
		return Layer{}, opError(CodeValidationFailed, problems...)
	}
	current, exists := c.layers[layer.ID]
	if !exists && len(c.order) >= c.settings.MaxLayers {
		return Layer{}, opError(CodeValidationFailed, fmt.Sprintf("maximum of %d layers reached", c.settings.MaxLayers))
	}
	layer.Stats = LayerStats{}
	if layer.CreatedAt.IsZero() {
		layer.CreatedAt = c.now()
	}
	if layer.UpdatedAt.IsZero() {
		layer.UpdatedAt = layer.CreatedAt
	}

	c.order = slices.DeleteFunc(c.order, func(other string) bool { return other == layer.ID })
	pos := min(max(layer.Order, 0), len(c.order))
	c.order = slices.Insert(c.order, pos, layer.ID)
	c.layers[layer.ID] = layer
	c.renumber()
	layer = c.layers[layer.ID]
	c.touchLayers()
	if exists && layer.Kind != current.Kind {
		for i := range c.pins {
			if c.pins[i].LayerID == layer.ID {
				c.pins[i].Kind = layer.Kind
			}
		}
		c.touchPins()
	}
	c.record()
	if exists {
		c.emit(EventLayerUpdated, LayerChange{Previous: current, Current: layer})
	} else {
		c.emit(EventLayerCreated, layer)
	}
	return c.withStats(layer), nil
}

// ReorderLayers requires ids to be an exact permutation of the current layers.
func (c *Canvas) ReorderLayers(ids []string) error {
	if err := c.checkPermission(OpManageLayer, "", ""); err != nil {
		return err
	}
	if len(ids) != len(c.order) {
		return opError(CodeValidationFailed, fmt.Sprintf("expected %d layer ids, got %d", len(c.order), len(ids)))
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := c.layers[id]; !ok {
			return opError(CodeValidationFailed, fmt.Sprintf("unknown layer id %s", id))
		}
		if _, dup := seen[id]; dup {
			return opError(CodeValidationFailed, fmt.Sprintf("duplicate layer id %s", id))
		}
		seen[id] = struct{}{}
	}

	c.order = append([]string(nil), ids...)
	c.renumber()
	c.touchLayers()
	c.record()
	c.emit(EventLayersReordered, c.LayerOrder())
	return nil
}

func (c *Canvas) renumber() {
	for i, id := range c.order {
		layer := c.layers[id]
		layer.Order = i
		c.layers[id] = layer
	}
}

// ToggleVisibility flips a layer between visible and hidden. A dimmed layer
// becomes visible.
func (c *Canvas) ToggleVisibility(id string) (Layer, error) {
	layer, ok := c.layers[id]
	if !ok {
		return Layer{}, opError(CodeLayerNotFound, fmt.Sprintf("layer %s not found", id))
	}
	next := Visible
	if layer.Visibility == Visible {
		next = Hidden
	}
	return c.UpdateLayer(id, LayerPatch{Visibility: &next})
}

func (c *Canvas) SetVisibility(id string, v Visibility) (Layer, error) {
	return c.UpdateLayer(id, LayerPatch{Visibility: &v})
}

func (c *Canvas) SetStatus(id string, s LayerStatus) (Layer, error) {
	return c.UpdateLayer(id, LayerPatch{Status: &s})
}

// Layer returns a layer with fresh stats.
func (c *Canvas) Layer(id string) (Layer, bool) {
	layer, ok := c.layers[id]
	if !ok {
		return Layer{}, false
	}
	return c.withStats(layer), true
}

// Layers returns all layers in display order.
func (c *Canvas) Layers() []Layer {
	out := make([]Layer, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.withStats(c.layers[id]))
	}
	return out
}

func (c *Canvas) LayerOrder() []string {
	return append([]string(nil), c.order...)
}

// FilterLayers returns layers, in order, matching every non-empty predicate.
func (c *Canvas) FilterLayers(filter LayerFilter) []Layer {
	search := strings.ToLower(strings.TrimSpace(filter.Search))
	out := []Layer{}
	for _, id := range c.order {
		layer := c.layers[id]
		if len(filter.Kinds) > 0 && !slices.Contains(filter.Kinds, layer.Kind) {
			continue
		}
		if len(filter.Statuses) > 0 && !slices.Contains(filter.Statuses, layer.Status) {
			continue
		}
		if len(filter.Visibility) > 0 && !slices.Contains(filter.Visibility, layer.Visibility) {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(layer.Name), search) {
			continue
		}
		out = append(out, c.withStats(layer))
	}
	return out
}

// SetActiveLayer selects the layer new pins go to. An empty id clears it.
func (c *Canvas) SetActiveLayer(id string) error {
	if id != "" {
		if _, ok := c.layers[id]; !ok {
			return opError(CodeLayerNotFound, fmt.Sprintf("layer %s not found", id))
		}
	}
	c.activeLayer = id
	return nil
}

func (c *Canvas) ActiveLayer() (Layer, bool) {
	if c.activeLayer == "" {
		return Layer{}, false
	}
	return c.Layer(c.activeLayer)
}

// SetLayerFilter restricts the visible pin view to the given layers. An
// empty list removes the restriction; unknown ids are ignored.
func (c *Canvas) SetLayerFilter(ids []string) {
	c.layerFilter = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := c.layers[id]; ok {
			c.layerFilter[id] = struct{}{}
		}
	}
	c.touchLayers()
}

func (c *Canvas) LayerFilter() []string {
	out := make([]string, 0, len(c.layerFilter))
	for _, id := range c.order {
		if _, ok := c.layerFilter[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// LayerStats counts the pins on a layer.
func (c *Canvas) LayerStats(id string) (LayerStats, bool) {
	layer, ok := c.layers[id]
	if !ok {
		return LayerStats{}, false
	}
	return c.withStats(layer).Stats, true
}

func (c *Canvas) withStats(layer Layer) Layer {
	stats := LayerStats{
		LastUpdated:  layer.UpdatedAt,
		RenderTimeMs: layer.Stats.RenderTimeMs,
		MemoryBytes:  layer.Stats.MemoryBytes,
	}
	visible := c.layerShown(layer)
	for _, pin := range c.pins {
		if pin.LayerID != layer.ID {
			continue
		}
		stats.Total++
		if visible {
			stats.Visible++
		}
		if pin.Status != inspection.StatusClosed {
			stats.Active++
		}
		if pin.UpdatedAt.After(stats.LastUpdated) {
			stats.LastUpdated = pin.UpdatedAt
		}
	}
	layer.Stats = stats
	return layer
}

// layerShown reports whether pins on layer belong to the visible view.
func (c *Canvas) layerShown(layer Layer) bool {
	if layer.Visibility != Visible {
		return false
	}
	if len(c.layerFilter) == 0 {
		return true
	}
	_, ok := c.layerFilter[layer.ID]
	return ok
}

// RecordLayerRenderSample stores client-reported render metrics on a layer.
func (c *Canvas) RecordLayerRenderSample(id string, renderTimeMs float64, memoryBytes int64) bool {
	layer, ok := c.layers[id]
	if !ok {
		return false
	}
	layer.Stats.RenderTimeMs = renderTimeMs
	layer.Stats.MemoryBytes = memoryBytes
	c.layers[id] = layer
	return true
}
