package canvas

import (
	"fmt"
	"math"
	"slices"
	"sort"

	"smartpin/api/internal/geometry"
	"smartpin/api/internal/inspection"
)

func (c *Canvas) pinIndex(id string) int {
	if id == "" {
		return -1
	}
	for i := range c.pins {
		if c.pins[i].ID == id {
			return i
		}
	}
	return -1
}

// AddPin appends pin unless a pin with the same id already exists. A pin
// without an id gets one.
func (c *Canvas) AddPin(pin Pin) (Pin, bool) {
	if pin.ID == "" {
		pin.ID = c.newID("pin")
	} else if c.pinIndex(pin.ID) >= 0 {
		return Pin{}, false
	}
	pin = pin.Clone()
	if pin.Status == "" {
		pin.Status = inspection.StatusOpen
	}
	if layer, ok := c.layers[pin.LayerID]; ok && pin.Kind == "" {
		pin.Kind = layer.Kind
	}
	if pin.CreatedAt.IsZero() {
		pin.CreatedAt = c.now()
	}
	if pin.UpdatedAt.IsZero() {
		pin.UpdatedAt = pin.CreatedAt
	}
	pin.Render.Selected = false
	pin.Render.Dragging = false

	c.pins = append(c.pins, pin)
	c.touchPins()
	c.record()
	c.emitPins(PinsAdded, pin.ID)
	return pin.Clone(), true
}

// CreatePin is the data-entry path for new pins: the layer must exist and
// the position must lie on the unit square.
func (c *Canvas) CreatePin(input PinInput) (Pin, error) {
	layer, ok := c.layers[input.LayerID]
	if !ok {
		return Pin{}, opError(CodeLayerNotFound, fmt.Sprintf("layer %s not found", input.LayerID))
	}
	var problems []string
	if !input.Position.InUnitSquare() {
		problems = append(problems, "position must be within [0,1] on both axes")
	}
	status := input.Status
	if status == "" {
		status = inspection.StatusOpen
	}
	if !status.Valid() {
		problems = append(problems, fmt.Sprintf("unknown status %q", input.Status))
	}
	if input.Metadata.Priority != "" && !input.Metadata.Priority.Valid() {
		problems = append(problems, fmt.Sprintf("unknown priority %q", input.Metadata.Priority))
	}
	if len(problems) > 0 {
		return Pin{}, opError(CodeValidationFailed, problems...)
	}

	metadata := input.Metadata.clone()
	if metadata.Priority == "" {
		metadata.Priority = PriorityMedium
	}
	render := defaultRenderProps()
	if input.Render != nil {
		render = *input.Render
	}
	now := c.now()
	pin, _ := c.AddPin(Pin{
		ID:        c.newID("pin"),
		LayerID:   layer.ID,
		Kind:      layer.Kind,
		Position:  input.Position,
		Title:     input.Title,
		Status:    status,
		ParentID:  input.ParentID,
		Metadata:  metadata,
		Render:    render,
		CreatedAt: now,
		UpdatedAt: now,
	})
	return pin, nil
}

// UpdatePin merges patch into the pin. Unknown ids are ignored.
func (c *Canvas) UpdatePin(id string, patch PinPatch) (Pin, bool) {
	i := c.pinIndex(id)
	if i < 0 {
		return Pin{}, false
	}
	updated := patch.apply(c.pins[i])
	if patch.LayerID != nil {
		if layer, ok := c.layers[updated.LayerID]; ok {
			updated.Kind = layer.Kind
		}
	}
	updated.UpdatedAt = c.now()
	_, selected := c.selected[id]
	updated.Render.Selected = selected
	c.pins[i] = updated
	c.touchPins()
	c.record()
	c.emitPins(PinsUpdated, id)
	return updated.Clone(), true
}

// RemovePin deletes a pin. Unknown ids are ignored.
func (c *Canvas) RemovePin(id string) bool {
	return c.RemovePins([]string{id}) == 1
}

// RemovePins deletes pins in bulk and purges them from the selection and
// the memory hint set. It returns how many pins were removed.
func (c *Canvas) RemovePins(ids []string) int {
	var present []string
	for _, id := range ids {
		if c.pinIndex(id) >= 0 && !slices.Contains(present, id) {
			present = append(present, id)
		}
	}
	if len(present) == 0 {
		return 0
	}
	c.dropPins(present)
	c.record()
	c.emitPins(PinsRemoved, present...)
	return len(present)
}

// dropPins removes pins without recording history.
func (c *Canvas) dropPins(ids []string) {
	if len(ids) == 0 {
		return
	}
	gone := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		gone[id] = struct{}{}
	}
	c.pins = slices.DeleteFunc(c.pins, func(p Pin) bool {
		_, ok := gone[p.ID]
		return ok
	})
	selectionChanged := false
	for id := range gone {
		delete(c.memory, id)
		if _, ok := c.selected[id]; ok {
			delete(c.selected, id)
			selectionChanged = true
		}
		if c.lastSelected == id {
			c.lastSelected = ""
		}
	}
	if c.drag != nil {
		if _, ok := gone[c.drag.PinID]; ok {
			c.drag = nil
		}
	}
	c.touchPins()
	if selectionChanged {
		c.emit(EventSelectionChanged, c.Selection())
	}
}

// MovePin sets a pin's position directly. Grid snapping does not apply.
func (c *Canvas) MovePin(id string, position geometry.Point) (Pin, bool) {
	return c.UpdatePin(id, PinPatch{Position: &position})
}

// DuplicatePin clones a pin with a fresh id, offset diagonally. Attachments
// stay with the original.
func (c *Canvas) DuplicatePin(id string) (Pin, bool) {
	i := c.pinIndex(id)
	if i < 0 {
		return Pin{}, false
	}
	clone := c.pins[i].Clone()
	offset := c.settings.DuplicateOffset
	clone.ID = c.newID("pin")
	clone.Position = geometry.Point{
		X: math.Min(clone.Position.X+offset, 1),
		Y: math.Min(clone.Position.Y+offset, 1),
	}
	clone.Metadata.Attachments = nil
	clone.CreatedAt = c.now()
	clone.UpdatedAt = clone.CreatedAt
	return c.AddPin(clone)
}

// ReplacePins swaps the whole pin collection. Later duplicates of an id are
// dropped.
func (c *Canvas) ReplacePins(pins []Pin) {
	c.replacePins(pins)
	c.record()
	c.emitPins(PinsReplaced, c.pinIDs()...)
}

func (c *Canvas) replacePins(pins []Pin) {
	seen := make(map[string]struct{}, len(pins))
	next := make([]Pin, 0, len(pins))
	for _, pin := range pins {
		if pin.ID == "" {
			continue
		}
		if _, dup := seen[pin.ID]; dup {
			continue
		}
		seen[pin.ID] = struct{}{}
		next = append(next, pin.Clone())
	}
	c.pins = next

	for id := range c.selected {
		if _, ok := seen[id]; !ok {
			delete(c.selected, id)
		}
	}
	for id := range c.memory {
		if _, ok := seen[id]; !ok {
			delete(c.memory, id)
		}
	}
	if _, ok := seen[c.lastSelected]; !ok {
		c.lastSelected = ""
	}
	c.syncSelectedFlags()
	c.touchPins()
}

func (c *Canvas) pinIDs() []string {
	ids := make([]string, len(c.pins))
	for i, pin := range c.pins {
		ids[i] = pin.ID
	}
	return ids
}

func (c *Canvas) Pin(id string) (Pin, bool) {
	i := c.pinIndex(id)
	if i < 0 {
		return Pin{}, false
	}
	return c.pins[i].Clone(), true
}

// Pins returns every loaded pin, visible or not.
func (c *Canvas) Pins() []Pin {
	out := make([]Pin, len(c.pins))
	for i, pin := range c.pins {
		out[i] = pin.Clone()
	}
	return out
}

// VisiblePins returns pins whose layer is visible and passes the layer
// filter. The result is cached until pins or layers change.
func (c *Canvas) VisiblePins() []Pin {
	key := [2]uint64{c.pinsVersion, c.layersVersion}
	if !c.cacheValid || c.cacheKey != key {
		visible := make([]Pin, 0, len(c.pins))
		for _, pin := range c.pins {
			layer, ok := c.layers[pin.LayerID]
			if ok && c.layerShown(layer) {
				visible = append(visible, pin)
			}
		}
		c.visibleCache = visible
		c.cacheKey = key
		c.cacheValid = true
	}
	out := make([]Pin, len(c.visibleCache))
	for i, pin := range c.visibleCache {
		out[i] = pin.Clone()
	}
	return out
}

func (c *Canvas) isVisible(pin Pin) bool {
	layer, ok := c.layers[pin.LayerID]
	return ok && c.layerShown(layer)
}

// PinToMemory marks a pin as kept resident by the renderer.
func (c *Canvas) PinToMemory(id string) bool {
	if c.pinIndex(id) < 0 {
		return false
	}
	c.memory[id] = struct{}{}
	return true
}

func (c *Canvas) UnpinFromMemory(id string) {
	delete(c.memory, id)
}

func (c *Canvas) MemoryPins() []string {
	out := make([]string, 0, len(c.memory))
	for id := range c.memory {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// SetPinStatus moves a pin through the inspection workflow. A pin cannot be
// closed while any of its children is still open.
func (c *Canvas) SetPinStatus(id string, status inspection.Status) (Pin, bool, error) {
	i := c.pinIndex(id)
	if i < 0 {
		return Pin{}, false, nil
	}
	if problem := c.statusProblem(i, status); problem != "" {
		return Pin{}, true, opError(CodeValidationFailed, problem)
	}
	if c.pins[i].Status == status {
		return c.pins[i].Clone(), true, nil
	}
	pin, _ := c.UpdatePin(id, PinPatch{Status: &status})
	return pin, true, nil
}

// statusProblem describes why the pin at index i cannot move to status, or
// returns "" when the move is allowed.
func (c *Canvas) statusProblem(i int, status inspection.Status) string {
	current := c.pins[i].Status
	if !status.Valid() {
		return fmt.Sprintf("unknown status %q", status)
	}
	if !inspection.CanTransition(current, status) {
		return fmt.Sprintf("cannot move pin from %s to %s", current, status)
	}
	if status == inspection.StatusClosed && current != status {
		for _, child := range c.Children(c.pins[i].ID) {
			if child.Status != inspection.StatusClosed {
				return fmt.Sprintf("child pin %s is not closed", child.ID)
			}
		}
	}
	return ""
}

// EditPin is the data-entry path for pin changes. Unlike UpdatePin it
// rejects a patch that references a missing layer or parent, moves the pin
// off the unit square, carries an unknown priority, or changes the status
// outside the inspection workflow. found is false for unknown ids.
func (c *Canvas) EditPin(id string, patch PinPatch) (pin Pin, found bool, err error) {
	i := c.pinIndex(id)
	if i < 0 {
		return Pin{}, false, nil
	}
	var problems []string
	if patch.LayerID != nil {
		if _, ok := c.layers[*patch.LayerID]; !ok {
			problems = append(problems, fmt.Sprintf("layer %s not found", *patch.LayerID))
		}
	}
	if patch.Position != nil && !patch.Position.InUnitSquare() {
		problems = append(problems, "position must be within [0,1] on both axes")
	}
	if patch.ParentID != nil && *patch.ParentID != "" {
		switch {
		case *patch.ParentID == id:
			problems = append(problems, "pin cannot be its own parent")
		case c.pinIndex(*patch.ParentID) < 0:
			problems = append(problems, fmt.Sprintf("parent pin %s not found", *patch.ParentID))
		}
	}
	if patch.Metadata != nil && patch.Metadata.Priority != "" && !patch.Metadata.Priority.Valid() {
		problems = append(problems, fmt.Sprintf("unknown priority %q", patch.Metadata.Priority))
	}
	if patch.Status != nil {
		if problem := c.statusProblem(i, *patch.Status); problem != "" {
			problems = append(problems, problem)
		}
	}
	if len(problems) > 0 {
		return Pin{}, true, opError(CodeValidationFailed, problems...)
	}
	pin, _ = c.UpdatePin(id, patch)
	return pin, true, nil
}

// CreateChildPin adds a pin under parentID on the parent's layer. Without an
// explicit position the child is offset from the parent. found is false when
// the parent does not exist.
func (c *Canvas) CreateChildPin(parentID string, input PinInput) (pin Pin, found bool, err error) {
	i := c.pinIndex(parentID)
	if i < 0 {
		return Pin{}, false, nil
	}
	parent := c.pins[i]
	input.LayerID = parent.LayerID
	input.ParentID = parent.ID
	if input.Position == (geometry.Point{}) {
		offset := c.settings.DuplicateOffset
		input.Position = geometry.Point{
			X: math.Min(parent.Position.X+offset, 1),
			Y: math.Min(parent.Position.Y+offset, 1),
		}
	}
	pin, err = c.CreatePin(input)
	return pin, true, err
}

// Children returns the direct children of a pin in insertion order.
func (c *Canvas) Children(id string) []Pin {
	out := []Pin{}
	for _, pin := range c.pins {
		if pin.ParentID == id && id != "" {
			out = append(out, pin.Clone())
		}
	}
	return out
}

// NearbyPins returns pins within radius of center, closest first.
func (c *Canvas) NearbyPins(center geometry.Point, radius float64) []Nearby {
	out := []Nearby{}
	for _, pin := range c.pins {
		d := pin.Position.Distance(center)
		if d <= radius {
			out = append(out, Nearby{Pin: pin.Clone(), Distance: d})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	return out
}
