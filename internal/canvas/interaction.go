package canvas

import (
	"fmt"
	"strings"

	"smartpin/api/internal/geometry"
)

// Mode is the current pointer interaction mode.
type Mode string

const (
	ModeSelect Mode = "select"
	ModePan    Mode = "pan"
	ModeZoom   Mode = "zoom"

	createPrefix = "create:"
)

// CreateMode returns the pin-creation mode for a layer kind.
func CreateMode(kind LayerKind) Mode {
	return Mode(createPrefix + string(kind))
}

// CreateKind reports the layer kind of a create mode.
func (m Mode) CreateKind() (LayerKind, bool) {
	if !strings.HasPrefix(string(m), createPrefix) {
		return "", false
	}
	kind := LayerKind(strings.TrimPrefix(string(m), createPrefix))
	return kind, kind.Valid()
}

func (m Mode) Valid() bool {
	switch m {
	case ModeSelect, ModePan, ModeZoom:
		return true
	}
	_, ok := m.CreateKind()
	return ok
}

func (c *Canvas) Mode() Mode {
	return c.mode
}

// CreationArmed reports whether the next PlacePin will create a pin, and
// for which kind.
func (c *Canvas) CreationArmed() (LayerKind, bool) {
	return c.creationKind, c.creating
}

// SetMode switches interaction mode. Leaving create modes disarms pin
// creation.
func (c *Canvas) SetMode(mode Mode) error {
	if !mode.Valid() {
		return opError(CodeValidationFailed, fmt.Sprintf("unknown mode %q", mode))
	}
	if kind, ok := mode.CreateKind(); ok {
		c.creationKind = kind
	} else {
		c.creating = false
		c.creationKind = ""
	}
	if c.mode != mode {
		c.mode = mode
		c.emit(EventModeChanged, mode)
	}
	return nil
}

// StartPinCreation arms pin creation for kind and activates the first layer
// of that kind, if any. With no such layer the active layer is unchanged.
func (c *Canvas) StartPinCreation(kind LayerKind) error {
	if !kind.Valid() {
		return opError(CodeValidationFailed, fmt.Sprintf("unknown layer kind %q", kind))
	}
	if err := c.SetMode(CreateMode(kind)); err != nil {
		return err
	}
	c.creating = true
	c.creationKind = kind
	for _, id := range c.order {
		if c.layers[id].Kind == kind {
			c.activeLayer = id
			break
		}
	}
	return nil
}

// PlacePin creates a pin at position on the active layer while creation is
// armed, then disarms. input.LayerID overrides the active layer.
func (c *Canvas) PlacePin(position geometry.Point, input PinInput) (Pin, error) {
	if !c.creating {
		return Pin{}, opError(CodeValidationFailed, "pin creation is not armed")
	}
	if input.LayerID == "" {
		input.LayerID = c.activeLayer
	}
	if input.LayerID == "" {
		return Pin{}, opError(CodeLayerNotFound, fmt.Sprintf("no %s layer to place the pin on", c.creationKind))
	}
	input.Position = position
	pin, err := c.CreatePin(input)
	if err != nil {
		return Pin{}, err
	}
	c.creating = false
	return pin, nil
}

// Drag returns the in-progress drag, if any.
func (c *Canvas) Drag() (DragState, bool) {
	if c.drag == nil {
		return DragState{}, false
	}
	return *c.drag, true
}

// StartDrag begins dragging a pin grabbed at pointer. Unknown ids are ignored.
func (c *Canvas) StartDrag(id string, pointer geometry.Point) bool {
	i := c.pinIndex(id)
	if i < 0 {
		return false
	}
	c.cancelDrag()
	start := c.pins[i].Position
	c.drag = &DragState{
		PinID:   id,
		Start:   start,
		Current: start,
		Offset:  pointer.Sub(start),
	}
	c.pins[i].Render.Dragging = true
	c.touchPins()
	return true
}

// UpdateDrag moves the dragged pin so the original grab offset is kept,
// snapping to the grid when enabled. The pin record is updated in place.
func (c *Canvas) UpdateDrag(pointer geometry.Point) (Pin, bool) {
	if c.drag == nil {
		return Pin{}, false
	}
	i := c.pinIndex(c.drag.PinID)
	if i < 0 {
		c.drag = nil
		return Pin{}, false
	}
	target := pointer.Sub(c.drag.Offset)
	if c.settings.SnapToGrid {
		target = geometry.SnapToGrid(target, c.settings.GridSize)
	}
	c.drag.Current = target
	c.pins[i].Position = target
	c.pins[i].UpdatedAt = c.now()
	c.touchPins()
	c.emitPins(PinsUpdated, c.drag.PinID)
	return c.pins[i].Clone(), true
}

// EndDrag drops the pin where it is and records one history entry for the
// whole drag.
func (c *Canvas) EndDrag() (Pin, bool) {
	if c.drag == nil {
		return Pin{}, false
	}
	drag := *c.drag
	c.drag = nil
	i := c.pinIndex(drag.PinID)
	if i < 0 {
		return Pin{}, false
	}
	c.pins[i].Render.Dragging = false
	c.touchPins()
	if drag.Current != drag.Start {
		c.record()
	}
	return c.pins[i].Clone(), true
}

// cancelDrag clears drag state without recording history.
func (c *Canvas) cancelDrag() {
	if c.drag == nil {
		return
	}
	if i := c.pinIndex(c.drag.PinID); i >= 0 {
		c.pins[i].Render.Dragging = false
		c.touchPins()
	}
	c.drag = nil
}
