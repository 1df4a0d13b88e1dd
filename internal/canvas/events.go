package canvas

import "smartpin/api/internal/geometry"

// EventType identifies a change notification emitted by a Canvas.
type EventType int

const (
	EventLayerCreated EventType = iota
	EventLayerUpdated
	EventLayerDeleted
	EventLayersReordered
	EventPinsChanged
	EventSelectionChanged
	EventViewportChanged
	EventModeChanged
	EventHistoryChanged
	EventStateImported
)

// Listener receives the event payload. Payload types per event:
// LayerCreated/Deleted Layer, LayerUpdated LayerChange, LayersReordered
// []string, PinsChanged PinChange, SelectionChanged Selection,
// ViewportChanged geometry.Viewport, ModeChanged Mode, HistoryChanged
// HistoryStatus, StateImported nil.
type Listener func(data any)

type LayerChange struct {
	Previous Layer
	Current  Layer
}

type PinChangeKind string

const (
	PinsAdded    PinChangeKind = "added"
	PinsUpdated  PinChangeKind = "updated"
	PinsRemoved  PinChangeKind = "removed"
	PinsReplaced PinChangeKind = "replaced"
)

type PinChange struct {
	Kind PinChangeKind
	IDs  []string
}

type HistoryStatus struct {
	CanUndo bool `json:"canUndo"`
	CanRedo bool `json:"canRedo"`
}

// On registers a listener for an event type.
func (c *Canvas) On(event EventType, listener Listener) {
	c.listeners[event] = append(c.listeners[event], listener)
}

func (c *Canvas) emit(event EventType, data any) {
	for _, listener := range c.listeners[event] {
		listener(data)
	}
}

func (c *Canvas) emitPins(kind PinChangeKind, ids ...string) {
	c.emit(EventPinsChanged, PinChange{Kind: kind, IDs: ids})
}

func (c *Canvas) emitViewport(v geometry.Viewport) {
	c.emit(EventViewportChanged, v)
}
