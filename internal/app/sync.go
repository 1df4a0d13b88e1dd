package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"smartpin/api/internal/canvas"
	"smartpin/api/internal/realtime"
)

// changeSet collects the entities touched by one operation from canvas
// events. replaced means the whole roof has to be reconciled.
type changeSet struct {
	layers        map[string]realtime.ChangeType
	deletedLayers []string
	pins          map[string]realtime.ChangeType
	deletedPins   []string
	order         bool
	replaced      bool
}

func newChangeSet() *changeSet {
	return &changeSet{
		layers: make(map[string]realtime.ChangeType),
		pins:   make(map[string]realtime.ChangeType),
	}
}

func (cs *changeSet) empty() bool {
	return len(cs.layers) == 0 && len(cs.deletedLayers) == 0 && len(cs.pins) == 0 &&
		len(cs.deletedPins) == 0 && !cs.order && !cs.replaced
}

func (cs *changeSet) touchPin(id string, change realtime.ChangeType) {
	if _, seen := cs.pins[id]; seen && change == realtime.ChangeUpdate {
		return
	}
	cs.pins[id] = change
}

// track subscribes the session's change set to its canvas events.
func (sess *userSession) track() {
	c := sess.canvas
	c.On(canvas.EventLayerCreated, func(data any) {
		sess.changes.layers[data.(canvas.Layer).ID] = realtime.ChangeInsert
	})
	c.On(canvas.EventLayerUpdated, func(data any) {
		id := data.(canvas.LayerChange).Current.ID
		if _, seen := sess.changes.layers[id]; !seen {
			sess.changes.layers[id] = realtime.ChangeUpdate
		}
	})
	c.On(canvas.EventLayerDeleted, func(data any) {
		layer := data.(canvas.Layer)
		delete(sess.changes.layers, layer.ID)
		sess.changes.deletedLayers = append(sess.changes.deletedLayers, layer.ID)
	})
	c.On(canvas.EventLayersReordered, func(any) {
		sess.changes.order = true
	})
	c.On(canvas.EventPinsChanged, func(data any) {
		change := data.(canvas.PinChange)
		switch change.Kind {
		case canvas.PinsAdded:
			for _, id := range change.IDs {
				sess.changes.touchPin(id, realtime.ChangeInsert)
			}
		case canvas.PinsUpdated:
			for _, id := range change.IDs {
				sess.changes.touchPin(id, realtime.ChangeUpdate)
			}
		case canvas.PinsRemoved:
			for _, id := range change.IDs {
				delete(sess.changes.pins, id)
				sess.changes.deletedPins = append(sess.changes.deletedPins, id)
			}
		case canvas.PinsReplaced:
			sess.changes.replaced = true
		}
	})
	c.On(canvas.EventStateImported, func(any) {
		sess.changes.replaced = true
	})
}

// flush persists the pending changes of sess and returns the notifications
// describing them. The caller holds sess.mu.
func (s *Service) flush(ctx context.Context, sess *userSession) ([]realtime.Notification, error) {
	changes := sess.changes
	sess.changes = newChangeSet()
	if changes.empty() {
		return nil, nil
	}
	if changes.replaced {
		return s.reconcile(ctx, sess)
	}

	c := sess.canvas
	roofID := sess.roofID
	var notes []realtime.Notification

	for _, id := range changes.deletedLayers {
		if err := s.store.DeleteLayer(ctx, roofID, id); err != nil {
			return notes, err
		}
		notes = append(notes, deleteNote(roofID, realtime.EntityLayer, id))
	}

	if changes.order {
		for _, id := range c.LayerOrder() {
			if _, seen := changes.layers[id]; !seen {
				changes.layers[id] = realtime.ChangeUpdate
			}
		}
	}
	for _, id := range sortedKeys(changes.layers) {
		layer, ok := c.Layer(id)
		if !ok {
			continue
		}
		if err := s.store.SaveLayer(ctx, roofID, layer); err != nil {
			return notes, err
		}
		note, err := stateNote(roofID, realtime.EntityLayer, id, changes.layers[id], layer)
		if err != nil {
			return notes, err
		}
		notes = append(notes, note)
	}
	if changes.order {
		note, err := stateNote(roofID, realtime.EntityLayerOrder, roofID, realtime.ChangeUpdate, c.LayerOrder())
		if err != nil {
			return notes, err
		}
		notes = append(notes, note)
	}

	for _, id := range changes.deletedPins {
		if err := s.store.DeletePin(ctx, roofID, id); err != nil {
			return notes, err
		}
		s.search.DeletePin(id)
		notes = append(notes, deleteNote(roofID, realtime.EntityPin, id))
	}
	for _, id := range sortedKeys(changes.pins) {
		pin, ok := c.Pin(id)
		if !ok {
			continue
		}
		pin = sharedPin(pin)
		if err := s.store.SavePin(ctx, roofID, pin); err != nil {
			return notes, err
		}
		s.search.IndexPin(roofID, pin)
		note, err := stateNote(roofID, realtime.EntityPin, id, changes.pins[id], pin)
		if err != nil {
			return notes, err
		}
		notes = append(notes, note)
	}
	return notes, nil
}

// reconcile swaps the stored roof for the canvas and describes the
// difference. It follows undo, redo and imports, which replace state
// wholesale.
func (s *Service) reconcile(ctx context.Context, sess *userSession) ([]realtime.Notification, error) {
	c := sess.canvas
	roofID := sess.roofID

	storedLayers, err := s.store.LoadLayers(ctx, roofID)
	if err != nil {
		return nil, err
	}
	storedPins, err := s.store.LoadPins(ctx, roofID)
	if err != nil {
		return nil, err
	}

	layers := c.Layers()
	pins := c.Pins()
	for i := range pins {
		pins[i] = sharedPin(pins[i])
	}
	if err := s.store.ReplaceRoof(ctx, roofID, layers, pins); err != nil {
		return nil, err
	}

	var notes []realtime.Notification
	current := make(map[string]bool, len(layers))
	for _, layer := range layers {
		current[layer.ID] = true
	}
	stored := make(map[string]canvas.Layer, len(storedLayers))
	for _, layer := range storedLayers {
		stored[layer.ID] = layer
		if !current[layer.ID] {
			notes = append(notes, deleteNote(roofID, realtime.EntityLayer, layer.ID))
		}
	}
	for _, layer := range layers {
		previous, existed := stored[layer.ID]
		if existed && sameJSON(previous, layer) {
			continue
		}
		change := realtime.ChangeUpdate
		if !existed {
			change = realtime.ChangeInsert
		}
		note, err := stateNote(roofID, realtime.EntityLayer, layer.ID, change, layer)
		if err != nil {
			return notes, err
		}
		notes = append(notes, note)
	}
	note, err := stateNote(roofID, realtime.EntityLayerOrder, roofID, realtime.ChangeUpdate, c.LayerOrder())
	if err != nil {
		return notes, err
	}
	notes = append(notes, note)

	livePins := make(map[string]bool, len(pins))
	for _, pin := range pins {
		livePins[pin.ID] = true
	}
	storedByID := make(map[string]canvas.Pin, len(storedPins))
	for _, pin := range storedPins {
		storedByID[pin.ID] = pin
		if !livePins[pin.ID] {
			s.search.DeletePin(pin.ID)
			notes = append(notes, deleteNote(roofID, realtime.EntityPin, pin.ID))
		}
	}
	changed := []canvas.Pin{}
	for _, pin := range pins {
		previous, existed := storedByID[pin.ID]
		if existed && sameJSON(sharedPin(previous), pin) {
			continue
		}
		change := realtime.ChangeUpdate
		if !existed {
			change = realtime.ChangeInsert
		}
		note, err := stateNote(roofID, realtime.EntityPin, pin.ID, change, pin)
		if err != nil {
			return notes, err
		}
		notes = append(notes, note)
		changed = append(changed, pin)
	}
	s.search.ReindexRoof(roofID, changed)
	return notes, nil
}

// sharedPin drops the render flags that only make sense on one canvas.
func sharedPin(pin canvas.Pin) canvas.Pin {
	pin.Render.Selected = false
	pin.Render.Dragging = false
	pin.Render.Hovered = false
	return pin
}

func stateNote(roofID string, entity realtime.EntityKind, id string, change realtime.ChangeType, state any) (realtime.Notification, error) {
	payload, err := json.Marshal(state)
	if err != nil {
		return realtime.Notification{}, fmt.Errorf("encode %s %s: %w", entity, id, err)
	}
	return realtime.Notification{RoofID: roofID, Entity: entity, ID: id, Change: change, NewState: payload}, nil
}

func deleteNote(roofID string, entity realtime.EntityKind, id string) realtime.Notification {
	return realtime.Notification{RoofID: roofID, Entity: entity, ID: id, Change: realtime.ChangeDelete}
}

func sameJSON(a, b any) bool {
	ja, errA := json.Marshal(a)
	jb, errB := json.Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(ja, jb)
}

func sortedKeys(m map[string]realtime.ChangeType) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
