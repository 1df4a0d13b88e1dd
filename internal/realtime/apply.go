package realtime

import (
	"encoding/json"
	"fmt"

	"smartpin/api/internal/canvas"
)

// Apply replays a notification from another instance onto c without
// recording undo history. Stale, duplicate and out-of-order traffic is
// tolerated: updates to unknown pins insert them, deletes of unknown ids do
// nothing. Only undecodable payloads and invalid layers are errors.
func Apply(c *canvas.Canvas, n Notification) error {
	var err error
	c.Quietly(func() {
		err = apply(c, n)
	})
	return err
}

func apply(c *canvas.Canvas, n Notification) error {
	switch n.Entity {
	case EntityLayer:
		if n.Change == ChangeDelete {
			if _, ok := c.Layer(n.ID); ok {
				return c.DeleteLayer(n.ID)
			}
			return nil
		}
		var layer canvas.Layer
		if err := json.Unmarshal(n.NewState, &layer); err != nil {
			return fmt.Errorf("decode layer %s: %w", n.ID, err)
		}
		if layer.ID == "" {
			layer.ID = n.ID
		}
		_, err := c.PutLayer(layer)
		return err

	case EntityLayerOrder:
		var ids []string
		if err := json.Unmarshal(n.NewState, &ids); err != nil {
			return fmt.Errorf("decode layer order: %w", err)
		}
		if err := c.ReorderLayers(ids); err != nil && !canvas.IsCode(err, canvas.CodeValidationFailed) {
			return err
		}
		return nil

	case EntityPin:
		if n.Change == ChangeDelete {
			c.RemovePin(n.ID)
			return nil
		}
		var pin canvas.Pin
		if err := json.Unmarshal(n.NewState, &pin); err != nil {
			return fmt.Errorf("decode pin %s: %w", n.ID, err)
		}
		if pin.ID == "" {
			pin.ID = n.ID
		}
		if _, ok := c.Pin(pin.ID); !ok {
			c.AddPin(pin)
			return nil
		}
		c.UpdatePin(pin.ID, canvas.PinPatch{
			LayerID:  &pin.LayerID,
			Position: &pin.Position,
			Title:    &pin.Title,
			Status:   &pin.Status,
			ParentID: &pin.ParentID,
			Metadata: &pin.Metadata,
		})
		return nil

	case EntityCanvas:
		return c.ImportState(n.NewState)
	}
	return fmt.Errorf("unknown entity kind %q", n.Entity)
}
