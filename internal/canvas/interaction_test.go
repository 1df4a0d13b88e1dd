package canvas

import (
	"testing"

	"smartpin/api/internal/geometry"
)

func TestDragKeepsGrabOffset(t *testing.T) {
	c := newTestCanvas(t)
	layer := mustLayer(t, c, "Issues", KindIssue)
	pin := mustPin(t, c, layer.ID, 0.5, 0.5)

	if !c.StartDrag(pin.ID, geometry.Point{X: 0.55, Y: 0.52}) {
		t.Fatal("StartDrag() = false")
	}
	moved, ok := c.UpdateDrag(geometry.Point{X: 0.60, Y: 0.50})
	if !ok {
		t.Fatal("UpdateDrag() = false")
	}
	if !near(moved.Position.X, 0.55) || !near(moved.Position.Y, 0.48) {
		t.Fatalf("dragged position = %+v, want (0.55, 0.48)", moved.Position)
	}
	if !moved.Render.Dragging {
		t.Fatal("pin not flagged as dragging")
	}

	dropped, ok := c.EndDrag()
	if !ok || dropped.Render.Dragging {
		t.Fatalf("EndDrag() = %+v,%v", dropped, ok)
	}
	if _, active := c.Drag(); active {
		t.Fatal("drag still active after EndDrag()")
	}
}

func TestDragSnapsOnlyWhileDragging(t *testing.T) {
	settings := DefaultSettings()
	settings.SnapToGrid = true
	c := newTestCanvas(t, WithSettings(settings))
	layer := mustLayer(t, c, "Issues", KindIssue)
	pin := mustPin(t, c, layer.ID, 0.5, 0.5)

	c.StartDrag(pin.ID, pin.Position)
	moved, _ := c.UpdateDrag(geometry.Point{X: 0.62, Y: 0.33})
	if !near(moved.Position.X, 0.6) || !near(moved.Position.Y, 0.35) {
		t.Fatalf("snapped position = %+v, want (0.6, 0.35)", moved.Position)
	}
	c.EndDrag()

	direct, _ := c.MovePin(pin.ID, geometry.Point{X: 0.62, Y: 0.33})
	if direct.Position.X != 0.62 || direct.Position.Y != 0.33 {
		t.Fatalf("MovePin() = %+v, want unsnapped (0.62, 0.33)", direct.Position)
	}
}

func TestDragRecordsSingleHistoryEntry(t *testing.T) {
	c := newTestCanvas(t)
	layer := mustLayer(t, c, "Issues", KindIssue)
	pin := mustPin(t, c, layer.ID, 0.5, 0.5)

	var historyEvents int
	c.On(EventHistoryChanged, func(any) { historyEvents++ })

	c.StartDrag(pin.ID, pin.Position)
	for _, x := range []float64{0.55, 0.6, 0.65, 0.7} {
		c.UpdateDrag(geometry.Point{X: x, Y: 0.5})
	}
	c.EndDrag()
	if historyEvents != 1 {
		t.Fatalf("history entries during drag = %d, want 1", historyEvents)
	}

	if !c.Undo() {
		t.Fatal("Undo() = false")
	}
	restored, _ := c.Pin(pin.ID)
	if restored.Position != pin.Position {
		t.Fatalf("Undo() position = %+v, want %+v", restored.Position, pin.Position)
	}
}

func TestDragWithoutMovementRecordsNothing(t *testing.T) {
	c := newTestCanvas(t)
	layer := mustLayer(t, c, "Issues", KindIssue)
	pin := mustPin(t, c, layer.ID, 0.5, 0.5)

	var historyEvents int
	c.On(EventHistoryChanged, func(any) { historyEvents++ })
	c.StartDrag(pin.ID, pin.Position)
	c.EndDrag()
	if historyEvents != 0 {
		t.Fatalf("history entries = %d, want 0", historyEvents)
	}
}

func TestDragUnknownPinIsNoop(t *testing.T) {
	c := newTestCanvas(t)
	if c.StartDrag("pin-missing", geometry.Point{}) {
		t.Fatal("StartDrag(unknown) = true")
	}
	if _, ok := c.UpdateDrag(geometry.Point{X: 0.3, Y: 0.3}); ok {
		t.Fatal("UpdateDrag() without drag = true")
	}
	if _, ok := c.EndDrag(); ok {
		t.Fatal("EndDrag() without drag = true")
	}
}

func TestRemovingDraggedPinEndsDrag(t *testing.T) {
	c := newTestCanvas(t)
	layer := mustLayer(t, c, "Issues", KindIssue)
	pin := mustPin(t, c, layer.ID, 0.5, 0.5)

	c.StartDrag(pin.ID, pin.Position)
	c.RemovePin(pin.ID)
	if _, active := c.Drag(); active {
		t.Fatal("drag survived pin removal")
	}
}

func TestStartPinCreation(t *testing.T) {
	c := newTestCanvas(t)
	notes := mustLayer(t, c, "Notes", KindNote)
	first := mustLayer(t, c, "Issues A", KindIssue)
	mustLayer(t, c, "Issues B", KindIssue)
	if err := c.SetActiveLayer(notes.ID); err != nil {
		t.Fatalf("SetActiveLayer() error = %v", err)
	}

	if err := c.StartPinCreation(KindRFI); err != nil {
		t.Fatalf("StartPinCreation(rfi) error = %v", err)
	}
	if active, _ := c.ActiveLayer(); active.ID != notes.ID {
		t.Fatalf("active layer = %s, want unchanged %s", active.ID, notes.ID)
	}
	if kind, armed := c.CreationArmed(); !armed || kind != KindRFI {
		t.Fatalf("CreationArmed() = %s,%v, want rfi,true", kind, armed)
	}

	if err := c.StartPinCreation(KindIssue); err != nil {
		t.Fatalf("StartPinCreation(issue) error = %v", err)
	}
	if active, _ := c.ActiveLayer(); active.ID != first.ID {
		t.Fatalf("active layer = %s, want first issue layer %s", active.ID, first.ID)
	}
	if c.Mode() != CreateMode(KindIssue) {
		t.Fatalf("Mode() = %s, want %s", c.Mode(), CreateMode(KindIssue))
	}

	pin, err := c.PlacePin(geometry.Point{X: 0.3, Y: 0.4}, PinInput{Title: "Ponding"})
	if err != nil {
		t.Fatalf("PlacePin() error = %v", err)
	}
	if pin.LayerID != first.ID || pin.Kind != KindIssue {
		t.Fatalf("placed pin = %+v, want on %s", pin, first.ID)
	}
	if _, armed := c.CreationArmed(); armed {
		t.Fatal("creation still armed after PlacePin()")
	}
	if _, err := c.PlacePin(geometry.Point{X: 0.3, Y: 0.4}, PinInput{}); !IsCode(err, CodeValidationFailed) {
		t.Fatalf("PlacePin() while disarmed error = %v, want %s", err, CodeValidationFailed)
	}

	if err := c.StartPinCreation("roof"); !IsCode(err, CodeValidationFailed) {
		t.Fatalf("StartPinCreation(unknown) error = %v, want %s", err, CodeValidationFailed)
	}
}

func TestSetModeDisarmsCreation(t *testing.T) {
	c := newTestCanvas(t)
	mustLayer(t, c, "Issues", KindIssue)
	c.StartPinCreation(KindIssue)

	var modes []Mode
	c.On(EventModeChanged, func(data any) { modes = append(modes, data.(Mode)) })
	if err := c.SetMode(ModePan); err != nil {
		t.Fatalf("SetMode(pan) error = %v", err)
	}
	if _, armed := c.CreationArmed(); armed {
		t.Fatal("creation armed after switching to pan")
	}
	if err := c.SetMode("lasso"); !IsCode(err, CodeValidationFailed) {
		t.Fatalf("SetMode(unknown) error = %v, want %s", err, CodeValidationFailed)
	}
	if len(modes) != 1 || modes[0] != ModePan {
		t.Fatalf("mode events = %v, want [pan]", modes)
	}
}
