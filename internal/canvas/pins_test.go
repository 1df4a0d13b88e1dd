package canvas

import (
	"slices"
	"testing"

	"smartpin/api/internal/geometry"
	"smartpin/api/internal/inspection"
)

func TestAddPinDeduplicates(t *testing.T) {
	c := newTestCanvas(t)
	layer := mustLayer(t, c, "Issues", KindIssue)

	pin := Pin{ID: "pin-fixed", LayerID: layer.ID, Position: geometry.Point{X: 0.5, Y: 0.5}}
	added, ok := c.AddPin(pin)
	if !ok {
		t.Fatal("AddPin() first insert failed")
	}
	if added.Kind != KindIssue || added.Status != inspection.StatusOpen {
		t.Fatalf("AddPin() = %+v, want kind and status filled", added)
	}
	if _, ok := c.AddPin(pin); ok {
		t.Fatal("AddPin() accepted a duplicate id")
	}
	if got := len(c.Pins()); got != 1 {
		t.Fatalf("pin count = %d, want 1", got)
	}
}

func TestCreatePinValidation(t *testing.T) {
	c := newTestCanvas(t)
	layer := mustLayer(t, c, "Issues", KindIssue)

	if _, err := c.CreatePin(PinInput{LayerID: "layer-x", Position: geometry.Point{X: 0.5, Y: 0.5}}); !IsCode(err, CodeLayerNotFound) {
		t.Fatalf("CreatePin(unknown layer) error = %v, want %s", err, CodeLayerNotFound)
	}
	if _, err := c.CreatePin(PinInput{LayerID: layer.ID, Position: geometry.Point{X: 1.2, Y: 0.5}}); !IsCode(err, CodeValidationFailed) {
		t.Fatalf("CreatePin(off surface) error = %v, want %s", err, CodeValidationFailed)
	}
	if _, err := c.CreatePin(PinInput{LayerID: layer.ID, Metadata: PinMetadata{Priority: "urgent"}}); !IsCode(err, CodeValidationFailed) {
		t.Fatalf("CreatePin(bad priority) error = %v, want %s", err, CodeValidationFailed)
	}
	pin, err := c.CreatePin(PinInput{LayerID: layer.ID, Position: geometry.Point{X: 0, Y: 1}})
	if err != nil {
		t.Fatalf("CreatePin(edge) error = %v", err)
	}
	if pin.Metadata.Priority != PriorityMedium || pin.Render.Scale != 1 {
		t.Fatalf("CreatePin() defaults = %+v", pin)
	}
}

func TestUpdatePinMergesAndToleratesUnknown(t *testing.T) {
	c := newTestCanvas(t)
	layer := mustLayer(t, c, "Issues", KindIssue)
	pin := mustPin(t, c, layer.ID, 0.2, 0.3)

	title := "Blistered membrane"
	updated, ok := c.UpdatePin(pin.ID, PinPatch{Title: &title})
	if !ok {
		t.Fatal("UpdatePin() reported unknown id")
	}
	if updated.Title != title || updated.Position != pin.Position {
		t.Fatalf("UpdatePin() = %+v, want title set and position kept", updated)
	}

	before := c.Pins()
	if _, ok := c.UpdatePin("pin-gone", PinPatch{Title: &title}); ok {
		t.Fatal("UpdatePin(unknown) reported success")
	}
	if c.RemovePin("pin-gone") {
		t.Fatal("RemovePin(unknown) reported success")
	}
	if _, ok := c.MovePin("pin-gone", geometry.Point{}); ok {
		t.Fatal("MovePin(unknown) reported success")
	}
	if len(c.Pins()) != len(before) {
		t.Fatal("unknown-id operations changed the store")
	}
}

func TestRemovePinsClearsSelectionAndMemory(t *testing.T) {
	c := newTestCanvas(t)
	layer := mustLayer(t, c, "Issues", KindIssue)
	a := mustPin(t, c, layer.ID, 0.1, 0.1)
	b := mustPin(t, c, layer.ID, 0.2, 0.2)
	keep := mustPin(t, c, layer.ID, 0.3, 0.3)

	c.SelectMany([]string{a.ID, keep.ID})
	c.PinToMemory(a.ID)
	c.PinToMemory(b.ID)

	removed := c.RemovePins([]string{a.ID, b.ID, "pin-unknown", a.ID})
	if removed != 2 {
		t.Fatalf("RemovePins() = %d, want 2", removed)
	}
	sel := c.Selection()
	if !slices.Equal(sel.IDs, []string{keep.ID}) {
		t.Fatalf("selection = %v, want [%s]", sel.IDs, keep.ID)
	}
	if sel.LastSelected == a.ID {
		t.Fatal("last selected still points at a removed pin")
	}
	if got := c.MemoryPins(); len(got) != 0 {
		t.Fatalf("MemoryPins() = %v, want empty", got)
	}
}

func TestDuplicatePin(t *testing.T) {
	c := newTestCanvas(t)
	layer := mustLayer(t, c, "Issues", KindIssue)
	pin := mustPin(t, c, layer.ID, 0.4, 0.99)
	c.UpdatePin(pin.ID, PinPatch{Metadata: &PinMetadata{
		Tags:        []string{"flashing"},
		Attachments: []Attachment{{ID: "att-1", Kind: AttachmentOpening}},
	}})

	dup, ok := c.DuplicatePin(pin.ID)
	if !ok {
		t.Fatal("DuplicatePin() failed")
	}
	if dup.ID == pin.ID {
		t.Fatal("duplicate reused the id")
	}
	if !near(dup.Position.X, 0.42) || !near(dup.Position.Y, 1) {
		t.Fatalf("duplicate position = %+v, want (0.42, 1)", dup.Position)
	}
	if !slices.Equal(dup.Metadata.Tags, []string{"flashing"}) || len(dup.Metadata.Attachments) != 0 {
		t.Fatalf("duplicate metadata = %+v", dup.Metadata)
	}
	if !dup.CreatedAt.After(pin.CreatedAt) {
		t.Fatal("duplicate kept the original creation time")
	}

	dup.Metadata.Tags[0] = "mutated"
	orig, _ := c.Pin(pin.ID)
	if orig.Metadata.Tags[0] != "flashing" {
		t.Fatal("returned pin shares tag storage with the store")
	}
	if _, ok := c.DuplicatePin("pin-none"); ok {
		t.Fatal("DuplicatePin(unknown) succeeded")
	}
}

func TestPinStatusWorkflow(t *testing.T) {
	c := newTestCanvas(t)
	layer := mustLayer(t, c, "Issues", KindIssue)
	parent := mustPin(t, c, layer.ID, 0.5, 0.5)
	child, found, err := c.CreateChildPin(parent.ID, PinInput{Title: "Loose screw"})
	if err != nil || !found {
		t.Fatalf("CreateChildPin() = %v,%v", found, err)
	}
	if child.ParentID != parent.ID || child.LayerID != layer.ID {
		t.Fatalf("child = %+v, want parent %s on layer %s", child, parent.ID, layer.ID)
	}
	if !near(child.Position.X, 0.52) {
		t.Fatalf("child position = %+v, want offset from parent", child.Position)
	}

	if _, _, err := c.SetPinStatus(parent.ID, inspection.StatusClosed); !IsCode(err, CodeValidationFailed) {
		t.Fatalf("Open -> Closed error = %v, want %s", err, CodeValidationFailed)
	}
	if _, _, err := c.SetPinStatus(parent.ID, inspection.StatusReadyForInspection); err != nil {
		t.Fatalf("Open -> Ready error = %v", err)
	}
	if _, _, err := c.SetPinStatus(parent.ID, inspection.StatusClosed); !IsCode(err, CodeValidationFailed) {
		t.Fatalf("close with open child error = %v, want %s", err, CodeValidationFailed)
	}
	c.SetPinStatus(child.ID, inspection.StatusReadyForInspection)
	c.SetPinStatus(child.ID, inspection.StatusClosed)
	closed, _, err := c.SetPinStatus(parent.ID, inspection.StatusClosed)
	if err != nil || closed.Status != inspection.StatusClosed {
		t.Fatalf("close parent = %v,%v", closed.Status, err)
	}

	if _, found, err := c.SetPinStatus("pin-none", inspection.StatusClosed); found || err != nil {
		t.Fatalf("SetPinStatus(unknown) = %v,%v, want false,nil", found, err)
	}
	if _, found, _ := c.CreateChildPin("pin-none", PinInput{}); found {
		t.Fatal("CreateChildPin(unknown parent) reported found")
	}
}

func TestNearbyPins(t *testing.T) {
	c := newTestCanvas(t)
	layer := mustLayer(t, c, "Issues", KindIssue)
	far := mustPin(t, c, layer.ID, 0.9, 0.9)
	second := mustPin(t, c, layer.ID, 0.54, 0.5)
	first := mustPin(t, c, layer.ID, 0.51, 0.5)

	got := c.NearbyPins(geometry.Point{X: 0.5, Y: 0.5}, 0.05)
	if len(got) != 2 || got[0].Pin.ID != first.ID || got[1].Pin.ID != second.ID {
		t.Fatalf("NearbyPins() = %v", got)
	}
	for _, n := range got {
		if n.Pin.ID == far.ID {
			t.Fatal("far pin returned")
		}
	}
}

func TestReplacePinsDropsDuplicatesAndPrunesSelection(t *testing.T) {
	c := newTestCanvas(t)
	layer := mustLayer(t, c, "Issues", KindIssue)
	old := mustPin(t, c, layer.ID, 0.1, 0.1)
	c.SelectPin(old.ID, false)

	c.ReplacePins([]Pin{
		{ID: "a", LayerID: layer.ID, Position: geometry.Point{X: 0.2, Y: 0.2}},
		{ID: "a", LayerID: layer.ID, Position: geometry.Point{X: 0.9, Y: 0.9}},
		{ID: "b", LayerID: layer.ID},
	})
	if got := ids(c.Pins()); !slices.Equal(got, []string{"a", "b"}) {
		t.Fatalf("Pins() = %v, want [a b]", got)
	}
	if len(c.Selection().IDs) != 0 {
		t.Fatal("selection kept a replaced pin")
	}
}

func TestEditPinValidates(t *testing.T) {
	c := newTestCanvas(t)
	layer := mustLayer(t, c, "Issues", KindIssue)
	parent := mustPin(t, c, layer.ID, 0.5, 0.5)
	if _, _, err := c.CreateChildPin(parent.ID, PinInput{Title: "Loose screw"}); err != nil {
		t.Fatalf("CreateChildPin() error = %v", err)
	}

	ghost := "layer-ghost"
	bogus := inspection.Status("Bogus")
	closed := inspection.StatusClosed
	self := parent.ID
	offCanvas := geometry.Point{X: 1.5, Y: 0.5}
	tests := []struct {
		name  string
		patch PinPatch
	}{
		{name: "unknown layer", patch: PinPatch{LayerID: &ghost}},
		{name: "unknown status", patch: PinPatch{Status: &bogus}},
		{name: "skips workflow", patch: PinPatch{Status: &closed}},
		{name: "own parent", patch: PinPatch{ParentID: &self}},
		{name: "off canvas", patch: PinPatch{Position: &offCanvas}},
		{name: "unknown priority", patch: PinPatch{Metadata: &PinMetadata{Priority: "urgent"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, found, err := c.EditPin(parent.ID, tt.patch)
			if !found || !IsCode(err, CodeValidationFailed) {
				t.Fatalf("EditPin() = %v,%v, want true,%s", found, err, CodeValidationFailed)
			}
			got, _ := c.Pin(parent.ID)
			if got.LayerID != layer.ID || got.Status != inspection.StatusOpen || got.ParentID != "" {
				t.Fatalf("rejected edit changed the pin: %+v", got)
			}
		})
	}

	title := "Ponding near drain"
	ready := inspection.StatusReadyForInspection
	edited, found, err := c.EditPin(parent.ID, PinPatch{Title: &title, Status: &ready})
	if err != nil || !found {
		t.Fatalf("EditPin(valid) = %v,%v", found, err)
	}
	if edited.Title != title || edited.Status != ready {
		t.Fatalf("edited = %+v", edited)
	}
	if _, found, err := c.EditPin("pin-none", PinPatch{Title: &title}); found || err != nil {
		t.Fatalf("EditPin(unknown) = %v,%v, want false,nil", found, err)
	}
}
