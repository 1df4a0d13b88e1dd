package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"smartpin/api/internal/archive"
	"smartpin/api/internal/canvas"
	"smartpin/api/internal/config"
	"smartpin/api/internal/geometry"
	"smartpin/api/internal/inspection"
	"smartpin/api/internal/rbac"
	"smartpin/api/internal/realtime"
	"smartpin/api/internal/search"
	"smartpin/api/internal/store"
)

// fakeStore keeps roofs in memory. The Fn fields override single calls.
type fakeStore struct {
	mu     sync.Mutex
	layers map[string]map[string]canvas.Layer
	pins   map[string]map[string]canvas.Pin

	pingFn    func(context.Context) error
	savePinFn func(context.Context, string, canvas.Pin) error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		layers: make(map[string]map[string]canvas.Layer),
		pins:   make(map[string]map[string]canvas.Pin),
	}
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

func (f *fakeStore) ListRoofs(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := map[string]bool{}
	roofs := []string{}
	for roofID, layers := range f.layers {
		if len(layers) > 0 && !seen[roofID] {
			seen[roofID] = true
			roofs = append(roofs, roofID)
		}
	}
	for roofID, pins := range f.pins {
		if len(pins) > 0 && !seen[roofID] {
			seen[roofID] = true
			roofs = append(roofs, roofID)
		}
	}
	sort.Strings(roofs)
	return roofs, nil
}

func (f *fakeStore) LoadLayers(_ context.Context, roofID string) ([]canvas.Layer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []canvas.Layer{}
	for _, layer := range f.layers[roofID] {
		out = append(out, layer)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (f *fakeStore) LoadPins(_ context.Context, roofID string) ([]canvas.Pin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []canvas.Pin{}
	for _, pin := range f.pins[roofID] {
		out = append(out, pin)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (f *fakeStore) SaveLayer(_ context.Context, roofID string, layer canvas.Layer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.layers[roofID] == nil {
		f.layers[roofID] = make(map[string]canvas.Layer)
	}
	f.layers[roofID][layer.ID] = layer
	return nil
}

func (f *fakeStore) SavePin(ctx context.Context, roofID string, pin canvas.Pin) error {
	if f.savePinFn != nil {
		return f.savePinFn(ctx, roofID, pin)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pins[roofID] == nil {
		f.pins[roofID] = make(map[string]canvas.Pin)
	}
	f.pins[roofID][pin.ID] = pin
	return nil
}

func (f *fakeStore) DeleteLayer(_ context.Context, roofID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.layers[roofID], id)
	return nil
}

func (f *fakeStore) DeletePin(_ context.Context, roofID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.pins[roofID], id)
	return nil
}

func (f *fakeStore) ReplaceRoof(_ context.Context, roofID string, layers []canvas.Layer, pins []canvas.Pin) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.layers[roofID] = make(map[string]canvas.Layer, len(layers))
	for _, layer := range layers {
		f.layers[roofID][layer.ID] = layer
	}
	f.pins[roofID] = make(map[string]canvas.Pin, len(pins))
	for _, pin := range pins {
		f.pins[roofID][pin.ID] = pin
	}
	return nil
}

func (f *fakeStore) Persist(_ context.Context, roofID string, kind store.EntityKind, id string, partial map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if kind != store.EntityLayer {
		return errors.New("fake store only merges layers")
	}
	layer, ok := f.layers[roofID][id]
	if !ok {
		return store.ErrNotFound
	}
	if stats, ok := partial["stats"].(canvas.LayerStats); ok {
		layer.Stats = stats
	}
	f.layers[roofID][id] = layer
	return nil
}

func (f *fakeStore) SearchPins(_ context.Context, roofID, text string, limit int) ([]canvas.Pin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []canvas.Pin{}
	for _, pin := range f.pins[roofID] {
		haystack := strings.ToLower(pin.Title + " " + pin.Metadata.Notes)
		if strings.Contains(haystack, strings.ToLower(text)) {
			out = append(out, pin)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) storedPin(roofID, id string) (canvas.Pin, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pin, ok := f.pins[roofID][id]
	return pin, ok
}

func (f *fakeStore) pinCount(roofID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pins[roofID])
}

type fakePhotos struct {
	uploadFn func(context.Context, string, string, canvas.AttachmentKind, io.Reader, int64, string) (canvas.Attachment, error)
	deleted  []string
}

func (f *fakePhotos) Upload(ctx context.Context, roofID, pinID string, kind canvas.AttachmentKind, body io.Reader, size int64, contentType string) (canvas.Attachment, error) {
	if f.uploadFn != nil {
		return f.uploadFn(ctx, roofID, pinID, kind, body, size, contentType)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return canvas.Attachment{}, err
	}
	return canvas.Attachment{
		ID:          "att_1",
		Kind:        kind,
		ObjectKey:   "roofs/" + roofID + "/pins/" + pinID + "/" + string(kind) + "/att_1.jpg",
		ContentType: contentType,
		Size:        int64(len(data)),
	}, nil
}

func (f *fakePhotos) URL(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://photos.test/" + key + "?signed=1", nil
}

func (f *fakePhotos) Delete(_ context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	return nil
}

func newTestService(t *testing.T, fs *fakeStore) *Service {
	t.Helper()
	svc := newService(config.Config{
		TokenSecret:  "test-secret",
		TokenTTL:     time.Hour,
		NearbyRadius: 0.05,
		PresenceTTL:  time.Minute,
		PhotoURLTTL:  time.Minute,
	}, config.BuiltinCanvasDefaults(), fs)
	t.Cleanup(svc.Close)
	return svc
}

var (
	inspector  = Actor{UserID: "usr_ivy", Name: "Ivy", Role: rbac.RoleInspector}
	supervisor = Actor{UserID: "usr_sam", Name: "Sam", Role: rbac.RoleSupervisor}
	viewer     = Actor{UserID: "usr_val", Name: "Val", Role: rbac.RoleViewer}
)

func layerOfKind(t *testing.T, svc *Service, roofID string, actor Actor, kind canvas.LayerKind) canvas.Layer {
	t.Helper()
	var layer canvas.Layer
	err := svc.WithCanvas(context.Background(), roofID, actor, rbac.ActionRead, func(c *canvas.Canvas) error {
		for _, l := range c.Layers() {
			if l.Kind == kind {
				layer = l
				return nil
			}
		}
		return errors.New("no layer of kind " + string(kind))
	})
	if err != nil {
		t.Fatalf("layerOfKind(%s) error = %v", kind, err)
	}
	return layer
}

func createPin(t *testing.T, svc *Service, roofID string, actor Actor, input canvas.PinInput) canvas.Pin {
	t.Helper()
	var pin canvas.Pin
	err := svc.WithCanvas(context.Background(), roofID, actor, rbac.ActionEditPins, func(c *canvas.Canvas) error {
		created, err := c.CreatePin(input)
		pin = created
		return err
	})
	if err != nil {
		t.Fatalf("CreatePin() error = %v", err)
	}
	return pin
}

func pinIDs(t *testing.T, svc *Service, roofID string, actor Actor) []string {
	t.Helper()
	var ids []string
	err := svc.WithCanvas(context.Background(), roofID, actor, rbac.ActionRead, func(c *canvas.Canvas) error {
		for _, pin := range c.Pins() {
			ids = append(ids, pin.ID)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("read pins error = %v", err)
	}
	return ids
}

func TestOpeningRoofSeedsDefaultLayersOnce(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs)
	ctx := context.Background()

	var names []string
	if err := svc.WithCanvas(ctx, "roof-1", inspector, rbac.ActionRead, func(c *canvas.Canvas) error {
		for _, layer := range c.Layers() {
			names = append(names, layer.Name)
		}
		return nil
	}); err != nil {
		t.Fatalf("WithCanvas() error = %v", err)
	}
	if strings.Join(names, ",") != "Issues,RFIs,Details,Notes" {
		t.Fatalf("seeded layers = %v", names)
	}

	stored, _ := fs.LoadLayers(ctx, "roof-1")
	if len(stored) != 4 {
		t.Fatalf("stored layers = %d, want 4", len(stored))
	}

	other := newTestService(t, fs)
	if err := other.WithCanvas(ctx, "roof-1", inspector, rbac.ActionRead, func(*canvas.Canvas) error { return nil }); err != nil {
		t.Fatalf("second open error = %v", err)
	}
	stored, _ = fs.LoadLayers(ctx, "roof-1")
	if len(stored) != 4 {
		t.Fatalf("stored layers after reopen = %d, want 4", len(stored))
	}
}

func TestWithCanvasRejectsBadRoofAndRole(t *testing.T) {
	svc := newTestService(t, newFakeStore())
	ctx := context.Background()

	err := svc.WithCanvas(ctx, "../etc", inspector, rbac.ActionRead, func(*canvas.Canvas) error { return nil })
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != http.StatusUnprocessableEntity {
		t.Fatalf("bad roof id error = %v, want validation", err)
	}

	err = svc.WithCanvas(ctx, "roof-1", viewer, rbac.ActionEditPins, func(*canvas.Canvas) error {
		t.Fatal("fn ran for a viewer edit")
		return nil
	})
	if !errors.As(err, &domainErr) || domainErr.Status != http.StatusForbidden {
		t.Fatalf("viewer edit error = %v, want forbidden", err)
	}
}

func TestLayerOperationsCheckedInsideCanvas(t *testing.T) {
	svc := newTestService(t, newFakeStore())
	err := svc.WithCanvas(context.Background(), "roof-1", inspector, rbac.ActionEditPins, func(c *canvas.Canvas) error {
		_, err := c.CreateLayer(canvas.LayerInput{Name: "Extra", Kind: canvas.KindNote})
		return err
	})
	if !canvas.IsCode(err, canvas.CodePermissionDenied) {
		t.Fatalf("inspector CreateLayer() error = %v, want %s", err, canvas.CodePermissionDenied)
	}
}

func TestMutationsArePersisted(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs)
	issues := layerOfKind(t, svc, "roof-1", inspector, canvas.KindIssue)

	pin := createPin(t, svc, "roof-1", inspector, canvas.PinInput{LayerID: issues.ID, Position: geometry.Point{X: 0.2, Y: 0.3}, Title: "Split seam"})
	stored, ok := fs.storedPin("roof-1", pin.ID)
	if !ok || stored.Title != "Split seam" {
		t.Fatalf("stored pin = %+v,%v", stored, ok)
	}
	if stored.Render.Selected {
		t.Fatal("render flags were persisted")
	}

	err := svc.WithCanvas(context.Background(), "roof-1", inspector, rbac.ActionEditPins, func(c *canvas.Canvas) error {
		c.SelectPin(pin.ID, false)
		c.MovePin(pin.ID, geometry.Point{X: 0.5, Y: 0.5})
		return nil
	})
	if err != nil {
		t.Fatalf("MovePin error = %v", err)
	}
	stored, _ = fs.storedPin("roof-1", pin.ID)
	if stored.Position != (geometry.Point{X: 0.5, Y: 0.5}) {
		t.Fatalf("stored position = %+v", stored.Position)
	}
	if stored.Render.Selected {
		t.Fatal("selection leaked into the store")
	}

	if err := svc.WithCanvas(context.Background(), "roof-1", inspector, rbac.ActionEditPins, func(c *canvas.Canvas) error {
		c.RemovePin(pin.ID)
		return nil
	}); err != nil {
		t.Fatalf("RemovePin error = %v", err)
	}
	if _, ok := fs.storedPin("roof-1", pin.ID); ok {
		t.Fatal("removed pin still stored")
	}
}

func TestFailedOperationDiscardsChanges(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs)
	issues := layerOfKind(t, svc, "roof-1", inspector, canvas.KindIssue)

	boom := errors.New("boom")
	err := svc.WithCanvas(context.Background(), "roof-1", inspector, rbac.ActionEditPins, func(c *canvas.Canvas) error {
		if _, err := c.CreatePin(canvas.PinInput{LayerID: issues.ID}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want boom", err)
	}
	if n := fs.pinCount("roof-1"); n != 0 {
		t.Fatalf("stored pins = %d, want 0", n)
	}
	if ids := pinIDs(t, svc, "roof-1", inspector); len(ids) != 0 {
		t.Fatalf("canvas pins after failed operation = %v, want none", ids)
	}
	var canUndo bool
	if err := svc.WithCanvas(context.Background(), "roof-1", inspector, rbac.ActionRead, func(c *canvas.Canvas) error {
		canUndo = c.CanUndo()
		return nil
	}); err != nil {
		t.Fatalf("WithCanvas(read) error = %v", err)
	}
	if canUndo {
		t.Fatal("failed operation left an undo entry")
	}
}

func TestSessionSkipsUnloadableRecords(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs)
	issues := layerOfKind(t, svc, "roof-1", inspector, canvas.KindIssue)
	good := createPin(t, svc, "roof-1", inspector, canvas.PinInput{LayerID: issues.ID, Position: geometry.Point{X: 0.4, Y: 0.4}})

	orphan := good
	orphan.ID = "pin-orphan"
	orphan.LayerID = "layer-ghost"
	bogus := good
	bogus.ID = "pin-bogus"
	bogus.Status = "Bogus"
	for _, pin := range []canvas.Pin{orphan, bogus} {
		if err := fs.SavePin(context.Background(), "roof-1", pin); err != nil {
			t.Fatalf("SavePin(%s) error = %v", pin.ID, err)
		}
	}

	ids := pinIDs(t, svc, "roof-1", viewer)
	if len(ids) != 1 || ids[0] != good.ID {
		t.Fatalf("new session pins = %v, want [%s]", ids, good.ID)
	}
}

func TestPeersSeeEachOthersChanges(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs)
	issues := layerOfKind(t, svc, "roof-1", inspector, canvas.KindIssue)
	if got := pinIDs(t, svc, "roof-1", supervisor); len(got) != 0 {
		t.Fatalf("supervisor pins = %v, want none", got)
	}

	pin := createPin(t, svc, "roof-1", inspector, canvas.PinInput{LayerID: issues.ID, Position: geometry.Point{X: 0.1, Y: 0.1}})
	if got := pinIDs(t, svc, "roof-1", supervisor); len(got) != 1 || got[0] != pin.ID {
		t.Fatalf("supervisor pins = %v, want [%s]", got, pin.ID)
	}

	var canUndo bool
	_ = svc.WithCanvas(context.Background(), "roof-1", supervisor, rbac.ActionRead, func(c *canvas.Canvas) error {
		canUndo = c.CanUndo()
		return nil
	})
	if canUndo {
		t.Fatal("peer change landed in the supervisor's history")
	}

	err := svc.WithCanvas(context.Background(), "roof-1", supervisor, rbac.ActionEditLayers, func(c *canvas.Canvas) error {
		order := c.LayerOrder()
		order[0], order[1] = order[1], order[0]
		return c.ReorderLayers(order)
	})
	if err != nil {
		t.Fatalf("ReorderLayers error = %v", err)
	}
	var inspectorOrder, supervisorOrder []string
	_ = svc.WithCanvas(context.Background(), "roof-1", inspector, rbac.ActionRead, func(c *canvas.Canvas) error {
		inspectorOrder = c.LayerOrder()
		return nil
	})
	_ = svc.WithCanvas(context.Background(), "roof-1", supervisor, rbac.ActionRead, func(c *canvas.Canvas) error {
		supervisorOrder = c.LayerOrder()
		return nil
	})
	if strings.Join(inspectorOrder, ",") != strings.Join(supervisorOrder, ",") {
		t.Fatalf("orders diverged: %v vs %v", inspectorOrder, supervisorOrder)
	}
	stored, _ := fs.LoadLayers(context.Background(), "roof-1")
	if stored[0].ID != supervisorOrder[0] {
		t.Fatalf("stored first layer = %s, want %s", stored[0].ID, supervisorOrder[0])
	}
}

func TestUndoReconcilesStoreAndPeers(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs)
	issues := layerOfKind(t, svc, "roof-1", inspector, canvas.KindIssue)
	pinIDs(t, svc, "roof-1", supervisor)

	pin := createPin(t, svc, "roof-1", inspector, canvas.PinInput{LayerID: issues.ID})
	if err := svc.WithCanvas(context.Background(), "roof-1", inspector, rbac.ActionEditPins, func(c *canvas.Canvas) error {
		if !c.Undo() {
			return errors.New("nothing to undo")
		}
		return nil
	}); err != nil {
		t.Fatalf("Undo error = %v", err)
	}
	if _, ok := fs.storedPin("roof-1", pin.ID); ok {
		t.Fatal("undone pin still stored")
	}
	if got := pinIDs(t, svc, "roof-1", supervisor); len(got) != 0 {
		t.Fatalf("supervisor pins after undo = %v", got)
	}

	if err := svc.WithCanvas(context.Background(), "roof-1", inspector, rbac.ActionEditPins, func(c *canvas.Canvas) error {
		c.Redo()
		return nil
	}); err != nil {
		t.Fatalf("Redo error = %v", err)
	}
	if _, ok := fs.storedPin("roof-1", pin.ID); !ok {
		t.Fatal("redone pin not stored")
	}
	if got := pinIDs(t, svc, "roof-1", supervisor); len(got) != 1 {
		t.Fatalf("supervisor pins after redo = %v", got)
	}
}

func TestSetPinStatusNeedsCloseRight(t *testing.T) {
	svc := newTestService(t, newFakeStore())
	ctx := context.Background()
	issues := layerOfKind(t, svc, "roof-1", inspector, canvas.KindIssue)
	pin := createPin(t, svc, "roof-1", inspector, canvas.PinInput{LayerID: issues.ID})

	if _, err := svc.SetPinStatus(ctx, "roof-1", inspector, pin.ID, inspection.StatusClosed); err == nil {
		t.Fatal("inspector closed an issue")
	}
	got, err := svc.SetPinStatus(ctx, "roof-1", inspector, pin.ID, inspection.StatusReadyForInspection)
	if err != nil || got.Status != inspection.StatusReadyForInspection {
		t.Fatalf("SetPinStatus(ready) = %v,%v", got.Status, err)
	}
	got, err = svc.SetPinStatus(ctx, "roof-1", supervisor, pin.ID, inspection.StatusClosed)
	if err != nil || got.Status != inspection.StatusClosed {
		t.Fatalf("SetPinStatus(closed) = %v,%v", got.Status, err)
	}
	if _, err := svc.SetPinStatus(ctx, "roof-1", supervisor, "missing", inspection.StatusOpen); err == nil {
		t.Fatal("SetPinStatus(missing) error = nil")
	}
}

func TestFilterAndSelectWhere(t *testing.T) {
	svc := newTestService(t, newFakeStore())
	ctx := context.Background()
	issues := layerOfKind(t, svc, "roof-1", inspector, canvas.KindIssue)
	notes := layerOfKind(t, svc, "roof-1", inspector, canvas.KindNote)
	high := createPin(t, svc, "roof-1", inspector, canvas.PinInput{LayerID: issues.ID, Metadata: canvas.PinMetadata{Priority: canvas.PriorityHigh}})
	createPin(t, svc, "roof-1", inspector, canvas.PinInput{LayerID: issues.ID, Metadata: canvas.PinMetadata{Priority: canvas.PriorityLow}})
	createPin(t, svc, "roof-1", inspector, canvas.PinInput{LayerID: notes.ID})

	pins, err := svc.FilterPins(ctx, "roof-1", viewer, issues.ID, "")
	if err != nil || len(pins) != 2 {
		t.Fatalf("FilterPins(layer) = %d,%v, want 2", len(pins), err)
	}
	pins, err = svc.FilterPins(ctx, "roof-1", viewer, "", `pin.priority == "high"`)
	if err != nil || len(pins) != 1 || pins[0].ID != high.ID {
		t.Fatalf("FilterPins(where) = %v,%v", pins, err)
	}
	if _, err := svc.FilterPins(ctx, "roof-1", viewer, "", "pin.priority =="); err == nil {
		t.Fatal("FilterPins(bad rule) error = nil")
	}

	selection, err := svc.SelectWhere(ctx, "roof-1", viewer, `pin.priority == "high"`)
	if err != nil {
		t.Fatalf("SelectWhere() error = %v", err)
	}
	if len(selection.IDs) != 1 || selection.IDs[0] != high.ID {
		t.Fatalf("selection = %v, want [%s]", selection.IDs, high.ID)
	}
}

func TestNearbyPinsUsesDefaultRadius(t *testing.T) {
	svc := newTestService(t, newFakeStore())
	issues := layerOfKind(t, svc, "roof-1", inspector, canvas.KindIssue)
	near := createPin(t, svc, "roof-1", inspector, canvas.PinInput{LayerID: issues.ID, Position: geometry.Point{X: 0.51, Y: 0.5}})
	createPin(t, svc, "roof-1", inspector, canvas.PinInput{LayerID: issues.ID, Position: geometry.Point{X: 0.9, Y: 0.9}})

	result, err := svc.NearbyPins(context.Background(), "roof-1", viewer, geometry.Point{X: 0.5, Y: 0.5}, 0)
	if err != nil {
		t.Fatalf("NearbyPins() error = %v", err)
	}
	if len(result.Pins) != 1 || result.Pins[0].Pin.ID != near.ID {
		t.Fatalf("nearby = %+v, want only %s", result.Pins, near.ID)
	}
	if len(result.Advice) == 0 {
		t.Fatal("advice empty for an open neighbour")
	}
}

func TestReviewPinReportsBlockers(t *testing.T) {
	svc := newTestService(t, newFakeStore())
	issues := layerOfKind(t, svc, "roof-1", inspector, canvas.KindIssue)
	parent := createPin(t, svc, "roof-1", inspector, canvas.PinInput{LayerID: issues.ID})
	err := svc.WithCanvas(context.Background(), "roof-1", inspector, rbac.ActionEditPins, func(c *canvas.Canvas) error {
		_, _, err := c.CreateChildPin(parent.ID, canvas.PinInput{})
		return err
	})
	if err != nil {
		t.Fatalf("CreateChildPin error = %v", err)
	}

	result, err := svc.ReviewPin(context.Background(), "roof-1", viewer, parent.ID)
	if err != nil {
		t.Fatalf("ReviewPin() error = %v", err)
	}
	if result.PinID != parent.ID || result.Decision != inspection.DecisionReject {
		t.Fatalf("review = %+v, want rejected", result)
	}
	if result.Checks.AllChildrenClosed {
		t.Fatal("open child not reported")
	}
}

func TestUploadPhotoAttachesToPin(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs)
	photos := &fakePhotos{}
	svc.photos = photos
	issues := layerOfKind(t, svc, "roof-1", inspector, canvas.KindIssue)
	pin := createPin(t, svc, "roof-1", inspector, canvas.PinInput{LayerID: issues.ID})
	ctx := context.Background()

	attachment, err := svc.UploadPhoto(ctx, "roof-1", inspector, pin.ID, canvas.AttachmentOpening, strings.NewReader("jpeg"), 4, "image/jpeg")
	if err != nil {
		t.Fatalf("UploadPhoto() error = %v", err)
	}
	stored, _ := fs.storedPin("roof-1", pin.ID)
	if len(stored.Metadata.Attachments) != 1 || stored.Metadata.Attachments[0].ID != attachment.ID {
		t.Fatalf("stored attachments = %+v", stored.Metadata.Attachments)
	}

	url, err := svc.PhotoURL(ctx, "roof-1", viewer, pin.ID, attachment.ID)
	if err != nil || !strings.Contains(url, attachment.ObjectKey) {
		t.Fatalf("PhotoURL() = %q,%v", url, err)
	}
	if _, err := svc.PhotoURL(ctx, "roof-1", viewer, pin.ID, "att_missing"); err == nil {
		t.Fatal("PhotoURL(missing) error = nil")
	}
	if _, err := svc.UploadPhoto(ctx, "roof-1", viewer, pin.ID, canvas.AttachmentOpening, strings.NewReader("x"), 1, "image/jpeg"); err == nil {
		t.Fatal("viewer uploaded a photo")
	}
}

func TestUploadPhotoWithoutStorage(t *testing.T) {
	svc := newTestService(t, newFakeStore())
	_, err := svc.UploadPhoto(context.Background(), "roof-1", inspector, "pin", canvas.AttachmentOpening, strings.NewReader("x"), 1, "image/jpeg")
	if !isUnavailable(err) {
		t.Fatalf("UploadPhoto() error = %v, want unavailable", err)
	}
}

func TestVersionsRoundTrip(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs)
	svc.archive = archive.New(t.TempDir())
	ctx := context.Background()
	issues := layerOfKind(t, svc, "roof-1", inspector, canvas.KindIssue)
	first := createPin(t, svc, "roof-1", inspector, canvas.PinInput{LayerID: issues.ID, Title: "first"})

	v1, err := svc.CommitVersion(ctx, "roof-1", inspector, "baseline", "v1")
	if err != nil || !v1.Created {
		t.Fatalf("CommitVersion() = %+v,%v", v1, err)
	}
	again, err := svc.CommitVersion(ctx, "roof-1", inspector, "no change", "")
	if err != nil || again.Created {
		t.Fatalf("CommitVersion(unchanged) = %+v,%v, want not created", again, err)
	}

	second := createPin(t, svc, "roof-1", inspector, canvas.PinInput{LayerID: issues.ID, Title: "second"})
	if _, err := svc.CommitVersion(ctx, "roof-1", inspector, "more", ""); err != nil {
		t.Fatalf("CommitVersion(second) error = %v", err)
	}
	history, err := svc.Versions(ctx, "roof-1", viewer, 10)
	if err != nil || len(history) != 2 {
		t.Fatalf("Versions() = %d,%v, want 2", len(history), err)
	}

	if _, err := svc.RestoreVersion(ctx, "roof-1", supervisor, v1.Revision.Hash); err != nil {
		t.Fatalf("RestoreVersion() error = %v", err)
	}
	if _, ok := fs.storedPin("roof-1", second.ID); ok {
		t.Fatal("restore kept the later pin in the store")
	}
	if _, ok := fs.storedPin("roof-1", first.ID); !ok {
		t.Fatal("restore dropped the archived pin")
	}
	if got := pinIDs(t, svc, "roof-1", inspector); len(got) != 1 || got[0] != first.ID {
		t.Fatalf("inspector pins after restore = %v", got)
	}
	if _, err := svc.RestoreVersion(ctx, "roof-2", supervisor, v1.Revision.Hash); err == nil {
		t.Fatal("RestoreVersion(other roof) error = nil")
	}
}

func TestSearchFallsBackToStore(t *testing.T) {
	svc := newTestService(t, newFakeStore())
	issues := layerOfKind(t, svc, "roof-1", inspector, canvas.KindIssue)
	createPin(t, svc, "roof-1", inspector, canvas.PinInput{LayerID: issues.ID, Title: "Blistered membrane"})
	createPin(t, svc, "roof-1", inspector, canvas.PinInput{LayerID: issues.ID, Title: "Loose flashing"})

	resp, err := svc.Search(context.Background(), viewer, search.Query{RoofID: "roof-1", Text: "membrane"})
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if resp.Source != "store" || resp.Total != 1 || resp.Results[0].Title != "Blistered membrane" {
		t.Fatalf("Search() = %+v", resp)
	}
}

func TestBootstrapListsStoredRoofs(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs)
	layerOfKind(t, svc, "roof-a", inspector, canvas.KindIssue)
	layerOfKind(t, svc, "roof-b", inspector, canvas.KindIssue)

	if err := newTestService(t, fs).Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	roofs, _ := svc.ListRoofs(context.Background())
	if strings.Join(roofs, ",") != "roof-a,roof-b" {
		t.Fatalf("ListRoofs() = %v", roofs)
	}
}

func TestRecordRenderSamplePersists(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs)
	issues := layerOfKind(t, svc, "roof-1", viewer, canvas.KindIssue)

	stats, err := svc.RecordRenderSample(context.Background(), "roof-1", viewer, issues.ID, 12.5, 2048)
	if err != nil {
		t.Fatalf("RecordRenderSample() error = %v", err)
	}
	if stats.RenderTimeMs != 12.5 || stats.MemoryBytes != 2048 {
		t.Fatalf("stats = %+v", stats)
	}
	stored, _ := fs.LoadLayers(context.Background(), "roof-1")
	for _, layer := range stored {
		if layer.ID == issues.ID && layer.Stats.RenderTimeMs != 12.5 {
			t.Fatalf("stored stats = %+v", layer.Stats)
		}
	}
	if _, err := svc.RecordRenderSample(context.Background(), "roof-1", viewer, "missing", 1, 1); err == nil {
		t.Fatal("RecordRenderSample(missing) error = nil")
	}
}

func TestRealtimeReachesOtherInstances(t *testing.T) {
	redis := miniredis.RunT(t)
	fs := newFakeStore()
	ctx := context.Background()

	newInstance := func(origin string) *Service {
		bus, err := realtime.NewBus("redis://"+redis.Addr(), origin)
		if err != nil {
			t.Fatalf("NewBus(%s) error = %v", origin, err)
		}
		t.Cleanup(func() { _ = bus.Close() })
		svc := newTestService(t, fs)
		svc.bus = bus
		return svc
	}
	a := newInstance("instance-a")
	b := newInstance("instance-b")

	issues := layerOfKind(t, a, "roof-1", inspector, canvas.KindIssue)
	pinIDs(t, b, "roof-1", supervisor)

	pin := createPin(t, a, "roof-1", inspector, canvas.PinInput{LayerID: issues.ID, Title: "remote"})

	deadline := time.Now().Add(2 * time.Second)
	for {
		got := pinIDs(t, b, "roof-1", supervisor)
		if len(got) == 1 && got[0] == pin.ID {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("instance b pins = %v, want [%s]", got, pin.ID)
		}
		time.Sleep(10 * time.Millisecond)
	}

	online, err := a.JoinPresence(ctx, "roof-1", inspector)
	if err != nil || len(online) != 1 || online[0] != inspector.UserID {
		t.Fatalf("JoinPresence() = %v,%v", online, err)
	}
	online, err = b.Presence(ctx, "roof-1")
	if err != nil || len(online) != 1 {
		t.Fatalf("Presence() on b = %v,%v", online, err)
	}
	if err := a.LeavePresence(ctx, "roof-1", inspector); err != nil {
		t.Fatalf("LeavePresence() error = %v", err)
	}
}

func TestStoreErrorSurfaces(t *testing.T) {
	fs := newFakeStore()
	svc := newTestService(t, fs)
	issues := layerOfKind(t, svc, "roof-1", inspector, canvas.KindIssue)
	fs.savePinFn = func(context.Context, string, canvas.Pin) error { return store.ErrNotFound }

	err := svc.WithCanvas(context.Background(), "roof-1", inspector, rbac.ActionEditPins, func(c *canvas.Canvas) error {
		_, err := c.CreatePin(canvas.PinInput{LayerID: issues.ID})
		return err
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("WithCanvas() error = %v, want store error", err)
	}
}
