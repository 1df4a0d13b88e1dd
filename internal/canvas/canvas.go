// Package canvas is the in-memory state model of one roof inspection canvas:
// layers, pins, selection, interaction mode, viewport and undo history.
//
// A Canvas is not safe for concurrent use. Hosts serialise calls through a
// single owner, and every mutator tolerates stale ids so that asynchronous
// notifications can be replayed through it.
package canvas

import (
	"time"

	"smartpin/api/internal/geometry"
	"smartpin/api/internal/history"
	"smartpin/api/internal/util"
)

// Settings are canvas-wide options. GridSize and DuplicateOffset are in
// normalized units.
type Settings struct {
	ZoomLimits      geometry.ZoomLimits `json:"zoomLimits"`
	MaxLayers       int                 `json:"maxLayers"`
	HistoryDepth    int                 `json:"historyDepth"`
	SnapToGrid      bool                `json:"snapToGrid"`
	GridSize        float64             `json:"gridSize"`
	DuplicateOffset float64             `json:"duplicateOffset"`
}

func DefaultSettings() Settings {
	return Settings{
		ZoomLimits:      geometry.DefaultZoomLimits(),
		MaxLayers:       50,
		HistoryDepth:    history.DefaultMaxDepth,
		GridSize:        0.05,
		DuplicateOffset: 0.02,
	}
}

// normalized fills unset or out-of-range values with defaults.
func (s Settings) normalized() Settings {
	def := DefaultSettings()
	if !s.ZoomLimits.Valid() {
		s.ZoomLimits = def.ZoomLimits
	}
	if s.MaxLayers <= 0 {
		s.MaxLayers = def.MaxLayers
	}
	if s.HistoryDepth <= 0 {
		s.HistoryDepth = def.HistoryDepth
	}
	if s.GridSize <= 0 || s.GridSize > 1 {
		s.GridSize = def.GridSize
	}
	if s.DuplicateOffset <= 0 || s.DuplicateOffset > 1 {
		s.DuplicateOffset = def.DuplicateOffset
	}
	return s
}

// PermissionRequest names the layer operation being attempted.
type PermissionRequest struct {
	Operation string
	LayerID   string
	LayerKind LayerKind
}

type PermissionResult struct {
	Allowed bool
	Reason  string
}

// PermissionChecker gates layer mutations. It is advisory UI gating.
type PermissionChecker interface {
	HasPermission(PermissionRequest) PermissionResult
}

const (
	OpCreateLayer = "create_layer"
	OpEditLayer   = "edit_layer"
	OpDeleteLayer = "delete_layer"
	OpManageLayer = "manage_layer"
)

type Option func(*Canvas)

func WithSettings(s Settings) Option {
	return func(c *Canvas) { c.settings = s.normalized() }
}

func WithPermissions(p PermissionChecker) Option {
	return func(c *Canvas) { c.perms = p }
}

func WithClock(now func() time.Time) Option {
	return func(c *Canvas) { c.now = now }
}

func WithIDGenerator(gen func(prefix string) string) Option {
	return func(c *Canvas) { c.newID = gen }
}

type Canvas struct {
	settings Settings
	perms    PermissionChecker
	now      func() time.Time
	newID    func(prefix string) string

	layers      map[string]Layer
	order       []string
	activeLayer string
	layerFilter map[string]struct{}

	pins   []Pin
	memory map[string]struct{}

	selected      map[string]struct{}
	selectionMode SelectionMode
	selectionArea *geometry.Rect
	lastSelected  string

	mode         Mode
	creating     bool
	creationKind LayerKind
	drag         *DragState

	viewport geometry.Viewport
	history  *history.History[Snapshot]
	silent   int

	pinsVersion   uint64
	layersVersion uint64
	visibleCache  []Pin
	cacheKey      [2]uint64
	cacheValid    bool

	listeners map[EventType][]Listener
}

// New returns an empty canvas.
func New(opts ...Option) *Canvas {
	c := &Canvas{
		settings:      DefaultSettings(),
		now:           time.Now,
		newID:         util.NewID,
		layers:        make(map[string]Layer),
		layerFilter:   make(map[string]struct{}),
		memory:        make(map[string]struct{}),
		selected:      make(map[string]struct{}),
		selectionMode: SelectSingle,
		mode:          ModeSelect,
		viewport:      geometry.DefaultViewport(),
		listeners:     make(map[EventType][]Listener),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.history = newHistoryFor(c)
	return c
}

func newHistoryFor(c *Canvas) *history.History[Snapshot] {
	return history.New(c.settings.HistoryDepth, c.capture())
}

func (c *Canvas) Settings() Settings {
	return c.settings
}

// UpdateSettings replaces the settings. The history depth only applies to
// histories started after the change.
func (c *Canvas) UpdateSettings(s Settings) {
	c.settings = s.normalized()
	c.viewport.Zoom = geometry.ClampZoom(c.viewport.Zoom, c.settings.ZoomLimits)
}

// SetPermissions replaces the permission checker; nil allows everything.
func (c *Canvas) SetPermissions(p PermissionChecker) {
	c.perms = p
}

func (c *Canvas) checkPermission(op string, layerID string, kind LayerKind) error {
	if c.perms == nil {
		return nil
	}
	result := c.perms.HasPermission(PermissionRequest{Operation: op, LayerID: layerID, LayerKind: kind})
	if result.Allowed {
		return nil
	}
	reason := result.Reason
	if reason == "" {
		reason = op + " not permitted"
	}
	return opError(CodePermissionDenied, reason)
}

func (c *Canvas) touchPins() {
	c.pinsVersion++
}

func (c *Canvas) touchLayers() {
	c.layersVersion++
}

// Quietly runs fn without recording history entries; the resulting state
// replaces the present entry instead. Used when replaying remote changes.
func (c *Canvas) Quietly(fn func()) {
	c.silent++
	defer func() {
		c.silent--
		if c.silent == 0 {
			c.history.Replace(c.capture())
		}
	}()
	fn()
}

// record pushes the current state as a new history entry.
func (c *Canvas) record() {
	if c.silent > 0 {
		return
	}
	c.history.Push(c.capture())
	c.emit(EventHistoryChanged, c.HistoryStatus())
}

func (c *Canvas) HistoryStatus() HistoryStatus {
	return HistoryStatus{CanUndo: c.history.CanUndo(), CanRedo: c.history.CanRedo()}
}

func (c *Canvas) CanUndo() bool {
	return c.history.CanUndo()
}

func (c *Canvas) CanRedo() bool {
	return c.history.CanRedo()
}

// Undo restores the previous history entry. It reports false when there is
// nothing to undo.
func (c *Canvas) Undo() bool {
	c.cancelDrag()
	snapshot, ok := c.history.Undo()
	if !ok {
		return false
	}
	c.restore(snapshot)
	c.emit(EventHistoryChanged, c.HistoryStatus())
	return true
}

func (c *Canvas) Redo() bool {
	c.cancelDrag()
	snapshot, ok := c.history.Redo()
	if !ok {
		return false
	}
	c.restore(snapshot)
	c.emit(EventHistoryChanged, c.HistoryStatus())
	return true
}

func (c *Canvas) Viewport() geometry.Viewport {
	return c.viewport
}

func (c *Canvas) SetZoom(zoom float64) geometry.Viewport {
	c.viewport.Zoom = geometry.ClampZoom(zoom, c.settings.ZoomLimits)
	c.emitViewport(c.viewport)
	return c.viewport
}

func (c *Canvas) ZoomIn() geometry.Viewport {
	c.viewport = geometry.ZoomIn(c.viewport, c.settings.ZoomLimits)
	c.emitViewport(c.viewport)
	return c.viewport
}

func (c *Canvas) ZoomOut() geometry.Viewport {
	c.viewport = geometry.ZoomOut(c.viewport, c.settings.ZoomLimits)
	c.emitViewport(c.viewport)
	return c.viewport
}

func (c *Canvas) SetPan(pan geometry.Point) geometry.Viewport {
	c.viewport.Pan = pan
	c.emitViewport(c.viewport)
	return c.viewport
}

func (c *Canvas) PanBy(delta geometry.Point) geometry.Viewport {
	return c.SetPan(c.viewport.Pan.Add(delta))
}

// FitToContent frames every loaded pin. With no pins the viewport is kept.
func (c *Canvas) FitToContent(size geometry.Size, padding float64) geometry.Viewport {
	points := make([]geometry.Point, 0, len(c.pins))
	for _, pin := range c.pins {
		points = append(points, pin.Position)
	}
	c.viewport = geometry.FitToContent(points, c.viewport, size, padding, c.settings.ZoomLimits)
	c.emitViewport(c.viewport)
	return c.viewport
}

func (c *Canvas) ResetViewport() geometry.Viewport {
	c.viewport = geometry.DefaultViewport()
	c.viewport.Zoom = geometry.ClampZoom(c.viewport.Zoom, c.settings.ZoomLimits)
	c.emitViewport(c.viewport)
	return c.viewport
}

func (c *Canvas) ToScreen(p geometry.Point, size geometry.Size) geometry.Point {
	return geometry.ToScreen(p, c.viewport, size)
}

func (c *Canvas) FromScreen(p geometry.Point, size geometry.Size) geometry.Point {
	return geometry.FromScreen(p, c.viewport, size)
}
