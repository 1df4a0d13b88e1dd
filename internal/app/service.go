package app

import (
	"context"
	"fmt"
	"io"
	"log"
	"regexp"
	"sync"
	"time"

	"smartpin/api/internal/archive"
	"smartpin/api/internal/auth"
	"smartpin/api/internal/canvas"
	"smartpin/api/internal/config"
	"smartpin/api/internal/photos"
	"smartpin/api/internal/rbac"
	"smartpin/api/internal/realtime"
	"smartpin/api/internal/search"
	"smartpin/api/internal/store"
)

// Actor is the caller of a service operation, taken from the bearer token.
type Actor struct {
	UserID string
	Name   string
	Role   rbac.Role
}

func anonymous() Actor {
	return Actor{UserID: "anonymous", Name: "Anonymous", Role: rbac.RoleViewer}
}

type canvasStore interface {
	Ping(context.Context) error
	ListRoofs(context.Context) ([]string, error)
	LoadLayers(context.Context, string) ([]canvas.Layer, error)
	LoadPins(context.Context, string) ([]canvas.Pin, error)
	SaveLayer(context.Context, string, canvas.Layer) error
	SavePin(context.Context, string, canvas.Pin) error
	DeleteLayer(context.Context, string, string) error
	DeletePin(context.Context, string, string) error
	ReplaceRoof(context.Context, string, []canvas.Layer, []canvas.Pin) error
	Persist(ctx context.Context, roofID string, kind store.EntityKind, id string, partial map[string]any) error
	SearchPins(context.Context, string, string, int) ([]canvas.Pin, error)
}

type photoStore interface {
	Upload(ctx context.Context, roofID, pinID string, kind canvas.AttachmentKind, body io.Reader, size int64, contentType string) (canvas.Attachment, error)
	URL(ctx context.Context, key string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, key string) error
}

type searcher interface {
	Search(context.Context, search.Query) search.Response
	IndexPin(string, canvas.Pin)
	DeletePin(string)
	ReindexRoof(string, []canvas.Pin)
}

// Deps are the collaborators wired in by cmd/api. Only Store is required.
type Deps struct {
	Store   *store.Store
	Bus     *realtime.Bus
	Photos  *photos.Store
	Search  *search.Service
	Archive *archive.Archive
}

// Service hosts one canvas per user and roof. Every mutation is persisted,
// indexed and fanned out to the other canvases of the roof, locally and
// through the realtime bus.
type Service struct {
	cfg      config.Config
	defaults config.CanvasDefaults
	store    canvasStore
	bus      *realtime.Bus
	photos   photoStore
	search   searcher
	archive  *archive.Archive
	tokens   *auth.Issuer
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	roofs map[string]*roofRoom
}

func New(cfg config.Config, defaults config.CanvasDefaults, deps Deps) *Service {
	s := newService(cfg, defaults, deps.Store)
	s.bus = deps.Bus
	s.archive = deps.Archive
	if deps.Photos != nil {
		s.photos = deps.Photos
	}
	if deps.Search != nil {
		s.search = deps.Search
	}
	return s
}

func newService(cfg config.Config, defaults config.CanvasDefaults, dataStore canvasStore) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		cfg:      cfg,
		defaults: defaults,
		store:    dataStore,
		search:   search.NewService(nil, dataStore),
		tokens:   auth.NewIssuer(cfg.TokenSecret, cfg.TokenTTL),
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		roofs:    make(map[string]*roofRoom),
	}
}

// Close stops realtime subscriptions.
func (s *Service) Close() {
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, room := range s.roofs {
		if room.sub != nil {
			if err := room.sub.Close(); err != nil {
				log.Printf("realtime: close subscription %s: %v", room.id, err)
			}
		}
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Bootstrap indexes every stored roof so that search works after a restart.
func (s *Service) Bootstrap(ctx context.Context) error {
	roofs, err := s.store.ListRoofs(ctx)
	if err != nil {
		return err
	}
	for _, roofID := range roofs {
		pins, err := s.store.LoadPins(ctx, roofID)
		if err != nil {
			return err
		}
		s.search.ReindexRoof(roofID, pins)
	}
	log.Printf("bootstrap: %d roofs indexed", len(roofs))
	return nil
}

func (s *Service) Login(name, role string) (string, auth.Claims, error) {
	return s.tokens.Issue(name, string(rbac.Normalize(role)))
}

// ActorFromToken resolves a bearer token. An empty token is the anonymous
// viewer.
func (s *Service) ActorFromToken(token string) (Actor, error) {
	if token == "" {
		return anonymous(), nil
	}
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return Actor{}, err
	}
	return Actor{UserID: claims.Sub, Name: claims.Name, Role: rbac.Normalize(claims.Role)}, nil
}

func (s *Service) ListRoofs(ctx context.Context) ([]string, error) {
	return s.store.ListRoofs(ctx)
}

// roofIDPattern keeps roof ids usable as URL segments, channel names and
// archive directory names.
var roofIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,99}$`)

func validRoofID(roofID string) bool {
	return roofIDPattern.MatchString(roofID)
}

// WithCanvas runs fn against the actor's canvas of roofID, then persists
// and publishes whatever fn changed. action is checked against the actor's
// role first; layer operations are additionally gated inside the canvas.
// When fn fails the canvas is rolled back to its state before the call.
func (s *Service) WithCanvas(ctx context.Context, roofID string, actor Actor, action rbac.Action, fn func(*canvas.Canvas) error) error {
	if !rbac.Can(actor.Role, action) {
		return forbidden(string(action))
	}
	room, sess, err := s.session(ctx, roofID, actor)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	checkpoint := sess.canvas.Checkpoint()
	sess.canvas.SetPermissions(rbac.Checker{Role: actor.Role})
	err = fn(sess.canvas)
	sess.canvas.SetPermissions(nil)
	if err != nil {
		sess.canvas.Rollback(checkpoint)
		sess.changes = newChangeSet()
		sess.mu.Unlock()
		return err
	}
	notes, err := s.flush(ctx, sess)
	sess.mu.Unlock()

	s.fanOut(ctx, room, sess, notes)
	return err
}

// roofRoom groups the canvases open on one roof in this process.
type roofRoom struct {
	id  string
	sub *realtime.Subscription

	mu       sync.Mutex
	sessions map[string]*userSession
}

type userSession struct {
	roofID string
	userID string

	mu      sync.Mutex
	canvas  *canvas.Canvas
	changes *changeSet
}

func (s *Service) session(ctx context.Context, roofID string, actor Actor) (*roofRoom, *userSession, error) {
	if !validRoofID(roofID) {
		return nil, nil, validation("invalid roof id")
	}
	room, err := s.room(ctx, roofID)
	if err != nil {
		return nil, nil, err
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	if sess, ok := room.sessions[actor.UserID]; ok {
		return room, sess, nil
	}

	layers, err := s.store.LoadLayers(ctx, roofID)
	if err != nil {
		return nil, nil, err
	}
	pins, err := s.store.LoadPins(ctx, roofID)
	if err != nil {
		return nil, nil, err
	}
	c := canvas.New(canvas.WithSettings(s.defaults.Settings()), canvas.WithClock(s.now))
	for _, problem := range c.LoadStored(layers, pins) {
		log.Printf("store: roof %s: skipped stored record: %s", roofID, problem)
	}
	sess := &userSession{roofID: roofID, userID: actor.UserID, canvas: c, changes: newChangeSet()}
	sess.track()
	room.sessions[actor.UserID] = sess
	return room, sess, nil
}

// room returns the room for roofID, seeding the roof's default layers and
// subscribing to remote changes the first time it is opened.
func (s *Service) room(ctx context.Context, roofID string) (*roofRoom, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if room, ok := s.roofs[roofID]; ok {
		return room, nil
	}

	if err := s.seed(ctx, roofID); err != nil {
		return nil, err
	}
	room := &roofRoom{id: roofID, sessions: make(map[string]*userSession)}
	if s.bus != nil {
		sub, err := s.bus.Subscribe(s.ctx, roofID, room.applyRemote)
		if err != nil {
			log.Printf("realtime: subscribe roof %s: %v", roofID, err)
		} else {
			room.sub = sub
		}
	}
	s.roofs[roofID] = room
	return room, nil
}

func (s *Service) seed(ctx context.Context, roofID string) error {
	layers, err := s.store.LoadLayers(ctx, roofID)
	if err != nil {
		return err
	}
	if len(layers) > 0 {
		return nil
	}
	pins, err := s.store.LoadPins(ctx, roofID)
	if err != nil {
		return err
	}
	if len(pins) > 0 {
		return nil
	}

	c := canvas.New(canvas.WithSettings(s.defaults.Settings()), canvas.WithClock(s.now))
	for _, input := range s.defaults.SeedInputs() {
		layer, err := c.CreateLayer(input)
		if err != nil {
			return fmt.Errorf("seed layer %q: %w", input.Name, err)
		}
		if err := s.store.SaveLayer(ctx, roofID, layer); err != nil {
			return err
		}
	}
	return nil
}

// applyRemote replays a notification from another process onto every
// canvas open on the roof.
func (r *roofRoom) applyRemote(n realtime.Notification) {
	r.mu.Lock()
	sessions := make([]*userSession, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.mu.Unlock()

	for _, sess := range sessions {
		sess.apply([]realtime.Notification{n})
	}
}

func (sess *userSession) apply(notes []realtime.Notification) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	for _, n := range notes {
		if err := realtime.Apply(sess.canvas, n); err != nil {
			log.Printf("realtime: apply %s %s on roof %s for %s: %v", n.Entity, n.ID, sess.roofID, sess.userID, err)
		}
	}
	sess.changes = newChangeSet()
}

// fanOut delivers notes to the other canvases of the room and publishes
// them for other processes.
func (s *Service) fanOut(ctx context.Context, room *roofRoom, origin *userSession, notes []realtime.Notification) {
	if len(notes) == 0 {
		return
	}
	room.mu.Lock()
	peers := make([]*userSession, 0, len(room.sessions))
	for _, sess := range room.sessions {
		if sess != origin {
			peers = append(peers, sess)
		}
	}
	room.mu.Unlock()

	for _, peer := range peers {
		peer.apply(notes)
	}
	if s.bus == nil {
		return
	}
	for _, n := range notes {
		if err := s.bus.Publish(ctx, n); err != nil {
			log.Printf("realtime: publish %s %s: %v", n.Entity, n.ID, err)
		}
	}
}
