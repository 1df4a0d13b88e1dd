package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"smartpin/api/internal/canvas"
)

var ErrNotFound = errors.New("not found")

type EntityKind string

const (
	EntityLayer EntityKind = "layer"
	EntityPin   EntityKind = "pin"
)

// timeLayout is fixed width so that stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store persists canvas layers and pins per roof as JSON documents.
type Store struct {
	db     *sql.DB
	driver string
}

func New(db *sql.DB, driver string) *Store {
	return &Store{db: db, driver: driver}
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) q(query string) string {
	return rebind(s.driver, query)
}

func stamp(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func (s *Store) ListRoofs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT roof_id FROM layers
		UNION
		SELECT roof_id FROM pins
		ORDER BY roof_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list roofs: %w", err)
	}
	defer rows.Close()

	roofs := []string{}
	for rows.Next() {
		var roofID string
		if err := rows.Scan(&roofID); err != nil {
			return nil, fmt.Errorf("scan roof: %w", err)
		}
		roofs = append(roofs, roofID)
	}
	return roofs, rows.Err()
}

func (s *Store) LoadLayers(ctx context.Context, roofID string) ([]canvas.Layer, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT data FROM layers WHERE roof_id=$1 ORDER BY sort_order, id`), roofID)
	if err != nil {
		return nil, fmt.Errorf("load layers: %w", err)
	}
	defer rows.Close()

	layers := []canvas.Layer{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan layer: %w", err)
		}
		var layer canvas.Layer
		if err := json.Unmarshal([]byte(data), &layer); err != nil {
			return nil, fmt.Errorf("decode layer: %w", err)
		}
		layers = append(layers, layer)
	}
	return layers, rows.Err()
}

func (s *Store) LoadPins(ctx context.Context, roofID string) ([]canvas.Pin, error) {
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT data FROM pins WHERE roof_id=$1 ORDER BY created_at, id`), roofID)
	if err != nil {
		return nil, fmt.Errorf("load pins: %w", err)
	}
	defer rows.Close()
	return scanPins(rows)
}

func scanPins(rows *sql.Rows) ([]canvas.Pin, error) {
	pins := []canvas.Pin{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan pin: %w", err)
		}
		var pin canvas.Pin
		if err := json.Unmarshal([]byte(data), &pin); err != nil {
			return nil, fmt.Errorf("decode pin: %w", err)
		}
		pins = append(pins, pin)
	}
	return pins, rows.Err()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) SaveLayer(ctx context.Context, roofID string, layer canvas.Layer) error {
	return s.saveLayer(ctx, s.db, roofID, layer)
}

func (s *Store) saveLayer(ctx context.Context, db execer, roofID string, layer canvas.Layer) error {
	data, err := json.Marshal(layer)
	if err != nil {
		return fmt.Errorf("encode layer: %w", err)
	}
	_, err = db.ExecContext(ctx, s.q(`
		INSERT INTO layers (roof_id, id, sort_order, data, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (roof_id, id) DO UPDATE
		SET sort_order = excluded.sort_order, data = excluded.data, updated_at = excluded.updated_at
	`), roofID, layer.ID, layer.Order, string(data), stamp(time.Now()))
	if err != nil {
		return fmt.Errorf("save layer %s: %w", layer.ID, err)
	}
	return nil
}

func (s *Store) SavePin(ctx context.Context, roofID string, pin canvas.Pin) error {
	return s.savePin(ctx, s.db, roofID, pin)
}

func (s *Store) savePin(ctx context.Context, db execer, roofID string, pin canvas.Pin) error {
	pin.Render.Selected = false
	pin.Render.Dragging = false
	data, err := json.Marshal(pin)
	if err != nil {
		return fmt.Errorf("encode pin: %w", err)
	}
	_, err = db.ExecContext(ctx, s.q(`
		INSERT INTO pins (roof_id, id, layer_id, created_at, search_text, data, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (roof_id, id) DO UPDATE
		SET layer_id = excluded.layer_id, search_text = excluded.search_text,
			data = excluded.data, updated_at = excluded.updated_at
	`), roofID, pin.ID, pin.LayerID, stamp(pin.CreatedAt), searchText(pin), string(data), stamp(time.Now()))
	if err != nil {
		return fmt.Errorf("save pin %s: %w", pin.ID, err)
	}
	return nil
}

// searchText is the lower-cased text matched by SearchPins.
func searchText(pin canvas.Pin) string {
	parts := []string{pin.Title, pin.Metadata.Notes, pin.Metadata.CorrectiveAction, pin.Metadata.Assignee}
	parts = append(parts, pin.Metadata.Tags...)
	return strings.ToLower(strings.Join(parts, " "))
}

// Persist merges partial into the stored JSON document of one entity.
// Top-level keys in partial replace the stored values.
func (s *Store) Persist(ctx context.Context, roofID string, kind EntityKind, id string, partial map[string]any) error {
	table := ""
	switch kind {
	case EntityLayer:
		table = "layers"
	case EntityPin:
		table = "pins"
	default:
		return fmt.Errorf("persist: unknown entity kind %q", kind)
	}

	var data string
	err := s.db.QueryRowContext(ctx, s.q(`SELECT data FROM `+table+` WHERE roof_id=$1 AND id=$2`), roofID, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load %s %s: %w", kind, id, err)
	}

	doc := map[string]any{}
	if err := json.Unmarshal([]byte(data), &doc); err != nil {
		return fmt.Errorf("decode %s %s: %w", kind, id, err)
	}
	for key, value := range partial {
		doc[key] = value
	}
	merged, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", kind, id, err)
	}

	// Re-save through the typed path so the index columns follow the data.
	if kind == EntityLayer {
		var layer canvas.Layer
		if err := json.Unmarshal(merged, &layer); err != nil {
			return fmt.Errorf("decode merged layer %s: %w", id, err)
		}
		layer.ID = id
		return s.SaveLayer(ctx, roofID, layer)
	}
	var pin canvas.Pin
	if err := json.Unmarshal(merged, &pin); err != nil {
		return fmt.Errorf("decode merged pin %s: %w", id, err)
	}
	pin.ID = id
	return s.SavePin(ctx, roofID, pin)
}

// DeleteLayer removes a layer and its pins.
func (s *Store) DeleteLayer(ctx context.Context, roofID, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete layer: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM pins WHERE roof_id=$1 AND layer_id=$2`), roofID, id); err != nil {
		return fmt.Errorf("delete layer pins: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM layers WHERE roof_id=$1 AND id=$2`), roofID, id); err != nil {
		return fmt.Errorf("delete layer: %w", err)
	}
	return tx.Commit()
}

func (s *Store) DeletePin(ctx context.Context, roofID, id string) error {
	if _, err := s.db.ExecContext(ctx, s.q(`DELETE FROM pins WHERE roof_id=$1 AND id=$2`), roofID, id); err != nil {
		return fmt.Errorf("delete pin: %w", err)
	}
	return nil
}

// ReplaceRoof swaps every layer and pin of a roof in one transaction.
func (s *Store) ReplaceRoof(ctx context.Context, roofID string, layers []canvas.Layer, pins []canvas.Pin) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace roof: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM pins WHERE roof_id=$1`), roofID); err != nil {
		return fmt.Errorf("clear pins: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM layers WHERE roof_id=$1`), roofID); err != nil {
		return fmt.Errorf("clear layers: %w", err)
	}
	for _, layer := range layers {
		if err := s.saveLayer(ctx, tx, roofID, layer); err != nil {
			return err
		}
	}
	for _, pin := range pins {
		if err := s.savePin(ctx, tx, roofID, pin); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// likeEscaper quotes LIKE wildcards so search text matches literally.
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// SearchPins is the database fallback for pin search: a case-insensitive
// substring match over title, notes, assignee and tags.
func (s *Store) SearchPins(ctx context.Context, roofID, text string, limit int) ([]canvas.Pin, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	pattern := "%" + likeEscaper.Replace(strings.ToLower(strings.TrimSpace(text))) + "%"
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT data FROM pins
		WHERE roof_id=$1 AND search_text LIKE $2 ESCAPE '\'
		ORDER BY created_at, id
		LIMIT $3
	`), roofID, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search pins: %w", err)
	}
	defer rows.Close()
	return scanPins(rows)
}
