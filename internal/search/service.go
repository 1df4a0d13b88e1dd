package search

import (
	"context"
	"log"

	"smartpin/api/internal/canvas"
)

// PinStore is the database fallback used when Meilisearch is unavailable.
type PinStore interface {
	SearchPins(ctx context.Context, roofID, text string, limit int) ([]canvas.Pin, error)
}

type index interface {
	Healthy() bool
	Search(q Query) ([]Result, int, error)
	IndexPins(records []PinRecord) error
	DeletePin(id string) error
}

// Service is the facade that tries Meilisearch first and falls back to the
// store's substring search.
type Service struct {
	meili index
	store PinStore
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, store PinStore) *Service {
	if meili == nil {
		return &Service{store: store}
	}
	return &Service{meili: meili, store: store}
}

func (s *Service) meiliReady() bool {
	return s.meili != nil && s.meili.Healthy()
}

// Search tries Meilisearch if healthy, otherwise falls back to the store.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meiliReady() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text, Source: "meilisearch"}
		}
		log.Printf("search: meilisearch error, falling back to store: %v", err)
	}

	if s.store == nil {
		return Response{Results: []Result{}, Query: q.Text, Source: "none"}
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	pins, err := s.store.SearchPins(ctx, q.RoofID, q.Text, limit+q.Offset)
	if err != nil {
		log.Printf("search: store error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text, Source: "store"}
	}
	results := []Result{}
	for _, pin := range pins {
		if !q.matches(pin) {
			continue
		}
		results = append(results, Result{
			PinID:    pin.ID,
			RoofID:   q.RoofID,
			LayerID:  pin.LayerID,
			Kind:     string(pin.Kind),
			Status:   string(pin.Status),
			Priority: string(pin.Metadata.Priority),
			Title:    pin.Title,
			Snippet:  pin.Metadata.Notes,
		})
	}
	total := len(results)
	if q.Offset >= len(results) {
		results = []Result{}
	} else {
		results = results[q.Offset:]
	}
	return Response{Results: results, Total: total, Query: q.Text, Source: "store"}
}

// IndexPin indexes a pin (fire-and-forget to Meilisearch).
func (s *Service) IndexPin(roofID string, pin canvas.Pin) {
	if !s.meiliReady() {
		return
	}
	record := RecordFromPin(roofID, pin)
	go func() {
		if err := s.meili.IndexPins([]PinRecord{record}); err != nil {
			log.Printf("search: index pin %s: %v", record.ID, err)
		}
	}()
}

// DeletePin removes a pin from the search index (fire-and-forget).
func (s *Service) DeletePin(id string) {
	if !s.meiliReady() {
		return
	}
	go func() {
		if err := s.meili.DeletePin(id); err != nil {
			log.Printf("search: delete pin %s: %v", id, err)
		}
	}()
}

// ReindexRoof pushes every pin of a roof to Meilisearch. Called after an
// import replaces a roof and at bootstrap.
func (s *Service) ReindexRoof(roofID string, pins []canvas.Pin) {
	if !s.meiliReady() || len(pins) == 0 {
		return
	}
	records := make([]PinRecord, 0, len(pins))
	for _, pin := range pins {
		records = append(records, RecordFromPin(roofID, pin))
	}
	if err := s.meili.IndexPins(records); err != nil {
		log.Printf("search: reindex roof %s: %v", roofID, err)
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
