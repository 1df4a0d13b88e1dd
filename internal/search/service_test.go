package search

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	meili "github.com/meilisearch/meilisearch-go"

	"smartpin/api/internal/canvas"
	"smartpin/api/internal/inspection"
)

type fakeIndex struct {
	healthy   bool
	searchErr error
	results   []Result

	mu      sync.Mutex
	indexed []PinRecord
	deleted []string
	signal  chan struct{}
}

func (f *fakeIndex) Healthy() bool { return f.healthy }

func (f *fakeIndex) Search(Query) ([]Result, int, error) {
	if f.searchErr != nil {
		return nil, 0, f.searchErr
	}
	return f.results, len(f.results), nil
}

func (f *fakeIndex) IndexPins(records []PinRecord) error {
	f.mu.Lock()
	f.indexed = append(f.indexed, records...)
	f.mu.Unlock()
	f.notify()
	return nil
}

func (f *fakeIndex) DeletePin(id string) error {
	f.mu.Lock()
	f.deleted = append(f.deleted, id)
	f.mu.Unlock()
	f.notify()
	return nil
}

func (f *fakeIndex) notify() {
	if f.signal != nil {
		f.signal <- struct{}{}
	}
}

type fakePinStore struct {
	searchFn func(ctx context.Context, roofID, text string, limit int) ([]canvas.Pin, error)
}

func (f fakePinStore) SearchPins(ctx context.Context, roofID, text string, limit int) ([]canvas.Pin, error) {
	return f.searchFn(ctx, roofID, text, limit)
}

func storedPins() fakePinStore {
	return fakePinStore{searchFn: func(_ context.Context, _, _ string, _ int) ([]canvas.Pin, error) {
		return []canvas.Pin{
			{ID: "p1", LayerID: "l1", Kind: canvas.KindIssue, Status: inspection.StatusOpen, Title: "Ponding"},
			{ID: "p2", LayerID: "l1", Kind: canvas.KindIssue, Status: inspection.StatusClosed, Title: "Ponding fixed"},
			{ID: "p3", LayerID: "l2", Kind: canvas.KindNote, Status: inspection.StatusOpen, Title: "Ponding note"},
		}, nil
	}}
}

func resultIDs(results []Result) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.PinID
	}
	return out
}

func TestSearchUsesMeiliWhenHealthy(t *testing.T) {
	idx := &fakeIndex{healthy: true, results: []Result{{PinID: "m1"}}}
	s := &Service{meili: idx, store: storedPins()}
	resp := s.Search(context.Background(), Query{RoofID: "roof", Text: "ponding"})
	if resp.Source != "meilisearch" || !slices.Equal(resultIDs(resp.Results), []string{"m1"}) {
		t.Fatalf("Search() = %+v, want meilisearch hit", resp)
	}
}

func TestSearchFallsBackToStore(t *testing.T) {
	cases := []struct {
		name  string
		index index
		query Query
		want  []string
	}{
		{name: "no meili", query: Query{RoofID: "roof", Text: "ponding"}, want: []string{"p1", "p2", "p3"}},
		{name: "unhealthy", index: &fakeIndex{healthy: false}, query: Query{RoofID: "roof"}, want: []string{"p1", "p2", "p3"}},
		{name: "meili error", index: &fakeIndex{healthy: true, searchErr: errors.New("down")}, query: Query{RoofID: "roof"}, want: []string{"p1", "p2", "p3"}},
		{name: "filters", query: Query{RoofID: "roof", Kind: "issue", Status: "Open"}, want: []string{"p1"}},
		{name: "offset", query: Query{RoofID: "roof", Offset: 2}, want: []string{"p3"}},
		{name: "offset past end", query: Query{RoofID: "roof", Offset: 9}, want: []string{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := &Service{meili: tc.index, store: storedPins()}
			resp := s.Search(context.Background(), tc.query)
			if resp.Source != "store" {
				t.Fatalf("Source = %q, want store", resp.Source)
			}
			if got := resultIDs(resp.Results); !slices.Equal(got, tc.want) {
				t.Fatalf("results = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSearchStoreErrorReturnsEmpty(t *testing.T) {
	s := NewService(nil, fakePinStore{searchFn: func(context.Context, string, string, int) ([]canvas.Pin, error) {
		return nil, errors.New("db down")
	}})
	resp := s.Search(context.Background(), Query{RoofID: "roof"})
	if resp.Results == nil || len(resp.Results) != 0 {
		t.Fatalf("Search() = %+v, want empty non-nil results", resp)
	}
}

func TestIndexingIsFireAndForget(t *testing.T) {
	idx := &fakeIndex{healthy: true, signal: make(chan struct{}, 2)}
	s := &Service{meili: idx}

	pin := canvas.Pin{ID: "p1", LayerID: "l1", Kind: canvas.KindIssue, Metadata: canvas.PinMetadata{Tags: []string{"drain"}}}
	s.IndexPin("roof", pin)
	s.DeletePin("p0")
	for range 2 {
		select {
		case <-idx.signal:
		case <-time.After(2 * time.Second):
			t.Fatal("index call not made")
		}
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if len(idx.indexed) != 1 || idx.indexed[0].RoofID != "roof" || idx.indexed[0].Tags[0] != "drain" {
		t.Fatalf("indexed = %+v", idx.indexed)
	}
	if !slices.Equal(idx.deleted, []string{"p0"}) {
		t.Fatalf("deleted = %v, want [p0]", idx.deleted)
	}
}

func TestIndexSkippedWhenUnhealthy(t *testing.T) {
	idx := &fakeIndex{healthy: false}
	s := &Service{meili: idx}
	s.IndexPin("roof", canvas.Pin{ID: "p1"})
	s.ReindexRoof("roof", []canvas.Pin{{ID: "p1"}})
	if len(idx.indexed) != 0 {
		t.Fatalf("indexed = %v, want nothing", idx.indexed)
	}
}

func TestBuildFilters(t *testing.T) {
	got := buildFilters(Query{RoofID: "roof-1", Status: "Open", Priority: "high"})
	want := []string{`roofId = "roof-1"`, `status = "Open"`, `priority = "high"`}
	if !slices.Equal(got, want) {
		t.Fatalf("buildFilters() = %v, want %v", got, want)
	}
}

func TestHitToResultPrefersHighlights(t *testing.T) {
	hit := meili.Hit{
		"id":         json.RawMessage(`"p1"`),
		"roofId":     json.RawMessage(`"roof-1"`),
		"title":      json.RawMessage(`"Ponding"`),
		"notes":      json.RawMessage(`"near drain"`),
		"_formatted": json.RawMessage(`{"title":"<mark>Ponding</mark>","notes":""}`),
	}
	got := hitToResult(hit)
	if got.PinID != "p1" || got.Title != "<mark>Ponding</mark>" || got.Snippet != "near drain" {
		t.Fatalf("hitToResult() = %+v", got)
	}
}
