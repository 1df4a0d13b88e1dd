package search

import "smartpin/api/internal/canvas"

// Result is a single pin hit returned to the caller.
type Result struct {
	PinID    string `json:"pinId"`
	RoofID   string `json:"roofId"`
	LayerID  string `json:"layerId"`
	Kind     string `json:"kind"`
	Status   string `json:"status"`
	Priority string `json:"priority"`
	Title    string `json:"title"`
	Snippet  string `json:"snippet"`
}

// Query describes a search request. Empty filters match everything.
type Query struct {
	RoofID   string
	Text     string
	LayerID  string
	Kind     string
	Status   string
	Priority string
	Limit    int
	Offset   int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Source  string   `json:"source"`
}

// PinRecord is the data we index for a pin.
type PinRecord struct {
	ID               string   `json:"id"`
	RoofID           string   `json:"roofId"`
	LayerID          string   `json:"layerId"`
	Kind             string   `json:"kind"`
	Status           string   `json:"status"`
	Priority         string   `json:"priority"`
	Title            string   `json:"title"`
	Notes            string   `json:"notes"`
	CorrectiveAction string   `json:"correctiveAction"`
	Assignee         string   `json:"assignee"`
	Tags             []string `json:"tags"`
}

func RecordFromPin(roofID string, pin canvas.Pin) PinRecord {
	return PinRecord{
		ID:               pin.ID,
		RoofID:           roofID,
		LayerID:          pin.LayerID,
		Kind:             string(pin.Kind),
		Status:           string(pin.Status),
		Priority:         string(pin.Metadata.Priority),
		Title:            pin.Title,
		Notes:            pin.Metadata.Notes,
		CorrectiveAction: pin.Metadata.CorrectiveAction,
		Assignee:         pin.Metadata.Assignee,
		Tags:             append([]string{}, pin.Metadata.Tags...),
	}
}

// matches applies the query's exact-match filters to a pin.
func (q Query) matches(pin canvas.Pin) bool {
	return (q.LayerID == "" || pin.LayerID == q.LayerID) &&
		(q.Kind == "" || string(pin.Kind) == q.Kind) &&
		(q.Status == "" || string(pin.Status) == q.Status) &&
		(q.Priority == "" || string(pin.Metadata.Priority) == q.Priority)
}
