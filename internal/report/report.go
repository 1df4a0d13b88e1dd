// Package report renders roof inspection reports as HTML and, through
// headless Chrome, as PDF.
package report

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"smartpin/api/internal/canvas"
	"smartpin/api/internal/inspection"
)

type Format string

const (
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
)

var (
	// ErrPDFDependencyMissing indicates Chromium is not installed.
	ErrPDFDependencyMissing = errors.New("report pdf dependency missing")
	ErrUnsupportedFormat    = errors.New("unsupported report format")
)

// Data is everything the report template needs.
type Data struct {
	RoofID       string
	Title        string
	GeneratedBy  string
	GeneratedAt  time.Time
	Sections     []Section
	StatusCounts []StatusCount
	Total        int
}

// Section is one layer and its pins in creation order.
type Section struct {
	Layer canvas.Layer
	Pins  []canvas.Pin
}

type StatusCount struct {
	Status inspection.Status
	Count  int
}

type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// Build groups pins under their layers in display order. Hidden layers are
// left out of the report.
func Build(roofID, title, author string, layers []canvas.Layer, pins []canvas.Pin, now time.Time) Data {
	if title == "" {
		title = "Roof inspection " + roofID
	}
	data := Data{RoofID: roofID, Title: title, GeneratedBy: author, GeneratedAt: now}

	byLayer := map[string][]canvas.Pin{}
	for _, pin := range pins {
		byLayer[pin.LayerID] = append(byLayer[pin.LayerID], pin)
	}

	sorted := append([]canvas.Layer(nil), layers...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

	counts := map[inspection.Status]int{}
	for _, layer := range sorted {
		if layer.Visibility == canvas.Hidden {
			continue
		}
		section := Section{Layer: layer, Pins: byLayer[layer.ID]}
		for _, pin := range section.Pins {
			status := pin.Status
			if status == "" {
				status = inspection.StatusOpen
			}
			counts[status]++
			data.Total++
		}
		data.Sections = append(data.Sections, section)
	}
	for _, status := range []inspection.Status{inspection.StatusOpen, inspection.StatusReadyForInspection, inspection.StatusClosed} {
		data.StatusCounts = append(data.StatusCounts, StatusCount{Status: status, Count: counts[status]})
	}
	return data
}

// Export renders data in the requested format.
func Export(ctx context.Context, data Data, format Format) (*Result, error) {
	html, err := Render(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}
	switch format {
	case FormatHTML, "":
		return &Result{
			Data:     []byte(html),
			Filename: sanitizeFilename(data.Title) + ".html",
			MimeType: "text/html; charset=utf-8",
		}, nil
	case FormatPDF:
		return exportPDF(ctx, html, data.Title)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}
