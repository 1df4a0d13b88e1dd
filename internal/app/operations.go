package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"smartpin/api/internal/archive"
	"smartpin/api/internal/canvas"
	"smartpin/api/internal/geometry"
	"smartpin/api/internal/inspection"
	"smartpin/api/internal/rbac"
	"smartpin/api/internal/report"
	"smartpin/api/internal/rules"
	"smartpin/api/internal/search"
	"smartpin/api/internal/store"
)

// SetPinStatus moves a pin through the inspection workflow. Closing needs
// the close_issues action on top of edit_pins.
func (s *Service) SetPinStatus(ctx context.Context, roofID string, actor Actor, pinID string, status inspection.Status) (canvas.Pin, error) {
	if status == inspection.StatusClosed && !rbac.Can(actor.Role, rbac.ActionCloseIssues) {
		return canvas.Pin{}, forbidden(string(rbac.ActionCloseIssues))
	}
	var pin canvas.Pin
	err := s.WithCanvas(ctx, roofID, actor, rbac.ActionEditPins, func(c *canvas.Canvas) error {
		updated, found, err := c.SetPinStatus(pinID, status)
		if err != nil {
			return err
		}
		if !found {
			return notFound("pin")
		}
		pin = updated
		return nil
	})
	return pin, err
}

type ReviewResult struct {
	PinID string `json:"pinId"`
	inspection.Result
}

// ReviewPin runs the closure review for a pin and its children.
func (s *Service) ReviewPin(ctx context.Context, roofID string, actor Actor, pinID string) (ReviewResult, error) {
	var result ReviewResult
	err := s.WithCanvas(ctx, roofID, actor, rbac.ActionRead, func(c *canvas.Canvas) error {
		pin, ok := c.Pin(pinID)
		if !ok {
			return notFound("pin")
		}
		subject := inspection.Subject{
			Status:           pin.Status,
			Notes:            pin.Metadata.Notes,
			CorrectiveAction: pin.Metadata.CorrectiveAction,
			DueDate:          pin.Metadata.DueDate,
		}
		for _, attachment := range pin.Metadata.Attachments {
			if attachment.Kind == canvas.AttachmentClosing {
				subject.HasClosingPhoto = true
			}
		}
		for _, child := range c.Children(pinID) {
			subject.ChildStatuses = append(subject.ChildStatuses, child.Status)
		}
		result = ReviewResult{PinID: pinID, Result: inspection.Review(subject, s.now())}
		return nil
	})
	return result, err
}

type NearbyResult struct {
	Pins   []canvas.Nearby `json:"pins"`
	Advice []string        `json:"advice"`
}

// NearbyPins lists pins around center with placement advice. radius <= 0
// uses the configured default.
func (s *Service) NearbyPins(ctx context.Context, roofID string, actor Actor, center geometry.Point, radius float64) (NearbyResult, error) {
	if radius <= 0 {
		radius = s.cfg.NearbyRadius
	}
	var result NearbyResult
	err := s.WithCanvas(ctx, roofID, actor, rbac.ActionRead, func(c *canvas.Canvas) error {
		nearby := c.NearbyPins(center, radius)
		statuses := make([]inspection.Status, 0, len(nearby))
		for _, n := range nearby {
			statuses = append(statuses, n.Pin.Status)
		}
		result = NearbyResult{Pins: nearby, Advice: inspection.ProximityAdvice(statuses)}
		return nil
	})
	return result, err
}

// FilterPins returns the pins matching a Starlark rule, optionally limited
// to one layer.
func (s *Service) FilterPins(ctx context.Context, roofID string, actor Actor, layerID, where string) ([]canvas.Pin, error) {
	var rule *rules.Rule
	if strings.TrimSpace(where) != "" {
		compiled, err := rules.Compile(where)
		if err != nil {
			return nil, validation(err.Error())
		}
		rule = compiled
	}
	var pins []canvas.Pin
	err := s.WithCanvas(ctx, roofID, actor, rbac.ActionRead, func(c *canvas.Canvas) error {
		pins = []canvas.Pin{}
		for _, pin := range c.Pins() {
			if layerID != "" && pin.LayerID != layerID {
				continue
			}
			if rule != nil && !rule.Match(pin) {
				continue
			}
			pins = append(pins, pin)
		}
		return nil
	})
	if err == nil && rule != nil && rule.Err() != nil {
		return pins, validation(rule.Err().Error())
	}
	return pins, err
}

// SelectWhere selects the pins matching a Starlark rule.
func (s *Service) SelectWhere(ctx context.Context, roofID string, actor Actor, where string) (canvas.Selection, error) {
	rule, err := rules.Compile(where)
	if err != nil {
		return canvas.Selection{}, validation(err.Error())
	}
	var selection canvas.Selection
	err = s.WithCanvas(ctx, roofID, actor, rbac.ActionRead, func(c *canvas.Canvas) error {
		c.SelectMatching(rule.Match)
		selection = c.Selection()
		return nil
	})
	return selection, err
}

// RecordRenderSample stores client render metrics on a layer. Samples are
// merged into the stored layer document but not broadcast.
func (s *Service) RecordRenderSample(ctx context.Context, roofID string, actor Actor, layerID string, renderTimeMs float64, memoryBytes int64) (canvas.LayerStats, error) {
	var stats canvas.LayerStats
	err := s.WithCanvas(ctx, roofID, actor, rbac.ActionRead, func(c *canvas.Canvas) error {
		if !c.RecordLayerRenderSample(layerID, renderTimeMs, memoryBytes) {
			return notFound("layer")
		}
		stats, _ = c.LayerStats(layerID)
		return nil
	})
	if err != nil {
		return stats, err
	}
	err = s.store.Persist(ctx, roofID, store.EntityLayer, layerID, map[string]any{"stats": stats})
	if errors.Is(err, store.ErrNotFound) {
		return stats, notFound("layer")
	}
	return stats, err
}

// UploadPhoto stores a photo and attaches it to the pin.
func (s *Service) UploadPhoto(ctx context.Context, roofID string, actor Actor, pinID string, kind canvas.AttachmentKind, body io.Reader, size int64, contentType string) (canvas.Attachment, error) {
	if s.photos == nil {
		return canvas.Attachment{}, unavailable("PHOTOS_UNAVAILABLE", "Photo storage is not configured")
	}
	if !rbac.Can(actor.Role, rbac.ActionEditPins) {
		return canvas.Attachment{}, forbidden(string(rbac.ActionEditPins))
	}
	if err := s.WithCanvas(ctx, roofID, actor, rbac.ActionRead, func(c *canvas.Canvas) error {
		if _, ok := c.Pin(pinID); !ok {
			return notFound("pin")
		}
		return nil
	}); err != nil {
		return canvas.Attachment{}, err
	}

	attachment, err := s.photos.Upload(ctx, roofID, pinID, kind, body, size, contentType)
	if err != nil {
		return canvas.Attachment{}, err
	}
	err = s.WithCanvas(ctx, roofID, actor, rbac.ActionEditPins, func(c *canvas.Canvas) error {
		pin, ok := c.Pin(pinID)
		if !ok {
			return notFound("pin")
		}
		metadata := pin.Metadata
		metadata.Attachments = append(metadata.Attachments, attachment)
		c.UpdatePin(pinID, canvas.PinPatch{Metadata: &metadata})
		return nil
	})
	if err != nil {
		if delErr := s.photos.Delete(ctx, attachment.ObjectKey); delErr != nil {
			log.Printf("photos: remove orphaned %s: %v", attachment.ObjectKey, delErr)
		}
		return canvas.Attachment{}, err
	}
	return attachment, nil
}

// PhotoURL returns a presigned download link for one attachment of a pin.
func (s *Service) PhotoURL(ctx context.Context, roofID string, actor Actor, pinID, attachmentID string) (string, error) {
	if s.photos == nil {
		return "", unavailable("PHOTOS_UNAVAILABLE", "Photo storage is not configured")
	}
	var key string
	err := s.WithCanvas(ctx, roofID, actor, rbac.ActionRead, func(c *canvas.Canvas) error {
		pin, ok := c.Pin(pinID)
		if !ok {
			return notFound("pin")
		}
		for _, attachment := range pin.Metadata.Attachments {
			if attachment.ID == attachmentID {
				key = attachment.ObjectKey
				return nil
			}
		}
		return notFound("attachment")
	})
	if err != nil {
		return "", err
	}
	return s.photos.URL(ctx, key, s.cfg.PhotoURLTTL)
}

func (s *Service) Search(ctx context.Context, actor Actor, q search.Query) (search.Response, error) {
	if !rbac.Can(actor.Role, rbac.ActionRead) {
		return search.Response{}, forbidden(string(rbac.ActionRead))
	}
	if !validRoofID(q.RoofID) {
		return search.Response{}, validation("invalid roof id")
	}
	return s.search.Search(ctx, q), nil
}

// ExportState returns the actor's canvas as the portable JSON document.
func (s *Service) ExportState(ctx context.Context, roofID string, actor Actor) ([]byte, error) {
	var data []byte
	err := s.WithCanvas(ctx, roofID, actor, rbac.ActionRead, func(c *canvas.Canvas) error {
		exported, err := c.ExportState()
		data = exported
		return err
	})
	return data, err
}

// ImportState replaces the roof with an exported document and archives the
// result.
func (s *Service) ImportState(ctx context.Context, roofID string, actor Actor, data []byte) error {
	if err := s.WithCanvas(ctx, roofID, actor, rbac.ActionEditLayers, func(c *canvas.Canvas) error {
		return c.ImportState(data)
	}); err != nil {
		return err
	}
	if _, err := s.CommitVersion(ctx, roofID, actor, "Import canvas", ""); err != nil && !isUnavailable(err) {
		log.Printf("archive: commit after import on %s: %v", roofID, err)
	}
	return nil
}

type VersionResult struct {
	Revision archive.Revision `json:"revision"`
	Created  bool             `json:"created"`
}

// CommitVersion archives the actor's current canvas, optionally tagging it.
func (s *Service) CommitVersion(ctx context.Context, roofID string, actor Actor, message, tag string) (VersionResult, error) {
	if s.archive == nil {
		return VersionResult{}, unavailable("ARCHIVE_UNAVAILABLE", "Version archive is not configured")
	}
	if !rbac.Can(actor.Role, rbac.ActionEditPins) {
		return VersionResult{}, forbidden(string(rbac.ActionEditPins))
	}
	state, err := s.ExportState(ctx, roofID, actor)
	if err != nil {
		return VersionResult{}, err
	}
	rev, created, err := s.archive.Commit(roofID, state, actor.Name, message)
	if err != nil {
		return VersionResult{}, err
	}
	if strings.TrimSpace(tag) != "" {
		if err := s.archive.Tag(roofID, rev.Hash, tag); err != nil {
			return VersionResult{}, err
		}
	}
	return VersionResult{Revision: rev, Created: created}, nil
}

func (s *Service) Versions(ctx context.Context, roofID string, actor Actor, limit int) ([]archive.Revision, error) {
	if s.archive == nil {
		return nil, unavailable("ARCHIVE_UNAVAILABLE", "Version archive is not configured")
	}
	if !validRoofID(roofID) {
		return nil, validation("invalid roof id")
	}
	return s.archive.History(roofID, limit)
}

// RestoreVersion imports an archived revision into the actor's canvas.
// Undo history restarts from the restored state.
func (s *Service) RestoreVersion(ctx context.Context, roofID string, actor Actor, hash string) (archive.Revision, error) {
	if s.archive == nil {
		return archive.Revision{}, unavailable("ARCHIVE_UNAVAILABLE", "Version archive is not configured")
	}
	if !validRoofID(roofID) {
		return archive.Revision{}, validation("invalid roof id")
	}
	state, rev, err := s.archive.Load(roofID, hash)
	if errors.Is(err, archive.ErrNoArchive) {
		return archive.Revision{}, notFound("version")
	}
	if err != nil {
		return archive.Revision{}, domainError(http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("version %s not found", hash), nil)
	}
	err = s.WithCanvas(ctx, roofID, actor, rbac.ActionEditLayers, func(c *canvas.Canvas) error {
		return c.ImportState(state)
	})
	return rev, err
}

// Report renders the inspection report of the actor's canvas.
func (s *Service) Report(ctx context.Context, roofID string, actor Actor, format report.Format) (*report.Result, error) {
	var data report.Data
	err := s.WithCanvas(ctx, roofID, actor, rbac.ActionRead, func(c *canvas.Canvas) error {
		data = report.Build(roofID, "", actor.Name, c.Layers(), c.Pins(), s.now())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report.Export(ctx, data, format)
}

// JoinPresence marks the actor as present on the roof and returns who is
// online.
func (s *Service) JoinPresence(ctx context.Context, roofID string, actor Actor) ([]string, error) {
	if s.bus == nil {
		return nil, unavailable("REALTIME_UNAVAILABLE", "Realtime is not configured")
	}
	if !validRoofID(roofID) {
		return nil, validation("invalid roof id")
	}
	if err := s.bus.Join(ctx, roofID, actor.UserID, s.cfg.PresenceTTL); err != nil {
		return nil, err
	}
	return s.bus.Online(ctx, roofID)
}

func (s *Service) Presence(ctx context.Context, roofID string) ([]string, error) {
	if s.bus == nil {
		return []string{}, nil
	}
	if !validRoofID(roofID) {
		return nil, validation("invalid roof id")
	}
	return s.bus.Online(ctx, roofID)
}

func (s *Service) LeavePresence(ctx context.Context, roofID string, actor Actor) error {
	if s.bus == nil {
		return nil
	}
	return s.bus.Leave(ctx, roofID, actor.UserID)
}

func isUnavailable(err error) bool {
	var domainErr *DomainError
	return errors.As(err, &domainErr) && domainErr.Status == http.StatusServiceUnavailable
}
