package app

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"smartpin/api/internal/canvas"
	"smartpin/api/internal/geometry"
	"smartpin/api/internal/inspection"
	"smartpin/api/internal/photos"
	"smartpin/api/internal/rbac"
	"smartpin/api/internal/report"
	"smartpin/api/internal/search"
)

const maxImportBytes = 16 << 20

// canvasCall runs fn against the actor's canvas and writes its result.
func (s *HTTPServer) canvasCall(w http.ResponseWriter, r *http.Request, actor Actor, roofID string, action rbac.Action, status int, fn func(*canvas.Canvas) (any, error)) {
	var payload any
	err := s.service.WithCanvas(r.Context(), roofID, actor, action, func(c *canvas.Canvas) error {
		out, err := fn(c)
		payload = out
		return err
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, status, payload)
}

func (s *HTTPServer) handleRoof(w http.ResponseWriter, r *http.Request, actor Actor, roofID string, rest []string) {
	switch rest[0] {
	case "layers":
		s.handleLayers(w, r, actor, roofID, rest[1:])
	case "pins":
		s.handlePins(w, r, actor, roofID, rest[1:])
	case "selection":
		s.handleSelection(w, r, actor, roofID, rest[1:])
	case "mode", "drag":
		s.handleInteraction(w, r, actor, roofID, rest)
	case "viewport":
		s.handleViewport(w, r, actor, roofID, rest[1:])
	case "settings", "history", "undo", "redo", "export", "import":
		s.handleState(w, r, actor, roofID, rest)
	case "versions":
		s.handleVersions(w, r, actor, roofID, rest[1:])
	case "report", "search", "presence":
		s.handleRoofExtras(w, r, actor, roofID, rest)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleLayers(w http.ResponseWriter, r *http.Request, actor Actor, roofID string, rest []string) {
	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			filter := layerFilterFromQuery(r)
			s.canvasCall(w, r, actor, roofID, rbac.ActionRead, http.StatusOK, func(c *canvas.Canvas) (any, error) {
				response := map[string]any{
					"layers": c.FilterLayers(filter),
					"order":  c.LayerOrder(),
					"filter": c.LayerFilter(),
				}
				if active, ok := c.ActiveLayer(); ok {
					response["activeLayerId"] = active.ID
				}
				return response, nil
			})
		case http.MethodPost:
			var input canvas.LayerInput
			if err := decodeBody(r, &input); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			s.canvasCall(w, r, actor, roofID, rbac.ActionEditLayers, http.StatusCreated, func(c *canvas.Canvas) (any, error) {
				layer, err := c.CreateLayer(input)
				return map[string]any{"layer": layer}, err
			})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(rest) == 1 && rest[0] == "order" && r.Method == http.MethodPut {
		var body struct {
			IDs []string `json:"ids"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		s.canvasCall(w, r, actor, roofID, rbac.ActionEditLayers, http.StatusOK, func(c *canvas.Canvas) (any, error) {
			if err := c.ReorderLayers(body.IDs); err != nil {
				return nil, err
			}
			return map[string]any{"order": c.LayerOrder()}, nil
		})
		return
	}

	if len(rest) == 1 && rest[0] == "filter" && r.Method == http.MethodPut {
		var body struct {
			IDs []string `json:"ids"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		s.canvasCall(w, r, actor, roofID, rbac.ActionRead, http.StatusOK, func(c *canvas.Canvas) (any, error) {
			c.SetLayerFilter(body.IDs)
			return map[string]any{"filter": c.LayerFilter()}, nil
		})
		return
	}

	layerID := rest[0]
	if len(rest) == 1 {
		switch r.Method {
		case http.MethodGet:
			s.canvasCall(w, r, actor, roofID, rbac.ActionRead, http.StatusOK, func(c *canvas.Canvas) (any, error) {
				layer, ok := c.Layer(layerID)
				if !ok {
					return nil, notFound("layer")
				}
				return map[string]any{"layer": layer}, nil
			})
		case http.MethodPut:
			var patch canvas.LayerPatch
			if err := decodeBody(r, &patch); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			s.canvasCall(w, r, actor, roofID, rbac.ActionEditLayers, http.StatusOK, func(c *canvas.Canvas) (any, error) {
				layer, err := c.UpdateLayer(layerID, patch)
				return map[string]any{"layer": layer}, err
			})
		case http.MethodDelete:
			s.canvasCall(w, r, actor, roofID, rbac.ActionEditLayers, http.StatusOK, func(c *canvas.Canvas) (any, error) {
				return map[string]any{"deleted": layerID}, c.DeleteLayer(layerID)
			})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(rest) != 2 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	switch {
	case rest[1] == "visibility" && r.Method == http.MethodPost:
		var body struct {
			Visibility canvas.Visibility `json:"visibility"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		s.canvasCall(w, r, actor, roofID, rbac.ActionEditLayers, http.StatusOK, func(c *canvas.Canvas) (any, error) {
			if body.Visibility == "" {
				layer, err := c.ToggleVisibility(layerID)
				return map[string]any{"layer": layer}, err
			}
			layer, err := c.SetVisibility(layerID, body.Visibility)
			return map[string]any{"layer": layer}, err
		})
	case rest[1] == "status" && r.Method == http.MethodPost:
		var body struct {
			Status canvas.LayerStatus `json:"status"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		s.canvasCall(w, r, actor, roofID, rbac.ActionEditLayers, http.StatusOK, func(c *canvas.Canvas) (any, error) {
			layer, err := c.SetStatus(layerID, body.Status)
			return map[string]any{"layer": layer}, err
		})
	case rest[1] == "active" && r.Method == http.MethodPost:
		s.canvasCall(w, r, actor, roofID, rbac.ActionRead, http.StatusOK, func(c *canvas.Canvas) (any, error) {
			return map[string]any{"activeLayerId": layerID}, c.SetActiveLayer(layerID)
		})
	case rest[1] == "stats" && r.Method == http.MethodGet:
		s.canvasCall(w, r, actor, roofID, rbac.ActionRead, http.StatusOK, func(c *canvas.Canvas) (any, error) {
			stats, ok := c.LayerStats(layerID)
			if !ok {
				return nil, notFound("layer")
			}
			return map[string]any{"stats": stats}, nil
		})
	case rest[1] == "stats" && r.Method == http.MethodPost:
		var body struct {
			RenderTimeMs float64 `json:"renderTimeMs"`
			MemoryBytes  int64   `json:"memoryBytes"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		stats, err := s.service.RecordRenderSample(r.Context(), roofID, actor, layerID, body.RenderTimeMs, body.MemoryBytes)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"stats": stats})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func layerFilterFromQuery(r *http.Request) canvas.LayerFilter {
	q := r.URL.Query()
	var filter canvas.LayerFilter
	for _, kind := range splitList(q.Get("kind")) {
		filter.Kinds = append(filter.Kinds, canvas.LayerKind(kind))
	}
	for _, status := range splitList(q.Get("status")) {
		filter.Statuses = append(filter.Statuses, canvas.LayerStatus(status))
	}
	for _, visibility := range splitList(q.Get("visibility")) {
		filter.Visibility = append(filter.Visibility, canvas.Visibility(visibility))
	}
	filter.Search = strings.TrimSpace(q.Get("search"))
	return filter
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func (s *HTTPServer) handlePins(w http.ResponseWriter, r *http.Request, actor Actor, roofID string, rest []string) {
	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			if r.URL.Query().Get("visible") == "true" {
				s.canvasCall(w, r, actor, roofID, rbac.ActionRead, http.StatusOK, func(c *canvas.Canvas) (any, error) {
					return map[string]any{"pins": c.VisiblePins()}, nil
				})
				return
			}
			pins, err := s.service.FilterPins(r.Context(), roofID, actor, r.URL.Query().Get("layerId"), r.URL.Query().Get("where"))
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"pins": pins})
		case http.MethodPost:
			var input canvas.PinInput
			if err := decodeBody(r, &input); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			s.canvasCall(w, r, actor, roofID, rbac.ActionEditPins, http.StatusCreated, func(c *canvas.Canvas) (any, error) {
				pin, err := c.CreatePin(input)
				return map[string]any{"pin": pin}, err
			})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	if len(rest) == 1 {
		switch {
		case rest[0] == "place" && r.Method == http.MethodPost:
			var input canvas.PinInput
			if err := decodeBody(r, &input); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			s.canvasCall(w, r, actor, roofID, rbac.ActionEditPins, http.StatusCreated, func(c *canvas.Canvas) (any, error) {
				pin, err := c.PlacePin(input.Position, input)
				return map[string]any{"pin": pin}, err
			})
			return
		case rest[0] == "nearby" && r.Method == http.MethodGet:
			q := r.URL.Query()
			center := geometry.Point{X: queryFloat(q.Get("x")), Y: queryFloat(q.Get("y"))}
			result, err := s.service.NearbyPins(r.Context(), roofID, actor, center, queryFloat(q.Get("radius")))
			if err != nil {
				s.fail(w, err)
				return
			}
			writeJSON(w, http.StatusOK, result)
			return
		case rest[0] == "memory" && r.Method == http.MethodGet:
			s.canvasCall(w, r, actor, roofID, rbac.ActionRead, http.StatusOK, func(c *canvas.Canvas) (any, error) {
				return map[string]any{"pinIds": c.MemoryPins()}, nil
			})
			return
		case rest[0] == "delete" && r.Method == http.MethodPost:
			var body struct {
				IDs []string `json:"ids"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			s.canvasCall(w, r, actor, roofID, rbac.ActionEditPins, http.StatusOK, func(c *canvas.Canvas) (any, error) {
				return map[string]any{"removed": c.RemovePins(body.IDs)}, nil
			})
			return
		}
	}

	pinID := rest[0]
	if len(rest) == 1 {
		switch r.Method {
		case http.MethodGet:
			s.canvasCall(w, r, actor, roofID, rbac.ActionRead, http.StatusOK, func(c *canvas.Canvas) (any, error) {
				pin, ok := c.Pin(pinID)
				if !ok {
					return nil, notFound("pin")
				}
				return map[string]any{"pin": pin}, nil
			})
		case http.MethodPut:
			var patch canvas.PinPatch
			if err := decodeBody(r, &patch); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			if patch.Status != nil && *patch.Status == inspection.StatusClosed && !rbac.Can(actor.Role, rbac.ActionCloseIssues) {
				s.fail(w, forbidden(string(rbac.ActionCloseIssues)))
				return
			}
			s.canvasCall(w, r, actor, roofID, rbac.ActionEditPins, http.StatusOK, func(c *canvas.Canvas) (any, error) {
				pin, found, err := c.EditPin(pinID, patch)
				if err != nil {
					return nil, err
				}
				if !found {
					return nil, notFound("pin")
				}
				return map[string]any{"pin": pin}, nil
			})
		case http.MethodDelete:
			s.canvasCall(w, r, actor, roofID, rbac.ActionEditPins, http.StatusOK, func(c *canvas.Canvas) (any, error) {
				if !c.RemovePin(pinID) {
					return nil, notFound("pin")
				}
				return map[string]any{"deleted": pinID}, nil
			})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	switch {
	case len(rest) == 2 && rest[1] == "duplicate" && r.Method == http.MethodPost:
		s.canvasCall(w, r, actor, roofID, rbac.ActionEditPins, http.StatusCreated, func(c *canvas.Canvas) (any, error) {
			pin, ok := c.DuplicatePin(pinID)
			if !ok {
				return nil, notFound("pin")
			}
			return map[string]any{"pin": pin}, nil
		})
	case len(rest) == 2 && rest[1] == "move" && r.Method == http.MethodPost:
		var body struct {
			Position geometry.Point `json:"position"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		s.canvasCall(w, r, actor, roofID, rbac.ActionEditPins, http.StatusOK, func(c *canvas.Canvas) (any, error) {
			pin, ok := c.MovePin(pinID, body.Position)
			if !ok {
				return nil, notFound("pin")
			}
			return map[string]any{"pin": pin}, nil
		})
	case len(rest) == 2 && rest[1] == "status" && r.Method == http.MethodPost:
		var body struct {
			Status string `json:"status"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		status, err := inspection.ParseStatus(body.Status)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
			return
		}
		pin, err := s.service.SetPinStatus(r.Context(), roofID, actor, pinID, status)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"pin": pin})
	case len(rest) == 2 && rest[1] == "memory" && r.Method == http.MethodPost:
		s.canvasCall(w, r, actor, roofID, rbac.ActionRead, http.StatusOK, func(c *canvas.Canvas) (any, error) {
			if !c.PinToMemory(pinID) {
				return nil, notFound("pin")
			}
			return map[string]any{"pinIds": c.MemoryPins()}, nil
		})
	case len(rest) == 2 && rest[1] == "memory" && r.Method == http.MethodDelete:
		s.canvasCall(w, r, actor, roofID, rbac.ActionRead, http.StatusOK, func(c *canvas.Canvas) (any, error) {
			c.UnpinFromMemory(pinID)
			return map[string]any{"pinIds": c.MemoryPins()}, nil
		})
	case len(rest) == 2 && rest[1] == "children" && r.Method == http.MethodGet:
		s.canvasCall(w, r, actor, roofID, rbac.ActionRead, http.StatusOK, func(c *canvas.Canvas) (any, error) {
			if _, ok := c.Pin(pinID); !ok {
				return nil, notFound("pin")
			}
			return map[string]any{"pins": c.Children(pinID)}, nil
		})
	case len(rest) == 2 && rest[1] == "children" && r.Method == http.MethodPost:
		var input canvas.PinInput
		if err := decodeBody(r, &input); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		s.canvasCall(w, r, actor, roofID, rbac.ActionEditPins, http.StatusCreated, func(c *canvas.Canvas) (any, error) {
			pin, found, err := c.CreateChildPin(pinID, input)
			if err != nil {
				return nil, err
			}
			if !found {
				return nil, notFound("pin")
			}
			return map[string]any{"pin": pin}, nil
		})
	case len(rest) == 2 && rest[1] == "review" && r.Method == http.MethodGet:
		result, err := s.service.ReviewPin(r.Context(), roofID, actor, pinID)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	case len(rest) == 2 && rest[1] == "photos" && r.Method == http.MethodPost:
		kind := canvas.AttachmentKind(r.URL.Query().Get("kind"))
		if kind == "" {
			kind = canvas.AttachmentEvidence
		}
		body := http.MaxBytesReader(w, r.Body, photos.MaxPhotoBytes)
		attachment, err := s.service.UploadPhoto(r.Context(), roofID, actor, pinID, kind, body, r.ContentLength, r.Header.Get("Content-Type"))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				err = photos.ErrTooLarge
			}
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"attachment": attachment})
	case len(rest) == 4 && rest[1] == "photos" && rest[3] == "url" && r.Method == http.MethodGet:
		url, err := s.service.PhotoURL(r.Context(), roofID, actor, pinID, rest[2])
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"url": url})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func queryFloat(value string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0
	}
	return f
}

func queryInt(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func (s *HTTPServer) handleSelection(w http.ResponseWriter, r *http.Request, actor Actor, roofID string, rest []string) {
	selection := func(c *canvas.Canvas) map[string]any {
		return map[string]any{"selection": c.Selection()}
	}
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		s.canvasCall(w, r, actor, roofID, rbac.ActionRead, http.StatusOK, func(c *canvas.Canvas) (any, error) {
			return selection(c), nil
		})
	case len(rest) == 0 && r.Method == http.MethodPost:
		var body struct {
			IDs      []string `json:"ids"`
			Additive bool     `json:"additive"`
			All      bool     `json:"all"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		s.canvasCall(w, r, actor, roofID, rbac.ActionRead, http.StatusOK, func(c *canvas.Canvas) (any, error) {
			switch {
			case body.All:
				c.SelectAll()
			case len(body.IDs) == 1:
				c.SelectPin(body.IDs[0], body.Additive)
			default:
				c.SelectMany(body.IDs)
			}
			return selection(c), nil
		})
	case len(rest) == 0 && r.Method == http.MethodDelete:
		s.canvasCall(w, r, actor, roofID, rbac.ActionRead, http.StatusOK, func(c *canvas.Canvas) (any, error) {
			c.ClearSelection()
			return selection(c), nil
		})
	case len(rest) == 1 && rest[0] == "area" && r.Method == http.MethodPost:
		var body struct {
			From geometry.Point `json:"from"`
			To   geometry.Point `json:"to"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		s.canvasCall(w, r, actor, roofID, rbac.ActionRead, http.StatusOK, func(c *canvas.Canvas) (any, error) {
			c.SelectInArea(body.From, body.To)
			return selection(c), nil
		})
	case len(rest) == 1 && rest[0] == "where" && r.Method == http.MethodPost:
		var body struct {
			Where string `json:"where"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		result, err := s.service.SelectWhere(r.Context(), roofID, actor, body.Where)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"selection": result})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleInteraction(w http.ResponseWriter, r *http.Request, actor Actor, roofID string, rest []string) {
	modeState := func(c *canvas.Canvas) map[string]any {
		kind, armed := c.CreationArmed()
		return map[string]any{"mode": c.Mode(), "creationArmed": armed, "creationKind": kind}
	}
	dragState := func(c *canvas.Canvas) map[string]any {
		if drag, ok := c.Drag(); ok {
			return map[string]any{"drag": drag}
		}
		return map[string]any{"drag": nil}
	}

	switch {
	case rest[0] == "mode" && len(rest) == 1 && r.Method == http.MethodGet:
		s.canvasCall(w, r, actor, roofID, rbac.ActionRead, http.StatusOK, func(c *canvas.Canvas) (any, error) {
			return modeState(c), nil
		})
	case rest[0] == "mode" && len(rest) == 1 && r.Method == http.MethodPost:
		var body struct {
			Mode   canvas.Mode      `json:"mode"`
			Create canvas.LayerKind `json:"create"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		s.canvasCall(w, r, actor, roofID, rbac.ActionRead, http.StatusOK, func(c *canvas.Canvas) (any, error) {
			var err error
			if body.Create != "" {
				err = c.StartPinCreation(body.Create)
			} else {
				err = c.SetMode(body.Mode)
			}
			return modeState(c), err
		})
	case rest[0] == "drag" && len(rest) == 1 && r.Method == http.MethodGet:
		s.canvasCall(w, r, actor, roofID, rbac.ActionRead, http.StatusOK, func(c *canvas.Canvas) (any, error) {
			return dragState(c), nil
		})
	case rest[0] == "drag" && len(rest) == 2 && r.Method == http.MethodPost:
		var body struct {
			PinID   string         `json:"pinId"`
			Pointer geometry.Point `json:"pointer"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		switch rest[1] {
		case "start":
			s.canvasCall(w, r, actor, roofID, rbac.ActionEditPins, http.StatusOK, func(c *canvas.Canvas) (any, error) {
				if !c.StartDrag(body.PinID, body.Pointer) {
					return nil, validation("pin cannot be dragged")
				}
				return dragState(c), nil
			})
		case "update":
			s.canvasCall(w, r, actor, roofID, rbac.ActionEditPins, http.StatusOK, func(c *canvas.Canvas) (any, error) {
				pin, ok := c.UpdateDrag(body.Pointer)
				if !ok {
					return nil, validation("no drag in progress")
				}
				return map[string]any{"pin": pin}, nil
			})
		case "end":
			s.canvasCall(w, r, actor, roofID, rbac.ActionEditPins, http.StatusOK, func(c *canvas.Canvas) (any, error) {
				pin, ok := c.EndDrag()
				if !ok {
					return nil, validation("no drag in progress")
				}
				return map[string]any{"pin": pin}, nil
			})
		default:
			writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		}
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleViewport(w http.ResponseWriter, r *http.Request, actor Actor, roofID string, rest []string) {
	viewport := func(vp geometry.Viewport) map[string]any {
		return map[string]any{"viewport": vp}
	}
	if len(rest) == 0 {
		switch r.Method {
		case http.MethodGet:
			s.canvasCall(w, r, actor, roofID, rbac.ActionRead, http.StatusOK, func(c *canvas.Canvas) (any, error) {
				return viewport(c.Viewport()), nil
			})
		case http.MethodPut:
			var body struct {
				Zoom *float64        `json:"zoom"`
				Pan  *geometry.Point `json:"pan"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			s.canvasCall(w, r, actor, roofID, rbac.ActionRead, http.StatusOK, func(c *canvas.Canvas) (any, error) {
				if body.Zoom != nil {
					c.SetZoom(*body.Zoom)
				}
				if body.Pan != nil {
					c.SetPan(*body.Pan)
				}
				return viewport(c.Viewport()), nil
			})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}
	if len(rest) != 1 || r.Method != http.MethodPost {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	var body struct {
		Delta   geometry.Point `json:"delta"`
		Point   geometry.Point `json:"point"`
		Size    geometry.Size  `json:"size"`
		Padding float64        `json:"padding"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	var op func(c *canvas.Canvas) (any, error)
	switch rest[0] {
	case "zoom-in":
		op = func(c *canvas.Canvas) (any, error) { return viewport(c.ZoomIn()), nil }
	case "zoom-out":
		op = func(c *canvas.Canvas) (any, error) { return viewport(c.ZoomOut()), nil }
	case "reset":
		op = func(c *canvas.Canvas) (any, error) { return viewport(c.ResetViewport()), nil }
	case "pan-by":
		op = func(c *canvas.Canvas) (any, error) { return viewport(c.PanBy(body.Delta)), nil }
	case "fit":
		op = func(c *canvas.Canvas) (any, error) { return viewport(c.FitToContent(body.Size, body.Padding)), nil }
	case "to-screen":
		op = func(c *canvas.Canvas) (any, error) {
			return map[string]any{"point": c.ToScreen(body.Point, body.Size)}, nil
		}
	case "from-screen":
		op = func(c *canvas.Canvas) (any, error) {
			return map[string]any{"point": c.FromScreen(body.Point, body.Size)}, nil
		}
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	s.canvasCall(w, r, actor, roofID, rbac.ActionRead, http.StatusOK, op)
}

func (s *HTTPServer) handleState(w http.ResponseWriter, r *http.Request, actor Actor, roofID string, rest []string) {
	if len(rest) != 1 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	switch {
	case rest[0] == "settings" && r.Method == http.MethodGet:
		s.canvasCall(w, r, actor, roofID, rbac.ActionRead, http.StatusOK, func(c *canvas.Canvas) (any, error) {
			return map[string]any{"settings": c.Settings()}, nil
		})
	case rest[0] == "settings" && r.Method == http.MethodPut:
		var settings canvas.Settings
		if err := decodeBody(r, &settings); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		s.canvasCall(w, r, actor, roofID, rbac.ActionRead, http.StatusOK, func(c *canvas.Canvas) (any, error) {
			c.UpdateSettings(settings)
			return map[string]any{"settings": c.Settings()}, nil
		})
	case rest[0] == "history" && r.Method == http.MethodGet:
		s.canvasCall(w, r, actor, roofID, rbac.ActionRead, http.StatusOK, func(c *canvas.Canvas) (any, error) {
			return map[string]any{"history": c.HistoryStatus()}, nil
		})
	case (rest[0] == "undo" || rest[0] == "redo") && r.Method == http.MethodPost:
		s.canvasCall(w, r, actor, roofID, rbac.ActionEditPins, http.StatusOK, func(c *canvas.Canvas) (any, error) {
			var applied bool
			if rest[0] == "undo" {
				applied = c.Undo()
			} else {
				applied = c.Redo()
			}
			return map[string]any{"applied": applied, "history": c.HistoryStatus()}, nil
		})
	case rest[0] == "export" && r.Method == http.MethodGet:
		data, err := s.service.ExportState(r.Context(), roofID, actor)
		if err != nil {
			s.fail(w, err)
			return
		}
		w.Header().Set("Content-Disposition", `attachment; filename="`+roofID+`.json"`)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	case rest[0] == "import" && r.Method == http.MethodPost:
		data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImportBytes))
		if err != nil {
			writeError(w, http.StatusRequestEntityTooLarge, "TOO_LARGE", "import document is too large", nil)
			return
		}
		if err := s.service.ImportState(r.Context(), roofID, actor, data); err != nil {
			s.fail(w, err)
			return
		}
		s.canvasCall(w, r, actor, roofID, rbac.ActionRead, http.StatusOK, func(c *canvas.Canvas) (any, error) {
			return map[string]any{"layers": len(c.Layers()), "pins": len(c.Pins())}, nil
		})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleVersions(w http.ResponseWriter, r *http.Request, actor Actor, roofID string, rest []string) {
	switch {
	case len(rest) == 0 && r.Method == http.MethodGet:
		versions, err := s.service.Versions(r.Context(), roofID, actor, queryInt(r.URL.Query().Get("limit"), 50))
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"versions": versions})
	case len(rest) == 0 && r.Method == http.MethodPost:
		var body struct {
			Message string `json:"message"`
			Tag     string `json:"tag"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if strings.TrimSpace(body.Message) == "" {
			body.Message = "Snapshot by " + actor.Name
		}
		result, err := s.service.CommitVersion(r.Context(), roofID, actor, body.Message, body.Tag)
		if err != nil {
			s.fail(w, err)
			return
		}
		status := http.StatusOK
		if result.Created {
			status = http.StatusCreated
		}
		writeJSON(w, status, result)
	case len(rest) == 2 && rest[1] == "restore" && r.Method == http.MethodPost:
		rev, err := s.service.RestoreVersion(r.Context(), roofID, actor, rest[0])
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"revision": rev})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleRoofExtras(w http.ResponseWriter, r *http.Request, actor Actor, roofID string, rest []string) {
	if len(rest) != 1 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	switch {
	case rest[0] == "report" && r.Method == http.MethodGet:
		format := report.Format(strings.ToLower(r.URL.Query().Get("format")))
		if format == "" {
			format = report.FormatHTML
		}
		result, err := s.service.Report(r.Context(), roofID, actor, format)
		if err != nil {
			s.fail(w, err)
			return
		}
		w.Header().Set("Content-Type", result.MimeType)
		w.Header().Set("Content-Disposition", `attachment; filename="`+result.Filename+`"`)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Data)
	case rest[0] == "search" && r.Method == http.MethodGet:
		q := r.URL.Query()
		result, err := s.service.Search(r.Context(), actor, search.Query{
			RoofID:   roofID,
			Text:     q.Get("q"),
			LayerID:  q.Get("layerId"),
			Kind:     q.Get("kind"),
			Status:   q.Get("status"),
			Priority: q.Get("priority"),
			Limit:    queryInt(q.Get("limit"), 20),
			Offset:   queryInt(q.Get("offset"), 0),
		})
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	case rest[0] == "presence" && r.Method == http.MethodGet:
		online, err := s.service.Presence(r.Context(), roofID)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"online": online})
	case rest[0] == "presence" && r.Method == http.MethodPost:
		online, err := s.service.JoinPresence(r.Context(), roofID, actor)
		if err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"online": online})
	case rest[0] == "presence" && r.Method == http.MethodDelete:
		if err := s.service.LeavePresence(r.Context(), roofID, actor); err != nil {
			s.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}
