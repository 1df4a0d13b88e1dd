package canvas

import (
	"time"

	"smartpin/api/internal/geometry"
	"smartpin/api/internal/inspection"
)

type LayerKind string

const (
	KindIssue  LayerKind = "issue"
	KindRFI    LayerKind = "rfi"
	KindDetail LayerKind = "detail"
	KindNote   LayerKind = "note"
)

// LayerKinds lists the kinds in their canonical order.
var LayerKinds = []LayerKind{KindIssue, KindRFI, KindDetail, KindNote}

func (k LayerKind) Valid() bool {
	switch k {
	case KindIssue, KindRFI, KindDetail, KindNote:
		return true
	}
	return false
}

type Visibility string

const (
	Visible Visibility = "visible"
	Hidden  Visibility = "hidden"
	Dimmed  Visibility = "dimmed"
)

func (v Visibility) Valid() bool {
	return v == Visible || v == Hidden || v == Dimmed
}

type LayerStatus string

const (
	LayerActive   LayerStatus = "active"
	LayerInactive LayerStatus = "inactive"
	LayerLocked   LayerStatus = "locked"
)

func (s LayerStatus) Valid() bool {
	return s == LayerActive || s == LayerInactive || s == LayerLocked
}

type LayerPermissions struct {
	View   bool `json:"view"`
	Create bool `json:"create"`
	Edit   bool `json:"edit"`
	Delete bool `json:"delete"`
	Manage bool `json:"manage"`
}

type LayerSettings struct {
	ShowTooltips     bool    `json:"showTooltips"`
	EnableClustering bool    `json:"enableClustering"`
	ClusterThreshold int     `json:"clusterThreshold"`
	ShowLabels       bool    `json:"showLabels"`
	SnapEnabled      bool    `json:"snapEnabled"`
	GridSize         int     `json:"gridSize"`
	Opacity          float64 `json:"opacity"`
	ZIndex           int     `json:"zIndex"`
}

type LayerStats struct {
	Total        int       `json:"total"`
	Visible      int       `json:"visible"`
	Active       int       `json:"active"`
	LastUpdated  time.Time `json:"lastUpdated"`
	RenderTimeMs float64   `json:"renderTimeMs"`
	MemoryBytes  int64     `json:"memoryBytes"`
}

type Layer struct {
	ID          string           `json:"id"`
	Kind        LayerKind        `json:"kind"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Color       string           `json:"color"`
	Icon        string           `json:"icon"`
	Visibility  Visibility       `json:"visibility"`
	Status      LayerStatus      `json:"status"`
	Order       int              `json:"order"`
	Permissions LayerPermissions `json:"permissions"`
	Settings    LayerSettings    `json:"settings"`
	Stats       LayerStats       `json:"stats"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

// LayerInput is the data accepted by CreateLayer. Zero fields take defaults.
type LayerInput struct {
	Kind        LayerKind         `json:"kind"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Color       string            `json:"color"`
	Icon        string            `json:"icon"`
	Visibility  Visibility        `json:"visibility"`
	Status      LayerStatus       `json:"status"`
	Permissions *LayerPermissions `json:"permissions"`
	Settings    *LayerSettings    `json:"settings"`
}

// LayerPatch merges into an existing layer; nil fields are left unchanged.
// Permissions and Settings replace the whole record when set.
type LayerPatch struct {
	Name        *string           `json:"name"`
	Description *string           `json:"description"`
	Kind        *LayerKind        `json:"kind"`
	Color       *string           `json:"color"`
	Icon        *string           `json:"icon"`
	Visibility  *Visibility       `json:"visibility"`
	Status      *LayerStatus      `json:"status"`
	Permissions *LayerPermissions `json:"permissions"`
	Settings    *LayerSettings    `json:"settings"`
}

func (p LayerPatch) apply(l Layer) Layer {
	if p.Name != nil {
		l.Name = *p.Name
	}
	if p.Description != nil {
		l.Description = *p.Description
	}
	if p.Kind != nil {
		l.Kind = *p.Kind
	}
	if p.Color != nil {
		l.Color = *p.Color
	}
	if p.Icon != nil {
		l.Icon = *p.Icon
	}
	if p.Visibility != nil {
		l.Visibility = *p.Visibility
	}
	if p.Status != nil {
		l.Status = *p.Status
	}
	if p.Permissions != nil {
		l.Permissions = *p.Permissions
	}
	if p.Settings != nil {
		l.Settings = *p.Settings
	}
	return l
}

// LayerFilter matches layers on every non-empty field.
type LayerFilter struct {
	Kinds      []LayerKind   `json:"kinds"`
	Statuses   []LayerStatus `json:"statuses"`
	Visibility []Visibility  `json:"visibility"`
	Search     string        `json:"search"`
}

type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

type AttachmentKind string

const (
	AttachmentOpening  AttachmentKind = "opening"
	AttachmentClosing  AttachmentKind = "closing"
	AttachmentEvidence AttachmentKind = "evidence"
)

type Attachment struct {
	ID          string         `json:"id"`
	Kind        AttachmentKind `json:"kind"`
	ObjectKey   string         `json:"objectKey"`
	ContentType string         `json:"contentType"`
	Size        int64          `json:"size"`
	UploadedAt  time.Time      `json:"uploadedAt"`
}

type PinMetadata struct {
	Tags             []string     `json:"tags"`
	Priority         Priority     `json:"priority"`
	Assignee         string       `json:"assignee,omitempty"`
	DueDate          *time.Time   `json:"dueDate,omitempty"`
	EstimatedHours   float64      `json:"estimatedHours,omitempty"`
	ActualHours      float64      `json:"actualHours,omitempty"`
	Dependencies     []string     `json:"dependencies"`
	Attachments      []Attachment `json:"attachments"`
	Notes            string       `json:"notes,omitempty"`
	CorrectiveAction string       `json:"correctiveAction,omitempty"`
}

func (m PinMetadata) clone() PinMetadata {
	out := m
	out.Tags = append([]string(nil), m.Tags...)
	out.Dependencies = append([]string(nil), m.Dependencies...)
	out.Attachments = append([]Attachment(nil), m.Attachments...)
	if m.DueDate != nil {
		due := *m.DueDate
		out.DueDate = &due
	}
	return out
}

type AnimationType string

const (
	AnimationPulse  AnimationType = "pulse"
	AnimationBounce AnimationType = "bounce"
	AnimationFade   AnimationType = "fade"
	AnimationScale  AnimationType = "scale"
	AnimationNone   AnimationType = "none"
)

type Animation struct {
	Type       AnimationType `json:"type"`
	DurationMs int           `json:"durationMs"`
	Active     bool          `json:"active"`
}

type RenderProps struct {
	Size      float64   `json:"size"`
	Scale     float64   `json:"scale"`
	Rotation  float64   `json:"rotation"`
	Visible   bool      `json:"visible"`
	Selected  bool      `json:"selected"`
	Hovered   bool      `json:"hovered"`
	Dragging  bool      `json:"dragging"`
	Animation Animation `json:"animation"`
}

func defaultRenderProps() RenderProps {
	return RenderProps{Size: 24, Scale: 1, Visible: true, Animation: Animation{Type: AnimationNone}}
}

type Pin struct {
	ID        string            `json:"id"`
	LayerID   string            `json:"layerId"`
	Kind      LayerKind         `json:"kind"`
	Position  geometry.Point    `json:"position"`
	Title     string            `json:"title,omitempty"`
	Status    inspection.Status `json:"status"`
	ParentID  string            `json:"parentId,omitempty"`
	Metadata  PinMetadata       `json:"metadata"`
	Render    RenderProps       `json:"render"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

// Clone returns a copy that shares no slices or pointers with p.
func (p Pin) Clone() Pin {
	p.Metadata = p.Metadata.clone()
	return p
}

// PinInput is the data accepted by CreatePin.
type PinInput struct {
	LayerID  string            `json:"layerId"`
	Position geometry.Point    `json:"position"`
	Title    string            `json:"title"`
	Status   inspection.Status `json:"status"`
	ParentID string            `json:"parentId"`
	Metadata PinMetadata       `json:"metadata"`
	Render   *RenderProps      `json:"render"`
}

// PinPatch merges into an existing pin; nil fields are left unchanged.
type PinPatch struct {
	LayerID  *string            `json:"layerId"`
	Position *geometry.Point    `json:"position"`
	Title    *string            `json:"title"`
	Status   *inspection.Status `json:"status"`
	ParentID *string            `json:"parentId"`
	Metadata *PinMetadata       `json:"metadata"`
	Render   *RenderProps       `json:"render"`
}

func (p PinPatch) apply(pin Pin) Pin {
	if p.LayerID != nil {
		pin.LayerID = *p.LayerID
	}
	if p.Position != nil {
		pin.Position = *p.Position
	}
	if p.Title != nil {
		pin.Title = *p.Title
	}
	if p.Status != nil {
		pin.Status = *p.Status
	}
	if p.ParentID != nil {
		pin.ParentID = *p.ParentID
	}
	if p.Metadata != nil {
		pin.Metadata = p.Metadata.clone()
	}
	if p.Render != nil {
		pin.Render = *p.Render
	}
	return pin
}

type SelectionMode string

const (
	SelectSingle   SelectionMode = "single"
	SelectMultiple SelectionMode = "multiple"
	SelectArea     SelectionMode = "area"
)

// Selection is a read-only copy of the selection state.
type Selection struct {
	IDs          []string       `json:"ids"`
	Mode         SelectionMode  `json:"mode"`
	Area         *geometry.Rect `json:"area,omitempty"`
	LastSelected string         `json:"lastSelected,omitempty"`
}

// DragState exists only while a drag is in progress.
type DragState struct {
	PinID   string         `json:"pinId"`
	Start   geometry.Point `json:"start"`
	Current geometry.Point `json:"current"`
	Offset  geometry.Point `json:"offset"`
}

// Nearby is a pin with its distance from a query point.
type Nearby struct {
	Pin      Pin     `json:"pin"`
	Distance float64 `json:"distance"`
}
