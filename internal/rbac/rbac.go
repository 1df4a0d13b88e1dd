package rbac

import "smartpin/api/internal/canvas"

type Role string
type Action string

const (
	RoleViewer     Role = "viewer"
	RoleInspector  Role = "inspector"
	RoleSupervisor Role = "supervisor"
	RoleAdmin      Role = "admin"
)

const (
	ActionRead        Action = "read"
	ActionEditPins    Action = "edit_pins"
	ActionEditLayers  Action = "edit_layers"
	ActionCloseIssues Action = "close_issues"
	ActionAdmin       Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleSupervisor:
		return action == ActionRead || action == ActionEditPins || action == ActionEditLayers || action == ActionCloseIssues
	case RoleInspector:
		return action == ActionRead || action == ActionEditPins
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleInspector, RoleSupervisor, RoleAdmin:
		return Role(role)
	default:
		return RoleViewer
	}
}

// Checker gates canvas layer operations by role. Every layer operation
// needs ActionEditLayers.
type Checker struct {
	Role Role
}

func (c Checker) HasPermission(req canvas.PermissionRequest) canvas.PermissionResult {
	if Can(c.Role, ActionEditLayers) {
		return canvas.PermissionResult{Allowed: true}
	}
	return canvas.PermissionResult{Reason: "role " + string(c.Role) + " cannot " + req.Operation}
}
