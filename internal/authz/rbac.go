package authz

import "slices"

type Permission string

const (
	PermissionManageMembers  Permission = "manage_members"
	PermissionManageMessages Permission = "manage_messages"
	PermissionManageTasks    Permission = "manage_tasks"
	PermissionManageCalls    Permission = "manage_calls"
	PermissionManagePolls    Permission = "manage_polls"
)

var allPermissions = []Permission{
	PermissionManageMembers,
	PermissionManageMessages,
	PermissionManageTasks,
	PermissionManageCalls,
	PermissionManagePolls,
}

func ParsePermission(s string) (Permission, bool) {
	p := Permission(s)
	return p, slices.Contains(allPermissions, p)
}

type Role string

const (
	RoleOwner     Role = "owner"
	RoleModerator Role = "moderator"
	RoleUser      Role = "user"
)

func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleOwner, RoleModerator, RoleUser:
		return Role(s), true
	}
	return "", false
}

// DefaultPermissions is what a role grants before any per-member grants.
func DefaultPermissions(role Role) []Permission {
	switch role {
	case RoleOwner:
		return slices.Clone(allPermissions)
	case RoleModerator:
		return []Permission{PermissionManageMessages, PermissionManagePolls}
	default:
		return nil
	}
}

// Grants reports whether role together with the explicit grants carries
// permission. Unknown roles grant nothing beyond the explicit list.
func Grants(role Role, explicit []Permission, permission Permission) bool {
	if slices.Contains(explicit, permission) {
		return true
	}
	return slices.Contains(DefaultPermissions(role), permission)
}
