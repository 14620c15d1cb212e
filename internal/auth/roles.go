package auth

// Role represents a portal role for role-based access control
type Role string

const (
	// RoleAdmin has full access to all admin endpoints
	RoleAdmin Role = "admin"

	// RoleViewer has read-only access to admin endpoints
	RoleViewer Role = "viewer"

	// RoleUser can use the chat endpoints but not the admin API
	RoleUser Role = "user"
)

// String returns the string representation of the role
func (r Role) String() string {
	return string(r)
}

// IsValid checks if the role is a valid role
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleViewer, RoleUser:
		return true
	default:
		return false
	}
}

// HasPermission checks if a role satisfies a required role. Admin has all
// permissions; viewer and user only satisfy themselves.
func (r Role) HasPermission(required Role) bool {
	if r == RoleAdmin {
		return true
	}
	return r == required
}
