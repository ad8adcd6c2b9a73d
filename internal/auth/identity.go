package auth

import "strings"

// Role is the caller's privilege level. Roles are strictly ordered:
// viewer < dealer < admin. A higher role satisfies any check that a
// lower role would pass.
type Role string

const (
	RoleViewer Role = "viewer"
	RoleDealer Role = "dealer"
	RoleAdmin  Role = "admin"
)

var roleLevels = map[Role]int{
	RoleViewer: 1,
	RoleDealer: 2,
	RoleAdmin:  3,
}

// ParseRole normalizes a role claim. Unknown or empty values report false.
func ParseRole(raw string) (Role, bool) {
	role := Role(strings.TrimSpace(strings.ToLower(raw)))
	_, ok := roleLevels[role]
	return role, ok
}

// Level returns the role's position in the hierarchy, 0 for unknown roles.
func (r Role) Level() int { return roleLevels[r] }

// AtLeast reports whether r is at or above the required role.
func (r Role) AtLeast(required Role) bool {
	return roleLevels[r] != 0 && roleLevels[r] >= roleLevels[required]
}

// Identity is the authenticated caller for the duration of one request.
// It is built from a verified token and never persisted; a nil Identity
// in the request context means the caller is anonymous.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
}
