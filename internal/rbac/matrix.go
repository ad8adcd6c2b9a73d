// Package rbac decides whether a role may perform an action on a resource.
//
// Permissions are expressed as "minimum role required": the matrix maps a
// (resource, action) pair to the lowest role allowed, and any role at or
// above that level passes. A pair missing from the matrix denies every
// role, admin included. The matrix is built once at startup and injected
// into the middleware, never consulted as a package global.
package rbac

import (
	"github.com/tardis-create/revenueforge-sub000/internal/auth"
)

// Matrix is the immutable permission table. Construct with NewMatrix and
// do not mutate afterwards; it is shared across all requests without
// locking.
type Matrix struct {
	rules map[string]map[string]auth.Role
}

// NewMatrix copies the given rules into a frozen matrix.
func NewMatrix(rules map[string]map[string]auth.Role) *Matrix {
	frozen := make(map[string]map[string]auth.Role, len(rules))
	for resource, actions := range rules {
		inner := make(map[string]auth.Role, len(actions))
		for action, role := range actions {
			inner[action] = role
		}
		frozen[resource] = inner
	}
	return &Matrix{rules: frozen}
}

// Allows reports whether the role may perform action on resource.
// Missing entries deny explicitly: there is no default-allow path.
func (m *Matrix) Allows(role auth.Role, resource, action string) bool {
	actions, ok := m.rules[resource]
	if !ok {
		return false
	}
	required, ok := actions[action]
	if !ok {
		return false
	}
	return role.AtLeast(required)
}

// MinimumRole returns the configured floor for a pair, with ok=false when
// the pair is absent (and therefore denied for everyone).
func (m *Matrix) MinimumRole(resource, action string) (auth.Role, bool) {
	actions, ok := m.rules[resource]
	if !ok {
		return "", false
	}
	role, ok := actions[action]
	return role, ok
}

// Default is the production matrix for the marketplace API.
func Default() *Matrix {
	return NewMatrix(map[string]map[string]auth.Role{
		"products": {
			"read":   auth.RoleViewer,
			"create": auth.RoleDealer,
			"update": auth.RoleDealer,
			"delete": auth.RoleAdmin,
		},
		"leads": {
			"read":     auth.RoleDealer,
			"create":   auth.RoleDealer,
			"update":   auth.RoleDealer,
			"delete":   auth.RoleAdmin,
			"assign":   auth.RoleAdmin,
			"unassign": auth.RoleAdmin,
		},
		"quotes": {
			"read":    auth.RoleDealer,
			"create":  auth.RoleDealer,
			"update":  auth.RoleDealer,
			"delete":  auth.RoleAdmin,
			"approve": auth.RoleAdmin,
			"reject":  auth.RoleAdmin,
		},
		"templates": {
			"read":   auth.RoleDealer,
			"create": auth.RoleAdmin,
			"update": auth.RoleAdmin,
			"delete": auth.RoleAdmin,
		},
		"settings": {
			"read":   auth.RoleAdmin,
			"update": auth.RoleAdmin,
		},
		"audit": {
			"read": auth.RoleAdmin,
		},
		"auth": {
			"login": auth.RoleViewer,
		},
	})
}
