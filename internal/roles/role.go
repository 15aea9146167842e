// Package roles resolves an actor's effective role and permissions from
// the super-admin allow-list and the external team directory.
package roles

import "strings"

// Role is the closed privilege tier. Customer is the least-privilege
// default and the only value usable when resolution cannot complete.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleManager  Role = "manager"
	RoleStaff    Role = "staff"
	RoleCustomer Role = "customer"
)

// Rank orders roles by privilege, higher is more privileged.
func (r Role) Rank() int {
	switch r {
	case RoleAdmin:
		return 3
	case RoleManager:
		return 2
	case RoleStaff:
		return 1
	default:
		return 0
	}
}

// Valid reports whether r is one of the four closed values.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleStaff, RoleCustomer:
		return true
	}
	return false
}

// RoleForPosition maps a directory position string to a role. Unknown
// positions land in the staff bucket.
func RoleForPosition(position string) Role {
	switch strings.TrimSpace(strings.ToLower(position)) {
	case "owner", "director", "administrator":
		return RoleAdmin
	case "manager", "general manager", "supervisor":
		return RoleManager
	default:
		return RoleStaff
	}
}
