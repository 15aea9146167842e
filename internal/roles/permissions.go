package roles

// PermissionSet is the fixed-shape record of capabilities derived from a
// role. It is never stored and never partially computed; the zero value
// grants nothing.
type PermissionSet struct {
	CanViewAdmin          bool `json:"canViewAdmin"`
	CanManageTeam         bool `json:"canManageTeam"`
	CanViewFinance        bool `json:"canViewFinance"`
	CanManageCatalog      bool `json:"canManageCatalog"`
	CanManageReservations bool `json:"canManageReservations"`
	CanImpersonate        bool `json:"canImpersonate"`
}

// permissionTable is the single source of role capabilities.
var permissionTable = map[Role]PermissionSet{
	RoleAdmin: {
		CanViewAdmin:          true,
		CanManageTeam:         true,
		CanViewFinance:        true,
		CanManageCatalog:      true,
		CanManageReservations: true,
		CanImpersonate:        true,
	},
	RoleManager: {
		CanViewAdmin:          true,
		CanManageTeam:         true,
		CanManageCatalog:      true,
		CanManageReservations: true,
	},
	RoleStaff: {
		CanViewAdmin:          true,
		CanManageReservations: true,
	},
	RoleCustomer: {},
}

// PermissionsFor derives the permission set for a role via pure lookup.
func PermissionsFor(role Role) PermissionSet {
	return permissionTable[role]
}

// AllPermissions returns the full-capability set granted to super-admins.
func AllPermissions() PermissionSet {
	return permissionTable[RoleAdmin]
}

// Has reports a named permission; unknown names are always false.
func (p PermissionSet) Has(name string) bool {
	switch name {
	case "canViewAdmin":
		return p.CanViewAdmin
	case "canManageTeam":
		return p.CanManageTeam
	case "canViewFinance":
		return p.CanViewFinance
	case "canManageCatalog":
		return p.CanManageCatalog
	case "canManageReservations":
		return p.CanManageReservations
	case "canImpersonate":
		return p.CanImpersonate
	}
	return false
}
