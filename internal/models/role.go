package models

import "fmt"

// RoleName is a project role. Ranks are explicit so ordering never depends on
// declaration or string order.
type RoleName string

const (
	// RoleNoAccess is the effective role of a user with no relation to a project.
	// It ranks below every catalog role and is never stored.
	RoleNoAccess  RoleName = "NoAccess"
	RoleViewer    RoleName = "Viewer"
	RoleMember    RoleName = "Member"
	RoleModerator RoleName = "Moderator"
	RoleAdmin     RoleName = "Admin"
	// RoleOwner is virtual: derived from Project.OwnerID, never a Role row.
	RoleOwner RoleName = "Owner"
)

var roleRanks = map[RoleName]int{
	RoleNoAccess:  0,
	RoleViewer:    1,
	RoleMember:    2,
	RoleModerator: 3,
	RoleAdmin:     4,
	RoleOwner:     5,
}

// CatalogRoles lists the ranked roles from lowest to highest.
var CatalogRoles = []RoleName{RoleViewer, RoleMember, RoleModerator, RoleAdmin, RoleOwner}

// StoredRoles are the roles that exist as rows and may be assigned.
var StoredRoles = []RoleName{RoleViewer, RoleMember, RoleModerator, RoleAdmin}

func init() {
	seen := make(map[int]RoleName, len(roleRanks))
	for name, rank := range roleRanks {
		if other, dup := seen[rank]; dup {
			panic(fmt.Sprintf("roles %s and %s share rank %d", name, other, rank))
		}
		seen[rank] = name
	}
	for i, name := range CatalogRoles {
		rank, ok := roleRanks[name]
		if !ok {
			panic(fmt.Sprintf("catalog role %s has no rank", name))
		}
		if i > 0 && rank <= roleRanks[CatalogRoles[i-1]] {
			panic(fmt.Sprintf("catalog role %s is out of order", name))
		}
	}
	if len(CatalogRoles) != len(roleRanks)-1 {
		panic("every ranked role except NoAccess must be in the catalog")
	}
	for _, name := range StoredRoles {
		if name == RoleOwner || !name.InCatalog() {
			panic(fmt.Sprintf("role %s cannot be stored", name))
		}
	}
}

// ParseRoleName accepts only catalog role names.
func ParseRoleName(s string) (RoleName, bool) {
	name := RoleName(s)
	if !name.InCatalog() {
		return "", false
	}
	return name, true
}

// Rank returns the ordinal of r; unknown names rank with NoAccess.
func (r RoleName) Rank() int {
	return roleRanks[r]
}

func (r RoleName) InCatalog() bool {
	_, ok := roleRanks[r]
	return ok && r != RoleNoAccess
}

// Storable reports whether r may be persisted on a membership or share link.
func (r RoleName) Storable() bool {
	return r.InCatalog() && r != RoleOwner
}

// AtLeast reports whether r ranks at or above other.
func (r RoleName) AtLeast(other RoleName) bool {
	return r.Rank() >= other.Rank()
}

// IsAdminOrOwner reports whether r is one of the two administrative roles.
func (r RoleName) IsAdminOrOwner() bool {
	return r == RoleAdmin || r == RoleOwner
}

func (r RoleName) String() string { return string(r) }

// Role is a seeded, immutable catalog row.
type Role struct {
	ID   uint     `gorm:"primaryKey" json:"id"`
	Name RoleName `gorm:"uniqueIndex;size:50;not null" json:"name"`
}

func (Role) TableName() string { return "roles" }
