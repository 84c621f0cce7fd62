package services

import (
	"fmt"
	"sort"

	"github.com/huangang/taskhub/backend/internal/models"
	"gorm.io/gorm"
)

// RoleCatalog is the immutable set of seeded roles, loaded once at startup.
type RoleCatalog struct {
	byID   map[uint]models.Role
	byName map[models.RoleName]models.Role
	rows   []models.Role
}

// LoadRoleCatalog reads the roles table and checks that it holds exactly the
// storable roles, each once.
func LoadRoleCatalog(db *gorm.DB) (*RoleCatalog, error) {
	var rows []models.Role
	if err := db.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load roles: %w", err)
	}
	return NewRoleCatalog(rows)
}

func NewRoleCatalog(rows []models.Role) (*RoleCatalog, error) {
	c := &RoleCatalog{
		byID:   make(map[uint]models.Role, len(rows)),
		byName: make(map[models.RoleName]models.Role, len(rows)),
	}
	for _, r := range rows {
		if !r.Name.Storable() {
			return nil, fmt.Errorf("role %q (id %d) is not a storable role", r.Name, r.ID)
		}
		if _, dup := c.byName[r.Name]; dup {
			return nil, fmt.Errorf("role %q seeded twice", r.Name)
		}
		c.byID[r.ID] = r
		c.byName[r.Name] = r
	}
	for _, name := range models.StoredRoles {
		if _, ok := c.byName[name]; !ok {
			return nil, fmt.Errorf("role %q missing from catalog", name)
		}
	}

	c.rows = append(c.rows, rows...)
	sort.Slice(c.rows, func(i, j int) bool {
		return c.rows[i].Name.Rank() < c.rows[j].Name.Rank()
	})
	return c, nil
}

// Rank returns the ordinal of a catalog role name. Owner ranks highest.
func (c *RoleCatalog) Rank(name string) (int, error) {
	role, ok := models.ParseRoleName(name)
	if !ok {
		return 0, ErrUnknownRole
	}
	return role.Rank(), nil
}

func (c *RoleCatalog) Contains(name string) bool {
	_, ok := models.ParseRoleName(name)
	return ok
}

// ByID resolves an assignable role. Owner has no id and is never returned.
func (c *RoleCatalog) ByID(id uint) (models.Role, error) {
	r, ok := c.byID[id]
	if !ok {
		return models.Role{}, ErrInvalidRole
	}
	return r, nil
}

func (c *RoleCatalog) ByName(name models.RoleName) (models.Role, error) {
	r, ok := c.byName[name]
	if !ok {
		return models.Role{}, ErrInvalidRole
	}
	return r, nil
}

// NameOf maps a stored role id to its name, or NoAccess for unknown ids.
func (c *RoleCatalog) NameOf(id uint) models.RoleName {
	if r, ok := c.byID[id]; ok {
		return r.Name
	}
	return models.RoleNoAccess
}

// List returns the stored roles ordered by rank.
func (c *RoleCatalog) List() []models.Role {
	out := make([]models.Role, len(c.rows))
	copy(out, c.rows)
	return out
}
