package services

import (
	"context"
	"errors"

	"github.com/huangang/taskhub/backend/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProjectScoped is anything that belongs to exactly one project.
type ProjectScoped interface {
	ProjectRef() uint
}

// AuthorizationPolicy answers role questions. It never writes and can run on
// an open transaction so checks see the same snapshot as the mutation.
type AuthorizationPolicy struct {
	db      *gorm.DB
	catalog *RoleCatalog
	members MembershipStore
}

func NewAuthorizationPolicy(db *gorm.DB, catalog *RoleCatalog) *AuthorizationPolicy {
	return &AuthorizationPolicy{db: db, catalog: catalog}
}

// EffectiveRole is Owner for the project owner, the membership role for
// members and NoAccess for everyone else.
func (p *AuthorizationPolicy) EffectiveRole(ctx context.Context, actorID, projectID uint) (models.RoleName, error) {
	db := p.db.WithContext(ctx)
	project, err := findProject(db, projectID, false)
	if err != nil {
		return models.RoleNoAccess, finish("effective role", err)
	}
	role, err := p.effectiveRole(db, actorID, project)
	return role, finish("effective role", err)
}

// HasMinRole reports whether the actor's effective role ranks at or above minRole.
func (p *AuthorizationPolicy) HasMinRole(ctx context.Context, actorID, projectID uint, minRole string) (bool, error) {
	want, ok := models.ParseRoleName(minRole)
	if !ok {
		return false, ErrUnknownRole
	}
	role, err := p.EffectiveRole(ctx, actorID, projectID)
	if err != nil {
		return false, err
	}
	return role.AtLeast(want), nil
}

// HasMinRoleOn is HasMinRole for the project that obj belongs to.
func (p *AuthorizationPolicy) HasMinRoleOn(ctx context.Context, actorID uint, obj ProjectScoped, minRole string) (bool, error) {
	return p.HasMinRole(ctx, actorID, obj.ProjectRef(), minRole)
}

func (p *AuthorizationPolicy) IsAdminOrOwner(ctx context.Context, actorID, projectID uint) (bool, error) {
	role, err := p.EffectiveRole(ctx, actorID, projectID)
	if err != nil {
		return false, err
	}
	return role.IsAdminOrOwner(), nil
}

func (p *AuthorizationPolicy) effectiveRole(db *gorm.DB, actorID uint, project *models.Project) (models.RoleName, error) {
	if project.IsOwner(actorID) {
		return models.RoleOwner, nil
	}
	m, err := p.members.Find(db, project.ID, actorID)
	if err != nil {
		return models.RoleNoAccess, err
	}
	if m == nil {
		return models.RoleNoAccess, nil
	}
	return p.catalog.NameOf(m.RoleID), nil
}

// require fails with AccessDenied for outsiders and InsufficientRank for
// members below want.
func (p *AuthorizationPolicy) require(db *gorm.DB, actorID uint, project *models.Project, want models.RoleName) (models.RoleName, error) {
	role, err := p.effectiveRole(db, actorID, project)
	if err != nil {
		return role, err
	}
	if role == models.RoleNoAccess {
		return role, ErrAccessDenied
	}
	if !role.AtLeast(want) {
		return role, ErrInsufficientRank
	}
	return role, nil
}

// findProject loads a project, optionally locking its row.
func findProject(db *gorm.DB, projectID uint, forUpdate bool) (*models.Project, error) {
	if forUpdate {
		db = db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var project models.Project
	if err := db.First(&project, projectID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProjectNotFound
		}
		return nil, err
	}
	return &project, nil
}
