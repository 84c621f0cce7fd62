package services

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/huangang/taskhub/backend/internal/models"
	"gorm.io/gorm"
)

const minProjectNameLength = 3

type ProjectService struct {
	db       *gorm.DB
	policy   *AuthorizationPolicy
	notifier *Notifier
}

func NewProjectService(db *gorm.DB, catalog *RoleCatalog, notifier *Notifier) *ProjectService {
	return &ProjectService{
		db:       db,
		policy:   NewAuthorizationPolicy(db, catalog),
		notifier: notifier,
	}
}

type ProjectListRequest struct {
	Page     int    `form:"page" binding:"omitempty,min=1"`
	PageSize int    `form:"page_size" binding:"omitempty,min=1,max=100"`
	Name     string `form:"name"`
}

// ProjectView is a project together with the caller's effective role in it.
type ProjectView struct {
	models.Project
	Role models.RoleName `json:"role"`
}

type ProjectListResponse struct {
	Total    int64         `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"page_size"`
	Items    []ProjectView `json:"items"`
}

type CreateProjectRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

type UpdateProjectRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

func normalizeProjectName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) < minProjectNameLength {
		return "", ErrInvalidProjectName
	}
	return name, nil
}

// List returns the projects the actor owns or belongs to, paginated.
func (s *ProjectService) List(ctx context.Context, actorID uint, req *ProjectListRequest) (*ProjectListResponse, error) {
	if req.Page == 0 {
		req.Page = 1
	}
	if req.PageSize == 0 {
		req.PageSize = 10
	}

	db := s.db.WithContext(ctx)
	memberOf := db.Model(&models.ProjectMembership{}).Select("project_id").Where("user_id = ?", actorID)
	query := db.Model(&models.Project{}).Where("owner_id = ? OR id IN (?)", actorID, memberOf)
	if req.Name != "" {
		query = query.Where("name LIKE ?", "%"+req.Name+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, internalError("count projects", err)
	}

	var projects []models.Project
	offset := (req.Page - 1) * req.PageSize
	if err := query.Offset(offset).Limit(req.PageSize).Order("id DESC").Find(&projects).Error; err != nil {
		return nil, internalError("list projects", err)
	}

	items := make([]ProjectView, 0, len(projects))
	for i := range projects {
		role, err := s.policy.effectiveRole(db, actorID, &projects[i])
		if err != nil {
			return nil, internalError("list projects", err)
		}
		items = append(items, ProjectView{Project: projects[i], Role: role})
	}

	return &ProjectListResponse{
		Total:    total,
		Page:     req.Page,
		PageSize: req.PageSize,
		Items:    items,
	}, nil
}

// Get returns a project visible to the actor. Outsiders get ProjectNotFound.
func (s *ProjectService) Get(ctx context.Context, projectID, actorID uint) (*ProjectView, error) {
	db := s.db.WithContext(ctx)
	project, err := findProject(db, projectID, false)
	if err != nil {
		return nil, finish("get project", err)
	}
	role, err := s.policy.require(db, actorID, project, models.RoleViewer)
	if errors.Is(err, ErrAccessDenied) {
		return nil, ErrProjectNotFound
	}
	if err != nil {
		return nil, finish("get project", err)
	}
	return &ProjectView{Project: *project, Role: role}, nil
}

// Create makes the actor the owner of a new project. The owner gets no
// membership row.
func (s *ProjectService) Create(ctx context.Context, ownerID uint, req *CreateProjectRequest) (*models.Project, error) {
	name, err := normalizeProjectName(req.Name)
	if err != nil {
		return nil, err
	}

	project := &models.Project{
		Name:        name,
		Description: req.Description,
		OwnerID:     ownerID,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := userExists(tx, ownerID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrUserNotFound
		}
		if err := checkDuplicateName(tx, ownerID, name, 0); err != nil {
			return err
		}
		if err := tx.Create(project).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrDuplicateProjectName
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, finish("create project", err)
	}

	s.notifier.publish(&MembershipEvent{
		Action:    ActionProjectCreated,
		ProjectID: project.ID,
		ActorID:   ownerID,
		Role:      models.RoleOwner.String(),
	})
	return project, nil
}

func checkDuplicateName(tx *gorm.DB, ownerID uint, name string, excludeID uint) error {
	query := tx.Model(&models.Project{}).Where("owner_id = ? AND name = ?", ownerID, name)
	if excludeID != 0 {
		query = query.Where("id <> ?", excludeID)
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrDuplicateProjectName
	}
	return nil
}

// Update changes name or description. Member or above.
func (s *ProjectService) Update(ctx context.Context, projectID, actorID uint, req *UpdateProjectRequest) (*models.Project, error) {
	var project *models.Project
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		project, err = findProject(tx, projectID, true)
		if err != nil {
			return err
		}
		if _, err := s.policy.require(tx, actorID, project, models.RoleMember); err != nil {
			return err
		}

		updates := map[string]interface{}{}
		if req.Name != nil {
			name, err := normalizeProjectName(*req.Name)
			if err != nil {
				return err
			}
			if err := checkDuplicateName(tx, project.OwnerID, name, project.ID); err != nil {
				return err
			}
			updates["name"] = name
		}
		if req.Description != nil {
			updates["description"] = *req.Description
		}
		if len(updates) == 0 {
			return nil
		}
		if err := tx.Model(project).Updates(updates).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return ErrDuplicateProjectName
			}
			return err
		}
		if name, ok := updates["name"].(string); ok {
			project.Name = name
		}
		if req.Description != nil {
			project.Description = *req.Description
		}
		return nil
	})
	if err != nil {
		return nil, finish("update project", err)
	}
	return project, nil
}

// Delete removes the project with its memberships and share links. Admin or owner.
func (s *ProjectService) Delete(ctx context.Context, projectID, actorID uint) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		project, err := findProject(tx, projectID, true)
		if err != nil {
			return err
		}
		if _, err := s.policy.require(tx, actorID, project, models.RoleAdmin); err != nil {
			return err
		}
		return deleteProjectTree(tx, projectID)
	})
	if err != nil {
		return finish("delete project", err)
	}

	s.notifier.publish(&MembershipEvent{
		Action:    ActionProjectDeleted,
		ProjectID: projectID,
		ActorID:   actorID,
	})
	return nil
}
