package services

import (
	"context"

	"github.com/huangang/taskhub/backend/internal/models"
	"gorm.io/gorm"
)

type MembershipService struct {
	db       *gorm.DB
	catalog  *RoleCatalog
	policy   *AuthorizationPolicy
	members  MembershipStore
	notifier *Notifier
}

func NewMembershipService(db *gorm.DB, catalog *RoleCatalog, notifier *Notifier) *MembershipService {
	return &MembershipService{
		db:       db,
		catalog:  catalog,
		policy:   NewAuthorizationPolicy(db, catalog),
		notifier: notifier,
	}
}

type AssignRoleRequest struct {
	UserID uint `json:"user_id" binding:"required"`
	RoleID uint `json:"role_id" binding:"required"`
}

type KickRequest struct {
	UserID uint `json:"user_id" binding:"required"`
}

// ProjectMembers is the owner plus every stored membership.
type ProjectMembers struct {
	Owner   *models.User               `json:"owner"`
	Members []models.ProjectMembership `json:"members"`
}

// AssignRole replaces the target's role. The checks run in a fixed order and
// the first failing one wins:
//
//  1. target is the owner: CannotModifyOwner
//  2. target is the actor: ForbiddenSelfAssignment
//  3. target has no membership: MustJoinViaShareLink
//  4. actor is neither Admin nor Owner and does not outrank the new role: InsufficientRank
//  5. target already holds the role: NoOpAssignment
//
// The target's membership row stays locked from step 3 to the update.
func (s *MembershipService) AssignRole(ctx context.Context, projectID, targetID, roleID, actorID uint) (*models.ProjectMembership, error) {
	db := s.db.WithContext(ctx)

	project, err := findProject(db, projectID, false)
	if err != nil {
		return nil, finish("assign role", err)
	}
	ok, err := userExists(db, targetID)
	if err != nil {
		return nil, internalError("assign role", err)
	}
	if !ok {
		return nil, ErrUserNotFound
	}

	if project.IsOwner(targetID) {
		return nil, ErrCannotModifyOwner
	}
	if targetID == actorID {
		return nil, ErrForbiddenSelfAssignment
	}

	var (
		membership *models.ProjectMembership
		newRole    models.Role
	)
	err = db.Transaction(func(tx *gorm.DB) error {
		var err error
		membership, err = s.members.FindForUpdate(tx, projectID, targetID)
		if err != nil {
			return err
		}
		if membership == nil {
			return ErrMustJoinViaShareLink
		}

		newRole, err = s.catalog.ByID(roleID)
		if err != nil {
			return err
		}

		actorRole, err := s.policy.effectiveRole(tx, actorID, project)
		if err != nil {
			return err
		}
		if !actorRole.IsAdminOrOwner() && actorRole.Rank() <= newRole.Name.Rank() {
			return ErrInsufficientRank
		}

		if membership.RoleID == newRole.ID {
			return ErrNoOpAssignment
		}
		return s.members.UpdateRole(tx, membership, newRole.ID)
	})
	if err != nil {
		return nil, finish("assign role", err)
	}

	membership.Role = &newRole
	s.notifier.publish(&MembershipEvent{
		Action:       ActionRoleAssigned,
		ProjectID:    projectID,
		ActorID:      actorID,
		TargetUserID: targetID,
		Role:         newRole.Name.String(),
	})
	return membership, nil
}

// Kick removes another user's membership. Only Admin or the owner may kick.
func (s *MembershipService) Kick(ctx context.Context, projectID, targetID, actorID uint) error {
	db := s.db.WithContext(ctx)

	project, err := findProject(db, projectID, false)
	if err != nil {
		return finish("kick member", err)
	}
	if project.IsOwner(targetID) {
		return ErrCannotKickOwner
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		if _, err := s.policy.require(tx, actorID, project, models.RoleAdmin); err != nil {
			return err
		}
		existed, err := s.members.Delete(tx, projectID, targetID)
		if err != nil {
			return err
		}
		if !existed {
			return ErrNotAMember
		}
		return nil
	})
	if err != nil {
		return finish("kick member", err)
	}

	s.notifier.publish(&MembershipEvent{
		Action:       ActionMemberKicked,
		ProjectID:    projectID,
		ActorID:      actorID,
		TargetUserID: targetID,
	})
	return nil
}

// Leave removes the actor's own membership. The owner cannot leave.
func (s *MembershipService) Leave(ctx context.Context, projectID, actorID uint) error {
	db := s.db.WithContext(ctx)

	project, err := findProject(db, projectID, false)
	if err != nil {
		return finish("leave project", err)
	}
	if project.IsOwner(actorID) {
		return ErrOwnerCannotLeave
	}

	existed, err := s.members.Delete(db, projectID, actorID)
	if err != nil {
		return internalError("leave project", err)
	}
	if !existed {
		return ErrNotAMember
	}

	s.notifier.publish(&MembershipEvent{
		Action:    ActionMemberLeft,
		ProjectID: projectID,
		ActorID:   actorID,
	})
	return nil
}

// List returns the owner and members of a project. Viewer or above.
func (s *MembershipService) List(ctx context.Context, projectID, actorID uint) (*ProjectMembers, error) {
	db := s.db.WithContext(ctx)

	project, err := findProject(db, projectID, false)
	if err != nil {
		return nil, finish("list members", err)
	}
	if _, err := s.policy.require(db, actorID, project, models.RoleViewer); err != nil {
		return nil, finish("list members", err)
	}

	var owner models.User
	if err := db.First(&owner, project.OwnerID).Error; err != nil {
		return nil, internalError("list members", err)
	}
	members, err := s.members.ListByProject(db, projectID)
	if err != nil {
		return nil, internalError("list members", err)
	}
	return &ProjectMembers{Owner: &owner, Members: members}, nil
}
