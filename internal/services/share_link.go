package services

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/huangang/taskhub/backend/internal/models"
	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RedeemOutcome is the successful result of redeeming a share link.
type RedeemOutcome string

const (
	OutcomeJoined        RedeemOutcome = "Joined"
	OutcomeAlreadyMember RedeemOutcome = "AlreadyMember"
)

// TokenGenerator returns a new opaque share-link token.
type TokenGenerator func() string

// UUIDTokens generates random (version 4) UUID tokens.
func UUIDTokens() string { return uuid.NewString() }

// maxExpiresInMinutes keeps the expiry offset within time.Duration.
const maxExpiresInMinutes = int(math.MaxInt64 / int64(time.Minute))

// errAlreadyJoined rolls back a redeem that lost an insert race.
var errAlreadyJoined = errors.New("membership already exists")

type ShareLinkService struct {
	db           *gorm.DB
	catalog      *RoleCatalog
	policy       *AuthorizationPolicy
	members      MembershipStore
	notifier     *Notifier
	clock        clockwork.Clock
	newToken     TokenGenerator
	singleActive bool
}

type ShareLinkOption func(*ShareLinkService)

// WithClock sets the clock used for expiry decisions.
func WithClock(clock clockwork.Clock) ShareLinkOption {
	return func(s *ShareLinkService) { s.clock = clock }
}

func WithTokenGenerator(gen TokenGenerator) ShareLinkOption {
	return func(s *ShareLinkService) { s.newToken = gen }
}

// WithSingleActiveLink rejects creating a link while another valid one exists.
func WithSingleActiveLink(enabled bool) ShareLinkOption {
	return func(s *ShareLinkService) { s.singleActive = enabled }
}

func NewShareLinkService(db *gorm.DB, catalog *RoleCatalog, notifier *Notifier, opts ...ShareLinkOption) *ShareLinkService {
	s := &ShareLinkService{
		db:       db,
		catalog:  catalog,
		policy:   NewAuthorizationPolicy(db, catalog),
		notifier: notifier,
		clock:    clockwork.NewRealClock(),
		newToken: UUIDTokens,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type CreateShareLinkRequest struct {
	RoleID    uint `json:"role_id" binding:"required"`
	MaxUses   *int `json:"max_uses"`
	ExpiresIn *int `json:"expires_in"` // minutes
}

// RedeemResult reports what a redemption did.
type RedeemResult struct {
	Outcome   RedeemOutcome `json:"outcome"`
	ProjectID uint          `json:"project_id"`
	Role      string        `json:"role,omitempty"`
}

// Create issues a new link. The creator must be Moderator or above. Role,
// quota and expiry are validated first; then a creator who is not Admin or
// Owner may only grant roles below their own.
func (s *ShareLinkService) Create(ctx context.Context, projectID, actorID, roleID uint, maxUses *int, expiresInMinutes int) (*models.ShareLink, error) {
	var link *models.ShareLink
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		project, err := findProject(tx, projectID, s.singleActive)
		if err != nil {
			return err
		}
		actorRole, err := s.policy.require(tx, actorID, project, models.RoleModerator)
		if err != nil {
			return err
		}

		role, err := s.catalog.ByID(roleID)
		if err != nil {
			return err
		}
		if maxUses != nil && *maxUses < 1 {
			return ErrInvalidQuota
		}
		if expiresInMinutes < 1 || expiresInMinutes > maxExpiresInMinutes {
			return ErrInvalidExpiry
		}
		if !actorRole.IsAdminOrOwner() && actorRole.Rank() <= role.Name.Rank() {
			return ErrInsufficientRank
		}

		now := s.clock.Now()
		if s.singleActive {
			active, err := s.hasValidLink(tx, projectID, now)
			if err != nil {
				return err
			}
			if active {
				return ErrActiveLinkExists
			}
		}

		link = &models.ShareLink{
			Token:     s.newToken(),
			ProjectID: projectID,
			RoleID:    role.ID,
			MaxUses:   maxUses,
			IsActive:  true,
			ExpiresAt: now.Add(time.Duration(expiresInMinutes) * time.Minute),
			CreatedBy: actorID,
			CreatedAt: now,
		}
		if err := tx.Create(link).Error; err != nil {
			return err
		}
		link.Role = &role
		return nil
	})
	if err != nil {
		return nil, finish("create share link", err)
	}

	s.notifier.publish(&MembershipEvent{
		Action:      ActionShareLinkCreated,
		ProjectID:   projectID,
		ActorID:     actorID,
		Role:        link.Role.Name.String(),
		ShareLinkID: link.ID,
	})
	return link, nil
}

func (s *ShareLinkService) hasValidLink(tx *gorm.DB, projectID uint, now time.Time) (bool, error) {
	var links []models.ShareLink
	if err := tx.Where("project_id = ? AND is_active = ?", projectID, true).Find(&links).Error; err != nil {
		return false, err
	}
	for i := range links {
		if links[i].IsValid(now) {
			return true, nil
		}
	}
	return false, nil
}

// ValidateShareLink reports why a link cannot be redeemed, checking expiry, then
// quota, then the active flag.
func ValidateShareLink(link *models.ShareLink, now time.Time) error {
	switch {
	case link.IsExpired(now):
		return ErrLinkExpired
	case link.IsUsageExceeded():
		return ErrLinkUsageExceeded
	case !link.IsActive:
		return ErrLinkInactive
	}
	return nil
}

// Redeem joins userID to the link's project. The link row is locked from the
// validity check through the used_count increment, so a link with max_uses
// N admits at most N joins no matter how many redeem at once. Users who
// already belong to the project (the owner included) get AlreadyMember and
// consume nothing.
func (s *ShareLinkService) Redeem(ctx context.Context, token string, userID uint) (*RedeemResult, error) {
	result, err := s.redeem(ctx, token, userID)
	if err != nil {
		s.notifier.redeemed(string(CodeOf(err)))
		return nil, err
	}
	s.notifier.redeemed(string(result.Outcome))
	return result, nil
}

func (s *ShareLinkService) redeem(ctx context.Context, token string, userID uint) (*RedeemResult, error) {
	db := s.db.WithContext(ctx)

	var (
		link   models.ShareLink
		result *RedeemResult
	)
	err := db.Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("token = ?", token).
			First(&link).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrLinkNotFound
		}
		if err != nil {
			return err
		}

		if err := ValidateShareLink(&link, s.clock.Now()); err != nil {
			return err
		}

		ok, err := userExists(tx, userID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrUserNotFound
		}

		project, err := findProject(tx, link.ProjectID, false)
		if err != nil {
			return err
		}
		result = &RedeemResult{ProjectID: link.ProjectID}
		if project.IsOwner(userID) {
			result.Outcome = OutcomeAlreadyMember
			return nil
		}
		existing, err := s.members.Find(tx, link.ProjectID, userID)
		if err != nil {
			return err
		}
		if existing != nil {
			result.Outcome = OutcomeAlreadyMember
			return nil
		}

		m := &models.ProjectMembership{ProjectID: link.ProjectID, UserID: userID, RoleID: link.RoleID}
		if err := s.members.Create(tx, m); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return errAlreadyJoined
			}
			return err
		}

		// The quota guard repeats the locked check so the count can never
		// pass max_uses even where row locks are unavailable.
		res := tx.Model(&models.ShareLink{}).
			Where("id = ? AND (max_uses IS NULL OR used_count < max_uses)", link.ID).
			UpdateColumn("used_count", gorm.Expr("used_count + ?", 1))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return ErrLinkUsageExceeded
		}

		result.Outcome = OutcomeJoined
		result.Role = s.catalog.NameOf(link.RoleID).String()
		return nil
	})
	if errors.Is(err, errAlreadyJoined) {
		return &RedeemResult{Outcome: OutcomeAlreadyMember, ProjectID: link.ProjectID}, nil
	}
	if err != nil {
		return nil, finish("redeem share link", err)
	}

	if result.Outcome == OutcomeJoined {
		s.notifier.publish(&MembershipEvent{
			Action:       ActionMemberJoined,
			ProjectID:    link.ProjectID,
			ActorID:      userID,
			TargetUserID: userID,
			Role:         result.Role,
			ShareLinkID:  link.ID,
		})
	}
	return result, nil
}

// Delete removes a link of the project. Moderator or above.
func (s *ShareLinkService) Delete(ctx context.Context, projectID, linkID, actorID uint) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		project, err := findProject(tx, projectID, false)
		if err != nil {
			return err
		}
		if _, err := s.policy.require(tx, actorID, project, models.RoleModerator); err != nil {
			return err
		}
		res := tx.Where("id = ? AND project_id = ?", linkID, projectID).Delete(&models.ShareLink{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrLinkNotFound
		}
		return nil
	})
	if err != nil {
		return finish("delete share link", err)
	}

	s.notifier.publish(&MembershipEvent{
		Action:      ActionShareLinkDeleted,
		ProjectID:   projectID,
		ActorID:     actorID,
		ShareLinkID: linkID,
	})
	return nil
}

// Deactivate switches a link off without deleting it. Moderator or above.
func (s *ShareLinkService) Deactivate(ctx context.Context, projectID, linkID, actorID uint) (*models.ShareLink, error) {
	var link models.ShareLink
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		project, err := findProject(tx, projectID, false)
		if err != nil {
			return err
		}
		if _, err := s.policy.require(tx, actorID, project, models.RoleModerator); err != nil {
			return err
		}
		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ? AND project_id = ?", linkID, projectID).
			First(&link).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrLinkNotFound
		}
		if err != nil {
			return err
		}
		if err := tx.Model(&link).Update("is_active", false).Error; err != nil {
			return err
		}
		link.IsActive = false
		return nil
	})
	if err != nil {
		return nil, finish("deactivate share link", err)
	}

	s.notifier.publish(&MembershipEvent{
		Action:      ActionShareLinkDeactivated,
		ProjectID:   projectID,
		ActorID:     actorID,
		ShareLinkID: linkID,
	})
	return &link, nil
}

// List returns the project's links, newest first. Moderator or above.
func (s *ShareLinkService) List(ctx context.Context, projectID, actorID uint) ([]models.ShareLink, error) {
	db := s.db.WithContext(ctx)
	project, err := findProject(db, projectID, false)
	if err != nil {
		return nil, finish("list share links", err)
	}
	if _, err := s.policy.require(db, actorID, project, models.RoleModerator); err != nil {
		return nil, finish("list share links", err)
	}

	var links []models.ShareLink
	if err := db.Preload("Role").Where("project_id = ?", projectID).Order("created_at DESC, id DESC").Find(&links).Error; err != nil {
		return nil, internalError("list share links", err)
	}
	return links, nil
}
