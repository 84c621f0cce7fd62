package services

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/huangang/taskhub/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateShareLink(t *testing.T) {
	s := newMemberSetup(t)
	viewerRole := s.role(t, models.RoleViewer).ID

	link, err := s.links.Create(t.Context(), s.project.ID, s.owner.ID, viewerRole, intPtr(3), 30)
	require.NoError(t, err)

	_, err = uuid.Parse(link.Token)
	assert.NoError(t, err, "token is a uuid")
	assert.Equal(t, s.clock.Now().Add(30*time.Minute), link.ExpiresAt)
	assert.True(t, link.IsActive)
	assert.Equal(t, 0, link.UsedCount)
	require.NotNil(t, link.MaxUses)
	assert.Equal(t, 3, *link.MaxUses)
	assert.Equal(t, models.RoleViewer, link.Role.Name)
	assert.Equal(t, s.owner.ID, link.CreatedBy)

	unlimited, err := s.links.Create(t.Context(), s.project.ID, s.moderator.ID, viewerRole, nil, 5)
	require.NoError(t, err)
	assert.Nil(t, unlimited.MaxUses)
	assert.NotEqual(t, link.Token, unlimited.Token)

	assert.Equal(t, []string{ActionShareLinkCreated, ActionShareLinkCreated}, s.queue.actions())
}

func TestCreateShareLink_Rejections(t *testing.T) {
	s := newMemberSetup(t)

	tests := []struct {
		name      string
		actor     models.User
		roleID    uint
		maxUses   *int
		expiresIn int
		want      error
	}{
		{"outsider", s.outsider, s.role(t, models.RoleViewer).ID, nil, 60, ErrAccessDenied},
		{"member below moderator", s.member, s.role(t, models.RoleViewer).ID, nil, 60, ErrInsufficientRank},
		{"moderator grants Moderator", s.moderator, s.role(t, models.RoleModerator).ID, nil, 60, ErrInsufficientRank},
		{"unknown role", s.owner, 9999, nil, 60, ErrInvalidRole},
		{"zero quota", s.owner, s.role(t, models.RoleViewer).ID, intPtr(0), 60, ErrInvalidQuota},
		{"negative quota", s.owner, s.role(t, models.RoleViewer).ID, intPtr(-2), 60, ErrInvalidQuota},
		{"zero expiry", s.owner, s.role(t, models.RoleViewer).ID, nil, 0, ErrInvalidExpiry},
		{"quota before expiry", s.owner, s.role(t, models.RoleViewer).ID, intPtr(0), 0, ErrInvalidQuota},
		{"expiry beyond duration range", s.owner, s.role(t, models.RoleViewer).ID, nil, 200000000, ErrInvalidExpiry},
		{"moderator link with zero quota", s.moderator, s.role(t, models.RoleModerator).ID, intPtr(0), 60, ErrInvalidQuota},
		{"moderator link with zero expiry", s.moderator, s.role(t, models.RoleAdmin).ID, nil, 0, ErrInvalidExpiry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.links.Create(t.Context(), s.project.ID, tt.actor.ID, tt.roleID, tt.maxUses, tt.expiresIn)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err := s.links.Create(t.Context(), 9999, s.owner.ID, s.role(t, models.RoleViewer).ID, nil, 60)
	assert.ErrorIs(t, err, ErrProjectNotFound)

	// Admin and Owner may hand out Admin links.
	_, err = s.links.Create(t.Context(), s.project.ID, s.admin.ID, s.role(t, models.RoleAdmin).ID, nil, 60)
	assert.NoError(t, err)

	// The largest accepted expiry still lands in the future.
	link, err := s.links.Create(t.Context(), s.project.ID, s.owner.ID, s.role(t, models.RoleViewer).ID, nil, maxExpiresInMinutes)
	require.NoError(t, err)
	assert.True(t, link.ExpiresAt.After(s.clock.Now()))
}

func TestCreateShareLink_SingleActive(t *testing.T) {
	s := newMemberSetup(t)
	s.links = NewShareLinkService(s.db, s.catalog, nil, WithClock(s.clock), WithSingleActiveLink(true))
	viewerRole := s.role(t, models.RoleViewer).ID

	first, err := s.links.Create(t.Context(), s.project.ID, s.owner.ID, viewerRole, nil, 10)
	require.NoError(t, err)

	_, err = s.links.Create(t.Context(), s.project.ID, s.owner.ID, viewerRole, nil, 10)
	assert.ErrorIs(t, err, ErrActiveLinkExists)

	_, err = s.links.Deactivate(t.Context(), s.project.ID, first.ID, s.owner.ID)
	require.NoError(t, err)
	second, err := s.links.Create(t.Context(), s.project.ID, s.owner.ID, viewerRole, nil, 10)
	require.NoError(t, err)

	// An expired link no longer blocks a new one.
	s.clock.Advance(10 * time.Minute)
	_, err = s.links.Create(t.Context(), s.project.ID, s.owner.ID, viewerRole, nil, 10)
	require.NoError(t, err)
	assert.NotEqual(t, first.Token, second.Token)
}

func TestCreateShareLink_MultipleActiveByDefault(t *testing.T) {
	s := newMemberSetup(t)
	for i := 0; i < 3; i++ {
		_, err := s.links.Create(t.Context(), s.project.ID, s.owner.ID, s.role(t, models.RoleViewer).ID, nil, 10)
		require.NoError(t, err)
	}
}

func TestCreateShareLink_CustomTokens(t *testing.T) {
	s := newFixture(t, WithTokenGenerator(func() string { return "fixed-token" }))
	owner := s.createUser(t, "owner")
	project := s.createProject(t, owner, "alpha")

	link, err := s.links.Create(t.Context(), project.ID, owner.ID, s.role(t, models.RoleMember).ID, nil, 10)
	require.NoError(t, err)
	assert.Equal(t, "fixed-token", link.Token)
}

func TestRedeem_QuotaOfN(t *testing.T) {
	s := newMemberSetup(t)
	const n = 3
	link, err := s.links.Create(t.Context(), s.project.ID, s.owner.ID, s.role(t, models.RoleMember).ID, intPtr(n), 60)
	require.NoError(t, err)

	for i := 0; i < n; i++ {
		u := s.createUser(t, fmt.Sprintf("joiner%d", i))
		res, err := s.links.Redeem(t.Context(), link.Token, u.ID)
		require.NoError(t, err)
		assert.Equal(t, OutcomeJoined, res.Outcome)
		assert.Equal(t, s.project.ID, res.ProjectID)
		assert.Equal(t, "Member", res.Role)
		assert.Equal(t, models.RoleMember, s.roleOf(t, s.project, u))
	}

	late := s.createUser(t, "late")
	_, err = s.links.Redeem(t.Context(), link.Token, late.ID)
	assert.ErrorIs(t, err, ErrLinkUsageExceeded)
	assert.Equal(t, models.RoleNoAccess, s.roleOf(t, s.project, late))
	assert.Equal(t, n, s.usedCount(t, link.ID))
}

func TestRedeem_ExistingMemberConsumesNothing(t *testing.T) {
	s := newMemberSetup(t)
	link, err := s.links.Create(t.Context(), s.project.ID, s.owner.ID, s.role(t, models.RoleViewer).ID, intPtr(5), 60)
	require.NoError(t, err)
	joiner := s.createUser(t, "joiner")

	res, err := s.links.Redeem(t.Context(), link.Token, joiner.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeJoined, res.Outcome)

	res, err = s.links.Redeem(t.Context(), link.Token, joiner.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyMember, res.Outcome)

	// A higher existing role is left untouched.
	res, err = s.links.Redeem(t.Context(), link.Token, s.admin.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyMember, res.Outcome)
	assert.Equal(t, models.RoleAdmin, s.roleOf(t, s.project, s.admin))

	res, err = s.links.Redeem(t.Context(), link.Token, s.owner.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyMember, res.Outcome)
	assert.Equal(t, models.RoleOwner, s.roleOf(t, s.project, s.owner))

	assert.Equal(t, 1, s.usedCount(t, link.ID))
	assert.Equal(t, int64(5), s.membershipCount(t, s.project.ID))
}

func TestRedeem_Validity(t *testing.T) {
	s := newMemberSetup(t)
	viewerRole := s.role(t, models.RoleViewer).ID
	joiner := s.createUser(t, "joiner")

	_, err := s.links.Redeem(t.Context(), "no-such-token", joiner.ID)
	assert.ErrorIs(t, err, ErrLinkNotFound)

	inactive, err := s.links.Create(t.Context(), s.project.ID, s.owner.ID, viewerRole, nil, 60)
	require.NoError(t, err)
	_, err = s.links.Deactivate(t.Context(), s.project.ID, inactive.ID, s.owner.ID)
	require.NoError(t, err)
	_, err = s.links.Redeem(t.Context(), inactive.Token, joiner.ID)
	assert.ErrorIs(t, err, ErrLinkInactive)

	active, err := s.links.Create(t.Context(), s.project.ID, s.owner.ID, viewerRole, nil, 60)
	require.NoError(t, err)
	_, err = s.links.Redeem(t.Context(), active.Token, 9999)
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.Equal(t, 0, s.usedCount(t, active.ID))
}

func TestRedeem_ExpiryTakesPrecedence(t *testing.T) {
	s := newMemberSetup(t)
	viewerRole := s.role(t, models.RoleViewer).ID

	used, err := s.links.Create(t.Context(), s.project.ID, s.owner.ID, viewerRole, intPtr(1), 10)
	require.NoError(t, err)
	_, err = s.links.Redeem(t.Context(), used.Token, s.createUser(t, "first").ID)
	require.NoError(t, err)

	inactive, err := s.links.Create(t.Context(), s.project.ID, s.owner.ID, viewerRole, nil, 10)
	require.NoError(t, err)
	_, err = s.links.Deactivate(t.Context(), s.project.ID, inactive.ID, s.owner.ID)
	require.NoError(t, err)

	joiner := s.createUser(t, "joiner")

	// Before expiry the usage check wins over the active flag.
	_, err = s.links.Redeem(t.Context(), used.Token, joiner.ID)
	assert.ErrorIs(t, err, ErrLinkUsageExceeded)

	// Expiry is reached exactly at expires_at.
	s.clock.Advance(10 * time.Minute)
	_, err = s.links.Redeem(t.Context(), used.Token, joiner.ID)
	assert.ErrorIs(t, err, ErrLinkExpired)
	_, err = s.links.Redeem(t.Context(), inactive.Token, joiner.ID)
	assert.ErrorIs(t, err, ErrLinkExpired)
}

func TestRedeem_JustBeforeExpiry(t *testing.T) {
	s := newMemberSetup(t)
	link, err := s.links.Create(t.Context(), s.project.ID, s.owner.ID, s.role(t, models.RoleViewer).ID, nil, 10)
	require.NoError(t, err)

	s.clock.Advance(10*time.Minute - time.Second)
	res, err := s.links.Redeem(t.Context(), link.Token, s.createUser(t, "joiner").ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeJoined, res.Outcome)
}

func TestRedeem_ConcurrentSingleUse(t *testing.T) {
	s := newMemberSetup(t)
	link, err := s.links.Create(t.Context(), s.project.ID, s.owner.ID, s.role(t, models.RoleViewer).ID, intPtr(1), 60)
	require.NoError(t, err)

	const k = 20
	users := make([]models.User, k)
	for i := range users {
		users[i] = s.createUser(t, fmt.Sprintf("racer%d", i))
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		joined   int
		exceeded int
	)
	for _, u := range users {
		wg.Add(1)
		go func(userID uint) {
			defer wg.Done()
			res, err := s.links.Redeem(t.Context(), link.Token, userID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil && res.Outcome == OutcomeJoined:
				joined++
			case CodeOf(err) == CodeLinkUsageExceeded:
				exceeded++
			default:
				t.Errorf("unexpected redeem result %+v, %v", res, err)
			}
		}(u.ID)
	}
	wg.Wait()

	assert.Equal(t, 1, joined)
	assert.Equal(t, k-1, exceeded)
	assert.Equal(t, 1, s.usedCount(t, link.ID))

	var newMembers int64
	ids := make([]uint, 0, k)
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	require.NoError(t, s.db.Model(&models.ProjectMembership{}).Where("user_id IN ?", ids).Count(&newMembers).Error)
	assert.Equal(t, int64(1), newMembers)
}

func TestRedeem_ConcurrentSameUser(t *testing.T) {
	s := newMemberSetup(t)
	link, err := s.links.Create(t.Context(), s.project.ID, s.owner.ID, s.role(t, models.RoleViewer).ID, nil, 60)
	require.NoError(t, err)
	joiner := s.createUser(t, "joiner")

	const k = 10
	outcomes := make(chan RedeemOutcome, k)
	var wg sync.WaitGroup
	for i := 0; i < k; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := s.links.Redeem(t.Context(), link.Token, joiner.ID)
			if assert.NoError(t, err) {
				outcomes <- res.Outcome
			}
		}()
	}
	wg.Wait()
	close(outcomes)

	counts := map[RedeemOutcome]int{}
	for o := range outcomes {
		counts[o]++
	}
	assert.Equal(t, 1, counts[OutcomeJoined])
	assert.Equal(t, k-1, counts[OutcomeAlreadyMember])
	assert.Equal(t, 1, s.usedCount(t, link.ID))
}

func TestRedeem_RedeemRacesAssignRole(t *testing.T) {
	s := newMemberSetup(t)
	link, err := s.links.Create(t.Context(), s.project.ID, s.owner.ID, s.role(t, models.RoleViewer).ID, nil, 60)
	require.NoError(t, err)
	joiner := s.createUser(t, "joiner")
	adminRole := s.role(t, models.RoleAdmin).ID

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := s.links.Redeem(t.Context(), link.Token, joiner.ID)
		assert.NoError(t, err)
	}()
	go func() {
		defer wg.Done()
		_, err := s.members.AssignRole(t.Context(), s.project.ID, joiner.ID, adminRole, s.owner.ID)
		if err != nil {
			assert.ErrorIs(t, err, ErrMustJoinViaShareLink)
		}
	}()
	wg.Wait()

	var rows int64
	require.NoError(t, s.db.Model(&models.ProjectMembership{}).
		Where("project_id = ? AND user_id = ?", s.project.ID, joiner.ID).Count(&rows).Error)
	assert.Equal(t, int64(1), rows)
}

func TestRedeem_KickedUserCanRejoin(t *testing.T) {
	s := newMemberSetup(t)
	link, err := s.links.Create(t.Context(), s.project.ID, s.owner.ID, s.role(t, models.RoleViewer).ID, nil, 60)
	require.NoError(t, err)

	require.NoError(t, s.members.Kick(t.Context(), s.project.ID, s.member.ID, s.owner.ID))
	res, err := s.links.Redeem(t.Context(), link.Token, s.member.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeJoined, res.Outcome)
	assert.Equal(t, models.RoleViewer, s.roleOf(t, s.project, s.member))
}

func TestRedeem_PublishesJoinEvent(t *testing.T) {
	s := newMemberSetup(t)
	link, err := s.links.Create(t.Context(), s.project.ID, s.owner.ID, s.role(t, models.RoleMember).ID, nil, 60)
	require.NoError(t, err)
	joiner := s.createUser(t, "joiner")

	_, err = s.links.Redeem(t.Context(), link.Token, joiner.ID)
	require.NoError(t, err)
	_, err = s.links.Redeem(t.Context(), link.Token, joiner.ID)
	require.NoError(t, err)

	assert.Equal(t, []string{ActionShareLinkCreated, ActionMemberJoined}, s.queue.actions())
	ev := s.queue.events[1]
	assert.Equal(t, joiner.ID, ev.TargetUserID)
	assert.Equal(t, link.ID, ev.ShareLinkID)
	assert.Equal(t, "Member", ev.Role)
}

func TestDeleteShareLink(t *testing.T) {
	s := newMemberSetup(t)
	link, err := s.links.Create(t.Context(), s.project.ID, s.owner.ID, s.role(t, models.RoleViewer).ID, nil, 60)
	require.NoError(t, err)

	other := s.createProject(t, s.owner, "beta")
	assert.ErrorIs(t, s.links.Delete(t.Context(), other.ID, link.ID, s.owner.ID), ErrLinkNotFound)
	assert.ErrorIs(t, s.links.Delete(t.Context(), s.project.ID, link.ID, s.member.ID), ErrInsufficientRank)
	assert.ErrorIs(t, s.links.Delete(t.Context(), s.project.ID, link.ID, s.outsider.ID), ErrAccessDenied)

	require.NoError(t, s.links.Delete(t.Context(), s.project.ID, link.ID, s.moderator.ID))
	assert.ErrorIs(t, s.links.Delete(t.Context(), s.project.ID, link.ID, s.moderator.ID), ErrLinkNotFound)

	_, err = s.links.Redeem(t.Context(), link.Token, s.outsider.ID)
	assert.ErrorIs(t, err, ErrLinkNotFound)
}

func TestDeactivateShareLink(t *testing.T) {
	s := newMemberSetup(t)
	link, err := s.links.Create(t.Context(), s.project.ID, s.owner.ID, s.role(t, models.RoleViewer).ID, nil, 60)
	require.NoError(t, err)

	_, err = s.links.Deactivate(t.Context(), s.project.ID, link.ID, s.viewer.ID)
	assert.ErrorIs(t, err, ErrInsufficientRank)
	_, err = s.links.Deactivate(t.Context(), s.project.ID, 9999, s.owner.ID)
	assert.ErrorIs(t, err, ErrLinkNotFound)

	got, err := s.links.Deactivate(t.Context(), s.project.ID, link.ID, s.moderator.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
}

func TestListShareLinks(t *testing.T) {
	s := newMemberSetup(t)
	first, err := s.links.Create(t.Context(), s.project.ID, s.owner.ID, s.role(t, models.RoleViewer).ID, nil, 60)
	require.NoError(t, err)
	second, err := s.links.Create(t.Context(), s.project.ID, s.owner.ID, s.role(t, models.RoleMember).ID, intPtr(2), 60)
	require.NoError(t, err)

	links, err := s.links.List(t.Context(), s.project.ID, s.moderator.ID)
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Equal(t, second.ID, links[0].ID)
	assert.Equal(t, first.ID, links[1].ID)
	require.NotNil(t, links[0].Role)
	assert.Equal(t, models.RoleMember, links[0].Role.Name)

	_, err = s.links.List(t.Context(), s.project.ID, s.member.ID)
	assert.ErrorIs(t, err, ErrInsufficientRank)
}

func TestValidateShareLink(t *testing.T) {
	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		link models.ShareLink
		want error
	}{
		{"valid", models.ShareLink{IsActive: true, ExpiresAt: now.Add(time.Minute)}, nil},
		{"expired and exhausted", models.ShareLink{IsActive: false, MaxUses: intPtr(1), UsedCount: 1, ExpiresAt: now}, ErrLinkExpired},
		{"exhausted and inactive", models.ShareLink{IsActive: false, MaxUses: intPtr(1), UsedCount: 1, ExpiresAt: now.Add(time.Minute)}, ErrLinkUsageExceeded},
		{"inactive", models.ShareLink{IsActive: false, ExpiresAt: now.Add(time.Minute)}, ErrLinkInactive},
		{"unlimited", models.ShareLink{IsActive: true, UsedCount: 1000, ExpiresAt: now.Add(time.Minute)}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateShareLink(&tt.link, now)
			if tt.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRedeem_StorageFailureIsInternal(t *testing.T) {
	s := newMemberSetup(t)
	sqlDB, err := s.db.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	_, err = s.links.Redeem(t.Context(), "any", s.member.ID)
	assert.Equal(t, CodeInternal, CodeOf(err))
}
