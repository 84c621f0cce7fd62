package services

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/huangang/taskhub/backend/internal/models"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type advancingClock interface {
	clockwork.Clock
	Advance(d time.Duration)
}

// recordingQueue is a TaskQueue that keeps every event in memory.
type recordingQueue struct {
	mu     sync.Mutex
	events []MembershipEvent
}

func (q *recordingQueue) Enqueue(ev *MembershipEvent) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.events = append(q.events, *ev)
	return nil
}

func (q *recordingQueue) IsAsync() bool { return false }
func (q *recordingQueue) Close() error  { return nil }

func (q *recordingQueue) actions() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.events))
	for _, ev := range q.events {
		out = append(out, ev.Action)
	}
	return out
}

type fixture struct {
	db       *gorm.DB
	catalog  *RoleCatalog
	clock    advancingClock
	queue    *recordingQueue
	policy   *AuthorizationPolicy
	members  *MembershipService
	links    *ShareLinkService
	projects *ProjectService
	users    *UserService
}

// setupTestDB opens a private in-memory database. A single connection makes
// concurrent transactions queue up behind each other, which stands in for
// the row locks sqlite lacks.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, models.AutoMigrate(db))
	require.NoError(t, models.SeedRoles(db))
	return db
}

func newFixture(t *testing.T, opts ...ShareLinkOption) *fixture {
	t.Helper()

	db := setupTestDB(t)
	catalog, err := LoadRoleCatalog(db)
	require.NoError(t, err)

	clock := clockwork.NewFakeClockAt(time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC))
	queue := &recordingQueue{}
	notifier := NewNotifier(queue, nil, clock)

	opts = append([]ShareLinkOption{WithClock(clock)}, opts...)
	return &fixture{
		db:       db,
		catalog:  catalog,
		clock:    clock,
		queue:    queue,
		policy:   NewAuthorizationPolicy(db, catalog),
		members:  NewMembershipService(db, catalog, notifier),
		links:    NewShareLinkService(db, catalog, notifier, opts...),
		projects: NewProjectService(db, catalog, notifier),
		users:    NewUserService(db),
	}
}

func (f *fixture) createUser(t *testing.T, username string) models.User {
	t.Helper()
	user := models.User{
		Username: username,
		Email:    username + "@example.com",
		Password: "x",
		IsActive: true,
	}
	require.NoError(t, f.db.Create(&user).Error)
	return user
}

func (f *fixture) createProject(t *testing.T, owner models.User, name string) models.Project {
	t.Helper()
	project := models.Project{Name: name, OwnerID: owner.ID}
	require.NoError(t, f.db.Create(&project).Error)
	return project
}

func (f *fixture) role(t *testing.T, name models.RoleName) models.Role {
	t.Helper()
	r, err := f.catalog.ByName(name)
	require.NoError(t, err)
	return r
}

// addMember stores a membership directly, bypassing share links.
func (f *fixture) addMember(t *testing.T, project models.Project, user models.User, role models.RoleName) {
	t.Helper()
	m := models.ProjectMembership{ProjectID: project.ID, UserID: user.ID, RoleID: f.role(t, role).ID}
	require.NoError(t, f.db.Create(&m).Error)
}

func (f *fixture) roleOf(t *testing.T, project models.Project, user models.User) models.RoleName {
	t.Helper()
	role, err := f.policy.EffectiveRole(t.Context(), user.ID, project.ID)
	require.NoError(t, err)
	return role
}

func (f *fixture) usedCount(t *testing.T, linkID uint) int {
	t.Helper()
	var link models.ShareLink
	require.NoError(t, f.db.First(&link, linkID).Error)
	return link.UsedCount
}

func (f *fixture) membershipCount(t *testing.T, projectID uint) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&models.ProjectMembership{}).Where("project_id = ?", projectID).Count(&n).Error)
	return n
}

func intPtr(v int) *int { return &v }
