package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"carelog/internal/authstream"
	"carelog/internal/database"
	"carelog/internal/models"
	"carelog/internal/repository"
	"carelog/internal/security"
)

type testEnv struct {
	db       *database.DB
	hub      *authstream.Hub
	users    *repository.AuthRepository
	profiles *repository.ProfileRepository
	settings *repository.SettingsRepository
	auth     *AuthService
	children *ChildService
	logs     *LogService
	reports  *ReportService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping database test in short mode")
	}
	db, err := database.Initialize(filepath.Join(t.TempDir(), "service.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = db.RunMigrations(context.Background(), "")
	require.NoError(t, err)

	hub := authstream.NewHub()
	t.Cleanup(hub.Close)

	log := zerolog.Nop()
	users := repository.NewAuthRepository(db)
	profiles := repository.NewProfileRepository(db)
	settings := repository.NewSettingsRepository(db)
	childRepo := repository.NewChildRepository(db)
	logRepo := repository.NewLogRepository(db)
	categories := repository.NewCategoryRepository(db)

	return &testEnv{
		db:       db,
		hub:      hub,
		users:    users,
		profiles: profiles,
		settings: settings,
		auth: NewAuthService(users, settings, security.NewTokenIssuer("test-secret", time.Hour),
			hub, 24*time.Hour, time.Hour, log),
		children: NewChildService(childRepo, profiles, log),
		logs:     NewLogService(logRepo, childRepo, categories, log),
		reports:  NewReportService(logRepo, childRepo, categories, log),
	}
}

// profile creates an identity with a matching profile
func (e *testEnv) profile(t *testing.T, email, name string, role models.UserRole) *models.Profile {
	t.Helper()
	ctx := context.Background()
	user := &models.AuthUser{ID: uuid.NewString(), Email: email, Metadata: models.UserMetadata{FullName: name}}
	require.NoError(t, e.users.CreateUser(ctx, user))
	p := &models.Profile{ID: user.ID, Email: email, FullName: name, Role: role}
	require.NoError(t, e.profiles.CreateProfile(ctx, p))
	return p
}

type sentMail struct {
	to, name, token string
}

type fakeMailer struct {
	mu      sync.Mutex
	enabled bool
	resets  []sentMail
}

func (m *fakeMailer) IsEnabled() bool { return m.enabled }

func (m *fakeMailer) SendPasswordResetEmail(_ context.Context, to, name, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets = append(m.resets, sentMail{to: to, name: name, token: token})
	return nil
}

func (m *fakeMailer) SendWelcomeEmail(context.Context, string, string) error { return nil }

func (m *fakeMailer) last() sentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resets[len(m.resets)-1]
}
