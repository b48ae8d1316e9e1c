package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"carelog/internal/authstream"
	"carelog/internal/models"
	"carelog/internal/repository"
	"carelog/internal/security"
	"carelog/internal/validation"
)

var (
	ErrEmailTaken          = errors.New("email already taken")
	ErrInvalidCredentials  = errors.New("invalid email or password")
	ErrSessionNotFound     = errors.New("session not found")
	ErrSessionExpired      = errors.New("session expired")
	ErrRegistrationClosed  = errors.New("registration is closed")
	ErrInvalidRole         = errors.New("role cannot be chosen at sign-up")
	ErrInvalidResetToken   = errors.New("invalid or expired reset token")
	ErrInvalidAccessToken  = errors.New("invalid access token")
	ErrMissingOAuthSubject = errors.New("missing oauth provider information")
)

// SignUpInput is the data collected by the registration form.
type SignUpInput struct {
	Email    string
	Password string
	FullName string
	Role     string
}

// OAuthIdentity is the identity returned by an OAuth provider.
type OAuthIdentity struct {
	Provider string
	Subject  string
	Email    string
	Name     string
}

// AuthService is the auth backend: identities, sessions, access tokens and password resets.
// Session changes are published on the hub so per-session listeners can react.
type AuthService struct {
	users           *repository.AuthRepository
	settings        *repository.SettingsRepository
	tokens          *security.TokenIssuer
	hub             *authstream.Hub
	sessionDuration time.Duration
	resetTTL        time.Duration
	log             zerolog.Logger
	now             func() time.Time
}

// NewAuthService creates a new auth service
func NewAuthService(
	users *repository.AuthRepository,
	settings *repository.SettingsRepository,
	tokens *security.TokenIssuer,
	hub *authstream.Hub,
	sessionDuration, resetTTL time.Duration,
	logger zerolog.Logger,
) *AuthService {
	return &AuthService{
		users:           users,
		settings:        settings,
		tokens:          tokens,
		hub:             hub,
		sessionDuration: sessionDuration,
		resetTTL:        resetTTL,
		log:             logger.With().Str("component", "auth").Logger(),
		now:             time.Now,
	}
}

// Hub returns the event hub sessions are published on.
func (s *AuthService) Hub() *authstream.Hub {
	return s.hub
}

// SignUp creates a new identity. The first account ever created is given the admin role;
// everyone else may pick any non-admin role or none.
func (s *AuthService) SignUp(ctx context.Context, in SignUpInput) (*models.AuthUser, error) {
	email := normalizeEmail(in.Email)
	if err := validation.ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := validation.ValidatePassword(in.Password); err != nil {
		return nil, err
	}
	if err := validation.ValidateName(in.FullName); err != nil {
		return nil, err
	}

	count, err := s.users.CountUsers(ctx)
	if err != nil {
		return nil, err
	}
	first := count == 0

	role := strings.TrimSpace(in.Role)
	if role != "" {
		parsed, err := models.ParseUserRole(role)
		if err != nil || parsed == models.RoleAdmin {
			return nil, ErrInvalidRole
		}
	}

	if !first {
		open, err := s.settings.IsRegistrationOpen(ctx)
		if err != nil {
			return nil, err
		}
		if !open {
			return nil, ErrRegistrationClosed
		}
	} else {
		role = models.RoleAdmin.String()
	}

	passwordHash, err := security.HashPassword(in.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.AuthUser{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: passwordHash,
		Metadata: models.UserMetadata{
			FullName: strings.TrimSpace(in.FullName),
			Role:     role,
		},
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}

	s.log.Info().Str("user_id", user.ID).Bool("first_user", first).Msg("user signed up")
	return user, nil
}

// SignIn checks credentials and opens a session with a fresh access token.
func (s *AuthService) SignIn(ctx context.Context, email, password string) (*models.AuthSession, *models.AuthUser, error) {
	user, err := s.users.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, nil, err
	}
	if user == nil || !security.CheckPassword(user.PasswordHash, password) {
		return nil, nil, ErrInvalidCredentials
	}

	session, err := s.openSession(ctx, user)
	if err != nil {
		return nil, nil, err
	}
	return session, user, nil
}

func (s *AuthService) openSession(ctx context.Context, user *models.AuthUser) (*models.AuthSession, error) {
	session, err := s.users.CreateSession(ctx, security.GenerateSessionID(), user.ID, s.now().Add(s.sessionDuration))
	if err != nil {
		return nil, err
	}
	if err := s.attachAccessToken(session); err != nil {
		return nil, err
	}
	s.log.Debug().Str("user_id", user.ID).Str("session_id", session.ID).Msg("session opened")
	return session, nil
}

func (s *AuthService) attachAccessToken(session *models.AuthSession) error {
	token, expires, err := s.tokens.Issue(session.UserID, session.ID)
	if err != nil {
		return err
	}
	session.AccessToken = token
	session.AccessExpiresAt = expires
	return nil
}

// ValidateSession returns the live session and its user.
func (s *AuthService) ValidateSession(ctx context.Context, sessionID string) (*models.AuthSession, *models.AuthUser, error) {
	if sessionID == "" {
		return nil, nil, ErrSessionNotFound
	}
	session, err := s.users.GetSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	if session == nil {
		return nil, nil, ErrSessionNotFound
	}

	if !s.now().Before(session.ExpiresAt) {
		if err := s.users.DeleteSession(ctx, sessionID); err != nil {
			s.log.Warn().Err(err).Str("session_id", sessionID).Msg("failed to delete expired session")
		}
		s.publish(authstream.SignedOut, session.ID, session.UserID)
		return nil, nil, ErrSessionExpired
	}

	user, err := s.users.GetUserByID(ctx, session.UserID)
	if err != nil {
		return nil, nil, err
	}
	if user == nil {
		return nil, nil, ErrSessionNotFound
	}
	return session, user, nil
}

// RefreshSession issues a new access token for a live session.
func (s *AuthService) RefreshSession(ctx context.Context, sessionID string) (*models.AuthSession, error) {
	session, _, err := s.ValidateSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.attachAccessToken(session); err != nil {
		return nil, err
	}
	now := s.now()
	if err := s.users.TouchSession(ctx, session.ID, now); err != nil {
		return nil, err
	}
	session.RefreshedAt = now
	s.publish(authstream.TokenRefreshed, session.ID, session.UserID)
	return session, nil
}

// SignOut ends a session. Ending an unknown session is not an error.
func (s *AuthService) SignOut(ctx context.Context, sessionID string) error {
	session, err := s.users.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := s.users.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to sign out: %w", err)
	}
	userID := ""
	if session != nil {
		userID = session.UserID
	}
	s.publish(authstream.SignedOut, sessionID, userID)
	return nil
}

// RevokeUserSessions ends every session of a user.
func (s *AuthService) RevokeUserSessions(ctx context.Context, userID string) error {
	ids, err := s.users.DeleteUserSessions(ctx, userID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		s.publish(authstream.SignedOut, id, userID)
	}
	return nil
}

// GetUser returns an identity. Missing returns nil, nil.
func (s *AuthService) GetUser(ctx context.Context, userID string) (*models.AuthUser, error) {
	return s.users.GetUserByID(ctx, userID)
}

// ValidateAccessToken verifies a bearer token and checks its session is still open.
func (s *AuthService) ValidateAccessToken(ctx context.Context, token string) (*models.AuthSession, *models.AuthUser, error) {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrInvalidAccessToken, err)
	}
	session, user, err := s.ValidateSession(ctx, claims.SessionID)
	if err != nil {
		return nil, nil, err
	}
	if session.UserID != claims.Subject {
		return nil, nil, ErrInvalidAccessToken
	}
	session.AccessToken = token
	if claims.ExpiresAt != nil {
		session.AccessExpiresAt = claims.ExpiresAt.Time
	}
	return session, user, nil
}

// CleanupExpiredSessions removes expired sessions and reset tokens and returns the ended session IDs.
func (s *AuthService) CleanupExpiredSessions(ctx context.Context) ([]string, error) {
	now := s.now()
	ids, err := s.users.DeleteExpiredSessions(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to cleanup sessions: %w", err)
	}
	for _, id := range ids {
		s.publish(authstream.SignedOut, id, "")
	}
	if err := s.users.DeleteExpiredResetTokens(ctx, now); err != nil {
		return ids, fmt.Errorf("failed to cleanup reset tokens: %w", err)
	}
	return ids, nil
}

// OAuthSignIn signs in with a provider identity, linking it to an existing
// account with the same email or creating a new one.
func (s *AuthService) OAuthSignIn(ctx context.Context, id OAuthIdentity) (*models.AuthSession, *models.AuthUser, error) {
	if id.Provider == "" || id.Subject == "" {
		return nil, nil, ErrMissingOAuthSubject
	}
	email := normalizeEmail(id.Email)
	if err := validation.ValidateEmail(email); err != nil {
		return nil, nil, err
	}

	user, err := s.users.GetUserByOAuth(ctx, id.Provider, id.Subject)
	if err != nil {
		return nil, nil, err
	}

	if user == nil {
		existing, err := s.users.GetUserByEmail(ctx, email)
		if err != nil {
			return nil, nil, err
		}
		switch {
		case existing != nil && existing.OAuthProvider != "" && existing.OAuthProvider != id.Provider:
			return nil, nil, ErrEmailTaken
		case existing != nil:
			if err := s.users.LinkOAuthProvider(ctx, existing.ID, id.Provider, id.Subject); err != nil {
				return nil, nil, err
			}
			user = existing
		default:
			user, err = s.createOAuthUser(ctx, id, email)
			if err != nil {
				return nil, nil, err
			}
		}
	}

	session, err := s.openSession(ctx, user)
	if err != nil {
		return nil, nil, err
	}
	return session, user, nil
}

func (s *AuthService) createOAuthUser(ctx context.Context, id OAuthIdentity, email string) (*models.AuthUser, error) {
	count, err := s.users.CountUsers(ctx)
	if err != nil {
		return nil, err
	}
	role := ""
	if count == 0 {
		role = models.RoleAdmin.String()
	} else {
		open, err := s.settings.IsRegistrationOpen(ctx)
		if err != nil {
			return nil, err
		}
		if !open {
			return nil, ErrRegistrationClosed
		}
	}

	user := &models.AuthUser{
		ID:            uuid.NewString(),
		Email:         email,
		Metadata:      models.UserMetadata{Name: strings.TrimSpace(id.Name), Role: role},
		OAuthProvider: id.Provider,
		OAuthSubject:  id.Subject,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	s.log.Info().Str("user_id", user.ID).Str("provider", id.Provider).Msg("oauth user created")
	return user, nil
}

// RequestPasswordReset creates a reset token and mails it. Unknown emails and
// OAuth-only accounts succeed silently so the response does not reveal which emails exist.
func (s *AuthService) RequestPasswordReset(ctx context.Context, mailer Mailer, email string) error {
	user, err := s.users.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return err
	}
	if user == nil || user.PasswordHash == "" {
		return nil
	}

	token, err := generateSecureToken(32)
	if err != nil {
		return fmt.Errorf("failed to generate token: %w", err)
	}
	reset := &models.PasswordResetToken{Token: token, UserID: user.ID, ExpiresAt: s.now().Add(s.resetTTL)}
	if err := s.users.CreateResetToken(ctx, reset); err != nil {
		return err
	}

	if mailer != nil && mailer.IsEnabled() {
		name := user.Metadata.FullName
		if name == "" {
			name = user.Email
		}
		if err := mailer.SendPasswordResetEmail(ctx, user.Email, name, token); err != nil {
			return fmt.Errorf("failed to send reset email: %w", err)
		}
	} else {
		s.log.Warn().Str("user_id", user.ID).Msg("password reset requested but email is disabled")
	}
	return nil
}

// ValidatePasswordResetToken reports whether a reset token can still be used
func (s *AuthService) ValidatePasswordResetToken(ctx context.Context, token string) (bool, error) {
	reset, err := s.users.GetResetToken(ctx, token)
	if err != nil {
		return false, err
	}
	return reset != nil && !reset.Used && s.now().Before(reset.ExpiresAt), nil
}

// ResetPassword sets a new password using a reset token and signs the user out everywhere.
func (s *AuthService) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := validation.ValidatePassword(newPassword); err != nil {
		return err
	}
	reset, err := s.users.GetResetToken(ctx, token)
	if err != nil {
		return err
	}
	if reset == nil || reset.Used || !s.now().Before(reset.ExpiresAt) {
		return ErrInvalidResetToken
	}

	consumed, err := s.users.MarkResetTokenUsed(ctx, token)
	if err != nil {
		return err
	}
	if !consumed {
		return ErrInvalidResetToken
	}

	passwordHash, err := security.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, reset.UserID, passwordHash); err != nil {
		return err
	}
	return s.RevokeUserSessions(ctx, reset.UserID)
}

func (s *AuthService) publish(t authstream.EventType, sessionID, userID string) {
	if s.hub == nil {
		return
	}
	n := s.hub.Publish(authstream.Event{Type: t, SessionID: sessionID, UserID: userID, At: s.now()})
	s.log.Debug().Str("event", t.String()).Str("session_id", sessionID).Int("listeners", n).Msg("auth event published")
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// generateSecureToken generates a cryptographically secure random token
func generateSecureToken(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
