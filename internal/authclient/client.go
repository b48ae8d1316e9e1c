// Package authclient is the auth surface a dashboard session talks to:
// session lookup, sign-in, sign-up, sign-out, password reset and a stream of
// auth state changes scoped to the session.
package authclient

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"carelog/internal/authstream"
	"carelog/internal/models"
	"carelog/internal/service"
)

// DefaultRefreshWindow is how close to expiry an access token is refreshed by GetSession.
const DefaultRefreshWindow = 5 * time.Minute

// SignUpParams is the sign-up request with its metadata.
type SignUpParams struct {
	Email    string
	Password string
	FullName string
	Role     string
}

// Client is the auth surface consumed by the auth state holder.
type Client interface {
	GetSession(ctx context.Context) (*models.AuthSession, error)
	GetUser(ctx context.Context) (*models.AuthUser, error)
	SignInWithPassword(ctx context.Context, email, password string) (*models.AuthSession, error)
	SignUp(ctx context.Context, params SignUpParams) (*models.AuthUser, error)
	SignOut(ctx context.Context) error
	ResetPasswordForEmail(ctx context.Context, email string) error
	OnAuthStateChange(buffer int) *authstream.Subscription
}

// LocalClient binds one browser session to the in-process auth backend.
type LocalClient struct {
	auth          *service.AuthService
	mailer        service.Mailer
	refreshWindow time.Duration
	log           zerolog.Logger

	mu        sync.RWMutex
	sessionID string
	cached    *models.AuthSession
}

// NewLocalClient creates a client for sessionID. An empty sessionID is a signed-out client.
func NewLocalClient(auth *service.AuthService, mailer service.Mailer, sessionID string, logger zerolog.Logger) *LocalClient {
	return &LocalClient{
		auth:          auth,
		mailer:        mailer,
		refreshWindow: DefaultRefreshWindow,
		log:           logger.With().Str("component", "authclient").Logger(),
		sessionID:     sessionID,
	}
}

// SessionID returns the session the client is currently bound to.
func (c *LocalClient) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

func (c *LocalClient) setSession(id string, session *models.AuthSession) {
	c.mu.Lock()
	c.sessionID = id
	c.cached = session
	c.mu.Unlock()
}

// withCachedToken copies the access token held for the session onto it. Tokens are not
// stored server side, so a client bound from a cookie has none until its first refresh.
func (c *LocalClient) withCachedToken(session *models.AuthSession) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.cached != nil && c.cached.ID == session.ID {
		session.AccessToken = c.cached.AccessToken
		session.AccessExpiresAt = c.cached.AccessExpiresAt
	}
}

// GetSession returns the live session, or nil when signed out. An access token
// close to expiry is refreshed first.
func (c *LocalClient) GetSession(ctx context.Context) (*models.AuthSession, error) {
	id := c.SessionID()
	if id == "" {
		return nil, nil
	}
	session, _, err := c.auth.ValidateSession(ctx, id)
	if err != nil {
		if errors.Is(err, service.ErrSessionNotFound) || errors.Is(err, service.ErrSessionExpired) {
			c.setSession("", nil)
			return nil, nil
		}
		return nil, err
	}
	c.withCachedToken(session)
	if session.NeedsRefresh(time.Now(), c.refreshWindow) {
		refreshed, err := c.auth.RefreshSession(ctx, id)
		if err != nil {
			return nil, err
		}
		session = refreshed
		c.setSession(id, session)
	}
	return session, nil
}

// GetUser returns the identity behind the current session, or nil when signed out.
func (c *LocalClient) GetUser(ctx context.Context) (*models.AuthUser, error) {
	id := c.SessionID()
	if id == "" {
		return nil, nil
	}
	_, user, err := c.auth.ValidateSession(ctx, id)
	if err != nil {
		if errors.Is(err, service.ErrSessionNotFound) || errors.Is(err, service.ErrSessionExpired) {
			c.setSession("", nil)
			return nil, nil
		}
		return nil, err
	}
	return user, nil
}

// SignInWithPassword opens a session, binds the client to it and announces SIGNED_IN.
func (c *LocalClient) SignInWithPassword(ctx context.Context, email, password string) (*models.AuthSession, error) {
	session, user, err := c.auth.SignIn(ctx, email, password)
	if err != nil {
		return nil, err
	}
	c.Adopt(session, user)
	return session, nil
}

// Adopt binds the client to a session opened elsewhere (OAuth callback) and announces SIGNED_IN.
func (c *LocalClient) Adopt(session *models.AuthSession, user *models.AuthUser) {
	c.setSession(session.ID, session)
	c.auth.Hub().Publish(authstream.Event{Type: authstream.SignedIn, SessionID: session.ID, UserID: user.ID})
}

// SignUp registers an identity. It does not open a session.
func (c *LocalClient) SignUp(ctx context.Context, params SignUpParams) (*models.AuthUser, error) {
	user, err := c.auth.SignUp(ctx, service.SignUpInput{
		Email:    params.Email,
		Password: params.Password,
		FullName: params.FullName,
		Role:     params.Role,
	})
	if err != nil {
		return nil, err
	}
	if c.mailer != nil && c.mailer.IsEnabled() {
		if err := c.mailer.SendWelcomeEmail(ctx, user.Email, params.FullName); err != nil {
			c.log.Warn().Err(err).Str("user_id", user.ID).Msg("failed to send welcome email")
		}
	}
	return user, nil
}

// SignOut ends the current session. The SIGNED_OUT event is published by the backend
// before the client forgets the session, so its own subscriptions still see it.
func (c *LocalClient) SignOut(ctx context.Context) error {
	id := c.SessionID()
	if id == "" {
		return nil
	}
	if err := c.auth.SignOut(ctx, id); err != nil {
		return err
	}
	c.setSession("", nil)
	return nil
}

// ResetPasswordForEmail sends a password reset link.
func (c *LocalClient) ResetPasswordForEmail(ctx context.Context, email string) error {
	return c.auth.RequestPasswordReset(ctx, c.mailer, email)
}

// OnAuthStateChange subscribes to events for whichever session the client is bound to.
func (c *LocalClient) OnAuthStateChange(buffer int) *authstream.Subscription {
	return c.auth.Hub().Subscribe(authstream.ForSession(c.SessionID), buffer)
}

var _ Client = (*LocalClient)(nil)
