// Package auth holds the authentication state of one dashboard session and keeps it
// in step with the auth event stream.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"carelog/internal/authclient"
	"carelog/internal/authstream"
	"carelog/internal/models"
)

const (
	eventBuffer  = 16
	eventTimeout = 10 * time.Second

	msgStateChange   = "auth state change failed"
	msgSignIn        = "sign in failed"
	msgSignUp        = "sign up failed"
	msgSignOut       = "sign out failed"
	msgUpdateProfile = "profile update failed"
	msgResetPassword = "password reset failed"
	msgRefreshUser   = "could not refresh user"
)

var (
	ErrNoUser           = errors.New("no user found")
	ErrClosed           = errors.New("auth provider closed")
	ErrAdoptUnsupported = errors.New("client cannot adopt sessions")
)

// Handler is an HTTP handler that needs the session's auth state.
type Handler func(w http.ResponseWriter, r *http.Request, p *Provider)

// State is a snapshot of the auth state.
type State struct {
	User    *models.Profile
	IsAdmin bool
	Loading bool
	Error   string
}

// SignedIn reports whether a profile is loaded.
func (s State) SignedIn() bool {
	return s.User != nil
}

// Provider holds the auth state for one session.
type Provider struct {
	client   authclient.Client
	profiles ProfileStore
	log      zerolog.Logger
	now      func() time.Time

	startOnce sync.Once
	closeOnce sync.Once

	mu      sync.Mutex
	state   State
	changed chan struct{}
	closed  bool
	sub     *authstream.Subscription
	done    chan struct{}
}

// NewProvider creates a provider. Call Start before reading its state.
func NewProvider(client authclient.Client, profiles ProfileStore, logger zerolog.Logger) *Provider {
	return &Provider{
		client:   client,
		profiles: profiles,
		log:      logger.With().Str("component", "auth_provider").Logger(),
		now:      time.Now,
		state:    State{Loading: true},
		changed:  make(chan struct{}),
	}
}

// State returns a copy of the current state.
func (p *Provider) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshot()
}

func (p *Provider) snapshot() State {
	s := p.state
	if s.User != nil {
		u := *s.User
		s.User = &u
	}
	return s
}

// Await blocks until the state satisfies pred, the context ends or the provider closes.
func (p *Provider) Await(ctx context.Context, pred func(State) bool) (State, error) {
	for {
		p.mu.Lock()
		s := p.snapshot()
		changed, closed := p.changed, p.closed
		p.mu.Unlock()

		if pred(s) {
			return s, nil
		}
		if closed {
			return s, ErrClosed
		}
		select {
		case <-ctx.Done():
			return s, ctx.Err()
		case <-changed:
		}
	}
}

// update applies fn and wakes waiters. It is a no-op once the provider is closed.
func (p *Provider) update(fn func(*State)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	fn(&p.state)
	close(p.changed)
	p.changed = make(chan struct{})
}

func (p *Provider) fail(err error, fallback string) error {
	msg := fallback
	if err != nil && err.Error() != "" {
		msg = err.Error()
	}
	p.update(func(s *State) { s.Error = msg })
	return err
}

func (p *Provider) setLoading(loading bool) {
	p.update(func(s *State) { s.Loading = loading })
}

// Start loads the current session once and begins listening for auth events.
// Later calls do nothing.
func (p *Provider) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		p.mu.Lock()
		closed := p.closed
		p.mu.Unlock()
		if closed {
			return
		}

		// Events published while the session loads queue in the subscription
		// and are applied after it.
		sub := p.client.OnAuthStateChange(eventBuffer)
		done := make(chan struct{})
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			sub.Unsubscribe()
			return
		}
		p.sub, p.done = sub, done
		p.mu.Unlock()

		session, err := p.client.GetSession(ctx)
		if err != nil {
			p.log.Error().Err(err).Msg("failed to get session")
		}
		if session != nil {
			p.loadUser(ctx, session.UserID)
		}

		go p.listen(sub, done)
		p.setLoading(false)
	})
}

func (p *Provider) listen(sub *authstream.Subscription, done chan struct{}) {
	defer close(done)
	for ev := range sub.C() {
		if err := p.handle(ev); err != nil {
			p.log.Error().Err(err).Stringer("event", ev.Type).Msg("failed to handle auth event")
			p.update(func(s *State) { s.Error = msgStateChange })
		}
		p.setLoading(false)
	}
}

func (p *Provider) handle(ev authstream.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic handling %s: %v", ev.Type, r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	p.log.Debug().Stringer("event", ev.Type).Str("session_id", ev.SessionID).Msg("auth state changed")
	switch ev.Type {
	case authstream.SignedIn:
		if ev.UserID == "" {
			return nil
		}
		p.setLoading(true)
		if err := p.profiles.TouchLastLogin(ctx, ev.UserID, p.now()); err != nil {
			p.log.Warn().Err(err).Str("user_id", ev.UserID).Msg("could not update last login")
		}
		p.loadUser(ctx, ev.UserID)
		return ctx.Err()
	case authstream.SignedOut:
		p.update(func(s *State) {
			s.User = nil
			s.IsAdmin = false
			s.Error = ""
		})
	case authstream.TokenRefreshed:
		p.log.Debug().Str("session_id", ev.SessionID).Msg("token refreshed, keeping state")
	}
	return nil
}

// loadUser fetches (or provisions) the profile and admin flag. Store errors leave the state alone.
func (p *Provider) loadUser(ctx context.Context, userID string) bool {
	profile, err := LoadOrCreateProfile(ctx, p.profiles, p.client, userID)
	if err != nil {
		p.log.Error().Err(err).Str("user_id", userID).Msg("error fetching profile")
		return false
	}
	if profile == nil {
		p.log.Warn().Str("user_id", userID).Msg("no profile for user")
		return false
	}
	admin := p.checkAdmin(ctx, userID)
	p.update(func(s *State) {
		s.User = profile
		s.IsAdmin = admin
	})
	return true
}

func (p *Provider) checkAdmin(ctx context.Context, userID string) bool {
	role, err := p.profiles.GetRole(ctx, userID)
	if err != nil {
		p.log.Warn().Err(err).Str("user_id", userID).Msg("could not check admin status")
		return false
	}
	return role == models.RoleAdmin
}

// SignIn signs in with a password. The profile is loaded when the SIGNED_IN event arrives.
func (p *Provider) SignIn(ctx context.Context, email, password string) error {
	p.update(func(s *State) {
		s.Loading = true
		s.Error = ""
	})
	defer p.setLoading(false)

	if _, err := p.client.SignInWithPassword(ctx, email, password); err != nil {
		p.log.Info().Err(err).Msg("sign in failed")
		return p.fail(err, msgSignIn)
	}
	return nil
}

// SignUp registers a new identity with its name and role metadata.
func (p *Provider) SignUp(ctx context.Context, email, password, fullName, role string) error {
	p.update(func(s *State) {
		s.Loading = true
		s.Error = ""
	})
	defer p.setLoading(false)

	_, err := p.client.SignUp(ctx, authclient.SignUpParams{
		Email:    email,
		Password: password,
		FullName: fullName,
		Role:     role,
	})
	if err != nil {
		p.log.Info().Err(err).Msg("sign up failed")
		return p.fail(err, msgSignUp)
	}
	return nil
}

// SignOut ends the session and clears the state.
func (p *Provider) SignOut(ctx context.Context) error {
	p.setLoading(true)
	defer p.setLoading(false)

	if err := p.client.SignOut(ctx); err != nil {
		p.log.Error().Err(err).Msg("sign out failed")
		return p.fail(err, msgSignOut)
	}
	p.update(func(s *State) {
		s.User = nil
		s.IsAdmin = false
		s.Error = ""
	})
	return nil
}

// UpdateProfile stores the changes and merges them into the held profile.
func (p *Provider) UpdateProfile(ctx context.Context, u models.ProfileUpdate) error {
	current := p.State().User
	if current == nil {
		return p.fail(ErrNoUser, msgUpdateProfile)
	}
	if _, err := p.profiles.UpdateProfile(ctx, current.ID, u); err != nil {
		p.log.Error().Err(err).Str("user_id", current.ID).Msg("error updating profile")
		return p.fail(err, msgUpdateProfile)
	}
	p.update(func(s *State) {
		if s.User != nil && s.User.ID == current.ID {
			u.Apply(s.User)
		}
	})
	return nil
}

// ResetPassword sends a password reset email.
func (p *Provider) ResetPassword(ctx context.Context, email string) error {
	if err := p.client.ResetPasswordForEmail(ctx, email); err != nil {
		p.log.Error().Err(err).Msg("error resetting password")
		return p.fail(err, msgResetPassword)
	}
	return nil
}

// RefreshUser reloads the profile and admin flag for the current session.
func (p *Provider) RefreshUser(ctx context.Context) error {
	session, err := p.client.GetSession(ctx)
	if err != nil {
		p.log.Error().Err(err).Msg("error refreshing user")
		return p.fail(err, msgRefreshUser)
	}
	if session != nil {
		p.loadUser(ctx, session.UserID)
	}
	return nil
}

// ClearError clears the stored error message.
func (p *Provider) ClearError() {
	p.update(func(s *State) { s.Error = "" })
}

// Session returns the client's live session, or nil when signed out.
func (p *Provider) Session(ctx context.Context) (*models.AuthSession, error) {
	return p.client.GetSession(ctx)
}

// Verify re-reads the session from the backend and clears the user when it has
// expired or been deleted.
func (p *Provider) Verify(ctx context.Context) error {
	session, err := p.client.GetSession(ctx)
	if err != nil {
		return err
	}
	if session == nil {
		p.update(func(s *State) {
			s.User = nil
			s.IsAdmin = false
		})
	}
	return nil
}

// Adopt binds the provider's client to a session opened outside it, such as an OAuth
// sign-in, which then announces SIGNED_IN like a password sign-in.
func (p *Provider) Adopt(session *models.AuthSession, user *models.AuthUser) error {
	adopter, ok := p.client.(interface {
		Adopt(*models.AuthSession, *models.AuthUser)
	})
	if !ok {
		return ErrAdoptUnsupported
	}
	adopter.Adopt(session, user)
	return nil
}

// Close unsubscribes from the event stream and waits for the listener to exit.
// The state is frozen afterwards.
func (p *Provider) Close() {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		sub, done := p.sub, p.done
		close(p.changed)
		p.mu.Unlock()

		if sub != nil {
			sub.Unsubscribe()
			<-done
		}
	})
}
