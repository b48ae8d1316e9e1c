package auth

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"carelog/internal/authclient"
)

// ClientFactory creates an auth client bound to a session. An empty ID is signed out.
type ClientFactory func(sessionID string) authclient.Client

// Registry keeps one started Provider per signed-in browser session.
type Registry struct {
	newClient ClientFactory
	profiles  ProfileStore
	log       zerolog.Logger

	mu        sync.Mutex
	providers map[string]*Provider
}

// NewRegistry creates an empty registry
func NewRegistry(newClient ClientFactory, profiles ProfileStore, logger zerolog.Logger) *Registry {
	return &Registry{
		newClient: newClient,
		profiles:  profiles,
		log:       logger,
		providers: make(map[string]*Provider),
	}
}

// Attach returns the provider for a session cookie, bootstrapping one if needed
// (for example after a restart). A cached provider is re-checked against the
// backend on every call. A session that turns out to be signed out is not
// kept: its provider is closed and returned with its signed-out state.
func (r *Registry) Attach(ctx context.Context, sessionID string) *Provider {
	if sessionID != "" {
		r.mu.Lock()
		p, ok := r.providers[sessionID]
		r.mu.Unlock()
		if ok {
			return r.verify(ctx, sessionID, p)
		}
	}

	p := NewProvider(r.newClient(sessionID), r.profiles, r.log)
	p.Start(ctx)
	if sessionID == "" || !p.State().SignedIn() {
		p.Close()
		return p
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.providers[sessionID]; ok {
		// Lost a race with a concurrent request for the same cookie.
		go p.Close()
		return existing
	}
	r.providers[sessionID] = p
	return p
}

// verify drops a cached provider whose session has ended. Backend errors
// fail closed: the provider is dropped and the next request starts over.
func (r *Registry) verify(ctx context.Context, sessionID string, p *Provider) *Provider {
	err := p.Verify(ctx)
	if err == nil && p.State().SignedIn() {
		return p
	}
	if err != nil {
		r.log.Warn().Err(err).Str("session_id", sessionID).Msg("could not verify session")
		p.update(func(s *State) {
			s.User = nil
			s.IsAdmin = false
		})
	}

	r.mu.Lock()
	if r.providers[sessionID] == p {
		delete(r.providers, sessionID)
	}
	r.mu.Unlock()
	p.Close()
	return p
}

// Anonymous returns a started provider with no session, for sign-in and sign-up.
// The caller either Adopts it or Closes it.
func (r *Registry) Anonymous(ctx context.Context) *Provider {
	p := NewProvider(r.newClient(""), r.profiles, r.log)
	p.Start(ctx)
	return p
}

// Adopt registers a provider that has just signed in under sessionID.
func (r *Registry) Adopt(sessionID string, p *Provider) {
	r.mu.Lock()
	previous := r.providers[sessionID]
	r.providers[sessionID] = p
	r.mu.Unlock()

	if previous != nil && previous != p {
		previous.Close()
	}
}

// Drop closes and forgets the provider for a session.
func (r *Registry) Drop(sessionID string) {
	r.mu.Lock()
	p := r.providers[sessionID]
	delete(r.providers, sessionID)
	r.mu.Unlock()

	if p != nil {
		p.Close()
	}
}

// Sweep drops the providers of ended sessions and returns how many were closed.
func (r *Registry) Sweep(sessionIDs []string) int {
	closed := 0
	for _, id := range sessionIDs {
		r.mu.Lock()
		_, ok := r.providers[id]
		r.mu.Unlock()
		if ok {
			r.Drop(id)
			closed++
		}
	}
	if closed > 0 {
		r.log.Info().Int("closed", closed).Msg("swept auth providers")
	}
	return closed
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.providers)
}

// Close closes every provider.
func (r *Registry) Close() {
	r.mu.Lock()
	providers := r.providers
	r.providers = make(map[string]*Provider)
	r.mu.Unlock()

	for _, p := range providers {
		p.Close()
	}
}
