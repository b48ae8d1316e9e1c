package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carelog/internal/authclient"
	"carelog/internal/authstream"
	"carelog/internal/models"
)

func newTestRegistry(t *testing.T, hub *authstream.Hub, store ProfileStore) *Registry {
	t.Helper()
	r := NewRegistry(func(sessionID string) authclient.Client {
		return newFakeClient(hub, ana, sessionID != "")
	}, store, zerolog.Nop())
	t.Cleanup(r.Close)
	return r
}

func TestRegistryAttach(t *testing.T) {
	hub := authstream.NewHub()
	defer hub.Close()
	store := newFakeStore(&models.Profile{ID: ana.ID, FullName: "Ana Torres", Role: models.RoleParent})
	r := newTestRegistry(t, hub, store)
	ctx := context.Background()

	anon := r.Attach(ctx, "")
	assert.False(t, anon.State().SignedIn())
	assert.Zero(t, r.Len(), "signed-out providers are not kept")

	p := r.Attach(ctx, "sess-"+ana.ID)
	require.True(t, p.State().SignedIn())
	assert.Same(t, p, r.Attach(ctx, "sess-"+ana.ID))
	assert.Equal(t, 1, r.Len())

	assert.Equal(t, 1, r.Sweep([]string{"sess-" + ana.ID, "unknown"}))
	assert.Zero(t, r.Len())
	assert.Zero(t, hub.Len(), "swept providers stop listening")
}

func TestRegistryAdoptAndDrop(t *testing.T) {
	hub := authstream.NewHub()
	defer hub.Close()
	store := newFakeStore(&models.Profile{ID: ana.ID, FullName: "Ana Torres", Role: models.RoleParent})
	r := newTestRegistry(t, hub, store)
	ctx := context.Background()

	p := r.Anonymous(ctx)
	require.NoError(t, p.SignIn(ctx, ana.Email, "password123"))
	_, err := p.Await(awaitCtx(t), func(s State) bool { return s.SignedIn() })
	require.NoError(t, err)

	session, err := p.Session(ctx)
	require.NoError(t, err)
	r.Adopt(session.ID, p)
	assert.Same(t, p, r.Attach(ctx, session.ID))

	replacement := r.Anonymous(ctx)
	r.Adopt(session.ID, replacement)
	_, err = p.Await(ctx, func(State) bool { return false })
	assert.ErrorIs(t, err, ErrClosed, "replaced providers are closed")

	r.Drop(session.ID)
	assert.Zero(t, r.Len())
	_, err = replacement.Await(ctx, func(State) bool { return false })
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRegistryAttachRechecksCachedSession(t *testing.T) {
	hub := authstream.NewHub()
	defer hub.Close()
	store := newFakeStore(&models.Profile{ID: ana.ID, FullName: "Ana Torres", Role: models.RoleParent})
	clients := make(map[string]*fakeClient)
	r := NewRegistry(func(sessionID string) authclient.Client {
		c := newFakeClient(hub, ana, sessionID != "")
		clients[sessionID] = c
		return c
	}, store, zerolog.Nop())
	t.Cleanup(r.Close)
	ctx := context.Background()
	id := "sess-" + ana.ID

	p := r.Attach(ctx, id)
	require.True(t, p.State().SignedIn())

	clients[id].endSession()
	again := r.Attach(ctx, id)
	assert.Same(t, p, again)
	assert.False(t, again.State().SignedIn(), "ended sessions stop authenticating")
	assert.Zero(t, r.Len())
	assert.Zero(t, hub.Len())

	fresh := r.Attach(ctx, id)
	require.True(t, fresh.State().SignedIn())
	clients[id].getErr = errors.New("database is locked")
	assert.False(t, r.Attach(ctx, id).State().SignedIn(), "backend errors fail closed")
	assert.Zero(t, r.Len())
}
