package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carelog/internal/authstream"
	"carelog/internal/security"
)

func TestSignUpFirstUserIsAdmin(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.auth.SignUp(ctx, SignUpInput{Email: " Ana@Example.com ", Password: "password123", FullName: "Ana Torres"})
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", first.Email)
	assert.Equal(t, "admin", first.Metadata.Role)

	second, err := env.auth.SignUp(ctx, SignUpInput{Email: "ben@example.com", Password: "password123", FullName: "Ben Ruiz", Role: "teacher"})
	require.NoError(t, err)
	assert.Equal(t, "teacher", second.Metadata.Role)

	noRole, err := env.auth.SignUp(ctx, SignUpInput{Email: "cal@example.com", Password: "password123", FullName: "Cal Diaz"})
	require.NoError(t, err)
	assert.Empty(t, noRole.Metadata.Role)
}

func TestSignUpRejections(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.auth.SignUp(ctx, SignUpInput{Email: "ana@example.com", Password: "password123", FullName: "Ana Torres"})
	require.NoError(t, err)

	tests := []struct {
		name  string
		input SignUpInput
		want  error
	}{
		{"duplicate email", SignUpInput{Email: "ANA@example.com", Password: "password123", FullName: "Other"}, ErrEmailTaken},
		{"admin role", SignUpInput{Email: "x@example.com", Password: "password123", FullName: "Xavi", Role: "admin"}, ErrInvalidRole},
		{"unknown role", SignUpInput{Email: "y@example.com", Password: "password123", FullName: "Yara", Role: "guardian"}, ErrInvalidRole},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.auth.SignUp(ctx, tt.input)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	_, err = env.auth.SignUp(ctx, SignUpInput{Email: "bad", Password: "password123", FullName: "Bad Email"})
	assert.Error(t, err)
	_, err = env.auth.SignUp(ctx, SignUpInput{Email: "short@example.com", Password: "short", FullName: "Short"})
	assert.Error(t, err)

	require.NoError(t, env.settings.SetRegistrationOpen(ctx, false))
	_, err = env.auth.SignUp(ctx, SignUpInput{Email: "late@example.com", Password: "password123", FullName: "Late"})
	assert.ErrorIs(t, err, ErrRegistrationClosed)
}

func TestSignInAndValidate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user, err := env.auth.SignUp(ctx, SignUpInput{Email: "ana@example.com", Password: "password123", FullName: "Ana Torres"})
	require.NoError(t, err)

	_, _, err = env.auth.SignIn(ctx, "ana@example.com", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = env.auth.SignIn(ctx, "nobody@example.com", "password123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	session, signedIn, err := env.auth.SignIn(ctx, "ANA@example.com", "password123")
	require.NoError(t, err)
	assert.Equal(t, user.ID, signedIn.ID)
	assert.NotEmpty(t, session.AccessToken)

	got, gotUser, err := env.auth.ValidateSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, session.ID, got.ID)
	assert.Equal(t, user.ID, gotUser.ID)

	viaToken, _, err := env.auth.ValidateAccessToken(ctx, session.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, session.ID, viaToken.ID)

	_, _, err = env.auth.ValidateAccessToken(ctx, "not-a-token")
	assert.ErrorIs(t, err, ErrInvalidAccessToken)

	_, _, err = env.auth.ValidateSession(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSessionEventsArePublished(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.auth.SignUp(ctx, SignUpInput{Email: "ana@example.com", Password: "password123", FullName: "Ana Torres"})
	require.NoError(t, err)
	session, _, err := env.auth.SignIn(ctx, "ana@example.com", "password123")
	require.NoError(t, err)

	sub := env.hub.Subscribe(authstream.ForSession(func() string { return session.ID }), 4)
	defer sub.Unsubscribe()

	refreshed, err := env.auth.RefreshSession(ctx, session.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, refreshed.AccessToken)

	ev := <-sub.C()
	assert.Equal(t, authstream.TokenRefreshed, ev.Type)

	require.NoError(t, env.auth.SignOut(ctx, session.ID))
	ev = <-sub.C()
	assert.Equal(t, authstream.SignedOut, ev.Type)

	_, _, err = env.auth.ValidateSession(ctx, session.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, _, err = env.auth.ValidateAccessToken(ctx, refreshed.AccessToken)
	assert.ErrorIs(t, err, ErrSessionNotFound, "token outlives its session")
}

func TestExpiredSessions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.auth.SignUp(ctx, SignUpInput{Email: "ana@example.com", Password: "password123", FullName: "Ana Torres"})
	require.NoError(t, err)
	session, _, err := env.auth.SignIn(ctx, "ana@example.com", "password123")
	require.NoError(t, err)
	other, _, err := env.auth.SignIn(ctx, "ana@example.com", "password123")
	require.NoError(t, err)

	env.auth.now = func() time.Time { return time.Now().Add(48 * time.Hour) }

	_, _, err = env.auth.ValidateSession(ctx, session.ID)
	assert.ErrorIs(t, err, ErrSessionExpired)

	sub := env.hub.Subscribe(nil, 4)
	defer sub.Unsubscribe()

	ended, err := env.auth.CleanupExpiredSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{other.ID}, ended)
	ev := <-sub.C()
	assert.Equal(t, authstream.SignedOut, ev.Type)
	assert.Equal(t, other.ID, ev.SessionID)
}

func TestPasswordResetFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	mailer := &fakeMailer{enabled: true}

	user, err := env.auth.SignUp(ctx, SignUpInput{Email: "ana@example.com", Password: "password123", FullName: "Ana Torres"})
	require.NoError(t, err)
	session, _, err := env.auth.SignIn(ctx, "ana@example.com", "password123")
	require.NoError(t, err)

	require.NoError(t, env.auth.RequestPasswordReset(ctx, mailer, "nobody@example.com"))
	assert.Empty(t, mailer.resets, "unknown emails are silently ignored")

	require.NoError(t, env.auth.RequestPasswordReset(ctx, mailer, "ana@example.com"))
	sent := mailer.last()
	assert.Equal(t, "ana@example.com", sent.to)
	assert.Equal(t, "Ana Torres", sent.name)

	ok, err := env.auth.ValidatePasswordResetToken(ctx, sent.token)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Error(t, env.auth.ResetPassword(ctx, sent.token, "short"))
	require.NoError(t, env.auth.ResetPassword(ctx, sent.token, "new-password-1"))
	assert.ErrorIs(t, env.auth.ResetPassword(ctx, sent.token, "new-password-2"), ErrInvalidResetToken)

	_, _, err = env.auth.ValidateSession(ctx, session.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound, "reset signs out everywhere")

	_, _, err = env.auth.SignIn(ctx, "ana@example.com", "password123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, signedIn, err := env.auth.SignIn(ctx, "ana@example.com", "new-password-1")
	require.NoError(t, err)
	assert.Equal(t, user.ID, signedIn.ID)
}

func TestOAuthSignIn(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.auth.SignUp(ctx, SignUpInput{Email: "ana@example.com", Password: "password123", FullName: "Ana Torres"})
	require.NoError(t, err)

	_, linked, err := env.auth.OAuthSignIn(ctx, OAuthIdentity{Provider: "google", Subject: "g-1", Email: "ana@example.com", Name: "Ana"})
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", linked.Email)

	_, again, err := env.auth.OAuthSignIn(ctx, OAuthIdentity{Provider: "google", Subject: "g-1", Email: "renamed@example.com"})
	require.NoError(t, err)
	assert.Equal(t, linked.ID, again.ID, "subject wins over email")

	_, created, err := env.auth.OAuthSignIn(ctx, OAuthIdentity{Provider: "facebook", Subject: "f-9", Email: "ben@example.com", Name: "Ben Ruiz"})
	require.NoError(t, err)
	assert.Equal(t, "Ben Ruiz", created.Metadata.Name)
	assert.Empty(t, created.PasswordHash)

	_, _, err = env.auth.OAuthSignIn(ctx, OAuthIdentity{Provider: "google", Subject: "g-2", Email: "ben@example.com"})
	assert.ErrorIs(t, err, ErrEmailTaken)

	_, _, err = env.auth.OAuthSignIn(ctx, OAuthIdentity{Provider: "google", Email: "x@example.com"})
	assert.ErrorIs(t, err, ErrMissingOAuthSubject)

	mailer := &fakeMailer{enabled: true}
	require.NoError(t, env.auth.RequestPasswordReset(ctx, mailer, "ben@example.com"))
	assert.Empty(t, mailer.resets, "oauth-only accounts have no password to reset")
}

func TestRevokeUserSessions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	user, err := env.auth.SignUp(ctx, SignUpInput{Email: "ana@example.com", Password: "password123", FullName: "Ana Torres"})
	require.NoError(t, err)
	for range 3 {
		_, _, err := env.auth.SignIn(ctx, "ana@example.com", "password123")
		require.NoError(t, err)
	}

	sub := env.hub.Subscribe(nil, 8)
	defer sub.Unsubscribe()
	require.NoError(t, env.auth.RevokeUserSessions(ctx, user.ID))
	assert.Len(t, sub.C(), 3)
}

func TestTokenFromOtherIssuerIsRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.auth.SignUp(ctx, SignUpInput{Email: "ana@example.com", Password: "password123", FullName: "Ana Torres"})
	require.NoError(t, err)
	session, user, err := env.auth.SignIn(ctx, "ana@example.com", "password123")
	require.NoError(t, err)

	forged, _, err := security.NewTokenIssuer("other-secret", time.Hour).Issue(user.ID, session.ID)
	require.NoError(t, err)
	_, _, err = env.auth.ValidateAccessToken(ctx, forged)
	assert.ErrorIs(t, err, ErrInvalidAccessToken)
}
