package models

import "time"

// UserMetadata is the free-form data captured at sign-up or from an OAuth provider.
type UserMetadata struct {
	FullName string `json:"full_name,omitempty"`
	Name     string `json:"name,omitempty"`
	Role     string `json:"role,omitempty"`
}

// AuthUser is the identity record owned by the auth backend.
// The dashboard never reads it directly; it works with Profile.
type AuthUser struct {
	ID            string
	Email         string
	PasswordHash  string
	Metadata      UserMetadata
	OAuthProvider string
	OAuthSubject  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// AuthSession represents an authenticated browser or API session
type AuthSession struct {
	ID              string
	UserID          string
	AccessToken     string
	AccessExpiresAt time.Time
	ExpiresAt       time.Time
	CreatedAt       time.Time
	RefreshedAt     time.Time
}

// IsExpired checks if the session has expired
func (s *AuthSession) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// NeedsRefresh reports whether the access token expires within the given window.
func (s *AuthSession) NeedsRefresh(now time.Time, window time.Duration) bool {
	return s.AccessToken == "" || !now.Add(window).Before(s.AccessExpiresAt)
}

// PasswordResetToken represents a token for password reset
type PasswordResetToken struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
	Used      bool
}

// IsExpired checks if the reset token has expired
func (t *PasswordResetToken) IsExpired() bool {
	return time.Now().After(t.ExpiresAt)
}
