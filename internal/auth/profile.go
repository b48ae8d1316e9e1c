package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"carelog/internal/models"
	"carelog/internal/repository"
)

// fallbackName is used when an identity carries neither a name nor an email.
const fallbackName = "User"

// ProfileStore is the profile persistence the provider needs.
type ProfileStore interface {
	GetProfile(ctx context.Context, id string) (*models.Profile, error)
	CreateProfile(ctx context.Context, p *models.Profile) error
	UpdateProfile(ctx context.Context, id string, u models.ProfileUpdate) (*models.Profile, error)
	TouchLastLogin(ctx context.Context, id string, at time.Time) error
	GetRole(ctx context.Context, id string) (models.UserRole, error)
}

// UserSource returns the identity behind the current session.
type UserSource interface {
	GetUser(ctx context.Context) (*models.AuthUser, error)
}

// LoadOrCreateProfile returns the profile for userID, creating it from the current
// identity when it does not exist yet. It returns nil, nil when there is no identity
// to build one from.
func LoadOrCreateProfile(ctx context.Context, store ProfileStore, users UserSource, userID string) (*models.Profile, error) {
	profile, err := store.GetProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch profile: %w", err)
	}
	if profile != nil {
		return profile, nil
	}

	user, err := users.GetUser(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user: %w", err)
	}
	if user == nil || user.ID != userID {
		return nil, nil
	}

	profile = NewProfile(user)
	if err := store.CreateProfile(ctx, profile); err != nil {
		// Another request provisioned it first.
		if errors.Is(err, repository.ErrDuplicate) {
			return store.GetProfile(ctx, userID)
		}
		return nil, fmt.Errorf("failed to create profile: %w", err)
	}
	return profile, nil
}

// NewProfile builds the initial profile for an identity.
func NewProfile(user *models.AuthUser) *models.Profile {
	role, err := models.ParseUserRole(user.Metadata.Role)
	if err != nil {
		role = models.DefaultRole
	}
	now := time.Now().UTC()
	return &models.Profile{
		ID:        user.ID,
		Email:     user.Email,
		FullName:  DisplayName(user),
		Role:      role,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// DisplayName picks full_name, then name, then the email local part.
func DisplayName(user *models.AuthUser) string {
	for _, name := range []string{user.Metadata.FullName, user.Metadata.Name} {
		if name = strings.TrimSpace(name); name != "" {
			return name
		}
	}
	if local, _, _ := strings.Cut(user.Email, "@"); local != "" {
		return local
	}
	return fallbackName
}
