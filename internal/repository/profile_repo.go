package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"carelog/internal/database"
	"carelog/internal/models"
)

// ProfileRepository handles database operations for dashboard profiles
type ProfileRepository struct {
	db *database.DB
}

// NewProfileRepository creates a new profile repository
func NewProfileRepository(db *database.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

const profileColumns = `id, email, full_name, role, last_login, created_at, updated_at`

func scanProfile(row rowScanner) (*models.Profile, error) {
	p := &models.Profile{}
	var lastLogin sql.NullTime
	if err := row.Scan(&p.ID, &p.Email, &p.FullName, &p.Role, &lastLogin, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.LastLogin = timePtr(lastLogin)
	return p, nil
}

// GetProfile retrieves a profile by ID. A missing profile returns nil, nil.
func (r *ProfileRepository) GetProfile(ctx context.Context, id string) (*models.Profile, error) {
	p, err := scanProfile(r.db.QueryRowContext(ctx, "SELECT "+profileColumns+" FROM profiles WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return p, nil
}

// GetProfileByEmail retrieves a profile by email. A missing profile returns nil, nil.
func (r *ProfileRepository) GetProfileByEmail(ctx context.Context, email string) (*models.Profile, error) {
	p, err := scanProfile(r.db.QueryRowContext(ctx, "SELECT "+profileColumns+" FROM profiles WHERE email = ?", email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return p, nil
}

// CreateProfile inserts a profile. An existing ID returns ErrDuplicate.
func (r *ProfileRepository) CreateProfile(ctx context.Context, p *models.Profile) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO profiles ("+profileColumns+") VALUES (?, ?, ?, ?, ?, ?, ?)",
		p.ID, p.Email, p.FullName, p.Role, nullTime(p.LastLogin), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if r.db.Dialect.IsUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create profile: %w", err)
	}
	return nil
}

// UpdateProfile applies the non-nil fields of u and returns the stored profile.
func (r *ProfileRepository) UpdateProfile(ctx context.Context, id string, u models.ProfileUpdate) (*models.Profile, error) {
	current, err := r.GetProfile(ctx, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, nil
	}
	u.Apply(current)
	current.UpdatedAt = time.Now().UTC()

	_, err = r.db.ExecContext(ctx,
		"UPDATE profiles SET full_name = ?, email = ?, updated_at = ? WHERE id = ?",
		current.FullName, current.Email, current.UpdatedAt, id)
	if err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	return current, nil
}

// TouchLastLogin records a sign-in time
func (r *ProfileRepository) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, "UPDATE profiles SET last_login = ? WHERE id = ?", at.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

// GetRole returns the role of a profile. A missing profile returns sql.ErrNoRows wrapped.
func (r *ProfileRepository) GetRole(ctx context.Context, id string) (models.UserRole, error) {
	var role models.UserRole
	if err := r.db.QueryRowContext(ctx, "SELECT role FROM profiles WHERE id = ?", id).Scan(&role); err != nil {
		return 0, fmt.Errorf("failed to get role: %w", err)
	}
	return role, nil
}

// SetRole changes a profile's role
func (r *ProfileRepository) SetRole(ctx context.Context, id string, role models.UserRole) error {
	res, err := r.db.ExecContext(ctx, "UPDATE profiles SET role = ?, updated_at = ? WHERE id = ?", role, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to set role: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CountByRole counts profiles holding a role
func (r *ProfileRepository) CountByRole(ctx context.Context, role models.UserRole) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM profiles WHERE role = ?", role).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count profiles: %w", err)
	}
	return n, nil
}

// ListProfiles returns every profile, alphabetically
func (r *ProfileRepository) ListProfiles(ctx context.Context) ([]models.Profile, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+profileColumns+" FROM profiles ORDER BY full_name, email")
	if err != nil {
		return nil, fmt.Errorf("failed to query profiles: %w", err)
	}
	defer rows.Close()

	var profiles []models.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		profiles = append(profiles, *p)
	}
	return profiles, rows.Err()
}
