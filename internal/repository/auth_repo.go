package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"carelog/internal/database"
	"carelog/internal/models"
)

// AuthRepository handles database operations for identities, sessions and reset tokens
type AuthRepository struct {
	db *database.DB
}

// NewAuthRepository creates a new auth repository
func NewAuthRepository(db *database.DB) *AuthRepository {
	return &AuthRepository{db: db}
}

const authUserColumns = `id, email, password_hash, metadata, COALESCE(oauth_provider, ''), COALESCE(oauth_subject, ''), created_at, updated_at`

func scanAuthUser(row rowScanner) (*models.AuthUser, error) {
	user := &models.AuthUser{}
	var metadata string
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.PasswordHash,
		&metadata,
		&user.OAuthProvider,
		&user.OAuthSubject,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if metadata != "" {
		if err := json.Unmarshal([]byte(metadata), &user.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata for %s: %w", user.ID, err)
		}
	}
	return user, nil
}

// CountUsers returns the number of identities
func (r *AuthRepository) CountUsers(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM auth_users").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return count, nil
}

// CreateUser inserts a new identity. A duplicate email returns ErrDuplicate.
func (r *AuthRepository) CreateUser(ctx context.Context, user *models.AuthUser) error {
	metadata, err := json.Marshal(user.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	now := time.Now().UTC()
	user.CreatedAt, user.UpdatedAt = now, now

	query := `
		INSERT INTO auth_users (id, email, password_hash, metadata, oauth_provider, oauth_subject, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		user.ID, user.Email, user.PasswordHash, string(metadata),
		emptyToNull(user.OAuthProvider), emptyToNull(user.OAuthSubject),
		now, now,
	)
	if err != nil {
		if r.db.Dialect.IsUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetUserByEmail retrieves an identity by email address
func (r *AuthRepository) GetUserByEmail(ctx context.Context, email string) (*models.AuthUser, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+authUserColumns+" FROM auth_users WHERE email = ?", email)
	user, err := scanAuthUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetUserByID retrieves an identity by ID
func (r *AuthRepository) GetUserByID(ctx context.Context, id string) (*models.AuthUser, error) {
	row := r.db.QueryRowContext(ctx, "SELECT "+authUserColumns+" FROM auth_users WHERE id = ?", id)
	user, err := scanAuthUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetUserByOAuth retrieves an identity by provider subject
func (r *AuthRepository) GetUserByOAuth(ctx context.Context, provider, subject string) (*models.AuthUser, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT "+authUserColumns+" FROM auth_users WHERE oauth_provider = ? AND oauth_subject = ?",
		provider, subject)
	user, err := scanAuthUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user by oauth: %w", err)
	}
	return user, nil
}

// ListUsers returns every identity, oldest first
func (r *AuthRepository) ListUsers(ctx context.Context) ([]models.AuthUser, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+authUserColumns+" FROM auth_users ORDER BY created_at")
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []models.AuthUser
	for rows.Next() {
		user, err := scanAuthUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, *user)
	}
	return users, rows.Err()
}

// LinkOAuthProvider attaches a provider subject to an existing identity
func (r *AuthRepository) LinkOAuthProvider(ctx context.Context, userID, provider, subject string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE auth_users SET oauth_provider = ?, oauth_subject = ?, updated_at = ? WHERE id = ?",
		provider, subject, time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("failed to link oauth provider: %w", err)
	}
	return nil
}

// UpdatePassword replaces the password hash
func (r *AuthRepository) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE auth_users SET password_hash = ?, updated_at = ? WHERE id = ?",
		passwordHash, time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return nil
}

// UpdateEmail changes the sign-in email. A taken email returns ErrDuplicate.
func (r *AuthRepository) UpdateEmail(ctx context.Context, userID, email string) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE auth_users SET email = ?, updated_at = ? WHERE id = ?",
		email, time.Now().UTC(), userID)
	if err != nil {
		if r.db.Dialect.IsUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to update email: %w", err)
	}
	return nil
}

// CreateSession creates a new session for a user
func (r *AuthRepository) CreateSession(ctx context.Context, sessionID, userID string, expiresAt time.Time) (*models.AuthSession, error) {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO auth_sessions (id, user_id, expires_at, created_at, refreshed_at) VALUES (?, ?, ?, ?, ?)",
		sessionID, userID, expiresAt.UTC(), now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return &models.AuthSession{
		ID:          sessionID,
		UserID:      userID,
		ExpiresAt:   expiresAt.UTC(),
		CreatedAt:   now,
		RefreshedAt: now,
	}, nil
}

// GetSession retrieves a session by ID
func (r *AuthRepository) GetSession(ctx context.Context, sessionID string) (*models.AuthSession, error) {
	session := &models.AuthSession{}
	err := r.db.QueryRowContext(ctx,
		"SELECT id, user_id, expires_at, created_at, refreshed_at FROM auth_sessions WHERE id = ?",
		sessionID).Scan(
		&session.ID,
		&session.UserID,
		&session.ExpiresAt,
		&session.CreatedAt,
		&session.RefreshedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

// TouchSession records a token refresh
func (r *AuthRepository) TouchSession(ctx context.Context, sessionID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, "UPDATE auth_sessions SET refreshed_at = ? WHERE id = ?", at.UTC(), sessionID)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	return nil
}

// DeleteSession removes a session from the database
func (r *AuthRepository) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM auth_sessions WHERE id = ?", sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteUserSessions removes every session of a user and returns their IDs
func (r *AuthRepository) DeleteUserSessions(ctx context.Context, userID string) ([]string, error) {
	return r.deleteSessionsWhere(ctx, "user_id = ?", userID)
}

// DeleteExpiredSessions removes all expired sessions and returns their IDs
func (r *AuthRepository) DeleteExpiredSessions(ctx context.Context, now time.Time) ([]string, error) {
	return r.deleteSessionsWhere(ctx, "expires_at < ?", now.UTC())
}

func (r *AuthRepository) deleteSessionsWhere(ctx context.Context, where string, arg any) ([]string, error) {
	var ids []string
	err := r.db.WithTx(ctx, func(tx *database.Tx) error {
		rows, err := tx.QueryContext(ctx, "SELECT id FROM auth_sessions WHERE "+where, arg)
		if err != nil {
			return err
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, "DELETE FROM auth_sessions WHERE "+where, arg)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to delete sessions: %w", err)
	}
	return ids, nil
}

// CreateResetToken stores a password reset token
func (r *AuthRepository) CreateResetToken(ctx context.Context, token *models.PasswordResetToken) error {
	token.CreatedAt = time.Now().UTC()
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO password_reset_tokens (token, user_id, expires_at, used, created_at) VALUES (?, ?, ?, ?, ?)",
		token.Token, token.UserID, token.ExpiresAt.UTC(), false, token.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create reset token: %w", err)
	}
	return nil
}

// GetResetToken retrieves a reset token
func (r *AuthRepository) GetResetToken(ctx context.Context, token string) (*models.PasswordResetToken, error) {
	t := &models.PasswordResetToken{}
	err := r.db.QueryRowContext(ctx,
		"SELECT token, user_id, expires_at, used, created_at FROM password_reset_tokens WHERE token = ?",
		token).Scan(&t.Token, &t.UserID, &t.ExpiresAt, &t.Used, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reset token: %w", err)
	}
	return t, nil
}

// MarkResetTokenUsed consumes a reset token. It reports false when the token was already used.
func (r *AuthRepository) MarkResetTokenUsed(ctx context.Context, token string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		"UPDATE password_reset_tokens SET used = ? WHERE token = ? AND used = ?", true, token, false)
	if err != nil {
		return false, fmt.Errorf("failed to mark reset token used: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// DeleteExpiredResetTokens removes stale reset tokens
func (r *AuthRepository) DeleteExpiredResetTokens(ctx context.Context, now time.Time) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM password_reset_tokens WHERE expires_at < ?", now.UTC()); err != nil {
		return fmt.Errorf("failed to delete reset tokens: %w", err)
	}
	return nil
}
