package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"carelog/internal/database"
	"carelog/internal/models"
	"carelog/internal/repository"
)

// BackupVersion is written into every export.
const BackupVersion = "1.0"

// BackupData represents the complete database backup structure
type BackupData struct {
	Version      string            `json:"version"`
	ExportedAt   time.Time         `json:"exported_at"`
	DatabaseType string            `json:"database_type"`
	Users        []UserBackup      `json:"users"`
	Profiles     []ProfileBackup   `json:"profiles"`
	Categories   []CategoryBackup  `json:"categories"`
	Children     []ChildBackup     `json:"children"`
	Relations    []RelationBackup  `json:"relations"`
	Logs         []LogBackup       `json:"logs"`
	Settings     map[string]string `json:"settings,omitempty"`
}

// UserBackup represents an auth identity for backup
type UserBackup struct {
	ID            string              `json:"id"`
	Email         string              `json:"email"`
	PasswordHash  string              `json:"password_hash"`
	Metadata      models.UserMetadata `json:"metadata"`
	OAuthProvider string              `json:"oauth_provider"`
	OAuthSubject  string              `json:"oauth_subject"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// ProfileBackup represents a profile for backup
type ProfileBackup struct {
	ID        string          `json:"id"`
	Email     string          `json:"email"`
	FullName  string          `json:"full_name"`
	Role      models.UserRole `json:"role"`
	LastLogin *time.Time      `json:"last_login"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// CategoryBackup represents a log category. IDs are remapped by name on import.
type CategoryBackup struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Color       string `json:"color"`
	IsActive    bool   `json:"is_active"`
}

// ChildBackup represents a child for backup
type ChildBackup struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	BirthDate *time.Time `json:"birth_date"`
	Diagnosis string     `json:"diagnosis"`
	Notes     string     `json:"notes"`
	IsActive  bool       `json:"is_active"`
	CreatedBy string     `json:"created_by"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// RelationBackup represents a child relation for backup
type RelationBackup struct {
	ChildID          string                  `json:"child_id"`
	ProfileID        string                  `json:"profile_id"`
	RelationshipType models.RelationshipType `json:"relationship_type"`
	CanEdit          bool                    `json:"can_edit"`
	CanExport        bool                    `json:"can_export"`
	IsActive         bool                    `json:"is_active"`
	GrantedBy        string                  `json:"granted_by"`
	CreatedAt        time.Time               `json:"created_at"`
}

// LogBackup represents a daily log for backup
type LogBackup struct {
	ID               string                `json:"id"`
	ChildID          string                `json:"child_id"`
	CategoryID       *int64                `json:"category_id"`
	LoggedBy         string                `json:"logged_by"`
	Title            string                `json:"title"`
	Content          string                `json:"content"`
	MoodScore        *int                  `json:"mood_score"`
	IntensityLevel   models.IntensityLevel `json:"intensity_level"`
	FollowUpRequired bool                  `json:"follow_up_required"`
	FollowUpDate     *time.Time            `json:"follow_up_date"`
	ReviewedBy       *string               `json:"reviewed_by"`
	ReviewedAt       *time.Time            `json:"reviewed_at"`
	LogDate          time.Time             `json:"log_date"`
	CreatedAt        time.Time             `json:"created_at"`
	UpdatedAt        time.Time             `json:"updated_at"`
}

// ImportSummary counts what an import wrote and what it skipped as already present.
type ImportSummary struct {
	Imported map[string]int
	Skipped  map[string]int
}

func newImportSummary() *ImportSummary {
	return &ImportSummary{Imported: map[string]int{}, Skipped: map[string]int{}}
}

func (s *ImportSummary) count(kind string, inserted bool) {
	if inserted {
		s.Imported[kind]++
	} else {
		s.Skipped[kind]++
	}
}

// BackupService handles database backup and restore operations
type BackupService struct {
	db         *database.DB
	users      *repository.AuthRepository
	profiles   *repository.ProfileRepository
	children   *repository.ChildRepository
	categories *repository.CategoryRepository
	logs       *repository.LogRepository
	settings   *repository.SettingsRepository
	log        zerolog.Logger
}

// NewBackupService creates a new backup service
func NewBackupService(db *database.DB, logger zerolog.Logger) *BackupService {
	return &BackupService{
		db:         db,
		users:      repository.NewAuthRepository(db),
		profiles:   repository.NewProfileRepository(db),
		children:   repository.NewChildRepository(db),
		categories: repository.NewCategoryRepository(db),
		logs:       repository.NewLogRepository(db),
		settings:   repository.NewSettingsRepository(db),
		log:        logger.With().Str("component", "backup").Logger(),
	}
}

// Snapshot reads the whole store into a BackupData
func (s *BackupService) Snapshot(ctx context.Context) (*BackupData, error) {
	backup := &BackupData{
		Version:      BackupVersion,
		ExportedAt:   time.Now().UTC(),
		DatabaseType: "universal",
	}

	users, err := s.users.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to export users: %w", err)
	}
	for _, u := range users {
		backup.Users = append(backup.Users, UserBackup{
			ID: u.ID, Email: u.Email, PasswordHash: u.PasswordHash, Metadata: u.Metadata,
			OAuthProvider: u.OAuthProvider, OAuthSubject: u.OAuthSubject,
			CreatedAt: u.CreatedAt, UpdatedAt: u.UpdatedAt,
		})
	}

	profiles, err := s.profiles.ListProfiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to export profiles: %w", err)
	}
	for _, p := range profiles {
		backup.Profiles = append(backup.Profiles, ProfileBackup{
			ID: p.ID, Email: p.Email, FullName: p.FullName, Role: p.Role,
			LastLogin: p.LastLogin, CreatedAt: p.CreatedAt, UpdatedAt: p.UpdatedAt,
		})
	}

	categories, err := s.categories.List(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("failed to export categories: %w", err)
	}
	for _, c := range categories {
		backup.Categories = append(backup.Categories, CategoryBackup(c))
	}

	children, err := s.children.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to export children: %w", err)
	}
	for _, c := range children {
		backup.Children = append(backup.Children, ChildBackup(c))
	}

	relations, err := s.children.ListAllRelations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to export relations: %w", err)
	}
	for _, r := range relations {
		backup.Relations = append(backup.Relations, RelationBackup{
			ChildID: r.ChildID, ProfileID: r.ProfileID, RelationshipType: r.RelationshipType,
			CanEdit: r.CanEdit, CanExport: r.CanExport, IsActive: r.IsActive,
			GrantedBy: r.GrantedBy, CreatedAt: r.CreatedAt,
		})
	}

	logs, err := s.logs.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to export logs: %w", err)
	}
	for _, l := range logs {
		backup.Logs = append(backup.Logs, LogBackup(l))
	}

	open, err := s.settings.GetSetting(ctx, repository.SettingRegistrationOpen)
	if err != nil {
		return nil, fmt.Errorf("failed to export settings: %w", err)
	}
	if open != "" {
		backup.Settings = map[string]string{repository.SettingRegistrationOpen: open}
	}

	return backup, nil
}

// ExportToWriter writes a JSON backup to w
func (s *BackupService) ExportToWriter(ctx context.Context, w io.Writer) (*BackupData, error) {
	backup, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(backup); err != nil {
		return nil, fmt.Errorf("failed to encode backup: %w", err)
	}

	s.log.Info().
		Int("users", len(backup.Users)).
		Int("profiles", len(backup.Profiles)).
		Int("children", len(backup.Children)).
		Int("relations", len(backup.Relations)).
		Int("logs", len(backup.Logs)).
		Msg("database exported")
	return backup, nil
}

// ImportFromReader restores a JSON backup. Records that already exist are
// skipped, so importing into a live database merges. Everything is written in
// one transaction.
func (s *BackupService) ImportFromReader(ctx context.Context, r io.Reader) (*ImportSummary, error) {
	var backup BackupData
	if err := json.NewDecoder(r).Decode(&backup); err != nil {
		return nil, fmt.Errorf("failed to decode backup: %w", err)
	}
	if backup.Version != BackupVersion {
		return nil, fmt.Errorf("unsupported backup version %q", backup.Version)
	}

	s.log.Info().Str("version", backup.Version).Time("exported_at", backup.ExportedAt).Msg("starting database import")

	summary := newImportSummary()
	err := s.db.WithTx(ctx, func(tx *database.Tx) error {
		return s.importAll(ctx, tx, &backup, summary)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Interface("imported", summary.Imported).Interface("skipped", summary.Skipped).Msg("database import completed")
	return summary, nil
}

// importAll writes in dependency order
func (s *BackupService) importAll(ctx context.Context, tx database.DBTX, b *BackupData, summary *ImportSummary) error {
	for _, u := range b.Users {
		metadata, err := json.Marshal(u.Metadata)
		if err != nil {
			return fmt.Errorf("failed to encode metadata of user %s: %w", u.ID, err)
		}
		inserted, err := insertIfAbsent(ctx, tx, "SELECT COUNT(*) FROM auth_users WHERE id = ? OR email = ?", []any{u.ID, u.Email},
			`INSERT INTO auth_users (id, email, password_hash, metadata, oauth_provider, oauth_subject, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			u.ID, u.Email, u.PasswordHash, string(metadata), nullIfEmpty(u.OAuthProvider), nullIfEmpty(u.OAuthSubject),
			u.CreatedAt.UTC(), u.UpdatedAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to import user %s: %w", u.ID, err)
		}
		summary.count("users", inserted)
	}

	for _, p := range b.Profiles {
		inserted, err := insertIfAbsent(ctx, tx, "SELECT COUNT(*) FROM profiles WHERE id = ?", []any{p.ID},
			`INSERT INTO profiles (id, email, full_name, role, last_login, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.Email, p.FullName, p.Role, nullTimePtr(p.LastLogin), p.CreatedAt.UTC(), p.UpdatedAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to import profile %s: %w", p.ID, err)
		}
		summary.count("profiles", inserted)
	}

	categoryIDs, err := s.importCategories(ctx, tx, b.Categories, summary)
	if err != nil {
		return err
	}

	for _, c := range b.Children {
		inserted, err := insertIfAbsent(ctx, tx, "SELECT COUNT(*) FROM children WHERE id = ?", []any{c.ID},
			`INSERT INTO children (id, name, birth_date, diagnosis, notes, is_active, created_by, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.Name, nullTimePtr(c.BirthDate), c.Diagnosis, c.Notes, c.IsActive, c.CreatedBy,
			c.CreatedAt.UTC(), c.UpdatedAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to import child %s: %w", c.ID, err)
		}
		summary.count("children", inserted)
	}

	for _, r := range b.Relations {
		inserted, err := insertIfAbsent(ctx, tx, "SELECT COUNT(*) FROM child_relations WHERE child_id = ? AND profile_id = ?",
			[]any{r.ChildID, r.ProfileID},
			`INSERT INTO child_relations (child_id, profile_id, relationship_type, can_edit, can_export, is_active, granted_by, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			r.ChildID, r.ProfileID, r.RelationshipType, r.CanEdit, r.CanExport, r.IsActive, nullIfEmpty(r.GrantedBy), r.CreatedAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to import relation %s/%s: %w", r.ChildID, r.ProfileID, err)
		}
		summary.count("relations", inserted)
	}

	for _, l := range b.Logs {
		var categoryID *int64
		if l.CategoryID != nil {
			if mapped, ok := categoryIDs[*l.CategoryID]; ok {
				categoryID = &mapped
			}
		}
		inserted, err := insertIfAbsent(ctx, tx, "SELECT COUNT(*) FROM daily_logs WHERE id = ?", []any{l.ID},
			`INSERT INTO daily_logs (id, child_id, category_id, logged_by, title, content, mood_score, intensity_level,
				follow_up_required, follow_up_date, reviewed_by, reviewed_at, log_date, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			l.ID, l.ChildID, nullInt64Ptr(categoryID), l.LoggedBy, l.Title, l.Content, nullIntPtr(l.MoodScore), l.IntensityLevel,
			l.FollowUpRequired, nullTimePtr(l.FollowUpDate), nullStringPtr(l.ReviewedBy), nullTimePtr(l.ReviewedAt),
			l.LogDate.UTC(), l.CreatedAt.UTC(), l.UpdatedAt.UTC())
		if err != nil {
			return fmt.Errorf("failed to import log %s: %w", l.ID, err)
		}
		summary.count("logs", inserted)
	}

	if v, ok := b.Settings[repository.SettingRegistrationOpen]; ok {
		if _, err := tx.ExecContext(ctx, tx.GetDialect().UpsertSettingQuery(), repository.SettingRegistrationOpen, v); err != nil {
			return fmt.Errorf("failed to import settings: %w", err)
		}
	}
	return nil
}

// importCategories reuses categories with the same name and returns old ID -> new ID.
func (s *BackupService) importCategories(ctx context.Context, tx database.DBTX, categories []CategoryBackup, summary *ImportSummary) (map[int64]int64, error) {
	ids := make(map[int64]int64, len(categories))
	for _, c := range categories {
		var existing int64
		err := tx.QueryRowContext(ctx, "SELECT id FROM log_categories WHERE name = ?", c.Name).Scan(&existing)
		switch {
		case err == nil:
			ids[c.ID] = existing
			summary.count("categories", false)
			continue
		case !errors.Is(err, sql.ErrNoRows):
			return nil, fmt.Errorf("failed to look up category %s: %w", c.Name, err)
		}

		id, err := tx.ExecReturningID(ctx,
			"INSERT INTO log_categories (name, description, color, is_active) VALUES (?, ?, ?, ?)",
			c.Name, c.Description, c.Color, c.IsActive)
		if err != nil {
			return nil, fmt.Errorf("failed to import category %s: %w", c.Name, err)
		}
		ids[c.ID] = id
		summary.count("categories", true)
	}
	return ids, nil
}

func insertIfAbsent(ctx context.Context, tx database.DBTX, existsQuery string, existsArgs []any, insert string, args ...any) (bool, error) {
	var n int
	if err := tx.QueryRowContext(ctx, existsQuery, existsArgs...).Scan(&n); err != nil {
		return false, err
	}
	if n > 0 {
		return false, nil
	}
	if _, err := tx.ExecContext(ctx, insert, args...); err != nil {
		return false, err
	}
	return true, nil
}

// Clear deletes all data in reverse dependency order. Seeded categories and
// settings are kept.
func (s *BackupService) Clear(ctx context.Context) error {
	tables := []string{
		"daily_logs",
		"child_relations",
		"children",
		"password_reset_tokens",
		"auth_sessions",
		"profiles",
		"auth_users",
	}
	return s.db.WithTx(ctx, func(tx *database.Tx) error {
		for _, table := range tables {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("failed to clear table %s: %w", table, err)
			}
			s.log.Info().Str("table", table).Msg("cleared table")
		}
		return nil
	})
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullIntPtr(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullInt64Ptr(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}
