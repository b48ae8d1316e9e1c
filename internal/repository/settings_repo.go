package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"carelog/internal/database"
)

// SettingRegistrationOpen toggles self sign-up.
const SettingRegistrationOpen = "registration_open"

type SettingsRepository struct {
	db *database.DB
}

func NewSettingsRepository(db *database.DB) *SettingsRepository {
	return &SettingsRepository{db: db}
}

// GetSetting retrieves a setting value by key. A missing key returns "", nil.
func (r *SettingsRepository) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT setting_value FROM settings WHERE setting_key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return value, nil
}

// SetSetting updates or inserts a setting
func (r *SettingsRepository) SetSetting(ctx context.Context, key, value string) error {
	if _, err := r.db.ExecContext(ctx, r.db.Dialect.UpsertSettingQuery(), key, value); err != nil {
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}

// IsRegistrationOpen reports whether self sign-up is allowed. Defaults to open.
func (r *SettingsRepository) IsRegistrationOpen(ctx context.Context) (bool, error) {
	value, err := r.GetSetting(ctx, SettingRegistrationOpen)
	if err != nil {
		return true, err
	}
	if value == "" {
		return true, nil
	}
	open, err := strconv.ParseBool(value)
	if err != nil {
		return true, nil
	}
	return open, nil
}

// SetRegistrationOpen enables or disables self sign-up
func (r *SettingsRepository) SetRegistrationOpen(ctx context.Context, open bool) error {
	return r.SetSetting(ctx, SettingRegistrationOpen, strconv.FormatBool(open))
}
