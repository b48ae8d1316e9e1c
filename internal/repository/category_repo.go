package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"carelog/internal/database"
	"carelog/internal/models"
)

// CategoryRepository handles database operations for log categories
type CategoryRepository struct {
	db *database.DB
}

// NewCategoryRepository creates a new category repository
func NewCategoryRepository(db *database.DB) *CategoryRepository {
	return &CategoryRepository{db: db}
}

// List returns categories ordered by name. Inactive ones are skipped unless includeInactive is set.
func (r *CategoryRepository) List(ctx context.Context, includeInactive bool) ([]models.Category, error) {
	query := "SELECT id, name, description, color, is_active FROM log_categories"
	var args []any
	if !includeInactive {
		query += " WHERE is_active = ?"
		args = append(args, true)
	}
	query += " ORDER BY name"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer rows.Close()

	var categories []models.Category
	for rows.Next() {
		var c models.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.Color, &c.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// Get returns a category. Missing returns nil, nil.
func (r *CategoryRepository) Get(ctx context.Context, id int64) (*models.Category, error) {
	var c models.Category
	err := r.db.QueryRowContext(ctx,
		"SELECT id, name, description, color, is_active FROM log_categories WHERE id = ?", id).
		Scan(&c.ID, &c.Name, &c.Description, &c.Color, &c.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get category: %w", err)
	}
	return &c, nil
}

// Create inserts a category and returns its ID
func (r *CategoryRepository) Create(ctx context.Context, c *models.Category) error {
	id, err := r.db.ExecReturningID(ctx,
		"INSERT INTO log_categories (name, description, color, is_active) VALUES (?, ?, ?, ?)",
		c.Name, c.Description, c.Color, true)
	if err != nil {
		if r.db.Dialect.IsUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create category: %w", err)
	}
	c.ID = id
	c.IsActive = true
	return nil
}

// GetByName returns a category by name. Missing returns nil, nil.
func (r *CategoryRepository) GetByName(ctx context.Context, name string) (*models.Category, error) {
	var c models.Category
	err := r.db.QueryRowContext(ctx,
		"SELECT id, name, description, color, is_active FROM log_categories WHERE name = ?", name).
		Scan(&c.ID, &c.Name, &c.Description, &c.Color, &c.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get category: %w", err)
	}
	return &c, nil
}
