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

// ChildRepository handles database operations for children and their relations
type ChildRepository struct {
	db *database.DB
}

// NewChildRepository creates a new child repository
func NewChildRepository(db *database.DB) *ChildRepository {
	return &ChildRepository{db: db}
}

const childWithRelationSelect = `
	SELECT c.id, c.name, c.birth_date, c.diagnosis, c.notes, c.is_active, c.created_by, c.created_at, c.updated_at,
	       r.relationship_type, r.can_edit, r.can_export, r.is_active, COALESCE(p.full_name, '')
	FROM children c
	JOIN child_relations r ON r.child_id = c.id AND r.profile_id = ?
	LEFT JOIN profiles p ON p.id = c.created_by
`

func scanChild(row rowScanner, extra ...any) (*models.Child, error) {
	c := &models.Child{}
	var birth sql.NullTime
	dest := append([]any{&c.ID, &c.Name, &birth, &c.Diagnosis, &c.Notes, &c.IsActive, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	c.BirthDate = timePtr(birth)
	return c, nil
}

func scanChildWithRelation(row rowScanner) (*models.ChildWithRelation, error) {
	cw := &models.ChildWithRelation{}
	child, err := scanChild(row, &cw.RelationshipType, &cw.CanEdit, &cw.CanExport, &cw.IsRelationActive, &cw.CreatorName)
	if err != nil {
		return nil, err
	}
	cw.Child = *child
	return cw, nil
}

// ListForProfile returns the children a profile has an active relation with, newest first.
func (r *ChildRepository) ListForProfile(ctx context.Context, profileID string) ([]models.ChildWithRelation, error) {
	rows, err := r.db.QueryContext(ctx, childWithRelationSelect+" WHERE r.is_active = ? ORDER BY c.created_at DESC", profileID, true)
	if err != nil {
		return nil, fmt.Errorf("failed to query children: %w", err)
	}
	defer rows.Close()

	var children []models.ChildWithRelation
	for rows.Next() {
		cw, err := scanChildWithRelation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan child: %w", err)
		}
		children = append(children, *cw)
	}
	return children, rows.Err()
}

// GetForProfile returns one child joined with the profile's relation.
// No relation, or an inactive one, returns nil, nil.
func (r *ChildRepository) GetForProfile(ctx context.Context, childID, profileID string) (*models.ChildWithRelation, error) {
	row := r.db.QueryRowContext(ctx, childWithRelationSelect+" WHERE c.id = ? AND r.is_active = ?", profileID, childID, true)
	cw, err := scanChildWithRelation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get child: %w", err)
	}
	return cw, nil
}

// CreateWithOwner inserts a child and the owner's relation in one transaction.
func (r *ChildRepository) CreateWithOwner(ctx context.Context, child *models.Child, owner models.ChildRelation) error {
	now := time.Now().UTC()
	child.CreatedAt, child.UpdatedAt = now, now
	owner.ChildID = child.ID
	owner.CreatedAt = now

	return r.db.WithTx(ctx, func(tx *database.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO children (id, name, birth_date, diagnosis, notes, is_active, created_by, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			child.ID, child.Name, nullTime(child.BirthDate), child.Diagnosis, child.Notes, child.IsActive,
			child.CreatedBy, now, now)
		if err != nil {
			return fmt.Errorf("failed to create child: %w", err)
		}
		if _, err := insertRelation(ctx, tx, &owner); err != nil {
			return fmt.Errorf("failed to create owner relation: %w", err)
		}
		return nil
	})
}

// Update replaces the editable fields of a child
func (r *ChildRepository) Update(ctx context.Context, id string, in models.ChildInput) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE children SET name = ?, birth_date = ?, diagnosis = ?, notes = ?, updated_at = ? WHERE id = ?",
		in.Name, nullTime(in.BirthDate), in.Diagnosis, in.Notes, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update child: %w", err)
	}
	return nil
}

// SetActive archives or restores a child
func (r *ChildRepository) SetActive(ctx context.Context, id string, active bool) error {
	_, err := r.db.ExecContext(ctx, "UPDATE children SET is_active = ?, updated_at = ? WHERE id = ?", active, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update child status: %w", err)
	}
	return nil
}

func insertRelation(ctx context.Context, db database.DBTX, rel *models.ChildRelation) (int64, error) {
	if rel.CreatedAt.IsZero() {
		rel.CreatedAt = time.Now().UTC()
	}
	id, err := db.ExecReturningID(ctx, `
		INSERT INTO child_relations (child_id, profile_id, relationship_type, can_edit, can_export, is_active, granted_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rel.ChildID, rel.ProfileID, rel.RelationshipType, rel.CanEdit, rel.CanExport, rel.IsActive,
		emptyToNull(rel.GrantedBy), rel.CreatedAt)
	if err != nil {
		if db.GetDialect().IsUniqueViolation(err) {
			return 0, ErrDuplicate
		}
		return 0, err
	}
	rel.ID = id
	return id, nil
}

// AddRelation links a profile to a child. An existing link returns ErrDuplicate.
func (r *ChildRepository) AddRelation(ctx context.Context, rel *models.ChildRelation) error {
	if _, err := insertRelation(ctx, r.db, rel); err != nil {
		if errors.Is(err, ErrDuplicate) {
			return err
		}
		return fmt.Errorf("failed to add relation: %w", err)
	}
	return nil
}

// SetRelationActive activates or deactivates a profile's link to a child
func (r *ChildRepository) SetRelationActive(ctx context.Context, childID, profileID string, active bool) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE child_relations SET is_active = ? WHERE child_id = ? AND profile_id = ?",
		active, childID, profileID)
	if err != nil {
		return fmt.Errorf("failed to update relation: %w", err)
	}
	return nil
}

// ReactivateRelation restores an inactive link with the grants in rel, replacing the old ones.
func (r *ChildRepository) ReactivateRelation(ctx context.Context, rel *models.ChildRelation) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE child_relations
		SET relationship_type = ?, can_edit = ?, can_export = ?, granted_by = ?, is_active = ?
		WHERE child_id = ? AND profile_id = ?`,
		rel.RelationshipType, rel.CanEdit, rel.CanExport, emptyToNull(rel.GrantedBy), true,
		rel.ChildID, rel.ProfileID)
	if err != nil {
		return fmt.Errorf("failed to reactivate relation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	rel.IsActive = true
	return nil
}

// GetRelation returns a relation regardless of its active flag. Missing returns nil, nil.
func (r *ChildRepository) GetRelation(ctx context.Context, childID, profileID string) (*models.ChildRelation, error) {
	rel := &models.ChildRelation{}
	var grantedBy sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT id, child_id, profile_id, relationship_type, can_edit, can_export, is_active, granted_by, created_at
		FROM child_relations WHERE child_id = ? AND profile_id = ?`, childID, profileID).Scan(
		&rel.ID, &rel.ChildID, &rel.ProfileID, &rel.RelationshipType, &rel.CanEdit, &rel.CanExport,
		&rel.IsActive, &grantedBy, &rel.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get relation: %w", err)
	}
	rel.GrantedBy = grantedBy.String
	return rel, nil
}

// Team returns the active members linked to a child
func (r *ChildRepository) Team(ctx context.Context, childID string) ([]models.TeamMember, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT p.id, p.full_name, p.email, r.relationship_type, r.can_edit, r.can_export, r.is_active
		FROM child_relations r
		JOIN profiles p ON p.id = r.profile_id
		WHERE r.child_id = ? AND r.is_active = ?
		ORDER BY r.created_at`, childID, true)
	if err != nil {
		return nil, fmt.Errorf("failed to query team: %w", err)
	}
	defer rows.Close()

	var team []models.TeamMember
	for rows.Next() {
		var m models.TeamMember
		if err := rows.Scan(&m.ProfileID, &m.FullName, &m.Email, &m.RelationshipType, &m.CanEdit, &m.CanExport, &m.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan team member: %w", err)
		}
		team = append(team, m)
	}
	return team, rows.Err()
}

// ListAll returns every child, for backups
func (r *ChildRepository) ListAll(ctx context.Context) ([]models.Child, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, birth_date, diagnosis, notes, is_active, created_by, created_at, updated_at
		FROM children ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query children: %w", err)
	}
	defer rows.Close()

	var children []models.Child
	for rows.Next() {
		c, err := scanChild(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan child: %w", err)
		}
		children = append(children, *c)
	}
	return children, rows.Err()
}

// ListAllRelations returns every relation, for backups
func (r *ChildRepository) ListAllRelations(ctx context.Context) ([]models.ChildRelation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, child_id, profile_id, relationship_type, can_edit, can_export, is_active, granted_by, created_at
		FROM child_relations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query relations: %w", err)
	}
	defer rows.Close()

	var rels []models.ChildRelation
	for rows.Next() {
		var rel models.ChildRelation
		var grantedBy sql.NullString
		if err := rows.Scan(&rel.ID, &rel.ChildID, &rel.ProfileID, &rel.RelationshipType, &rel.CanEdit,
			&rel.CanExport, &rel.IsActive, &grantedBy, &rel.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan relation: %w", err)
		}
		rel.GrantedBy = grantedBy.String
		rels = append(rels, rel)
	}
	return rels, rows.Err()
}

// Insert stores a child as-is, for restores
func (r *ChildRepository) Insert(ctx context.Context, c *models.Child) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO children (id, name, birth_date, diagnosis, notes, is_active, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, nullTime(c.BirthDate), c.Diagnosis, c.Notes, c.IsActive, c.CreatedBy, c.CreatedAt.UTC(), c.UpdatedAt.UTC())
	if err != nil {
		if r.db.Dialect.IsUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert child: %w", err)
	}
	return nil
}
