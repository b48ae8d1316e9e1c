package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"carelog/internal/database"
	"carelog/internal/models"
)

// LogRepository handles database operations for daily logs
type LogRepository struct {
	db *database.DB
}

// NewLogRepository creates a new log repository
func NewLogRepository(db *database.DB) *LogRepository {
	return &LogRepository{db: db}
}

// LogQuery narrows a log listing. Zero fields do not filter.
type LogQuery struct {
	ChildID string
	From    *time.Time
	To      *time.Time
	Limit   int
}

const logColumns = `l.id, l.child_id, l.category_id, l.logged_by, l.title, l.content, l.mood_score, l.intensity_level,
	l.follow_up_required, l.follow_up_date, l.reviewed_by, l.reviewed_at, l.log_date, l.created_at, l.updated_at`

const logDetailSelect = `
	SELECT ` + logColumns + `,
	       c.name, COALESCE(cat.name, ''), COALESCE(cat.color, ''), COALESCE(lb.full_name, ''), COALESCE(rv.full_name, '')
	FROM daily_logs l
	JOIN children c ON c.id = l.child_id
	LEFT JOIN log_categories cat ON cat.id = l.category_id
	LEFT JOIN profiles lb ON lb.id = l.logged_by
	LEFT JOIN profiles rv ON rv.id = l.reviewed_by
`

func scanLog(row rowScanner, extra ...any) (*models.Log, error) {
	l := &models.Log{}
	var (
		categoryID   sql.NullInt64
		mood         sql.NullInt64
		followUpDate sql.NullTime
		reviewedBy   sql.NullString
		reviewedAt   sql.NullTime
	)
	dest := append([]any{
		&l.ID, &l.ChildID, &categoryID, &l.LoggedBy, &l.Title, &l.Content, &mood, &l.IntensityLevel,
		&l.FollowUpRequired, &followUpDate, &reviewedBy, &reviewedAt, &l.LogDate, &l.CreatedAt, &l.UpdatedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	l.CategoryID = int64Ptr(categoryID)
	l.MoodScore = intPtr(mood)
	l.FollowUpDate = timePtr(followUpDate)
	l.ReviewedBy = stringPtr(reviewedBy)
	l.ReviewedAt = timePtr(reviewedAt)
	return l, nil
}

func scanLogWithDetails(row rowScanner) (*models.LogWithDetails, error) {
	d := &models.LogWithDetails{}
	l, err := scanLog(row, &d.ChildName, &d.CategoryName, &d.CategoryColor, &d.LoggedByName, &d.ReviewerName)
	if err != nil {
		return nil, err
	}
	d.Log = *l
	return d, nil
}

// ListForProfile returns logs of children the profile has an active relation with, newest first.
func (r *LogRepository) ListForProfile(ctx context.Context, profileID string, q LogQuery) ([]models.LogWithDetails, error) {
	var b strings.Builder
	b.WriteString(logDetailSelect)
	b.WriteString(" JOIN child_relations rel ON rel.child_id = l.child_id AND rel.profile_id = ? AND rel.is_active = ?")
	args := []any{profileID, true}

	var where []string
	if q.ChildID != "" {
		where = append(where, "l.child_id = ?")
		args = append(args, q.ChildID)
	}
	if q.From != nil {
		where = append(where, "l.log_date >= ?")
		args = append(args, q.From.UTC())
	}
	if q.To != nil {
		where = append(where, "l.log_date <= ?")
		args = append(args, q.To.UTC())
	}
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY l.created_at DESC")
	if q.Limit > 0 {
		b.WriteString(fmt.Sprintf(" LIMIT %d", q.Limit))
	}

	rows, err := r.db.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query logs: %w", err)
	}
	defer rows.Close()

	var logs []models.LogWithDetails
	for rows.Next() {
		d, err := scanLogWithDetails(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan log: %w", err)
		}
		logs = append(logs, *d)
	}
	return logs, rows.Err()
}

// Get returns a log with its display names. Missing returns nil, nil.
func (r *LogRepository) Get(ctx context.Context, id string) (*models.LogWithDetails, error) {
	d, err := scanLogWithDetails(r.db.QueryRowContext(ctx, logDetailSelect+" WHERE l.id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get log: %w", err)
	}
	return d, nil
}

// Create inserts a log
func (r *LogRepository) Create(ctx context.Context, l *models.Log) error {
	now := time.Now().UTC()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
	if l.UpdatedAt.IsZero() {
		l.UpdatedAt = now
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO daily_logs (id, child_id, category_id, logged_by, title, content, mood_score, intensity_level,
			follow_up_required, follow_up_date, reviewed_by, reviewed_at, log_date, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.ChildID, nullInt64(l.CategoryID), l.LoggedBy, l.Title, l.Content, nullInt(l.MoodScore), l.IntensityLevel,
		l.FollowUpRequired, nullTime(l.FollowUpDate), nullString(l.ReviewedBy), nullTime(l.ReviewedAt),
		l.LogDate.UTC(), l.CreatedAt.UTC(), l.UpdatedAt.UTC())
	if err != nil {
		if r.db.Dialect.IsUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create log: %w", err)
	}
	return nil
}

// MarkReviewed records who reviewed a log and when
func (r *LogRepository) MarkReviewed(ctx context.Context, id, reviewerID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE daily_logs SET reviewed_by = ?, reviewed_at = ?, updated_at = ? WHERE id = ?",
		reviewerID, at.UTC(), at.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark log reviewed: %w", err)
	}
	return nil
}

// ScheduleFollowUp sets the follow-up date of a log
func (r *LogRepository) ScheduleFollowUp(ctx context.Context, id string, date time.Time) error {
	_, err := r.db.ExecContext(ctx,
		"UPDATE daily_logs SET follow_up_date = ?, updated_at = ? WHERE id = ?",
		date.UTC(), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to schedule follow-up: %w", err)
	}
	return nil
}

// Delete removes a log
func (r *LogRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM daily_logs WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete log: %w", err)
	}
	return nil
}

// ListAll returns every log, for backups
func (r *LogRepository) ListAll(ctx context.Context) ([]models.Log, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT "+logColumns+" FROM daily_logs l ORDER BY l.created_at")
	if err != nil {
		return nil, fmt.Errorf("failed to query logs: %w", err)
	}
	defer rows.Close()

	var logs []models.Log
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan log: %w", err)
		}
		logs = append(logs, *l)
	}
	return logs, rows.Err()
}
