package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"carelog/internal/models"
	"carelog/internal/repository"
	"carelog/internal/validation"
)

var (
	ErrLogNotFound      = errors.New("log not found")
	ErrCategoryNotFound = errors.New("category not found")
)

// LogService handles daily logs
type LogService struct {
	logs       *repository.LogRepository
	children   *repository.ChildRepository
	categories *repository.CategoryRepository
	log        zerolog.Logger
	now        func() time.Time
}

// NewLogService creates a new log service
func NewLogService(
	logs *repository.LogRepository,
	children *repository.ChildRepository,
	categories *repository.CategoryRepository,
	logger zerolog.Logger,
) *LogService {
	return &LogService{
		logs:       logs,
		children:   children,
		categories: categories,
		log:        logger.With().Str("component", "logs").Logger(),
		now:        time.Now,
	}
}

// List returns the logs visible to a profile, newest first
func (s *LogService) List(ctx context.Context, profileID string, q repository.LogQuery) ([]models.LogWithDetails, error) {
	return s.logs.ListForProfile(ctx, profileID, q)
}

// Categories returns the active log categories
func (s *LogService) Categories(ctx context.Context) ([]models.Category, error) {
	return s.categories.List(ctx, false)
}

// Get returns a log of a child the profile is linked to
func (s *LogService) Get(ctx context.Context, profileID, logID string) (*models.LogWithDetails, error) {
	l, err := s.logs.Get(ctx, logID)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, ErrLogNotFound
	}
	child, err := s.children.GetForProfile(ctx, l.ChildID, profileID)
	if err != nil {
		return nil, err
	}
	if child == nil {
		return nil, ErrLogNotFound
	}
	return l, nil
}

// Create writes a log. The author needs an active relation that is not observer.
func (s *LogService) Create(ctx context.Context, profileID string, in models.LogInput) (*models.Log, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Content = strings.TrimSpace(in.Content)
	if in.LogDate.IsZero() {
		in.LogDate = s.now()
	}
	if in.IntensityLevel == 0 {
		in.IntensityLevel = models.IntensityMedium
	}
	if err := validation.ValidateLogInput(in); err != nil {
		return nil, err
	}

	child, err := s.children.GetForProfile(ctx, in.ChildID, profileID)
	if err != nil {
		return nil, err
	}
	if child == nil {
		return nil, ErrChildNotFound
	}
	if !child.RelationshipType.CanLog() || !child.IsActive {
		return nil, ErrForbidden
	}

	if in.CategoryID != nil {
		cat, err := s.categories.Get(ctx, *in.CategoryID)
		if err != nil {
			return nil, err
		}
		if cat == nil || !cat.IsActive {
			return nil, ErrCategoryNotFound
		}
	}

	l := &models.Log{
		ID:               uuid.NewString(),
		ChildID:          in.ChildID,
		CategoryID:       in.CategoryID,
		LoggedBy:         profileID,
		Title:            in.Title,
		Content:          in.Content,
		MoodScore:        in.MoodScore,
		IntensityLevel:   in.IntensityLevel,
		FollowUpRequired: in.FollowUpRequired,
		FollowUpDate:     in.FollowUpDate,
		LogDate:          in.LogDate,
	}
	if err := s.logs.Create(ctx, l); err != nil {
		return nil, err
	}

	s.log.Info().Str("log_id", l.ID).Str("child_id", l.ChildID).Str("profile_id", profileID).Msg("log created")
	return l, nil
}

// MarkReviewed signs off a log. Any active team member except observers may review.
func (s *LogService) MarkReviewed(ctx context.Context, profileID, logID string) error {
	l, err := s.Get(ctx, profileID, logID)
	if err != nil {
		return err
	}
	rel, err := s.children.GetRelation(ctx, l.ChildID, profileID)
	if err != nil {
		return err
	}
	if rel == nil || !rel.IsActive || !rel.RelationshipType.CanLog() {
		return ErrForbidden
	}
	return s.logs.MarkReviewed(ctx, logID, profileID, s.now())
}

// ScheduleFollowUp sets the follow-up date of a log that requires one
func (s *LogService) ScheduleFollowUp(ctx context.Context, profileID, logID string, date time.Time) error {
	l, err := s.Get(ctx, profileID, logID)
	if err != nil {
		return err
	}
	if !l.FollowUpRequired {
		return validation.ValidationError{Field: "follow_up_date", Message: "log does not require a follow-up"}
	}
	if date.Before(l.LogDate) {
		return validation.ValidationError{Field: "follow_up_date", Message: "follow-up date cannot be before the log date"}
	}
	return s.logs.ScheduleFollowUp(ctx, logID, date)
}

// Delete removes a log. Allowed for its author or anyone who can edit the child.
func (s *LogService) Delete(ctx context.Context, profileID, logID string) error {
	l, err := s.Get(ctx, profileID, logID)
	if err != nil {
		return err
	}
	if l.LoggedBy != profileID {
		rel, err := s.children.GetRelation(ctx, l.ChildID, profileID)
		if err != nil {
			return err
		}
		if rel == nil || !rel.CanEdit {
			return ErrForbidden
		}
	}
	if err := s.logs.Delete(ctx, logID); err != nil {
		return err
	}
	s.log.Info().Str("log_id", logID).Str("profile_id", profileID).Msg("log deleted")
	return nil
}
