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
	ErrChildNotFound   = errors.New("child not found")
	ErrForbidden       = errors.New("not allowed")
	ErrProfileNotFound = errors.New("profile not found")
	ErrAlreadyMember   = errors.New("profile is already on this child's team")
)

// ListOptions controls which children List returns.
type ListOptions struct {
	IncludeInactive bool
}

// MemberInput adds a profile to a child's team.
type MemberInput struct {
	Email            string
	RelationshipType models.RelationshipType
	CanEdit          bool
	CanExport        bool
}

// ChildDetail is a child with its team, as shown on the detail page.
type ChildDetail struct {
	Child models.ChildWithRelation
	Team  []models.TeamMember
}

// TeamSize is the number of active relations on the child.
func (d *ChildDetail) TeamSize() int {
	return len(d.Team)
}

// ChildService handles child records and their care teams
type ChildService struct {
	children *repository.ChildRepository
	profiles *repository.ProfileRepository
	log      zerolog.Logger
	now      func() time.Time
}

// NewChildService creates a new child service
func NewChildService(children *repository.ChildRepository, profiles *repository.ProfileRepository, logger zerolog.Logger) *ChildService {
	return &ChildService{
		children: children,
		profiles: profiles,
		log:      logger.With().Str("component", "children").Logger(),
		now:      time.Now,
	}
}

// List returns the children the profile is linked to
func (s *ChildService) List(ctx context.Context, profileID string, opts ListOptions) ([]models.ChildWithRelation, error) {
	children, err := s.children.ListForProfile(ctx, profileID)
	if err != nil {
		return nil, err
	}
	if opts.IncludeInactive {
		return children, nil
	}
	active := children[:0]
	for _, c := range children {
		if c.IsActive {
			active = append(active, c)
		}
	}
	return active, nil
}

// Get returns a child the profile has an active relation with
func (s *ChildService) Get(ctx context.Context, profileID, childID string) (*models.ChildWithRelation, error) {
	child, err := s.children.GetForProfile(ctx, childID, profileID)
	if err != nil {
		return nil, err
	}
	if child == nil {
		return nil, ErrChildNotFound
	}
	return child, nil
}

// Detail returns a child with its active team
func (s *ChildService) Detail(ctx context.Context, profileID, childID string) (*ChildDetail, error) {
	child, err := s.Get(ctx, profileID, childID)
	if err != nil {
		return nil, err
	}
	team, err := s.children.Team(ctx, childID)
	if err != nil {
		return nil, err
	}
	return &ChildDetail{Child: *child, Team: team}, nil
}

// Create adds a child. The creator is linked as parent with edit and export rights.
func (s *ChildService) Create(ctx context.Context, profileID string, in models.ChildInput) (*models.Child, error) {
	in = trimChildInput(in)
	if err := validation.ValidateChildInput(in, s.now()); err != nil {
		return nil, err
	}

	child := &models.Child{
		ID:        uuid.NewString(),
		Name:      in.Name,
		BirthDate: in.BirthDate,
		Diagnosis: in.Diagnosis,
		Notes:     in.Notes,
		IsActive:  true,
		CreatedBy: profileID,
	}
	owner := models.ChildRelation{
		ProfileID:        profileID,
		RelationshipType: models.RelationshipParent,
		CanEdit:          true,
		CanExport:        true,
		IsActive:         true,
		GrantedBy:        profileID,
	}
	if err := s.children.CreateWithOwner(ctx, child, owner); err != nil {
		return nil, err
	}

	s.log.Info().Str("child_id", child.ID).Str("profile_id", profileID).Msg("child created")
	return child, nil
}

// Update changes a child's details. Requires can_edit.
func (s *ChildService) Update(ctx context.Context, profileID, childID string, in models.ChildInput) error {
	if _, err := s.editable(ctx, profileID, childID); err != nil {
		return err
	}
	in = trimChildInput(in)
	if err := validation.ValidateChildInput(in, s.now()); err != nil {
		return err
	}
	return s.children.Update(ctx, childID, in)
}

// Archive marks a child inactive, or restores it. Requires can_edit.
func (s *ChildService) Archive(ctx context.Context, profileID, childID string, archived bool) error {
	if _, err := s.editable(ctx, profileID, childID); err != nil {
		return err
	}
	if err := s.children.SetActive(ctx, childID, !archived); err != nil {
		return err
	}
	s.log.Info().Str("child_id", childID).Bool("archived", archived).Msg("child status changed")
	return nil
}

// Team returns the active members of a child's team
func (s *ChildService) Team(ctx context.Context, profileID, childID string) ([]models.TeamMember, error) {
	if _, err := s.Get(ctx, profileID, childID); err != nil {
		return nil, err
	}
	return s.children.Team(ctx, childID)
}

// AddMember links another profile, found by email, to a child. Requires can_edit.
// A previously removed member is reactivated.
func (s *ChildService) AddMember(ctx context.Context, profileID, childID string, in MemberInput) error {
	if _, err := s.editable(ctx, profileID, childID); err != nil {
		return err
	}
	if !in.RelationshipType.Valid() {
		return validation.ValidationError{Field: "relationship_type", Message: "relationship is required"}
	}

	member, err := s.profiles.GetProfileByEmail(ctx, strings.ToLower(strings.TrimSpace(in.Email)))
	if err != nil {
		return err
	}
	if member == nil {
		return ErrProfileNotFound
	}

	existing, err := s.children.GetRelation(ctx, childID, member.ID)
	if err != nil {
		return err
	}
	rel := &models.ChildRelation{
		ChildID:          childID,
		ProfileID:        member.ID,
		RelationshipType: in.RelationshipType,
		CanEdit:          in.CanEdit,
		CanExport:        in.CanExport,
		IsActive:         true,
		GrantedBy:        profileID,
	}
	if existing != nil {
		if existing.IsActive {
			return ErrAlreadyMember
		}
		// The previous grants are dropped; the member gets exactly what was asked for now.
		return s.children.ReactivateRelation(ctx, rel)
	}

	err = s.children.AddRelation(ctx, rel)
	if errors.Is(err, repository.ErrDuplicate) {
		return ErrAlreadyMember
	}
	if err != nil {
		return err
	}
	s.log.Info().Str("child_id", childID).Str("member_id", member.ID).Str("relationship", in.RelationshipType.String()).Msg("team member added")
	return nil
}

// RemoveMember deactivates a member's relation. Requires can_edit; members cannot remove themselves.
func (s *ChildService) RemoveMember(ctx context.Context, profileID, childID, memberID string) error {
	if profileID == memberID {
		return ErrForbidden
	}
	if _, err := s.editable(ctx, profileID, childID); err != nil {
		return err
	}
	return s.children.SetRelationActive(ctx, childID, memberID, false)
}

func (s *ChildService) editable(ctx context.Context, profileID, childID string) (*models.ChildWithRelation, error) {
	child, err := s.Get(ctx, profileID, childID)
	if err != nil {
		return nil, err
	}
	if !child.CanEdit {
		return nil, ErrForbidden
	}
	return child, nil
}

func trimChildInput(in models.ChildInput) models.ChildInput {
	in.Name = strings.TrimSpace(in.Name)
	in.Diagnosis = strings.TrimSpace(in.Diagnosis)
	in.Notes = strings.TrimSpace(in.Notes)
	return in
}
