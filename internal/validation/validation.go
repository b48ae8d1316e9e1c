package validation

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"carelog/internal/models"
)

var emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)

const (
	MinMoodScore   = 1
	MaxMoodScore   = 5
	maxNameLength  = 120
	maxTitleLength = 200
)

// ValidationError represents a validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateEmail checks if an email address is valid
func ValidateEmail(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return ValidationError{Field: "email", Message: "email is required"}
	}
	if !emailRegex.MatchString(email) {
		return ValidationError{Field: "email", Message: "invalid email format"}
	}
	return nil
}

// ValidatePassword checks if a password meets requirements
func ValidatePassword(password string) error {
	if password == "" {
		return ValidationError{Field: "password", Message: "password is required"}
	}
	if len(password) < 8 {
		return ValidationError{Field: "password", Message: "password must be at least 8 characters"}
	}
	return nil
}

// ValidateName checks if a name is valid
func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return ValidationError{Field: "name", Message: "name is required"}
	}
	if utf8.RuneCountInString(name) < 2 {
		return ValidationError{Field: "name", Message: "name must be at least 2 characters"}
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return ValidationError{Field: "name", Message: "name is too long"}
	}
	return nil
}

// ValidateMoodScore accepts nil (no mood recorded) or a score on the 1-5 scale.
func ValidateMoodScore(score *int) error {
	if score == nil {
		return nil
	}
	if *score < MinMoodScore || *score > MaxMoodScore {
		return ValidationError{Field: "mood_score", Message: "mood must be between 1 and 5"}
	}
	return nil
}

// ValidateChildInput checks the fields of a child record.
func ValidateChildInput(in models.ChildInput, now time.Time) error {
	if err := ValidateName(in.Name); err != nil {
		return err
	}
	if in.BirthDate != nil && in.BirthDate.After(now) {
		return ValidationError{Field: "birth_date", Message: "birth date cannot be in the future"}
	}
	return nil
}

// ValidateLogInput checks the fields of a log entry.
func ValidateLogInput(in models.LogInput) error {
	if strings.TrimSpace(in.ChildID) == "" {
		return ValidationError{Field: "child_id", Message: "child is required"}
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return ValidationError{Field: "title", Message: "title is required"}
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return ValidationError{Field: "title", Message: "title is too long"}
	}
	if err := ValidateMoodScore(in.MoodScore); err != nil {
		return err
	}
	if !in.IntensityLevel.Valid() {
		return ValidationError{Field: "intensity_level", Message: "intensity level is required"}
	}
	if in.LogDate.IsZero() {
		return ValidationError{Field: "log_date", Message: "log date is required"}
	}
	if in.FollowUpDate != nil && in.FollowUpDate.Before(in.LogDate) {
		return ValidationError{Field: "follow_up_date", Message: "follow-up date cannot be before the log date"}
	}
	return nil
}
