package models

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// IntensityLevel grades how strong an observed behavior was.
type IntensityLevel uint8

const (
	IntensityLow IntensityLevel = iota + 1
	IntensityMedium
	IntensityHigh
	numIntensityLevels
)

var intensityNames = [numIntensityLevels]string{
	IntensityLow:    "low",
	IntensityMedium: "medium",
	IntensityHigh:   "high",
}

// ParseIntensityLevel converts a stored intensity name. Unknown names are an error.
func ParseIntensityLevel(s string) (IntensityLevel, error) {
	for l := IntensityLow; l < numIntensityLevels; l++ {
		if intensityNames[l] == s {
			return l, nil
		}
	}
	return 0, fmt.Errorf("unknown intensity level %q", s)
}

// AllIntensityLevels lists the levels from lowest to highest.
func AllIntensityLevels() []IntensityLevel {
	return []IntensityLevel{IntensityLow, IntensityMedium, IntensityHigh}
}

func (l IntensityLevel) Valid() bool {
	return l >= IntensityLow && l < numIntensityLevels
}

func (l IntensityLevel) String() string {
	if !l.Valid() {
		return ""
	}
	return intensityNames[l]
}

func (l IntensityLevel) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("invalid intensity level %d", l)
	}
	return []byte(l.String()), nil
}

func (l *IntensityLevel) UnmarshalText(text []byte) error {
	parsed, err := ParseIntensityLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

func (l IntensityLevel) Value() (driver.Value, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("invalid intensity level %d", l)
	}
	return l.String(), nil
}

func (l *IntensityLevel) Scan(src any) error {
	return scanEnum(src, l.UnmarshalText)
}

// Category groups logs by developmental area.
type Category struct {
	ID          int64
	Name        string
	Description string
	Color       string
	IsActive    bool
}

// Log is a dated observation about a child.
type Log struct {
	ID               string
	ChildID          string
	CategoryID       *int64
	LoggedBy         string
	Title            string
	Content          string
	MoodScore        *int
	IntensityLevel   IntensityLevel
	FollowUpRequired bool
	FollowUpDate     *time.Time
	ReviewedBy       *string
	ReviewedAt       *time.Time
	LogDate          time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsReviewed reports whether someone signed off on the log.
func (l *Log) IsReviewed() bool {
	return l.ReviewedBy != nil && *l.ReviewedBy != ""
}

// LogWithDetails is a log joined with display names.
type LogWithDetails struct {
	Log
	ChildName     string
	CategoryName  string
	CategoryColor string
	LoggedByName  string
	ReviewerName  string
}

// LogInput carries the user-editable log fields.
type LogInput struct {
	ChildID          string
	CategoryID       *int64
	Title            string
	Content          string
	MoodScore        *int
	IntensityLevel   IntensityLevel
	FollowUpRequired bool
	FollowUpDate     *time.Time
	LogDate          time.Time
}
