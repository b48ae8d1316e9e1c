// Package insights derives statistics and filtered views from lists already
// loaded from the store. Nothing here touches the database.
package insights

import (
	"strings"
	"time"

	"carelog/internal/models"
)

// ChildrenStats are the counters shown above the children list.
type ChildrenStats struct {
	Total         int `json:"total"`
	Active        int `json:"active"`
	Editable      int `json:"editable"`
	WithDiagnosis int `json:"with_diagnosis"`
}

// ComputeChildrenStats counts over the unfiltered list.
func ComputeChildrenStats(children []models.ChildWithRelation) ChildrenStats {
	stats := ChildrenStats{Total: len(children)}
	for _, c := range children {
		if c.IsActive {
			stats.Active++
		}
		if c.CanEdit {
			stats.Editable++
		}
		if c.Diagnosis != "" {
			stats.WithDiagnosis++
		}
	}
	return stats
}

// ChildFilters narrows the children list. Zero fields do not filter.
type ChildFilters struct {
	Search           string
	IsActive         *bool
	RelationshipType models.RelationshipType
	MaxAge           *int
}

// IsZero reports whether no filter is set.
func (f ChildFilters) IsZero() bool {
	return strings.TrimSpace(f.Search) == "" && f.IsActive == nil && f.RelationshipType == 0 && f.MaxAge == nil
}

// FilterChildren returns the children matching every set filter.
// Search matches name or diagnosis, case-insensitively. MaxAge excludes
// children whose birth date is unknown.
func FilterChildren(children []models.ChildWithRelation, f ChildFilters, now time.Time) []models.ChildWithRelation {
	if f.IsZero() {
		return children
	}
	search := strings.ToLower(strings.TrimSpace(f.Search))

	out := make([]models.ChildWithRelation, 0, len(children))
	for _, c := range children {
		if search != "" &&
			!strings.Contains(strings.ToLower(c.Name), search) &&
			!strings.Contains(strings.ToLower(c.Diagnosis), search) {
			continue
		}
		if f.IsActive != nil && c.IsActive != *f.IsActive {
			continue
		}
		if f.RelationshipType != 0 && c.RelationshipType != f.RelationshipType {
			continue
		}
		if f.MaxAge != nil {
			if c.BirthDate == nil || Age(*c.BirthDate, now) > *f.MaxAge {
				continue
			}
		}
		out = append(out, c)
	}
	return out
}

// Age returns completed years between birth and now.
func Age(birth, now time.Time) int {
	years := now.Year() - birth.Year()
	if now.Month() < birth.Month() || (now.Month() == birth.Month() && now.Day() < birth.Day()) {
		years--
	}
	if years < 0 {
		return 0
	}
	return years
}
