package insights

import (
	"time"

	"carelog/internal/models"
)

// ChildLogStats are the quick counters on a child's detail page.
type ChildLogStats struct {
	TotalLogs         int        `json:"total_logs"`
	LogsThisWeek      int        `json:"logs_this_week"`
	LogsThisMonth     int        `json:"logs_this_month"`
	LastLogDate       *time.Time `json:"last_log_date"`
	PendingReviews    int        `json:"pending_reviews"`
	FollowUpsRequired int        `json:"follow_ups_required"`
}

// ComputeChildLogStats counts over a child's logs. Week and month windows are
// exclusive: a log created exactly seven days before now is not this week.
func ComputeChildLogStats(logs []models.LogWithDetails, now time.Time) ChildLogStats {
	weekAgo := now.AddDate(0, 0, -7)
	monthAgo := now.AddDate(0, -1, 0)

	stats := ChildLogStats{TotalLogs: len(logs)}
	for i := range logs {
		l := &logs[i]
		if l.CreatedAt.After(weekAgo) {
			stats.LogsThisWeek++
		}
		if l.CreatedAt.After(monthAgo) {
			stats.LogsThisMonth++
		}
		if stats.LastLogDate == nil || l.CreatedAt.After(*stats.LastLogDate) {
			created := l.CreatedAt
			stats.LastLogDate = &created
		}
		if !l.IsReviewed() {
			stats.PendingReviews++
		}
		if followUpPending(&l.Log) {
			stats.FollowUpsRequired++
		}
	}
	return stats
}

func followUpPending(l *models.Log) bool {
	return l.FollowUpRequired && l.FollowUpDate == nil
}

// LogStatus is the badge shown next to a log.
type LogStatus uint8

const (
	StatusUnreviewed LogStatus = iota
	StatusReviewed
	StatusFollowUpPending
)

var statusLabels = [...]string{
	StatusUnreviewed:      "Unreviewed",
	StatusReviewed:        "Reviewed",
	StatusFollowUpPending: "Follow-up pending",
}

func (s LogStatus) Label() string {
	return statusLabels[s]
}

// Urgent reports whether the status needs attention.
func (s LogStatus) Urgent() bool {
	return s == StatusFollowUpPending
}

// StatusOf classifies a log. A pending follow-up wins over review state.
func StatusOf(l *models.LogWithDetails) LogStatus {
	switch {
	case followUpPending(&l.Log):
		return StatusFollowUpPending
	case l.ReviewerName != "" || l.IsReviewed():
		return StatusReviewed
	default:
		return StatusUnreviewed
	}
}

// All selects every child or category.
const All = "all"

// LogFilters narrows the reports view.
type LogFilters struct {
	From       *time.Time
	To         *time.Time
	ChildID    string
	CategoryID *int64
}

// DefaultLogFilters covers the last month for every child and category.
func DefaultLogFilters(now time.Time) LogFilters {
	from := now.AddDate(0, -1, 0)
	to := now
	return LogFilters{From: &from, To: &to, ChildID: All}
}

// ResetLogFilters widens the range to the last three months and selects every
// child. The category selection is kept.
func ResetLogFilters(f LogFilters, now time.Time) LogFilters {
	from := now.AddDate(0, -3, 0)
	to := now
	return LogFilters{From: &from, To: &to, ChildID: All, CategoryID: f.CategoryID}
}

// FilterLogs applies the filters. The date range is inclusive and only
// applies when both ends are set.
func FilterLogs(logs []models.LogWithDetails, f LogFilters) []models.LogWithDetails {
	out := make([]models.LogWithDetails, 0, len(logs))
	for _, l := range logs {
		if f.From != nil && f.To != nil && (l.LogDate.Before(*f.From) || l.LogDate.After(*f.To)) {
			continue
		}
		if f.ChildID != "" && f.ChildID != All && l.ChildID != f.ChildID {
			continue
		}
		if f.CategoryID != nil && (l.CategoryID == nil || *l.CategoryID != *f.CategoryID) {
			continue
		}
		out = append(out, l)
	}
	return out
}
