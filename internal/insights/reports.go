package insights

import (
	"sort"
	"time"

	"carelog/internal/models"
)

// ReportStats are the headline metrics of the reports page.
type ReportStats struct {
	TotalLogs         int     `json:"total_logs"`
	AvgMoodScore      float64 `json:"avg_mood_score"`
	ImprovementTrend  float64 `json:"improvement_trend"`
	ActiveCategories  int     `json:"active_categories"`
	FollowUpsRequired int     `json:"follow_ups_required"`
	ActiveDays        int     `json:"active_days"`
}

// ComputeReportStats summarizes the filtered logs. FollowUpsRequired counts
// every flagged log, scheduled or not.
func ComputeReportStats(logs []models.LogWithDetails) ReportStats {
	categories := make(map[string]struct{})
	days := make(map[string]struct{})
	stats := ReportStats{
		TotalLogs:        len(logs),
		AvgMoodScore:     meanMood(logs),
		ImprovementTrend: ImprovementTrend(logs),
	}
	for _, l := range logs {
		if l.CategoryName != "" {
			categories[l.CategoryName] = struct{}{}
		}
		if l.FollowUpRequired {
			stats.FollowUpsRequired++
		}
		days[l.LogDate.Format(time.DateOnly)] = struct{}{}
	}
	stats.ActiveCategories = len(categories)
	stats.ActiveDays = len(days)
	return stats
}

// ImprovementTrend compares mean mood of the later half of the logs, by
// creation time, against the earlier half. Fewer than two logs give 0, and a
// half with no mood scores counts as 0.
func ImprovementTrend(logs []models.LogWithDetails) float64 {
	if len(logs) < 2 {
		return 0
	}
	sorted := make([]models.LogWithDetails, len(logs))
	copy(sorted, logs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})
	mid := len(sorted) / 2
	return meanMood(sorted[mid:]) - meanMood(sorted[:mid])
}

func meanMood(logs []models.LogWithDetails) float64 {
	sum, n := 0, 0
	for _, l := range logs {
		if l.MoodScore != nil {
			sum += *l.MoodScore
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return float64(sum) / float64(n)
}

// Trend classifies an improvement trend.
type Trend uint8

const (
	TrendStable Trend = iota
	TrendImproving
	TrendDeclining
)

var trendInfo = [...]struct{ label, color string }{
	TrendStable:    {"Stable", "gray"},
	TrendImproving: {"Improving", "green"},
	TrendDeclining: {"Declining", "red"},
}

func (t Trend) Label() string { return trendInfo[t].label }
func (t Trend) Color() string { return trendInfo[t].color }

// TrendLabel maps the sign of a trend to its classification.
func TrendLabel(trend float64) Trend {
	switch {
	case trend > 0:
		return TrendImproving
	case trend < 0:
		return TrendDeclining
	default:
		return TrendStable
	}
}

// MoodTone is the color of an average mood score: green from 4, orange from 3, red below.
func MoodTone(avg float64) string {
	switch {
	case avg >= 4:
		return "green"
	case avg >= 3:
		return "orange"
	default:
		return "red"
	}
}

// MoodPoint is one day of the mood trend series.
type MoodPoint struct {
	Date    time.Time `json:"date"`
	Average float64   `json:"average"`
	Count   int       `json:"count"`
}

// MoodTrend averages mood scores per log day, oldest first. Logs without a score are skipped.
func MoodTrend(logs []models.LogWithDetails) []MoodPoint {
	type acc struct{ sum, n int }
	byDay := make(map[time.Time]*acc)
	for _, l := range logs {
		if l.MoodScore == nil {
			continue
		}
		day := time.Date(l.LogDate.Year(), l.LogDate.Month(), l.LogDate.Day(), 0, 0, 0, 0, l.LogDate.Location())
		a, ok := byDay[day]
		if !ok {
			a = &acc{}
			byDay[day] = a
		}
		a.sum += *l.MoodScore
		a.n++
	}

	points := make([]MoodPoint, 0, len(byDay))
	for day, a := range byDay {
		points = append(points, MoodPoint{Date: day, Average: float64(a.sum) / float64(a.n), Count: a.n})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })
	return points
}

// UncategorizedName labels logs without a category.
const UncategorizedName = "Uncategorized"

// CategoryCount is one slice of the category distribution.
type CategoryCount struct {
	Name  string `json:"name"`
	Color string `json:"color"`
	Count int    `json:"count"`
}

// CategoryDistribution counts logs per category, largest first.
func CategoryDistribution(logs []models.LogWithDetails) []CategoryCount {
	index := make(map[string]int)
	var out []CategoryCount
	for _, l := range logs {
		name := l.CategoryName
		if name == "" {
			name = UncategorizedName
		}
		i, ok := index[name]
		if !ok {
			i = len(out)
			index[name] = i
			out = append(out, CategoryCount{Name: name, Color: l.CategoryColor})
		}
		out[i].Count++
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// TimePattern counts logs by weekday (Sunday first) and hour of the log date.
type TimePattern struct {
	ByWeekday [7]int  `json:"by_weekday"`
	ByHour    [24]int `json:"by_hour"`
}

// TimePatterns buckets logs by when they were observed.
func TimePatterns(logs []models.LogWithDetails) TimePattern {
	var p TimePattern
	for _, l := range logs {
		p.ByWeekday[l.LogDate.Weekday()]++
		p.ByHour[l.LogDate.Hour()]++
	}
	return p
}
