package service

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"carelog/internal/insights"
	"carelog/internal/models"
	"carelog/internal/repository"
)

// ExportFormat selects the report download encoding.
type ExportFormat string

const (
	FormatCSV  ExportFormat = "csv"
	FormatJSON ExportFormat = "json"
)

var ErrUnsupportedFormat = errors.New("unsupported export format")

// ParseExportFormat accepts csv or json
func ParseExportFormat(s string) (ExportFormat, error) {
	switch ExportFormat(s) {
	case FormatCSV, FormatJSON:
		return ExportFormat(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// ContentType returns the MIME type of the format
func (f ExportFormat) ContentType() string {
	if f == FormatJSON {
		return "application/json"
	}
	return "text/csv; charset=utf-8"
}

// Report is everything the reports page renders.
type Report struct {
	Filters      insights.LogFilters
	Logs         []models.LogWithDetails
	Stats        insights.ReportStats
	Trend        insights.Trend
	MoodTone     string
	MoodTrend    []insights.MoodPoint
	Distribution []insights.CategoryCount
	TimePatterns insights.TimePattern
	Children     []models.ChildWithRelation
	Categories   []models.Category
}

// ReportService builds progress reports over a profile's logs
type ReportService struct {
	logs       *repository.LogRepository
	children   *repository.ChildRepository
	categories *repository.CategoryRepository
	log        zerolog.Logger
}

// NewReportService creates a new report service
func NewReportService(
	logs *repository.LogRepository,
	children *repository.ChildRepository,
	categories *repository.CategoryRepository,
	logger zerolog.Logger,
) *ReportService {
	return &ReportService{
		logs:       logs,
		children:   children,
		categories: categories,
		log:        logger.With().Str("component", "reports").Logger(),
	}
}

// Build loads the profile's logs once and derives the filtered view and its statistics.
func (s *ReportService) Build(ctx context.Context, profileID string, filters insights.LogFilters) (*Report, error) {
	all, err := s.logs.ListForProfile(ctx, profileID, repository.LogQuery{})
	if err != nil {
		return nil, err
	}
	children, err := s.children.ListForProfile(ctx, profileID)
	if err != nil {
		return nil, err
	}
	categories, err := s.categories.List(ctx, false)
	if err != nil {
		return nil, err
	}

	filtered := insights.FilterLogs(all, filters)
	stats := insights.ComputeReportStats(filtered)
	return &Report{
		Filters:      filters,
		Logs:         filtered,
		Stats:        stats,
		Trend:        insights.TrendLabel(stats.ImprovementTrend),
		MoodTone:     insights.MoodTone(stats.AvgMoodScore),
		MoodTrend:    insights.MoodTrend(filtered),
		Distribution: insights.CategoryDistribution(filtered),
		TimePatterns: insights.TimePatterns(filtered),
		Children:     children,
		Categories:   categories,
	}, nil
}

// exportRecord is one log in a JSON export
type exportRecord struct {
	ID               string     `json:"id"`
	Child            string     `json:"child"`
	Category         string     `json:"category,omitempty"`
	Title            string     `json:"title"`
	Content          string     `json:"content"`
	MoodScore        *int       `json:"mood_score,omitempty"`
	Intensity        string     `json:"intensity_level"`
	FollowUpRequired bool       `json:"follow_up_required"`
	FollowUpDate     *time.Time `json:"follow_up_date,omitempty"`
	LoggedBy         string     `json:"logged_by"`
	ReviewedBy       string     `json:"reviewed_by,omitempty"`
	Status           string     `json:"status"`
	LogDate          time.Time  `json:"log_date"`
}

type exportDocument struct {
	GeneratedAt time.Time            `json:"generated_at"`
	Stats       insights.ReportStats `json:"stats"`
	Logs        []exportRecord       `json:"logs"`
}

var csvHeader = []string{
	"log_date", "child", "category", "title", "content", "mood_score", "intensity_level",
	"follow_up_required", "follow_up_date", "logged_by", "reviewed_by", "status",
}

// Export writes the filtered logs of children the profile may export. Logs of
// other children are left out.
func (s *ReportService) Export(ctx context.Context, w io.Writer, profileID string, filters insights.LogFilters, format ExportFormat) (int, error) {
	all, err := s.logs.ListForProfile(ctx, profileID, repository.LogQuery{})
	if err != nil {
		return 0, err
	}
	children, err := s.children.ListForProfile(ctx, profileID)
	if err != nil {
		return 0, err
	}
	exportable := make(map[string]bool, len(children))
	for _, c := range children {
		exportable[c.ID] = c.CanExport
	}

	var logs []models.LogWithDetails
	for _, l := range insights.FilterLogs(all, filters) {
		if exportable[l.ChildID] {
			logs = append(logs, l)
		}
	}

	switch format {
	case FormatCSV:
		err = writeCSV(w, logs)
	case FormatJSON:
		err = writeJSON(w, logs)
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to write export: %w", err)
	}

	s.log.Info().Str("profile_id", profileID).Str("format", string(format)).Int("logs", len(logs)).Msg("report exported")
	return len(logs), nil
}

// csvText quotes free text that a spreadsheet would evaluate as a formula.
func csvText(s string) string {
	if s != "" && strings.ContainsRune("=+-@\t\r", rune(s[0])) {
		return "'" + s
	}
	return s
}

func writeCSV(w io.Writer, logs []models.LogWithDetails) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for i := range logs {
		l := &logs[i]
		mood, followUp := "", ""
		if l.MoodScore != nil {
			mood = strconv.Itoa(*l.MoodScore)
		}
		if l.FollowUpDate != nil {
			followUp = l.FollowUpDate.Format(time.DateOnly)
		}
		record := []string{
			l.LogDate.Format(time.RFC3339), csvText(l.ChildName), csvText(l.CategoryName), csvText(l.Title),
			csvText(l.Content), mood, l.IntensityLevel.String(), strconv.FormatBool(l.FollowUpRequired), followUp,
			csvText(l.LoggedByName), csvText(l.ReviewerName), insights.StatusOf(l).Label(),
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func writeJSON(w io.Writer, logs []models.LogWithDetails) error {
	doc := exportDocument{
		GeneratedAt: time.Now().UTC(),
		Stats:       insights.ComputeReportStats(logs),
		Logs:        make([]exportRecord, 0, len(logs)),
	}
	for i := range logs {
		l := &logs[i]
		doc.Logs = append(doc.Logs, exportRecord{
			ID:               l.ID,
			Child:            l.ChildName,
			Category:         l.CategoryName,
			Title:            l.Title,
			Content:          l.Content,
			MoodScore:        l.MoodScore,
			Intensity:        l.IntensityLevel.String(),
			FollowUpRequired: l.FollowUpRequired,
			FollowUpDate:     l.FollowUpDate,
			LoggedBy:         l.LoggedByName,
			ReviewedBy:       l.ReviewerName,
			Status:           insights.StatusOf(l).Label(),
			LogDate:          l.LogDate,
		})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}
