package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"carelog/internal/insights"
	"carelog/internal/models"
	"carelog/internal/repository"
	"carelog/internal/service"
)

const maxAPILogs = 500

// APIV1Handler serves the read-only JSON API
type APIV1Handler struct {
	authService *service.AuthService
	children    *service.ChildService
	logs        *service.LogService
	reports     *service.ReportService
	log         zerolog.Logger
	now         func() time.Time
}

// NewAPIV1Handler creates a new API handler
func NewAPIV1Handler(
	authService *service.AuthService,
	children *service.ChildService,
	logs *service.LogService,
	reports *service.ReportService,
	logger zerolog.Logger,
) *APIV1Handler {
	return &APIV1Handler{
		authService: authService,
		children:    children,
		logs:        logs,
		reports:     reports,
		log:         logger.With().Str("component", "api").Logger(),
		now:         time.Now,
	}
}

type tokenRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken      string    `json:"access_token"`
	TokenType        string    `json:"token_type"`
	ExpiresAt        time.Time `json:"expires_at"`
	SessionExpiresAt time.Time `json:"session_expires_at"`
}

type profileJSON struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	FullName  string     `json:"full_name"`
	Role      string     `json:"role"`
	LastLogin *time.Time `json:"last_login,omitempty"`
}

type childJSON struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	BirthDate        *time.Time `json:"birth_date,omitempty"`
	Diagnosis        string     `json:"diagnosis,omitempty"`
	Notes            string     `json:"notes,omitempty"`
	IsActive         bool       `json:"is_active"`
	RelationshipType string     `json:"relationship_type"`
	CanEdit          bool       `json:"can_edit"`
	CanExport        bool       `json:"can_export"`
}

type teamMemberJSON struct {
	ProfileID        string `json:"profile_id"`
	FullName         string `json:"full_name"`
	Email            string `json:"email"`
	RelationshipType string `json:"relationship_type"`
	CanEdit          bool   `json:"can_edit"`
	CanExport        bool   `json:"can_export"`
}

type childDetailJSON struct {
	childJSON
	Team  []teamMemberJSON       `json:"team"`
	Stats insights.ChildLogStats `json:"stats"`
}

type logJSON struct {
	ID               string     `json:"id"`
	ChildID          string     `json:"child_id"`
	ChildName        string     `json:"child_name"`
	CategoryID       *int64     `json:"category_id,omitempty"`
	CategoryName     string     `json:"category_name,omitempty"`
	Title            string     `json:"title"`
	Content          string     `json:"content"`
	MoodScore        *int       `json:"mood_score,omitempty"`
	IntensityLevel   string     `json:"intensity_level"`
	FollowUpRequired bool       `json:"follow_up_required"`
	FollowUpDate     *time.Time `json:"follow_up_date,omitempty"`
	LoggedBy         string     `json:"logged_by"`
	ReviewedBy       string     `json:"reviewed_by,omitempty"`
	Status           string     `json:"status"`
	LogDate          time.Time  `json:"log_date"`
}

type reportJSON struct {
	From         *time.Time               `json:"from,omitempty"`
	To           *time.Time               `json:"to,omitempty"`
	Stats        insights.ReportStats     `json:"stats"`
	Trend        string                   `json:"trend"`
	MoodTone     string                   `json:"mood_tone"`
	MoodTrend    []insights.MoodPoint     `json:"mood_trend"`
	Distribution []insights.CategoryCount `json:"distribution"`
	TimePatterns insights.TimePattern     `json:"time_patterns"`
}

func toChildJSON(c models.ChildWithRelation) childJSON {
	return childJSON{
		ID:               c.ID,
		Name:             c.Name,
		BirthDate:        c.BirthDate,
		Diagnosis:        c.Diagnosis,
		Notes:            c.Notes,
		IsActive:         c.IsActive,
		RelationshipType: c.RelationshipType.String(),
		CanEdit:          c.CanEdit,
		CanExport:        c.CanExport,
	}
}

func toLogJSON(l models.LogWithDetails) logJSON {
	return logJSON{
		ID:               l.ID,
		ChildID:          l.ChildID,
		ChildName:        l.ChildName,
		CategoryID:       l.CategoryID,
		CategoryName:     l.CategoryName,
		Title:            l.Title,
		Content:          l.Content,
		MoodScore:        l.MoodScore,
		IntensityLevel:   l.IntensityLevel.String(),
		FollowUpRequired: l.FollowUpRequired,
		FollowUpDate:     l.FollowUpDate,
		LoggedBy:         l.LoggedByName,
		ReviewedBy:       l.ReviewerName,
		Status:           insights.StatusOf(&l).Label(),
		LogDate:          l.LogDate,
	}
}

// Token exchanges email and password for a bearer access token
func (h *APIV1Handler) Token(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		respondWithJSONError(w, h.log, http.StatusBadRequest, "invalid JSON body", nil)
		return
	}

	session, user, err := h.authService.SignIn(r.Context(), strings.TrimSpace(req.Email), req.Password)
	if err != nil {
		status, msg := statusFor(err)
		if status == http.StatusUnauthorized {
			msg = "invalid email or password"
		}
		respondWithJSONError(w, h.log, status, msg, err)
		return
	}

	h.log.Info().Str("user_id", user.ID).Msg("api token issued")
	respondWithJSON(w, h.log, http.StatusOK, tokenResponse{
		AccessToken:      session.AccessToken,
		TokenType:        "Bearer",
		ExpiresAt:        session.AccessExpiresAt,
		SessionExpiresAt: session.ExpiresAt,
	})
}

// Me returns the caller's profile
func (h *APIV1Handler) Me(w http.ResponseWriter, r *http.Request, profile *models.Profile) {
	respondWithJSON(w, h.log, http.StatusOK, profileJSON{
		ID:        profile.ID,
		Email:     profile.Email,
		FullName:  profile.FullName,
		Role:      profile.Role.String(),
		LastLogin: profile.LastLogin,
	})
}

// Children lists the caller's children. ?include_inactive=true adds archived ones.
func (h *APIV1Handler) Children(w http.ResponseWriter, r *http.Request, profile *models.Profile) {
	q := r.URL.Query()
	children, err := h.children.List(r.Context(), profile.ID, service.ListOptions{
		IncludeInactive: q.Get("include_inactive") == "true",
	})
	if err != nil {
		status, msg := statusFor(err)
		respondWithJSONError(w, h.log, status, msg, err)
		return
	}

	filters, _ := parseChildFilters(q)
	filtered := insights.FilterChildren(children, filters, h.now())
	out := make([]childJSON, 0, len(filtered))
	for _, c := range filtered {
		out = append(out, toChildJSON(c))
	}
	respondWithJSON(w, h.log, http.StatusOK, out)
}

// Child returns one child with its team and log counters
func (h *APIV1Handler) Child(w http.ResponseWriter, r *http.Request, profile *models.Profile) {
	ctx := r.Context()
	childID := r.PathValue("id")

	detail, err := h.children.Detail(ctx, profile.ID, childID)
	if err != nil {
		status, msg := statusFor(err)
		respondWithJSONError(w, h.log, status, msg, err)
		return
	}
	logs, err := h.logs.List(ctx, profile.ID, repository.LogQuery{ChildID: childID})
	if err != nil {
		respondWithJSONError(w, h.log, http.StatusInternalServerError, ErrInternalServerError, err)
		return
	}

	out := childDetailJSON{
		childJSON: toChildJSON(detail.Child),
		Team:      make([]teamMemberJSON, 0, len(detail.Team)),
		Stats:     insights.ComputeChildLogStats(logs, h.now()),
	}
	for _, m := range detail.Team {
		out.Team = append(out.Team, teamMemberJSON{
			ProfileID:        m.ProfileID,
			FullName:         m.FullName,
			Email:            m.Email,
			RelationshipType: m.RelationshipType.String(),
			CanEdit:          m.CanEdit,
			CanExport:        m.CanExport,
		})
	}
	respondWithJSON(w, h.log, http.StatusOK, out)
}

// Logs lists logs, newest first. Supports child_id, from, to and limit.
func (h *APIV1Handler) Logs(w http.ResponseWriter, r *http.Request, profile *models.Profile) {
	q := r.URL.Query()
	query := repository.LogQuery{ChildID: q.Get("child_id"), Limit: maxAPILogs}

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			respondWithJSONError(w, h.log, http.StatusBadRequest, "limit must be a positive number", nil)
			return
		}
		query.Limit = min(limit, maxAPILogs)
	}
	for _, p := range []struct {
		name   string
		target **time.Time
	}{{"from", &query.From}, {"to", &query.To}} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(dateLayout, raw)
		if err != nil {
			respondWithJSONError(w, h.log, http.StatusBadRequest, p.name+" must be a YYYY-MM-DD date", nil)
			return
		}
		if p.name == "to" {
			t = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
		}
		*p.target = &t
	}

	logs, err := h.logs.List(r.Context(), profile.ID, query)
	if err != nil {
		status, msg := statusFor(err)
		respondWithJSONError(w, h.log, status, msg, err)
		return
	}
	out := make([]logJSON, 0, len(logs))
	for _, l := range logs {
		out = append(out, toLogJSON(l))
	}
	respondWithJSON(w, h.log, http.StatusOK, out)
}

// Report returns the report statistics for the same filters as the reports page
func (h *APIV1Handler) Report(w http.ResponseWriter, r *http.Request, profile *models.Profile) {
	filters, _ := parseReportFilters(r.URL.Query(), h.now())
	report, err := h.reports.Build(r.Context(), profile.ID, filters)
	if err != nil {
		status, msg := statusFor(err)
		respondWithJSONError(w, h.log, status, msg, err)
		return
	}
	respondWithJSON(w, h.log, http.StatusOK, reportJSON{
		From:         report.Filters.From,
		To:           report.Filters.To,
		Stats:        report.Stats,
		Trend:        report.Trend.Label(),
		MoodTone:     report.MoodTone,
		MoodTrend:    report.MoodTrend,
		Distribution: report.Distribution,
		TimePatterns: report.TimePatterns,
	})
}
