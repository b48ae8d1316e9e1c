package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"carelog/internal/auth"
	"carelog/internal/models"
	"carelog/internal/validation"
)

// parseLogInput reads the new log form of a child page.
func parseLogInput(r *http.Request, childID string) (models.LogInput, error) {
	in := models.LogInput{
		ChildID:          childID,
		Title:            r.FormValue("title"),
		Content:          r.FormValue("content"),
		FollowUpRequired: r.FormValue("follow_up_required") == "on",
	}

	if raw := strings.TrimSpace(r.FormValue("category_id")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return in, validation.ValidationError{Field: "category_id", Message: "please choose a category"}
		}
		in.CategoryID = &id
	}
	if raw := strings.TrimSpace(r.FormValue("mood_score")); raw != "" {
		score, err := strconv.Atoi(raw)
		if err != nil {
			return in, validation.ValidationError{Field: "mood_score", Message: "mood must be between 1 and 5"}
		}
		in.MoodScore = &score
	}
	if raw := r.FormValue("intensity_level"); raw != "" {
		level, err := models.ParseIntensityLevel(raw)
		if err != nil {
			return in, validation.ValidationError{Field: "intensity_level", Message: "please choose an intensity"}
		}
		in.IntensityLevel = level
	}
	if raw := strings.TrimSpace(r.FormValue("log_date")); raw != "" {
		date, err := time.Parse(dateLayout, raw)
		if err != nil {
			return in, validation.ValidationError{Field: "log_date", Message: "log date must be a valid date"}
		}
		in.LogDate = date
	}
	if raw := strings.TrimSpace(r.FormValue("follow_up_date")); raw != "" && in.FollowUpRequired {
		date, err := time.Parse(dateLayout, raw)
		if err != nil {
			return in, validation.ValidationError{Field: "follow_up_date", Message: "follow-up date must be a valid date"}
		}
		in.FollowUpDate = &date
	}
	return in, nil
}

// CreateLog adds a log to a child
func (h *DashboardHandler) CreateLog(w http.ResponseWriter, r *http.Request, p *auth.Provider) {
	if err := r.ParseForm(); err != nil {
		respondWithError(w, h.log, http.StatusBadRequest, ErrInvalidFormData, "", err)
		return
	}
	childID := r.PathValue("id")
	in, err := parseLogInput(r, childID)
	if err == nil {
		_, err = h.logs.Create(r.Context(), profileID(p), in)
	}
	if err != nil {
		h.actionError(w, r, p, childID, "failed to create log", err)
		return
	}
	redirectWithFlash(w, r, "/dashboard/children/"+childID, "log_created")
}

// logRedirect returns to the child page the action came from, or to the dashboard.
func logRedirect(r *http.Request) string {
	if childID := r.FormValue("child_id"); childID != "" {
		return "/dashboard/children/" + childID
	}
	return "/dashboard"
}

// ReviewLog marks a log as reviewed
func (h *DashboardHandler) ReviewLog(w http.ResponseWriter, r *http.Request, p *auth.Provider) {
	if err := h.logs.MarkReviewed(r.Context(), profileID(p), r.PathValue("id")); err != nil {
		h.actionError(w, r, p, r.FormValue("child_id"), "failed to review log", err)
		return
	}
	redirectWithFlash(w, r, logRedirect(r), "log_reviewed")
}

// FollowUp schedules the follow-up date of a log
func (h *DashboardHandler) FollowUp(w http.ResponseWriter, r *http.Request, p *auth.Provider) {
	childID := r.FormValue("child_id")
	date, err := time.Parse(dateLayout, strings.TrimSpace(r.FormValue("follow_up_date")))
	if err != nil {
		h.actionError(w, r, p, childID, "", validation.ValidationError{Field: "follow_up_date", Message: "follow-up date must be a valid date"})
		return
	}
	if err := h.logs.ScheduleFollowUp(r.Context(), profileID(p), r.PathValue("id"), date); err != nil {
		h.actionError(w, r, p, childID, "failed to schedule follow-up", err)
		return
	}
	redirectWithFlash(w, r, logRedirect(r), "follow_up")
}

// DeleteLog removes a log
func (h *DashboardHandler) DeleteLog(w http.ResponseWriter, r *http.Request, p *auth.Provider) {
	if err := h.logs.Delete(r.Context(), profileID(p), r.PathValue("id")); err != nil {
		h.actionError(w, r, p, r.FormValue("child_id"), "failed to delete log", err)
		return
	}
	redirectWithFlash(w, r, logRedirect(r), "log_deleted")
}
