package handlers

import (
	"errors"
	"html/template"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"carelog/internal/auth"
	"carelog/internal/insights"
	"carelog/internal/models"
	"carelog/internal/repository"
	"carelog/internal/service"
	"carelog/internal/validation"
)

const recentLogCount = 5

var flashMessages = map[string]string{
	"child_created":   "Child added.",
	"child_updated":   "Changes saved.",
	"child_archived":  "Child archived.",
	"child_restored":  "Child restored.",
	"member_added":    "Team member added.",
	"member_removed":  "Team member removed.",
	"log_created":     "Log saved.",
	"log_reviewed":    "Log marked as reviewed.",
	"follow_up":       "Follow-up scheduled.",
	"log_deleted":     "Log deleted.",
	"profile_updated": "Profile updated.",
	"role_updated":    "Role updated.",
	"registration":    "Registration setting saved.",
}

// DashboardHandler serves the signed-in dashboard: overview, children, logs, reports and profile.
type DashboardHandler struct {
	renderer
	children   *service.ChildService
	logs       *service.LogService
	reports    *service.ReportService
	middleware *Middleware
	now        func() time.Time
}

// NewDashboardHandler creates a new dashboard handler
func NewDashboardHandler(
	children *service.ChildService,
	logs *service.LogService,
	reports *service.ReportService,
	middleware *Middleware,
	templates *template.Template,
	logger zerolog.Logger,
) *DashboardHandler {
	return &DashboardHandler{
		renderer:   renderer{templates: templates, log: logger.With().Str("component", "dashboard").Logger()},
		children:   children,
		logs:       logs,
		reports:    reports,
		middleware: middleware,
		now:        time.Now,
	}
}

func pageData(r *http.Request, mw *Middleware, p *auth.Provider, title string) PageData {
	s := p.State()
	return PageData{
		Title:     title + " - CareLog",
		User:      s.User,
		IsAdmin:   s.IsAdmin,
		CSRFToken: mw.CSRFToken(r),
		Flash:     flashMessages[r.URL.Query().Get("flash")],
	}
}

func profileID(p *auth.Provider) string {
	if u := p.State().User; u != nil {
		return u.ID
	}
	return ""
}

func redirectWithFlash(w http.ResponseWriter, r *http.Request, path, flash string) {
	http.Redirect(w, r, path+"?"+url.Values{"flash": {flash}}.Encode(), http.StatusSeeOther)
}

// Dashboard renders the overview
func (h *DashboardHandler) Dashboard(w http.ResponseWriter, r *http.Request, p *auth.Provider) {
	ctx := r.Context()
	id := profileID(p)

	children, err := h.children.List(ctx, id, service.ListOptions{})
	if err != nil {
		respondWithServiceError(w, h.log, "failed to list children", err)
		return
	}
	logs, err := h.logs.List(ctx, id, repository.LogQuery{})
	if err != nil {
		respondWithServiceError(w, h.log, "failed to list logs", err)
		return
	}

	recent := logs
	if len(recent) > recentLogCount {
		recent = recent[:recentLogCount]
	}
	h.render(w, "dashboard.tmpl", DashboardViewData{
		PageData:   pageData(r, h.middleware, p, "Dashboard"),
		Stats:      insights.ComputeChildrenStats(children),
		LogStats:   insights.ComputeChildLogStats(logs, h.now()),
		RecentLogs: recent,
		Children:   children,
	})
}

// parseChildFilters reads the children list filters. Unknown values do not filter.
func parseChildFilters(q url.Values) (insights.ChildFilters, ChildFilterForm) {
	form := ChildFilterForm{
		Search:           strings.TrimSpace(q.Get("search")),
		Status:           q.Get("status"),
		RelationshipType: q.Get("relationship"),
		MaxAge:           strings.TrimSpace(q.Get("max_age")),
	}
	f := insights.ChildFilters{Search: form.Search}

	switch form.Status {
	case "active":
		active := true
		f.IsActive = &active
	case "inactive":
		active := false
		f.IsActive = &active
	default:
		form.Status = ""
	}
	if rel, err := models.ParseRelationshipType(form.RelationshipType); err == nil {
		f.RelationshipType = rel
	} else {
		form.RelationshipType = ""
	}
	if age, err := strconv.Atoi(form.MaxAge); err == nil && age >= 0 {
		f.MaxAge = &age
	} else {
		form.MaxAge = ""
	}
	return f, form
}

// Children renders the children list with its filters and counters
func (h *DashboardHandler) Children(w http.ResponseWriter, r *http.Request, p *auth.Provider) {
	all, err := h.children.List(r.Context(), profileID(p), service.ListOptions{IncludeInactive: true})
	if err != nil {
		respondWithServiceError(w, h.log, "failed to list children", err)
		return
	}

	filters, form := parseChildFilters(r.URL.Query())
	h.render(w, "children.tmpl", ChildrenViewData{
		PageData:      pageData(r, h.middleware, p, "Children"),
		Children:      insights.FilterChildren(all, filters, h.now()),
		Stats:         insights.ComputeChildrenStats(all),
		Filters:       form,
		Filtered:      !filters.IsZero(),
		Relationships: models.AllRelationshipTypes(),
	})
}

// parseChildInput reads the child form.
func parseChildInput(r *http.Request) (models.ChildInput, error) {
	in := models.ChildInput{
		Name:      r.FormValue("name"),
		Diagnosis: r.FormValue("diagnosis"),
		Notes:     r.FormValue("notes"),
	}
	if raw := strings.TrimSpace(r.FormValue("birth_date")); raw != "" {
		birth, err := time.Parse(dateLayout, raw)
		if err != nil {
			return in, validation.ValidationError{Field: "birth_date", Message: "birth date must be a valid date"}
		}
		in.BirthDate = &birth
	}
	return in, nil
}

// NewChild renders the empty child form
func (h *DashboardHandler) NewChild(w http.ResponseWriter, r *http.Request, p *auth.Provider) {
	h.render(w, "child_form.tmpl", ChildFormViewData{
		PageData: pageData(r, h.middleware, p, "Add child"),
		Action:   "/dashboard/children",
	})
}

// CreateChild handles the new child form
func (h *DashboardHandler) CreateChild(w http.ResponseWriter, r *http.Request, p *auth.Provider) {
	if err := r.ParseForm(); err != nil {
		respondWithError(w, h.log, http.StatusBadRequest, ErrInvalidFormData, "", err)
		return
	}
	in, err := parseChildInput(r)
	var child *models.Child
	if err == nil {
		child, err = h.children.Create(r.Context(), profileID(p), in)
	}
	if err != nil {
		h.childFormError(w, r, p, nil, in, "/dashboard/children", err)
		return
	}
	redirectWithFlash(w, r, "/dashboard/children/"+child.ID, "child_created")
}

func (h *DashboardHandler) childFormError(w http.ResponseWriter, r *http.Request, p *auth.Provider, child *models.ChildWithRelation, in models.ChildInput, action string, err error) {
	var verr validation.ValidationError
	if !errors.As(err, &verr) {
		respondWithServiceError(w, h.log, "failed to save child", err)
		return
	}
	data := ChildFormViewData{
		PageData: pageData(r, h.middleware, p, "Child"),
		Child:    child,
		Input:    in,
		Action:   action,
	}
	data.Error = verr.Message
	h.renderStatus(w, http.StatusBadRequest, "child_form.tmpl", data)
}

// EditChild renders the child form filled with the stored values
func (h *DashboardHandler) EditChild(w http.ResponseWriter, r *http.Request, p *auth.Provider) {
	child, err := h.children.Get(r.Context(), profileID(p), r.PathValue("id"))
	if err != nil {
		respondWithServiceError(w, h.log, "failed to load child", err)
		return
	}
	if !child.CanEdit {
		respondWithError(w, h.log, http.StatusForbidden, ErrForbidden, "", nil)
		return
	}
	h.render(w, "child_form.tmpl", ChildFormViewData{
		PageData: pageData(r, h.middleware, p, "Edit "+child.Name),
		Child:    child,
		Input: models.ChildInput{
			Name:      child.Name,
			BirthDate: child.BirthDate,
			Diagnosis: child.Diagnosis,
			Notes:     child.Notes,
		},
		Action: "/dashboard/children/" + child.ID + "/update",
	})
}

// UpdateChild handles the edit form
func (h *DashboardHandler) UpdateChild(w http.ResponseWriter, r *http.Request, p *auth.Provider) {
	if err := r.ParseForm(); err != nil {
		respondWithError(w, h.log, http.StatusBadRequest, ErrInvalidFormData, "", err)
		return
	}
	childID := r.PathValue("id")
	in, err := parseChildInput(r)
	if err == nil {
		err = h.children.Update(r.Context(), profileID(p), childID, in)
	}
	if err != nil {
		h.childFormError(w, r, p, nil, in, "/dashboard/children/"+childID+"/update", err)
		return
	}
	redirectWithFlash(w, r, "/dashboard/children/"+childID, "child_updated")
}

// ArchiveChild archives or restores a child
func (h *DashboardHandler) ArchiveChild(w http.ResponseWriter, r *http.Request, p *auth.Provider) {
	childID := r.PathValue("id")
	archived := r.FormValue("archived") != "false"
	if err := h.children.Archive(r.Context(), profileID(p), childID, archived); err != nil {
		respondWithServiceError(w, h.log, "failed to archive child", err)
		return
	}
	flash := "child_archived"
	if !archived {
		flash = "child_restored"
	}
	redirectWithFlash(w, r, "/dashboard/children/"+childID, flash)
}

// ChildDetail renders a child with its team, logs and counters
func (h *DashboardHandler) ChildDetail(w http.ResponseWriter, r *http.Request, p *auth.Provider) {
	h.renderChildDetail(w, r, p, r.PathValue("id"), http.StatusOK, "")
}

func (h *DashboardHandler) renderChildDetail(w http.ResponseWriter, r *http.Request, p *auth.Provider, childID string, status int, errMsg string) {
	ctx := r.Context()
	id := profileID(p)

	detail, err := h.children.Detail(ctx, id, childID)
	if err != nil {
		respondWithServiceError(w, h.log, "failed to load child", err)
		return
	}
	logs, err := h.logs.List(ctx, id, repository.LogQuery{ChildID: childID})
	if err != nil {
		respondWithServiceError(w, h.log, "failed to list logs", err)
		return
	}
	categories, err := h.logs.Categories(ctx)
	if err != nil {
		respondWithServiceError(w, h.log, "failed to list categories", err)
		return
	}

	data := ChildDetailViewData{
		PageData:      pageData(r, h.middleware, p, detail.Child.Name),
		Detail:        detail,
		Logs:          logs,
		Stats:         insights.ComputeChildLogStats(logs, h.now()),
		Categories:    categories,
		Intensities:   models.AllIntensityLevels(),
		Relationships: models.AllRelationshipTypes(),
		CanLog:        detail.Child.IsActive && detail.Child.RelationshipType.CanLog(),
		Today:         h.now().Format(dateLayout),
	}
	data.Error = errMsg
	h.renderStatus(w, status, "child_detail.tmpl", data)
}

// actionError re-renders the child page with a user-facing error, or fails the request outright.
func (h *DashboardHandler) actionError(w http.ResponseWriter, r *http.Request, p *auth.Provider, childID, logMsg string, err error) {
	status, msg := statusFor(err)
	if status != http.StatusBadRequest && status != http.StatusConflict && status != http.StatusNotFound {
		respondWithServiceError(w, h.log, logMsg, err)
		return
	}
	if status == http.StatusNotFound && childID == "" {
		respondWithError(w, h.log, status, msg, "", nil)
		return
	}
	h.renderChildDetail(w, r, p, childID, status, msg)
}

// AddMember adds a profile to a child's team
func (h *DashboardHandler) AddMember(w http.ResponseWriter, r *http.Request, p *auth.Provider) {
	if err := r.ParseForm(); err != nil {
		respondWithError(w, h.log, http.StatusBadRequest, ErrInvalidFormData, "", err)
		return
	}
	childID := r.PathValue("id")
	rel, err := models.ParseRelationshipType(r.FormValue("relationship_type"))
	if err != nil {
		h.actionError(w, r, p, childID, "", validation.ValidationError{Field: "relationship_type", Message: "please choose a relationship"})
		return
	}

	err = h.children.AddMember(r.Context(), profileID(p), childID, service.MemberInput{
		Email:            r.FormValue("email"),
		RelationshipType: rel,
		CanEdit:          r.FormValue("can_edit") == "on",
		CanExport:        r.FormValue("can_export") == "on",
	})
	if err != nil {
		if errors.Is(err, service.ErrProfileNotFound) {
			err = validation.ValidationError{Field: "email", Message: "no account uses that email"}
		}
		h.actionError(w, r, p, childID, "failed to add member", err)
		return
	}
	redirectWithFlash(w, r, "/dashboard/children/"+childID, "member_added")
}

// RemoveMember removes a profile from a child's team
func (h *DashboardHandler) RemoveMember(w http.ResponseWriter, r *http.Request, p *auth.Provider) {
	childID := r.PathValue("id")
	if err := h.children.RemoveMember(r.Context(), profileID(p), childID, r.PathValue("profileID")); err != nil {
		h.actionError(w, r, p, childID, "failed to remove member", err)
		return
	}
	redirectWithFlash(w, r, "/dashboard/children/"+childID, "member_removed")
}
