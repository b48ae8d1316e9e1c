package handlers

import (
	"bytes"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"carelog/internal/auth"
	"carelog/internal/insights"
	"carelog/internal/service"
)

// parseReportFilters reads the report filters from the query string. Missing
// values fall back to the default month, and reset=1 widens to three months.
func parseReportFilters(q url.Values, now time.Time) (insights.LogFilters, ReportFilterForm) {
	f := insights.DefaultLogFilters(now)

	if raw := q.Get("category"); raw != "" && raw != insights.All {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			f.CategoryID = &id
		}
	}
	if q.Get("reset") == "1" {
		f = insights.ResetLogFilters(f, now)
		return f, filterForm(f)
	}

	if child := strings.TrimSpace(q.Get("child")); child != "" {
		f.ChildID = child
	}
	if raw := q.Get("from"); raw != "" {
		if from, err := time.ParseInLocation(dateLayout, raw, now.Location()); err == nil {
			f.From = &from
		}
	}
	if raw := q.Get("to"); raw != "" {
		if to, err := time.ParseInLocation(dateLayout, raw, now.Location()); err == nil {
			end := to.AddDate(0, 0, 1).Add(-time.Nanosecond)
			f.To = &end
		}
	}
	return f, filterForm(f)
}

func filterForm(f insights.LogFilters) ReportFilterForm {
	form := ReportFilterForm{ChildID: f.ChildID, CategoryID: insights.All}
	if f.From != nil {
		form.From = f.From.Format(dateLayout)
	}
	if f.To != nil {
		form.To = f.To.Format(dateLayout)
	}
	if f.CategoryID != nil {
		form.CategoryID = strconv.FormatInt(*f.CategoryID, 10)
	}
	return form
}

// Reports renders the progress report
func (h *DashboardHandler) Reports(w http.ResponseWriter, r *http.Request, p *auth.Provider) {
	filters, form := parseReportFilters(r.URL.Query(), h.now())
	report, err := h.reports.Build(r.Context(), profileID(p), filters)
	if err != nil {
		respondWithServiceError(w, h.log, "failed to build report", err)
		return
	}
	h.render(w, "reports.tmpl", ReportsViewData{
		PageData: pageData(r, h.middleware, p, "Reports"),
		Report:   report,
		Filters:  form,
	})
}

// ExportReport downloads the filtered logs as CSV or JSON
func (h *DashboardHandler) ExportReport(w http.ResponseWriter, r *http.Request, p *auth.Provider) {
	format, err := service.ParseExportFormat(r.URL.Query().Get("format"))
	if err != nil {
		respondWithError(w, h.log, http.StatusBadRequest, "Unsupported export format", "", nil)
		return
	}
	now := h.now()
	filters, _ := parseReportFilters(r.URL.Query(), now)

	var buf bytes.Buffer
	if _, err := h.reports.Export(r.Context(), &buf, profileID(p), filters, format); err != nil {
		respondWithServiceError(w, h.log, "failed to export report", err)
		return
	}

	filename := fmt.Sprintf("carelog-report-%s.%s", now.Format(dateLayout), format)
	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if _, err := buf.WriteTo(w); err != nil {
		h.log.Warn().Err(err).Msg("failed to write export")
	}
}
