package handlers

import (
	"bytes"
	"fmt"
	"html/template"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"carelog/internal/insights"
	"carelog/internal/models"
)

// LoadTemplates parses every page template under templatesPath.
func LoadTemplates(templatesPath string) (*template.Template, error) {
	baseTemplate := filepath.Join(templatesPath, "base.tmpl")

	patterns := []string{
		filepath.Join(templatesPath, "auth/*.tmpl"),
		filepath.Join(templatesPath, "dashboard/*.tmpl"),
		filepath.Join(templatesPath, "admin/*.tmpl"),
	}

	files := []string{baseTemplate}
	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("failed to glob pattern %s: %w", pattern, err)
		}
		files = append(files, matches...)
	}

	tmpl, err := template.New("").Funcs(templateFuncs()).ParseFiles(files...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	return tmpl, nil
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"formatDate": func(t time.Time) string {
			return t.Format("Jan 2, 2006")
		},
		"formatDateTime": func(t time.Time) string {
			return t.Format("Jan 2, 2006 15:04")
		},
		"optDate": func(t *time.Time) string {
			if t == nil {
				return "-"
			}
			return t.Format("Jan 2, 2006")
		},
		"inputDate": func(t *time.Time) string {
			if t == nil {
				return ""
			}
			return t.Format(dateLayout)
		},
		"mood": func(score *int) string {
			if score == nil {
				return "-"
			}
			return strconv.Itoa(*score) + "/5"
		},
		"age": func(birth *time.Time) string {
			if birth == nil {
				return "-"
			}
			return strconv.Itoa(insights.Age(*birth, time.Now()))
		},
		"status": func(l models.LogWithDetails) insights.LogStatus {
			return insights.StatusOf(&l)
		},
		"fixed": func(v float64) string {
			return strconv.FormatFloat(v, 'f', 1, 64)
		},
		"signed": func(v float64) string {
			return fmt.Sprintf("%+.1f", v)
		},
		"add": func(a, b int) int {
			return a + b
		},
	}
}

// renderer executes a page into a buffer first so template errors never send a partial page.
type renderer struct {
	templates *template.Template
	log       zerolog.Logger
}

func (rd renderer) render(w http.ResponseWriter, name string, data any) {
	rd.renderStatus(w, http.StatusOK, name, data)
}

func (rd renderer) renderStatus(w http.ResponseWriter, status int, name string, data any) {
	var buf bytes.Buffer
	if err := rd.templates.ExecuteTemplate(&buf, name, data); err != nil {
		respondWithError(w, rd.log, http.StatusInternalServerError, ErrInternalServerError, "error rendering "+name, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if _, err := buf.WriteTo(w); err != nil {
		rd.log.Warn().Err(err).Str("template", name).Msg("failed to write response")
	}
}
