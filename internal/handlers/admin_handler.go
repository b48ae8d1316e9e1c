package handlers

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"carelog/internal/auth"
	"carelog/internal/models"
	"carelog/internal/repository"
	"carelog/internal/service"
)

const maxBackupUpload = 10 << 20

var errLastAdmin = errors.New("cannot remove the last admin")

// AdminHandler handles admin-specific routes
type AdminHandler struct {
	renderer
	profiles   *repository.ProfileRepository
	settings   *repository.SettingsRepository
	backup     *service.BackupService
	middleware *Middleware
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(
	profiles *repository.ProfileRepository,
	settings *repository.SettingsRepository,
	backup *service.BackupService,
	middleware *Middleware,
	templates *template.Template,
	logger zerolog.Logger,
) *AdminHandler {
	return &AdminHandler{
		renderer:   renderer{templates: templates, log: logger.With().Str("component", "admin").Logger()},
		profiles:   profiles,
		settings:   settings,
		backup:     backup,
		middleware: middleware,
	}
}

func (h *AdminHandler) profilesView(ctx context.Context, r *http.Request, p *auth.Provider) (AdminProfilesViewData, error) {
	profiles, err := h.profiles.ListProfiles(ctx)
	if err != nil {
		return AdminProfilesViewData{}, err
	}
	open, err := h.settings.IsRegistrationOpen(ctx)
	if err != nil {
		return AdminProfilesViewData{}, err
	}
	return AdminProfilesViewData{
		PageData:         pageData(r, h.middleware, p, "Manage profiles"),
		Profiles:         profiles,
		Roles:            models.AllRoles(),
		RegistrationOpen: open,
	}, nil
}

// ShowProfiles lists every profile with its role
func (h *AdminHandler) ShowProfiles(w http.ResponseWriter, r *http.Request, p *auth.Provider) {
	data, err := h.profilesView(r.Context(), r, p)
	if err != nil {
		respondWithError(w, h.log, http.StatusInternalServerError, ErrInternalServerError, "failed to load profiles", err)
		return
	}
	h.render(w, "admin_profiles.tmpl", data)
}

// UpdateRole changes a profile's role. Admins cannot demote themselves or the last admin.
func (h *AdminHandler) UpdateRole(w http.ResponseWriter, r *http.Request, p *auth.Provider) {
	if err := r.ParseForm(); err != nil {
		respondWithError(w, h.log, http.StatusBadRequest, ErrInvalidFormData, "", err)
		return
	}
	ctx := r.Context()
	targetID := r.PathValue("id")

	role, err := models.ParseUserRole(r.FormValue("role"))
	if err != nil {
		h.profilesError(w, r, p, http.StatusBadRequest, "Please choose a valid role")
		return
	}
	if targetID == profileID(p) && role != models.RoleAdmin {
		h.profilesError(w, r, p, http.StatusBadRequest, "You cannot remove your own admin role")
		return
	}

	err = h.setRole(ctx, targetID, role)
	switch {
	case err == nil:
	case errors.Is(err, sql.ErrNoRows):
		respondWithError(w, h.log, http.StatusNotFound, ErrNotFound, "", nil)
		return
	case errors.Is(err, errLastAdmin):
		h.profilesError(w, r, p, http.StatusConflict, "At least one admin is required")
		return
	default:
		respondWithError(w, h.log, http.StatusInternalServerError, ErrInternalServerError, "failed to update role", err)
		return
	}

	h.log.Info().Str("admin_id", profileID(p)).Str("profile_id", targetID).Str("role", role.String()).Msg("role updated")
	redirectWithFlash(w, r, "/admin/profiles", "role_updated")
}

func (h *AdminHandler) setRole(ctx context.Context, id string, role models.UserRole) error {
	if role != models.RoleAdmin {
		current, err := h.profiles.GetRole(ctx, id)
		if err != nil {
			return err
		}
		if current == models.RoleAdmin {
			admins, err := h.profiles.CountByRole(ctx, models.RoleAdmin)
			if err != nil {
				return err
			}
			if admins <= 1 {
				return errLastAdmin
			}
		}
	}
	return h.profiles.SetRole(ctx, id, role)
}

func (h *AdminHandler) profilesError(w http.ResponseWriter, r *http.Request, p *auth.Provider, status int, msg string) {
	data, err := h.profilesView(r.Context(), r, p)
	if err != nil {
		respondWithError(w, h.log, http.StatusInternalServerError, ErrInternalServerError, "failed to load profiles", err)
		return
	}
	data.Error = msg
	h.renderStatus(w, status, "admin_profiles.tmpl", data)
}

// ToggleRegistration opens or closes self sign-up
func (h *AdminHandler) ToggleRegistration(w http.ResponseWriter, r *http.Request, p *auth.Provider) {
	open := r.FormValue("open") == "true"
	if err := h.settings.SetRegistrationOpen(r.Context(), open); err != nil {
		respondWithError(w, h.log, http.StatusInternalServerError, ErrInternalServerError, "failed to update registration setting", err)
		return
	}
	h.log.Info().Str("admin_id", profileID(p)).Bool("open", open).Msg("registration setting changed")
	redirectWithFlash(w, r, "/admin/profiles", "registration")
}

// ExportDatabase downloads a JSON backup
func (h *AdminHandler) ExportDatabase(w http.ResponseWriter, r *http.Request, p *auth.Provider) {
	var buf bytes.Buffer
	if _, err := h.backup.ExportToWriter(r.Context(), &buf); err != nil {
		respondWithError(w, h.log, http.StatusInternalServerError, "Failed to export database", "error exporting database", err)
		return
	}

	filename := fmt.Sprintf("carelog_backup_%s.json", time.Now().Format("20060102_150405"))
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	if _, err := buf.WriteTo(w); err != nil {
		h.log.Warn().Err(err).Msg("failed to write backup")
		return
	}
	h.log.Info().Str("admin_id", profileID(p)).Msg("database exported")
}

// ImportDatabase restores an uploaded backup, optionally clearing the database first
func (h *AdminHandler) ImportDatabase(w http.ResponseWriter, r *http.Request, p *auth.Provider) {
	if err := r.ParseMultipartForm(maxBackupUpload); err != nil {
		respondWithError(w, h.log, http.StatusBadRequest, "Failed to parse form", "", err)
		return
	}
	file, _, err := r.FormFile("backup_file")
	if err != nil {
		h.profilesError(w, r, p, http.StatusBadRequest, "Please select a backup file")
		return
	}
	defer file.Close()

	if r.FormValue("clear_data") == "true" {
		h.log.Warn().Str("admin_id", profileID(p)).Msg("clearing database before import")
		if err := h.backup.Clear(r.Context()); err != nil {
			respondWithError(w, h.log, http.StatusInternalServerError, "Failed to clear database", "error clearing database", err)
			return
		}
	}

	summary, err := h.backup.ImportFromReader(r.Context(), file)
	if err != nil {
		h.log.Error().Err(err).Msg("error importing database")
		h.profilesError(w, r, p, http.StatusBadRequest, "Failed to import backup")
		return
	}

	data, err := h.profilesView(r.Context(), r, p)
	if err != nil {
		respondWithError(w, h.log, http.StatusInternalServerError, ErrInternalServerError, "failed to load profiles", err)
		return
	}
	data.Flash = fmt.Sprintf("Backup imported: %d profiles, %d children, %d logs added.",
		summary.Imported["profiles"], summary.Imported["children"], summary.Imported["logs"])
	h.render(w, "admin_profiles.tmpl", data)
}
