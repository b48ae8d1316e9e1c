package handlers

import (
	"errors"
	"net/http"
	"strings"

	"carelog/internal/auth"
	"carelog/internal/models"
	"carelog/internal/validation"
)

// ShowProfile renders the signed-in user's profile
func (h *DashboardHandler) ShowProfile(w http.ResponseWriter, r *http.Request, p *auth.Provider) {
	data := pageData(r, h.middleware, p, "Profile")
	h.render(w, "profile.tmpl", ProfileViewData{PageData: data, Profile: data.User})
}

// UpdateProfile saves the profile form
func (h *DashboardHandler) UpdateProfile(w http.ResponseWriter, r *http.Request, p *auth.Provider) {
	if err := r.ParseForm(); err != nil {
		respondWithError(w, h.log, http.StatusBadRequest, ErrInvalidFormData, "", err)
		return
	}

	name := strings.TrimSpace(r.FormValue("full_name"))
	err := validation.ValidateName(name)
	if err == nil {
		err = p.UpdateProfile(r.Context(), models.ProfileUpdate{FullName: &name})
	}

	var verr validation.ValidationError
	switch {
	case err == nil:
		redirectWithFlash(w, r, "/dashboard/profile", "profile_updated")
	case errors.As(err, &verr):
		data := pageData(r, h.middleware, p, "Profile")
		data.Error = verr.Message
		h.renderStatus(w, http.StatusBadRequest, "profile.tmpl", ProfileViewData{PageData: data, Profile: data.User})
	default:
		respondWithError(w, h.log, http.StatusInternalServerError, ErrInternalServerError, "failed to update profile", err)
	}
}
