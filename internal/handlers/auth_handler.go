package handlers

import (
	"context"
	"errors"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"carelog/internal/auth"
	"carelog/internal/models"
	"carelog/internal/repository"
	"carelog/internal/security"
	"carelog/internal/service"
	"carelog/internal/validation"
)

// signInWait bounds how long a sign-in waits for the profile to load.
const signInWait = 5 * time.Second

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	renderer
	registry             *auth.Registry
	authService          *service.AuthService
	settings             *repository.SettingsRepository
	oauthProviders       map[string]OAuthProvider
	oauthRedirectBaseURL string
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(
	registry *auth.Registry,
	authService *service.AuthService,
	settings *repository.SettingsRepository,
	templates *template.Template,
	oauthProviders map[string]OAuthProvider,
	oauthRedirectBaseURL string,
	logger zerolog.Logger,
) *AuthHandler {
	return &AuthHandler{
		renderer:             renderer{templates: templates, log: logger.With().Str("component", "auth_handler").Logger()},
		registry:             registry,
		authService:          authService,
		settings:             settings,
		oauthProviders:       oauthProviders,
		oauthRedirectBaseURL: oauthRedirectBaseURL,
	}
}

func (h *AuthHandler) signedIn(r *http.Request) bool {
	id := sessionID(r)
	if id == "" {
		return false
	}
	return h.registry.Attach(r.Context(), id).State().SignedIn()
}

// Home redirects to the dashboard or the login page
func (h *AuthHandler) Home(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if h.signedIn(r) {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// ShowLogin renders the login page
func (h *AuthHandler) ShowLogin(w http.ResponseWriter, r *http.Request) {
	if h.signedIn(r) {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return
	}

	data := LoginViewData{
		Title:          "Sign in - CareLog",
		OAuthProviders: h.oauthProviderViews(),
	}
	if r.URL.Query().Get("reset") == "1" {
		data.Success = "Your password has been reset. Please sign in."
	}
	h.render(w, "login.tmpl", data)
}

// Login handles login form submission
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondWithError(w, h.log, http.StatusBadRequest, ErrInvalidFormData, "", err)
		return
	}
	email := strings.TrimSpace(r.FormValue("email"))
	password := r.FormValue("password")

	p := h.registry.Anonymous(r.Context())
	if err := p.SignIn(r.Context(), email, password); err != nil {
		p.Close()
		msg := "Invalid email or password"
		if !errors.Is(err, service.ErrInvalidCredentials) {
			h.log.Error().Err(err).Msg("sign in failed")
			msg = "Sign in failed. Please try again."
		}
		h.renderStatus(w, http.StatusUnauthorized, "login.tmpl", LoginViewData{
			Title:          "Sign in - CareLog",
			OAuthProviders: h.oauthProviderViews(),
			Error:          msg,
			Email:          email,
		})
		return
	}
	h.completeSignIn(w, r, p)
}

// completeSignIn waits for the profile, registers the provider and sets the session cookie.
func (h *AuthHandler) completeSignIn(w http.ResponseWriter, r *http.Request, p *auth.Provider) {
	ctx, cancel := context.WithTimeout(r.Context(), signInWait)
	defer cancel()

	state, err := p.Await(ctx, func(s auth.State) bool { return s.SignedIn() || s.Error != "" })
	session, sessErr := p.Session(r.Context())
	if err != nil || !state.SignedIn() || sessErr != nil || session == nil {
		if err == nil {
			err = sessErr
		}
		h.log.Error().Err(err).Str("state_error", state.Error).Msg("signed in but profile did not load")
		if signOutErr := p.SignOut(r.Context()); signOutErr != nil {
			h.log.Warn().Err(signOutErr).Msg("failed to end half-open session")
		}
		p.Close()
		h.renderStatus(w, http.StatusInternalServerError, "login.tmpl", LoginViewData{
			Title:          "Sign in - CareLog",
			OAuthProviders: h.oauthProviderViews(),
			Error:          "We could not load your profile. Please try again.",
		})
		return
	}

	h.registry.Adopt(session.ID, p)
	http.SetCookie(w, security.CreateSessionCookie(r, SessionCookieName, session.ID, session.ExpiresAt))
	h.log.Info().Str("user_id", state.User.ID).Msg("user signed in")
	http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
}

func (h *AuthHandler) registrationOpen(ctx context.Context) bool {
	open, err := h.settings.IsRegistrationOpen(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to read registration setting")
		return false
	}
	return open
}

func (h *AuthHandler) registerView(r *http.Request) RegisterViewData {
	return RegisterViewData{
		Title:            "Create account - CareLog",
		OAuthProviders:   h.oauthProviderViews(),
		Roles:            []models.UserRole{models.RoleParent, models.RoleTeacher, models.RoleSpecialist},
		RegistrationOpen: h.registrationOpen(r.Context()),
	}
}

// ShowRegister renders the registration page
func (h *AuthHandler) ShowRegister(w http.ResponseWriter, r *http.Request) {
	if h.signedIn(r) {
		http.Redirect(w, r, "/dashboard", http.StatusSeeOther)
		return
	}
	h.render(w, "register.tmpl", h.registerView(r))
}

// Register handles registration form submission and signs the new user in
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondWithError(w, h.log, http.StatusBadRequest, ErrInvalidFormData, "", err)
		return
	}
	email := strings.TrimSpace(r.FormValue("email"))
	password := r.FormValue("password")
	name := strings.TrimSpace(r.FormValue("name"))
	role := r.FormValue("role")

	fail := func(status int, msg string) {
		data := h.registerView(r)
		data.Error = msg
		data.Email = email
		data.Name = name
		data.Role = role
		h.renderStatus(w, status, "register.tmpl", data)
	}

	if password != r.FormValue("confirm_password") {
		fail(http.StatusBadRequest, "Passwords do not match")
		return
	}

	p := h.registry.Anonymous(r.Context())
	if err := p.SignUp(r.Context(), email, password, name, role); err != nil {
		p.Close()
		var verr validation.ValidationError
		switch {
		case errors.As(err, &verr):
			fail(http.StatusBadRequest, verr.Message)
		case errors.Is(err, service.ErrEmailTaken):
			fail(http.StatusConflict, "An account with this email already exists")
		case errors.Is(err, service.ErrRegistrationClosed):
			fail(http.StatusForbidden, "Registration is currently closed")
		case errors.Is(err, service.ErrInvalidRole):
			fail(http.StatusBadRequest, "Please choose a valid role")
		default:
			h.log.Error().Err(err).Msg("registration failed")
			fail(http.StatusInternalServerError, "Registration failed. Please try again.")
		}
		return
	}

	if err := p.SignIn(r.Context(), email, password); err != nil {
		p.Close()
		h.log.Error().Err(err).Msg("sign in after registration failed")
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}
	h.completeSignIn(w, r, p)
}

// Logout ends the session
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if id := sessionID(r); id != "" {
		p := h.registry.Attach(r.Context(), id)
		if p.State().SignedIn() {
			if err := p.SignOut(r.Context()); err != nil {
				h.log.Error().Err(err).Msg("sign out failed")
			}
		}
		h.registry.Drop(id)
	}

	http.SetCookie(w, security.CreateDeleteCookie(r, SessionCookieName))
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// ShowForgotPassword renders the forgot password page
func (h *AuthHandler) ShowForgotPassword(w http.ResponseWriter, r *http.Request) {
	h.render(w, "forgot_password.tmpl", ForgotPasswordViewData{Title: "Forgot password - CareLog"})
}

// ForgotPassword sends a reset link. The response is the same whether or not the email exists.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondWithError(w, h.log, http.StatusBadRequest, ErrInvalidFormData, "", err)
		return
	}
	data := ForgotPasswordViewData{Title: "Forgot password - CareLog"}

	email := strings.TrimSpace(r.FormValue("email"))
	if err := validation.ValidateEmail(email); err != nil {
		data.Error = "Please enter a valid email address"
		h.renderStatus(w, http.StatusBadRequest, "forgot_password.tmpl", data)
		return
	}

	p := h.registry.Anonymous(r.Context())
	defer p.Close()
	if err := p.ResetPassword(r.Context(), email); err != nil {
		data.Error = "We could not send the reset email. Please try again later."
		h.renderStatus(w, http.StatusInternalServerError, "forgot_password.tmpl", data)
		return
	}

	data.Success = "If an account exists for that email, a reset link is on its way."
	h.render(w, "forgot_password.tmpl", data)
}

// ShowResetPassword renders the reset form for a valid token
func (h *AuthHandler) ShowResetPassword(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	valid, err := h.authService.ValidatePasswordResetToken(r.Context(), token)
	if err != nil {
		respondWithError(w, h.log, http.StatusInternalServerError, ErrInternalServerError, "failed to validate reset token", err)
		return
	}
	if token == "" || !valid {
		h.renderStatus(w, http.StatusBadRequest, "forgot_password.tmpl", ForgotPasswordViewData{
			Title: "Forgot password - CareLog",
			Error: "This reset link is invalid or has expired. Please request a new one.",
		})
		return
	}
	h.render(w, "reset_password.tmpl", ResetPasswordViewData{Title: "Reset password - CareLog", Token: token})
}

// ResetPassword sets the new password
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondWithError(w, h.log, http.StatusBadRequest, ErrInvalidFormData, "", err)
		return
	}
	token := r.FormValue("token")
	password := r.FormValue("password")
	data := ResetPasswordViewData{Title: "Reset password - CareLog", Token: token}

	if password != r.FormValue("confirm_password") {
		data.Error = "Passwords do not match"
		h.renderStatus(w, http.StatusBadRequest, "reset_password.tmpl", data)
		return
	}

	err := h.authService.ResetPassword(r.Context(), token, password)
	var verr validation.ValidationError
	switch {
	case err == nil:
		http.Redirect(w, r, "/login?reset=1", http.StatusSeeOther)
	case errors.As(err, &verr):
		data.Error = verr.Message
		h.renderStatus(w, http.StatusBadRequest, "reset_password.tmpl", data)
	case errors.Is(err, service.ErrInvalidResetToken):
		data.Error = "This reset link is invalid or has expired. Please request a new one."
		h.renderStatus(w, http.StatusBadRequest, "reset_password.tmpl", data)
	default:
		respondWithError(w, h.log, http.StatusInternalServerError, ErrInternalServerError, "failed to reset password", err)
	}
}
