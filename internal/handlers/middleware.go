package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"carelog/internal/auth"
	"carelog/internal/models"
	"carelog/internal/security"
	"carelog/internal/service"
)

// APIHandler is a JSON API handler for a token-authenticated profile.
type APIHandler func(w http.ResponseWriter, r *http.Request, profile *models.Profile)

// Middleware holds dependencies for middleware functions
type Middleware struct {
	registry *auth.Registry
	auth     *service.AuthService
	profiles auth.ProfileStore
	csrf     *security.CSRFGenerator
	limiter  *security.RateLimiter
	log      zerolog.Logger
}

// NewMiddleware creates a new middleware instance
func NewMiddleware(
	registry *auth.Registry,
	authService *service.AuthService,
	profiles auth.ProfileStore,
	csrf *security.CSRFGenerator,
	limiter *security.RateLimiter,
	logger zerolog.Logger,
) *Middleware {
	return &Middleware{
		registry: registry,
		auth:     authService,
		profiles: profiles,
		csrf:     csrf,
		limiter:  limiter,
		log:      logger.With().Str("component", "http").Logger(),
	}
}

func sessionID(r *http.Request) string {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// RequireAuth resolves the session's auth provider and redirects to the login page when signed out.
func (m *Middleware) RequireAuth(next auth.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := sessionID(r)
		if id == "" {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}

		p := m.registry.Attach(r.Context(), id)
		if !p.State().SignedIn() {
			m.registry.Drop(id)
			http.SetCookie(w, security.CreateDeleteCookie(r, SessionCookieName))
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		next(w, r, p)
	}
}

// RequireAdmin is RequireAuth plus the admin role. The role is re-read so a
// demotion applies to the next request.
func (m *Middleware) RequireAdmin(next auth.Handler) http.HandlerFunc {
	return m.RequireAuth(func(w http.ResponseWriter, r *http.Request, p *auth.Provider) {
		if err := p.RefreshUser(r.Context()); err != nil {
			m.log.Warn().Err(err).Msg("failed to refresh admin state")
		}
		if !p.State().IsAdmin {
			respondWithError(w, m.log, http.StatusForbidden, ErrForbidden, "", nil)
			return
		}
		next(w, r, p)
	})
}

// CSRFToken returns the form token for the request's session.
func (m *Middleware) CSRFToken(r *http.Request) string {
	token, err := m.csrf.GenerateToken(sessionID(r))
	if err != nil {
		return ""
	}
	return token
}

// CSRFProtect rejects state-changing requests without a valid token.
func (m *Middleware) CSRFProtect(next auth.Handler) auth.Handler {
	return func(w http.ResponseWriter, r *http.Request, p *auth.Provider) {
		token := r.Header.Get("X-CSRF-Token")
		if token == "" {
			token = r.FormValue("csrf_token")
		}
		if !m.csrf.ValidateToken(sessionID(r), token) {
			m.log.Warn().Str("path", r.URL.Path).Str("ip", security.GetClientIP(r)).Msg("csrf validation failed")
			respondWithError(w, m.log, http.StatusForbidden, ErrInvalidCSRF, "", nil)
			return
		}
		next(w, r, p)
	}
}

// RateLimit throttles a handler per client IP.
func (m *Middleware) RateLimit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := security.GetClientIP(r)
		if !m.limiter.Allow(ip) {
			m.log.Warn().Str("ip", ip).Str("path", r.URL.Path).Msg("rate limit exceeded")
			respondWithError(w, m.log, http.StatusTooManyRequests, ErrTooManyRequests, "", nil)
			return
		}
		next(w, r)
	}
}

// RequireToken authenticates API requests with a Bearer access token.
func (m *Middleware) RequireToken(next APIHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="carelog"`)
			respondWithJSONError(w, m.log, http.StatusUnauthorized, ErrUnauthorized, nil)
			return
		}

		_, user, err := m.auth.ValidateAccessToken(r.Context(), strings.TrimSpace(token))
		if err != nil {
			status, msg := statusFor(err)
			respondWithJSONError(w, m.log, status, msg, err)
			return
		}

		profile, err := auth.LoadOrCreateProfile(r.Context(), m.profiles, staticUser{user}, user.ID)
		if err != nil || profile == nil {
			respondWithJSONError(w, m.log, http.StatusInternalServerError, ErrInternalServerError, err)
			return
		}
		next(w, r, profile)
	}
}

// staticUser serves an already validated identity to profile provisioning.
type staticUser struct {
	user *models.AuthUser
}

func (s staticUser) GetUser(context.Context) (*models.AuthUser, error) {
	return s.user, nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	if rec.status == 0 {
		rec.status = http.StatusOK
	}
	n, err := rec.ResponseWriter.Write(b)
	rec.bytes += n
	return n, err
}

// Logging logs each request with its status and duration.
func (m *Middleware) Logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}

		next.ServeHTTP(rec, r)

		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		event := m.log.Info()
		if rec.status >= http.StatusInternalServerError {
			event = m.log.Error()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Int("bytes", rec.bytes).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// Recover turns a handler panic into a 500.
func (m *Middleware) Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				if v == http.ErrAbortHandler {
					panic(v)
				}
				m.log.Error().Interface("panic", v).Str("path", r.URL.Path).Msg("handler panicked")
				http.Error(w, ErrInternalServerError, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
