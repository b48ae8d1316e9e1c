package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carelog/internal/auth"
	"carelog/internal/authclient"
	"carelog/internal/authstream"
	"carelog/internal/database"
	"carelog/internal/models"
	"carelog/internal/repository"
	"carelog/internal/security"
	"carelog/internal/service"
)

const testPassword = "password123"

type testServer struct {
	handler  http.Handler
	db       *database.DB
	auth     *service.AuthService
	children *service.ChildService
	logs     *service.LogService
	csrf     *security.CSRFGenerator
	startup  *Startup
}

func newTestServer(t *testing.T, loginRate int) *testServer {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping database test in short mode")
	}
	ctx := context.Background()
	db, err := database.Initialize(filepath.Join(t.TempDir(), "handlers.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	_, err = db.RunMigrations(ctx, "")
	require.NoError(t, err)

	templates, err := LoadTemplates(filepath.Join("..", "..", "web", "templates"))
	require.NoError(t, err)

	log := zerolog.Nop()
	authRepo := repository.NewAuthRepository(db)
	profiles := repository.NewProfileRepository(db)
	settings := repository.NewSettingsRepository(db)
	childRepo := repository.NewChildRepository(db)
	logRepo := repository.NewLogRepository(db)
	categories := repository.NewCategoryRepository(db)

	hub := authstream.NewHub()
	t.Cleanup(hub.Close)
	authService := service.NewAuthService(authRepo, settings, security.NewTokenIssuer("test-secret", time.Hour),
		hub, 24*time.Hour, time.Hour, log)
	registry := auth.NewRegistry(func(sessionID string) authclient.Client {
		return authclient.NewLocalClient(authService, nil, sessionID, log)
	}, profiles, log)
	t.Cleanup(registry.Close)

	children := service.NewChildService(childRepo, profiles, log)
	logs := service.NewLogService(logRepo, childRepo, categories, log)
	reports := service.NewReportService(logRepo, childRepo, categories, log)
	csrf := security.NewCSRFGenerator("test-csrf")
	limiter := security.NewRateLimiter(loginRate, time.Minute)

	mw := NewMiddleware(registry, authService, profiles, csrf, limiter, log)
	authHandler := NewAuthHandler(registry, authService, settings, templates, nil, "", log)
	dashboard := NewDashboardHandler(children, logs, reports, mw, templates, log)
	admin := NewAdminHandler(profiles, settings, service.NewBackupService(db, log), mw, templates, log)
	api := NewAPIV1Handler(authService, children, logs, reports, log)
	startup := NewStartup()
	health := NewHealthHandler(startup, db, log)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", health.Health)
	mux.HandleFunc("GET /login", authHandler.ShowLogin)
	mux.HandleFunc("POST /login", mw.RateLimit(authHandler.Login))
	mux.HandleFunc("POST /logout", authHandler.Logout)
	mux.HandleFunc("GET /dashboard", mw.RequireAuth(dashboard.Dashboard))
	mux.HandleFunc("GET /dashboard/children", mw.RequireAuth(dashboard.Children))
	mux.HandleFunc("POST /dashboard/children", mw.RequireAuth(mw.CSRFProtect(dashboard.CreateChild)))
	mux.HandleFunc("GET /dashboard/children/{id}", mw.RequireAuth(dashboard.ChildDetail))
	mux.HandleFunc("POST /dashboard/children/{id}/logs", mw.RequireAuth(mw.CSRFProtect(dashboard.CreateLog)))
	mux.HandleFunc("GET /dashboard/reports", mw.RequireAuth(dashboard.Reports))
	mux.HandleFunc("GET /dashboard/reports/export", mw.RequireAuth(dashboard.ExportReport))
	mux.HandleFunc("GET /dashboard/profile", mw.RequireAuth(dashboard.ShowProfile))
	mux.HandleFunc("POST /dashboard/profile", mw.RequireAuth(mw.CSRFProtect(dashboard.UpdateProfile)))
	mux.HandleFunc("GET /admin/profiles", mw.RequireAdmin(admin.ShowProfiles))
	mux.HandleFunc("POST /admin/profiles/{id}/role", mw.RequireAdmin(mw.CSRFProtect(admin.UpdateRole)))
	mux.HandleFunc("POST /api/v1/token", mw.RateLimit(api.Token))
	mux.HandleFunc("GET /api/v1/me", mw.RequireToken(api.Me))
	mux.HandleFunc("GET /api/v1/children", mw.RequireToken(api.Children))
	mux.HandleFunc("GET /api/v1/logs", mw.RequireToken(api.Logs))

	return &testServer{
		handler:  mw.Recover(mux),
		db:       db,
		auth:     authService,
		children: children,
		logs:     logs,
		csrf:     csrf,
		startup:  startup,
	}
}

// signUp creates an account. The first account becomes the admin.
func (s *testServer) signUp(t *testing.T, email, name string) {
	t.Helper()
	_, err := s.auth.SignUp(context.Background(), service.SignUpInput{Email: email, Password: testPassword, FullName: name})
	require.NoError(t, err)
}

// login signs in through the form and returns the session cookie.
func (s *testServer) login(t *testing.T, email string) *http.Cookie {
	t.Helper()
	rec := s.do(httptest.NewRequest(http.MethodPost, "/login", form(url.Values{"email": {email}, "password": {testPassword}})), nil)
	require.Equal(t, http.StatusSeeOther, rec.Code, rec.Body.String())
	require.Equal(t, "/dashboard", rec.Header().Get("Location"))

	for _, c := range rec.Result().Cookies() {
		if c.Name == SessionCookieName {
			return c
		}
	}
	t.Fatal("no session cookie set")
	return nil
}

func (s *testServer) do(r *http.Request, cookie *http.Cookie) *httptest.ResponseRecorder {
	if cookie != nil {
		r.AddCookie(cookie)
	}
	if r.Method == http.MethodPost && r.Header.Get("Content-Type") == "" {
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, r)
	return rec
}

func (s *testServer) token(t *testing.T, cookie *http.Cookie) string {
	t.Helper()
	token, err := s.csrf.GenerateToken(cookie.Value)
	require.NoError(t, err)
	return token
}

func (s *testServer) profileID(t *testing.T, email string) string {
	t.Helper()
	p, err := repository.NewProfileRepository(s.db).GetProfileByEmail(context.Background(), email)
	require.NoError(t, err)
	require.NotNil(t, p)
	return p.ID
}

func form(v url.Values) *strings.Reader {
	return strings.NewReader(v.Encode())
}

func TestDashboardRedirectsWithoutSession(t *testing.T) {
	s := newTestServer(t, 10)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/dashboard", nil), nil)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))

	rec = s.do(httptest.NewRequest(http.MethodGet, "/dashboard", nil), &http.Cookie{Name: SessionCookieName, Value: "unknown"})
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))
}

func TestLoginAndDashboard(t *testing.T) {
	s := newTestServer(t, 10)
	s.signUp(t, "ada@example.com", "Ada Admin")

	rec := s.do(httptest.NewRequest(http.MethodPost, "/login",
		form(url.Values{"email": {"ada@example.com"}, "password": {"wrong-password"}})), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid email or password")

	cookie := s.login(t, "ada@example.com")
	rec = s.do(httptest.NewRequest(http.MethodGet, "/dashboard", nil), cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Overview")
	assert.Contains(t, rec.Body.String(), "Ada Admin")

	rec = s.do(httptest.NewRequest(http.MethodGet, "/login", nil), cookie)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/dashboard", rec.Header().Get("Location"))
}

func TestLogoutEndsSession(t *testing.T) {
	s := newTestServer(t, 10)
	s.signUp(t, "ada@example.com", "Ada Admin")
	cookie := s.login(t, "ada@example.com")

	rec := s.do(httptest.NewRequest(http.MethodPost, "/logout", nil), cookie)
	assert.Equal(t, http.StatusSeeOther, rec.Code)

	rec = s.do(httptest.NewRequest(http.MethodGet, "/dashboard", nil), cookie)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))
}

func TestCreateChildRequiresCSRF(t *testing.T) {
	s := newTestServer(t, 10)
	s.signUp(t, "ada@example.com", "Ada Admin")
	cookie := s.login(t, "ada@example.com")

	rec := s.do(httptest.NewRequest(http.MethodPost, "/dashboard/children", form(url.Values{"name": {"Mia"}})), cookie)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(httptest.NewRequest(http.MethodPost, "/dashboard/children", form(url.Values{
		"name":       {"Mia"},
		"birth_date": {"2019-04-02"},
		"csrf_token": {s.token(t, cookie)},
	})), cookie)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	location := rec.Header().Get("Location")
	assert.True(t, strings.HasPrefix(location, "/dashboard/children/"), location)

	rec = s.do(httptest.NewRequest(http.MethodGet, location, nil), cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Mia")
	assert.Contains(t, rec.Body.String(), "Child added.")
}

func TestCreateChildValidationError(t *testing.T) {
	s := newTestServer(t, 10)
	s.signUp(t, "ada@example.com", "Ada Admin")
	cookie := s.login(t, "ada@example.com")

	rec := s.do(httptest.NewRequest(http.MethodPost, "/dashboard/children", form(url.Values{
		"name":       {"Mia"},
		"birth_date": {"not-a-date"},
		"csrf_token": {s.token(t, cookie)},
	})), cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "birth date must be a valid date")
}

func TestChildrenFilters(t *testing.T) {
	s := newTestServer(t, 10)
	s.signUp(t, "ada@example.com", "Ada Admin")
	cookie := s.login(t, "ada@example.com")
	ctx := context.Background()
	id := s.profileID(t, "ada@example.com")

	_, err := s.children.Create(ctx, id, models.ChildInput{Name: "Mia", Diagnosis: "ADHD"})
	require.NoError(t, err)
	_, err = s.children.Create(ctx, id, models.ChildInput{Name: "Noah"})
	require.NoError(t, err)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/dashboard/children?search=adhd", nil), cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Mia")
	assert.NotContains(t, rec.Body.String(), "Noah")
}

func TestCreateLogAndExport(t *testing.T) {
	s := newTestServer(t, 10)
	s.signUp(t, "ada@example.com", "Ada Admin")
	cookie := s.login(t, "ada@example.com")
	child, err := s.children.Create(context.Background(), s.profileID(t, "ada@example.com"), models.ChildInput{Name: "Mia"})
	require.NoError(t, err)

	today := time.Now().Format(dateLayout)
	rec := s.do(httptest.NewRequest(http.MethodPost, "/dashboard/children/"+child.ID+"/logs", form(url.Values{
		"title":           {"Calm morning"},
		"mood_score":      {"4"},
		"intensity_level": {"low"},
		"log_date":        {today},
		"csrf_token":      {s.token(t, cookie)},
	})), cookie)
	require.Equal(t, http.StatusSeeOther, rec.Code, rec.Body.String())

	rec = s.do(httptest.NewRequest(http.MethodPost, "/dashboard/children/"+child.ID+"/logs", form(url.Values{
		"title":      {"Bad mood"},
		"mood_score": {"9"},
		"csrf_token": {s.token(t, cookie)},
	})), cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "mood must be between 1 and 5")

	rec = s.do(httptest.NewRequest(http.MethodGet, "/dashboard/reports", nil), cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Calm morning")

	rec = s.do(httptest.NewRequest(http.MethodGet, "/dashboard/reports/export?format=csv", nil), cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
	assert.Contains(t, rec.Body.String(), "Calm morning")

	rec = s.do(httptest.NewRequest(http.MethodGet, "/dashboard/reports/export?format=xml", nil), cookie)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateProfile(t *testing.T) {
	s := newTestServer(t, 10)
	s.signUp(t, "ada@example.com", "Ada Admin")
	cookie := s.login(t, "ada@example.com")

	rec := s.do(httptest.NewRequest(http.MethodPost, "/dashboard/profile", form(url.Values{
		"full_name":  {"Ada Lovelace"},
		"csrf_token": {s.token(t, cookie)},
	})), cookie)
	require.Equal(t, http.StatusSeeOther, rec.Code)

	rec = s.do(httptest.NewRequest(http.MethodGet, "/dashboard/profile", nil), cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Ada Lovelace")
}

func TestAdminRoutes(t *testing.T) {
	s := newTestServer(t, 10)
	s.signUp(t, "ada@example.com", "Ada Admin")
	s.signUp(t, "ben@example.com", "Ben Ruiz")
	admin := s.login(t, "ada@example.com")
	parent := s.login(t, "ben@example.com")

	rec := s.do(httptest.NewRequest(http.MethodGet, "/admin/profiles", nil), parent)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(httptest.NewRequest(http.MethodGet, "/admin/profiles", nil), admin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Ben Ruiz")

	adminID := s.profileID(t, "ada@example.com")
	rec = s.do(httptest.NewRequest(http.MethodPost, "/admin/profiles/"+adminID+"/role", form(url.Values{
		"role":       {"teacher"},
		"csrf_token": {s.token(t, admin)},
	})), admin)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "You cannot remove your own admin role")

	benID := s.profileID(t, "ben@example.com")
	rec = s.do(httptest.NewRequest(http.MethodPost, "/admin/profiles/"+benID+"/role", form(url.Values{
		"role":       {"admin"},
		"csrf_token": {s.token(t, admin)},
	})), admin)
	require.Equal(t, http.StatusSeeOther, rec.Code)

	rec = s.do(httptest.NewRequest(http.MethodGet, "/admin/profiles", nil), parent)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestLoginRateLimit(t *testing.T) {
	s := newTestServer(t, 2)
	body := url.Values{"email": {"nobody@example.com"}, "password": {"whatever1"}}

	for i := 0; i < 2; i++ {
		rec := s.do(httptest.NewRequest(http.MethodPost, "/login", form(body)), nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	rec := s.do(httptest.NewRequest(http.MethodPost, "/login", form(body)), nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestAPIToken(t *testing.T) {
	s := newTestServer(t, 10)
	s.signUp(t, "ada@example.com", "Ada Admin")
	_, err := s.children.Create(context.Background(), s.profileID(t, "ada@example.com"), models.ChildInput{Name: "Mia"})
	require.NoError(t, err)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/api/v1/me", nil), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/token", strings.NewReader(`{"email":"ada@example.com","password":"wrong"}`))
	req.Header.Set("Content-Type", "application/json")
	rec = s.do(req, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/token", strings.NewReader(`{"email":"ada@example.com","password":"password123"}`))
	req.Header.Set("Content-Type", "application/json")
	rec = s.do(req, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var tok tokenResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&tok))
	assert.Equal(t, "Bearer", tok.TokenType)
	require.NotEmpty(t, tok.AccessToken)

	get := func(path string) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, path, nil)
		r.Header.Set("Authorization", "Bearer "+tok.AccessToken)
		return s.do(r, nil)
	}

	rec = get("/api/v1/me")
	require.Equal(t, http.StatusOK, rec.Code)
	var me profileJSON
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&me))
	assert.Equal(t, "ada@example.com", me.Email)
	assert.Equal(t, "admin", me.Role)

	rec = get("/api/v1/children")
	require.Equal(t, http.StatusOK, rec.Code)
	var children []childJSON
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&children))
	require.Len(t, children, 1)
	assert.Equal(t, "Mia", children[0].Name)

	rec = get("/api/v1/logs?limit=abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = get("/api/v1/logs?from=2024-01-01&to=2024-12-31")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, 10)

	rec := s.do(httptest.NewRequest(http.MethodGet, "/healthz", nil), nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	s.startup.MarkReady()
	rec = s.do(httptest.NewRequest(http.MethodGet, "/healthz", nil), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestStartupGate(t *testing.T) {
	startup := NewStartup()
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) })
	gate := startup.Gate(zerolog.Nop(), next)

	rec := httptest.NewRecorder()
	gate.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))

	startup.CompleteStep(StepDatabase)
	assert.Equal(t, 20, startup.Status().Progress)

	startup.MarkReady()
	rec = httptest.NewRecorder()
	gate.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, 100, startup.Status().Progress)
}

func TestParseReportFilters(t *testing.T) {
	now := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)

	f, form := parseReportFilters(url.Values{}, now)
	require.NotNil(t, f.From)
	assert.Equal(t, now.AddDate(0, -1, 0), *f.From)
	assert.Equal(t, "all", f.ChildID)
	assert.Equal(t, "all", form.CategoryID)

	f, form = parseReportFilters(url.Values{"from": {"2024-05-01"}, "to": {"2024-05-31"}, "child": {"c1"}, "category": {"3"}}, now)
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), *f.From)
	assert.Equal(t, time.Date(2024, 5, 31, 23, 59, 59, 999999999, time.UTC), *f.To)
	assert.Equal(t, "c1", f.ChildID)
	require.NotNil(t, f.CategoryID)
	assert.Equal(t, int64(3), *f.CategoryID)
	assert.Equal(t, ReportFilterForm{From: "2024-05-01", To: "2024-05-31", ChildID: "c1", CategoryID: "3"}, form)

	f, _ = parseReportFilters(url.Values{"reset": {"1"}, "child": {"c1"}, "category": {"3"}}, now)
	assert.Equal(t, now.AddDate(0, -3, 0), *f.From)
	assert.Equal(t, "all", f.ChildID)
	assert.Equal(t, int64(3), *f.CategoryID)
}

func TestParseChildFilters(t *testing.T) {
	f, form := parseChildFilters(url.Values{"search": {" mia "}, "status": {"inactive"}, "relationship": {"teacher"}, "max_age": {"6"}})
	assert.Equal(t, "mia", f.Search)
	require.NotNil(t, f.IsActive)
	assert.False(t, *f.IsActive)
	assert.Equal(t, models.RelationshipTeacher, f.RelationshipType)
	require.NotNil(t, f.MaxAge)
	assert.Equal(t, 6, *f.MaxAge)
	assert.Equal(t, "inactive", form.Status)

	f, form = parseChildFilters(url.Values{"status": {"bogus"}, "relationship": {"bogus"}, "max_age": {"-1"}})
	assert.True(t, f.IsZero())
	assert.Equal(t, ChildFilterForm{}, form)
}

func TestDeletedSessionStopsAuthenticating(t *testing.T) {
	s := newTestServer(t, 10)
	s.signUp(t, "ada@example.com", "Ada Admin")
	cookie := s.login(t, "ada@example.com")

	rec := s.do(httptest.NewRequest(http.MethodGet, "/dashboard", nil), cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, repository.NewAuthRepository(s.db).DeleteSession(context.Background(), cookie.Value))
	rec = s.do(httptest.NewRequest(http.MethodGet, "/dashboard", nil), cookie)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))
}
