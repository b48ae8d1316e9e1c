package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/facebook"
	"golang.org/x/oauth2/google"

	"carelog/internal/auth"
	"carelog/internal/authclient"
	"carelog/internal/authstream"
	"carelog/internal/config"
	"carelog/internal/database"
	"carelog/internal/handlers"
	"carelog/internal/logging"
	"carelog/internal/repository"
	"carelog/internal/security"
	"carelog/internal/service"
)

const (
	cleanupInterval   = time.Hour
	limiterSweepEvery = 10 * time.Minute
	shutdownTimeout   = 15 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zerolog.New(os.Stderr).Fatal().Err(err).Msg("failed to load configuration")
	}

	out, err := logging.FromConfig(cfg)
	if err != nil {
		zerolog.New(os.Stderr).Fatal().Err(err).Msg("failed to open log")
	}
	defer out.Close()
	logger := out.Logger

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The server answers with startup progress until initialization is done.
	startup := handlers.NewStartup()
	var app http.Handler
	root := http.NewServeMux()
	root.HandleFunc("GET /startup", startup.StatusHandler(logger))
	root.Handle("/", startup.Gate(logger, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		app.ServeHTTP(w, r)
	})))

	addr := ":" + cfg.ServerPort
	server := &http.Server{
		Addr:         addr,
		Handler:      root,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", addr).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	startup.SetCurrentStep(handlers.StepDatabase)
	db, err := database.InitializeWithConfig(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer db.Close()
	logger.Info().Str("type", cfg.DatabaseType).Msg("database connection established")
	startup.CompleteStep(handlers.StepDatabase)

	startup.SetCurrentStep(handlers.StepMigrations)
	applied, err := db.RunMigrations(ctx, cfg.MigrationsPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to run migrations")
	}
	logger.Info().Strs("applied", applied).Msg("migrations completed")
	startup.CompleteStep(handlers.StepMigrations)

	startup.SetCurrentStep(handlers.StepTemplates)
	templates, err := handlers.LoadTemplates(cfg.TemplatesPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load templates")
	}
	startup.CompleteStep(handlers.StepTemplates)

	startup.SetCurrentStep(handlers.StepServices)
	authRepo := repository.NewAuthRepository(db)
	profileRepo := repository.NewProfileRepository(db)
	settingsRepo := repository.NewSettingsRepository(db)
	childRepo := repository.NewChildRepository(db)
	logRepo := repository.NewLogRepository(db)
	categoryRepo := repository.NewCategoryRepository(db)

	hub := authstream.NewHub()
	tokens := security.NewTokenIssuer(cfg.JWTSecret, cfg.AccessTokenTTL)
	authService := service.NewAuthService(authRepo, settingsRepo, tokens, hub, cfg.SessionDuration, cfg.ResetTokenTTL, logger)
	emailService, err := service.NewEmailService(ctx, service.EmailConfig{
		Region:     cfg.AWSRegion,
		From:       cfg.EmailFrom,
		FromName:   cfg.EmailFromName,
		AppBaseURL: cfg.AppBaseURL,
		Debug:      cfg.EmailDebug,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize email service")
	}

	registry := auth.NewRegistry(func(sessionID string) authclient.Client {
		return authclient.NewLocalClient(authService, emailService, sessionID, logger)
	}, profileRepo, logger)

	childService := service.NewChildService(childRepo, profileRepo, logger)
	logService := service.NewLogService(logRepo, childRepo, categoryRepo, logger)
	reportService := service.NewReportService(logRepo, childRepo, categoryRepo, logger)
	backupService := service.NewBackupService(db, logger)

	csrf := security.NewCSRFGenerator(cfg.CSRFSecret)
	limiter := security.NewRateLimiter(cfg.LoginRateLimit, time.Minute)
	go limiter.Run(ctx, limiterSweepEvery)

	oauthProviders := map[string]handlers.OAuthProvider{
		"google": {
			Name:  "google",
			Label: "Google",
			Config: &oauth2.Config{
				ClientID:     cfg.GoogleClientID,
				ClientSecret: cfg.GoogleClientSecret,
				Endpoint:     google.Endpoint,
				Scopes:       []string{"openid", "email", "profile"},
			},
			UserInfoURL: "https://www.googleapis.com/oauth2/v2/userinfo",
		},
		"facebook": {
			Name:  "facebook",
			Label: "Facebook",
			Config: &oauth2.Config{
				ClientID:     cfg.FacebookClientID,
				ClientSecret: cfg.FacebookClientSecret,
				Endpoint:     facebook.Endpoint,
				Scopes:       []string{"email", "public_profile"},
			},
			UserInfoURL: "https://graph.facebook.com/me?fields=id,name,email",
		},
	}
	for name := range oauthProviders {
		logger.Info().Str("provider", name).Bool("enabled", cfg.OAuthEnabled(name)).Msg("oauth provider")
	}

	middleware := handlers.NewMiddleware(registry, authService, profileRepo, csrf, limiter, logger)
	authHandler := handlers.NewAuthHandler(registry, authService, settingsRepo, templates, oauthProviders, cfg.OAuthRedirectBaseURL, logger)
	dashboardHandler := handlers.NewDashboardHandler(childService, logService, reportService, middleware, templates, logger)
	adminHandler := handlers.NewAdminHandler(profileRepo, settingsRepo, backupService, middleware, templates, logger)
	apiHandler := handlers.NewAPIV1Handler(authService, childService, logService, reportService, logger)
	healthHandler := handlers.NewHealthHandler(startup, db, logger)

	mux := http.NewServeMux()
	mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.Dir(cfg.StaticFilesPath))))
	mux.HandleFunc("GET /healthz", healthHandler.Health)

	// Public routes
	mux.HandleFunc("GET /", authHandler.Home)
	mux.HandleFunc("GET /login", authHandler.ShowLogin)
	mux.HandleFunc("POST /login", middleware.RateLimit(authHandler.Login))
	mux.HandleFunc("GET /register", authHandler.ShowRegister)
	mux.HandleFunc("POST /register", middleware.RateLimit(authHandler.Register))
	mux.HandleFunc("POST /logout", authHandler.Logout)
	mux.HandleFunc("GET /forgot-password", authHandler.ShowForgotPassword)
	mux.HandleFunc("POST /forgot-password", middleware.RateLimit(authHandler.ForgotPassword))
	mux.HandleFunc("GET /reset-password", authHandler.ShowResetPassword)
	mux.HandleFunc("POST /reset-password", middleware.RateLimit(authHandler.ResetPassword))
	mux.HandleFunc("GET /auth/{provider}/start", authHandler.StartOAuth)
	mux.HandleFunc("GET /auth/{provider}/callback", authHandler.OAuthCallback)

	// Dashboard
	mux.HandleFunc("GET /dashboard", middleware.RequireAuth(dashboardHandler.Dashboard))
	mux.HandleFunc("GET /dashboard/children", middleware.RequireAuth(dashboardHandler.Children))
	mux.HandleFunc("GET /dashboard/children/new", middleware.RequireAuth(dashboardHandler.NewChild))
	mux.HandleFunc("POST /dashboard/children", middleware.RequireAuth(middleware.CSRFProtect(dashboardHandler.CreateChild)))
	mux.HandleFunc("GET /dashboard/children/{id}", middleware.RequireAuth(dashboardHandler.ChildDetail))
	mux.HandleFunc("GET /dashboard/children/{id}/edit", middleware.RequireAuth(dashboardHandler.EditChild))
	mux.HandleFunc("POST /dashboard/children/{id}/update", middleware.RequireAuth(middleware.CSRFProtect(dashboardHandler.UpdateChild)))
	mux.HandleFunc("POST /dashboard/children/{id}/archive", middleware.RequireAuth(middleware.CSRFProtect(dashboardHandler.ArchiveChild)))
	mux.HandleFunc("POST /dashboard/children/{id}/members", middleware.RequireAuth(middleware.CSRFProtect(dashboardHandler.AddMember)))
	mux.HandleFunc("POST /dashboard/children/{id}/members/{profileID}/remove", middleware.RequireAuth(middleware.CSRFProtect(dashboardHandler.RemoveMember)))
	mux.HandleFunc("POST /dashboard/children/{id}/logs", middleware.RequireAuth(middleware.CSRFProtect(dashboardHandler.CreateLog)))
	mux.HandleFunc("POST /dashboard/logs/{id}/review", middleware.RequireAuth(middleware.CSRFProtect(dashboardHandler.ReviewLog)))
	mux.HandleFunc("POST /dashboard/logs/{id}/follow-up", middleware.RequireAuth(middleware.CSRFProtect(dashboardHandler.FollowUp)))
	mux.HandleFunc("POST /dashboard/logs/{id}/delete", middleware.RequireAuth(middleware.CSRFProtect(dashboardHandler.DeleteLog)))
	mux.HandleFunc("GET /dashboard/reports", middleware.RequireAuth(dashboardHandler.Reports))
	mux.HandleFunc("GET /dashboard/reports/export", middleware.RequireAuth(dashboardHandler.ExportReport))
	mux.HandleFunc("GET /dashboard/profile", middleware.RequireAuth(dashboardHandler.ShowProfile))
	mux.HandleFunc("POST /dashboard/profile", middleware.RequireAuth(middleware.CSRFProtect(dashboardHandler.UpdateProfile)))

	// Admin routes
	mux.HandleFunc("GET /admin/profiles", middleware.RequireAdmin(adminHandler.ShowProfiles))
	mux.HandleFunc("POST /admin/profiles/{id}/role", middleware.RequireAdmin(middleware.CSRFProtect(adminHandler.UpdateRole)))
	mux.HandleFunc("POST /admin/registration", middleware.RequireAdmin(middleware.CSRFProtect(adminHandler.ToggleRegistration)))
	mux.HandleFunc("GET /admin/backup/export", middleware.RequireAdmin(adminHandler.ExportDatabase))
	mux.HandleFunc("POST /admin/backup/import", middleware.RequireAdmin(middleware.CSRFProtect(adminHandler.ImportDatabase)))

	// JSON API
	mux.HandleFunc("POST /api/v1/token", middleware.RateLimit(apiHandler.Token))
	mux.HandleFunc("GET /api/v1/me", middleware.RequireToken(apiHandler.Me))
	mux.HandleFunc("GET /api/v1/children", middleware.RequireToken(apiHandler.Children))
	mux.HandleFunc("GET /api/v1/children/{id}", middleware.RequireToken(apiHandler.Child))
	mux.HandleFunc("GET /api/v1/logs", middleware.RequireToken(apiHandler.Logs))
	mux.HandleFunc("GET /api/v1/reports", middleware.RequireToken(apiHandler.Report))

	app = middleware.Logging(middleware.Recover(mux))
	startup.CompleteStep(handlers.StepServices)
	startup.MarkReady()
	logger.Info().Msg("server ready")

	go cleanupExpiredSessions(ctx, authService, registry, logger)

	<-ctx.Done()
	logger.Info().Msg("server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	registry.Close()
	hub.Close()
}

// cleanupExpiredSessions periodically removes expired sessions and drops their providers
func cleanupExpiredSessions(ctx context.Context, authService *service.AuthService, registry *auth.Registry, logger zerolog.Logger) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ids, err := authService.CleanupExpiredSessions(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("error cleaning up expired sessions")
				continue
			}
			dropped := registry.Sweep(ids)
			logger.Info().Int("sessions", len(ids)).Int("providers", dropped).Msg("expired sessions cleaned up")
		}
	}
}
