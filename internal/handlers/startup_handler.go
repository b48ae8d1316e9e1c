package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Startup steps, in order.
const (
	StepDatabase   = "Database connection"
	StepMigrations = "Running migrations"
	StepTemplates  = "Loading templates"
	StepServices   = "Initializing services"
	StepReady      = "Server ready"
)

const healthTimeout = 2 * time.Second

// StartupStep is one initialization step
type StartupStep struct {
	Name      string `json:"name"`
	Completed bool   `json:"completed"`
}

// StartupStatus is the JSON body of the status endpoint
type StartupStatus struct {
	Ready    bool          `json:"ready"`
	Current  string        `json:"current"`
	Progress int           `json:"progress"`
	Steps    []StartupStep `json:"steps"`
}

// Startup tracks initialization progress
type Startup struct {
	mu     sync.RWMutex
	status StartupStatus
}

// NewStartup returns a tracker with every step pending
func NewStartup() *Startup {
	names := []string{StepDatabase, StepMigrations, StepTemplates, StepServices, StepReady}
	steps := make([]StartupStep, len(names))
	for i, name := range names {
		steps[i] = StartupStep{Name: name}
	}
	return &Startup{status: StartupStatus{Current: "Initializing...", Steps: steps}}
}

// SetCurrentStep updates the current initialization step
func (s *Startup) SetCurrentStep(step string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Current = step
}

// CompleteStep marks a step as completed and updates progress
func (s *Startup) CompleteStep(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	completed := 0
	for i := range s.status.Steps {
		if s.status.Steps[i].Name == name {
			s.status.Steps[i].Completed = true
		}
		if s.status.Steps[i].Completed {
			completed++
		}
	}
	s.status.Progress = completed * 100 / len(s.status.Steps)
}

// MarkReady marks the server as fully initialized
func (s *Startup) MarkReady() {
	s.CompleteStep(StepReady)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.Ready = true
	s.status.Current = StepReady
	s.status.Progress = 100
}

// IsReady returns whether the server is fully initialized
func (s *Startup) IsReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status.Ready
}

// Status returns a copy of the current progress
func (s *Startup) Status() StartupStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.status
	out.Steps = append([]StartupStep(nil), s.status.Steps...)
	return out
}

// Gate answers 503 with the startup status until the server is ready.
func (s *Startup) Gate(log zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.IsReady() {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Retry-After", "2")
		respondWithJSON(w, log, http.StatusServiceUnavailable, s.Status())
	})
}

// StatusHandler reports initialization progress as JSON
func (s *Startup) StatusHandler(log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondWithJSON(w, log, http.StatusOK, s.Status())
	}
}

// Pinger is satisfied by *database.DB
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthHandler serves the health endpoint
type HealthHandler struct {
	startup *Startup
	db      Pinger
	log     zerolog.Logger
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(startup *Startup, db Pinger, logger zerolog.Logger) *HealthHandler {
	return &HealthHandler{startup: startup, db: db, log: logger.With().Str("component", "health").Logger()}
}

// Health pings the database
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	if !h.startup.IsReady() {
		respondWithJSON(w, h.log, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()
	if err := h.db.PingContext(ctx); err != nil {
		h.log.Error().Err(err).Msg("database ping failed")
		respondWithJSON(w, h.log, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	respondWithJSON(w, h.log, http.StatusOK, map[string]string{"status": "ok"})
}
