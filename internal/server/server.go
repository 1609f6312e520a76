// Package server provides the HTTP API for inspecting and tuning the detector.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"

	"github.com/ayusman/ardetect/internal/app"
	"github.com/ayusman/ardetect/internal/detector"
	xlog "github.com/ayusman/ardetect/internal/log"
	"github.com/ayusman/ardetect/internal/store"
)

// Controller is the part of the application the API drives.
type Controller interface {
	Options() detector.Options
	Reconfigure(opts detector.Options) error
	Latest() app.Snapshot
	SetEnabled(enabled bool)
	IsEnabled() bool
}

// maxBodyBytes caps JSON request bodies on write endpoints.
const maxBodyBytes = 1 << 16

// settingsWritesPerMinute bounds per-client writes that rebuild the engine.
const settingsWritesPerMinute = 30

// Config holds the server configuration.
type Config struct {
	Controller Controller
	// Store backs the run history endpoints. Optional.
	Store *store.Store
	// Metrics serves /metrics when set.
	Metrics http.Handler
	// StaticDir is served at / when set.
	StaticDir string
	// AllowedOrigins enables CORS for browser dashboards on other origins.
	AllowedOrigins []string
}

// Server is the HTTP server for the detector API.
type Server struct {
	config Config
	router chi.Router
	start  time.Time
	logger zerolog.Logger
}

// New creates a new Server with the given configuration.
func New(config Config) *Server {
	s := &Server{
		config: config,
		router: chi.NewRouter(),
		start:  time.Now(),
		logger: xlog.WithComponent("server"),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes for the server.
func (s *Server) setupRoutes() {
	r := s.router
	r.Use(middleware.Recoverer)
	if len(s.config.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.config.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPut, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/api/health", s.handleHealth)

	if s.config.Controller != nil {
		r.Get("/api/settings", s.handleGetSettings)
		r.Get("/api/results/latest", s.handleLatest)
		r.Group(func(r chi.Router) {
			r.Use(writeLimiter())
			r.Put("/api/settings", s.handlePutSettings)
			r.Put("/api/enabled", s.handlePutEnabled)
		})
	}

	if s.config.Store != nil {
		r.Get("/api/runs", s.handleRuns)
		r.Get("/api/runs/stats", s.handleRunStats)
	}

	if s.config.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.config.Metrics)
	}

	if s.config.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(s.config.StaticDir)))
	}
}

func writeLimiter() func(http.Handler) http.Handler {
	return httprate.Limit(
		settingsWritesPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "too many settings changes, try again later")
		}),
	)
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Run serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("event", "server.listening").Str("addr", addr).Msg("starting HTTP server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	<-errCh
	s.logger.Info().Str("event", "server.stopped").Msg("HTTP server stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(s.start).String(),
	}
	if s.config.Controller != nil {
		response["enabled"] = s.config.Controller.IsEnabled()
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.config.Controller.Options())
}

// handlePutSettings accepts a partial options document; omitted fields keep
// their current values.
func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	opts := s.config.Controller.Options()

	if err := decodeBody(w, r, &opts); err != nil {
		writeError(w, http.StatusBadRequest, "invalid settings: "+err.Error())
		return
	}

	if err := s.config.Controller.Reconfigure(opts); err != nil {
		if errors.Is(err, app.ErrInvalidOptions) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		s.internalError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, s.config.Controller.Options())
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	snap := s.config.Controller.Latest()
	if snap.UpdatedAt.IsZero() {
		writeError(w, http.StatusNotFound, "no results yet")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handlePutEnabled(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Enabled *bool `json:"enabled"`
	}
	if err := decodeBody(w, r, &body); err != nil || body.Enabled == nil {
		writeError(w, http.StatusBadRequest, `expected {"enabled": true|false}`)
		return
	}
	s.config.Controller.SetEnabled(*body.Enabled)
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": s.config.Controller.IsEnabled()})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, 1000)
	}

	runs, err := s.config.Store.Runs().Recent(limit)
	if err != nil {
		s.internalError(w, err)
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleRunStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.config.Store.Runs().Stats()
	if err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.logger.Error().Err(err).Str("event", "server.internal_error").Msg("request failed")
	writeError(w, http.StatusInternalServerError, "internal error")
}

// decodeBody decodes a bounded JSON body into v, rejecting unknown fields.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
