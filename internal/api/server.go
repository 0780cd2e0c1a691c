// Package api exposes the HTTP interface for the bookmark sync service.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jstrand/bookmark-sync/internal/bookmark"
	"github.com/jstrand/bookmark-sync/internal/instapaper"
	"github.com/jstrand/bookmark-sync/internal/metrics"
	"github.com/jstrand/bookmark-sync/internal/store"
	syncsvc "github.com/jstrand/bookmark-sync/internal/sync"
)

// SyncService is the slice of the reconciler the handlers need.
type SyncService interface {
	SyncBookmarks(ctx context.Context, opts syncsvc.Options) bookmark.SyncResult
	AddToInstapaper(ctx context.Context, localID string) error
	RefreshBookmark(ctx context.Context, localID string) error
	GetSyncStatus(ctx context.Context) (bookmark.SyncStatusReport, error)
}

// SyncTrigger requests an immediate background reconciliation cycle.
type SyncTrigger interface {
	Trigger()
}

// AuthClient covers the credential operations exposed over HTTP.
type AuthClient interface {
	Authenticate(ctx context.Context, username, password string) (instapaper.Tokens, error)
	VerifyCredentials(ctx context.Context) (instapaper.User, error)
	Authenticated() bool
}

// Config tunes the HTTP surface.
type Config struct {
	// SchedulerSecret guards POST /sync/schedule. Empty disables the
	// endpoint entirely rather than leaving it open.
	SchedulerSecret string
	// ScheduleLimit caps the per-cycle fetch for scheduler-triggered
	// syncs, which run far more often than manual ones.
	ScheduleLimit  int
	RequestTimeout time.Duration
}

// Server wires HTTP handlers to the sync service.
type Server struct {
	router  chi.Router
	sync    SyncService
	auth    AuthClient
	trigger SyncTrigger
	cfg     Config
	logger  *zap.Logger
}

// SetSyncTrigger enables POST /sync/trigger. Without one the endpoint
// answers 503, since there is no background loop to hand the cycle to.
func (s *Server) SetSyncTrigger(t SyncTrigger) {
	s.trigger = t
}

// NewServer constructs a Server with middleware and routes.
func NewServer(sync SyncService, auth AuthClient, cfg Config, logger *zap.Logger) *Server {
	if cfg.ScheduleLimit <= 0 {
		cfg.ScheduleLimit = 50
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	metrics.Init()

	s := &Server{
		sync:   sync,
		auth:   auth,
		cfg:    cfg,
		logger: logger.Named("api"),
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Post("/sync", s.triggerSync)
	r.Get("/sync", s.syncStatus)
	r.Post("/sync/trigger", s.backgroundSync)
	r.With(s.schedulerAuth).Post("/sync/schedule", s.scheduledSync)

	r.Route("/bookmarks/{id}", func(r chi.Router) {
		r.Post("/refresh", s.refreshBookmark)
		r.Post("/push", s.pushBookmark)
	})

	r.Post("/instapaper/auth", s.authenticate)
	r.Get("/instapaper/auth", s.verifyCredentials)

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.sync.GetSyncStatus(r.Context()); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type syncRequest struct {
	Limit          *int  `json:"limit"`
	ForceRefresh   *bool `json:"force_refresh"`
	EnrichMetadata *bool `json:"enrich_metadata"`
}

type syncResponse struct {
	Success bool        `json:"success"`
	Summary syncSummary `json:"summary"`
	Errors  []string    `json:"errors"`
}

type syncSummary struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Errors  int `json:"errors"`
}

func (s *Server) triggerSync(w http.ResponseWriter, r *http.Request) {
	opts := syncsvc.DefaultOptions()
	if r.Body != nil && r.ContentLength != 0 {
		var req syncRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		if req.Limit != nil {
			opts.Limit = *req.Limit
		}
		if req.ForceRefresh != nil {
			opts.ForceRefresh = *req.ForceRefresh
		}
		if req.EnrichMetadata != nil {
			opts.EnrichMetadata = *req.EnrichMetadata
		}
	}
	s.runSync(w, r, opts)
}

func (s *Server) scheduledSync(w http.ResponseWriter, r *http.Request) {
	opts := syncsvc.DefaultOptions()
	opts.Limit = s.cfg.ScheduleLimit
	if r.Body != nil && r.ContentLength != 0 {
		var req syncRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		if req.ForceRefresh != nil {
			opts.ForceRefresh = *req.ForceRefresh
		}
	}
	s.runSync(w, r, opts)
}

// runSync always answers 200 for a completed cycle; partial failure is
// reported through success=false, not an HTTP error status.
func (s *Server) runSync(w http.ResponseWriter, r *http.Request, opts syncsvc.Options) {
	start := time.Now()
	result := s.sync.SyncBookmarks(r.Context(), opts)
	metrics.ObserveSyncCycle(result.Success, result.Created, result.Updated, result.Errors, time.Since(start))

	errs := result.ErrorMessages
	if errs == nil {
		errs = []string{}
	}
	s.writeJSON(w, http.StatusOK, syncResponse{
		Success: result.Success,
		Summary: syncSummary{Created: result.Created, Updated: result.Updated, Errors: result.Errors},
		Errors:  errs,
	})
}

// backgroundSync queues a cycle on the scheduler instead of running it
// inline, so the caller is not held for the full cycle duration.
func (s *Server) backgroundSync(w http.ResponseWriter, _ *http.Request) {
	if s.trigger == nil {
		s.writeError(w, http.StatusServiceUnavailable, "background scheduler not running")
		return
	}
	s.trigger.Trigger()
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (s *Server) syncStatus(w http.ResponseWriter, r *http.Request) {
	report, err := s.sync.GetSyncStatus(r.Context())
	if err != nil {
		s.logger.Error("sync status failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load sync status")
		return
	}
	if report.Errors == nil {
		report.Errors = []string{}
	}
	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) refreshBookmark(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.sync.RefreshBookmark(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "bookmark not found")
			return
		}
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "refreshed"})
}

func (s *Server) pushBookmark(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.sync.AddToInstapaper(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "bookmark not found")
			return
		}
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "pushed"})
}

type authRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) {
	var req authRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Password == "" {
		s.writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}
	if _, err := s.auth.Authenticate(r.Context(), req.Username, req.Password); err != nil {
		s.logger.Warn("authentication failed", zap.String("username", req.Username), zap.Error(err))
		s.writeError(w, http.StatusUnauthorized, "authentication failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"authenticated": true})
}

func (s *Server) verifyCredentials(w http.ResponseWriter, r *http.Request) {
	if !s.auth.Authenticated() {
		s.writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}
	user, err := s.auth.VerifyCredentials(r.Context())
	if err != nil {
		s.writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"username":      user.Username,
	})
}

// schedulerAuth enforces the bearer secret shared with the external
// scheduler.
func (s *Server) schedulerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.SchedulerSecret == "" {
			s.writeError(w, http.StatusUnauthorized, "scheduler endpoint disabled")
			return
		}
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == r.Header.Get("Authorization") ||
			subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.SchedulerSecret)) != 1 {
			s.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		duration := time.Since(start)
		metrics.ObserveHTTPRequest(r.Method, routePattern(r), ww.status, duration)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", duration.Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
