package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/specialdays/internal/aggregate"
	"github.com/JakeFAU/specialdays/internal/announce"
	"github.com/JakeFAU/specialdays/internal/config"
	"github.com/JakeFAU/specialdays/internal/holidayapi"
	"github.com/JakeFAU/specialdays/internal/metrics"
	"github.com/JakeFAU/specialdays/internal/observance"
	"github.com/JakeFAU/specialdays/internal/sourcecache"
)

// Observances is the aggregation service as the handlers use it.
type Observances interface {
	GetForDate(ctx context.Context, date time.Time) []observance.Observance
	GetUpcoming(ctx context.Context, start time.Time, daysAhead int) map[string][]observance.Observance
	GetDays(ctx context.Context, start time.Time, days int) []aggregate.Day
	GetStatistics(ctx context.Context) aggregate.Statistics
	Verify(ctx context.Context) aggregate.VerifyReport
	SetCategoryEnabled(ctx context.Context, c observance.Category, enabled bool) error
	CategoriesEnabled(ctx context.Context) map[observance.Category]bool
	Degraded() bool
}

// Sources exposes per-source cache control.
type Sources interface {
	Statuses(ctx context.Context) []sourcecache.Status
	Refresh(ctx context.Context, name string, force bool) (sourcecache.RefreshStats, error)
}

// Holidays exposes the holiday API client.
type Holidays interface {
	Status(ctx context.Context) holidayapi.Status
	WeeklyPrefetch(ctx context.Context, daysAhead int, force bool) holidayapi.PrefetchStats
}

// Modes is the announcement cadence state machine.
type Modes interface {
	State(ctx context.Context) (announce.State, error)
	Set(ctx context.Context, mode announce.Mode, weekday *time.Weekday) (announce.State, error)
}

// Ledger records dispatched announcements.
type Ledger interface {
	TryMark(ctx context.Context, kind announce.Kind, key, member string) (bool, error)
}

// IDGenerator produces request IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Deps are the collaborators behind the routes. Nil optional members make
// their routes answer 503.
type Deps struct {
	Observances Observances
	Sources     Sources
	Holidays    Holidays
	Custom      observance.CustomStore
	Modes       Modes
	Ledger      Ledger
	IDs         IDGenerator
	Clock       observance.Clock
}

// Server wires HTTP handlers to the aggregation service and stores.
type Server struct {
	router chi.Router
	deps   Deps
	cfg    config.Config
	logger *zap.Logger
}

const defaultRequestTimeout = 60 * time.Second

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		deps:   deps,
		cfg:    cfg,
		logger: logger.Named("api"),
	}
	timeout := cfg.Server.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(timeout))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Get("/metrics", s.metrics)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/observances", func(r chi.Router) {
			r.Get("/", s.getObservances)
			r.Get("/upcoming", s.getUpcoming)
		})
		r.Get("/statistics", s.getStatistics)
		r.Get("/verify", s.getVerify)
		r.Get("/calendar.ics", s.getCalendar)

		r.Route("/sources", func(r chi.Router) {
			r.Get("/", s.listSources)
			r.Post("/{name}/refresh", s.refreshSource)
		})
		r.Route("/holidays", func(r chi.Router) {
			r.Get("/status", s.holidayStatus)
			r.Post("/prefetch", s.prefetchHolidays)
		})
		r.Route("/custom", func(r chi.Router) {
			r.Get("/", s.listCustom)
			r.Post("/", s.upsertCustom)
			r.Put("/", s.upsertCustom)
			r.Delete("/", s.removeCustom)
		})
		r.Get("/categories", s.listCategories)
		r.Put("/categories/{category}", s.setCategory)
		r.Get("/mode", s.getMode)
		r.Put("/mode", s.setMode)
		r.Post("/announcements/{kind}", s.markAnnouncement)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Observances == nil {
		writeError(w, http.StatusServiceUnavailable, "service not wired")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "degraded": s.deps.Observances.Degraded()})
}

func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	metrics.Handler().ServeHTTP(w, r)
}

func (s *Server) now() time.Time {
	if s.deps.Clock != nil {
		return s.deps.Clock.Now()
	}
	return time.Now()
}

type requestIDKey struct{}

// RequestID returns the request ID stored in ctx, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) newRequestID() string {
	if s.deps.IDs != nil {
		if id, err := s.deps.IDs.NewID(); err == nil {
			return id
		}
	}
	return uuid.NewString()
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = s.newRequestID()
		}
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
		s.logger.Info("request completed",
			zap.String("request_id", RequestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered",
					zap.String("request_id", RequestID(r.Context())),
					zap.Any("error", rec),
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
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

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Probes are exempt.
			if r.URL.Path == "/healthz" || r.URL.Path == "/readyz" {
				next.ServeHTTP(w, r)
				return
			}
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
