package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/listing-harvester/internal/crawler"
	"github.com/JakeFAU/listing-harvester/internal/metrics"
	"github.com/JakeFAU/listing-harvester/internal/proxypool"
	"github.com/JakeFAU/listing-harvester/internal/stats"
)

// StatsSource exposes the harvesting counters.
type StatsSource interface {
	Snapshot() stats.Snapshot
}

// CursorDepth exposes cursor queue sizes.
type CursorDepth interface {
	Depth(dir crawler.Direction) int
	Capacity() int
}

// PoolStats exposes proxy pool state.
type PoolStats interface {
	Stats() proxypool.Stats
}

// DedupSize exposes the forwarded-id buffer size.
type DedupSize interface {
	Len() int
}

// ReportHistory lists recent cycle reports, newest first.
type ReportHistory interface {
	Recent(ctx context.Context, limit int) ([]crawler.CycleReport, error)
}

// Deps are the read-only views the server reports on. History is optional.
type Deps struct {
	Stats   StatsSource
	Cursors CursorDepth
	Pool    PoolStats
	Dedup   DedupSize
	History ReportHistory
}

// Server wires HTTP handlers to the harvester state.
type Server struct {
	router chi.Router
	deps   Deps
	logger *zap.Logger
}

const defaultCycleLimit = 20

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Status     string          `json:"status"`
	Fetched    uint64          `json:"fetched"`
	Sent       uint64          `json:"sent"`
	Added      uint64          `json:"added"`
	Errors     uint64          `json:"errors"`
	RatePerMin uint64          `json:"rate_per_min"`
	DepthAsc   int             `json:"depth_asc"`
	DepthDesc  int             `json:"depth_desc"`
	DepthTotal int             `json:"depth_total"`
	DepthCap   int             `json:"depth_capacity"`
	DedupSize  int             `json:"dedup_size"`
	Pool       proxypool.Stats `json:"pool"`
	Counters   stats.Snapshot  `json:"counters"`
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	s := &Server{deps: deps, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(30 * time.Second))

	r.Get("/", s.status)
	r.Get("/status", s.status)
	r.Get("/health", s.healthz)
	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Get("/cycles", s.cycles)
	r.Handle("/metrics", metrics.Handler())

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

// readyz reports ready once the first cycle has finished.
func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Stats == nil || s.deps.Stats.Snapshot().Cycles == 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	resp := StatusResponse{Status: "running"}
	if s.deps.Stats != nil {
		snap := s.deps.Stats.Snapshot()
		resp.Counters = snap
		resp.Fetched = snap.Fetched
		resp.Sent = snap.Sent
		resp.Added = snap.Added
		resp.Errors = snap.Errors
		resp.RatePerMin = snap.RatePerMin
	}
	if s.deps.Cursors != nil {
		resp.DepthAsc = s.deps.Cursors.Depth(crawler.Asc)
		resp.DepthDesc = s.deps.Cursors.Depth(crawler.Desc)
		resp.DepthTotal = resp.DepthAsc + resp.DepthDesc
		resp.DepthCap = s.deps.Cursors.Capacity()
	}
	if s.deps.Pool != nil {
		resp.Pool = s.deps.Pool.Stats()
	}
	if s.deps.Dedup != nil {
		resp.DedupSize = s.deps.Dedup.Len()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) cycles(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeError(w, http.StatusNotFound, "cycle history disabled")
		return
	}
	limit := defaultCycleLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be within 1-500")
			return
		}
		limit = n
	}
	reports, err := s.deps.History.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("list cycle reports failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list cycles")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cycles": reports})
}

type requestIDKey struct{}

// RequestID returns the request id stored by the server middleware.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Debug("request completed",
				zap.String("request_id", RequestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.Error("panic recovered",
						zap.String("request_id", RequestID(r.Context())),
						zap.Any("panic", rec),
					)
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
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

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil && !errors.Is(err, http.ErrHandlerTimeout) {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
