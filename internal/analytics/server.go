package analytics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/pulsetrack/internal/metrics"
)

const (
	maxBodyBytes     = 1 << 20
	maxRollupDays    = 31
	rollupListWindow = 30
)

// ServerOptions configures the browser-facing protections of the router.
type ServerOptions struct {
	CORSOrigins       []string
	RateLimitRequests int
	RateLimitWindow   time.Duration
	RateLimitDisabled bool
}

// Server exposes the ingestion endpoint, the aggregation API and the
// manual-correction routes over one store.
type Server struct {
	store        *Store
	orchestrator RollupOrchestrator
	logger       *slog.Logger
	opts         ServerOptions
	now          func() time.Time
}

// NewServer creates an analytics server with the required collaborators
// wired in. orchestrator may be nil, which disables the rollup trigger.
func NewServer(store *Store, orchestrator RollupOrchestrator, logger *slog.Logger, opts ServerOptions) *Server {
	return &Server{
		store:        store,
		orchestrator: orchestrator,
		logger:       logger,
		opts:         opts,
		now:          time.Now,
	}
}

// Router configures all analytics routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.opts.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	health := func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	}
	r.Get("/health", health)
	r.Get("/healthz", health)
	r.Get("/debug/db", s.handleDebugDB)
	r.Handle("/metrics", promhttp.Handler())

	limited := r.With(s.rateLimit())
	limited.Post("/json/events", s.handleIngest)

	r.Route("/api/analytics", s.analyticsRoutes)
	r.Route("/analytics", s.analyticsRoutes)

	// Manual-correction routes over the raw tables.
	r.Route("/static", func(r chi.Router) {
		r.Get("/", s.handleListStatic)
		r.With(s.rateLimit()).Post("/", s.handleCreateStatic)
		r.Get("/{id}", s.handleGetStatic)
		r.Put("/{id}", s.handleUpdateStatic)
		r.Delete("/{id}", s.handleDeleteStatic)
	})
	r.Route("/perf", func(r chi.Router) {
		r.Get("/", s.handleListPerf)
		r.With(s.rateLimit()).Post("/", s.handleCreatePerf)
	})
	r.Route("/activity", func(r chi.Router) {
		r.Get("/", s.handleListActivity)
		r.With(s.rateLimit()).Post("/", s.handleCreateActivity)
	})

	return r
}

func (s *Server) analyticsRoutes(r chi.Router) {
	r.Get("/pageviews", s.handlePageviews)
	r.Get("/top-routes", s.handleTopRoutes)
	r.Get("/errors", s.handleErrors)
	r.Get("/error-rate", s.handleErrorRate)
	r.Get("/rollups", s.handleListRollups)
	r.Post("/rollups/run", s.handleRunRollups)
}

func (s *Server) rateLimit() func(http.Handler) http.Handler {
	if s.opts.RateLimitDisabled || s.opts.RateLimitRequests <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		s.opts.RateLimitRequests,
		s.opts.RateLimitWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		}),
	)
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var ev Event
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&ev); err != nil {
		metrics.IngestedEvents.WithLabelValues("unknown", "rejected").Inc()
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	label := string(ev.Type)
	if !ev.Type.Valid() {
		label = "unknown"
	}

	res, err := s.store.InsertEvent(r.Context(), ev)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			metrics.IngestedEvents.WithLabelValues(label, "rejected").Inc()
		} else {
			metrics.IngestedEvents.WithLabelValues(label, "failed").Inc()
		}
		s.fail(w, r, "ingest event", err)
		return
	}

	if res.Duplicate {
		metrics.IngestedEvents.WithLabelValues(label, "duplicate").Inc()
		writeJSON(w, http.StatusOK, map[string]any{"id": res.ID, "ok": true, "duplicate": true})
		return
	}
	metrics.IngestedEvents.WithLabelValues(label, "stored").Inc()
	writeJSON(w, http.StatusCreated, map[string]any{"id": res.ID, "ok": true})
}

func (s *Server) handlePageviews(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	since, err := ParseSince(q.Get("since"), DefaultPageviewsWindow, s.now())
	if err != nil {
		s.fail(w, r, "pageviews", err)
		return
	}
	g, err := ParseGranularity(q.Get("groupBy"), ByDay)
	if err != nil {
		s.fail(w, r, "pageviews", err)
		return
	}
	points, err := s.store.Pageviews(r.Context(), since, g)
	if err != nil {
		s.fail(w, r, "pageviews", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"points": points})
}

func (s *Server) handleTopRoutes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	since, err := ParseSince(q.Get("since"), DefaultTopRoutesWindow, s.now())
	if err != nil {
		s.fail(w, r, "top routes", err)
		return
	}
	routes, err := s.store.TopRoutes(r.Context(), since, ClampLimit(q.Get("limit")))
	if err != nil {
		s.fail(w, r, "top routes", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"routes": routes})
}

func (s *Server) handleErrors(w http.ResponseWriter, r *http.Request) {
	since, err := ParseSince(r.URL.Query().Get("since"), DefaultErrorsWindow, s.now())
	if err != nil {
		s.fail(w, r, "errors", err)
		return
	}
	report, err := s.store.Errors(r.Context(), since)
	if err != nil {
		s.fail(w, r, "errors", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleErrorRate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	since, err := ParseSince(q.Get("since"), DefaultErrorRateWindow, s.now())
	if err != nil {
		s.fail(w, r, "error rate", err)
		return
	}
	g, err := ParseGranularity(q.Get("groupBy"), ByHour)
	if err != nil {
		s.fail(w, r, "error rate", err)
		return
	}
	points, err := s.store.ErrorRate(r.Context(), since, g)
	if err != nil {
		s.fail(w, r, "error rate", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"points": points})
}

func (s *Server) handleListRollups(w http.ResponseWriter, r *http.Request) {
	since, err := ParseSince(r.URL.Query().Get("since"), rollupListWindow, s.now())
	if err != nil {
		s.fail(w, r, "list rollups", err)
		return
	}
	rollups, err := s.store.ListRollups(r.Context(), since)
	if err != nil {
		s.fail(w, r, "list rollups", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rollups": rollups})
}

func (s *Server) handleRunRollups(w http.ResponseWriter, r *http.Request) {
	if s.orchestrator == nil {
		writeError(w, http.StatusServiceUnavailable, "rollups are not configured")
		return
	}
	q := r.URL.Query()
	days := 1
	if raw := q.Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "days must be an integer")
			return
		}
		days = max(1, min(maxRollupDays, n))
	}
	input := RollupWorkflowInput{Days: RollupDays(s.now(), days), Reason: "api"}

	if async, _ := strconv.ParseBool(q.Get("async")); async {
		id, err := s.orchestrator.RunRollupAsync(r.Context(), input)
		if err != nil {
			s.fail(w, r, "dispatch rollup", err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"workflow_id": id, "days": input.Days})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()
	result, err := s.orchestrator.RunRollup(ctx, input)
	if err != nil {
		s.fail(w, r, "run rollup", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleDebugDB(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	body := map[string]any{"driver": s.store.Dialect().Name, "ok": true}
	if err := s.store.Ping(ctx); err != nil {
		body["ok"] = false
		body["error"] = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

// fail maps store errors to responses. Anything that is not the client's
// fault is logged and reported as a generic server error.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	var verr *ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, "%s", verr.Message)
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	default:
		s.logger.Error(op+" failed", "error", err, "request_id", middleware.GetReqID(r.Context()))
		writeError(w, http.StatusInternalServerError, "server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, format string, args ...any) {
	writeJSON(w, status, map[string]any{
		"error": strings.TrimSpace(fmt.Sprintf(format, args...)),
	})
}
