package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/radiusdt/insights-cache/internal/clients"
	"github.com/radiusdt/insights-cache/internal/config"
	"github.com/radiusdt/insights-cache/internal/metrics"
	"github.com/radiusdt/insights-cache/internal/middleware"
	"github.com/radiusdt/insights-cache/internal/models"
	"github.com/radiusdt/insights-cache/internal/period"
	"go.uber.org/zap"
)

// healthTimeout bounds each dependency probe in /health.
const healthTimeout = 2 * time.Second

// MetricsService serves period summaries.
type MetricsService interface {
	GetPeriodMetrics(ctx context.Context, clientID string, p models.Platform, r period.Range) (*models.PeriodSummary, error)
}

// HealthChecker is a dependency probed by /health.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Dependencies holds all external dependencies for the server.
// Leave DB or Redis nil when they are not configured.
type Dependencies struct {
	Service   MetricsService
	Directory clients.Directory
	DB        HealthChecker
	Redis     HealthChecker
	Config    *config.Config
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
}

// Server wraps HTTP handlers around the insights service.
type Server struct {
	service   MetricsService
	directory clients.Directory
	checks    map[string]HealthChecker
	logger    *zap.Logger
	config    *config.Config
	metrics   *metrics.Metrics
}

// NewServer constructs a new http.Handler with all routes and middleware registered.
func NewServer(deps *Dependencies) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		service:   deps.Service,
		directory: deps.Directory,
		checks:    map[string]HealthChecker{},
		logger:    logger,
		config:    deps.Config,
		metrics:   deps.Metrics,
	}
	if deps.DB != nil {
		s.checks["postgres"] = deps.DB
	}
	if deps.Redis != nil {
		s.checks["redis"] = deps.Redis
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestIDMiddleware)
	r.Use(middleware.NewRecoveryMiddleware(logger).Handler)
	r.Use(middleware.NewLoggingMiddleware(logger).Handler)
	r.Use(middleware.NewMetricsMiddleware(deps.Metrics).Handler)
	rl := middleware.NewRateLimitMiddleware(deps.Config.RateLimit, deps.Metrics, logger)
	r.Use(rl.Handler, rl.HandlerPerIP)
	r.Use(middleware.NewAuthMiddleware(deps.Config.Auth, logger).Handler)

	r.Get("/health", s.handleHealth)
	if deps.Config.Metrics.Enabled {
		r.Method(http.MethodGet, deps.Config.Metrics.Path, metrics.Handler())
	}

	r.Route("/v1/clients", func(r chi.Router) {
		r.Get("/", s.handleClients)
		r.Route("/{clientID}/platforms/{platform}", func(r chi.Router) {
			r.Get("/metrics", s.handlePeriodMetrics)
			r.Get("/periods/{periodID}", s.handlePeriodByID)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.errorResponse(w, "not found", http.StatusNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.errorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
	})

	return r
}

// ---- Health Check ----

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	results := make(map[string]string, len(s.checks))
	for name, c := range s.checks {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		err := c.Health(ctx)
		cancel()
		if err != nil {
			s.logger.Warn("health check failed", zap.String("dependency", name), zap.Error(err))
			results[name] = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	body := map[string]interface{}{"status": "ok", "checks": results}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	s.jsonStatus(w, body, status)
}

// ---- Clients ----

type clientView struct {
	ID        string            `json:"id"`
	Name      string            `json:"name,omitempty"`
	Platforms []models.Platform `json:"platforms"`
}

func (s *Server) handleClients(w http.ResponseWriter, r *http.Request) {
	list, err := s.directory.List(r.Context())
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	out := make([]clientView, 0, len(list))
	for _, c := range list {
		out = append(out, clientView{ID: c.ID, Name: c.Name, Platforms: c.Platforms()})
	}
	s.jsonResponse(w, map[string]interface{}{"clients": out})
}

// ---- Period Metrics ----

func (s *Server) handlePeriodMetrics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	start, end := q.Get("start"), q.Get("end")
	if start == "" || end == "" {
		s.errorResponse(w, "start and end are required (YYYY-MM-DD)", http.StatusBadRequest)
		return
	}
	rng, err := period.ParseRange(start, end)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	s.servePeriod(w, r, rng)
}

func (s *Server) handlePeriodByID(w http.ResponseWriter, r *http.Request) {
	t, d, err := models.ParsePeriodID(chi.URLParam(r, "periodID"))
	if err != nil {
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.servePeriod(w, r, period.Bounds(t, d))
}

func (s *Server) servePeriod(w http.ResponseWriter, r *http.Request, rng period.Range) {
	clientID := chi.URLParam(r, "clientID")
	p := models.Platform(chi.URLParam(r, "platform"))

	summary, err := s.service.GetPeriodMetrics(r.Context(), clientID, p, rng)
	if err != nil {
		s.serviceError(w, r, err)
		return
	}
	s.jsonResponse(w, summary)
}

// ---- Helper Methods ----

// serviceError maps domain errors onto HTTP status codes.
func (s *Server) serviceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, models.ErrNoData), errors.Is(err, models.ErrUnknownClient):
		s.errorResponse(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, models.ErrInvalidRange), errors.Is(err, models.ErrUnsupportedPlatform):
		s.errorResponse(w, err.Error(), http.StatusBadRequest)
	case models.IsUpstream(err):
		s.logger.Warn("upstream fetch failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.RequestID(r.Context())),
			zap.Error(err),
		)
		s.errorResponse(w, "ad platform unavailable", http.StatusBadGateway)
	case errors.Is(err, context.Canceled):
		// client went away; nothing useful to write
	default:
		s.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.RequestID(r.Context())),
			zap.Error(err),
		)
		s.errorResponse(w, "internal server error", http.StatusInternalServerError)
	}
}

func (s *Server) jsonResponse(w http.ResponseWriter, data interface{}) {
	s.jsonStatus(w, data, http.StatusOK)
}

func (s *Server) jsonStatus(w http.ResponseWriter, data interface{}, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) errorResponse(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
