package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietddude/rpcsla/internal/core/clock"
	"github.com/vietddude/rpcsla/internal/notify"
	"github.com/vietddude/rpcsla/internal/prober"
	"github.com/vietddude/rpcsla/internal/registry"
	"github.com/vietddude/rpcsla/internal/sla"
)

// Deps are the engine components the API exposes.
type Deps struct {
	Registry *registry.Registry
	Prober   *prober.Prober
	Tracker  *sla.Tracker
	Recorder *sla.Recorder
	Hub      *notify.Hub // optional
	Clock    clock.Clock

	// Backends are pinged by /health, keyed by name.
	Backends map[string]HealthChecker
}

// HealthChecker is a backing store that can be pinged.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Options configures the HTTP server.
type Options struct {
	Port      int
	ReportTTL time.Duration
	// AllowedOrigins enables CORS for browser dashboards. Empty disables it.
	AllowedOrigins []string
}

// Server serves the engine operations over HTTP.
type Server struct {
	deps    Deps
	opts    Options
	reports *cache.Cache
	log     *slog.Logger
	server  *http.Server
}

// NewServer creates a new API server. Reports are cached for opts.ReportTTL.
func NewServer(deps Deps, opts Options) *Server {
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if opts.ReportTTL <= 0 {
		opts.ReportTTL = 30 * time.Second
	}
	s := &Server{
		deps:    deps,
		opts:    opts,
		reports: cache.New(opts.ReportTTL, 2*opts.ReportTTL),
		log:     slog.Default().With("component", "api"),
	}
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Routes builds the HTTP router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	if len(s.opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.opts.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Authorization"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	if s.deps.Hub != nil {
		r.Handle("/ws/alerts", s.deps.Hub)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/endpoints", s.registerEndpoint)
		r.Get("/endpoints", s.listEndpoints)
		r.Route("/endpoints/{id}", func(r chi.Router) {
			r.Get("/", s.getEndpoint)
			r.Put("/", s.updateEndpoint)
			r.Delete("/", s.deleteEndpoint)
			r.Post("/probe", s.probeNow)
		})
		r.Post("/metrics", s.recordMetric)
		r.Get("/alerts", s.getAlerts)
		r.Get("/alerts/{id}", s.getAlert)
		r.Post("/alerts/{id}/ack", s.acknowledgeAlert)
		r.Get("/reports", s.generateReport)
	})
	return r
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.log.Info("API server listening", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
