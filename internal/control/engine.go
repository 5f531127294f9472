package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/vietddude/rpcsla/internal/api"
	"github.com/vietddude/rpcsla/internal/core/clock"
	"github.com/vietddude/rpcsla/internal/core/config"
	"github.com/vietddude/rpcsla/internal/core/domain"
	"github.com/vietddude/rpcsla/internal/core/scheduler"
	"github.com/vietddude/rpcsla/internal/core/worker"
	redisclient "github.com/vietddude/rpcsla/internal/infra/redis"
	"github.com/vietddude/rpcsla/internal/infra/storage"
	"github.com/vietddude/rpcsla/internal/infra/storage/memory"
	"github.com/vietddude/rpcsla/internal/infra/storage/postgres"
	"github.com/vietddude/rpcsla/internal/notify"
	"github.com/vietddude/rpcsla/internal/probe"
	"github.com/vietddude/rpcsla/internal/prober"
	"github.com/vietddude/rpcsla/internal/registry"
	"github.com/vietddude/rpcsla/internal/sink"
	"github.com/vietddude/rpcsla/internal/sla"
)

// Config holds the engine configuration.
type Config struct {
	Port           int
	ReportCacheTTL time.Duration
	AllowedOrigins []string
	Database       postgres.Config
	Redis          redisclient.Config
	Prober         config.ProberConfig
	SLA            config.SLAConfig
	Alerting       config.AlertingConfig
	Seeds          []domain.Endpoint

	// Clock and Scheduler override the real implementations. Used in tests.
	Clock     clock.Clock
	Scheduler scheduler.Scheduler
	// HTTPClient is used for probes. A pooled client is created when nil.
	HTTPClient *http.Client
}

// ConfigFrom maps the application config to the engine config.
func ConfigFrom(cfg *config.AppConfig) Config {
	return Config{
		Port:           cfg.Server.Port,
		ReportCacheTTL: cfg.Server.ReportCacheTTL,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Database:       cfg.Database,
		Redis:          cfg.Redis,
		Prober:         cfg.Prober,
		SLA:            cfg.SLA,
		Alerting:       cfg.Alerting,
		Seeds:          cfg.SeedEndpoints(),
	}
}

// Engine wires the registry, prober, SLA tracker, alert sinks and API together.
type Engine struct {
	cfg   Config
	log   *slog.Logger
	clock clock.Clock
	sched scheduler.Scheduler

	db          *postgres.DB
	redisClient *redisclient.Client
	metricSink  *sink.Buffered
	hub         *notify.Hub
	pruner      *worker.Pruner

	Registry *registry.Registry
	Prober   *prober.Prober
	Tracker  *sla.Tracker
	Recorder *sla.Recorder
	Server   *api.Server

	jobs []scheduler.Job
}

// NewEngine creates the engine and loads the endpoint registry.
func NewEngine(ctx context.Context, cfg Config) (*Engine, error) {
	log := slog.Default().With("component", "engine")

	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real{}
	}

	e := &Engine{
		cfg:   cfg,
		log:   log,
		clock: clk,
		sched: cfg.Scheduler,
	}
	if e.sched == nil {
		e.sched = newScheduler(cfg.Prober.Scheduler)
	}

	if err := e.build(ctx); err != nil {
		e.close()
		return nil, err
	}
	return e, nil
}

func newScheduler(kind string) scheduler.Scheduler {
	if kind == "cron" {
		return scheduler.NewCron()
	}
	return scheduler.NewTicker()
}

func (e *Engine) build(ctx context.Context) error {
	cfg := e.cfg

	// Initialize PostgreSQL
	if cfg.Database.URL != "" {
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		e.db = db
		if err := db.Migrate(ctx); err != nil {
			return err
		}
		e.log.Info("Connected to PostgreSQL")
	}

	// Metric history: Redis when configured, in-process otherwise
	var metricStore storage.MetricStore
	mem := memory.NewMemoryStorage(cfg.SLA.HistorySize)
	if cfg.Redis.URL != "" {
		client, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			return err
		}
		e.redisClient = client
		metricStore = redisclient.NewMetricStore(client, cfg.SLA.HistorySize)
		e.log.Info("Using Redis metric store")
	} else {
		metricStore = memory.NewMetricStore(mem)
	}

	var endpointRepo storage.EndpointRepository = memory.NewEndpointRepo(mem)
	var metricSink storage.MetricSink = sink.NewLog()
	if e.db != nil {
		metricRepo := postgres.NewMetricRepo(e.db)
		endpointRepo = postgres.NewEndpointRepo(e.db)
		e.metricSink = sink.NewBuffered("postgres", metricRepo, cfg.SLA.SinkBuffer)
		e.pruner = worker.NewPruner(cfg.SLA.Retention, e.clock, metricRepo, postgres.NewAlertRepo(e.db))
		metricSink = e.metricSink
	}

	router, err := e.buildRouter()
	if err != nil {
		return err
	}

	manager := sla.NewManager(e.clock, metricSink, router)
	tracker := sla.NewTracker(metricStore, metricSink, manager, e.clock)
	tracker.SetHistorySize(cfg.SLA.HistorySize)
	recorder := sla.NewRecorder(tracker, e.clock, cfg.SLA.Targets, cfg.SLA.OrgTargets)
	tracker.BeforeEvaluate(recorder.Flush)

	probeClient := probe.NewClient(cfg.HTTPClient, e.clock)
	reg := registry.New(probeClient, endpointRepo, e.clock)
	if err := reg.Load(ctx, cfg.Seeds); err != nil {
		return fmt.Errorf("failed to load endpoints: %w", err)
	}

	e.Registry = reg
	e.Tracker = tracker
	e.Recorder = recorder
	e.Prober = prober.New(reg, probeClient)
	e.Prober.Subscribe(recorder)

	backends := make(map[string]api.HealthChecker)
	if e.db != nil {
		backends["postgres"] = e.db
	}
	if e.redisClient != nil {
		backends["redis"] = e.redisClient
	}
	e.Server = api.NewServer(api.Deps{
		Registry: reg,
		Prober:   e.Prober,
		Tracker:  tracker,
		Recorder: recorder,
		Hub:      e.hub,
		Clock:    e.clock,
		Backends: backends,
	}, api.Options{
		Port:           cfg.Port,
		ReportTTL:      cfg.ReportCacheTTL,
		AllowedOrigins: cfg.AllowedOrigins,
	})
	return nil
}

func (e *Engine) buildRouter() (*notify.Router, error) {
	alerting := e.cfg.Alerting
	router := notify.NewRouter()

	if alerting.Log {
		router.Add(notify.Route{Sink: sink.NewLog()})
	}
	if e.db != nil {
		router.Add(notify.Route{Sink: postgres.NewAlertRepo(e.db)})
	}
	if alerting.WebSocket {
		e.hub = notify.NewHub()
		router.Add(notify.Route{Sink: e.hub})
	}
	for _, wh := range alerting.Webhooks {
		conds := make([]notify.Condition, 0, len(wh.Conditions))
		for _, cc := range wh.Conditions {
			c, err := notify.ParseCondition(cc)
			if err != nil {
				return nil, fmt.Errorf("webhook %s: %w", wh.Name, err)
			}
			conds = append(conds, c)
		}
		hook := notify.NewWebhook(wh.Name, wh.URL, wh.Headers, wh.Timeout)
		if wh.Attempts > 0 {
			retry := notify.DefaultRetryConfig
			retry.MaxAttempts = wh.Attempts
			hook.WithRetry(retry)
		}
		router.Add(notify.Route{Sink: hook, Conditions: conds})
	}
	return router, nil
}

// Start schedules the background jobs and starts the HTTP server.
func (e *Engine) Start(ctx context.Context) error {
	// Start HTTP Server
	go func() {
		if err := e.Server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.log.Error("API server failed", "error", err)
		}
	}()

	// Start DB Metrics Collector
	if e.db != nil {
		e.db.StartMetricsCollector(ctx)
	}

	probeJob, err := e.Prober.Start(ctx, e.sched, e.cfg.Prober.Interval)
	if err != nil {
		return err
	}
	e.jobs = append(e.jobs, probeJob)

	evalJob, err := e.Tracker.Start(ctx, e.sched, e.cfg.SLA.EvaluationInterval)
	if err != nil {
		return err
	}
	e.jobs = append(e.jobs, evalJob)

	if e.metricSink != nil {
		flushJob, err := e.metricSink.Start(ctx, e.sched, e.cfg.SLA.FlushInterval)
		if err != nil {
			return err
		}
		e.jobs = append(e.jobs, flushJob)
	}

	if e.pruner != nil {
		pruneJob, err := e.pruner.Start(ctx, e.sched)
		if err != nil {
			return err
		}
		if pruneJob != nil {
			e.jobs = append(e.jobs, pruneJob)
		}
	}

	e.log.Info("Engine started", "endpoints", len(e.Registry.Enabled()))
	return nil
}

// Stop stops the jobs, drains in-flight probes and closes connections.
func (e *Engine) Stop(ctx context.Context) error {
	e.log.Info("Stopping engine...")

	for _, job := range e.jobs {
		job.Stop()
	}
	e.jobs = nil

	err := e.Server.Stop(ctx)
	e.Prober.Wait()

	if e.metricSink != nil {
		if ferr := e.metricSink.Flush(ctx); ferr != nil {
			e.log.Warn("Final sink flush incomplete", "pending", e.metricSink.Pending(), "error", ferr)
		}
	}

	e.close()
	return err
}

func (e *Engine) close() {
	if e.hub != nil {
		e.hub.Close()
	}
	if c, ok := e.sched.(*scheduler.Cron); ok {
		c.Close()
	}
	if e.redisClient != nil {
		if err := e.redisClient.Close(); err != nil {
			e.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if e.db != nil {
		if err := e.db.Close(); err != nil {
			e.log.Warn("Failed to close database", "error", err)
		}
	}
}
