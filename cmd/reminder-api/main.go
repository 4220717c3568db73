// Package main provides the reminder API service entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/drfirst/go-erezept/internal/api/handlers"
	"github.com/drfirst/go-erezept/internal/api/middleware"
	"github.com/drfirst/go-erezept/internal/config"
	"github.com/drfirst/go-erezept/internal/domain/medschedule"
	"github.com/drfirst/go-erezept/internal/infrastructure/memory"
	"github.com/drfirst/go-erezept/internal/infrastructure/postgres"
	"github.com/drfirst/go-erezept/internal/infrastructure/redpanda"
	"github.com/drfirst/go-erezept/internal/notification"
	"github.com/drfirst/go-erezept/internal/notification/center"
	"github.com/drfirst/go-erezept/internal/notification/pushover"
	"github.com/drfirst/go-erezept/internal/notification/reliable"
	"github.com/drfirst/go-erezept/internal/observability/metrics"
	"github.com/drfirst/go-erezept/internal/observability/tracing"
	"github.com/drfirst/go-erezept/internal/reminders"
	"github.com/drfirst/go-erezept/pkg/circuitbreaker"
	"github.com/drfirst/go-erezept/pkg/idempotency"
	"github.com/drfirst/go-erezept/pkg/workerpool"
)

const serviceName = "reminder-api"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger, err := config.NewLogger(cfg.LogLevel, cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.Init(ctx, tracing.Config{
		Enabled:        cfg.TracingEnabled,
		ServiceName:    serviceName,
		ServiceVersion: "1.0.0",
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     cfg.TraceSampleRate,
	})
	if err != nil {
		logger.Fatal("failed to initialize tracing", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		tp.Shutdown(shutdownCtx)
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	loc, _ := cfg.Location()
	apiKeys, _ := cfg.ParseAPIKeys()

	// Connect to database
	var pool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		pool, err = pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer pool.Close()

		if err := pool.Ping(ctx); err != nil {
			logger.Fatal("database ping failed", zap.Error(err))
		}
		logger.Info("connected to database")
	}

	store, err := newStore(ctx, cfg, pool, logger)
	if err != nil {
		logger.Fatal("failed to initialize schedule store", zap.Error(err))
	}

	backend, runBackend, closeBackend, err := newBackend(ctx, cfg, pool, loc, m, logger)
	if err != nil {
		logger.Fatal("failed to initialize notification backend", zap.Error(err))
	}
	defer closeBackend()

	service := reminders.NewService(store, backend, notification.NewGenerator(loc), m, logger.Named("reminders"))

	backendDone := make(chan error, 1)
	go func() { backendDone <- runBackend(ctx) }()

	// Rebuild the pending set, e.g. after the local center lost it on restart.
	if err := service.Reconcile(ctx); err != nil {
		logger.Warn("initial reconciliation failed", zap.Error(err))
	}

	scheduleHandler := handlers.NewScheduleHandler(service, logger.Named("handlers"))

	// Setup router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Tracing(serviceName))

	// Health check (no auth)
	r.Get("/health", healthHandler)
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if pool != nil {
			if err := pool.Ping(r.Context()); err != nil {
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})
	if cfg.MetricsEnabled {
		r.Handle("/metrics", metrics.Handler(registry))
	}

	// API routes (with auth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(apiKeys))
		r.Mount("/schedules", scheduleHandler.Routes())
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	}()

	logger.Info("starting reminder API",
		zap.String("port", cfg.Port),
		zap.String("storage", cfg.StorageBackend),
		zap.String("notifications", cfg.NotificationBackend))
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}

	stop()
	if err := <-backendDone; err != nil {
		logger.Error("notification backend stopped with error", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newStore(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, logger *zap.Logger) (medschedule.Store, error) {
	if cfg.StorageBackend != config.StoragePostgres {
		return memory.NewScheduleStore(), nil
	}
	store := postgres.NewScheduleStore(pool, logger.Named("schedule-store"))
	if err := store.Migrate(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// newBackend selects where reconciled notification requests go. The local
// center runs in this process; the other backends hand commands to a
// reminder-dispatcher.
func newBackend(
	ctx context.Context,
	cfg *config.Config,
	pool *pgxpool.Pool,
	loc *time.Location,
	m *metrics.Metrics,
	logger *zap.Logger,
) (notification.Backend, func(context.Context) error, func(), error) {
	idle := func(ctx context.Context) error { <-ctx.Done(); return nil }
	publisherCfg := redpanda.PublisherConfig{
		Topic:        cfg.ReminderTopic,
		PartitionKey: cfg.ReminderPartitionKey,
		Enabled:      cfg.NotificationsEnabled,
	}

	switch cfg.NotificationBackend {
	case config.NotificationsRedpanda:
		admin, err := redpanda.NewAdmin(cfg.Brokers(), logger)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := admin.EnsureTopics(ctx, cfg.ReminderTopic); err != nil {
			logger.Warn("failed to ensure reminder topics", zap.Error(err))
		}
		admin.Close()

		producerCfg := redpanda.DefaultProducerConfig()
		producerCfg.Brokers = cfg.Brokers()
		producer, err := redpanda.NewProducer(producerCfg, logger.Named("producer"))
		if err != nil {
			return nil, nil, nil, err
		}
		publisher := redpanda.NewReminderPublisher(producer, publisherCfg, logger.Named("publisher"))
		return publisher, idle, func() { producer.Close() }, nil

	case config.NotificationsOutbox:
		writer := postgres.NewOutboxWriter(pool)
		if err := writer.Migrate(ctx); err != nil {
			return nil, nil, nil, err
		}
		publisher := redpanda.NewReminderPublisher(writer, publisherCfg, logger.Named("publisher"))
		return publisher, idle, func() {}, nil

	default:
		c, inbox, err := newLocalCenter(ctx, cfg, pool, loc, m, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		inbox.StartCleanup()
		return c, c.Run, inbox.Stop, nil
	}
}

func newLocalCenter(
	ctx context.Context,
	cfg *config.Config,
	pool *pgxpool.Pool,
	loc *time.Location,
	m *metrics.Metrics,
	logger *zap.Logger,
) (*center.Center, *idempotency.Inbox, error) {
	var inner notification.Deliverer = notification.DelivererFunc(func(_ context.Context, d notification.Delivery) error {
		logger.Info("reminder due",
			zap.String("title", d.Request.Content.Title),
			zap.String("body", d.Request.Content.Body),
			zap.Time("fire_at", d.FireAt))
		return nil
	})
	if cfg.PushoverToken != "" {
		inner = pushover.NewClient(cfg.PushoverToken, cfg.PushoverUser, logger.Named("pushover"))
	}

	icfg := idempotency.DefaultConfig()
	var ledger idempotency.Ledger = idempotency.NewMemoryLedger(icfg)
	if pool != nil {
		pg := idempotency.NewPostgresLedger(pool, icfg)
		if err := pg.Migrate(ctx); err != nil {
			return nil, nil, err
		}
		ledger = pg
	}

	bcfg := circuitbreaker.DefaultConfig("pushover")
	bcfg.OnStateChange = func(name string, _, to circuitbreaker.State) { m.BreakerState(name, to.Gauge()) }
	inbox := idempotency.NewInbox(ledger, icfg, logger.Named("inbox"))
	deliverer := reliable.New(inner, circuitbreaker.New(bcfg, logger.Named("breaker")), inbox, logger.Named("delivery"))

	poolCfg := workerpool.DefaultConfig()
	poolCfg.Workers = cfg.DispatcherWorkers
	c, err := center.New(center.Config{
		Location:  loc,
		AutoGrant: cfg.NotificationsEnabled,
		Pool:      poolCfg,
	}, deliverer, m, logger.Named("center"))
	if err != nil {
		return nil, nil, err
	}
	return c, inbox, nil
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","service":%q,"version":"1.0.0"}`, serviceName)
}
