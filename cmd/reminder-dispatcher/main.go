// Package main provides the reminder dispatcher entry point. It replays the
// reminder command stream into a notification center and delivers fired
// reminders through Pushover.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/drfirst/go-erezept/internal/config"
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

const serviceName = "reminder-dispatcher"

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

	// Idempotency ledger: postgres when configured so restarts do not re-deliver.
	icfg := idempotency.DefaultConfig()
	var ledger idempotency.Ledger = idempotency.NewMemoryLedger(icfg)
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer pool.Close()

		pg := idempotency.NewPostgresLedger(pool, icfg)
		if err := pg.Migrate(ctx); err != nil {
			logger.Fatal("failed to migrate inbox", zap.Error(err))
		}
		ledger = pg
		logger.Info("connected to database")
	}
	inbox := idempotency.NewInbox(ledger, icfg, logger.Named("inbox"))
	inbox.StartCleanup()
	defer inbox.Stop()

	// Delivery chain: inbox -> breaker -> provider
	var provider notification.Deliverer
	if cfg.PushoverToken == "" {
		logger.Warn("PUSHOVER_TOKEN not set, fired reminders are only logged")
		provider = notification.DelivererFunc(func(_ context.Context, d notification.Delivery) error {
			logger.Info("reminder due",
				zap.String("identifier", d.Request.Identifier),
				zap.String("title", d.Request.Content.Title),
				zap.Time("fire_at", d.FireAt))
			return nil
		})
	} else {
		provider = pushover.NewClient(cfg.PushoverToken, cfg.PushoverUser, logger.Named("pushover"))
	}

	breakerCfg := circuitbreaker.DefaultConfig("pushover")
	breakerCfg.OnStateChange = func(name string, _, to circuitbreaker.State) {
		m.BreakerState(name, to.Gauge())
	}
	breaker := circuitbreaker.New(breakerCfg, logger.Named("breaker"))
	m.BreakerState(breakerCfg.Name, breaker.State().Gauge())

	poolCfg := workerpool.DefaultConfig()
	poolCfg.Workers = cfg.DispatcherWorkers
	nc, err := center.New(center.Config{
		Location:  loc,
		AutoGrant: cfg.NotificationsEnabled,
		Pool:      poolCfg,
	}, reliable.New(provider, breaker, inbox, logger.Named("delivery")), m, logger.Named("center"))
	if err != nil {
		logger.Fatal("failed to create notification center", zap.Error(err))
	}

	// Commands arrive only after the API side was authorized.
	if granted, _ := nc.RequestAuthorization(ctx, reminders.AuthorizationOptions); !granted {
		logger.Warn("notifications disabled, add commands will be rejected")
	}

	// No consumer group: every start replays the topic from the beginning.
	// Each reconciliation begins with remove_all_pending, so the replay ends
	// in the latest pending set.
	consumerCfg := redpanda.DefaultConsumerConfig()
	consumerCfg.Brokers = cfg.Brokers()
	consumerCfg.Topics = []string{cfg.ReminderTopic}
	consumer, err := redpanda.NewConsumer(consumerCfg, redpanda.CommandHandler(nc), logger.Named("consumer"))
	if err != nil {
		logger.Fatal("failed to create consumer", zap.Error(err))
	}

	centerDone := make(chan error, 1)
	go func() { centerDone <- nc.Run(ctx) }()
	consumer.Start()

	metricsServer := &http.Server{
		Addr:              ":" + cfg.MetricsPort,
		Handler:           statusMux(registry, nc, consumer, breaker),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	logger.Info("reminder dispatcher started",
		zap.Strings("brokers", consumerCfg.Brokers),
		zap.String("topic", cfg.ReminderTopic),
		zap.String("metrics_port", cfg.MetricsPort))

	<-ctx.Done()
	logger.Info("shutting down")

	if err := consumer.Stop(); err != nil {
		logger.Error("consumer stop error", zap.Error(err))
	}
	if err := <-centerDone; err != nil {
		logger.Error("notification center stop error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	metricsServer.Shutdown(shutdownCtx)

	logger.Info("reminder dispatcher stopped")
}

func statusMux(registry *prometheus.Registry, nc *center.Center, consumer *redpanda.Consumer, breaker *circuitbreaker.CircuitBreaker) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(registry))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":  "healthy",
			"service": serviceName,
			"breaker": breaker.State(),
		})
	})
	mux.HandleFunc("/pending", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"pending":  nc.Pending(),
			"consumer": consumer.Stats(),
		})
	})
	return mux
}
