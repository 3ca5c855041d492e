// Package main is the entry point for the rollout approval server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/vantagelink/rollout/internal/approval"
	"github.com/vantagelink/rollout/internal/audit"
	"github.com/vantagelink/rollout/internal/config"
	"github.com/vantagelink/rollout/internal/flowdef"
	"github.com/vantagelink/rollout/internal/identity"
	"github.com/vantagelink/rollout/internal/notification"
	"github.com/vantagelink/rollout/internal/observability"
	"github.com/vantagelink/rollout/internal/project"
	"github.com/vantagelink/rollout/internal/store"
	"github.com/vantagelink/rollout/internal/transport"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "rollout", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Storage.
	st, storeCloser, err := buildStore(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("store initialization failed", zap.Error(err))
		return 1
	}

	// Seed approval flows before serving traffic. Seeding is additive, so
	// flows edited through the API survive restarts.
	seeder := flowdef.NewSeeder(st, logger, cfg.Approvals.DefaultSLAHours)
	seeder.Instrument(metrics)
	if err := seeder.Seed(ctx, cfg.Approvals.FlowDirectories); err != nil {
		logger.Error("flow seeding failed", zap.Error(err))
		return 1
	}
	if flows, err := st.ListFlows(ctx); err == nil {
		metrics.SetFlowsLoaded(float64(len(flows)))
	}

	// Role resolution.
	roles, err := buildRoleResolver(cfg.Identity)
	if err != nil {
		logger.Error("role resolver initialization failed", zap.Error(err))
		return 1
	}
	roles.Instrument(metrics)

	// Audit delivery.
	dispatcher := buildAuditDispatcher(cfg.Audit, logger, metrics)

	// Engine and SLA notifier.
	engine := approval.NewEngine(st, roles, project.NewBridge(), dispatcher)
	engine.Instrument(metrics)
	engine.SetDefaultSLA(cfg.Approvals.DefaultSLAHours)

	dedup, dedupCloser := buildDedupStore(cfg.Notifications.Dedup, logger)
	notifier := notification.NewNotifier(
		dedup, logger,
		cfg.Notifications.WarningThreshold,
		cfg.Notifications.ReminderInterval,
	)
	notifier.Instrument(metrics)

	// Readiness checks. Flows are queried live so a flow created through
	// the API flips an empty deployment to ready without a restart.
	checks := observability.ReadinessChecks{
		FlowsLoaded: func() bool {
			checkCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			flows, err := st.ListFlows(checkCtx)
			return err == nil && len(flows) > 0
		},
	}
	if hc, ok := st.(observability.HealthChecker); ok {
		checks.Store = hc
	}
	if hc, ok := dedup.(observability.HealthChecker); ok {
		checks.DedupStore = hc
	}

	// Authentication.
	var authenticate func(http.Handler) http.Handler
	if cfg.Identity.JWKSURL != "" {
		jwks := transport.NewJWKSClient(cfg.Identity.JWKSURL, cfg.Identity.JWKSCacheTTL, logger)
		authenticate = transport.JWTAuthenticator(cfg.Identity, jwks)
	} else {
		logger.Warn("JWKS URL not configured, requests are not authenticated")
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Logger:       logger,
		Engine:       engine,
		Notifier:     notifier,
		Metrics:      metrics,
		Checks:       checks,
		Authenticate: authenticate,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections and drain in-flight requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Drain queued audit events, then close stores.
	dispatcher.Close()
	if dedupCloser != nil {
		dedupCloser()
	}
	if storeCloser != nil {
		storeCloser()
	}

	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// buildStore creates the approval store based on config. Without a DSN the
// server falls back to the in-memory store, which suits development only.
func buildStore(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (store.Store, func(), error) {
	var dsn string
	if cfg.DSNEnv != "" {
		dsn = os.Getenv(cfg.DSNEnv)
	}
	if dsn == "" {
		logger.Warn("database DSN not configured, using in-memory store")
		return store.NewMemoryStore(), nil, nil
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("store: parse DSN: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolCfg.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("store: ping: %w", err)
	}

	pg := store.NewPgStore(pool)
	if cfg.EnsureSchema {
		if err := pg.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("store: ensure schema: %w", err)
		}
	}
	return pg, pool.Close, nil
}

// buildRoleResolver creates the role resolver, with an optional static
// policy file granting roles beyond the token claims.
func buildRoleResolver(cfg config.IdentityConfig) (*identity.Resolver, error) {
	var policy identity.RolePolicy
	if cfg.RolePolicyFile != "" {
		p, err := identity.NewStaticRolePolicy(cfg.RolePolicyFile)
		if err != nil {
			return nil, fmt.Errorf("role policy: %w", err)
		}
		policy = p
	}
	return identity.NewResolver(policy, cfg.RoleCacheTTL), nil
}

// buildAuditDispatcher creates the audit sink behind a dispatcher so event
// producers never block on delivery.
func buildAuditDispatcher(cfg config.AuditConfig, logger *zap.Logger, metrics *observability.Metrics) *audit.Dispatcher {
	var sink audit.Sink
	switch cfg.Sink {
	case "webhook":
		breaker := audit.NewBreaker(
			cfg.Breaker.FailureThreshold,
			cfg.Breaker.SuccessThreshold,
			cfg.Breaker.Cooldown,
		)
		breaker.Observe(func(s audit.BreakerState) {
			metrics.SetAuditBreakerState(breakerGauge(s))
		})
		sink = audit.NewWebhookSink(cfg.WebhookURL, cfg.Timeout, breaker)
	case "log", "":
		sink = audit.NewLogSink(logger)
	default:
		logger.Warn("unknown audit sink, falling back to log", zap.String("sink", cfg.Sink))
		sink = audit.NewLogSink(logger)
	}

	d := audit.NewDispatcher(sink, logger, cfg.QueueSize)
	d.Instrument(metrics)
	return d
}

// breakerGauge maps breaker states onto the gauge convention
// 0=closed, 1=half-open, 2=open.
func breakerGauge(s audit.BreakerState) float64 {
	switch s {
	case audit.BreakerHalfOpen:
		return 1
	case audit.BreakerOpen:
		return 2
	default:
		return 0
	}
}

// buildDedupStore creates the notification dedup store based on config.
func buildDedupStore(cfg config.DedupConfig, logger *zap.Logger) (notification.DedupStore, func()) {
	if cfg.Driver != "redis" {
		return notification.NewMemoryDedupStore(), nil
	}

	var addr string
	if cfg.AddrEnv != "" {
		addr = os.Getenv(cfg.AddrEnv)
	}
	if addr == "" {
		logger.Warn("redis address not configured, using in-memory dedup store")
		return notification.NewMemoryDedupStore(), nil
	}

	client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})
	return notification.NewRedisDedupStore(client), func() { client.Close() }
}
