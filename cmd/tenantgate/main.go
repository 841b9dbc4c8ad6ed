package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/tenantgate/pkg/api"
	"github.com/platinummonkey/tenantgate/pkg/auth"
	"github.com/platinummonkey/tenantgate/pkg/config"
	"github.com/platinummonkey/tenantgate/pkg/httputil"
	"github.com/platinummonkey/tenantgate/pkg/idp"
	"github.com/platinummonkey/tenantgate/pkg/middleware"
	"github.com/platinummonkey/tenantgate/pkg/observability"
	"github.com/platinummonkey/tenantgate/pkg/orgs"
	"github.com/platinummonkey/tenantgate/pkg/storage/postgres"
	"github.com/platinummonkey/tenantgate/pkg/token"
)

var version = "dev"

// maxBodyBytes caps every request body; credential and org payloads are tiny
const maxBodyBytes = 1 << 20

func main() {
	configFile := flag.String("config", "", "Path to a YAML config file (overrides TENANTGATE_CONFIG_FILE)")
	migrateOnly := flag.Bool("migrate", false, "Apply database migrations and exit")
	flag.Parse()

	if *configFile != "" {
		os.Setenv("TENANTGATE_CONFIG_FILE", *configFile)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", cfg.Observability.OTelServiceName)

	if err := run(cfg, logger, *migrateOnly); err != nil {
		logger.WithError(err).Error("tenantgate exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger, migrateOnly bool) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := postgres.RunMigrations(ctx, db, logger); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if migrateOnly {
		logger.Info("Migrations applied")
		return nil
	}

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	redisClient, err := postgres.NewRedisClient(ctx, cfg.Storage)
	if err != nil {
		return err
	}

	httpClient := idp.NewHTTPClient(cfg.IdP.HTTPTimeout)
	keys := idp.NewKeyCache(cfg.IdP.RealmURL(), cfg.IdP.Issuer, cfg.IdP.KeyCacheTTL, httpClient, metrics)
	keys.SetMinRefreshInterval(cfg.IdP.KeyMinRefreshInterval)
	verifier := token.NewVerifier(keys, cfg.IdP, metrics)
	provider := idp.NewClient(cfg.IdP, httpClient, metrics)

	users := postgres.NewUserStore(db)
	orgService := orgs.NewPostgresService(db,
		orgs.WithInviteTTL(cfg.Orgs.InviteTTL),
		orgs.WithMetrics(metrics),
	)

	router := mux.NewRouter()
	router.Use(observability.HTTPMetricsMiddleware(metrics))
	observability.RegisterHealthRoutes(router, observability.NewHealthChecker(db, redisClient, keys, version))
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(router, registry)
	}

	api.NewServer(router, api.Dependencies{
		Flow:          auth.NewFlow(provider, users, verifier, metrics),
		Resolver:      auth.NewSessionResolver(verifier, provider, users, cfg.Cookies, metrics),
		Orgs:          orgService,
		Cookies:       cfg.Cookies,
		SignInLimiter: newSignInLimiter(cfg.RateLimit, redisClient, logger),
		Metrics:       metrics,
	})

	trusted, err := httputil.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		return err
	}

	handler := httputil.Chain(
		httputil.RecoveryMiddleware,
		httputil.RequestIDMiddleware,
		httputil.ClientIPMiddleware(trusted),
		httputil.LoggingMiddleware(logger),
		httputil.MaxBytesMiddleware(maxBodyBytes),
	)(router)

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      otelhttp.NewHandler(handler, "tenantgate"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	postgres.StartStatsRoutine(ctx, db, metrics, logger, 30*time.Second)

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc("database", func(context.Context) error {
		return db.Close()
	})
	if redisClient != nil {
		shutdown.RegisterShutdownFunc("redis", func(context.Context) error {
			return redisClient.Close()
		})
	}
	shutdown.RegisterShutdownFunc("otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers)
	})

	serverErr := make(chan error, 1)
	go func() {
		defer observability.RecoverPanic(logger, "http-server")
		logger.WithFields(map[string]interface{}{
			"addr":    server.Addr,
			"version": version,
		}).Info("Starting tenantgate")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
		close(serverErr)
	}()

	go func() {
		if err, ok := <-serverErr; ok && err != nil {
			logger.WithError(err).Error("HTTP server failed")
			cancel()
		}
	}()

	return shutdown.WaitForShutdown(ctx)
}

// newSignInLimiter picks the Redis-backed limiter when Redis is configured so
// the budget is shared across replicas.
func newSignInLimiter(cfg config.RateLimitConfig, client *redis.Client, logger *observability.Logger) middleware.Limiter {
	if !cfg.Enabled {
		logger.Info("Sign-in rate limiting disabled")
		return nil
	}
	limits := middleware.RateLimitConfigFrom(cfg)
	if client != nil {
		return middleware.NewDistributedRateLimiter(client, limits, "tenantgate:signin")
	}
	logger.Warn("Redis not configured, sign-in rate limiting is per process")
	return middleware.NewRateLimiter(limits)
}
