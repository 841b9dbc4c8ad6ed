// Package observability provides structured logging, Prometheus metrics, health
// checks and OpenTelemetry export.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("realm", realm).Info("identity provider configured")
//
// Request-scoped loggers travel in the context:
//
//	observability.FromContext(r.Context()).WithError(err).Error("sign-in failed")
//
// # Prometheus Metrics
//
//	metrics := observability.NewMetrics(registry)
//	metrics.ObserveTokenVerification("valid")
//
// Every Observe method is a no-op on a nil *Metrics.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, keyCache, version)
//	observability.RegisterHealthRoutes(router, checker)
//
// # Related Packages
//
//   - pkg/config: Observability configuration
//   - pkg/httputil: Request logging middleware
package observability
