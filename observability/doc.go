// Package observability bootstraps the OpenTelemetry metrics pipeline and
// exposes it as a Prometheus scrape handler. Call InitMetrics once at
// startup and mount the returned handler on /metrics.
//
// Per-execution metrics and tracing live in the middleware package:
// middleware.Metrics() and middleware.Tracing().
package observability
