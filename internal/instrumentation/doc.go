// Package instrumentation provides comprehensive OpenTelemetry instrumentation
// for the taskdeck server.
//
// This package enables production-grade observability through:
//   - OpenTelemetry metrics for HTTP requests, authentication, and backend platform calls
//   - Distributed tracing for request flows and platform calls
//   - Prometheus metrics export via /metrics endpoint on dedicated port
//   - OTLP export support for modern observability platforms
//
// # Metrics
//
// The package exposes the following metric categories:
//
// Server/HTTP Metrics:
//   - http_requests_total: Counter of HTTP requests by method, path, and status
//   - http_request_duration_seconds: Histogram of HTTP request durations
//   - active_sessions: Gauge of active user sessions
//
// Platform Metrics:
//   - platform_operations_total: Counter of backend platform calls by service, operation, status
//   - platform_operation_duration_seconds: Histogram of backend platform call durations
//
// Authentication Metrics:
//   - auth_attempts_total: Counter of authentication attempts by method and result
//   - session_restore_total: Counter of cached session restore attempts by result
//
// Task Metrics:
//   - task_operations_total: Counter of task operations by operation and status
//   - task_operation_duration_seconds: Histogram of task operation durations
//   - active_subscriptions: Gauge of live task collection subscriptions
//
// # Tracing
//
// Distributed tracing spans are created for:
//   - HTTP request handling (route.<name>)
//   - Backend platform calls (platform.<service>.<operation>)
//   - Authentication flows
//
// # Configuration
//
// Instrumentation can be configured via environment variables:
//   - INSTRUMENTATION_ENABLED: Enable/disable instrumentation (default: true)
//   - METRICS_EXPORTER: Metrics exporter type (prometheus, otlp, stdout, default: prometheus)
//   - TRACING_EXPORTER: Tracing exporter type (otlp, stdout, none, default: none)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP endpoint for traces/metrics
//   - OTEL_TRACES_SAMPLER_ARG: Sampling rate (0.0 to 1.0, default: 0.1)
//   - OTEL_SERVICE_NAME: Service name (default: taskdeck)
//
// # Example Usage
//
//	// Initialize instrumentation
//	provider, err := instrumentation.NewProvider(ctx, instrumentation.Config{
//		ServiceName:    "taskdeck",
//		ServiceVersion: "0.1.0",
//		Enabled:        true,
//	})
//	if err != nil {
//		return err
//	}
//	defer provider.Shutdown(ctx)
//
//	// Get metrics recorder
//	recorder := provider.Metrics()
//
//	// Record an HTTP request
//	recorder.RecordHTTPRequest(ctx, "POST", "/api/tasks", 201, time.Since(start))
//
//	// Record a backend platform operation
//	recorder.RecordPlatformOperation(ctx, "database", "push", "success", time.Since(start))
//
//	// Record a task operation
//	recorder.RecordTaskOperation(ctx, "add", "success", time.Since(start))
package instrumentation
