package instrumentation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric attribute keys - using constants for consistency and DRY
const (
	// Common attributes (reused across metrics)
	attrMethod    = "method"
	attrPath      = "path"
	attrStatus    = "status"
	attrOperation = "operation"
	attrService   = "service"
	attrResult    = "result"
	attrAccount   = "account"
)

// Metrics provides methods for recording observability metrics.
type Metrics struct {
	// HTTP metrics
	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram
	activeSessions      metric.Int64UpDownCounter

	// Backend platform metrics (identity and database calls)
	platformOperationsTotal   metric.Int64Counter
	platformOperationDuration metric.Float64Histogram

	// Authentication metrics
	authAttemptsTotal   metric.Int64Counter
	sessionRestoreTotal metric.Int64Counter

	// Task operation metrics
	taskOperationsTotal   metric.Int64Counter
	taskOperationDuration metric.Float64Histogram

	// Live snapshot subscriptions
	activeSubscriptions metric.Int64UpDownCounter

	// Configuration
	// detailedLabels controls whether high-cardinality labels are included
	detailedLabels bool
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The detailedLabels parameter controls whether high-cardinality labels are included.
func NewMetrics(meter metric.Meter, detailedLabels bool) (*Metrics, error) {
	m := &Metrics{
		detailedLabels: detailedLabels,
	}

	var err error

	// HTTP Metrics
	m.httpRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}

	m.httpRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_request_duration_seconds histogram: %w", err)
	}

	m.activeSessions, err = meter.Int64UpDownCounter(
		"active_sessions",
		metric.WithDescription("Number of active user sessions"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create active_sessions gauge: %w", err)
	}

	// Platform Metrics
	m.platformOperationsTotal, err = meter.Int64Counter(
		"platform_operations_total",
		metric.WithDescription("Total number of backend platform operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create platform_operations_total counter: %w", err)
	}

	m.platformOperationDuration, err = meter.Float64Histogram(
		"platform_operation_duration_seconds",
		metric.WithDescription("Backend platform operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create platform_operation_duration_seconds histogram: %w", err)
	}

	// Authentication Metrics
	m.authAttemptsTotal, err = meter.Int64Counter(
		"auth_attempts_total",
		metric.WithDescription("Total number of authentication attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth_attempts_total counter: %w", err)
	}

	m.sessionRestoreTotal, err = meter.Int64Counter(
		"session_restore_total",
		metric.WithDescription("Total number of cached session restore attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session_restore_total counter: %w", err)
	}

	// Task Metrics
	m.taskOperationsTotal, err = meter.Int64Counter(
		"task_operations_total",
		metric.WithDescription("Total number of task operations"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create task_operations_total counter: %w", err)
	}

	m.taskOperationDuration, err = meter.Float64Histogram(
		"task_operation_duration_seconds",
		metric.WithDescription("Task operation duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create task_operation_duration_seconds histogram: %w", err)
	}

	m.activeSubscriptions, err = meter.Int64UpDownCounter(
		"active_subscriptions",
		metric.WithDescription("Number of active task collection subscriptions"),
		metric.WithUnit("{subscription}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create active_subscriptions gauge: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request with method, path, status code, and duration.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	if m.httpRequestsTotal == nil || m.httpRequestDuration == nil {
		return // Instrumentation not initialized
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrMethod, method),
		attribute.String(attrPath, path),
		attribute.String(attrStatus, strconv.Itoa(statusCode)),
	}

	m.httpRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.httpRequestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordPlatformOperation records a backend platform call with service, operation,
// status, and duration.
//
// Parameters:
//   - service: Platform service name (identity, database)
//   - operation: Operation type (signUp, signIn, get, push, update, delete, stream)
//   - status: Result status ("success" or "error")
//   - duration: Time taken for the operation
func (m *Metrics) RecordPlatformOperation(ctx context.Context, service, operation, status string, duration time.Duration) {
	if m.platformOperationsTotal == nil || m.platformOperationDuration == nil {
		return // Instrumentation not initialized
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrService, service),
		attribute.String(attrOperation, operation),
		attribute.String(attrStatus, status),
	}

	m.platformOperationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.platformOperationDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordAuthAttempt records an authentication attempt with method and result.
// Method should be one of: "password", "google", "signup".
// Result should be one of: "success", "failure".
func (m *Metrics) RecordAuthAttempt(ctx context.Context, method, result string) {
	if m.authAttemptsTotal == nil {
		return // Instrumentation not initialized
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrMethod, method),
		attribute.String(attrResult, result),
	}

	m.authAttemptsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordSessionRestore records a cached session restore attempt with result.
// Result should be one of: "success", "failure", "expired"
func (m *Metrics) RecordSessionRestore(ctx context.Context, result string) {
	if m.sessionRestoreTotal == nil {
		return // Instrumentation not initialized
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrResult, result),
	}

	m.sessionRestoreTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordTaskOperation records a task operation with operation name, status, and duration.
//
// Parameters:
//   - operation: Operation type (add, toggle, edit, delete, list)
//   - status: Result status ("success" or "error")
//   - duration: Time taken for the operation
func (m *Metrics) RecordTaskOperation(ctx context.Context, operation, status string, duration time.Duration) {
	if m.taskOperationsTotal == nil || m.taskOperationDuration == nil {
		return // Instrumentation not initialized
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrOperation, operation),
		attribute.String(attrStatus, status),
	}

	m.taskOperationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.taskOperationDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordTaskOperationWithAccount records a task operation with account info.
// This is the detailed version that includes account information when detailedLabels is enabled.
//
// Parameters:
//   - operation: Operation type (add, toggle, edit, delete, list)
//   - status: Result status ("success" or "error")
//   - account: User account/email (only included if detailedLabels is true)
//   - duration: Time taken for the operation
func (m *Metrics) RecordTaskOperationWithAccount(ctx context.Context, operation, status, account string, duration time.Duration) {
	if m.taskOperationsTotal == nil || m.taskOperationDuration == nil {
		return // Instrumentation not initialized
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrOperation, operation),
		attribute.String(attrStatus, status),
	}

	// Only add high-cardinality labels if explicitly enabled
	if m.detailedLabels && account != "" {
		attrs = append(attrs, attribute.String(attrAccount, account))
	}

	m.taskOperationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.taskOperationDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// IncrementActiveSessions increments the active sessions counter.
func (m *Metrics) IncrementActiveSessions(ctx context.Context) {
	if m.activeSessions == nil {
		return // Instrumentation not initialized
	}

	m.activeSessions.Add(ctx, 1)
}

// DecrementActiveSessions decrements the active sessions counter.
func (m *Metrics) DecrementActiveSessions(ctx context.Context) {
	if m.activeSessions == nil {
		return // Instrumentation not initialized
	}

	m.activeSessions.Add(ctx, -1)
}

// IncrementActiveSubscriptions increments the active subscriptions counter.
func (m *Metrics) IncrementActiveSubscriptions(ctx context.Context) {
	if m.activeSubscriptions == nil {
		return // Instrumentation not initialized
	}

	m.activeSubscriptions.Add(ctx, 1)
}

// DecrementActiveSubscriptions decrements the active subscriptions counter.
func (m *Metrics) DecrementActiveSubscriptions(ctx context.Context) {
	if m.activeSubscriptions == nil {
		return // Instrumentation not initialized
	}

	m.activeSubscriptions.Add(ctx, -1)
}
