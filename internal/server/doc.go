// Package server provides the HTTP application surface, session registry,
// and operational endpoints for the taskdeck application.
//
// # Key Components
//
// ServerContext manages per-user session bundles with lazy initialization.
// Each bundle pairs a session store with a task view-model over a backend
// whose credential is drawn from the session itself, so store path
// operations are authorized as soon as the user signs in.
//
// API serves the JSON/SSE surface consumed by the single-page views:
//   - Authentication (signup, signin, federated Google, signout)
//   - Task collection CRUD plus a live SSE snapshot stream
//   - Calendar month aggregation with per-day completion badges
//   - Dark-mode preference persistence
//
// SessionRegistry handles bearer-token session tracking for the HTTP
// surface. It keys on SHA-256 token hashes, refreshes last-access on
// every hit, and sweeps idle sessions on a timer.
//
// HealthChecker exposes /healthz and /readyz for Kubernetes probes, and
// MetricsServer serves Prometheus metrics on a dedicated port, isolated
// from application traffic.
package server
