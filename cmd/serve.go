package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/taskdeck/taskdeck/internal/instrumentation"
	"github.com/taskdeck/taskdeck/internal/platform"
	"github.com/taskdeck/taskdeck/internal/prefs"
	"github.com/taskdeck/taskdeck/internal/server"
	"github.com/taskdeck/taskdeck/internal/session"
)

// Backend selection for the serve command.
const (
	backendFirebase = "firebase"
	backendMemory   = "memory"
)

// MetricsConfig holds configuration for the metrics server
type MetricsConfig struct {
	// Enabled determines whether to start the metrics server (default: true)
	Enabled bool

	// Addr is the address for the metrics server (e.g., ":9090")
	Addr string
}

func newServeCmd() *cobra.Command {
	var (
		debugMode          bool
		httpAddr           string
		backend            string
		staticDir          string
		envFile            string
		googleClientID     string
		googleClientSecret string
		// Metrics server configuration
		metricsEnabled bool
		metricsAddr    string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the taskdeck HTTP server",
		Long: `Start the HTTP server that backs the single-page to-do application.

The server exposes a JSON API under /api for authentication, tasks,
calendar summaries and preferences, plus a server-sent-events stream of
task updates at /api/tasks/stream.

Backend selection:
  firebase (default):
    Talks to the hosted platform over REST. Requires:
      TASKDECK_API_KEY      platform web API key
      TASKDECK_DATABASE_URL realtime database base URL
      TASKDECK_PROJECT_ID   project identifier (optional)
    Values can also come from a .env file (see --env-file).

  memory:
    A self-contained in-process backend. No credentials needed; all
    state is lost on restart. Intended for development and demos.

Google sign-in:
  --google-client-id and --google-client-secret flags
  OR GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET env vars
  Without these, /api/auth/google is rejected.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Load .env before reading any environment-driven config.
			// A missing default file is fine; an explicit one is not.
			if envFile != "" {
				if err := godotenv.Load(envFile); err != nil {
					return fmt.Errorf("failed to load env file %s: %w", envFile, err)
				}
			} else if _, err := os.Stat(".env"); err == nil {
				if err := godotenv.Load(); err != nil {
					return fmt.Errorf("failed to load .env: %w", err)
				}
			}

			metricsConfig := MetricsConfig{
				Enabled: metricsEnabled,
				Addr:    metricsAddr,
			}
			loadMetricsEnvVars(cmd, &metricsConfig)

			if googleClientID == "" {
				googleClientID = os.Getenv("GOOGLE_CLIENT_ID")
			}
			if googleClientSecret == "" {
				googleClientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
			}

			return runServe(serveOptions{
				debug:              debugMode,
				httpAddr:           httpAddr,
				backend:            backend,
				staticDir:          staticDir,
				googleClientID:     googleClientID,
				googleClientSecret: googleClientSecret,
				metrics:            metricsConfig,
			})
		},
	}

	cmd.Flags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	cmd.Flags().StringVar(&httpAddr, "http-addr", ":8080", "HTTP server address")
	cmd.Flags().StringVar(&backend, "backend", backendFirebase, "Storage backend: firebase or memory")
	cmd.Flags().StringVar(&staticDir, "static-dir", "", "Directory with the single-page application assets. If empty, only the API is served.")
	cmd.Flags().StringVar(&envFile, "env-file", "", "Path to a .env file with TASKDECK_* credentials. Defaults to ./.env when present.")
	cmd.Flags().StringVar(&googleClientID, "google-client-id", "", "Google OAuth Client ID for federated sign-in. Can also use GOOGLE_CLIENT_ID env var.")
	cmd.Flags().StringVar(&googleClientSecret, "google-client-secret", "", "Google OAuth Client Secret for federated sign-in. Can also use GOOGLE_CLIENT_SECRET env var.")

	// Metrics server flags
	cmd.Flags().BoolVar(&metricsEnabled, "metrics-enabled", true, "Enable the metrics server on a dedicated port. Can also use METRICS_ENABLED env var.")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", server.DefaultMetricsAddr, "Metrics server address. Can also use METRICS_ADDR env var.")

	return cmd
}

// serveOptions carries the resolved serve configuration.
type serveOptions struct {
	debug              bool
	httpAddr           string
	backend            string
	staticDir          string
	googleClientID     string
	googleClientSecret string
	metrics            MetricsConfig
}

func runServe(opts serveOptions) error {
	// Setup graceful shutdown
	shutdownCtx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logLevel := slog.LevelInfo
	if opts.debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	// Initialize instrumentation provider
	instrConfig := instrumentation.DefaultConfig()
	instrConfig.ServiceVersion = version

	provider, err := instrumentation.NewProvider(shutdownCtx, instrConfig)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Error("instrumentation shutdown failed", "error", err)
		}
	}()

	// Start metrics server if enabled
	var metricsServer *server.MetricsServer
	if opts.metrics.Enabled && provider.Enabled() {
		metricsServer, err = server.NewMetricsServer(server.MetricsServerConfig{
			Addr:                    opts.metrics.Addr,
			Enabled:                 true,
			InstrumentationProvider: provider,
		})
		if err != nil {
			return fmt.Errorf("failed to create metrics server: %w", err)
		}

		go func() {
			if err := metricsServer.Start(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		logger.Info("metrics server started", "addr", metricsServer.Addr())

		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := metricsServer.Shutdown(ctx); err != nil {
				logger.Error("metrics server shutdown failed", "error", err)
			}
		}()
	}

	newBackend, err := buildBackendFactory(opts.backend, logger)
	if err != nil {
		return err
	}

	contextOpts := []server.ContextOption{
		server.WithContextLogger(logger),
	}
	if provider.Enabled() {
		contextOpts = append(contextOpts, server.WithMetrics(provider.Metrics()))
	}

	prefStore, err := prefs.NewStore()
	if err != nil {
		logger.Warn("preference store unavailable, dark mode will not persist", "error", err)
	} else {
		contextOpts = append(contextOpts, server.WithPrefs(prefStore))
	}

	if opts.googleClientID != "" && opts.googleClientSecret != "" {
		federated, err := session.NewGoogleAuthenticator(opts.googleClientID, opts.googleClientSecret,
			session.WithGoogleLogger(logger))
		if err != nil {
			return fmt.Errorf("failed to create Google authenticator: %w", err)
		}
		contextOpts = append(contextOpts, server.WithFederated(federated))
	} else {
		logger.Info("Google sign-in disabled, no client credentials configured")
	}

	serverContext, err := server.NewServerContext(shutdownCtx, newBackend, contextOpts...)
	if err != nil {
		return fmt.Errorf("failed to create server context: %w", err)
	}
	defer func() {
		if err := serverContext.Shutdown(); err != nil {
			logger.Error("server context shutdown failed", "error", err)
		}
	}()

	mux := http.NewServeMux()
	server.NewAPI(serverContext).Register(mux)

	healthChecker := server.NewHealthChecker(serverContext)
	healthChecker.RegisterHealthEndpoints(mux)

	if opts.staticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(opts.staticDir)))
	}

	httpServer := &http.Server{
		Addr:              opts.httpAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverDone <- err
		}
	}()

	healthChecker.SetReady(true)
	logger.Info("taskdeck server started",
		"addr", opts.httpAddr,
		"backend", opts.backend,
		"version", version)

	select {
	case <-shutdownCtx.Done():
		logger.Info("shutdown signal received, stopping HTTP server")
		healthChecker.SetReady(false)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("error shutting down HTTP server: %w", err)
		}
	case err := <-serverDone:
		if err != nil {
			return fmt.Errorf("HTTP server stopped with error: %w", err)
		}
	}

	logger.Info("HTTP server gracefully stopped")
	return nil
}

// buildBackendFactory resolves the --backend flag to a factory producing
// per-user platform backends.
func buildBackendFactory(backend string, logger *slog.Logger) (server.BackendFactory, error) {
	switch backend {
	case backendMemory:
		return server.SharedBackend(platform.NewMemory()), nil

	case backendFirebase:
		cfg := platform.ConfigFromEnv()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("firebase backend: %w (set TASKDECK_API_KEY and TASKDECK_DATABASE_URL, or use --backend memory)", err)
		}

		return func(tokenFn func() string) platform.Backend {
			// cfg is validated above, so NewClient cannot fail here.
			client, _ := platform.NewClient(cfg,
				platform.WithTokenFunc(tokenFn),
				platform.WithLogger(logger))
			return client
		}, nil

	default:
		return nil, fmt.Errorf("unsupported backend: %s (supported: firebase, memory)", backend)
	}
}

// loadMetricsEnvVars loads metrics configuration from environment
// variables. Environment variables only override flag values when the
// flag was not explicitly set.
func loadMetricsEnvVars(cmd *cobra.Command, config *MetricsConfig) {
	if !cmd.Flags().Changed("metrics-enabled") {
		if enabled := os.Getenv("METRICS_ENABLED"); enabled != "" {
			config.Enabled = enabled == "true"
		}
	}

	if !cmd.Flags().Changed("metrics-addr") {
		if addr := os.Getenv("METRICS_ADDR"); addr != "" {
			config.Addr = addr
		}
	}
}
