package cmd

import (
	"log/slog"
	"testing"
)

func TestBuildBackendFactory(t *testing.T) {
	logger := slog.Default()

	tests := []struct {
		name    string
		backend string
		env     map[string]string
		wantErr bool
	}{
		{
			name:    "memory backend needs no credentials",
			backend: "memory",
			wantErr: false,
		},
		{
			name:    "firebase backend with credentials",
			backend: "firebase",
			env: map[string]string{
				"TASKDECK_API_KEY":      "test-key",
				"TASKDECK_DATABASE_URL": "https://test-project.firebaseio.test",
			},
			wantErr: false,
		},
		{
			name:    "firebase backend without credentials",
			backend: "firebase",
			env: map[string]string{
				"TASKDECK_API_KEY":      "",
				"TASKDECK_DATABASE_URL": "",
			},
			wantErr: true,
		},
		{
			name:    "unknown backend",
			backend: "postgres",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for key, value := range tt.env {
				t.Setenv(key, value)
			}

			factory, err := buildBackendFactory(tt.backend, logger)
			if tt.wantErr {
				if err == nil {
					t.Errorf("buildBackendFactory(%q) = nil error, want error", tt.backend)
				}
				return
			}
			if err != nil {
				t.Fatalf("buildBackendFactory(%q) returned error: %v", tt.backend, err)
			}
			if factory == nil {
				t.Fatalf("buildBackendFactory(%q) returned nil factory", tt.backend)
			}
			if backend := factory(func() string { return "" }); backend == nil {
				t.Errorf("factory for %q produced nil backend", tt.backend)
			}
		})
	}
}

func TestLoadMetricsEnvVars(t *testing.T) {
	cmd := newServeCmd()

	t.Setenv("METRICS_ENABLED", "false")
	t.Setenv("METRICS_ADDR", ":9999")

	config := MetricsConfig{Enabled: true, Addr: ":9090"}
	loadMetricsEnvVars(cmd, &config)

	if config.Enabled {
		t.Error("expected METRICS_ENABLED=false to disable metrics")
	}
	if config.Addr != ":9999" {
		t.Errorf("expected METRICS_ADDR to override addr, got %q", config.Addr)
	}
}
