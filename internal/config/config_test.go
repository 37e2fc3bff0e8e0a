package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Backend.HTTPURL != "http://localhost:8000" {
		t.Fatalf("expected default http url, got %q", cfg.Backend.HTTPURL)
	}
	if cfg.Pipeline.Mode != "combined" || !cfg.Pipeline.AnnounceConnect {
		t.Fatalf("expected combined mode with connect announcement: %+v", cfg.Pipeline)
	}
	if got := cfg.PipelineTimeout(); got != 5*time.Minute {
		t.Fatalf("expected 5m timeout, got %v", got)
	}
	if cfg.Pipeline.DefaultMaxDepth != 250 {
		t.Fatalf("expected default depth 250, got %d", cfg.Pipeline.DefaultMaxDepth)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
backend:
  http_url: https://rag.example.com
  ws_url: wss://stream.example.com
pipeline:
  mode: sequential
  timeout_seconds: 45
  announce_connect: false
  default_max_depth: 500
identity:
  path: /tmp/identity.yaml
status:
  addr: 127.0.0.1:9090
progress:
  buffer_size: 16
  max_batch_events: 4
  max_batch_wait_ms: 50
logging:
  development: true
  level: debug
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Backend.HTTPURL != "https://rag.example.com" || cfg.Backend.WSURL != "wss://stream.example.com" {
		t.Fatalf("expected backend overrides to apply: %+v", cfg.Backend)
	}
	if cfg.Pipeline.Mode != "sequential" || cfg.Pipeline.AnnounceConnect {
		t.Fatalf("expected pipeline overrides to apply: %+v", cfg.Pipeline)
	}
	if got := cfg.PipelineTimeout(); got != 45*time.Second {
		t.Fatalf("expected timeout 45s, got %v", got)
	}
	if cfg.Identity.Path != "/tmp/identity.yaml" || cfg.Status.Addr != "127.0.0.1:9090" {
		t.Fatalf("expected identity/status overrides: %+v %+v", cfg.Identity, cfg.Status)
	}
	if got := cfg.BatchWait(); got != 50*time.Millisecond {
		t.Fatalf("expected batch wait 50ms, got %v", got)
	}
	if !cfg.Logging.Development || cfg.Logging.Level != "debug" {
		t.Fatalf("expected logging overrides: %+v", cfg.Logging)
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("PIPELINE_BACKEND_HTTP_URL", "http://10.0.0.5:8000")
	t.Setenv("PIPELINE_PIPELINE_MODE", "sequential")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Backend.HTTPURL != "http://10.0.0.5:8000" {
		t.Fatalf("expected env http url, got %q", cfg.Backend.HTTPURL)
	}
	if cfg.Pipeline.Mode != "sequential" {
		t.Fatalf("expected env mode, got %q", cfg.Pipeline.Mode)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Backend:  BackendConfig{HTTPURL: "http://localhost:8000"},
		Pipeline: PipelineConfig{Mode: "combined", TimeoutSeconds: 300, DefaultMaxDepth: 250},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should validate: %v", err)
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "missing http url",
			cfg: func() Config {
				c := base
				c.Backend.HTTPURL = ""
				return c
			}(),
			want: "backend.http_url",
		},
		{
			name: "unknown mode",
			cfg: func() Config {
				c := base
				c.Pipeline.Mode = "parallel"
				return c
			}(),
			want: "pipeline.mode",
		},
		{
			name: "invalid timeout",
			cfg: func() Config {
				c := base
				c.Pipeline.TimeoutSeconds = 0
				return c
			}(),
			want: "pipeline.timeout_seconds",
		},
		{
			name: "depth out of range",
			cfg: func() Config {
				c := base
				c.Pipeline.DefaultMaxDepth = 5000
				return c
			}(),
			want: "pipeline.default_max_depth",
		},
		{
			name: "negative progress buffer",
			cfg: func() Config {
				c := base
				c.Progress.BufferSize = -1
				return c
			}(),
			want: "progress",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
