// Package config loads and validates client configuration via Viper.
package config

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
)

// Config captures all client configuration knobs loaded via Viper.
type Config struct {
	Backend  BackendConfig  `mapstructure:"backend"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Identity IdentityConfig `mapstructure:"identity"`
	Status   StatusConfig   `mapstructure:"status"`
	Progress ProgressConfig `mapstructure:"progress"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// BackendConfig holds the backend base addresses. WSURL is derived from
// HTTPURL when empty.
type BackendConfig struct {
	HTTPURL string `mapstructure:"http_url"`
	WSURL   string `mapstructure:"ws_url"`
}

// PipelineConfig governs how runs are driven.
type PipelineConfig struct {
	Mode            string `mapstructure:"mode"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
	AnnounceConnect bool   `mapstructure:"announce_connect"`
	DefaultMaxDepth int    `mapstructure:"default_max_depth"`
}

// IdentityConfig locates the persisted client id. An empty Path uses the
// per-user config directory.
type IdentityConfig struct {
	Path string `mapstructure:"path"`
}

// StatusConfig controls the optional status server.
type StatusConfig struct {
	Addr string `mapstructure:"addr"`
}

// ProgressConfig sizes the progress hub.
type ProgressConfig struct {
	BufferSize     int `mapstructure:"buffer_size"`
	MaxBatchEvents int `mapstructure:"max_batch_events"`
	MaxBatchWaitMs int `mapstructure:"max_batch_wait_ms"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PIPELINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrap(err, "read config")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "unmarshal config")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("backend.http_url", "http://localhost:8000")
	v.SetDefault("backend.ws_url", "")
	v.SetDefault("pipeline.mode", "combined")
	v.SetDefault("pipeline.timeout_seconds", 300)
	v.SetDefault("pipeline.announce_connect", true)
	v.SetDefault("pipeline.default_max_depth", 250)
	v.SetDefault("identity.path", "")
	v.SetDefault("status.addr", "")
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.max_batch_events", 100)
	v.SetDefault("progress.max_batch_wait_ms", 250)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Backend.HTTPURL == "" {
		return errors.New("backend.http_url must be set")
	}
	switch c.Pipeline.Mode {
	case "combined", "sequential":
	default:
		return errors.Newf("pipeline.mode must be combined or sequential, got %q", c.Pipeline.Mode)
	}
	if c.Pipeline.TimeoutSeconds <= 0 {
		return errors.New("pipeline.timeout_seconds must be > 0")
	}
	if d := c.Pipeline.DefaultMaxDepth; d < 50 || d > 1000 {
		return errors.Newf("pipeline.default_max_depth must be within 50..1000, got %d", d)
	}
	if c.Progress.BufferSize < 0 || c.Progress.MaxBatchEvents < 0 || c.Progress.MaxBatchWaitMs < 0 {
		return errors.New("progress sizes must be >= 0")
	}
	return nil
}

// PipelineTimeout converts the per-connection timeout into a duration.
func (c Config) PipelineTimeout() time.Duration {
	return time.Duration(c.Pipeline.TimeoutSeconds) * time.Second
}

// BatchWait converts the progress flush interval into a duration.
func (c Config) BatchWait() time.Duration {
	return time.Duration(c.Progress.MaxBatchWaitMs) * time.Millisecond
}
