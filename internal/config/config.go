// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server       ServerConfig            `mapstructure:"server"`
	Auth         AuthConfig              `mapstructure:"auth"`
	Store        StoreConfig             `mapstructure:"store"`
	CaseDB       CaseDBConfig            `mapstructure:"case_db"`
	Session      SessionConfig           `mapstructure:"session"`
	Claim        ClaimConfig             `mapstructure:"claim"`
	Orchestrator OrchestratorConfig      `mapstructure:"orchestrator"`
	Worker       WorkerConfig            `mapstructure:"worker"`
	Engine       EngineConfig            `mapstructure:"engine"`
	Enrichment   EnrichmentConfig        `mapstructure:"enrichment"`
	Artifacts    ArtifactsConfig         `mapstructure:"artifacts"`
	PubSub       PubSubConfig            `mapstructure:"pubsub"`
	Logging      LoggingConfig           `mapstructure:"logging"`
	Sources      map[string]SourceConfig `mapstructure:"sources"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// StoreConfig controls access to the local task database.
type StoreConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
	// Memory swaps the Postgres store for the in-memory one. Dev only.
	Memory bool `mapstructure:"memory"`
}

// CaseDBConfig controls access to the external case-management database.
type CaseDBConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

// SessionConfig holds the portal login parameters.
type SessionConfig struct {
	LoginURL       string `mapstructure:"login_url"`
	Username       string `mapstructure:"username"`
	Password       string `mapstructure:"password"`
	LoginMarker    string `mapstructure:"login_marker"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// ClaimConfig tunes the external claim client.
type ClaimConfig struct {
	Endpoint      string `mapstructure:"endpoint"`
	MaxAttempts   int    `mapstructure:"max_attempts"`
	BackoffBaseMs int    `mapstructure:"backoff_base_ms"`
	BackoffMaxMs  int    `mapstructure:"backoff_max_ms"`
}

// OrchestratorConfig governs the refill loop.
type OrchestratorConfig struct {
	IntervalSeconds int `mapstructure:"interval_seconds"`
}

// WorkerConfig governs the processing loop.
type WorkerConfig struct {
	IdleSleepSeconds int    `mapstructure:"idle_sleep_seconds"`
	Topic            string `mapstructure:"topic"`
}

// EngineConfig configures the form-automation engine.
type EngineConfig struct {
	// Mode is "chromedp" or "noop".
	Mode              string            `mapstructure:"mode"`
	NavTimeoutSeconds int               `mapstructure:"nav_timeout_seconds"`
	SuccessMarker     string            `mapstructure:"success_marker"`
	ErrorMarker       string            `mapstructure:"error_marker"`
	PortalURLs        map[string]string `mapstructure:"portal_urls"`
}

// EnrichmentConfig configures the address-normalization service.
type EnrichmentConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// ArtifactsConfig sets where filing artifacts are persisted.
type ArtifactsConfig struct {
	// Mode is "gcs", "local" or "memory".
	Mode      string `mapstructure:"mode"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	BaseDir   string `mapstructure:"base_dir"`
}

// PubSubConfig holds metadata for completion-event notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// SourceConfig describes one external case source.
type SourceConfig struct {
	// Mode is "sql" or "web".
	Mode             string `mapstructure:"mode"`
	Rank             int    `mapstructure:"rank"`
	TargetQueueDepth int    `mapstructure:"target_queue_depth"`
	MaxRefillBatch   int    `mapstructure:"max_refill_batch"`
	CaseType         string `mapstructure:"case_type"`
	ListURL          string `mapstructure:"list_url"`
	Protocol         string `mapstructure:"protocol"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TRAMITADOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("case_db.max_open_conns", 4)
	v.SetDefault("case_db.max_idle_conns", 2)
	v.SetDefault("session.timeout_seconds", 30)
	v.SetDefault("claim.max_attempts", 3)
	v.SetDefault("claim.backoff_base_ms", 250)
	v.SetDefault("claim.backoff_max_ms", 5000)
	v.SetDefault("orchestrator.interval_seconds", 60)
	v.SetDefault("worker.idle_sleep_seconds", 5)
	v.SetDefault("engine.mode", "noop")
	v.SetDefault("engine.nav_timeout_seconds", 60)
	v.SetDefault("enrichment.timeout_seconds", 5)
	v.SetDefault("artifacts.mode", "memory")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if !c.Store.Memory && c.Store.DSN == "" {
		return fmt.Errorf("store.dsn must be set unless store.memory is enabled")
	}
	if c.Orchestrator.IntervalSeconds <= 0 {
		return fmt.Errorf("orchestrator.interval_seconds must be > 0")
	}
	if c.Worker.IdleSleepSeconds <= 0 {
		return fmt.Errorf("worker.idle_sleep_seconds must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Engine.Mode {
	case "noop":
	case "chromedp":
		if len(c.Engine.PortalURLs) == 0 {
			return fmt.Errorf("engine.portal_urls must be set when engine.mode is chromedp")
		}
	default:
		return fmt.Errorf("engine.mode must be noop or chromedp, got %q", c.Engine.Mode)
	}
	switch c.Artifacts.Mode {
	case "memory":
	case "local":
		if c.Artifacts.BaseDir == "" {
			return fmt.Errorf("artifacts.base_dir must be set when artifacts.mode is local")
		}
	case "gcs":
		if c.Artifacts.GCSBucket == "" {
			return fmt.Errorf("artifacts.gcs_bucket must be set when artifacts.mode is gcs")
		}
	default:
		return fmt.Errorf("artifacts.mode must be memory, local or gcs, got %q", c.Artifacts.Mode)
	}
	if c.PubSub.Enabled && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub is enabled")
	}
	if len(c.Sources) == 0 {
		return fmt.Errorf("at least one source must be configured")
	}
	for name, src := range c.Sources {
		if err := src.validate(name); err != nil {
			return err
		}
	}
	return nil
}

func (s SourceConfig) validate(name string) error {
	switch s.Mode {
	case "sql":
		if s.CaseType == "" {
			return fmt.Errorf("sources.%s.case_type must be set for sql sources", name)
		}
	case "web":
		if s.ListURL == "" {
			return fmt.Errorf("sources.%s.list_url must be set for web sources", name)
		}
	default:
		return fmt.Errorf("sources.%s.mode must be sql or web, got %q", name, s.Mode)
	}
	if s.Rank < 0 {
		return fmt.Errorf("sources.%s.rank must be >= 0", name)
	}
	if s.TargetQueueDepth <= 0 {
		return fmt.Errorf("sources.%s.target_queue_depth must be > 0", name)
	}
	if s.MaxRefillBatch <= 0 {
		return fmt.Errorf("sources.%s.max_refill_batch must be > 0", name)
	}
	if s.Protocol == "" {
		return fmt.Errorf("sources.%s.protocol must be set", name)
	}
	return nil
}

// OrchestratorInterval returns the refill interval as a duration.
func (c Config) OrchestratorInterval() time.Duration {
	return time.Duration(c.Orchestrator.IntervalSeconds) * time.Second
}

// WorkerIdleSleep returns the worker idle pause as a duration.
func (c Config) WorkerIdleSleep() time.Duration {
	return time.Duration(c.Worker.IdleSleepSeconds) * time.Second
}
