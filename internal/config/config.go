// Package config loads vendorflow configuration from a YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/vendorflow/internal/decision"
	"github.com/fyrsmithlabs/vendorflow/internal/events"
	"github.com/fyrsmithlabs/vendorflow/internal/linking"
	"github.com/fyrsmithlabs/vendorflow/internal/pipeline"
	"github.com/fyrsmithlabs/vendorflow/internal/sanitize"
	"github.com/fyrsmithlabs/vendorflow/internal/workflows"
)

// Config holds the complete vendorflow configuration.
type Config struct {
	Server      ServerConfig         `koanf:"server"`
	Database    DatabaseConfig       `koanf:"database"`
	Extraction  ExtractionConfig     `koanf:"extraction"`
	Analysis    AnalysisConfig       `koanf:"analysis"`
	Decision    decision.Config      `koanf:"decision"`
	Linking     linking.Config       `koanf:"linking"`
	Definitions DefinitionsConfig    `koanf:"definitions"`
	Sweep       SweepConfig          `koanf:"sweep"`
	Workers     pipeline.QueueConfig `koanf:"workers"`
	NATS        events.Config        `koanf:"nats"`
	Temporal    workflows.Config     `koanf:"temporal"`
	Redis       RedisConfig          `koanf:"redis"`
	Redaction   RedactionConfig      `koanf:"redaction"`
	Logging     LoggingConfig        `koanf:"logging"`
	Telemetry   TelemetryConfig      `koanf:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// DatabaseConfig selects the relational store.
type DatabaseConfig struct {
	Driver          string   `koanf:"driver"` // postgres or sqlite
	DSN             Secret   `koanf:"dsn"`
	MaxOpenConns    int      `koanf:"max_open_conns"`
	MaxIdleConns    int      `koanf:"max_idle_conns"`
	ConnMaxLifetime Duration `koanf:"conn_max_lifetime"`
	SlowQuery       Duration `koanf:"slow_query"`
	LogQueries      bool     `koanf:"log_queries"`
	AutoMigrate     bool     `koanf:"auto_migrate"`
}

// ExtractionConfig configures the AI extractor.
type ExtractionConfig struct {
	Provider    string   `koanf:"provider"` // disabled, anthropic or openai
	Model       string   `koanf:"model"`
	APIKey      Secret   `koanf:"api_key"`
	BaseURL     string   `koanf:"base_url"`
	MaxTokens   int      `koanf:"max_tokens"`
	Timeout     Duration `koanf:"timeout"`
	MaxRetries  int      `koanf:"max_retries"`
	BaseBackoff Duration `koanf:"base_backoff"`
}

// AnalysisConfig configures the thread analyzer.
type AnalysisConfig struct {
	Version string   `koanf:"version"`
	Timeout Duration `koanf:"timeout"`
}

// Definition sources.
const (
	DefinitionSourceStore = "store"
	DefinitionSourceFile  = "file"
)

// DefinitionsConfig selects where status definitions come from.
type DefinitionsConfig struct {
	Source string `koanf:"source"`
	Path   string `koanf:"path"`
	Watch  bool   `koanf:"watch"`

	// Seed inserts the built-in lifecycle into an empty store.
	Seed bool `koanf:"seed"`
}

// Sweep modes.
const (
	SweepModeLocal    = "local"
	SweepModeTemporal = "temporal"
	SweepModeOff      = "off"
)

// SweepConfig controls the proposal expiry sweep.
type SweepConfig struct {
	Mode     string   `koanf:"mode"`
	Interval Duration `koanf:"interval"`
	Timeout  Duration `koanf:"timeout"`
}

// RedisConfig enables the distributed relationship lock.
type RedisConfig struct {
	Enabled  bool     `koanf:"enabled"`
	Addr     string   `koanf:"addr"`
	Password Secret   `koanf:"password"`
	DB       int      `koanf:"db"`
	Prefix   string   `koanf:"prefix"`
	LockTTL  Duration `koanf:"lock_ttl"`
}

// RedactionConfig controls scrubbing of message content before it is sent
// to an extraction provider.
type RedactionConfig struct {
	Enabled     bool     `koanf:"enabled"`
	Replacement string   `koanf:"replacement"`
	AllowList   []string `koanf:"allow_list"`
}

// LoggingConfig is the subset of logging options exposed to operators.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json or console
	OTEL   bool   `koanf:"otel"`
}

// TelemetryConfig is the subset of OpenTelemetry options exposed to
// operators.
type TelemetryConfig struct {
	Enabled      bool    `koanf:"enabled"`
	Endpoint     string  `koanf:"endpoint"`
	Protocol     string  `koanf:"protocol"` // grpc or http/protobuf
	Insecure     bool    `koanf:"insecure"`
	SamplingRate float64 `koanf:"sampling_rate"`
}

// Default returns the configuration used for any key left unset.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Database: DatabaseConfig{
			Driver:          "sqlite",
			DSN:             "file:vendorflow.db?_busy_timeout=5000&_journal_mode=WAL",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: Duration(30 * time.Minute),
			SlowQuery:       Duration(200 * time.Millisecond),
			AutoMigrate:     true,
		},
		Extraction: ExtractionConfig{
			Provider:    "disabled",
			MaxTokens:   1024,
			Timeout:     Duration(30 * time.Second),
			MaxRetries:  3,
			BaseBackoff: Duration(time.Second),
		},
		Analysis: AnalysisConfig{
			Version: "1",
			Timeout: Duration(30 * time.Second),
		},
		Decision: decision.DefaultConfig(),
		Linking:  linking.DefaultConfig(),
		Definitions: DefinitionsConfig{
			Source: DefinitionSourceStore,
			Seed:   true,
		},
		Sweep: SweepConfig{
			Mode:     SweepModeLocal,
			Interval: Duration(5 * time.Minute),
			Timeout:  Duration(time.Minute),
		},
		Workers: pipeline.DefaultQueueConfig(),
		NATS: events.Config{
			URL:           "nats://127.0.0.1:4222",
			Name:          "vendorflow",
			QueueGroup:    "vendorflow",
			ReconnectWait: 2 * time.Second,
		},
		Temporal: workflows.DefaultConfig(),
		Redis: RedisConfig{
			Addr:    "localhost:6379",
			Prefix:  "vendorflow:",
			LockTTL: Duration(30 * time.Second),
		},
		Redaction: RedactionConfig{
			Enabled:     true,
			Replacement: "[REDACTED]",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Endpoint:     "localhost:4317",
			Protocol:     "grpc",
			Insecure:     true,
			SamplingRate: 1.0,
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port))
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("shutdown timeout must be positive"))
	}

	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("unknown database driver: %q", c.Database.Driver))
	}
	if !c.Database.DSN.IsSet() {
		errs = append(errs, errors.New("database dsn is required"))
	}

	switch c.Extraction.Provider {
	case "", "disabled":
	case "anthropic", "openai":
		if !c.Extraction.APIKey.IsSet() {
			errs = append(errs, fmt.Errorf("extraction provider %s requires api_key", c.Extraction.Provider))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown extraction provider: %q", c.Extraction.Provider))
	}

	if c.Analysis.Version == "" {
		errs = append(errs, errors.New("analysis version is required"))
	}

	if err := c.Decision.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("decision: %w", err))
	}
	if c.Linking.AutoLinkScore <= 0 || c.Linking.AutoLinkScore > 1 {
		errs = append(errs, fmt.Errorf("linking auto_link_score must be in (0,1], got %v", c.Linking.AutoLinkScore))
	}
	if c.Linking.Margin < 0 || c.Linking.Margin > 1 {
		errs = append(errs, fmt.Errorf("linking margin must be in [0,1], got %v", c.Linking.Margin))
	}

	switch c.Definitions.Source {
	case DefinitionSourceStore:
	case DefinitionSourceFile:
		if c.Definitions.Path == "" {
			errs = append(errs, errors.New("definitions path is required for the file source"))
		} else if _, err := sanitize.ValidatePath(c.Definitions.Path, ""); err != nil {
			errs = append(errs, fmt.Errorf("definitions path: %w", err))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown definitions source: %q", c.Definitions.Source))
	}

	switch c.Sweep.Mode {
	case SweepModeLocal, SweepModeOff:
	case SweepModeTemporal:
		if !c.Temporal.Enabled {
			errs = append(errs, errors.New("sweep mode temporal requires temporal.enabled"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown sweep mode: %q", c.Sweep.Mode))
	}
	if c.Sweep.Mode != SweepModeOff && c.Sweep.Interval <= 0 {
		errs = append(errs, errors.New("sweep interval must be positive"))
	}

	if c.Workers.Workers < 1 {
		errs = append(errs, fmt.Errorf("workers must be at least 1, got %d", c.Workers.Workers))
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		errs = append(errs, errors.New("nats url is required when nats is enabled"))
	}
	if c.Temporal.Enabled && c.Temporal.TaskQueue == "" {
		errs = append(errs, errors.New("temporal task_queue is required when temporal is enabled"))
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis addr is required when redis is enabled"))
	}
	if p := c.Telemetry.Protocol; p != "" && p != "grpc" && p != "http/protobuf" {
		errs = append(errs, fmt.Errorf("telemetry protocol must be grpc or http/protobuf, got %q", p))
	}
	if c.Telemetry.SamplingRate < 0 || c.Telemetry.SamplingRate > 1 {
		errs = append(errs, fmt.Errorf("telemetry sampling_rate must be between 0 and 1, got %v", c.Telemetry.SamplingRate))
	}

	return errors.Join(errs...)
}
