package logging

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/vendorflow/internal/config"
)

// Config controls how vendorflow services log.
type Config struct {
	Level  zapcore.Level
	Format string // json or console

	// Stdout and OTEL select the sinks. OTEL is skipped when no provider
	// is passed to NewLogger.
	Stdout bool
	OTEL   bool

	// Entries below error level are sampled per message: the first
	// SampleFirst in each SampleTick pass, then one in SampleEvery.
	Sample      bool
	SampleTick  time.Duration
	SampleFirst int
	SampleEvery int

	// RedactKeys are field names masked on stdout regardless of value.
	// RedactPatterns mask any string value they match.
	RedactKeys     []string
	RedactPatterns []string

	// Fields are attached to every entry.
	Fields map[string]string
}

// NewDefaultConfig returns the production configuration.
func NewDefaultConfig() *Config {
	return &Config{
		Level:       zapcore.InfoLevel,
		Format:      "json",
		Stdout:      true,
		Sample:      true,
		SampleTick:  time.Second,
		SampleFirst: 100,
		SampleEvery: 10,
		RedactKeys: []string{
			"password", "secret", "token", "api_key", "authorization",
			"dsn", "body", "snippet",
		},
		RedactPatterns: []string{
			`(?i)bearer\s+\S+`,
			`sk-(ant-)?[A-Za-z0-9_-]{16,}`,
			`(?i)postgres(ql)?://[^:\s]+:[^@\s]+@`,
		},
		Fields: map[string]string{"service": "vendorflow"},
	}
}

// Validate reports every problem with the configuration.
func (c *Config) Validate() error {
	var errs []error
	if c.Format != "json" && c.Format != "console" {
		errs = append(errs, fmt.Errorf("log format must be json or console, got %q", c.Format))
	}
	if !c.Stdout && !c.OTEL {
		errs = append(errs, errors.New("no log output enabled"))
	}
	if c.Sample && (c.SampleTick <= 0 || c.SampleFirst < 1) {
		errs = append(errs, errors.New("sampling needs a positive tick and first count"))
	}
	for _, p := range c.RedactPatterns {
		if len(p) > 200 {
			errs = append(errs, fmt.Errorf("redaction pattern longer than 200 chars: %.20q", p))
			continue
		}
		if _, err := regexp.Compile(p); err != nil {
			errs = append(errs, fmt.Errorf("redaction pattern %q: %w", p, err))
		}
	}
	return errors.Join(errs...)
}

// FromSettings applies the operator-facing logging section over the
// defaults.
func FromSettings(s config.LoggingConfig) (*Config, error) {
	cfg := NewDefaultConfig()
	if s.Level != "" {
		if err := cfg.Level.UnmarshalText([]byte(s.Level)); err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
	}
	if s.Format != "" {
		cfg.Format = s.Format
	}
	cfg.OTEL = s.OTEL
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
