package config

import (
	"errors"
	"fmt"
	"time"

	dferrors "github.com/randalmurphal/docflow/pkg/docflow/errors"
)

// Environment variable names.
const (
	EnvPrefix = "DOCFLOW"
	APIKeyEnv = "ANTHROPIC_API_KEY"
)

// Keys lists every recognised configuration key.
var Keys = []string{
	"llm.model", "llm.max_tokens", "llm.requests_per_minute", "llm.call_timeout",
	"retry.max_attempts", "retry.initial_backoff", "retry.max_backoff",
	"retry.backoff_factor", "retry.jitter",
	"store.driver", "store.dsn",
	"persist.max_attempts",
	"execute.concurrency",
	"server.addr", "server.cors_origins",
	"log.level", "log.format",
	"experiments.file",
	"telemetry.enabled",
}

// Settings is the typed configuration of a docflow process.
type Settings struct {
	APIKey            string
	Model             string
	MaxTokens         int
	RequestsPerMinute int

	Retry dferrors.RetryConfig

	StoreDriver        string
	StoreDSN           string
	PersistMaxAttempts int

	ExecuteConcurrency int

	ServerAddr  string
	CORSOrigins []string

	LogLevel  string
	LogFormat string

	ExperimentsFile  string
	TelemetryEnabled bool
}

// FromConfig derives Settings from cfg, applying defaults for missing keys.
func FromConfig(cfg Config) Settings {
	def := dferrors.DefaultRetry
	return Settings{
		Model:             cfg.String("llm.model", "claude-sonnet-4-5"),
		MaxTokens:         cfg.Int("llm.max_tokens", 4096),
		RequestsPerMinute: cfg.Int("llm.requests_per_minute", 0),

		Retry: dferrors.RetryConfig{
			MaxAttempts:    cfg.Int("retry.max_attempts", def.MaxAttempts),
			InitialBackoff: cfg.Duration("retry.initial_backoff", def.InitialBackoff),
			MaxBackoff:     cfg.Duration("retry.max_backoff", def.MaxBackoff),
			BackoffFactor:  cfg.Float("retry.backoff_factor", def.BackoffFactor),
			Jitter:         cfg.Float("retry.jitter", def.Jitter),
			AttemptTimeout: cfg.Duration("llm.call_timeout", def.AttemptTimeout),
		},

		StoreDriver:        cfg.String("store.driver", "memory"),
		StoreDSN:           cfg.String("store.dsn", ""),
		PersistMaxAttempts: cfg.Int("persist.max_attempts", 3),

		ExecuteConcurrency: cfg.Int("execute.concurrency", 4),

		ServerAddr: cfg.String("server.addr", ":8080"),

		LogLevel:  cfg.String("log.level", "info"),
		LogFormat: cfg.String("log.format", "text"),

		ExperimentsFile:  cfg.String("experiments.file", ""),
		TelemetryEnabled: cfg.Bool("telemetry.enabled", false),
	}
}

// Validate reports every invalid setting.
func (s Settings) Validate() error {
	var errs []error
	if s.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry.max_attempts must be >= 1, got %d", s.Retry.MaxAttempts))
	}
	if s.Retry.BackoffFactor < 1 {
		errs = append(errs, fmt.Errorf("retry.backoff_factor must be >= 1, got %g", s.Retry.BackoffFactor))
	}
	if s.Retry.Jitter < 0 || s.Retry.Jitter > 1 {
		errs = append(errs, fmt.Errorf("retry.jitter must be in [0,1], got %g", s.Retry.Jitter))
	}
	if s.Retry.AttemptTimeout < 0 {
		errs = append(errs, errors.New("llm.call_timeout must not be negative"))
	}
	if s.PersistMaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("persist.max_attempts must be >= 1, got %d", s.PersistMaxAttempts))
	}
	if s.ExecuteConcurrency < 1 {
		errs = append(errs, fmt.Errorf("execute.concurrency must be >= 1, got %d", s.ExecuteConcurrency))
	}
	switch s.StoreDriver {
	case "memory", "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("store.driver must be memory, sqlite or postgres, got %q", s.StoreDriver))
	}
	if s.StoreDriver == "postgres" && s.StoreDSN == "" {
		errs = append(errs, errors.New("store.dsn is required for the postgres driver"))
	}
	return errors.Join(errs...)
}

// PersistRetry returns the retry policy for run store commits.
func (s Settings) PersistRetry() dferrors.RetryConfig {
	cfg := dferrors.PersistRetry
	cfg.MaxAttempts = s.PersistMaxAttempts
	return cfg
}

// CallTimeout returns the per-attempt LLM timeout.
func (s Settings) CallTimeout() time.Duration {
	return s.Retry.AttemptTimeout
}
