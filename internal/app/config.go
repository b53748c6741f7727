package app

import (
	"time"

	"github.com/kelseyhightower/envconfig"

	adapterotel "github.com/emiliopalmerini/tracebridge/internal/adapters/otel"
)

// Config holds the bridge configuration, loaded from the environment.
type Config struct {
	Port             int           `envconfig:"OTLP_RECEIVER_PORT" default:"4318"`
	LogLevel         string        `envconfig:"LOG_LEVEL" default:"info"`
	SessionTimeoutMS int64         `envconfig:"SESSION_TIMEOUT" default:"3600000"`
	MaxRequestSize   int64         `envconfig:"MAX_REQUEST_SIZE" default:"10485760"`
	SweepInterval    time.Duration `envconfig:"SWEEP_INTERVAL" default:"60s"`
	FlushTimeout     time.Duration `envconfig:"FLUSH_TIMEOUT" default:"5s"`

	LangfuseHost      string `envconfig:"LANGFUSE_HOST"`
	LangfusePublicKey string `envconfig:"LANGFUSE_PUBLIC_KEY"`
	LangfuseSecretKey string `envconfig:"LANGFUSE_SECRET_KEY"`

	APIKey string `envconfig:"API_KEY"`

	OTel adapterotel.Config
}

// New loads configuration from environment variables.
func New() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := envconfig.Process("", &cfg.OTel); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SessionTimeout returns the idle timeout as a duration.
func (c *Config) SessionTimeout() time.Duration {
	return time.Duration(c.SessionTimeoutMS) * time.Millisecond
}

// LangfuseConfigured reports whether all sink credentials are present.
func (c *Config) LangfuseConfigured() bool {
	return c.LangfuseHost != "" && c.LangfusePublicKey != "" && c.LangfuseSecretKey != ""
}
