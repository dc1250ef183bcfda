// Package config loads workspace client settings from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Config holds everything needed to construct a workspace client.
type Config struct {
	// BaseURL is the workspace backend origin, e.g. https://api.bheem.example.
	BaseURL string `env:"WORKSPACE_BASE_URL" validate:"required,url"`

	// IdentityURL is the token-issuing service origin. Empty means the
	// backend origin also issues tokens.
	IdentityURL string `env:"WORKSPACE_IDENTITY_URL" validate:"omitempty,url"`

	Timeout         time.Duration `env:"WORKSPACE_TIMEOUT" envDefault:"30s" validate:"gt=0"`
	MaxRetries      int           `env:"WORKSPACE_MAX_RETRIES" envDefault:"0" validate:"gte=0,lte=10"`
	RefreshLead     time.Duration `env:"WORKSPACE_REFRESH_LEAD" envDefault:"5m" validate:"gt=0"`
	RefreshInterval time.Duration `env:"WORKSPACE_REFRESH_INTERVAL" envDefault:"2m" validate:"gt=0"`

	LogLevel string `env:"WORKSPACE_LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`

	// SessionFile is where the CLI persists tokens between invocations.
	SessionFile string `env:"WORKSPACE_SESSION_FILE" envDefault:""`

	TracingEnabled bool   `env:"WORKSPACE_TRACING_ENABLED" envDefault:"false"`
	OTLPEndpoint   string `env:"WORKSPACE_OTLP_ENDPOINT" envDefault:"localhost:4318"`
}

// Load parses environment variables into a Config and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := validate.Struct(cfg); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok {
			return Config{}, fmt.Errorf("invalid config: %s", describe(verrs))
		}
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func describe(errs validator.ValidationErrors) string {
	msgs := make([]string, 0, len(errs))
	for _, fe := range errs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("field '%s' is required", fe.Field()))
		case "url":
			msgs = append(msgs, fmt.Sprintf("field '%s' must be a valid URL", fe.Field()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("field '%s' must be one of: %s", fe.Field(), fe.Param()))
		case "gt", "gte":
			msgs = append(msgs, fmt.Sprintf("field '%s' must be at least %s", fe.Field(), fe.Param()))
		case "lte":
			msgs = append(msgs, fmt.Sprintf("field '%s' must be at most %s", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("field '%s' failed on '%s' validation", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}
