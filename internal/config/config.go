// Package config builds the process configuration once at startup. Components
// receive the resulting struct by reference; nothing reads ambient environment
// state after Load returns.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds every setting the server needs. Engine API keys are not here:
// they live in per-owner templates in the database.
type Config struct {
	Port        int    `validate:"required,min=1,max=65535"`
	DatabaseURL string `validate:"required"`

	// JWTSecret signs session tokens; CallbackSecret authenticates inbound
	// stage-completion notifications via the ?secret= query parameter.
	JWTSecret          string `validate:"required,min=16"`
	JWTExpirationHours int    `validate:"required,min=1"`
	CallbackSecret     string `validate:"required,min=16"`

	// CallbackBaseURL is the externally reachable base of this server, used
	// to build the callback URLs handed to processing engines.
	CallbackBaseURL string `validate:"required,url"`

	// TranscribeBaseURL points at the transcription engine API.
	TranscribeBaseURL string `validate:"required,url"`

	// Object storage settings. SignedURLTTL bounds how long an issued
	// upload or fetch credential stays usable.
	GCSBucket     string `validate:"required"`
	GCSAccessID   string `validate:"required,email"`
	GCSPrivateKey string `validate:"required"`
	SignedURLTTL  time.Duration

	TranscriptionLanguage string
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		Port:                  envInt("PORT", 8080),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		JWTSecret:             os.Getenv("JWT_SECRET"),
		JWTExpirationHours:    envInt("JWT_EXPIRATION_HOURS", 24),
		CallbackSecret:        os.Getenv("CALLBACK_SECRET"),
		CallbackBaseURL:       strings.TrimSuffix(os.Getenv("CALLBACK_BASE_URL"), "/"),
		TranscribeBaseURL:     envDefault("TRANSCRIBE_BASE_URL", "https://api.deepgram.com"),
		GCSBucket:             os.Getenv("GCS_BUCKET_NAME"),
		GCSAccessID:           os.Getenv("GCS_CLIENT_EMAIL"),
		GCSPrivateKey:         normalizePrivateKey(os.Getenv("GCS_PRIVATE_KEY")),
		SignedURLTTL:          15 * time.Minute,
		TranscriptionLanguage: envDefault("TRANSCRIPTION_LANGUAGE", "es"),
	}

	if ttl := os.Getenv("SIGNED_URL_TTL"); ttl != "" {
		d, err := time.ParseDuration(ttl)
		if err != nil {
			return nil, fmt.Errorf("invalid SIGNED_URL_TTL %q: %w", ttl, err)
		}
		cfg.SignedURLTTL = d
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		var errs validator.ValidationErrors
		if ok := asValidationErrors(err, &errs); ok && len(errs) > 0 {
			first := errs[0]
			return fmt.Errorf("config error: field %s failed %q validation", first.Field(), first.Tag())
		}
		return fmt.Errorf("config error: %w", err)
	}
	if c.SignedURLTTL <= 0 {
		return fmt.Errorf("config error: signed URL TTL must be positive")
	}
	return nil
}

func asValidationErrors(err error, target *validator.ValidationErrors) bool {
	errs, ok := err.(validator.ValidationErrors)
	if ok {
		*target = errs
	}
	return ok
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// normalizePrivateKey restores real newlines in a PEM key passed through an
// environment variable with escaped "\n" sequences.
func normalizePrivateKey(key string) string {
	return strings.ReplaceAll(key, `\n`, "\n")
}
