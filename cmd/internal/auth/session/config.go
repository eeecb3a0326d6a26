package session

import (
	"os"
	"strings"
	"time"
)

// Config defines runtime configuration for the session subsystem.
type Config struct {
	// Key names the persisted session record.
	Key string

	// InteractiveRetryTimeout bounds the single retry an interactive sign-in
	// performs after the provider rejected the first credential.
	InteractiveRetryTimeout time.Duration

	// StoreTimeout bounds each snapshot write.
	StoreTimeout time.Duration

	// SignOutTimeout bounds the credential lookup and revocation of a sign-out.
	SignOutTimeout time.Duration
}

// DefaultConfig returns the development defaults.
func DefaultConfig() Config {
	return Config{
		Key:                     "default",
		InteractiveRetryTimeout: 2 * time.Minute,
		StoreTimeout:            5 * time.Second,
		SignOutTimeout:          10 * time.Second,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Optional (durations must be valid Go duration strings):
//   - DOCRELAY_SESSION_KEY
//   - DOCRELAY_INTERACTIVE_RETRY_TIMEOUT
//   - DOCRELAY_STORE_TIMEOUT
//   - DOCRELAY_SIGNOUT_TIMEOUT
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v, ok := os.LookupEnv("DOCRELAY_SESSION_KEY"); ok {
		v = strings.TrimSpace(v)
		if v == "" || len(v) > 128 {
			return Config{}, ErrConfig
		}
		cfg.Key = v
	}

	if v := os.Getenv("DOCRELAY_INTERACTIVE_RETRY_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.InteractiveRetryTimeout = d
	}

	if v := os.Getenv("DOCRELAY_STORE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.StoreTimeout = d
	}

	if v := os.Getenv("DOCRELAY_SIGNOUT_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.SignOutTimeout = d
	}

	return cfg, nil
}
