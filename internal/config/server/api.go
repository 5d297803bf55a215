package server

import (
	"fmt"
	"strings"
	"time"
)

type APIServerConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// DefaultFormat applies when an upload does not request one: original, webp or avif
	DefaultFormat string           `mapstructure:"default_format" yaml:"default_format"`
	Tokens        []APITokenConfig `mapstructure:"tokens"         yaml:"tokens"`
}

type APITokenConfig struct {
	ID        string `mapstructure:"id"         yaml:"id"`
	Name      string `mapstructure:"name"       yaml:"name"`
	Token     string `mapstructure:"token"      yaml:"token"`
	ExpiresAt string `mapstructure:"expires_at" yaml:"expires_at,omitempty"`
}

// Valid reports whether the token exists and has not expired at now.
func (cfg APIServerConfig) Valid(token string, now time.Time) (*APITokenConfig, bool) {
	if token == "" {
		return nil, false
	}

	for i := range cfg.Tokens {
		entry := &cfg.Tokens[i]
		if entry.Token != token {
			continue
		}
		if entry.ExpiresAt != "" {
			expires, err := time.Parse(time.RFC3339, entry.ExpiresAt)
			if err != nil || !now.Before(expires) {
				return nil, false
			}
		}
		return entry, true
	}
	return nil, false
}

func (cfg *APIServerConfig) validate() error {
	switch strings.ToLower(cfg.DefaultFormat) {
	case "", "original":
		cfg.DefaultFormat = "original"
	case "webp", "avif":
		cfg.DefaultFormat = strings.ToLower(cfg.DefaultFormat)
	default:
		return fmt.Errorf("api.default_format '%s' must be original, webp or avif", cfg.DefaultFormat)
	}

	for _, token := range cfg.Tokens {
		if token.Token == "" {
			return fmt.Errorf("api token '%s' has an empty value", token.Name)
		}
		if token.ExpiresAt != "" {
			if _, err := time.Parse(time.RFC3339, token.ExpiresAt); err != nil {
				return fmt.Errorf("api token '%s' expires_at: %w", token.Name, err)
			}
		}
	}
	return nil
}
