package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// FirstEnv returns the first non-empty value among the named environment
// variables, consulting lookup in order. The second return reports which
// name matched, or "" when none did.
func FirstEnv(lookup func(string) string, names ...string) (string, string) {
	for _, name := range names {
		if value := lookup(name); value != "" {
			return value, name
		}
	}
	return "", ""
}
