// Package env loads process configuration from the environment.
package env

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	caarlos "github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Get returns the value of the environment variable or the default if not set.
func Get(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// LoadDotEnv loads .env files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env", ".env.local"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Parse fills target from `env` struct tags.
func Parse(target any) error {
	if err := caarlos.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
