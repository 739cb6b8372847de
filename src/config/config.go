// Package config provides configuration management for the capomastro
// application.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds the application configuration.
type Config struct {
	// ListenAddr is the address the webhook server binds to.
	ListenAddr string

	// DatabaseURL is the Postgres DSN. When empty the in-memory store is
	// used (local mode).
	DatabaseURL string

	// NotificationHost is the base URL Jenkins servers use to reach the
	// notification endpoint, e.g. "http://capomastro.example.com".
	NotificationHost string

	// RedpandaBrokers lists Kafka-compatible broker addresses for
	// re-publishing project-build-finished events. Empty disables the
	// bridge.
	RedpandaBrokers []string

	// ArchiveDir is a local directory finished project builds are archived
	// to. Empty disables archiving.
	ArchiveDir string
}

// LoadFromEnv loads configuration from environment variables. A .env file
// in the working directory is applied first when present.
func LoadFromEnv() (*Config, error) {
	// Missing .env is fine; explicit env vars always win.
	_ = godotenv.Load()

	cfg := &Config{
		ListenAddr:       os.Getenv("CAPOMASTRO_LISTEN_ADDR"),
		DatabaseURL:      os.Getenv("CAPOMASTRO_DATABASE_URL"),
		NotificationHost: os.Getenv("CAPOMASTRO_NOTIFICATION_HOST"),
		ArchiveDir:       os.Getenv("CAPOMASTRO_ARCHIVE_DIR"),
	}

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8000"
	}

	if cfg.NotificationHost == "" {
		return nil, fmt.Errorf("CAPOMASTRO_NOTIFICATION_HOST environment variable is required")
	}

	if brokers := os.Getenv("REDPANDA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.RedpandaBrokers = append(cfg.RedpandaBrokers, b)
			}
		}
	}

	return cfg, nil
}

// MustLoadFromEnv loads configuration from environment variables and panics
// on error. This is useful for initialization in main() where configuration
// errors should be fatal.
func MustLoadFromEnv() *Config {
	cfg, err := LoadFromEnv()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}
