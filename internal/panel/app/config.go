package app

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	IdentityServiceURL string // Required: base URL of the hosted identity service
	SealPassphrase     string // Required: passphrase for sealing refresh tokens at rest

	PublicOrigin        string        // Optional: public origin for sign-up confirmation redirects (default: http://localhost:<port>/)
	DatabaseFile        string        // Optional: path to SQLite database file (default: ./panel.db)
	SessionTTL          time.Duration // Optional: how long an idle browser session survives (default: 24h)
	SweepInterval       time.Duration // Optional: janitor interval for refresh/eviction (default: 1m)
	Env                 string        // Environment (dev, staging, prod) (default: dev)
	LogLevel            string        // Log level (debug, info, warn, error) (default: info)
	LogFormat           string        // Log format (json, text) (default: json)
	Port                int           // HTTP server port (default: 8080)
	ShutdownGracePeriod time.Duration // Graceful shutdown timeout (default: 10s)
}

func LoadConfig() Config {
	// A local .env is a development convenience; absence is not an error.
	_ = godotenv.Load()

	cfg := Config{
		IdentityServiceURL:  os.Getenv("IDP_BASE_URL"),
		SealPassphrase:      os.Getenv("PANEL_SEAL_PASSPHRASE"),
		PublicOrigin:        os.Getenv("PANEL_PUBLIC_ORIGIN"),
		DatabaseFile:        getEnvOrDefault("PANEL_DATABASE_FILE", "panel.db"),
		SessionTTL:          getEnvDurationOrDefault("PANEL_SESSION_TTL", 24*time.Hour),
		SweepInterval:       getEnvDurationOrDefault("PANEL_SWEEP_INTERVAL", time.Minute),
		Env:                 getEnvOrDefault("ENV", "dev"),
		LogLevel:            getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:           getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod: getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
	}

	if cfg.PublicOrigin == "" {
		cfg.PublicOrigin = fmt.Sprintf("http://localhost:%d/", cfg.Port)
	}

	return cfg
}

// Validate reports missing required settings before anything is wired up.
func (cfg Config) Validate() error {
	if cfg.IdentityServiceURL == "" {
		return fmt.Errorf("IDP_BASE_URL must be set")
	}
	if cfg.SealPassphrase == "" {
		return fmt.Errorf("PANEL_SEAL_PASSPHRASE must be set")
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}

	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}

	return defaultValue
}
