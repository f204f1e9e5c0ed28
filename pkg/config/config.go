// Package config loads runtime configuration from environment variables and
// per-jurisdiction pack profiles from YAML.
package config

import (
	"fmt"
	"os"
	"time"
)

// Config holds engine configuration.
type Config struct {
	// Driver selects the store backend: "sqlite" or "postgres".
	Driver string
	// DatabasePath is the SQLite database file.
	DatabasePath string
	// DatabaseURL is the Postgres DSN, used when Driver is "postgres".
	DatabaseURL string
	LogLevel    string
	// TokenSecret signs identity tokens. Empty disables token minting.
	TokenSecret string
	// GuardianPassTTL bounds how old a QC pass may be at authorization
	// time. Zero disables the window.
	GuardianPassTTL time.Duration
	// ProfilesDir holds the profile_<pack>.yaml files.
	ProfilesDir string
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	driver := os.Getenv("CLEARGATE_DB_DRIVER")
	if driver == "" {
		driver = "sqlite"
	}
	if driver != "sqlite" && driver != "postgres" {
		return nil, fmt.Errorf("unsupported CLEARGATE_DB_DRIVER %q", driver)
	}

	dbPath := os.Getenv("CLEARGATE_DB_PATH")
	if dbPath == "" {
		dbPath = "cleargate.db"
	}

	dbURL := os.Getenv("CLEARGATE_DATABASE_URL")
	if dbURL == "" {
		dbURL = "postgres://cleargate@localhost:5432/cleargate?sslmode=disable"
	}

	logLevel := os.Getenv("CLEARGATE_LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	var passTTL time.Duration
	if raw := os.Getenv("CLEARGATE_GUARDIAN_PASS_TTL"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid CLEARGATE_GUARDIAN_PASS_TTL: %w", err)
		}
		passTTL = parsed
	}

	profilesDir := os.Getenv("CLEARGATE_PROFILES_DIR")
	if profilesDir == "" {
		profilesDir = "profiles"
	}

	return &Config{
		Driver:          driver,
		DatabasePath:    dbPath,
		DatabaseURL:     dbURL,
		LogLevel:        logLevel,
		TokenSecret:     os.Getenv("CLEARGATE_TOKEN_SECRET"),
		GuardianPassTTL: passTTL,
		ProfilesDir:     profilesDir,
	}, nil
}
