// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	DataDir        string // database, lock file, capture spill
	DBPath         string
	LogLevel       string // debug, info, warn, error
	DefaultTool    string // tool id for new panels when the session names none
	CaptureLines   int    // capture-buffer capacity per panel
	ScriptShutdown time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	dataDir := getEnv("AGENTDECK_DATA_DIR", defaultDataDir())

	cfg := &Config{
		DataDir:        dataDir,
		DBPath:         getEnv("AGENTDECK_DB_PATH", filepath.Join(dataDir, "agentdeck.db")),
		LogLevel:       getEnv("AGENTDECK_LOG_LEVEL", "info"),
		DefaultTool:    getEnv("AGENTDECK_DEFAULT_TOOL", "claude"),
		CaptureLines:   getEnvInt("AGENTDECK_CAPTURE_LINES", 1000),
		ScriptShutdown: getEnvDuration("AGENTDECK_SCRIPT_SHUTDOWN", 10*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("AGENTDECK_DATA_DIR cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("AGENTDECK_DB_PATH cannot be empty")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("AGENTDECK_LOG_LEVEL must be one of debug, info, warn, error")
	}
	if c.DefaultTool == "" {
		return fmt.Errorf("AGENTDECK_DEFAULT_TOOL cannot be empty")
	}
	if c.CaptureLines <= 0 {
		return fmt.Errorf("AGENTDECK_CAPTURE_LINES must be > 0")
	}
	if c.ScriptShutdown <= 0 {
		return fmt.Errorf("AGENTDECK_SCRIPT_SHUTDOWN must be > 0")
	}
	return nil
}

// LockPath is the single-instance lock file inside the data directory.
func (c *Config) LockPath() string {
	return filepath.Join(c.DataDir, "agentdeck.lock")
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./data"
	}
	return filepath.Join(home, ".agentdeck")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
