package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	// Database
	DatabaseURL string `yaml:"database_url"`

	// Server
	ServerPort string `yaml:"server_port"`

	// Media storage root for recordings and derived artifacts
	MediaRoot string `yaml:"media_root"`
	MediaURL  string `yaml:"media_url"`

	// Map preview
	TileURLTemplate string `yaml:"tile_url_template"`

	// Repair tool binary (mcap CLI)
	RecoverCommand string `yaml:"recover_command"`

	// Time zone used when deriving calendar timestamps from epoch values
	Timezone string `yaml:"timezone"`

	// Scheduler
	Workers int `yaml:"workers"`
}

// Load loads configuration from environment variables, optionally
// overlaid by a YAML file named in CONFIG_FILE.
func Load() (*Config, error) {
	cfg := &Config{
		DatabaseURL:     getEnv("DATABASE_URL", "postgres://localhost/telemetry_pipeline?sslmode=disable"),
		ServerPort:      getEnv("SERVER_PORT", "8080"),
		MediaRoot:       getEnv("MEDIA_ROOT", "media"),
		MediaURL:        getEnv("MEDIA_URL", "/media/"),
		TileURLTemplate: getEnv("TILE_URL_TEMPLATE", "https://tile.openstreetmap.org/{z}/{x}/{y}.png"),
		RecoverCommand:  getEnv("RECOVER_COMMAND", "mcap"),
		Timezone:        getEnv("TIMEZONE", "UTC"),
		Workers:         getEnvInt("WORKERS", 4),
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return cfg, nil
}

// Location resolves the configured time zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
