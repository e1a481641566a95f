// Package config loads service configuration from an optional YAML file
// with environment variable overrides.
package config

import (
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Database   DatabaseConfig   `koanf:"database"`
	Cache      CacheConfig      `koanf:"cache"`
	Automation AutomationConfig `koanf:"automation"`
}

type ServerConfig struct {
	Port           int           `koanf:"port"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

// DatabaseConfig is the generic database configuration supporting multiple dialects.
type DatabaseConfig struct {
	Driver string `koanf:"driver"` // sqlite, postgres
	DSN    string `koanf:"dsn"`    // Data source name / connection string
}

// CacheConfig sets the derived-view cache tiers. Listings use the short
// TTL, summaries and bundles the medium, stage structure the long.
type CacheConfig struct {
	TTLShort       time.Duration `koanf:"ttl_short"`
	TTLMedium      time.Duration `koanf:"ttl_medium"`
	TTLLong        time.Duration `koanf:"ttl_long"`
	EntriesPerTier int           `koanf:"entries_per_tier"`
}

// AutomationConfig controls the auto-move sweep.
type AutomationConfig struct {
	Enabled       bool          `koanf:"enabled"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads configPath (when it exists) and applies PIPELINE_* environment
// overrides, with double underscore as the nesting separator
// (PIPELINE_SERVER__PORT=9000 sets server.port).
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		configPath = "config.yaml"
	}
	if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
		// File not found is OK, we'll use env vars
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	// Load environment variables (can override file config)
	if err := k.Load(env.Provider("PIPELINE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "PIPELINE_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	defaults := map[string]any{
		"server.port":               8080,
		"server.request_timeout":    "30s",
		"database.driver":           "sqlite",
		"database.dsn":              "file:pipeline.db",
		"cache.ttl_short":           "60s",
		"cache.ttl_medium":          "5m",
		"cache.ttl_long":            "30m",
		"cache.entries_per_tier":    4096,
		"automation.enabled":        true,
		"automation.sweep_interval": "1h",
	}
	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	cfg.Database.DSN = substituteEnvVars(cfg.Database.DSN)

	return &cfg, nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
