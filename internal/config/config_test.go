package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	origPort := os.Getenv("PIPELINE_SERVER__PORT")
	defer func() {
		if origPort != "" {
			os.Setenv("PIPELINE_SERVER__PORT", origPort)
		} else {
			os.Unsetenv("PIPELINE_SERVER__PORT")
		}
	}()

	t.Run("defaults", func(t *testing.T) {
		os.Unsetenv("PIPELINE_SERVER__PORT")

		cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}

		if cfg.Server.Port != 8080 {
			t.Errorf("Load() port = %v, want 8080", cfg.Server.Port)
		}
		if cfg.Database.Driver != "sqlite" {
			t.Errorf("Load() driver = %v, want sqlite", cfg.Database.Driver)
		}
		if cfg.Cache.TTLMedium != 5*time.Minute {
			t.Errorf("Load() ttl_medium = %v, want 5m", cfg.Cache.TTLMedium)
		}
		if !cfg.Automation.Enabled {
			t.Error("Load() automation disabled, want enabled by default")
		}
	})

	t.Run("env var override", func(t *testing.T) {
		os.Setenv("PIPELINE_SERVER__PORT", "9000")
		defer os.Unsetenv("PIPELINE_SERVER__PORT")

		cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}

		if cfg.Server.Port != 9000 {
			t.Errorf("Load() port = %v, want 9000", cfg.Server.Port)
		}
	})

	t.Run("yaml file", func(t *testing.T) {
		os.Unsetenv("PIPELINE_SERVER__PORT")

		path := filepath.Join(t.TempDir(), "config.yaml")
		data := []byte("server:\n  port: 7070\ncache:\n  ttl_short: 10s\n")
		if err := os.WriteFile(path, data, 0o600); err != nil {
			t.Fatal(err)
		}

		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}

		if cfg.Server.Port != 7070 {
			t.Errorf("Load() port = %v, want 7070", cfg.Server.Port)
		}
		if cfg.Cache.TTLShort != 10*time.Second {
			t.Errorf("Load() ttl_short = %v, want 10s", cfg.Cache.TTLShort)
		}
	})
}

func TestSubstituteEnvVars(t *testing.T) {
	os.Setenv("TEST_VAR", "test-value")
	defer os.Unsetenv("TEST_VAR")

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "simple substitution", input: "${TEST_VAR}", want: "test-value"},
		{name: "substitution in string", input: "prefix-${TEST_VAR}-suffix", want: "prefix-test-value-suffix"},
		{name: "no substitution", input: "plain-string", want: "plain-string"},
		{name: "undefined var", input: "${UNDEFINED_VAR}", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := substituteEnvVars(tt.input)
			if got != tt.want {
				t.Errorf("substituteEnvVars() = %v, want %v", got, tt.want)
			}
		})
	}
}
