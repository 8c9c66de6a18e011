package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("JWT_SECRET", testSecret)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Platform.Namespace != "guest" || cfg.Platform.Package != "default" {
		t.Errorf("unexpected platform defaults %+v", cfg.Platform)
	}
	if cfg.Platform.Timeout != 70*time.Second {
		t.Errorf("expected 70s platform timeout, got %s", cfg.Platform.Timeout)
	}
	if cfg.Execution.CleanupDelay != 5*time.Minute || cfg.Execution.RetainDelay != 30*time.Minute {
		t.Errorf("unexpected cleanup delays %+v", cfg.Execution)
	}
	if cfg.Execution.DefaultRuntimeKind != "nodejs:20" {
		t.Errorf("unexpected default kind %s", cfg.Execution.DefaultRuntimeKind)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("JWT_SECRET", testSecret)
	t.Setenv("WHISK_APIHOST", "https://whisk.internal")
	t.Setenv("WHISK_AUTH", "23bc46b1-71f6-4ed5-8c54-816aa4f8c502:123zO3xZCLrMN6v2BKK1dXYFpXlPkccOFqm12CdAsMgRU4VrNZ9lyGVCGuMDGIwP")
	t.Setenv("WHISK_INSECURE", "true")
	t.Setenv("CLEANUP_DELAY", "90s")
	t.Setenv("API_PORT", "9000")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Platform.APIHost != "https://whisk.internal" || !cfg.Platform.Insecure {
		t.Errorf("unexpected platform %+v", cfg.Platform)
	}
	if cfg.Execution.CleanupDelay != 90*time.Second {
		t.Errorf("expected 90s, got %s", cfg.Execution.CleanupDelay)
	}
	if cfg.ListenAddr() != "0.0.0.0:9000" {
		t.Errorf("unexpected listen addr %s", cfg.ListenAddr())
	}
}

func TestLoadFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "functions.yaml")
	content := `
jwt_secret: ` + testSecret + `
store_driver: memory
platform:
  namespace: team-a
  timeout: 30s
execution:
  retain_delay: 1h
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("JWT_SECRET", "")
	t.Setenv("OPENWHISK_NAMESPACE", "team-b")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StoreDriver != StoreDriverMemory {
		t.Errorf("expected memory driver, got %s", cfg.StoreDriver)
	}
	if cfg.Platform.Namespace != "team-b" {
		t.Errorf("env should win over file, got %s", cfg.Platform.Namespace)
	}
	if cfg.Platform.Timeout != 30*time.Second {
		t.Errorf("expected 30s from file, got %s", cfg.Platform.Timeout)
	}
	if cfg.Execution.RetainDelay != time.Hour {
		t.Errorf("expected 1h from file, got %s", cfg.Execution.RetainDelay)
	}
	if cfg.Platform.Package != "default" {
		t.Errorf("keys absent from the file keep defaults, got %s", cfg.Platform.Package)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("JWT_SECRET", testSecret)

	if _, err := Load(); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing secret", func(c *Config) { c.JWTSecret = "" }, "JWT_SECRET is required"},
		{"short secret", func(c *Config) { c.JWTSecret = "short" }, "at least 32"},
		{"bad auth", func(c *Config) { c.Platform.Auth = "no-colon" }, "WHISK_AUTH"},
		{"empty key", func(c *Config) { c.Platform.Auth = "user:" }, "WHISK_AUTH"},
		{"zero cleanup", func(c *Config) { c.Execution.CleanupDelay = 0 }, "CLEANUP_DELAY"},
		{"negative retain", func(c *Config) { c.Execution.RetainDelay = -time.Minute }, "CLEANUP_RETAIN_DELAY"},
		{"unknown driver", func(c *Config) { c.StoreDriver = "mongo" }, "STORE_DRIVER"},
		{"log format", func(c *Config) { c.LogFormat = "xml" }, "LOG_FORMAT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := defaults()
			c.JWTSecret = testSecret
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoadWithDefaultsSkipsValidation(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("CLEANUP_DELAY", "")

	cfg := LoadWithDefaults()
	if cfg.JWTSecret != developmentSecret {
		t.Errorf("expected development secret, got %q", cfg.JWTSecret)
	}
}
