// Package config provides environment-based configuration for the function
// execution service, with an optional YAML overlay file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store drivers.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// developmentSecret is only used by LoadWithDefaults.
const developmentSecret = "development-secret-key-min-32-chars"

// Config holds all configuration for the service.
type Config struct {
	// Database configuration
	DatabaseDSN string `yaml:"database_url"`
	StoreDriver string `yaml:"store_driver"`

	// Authentication
	JWTSecret string        `yaml:"jwt_secret"`
	JWTExpiry time.Duration `yaml:"jwt_expiry"`

	// Server configuration
	APIPort int    `yaml:"api_port"`
	APIHost string `yaml:"api_host"`

	// Graceful shutdown timeout
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	Platform  PlatformConfig  `yaml:"platform"`
	Packager  PackagerConfig  `yaml:"packager"`
	Execution ExecutionConfig `yaml:"execution"`
}

// PlatformConfig describes the function platform endpoint.
type PlatformConfig struct {
	APIHost   string        `yaml:"api_host"`
	Auth      string        `yaml:"auth"` // uuid:key
	Namespace string        `yaml:"namespace"`
	Package   string        `yaml:"package"`
	Insecure  bool          `yaml:"insecure"`
	Timeout   time.Duration `yaml:"timeout"`
	URLScheme string        `yaml:"url_scheme"`
}

// PackagerConfig holds package builder settings.
type PackagerConfig struct {
	WorkDir            string `yaml:"work_dir"`
	DependencyCacheDir string `yaml:"dependency_cache_dir"`
	ArchiveCommand     string `yaml:"archive_command"`
}

// ExecutionConfig holds orchestrator timings.
type ExecutionConfig struct {
	CleanupDelay       time.Duration `yaml:"cleanup_delay"`
	RetainDelay        time.Duration `yaml:"retain_delay"`
	DiagnosisWait      time.Duration `yaml:"diagnosis_wait"`
	DefaultRuntimeKind string        `yaml:"default_runtime_kind"`
}

func defaults() *Config {
	return &Config{
		DatabaseDSN:     "postgres://localhost:5432/functions?sslmode=disable",
		StoreDriver:     StoreDriverPostgres,
		JWTExpiry:       24 * time.Hour,
		APIPort:         8080,
		APIHost:         "0.0.0.0",
		ShutdownTimeout: 30 * time.Second,
		LogLevel:        "info",
		LogFormat:       "json",
		Platform: PlatformConfig{
			APIHost:   "http://172.17.0.1:3233",
			Namespace: "guest",
			Package:   "default",
			Timeout:   70 * time.Second,
			URLScheme: "http",
		},
		Packager: PackagerConfig{
			WorkDir:        filepath.Join(os.TempDir(), "fn-packages"),
			ArchiveCommand: "zip",
		},
		Execution: ExecutionConfig{
			CleanupDelay:       5 * time.Minute,
			RetainDelay:        30 * time.Minute,
			DiagnosisWait:      time.Second,
			DefaultRuntimeKind: "nodejs:20",
		},
	}
}

// Load reads configuration from the file named by CONFIG_FILE, if any, and
// then from environment variables, which take precedence.
func Load() (*Config, error) {
	cfg := defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadWithDefaults loads configuration with defaults for development.
// It does not validate required fields, useful for testing.
func LoadWithDefaults() *Config {
	cfg := defaults()
	cfg.JWTSecret = developmentSecret
	cfg.applyEnv()
	return cfg
}

// mergeFile overlays the YAML file at path onto c. Keys absent from the
// file keep their current values.
func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.DatabaseDSN = getEnv("DATABASE_URL", c.DatabaseDSN)
	c.StoreDriver = getEnv("STORE_DRIVER", c.StoreDriver)
	c.JWTSecret = getEnv("JWT_SECRET", c.JWTSecret)
	c.JWTExpiry = getDurationEnv("JWT_EXPIRY", c.JWTExpiry)
	c.APIPort = getIntEnv("API_PORT", c.APIPort)
	c.APIHost = getEnv("API_HOST", c.APIHost)
	c.ShutdownTimeout = getDurationEnv("SHUTDOWN_TIMEOUT", c.ShutdownTimeout)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)

	c.Platform.APIHost = getEnv("WHISK_APIHOST", c.Platform.APIHost)
	c.Platform.Auth = getEnv("WHISK_AUTH", c.Platform.Auth)
	c.Platform.Namespace = getEnv("OPENWHISK_NAMESPACE", c.Platform.Namespace)
	c.Platform.Package = getEnv("OPENWHISK_PACKAGE", c.Platform.Package)
	c.Platform.Insecure = getBoolEnv("WHISK_INSECURE", c.Platform.Insecure)
	c.Platform.Timeout = getDurationEnv("WHISK_TIMEOUT", c.Platform.Timeout)
	c.Platform.URLScheme = getEnv("WEB_URL_SCHEME", c.Platform.URLScheme)

	c.Packager.WorkDir = getEnv("PACKAGER_WORKDIR", c.Packager.WorkDir)
	c.Packager.DependencyCacheDir = getEnv("DEPENDENCY_CACHE_DIR", c.Packager.DependencyCacheDir)
	c.Packager.ArchiveCommand = getEnv("ARCHIVE_COMMAND", c.Packager.ArchiveCommand)

	c.Execution.CleanupDelay = getDurationEnv("CLEANUP_DELAY", c.Execution.CleanupDelay)
	c.Execution.RetainDelay = getDurationEnv("CLEANUP_RETAIN_DELAY", c.Execution.RetainDelay)
	c.Execution.DiagnosisWait = getDurationEnv("DIAGNOSIS_WAIT", c.Execution.DiagnosisWait)
	c.Execution.DefaultRuntimeKind = getEnv("DEFAULT_RUNTIME_KIND", c.Execution.DefaultRuntimeKind)
}

// Validate checks that required configuration values are set.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}
	if c.StoreDriver != StoreDriverPostgres && c.StoreDriver != StoreDriverMemory {
		return fmt.Errorf("STORE_DRIVER must be %q or %q", StoreDriverPostgres, StoreDriverMemory)
	}
	if c.StoreDriver == StoreDriverPostgres && c.DatabaseDSN == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.Platform.APIHost == "" {
		return fmt.Errorf("WHISK_APIHOST is required")
	}
	if c.Platform.Auth != "" {
		user, key, ok := strings.Cut(c.Platform.Auth, ":")
		if !ok || user == "" || key == "" {
			return fmt.Errorf("WHISK_AUTH must have the form uuid:key")
		}
	}
	if c.Execution.CleanupDelay <= 0 {
		return fmt.Errorf("CLEANUP_DELAY must be positive")
	}
	if c.Execution.RetainDelay <= 0 {
		return fmt.Errorf("CLEANUP_RETAIN_DELAY must be positive")
	}
	if c.Execution.DiagnosisWait < 0 {
		return fmt.Errorf("DIAGNOSIS_WAIT must not be negative")
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("LOG_FORMAT must be json or text")
	}
	return nil
}

// ListenAddr returns the HTTP listen address.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.APIHost, c.APIPort)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
