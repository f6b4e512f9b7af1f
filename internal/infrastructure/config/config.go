package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server  ServerConfig
	Browser BrowserConfig
	Pool    PoolConfig
	Capture CaptureConfig
	Logging LogConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"3000"`
	Host            string        `envconfig:"HOST" default:"0.0.0.0"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
	MaxBodyBytes    int64         `envconfig:"SERVER_MAX_BODY_BYTES" default:"1048576"`
	Gzip            bool          `envconfig:"SERVER_GZIP" default:"true"`
}

// BrowserConfig holds headless browser launch configuration.
type BrowserConfig struct {
	ExecPath     string `envconfig:"BROWSER_EXEC_PATH" default:"/usr/bin/chromium-browser"`
	Headless     bool   `envconfig:"BROWSER_HEADLESS" default:"true"`
	NoSandbox    bool   `envconfig:"BROWSER_NO_SANDBOX" default:"true"`
	WindowWidth  int    `envconfig:"BROWSER_WINDOW_WIDTH" default:"1280"`
	WindowHeight int    `envconfig:"BROWSER_WINDOW_HEIGHT" default:"800"`
	UserAgent    string `envconfig:"BROWSER_USER_AGENT"`
}

// PoolConfig holds execution pool configuration.
type PoolConfig struct {
	Size            int           `envconfig:"POOL_SIZE" default:"2"`
	ReplaceTimeout  time.Duration `envconfig:"POOL_REPLACE_TIMEOUT" default:"30s"`
	ReplaceFailures uint32        `envconfig:"POOL_REPLACE_FAILURES" default:"3"`
	ReplaceCooldown time.Duration `envconfig:"POOL_REPLACE_COOLDOWN" default:"30s"`
}

// CaptureConfig holds per-job capture configuration.
type CaptureConfig struct {
	JobTimeout        time.Duration `envconfig:"CAPTURE_JOB_TIMEOUT" default:"2m"`
	StepTimeout       time.Duration `envconfig:"CAPTURE_STEP_TIMEOUT" default:"15s"`
	NavigationTimeout time.Duration `envconfig:"CAPTURE_NAVIGATION_TIMEOUT" default:"45s"`
	BodyTimeout       time.Duration `envconfig:"CAPTURE_BODY_TIMEOUT" default:"10s"`
	MaxSleep          time.Duration `envconfig:"CAPTURE_MAX_SLEEP" default:"30s"`
	SetAllCookies     bool          `envconfig:"CAPTURE_SET_ALL_COOKIES" default:"true"`
	HARContent        bool          `envconfig:"CAPTURE_HAR_CONTENT" default:"true"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// Load loads configuration from environment variables. Values from a .env
// file in the working directory are applied first; real environment
// variables win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	if c.Pool.Size < 1 {
		return fmt.Errorf("invalid config: POOL_SIZE must be at least 1, got %d", c.Pool.Size)
	}
	if c.Server.Port == "" {
		return errors.New("invalid config: PORT is required")
	}
	for name, d := range map[string]time.Duration{
		"CAPTURE_JOB_TIMEOUT":        c.Capture.JobTimeout,
		"CAPTURE_STEP_TIMEOUT":       c.Capture.StepTimeout,
		"CAPTURE_NAVIGATION_TIMEOUT": c.Capture.NavigationTimeout,
		"CAPTURE_BODY_TIMEOUT":       c.Capture.BodyTimeout,
		"CAPTURE_MAX_SLEEP":          c.Capture.MaxSleep,
	} {
		if d < 0 {
			return fmt.Errorf("invalid config: %s must not be negative", name)
		}
	}
	return nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            "3000",
			Host:            "0.0.0.0",
			ShutdownTimeout: 30 * time.Second,
			MaxBodyBytes:    1 << 20,
			Gzip:            true,
		},
		Browser: BrowserConfig{
			ExecPath:     "/usr/bin/chromium-browser",
			Headless:     true,
			NoSandbox:    true,
			WindowWidth:  1280,
			WindowHeight: 800,
		},
		Pool: PoolConfig{
			Size:            2,
			ReplaceTimeout:  30 * time.Second,
			ReplaceFailures: 3,
			ReplaceCooldown: 30 * time.Second,
		},
		Capture: CaptureConfig{
			JobTimeout:        2 * time.Minute,
			StepTimeout:       15 * time.Second,
			NavigationTimeout: 45 * time.Second,
			BodyTimeout:       10 * time.Second,
			MaxSleep:          30 * time.Second,
			SetAllCookies:     true,
			HARContent:        true,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
	}
}
