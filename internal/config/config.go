package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/coal/ddosguard/internal/gateway"
	"github.com/coal/ddosguard/internal/poller"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "DDOSGUARD_"

// Config is the client configuration.
type Config struct {
	Backend   BackendConfig   `yaml:"backend"`
	Polling   PollingConfig   `yaml:"polling"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Audit     AuditConfig     `yaml:"audit"`
	Log       LogConfig       `yaml:"log"`
}

// BackendConfig locates the monitoring backend.
type BackendConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// PollingConfig controls the status poll loop.
type PollingConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// DashboardConfig controls the local dashboard feed.
type DashboardConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// AuditConfig selects where audit entries go. An empty path means stderr.
type AuditConfig struct {
	Path string `yaml:"path"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" or "json"
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			URL:     "http://localhost:8000",
			Timeout: gateway.DefaultTimeout,
		},
		Polling: PollingConfig{
			Interval: poller.DefaultInterval,
		},
		Dashboard: DashboardConfig{
			Enabled: true,
			Listen:  ":8080",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, a .env
// file in the working directory, and DDOSGUARD_* environment variables, in
// increasing order of precedence. A missing file at path is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("reading config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config YAML: %w", err)
			}
		}
	}

	_ = godotenv.Load()
	if err := applyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Validate checks the settings the client cannot run without.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Backend.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("backend.url %q must be an absolute http(s) URL", c.Backend.URL)
	}
	if c.Backend.Timeout <= 0 {
		return fmt.Errorf("backend.timeout must be positive")
	}
	if c.Polling.Interval <= 0 {
		return fmt.Errorf("polling.interval must be positive")
	}
	if c.Backend.Timeout > c.Polling.Interval {
		return fmt.Errorf("backend.timeout (%s) must not exceed polling.interval (%s)", c.Backend.Timeout, c.Polling.Interval)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log.format %q must be console or json", c.Log.Format)
	}
	if c.Dashboard.Enabled && c.Dashboard.Listen == "" {
		return fmt.Errorf("dashboard.listen is required when the dashboard is enabled")
	}
	return nil
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	get := func(name string) (string, bool) {
		v, ok := lookup(EnvPrefix + name)
		return strings.TrimSpace(v), ok && strings.TrimSpace(v) != ""
	}

	if v, ok := get("BACKEND_URL"); ok {
		cfg.Backend.URL = v
	}
	if v, ok := get("BACKEND_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sBACKEND_TIMEOUT: %w", EnvPrefix, err)
		}
		cfg.Backend.Timeout = d
	}
	if v, ok := get("POLL_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sPOLL_INTERVAL: %w", EnvPrefix, err)
		}
		cfg.Polling.Interval = d
	}
	if v, ok := get("DASHBOARD_LISTEN"); ok {
		cfg.Dashboard.Listen = v
	}
	if v, ok := get("DASHBOARD_ENABLED"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sDASHBOARD_ENABLED: %w", EnvPrefix, err)
		}
		cfg.Dashboard.Enabled = b
	}
	if v, ok := get("AUDIT_LOG"); ok {
		cfg.Audit.Path = v
	}
	if v, ok := get("LOG_LEVEL"); ok {
		cfg.Log.Level = v
	}
	if v, ok := get("LOG_FORMAT"); ok {
		cfg.Log.Format = v
	}
	return nil
}
