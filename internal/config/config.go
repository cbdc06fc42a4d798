// Package config handles TOML configuration loading and validation.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"go.uber.org/multierr"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/relay-proxy/config.toml",
	"configs/config.toml",
}

// reservedPaths are routes owned by the service itself.
var reservedPaths = []string{"/proxy", "/healthz", "/info"}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config    string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host      string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port      int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	LogLevel  string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
	VerifySSL *bool  `kong:"name='verify-ssl',help='Verify upstream TLS certificates (overrides config).',env='VERIFY_SSL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Proxy   ProxyConfig   `toml:"proxy"`
	Log     LogConfig     `toml:"log"`
	Metrics MetricsConfig `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// ProxyConfig holds the forwarding pipeline settings. It is read-only once
// the service is running.
type ProxyConfig struct {
	PoolConnections int     `toml:"pool_connections"`
	PoolMaxSize     int     `toml:"pool_max_size"`
	RetryCount      int     `toml:"retry_count"`
	RetryBackoff    float64 `toml:"retry_backoff"`
	ConnectTimeout  int     `toml:"connect_timeout"` // seconds
	ReadTimeout     int     `toml:"read_timeout"`    // seconds
	VerifySSL       bool    `toml:"verify_ssl"`
	MaxContentSize  int64   `toml:"max_content_size"` // bytes, 0 disables the limit
	Workers         int     `toml:"workers"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// Default returns the configuration used when no file overrides a value.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8000,
		},
		Proxy: ProxyConfig{
			PoolConnections: 10,
			PoolMaxSize:     100,
			RetryCount:      3,
			RetryBackoff:    0.3,
			ConnectTimeout:  5,
			ReadTimeout:     25,
			VerifySSL:       false,
			MaxContentSize:  100 * 1024 * 1024,
			Workers:         runtime.GOMAXPROCS(0),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/relay-proxy/config.toml then configs/config.toml, and falls back to
// the built-in defaults when neither exists.
func Load(cli *CLI) (*Config, error) {
	cfg := Default()

	path := cli.Config
	if path == "" {
		path = findConfig()
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		// Unmarshal over the defaults so keys absent from the file keep them.
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
	if cli.VerifySSL != nil {
		c.Proxy.VerifySSL = *cli.VerifySSL
	}
}

// validate reports every invalid field at once.
func (c *Config) validate() error {
	var errs error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = multierr.Append(errs, fmt.Errorf("server.port must be 1–65535; got %d", c.Server.Port))
	}

	p := c.Proxy
	if p.PoolConnections < 1 {
		errs = multierr.Append(errs, fmt.Errorf("proxy.pool_connections must be > 0; got %d", p.PoolConnections))
	}
	if p.PoolMaxSize < 1 {
		errs = multierr.Append(errs, fmt.Errorf("proxy.pool_max_size must be > 0; got %d", p.PoolMaxSize))
	}
	if p.PoolMaxSize < p.PoolConnections {
		errs = multierr.Append(errs, fmt.Errorf("proxy.pool_max_size (%d) must not be smaller than proxy.pool_connections (%d)", p.PoolMaxSize, p.PoolConnections))
	}
	if p.RetryCount < 0 {
		errs = multierr.Append(errs, fmt.Errorf("proxy.retry_count must be non-negative; got %d", p.RetryCount))
	}
	if p.RetryBackoff < 0 {
		errs = multierr.Append(errs, fmt.Errorf("proxy.retry_backoff must be non-negative; got %v", p.RetryBackoff))
	}
	if p.ConnectTimeout < 1 {
		errs = multierr.Append(errs, fmt.Errorf("proxy.connect_timeout must be > 0; got %d", p.ConnectTimeout))
	}
	if p.ReadTimeout < 1 {
		errs = multierr.Append(errs, fmt.Errorf("proxy.read_timeout must be > 0; got %d", p.ReadTimeout))
	}
	if p.MaxContentSize < 0 {
		errs = multierr.Append(errs, fmt.Errorf("proxy.max_content_size must be non-negative; got %d", p.MaxContentSize))
	}
	if p.Workers < 1 {
		errs = multierr.Append(errs, fmt.Errorf("proxy.workers must be > 0; got %d", p.Workers))
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = multierr.Append(errs, fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		errs = multierr.Append(errs, fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format))
	}

	if c.Metrics.Enabled {
		errs = multierr.Append(errs, validateMetricsPath(c.Metrics.Path))
	}

	return errs
}

func validateMetricsPath(p string) error {
	if p == "" || p[0] != '/' {
		return fmt.Errorf("metrics.path must start with '/'; got %q", p)
	}
	for _, reserved := range reservedPaths {
		if p == reserved || strings.HasPrefix(p, reserved+"/") {
			return fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved)
		}
	}
	return nil
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ConnectTimeoutDuration returns connect_timeout as a duration.
func (p *ProxyConfig) ConnectTimeoutDuration() time.Duration {
	return time.Duration(p.ConnectTimeout) * time.Second
}

// ReadTimeoutDuration returns read_timeout as a duration.
func (p *ProxyConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(p.ReadTimeout) * time.Second
}

// RetryBackoffDuration returns retry_backoff as a duration.
func (p *ProxyConfig) RetryBackoffDuration() time.Duration {
	return time.Duration(p.RetryBackoff * float64(time.Second))
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
