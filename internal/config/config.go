package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ligustah/fanout/internal/progress"
)

// Config defines configuration for the fanout CLI and server.
type Config struct {
	Clients    []string     `yaml:"clients"`
	Workers    int          `yaml:"workers"`
	ChunkSize  int64        `yaml:"chunk_size"`
	ReadUnit   int64        `yaml:"read_unit"`
	QueueDepth int          `yaml:"queue_depth"`
	CopyBuffer int64        `yaml:"copy_buffer"`
	TempDir    string       `yaml:"temp_dir"`
	Listen     string       `yaml:"listen"`
	Progress   bool         `yaml:"progress"`
	Log        LogConfig    `yaml:"log"`
	Retry      RetryConfig  `yaml:"retry"`
	HTTP       HTTPConfig   `yaml:"http"`
	Health     HealthConfig `yaml:"health"`
}

// LogConfig selects the log level and encoding.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RetryConfig defines retry behavior for transient HTTP failures.
type RetryConfig struct {
	Attempts   int           `yaml:"attempts"`
	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// HTTPConfig tunes HTTP sources.
type HTTPConfig struct {
	Timeout time.Duration `yaml:"timeout"`

	// BandwidthLimit caps bytes per second per HTTP source. Zero is unlimited.
	BandwidthLimit int64 `yaml:"bandwidth_limit"`
}

// HealthConfig controls when clients leave and rejoin the rotation.
type HealthConfig struct {
	// MaxFailures is the number of connection failures that disable a client.
	MaxFailures int `yaml:"max_failures"`

	// Interval is how often disabled clients are pinged by serve. Zero
	// disables probing.
	Interval time.Duration `yaml:"interval"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Workers:    8,
		ChunkSize:  1024 * 1024, // 1MiB
		ReadUnit:   1024 * 1024,
		CopyBuffer: 64 * 1024,
		Listen:     ":8080",
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Retry: RetryConfig{
			Attempts:   5,
			Backoff:    time.Second,
			MaxBackoff: 30 * time.Second,
		},
		HTTP: HTTPConfig{
			Timeout: 30 * time.Second,
		},
		Health: HealthConfig{
			MaxFailures: 3,
			Interval:    30 * time.Second,
		},
	}
}

// yamlConfig is used for YAML unmarshaling with string sizes and durations.
type yamlConfig struct {
	Clients    []string         `yaml:"clients"`
	Workers    int              `yaml:"workers"`
	ChunkSize  string           `yaml:"chunk_size"`
	ReadUnit   string           `yaml:"read_unit"`
	QueueDepth int              `yaml:"queue_depth"`
	CopyBuffer string           `yaml:"copy_buffer"`
	TempDir    string           `yaml:"temp_dir"`
	Listen     string           `yaml:"listen"`
	Progress   bool             `yaml:"progress"`
	Log        LogConfig        `yaml:"log"`
	Retry      yamlRetryConfig  `yaml:"retry"`
	HTTP       yamlHTTPConfig   `yaml:"http"`
	Health     yamlHealthConfig `yaml:"health"`
}

type yamlRetryConfig struct {
	Attempts   int    `yaml:"attempts"`
	Backoff    string `yaml:"backoff"`
	MaxBackoff string `yaml:"max_backoff"`
}

type yamlHTTPConfig struct {
	Timeout        string `yaml:"timeout"`
	BandwidthLimit string `yaml:"bandwidth_limit"`
}

type yamlHealthConfig struct {
	MaxFailures int    `yaml:"max_failures"`
	Interval    string `yaml:"interval"`
}

// LoadFromFile loads configuration from a YAML file. Unset fields keep
// their defaults.
func LoadFromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}

	cfg := Default()

	if len(yc.Clients) > 0 {
		cfg.Clients = yc.Clients
	}
	if yc.Workers != 0 {
		cfg.Workers = yc.Workers
	}
	if err := parseSize(yc.ChunkSize, "chunk_size", &cfg.ChunkSize); err != nil {
		return Config{}, err
	}
	if err := parseSize(yc.ReadUnit, "read_unit", &cfg.ReadUnit); err != nil {
		return Config{}, err
	}
	if yc.QueueDepth != 0 {
		cfg.QueueDepth = yc.QueueDepth
	}
	if err := parseSize(yc.CopyBuffer, "copy_buffer", &cfg.CopyBuffer); err != nil {
		return Config{}, err
	}
	if yc.TempDir != "" {
		cfg.TempDir = yc.TempDir
	}
	if yc.Listen != "" {
		cfg.Listen = yc.Listen
	}
	cfg.Progress = yc.Progress
	if yc.Log.Level != "" {
		cfg.Log.Level = yc.Log.Level
	}
	if yc.Log.Format != "" {
		cfg.Log.Format = yc.Log.Format
	}
	if yc.Retry.Attempts != 0 {
		cfg.Retry.Attempts = yc.Retry.Attempts
	}
	if err := parseDuration(yc.Retry.Backoff, "retry.backoff", &cfg.Retry.Backoff); err != nil {
		return Config{}, err
	}
	if err := parseDuration(yc.Retry.MaxBackoff, "retry.max_backoff", &cfg.Retry.MaxBackoff); err != nil {
		return Config{}, err
	}
	if err := parseDuration(yc.HTTP.Timeout, "http.timeout", &cfg.HTTP.Timeout); err != nil {
		return Config{}, err
	}
	if err := parseSize(yc.HTTP.BandwidthLimit, "http.bandwidth_limit", &cfg.HTTP.BandwidthLimit); err != nil {
		return Config{}, err
	}
	if yc.Health.MaxFailures != 0 {
		cfg.Health.MaxFailures = yc.Health.MaxFailures
	}
	if err := parseDuration(yc.Health.Interval, "health.interval", &cfg.Health.Interval); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func parseSize(s, name string, dst *int64) error {
	if s == "" {
		return nil
	}
	size, err := progress.ParseBytes(s)
	if err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	*dst = size
	return nil
}

func parseDuration(s, name string, dst *time.Duration) error {
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	*dst = d
	return nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the FANOUT_ prefix. FANOUT_CLIENTS is a
// comma-separated list of source URLs.
func (c *Config) LoadFromEnv() error {
	if v := os.Getenv("FANOUT_CLIENTS"); v != "" {
		c.Clients = splitList(v)
	}
	if v := os.Getenv("FANOUT_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse FANOUT_WORKERS: %w", err)
		}
		c.Workers = n
	}
	if err := parseSize(os.Getenv("FANOUT_CHUNK_SIZE"), "FANOUT_CHUNK_SIZE", &c.ChunkSize); err != nil {
		return err
	}
	if err := parseSize(os.Getenv("FANOUT_READ_UNIT"), "FANOUT_READ_UNIT", &c.ReadUnit); err != nil {
		return err
	}
	if v := os.Getenv("FANOUT_QUEUE_DEPTH"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse FANOUT_QUEUE_DEPTH: %w", err)
		}
		c.QueueDepth = n
	}
	if err := parseSize(os.Getenv("FANOUT_COPY_BUFFER"), "FANOUT_COPY_BUFFER", &c.CopyBuffer); err != nil {
		return err
	}
	if v := os.Getenv("FANOUT_TEMP_DIR"); v != "" {
		c.TempDir = v
	}
	if v := os.Getenv("FANOUT_LISTEN"); v != "" {
		c.Listen = v
	}
	if v := os.Getenv("FANOUT_PROGRESS"); v != "" {
		c.Progress = v == "true" || v == "1"
	}
	if v := os.Getenv("FANOUT_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("FANOUT_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := os.Getenv("FANOUT_RETRY_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse FANOUT_RETRY_ATTEMPTS: %w", err)
		}
		c.Retry.Attempts = n
	}
	if err := parseDuration(os.Getenv("FANOUT_RETRY_BACKOFF"), "FANOUT_RETRY_BACKOFF", &c.Retry.Backoff); err != nil {
		return err
	}
	if err := parseDuration(os.Getenv("FANOUT_RETRY_MAX_BACKOFF"), "FANOUT_RETRY_MAX_BACKOFF", &c.Retry.MaxBackoff); err != nil {
		return err
	}
	if err := parseDuration(os.Getenv("FANOUT_HTTP_TIMEOUT"), "FANOUT_HTTP_TIMEOUT", &c.HTTP.Timeout); err != nil {
		return err
	}
	if err := parseSize(os.Getenv("FANOUT_HTTP_BANDWIDTH_LIMIT"), "FANOUT_HTTP_BANDWIDTH_LIMIT", &c.HTTP.BandwidthLimit); err != nil {
		return err
	}
	if v := os.Getenv("FANOUT_HEALTH_MAX_FAILURES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse FANOUT_HEALTH_MAX_FAILURES: %w", err)
		}
		c.Health.MaxFailures = n
	}
	if err := parseDuration(os.Getenv("FANOUT_HEALTH_INTERVAL"), "FANOUT_HEALTH_INTERVAL", &c.Health.Interval); err != nil {
		return err
	}

	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if len(c.Clients) == 0 {
		return errors.New("config: at least one client is required")
	}
	for i, u := range c.Clients {
		if strings.TrimSpace(u) == "" {
			return fmt.Errorf("config: client %d is empty", i)
		}
	}
	if c.Workers <= 0 {
		return errors.New("config: workers must be positive")
	}
	if c.ChunkSize <= 0 {
		return errors.New("config: chunk_size must be positive")
	}
	if c.ReadUnit <= 0 {
		return errors.New("config: read_unit must be positive")
	}
	if c.QueueDepth < 0 {
		return errors.New("config: queue_depth must not be negative")
	}
	if c.CopyBuffer <= 0 {
		return errors.New("config: copy_buffer must be positive")
	}
	if c.HTTP.BandwidthLimit < 0 {
		return errors.New("config: http.bandwidth_limit must not be negative")
	}
	if c.Health.MaxFailures <= 0 {
		return errors.New("config: health.max_failures must be positive")
	}
	if c.Health.Interval < 0 {
		return errors.New("config: health.interval must not be negative")
	}
	return nil
}

// Merge merges override values into c, returning a new Config.
// Zero values in override are ignored.
func (c Config) Merge(override Config) Config {
	if len(override.Clients) > 0 {
		c.Clients = override.Clients
	}
	if override.Workers != 0 {
		c.Workers = override.Workers
	}
	if override.ChunkSize != 0 {
		c.ChunkSize = override.ChunkSize
	}
	if override.ReadUnit != 0 {
		c.ReadUnit = override.ReadUnit
	}
	if override.QueueDepth != 0 {
		c.QueueDepth = override.QueueDepth
	}
	if override.CopyBuffer != 0 {
		c.CopyBuffer = override.CopyBuffer
	}
	if override.TempDir != "" {
		c.TempDir = override.TempDir
	}
	if override.Listen != "" {
		c.Listen = override.Listen
	}
	if override.Progress {
		c.Progress = override.Progress
	}
	if override.Log.Level != "" {
		c.Log.Level = override.Log.Level
	}
	if override.Log.Format != "" {
		c.Log.Format = override.Log.Format
	}
	if override.Retry.Attempts != 0 {
		c.Retry.Attempts = override.Retry.Attempts
	}
	if override.Retry.Backoff != 0 {
		c.Retry.Backoff = override.Retry.Backoff
	}
	if override.Retry.MaxBackoff != 0 {
		c.Retry.MaxBackoff = override.Retry.MaxBackoff
	}
	if override.HTTP.Timeout != 0 {
		c.HTTP.Timeout = override.HTTP.Timeout
	}
	if override.HTTP.BandwidthLimit != 0 {
		c.HTTP.BandwidthLimit = override.HTTP.BandwidthLimit
	}
	if override.Health.MaxFailures != 0 {
		c.Health.MaxFailures = override.Health.MaxFailures
	}
	if override.Health.Interval != 0 {
		c.Health.Interval = override.Health.Interval
	}
	return c
}
