package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds all application configuration.
type Config struct {
	// Storage
	StoreDriver    string `koanf:"store_driver"`
	StoreDir       string `koanf:"store_dir"`
	StoreChannel   string `koanf:"store_channel"`
	StoreExtension string `koanf:"store_extension"`

	// Retention; zero disables eviction for that table
	FilterTTL  time.Duration `koanf:"filter_ttl"`
	SessionTTL time.Duration `koanf:"session_ttl"`
	RuleTTL    time.Duration `koanf:"rule_ttl"`

	// Worker Pool
	PoolWorkers    int           `koanf:"pool_workers"`
	PoolQueueDepth int           `koanf:"pool_queue_depth"`
	PoolMaxRetries int           `koanf:"pool_max_retries"`
	PoolRetryBase  time.Duration `koanf:"pool_retry_base"`

	// Operational
	LogLevel        string        `koanf:"log_level"`
	LogFormat       string        `koanf:"log_format"`
	MetricsEnabled  bool          `koanf:"metrics_enabled"`
	MetricsAddr     string        `koanf:"metrics_addr"`
	HealthAddr      string        `koanf:"health_addr"`
	JanitorInterval time.Duration `koanf:"janitor_interval"`
}

var (
	channelPattern   = regexp.MustCompile(`^[A-Za-z0-9_-]*$`)
	extensionPattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)
)

// sanitise removes a single layer of matching surrounding quotes from all string
// fields. This normalises values from Docker --env-file which does not strip
// shell quoting.
func (c *Config) sanitise() {
	c.StoreDriver = stripEnvQuotes(c.StoreDriver)
	c.StoreDir = stripEnvQuotes(c.StoreDir)
	c.StoreChannel = stripEnvQuotes(c.StoreChannel)
	c.StoreExtension = strings.TrimPrefix(stripEnvQuotes(c.StoreExtension), ".")
	c.LogLevel = stripEnvQuotes(c.LogLevel)
	c.LogFormat = stripEnvQuotes(c.LogFormat)
	c.MetricsAddr = stripEnvQuotes(c.MetricsAddr)
	c.HealthAddr = stripEnvQuotes(c.HealthAddr)
}

// defaults sets sensible default values.
func defaults() map[string]interface{} {
	return map[string]interface{}{
		"store_driver":     "file",
		"store_dir":        os.TempDir(),
		"store_channel":    "",
		"store_extension":  "json",
		"filter_ttl":       "1h",
		"session_ttl":      "30m",
		"rule_ttl":         "0s",
		"pool_workers":     2,
		"pool_queue_depth": 1024,
		"pool_max_retries": 2,
		"pool_retry_base":  "500ms",
		"log_level":        "info",
		"log_format":       "json",
		"metrics_enabled":  true,
		"metrics_addr":     ":9090",
		"health_addr":      ":8081",
		"janitor_interval": "5m",
	}
}

// stripEnvQuotes removes a single layer of matching surrounding single or double
// quotes from s. Only symmetric pairs are stripped: 'x' → x, "x" → x.
// Unpaired or mismatched quotes are left as-is.
func stripEnvQuotes(s string) string {
	if len(s) < 2 {
		return s
	}
	if (s[0] == '\'' && s[len(s)-1] == '\'') ||
		(s[0] == '"' && s[len(s)-1] == '"') {
		return s[1 : len(s)-1]
	}
	return s
}

// Load reads configuration from environment variables over the defaults.
func Load() (*Config, error) {
	// "." as delimiter keeps env vars with "_" flat: STORE_DIR → "store_dir".
	k := koanf.New(".")

	if err := k.Load(&rawProvider{data: defaults()}, nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(s)
	}), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.sanitise()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required fields and semantic constraints.
func (c *Config) Validate() error {
	if c.StoreDriver != "file" && c.StoreDriver != "bolt" {
		return fmt.Errorf("STORE_DRIVER must be file or bolt; got %q", c.StoreDriver)
	}
	if strings.TrimSpace(c.StoreDir) == "" {
		return fmt.Errorf("STORE_DIR is required")
	}
	if !channelPattern.MatchString(c.StoreChannel) {
		return fmt.Errorf("STORE_CHANNEL may only contain letters, digits, '_' and '-'; got %q", c.StoreChannel)
	}
	if !extensionPattern.MatchString(c.StoreExtension) {
		return fmt.Errorf("STORE_EXTENSION must be alphanumeric; got %q", c.StoreExtension)
	}

	for _, ttl := range []struct {
		name string
		val  time.Duration
	}{
		{"FILTER_TTL", c.FilterTTL},
		{"SESSION_TTL", c.SessionTTL},
		{"RULE_TTL", c.RuleTTL},
	} {
		if ttl.val < 0 {
			return fmt.Errorf("%s must be >= 0; got %s", ttl.name, ttl.val)
		}
	}

	if c.PoolWorkers < 1 || c.PoolWorkers > 64 {
		return fmt.Errorf("POOL_WORKERS must be 1–64; got %d", c.PoolWorkers)
	}
	if c.PoolQueueDepth < 1 {
		return fmt.Errorf("POOL_QUEUE_DEPTH must be >= 1; got %d", c.PoolQueueDepth)
	}
	if c.PoolMaxRetries < 0 {
		return fmt.Errorf("POOL_MAX_RETRIES must be >= 0; got %d", c.PoolMaxRetries)
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of trace,debug,info,warn,error,fatal,panic; got %q", c.LogLevel)
	}

	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("LOG_FORMAT must be json or text; got %q", c.LogFormat)
	}

	if c.JanitorInterval <= 0 {
		return fmt.Errorf("JANITOR_INTERVAL must be > 0; got %s", c.JanitorInterval)
	}

	return nil
}

// rawProvider implements koanf.Provider for a map[string]interface{}.
type rawProvider struct {
	data map[string]interface{}
}

// Read returns the config map directly (no Parser needed).
func (r *rawProvider) Read() (map[string]interface{}, error) {
	return r.data, nil
}

// ReadBytes is not used by rawProvider; koanf calls Read() when no Parser is given.
func (r *rawProvider) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("rawProvider does not support ReadBytes")
}
