// Package config handles replywriter configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Defaults applied by applyDefaults when the file leaves a field unset.
const (
	DefaultPort           = 8080
	DefaultModel          = "gemini-2.0-flash-001"
	DefaultKeyPlaceholder = "YOUR_API_KEY"
	DefaultURLTemplate    = "https://generativelanguage.googleapis.com/v1beta/models/{model}:generateContent?key=YOUR_API_KEY"
	DefaultTimeoutSec     = 60
	DefaultRetryDelayMs   = 500
	DefaultDataDir        = "./data"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/replywriter/config.yaml, /etc/replywriter/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "replywriter", "config.yaml"))
	}

	paths = append(paths, "/etc/replywriter/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all replywriter configuration.
type Config struct {
	Listen    ListenConfig `yaml:"listen"`
	Gemini    GeminiConfig `yaml:"gemini"`
	CORS      CORSConfig   `yaml:"cors"`
	Usage     UsageConfig  `yaml:"usage"`
	DataDir   string       `yaml:"data_dir"`
	LogLevel  string       `yaml:"log_level"`
	LogFormat string       `yaml:"log_format"` // text (default) or json
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// GeminiConfig defines the upstream generateContent endpoint.
//
// URLTemplate carries KeyPlaceholder literally; the live APIKey is
// substituted at request time. An optional {model} token is replaced
// with Model.
type GeminiConfig struct {
	APIKey         string `yaml:"api_key"`
	URLTemplate    string `yaml:"url_template"`
	KeyPlaceholder string `yaml:"key_placeholder"`
	Model          string `yaml:"model"`
	TimeoutSec     int    `yaml:"timeout_sec"`
	RetryCount     int    `yaml:"retry_count"`    // dial-level retries, 0 disables
	RetryDelayMs   int    `yaml:"retry_delay_ms"` // delay between dial retries
}

// Configured reports whether an API key is present.
func (c GeminiConfig) Configured() bool {
	return c.APIKey != ""
}

// CORSConfig lists origins allowed to call the API from a browser.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// UsageConfig controls the optional usage ledger.
type UsageConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load reads configuration from a YAML file. Environment variables in
// the file are expanded before parsing, and GEMINI_API_KEY overrides
// gemini.api_key when set.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		cfg.Gemini.APIKey = key
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration. The API key is left empty.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = DefaultPort
	}
	if c.Gemini.URLTemplate == "" {
		c.Gemini.URLTemplate = DefaultURLTemplate
	}
	if c.Gemini.KeyPlaceholder == "" {
		c.Gemini.KeyPlaceholder = DefaultKeyPlaceholder
	}
	if c.Gemini.Model == "" {
		c.Gemini.Model = DefaultModel
	}
	if c.Gemini.TimeoutSec == 0 {
		c.Gemini.TimeoutSec = DefaultTimeoutSec
	}
	if c.Gemini.RetryCount > 0 && c.Gemini.RetryDelayMs == 0 {
		c.Gemini.RetryDelayMs = DefaultRetryDelayMs
	}
	if len(c.CORS.AllowedOrigins) == 0 {
		c.CORS.AllowedOrigins = []string{"http://localhost:5173"}
	}
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
}

// Validate rejects configurations that cannot work. A missing API key
// is not an error here; commands that call Gemini check Configured.
func (c *Config) Validate() error {
	if c.Listen.Port < 0 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range", c.Listen.Port)
	}
	if c.Gemini.TimeoutSec < 0 {
		return fmt.Errorf("gemini.timeout_sec must not be negative")
	}
	if c.Gemini.RetryCount < 0 {
		return fmt.Errorf("gemini.retry_count must not be negative")
	}
	if !strings.Contains(c.Gemini.URLTemplate, c.Gemini.KeyPlaceholder) {
		return fmt.Errorf("gemini.url_template does not contain placeholder %q", c.Gemini.KeyPlaceholder)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("log_format %q invalid (expected text or json)", c.LogFormat)
	}
	return nil
}
