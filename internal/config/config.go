// Package config loads researchdesk settings from .researchdesk/config.yaml
// with environment overrides.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DirName is the per-workspace settings directory.
	DirName = ".researchdesk"
	// FileName is the config file inside DirName.
	FileName = "config.yaml"
)

// Environment variables that override file values.
const (
	EnvAPIURL         = "RESEARCHDESK_API_URL"
	EnvRequestTimeout = "RESEARCHDESK_REQUEST_TIMEOUT"
	EnvLogLevel       = "RESEARCHDESK_LOG_LEVEL"
	EnvDebug          = "RESEARCHDESK_DEBUG"
)

// Config holds all researchdesk configuration.
type Config struct {
	// Research service connection
	Service ServiceConfig `yaml:"service"`

	// Cosmetic progress narrative
	Progress ProgressConfig `yaml:"progress"`

	// Terminal UI
	UI UIConfig `yaml:"ui"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// ServiceConfig configures the research service client.
type ServiceConfig struct {
	BaseURL        string `yaml:"base_url"`        // required, absolute http(s)
	RequestTimeout string `yaml:"request_timeout"` // empty = no deadline
	HealthTimeout  string `yaml:"health_timeout"`
}

// ProgressConfig configures the stage narrator.
type ProgressConfig struct {
	StageInterval string   `yaml:"stage_interval"`
	GracePeriod   string   `yaml:"grace_period"`
	Stages        []string `yaml:"stages,omitempty"` // empty = built-in stages
}

// UIConfig configures the terminal UI.
type UIConfig struct {
	Theme        string `yaml:"theme"` // auto, dark, light
	ShowSnippets bool   `yaml:"show_snippets"`
	WordWrap     int    `yaml:"word_wrap"` // 0 = follow terminal width
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			BaseURL:       "http://localhost:8000",
			HealthTimeout: "5s",
		},
		Progress: ProgressConfig{
			StageInterval: "800ms",
			GracePeriod:   "500ms",
		},
		UI: UIConfig{
			Theme:        "auto",
			ShowSnippets: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			File:   "researchdesk.log",
		},
	}
}

// DefaultPath returns .researchdesk/config.yaml under the working directory.
func DefaultPath() string {
	cwd, err := os.Getwd()
	if err != nil {
		return filepath.Join(DirName, FileName)
	}
	return filepath.Join(cwd, DirName, FileName)
}

// LogsDir returns the logs directory that belongs to the config file at path.
func LogsDir(path string) string {
	return filepath.Join(filepath.Dir(path), "logs")
}

// Load loads configuration from a YAML file. A missing file yields defaults.
// Environment overrides are applied in both cases.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if u := strings.TrimSpace(os.Getenv(EnvAPIURL)); u != "" {
		c.Service.BaseURL = u
	}
	if t := os.Getenv(EnvRequestTimeout); t != "" {
		c.Service.RequestTimeout = t
	}
	if level := os.Getenv(EnvLogLevel); level != "" {
		c.Logging.Level = strings.ToLower(level)
	}
	if debug := os.Getenv(EnvDebug); debug != "" {
		if on, err := strconv.ParseBool(debug); err == nil {
			c.Logging.DebugMode = on
		}
	}
}

// GetRequestTimeout returns the per-query deadline, or 0 for none.
func (c *Config) GetRequestTimeout() time.Duration {
	return parseOr(c.Service.RequestTimeout, 0)
}

// GetHealthTimeout returns the health probe deadline.
func (c *Config) GetHealthTimeout() time.Duration {
	d := parseOr(c.Service.HealthTimeout, 5*time.Second)
	if d <= 0 {
		return 5 * time.Second
	}
	return d
}

// GetStageInterval returns the narrator cadence.
func (c *Config) GetStageInterval() time.Duration {
	d := parseOr(c.Progress.StageInterval, 800*time.Millisecond)
	if d <= 0 {
		return 800 * time.Millisecond
	}
	return d
}

// GetGracePeriod returns how long completed stages stay visible before the answer.
func (c *Config) GetGracePeriod() time.Duration {
	d := parseOr(c.Progress.GracePeriod, 500*time.Millisecond)
	if d < 0 {
		return 0
	}
	return d
}

// GetStages returns the configured stage labels, or nil for the built-in ones.
func (c *Config) GetStages() []string {
	var stages []string
	for _, s := range c.Progress.Stages {
		if s = strings.TrimSpace(s); s != "" {
			stages = append(stages, s)
		}
	}
	return stages
}

func parseOr(s string, fallback time.Duration) time.Duration {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return fallback
	}
	return d
}

// ValidThemes lists the accepted ui.theme values.
var ValidThemes = []string{"auto", "dark", "light"}

// ValidLevels lists the accepted logging.level values.
var ValidLevels = []string{"debug", "info", "warn", "error"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	// A terminal client has no origin to resolve a relative base against.
	base := strings.TrimSpace(c.Service.BaseURL)
	if base == "" {
		return fmt.Errorf("service.base_url is required")
	}
	u, err := url.Parse(base)
	if err != nil {
		return fmt.Errorf("invalid service.base_url %q: %w", base, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid service.base_url %q: must be an absolute http(s) URL", base)
	}

	durations := []struct {
		key      string
		value    string
		positive bool
	}{
		{"service.request_timeout", c.Service.RequestTimeout, false},
		{"service.health_timeout", c.Service.HealthTimeout, false},
		{"progress.stage_interval", c.Progress.StageInterval, true},
		{"progress.grace_period", c.Progress.GracePeriod, false},
	}
	for _, d := range durations {
		if strings.TrimSpace(d.value) == "" {
			continue
		}
		parsed, err := time.ParseDuration(strings.TrimSpace(d.value))
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", d.key, d.value, err)
		}
		if parsed < 0 {
			return fmt.Errorf("invalid %s %q: must not be negative", d.key, d.value)
		}
		if d.positive && parsed == 0 {
			return fmt.Errorf("invalid %s %q: must be positive", d.key, d.value)
		}
	}

	if theme := c.UI.Theme; theme != "" && !contains(ValidThemes, theme) {
		return fmt.Errorf("invalid ui.theme: %s (valid: %v)", theme, ValidThemes)
	}
	if c.UI.WordWrap < 0 {
		return fmt.Errorf("invalid ui.word_wrap: %d (must be >= 0)", c.UI.WordWrap)
	}
	if level := c.Logging.Level; level != "" && !contains(ValidLevels, level) {
		return fmt.Errorf("invalid logging.level: %s (valid: %v)", level, ValidLevels)
	}

	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
