package config

import "researchdesk/internal/logging"

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string          `yaml:"level"`      // debug, info, warn, error
	Format     string          `yaml:"format"`     // json, text
	File       string          `yaml:"file"`       // relative to the logs directory
	DebugMode  bool            `yaml:"debug_mode"` // Master toggle - false = no file logging (production)
	Categories map[string]bool `yaml:"categories"` // Per-category toggles
}

// IsCategoryEnabled returns whether logging is enabled for a category.
// Returns false if debug_mode is false (production mode).
// Returns true if debug_mode is true and category is enabled (or not specified).
func (c *LoggingConfig) IsCategoryEnabled(category string) bool {
	if !c.DebugMode {
		return false
	}
	if c.Categories == nil {
		return true // All enabled by default in debug mode
	}
	enabled, exists := c.Categories[category]
	if !exists {
		return true
	}
	return enabled
}

// Settings converts the config section into logging.Settings.
// console tees entries to stderr and is only safe outside the TUI.
func (c *LoggingConfig) Settings(console bool) logging.Settings {
	return logging.Settings{
		DebugMode:  c.DebugMode,
		Level:      c.Level,
		Format:     c.Format,
		File:       c.File,
		Categories: c.Categories,
		Console:    console,
	}
}
