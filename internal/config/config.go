// Package config loads, validates and watches the tsfbridge configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"tsfbridge/internal/compat"
	"tsfbridge/internal/logging"
)

// Version is the current configuration schema version.
const Version = 1

// Config holds the complete configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	// Logging configuration.
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`

	// Store configures the text stores.
	Store StoreConfig `toml:"store" json:"store" yaml:"store"`

	// Compat overrides rows of the compatibility table.
	Compat CompatConfig `toml:"compat" json:"compat" yaml:"compat"`

	// Journal configures the session journal.
	Journal JournalConfig `toml:"journal" json:"journal" yaml:"journal"`

	// Monitor configures D-Bus monitor signals.
	Monitor MonitorConfig `toml:"monitor" json:"monitor" yaml:"monitor"`

	// Metrics configures the metrics dump.
	Metrics MetricsConfig `toml:"metrics" json:"metrics" yaml:"metrics"`

	mu sync.RWMutex
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `toml:"level" json:"level" yaml:"level"`

	// Format is text or json.
	Format string `toml:"format" json:"format" yaml:"format"`

	// Output is stdout, stderr, file, both or discard.
	Output string `toml:"output" json:"output" yaml:"output"`

	// FilePath is the log file when Output writes to a file.
	FilePath string `toml:"file_path" json:"file_path" yaml:"file_path"`

	MaxSizeMB  int  `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int  `toml:"max_backups" json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int  `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`
	Compress   bool `toml:"compress" json:"compress" yaml:"compress"`

	// LogText allows document text and key names in log records.
	LogText bool `toml:"log_text" json:"log_text" yaml:"log_text"`

	// RedactPatterns are regular expressions masked in string values.
	RedactPatterns []string `toml:"redact_patterns" json:"redact_patterns,omitempty" yaml:"redact_patterns"`
}

// StoreConfig holds text store settings.
type StoreConfig struct {
	// Processor names the active input processor, as listed by the
	// compatibility table.
	Processor string `toml:"processor" json:"processor" yaml:"processor"`

	// LayoutRetries bounds the layout notifications sent to a service
	// waiting for layout.
	LayoutRetries int `toml:"layout_retries" json:"layout_retries" yaml:"layout_retries"`

	// RemoteDocument makes replayed documents answer asynchronously.
	RemoteDocument bool `toml:"remote_document" json:"remote_document" yaml:"remote_document"`
}

// CompatConfig overrides the built-in compatibility table.
type CompatConfig struct {
	// Disabled lists processors whose quirks are switched off.
	Disabled []string `toml:"disabled" json:"disabled,omitempty" yaml:"disabled"`

	// Processors adds or replaces rows.
	Processors []ProcessorRules `toml:"processors" json:"processors,omitempty" yaml:"processors"`
}

// ProcessorRules is one row of compatibility overrides.
type ProcessorRules struct {
	Name  string       `toml:"name" json:"name" yaml:"name"`
	Rules []RuleConfig `toml:"rules" json:"rules,omitempty" yaml:"rules"`
}

// RuleConfig names a trigger and an adjustment, as accepted by
// compat.ParseTrigger and compat.ParseAdjustment.
type RuleConfig struct {
	Trigger    string `toml:"trigger" json:"trigger" yaml:"trigger"`
	Adjustment string `toml:"adjustment" json:"adjustment" yaml:"adjustment"`
}

// JournalConfig holds session journal settings.
type JournalConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	Path    string `toml:"path" json:"path" yaml:"path"`

	// BusyTimeoutMs is the SQLite busy timeout in milliseconds.
	BusyTimeoutMs int `toml:"busy_timeout_ms" json:"busy_timeout_ms" yaml:"busy_timeout_ms"`

	// RetentionDays prunes older sessions when the journal opens. Zero
	// keeps everything.
	RetentionDays int `toml:"retention_days" json:"retention_days" yaml:"retention_days"`
}

// MonitorConfig holds D-Bus monitor settings.
type MonitorConfig struct {
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Bus is session or system.
	Bus string `toml:"bus" json:"bus" yaml:"bus"`

	// Path is the object path signals are emitted from.
	Path string `toml:"path" json:"path" yaml:"path"`

	// Interface prefixes the signal names.
	Interface string `toml:"interface" json:"interface" yaml:"interface"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Namespace prefixes every metric name.
	Namespace string `toml:"namespace" json:"namespace" yaml:"namespace"`

	// Path receives the Prometheus text dump when a command finishes. Empty
	// writes to stdout.
	Path string `toml:"path" json:"path" yaml:"path"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	dir := DataDir()
	return &Config{
		Version: Version,
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(dir, "logs", "tsfbridge.log"),
			MaxSizeMB:  20,
			MaxBackups: 5,
			MaxAgeDays: 14,
			Compress:   true,
		},
		Store: StoreConfig{
			LayoutRetries: 8,
		},
		Journal: JournalConfig{
			Path:          filepath.Join(dir, "journal.db"),
			BusyTimeoutMs: 5000,
			RetentionDays: 30,
		},
		Monitor: MonitorConfig{
			Bus:       "session",
			Path:      "/org/tsfbridge/Monitor",
			Interface: "org.tsfbridge.Monitor",
		},
		Metrics: MetricsConfig{
			Namespace: "tsfbridge",
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	if p := FindConfigFile(); p != "" {
		return p
	}
	return filepath.Join(ConfigDir(), "config.toml")
}

// Load reads configuration from path, applies environment overrides and
// validates the result. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}
	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// ApplyEnvOverrides applies TSFBRIDGE_* environment variables.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v := os.Getenv("TSFBRIDGE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("TSFBRIDGE_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("TSFBRIDGE_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}
	if v, ok := envBool("TSFBRIDGE_LOG_TEXT"); ok {
		c.Logging.LogText = v
	}
	if v := os.Getenv("TSFBRIDGE_PROCESSOR"); v != "" {
		c.Store.Processor = v
	}
	if v := os.Getenv("TSFBRIDGE_JOURNAL_PATH"); v != "" {
		c.Journal.Path = v
		c.Journal.Enabled = true
	}
	if v := os.Getenv("TSFBRIDGE_MONITOR_BUS"); v != "" {
		c.Monitor.Bus = v
	}
	if v, ok := envBool("TSFBRIDGE_METRICS"); ok {
		c.Metrics.Enabled = v
	}
}

func envBool(name string) (bool, bool) {
	v := os.Getenv(name)
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	clone := &Config{
		Version: c.Version,
		Logging: c.Logging,
		Store:   c.Store,
		Journal: c.Journal,
		Monitor: c.Monitor,
		Metrics: c.Metrics,
	}
	clone.Logging.RedactPatterns = append([]string(nil), c.Logging.RedactPatterns...)
	clone.Compat.Disabled = append([]string(nil), c.Compat.Disabled...)
	for _, p := range c.Compat.Processors {
		p.Rules = append([]RuleConfig(nil), p.Rules...)
		clone.Compat.Processors = append(clone.Compat.Processors, p)
	}
	return clone
}

// LoggerConfig converts the logging section for logging.New.
func (c *LoggingConfig) LoggerConfig() (*logging.Config, error) {
	level, err := logging.ParseLevel(c.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(c.Format)
	if err != nil {
		return nil, err
	}
	cfg := logging.DefaultConfig()
	cfg.Level = level
	cfg.Format = format
	cfg.Output = c.Output
	cfg.FilePath = c.FilePath
	cfg.MaxSize = int64(c.MaxSizeMB)
	cfg.MaxBackups = c.MaxBackups
	cfg.MaxAge = c.MaxAgeDays
	cfg.Compress = c.Compress
	cfg.LogText = c.LogText
	cfg.RedactPatterns = c.RedactPatterns
	return cfg, nil
}

// Apply registers the configured rows in t and switches the disabled
// processors off. Processors disabled in previous but no longer listed are
// switched back on.
func (c *CompatConfig) Apply(t *compat.Table, previous *CompatConfig) error {
	for _, p := range c.Processors {
		rules := make([]compat.Rule, 0, len(p.Rules))
		for _, rc := range p.Rules {
			r, err := rc.Rule()
			if err != nil {
				return fmt.Errorf("processor %s: %w", p.Name, err)
			}
			rules = append(rules, r)
		}
		t.Register(p.Name, rules)
	}

	disabled := make(map[string]bool, len(c.Disabled))
	for _, name := range c.Disabled {
		id, ok := t.Lookup(name)
		if !ok {
			return fmt.Errorf("disable %s: unknown processor", name)
		}
		disabled[strings.ToLower(name)] = true
		t.SetDisabled(id, true)
	}
	if previous != nil {
		for _, name := range previous.Disabled {
			if disabled[strings.ToLower(name)] {
				continue
			}
			if id, ok := t.Lookup(name); ok {
				t.SetDisabled(id, false)
			}
		}
	}
	return nil
}

// Rule parses the rule names.
func (rc RuleConfig) Rule() (compat.Rule, error) {
	trigger, err := compat.ParseTrigger(rc.Trigger)
	if err != nil {
		return compat.Rule{}, err
	}
	adj, err := compat.ParseAdjustment(rc.Adjustment)
	if err != nil {
		return compat.Rule{}, err
	}
	return compat.Rule{Trigger: trigger, Adjustment: adj}, nil
}
