// Package config provides configuration loading and parsing functionality
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigFormat represents the configuration file format
type ConfigFormat string

const (
	FormatYAML ConfigFormat = "yaml"
	FormatJSON ConfigFormat = "json"
)

// Loader handles configuration loading from various sources
type Loader struct {
	// Configuration search paths
	searchPaths []string

	// Environment variable prefix
	envPrefix string

	// Default configuration
	defaultConfig *Config
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		searchPaths: []string{
			".",
			"./config",
			"./configs",
			"/etc/arbor",
			os.Getenv("HOME") + "/.arbor",
		},
		envPrefix:     "ARBOR",
		defaultConfig: DefaultConfig(),
	}
}

// SetSearchPaths sets the configuration file search paths
func (l *Loader) SetSearchPaths(paths []string) *Loader {
	l.searchPaths = paths
	return l
}

// SetEnvPrefix sets the environment variable prefix
func (l *Loader) SetEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// SetDefaultConfig sets the default configuration
func (l *Loader) SetDefaultConfig(config *Config) *Loader {
	l.defaultConfig = config
	return l
}

// LoadFromFile loads configuration from a specific file, merged over the
// defaults, with environment overrides applied last.
func (l *Loader) LoadFromFile(filename string) (*Config, error) {
	return l.loadFromFile(filename)
}

// LoadFromReader loads configuration from an io.Reader
func (l *Loader) LoadFromReader(reader io.Reader, format ConfigFormat) (*Config, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration data: %w", err)
	}
	config, err := l.parseConfig(data, format)
	if err != nil {
		return nil, err
	}
	return l.finalize(config)
}

// AutoLoad discovers a configuration file in the search paths. Without one,
// the defaults plus environment overrides apply.
func (l *Loader) AutoLoad() (*Config, error) {
	configFile, _, err := l.findConfigFile()
	if err != nil {
		if err == ErrConfigFileNotFound {
			config := l.defaults()
			return l.finalize(config)
		}
		return nil, err
	}
	return l.loadFromFile(configFile)
}

// findConfigFile searches for configuration files in search paths
func (l *Loader) findConfigFile() (string, ConfigFormat, error) {
	filenames := []string{
		"arbor.yaml", "arbor.yml",
		"config.yaml", "config.yml",
		"arbor.json", "config.json",
	}

	for _, searchPath := range l.searchPaths {
		for _, filename := range filenames {
			fullPath := filepath.Join(searchPath, filename)
			if _, err := os.Stat(fullPath); err == nil {
				format, err := formatForFile(filename)
				if err != nil {
					continue
				}
				return fullPath, format, nil
			}
		}
	}

	return "", "", ErrConfigFileNotFound
}

// loadFromFile loads configuration from a file
func (l *Loader) loadFromFile(filename string) (*Config, error) {
	format, err := formatForFile(filename)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config, err := l.parseConfig(data, format)
	if err != nil {
		return nil, fmt.Errorf("config file %s: %w", filename, err)
	}
	return l.finalize(config)
}

// finalize merges user config over defaults, applies environment overrides
// and validates the result.
func (l *Loader) finalize(config *Config) (*Config, error) {
	config = l.mergeConfig(l.defaults(), config)
	l.loadFromEnv(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return config, nil
}

func (l *Loader) defaults() *Config {
	if l.defaultConfig != nil {
		cp := *l.defaultConfig
		return &cp
	}
	return DefaultConfig()
}

func formatForFile(filename string) (ConfigFormat, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("unsupported config file format: %s", filepath.Ext(filename))
	}
}

// parseConfig parses configuration data based on format
func (l *Loader) parseConfig(data []byte, format ConfigFormat) (*Config, error) {
	config := &Config{}

	switch format {
	case FormatYAML:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfigParseError, err)
		}
	case FormatJSON:
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfigParseError, err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", format)
	}

	return config, nil
}

// loadFromEnv applies environment variable overrides
func (l *Loader) loadFromEnv(config *Config) {
	if val := os.Getenv(l.envPrefix + "_APP_NAME"); val != "" {
		config.App.Name = val
	}
	if val := os.Getenv(l.envPrefix + "_APP_VERSION"); val != "" {
		config.App.Version = val
	}
	if val := os.Getenv(l.envPrefix + "_APP_ENVIRONMENT"); val != "" {
		config.App.Environment = Environment(val)
	}
	if val := os.Getenv(l.envPrefix + "_APP_DEBUG"); val != "" {
		config.App.Debug = strings.ToLower(val) == "true"
	}

	if val := os.Getenv(l.envPrefix + "_LOG_LEVEL"); val != "" {
		config.Log.Level = LogLevel(val)
	}
	if val := os.Getenv(l.envPrefix + "_LOG_FORMAT"); val != "" {
		config.Log.Format = val
	}
	if val := os.Getenv(l.envPrefix + "_LOG_OUTPUT"); val != "" {
		config.Log.Output = val
	}

	if val := os.Getenv(l.envPrefix + "_ACTOR_MAX_ACTORS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n >= 0 {
			config.Actor.MaxActors = n
		}
	}
	if val := os.Getenv(l.envPrefix + "_ACTOR_MAILBOX_CAPACITY"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n >= 0 {
			config.Actor.DefaultMailboxCapacity = n
		}
	}
	if val := os.Getenv(l.envPrefix + "_ACTOR_BACKPRESSURE"); val != "" {
		config.Actor.Backpressure = strings.ToLower(val)
	}
	if val := os.Getenv(l.envPrefix + "_ACTOR_SHUTDOWN_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil && d > 0 {
			config.Actor.ShutdownTimeout = d
		}
	}

	if val := os.Getenv(l.envPrefix + "_SUPERVISION_MAX_RESTARTS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil && n > 0 {
			config.Supervision.MaxRestarts = n
		}
	}
	if val := os.Getenv(l.envPrefix + "_SUPERVISION_WINDOW"); val != "" {
		if d, err := time.ParseDuration(val); err == nil && d > 0 {
			config.Supervision.Window = d
		}
	}

	if val := os.Getenv(l.envPrefix + "_HEALTH_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil && d > 0 {
			config.Health.Interval = d
		}
	}
	if val := os.Getenv(l.envPrefix + "_HEALTH_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil && d > 0 {
			config.Health.Timeout = d
		}
	}
}

// mergeConfig merges user config over default config
func (l *Loader) mergeConfig(defaultConfig, userConfig *Config) *Config {
	merged := *defaultConfig

	if userConfig.App.Name != "" {
		merged.App.Name = userConfig.App.Name
	}
	if userConfig.App.Version != "" {
		merged.App.Version = userConfig.App.Version
	}
	if userConfig.App.Environment != "" {
		merged.App.Environment = userConfig.App.Environment
	}
	merged.App.Debug = userConfig.App.Debug
	if userConfig.App.Metadata != nil {
		merged.App.Metadata = userConfig.App.Metadata
	}

	if userConfig.Log.Level != "" {
		merged.Log.Level = userConfig.Log.Level
	}
	if userConfig.Log.Format != "" {
		merged.Log.Format = userConfig.Log.Format
	}
	if userConfig.Log.Output != "" {
		merged.Log.Output = userConfig.Log.Output
	}

	if userConfig.Actor.MaxActors != 0 {
		merged.Actor.MaxActors = userConfig.Actor.MaxActors
	}
	if userConfig.Actor.DefaultMailboxCapacity != 0 {
		merged.Actor.DefaultMailboxCapacity = userConfig.Actor.DefaultMailboxCapacity
	}
	if userConfig.Actor.Backpressure != "" {
		merged.Actor.Backpressure = userConfig.Actor.Backpressure
	}
	if userConfig.Actor.SpawnTimeout != 0 {
		merged.Actor.SpawnTimeout = userConfig.Actor.SpawnTimeout
	}
	if userConfig.Actor.ShutdownTimeout != 0 {
		merged.Actor.ShutdownTimeout = userConfig.Actor.ShutdownTimeout
	}

	if userConfig.Supervision.MaxRestarts != 0 {
		merged.Supervision.MaxRestarts = userConfig.Supervision.MaxRestarts
	}
	if userConfig.Supervision.Window != 0 {
		merged.Supervision.Window = userConfig.Supervision.Window
	}
	if userConfig.Supervision.StopTimeout != 0 {
		merged.Supervision.StopTimeout = userConfig.Supervision.StopTimeout
	}

	if userConfig.Health.Interval != 0 {
		merged.Health.Interval = userConfig.Health.Interval
	}
	if userConfig.Health.Timeout != 0 {
		merged.Health.Timeout = userConfig.Health.Timeout
	}
	if userConfig.Health.FailureThreshold != 0 {
		merged.Health.FailureThreshold = userConfig.Health.FailureThreshold
	}
	if userConfig.Health.SuccessThreshold != 0 {
		merged.Health.SuccessThreshold = userConfig.Health.SuccessThreshold
	}

	if userConfig.Custom != nil {
		if merged.Custom == nil {
			merged.Custom = make(map[string]interface{})
		}
		for k, v := range userConfig.Custom {
			merged.Custom[k] = v
		}
	}

	return &merged
}
