// Package config provides file-based configuration for the runtime: YAML or
// JSON loading, environment overrides and hot reload. Plain construction-time
// structs remain the primary API; this package is the optional front-end for
// deployments that configure the runtime from files.
package config

import (
	"time"

	"github.com/arborlab/arbor/health"
	"github.com/arborlab/arbor/mailbox"
	"github.com/arborlab/arbor/supervisor"
	"github.com/arborlab/arbor/system"
)

// Environment represents the deployment environment
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// String returns the string representation of Environment
func (e Environment) String() string {
	return string(e)
}

// IsValid checks if the environment is valid
func (e Environment) IsValid() bool {
	switch e {
	case EnvDevelopment, EnvTesting, EnvStaging, EnvProduction:
		return true
	default:
		return false
	}
}

// LogLevel represents the logging level
type LogLevel string

const (
	LogLevelTrace LogLevel = "trace"
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
	LogLevelFatal LogLevel = "fatal"
)

// String returns the string representation of LogLevel
func (l LogLevel) String() string {
	return string(l)
}

// IsValid checks if the log level is valid
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelTrace, LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError, LogLevelFatal:
		return true
	default:
		return false
	}
}

// Config is the complete runtime configuration
type Config struct {
	// Application configuration
	App AppConfig `yaml:"app" json:"app"`

	// Logging configuration
	Log LogConfig `yaml:"log" json:"log"`

	// Actor system configuration
	Actor ActorConfig `yaml:"actor" json:"actor"`

	// Supervision tree configuration
	Supervision SupervisionConfig `yaml:"supervision" json:"supervision"`

	// Health monitoring configuration
	Health HealthConfig `yaml:"health" json:"health"`

	// Custom configurations (for embedder-defined components)
	Custom map[string]interface{} `yaml:"custom,omitempty" json:"custom,omitempty"`
}

// AppConfig contains application-level configuration
type AppConfig struct {
	// Application name; also used as the actor system name
	Name string `yaml:"name" json:"name"`

	// Application version
	Version string `yaml:"version" json:"version"`

	// Deployment environment
	Environment Environment `yaml:"environment" json:"environment"`

	// Debug mode
	Debug bool `yaml:"debug" json:"debug"`

	// Application metadata
	Metadata map[string]string `yaml:"metadata,omitempty" json:"metadata,omitempty"`
}

// LogConfig contains logging configuration
type LogConfig struct {
	// Log level
	Level LogLevel `yaml:"level" json:"level"`

	// Log format (console, json)
	Format string `yaml:"format" json:"format"`

	// Output destination (stdout, stderr)
	Output string `yaml:"output" json:"output"`
}

// ActorConfig contains actor system limits and mailbox defaults
type ActorConfig struct {
	// Maximum number of concurrently registered actors; zero is unlimited
	MaxActors int `yaml:"max_actors" json:"max_actors"`

	// Default mailbox capacity for spawns that do not set their own;
	// zero means unbounded mailboxes
	DefaultMailboxCapacity int `yaml:"default_mailbox_capacity" json:"default_mailbox_capacity"`

	// Default backpressure policy (block, drop, error, priority);
	// priority selects per message priority class
	Backpressure string `yaml:"backpressure" json:"backpressure"`

	// Pre-start hook timeout per spawn
	SpawnTimeout time.Duration `yaml:"spawn_timeout" json:"spawn_timeout"`

	// Grace period for system shutdown
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// SupervisionConfig contains root supervisor settings
type SupervisionConfig struct {
	// Maximum restarts across children inside Window before escalation
	MaxRestarts int `yaml:"max_restarts" json:"max_restarts"`

	// Sliding window for the restart-rate limit
	Window time.Duration `yaml:"window" json:"window"`

	// Default grace period for stopping a child
	StopTimeout time.Duration `yaml:"stop_timeout" json:"stop_timeout"`
}

// HealthConfig contains default health check settings
type HealthConfig struct {
	// Check interval
	Interval time.Duration `yaml:"interval" json:"interval"`

	// Per-check timeout
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// Consecutive failures before a downward transition commits
	FailureThreshold int `yaml:"failure_threshold" json:"failure_threshold"`

	// Consecutive successes before an upward transition commits
	SuccessThreshold int `yaml:"success_threshold" json:"success_threshold"`
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "arbor-app",
			Version:     "1.0.0",
			Environment: EnvDevelopment,
			Debug:       true,
		},
		Log: LogConfig{
			Level:  LogLevelInfo,
			Format: "console",
			Output: "stdout",
		},
		Actor: ActorConfig{
			MaxActors:              10000,
			DefaultMailboxCapacity: 1024,
			Backpressure:           "priority",
			SpawnTimeout:           5 * time.Second,
			ShutdownTimeout:        30 * time.Second,
		},
		Supervision: SupervisionConfig{
			MaxRestarts: 3,
			Window:      time.Minute,
			StopTimeout: 10 * time.Second,
		},
		Health: HealthConfig{
			Interval:         30 * time.Second,
			Timeout:          5 * time.Second,
			FailureThreshold: 3,
			SuccessThreshold: 1,
		},
		Custom: make(map[string]interface{}),
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return ErrInvalidAppName
	}
	if !c.App.Environment.IsValid() {
		return ErrInvalidEnvironment
	}
	if !c.Log.Level.IsValid() {
		return ErrInvalidLogLevel
	}
	if c.Actor.MaxActors < 0 {
		return ErrInvalidMaxActors
	}
	if c.Actor.DefaultMailboxCapacity < 0 {
		return ErrInvalidMailboxSize
	}
	switch c.Actor.Backpressure {
	case "", "block", "drop", "error", "priority":
	default:
		return ErrInvalidBackpressure
	}
	if c.Supervision.MaxRestarts <= 0 {
		return ErrInvalidMaxRestarts
	}
	if c.Health.FailureThreshold < 0 || c.Health.SuccessThreshold < 0 {
		return ErrInvalidHealthThreshold
	}
	return nil
}

// SystemConfig converts the file configuration into the system's
// construction-time form.
func (c *Config) SystemConfig() system.Config {
	return system.Config{
		Name:                   c.App.Name,
		MaxActors:              c.Actor.MaxActors,
		DefaultMailboxCapacity: c.Actor.DefaultMailboxCapacity,
		SpawnTimeout:           c.Actor.SpawnTimeout,
		ShutdownTimeout:        c.Actor.ShutdownTimeout,
		Supervision: supervisor.Options{
			MaxRestarts: c.Supervision.MaxRestarts,
			Window:      c.Supervision.Window,
			StopTimeout: c.Supervision.StopTimeout,
		},
	}
}

// HealthDefaults converts the health section into a health.Config.
func (c *Config) HealthDefaults() health.Config {
	return health.Config{
		Interval:         c.Health.Interval,
		Timeout:          c.Health.Timeout,
		FailureThreshold: c.Health.FailureThreshold,
		SuccessThreshold: c.Health.SuccessThreshold,
	}
}

// BackpressurePolicy resolves the configured default policy. The second
// return is false for "priority", which defers the choice to each message's
// priority class.
func (c *Config) BackpressurePolicy() (mailbox.BackpressurePolicy, bool) {
	switch c.Actor.Backpressure {
	case "block":
		return mailbox.Block, true
	case "drop":
		return mailbox.Drop, true
	case "error":
		return mailbox.Error, true
	default:
		return mailbox.Block, false
	}
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == EnvDevelopment
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.App.Environment == EnvProduction
}

// IsDebugEnabled returns true if debug mode is enabled
func (c *Config) IsDebugEnabled() bool {
	return c.App.Debug || c.App.Environment == EnvDevelopment
}
