// Package config provides error definitions for configuration management
package config

import "errors"

// Configuration validation errors
var (
	ErrInvalidAppName         = errors.New("invalid application name")
	ErrInvalidEnvironment     = errors.New("invalid environment")
	ErrInvalidLogLevel        = errors.New("invalid log level")
	ErrInvalidMaxActors       = errors.New("invalid max actors")
	ErrInvalidMailboxSize     = errors.New("invalid mailbox size")
	ErrInvalidBackpressure    = errors.New("invalid backpressure policy")
	ErrInvalidMaxRestarts     = errors.New("invalid max restarts")
	ErrInvalidHealthThreshold = errors.New("invalid health threshold")
)

// Configuration loading errors
var (
	ErrConfigFileNotFound = errors.New("configuration file not found")
	ErrConfigParseError   = errors.New("configuration parse error")
	ErrConfigWatchError   = errors.New("configuration watch error")
)
