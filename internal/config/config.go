package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"   validate:"required"`
	Database DatabaseConfig `mapstructure:"database" validate:"required"`
	Queue    QueueConfig    `mapstructure:"queue"    validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig contains all database-related configuration settings.
// Driver selects the TaskStore implementation: "postgres" for shared
// multi-process deployments, "sqlite" for embedded single-process ones.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver" validate:"required,oneof=postgres sqlite"`
	URL    string `mapstructure:"url"    validate:"required"`
}

// QueueConfig contains the task queue tuning knobs.
type QueueConfig struct {
	// MaxConcurrentTasks bounds how many execution units may run
	// simultaneously, counting units still in flight from prior polls.
	MaxConcurrentTasks int `mapstructure:"max_concurrent_tasks" validate:"required,gt=0"`

	// PollIntervalSeconds is the dispatch loop interval.
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds" validate:"required,gt=0"`

	// CleanupIntervalSeconds is the retention sweep interval.
	CleanupIntervalSeconds int `mapstructure:"cleanup_interval_seconds" validate:"required,gt=0"`

	// RetentionDays is the age past which terminal records are purged.
	RetentionDays int `mapstructure:"retention_days" validate:"required,gt=0"`

	// MaxPayloadSizeBytes is the payload degradation threshold.
	MaxPayloadSizeBytes int `mapstructure:"max_payload_size_bytes" validate:"required,gt=0"`

	// CacheMaxTerminal is how many terminal entries the in-memory status
	// cache keeps between retention sweeps.
	CacheMaxTerminal int `mapstructure:"cache_max_terminal" validate:"required,gt=0"`
}

// PollInterval returns the dispatch loop interval as a duration.
func (q QueueConfig) PollInterval() time.Duration {
	return time.Duration(q.PollIntervalSeconds) * time.Second
}

// CleanupInterval returns the retention sweep interval as a duration.
func (q QueueConfig) CleanupInterval() time.Duration {
	return time.Duration(q.CleanupIntervalSeconds) * time.Second
}

// Retention returns the terminal-record purge age as a duration.
func (q QueueConfig) Retention() time.Duration {
	return time.Duration(q.RetentionDays) * 24 * time.Hour
}
