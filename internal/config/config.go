// Package config loads and validates the daemon configuration from a YAML
// file and GODISPATCH_-prefixed environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jonesrussell/godispatch/internal/domain"
	"github.com/jonesrussell/godispatch/internal/executor"
	"github.com/jonesrussell/godispatch/internal/logger"
	"github.com/jonesrussell/godispatch/internal/optimizer"
	"github.com/jonesrussell/godispatch/internal/scheduler"
)

const envPrefix = "GODISPATCH"

// Config is the root daemon configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logger    logger.Config   `mapstructure:"logger"`
	Executor  ExecutorConfig  `mapstructure:"executor"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Optimizer OptimizerConfig `mapstructure:"optimizer"`
	Resources ResourcesConfig `mapstructure:"resources"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
}

// AppConfig identifies the running process.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	Debug       bool   `mapstructure:"debug"`
}

// ExecutorConfig configures the job executor.
type ExecutorConfig struct {
	MaxConcurrentJobs   int `mapstructure:"max_concurrent_jobs"`
	MaxQueueDepth       int `mapstructure:"max_queue_depth"`
	JobTimeoutMinutes   int `mapstructure:"job_timeout_minutes"`
	DrainTimeoutSeconds int `mapstructure:"drain_timeout_seconds"`
	HistoryLimit        int `mapstructure:"history_limit"`
	DefaultMaxRetries   int `mapstructure:"default_max_retries"`
}

// SchedulerConfig configures the time scheduler.
type SchedulerConfig struct {
	CheckIntervalSeconds   int `mapstructure:"check_interval_seconds"`
	MaxConcurrentSchedules int `mapstructure:"max_concurrent_schedules"`
	DrainTimeoutSeconds    int `mapstructure:"drain_timeout_seconds"`
	ExecutionLogLimit      int `mapstructure:"execution_log_limit"`
}

// OptimizerConfig configures the schedule optimizer.
type OptimizerConfig struct {
	Enabled            bool    `mapstructure:"enabled"`
	IntervalMinutes    int     `mapstructure:"interval_minutes"`
	AutoApply          bool    `mapstructure:"auto_apply"`
	AutoApplyThreshold float64 `mapstructure:"auto_apply_threshold"`
	MaxConcurrentJobs  int     `mapstructure:"max_concurrent_jobs"`
	AnalysisPeriodDays int     `mapstructure:"analysis_period_days"`
}

// ResourcesConfig bounds system resource usage.
type ResourcesConfig struct {
	MaxCPUPercent float64 `mapstructure:"max_cpu_percent"`
	MaxMemoryMB   float64 `mapstructure:"max_memory_mb"`
}

// DatabaseConfig configures the optional PostgreSQL history store.
type DatabaseConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

// RedisConfig configures the optional Redis tracker state store.
type RedisConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// Load reads configuration from the given file (optional) and environment
// variables, applying defaults for everything unset.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Logger.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "godispatch")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", false)

	v.SetDefault("logger.level", logger.DefaultLevel)
	v.SetDefault("logger.encoding", logger.DefaultEncoding)

	v.SetDefault("executor.max_concurrent_jobs", executor.DefaultMaxWorkers)
	v.SetDefault("executor.max_queue_depth", executor.DefaultMaxQueueDepth)
	v.SetDefault("executor.job_timeout_minutes", 60)
	v.SetDefault("executor.drain_timeout_seconds", 30)
	v.SetDefault("executor.history_limit", executor.DefaultHistoryLimit)
	v.SetDefault("executor.default_max_retries", executor.DefaultMaxRetries)

	v.SetDefault("scheduler.check_interval_seconds", 30)
	v.SetDefault("scheduler.max_concurrent_schedules", scheduler.DefaultMaxConcurrentSchedules)
	v.SetDefault("scheduler.drain_timeout_seconds", 300)
	v.SetDefault("scheduler.execution_log_limit", scheduler.DefaultLogLimit)

	v.SetDefault("optimizer.enabled", true)
	v.SetDefault("optimizer.interval_minutes", 360)
	v.SetDefault("optimizer.auto_apply", false)
	v.SetDefault("optimizer.auto_apply_threshold", optimizer.DefaultAutoApplyThreshold)
	v.SetDefault("optimizer.max_concurrent_jobs", 3)
	v.SetDefault("optimizer.analysis_period_days", optimizer.DefaultAnalysisPeriodDays)

	v.SetDefault("resources.max_cpu_percent", 85.0)
	v.SetDefault("resources.max_memory_mb", 4096.0)

	v.SetDefault("database.enabled", false)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
}

// Validate checks cross-field constraints not covered by the per-package
// config validators.
func (c *Config) Validate() error {
	if c.Executor.MaxConcurrentJobs <= 0 {
		return errors.New("executor.max_concurrent_jobs must be positive")
	}
	if c.Executor.MaxQueueDepth <= 0 {
		return errors.New("executor.max_queue_depth must be positive")
	}
	if c.Scheduler.CheckIntervalSeconds <= 0 {
		return errors.New("scheduler.check_interval_seconds must be positive")
	}
	if c.Scheduler.MaxConcurrentSchedules <= 0 {
		return errors.New("scheduler.max_concurrent_schedules must be positive")
	}
	if c.Resources.MaxCPUPercent <= 0 || c.Resources.MaxCPUPercent > 100 {
		return errors.New("resources.max_cpu_percent must be in (0, 100]")
	}
	if c.Resources.MaxMemoryMB <= 0 {
		return errors.New("resources.max_memory_mb must be positive")
	}
	if c.Database.Enabled && c.Database.DSN == "" {
		return errors.New("database.dsn is required when database.enabled is true")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return errors.New("redis.addr is required when redis.enabled is true")
	}
	return nil
}

// ExecutorConfig converts to the executor package's configuration.
func (c *Config) ExecutorConfig() executor.Config {
	cfg := executor.DefaultConfig()
	cfg.MaxWorkers = c.Executor.MaxConcurrentJobs
	cfg.MaxQueueDepth = c.Executor.MaxQueueDepth
	cfg.MaxJobRuntime = time.Duration(c.Executor.JobTimeoutMinutes) * time.Minute
	cfg.DrainTimeout = time.Duration(c.Executor.DrainTimeoutSeconds) * time.Second
	cfg.HistoryLimit = c.Executor.HistoryLimit
	cfg.DefaultMaxRetries = c.Executor.DefaultMaxRetries
	return cfg
}

// SchedulerConfig converts to the scheduler package's configuration.
func (c *Config) SchedulerConfig() scheduler.Config {
	cfg := scheduler.DefaultConfig()
	cfg.TickInterval = time.Duration(c.Scheduler.CheckIntervalSeconds) * time.Second
	cfg.MaxConcurrentSchedules = int64(c.Scheduler.MaxConcurrentSchedules)
	cfg.DrainTimeout = time.Duration(c.Scheduler.DrainTimeoutSeconds) * time.Second
	cfg.LogLimit = c.Scheduler.ExecutionLogLimit
	return cfg
}

// OptimizerConfig converts to the optimizer package's configuration.
func (c *Config) OptimizerConfig() optimizer.Config {
	cfg := optimizer.DefaultConfig()
	cfg.MaxConcurrentJobs = c.Optimizer.MaxConcurrentJobs
	cfg.AutoApplyThreshold = c.Optimizer.AutoApplyThreshold
	cfg.Interval = time.Duration(c.Optimizer.IntervalMinutes) * time.Minute
	cfg.AnalysisPeriodDays = c.Optimizer.AnalysisPeriodDays
	cfg.AutoApply = c.Optimizer.AutoApply
	return cfg
}

// ResourceLimits converts to the domain resource limits.
func (c *Config) ResourceLimits() domain.ResourceLimits {
	return domain.ResourceLimits{
		MaxCPUPercent:        c.Resources.MaxCPUPercent,
		MaxMemoryMB:          c.Resources.MaxMemoryMB,
		MaxConcurrentWorkers: c.Executor.MaxConcurrentJobs,
		MaxQueueDepth:        c.Executor.MaxQueueDepth,
		MaxJobRuntime:        time.Duration(c.Executor.JobTimeoutMinutes) * time.Minute,
	}
}
