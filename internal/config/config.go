// Package config holds the application's root configuration tree and the
// viper-backed singleton that the command layer populates at startup.
package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/spf13/viper"
)

var (
	instance *Config
	once     sync.Once
	loadErr  error
)

// Config is the root configuration structure for the entire application.
type Config struct {
	Logger   LoggerConfig   `mapstructure:"logger"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Batch    BatchConfig    `mapstructure:"batch"`
	Pool     PoolConfig     `mapstructure:"pool"`
	Pacing   PacingConfig   `mapstructure:"pacing"`
}

// ColorConfig defines the color settings for different log levels.
// These are used for console output to make logs more readable.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" json:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" json:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" json:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" json:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" json:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" json:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" json:"fatal" yaml:"fatal"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" json:"level" yaml:"level"`
	Format      string      `mapstructure:"format" json:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" json:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" json:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" json:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" json:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" json:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" json:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" json:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" json:"colors" yaml:"colors"`
}

// PostgresConfig holds settings for the optional snapshot store. An empty URL
// disables persistence entirely.
type PostgresConfig struct {
	URL string `mapstructure:"url"`
}

// BatchConfig holds the instance defaults for the batch generation engine.
// Every field can be overridden per call through batch.Options.
type BatchConfig struct {
	Concurrency       int           `mapstructure:"concurrency"`
	ChunkSize         int           `mapstructure:"chunk_size"`
	MaxPerSecond      int           `mapstructure:"max_per_second"`
	BurstSize         int           `mapstructure:"burst_size"`
	CacheTTL          time.Duration `mapstructure:"cache_ttl"`
	CacheMaxSize      int           `mapstructure:"cache_max_size"`
	CacheSweepEvery   time.Duration `mapstructure:"cache_sweep_every"`
	EnableCache       bool          `mapstructure:"enable_cache"`
	EnableValidation  bool          `mapstructure:"enable_validation"`
	EnableFingerprint bool          `mapstructure:"enable_fingerprint"`
	UniqueStats       bool          `mapstructure:"unique_stats"`
}

// PoolConfig holds settings for the node pool distribution engine.
type PoolConfig struct {
	Size              int                `mapstructure:"size"`
	Floor             int                `mapstructure:"floor"`
	MinActive         int                `mapstructure:"min_active"`
	Strategy          string             `mapstructure:"strategy"`
	MaxRequestsPerUA  int                `mapstructure:"max_requests_per_ua"`
	CooldownPeriod    time.Duration      `mapstructure:"cooldown_period"`
	AdaptiveThreshold float64            `mapstructure:"adaptive_threshold"`
	HealthEvery       time.Duration      `mapstructure:"health_every"`
	MaxIdle           time.Duration      `mapstructure:"max_idle"`
	JitterFactor      float64            `mapstructure:"jitter_factor"`
	Regions           []string           `mapstructure:"regions"`
	RegionWeights     map[string]float64 `mapstructure:"region_weights"`
	Burst             BurstConfig        `mapstructure:"burst"`
	Stealth           StealthConfig      `mapstructure:"stealth"`
	SnapshotEnabled   bool               `mapstructure:"snapshot_enabled"`
}

// BurstConfig tunes the burst-control selection strategy.
type BurstConfig struct {
	Window       time.Duration `mapstructure:"window"`
	MaxPerWindow int           `mapstructure:"max_per_window"`
	Recovery     time.Duration `mapstructure:"recovery"`
}

// StealthConfig tunes the stealth selection strategy's jittered sleep.
type StealthConfig struct {
	MinDelay time.Duration `mapstructure:"min_delay"`
	MaxDelay time.Duration `mapstructure:"max_delay"`
}

// PacingConfig holds settings for the statistical timing model.
type PacingConfig struct {
	Distribution string `mapstructure:"distribution"`
	HistorySize  int    `mapstructure:"history_size"`
	SessionDrift bool   `mapstructure:"session_drift"`
}

// SetDefaults registers the default value tree so the app can run with a
// minimal (or absent) config file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "shadow-ua")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 28)
	v.SetDefault("logger.colors.debug", "magenta")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.fatal", "red")

	v.SetDefault("batch.concurrency", 10)
	v.SetDefault("batch.chunk_size", 50)
	v.SetDefault("batch.max_per_second", 100)
	v.SetDefault("batch.burst_size", 20)
	v.SetDefault("batch.cache_ttl", 5*time.Minute)
	v.SetDefault("batch.cache_max_size", 1000)
	v.SetDefault("batch.cache_sweep_every", time.Minute)
	v.SetDefault("batch.enable_cache", true)
	v.SetDefault("batch.enable_validation", true)
	v.SetDefault("batch.enable_fingerprint", true)
	v.SetDefault("batch.unique_stats", false)

	v.SetDefault("pool.size", 50)
	v.SetDefault("pool.floor", 20)
	v.SetDefault("pool.min_active", 10)
	v.SetDefault("pool.strategy", "adaptive")
	v.SetDefault("pool.max_requests_per_ua", 100)
	v.SetDefault("pool.cooldown_period", 5*time.Minute)
	v.SetDefault("pool.adaptive_threshold", 0.3)
	v.SetDefault("pool.health_every", time.Minute)
	v.SetDefault("pool.max_idle", 24*time.Hour)
	v.SetDefault("pool.jitter_factor", 0.3)
	v.SetDefault("pool.regions", []string{"us-east", "us-west", "eu-west", "eu-central", "ap-south"})
	v.SetDefault("pool.burst.window", time.Minute)
	v.SetDefault("pool.burst.max_per_window", 10)
	v.SetDefault("pool.burst.recovery", 5*time.Second)
	v.SetDefault("pool.stealth.min_delay", 50*time.Millisecond)
	v.SetDefault("pool.stealth.max_delay", 250*time.Millisecond)
	v.SetDefault("pool.snapshot_enabled", false)

	v.SetDefault("pacing.distribution", "normal")
	v.SetDefault("pacing.history_size", 100)
	v.SetDefault("pacing.session_drift", true)
}

// Validate checks the loaded configuration for values that would make the
// engines unusable. Violations here are fatal at startup.
func (c *Config) Validate() error {
	if c.Batch.Concurrency <= 0 {
		return fmt.Errorf("batch.concurrency must be a positive integer")
	}
	if c.Batch.ChunkSize <= 0 {
		return fmt.Errorf("batch.chunk_size must be a positive integer")
	}
	if c.Batch.MaxPerSecond < 0 {
		return fmt.Errorf("batch.max_per_second must not be negative")
	}
	if c.Batch.MaxPerSecond > 0 && c.Batch.BurstSize <= 0 {
		return fmt.Errorf("batch.burst_size must be a positive integer when rate limiting is enabled")
	}
	if c.Pool.Size <= 0 {
		return fmt.Errorf("pool.size must be a positive integer")
	}
	if c.Pool.Floor < 0 || c.Pool.Floor > c.Pool.Size {
		return fmt.Errorf("pool.floor must be between 0 and pool.size")
	}
	if c.Pool.MaxRequestsPerUA <= 0 {
		return fmt.Errorf("pool.max_requests_per_ua must be a positive integer")
	}
	if c.Pool.AdaptiveThreshold < 0 || c.Pool.AdaptiveThreshold > 1 {
		return fmt.Errorf("pool.adaptive_threshold must be within [0, 1]")
	}
	if c.Pool.SnapshotEnabled && c.Postgres.URL == "" {
		return fmt.Errorf("postgres.url is required when pool.snapshot_enabled is set")
	}
	if c.Pacing.HistorySize <= 0 {
		return fmt.Errorf("pacing.history_size must be a positive integer")
	}
	return nil
}

// Load initializes the configuration singleton from Viper.
func Load(v *viper.Viper) error {
	once.Do(func() {
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			loadErr = fmt.Errorf("error unmarshaling config: %w", err)
			return
		}
		instance = &cfg
	})
	return loadErr
}

// Set stores a fully built configuration as the global instance. The command
// layer uses this after unmarshaling and validating on its own viper.
func Set(cfg *Config) {
	instance = cfg
}

// Get returns the loaded configuration instance.
func Get() *Config {
	if instance == nil {
		panic("Configuration not initialized. Call config.Load() in the root command.")
	}
	return instance
}
