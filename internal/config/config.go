package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/mitchelldurbincs/DentalScannerEnv/internal/env/core"
)

// Config holds all configuration for the application
type Config struct {
	Env        EnvConfig        `mapstructure:"env"`
	Server     ServerConfig     `mapstructure:"server"`
	Experience ExperienceConfig `mapstructure:"experience"`
	Rollout    RolloutConfig    `mapstructure:"rollout"`
}

// EnvConfig describes the grid, its rewards and episode limits
type EnvConfig struct {
	Layout           []string      `mapstructure:"layout"`
	Rewards          RewardsConfig `mapstructure:"rewards"`
	Limits           LimitsConfig  `mapstructure:"limits"`
	RetryLimitPolicy string        `mapstructure:"retry_limit_policy"`
}

// RewardsConfig holds the reward for entering each kind of cell
type RewardsConfig struct {
	Neutral     float64 `mapstructure:"neutral"`
	Start       float64 `mapstructure:"start"`
	Goal        float64 `mapstructure:"goal"`
	Hazard      float64 `mapstructure:"hazard"`
	Issue       float64 `mapstructure:"issue"`
	Engaged     float64 `mapstructure:"engaged"`
	InvalidMove float64 `mapstructure:"invalid_move"`
	RetryLimit  float64 `mapstructure:"retry_limit"`
}

// LimitsConfig bounds an episode
type LimitsConfig struct {
	MaxRetries        int `mapstructure:"max_retries"`
	MaxInvalidActions int `mapstructure:"max_invalid_actions"`
	MaxSteps          int `mapstructure:"max_steps"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	GRPC      GRPCConfig `mapstructure:"grpc"`
	HTTP      HTTPConfig `mapstructure:"http"`
	LogLevel  string     `mapstructure:"log_level"`
	LogFormat string     `mapstructure:"log_format"`
}

// GRPCConfig holds gRPC server configuration
type GRPCConfig struct {
	Host                  string `mapstructure:"host"`
	Port                  int    `mapstructure:"port"`
	MaxEnvs               int    `mapstructure:"max_envs"`
	IdleTimeout           int    `mapstructure:"idle_timeout"` // seconds, 0 disables reaping
	EnableReflection      bool   `mapstructure:"enable_reflection"`
	GracefulShutdownDelay int    `mapstructure:"graceful_shutdown_delay"`
}

// HTTPConfig holds the websocket feed listener
type HTTPConfig struct {
	Addr    string `mapstructure:"addr"`
	Enabled bool   `mapstructure:"enabled"`
}

// ExperienceConfig controls transition collection
type ExperienceConfig struct {
	BufferCapacity int    `mapstructure:"buffer_capacity"`
	Persistence    string `mapstructure:"persistence"` // none or file
	BaseDir        string `mapstructure:"base_dir"`
	MaxFileSize    int64  `mapstructure:"max_file_size"`
}

// RolloutConfig holds defaults for the rollout command
type RolloutConfig struct {
	Episodes           int   `mapstructure:"episodes"`
	MaxStepsPerEpisode int   `mapstructure:"max_steps_per_episode"`
	Seed               int64 `mapstructure:"seed"`
}

var (
	// current is swapped whole on reload so readers never see a half-written Config
	current atomic.Pointer[Config]
	v       *viper.Viper
)

// setViperDefaults sets all default values using Viper's SetDefault
func setViperDefaults(v *viper.Viper) {
	// Environment defaults
	v.SetDefault("env.layout", append([]string(nil), core.DefaultLayoutRows...))
	v.SetDefault("env.retry_limit_policy", string(core.RetryLimitOverride))

	v.SetDefault("env.rewards.neutral", 0.0)
	v.SetDefault("env.rewards.start", 0.0)
	v.SetDefault("env.rewards.goal", 10.0)
	v.SetDefault("env.rewards.hazard", -5.0)
	v.SetDefault("env.rewards.issue", 2.0)
	v.SetDefault("env.rewards.engaged", 3.0)
	v.SetDefault("env.rewards.invalid_move", -1.0)
	v.SetDefault("env.rewards.retry_limit", -10.0)

	v.SetDefault("env.limits.max_retries", 3)
	v.SetDefault("env.limits.max_invalid_actions", 3)
	v.SetDefault("env.limits.max_steps", 100)

	// Server defaults
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "console")

	v.SetDefault("server.grpc.host", "0.0.0.0")
	v.SetDefault("server.grpc.port", 50051)
	v.SetDefault("server.grpc.max_envs", 100)
	v.SetDefault("server.grpc.idle_timeout", 600)
	v.SetDefault("server.grpc.enable_reflection", true)
	v.SetDefault("server.grpc.graceful_shutdown_delay", 5)

	v.SetDefault("server.http.addr", ":8080")
	v.SetDefault("server.http.enabled", true)

	// Experience defaults
	v.SetDefault("experience.buffer_capacity", 10000)
	v.SetDefault("experience.persistence", "none")
	v.SetDefault("experience.base_dir", "./experiences")
	v.SetDefault("experience.max_file_size", 64*1024*1024)

	// Rollout defaults
	v.SetDefault("rollout.episodes", 1)
	v.SetDefault("rollout.max_steps_per_episode", 100)
	v.SetDefault("rollout.seed", 1)
}

// Init initializes the configuration
func Init(configPath string) error {
	v = viper.New()

	setViperDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/dentalscanner-env")
	}

	v.SetEnvPrefix("DSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// an explicit path that does not exist falls back to defaults
		if configPath == "" && !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := Validate(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	current.Store(c)
	return nil
}

// Get returns the global config instance
func Get() *Config {
	if c := current.Load(); c != nil {
		return c
	}
	if err := Init(""); err != nil {
		panic("failed to initialize config with defaults: " + err.Error())
	}
	return current.Load()
}

// LoadEnvironmentConfig merges config.<env>.yaml over the loaded configuration.
// A missing file is not an error.
func LoadEnvironmentConfig(env string) error {
	if env == "" {
		return nil
	}

	envFile := fmt.Sprintf("config.%s.yaml", env)
	if used := v.ConfigFileUsed(); used != "" {
		envFile = filepath.Join(filepath.Dir(used), envFile)
	}

	f, err := os.Open(envFile)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("error opening environment config %s: %w", envFile, err)
	}
	defer f.Close()

	v.SetConfigType("yaml")
	if err := v.MergeConfig(f); err != nil {
		return fmt.Errorf("error merging environment config %s: %w", envFile, err)
	}

	return reload(fmt.Sprintf("merged config %s", envFile))
}

// Set overrides a key at runtime. The override is rejected, and the previous
// values kept, when the result does not validate.
func Set(key string, value interface{}) error {
	prev := v.Get(key)
	v.Set(key, value)
	if err := reload(key); err != nil {
		v.Set(key, prev)
		return err
	}
	return nil
}

// reload decodes viper's current values and publishes them if they validate
func reload(source string) error {
	next := &Config{}
	if err := v.Unmarshal(next); err != nil {
		return fmt.Errorf("unable to decode %s: %w", source, err)
	}
	if err := Validate(next); err != nil {
		return fmt.Errorf("%s: %w", source, err)
	}
	current.Store(next)
	return nil
}

// ConfigFilePath returns the path of the loaded config file
func ConfigFilePath() string {
	return v.ConfigFileUsed()
}

// WatchConfig enables hot-reloading of the config file. A reload that fails
// validation is reported through onChange and the previous values are kept.
func WatchConfig(onChange func(*Config, error)) {
	v.OnConfigChange(func(e fsnotify.Event) {
		if err := reload(e.Name); err != nil {
			notify(onChange, nil, fmt.Errorf("reload: %w", err))
			return
		}
		notify(onChange, current.Load(), nil)
	})
	v.WatchConfig()
}

func notify(fn func(*Config, error), c *Config, err error) {
	if fn != nil {
		fn(c, err)
	}
}

// Validate validates the configuration values
func Validate(c *Config) error {
	// Environment
	if _, err := core.NewLayout(c.Env.Layout); err != nil {
		return fmt.Errorf("env.layout: %w", err)
	}
	if _, err := core.ParseRetryLimitPolicy(c.Env.RetryLimitPolicy); err != nil {
		return fmt.Errorf("env.retry_limit_policy: %w", err)
	}
	if c.Env.Limits.MaxRetries < 1 {
		return fmt.Errorf("env.limits.max_retries must be at least 1")
	}
	if c.Env.Limits.MaxInvalidActions < 1 {
		return fmt.Errorf("env.limits.max_invalid_actions must be at least 1")
	}
	if c.Env.Limits.MaxSteps < 0 {
		return fmt.Errorf("env.limits.max_steps must be non-negative")
	}

	// Server
	if c.Server.GRPC.Port <= 0 || c.Server.GRPC.Port > 65535 {
		return fmt.Errorf("server.grpc.port must be between 1 and 65535")
	}
	if c.Server.GRPC.MaxEnvs <= 0 {
		return fmt.Errorf("server.grpc.max_envs must be positive")
	}
	if c.Server.GRPC.IdleTimeout < 0 {
		return fmt.Errorf("server.grpc.idle_timeout must be non-negative")
	}
	if c.Server.GRPC.GracefulShutdownDelay < 0 {
		return fmt.Errorf("server.grpc.graceful_shutdown_delay must be non-negative")
	}
	if c.Server.HTTP.Enabled && c.Server.HTTP.Addr == "" {
		return fmt.Errorf("server.http.addr is required when server.http.enabled is set")
	}
	switch c.Server.LogFormat {
	case "console", "json":
	default:
		return fmt.Errorf("server.log_format must be console or json, got %q", c.Server.LogFormat)
	}

	// Experience
	if c.Experience.BufferCapacity <= 0 {
		return fmt.Errorf("experience.buffer_capacity must be positive")
	}
	switch c.Experience.Persistence {
	case "none":
	case "file":
		if c.Experience.BaseDir == "" {
			return fmt.Errorf("experience.base_dir is required for file persistence")
		}
	default:
		return fmt.Errorf("experience.persistence must be none or file, got %q", c.Experience.Persistence)
	}
	if c.Experience.MaxFileSize < 0 {
		return fmt.Errorf("experience.max_file_size must be non-negative")
	}

	// Rollout
	if c.Rollout.Episodes < 1 {
		return fmt.Errorf("rollout.episodes must be at least 1")
	}
	if c.Rollout.MaxStepsPerEpisode < 1 {
		return fmt.Errorf("rollout.max_steps_per_episode must be at least 1")
	}

	return nil
}
