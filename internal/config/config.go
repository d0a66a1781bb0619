// Package config provides configuration management for promptweave using
// Viper: a promptweave.yml file, PROMPTWEAVE_-prefixed environment variable
// overrides, and command-line flags bound by the CLI layer. Defaults are
// applied in Load and validated explicitly.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration.
type Config struct {
	// Locations are the prompt location patterns: directories, single
	// files, or zip archives ("prompts.zip!team/").
	Locations []string     `yaml:"locations" mapstructure:"locations"`
	Watch     WatchConfig  `yaml:"watch" mapstructure:"watch"`
	Cache     CacheConfig  `yaml:"cache" mapstructure:"cache"`
	Parser    ParserConfig `yaml:"parser" mapstructure:"parser"`
	Server    ServerConfig `yaml:"server" mapstructure:"server"`
	Log       LogConfig    `yaml:"log" mapstructure:"log"`
}

// WatchConfig controls the file watcher.
type WatchConfig struct {
	// DebounceDelay is the quiet period after the last file event before
	// a change batch settles.
	DebounceDelay time.Duration `yaml:"debounce_delay" mapstructure:"debounce_delay"`
}

// CacheConfig controls the compiled-artifact cache.
type CacheConfig struct {
	MaxSize    int           `yaml:"max_size" mapstructure:"max_size"`
	IdleExpiry time.Duration `yaml:"idle_expiry" mapstructure:"idle_expiry"`
}

// ParserConfig controls definition parsing.
type ParserConfig struct {
	MaxFileSize int64 `yaml:"max_file_size" mapstructure:"max_file_size"`
}

// ServerConfig controls the serve command's HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host" mapstructure:"host"`
	Port int    `yaml:"port" mapstructure:"port"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `yaml:"format" mapstructure:"format"` // text or json
}

// Load reads configuration from viper's current state and applies defaults.
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if len(cfg.Locations) == 0 {
		cfg.Locations = viper.GetStringSlice("locations")
	}
	if len(cfg.Locations) == 0 {
		cfg.Locations = []string{"./prompts"}
	}
	if cfg.Watch.DebounceDelay == 0 {
		cfg.Watch.DebounceDelay = 500 * time.Millisecond
	}
	if cfg.Cache.MaxSize == 0 {
		cfg.Cache.MaxSize = 10_000
	}
	if cfg.Cache.IdleExpiry == 0 {
		cfg.Cache.IdleExpiry = 24 * time.Hour
	}
	if cfg.Parser.MaxFileSize == 0 {
		cfg.Parser.MaxFileSize = 10 * 1024 * 1024
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 7433
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	if c.Watch.DebounceDelay < 0 {
		return fmt.Errorf("watch.debounce_delay must not be negative")
	}
	if c.Cache.MaxSize < 0 {
		return fmt.Errorf("cache.max_size must not be negative")
	}
	if c.Parser.MaxFileSize < 0 {
		return fmt.Errorf("parser.max_file_size must not be negative")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format %q is not text or json", c.Log.Format)
	}
	return nil
}
