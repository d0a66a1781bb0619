// Package cmd provides the command-line interface for promptweave.
//
// Configuration is layered through Viper with clear precedence:
//  1. Command-line flags (--port, --log-level, ...) - highest priority
//  2. PROMPTWEAVE_-prefixed environment variables (PROMPTWEAVE_SERVER_PORT, ...)
//  3. The promptweave.yml configuration file - lowest priority
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/promptweave/internal/config"
	"github.com/conneroisu/promptweave/internal/logging"
	"github.com/conneroisu/promptweave/internal/manager"
	"github.com/conneroisu/promptweave/internal/metrics"
	"github.com/conneroisu/promptweave/internal/source"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "promptweave",
	Short: "A live, queryable registry of named prompt templates",
	Long: `Promptweave manages a set of named prompt templates loaded from YAML,
JSON, and Markdown files, with Mustache rendering, cached compilation,
partial-aware dependency tracking, and debounced hot reload when the
backing files change.

Quick Start:
  promptweave list                          List defined prompts
  promptweave render greeting --var name=x  Render a prompt
  promptweave validate                      Check every definition compiles
  promptweave serve                         Start the HTTP/WebSocket server`,
}

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is promptweave.yml)")
	rootCmd.PersistentFlags().StringSlice("locations", nil, "prompt locations: directories, files, or archives (dir, file.yaml, prompts.zip!team/)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	_ = viper.BindPFlag("locations", rootCmd.PersistentFlags().Lookup("locations"))
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig wires the configuration sources before any command runs.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("PROMPTWEAVE_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("promptweave")
	}

	viper.SetEnvPrefix("PROMPTWEAVE")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// newLogger builds the logger from the loaded configuration.
func newLogger(cfg *config.Config) logging.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return logging.New(&logging.Config{
		Level:  level,
		Format: strings.ToLower(cfg.Log.Format),
		Output: os.Stderr,
	})
}

// newManager builds the full pipeline from the loaded configuration: parser,
// indexed source over the configured locations, then the manager.
func newManager(cfg *config.Config, logger logging.Logger) (*manager.Manager, error) {
	src, err := source.New(source.Options{
		Locations:     cfg.Locations,
		DebounceDelay: cfg.Watch.DebounceDelay,
		MaxFileSize:   cfg.Parser.MaxFileSize,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("opening prompt sources: %w", err)
	}

	mgr := manager.New(src, manager.Options{
		Logger:          logger,
		Recorder:        metrics.NewSlogRecorder(logger),
		CacheMaxSize:    cfg.Cache.MaxSize,
		CacheIdleExpiry: cfg.Cache.IdleExpiry,
	})
	return mgr, nil
}
