// Package cmd provides the msssg command-line interface.
//
// Configuration is read from several sources, highest priority first:
//
//  1. Command-line flags (--log-level, --notify-addr, ...)
//  2. MSSSG_<SECTION>_<OPTION> environment variables (MSSSG_BUILD_OUTPUT)
//  3. The configuration file: --config, else MSSSG_CONFIG_FILE, else
//     .msssg.yml in the working directory
//  4. Built-in defaults
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/msssg/internal/config"
	"github.com/conneroisu/msssg/internal/logging"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "msssg",
	Short: "A static site generator for content-addressed site bundles",
	Long: `msssg builds a site bundle from a manifest of URIs.

Every file is stored once by content hash with precompressed encodings,
images referenced from markup are rendered into responsive variants, and
URIs that disappear between builds turn into redirects or deletions.

Quick Start:
  msssg validate      Check the manifest and configuration
  msssg build         Build the bundle into the output directory
  msssg watch         Rebuild whenever a source file changes
  msssg clean         Remove the bundle and build caches`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is .msssg.yml, can also use MSSSG_CONFIG_FILE env var)")
	flags.StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text, json)")

	bindFlags(flags, map[string]string{
		"log-level":  "log_level",
		"log-format": "log_format",
	})
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("MSSSG_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".msssg")
	}

	viper.SetEnvPrefix("MSSSG")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// A missing file is fine; everything has a default.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// loadConfig reads the configuration and builds the logger it asks for.
func loadConfig() (*config.Config, logging.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return nil, nil, err
	}

	return cfg, logger, nil
}

func newLogger(cfg *config.Config) (logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	return logging.NewLogger(&logging.LoggerConfig{
		Level:  level,
		Format: cfg.LogFormat,
		Output: os.Stderr,
	}), nil
}
