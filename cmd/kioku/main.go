// Package main is the kioku CLI entry point.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/cli"
	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/pkg/utils"
)

// version is set at build time via ldflags.
var version = "dev"

const defaultConfigPath = "/usr/local/etc/kioku/config.yaml"

// rootCmd is the base command for the kioku CLI.
var rootCmd = &cobra.Command{
	Use:   "kioku",
	Short: "Spaced-repetition scheduler with hybrid card search",
	Long: `kioku schedules flash card reviews with SM-2, optionally adjusted by a knowledge
graph of related cards, and searches cards with a lexical and vector hybrid.

Run "kioku server" for the HTTP API and deck directory watcher. The other commands talk to
a running server when --server is set (or KIOKU_SERVER), and open the stores directly
otherwise.`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initViper)

	rootCmd.PersistentFlags().String("config", defaultConfigPath, "config file path")
	rootCmd.PersistentFlags().String("server", "", "server URL, e.g. http://localhost:8090 (empty = open the stores directly)")
	rootCmd.PersistentFlags().String("output", "text", "output format: text or json")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))
}

func initViper() {
	viper.SetEnvPrefix(config.EnvPrefix)
	viper.AutomaticEnv()
}

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development) and falls back to built-in
// defaults when neither file exists. Returns the config and the path that was actually
// loaded, empty when defaults were used.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
			cfg, err := config.Default()
			return cfg, "", err
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// commandConfig loads the config named by the --config flag and builds a logger for it.
func commandConfig(cmd *cobra.Command, serverLogger bool) (*config.Config, string, *zap.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, resolved, err := loadConfig(path)
	if err != nil {
		return nil, "", nil, fmt.Errorf("failed to load config: %w", err)
	}
	debug, _ := cmd.Flags().GetBool("debug")
	cfg.Debug = cfg.Debug || debug
	var logger *zap.Logger
	if serverLogger {
		logger, err = utils.NewLogger(cfg.Debug)
	} else {
		logger, err = utils.NewCLILogger(cfg.Debug)
	}
	if err != nil {
		return nil, "", nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, resolved, logger, nil
}

// openBackend returns the HTTP backend when a server URL is configured, otherwise the
// stores opened directly.
func openBackend(cmd *cobra.Command) (backend, *config.Config, error) {
	cfg, _, logger, err := commandConfig(cmd, false)
	if err != nil {
		return nil, nil, err
	}
	if url := viper.GetString("server"); url != "" {
		return newHTTPBackend(url), cfg, nil
	}
	components, err := initializeComponents(cfg, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize: %w", err)
	}
	return newLocalBackend(components), cfg, nil
}

func outputFormat() cli.OutputFormat {
	return cli.ParseFormat(viper.GetString("output"))
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
