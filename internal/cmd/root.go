// Package cmd implements the maestro command line interface.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/maestro-cli/maestro/internal/config"
	"github.com/maestro-cli/maestro/internal/errors"
	"github.com/maestro-cli/maestro/internal/logging"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "maestro",
	Short: "Orchestrate autonomous coding agents over isolated git worktrees",
	Long: `Maestro executes task plans wave by wave. Each task runs in its own
git worktree, passes a build, lint, test, and review verification loop,
and escalates to a human when automated fixing cannot converge.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: "+config.ConfigFile()+")")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

// initConfig wires viper: defaults, the YAML config file, and MAESTRO_*
// environment overrides (MAESTRO_QA_MAX_ITERATIONS and friends).
func initConfig() {
	config.SetDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(config.ConfigDir())
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("MAESTRO")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file means defaults; anything else is worth a
		// warning but should not block the command.
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "maestro: reading config: %v\n", err)
		}
	}
}

// newLogger builds the logger from configuration. Disabled logging maps
// to the no-op logger so downstream code never checks for nil.
func newLogger(cfg *config.Config) (*logging.Logger, error) {
	if !cfg.Logging.Enabled {
		return logging.NopLogger(), nil
	}
	return logging.NewLogger(cfg.Logging.Dir, cfg.Logging.Level)
}

// workingDir returns the directory maestro operates in.
func workingDir() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("determine working directory: %w", err)
	}
	return dir, nil
}
