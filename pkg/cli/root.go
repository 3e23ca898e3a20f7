// Package cli wires the clinops command tree: env file editing, secret
// syncing against Google Secret Manager, credential scanning, deploys,
// task coordination, and icon generation.
package cli

import (
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/mlowell/clinops/pkg/config"
	"github.com/mlowell/clinops/pkg/logging"
)

var (
	cfg *config.Config
	log *slog.Logger

	cfgFile   string
	logLevel  string
	logFormat string
	envFile   string
	assumeYes bool
)

var rootCmd = &cobra.Command{
	Use:   "clinops",
	Short: "Operations tooling for the clinic scheduling app",
	Long: `clinops is the ops companion for the clinic scheduling app: it keeps
the local .env file and Google Secret Manager in agreement, blocks
credentials from being committed, drives Cloud Run, Cloud Functions and
Firebase Hosting deploys, and coordinates work through a Vikunja tracker.`,
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		// Flags beat config file and environment.
		if cmd.Flags().Changed("log-level") {
			cfg.LogLevel = logLevel
		}
		if cmd.Flags().Changed("log-format") {
			cfg.LogFormat = logFormat
		}
		if cmd.Flags().Changed("env-file") {
			cfg.EnvFile = envFile
		}
		log, err = logging.Setup(cfg.LogLevel, cfg.LogFormat)
		if err != nil {
			return err
		}
		slog.SetDefault(log)
		return nil
	},
}

func init() {
	// Accept --log_level as a synonym for --log-level and so on.
	rootCmd.PersistentFlags().SetNormalizeFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default .clinops.yml, then ~/.config/clinops)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format: text or json")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "path to the env file")
	rootCmd.PersistentFlags().BoolVarP(&assumeYes, "yes", "y", false, "skip confirmation prompts")
}

// Execute runs the command tree.
func Execute() error {
	return rootCmd.Execute()
}
