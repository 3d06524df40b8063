// Package cli wires the cgmrisk command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/okian/cgmrisk/internal/config"
	"github.com/okian/cgmrisk/pkg/logger"
)

var (
	cfgFile  string
	logLevel string
	cfg      *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "cgmrisk",
	Short:         "Glucose spike risk: dataset builder and prediction service",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfg != nil {
			return nil
		}
		// Logs go to stderr so stdout stays usable for command output.
		if err := logger.InitWithWriter(cmd.ErrOrStderr()); err != nil {
			return err
		}

		loaded, err := config.LoadFile(cmd.Context(), cfgFile)
		if err != nil {
			return err
		}
		if logLevel != "" {
			loaded.LogLevel = logLevel
		}
		if err := logger.SetLevelString(loaded.LogLevel); err != nil {
			logger.Get().Warn(cmd.Context(), "invalid log_level; falling back to info",
				logger.String("log_level", loaded.LogLevel), logger.Error(err))
			_ = logger.SetLevelString("info")
		}
		cfg = loaded
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to YAML configuration file (defaults to $CGMRISK_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level defined in config")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(trainCmd)
	rootCmd.AddCommand(plotCmd)
	rootCmd.AddCommand(synthCmd)
	rootCmd.AddCommand(versionCmd)
}

func getConfig() *config.Config {
	if cfg == nil {
		panic("configuration not loaded; PersistentPreRunE not executed")
	}
	return cfg
}
