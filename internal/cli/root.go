// Package cli defines the cobra command tree. Every command builds its App
// lazily through PersistentPreRunE so config loading and logger construction
// happen exactly once.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"pastel-deals/internal/app"
	"pastel-deals/internal/config"
	"pastel-deals/internal/logging"
)

var (
	cfgFile   string
	logLevel  string
	appHandle *app.App
)

var rootCmd = &cobra.Command{
	Use:           "pastel",
	Short:         "Post new gaming deals into a Matrix room",
	Long:          "Pastel polls CheapShark, IsThereAnyDeal, and the Epic Games Store for new deals,\ndedupes them against a local database, and posts them into a Matrix room.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if appHandle != nil {
			return nil
		}

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}

		appHandle = app.NewApp(cfg, logging.NewLogger(cfg.Logging))
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level defined in config")

	rootCmd.AddCommand(runCmd, preflightCmd, showCmd, pruneCmd, versionCmd)
}

func getApp() *app.App {
	if appHandle == nil {
		panic("application not initialized; PersistentPreRunE not executed")
	}
	return appHandle
}
