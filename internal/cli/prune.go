package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"pastel-deals/internal/app"
)

var pruneOlderThan time.Duration

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete deal records older than the cutoff",
	RunE: func(cmd *cobra.Command, args []string) error {
		if pruneOlderThan <= 0 {
			return fmt.Errorf("--older-than must be greater than zero")
		}

		opts := app.PruneOptions{
			OlderThan: pruneOlderThan,
		}

		return getApp().PruneOnce(cmd.Context(), opts)
	},
}

func init() {
	pruneCmd.Flags().DurationVar(&pruneOlderThan, "older-than", 720*time.Hour, "Delete records older than this duration")
}
