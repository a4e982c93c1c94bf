package cli

import (
	"github.com/spf13/cobra"
)

var preflightCmd = &cobra.Command{
	Use:   "preflight",
	Short: "Validate connectivity to all configured collaborators",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Preflight(cmd.Context())
	},
}
