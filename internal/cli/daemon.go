package cli

import (
	"github.com/spf13/cobra"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Take a snapshot on every scheduler interval",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Daemon(cmd.Context())
	},
}
