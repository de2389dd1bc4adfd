package main

import (
	"github.com/spf13/cobra"

	"adbsession/adb/adbhost"
)

var killServerCmd = &cobra.Command{
	Use:   "kill-server",
	Short: "Ask the host server to quit",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return adbhost.Kill(cmd.Context(), dialer())
	},
}

func init() {
	root.AddCommand(killServerCmd)
}
