package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"adbsession/adb/adbhost"
)

// Version is the version of this client, overridable at link time.
var Version = "0.1.0"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the client and server versions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("adbsession %s\n", Version)
		v, err := adbhost.ServerVersion(cmd.Context(), dialer())
		if err != nil {
			return err
		}
		fmt.Printf("adb server version %d\n", v)
		return nil
	},
}

func init() {
	root.AddCommand(versionCmd)
}
