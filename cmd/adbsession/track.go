package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"adbsession/adb/adbhost"
)

var trackLong bool

var trackCmd = &cobra.Command{
	Use:   "track-devices",
	Short: "Continuously report changes to the device list",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var err error
		for devs := range adbhost.TrackDevices(cmd.Context(), dialer(), trackLong)(&err) {
			printDevices(devs, trackLong)
			fmt.Println()
		}
		if cmd.Context().Err() != nil {
			return nil
		}
		return err
	},
}

func init() {
	trackCmd.Flags().BoolVarP(&trackLong, "long", "l", false, "show bus addresses, device attributes, and transport ids")
	root.AddCommand(trackCmd)
}
