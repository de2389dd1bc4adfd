package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"adbsession/adb/adbhost"
)

var connectCmd = &cobra.Command{
	Use:   "connect <host[:port]>",
	Short: "Connect to a device over TCP/IP",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := adbhost.Connect(cmd.Context(), dialer(), args[0])
		if err != nil {
			return err
		}
		fmt.Println(resp)
		return nil
	},
}

var disconnectCmd = &cobra.Command{
	Use:   "disconnect <host[:port]>",
	Short: "Disconnect a TCP/IP device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := adbhost.Disconnect(cmd.Context(), dialer(), args[0])
		if err != nil {
			return err
		}
		fmt.Println(resp)
		return nil
	},
}

func init() {
	root.AddCommand(connectCmd)
	root.AddCommand(disconnectCmd)
}
