package main

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/table"
	"github.com/spf13/cobra"

	"adbsession/adb/adbhost"
)

var devicesLong bool

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List devices known to the host server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		devs, err := adbhost.Devices(cmd.Context(), dialer(), devicesLong)
		if err != nil {
			return err
		}
		printDevices(devs, devicesLong)
		return nil
	},
}

func init() {
	devicesCmd.Flags().BoolVarP(&devicesLong, "long", "l", false, "show bus addresses, device attributes, and transport ids")
	root.AddCommand(devicesCmd)
}

func printDevices(devs []*adbhost.Device, long bool) {
	if !long {
		for _, dev := range devs {
			fmt.Printf("%s\t%s\n", dev.Serial, dev.State)
		}
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Serial", "State", "Bus", "Product", "Model", "Device", "Transport"})
	for _, dev := range devs {
		t.AppendRow(table.Row{dev.Serial, dev.State, dev.BusAddress, dev.Product, dev.Model, dev.Device, uint64(dev.Transport)})
	}
	t.Render()
}
