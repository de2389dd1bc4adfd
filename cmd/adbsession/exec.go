package main

import (
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"adbsession/adblib/adbexec"
)

var execStdin bool

var execCmd = &cobra.Command{
	Use:   "exec <command> [arg...]",
	Short: "Run a command on the device with raw, unmangled output",
	Long: `Exec runs a command on the device over the exec service, which does not
allocate a pty and so does not mangle binary output. The arguments are joined
with spaces and interpreted by the device shell; use quoting to preserve
argument boundaries.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		srv, err := device(cmd.Context())
		if err != nil {
			return err
		}
		var input io.Reader
		if execStdin {
			input = os.Stdin
		}
		out, err := adbexec.Output(cmd.Context(), srv, strings.Join(args, " "), input)
		os.Stdout.Write(out)
		return err
	},
}

func init() {
	execCmd.Flags().BoolVarP(&execStdin, "stdin", "i", false, "forward standard input to the command")
	root.AddCommand(execCmd)
}
