package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"adbsession/adb"
	"adbsession/adb/adbproto"
	"adbsession/adb/adbproto/shellproto2"
	"adbsession/adblib/adbexec"
)

var shellCmd = &cobra.Command{
	Use:   "shell [command...]",
	Short: "Run a remote shell command or an interactive shell",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		srv, err := device(ctx)
		if err != nil {
			return err
		}
		command := strings.Join(args, " ")
		if !srv.SupportsFeature(adbproto.FeatureShell2) {
			return streamShell(ctx, srv, command)
		}
		if command == "" {
			if !stdinIsTTY() {
				return streamShell(ctx, srv, command)
			}
			code, err := interactiveShell(ctx, srv)
			if err != nil {
				return err
			}
			if code != 0 {
				os.Exit(code)
			}
			return nil
		}
		res, err := adbexec.Output2(ctx, srv, command, nil)
		if err != nil {
			return err
		}
		os.Stdout.Write(res.Stdout)
		os.Stderr.Write(res.Stderr)
		if res.ExitCode != 0 {
			os.Exit(res.ExitCode)
		}
		return nil
	},
}

func init() {
	root.AddCommand(shellCmd)
}

// streamShell runs a shell v1 service, copying the raw stream to and from the
// terminal. Shell v1 has no exit codes and cooks output through a pty.
func streamShell(ctx context.Context, srv adb.Dialer, command string) error {
	conn, err := adb.Shell(ctx, srv, command)
	if err != nil {
		return err
	}
	defer conn.Close()
	go io.Copy(conn, os.Stdin)
	_, err = io.Copy(os.Stdout, conn)
	return err
}

// interactiveShell runs an interactive shell v2 session on a pty, putting the
// local terminal into raw mode and forwarding window size changes.
func interactiveShell(ctx context.Context, srv adb.Dialer) (int, error) {
	var sb shellproto2.ServiceBuilder
	sb.PTY()
	sb.Term(os.Getenv("TERM"))
	sc, err := adb.Shell2(ctx, srv, sb.String())
	if err != nil {
		return 0, err
	}
	defer sc.Close()

	fd := int(os.Stdin.Fd())
	restore, err := makeRaw(fd)
	if err != nil {
		return 0, fmt.Errorf("raw mode: %w", err)
	}
	defer restore()

	// shellproto2.Conn does not allow concurrent writes, and window size
	// changes arrive on a signal goroutine.
	var wmu sync.Mutex
	write := func(id shellproto2.PacketID, data []byte) bool {
		wmu.Lock()
		defer wmu.Unlock()
		return sc.Write(id, data)
	}

	stopWinch := watchWinSize(fd, func(ws shellproto2.WinSize) {
		write(shellproto2.PacketWindowSizeChange, ws.AppendBinary(nil))
	})
	defer stopWinch()

	go func() {
		buf := make([]byte, 32*1024)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				if !write(shellproto2.PacketStdin, buf[:n]) {
					return
				}
			}
			if err != nil {
				write(shellproto2.PacketCloseStdin, nil)
				return
			}
		}
	}()

	type result struct {
		code int
		err  error
	}
	resCh := make(chan result, 1)
	go func() {
		for {
			id, data, ok := sc.Read()
			if !ok {
				resCh <- result{err: sc.Error()}
				return
			}
			switch id {
			case shellproto2.PacketStdout:
				os.Stdout.Write(data)
			case shellproto2.PacketStderr:
				os.Stderr.Write(data)
			case shellproto2.PacketExit:
				var code int
				if len(data) != 0 {
					code = int(data[0])
				}
				resCh <- result{code: code}
				return
			}
		}
	}()

	select {
	case res := <-resCh:
		return res.code, res.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}
