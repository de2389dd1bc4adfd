// Package adbexec implements a high-level interface around the shell and
// exec services.
package adbexec

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"adbsession/adb"
	"adbsession/adb/adbproto/shellproto2"
	"adbsession/internal/android"
)

// Quote quotes arguments for the shell.
func Quote(args ...string) string {
	return android.QuoteShell(args...)
}

// Output returns the output of [adb.Exec] for the specified command, with
// stdout and stderr merged. The command will be interpreted by
// /system/bin/sh -c; use [Quote] to escape arguments. If input is not nil,
// it is written to the command's standard input. On error, any output
// received so far is returned. An empty command returns [adb.ErrNoCommand]
// without dialing.
func Output(ctx context.Context, srv adb.Dialer, command string, input io.Reader) ([]byte, error) {
	if command == "" {
		return nil, adb.ErrNoCommand
	}
	conn, err := adb.Exec(ctx, srv, command)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	context.AfterFunc(ctx, func() {
		conn.Close() // this will interrupt the input/output copy
	})

	inputErrCh := make(chan error, 1)
	go func() {
		defer close(inputErrCh)
		var err error
		if input != nil {
			_, err = io.Copy(conn, input)
		}
		inputErrCh <- err
	}()

	var buf bytes.Buffer
	_, outputErr := io.Copy(&buf, conn)

	inputErr := <-inputErrCh // wait for the input copying to finish
	if err := ctx.Err(); err != nil {
		return buf.Bytes(), err // if the context was cancelled, that error takes precedence
	}
	if err := inputErr; err != nil {
		return buf.Bytes(), fmt.Errorf("write stdin: %w", err) // stdin errors first since they could be caused by the input reader failing
	}
	if err := outputErr; err != nil {
		return buf.Bytes(), fmt.Errorf("read stdout: %w", err) // output errors would only be caused by a connection close or by a network error, so check for it last
	}
	return buf.Bytes(), nil
}

// Result is the outcome of a shell v2 command.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Output2 runs command over shell v2 without a pty, giving separate stdout
// and stderr streams and the command's exit code. The dialer must support
// [adbproto.FeatureShell2]. If input is not nil, it is written to the
// command's standard input. An empty command returns [adb.ErrNoCommand]
// without dialing.
func Output2(ctx context.Context, srv adb.Dialer, command string, input io.Reader) (*Result, error) {
	if command == "" {
		return nil, adb.ErrNoCommand
	}
	var sb shellproto2.ServiceBuilder
	sb.Raw()
	sb.Command(command)
	sc, err := adb.Shell2(ctx, srv, sb.String())
	if err != nil {
		return nil, err
	}
	defer sc.Close()

	context.AfterFunc(ctx, func() {
		sc.Close()
	})

	go func() {
		if input != nil {
			buf := make([]byte, 32*1024)
			for {
				n, rerr := input.Read(buf)
				if n > 0 {
					if !sc.Write(shellproto2.PacketStdin, buf[:n]) {
						return
					}
				}
				if rerr != nil {
					break
				}
			}
		}
		sc.Write(shellproto2.PacketCloseStdin, nil)
	}()

	res := &Result{ExitCode: -1}
	for {
		id, data, ok := sc.Read()
		if !ok {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			return res, fmt.Errorf("read shell packet: %w", sc.Error())
		}
		switch id {
		case shellproto2.PacketStdout:
			res.Stdout = append(res.Stdout, data...)
		case shellproto2.PacketStderr:
			res.Stderr = append(res.Stderr, data...)
		case shellproto2.PacketExit:
			if len(data) != 0 {
				res.ExitCode = int(data[0])
			}
			return res, nil
		}
	}
}
