// Package adbsync pushes files over the sync protocol.
package adbsync

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"adbsession/adb"
	"adbsession/adb/adbproto"
	"adbsession/adb/adbproto/syncproto"
	"adbsession/internal/bionic"
)

// https://cs.android.com/android/platform/superproject/main/+/main:packages/modules/adb/client/file_sync_client.cpp

// Client pushes files to a device. Each operation dials a new sync service
// connection through Server and closes it when the operation ends.
type Client struct {
	Server adb.Dialer

	// CompressionConfig contains options for compression. If nil, the default
	// is used.
	CompressionConfig *CompressionConfig
}

// PushOptions customizes a push. The zero value is a valid default.
type PushOptions struct {
	// Mode is the mode of the created file. If zero, a regular file with
	// permissions 0755.
	Mode uint32

	// ModTime is the modification time of the created file. If zero, the
	// current time.
	ModTime time.Time

	// DryRun makes the device read and discard the data instead of writing
	// the file. Requires [adbproto.FeatureSendRecv2DryRunSend].
	DryRun bool

	// Progress, if set, is called as content is handed to the connection with
	// the cumulative number of bytes written so far.
	Progress func(total int64)
}

// Push uploads the contents of src to path on the device. If the transport
// supports sendrecv_v2, the content is sent compressed using the first
// negotiable method from the compression config.
func (c *Client) Push(ctx context.Context, path string, src io.Reader, opts *PushOptions) error {
	if opts == nil {
		opts = &PushOptions{}
	}
	mode := opts.Mode
	if mode == 0 {
		mode = bionic.S_IFREG | 0o755
	}
	mtime := opts.ModTime
	if mtime.IsZero() {
		mtime = time.Now()
	}

	conn, err := c.Server.DialADB(ctx, "sync:")
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := c.send(conn, path, src, mode, mtime, opts); err != nil {
		return fmt.Errorf("push %q: %w", path, err)
	}
	syncproto.SendQuit(conn) // best-effort
	return nil
}

// PushBytes uploads data to path on the device.
func (c *Client) PushBytes(ctx context.Context, path string, data []byte, opts *PushOptions) error {
	return c.Push(ctx, path, bytes.NewReader(data), opts)
}

// PushFile uploads the local file at src to path on the device, carrying
// over its permissions and modification time unless opts overrides them.
func (c *Client) PushFile(ctx context.Context, path, src string, opts *PushOptions) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()
	if opts == nil {
		opts = &PushOptions{}
	}
	if opts.Mode == 0 || opts.ModTime.IsZero() {
		st, err := f.Stat()
		if err != nil {
			return err
		}
		o := *opts
		if o.Mode == 0 {
			o.Mode = bionic.S_IFREG | uint32(st.Mode().Perm())
		}
		if o.ModTime.IsZero() {
			o.ModTime = st.ModTime()
		}
		opts = &o
	}
	return c.Push(ctx, path, f, opts)
}

func (c *Client) send(conn net.Conn, path string, src io.Reader, mode uint32, mtime time.Time, opts *PushOptions) error {
	var flags uint32
	method := c.CompressionConfig.compressNegotiate(c.Server)
	if adb.SupportsFeature(c.Server, adbproto.FeatureSendRecv2) != nil {
		method = compressionMethodNone
	}
	if method != compressionMethodNone {
		flags |= method.syncFlag()
	}
	if opts.DryRun {
		if err := adb.SupportsFeature(c.Server, adbproto.FeatureSendRecv2DryRunSend); err != nil {
			return err
		}
		flags |= syncproto.SendFlagDryRun
	}

	if flags != 0 {
		if err := syncproto.SendSend2(conn, path, mode, flags); err != nil {
			return err
		}
	} else {
		if err := syncproto.SendRequest(conn, syncproto.PacketSend, fmt.Appendf(nil, "%s,%d", path, mode)); err != nil {
			return err
		}
	}

	dw := syncproto.NewDataWriter(conn, mtime.Unix())
	var w io.Writer = dw
	var compressor io.WriteCloser
	if method != compressionMethodNone {
		var err error
		compressor, err = c.CompressionConfig.compress(method, dw)
		if err != nil {
			return err
		}
		w = compressor
	}
	if opts.Progress != nil {
		w = &progressWriter{w: w, fn: opts.Progress}
	}

	if _, err := io.Copy(w, src); err != nil {
		return err
	}
	if compressor != nil {
		if err := compressor.Close(); err != nil {
			return err
		}
	}
	if err := dw.Close(); err != nil {
		return err
	}
	return syncproto.ReadResponse(conn)
}

type progressWriter struct {
	w     io.Writer
	fn    func(int64)
	total int64
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.total += int64(n)
	p.fn(p.total)
	return n, err
}
