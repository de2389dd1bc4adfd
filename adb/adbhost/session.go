package adbhost

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"adbsession/adb"
	"adbsession/adb/adbproto"
	"adbsession/adb/adbproto/syncproto"
	"adbsession/internal/bionic"
)

// Session is a single connection to the ADB host server speaking the framed
// text protocol. Each session carries one chain of requests: typically a
// transport selection followed by one service. Errors are sticky; once an
// operation fails, the session must be discarded and a new one dialed.
//
// A Session is not safe for concurrent use.
type Session struct {
	conn     net.Conn
	err      error // sticky
	consumed bool  // conn handed over by Stream
	closed   bool
}

// ErrSessionConsumed is returned by framed operations after [Session.Stream]
// has converted the session into a raw stream.
var ErrSessionConsumed = errors.New("session converted to raw stream")

// RawStream is a connection which has been repurposed as a raw byte stream by
// a service such as exec. It no longer speaks the framed protocol.
type RawStream struct {
	net.Conn
}

// https://cs.android.com/android/platform/superproject/main/+/main:packages/modules/adb/adb_io.cpp;l=68-75;drc=90228a63bb6a59e8195165fbb7c332be27459696

// Service issues a request for svc and reads the status reply. A FAIL reply
// is returned as an error matching [adbproto.ErrServer] with the message the
// server sent. The context deadline and cancellation apply to this exchange
// only; they do not affect the connection afterwards.
func (s *Session) Service(ctx context.Context, svc string) error {
	if err := s.usable(); err != nil {
		return err
	}
	ch := make(chan error, 1)
	go func() (err error) {
		defer func() { ch <- err }()
		if deadline, ok := ctx.Deadline(); ok {
			s.conn.SetDeadline(deadline)
			defer s.conn.SetDeadline(time.Time{})
		}
		if err := adbproto.SendServiceString(s.conn, svc); err != nil {
			return err
		}
		return adbproto.ReadOkayFail(s.conn)
	}()
	select {
	case err := <-ch:
		if err != nil {
			s.err = err
			return err
		}
	case <-ctx.Done():
		s.err = ctx.Err()
		return s.err
	}
	return nil
}

// ReadResponse reads a single hex-length-prefixed response payload. A zero
// length yields an empty payload without reading further.
func (s *Session) ReadResponse() ([]byte, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	buf, err := adbproto.ReadHexBytes(s.conn, nil)
	if err != nil {
		s.err = err
		return nil, err
	}
	return buf, nil
}

// Transport selects the transport for subsequent services on this session.
// The selector is resolved entirely by the server; nothing is validated
// locally.
func (s *Session) Transport(ctx context.Context, t Transport) error {
	svc := t.transport()
	if svc == "" {
		return errors.New("invalid transport")
	}
	return s.Service(ctx, svc)
}

// Device selects the device with the given serial, or any device if the
// serial is empty.
func (s *Session) Device(ctx context.Context, serial Serial) error {
	if serial == "" {
		return s.Transport(ctx, TransportAny)
	}
	return s.Transport(ctx, serial)
}

// USBDevice selects the device connected over USB. It fails if there is more
// than one.
func (s *Session) USBDevice(ctx context.Context) error {
	return s.Transport(ctx, TransportUSB)
}

// Emulator selects the device connected over a local socket, i.e. a running
// emulator. It fails if there is more than one.
func (s *Session) Emulator(ctx context.Context) error {
	return s.Transport(ctx, TransportLocal)
}

// Stream converts the session into a raw stream, detaching the connection
// from the framed protocol. The session itself becomes unusable, and closing
// it no longer closes the connection. The conversion cannot be undone.
func (s *Session) Stream() (*RawStream, error) {
	if err := s.usable(); err != nil {
		return nil, err
	}
	s.consumed = true
	conn := s.conn
	s.conn = nil
	return &RawStream{conn}, nil
}

// ExecStream issues the exec service for command and hands the connection
// over as the command's raw stdio. An empty command starts an interactive
// shell.
func (s *Session) ExecStream(ctx context.Context, command string) (*RawStream, error) {
	if err := s.Service(ctx, "exec:"+command); err != nil {
		return nil, err
	}
	return s.Stream()
}

// ShellStream issues the shell service for command and hands the connection
// over as the command's pty-cooked stdio. An empty command starts an
// interactive shell.
func (s *Session) ShellStream(ctx context.Context, command string) (*RawStream, error) {
	if err := s.Service(ctx, "shell:"+command); err != nil {
		return nil, err
	}
	return s.Stream()
}

// Exec runs command on the device with raw stdio, waits for it to finish,
// and returns its output with stdout and stderr merged. The connection is
// closed afterwards. An empty command returns [adb.ErrNoCommand] without any
// network I/O.
func (s *Session) Exec(ctx context.Context, command string) ([]byte, error) {
	return s.run(ctx, "exec:", command)
}

// Shell is like [Session.Exec], but the command runs on a pty, which cooks
// the output.
func (s *Session) Shell(ctx context.Context, command string) ([]byte, error) {
	return s.run(ctx, "shell:", command)
}

func (s *Session) run(ctx context.Context, svc, command string) ([]byte, error) {
	if command == "" {
		return nil, adb.ErrNoCommand
	}
	if err := s.Service(ctx, svc+command); err != nil {
		return nil, err
	}
	stream, err := s.Stream()
	if err != nil {
		return nil, err
	}
	defer stream.Close()
	out, err := io.ReadAll(stream)
	if err != nil {
		return out, adbproto.ProtocolErrorf("read output: %w", err)
	}
	return out, nil
}

// Push uploads data to path on the device using the sync service, then
// closes the connection in both the success and the failure case. A transport
// must already be selected. A zero mode defaults to a regular file with
// permissions 0755, and a zero mtime defaults to the current time.
func (s *Session) Push(ctx context.Context, path string, data []byte, mode uint32, mtime time.Time) error {
	if err := s.usable(); err != nil {
		return err
	}
	defer s.Close()
	if err := s.Service(ctx, "sync:"); err != nil {
		return err
	}
	if mode == 0 {
		mode = bionic.S_IFREG | 0o755
	}
	if mtime.IsZero() {
		mtime = time.Now()
	}
	if err := syncproto.SendRequest(s.conn, syncproto.PacketSend, fmt.Appendf(nil, "%s,%d", path, mode)); err != nil {
		s.err = err
		return err
	}
	for chunk := range syncproto.Chunks(data) {
		if err := syncproto.SendRequest(s.conn, syncproto.PacketData, chunk); err != nil {
			s.err = err
			return err
		}
	}
	if err := syncproto.SendPacket(s.conn, syncproto.PacketDone, uint32(mtime.Unix())); err != nil {
		s.err = err
		return err
	}
	st, err := syncproto.ReadStatus(s.conn)
	if err != nil {
		s.err = err
		return err
	}
	if st.ID != syncproto.PacketOkay {
		s.err = adbproto.ProtocolErrorf("push failed: %s", st.ID)
		return s.err
	}
	return nil
}

// Close closes the connection. It is a no-op after [Session.Stream].
func (s *Session) Close() error {
	if s.consumed || s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}

func (s *Session) usable() error {
	if s.consumed {
		return ErrSessionConsumed
	}
	if s.closed {
		return net.ErrClosed
	}
	return s.err
}
