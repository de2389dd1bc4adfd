// Package syncproto implements the wire format of the "sync:" file transfer
// service.
//
// After the service is established, the connection speaks a binary protocol
// of 4-byte packet ids followed by little-endian values, and never returns to
// the text protocol.
package syncproto

import (
	"encoding/binary"
	"errors"
	"io"
	"iter"

	"adbsession/adb/adbproto"
)

// https://cs.android.com/android/platform/superproject/main/+/main:packages/modules/adb/file_sync_protocol.h
// https://cs.android.com/android/platform/superproject/main/+/main:packages/modules/adb/SYNC.TXT

// PacketID is a sync packet id.
type PacketID [4]byte

var (
	PacketSend  = PacketID{'S', 'E', 'N', 'D'}
	PacketSend2 = PacketID{'S', 'N', 'D', '2'} // if sendrecv_v2
	PacketData  = PacketID{'D', 'A', 'T', 'A'}
	PacketDone  = PacketID{'D', 'O', 'N', 'E'}
	PacketOkay  = PacketID{'O', 'K', 'A', 'Y'}
	PacketFail  = PacketID{'F', 'A', 'I', 'L'}
	PacketQuit  = PacketID{'Q', 'U', 'I', 'T'}
)

func (id PacketID) String() string {
	return string(id[:])
}

// SyncFail is a failure message from a FAIL packet.
type SyncFail string

func (s SyncFail) Error() string {
	return string(s)
}

// SyncDataMax is the maximum payload of a single DATA packet. File contents
// are split into DATA packets at fixed SyncDataMax boundaries, so every
// packet except the last carries exactly SyncDataMax bytes.
const SyncDataMax = 64 * 1024

// Send2 flags.
const (
	SendFlagNone   uint32 = 0
	SendFlagBrotli uint32 = 1          // if sendrecv_v2_brotli
	SendFlagLZ4    uint32 = 2          // if sendrecv_v2_lz4
	SendFlagZstd   uint32 = 4          // if sendrecv_v2_zstd
	SendFlagDryRun uint32 = 0x80000000 // if sendrecv_v2_dry_run_send
)

// Status is the 8-byte packet which ends a sync operation. Value is the
// length of the message which follows a FAIL; for everything else its meaning
// depends on the id, and it is passed through untouched.
type Status struct {
	ID    PacketID
	Value uint32
}

// SendRequest sends a request packet: the id, the payload length as a
// little-endian u32, and the payload itself, in a single write.
func SendRequest(c io.Writer, id PacketID, payload []byte) error {
	req := make([]byte, 8, 8+len(payload))
	copy(req, id[:])
	binary.LittleEndian.PutUint32(req[4:8], uint32(len(payload)))
	req = append(req, payload...)
	if _, err := c.Write(req); err != nil {
		return adbproto.ProtocolErrorf("sync %s: %w", id, err)
	}
	return nil
}

// SendPacket sends a bare 8-byte packet with an arbitrary value in place of
// the length, like DONE does with the modification time.
func SendPacket(c io.Writer, id PacketID, value uint32) error {
	var req [8]byte
	copy(req[:4], id[:])
	binary.LittleEndian.PutUint32(req[4:8], value)
	if _, err := c.Write(req[:]); err != nil {
		return adbproto.ProtocolErrorf("sync %s: %w", id, err)
	}
	return nil
}

// SendSend2 sends a v2 send request: the path in a request like v1 sends it,
// followed by another SND2 packet carrying the mode and flags.
func SendSend2(c io.Writer, path string, mode, flags uint32) error {
	if err := SendRequest(c, PacketSend2, []byte(path)); err != nil {
		return err
	}
	var req [12]byte
	copy(req[:4], PacketSend2[:])
	binary.LittleEndian.PutUint32(req[4:8], mode)
	binary.LittleEndian.PutUint32(req[8:12], flags)
	if _, err := c.Write(req[:]); err != nil {
		return adbproto.ProtocolErrorf("sync %s: %w", PacketSend2, err)
	}
	return nil
}

// SendQuit asks the other end to close the sync service.
func SendQuit(c io.Writer) error {
	return SendPacket(c, PacketQuit, 0)
}

// ReadStatus reads exactly eight bytes: a packet id and its value.
func ReadStatus(c io.Reader) (Status, error) {
	var buf [8]byte
	if _, err := io.ReadFull(c, buf[:]); err != nil {
		return Status{}, adbproto.ProtocolErrorf("read sync status: %w", err)
	}
	return Status{
		ID:    PacketID(buf[0:4]),
		Value: binary.LittleEndian.Uint32(buf[4:8]),
	}, nil
}

// ReadResponse reads the status ending an operation. A FAIL status is
// returned as a [SyncFail] with the message which follows it.
func ReadResponse(c io.Reader) error {
	st, err := ReadStatus(c)
	if err != nil {
		return err
	}
	switch st.ID {
	case PacketOkay:
		return nil
	case PacketFail:
		msg := make([]byte, st.Value)
		if _, err := io.ReadFull(c, msg); err != nil {
			return adbproto.ProtocolErrorf("read sync failure message: %w", err)
		}
		return SyncFail(msg)
	}
	return adbproto.ProtocolErrorf("unexpected sync status %q", st.ID)
}

// Chunks splits data into DATA payloads at fixed [SyncDataMax] boundaries.
// Only the final chunk is shorter, and an empty buffer yields no chunks. The
// sequence can be iterated more than once.
func Chunks(data []byte) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		for off := 0; off < len(data); off += SyncDataMax {
			if !yield(data[off:min(off+SyncDataMax, len(data))]) {
				return
			}
		}
	}
}

// NewDataWriter returns a writer which packs everything written to it into
// DATA packets of up to [SyncDataMax] bytes each. Close flushes any buffered
// data and ends the stream with a DONE packet carrying mtime. The writer is
// not safe for concurrent use.
func NewDataWriter(c io.Writer, mtime int64) io.WriteCloser {
	return &dataWriter{conn: c, mtime: mtime}
}

type dataWriter struct {
	conn  io.Writer
	mtime int64
	n     int // buffered payload bytes
	buf   [8 + SyncDataMax]byte
	err   error
}

func (w *dataWriter) Write(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	var total int
	for len(p) != 0 {
		n := copy(w.buf[8+w.n:], p)
		w.n += n
		p = p[n:]
		total += n
		if w.n == SyncDataMax {
			if err := w.flush(); err != nil {
				return total, err
			}
		}
	}
	return total, nil
}

func (w *dataWriter) flush() error {
	if w.err != nil {
		return w.err
	}
	if w.n == 0 {
		return nil
	}
	copy(w.buf[0:4], PacketData[:])
	binary.LittleEndian.PutUint32(w.buf[4:8], uint32(w.n))
	if _, err := w.conn.Write(w.buf[:8+w.n]); err != nil {
		w.err = adbproto.ProtocolErrorf("sync %s: %w", PacketData, err)
		return w.err
	}
	w.n = 0
	return nil
}

func (w *dataWriter) Close() error {
	if err := w.flush(); err != nil {
		return err
	}
	if err := SendPacket(w.conn, PacketDone, uint32(w.mtime)); err != nil {
		w.err = err
		return err
	}
	w.err = errors.New("sync data writer closed")
	return nil
}
