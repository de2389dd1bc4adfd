package adbsync

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adbsession/adb"
	"adbsession/adb/adbproto"
	"adbsession/adb/adbproto/syncproto"
)

// syncDialer is an adb.Dialer serving the device end of a sync connection
// with the provided script.
type syncDialer struct {
	t        *testing.T
	features map[adbproto.Feature]struct{}
	script   func(t *testing.T, c net.Conn)
	wg       sync.WaitGroup
}

func newSyncDialer(t *testing.T, features []adbproto.Feature, script func(t *testing.T, c net.Conn)) *syncDialer {
	d := &syncDialer{
		t:        t,
		features: map[adbproto.Feature]struct{}{},
		script:   script,
	}
	for _, f := range features {
		d.features[f] = struct{}{}
	}
	t.Cleanup(d.wg.Wait)
	return d
}

func (d *syncDialer) DialADB(ctx context.Context, svc string) (net.Conn, error) {
	assert.Equal(d.t, "sync:", svc)
	client, server := net.Pipe()
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer server.Close()
		server.SetDeadline(time.Now().Add(time.Second * 5))
		d.script(d.t, server)
	}()
	return client, nil
}

func (d *syncDialer) SupportsFeature(f adbproto.Feature) bool {
	_, ok := d.features[f]
	return ok
}

var _ adb.Features = (*syncDialer)(nil)

// readSyncPacket reads an 8-byte sync packet header.
func readSyncPacket(t *testing.T, c net.Conn) (string, uint32) {
	var buf [8]byte
	if _, err := io.ReadFull(c, buf[:]); err != nil {
		t.Errorf("read sync packet: %v", err)
		return "", 0
	}
	return string(buf[:4]), binary.LittleEndian.Uint32(buf[4:8])
}

func readSyncPayload(t *testing.T, c net.Conn, n uint32) []byte {
	buf := make([]byte, n)
	if _, err := io.ReadFull(c, buf); err != nil {
		t.Errorf("read sync payload: %v", err)
	}
	return buf
}

// readSyncData consumes DATA packets until DONE, returning the content and
// the DONE value.
func readSyncData(t *testing.T, c net.Conn) ([]byte, uint32) {
	var data []byte
	for {
		id, arg := readSyncPacket(t, c)
		switch id {
		case "DATA":
			data = append(data, readSyncPayload(t, c, arg)...)
		case "DONE":
			return data, arg
		default:
			t.Errorf("unexpected sync packet %q", id)
			return data, 0
		}
	}
}

func writeSyncStatus(t *testing.T, c net.Conn, id string, value uint32) {
	var buf [8]byte
	copy(buf[:4], id)
	binary.LittleEndian.PutUint32(buf[4:8], value)
	if _, err := c.Write(buf[:]); err != nil {
		t.Errorf("write sync status: %v", err)
	}
}

func expectQuit(t *testing.T, c net.Conn) {
	if id, _ := readSyncPacket(t, c); id != "QUIT" {
		t.Errorf("expected QUIT, got %q", id)
	}
	if _, err := c.Read(make([]byte, 1)); err != io.EOF {
		t.Errorf("expected the connection to be closed, got %v", err)
	}
}

func TestClientPush(t *testing.T) {
	t.Run("Uncompressed", func(t *testing.T) {
		d := newSyncDialer(t, nil, func(t *testing.T, c net.Conn) {
			id, arg := readSyncPacket(t, c)
			assert.Equal(t, "SEND", id)
			assert.Equal(t, "/data/local/tmp/x,33261", string(readSyncPayload(t, c, arg)))

			data, mtime := readSyncData(t, c)
			assert.Equal(t, "hello world", string(data))
			assert.Equal(t, uint32(1700000000), mtime)

			writeSyncStatus(t, c, "OKAY", 0)
			expectQuit(t, c)
		})

		c := &Client{Server: d}
		err := c.Push(context.Background(), "/data/local/tmp/x", strings.NewReader("hello world"), &PushOptions{
			ModTime: time.Unix(1700000000, 0),
		})
		require.NoError(t, err)
	})

	t.Run("Zstd", func(t *testing.T) {
		content := strings.Repeat("the quick brown fox jumps over the lazy dog\n", 2048)

		d := newSyncDialer(t, []adbproto.Feature{
			adbproto.FeatureSendRecv2,
			adbproto.FeatureSendRecv2Zstd,
		}, func(t *testing.T, c net.Conn) {
			id, arg := readSyncPacket(t, c)
			assert.Equal(t, "SND2", id)
			assert.Equal(t, "/sdcard/big", string(readSyncPayload(t, c, arg)))

			id, mode := readSyncPacket(t, c)
			assert.Equal(t, "SND2", id)
			assert.Equal(t, uint32(33261), mode)
			var flags [4]byte
			if _, err := io.ReadFull(c, flags[:]); err != nil {
				t.Errorf("read send flags: %v", err)
				return
			}
			assert.Equal(t, uint32(4), binary.LittleEndian.Uint32(flags[:]))

			compressed, _ := readSyncData(t, c)
			zr, err := zstd.NewReader(bytes.NewReader(compressed))
			if assert.NoError(t, err) {
				data, err := io.ReadAll(zr)
				zr.Close()
				assert.NoError(t, err)
				assert.Equal(t, content, string(data))
			}

			writeSyncStatus(t, c, "OKAY", 0)
			expectQuit(t, c)
		})

		c := &Client{Server: d}
		err := c.Push(context.Background(), "/sdcard/big", strings.NewReader(content), nil)
		require.NoError(t, err)
	})

	t.Run("DryRun", func(t *testing.T) {
		d := newSyncDialer(t, []adbproto.Feature{
			adbproto.FeatureSendRecv2,
			adbproto.FeatureSendRecv2DryRunSend,
		}, func(t *testing.T, c net.Conn) {
			id, arg := readSyncPacket(t, c)
			assert.Equal(t, "SND2", id)
			readSyncPayload(t, c, arg)

			id, _ = readSyncPacket(t, c)
			assert.Equal(t, "SND2", id)
			var flags [4]byte
			if _, err := io.ReadFull(c, flags[:]); err != nil {
				t.Errorf("read send flags: %v", err)
				return
			}
			assert.Equal(t, uint32(0x80000000), binary.LittleEndian.Uint32(flags[:]))

			data, _ := readSyncData(t, c)
			assert.Equal(t, "discard me", string(data))

			writeSyncStatus(t, c, "OKAY", 0)
			expectQuit(t, c)
		})

		c := &Client{
			Server:            d,
			CompressionConfig: &CompressionConfig{CompressMethods: []CompressionMethod{}},
		}
		err := c.Push(context.Background(), "/x", strings.NewReader("discard me"), &PushOptions{DryRun: true})
		require.NoError(t, err)
	})

	t.Run("DryRunUnsupported", func(t *testing.T) {
		d := newSyncDialer(t, nil, func(t *testing.T, c net.Conn) {
			if _, err := c.Read(make([]byte, 1)); err != io.EOF {
				t.Errorf("expected no sync traffic, got %v", err)
			}
		})

		c := &Client{Server: d}
		err := c.Push(context.Background(), "/x", strings.NewReader("x"), &PushOptions{DryRun: true})
		require.ErrorIs(t, err, adb.ErrFeatureNotSupported)
	})

	t.Run("Fail", func(t *testing.T) {
		d := newSyncDialer(t, nil, func(t *testing.T, c net.Conn) {
			id, arg := readSyncPacket(t, c)
			assert.Equal(t, "SEND", id)
			readSyncPayload(t, c, arg)
			readSyncData(t, c)

			const msg = "couldn't create file: Permission denied"
			writeSyncStatus(t, c, "FAIL", uint32(len(msg)))
			if _, err := io.WriteString(c, msg); err != nil {
				t.Errorf("write failure message: %v", err)
			}
			if _, err := c.Read(make([]byte, 1)); err != io.EOF {
				t.Errorf("expected the connection to be closed, got %v", err)
			}
		})

		c := &Client{Server: d}
		err := c.Push(context.Background(), "/readonly", strings.NewReader("x"), nil)
		var fail syncproto.SyncFail
		require.ErrorAs(t, err, &fail)
		assert.Equal(t, "couldn't create file: Permission denied", string(fail))
		assert.ErrorContains(t, err, `push "/readonly"`)
	})

	t.Run("Progress", func(t *testing.T) {
		content := bytes.Repeat([]byte{0x42}, 100*1024)

		d := newSyncDialer(t, nil, func(t *testing.T, c net.Conn) {
			id, arg := readSyncPacket(t, c)
			assert.Equal(t, "SEND", id)
			readSyncPayload(t, c, arg)

			data, _ := readSyncData(t, c)
			assert.Len(t, data, len(content))

			writeSyncStatus(t, c, "OKAY", 0)
			expectQuit(t, c)
		})

		var totals []int64
		c := &Client{Server: d}
		err := c.PushBytes(context.Background(), "/big", content, &PushOptions{
			Progress: func(total int64) { totals = append(totals, total) },
		})
		require.NoError(t, err)

		require.NotEmpty(t, totals)
		assert.Equal(t, int64(len(content)), totals[len(totals)-1])
		for i := 1; i < len(totals); i++ {
			assert.LessOrEqual(t, totals[i-1], totals[i])
		}
	})
}

func TestClientPushFile(t *testing.T) {
	src := filepath.Join(t.TempDir(), "f.txt")
	require.NoError(t, os.WriteFile(src, []byte("file content"), 0o644))
	mtime := time.Unix(1600000000, 0)
	require.NoError(t, os.Chtimes(src, mtime, mtime))

	d := newSyncDialer(t, nil, func(t *testing.T, c net.Conn) {
		id, arg := readSyncPacket(t, c)
		assert.Equal(t, "SEND", id)
		assert.Equal(t, "/data/local/tmp/f.txt,33188", string(readSyncPayload(t, c, arg)))

		data, mt := readSyncData(t, c)
		assert.Equal(t, "file content", string(data))
		assert.Equal(t, uint32(1600000000), mt)

		writeSyncStatus(t, c, "OKAY", 0)
		expectQuit(t, c)
	})

	c := &Client{Server: d}
	require.NoError(t, c.PushFile(context.Background(), "/data/local/tmp/f.txt", src, nil))
}

func TestClientPushFileMissing(t *testing.T) {
	c := &Client{Server: newSyncDialer(t, nil, nil)}
	err := c.PushFile(context.Background(), "/x", filepath.Join(t.TempDir(), "nope"), nil)
	require.ErrorIs(t, err, os.ErrNotExist)
}



func TestCompressNegotiate(t *testing.T) {
	all := []adbproto.Feature{
		adbproto.FeatureSendRecv2,
		adbproto.FeatureSendRecv2Brotli,
		adbproto.FeatureSendRecv2LZ4,
		adbproto.FeatureSendRecv2Zstd,
	}
	for _, tc := range []struct {
		Name     string
		Config   *CompressionConfig
		Features []adbproto.Feature
		Method   CompressionMethod
	}{
		{"DefaultAll", nil, all, CompressionMethodZstd},
		{"DefaultNoZstd", nil, []adbproto.Feature{adbproto.FeatureSendRecv2, adbproto.FeatureSendRecv2LZ4, adbproto.FeatureSendRecv2Brotli}, CompressionMethodLZ4},
		{"DefaultNone", nil, nil, ""},
		{"Disabled", &CompressionConfig{CompressMethods: []CompressionMethod{}}, all, ""},
		{"Preferred", &CompressionConfig{CompressMethods: []CompressionMethod{CompressionMethodBrotli, CompressionMethodZstd}}, all, CompressionMethodBrotli},
		{"PreferredUnsupported", &CompressionConfig{CompressMethods: []CompressionMethod{CompressionMethodBrotli}}, []adbproto.Feature{adbproto.FeatureSendRecv2, adbproto.FeatureSendRecv2Zstd}, ""},
	} {
		t.Run(tc.Name, func(t *testing.T) {
			d := newSyncDialer(t, tc.Features, nil)
			assert.Equal(t, tc.Method, tc.Config.compressNegotiate(d))
		})
	}
}

func TestCompressRoundTrip(t *testing.T) {
	for _, method := range defaultMethods {
		t.Run(string(method), func(t *testing.T) {
			var buf bytes.Buffer
			w, err := (*CompressionConfig)(nil).compress(method, &buf)
			require.NoError(t, err)
			_, err = io.WriteString(w, "some compressible data, repeated: some compressible data")
			require.NoError(t, err)
			require.NoError(t, w.Close())
			require.NotZero(t, buf.Len())
		})
	}
}
