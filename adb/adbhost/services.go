package adbhost

import (
	"context"
	"iter"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"adbsession/adb/adbproto"
)

// https://cs.android.com/android/platform/superproject/main/+/main:packages/modules/adb/adb.cpp;l=1133-1242;drc=9c843a66d11d85e1f69e944f1b37314d3e47aab1

// Kill kills the ADB server. This may fail if ADB_REJECT_KILL_SERVER=1 is set
// on the server.
func Kill(ctx context.Context, srv *Dialer) error {
	conn, err := srv.DialADBHost(ctx, "host:kill")
	if err != nil {
		return err
	}
	conn.Close()
	return nil
}

// ServerVersion returns the internal version of the host server.
func ServerVersion(ctx context.Context, srv *Dialer) (int, error) {
	conn, err := srv.DialADBHost(ctx, "host:version")
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	buf, err := adbproto.ReadHexBytes(conn, nil)
	if err != nil {
		return 0, adbproto.ProtocolErrorf("read server version: %w", err)
	}
	v, err := strconv.ParseUint(string(buf), 16, 32)
	if err != nil {
		return 0, adbproto.ProtocolErrorf("parse server version %q: %w", string(buf), err)
	}
	return int(v), nil
}

// Devices gets the list of devices using "host:devices" or "host:devices-l".
func Devices(ctx context.Context, srv *Dialer, long bool) ([]*Device, error) {
	var svc string
	if long {
		svc = "host:devices-l"
	} else {
		svc = "host:devices"
	}
	conn, err := srv.DialADBHost(ctx, svc)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	buf, err := adbproto.ReadHexBytes(conn, nil)
	if err != nil {
		return nil, adbproto.ProtocolErrorf("read device list: %w", err)
	}
	return ParseDevices(buf)
}

// TrackDevices tracks the devices connected to the server in real-time,
// yielding a new device list whenever it changes.
//
//	var err error
//	for devs := range adbhost.TrackDevices(ctx, srv, true)(&err) {
//	    if stop {
//	        break
//	    }
//	    fmt.Println(devs)
//	}
//	if err != nil {
//	    panic(err)
//	}
func TrackDevices(ctx context.Context, srv *Dialer, long bool) func(*error) iter.Seq[[]*Device] {
	return newErrIter(func(yield func([]*Device) bool) error {
		var svc string
		if long {
			svc = "host:track-devices-l"
		} else {
			svc = "host:track-devices"
		}
		conn, err := srv.DialADBHost(ctx, svc)
		if err != nil {
			return err
		}
		defer conn.Close()

		var buf []byte
		for {
			buf, err = adbproto.ReadHexBytes(conn, buf[:0])
			if err != nil {
				return adbproto.ProtocolErrorf("read next device tracker item: %w", err)
			}
			devs, err := ParseDevices(buf)
			if err != nil {
				return adbproto.ProtocolErrorf("parse device tracker item: %w", err)
			}
			if !yield(devs) {
				return nil
			}
		}
	})
}

// ConnectError is a failure message reported with an OKAY status by
// [Connect] or [Disconnect].
type ConnectError struct {
	Op       string // "connect" or "disconnect"
	Spec     string
	Response string
}

func (e *ConnectError) Error() string {
	return e.Response
}

// Connect asks the host server to connect to a device over TCP/IP. The spec
// is a host:port pair (the port defaults to 5555) or an mDNS service name.
// The server's human-readable response is returned.
//
// The server replies with an OKAY status even when the connection attempt
// fails, so the response message itself is validated afterwards: one
// containing "unable" or "cannot" is returned as a [*ConnectError] alongside
// the message.
func Connect(ctx context.Context, srv *Dialer, spec string) (string, error) {
	return hostSocketOp(ctx, srv, "connect", spec)
}

// Disconnect asks the host server to drop the connection to a TCP/IP device.
// It validates the response the same way [Connect] does.
func Disconnect(ctx context.Context, srv *Dialer, spec string) (string, error) {
	return hostSocketOp(ctx, srv, "disconnect", spec)
}

func hostSocketOp(ctx context.Context, srv *Dialer, op, spec string) (string, error) {
	conn, err := srv.DialADBHost(ctx, "host:"+op+":"+spec)
	if err != nil {
		return "", err
	}
	defer conn.Close()

	buf, err := adbproto.ReadHexBytes(conn, nil)
	if err != nil {
		return "", adbproto.ProtocolErrorf("read %s response: %w", op, err)
	}
	resp := strings.ToValidUTF8(string(buf), "")
	log.Debug().Str("op", op).Str("spec", spec).Str("response", resp).Msg("adb host socket op")
	return resp, checkConnectResponse(op, spec, resp)
}

// checkConnectResponse flags the failure messages the server hides inside a
// successful reply, like "unable to connect" or "cannot resolve".
func checkConnectResponse(op, spec, resp string) error {
	if strings.Contains(resp, "unable") || strings.Contains(resp, "cannot") {
		return &ConnectError{Op: op, Spec: spec, Response: resp}
	}
	return nil
}

func newErrIter[T any](seq func(yield func(T) bool) error) func(*error) iter.Seq[T] {
	return func(err *error) iter.Seq[T] {
		return func(yield func(T) bool) {
			*err = seq(func(v T) bool {
				return yield(v)
			})
		}
	}
}
