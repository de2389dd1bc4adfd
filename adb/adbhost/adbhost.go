// Package adbhost connects to an ADB host server.
package adbhost

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultAddr is the default address for the ADB host server.
var DefaultAddr = "127.0.0.1:5037"

// LoopbackConnectTimeout bounds connection establishment when the server
// address is a loopback one. Connections to other addresses are only limited
// by the context.
const LoopbackConnectTimeout = 500 * time.Millisecond

// Dialer connects to an ADB host server.
//
// A nil Dialer will act the same way as a zero Dialer.
type Dialer struct {
	// DialContext is the function used to open the TCP connection. If nil,
	// the default [net.Dialer]'s DialContext is used.
	DialContext func(ctx context.Context, network, addr string) (net.Conn, error)

	// Addr is the server address. If empty, [DefaultAddr] is used.
	Addr string
}

// https://cs.android.com/android/platform/superproject/main/+/main:packages/modules/adb/client/adb_client.cpp;l=137-156;drc=c58caa21f0c7efccf1ecbd5a5fd1570ff0c246a3

// Dial opens a session with the host server. The connection has Nagle's
// algorithm disabled and no read or write deadlines.
func (c *Dialer) Dial(ctx context.Context) (*Session, error) {
	var dc func(ctx context.Context, network, addr string) (net.Conn, error)
	if c != nil && c.DialContext != nil {
		dc = c.DialContext
	} else {
		dc = new(net.Dialer).DialContext
	}
	var addr string
	if c != nil && c.Addr != "" {
		addr = c.Addr
	} else {
		addr = DefaultAddr
	}
	if host, _, err := net.SplitHostPort(addr); err == nil && isLoopback(host) {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, LoopbackConnectTimeout)
		defer cancel()
	}
	conn, err := dc(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		tc.SetNoDelay(true)
	}
	log.Debug().Str("addr", addr).Msg("connected to adb host server")
	return &Session{conn: conn}, nil
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

// DialADBHost connects to the specified service on the host server and
// returns the underlying connection. It will return immediately if ctx is
// cancelled. The context deadline applies to the time to establish the tcp
// connection and receive the OKAY completing the service connection.
func (c *Dialer) DialADBHost(ctx context.Context, svc string) (net.Conn, error) {
	s, err := c.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("service %q: %w", svc, err)
	}
	if err := s.Service(ctx, svc); err != nil {
		s.Close()
		return nil, fmt.Errorf("service %q: %w", svc, err)
	}
	stream, err := s.Stream()
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("service %q: %w", svc, err)
	}
	return stream, nil
}
