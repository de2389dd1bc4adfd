// Package adblib provides high-level ADB functionality.
package adblib

import (
	"context"

	"adbsession/adb/adbhost"
)

// Connect returns a dialer for an ADB device reachable through a host server.
// If addr is empty, [adbhost.DefaultAddr] is used. If serial is empty, any
// device is selected. The transport's optional features are loaded so that
// feature-gated functionality like shell v2 and compressed pushes works.
func Connect(ctx context.Context, addr, serial string) (*adbhost.TransportDialer, error) {
	dlr := &adbhost.Dialer{Addr: addr}
	var t adbhost.Transport
	if serial == "" {
		t = adbhost.TransportAny
	} else {
		t = adbhost.Serial(serial)
	}
	srv := adbhost.Server(dlr, t)
	if err := srv.LoadFeatures(ctx); err != nil {
		return nil, err
	}
	return srv, nil
}
