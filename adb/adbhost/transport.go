package adbhost

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"net"
	"strconv"
	"sync/atomic"

	"adbsession/adb"
	"adbsession/adb/adbproto"
)

// Transport selects an ADB server to connect to via a host server.
//
// https://cs.android.com/android/platform/superproject/main/+/main:packages/modules/adb/adb.cpp;l=1293-1352;drc=9f298fb1f3317371b49439efb20a598b3a881bf3
type Transport interface {
	// transport is the service selecting the transport on a session.
	transport() string

	// hostPrefix is the prefix scoping a host service to the transport.
	hostPrefix() string
}

// TransportID selects a specific transport by the id reported in the long
// device listing.
type TransportID uint64

func (t TransportID) String() string {
	return "TransportID(" + strconv.FormatUint(uint64(t), 10) + ")"
}

func (t TransportID) transport() string {
	return "host:transport-id:" + strconv.FormatUint(uint64(t), 10)
}

func (t TransportID) hostPrefix() string {
	return "host-transport-id:" + strconv.FormatUint(uint64(t), 10)
}

// Serial uniquely identifies devices connected to the ADB host server.
type Serial string

func (s Serial) String() string {
	if s == "" {
		return ""
	}
	return "Serial(" + string(s) + ")"
}

func (s Serial) transport() string {
	if s == "" {
		return ""
	}
	return "host:transport:" + string(s)
}

func (s Serial) hostPrefix() string {
	if s == "" {
		return ""
	}
	return "host-serial:" + string(s)
}

// DefaultTransport selects the first matching device as long as there is only
// one of that kind.
type DefaultTransport string

const (
	TransportUSB   DefaultTransport = "usb"   // usb device
	TransportLocal DefaultTransport = "local" // emulator
	TransportAny   DefaultTransport = "any"   // any device
)

func (t DefaultTransport) String() string {
	return "DefaultTransport(" + string(t) + ")"
}

func (t DefaultTransport) transport() string {
	return "host:transport-" + string(t)
}

func (t DefaultTransport) hostPrefix() string {
	switch t {
	case TransportUSB:
		return "host-usb"
	case TransportLocal:
		return "host-local"
	}
	return "host"
}

// TransportDialer is an [adb.Dialer] which dials services on a device through
// a host server, selecting the transport again for every connection.
type TransportDialer struct {
	d *Dialer
	t Transport
	f atomic.Pointer[map[adbproto.Feature]struct{}]
}

var _ adb.Dialer = (*TransportDialer)(nil)
var _ adb.Features = (*TransportDialer)(nil)

// Server returns an [adb.Dialer] for a [Transport] accessible through the
// host server.
//
// If d is nil, an empty one is used.
func Server(d *Dialer, t Transport) *TransportDialer {
	return &TransportDialer{d: d, t: t}
}

// DialADB opens a connection to svc on the transport.
func (h *TransportDialer) DialADB(ctx context.Context, svc string) (net.Conn, error) {
	s, err := h.d.Dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("service %q: %w", svc, err)
	}
	if err := s.Transport(ctx, h.t); err != nil {
		s.Close()
		return nil, fmt.Errorf("transport %v: %w", h.t, err)
	}
	if err := s.Service(ctx, svc); err != nil {
		s.Close()
		return nil, fmt.Errorf("service %q: %w", svc, err)
	}
	stream, err := s.Stream()
	if err != nil {
		s.Close()
		return nil, err
	}
	return stream, nil
}

// DialADBHostTransport opens a connection to the host svc scoped to the
// transport (e.g., "host-serial:<serial>:features").
func (h *TransportDialer) DialADBHostTransport(ctx context.Context, svc string) (net.Conn, error) {
	prefix := h.t.hostPrefix()
	if prefix == "" {
		return nil, errors.New("invalid transport")
	}
	return h.d.DialADBHost(ctx, prefix+":"+svc)
}

// SupportsFeature returns true if the transport supports the provided
// feature. If [TransportDialer.LoadFeatures] has not been called, this will
// always return false.
func (h *TransportDialer) SupportsFeature(f adbproto.Feature) bool {
	if fm := h.f.Load(); fm != nil {
		_, ok := (*fm)[f]
		return ok
	}
	return false
}

// LoadFeatures fetches the set of optional features negotiated for the
// transport from the host server.
func (h *TransportDialer) LoadFeatures(ctx context.Context) error {
	conn, err := h.DialADBHostTransport(ctx, "features")
	if err != nil {
		return err
	}
	defer conn.Close()

	buf, err := adbproto.ReadHexBytes(conn, nil)
	if err != nil {
		return err
	}

	fm := map[adbproto.Feature]struct{}{}
	for feat := range bytes.SplitSeq(buf, []byte{','}) {
		fm[adbproto.Feature(feat)] = struct{}{}
	}
	h.f.Store(&fm)

	return nil
}

// Features returns the features loaded by [TransportDialer.LoadFeatures], if
// any.
func (h *TransportDialer) Features() iter.Seq[adbproto.Feature] {
	return func(yield func(adbproto.Feature) bool) {
		if fm := h.f.Load(); fm != nil {
			for f := range *fm {
				if !yield(f) {
					return
				}
			}
		}
	}
}
