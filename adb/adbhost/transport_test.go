package adbhost

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"testing"

	"adbsession/adb/adbproto"
)

func TestTransport(t *testing.T) {
	for _, tc := range []struct {
		Transport Transport
		Service   string
		Prefix    string
		String    string
	}{
		{TransportAny, "host:transport-any", "host", "DefaultTransport(any)"},
		{TransportUSB, "host:transport-usb", "host-usb", "DefaultTransport(usb)"},
		{TransportLocal, "host:transport-local", "host-local", "DefaultTransport(local)"},
		{Serial("0A041FDD400327"), "host:transport:0A041FDD400327", "host-serial:0A041FDD400327", "Serial(0A041FDD400327)"},
		{Serial(""), "", "", ""},
		{TransportID(7), "host:transport-id:7", "host-transport-id:7", "TransportID(7)"},
	} {
		if act, exp := tc.Transport.transport(), tc.Service; act != exp {
			t.Errorf("%#v: expected transport service %q, got %q", tc.Transport, exp, act)
		}
		if act, exp := tc.Transport.hostPrefix(), tc.Prefix; act != exp {
			t.Errorf("%#v: expected host prefix %q, got %q", tc.Transport, exp, act)
		}
		if act, exp := tc.Transport.(fmt.Stringer).String(), tc.String; act != exp {
			t.Errorf("%#v: expected string %q, got %q", tc.Transport, exp, act)
		}
	}
}

func TestTransportDialerDialADB(t *testing.T) {
	t.Run("Okay", func(t *testing.T) {
		d := fakeHost(t, func(t *testing.T, c net.Conn) {
			if !expectRead(t, c, frame("host:transport:SER123")) {
				return
			}
			mustWrite(t, c, "OKAY")
			if !expectRead(t, c, frame("shell:echo hi")) {
				return
			}
			mustWrite(t, c, "OKAY")
			mustWrite(t, c, "hi\n")
		})
		conn, err := Server(d, Serial("SER123")).DialADB(context.Background(), "shell:echo hi")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer conn.Close()

		buf, err := io.ReadAll(conn)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if act, exp := string(buf), "hi\n"; act != exp {
			t.Fatalf("expected output %q, got %q", exp, act)
		}
	})

	t.Run("TransportFail", func(t *testing.T) {
		d := fakeHost(t, func(t *testing.T, c net.Conn) {
			if expectRead(t, c, frame("host:transport:missing")) {
				mustWrite(t, c, "FAIL"+frame("device 'missing' not found"))
			}
			expectEOF(t, c)
		})
		_, err := Server(d, Serial("missing")).DialADB(context.Background(), "shell:true")
		if !errors.Is(err, adbproto.ErrServer) {
			t.Fatalf("expected error to match ErrServer, got %v", err)
		}
		if !strings.Contains(err.Error(), "transport Serial(missing)") {
			t.Fatalf("expected error to name the transport, got %v", err)
		}
	})

	t.Run("ServiceFail", func(t *testing.T) {
		d := fakeHost(t, func(t *testing.T, c net.Conn) {
			if !expectRead(t, c, frame("host:transport-any")) {
				return
			}
			mustWrite(t, c, "OKAY")
			if expectRead(t, c, frame("jdwp:1")) {
				mustWrite(t, c, "FAIL"+frame("unknown service"))
			}
			expectEOF(t, c)
		})
		_, err := Server(d, TransportAny).DialADB(context.Background(), "jdwp:1")
		if !errors.Is(err, adbproto.ErrServer) {
			t.Fatalf("expected error to match ErrServer, got %v", err)
		}
	})
}

func TestTransportDialerFeatures(t *testing.T) {
	t.Run("Load", func(t *testing.T) {
		d := fakeHost(t, func(t *testing.T, c net.Conn) {
			if expectRead(t, c, frame("host-serial:SER123:features")) {
				mustWrite(t, c, "OKAY"+frame("shell_v2,cmd,stat_v2"))
			}
			expectEOF(t, c)
		})
		h := Server(d, Serial("SER123"))

		if h.SupportsFeature(adbproto.FeatureShell2) {
			t.Fatalf("expected no features before loading")
		}
		if err := h.LoadFeatures(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for _, f := range []adbproto.Feature{adbproto.FeatureShell2, adbproto.FeatureCmd, adbproto.FeatureStat2} {
			if !h.SupportsFeature(f) {
				t.Errorf("expected feature %q to be supported", f)
			}
		}
		if h.SupportsFeature(adbproto.FeatureSendRecv2) {
			t.Errorf("expected feature %q to not be supported", adbproto.FeatureSendRecv2)
		}

		var n int
		for range h.Features() {
			n++
		}
		if act, exp := n, 3; act != exp {
			t.Errorf("expected %d features, got %d", exp, act)
		}
	})

	t.Run("HostPrefix", func(t *testing.T) {
		d := fakeHost(t, func(t *testing.T, c net.Conn) {
			if expectRead(t, c, frame("host:features")) {
				mustWrite(t, c, "OKAY"+frame("shell_v2"))
			}
			expectEOF(t, c)
		})
		if err := Server(d, TransportAny).LoadFeatures(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("Invalid", func(t *testing.T) {
		d := fakeHost(t) // no dial expected
		if _, err := Server(d, Serial("")).DialADBHostTransport(context.Background(), "features"); err == nil {
			t.Fatalf("expected an error for an empty serial")
		}
	})
}
