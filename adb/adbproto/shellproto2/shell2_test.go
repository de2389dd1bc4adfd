package shellproto2

import (
	"bytes"
	"io"
	"os"
	"testing"
	"time"
)

func pipeConns(t *testing.T) (*Conn, *Conn) {
	t.Helper()
	pr1, pw1, err := os.Pipe()
	if err != nil {
		panic(err)
	}
	t.Cleanup(func() { pr1.Close(); pw1.Close() })

	pr2, pw2, err := os.Pipe()
	if err != nil {
		panic(err)
	}
	t.Cleanup(func() { pr2.Close(); pw2.Close() })

	type splitReadWriter struct {
		io.Reader
		io.Writer
		io.Closer
	}
	return New(splitReadWriter{pr1, pw2, pw2}), New(splitReadWriter{pr2, pw1, pw1})
}

func TestConn(t *testing.T) {
	t.Run("RoundTrip", func(t *testing.T) {
		c1, c2 := pipeConns(t)
		recv := func(exp PacketID, expData string) {
			t.Helper()
			id, data, ok := c2.Read()
			if !ok {
				t.Fatalf("unexpected connection error: %v", c2.Error())
			}
			if id != exp {
				t.Fatalf("expected packet %d, got %d", exp, id)
			}
			if string(data) != expData {
				t.Fatalf("expected data %q, got %q", expData, data)
			}
		}

		if !c1.Write(PacketStdin, []byte("input")) {
			t.Fatalf("unexpected connection error: %v", c1.Error())
		}
		recv(PacketStdin, "input")

		if !c1.Write(PacketCloseStdin, nil) {
			t.Fatalf("unexpected connection error: %v", c1.Error())
		}
		recv(PacketCloseStdin, "")

		ws := WinSize{Row: 24, Col: 80, XPixel: 640, YPixel: 480}
		if !c1.Write(PacketWindowSizeChange, ws.AppendBinary(nil)) {
			t.Fatalf("unexpected connection error: %v", c1.Error())
		}
		recv(PacketWindowSizeChange, "24x80,640x480")

		if !c1.Write(PacketExit, []byte{42}) {
			t.Fatalf("unexpected connection error: %v", c1.Error())
		}
		recv(PacketExit, "\x2a")
	})

	t.Run("Split", func(t *testing.T) {
		c1, c2 := pipeConns(t)
		big := make([]byte, BufferSize+1234)
		for i := range big {
			big[i] = byte(i)
		}

		wr := background(func() (bool, error) {
			if !c1.Write(PacketStdout, big) {
				return false, c1.Error()
			}
			return true, nil
		})

		var got []byte
		var pkts int
		for len(got) < len(big) {
			id, data, ok := c2.Read()
			if !ok {
				t.Fatalf("unexpected connection error: %v", c2.Error())
			}
			if id != PacketStdout {
				t.Fatalf("expected stdout packet, got %d", id)
			}
			got = append(got, data...)
			pkts++
		}

		select {
		case res := <-wr:
			if !res.A {
				t.Fatalf("unexpected connection error: %v", res.B)
			}
		case <-time.After(time.Second):
			t.Fatalf("write did not complete")
		}

		if !bytes.Equal(got, big) {
			t.Fatalf("data mismatch after %d packets", pkts)
		}
		if pkts < 2 {
			t.Fatalf("expected the write to be split into multiple packets, got %d", pkts)
		}
	})

	t.Run("Error", func(t *testing.T) {
		pr, pw, err := os.Pipe()
		if err != nil {
			panic(err)
		}
		pw.Close()
		defer pr.Close()

		type splitReadWriter struct {
			io.Reader
			io.Writer
			io.Closer
		}
		c := New(splitReadWriter{pr, pw, pw})
		if id, _, ok := c.Read(); ok {
			t.Fatalf("expected read from closed pipe to fail, got packet %d", id)
		}
		if c.Error() == nil {
			t.Fatalf("expected a sticky error")
		}
		if c.Write(PacketStdin, []byte("x")) {
			t.Fatalf("expected writes after an error to fail")
		}
		if id, _, ok := c.Read(); ok {
			t.Fatalf("expected reads after an error to fail, got packet %d", id)
		}
	})
}

func TestWinSize(t *testing.T) {
	ws := WinSize{Row: 51, Col: 270, XPixel: 1, YPixel: 2}
	if act, exp := string(ws.AppendBinary(nil)), "51x270,1x2"; act != exp {
		t.Fatalf("expected %q, got %q", exp, act)
	}
}

func TestServiceBuilder(t *testing.T) {
	var sb ServiceBuilder
	if act, exp := sb.String(), "shell,v2:"; act != exp {
		t.Fatalf("expected %q, got %q", exp, act)
	}

	sb = ServiceBuilder{}
	sb.PTY()
	if !sb.Term("xterm-256color") {
		t.Fatalf("expected the term to be accepted")
	}
	sb.Command("ls -l")
	if act, exp := sb.String(), "shell,v2,TERM=xterm-256color,pty:ls -l"; act != exp {
		t.Fatalf("expected %q, got %q", exp, act)
	}

	sb = ServiceBuilder{}
	sb.Raw()
	if act, exp := sb.String(), "shell,v2,raw:"; act != exp {
		t.Fatalf("expected %q, got %q", exp, act)
	}

	sb = ServiceBuilder{}
	if sb.Term("evil,term") {
		t.Fatalf("expected a term containing a comma to be rejected")
	}
	if sb.Term("evil:term") {
		t.Fatalf("expected a term containing a colon to be rejected")
	}
	if act, exp := sb.String(), "shell,v2:"; act != exp {
		t.Fatalf("expected the rejected term to be left unset, got %q", act)
	}
}

func background[T, U any](fn func() (T, U)) <-chan struct {
	A T
	B U
} {
	ch := make(chan struct {
		A T
		B U
	}, 1)
	go func() {
		a, b := fn()
		ch <- struct {
			A T
			B U
		}{a, b}
	}()
	return ch
}
