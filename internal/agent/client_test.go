package agent

import (
	"context"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/blinky-mon/blinky/internal/protocol"
	"github.com/blinky-mon/blinky/internal/ws"
)

// fakeCollector accepts one connection, performs the server handshake and
// forwards every decoded payload on frames.
type fakeCollector struct {
	ln     net.Listener
	frames chan string
}

func startFakeCollector(t *testing.T) *fakeCollector {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	fc := &fakeCollector{ln: ln, frames: make(chan string, 16)}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				br, err := ws.ServerHandshake(conn)
				if err != nil {
					return
				}
				dec := ws.NewDecoder(br, 0)
				for {
					p, err := dec.Decode()
					if err != nil {
						return
					}
					fc.frames <- string(p)
				}
			}()
		}
	}()
	return fc
}

func (fc *fakeCollector) port(t *testing.T) int {
	t.Helper()
	_, p, _ := net.SplitHostPort(fc.ln.Addr().String())
	n, err := strconv.Atoi(p)
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func TestClientConnectSend(t *testing.T) {
	t.Parallel()
	fc := startFakeCollector(t)

	c := NewClient("127.0.0.1", fc.port(t), 2*time.Second)
	if c.Connected() {
		t.Fatalf("new client should be disconnected")
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !c.Connected() {
		t.Fatalf("expected Connected")
	}
	// Connect while connected is a no-op.
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect: %v", err)
	}

	env := protocol.Envelope{Type: protocol.Metrics, Timestamp: 7, Hostname: "h1", Payload: `{"a":"b|c"}`}
	if err := c.SendEnvelope(env); err != nil {
		t.Fatalf("SendEnvelope: %v", err)
	}
	select {
	case got := <-fc.frames:
		if protocol.Deserialize([]byte(got)) != env {
			t.Fatalf("collector got %q", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no frame received")
	}

	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if c.Connected() {
		t.Fatalf("expected Disconnected")
	}
}

func TestClientSendWhileDisconnected(t *testing.T) {
	t.Parallel()

	var reported []error
	c := NewClient("127.0.0.1", 1, time.Second)
	c.OnError = func(err error) { reported = append(reported, err) }

	err := c.Send([]byte("x"))
	var te *TransportError
	if !errors.As(err, &te) || te.Op != "send" || !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err=%v", err)
	}
	if len(reported) != 1 {
		t.Fatalf("OnError calls=%d", len(reported))
	}
}

func TestClientConnectRefused(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	c := NewClient("127.0.0.1", port, time.Second)
	err = c.Connect(context.Background())
	var te *TransportError
	if !errors.As(err, &te) || te.Op != "connect" {
		t.Fatalf("err=%v", err)
	}
	if c.Connected() {
		t.Fatalf("should stay disconnected")
	}
}

func TestClientHandshakeRejected(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 1024)
		conn.Read(buf)
		conn.Write([]byte("HTTP/1.1 404 Not Found\r\nContent-Length: 0\r\n\r\n"))
	}()

	c := NewClient("127.0.0.1", ln.Addr().(*net.TCPAddr).Port, time.Second)
	err = c.Connect(context.Background())
	var te *TransportError
	if !errors.As(err, &te) || te.Op != "handshake" || !errors.Is(err, ws.ErrHandshakeRejected) {
		t.Fatalf("err=%v", err)
	}
}

func TestClientSendFailureDisconnects(t *testing.T) {
	t.Parallel()
	fc := startFakeCollector(t)

	c := NewClient("127.0.0.1", fc.port(t), time.Second)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	// Close our own socket underneath the client; the next write fails.
	c.mu.Lock()
	c.conn.Close()
	c.mu.Unlock()

	if err := c.Send([]byte("x")); err == nil {
		t.Fatalf("expected send error")
	}
	if c.Connected() {
		t.Fatalf("failed send should leave client disconnected")
	}
}
