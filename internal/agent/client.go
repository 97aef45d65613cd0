package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/blinky-mon/blinky/internal/protocol"
	"github.com/blinky-mon/blinky/internal/ws"
)

// ErrNotConnected is returned by Send while the client is Disconnected.
var ErrNotConnected = errors.New("not connected")

// TransportError reports a resolve, connect, handshake or write failure.
// Op is one of "resolve", "connect", "handshake", "send".
type TransportError struct {
	Op   string
	Addr string
	Err  error
}

func (e *TransportError) Error() string {
	if e.Addr == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Client is the agent side of the WebSocket link. It has two states,
// Disconnected and Connected, and never reconnects on its own: the caller
// decides when to call Connect again.
//
// Client is meant to be driven from one loop; the mutex only protects
// Disconnect racing a Send during shutdown.
type Client struct {
	host    string
	port    int
	timeout time.Duration

	// OnError, if set, is called with every TransportError before it is
	// returned.
	OnError func(error)

	mu   sync.Mutex
	conn net.Conn
}

// NewClient returns a Disconnected client for host:port. timeout bounds
// each dial and the handshake, and each write when positive.
func NewClient(host string, port int, timeout time.Duration) *Client {
	return &Client{host: host, port: port, timeout: timeout}
}

// Addr is the collector address as dialed.
func (c *Client) Addr() string {
	return net.JoinHostPort(c.host, strconv.Itoa(c.port))
}

// Connected reports whether the client is in the Connected state.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Connect resolves the host, dials each address in order until one
// accepts, and runs the client handshake. It is a no-op when already
// Connected.
func (c *Client) Connect(ctx context.Context) error {
	if c.Connected() {
		return nil
	}

	addrs, err := net.DefaultResolver.LookupHost(ctx, c.host)
	if err != nil {
		return c.fail(&TransportError{Op: "resolve", Addr: c.host, Err: err})
	}
	if len(addrs) == 0 {
		return c.fail(&TransportError{Op: "resolve", Addr: c.host, Err: errors.New("no addresses")})
	}

	d := net.Dialer{Timeout: c.timeout}
	var conn net.Conn
	var dialErr error
	for _, a := range addrs {
		conn, dialErr = d.DialContext(ctx, "tcp", net.JoinHostPort(a, strconv.Itoa(c.port)))
		if dialErr == nil {
			break
		}
	}
	if conn == nil {
		return c.fail(&TransportError{Op: "connect", Addr: c.Addr(), Err: dialErr})
	}

	if c.timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(c.timeout))
	}
	// The collector never writes after the upgrade, so the buffered reader
	// the handshake returns has nothing left to hand over.
	if _, err := ws.ClientHandshake(conn, c.Addr()); err != nil {
		conn.Close()
		return c.fail(&TransportError{Op: "handshake", Addr: c.Addr(), Err: err})
	}
	_ = conn.SetDeadline(time.Time{})

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return nil
}

// Send writes data as one masked text frame. A failed or short write
// closes the connection and leaves the client Disconnected.
func (c *Client) Send(data []byte) error {
	frame, err := ws.EncodeFrame(data, true)
	if err != nil {
		return c.fail(&TransportError{Op: "send", Addr: c.Addr(), Err: err})
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return c.fail(&TransportError{Op: "send", Addr: c.Addr(), Err: ErrNotConnected})
	}

	if c.timeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(c.timeout))
	}
	n, err := conn.Write(frame)
	if err == nil && n < len(frame) {
		err = fmt.Errorf("short write: %d of %d bytes", n, len(frame))
	}
	if err != nil {
		c.Disconnect()
		return c.fail(&TransportError{Op: "send", Addr: c.Addr(), Err: err})
	}
	return nil
}

// SendEnvelope serializes e and sends it as one frame.
func (c *Client) SendEnvelope(e protocol.Envelope) error {
	return c.Send(protocol.Serialize(e))
}

// Disconnect closes the connection if there is one.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (c *Client) fail(err error) error {
	if c.OnError != nil {
		c.OnError(err)
	}
	return err
}
