package ws

import (
	"errors"
	"io"
	"net"
	"syscall"
)

var (
	// ErrPeerClosed is returned by the decoder on a close frame, EOF, or any
	// short or failed read. The connection is finished.
	ErrPeerClosed = errors.New("ws: peer closed")
	// ErrUnsupportedFrame means the peer sent a fragmented, binary or control
	// frame other than close. The connection should be dropped.
	ErrUnsupportedFrame = errors.New("ws: unsupported frame")
	// ErrFrameTooLarge means the declared payload length exceeds the decoder limit.
	ErrFrameTooLarge = errors.New("ws: frame too large")
	// ErrMissingKey means an upgrade request carried no Sec-WebSocket-Key.
	ErrMissingKey = errors.New("ws: missing Sec-WebSocket-Key")
	// ErrHandshakeRejected means the server answered the upgrade without 101.
	ErrHandshakeRejected = errors.New("ws: handshake rejected")
)

// IsExpectedClose reports whether err is an ordinary connection teardown:
// peer closed, EOF, closed socket, broken pipe or connection reset. These are
// logged at debug level rather than as failures.
func IsExpectedClose(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPeerClosed) || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}
