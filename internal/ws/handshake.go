// Package ws is a minimal WebSocket implementation: the HTTP upgrade
// handshake for both roles and unfragmented text frames. Fragmentation and
// ping/pong are not supported; such frames are rejected.
package ws

import (
	"bufio"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"io"
	"net/textproto"
	"strings"
)

// GUID is appended to the client key before hashing, per RFC 6455.
const GUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// Path is the upgrade endpoint the agent requests.
const Path = "/ws"

// AcceptKey derives the Sec-WebSocket-Accept value for a client key.
func AcceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(strings.TrimSpace(key)))
	h.Write([]byte(GUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// NewKey returns 16 random bytes, base64 encoded, for Sec-WebSocket-Key.
func NewKey() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generating key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b[:]), nil
}

// ClientHandshake writes the upgrade request for host and reads the response
// headers up to the blank line. The returned reader must be used for any
// subsequent frame reads, since it may already hold buffered frame bytes.
func ClientHandshake(rw io.ReadWriter, host string) (*bufio.Reader, error) {
	key, err := NewKey()
	if err != nil {
		return nil, err
	}

	req := "GET " + Path + " HTTP/1.1\r\n" +
		"Host: " + host + "\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: " + key + "\r\n" +
		"Sec-WebSocket-Version: 13\r\n\r\n"
	if _, err := io.WriteString(rw, req); err != nil {
		return nil, fmt.Errorf("writing upgrade request: %w", err)
	}

	br := bufio.NewReader(rw)
	tp := textproto.NewReader(br)
	status, err := tp.ReadLine()
	if err != nil {
		return nil, fmt.Errorf("reading upgrade response: %w", err)
	}
	if _, err := tp.ReadMIMEHeader(); err != nil {
		return nil, fmt.Errorf("reading upgrade headers: %w", err)
	}
	if !strings.Contains(status, "101") {
		return nil, fmt.Errorf("%w: %q", ErrHandshakeRejected, status)
	}
	return br, nil
}

// ServerHandshake reads an upgrade request from rw and answers 101 with the
// derived accept key. A request without Sec-WebSocket-Key yields ErrMissingKey
// and nothing is written. Header names match case-insensitively.
func ServerHandshake(rw io.ReadWriter) (*bufio.Reader, error) {
	br := bufio.NewReader(rw)
	tp := textproto.NewReader(br)
	if _, err := tp.ReadLine(); err != nil {
		return nil, fmt.Errorf("reading request line: %w", err)
	}
	hdr, err := tp.ReadMIMEHeader()
	if err != nil {
		return nil, fmt.Errorf("reading request headers: %w", err)
	}

	key := strings.TrimSpace(hdr.Get("Sec-WebSocket-Key"))
	if key == "" {
		return nil, ErrMissingKey
	}

	resp := "HTTP/1.1 101 Switching Protocols\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Accept: " + AcceptKey(key) + "\r\n\r\n"
	if _, err := io.WriteString(rw, resp); err != nil {
		return nil, fmt.Errorf("writing upgrade response: %w", err)
	}
	return br, nil
}
