package ws

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Opcodes from RFC 6455. Only OpText carries data here; OpClose ends the stream.
const (
	OpContinuation byte = 0x0
	OpText         byte = 0x1
	OpBinary       byte = 0x2
	OpClose        byte = 0x8
	OpPing         byte = 0x9
	OpPong         byte = 0xA
)

// DefaultMaxPayload bounds the allocation for a single frame.
const DefaultMaxPayload = 16 << 20

const (
	finBit   = 0x80
	maskBit  = 0x80
	len16    = 126
	len64    = 127
	maxLen7  = 125
	maxLen16 = 0xFFFF
)

// EncodeFrame builds one final text frame around payload. When mask is set a
// fresh random key is generated; clients must always mask.
func EncodeFrame(payload []byte, mask bool) ([]byte, error) {
	if !mask {
		return appendFrame(nil, payload, nil), nil
	}
	var key [4]byte
	if _, err := rand.Read(key[:]); err != nil {
		return nil, fmt.Errorf("generating mask key: %w", err)
	}
	return appendFrame(nil, payload, &key), nil
}

func appendFrame(dst, payload []byte, key *[4]byte) []byte {
	n := len(payload)
	var m byte
	if key != nil {
		m = maskBit
	}

	dst = append(dst, finBit|OpText)
	switch {
	case n <= maxLen7:
		dst = append(dst, m|byte(n))
	case n <= maxLen16:
		dst = append(dst, m|len16)
		dst = binary.BigEndian.AppendUint16(dst, uint16(n))
	default:
		dst = append(dst, m|len64)
		dst = binary.BigEndian.AppendUint64(dst, uint64(n))
	}

	if key == nil {
		return append(dst, payload...)
	}
	dst = append(dst, key[:]...)
	start := len(dst)
	dst = append(dst, payload...)
	maskBytes(dst[start:], *key)
	return dst
}

func maskBytes(b []byte, key [4]byte) {
	for i := range b {
		b[i] ^= key[i&3]
	}
}

// ── Decoder state machine ───────────────────────────────────────────────────

type decodeState uint8

const (
	stateHeader decodeState = iota
	stateExtLen
	stateMask
	statePayload
	stateComplete
)

// frameDecoder assembles one frame from byte chunks. need reports how many
// bytes the current state wants; feed consumes exactly that many and
// advances. It does no I/O itself, so it works the same over blocking reads
// or an event loop that buffers until need is satisfied. The payload chunk
// is retained, not copied.
type frameDecoder struct {
	state   decodeState
	max     uint64
	fin     bool
	opcode  byte
	masked  bool
	lenCode byte
	length  uint64
	key     [4]byte
	payload []byte
}

func (d *frameDecoder) reset() {
	*d = frameDecoder{max: d.max}
}

func (d *frameDecoder) need() int {
	switch d.state {
	case stateHeader:
		return 2
	case stateExtLen:
		if d.lenCode == len16 {
			return 2
		}
		return 8
	case stateMask:
		return 4
	case statePayload:
		return int(d.length)
	default:
		return 0
	}
}

func (d *frameDecoder) feed(b []byte) error {
	switch d.state {
	case stateHeader:
		d.fin = b[0]&finBit != 0
		d.opcode = b[0] & 0x0F
		d.masked = b[1]&maskBit != 0
		d.lenCode = b[1] & 0x7F

		if d.opcode == OpClose {
			return ErrPeerClosed
		}
		if !d.fin || d.opcode != OpText {
			return fmt.Errorf("%w: fin=%t opcode=0x%x", ErrUnsupportedFrame, d.fin, d.opcode)
		}
		if d.lenCode >= len16 {
			d.state = stateExtLen
			return nil
		}
		d.length = uint64(d.lenCode)
		return d.afterLength()

	case stateExtLen:
		if d.lenCode == len16 {
			d.length = uint64(binary.BigEndian.Uint16(b))
		} else {
			d.length = binary.BigEndian.Uint64(b)
		}
		return d.afterLength()

	case stateMask:
		copy(d.key[:], b)
		d.state = statePayload
		if d.length == 0 {
			d.state = stateComplete
		}
		return nil

	case statePayload:
		d.payload = b
		if d.masked {
			maskBytes(d.payload, d.key)
		}
		d.state = stateComplete
		return nil
	}
	return nil
}

func (d *frameDecoder) afterLength() error {
	if d.length > d.max {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, d.length, d.max)
	}
	switch {
	case d.masked:
		d.state = stateMask
	case d.length == 0:
		d.state = stateComplete
	default:
		d.state = statePayload
	}
	return nil
}

// Decoder reads successive text frames from r.
type Decoder struct {
	r   io.Reader
	fd  frameDecoder
	buf [8]byte
}

// NewDecoder returns a Decoder that refuses payloads above maxPayload bytes.
// A non-positive maxPayload selects DefaultMaxPayload.
func NewDecoder(r io.Reader, maxPayload int64) *Decoder {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}
	return &Decoder{r: r, fd: frameDecoder{max: uint64(maxPayload)}}
}

// Decode blocks until one complete text frame has been read and returns its
// unmasked payload. Partial reads are retried until the declared length is
// satisfied; a read that ends early yields ErrPeerClosed.
func (d *Decoder) Decode() ([]byte, error) {
	d.fd.reset()
	for d.fd.state != stateComplete {
		n := d.fd.need()
		var chunk []byte
		if d.fd.state == statePayload {
			// feed keeps the payload slice, so it needs its own backing array.
			chunk = make([]byte, n)
		} else {
			chunk = d.buf[:n]
		}
		if _, err := io.ReadFull(d.r, chunk); err != nil {
			return nil, readError(err)
		}
		if err := d.fd.feed(chunk); err != nil {
			return nil, err
		}
	}
	payload := d.fd.payload
	if payload == nil {
		payload = []byte{}
	}
	return payload, nil
}

// DecodeFrame reads a single frame from r with the default payload limit.
func DecodeFrame(r io.Reader) ([]byte, error) {
	return NewDecoder(r, DefaultMaxPayload).Decode()
}

func readError(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrPeerClosed
	}
	return fmt.Errorf("%w: %w", ErrPeerClosed, err)
}
