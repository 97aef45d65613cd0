// Package protocol defines the flat wire envelope exchanged between the agent
// and the collector. One envelope travels as one WebSocket text frame:
//
//	<type:int>|<timestamp:uint64>|<hostname>|<payload-to-end-of-record>
package protocol

import (
	"bytes"
	"strconv"
)

// Delimiter separates the envelope fields on the wire.
const Delimiter = '|'

// MessageType identifies what an envelope carries.
type MessageType uint8

const (
	Heartbeat MessageType = 0x01
	Metrics   MessageType = 0x02
	Alert     MessageType = 0x03
	Command   MessageType = 0x04
	Response  MessageType = 0x05
)

// String returns the lower-case name used in logs and metric labels.
func (t MessageType) String() string {
	switch t {
	case Heartbeat:
		return "heartbeat"
	case Metrics:
		return "metrics"
	case Alert:
		return "alert"
	case Command:
		return "command"
	case Response:
		return "response"
	default:
		return "unknown"
	}
}

// Envelope is one wire message. Payload is the literal remainder of the
// record and may itself contain Delimiter.
type Envelope struct {
	Type      MessageType
	Timestamp uint64
	Hostname  string
	Payload   string
}

// Serialize joins the fields in fixed order. The payload is appended verbatim.
func Serialize(e Envelope) []byte {
	buf := make([]byte, 0, len(e.Hostname)+len(e.Payload)+24)
	buf = strconv.AppendUint(buf, uint64(e.Type), 10)
	buf = append(buf, Delimiter)
	buf = strconv.AppendUint(buf, e.Timestamp, 10)
	buf = append(buf, Delimiter)
	buf = append(buf, e.Hostname...)
	buf = append(buf, Delimiter)
	buf = append(buf, e.Payload...)
	return buf
}

// Deserialize splits data on the first three delimiters; everything after the
// third is payload. It never fails: missing or non-numeric fields are left at
// their zero value, so a returned Envelope is no proof of well-formed input.
func Deserialize(data []byte) Envelope {
	var e Envelope
	fields := bytes.SplitN(data, []byte{Delimiter}, 4)

	if len(fields) > 0 {
		if v, err := strconv.ParseUint(string(fields[0]), 10, 8); err == nil {
			e.Type = MessageType(v)
		}
	}
	if len(fields) > 1 {
		if v, err := strconv.ParseUint(string(fields[1]), 10, 64); err == nil {
			e.Timestamp = v
		}
	}
	if len(fields) > 2 {
		e.Hostname = string(fields[2])
	}
	if len(fields) > 3 {
		e.Payload = string(fields[3])
	}
	return e
}

// WellFormed reports whether data carries all four fields with numeric type
// and timestamp. Callers that must distinguish garbage from a best-effort
// envelope use this before trusting Deserialize.
func WellFormed(data []byte) bool {
	fields := bytes.SplitN(data, []byte{Delimiter}, 4)
	if len(fields) != 4 {
		return false
	}
	if _, err := strconv.ParseUint(string(fields[0]), 10, 8); err != nil {
		return false
	}
	_, err := strconv.ParseUint(string(fields[1]), 10, 64)
	return err == nil
}
