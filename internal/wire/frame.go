// Package wire implements the CRDT channel's binary frame protocol: a
// varuint type prefix followed by a length-prefixed body, and the sync
// sub-protocol carried inside type-0 frames. It is the binary counterpart
// of package control's JSON envelope, both descended from the teacher's
// tunnelproto message envelope idiom.
package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
)

// Frame types, per the CRDT channel wire format.
const (
	FrameSync      byte = 0
	FrameAwareness byte = 1
	FrameFileOp    byte = 2
)

// Sync sub-message steps.
const (
	SyncStep1  byte = 0 // state-vector query
	SyncStep2  byte = 1 // update reply to a step-1 query
	SyncUpdate byte = 2 // incremental update broadcast
)

// MaxCRDTFrameSize is the inbound frame cap on the CRDT channel; exceeding
// it terminates the connection.
const MaxCRDTFrameSize = 10 << 20

// MaxControlFrameSize is the inbound frame cap on the control channel.
const MaxControlFrameSize = 1 << 20

var ErrTruncatedFrame = errors.New("wire: truncated frame")
var ErrFrameTooLarge = errors.New("wire: frame exceeds maximum size")

// EncodeFrame prepends a varuint type and varuint length to body.
func EncodeFrame(frameType byte, body []byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte(frameType)
	var lenBuf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(lenBuf[:], uint64(len(body)))
	buf.Write(lenBuf[:n])
	buf.Write(body)
	return buf.Bytes()
}

// DecodeFrame reads one type-prefixed, length-prefixed frame from data and
// returns the type, the body, and the number of bytes consumed.
func DecodeFrame(data []byte) (frameType byte, body []byte, consumed int, err error) {
	if len(data) < 1 {
		return 0, nil, 0, ErrTruncatedFrame
	}
	frameType = data[0]
	bodyLen, n := binary.Uvarint(data[1:])
	if n <= 0 {
		return 0, nil, 0, ErrTruncatedFrame
	}
	if bodyLen > MaxCRDTFrameSize {
		return 0, nil, 0, ErrFrameTooLarge
	}
	start := 1 + n
	end := start + int(bodyLen)
	if end > len(data) {
		return 0, nil, 0, ErrTruncatedFrame
	}
	return frameType, data[start:end], end, nil
}

// SyncMessage is the sub-message carried inside a type-0 sync frame.
type SyncMessage struct {
	Step    byte
	Payload []byte
}

// EncodeSync encodes a sync sub-message: one step byte followed by the raw
// payload (the frame's own length prefix already bounds it).
func EncodeSync(step byte, payload []byte) []byte {
	out := make([]byte, 1+len(payload))
	out[0] = step
	copy(out[1:], payload)
	return out
}

// DecodeSync decodes a sync sub-message from a frame body.
func DecodeSync(body []byte) (SyncMessage, error) {
	if len(body) < 1 {
		return SyncMessage{}, ErrTruncatedFrame
	}
	return SyncMessage{Step: body[0], Payload: body[1:]}, nil
}
