// Package wire implements the bit-exact framed, encrypted wire protocol:
// a message header {size, type}, followed by a type-specific body, for the
// three in-stream frame types (Box, Rekey, Finish), plus the plaintext-
// prefixed initial handshake. This is component B of the transport design;
// it never sees key material — callers in infrastructure/session compute
// and verify the MAC field using infrastructure/cryptography/primitives.
package wire

import (
	"encoding/binary"
	"errors"
)

// FrameType is the 16-bit wire tag identifying a frame's body shape.
type FrameType uint16

const (
	// FrameTypeBox carries an application payload.
	FrameTypeBox FrameType = 1
	// FrameTypeRekey carries a new ephemeral public key and its signature.
	FrameTypeRekey FrameType = 2
	// FrameTypeFinish signals graceful connection closure.
	FrameTypeFinish FrameType = 3
)

const (
	// HeaderSize is len(size) + len(type), both uint16 network byte order.
	HeaderSize = 4
	// MACSize is the 256-bit MAC prefix carried on the wire for every
	// framed message.
	MACSize = 32

	// MaxBoxPayload is the largest payload a single Box frame may carry;
	// size is a uint16 so 65535 is the hard ceiling.
	MaxBoxPayload = 65535

	// RekeyBodySize is ephemeral(32) + signature(64) + monotonic_time(8).
	RekeyBodySize = 32 + 64 + 8
	// RekeyFrameSize is the total wire size of a Rekey frame.
	RekeyFrameSize = HeaderSize + MACSize + RekeyBodySize
	// FinishFrameSize is the total wire size of a Finish frame (no body).
	FinishFrameSize = HeaderSize + MACSize

	// BoxOverhead is everything in a Box frame except the payload.
	BoxOverhead = HeaderSize + MACSize
)

var (
	// ErrIncomplete is a sentinel (not a protocol error): the buffer does
	// not yet hold a full frame. Callers should wait for more bytes.
	ErrIncomplete = errors.New("wire: incomplete frame")

	// ErrMalformedFrame covers an unknown type tag or a size field that
	// contradicts the frame type's fixed size. Per spec.md §7 this is
	// policy FINISHING, never a panic.
	ErrMalformedFrame = errors.New("wire: malformed frame")
)

// Frame is the sum type decoded frames are returned as. Switch on the
// concrete type (*Box, *Rekey, *Finish) to dispatch.
type Frame interface {
	frameType() FrameType
}

func putHeader(dst []byte, size uint16, typ FrameType) {
	binary.BigEndian.PutUint16(dst[0:2], size)
	binary.BigEndian.PutUint16(dst[2:4], uint16(typ))
}

func getHeader(src []byte) (size uint16, typ FrameType) {
	return binary.BigEndian.Uint16(src[0:2]), FrameType(binary.BigEndian.Uint16(src[2:4]))
}

// ParseNext attempts to decode exactly one frame from the front of buf. It
// returns the decoded frame and the number of bytes it consumed. If buf
// does not yet hold a complete frame, it returns ErrIncomplete and the
// caller must not advance its cursor. An unknown type tag or an
// inconsistent size field returns ErrMalformedFrame.
func ParseNext(buf []byte) (Frame, int, error) {
	if len(buf) < HeaderSize {
		return nil, 0, ErrIncomplete
	}
	size, typ := getHeader(buf)

	switch typ {
	case FrameTypeBox:
		return decodeBox(buf, size)
	case FrameTypeRekey:
		return decodeRekey(buf, size)
	case FrameTypeFinish:
		return decodeFinish(buf, size)
	default:
		return nil, 0, ErrMalformedFrame
	}
}
