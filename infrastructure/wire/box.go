package wire

// Box is the payload-carrier frame. Unlike conventional length-prefixed
// framing, Size denotes the payload length excluding the 4-byte header and
// the 32-byte MAC — spec.md §4.2 calls this out explicitly as a deviation
// worth a second look.
type Box struct {
	MAC     [MACSize]byte
	Payload []byte
}

func (*Box) frameType() FrameType { return FrameTypeBox }

// EncodeBox serializes a Box frame into dst, which must be at least
// BoxOverhead+len(payload) bytes. It returns the number of bytes written.
// The caller is responsible for computing mac (over payload bytes only,
// per spec.md §4.2) before calling EncodeBox.
func EncodeBox(dst []byte, mac [MACSize]byte, payload []byte) (int, error) {
	if len(payload) > MaxBoxPayload {
		return 0, ErrMalformedFrame
	}
	need := BoxOverhead + len(payload)
	if len(dst) < need {
		return 0, ErrIncomplete
	}
	putHeader(dst, uint16(len(payload)), FrameTypeBox)
	copy(dst[HeaderSize:HeaderSize+MACSize], mac[:])
	copy(dst[HeaderSize+MACSize:need], payload)
	return need, nil
}

// BoxMACInput returns the bytes a Box frame's MAC is computed over: the
// payload alone, not the header and not the mac field itself.
func BoxMACInput(payload []byte) []byte {
	return payload
}

func decodeBox(buf []byte, size uint16) (Frame, int, error) {
	total := HeaderSize + MACSize + int(size)
	if len(buf) < total {
		return nil, 0, ErrIncomplete
	}
	b := &Box{}
	copy(b.MAC[:], buf[HeaderSize:HeaderSize+MACSize])
	b.Payload = append([]byte(nil), buf[HeaderSize+MACSize:total]...)
	return b, total, nil
}
