package wire

// Finish is the graceful-closure frame: a header and a MAC, no payload.
type Finish struct {
	MAC [MACSize]byte
}

func (*Finish) frameType() FrameType { return FrameTypeFinish }

// EncodeFinish serializes a Finish frame into dst, which must be at least
// FinishFrameSize bytes.
func EncodeFinish(dst []byte, mac [MACSize]byte) (int, error) {
	if len(dst) < FinishFrameSize {
		return 0, ErrIncomplete
	}
	putHeader(dst, 0, FrameTypeFinish)
	copy(dst[HeaderSize:HeaderSize+MACSize], mac[:])
	return FinishFrameSize, nil
}

// FinishMACInput returns the bytes a Finish frame's MAC is computed over:
// its own header with a zeroed MAC field. Source note (OQ1): an earlier
// implementation of this protocol computed the Finish MAC over what looks
// like the Rekey send buffer; every frame here is built from its own
// buffer, so that mistake cannot occur structurally.
func FinishMACInput() []byte {
	buf := make([]byte, HeaderSize+MACSize)
	putHeader(buf, 0, FrameTypeFinish)
	return buf
}

func decodeFinish(buf []byte, size uint16) (Frame, int, error) {
	if size != 0 {
		return nil, 0, ErrMalformedFrame
	}
	if len(buf) < FinishFrameSize {
		return nil, 0, ErrIncomplete
	}
	f := &Finish{}
	copy(f.MAC[:], buf[HeaderSize:HeaderSize+MACSize])
	return f, FinishFrameSize, nil
}
