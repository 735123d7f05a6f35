package queue

import (
	"crypto/ed25519"
	"net"
	"time"

	"meshline/domain"
	"meshline/infrastructure/session"
	"meshline/infrastructure/wire"
)

// handshakeSize is the fixed size of the plaintext-prefixed initial
// handshake: a 32-byte ephemeral public key followed by a 104-byte
// encrypted Confirmation (spec.md §6).
const handshakeSize = 32 + domain.ConfirmationSize

// ProtoQueue is an inbound connection that has not yet completed its
// initial handshake (spec.md §3's "ProtoQueue"). It exists only on the
// accept path; outbound (dialed) connections start directly as a Queue.
type ProtoQueue struct {
	Conn     net.Conn
	Addr     net.Addr
	buf      [handshakeSize]byte
	off      int
	Deadline time.Time
}

// NewProtoQueue starts a ProtoQueue's ~1-minute handshake timeout.
func NewProtoQueue(conn net.Conn, timeout time.Duration) *ProtoQueue {
	return &ProtoQueue{
		Conn:     conn,
		Addr:     conn.RemoteAddr(),
		Deadline: time.Now().Add(timeout),
	}
}

// ReadSlice returns the free suffix of the fixed handshake buffer.
func (p *ProtoQueue) ReadSlice() []byte {
	return p.buf[p.off:]
}

// Complete reports whether the full plaintext-prefixed handshake has been
// received.
func (p *ProtoQueue) Complete() bool {
	return p.off >= handshakeSize
}

// Feed records n freshly read bytes.
func (p *ProtoQueue) Feed(n int) {
	p.off += n
}

// Promote verifies the received Confirmation against ourIdentityPub and,
// on success, derives the inbound cipher and returns the peer identity the
// caller should now register under. It does not yet derive the outbound
// cipher: the caller completes the outbound half of the initial handshake
// (our own ephemeral and signed Confirmation) separately, since that is
// symmetric with the dialer's outbound setup rather than specific to
// promotion.
func Promote(p *ProtoQueue, ourIdentityPriv ed25519.PrivateKey, ourIdentityPub domain.PeerIdentity, replay *session.ReplayStore) (domain.PeerIdentity, *session.CipherState, error) {
	ephemeral, confirmationCT, err := wire.SplitHandshake(p.buf[:])
	if err != nil {
		return domain.PeerIdentity{}, nil, err
	}
	peer, in, err := session.VerifyHandshakeIn(ourIdentityPriv, ourIdentityPub, ephemeral, confirmationCT, replay)
	if err != nil {
		return domain.PeerIdentity{}, nil, ErrSignatureBad
	}
	return peer, in, nil
}
