// Package queue implements components D and E of the transport design: the
// bidirectional buffer pipeline (ciphertext-in -> plaintext-in -> upstream,
// upstream -> plaintext-out -> ciphertext-out) and the per-connection state
// machine built on top of it (PROTO is handled by ProtoQueue; LIVE,
// FINISHING, DESTROYED-PENDING are states of Queue).
//
// Grounded on the teacher's generic session-repository pattern
// (infrastructure/routing/server_routing/session_management) for the
// map-keyed multimap shape reused by QueueMap, and on the teacher's
// handshake/rekey packages for the general buffer-offset bookkeeping style;
// the inbound/outbound tick logic itself is new, since the teacher's TUN
// packet pipe has no equivalent of a rekey-boundary-safe decrypt loop.
package queue

import (
	"crypto/ed25519"
	"errors"
	"net"
	"sync/atomic"
	"time"

	"meshline/domain"
	"meshline/infrastructure/cryptography/primitives"
	"meshline/infrastructure/session"
	"meshline/infrastructure/wire"
)

// State is a connection's position in the E state machine (PROTO is
// represented by the separate ProtoQueue type, not by this enum).
type State int

const (
	StateLive State = iota
	StateFinishing
	StateDestroyedPending
)

func (s State) String() string {
	switch s {
	case StateLive:
		return "LIVE"
	case StateFinishing:
		return "FINISHING"
	case StateDestroyedPending:
		return "DESTROYED-PENDING"
	default:
		return "UNKNOWN"
	}
}

const (
	// cbufSize is BUF_SIZE from spec.md §4.4: 2 * max Box payload + a box
	// header's worth of headroom, so a rekey frame plus trailing ciphertext
	// from the next key never has to be held anywhere else.
	cbufSize = 2*wire.MaxBoxPayload + wire.BoxOverhead
	// pbufSize holds one fully decrypted Box payload plus header overhead.
	pbufSize = wire.MaxBoxPayload + wire.BoxOverhead
)

var (
	ErrMACMismatch  = errors.New("queue: mac verification failed")
	ErrSignatureBad = errors.New("queue: signature verification failed")
)

// CompletionFunc is invoked by the upstream adapter once it has finished
// processing a delivered payload. It decrements backpressure. When the
// Queue is wired to a scheduler (ScheduleCompletion is set), the decrement,
// any re-arming of a reader suspended for backpressure, and freeing a
// DESTROYED-PENDING queue whose backpressure has now drained all happen on
// the reactor goroutine rather than on the caller's; a bare Queue with no
// scheduler attached decrements Backpressure directly instead.
type CompletionFunc func()

// Queue is one active encrypted session to one peer over one TCP
// connection (spec.md §3's "Queue").
type Queue struct {
	Target domain.PeerIdentity
	Conn   net.Conn

	InCipher  *session.CipherState
	OutCipher *session.CipherState

	// OurIdentityPriv/OurIdentityPub sign and name this side's long-term
	// key, needed to build the next Rekey frame.
	OurIdentityPriv ed25519.PrivateKey
	OurIdentityPub  domain.PeerIdentity

	// Outbound is true for a Queue created by dialing a peer, false for one
	// that arrived via a listener's accept path. Purely informational: it
	// feeds the upstream adapter's add_queue direction argument and is
	// never read by InboundTick/OutboundTick.
	Outbound bool

	cread     []byte
	creadOff  int
	pread     []byte
	preadOff  int
	pwrite    []byte
	pwriteOff int
	cwrite    []byte
	cwriteOff int

	RekeyLeftBytes uint64
	RekeyDeadline  time.Time
	RekeyInterval  time.Duration
	RekeyMaxBytes  uint64
	Timeout        time.Time
	IdleWindow     time.Duration

	Backpressure int64

	State            State
	MQAwaitsContinue bool

	// ReadPending/WritePending track whether a gaio Read/Write is currently
	// outstanding for this Queue. Scheduler-owned bookkeeping, mutated only
	// on the reactor goroutine, so that a read or write already in flight is
	// never submitted a second time from a different dispatch path.
	ReadPending  bool
	WritePending bool

	// OutboundTickPending dedupes ScheduleOutboundTick wakeups: Submit may
	// be called well before the reactor gets around to running the tick it
	// requested, and a second Submit (once NotifyContinue permits one)
	// should not queue a second wakeup for the same queue.
	OutboundTickPending atomic.Bool

	// Deliver is called once per fully received, MAC-verified Box payload.
	// It must eventually call the supplied CompletionFunc.
	Deliver func(payload []byte, complete CompletionFunc)

	// NotifyContinue is called when pwrite_buf has drained and upstream may
	// submit its next message (mq_awaits_continue, spec.md §4.4).
	NotifyContinue func()

	// ScheduleOutboundTick, set by the scheduler once the Queue is LIVE, asks
	// the reactor to run an outbound tick for this queue (spec.md §4.4
	// upstream-submit: "schedule an outbound tick if not already
	// scheduled"). Submit calls it after appending to pwrite_buf. Left nil
	// for a bare Queue used outside a scheduler.
	ScheduleOutboundTick func()

	// ScheduleCompletion, set by the scheduler once the Queue is LIVE, hands
	// a Box's CompletionFunc off to the reactor instead of letting it run on
	// whatever goroutine the upstream calls it from. Left nil for a bare
	// Queue used outside a scheduler, in which case CompletionFunc
	// decrements Backpressure directly.
	ScheduleCompletion func()

	// Replay, when non-nil, rejects rekeys whose monotonic_time does not
	// strictly advance (spec.md §9 OQ2).
	Replay *session.ReplayStore
}

// New constructs a Queue in the LIVE state with freshly sized buffers.
func New(conn net.Conn, target domain.PeerIdentity, in, out *session.CipherState, idleWindow, rekeyInterval time.Duration, rekeyMaxBytes uint64) *Queue {
	now := time.Now()
	return &Queue{
		Target:         target,
		Conn:           conn,
		InCipher:       in,
		OutCipher:      out,
		cread:          make([]byte, cbufSize),
		pread:          make([]byte, pbufSize),
		pwrite:         make([]byte, pbufSize),
		cwrite:         make([]byte, cbufSize),
		State:          StateLive,
		Timeout:        now.Add(idleWindow),
		IdleWindow:     idleWindow,
		RekeyDeadline:  now.Add(rekeyInterval),
		RekeyInterval:  rekeyInterval,
		RekeyMaxBytes:  rekeyMaxBytes,
		RekeyLeftBytes: rekeyMaxBytes,
	}
}

// PrimeOutbound copies raw, already-encrypted bytes directly into
// cwrite_buf ahead of any other traffic. It exists solely for the initial
// handshake frame, whose ephemeral prefix is plaintext and whose
// Confirmation is encrypted under OutCipher before Queue ever existed
// (session.BuildHandshakeOut does both), so it must not be re-encrypted by
// enqueueCiphertext. Callers must invoke it at most once, immediately after
// New, before any tick has run.
func (q *Queue) PrimeOutbound(frame []byte) {
	q.cwriteOff = copy(q.cwrite, frame)
}

// ReadSlice returns the free suffix of cread_buf a scheduler should read
// socket data into. A zero-length slice means the buffer is full and
// reading must be suspended (invariant: cread_off never exceeds BUF_SIZE).
func (q *Queue) ReadSlice() []byte {
	return q.cread[q.creadOff:]
}

// ReadSuspended reports whether cread_buf is currently full.
func (q *Queue) ReadSuspended() bool {
	return q.creadOff >= len(q.cread)
}

// InboundTick processes n freshly read ciphertext bytes appended at
// cread_off (the caller must have read into ReadSlice() first). It
// decrypts, parses and dispatches frames per spec.md §4.4's inbound-tick
// algorithm, including the rekey boundary rule (invariant 6): ciphertext
// that follows a Rekey frame within the same tick is never decrypted under
// the cipher that the Rekey frame replaced.
func (q *Queue) InboundTick(n int) error {
	q.creadOff += n
	q.Timeout = time.Now().Add(q.IdleWindow)

	for q.preadOff < len(q.pread) && q.creadOff > 0 {
		oldPreadOff := q.preadOff
		free := len(q.pread) - q.preadOff
		step := free
		if q.creadOff < step {
			step = q.creadOff
		}

		if step > 0 {
			q.InCipher.Transform(q.pread[oldPreadOff:oldPreadOff+step], q.cread[:step])
			q.preadOff = oldPreadOff + step
		}

		consumed := 0
		rekeyedThisRound := false
		destroyedThisRound := false

		for {
			frame, n, err := wire.ParseNext(q.pread[:q.preadOff])
			if errors.Is(err, wire.ErrIncomplete) {
				break
			}
			if err != nil {
				q.BeginFinishing()
				return err
			}

			copy(q.pread, q.pread[n:q.preadOff])
			q.preadOff -= n
			consumed += n

			switch f := frame.(type) {
			case *wire.Box:
				if !q.InCipher.VerifyMAC(wire.BoxMACInput(f.Payload), f.MAC) {
					q.BeginFinishing()
					return ErrMACMismatch
				}
				q.Backpressure++
				if q.Deliver != nil {
					q.Deliver(f.Payload, func() {
						if q.ScheduleCompletion != nil {
							q.ScheduleCompletion()
							return
						}
						q.Backpressure--
					})
				}
			case *wire.Rekey:
				if !session.VerifyRekeyFrame(q.Target, q.OurIdentityPub, f, q.InCipher) {
					q.BeginFinishing()
					return ErrSignatureBad
				}
				if q.Replay != nil && !q.Replay.Check(q.Target, f.MonotonicTime) {
					q.BeginFinishing()
					return ErrSignatureBad
				}
				newIn, err := session.SetupIn(q.OurIdentityPriv, q.OurIdentityPub, f.Ephemeral)
				if err != nil {
					q.BeginFinishing()
					return err
				}
				q.InCipher = newIn
				rekeyedThisRound = true
			case *wire.Finish:
				if !q.InCipher.VerifyMAC(wire.FinishMACInput(), f.MAC) {
					q.BeginFinishing()
					return ErrMACMismatch
				}
				destroyedThisRound = true
			}

			if rekeyedThisRound || destroyedThisRound {
				break
			}
		}

		shift := step
		if rekeyedThisRound {
			shift = consumed - oldPreadOff
			q.preadOff = 0
		}

		copy(q.cread, q.cread[shift:q.creadOff])
		q.creadOff -= shift

		if destroyedThisRound {
			q.State = StateDestroyedPending
			return nil
		}
		if shift == 0 {
			break
		}
	}

	return nil
}

// BeginFinishing transitions to FINISHING: a Finish frame overwrites any
// pending plaintext (invariant 4) and further upstream submits are
// dropped by Submit.
func (q *Queue) BeginFinishing() {
	if q.State != StateLive {
		return
	}
	q.State = StateFinishing
	q.pwriteOff = 0
	mac := q.OutCipher.ComputeMAC(wire.FinishMACInput())
	buf := make([]byte, wire.FinishFrameSize)
	_, _ = wire.EncodeFinish(buf, mac)
	q.enqueueCiphertext(buf)
}

// Submit appends an upstream application message to pwrite_buf as a Box
// frame (spec.md §4.4 "upstream submit"). Precondition: pwrite_off == 0 and
// the queue is LIVE. A message submitted once the queue has left LIVE is
// dropped and Submit returns nil; one submitted while pwrite_buf still
// holds an earlier message is refused with an error.
func (q *Queue) Submit(msg []byte) error {
	if q.State != StateLive {
		return nil
	}
	if q.pwriteOff != 0 {
		return errors.New("queue: submit called with pwrite_buf non-empty")
	}
	if len(msg) > wire.MaxBoxPayload {
		return errors.New("queue: message exceeds max box payload")
	}
	mac := q.OutCipher.ComputeMAC(wire.BoxMACInput(msg))
	n, err := wire.EncodeBox(q.pwrite[q.pwriteOff:], mac, msg)
	if err != nil {
		return err
	}
	q.pwriteOff += n
	q.MQAwaitsContinue = true
	if q.ScheduleOutboundTick != nil && q.OutboundTickPending.CompareAndSwap(false, true) {
		q.ScheduleOutboundTick()
	}
	return nil
}

// Cancel drops the currently unsent plaintext (mq_cancel, spec.md §4.7). A
// no-op when pwrite_off is already zero (P8).
func (q *Queue) Cancel() {
	q.pwriteOff = 0
	q.MQAwaitsContinue = false
}

func (q *Queue) enqueueCiphertext(plain []byte) {
	if q.cwriteOff+len(plain) > len(q.cwrite) {
		return
	}
	q.OutCipher.Transform(q.cwrite[q.cwriteOff:q.cwriteOff+len(plain)], plain)
	q.cwriteOff += len(plain)
}

// WriteSlice returns the pending ciphertext a scheduler should write to the
// socket.
func (q *Queue) WriteSlice() []byte {
	return q.cwrite[:q.cwriteOff]
}

// OutboundTick accounts for nSent freshly written ciphertext bytes, then
// runs the rest of spec.md §4.4's outbound-tick algorithm: encrypting
// pending plaintext, triggering a rekey when the budget or deadline is
// exhausted, notifying upstream it may continue, and reporting whether the
// queue is now ready to be destroyed.
func (q *Queue) OutboundTick(nSent int) (destroy bool, err error) {
	if nSent > 0 {
		copy(q.cwrite, q.cwrite[nSent:q.cwriteOff])
		q.cwriteOff -= nSent
		q.Timeout = time.Now().Add(q.IdleWindow)
	}

	if q.pwriteOff > 0 && q.cwriteOff+q.pwriteOff <= len(q.cwrite) {
		q.enqueueCiphertext(q.pwrite[:q.pwriteOff])
		if q.RekeyLeftBytes > uint64(q.pwriteOff) {
			q.RekeyLeftBytes -= uint64(q.pwriteOff)
		} else {
			q.RekeyLeftBytes = 0
		}
		q.pwriteOff = 0
	}

	if q.pwriteOff == 0 && q.State == StateLive && (q.RekeyLeftBytes == 0 || !time.Now().Before(q.RekeyDeadline)) {
		if err := q.emitRekey(); err != nil {
			return false, err
		}
	}

	if q.pwriteOff == 0 && q.State == StateLive && q.MQAwaitsContinue {
		q.MQAwaitsContinue = false
		if q.NotifyContinue != nil {
			q.NotifyContinue()
		}
	}

	if q.cwriteOff == 0 && q.State == StateFinishing {
		q.State = StateDestroyedPending
	}

	return q.State == StateDestroyedPending && q.Backpressure == 0, nil
}

// emitRekey implements Rekey-out (spec.md §4.3): a fresh ephemeral is
// generated, signed into a Rekey frame under the current outbound cipher,
// then Setup-out installs the new outbound cipher and rekey schedule.
func (q *Queue) emitRekey() error {
	ephPriv, ephPub, err := primitives.GenerateEphemeral()
	if err != nil {
		return err
	}

	frameBytes, err := session.BuildRekeyFrame(q.OurIdentityPriv, q.OurIdentityPub, q.Target, ephPub, time.Now(), q.OutCipher)
	if err != nil {
		return err
	}
	q.enqueueCiphertext(frameBytes)

	out, err := session.SetupOut(ephPriv, q.Target, time.Now(), q.RekeyInterval, q.RekeyMaxBytes)
	for i := range ephPriv {
		ephPriv[i] = 0
	}
	if err != nil {
		return err
	}

	q.OutCipher = out.Cipher
	q.RekeyDeadline = out.RekeyDeadline
	q.RekeyLeftBytes = out.RekeyLeftBytes
	return nil
}
