// Package scheduler implements component H: a single-threaded cooperative
// event loop driving every Queue and ProtoQueue's I/O, built on
// github.com/xtaci/gaio for non-blocking socket readiness multiplexing.
//
// Grounded on yuzhou8787-bdls/agent-tcp/agent.go's gaio usage (a dedicated
// accept goroutine feeding new connections to the consensus engine, and a
// single WaitIO loop dispatching read/write completions by a Context value
// attached to each request) — generalized here so that the accept and
// dial paths post their results through channels into one reactor
// goroutine instead of mutating agent state directly, which is what lets
// meshline honor spec.md §5's "no callback preempts another; no shared
// mutable state across threads" guarantee for the Queue/ProtoQueue tables
// while still using a library (not hand-rolled epoll) for readiness.
package scheduler

import (
	"context"
	"crypto/ed25519"
	"errors"
	"io"
	"log"
	"time"

	"github.com/xtaci/gaio"

	"meshline/domain"
	"meshline/infrastructure/queue"
	"meshline/infrastructure/session"
	"meshline/infrastructure/transport"
)

// ioRole distinguishes what a completed gaio operation's ctx value
// represents, since ProtoQueues, in-progress dials and live Queues all
// travel through the same watcher.
type ioRole int

const (
	roleProtoRead ioRole = iota
	roleQueueRead
	roleQueueWrite
	roleDialWrite
	roleDialRead
)

type ioCtx struct {
	role ioRole
	pq   *queue.ProtoQueue
	q    *queue.Queue
	d    *pendingDial
}

// pendingDial tracks one outbound connection from the moment Dial returns
// a connected socket until the peer's half of the handshake has been
// received and verified.
type pendingDial struct {
	peer    domain.PeerIdentity
	ho      session.HandshakeOut
	writeN  int
	pq      *queue.ProtoQueue
	resultC chan error
}

// UpstreamService is component G's contract as consumed by the scheduler:
// registration/deregistration of Queues as they become LIVE or are freed.
// Message delivery and submission flow through the upstream package
// directly against a *queue.Queue, not through this interface.
type UpstreamService interface {
	Register(q *queue.Queue)
	Deregister(q *queue.Queue)
}

// Config holds the tunables of spec.md §6.
type Config struct {
	MaxQueueLength int64
	RekeyInterval  time.Duration
	RekeyMaxBytes  uint64
	IdleWindow     time.Duration
	ProtoTimeout   time.Duration
}

// Scheduler owns every piece of global mutable state spec.md §9 says to
// group into a single context: the QueueMap, the ProtoQueueList, the
// listener set, and (by reference) the upstream handle and long-term
// keypair.
type Scheduler struct {
	cfg       Config
	watcher   *gaio.Watcher
	listeners []*transport.Listener
	dialer    transport.Dialer
	queues    *queue.Map
	protos    *queue.ProtoList
	upstream  UpstreamService
	replay    *session.ReplayStore

	identityPriv ed25519.PrivateKey
	identityPub  domain.PeerIdentity

	resumeSignal chan struct{}
	dialReqs     chan dialRequest
	shutdownReqs chan chan error
	submitReqs   chan *queue.Queue
	completions  chan *queue.Queue

	shuttingDown   bool
	shutdownResult chan error
}

type dialRequest struct {
	peer    domain.PeerIdentity
	addr    string
	resultC chan error
}

// New constructs a Scheduler. identityPriv/identityPub are this node's
// long-term keypair, used to complete every inbound and outbound
// handshake.
func New(cfg Config, upstream UpstreamService, replay *session.ReplayStore, identityPriv ed25519.PrivateKey, identityPub domain.PeerIdentity) (*Scheduler, error) {
	w, err := gaio.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		cfg:          cfg,
		watcher:      w,
		dialer:       transport.Dialer{Timeout: 10 * time.Second},
		queues:       queue.NewMap(),
		protos:       queue.NewProtoList(),
		upstream:     upstream,
		replay:       replay,
		identityPriv: identityPriv,
		identityPub:  identityPub,
		resumeSignal: make(chan struct{}, 16),
		dialReqs:     make(chan dialRequest, 16),
		shutdownReqs: make(chan chan error, 1),
		submitReqs:   make(chan *queue.Queue, 64),
		completions:  make(chan *queue.Queue, 256),
	}, nil
}

// AddListener registers a Listener and starts its dedicated accept
// goroutine, which only ever calls Accept and forwards results; all
// consequent state mutation happens on the reactor goroutine in Run.
func (s *Scheduler) AddListener(ln *transport.Listener) {
	s.listeners = append(s.listeners, ln)
	go s.acceptLoop(ln)
}

func (s *Scheduler) acceptLoop(ln *transport.Listener) {
	for {
		if ln.Paused() {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		conn, outcome := ln.Accept()
		switch outcome {
		case transport.AcceptOK:
			pq := queue.NewProtoQueue(conn, s.cfg.ProtoTimeout)
			s.protos.Add(pq)
			if err := s.watcher.Read(ioCtx{role: roleProtoRead, pq: pq}, conn, pq.ReadSlice()); err != nil {
				conn.Close()
				s.protos.Remove(pq)
			}
		case transport.AcceptExhausted:
			time.Sleep(10 * time.Millisecond)
		case transport.AcceptTransient:
			continue
		case transport.AcceptFatal:
			log.Printf("scheduler: listener %s accept failed fatally, stopping accept loop", ln.Addr())
			return
		}
	}
}

// Dial asks the scheduler to open an outbound connection to peer at addr
// (already stripped of the tcp- prefix by transport.ParseAddress). It
// blocks until the connection is either LIVE or has failed.
func (s *Scheduler) Dial(ctx context.Context, peer domain.PeerIdentity, addr string) error {
	req := dialRequest{peer: peer, addr: addr, resultC: make(chan error, 1)}
	select {
	case s.dialReqs <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.resultC:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run is the reactor loop. It blocks until ctx is cancelled or the watcher
// is closed.
func (s *Scheduler) Run(ctx context.Context) error {
	sweep := time.NewTicker(time.Second)
	defer sweep.Stop()
	defer s.watcher.Close()

	go func() {
		<-ctx.Done()
		s.watcher.Close()
	}()

	for {
		select {
		case req := <-s.dialReqs:
			s.startDial(req)
		case <-s.resumeSignal:
			s.resumeListeners()
		case resultC := <-s.shutdownReqs:
			s.beginShutdown(resultC)
		case q := <-s.submitReqs:
			s.onSubmit(q)
		case q := <-s.completions:
			s.onCompletion(q)
		case <-sweep.C:
			s.sweepTimeouts()
		default:
		}

		s.checkShutdownComplete()

		results, err := s.watcher.WaitIO()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("scheduler: WaitIO error, stopping reactor: %v", err)
			return err
		}
		for _, res := range results {
			s.dispatch(res)
		}
	}
}

// Shutdown implements the graceful-shutdown half of spec.md §9's
// Communicator: every LIVE queue is moved to FINISHING, and Shutdown
// blocks until they have all drained to destruction or ctx expires,
// whichever comes first. The drain itself keeps progressing on the
// reactor goroutine even past ctx's deadline; Shutdown merely stops
// waiting for it.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	resultC := make(chan error, 1)
	select {
	case s.shutdownReqs <- resultC:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-resultC:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) beginShutdown(resultC chan error) {
	s.shuttingDown = true
	s.shutdownResult = resultC
	for _, q := range s.queues.All() {
		q.BeginFinishing()
		s.armWrite(q)
	}
	for _, pq := range s.protos.All() {
		s.protos.Remove(pq)
		_ = pq.Conn.Close()
	}
}

func (s *Scheduler) checkShutdownComplete() {
	if !s.shuttingDown || s.queues.Len() > 0 {
		return
	}
	for _, ln := range s.listeners {
		_ = ln.Close()
	}
	s.shutdownResult <- nil
	s.shuttingDown = false
	s.shutdownResult = nil
}

func (s *Scheduler) resumeListeners() {
	for _, ln := range s.listeners {
		ln.Resume()
	}
}

func (s *Scheduler) dispatch(res gaio.OpResult) {
	c, ok := res.Context.(ioCtx)
	if !ok {
		return
	}
	switch c.role {
	case roleProtoRead:
		s.onProtoRead(c.pq, res)
	case roleQueueRead:
		s.onQueueRead(c.q, res)
	case roleQueueWrite:
		s.onQueueWrite(c.q, res)
	case roleDialWrite:
		s.onDialWrite(c.d, res)
	case roleDialRead:
		s.onDialRead(c.d, res)
	}
}

// --- accept path ---

func (s *Scheduler) onProtoRead(pq *queue.ProtoQueue, res gaio.OpResult) {
	if res.Error != nil {
		s.protos.Remove(pq)
		_ = pq.Conn.Close()
		return
	}
	pq.Feed(res.Size)
	if !pq.Complete() {
		if err := s.watcher.Read(ioCtx{role: roleProtoRead, pq: pq}, pq.Conn, pq.ReadSlice()); err != nil {
			s.protos.Remove(pq)
			_ = pq.Conn.Close()
		}
		return
	}

	peer, in, err := queue.Promote(pq, s.identityPriv, s.identityPub, s.replay)
	s.protos.Remove(pq)
	if err != nil {
		_ = pq.Conn.Close()
		return
	}

	ho, err := session.BuildHandshakeOut(s.identityPriv, s.identityPub, peer, time.Now(), s.cfg.RekeyInterval, s.cfg.RekeyMaxBytes)
	if err != nil {
		_ = pq.Conn.Close()
		return
	}

	q := queue.New(pq.Conn, peer, in, ho.Cipher, s.cfg.IdleWindow, s.cfg.RekeyInterval, s.cfg.RekeyMaxBytes)
	q.OurIdentityPriv = s.identityPriv
	q.OurIdentityPub = s.identityPub
	q.Replay = s.replay
	q.RekeyDeadline = ho.RekeyDeadline
	q.RekeyLeftBytes = ho.RekeyLeftBytes
	q.Outbound = false
	q.PrimeOutbound(ho.Frame)
	s.registerLive(q)
}

// --- dial path ---

func (s *Scheduler) startDial(req dialRequest) {
	conn, err := s.dialer.Dial(context.Background(), req.addr)
	if err != nil {
		req.resultC <- err
		return
	}

	ho, err := session.BuildHandshakeOut(s.identityPriv, s.identityPub, req.peer, time.Now(), s.cfg.RekeyInterval, s.cfg.RekeyMaxBytes)
	if err != nil {
		_ = conn.Close()
		req.resultC <- err
		return
	}

	d := &pendingDial{
		peer:    req.peer,
		ho:      ho,
		pq:      queue.NewProtoQueue(conn, s.cfg.ProtoTimeout),
		resultC: req.resultC,
	}
	if err := s.watcher.Write(ioCtx{role: roleDialWrite, d: d}, conn, ho.Frame); err != nil {
		_ = conn.Close()
		req.resultC <- err
	}
}

func (s *Scheduler) onDialWrite(d *pendingDial, res gaio.OpResult) {
	conn := res.Conn
	if res.Error != nil {
		_ = conn.Close()
		d.resultC <- res.Error
		return
	}
	d.writeN += res.Size
	if d.writeN < len(d.ho.Frame) {
		if err := s.watcher.Write(ioCtx{role: roleDialWrite, d: d}, conn, d.ho.Frame[d.writeN:]); err != nil {
			_ = conn.Close()
			d.resultC <- err
		}
		return
	}
	if err := s.watcher.Read(ioCtx{role: roleDialRead, d: d}, conn, d.pq.ReadSlice()); err != nil {
		_ = conn.Close()
		d.resultC <- err
	}
}

func (s *Scheduler) onDialRead(d *pendingDial, res gaio.OpResult) {
	conn := res.Conn
	if res.Error != nil {
		_ = conn.Close()
		d.resultC <- res.Error
		return
	}
	d.pq.Feed(res.Size)
	if !d.pq.Complete() {
		if err := s.watcher.Read(ioCtx{role: roleDialRead, d: d}, conn, d.pq.ReadSlice()); err != nil {
			_ = conn.Close()
			d.resultC <- err
		}
		return
	}

	peer, in, err := queue.Promote(d.pq, s.identityPriv, s.identityPub, s.replay)
	if err != nil || peer != d.peer {
		_ = conn.Close()
		if err == nil {
			err = errors.New("scheduler: dialed peer identity mismatch")
		}
		d.resultC <- err
		return
	}

	q := queue.New(conn, peer, in, d.ho.Cipher, s.cfg.IdleWindow, s.cfg.RekeyInterval, s.cfg.RekeyMaxBytes)
	q.OurIdentityPriv = s.identityPriv
	q.OurIdentityPub = s.identityPub
	q.Replay = s.replay
	q.RekeyDeadline = d.ho.RekeyDeadline
	q.RekeyLeftBytes = d.ho.RekeyLeftBytes
	q.Outbound = true
	s.registerLive(q)
	d.resultC <- nil
}

// --- live queue path ---

func (s *Scheduler) onQueueRead(q *queue.Queue, res gaio.OpResult) {
	q.ReadPending = false
	if res.Error != nil {
		if !errors.Is(res.Error, io.EOF) {
			log.Printf("scheduler: read error on queue %s: %v", q.Target, res.Error)
		}
		q.BeginFinishing()
		s.armWrite(q)
		return
	}

	if err := q.InboundTick(res.Size); err != nil {
		log.Printf("scheduler: inbound tick error on queue %s: %v", q.Target, err)
	}

	s.armRead(q)
	s.armWrite(q)
	s.maybeDestroy(q)
}

func (s *Scheduler) onQueueWrite(q *queue.Queue, res gaio.OpResult) {
	q.WritePending = false
	if res.Error != nil {
		q.BeginFinishing()
	}
	destroy, err := q.OutboundTick(res.Size)
	if err != nil {
		log.Printf("scheduler: outbound tick error on queue %s: %v", q.Target, err)
	}
	if destroy {
		s.destroy(q)
		return
	}
	s.armWrite(q)
}

// onSubmit runs the outbound tick a Queue.Submit requested (spec.md §4.4
// upstream-submit), moving freshly submitted plaintext into cwrite_buf and
// arming a write for it. Without this, a submitted message sits in
// pwrite_buf until some unrelated write completion happens to tick the
// queue again.
func (s *Scheduler) onSubmit(q *queue.Queue) {
	q.OutboundTickPending.Store(false)
	if q.State == queue.StateDestroyedPending {
		return
	}
	destroy, err := q.OutboundTick(0)
	if err != nil {
		log.Printf("scheduler: outbound tick error on queue %s: %v", q.Target, err)
	}
	if destroy {
		s.destroy(q)
		return
	}
	s.armWrite(q)
}

// onCompletion runs the reactor side of a delivered Box's CompletionFunc
// (spec.md §4.7): decrement backpressure, re-arm a reader that armRead had
// refused to arm while over MaxQueueLength, and free a DESTROYED-PENDING
// queue whose backpressure has now drained. Queue.ScheduleCompletion
// funnels every completion here regardless of which goroutine the upstream
// called complete() from, so Backpressure is only ever mutated on the
// reactor goroutine.
func (s *Scheduler) onCompletion(q *queue.Queue) {
	q.Backpressure--
	s.armRead(q)
	s.maybeDestroy(q)
}

// armWrite submits q's pending ciphertext to the watcher, unless a write
// for this queue is already outstanding.
func (s *Scheduler) armWrite(q *queue.Queue) {
	if q.WritePending {
		return
	}
	buf := q.WriteSlice()
	if len(buf) == 0 {
		return
	}
	if err := s.watcher.Write(ioCtx{role: roleQueueWrite, q: q}, q.Conn, buf); err != nil {
		return
	}
	q.WritePending = true
}

// armRead submits a read for q, unless one is already outstanding, the
// queue is DESTROYED-PENDING, cread_buf is full, or backpressure is over budget
// (spec.md §4.4's read-suspend rule). Called both right after a read
// completes and from onCompletion, since a completion is the only thing
// that can lift a backpressure suspension once it has taken hold.
func (s *Scheduler) armRead(q *queue.Queue) {
	if q.ReadPending || q.State == queue.StateDestroyedPending {
		return
	}
	if q.ReadSuspended() || q.Backpressure > s.cfg.MaxQueueLength {
		return
	}
	if err := s.watcher.Read(ioCtx{role: roleQueueRead, q: q}, q.Conn, q.ReadSlice()); err != nil {
		q.BeginFinishing()
		return
	}
	q.ReadPending = true
}

func (s *Scheduler) maybeDestroy(q *queue.Queue) {
	if q.State == queue.StateDestroyedPending && q.Backpressure == 0 {
		s.destroy(q)
	}
}

func (s *Scheduler) destroy(q *queue.Queue) {
	s.upstream.Deregister(q)
	s.queues.Remove(q)
	_ = q.Conn.Close()
	select {
	case s.resumeSignal <- struct{}{}:
	default:
	}
}

func (s *Scheduler) registerLive(q *queue.Queue) {
	q.ScheduleOutboundTick = func() {
		s.submitReqs <- q
	}
	q.ScheduleCompletion = func() {
		s.completions <- q
	}
	s.queues.Add(q)
	s.upstream.Register(q)
	s.armRead(q)
	s.armWrite(q)
}

func (s *Scheduler) sweepTimeouts() {
	now := time.Now()
	for _, pq := range s.protos.All() {
		if now.After(pq.Deadline) {
			s.protos.Remove(pq)
			_ = pq.Conn.Close()
		}
	}
	for _, q := range s.queues.All() {
		if q.State == queue.StateLive && now.After(q.Timeout) {
			q.BeginFinishing()
			s.armWrite(q)
		}
	}
}
