package scheduler

import (
	"context"
	"crypto/ed25519"
	"sync"
	"testing"
	"time"

	"meshline/domain"
	"meshline/infrastructure/queue"
	"meshline/infrastructure/session"
	"meshline/infrastructure/transport"
)

// recordingUpstream implements scheduler.UpstreamService and, for every
// Queue it registers, also wires Deliver so tests can drive a real
// submit-to-delivery round trip without going through infrastructure/
// upstream.Adapter. When deferComplete is set, delivered payloads'
// CompletionFunc is stashed instead of being called inline, so a test can
// call it later from an arbitrary goroutine the way an asynchronous
// upstream would.
type recordingUpstream struct {
	mu            sync.Mutex
	registered    []*queue.Queue
	delivered     [][]byte
	deferComplete bool
	pending       []queue.CompletionFunc
}

func (r *recordingUpstream) Register(q *queue.Queue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.registered = append(r.registered, q)
	q.Deliver = func(payload []byte, complete queue.CompletionFunc) {
		r.mu.Lock()
		r.delivered = append(r.delivered, append([]byte(nil), payload...))
		deferred := r.deferComplete
		if deferred {
			r.pending = append(r.pending, complete)
		}
		r.mu.Unlock()
		if !deferred {
			complete()
		}
	}
}

func (r *recordingUpstream) deliveredCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.delivered)
}

// flushPending calls every stashed CompletionFunc and clears the stash. It
// must be called from outside any lock the completions themselves might
// need, since CompletionFunc routes into the scheduler's reactor.
func (r *recordingUpstream) flushPending() int {
	r.mu.Lock()
	pending := r.pending
	r.pending = nil
	r.mu.Unlock()
	for _, complete := range pending {
		complete()
	}
	return len(pending)
}

func (r *recordingUpstream) Deregister(q *queue.Queue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.registered {
		if existing == q {
			r.registered = append(r.registered[:i], r.registered[i+1:]...)
			return
		}
	}
}

func (r *recordingUpstream) snapshot() []*queue.Queue {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*queue.Queue(nil), r.registered...)
}

func testIdentity(t *testing.T) (ed25519.PrivateKey, domain.PeerIdentity) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generating identity: %v", err)
	}
	pid, err := domain.PeerIdentityFromPublicKey(pub)
	if err != nil {
		t.Fatalf("deriving PeerIdentity: %v", err)
	}
	return priv, pid
}

func testConfig() Config {
	return Config{
		MaxQueueLength: 8,
		RekeyInterval:  time.Minute,
		RekeyMaxBytes:  1 << 20,
		IdleWindow:     time.Minute,
		ProtoTimeout:   5 * time.Second,
	}
}

// TestDialAndAcceptCompleteHandshake drives two schedulers over real
// loopback TCP: one listening, one dialing it. Both sides must end up
// with exactly one registered Queue naming the other's identity, with
// Outbound set correctly on each side.
func TestDialAndAcceptCompleteHandshake(t *testing.T) {
	serverPriv, serverPub := testIdentity(t)
	clientPriv, clientPub := testIdentity(t)

	serverUp := &recordingUpstream{}
	clientUp := &recordingUpstream{}

	serverSched, err := New(testConfig(), serverUp, session.NewReplayStore(), serverPriv, serverPub)
	if err != nil {
		t.Fatalf("building server scheduler: %v", err)
	}
	clientSched, err := New(testConfig(), clientUp, session.NewReplayStore(), clientPriv, clientPub)
	if err != nil {
		t.Fatalf("building client scheduler: %v", err)
	}

	ln, err := transport.Listen(":0")
	if err != nil {
		t.Fatalf("listening: %v", err)
	}
	serverSched.AddListener(ln)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = serverSched.Run(ctx) }()
	go func() { _ = clientSched.Run(ctx) }()

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer dialCancel()
	if err := clientSched.Dial(dialCtx, serverPub, ln.Addr().String()); err != nil {
		t.Fatalf("dial failed: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		if len(serverUp.snapshot()) == 1 && len(clientUp.snapshot()) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("handshake did not complete: server=%d client=%d", len(serverUp.snapshot()), len(clientUp.snapshot()))
		}
		time.Sleep(10 * time.Millisecond)
	}

	serverQ := serverUp.snapshot()[0]
	clientQ := clientUp.snapshot()[0]

	if serverQ.Outbound {
		t.Fatal("server-side queue should be inbound")
	}
	if !clientQ.Outbound {
		t.Fatal("client-side queue should be outbound")
	}
	if serverQ.Target != clientPub {
		t.Fatalf("server queue target mismatch: got %s want %s", serverQ.Target, clientPub)
	}
	if clientQ.Target != serverPub {
		t.Fatalf("client queue target mismatch: got %s want %s", clientQ.Target, serverPub)
	}

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCancel()
	if err := serverSched.Shutdown(closeCtx); err != nil {
		t.Fatalf("server shutdown: %v", err)
	}
	if err := clientSched.Shutdown(closeCtx); err != nil {
		t.Fatalf("client shutdown: %v", err)
	}
}

// TestSubmitDeliversEndToEnd drives a real Queue.Submit across loopback TCP
// and checks the payload arrives on the other side. Submit only fills
// pwrite_buf; without the scheduler scheduling an outbound tick in
// response (spec.md §4.4), the message never leaves pwrite_buf and this
// test hangs until its deadline.
func TestSubmitDeliversEndToEnd(t *testing.T) {
	serverPriv, serverPub := testIdentity(t)
	clientPriv, clientPub := testIdentity(t)

	serverUp := &recordingUpstream{}
	clientUp := &recordingUpstream{}

	serverSched, err := New(testConfig(), serverUp, session.NewReplayStore(), serverPriv, serverPub)
	if err != nil {
		t.Fatalf("building server scheduler: %v", err)
	}
	clientSched, err := New(testConfig(), clientUp, session.NewReplayStore(), clientPriv, clientPub)
	if err != nil {
		t.Fatalf("building client scheduler: %v", err)
	}

	ln, err := transport.Listen(":0")
	if err != nil {
		t.Fatalf("listening: %v", err)
	}
	serverSched.AddListener(ln)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = serverSched.Run(ctx) }()
	go func() { _ = clientSched.Run(ctx) }()

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer dialCancel()
	if err := clientSched.Dial(dialCtx, serverPub, ln.Addr().String()); err != nil {
		t.Fatalf("dial failed: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for len(serverUp.snapshot()) != 1 || len(clientUp.snapshot()) != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("handshake did not complete: server=%d client=%d", len(serverUp.snapshot()), len(clientUp.snapshot()))
		}
		time.Sleep(10 * time.Millisecond)
	}

	clientQ := clientUp.snapshot()[0]
	if err := clientQ.Submit([]byte("ping")); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	deadline = time.Now().Add(5 * time.Second)
	for serverUp.deliveredCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("submitted message was never delivered; outbound tick was not scheduled")
		}
		time.Sleep(10 * time.Millisecond)
	}

	serverUp.mu.Lock()
	got := string(serverUp.delivered[0])
	serverUp.mu.Unlock()
	if got != "ping" {
		t.Fatalf("delivered payload = %q, want %q", got, "ping")
	}

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCancel()
	if err := serverSched.Shutdown(closeCtx); err != nil {
		t.Fatalf("server shutdown: %v", err)
	}
	if err := clientSched.Shutdown(closeCtx); err != nil {
		t.Fatalf("client shutdown: %v", err)
	}
}

// TestBackpressureSuspendAndResume forces a read suspension by deferring
// completion of a delivered Box, then completes it asynchronously from a
// goroutine that is not the reactor. A message submitted afterward must
// still be delivered: if CompletionFunc does not re-arm the suspended
// reader, the connection deadlocks and this test hangs to its deadline
// (spec.md §4.7 / invariant 5).
func TestBackpressureSuspendAndResume(t *testing.T) {
	serverPriv, serverPub := testIdentity(t)
	clientPriv, clientPub := testIdentity(t)

	serverUp := &recordingUpstream{deferComplete: true}
	clientUp := &recordingUpstream{}

	cfg := testConfig()
	cfg.MaxQueueLength = 0

	serverSched, err := New(cfg, serverUp, session.NewReplayStore(), serverPriv, serverPub)
	if err != nil {
		t.Fatalf("building server scheduler: %v", err)
	}
	clientSched, err := New(cfg, clientUp, session.NewReplayStore(), clientPriv, clientPub)
	if err != nil {
		t.Fatalf("building client scheduler: %v", err)
	}

	ln, err := transport.Listen(":0")
	if err != nil {
		t.Fatalf("listening: %v", err)
	}
	serverSched.AddListener(ln)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = serverSched.Run(ctx) }()
	go func() { _ = clientSched.Run(ctx) }()

	dialCtx, dialCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer dialCancel()
	if err := clientSched.Dial(dialCtx, serverPub, ln.Addr().String()); err != nil {
		t.Fatalf("dial failed: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for len(serverUp.snapshot()) != 1 || len(clientUp.snapshot()) != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("handshake did not complete: server=%d client=%d", len(serverUp.snapshot()), len(clientUp.snapshot()))
		}
		time.Sleep(10 * time.Millisecond)
	}

	clientQ := clientUp.snapshot()[0]
	serverQ := serverUp.snapshot()[0]

	if err := clientQ.Submit([]byte("first")); err != nil {
		t.Fatalf("Submit 1: %v", err)
	}

	deadline = time.Now().Add(5 * time.Second)
	for serverUp.deliveredCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("first message was never delivered")
		}
		time.Sleep(10 * time.Millisecond)
	}
	deadline = time.Now().Add(5 * time.Second)
	for serverQ.Backpressure != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("backpressure never reached 1, got %d", serverQ.Backpressure)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if flushed := serverUp.flushPending(); flushed != 1 {
		t.Fatalf("flushPending = %d, want 1", flushed)
	}

	deadline = time.Now().Add(5 * time.Second)
	for serverQ.Backpressure != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("backpressure never drained back to 0, got %d", serverQ.Backpressure)
		}
		time.Sleep(10 * time.Millisecond)
	}

	deadline = time.Now().Add(5 * time.Second)
	for clientQ.MQAwaitsContinue {
		if time.Now().After(deadline) {
			t.Fatal("client queue never cleared MQAwaitsContinue after first submit")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err := clientQ.Submit([]byte("second")); err != nil {
		t.Fatalf("Submit 2: %v", err)
	}

	deadline = time.Now().Add(5 * time.Second)
	for serverUp.deliveredCount() != 2 {
		if time.Now().After(deadline) {
			t.Fatal("second message was never delivered; suspended reader was not re-armed after completion")
		}
		time.Sleep(10 * time.Millisecond)
	}

	serverUp.mu.Lock()
	got := string(serverUp.delivered[1])
	serverUp.mu.Unlock()
	if got != "second" {
		t.Fatalf("delivered payload = %q, want %q", got, "second")
	}

	serverUp.flushPending()

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCancel()
	if err := serverSched.Shutdown(closeCtx); err != nil {
		t.Fatalf("server shutdown: %v", err)
	}
	if err := clientSched.Shutdown(closeCtx); err != nil {
		t.Fatalf("client shutdown: %v", err)
	}
}

func TestDialToUnreachableAddressFails(t *testing.T) {
	priv, pub := testIdentity(t)
	up := &recordingUpstream{}
	sched, err := New(testConfig(), up, session.NewReplayStore(), priv, pub)
	if err != nil {
		t.Fatalf("building scheduler: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = sched.Run(ctx) }()

	var otherPub domain.PeerIdentity
	dialCtx, dialCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer dialCancel()
	if err := sched.Dial(dialCtx, otherPub, "127.0.0.1:1"); err == nil {
		t.Fatal("expected dial to an unreachable port to fail")
	}
}
