// Package communicator assembles component H's scheduler, component G's
// upstream adapter and the transport listener into the single object
// spec.md §7 calls the Communicator: the thing an embedding program
// constructs once, runs, and closes.
//
// Grounded on the teacher's main.go, which performs the equivalent
// assembly (settings, crypto, tun manager, transport handler) behind one
// signal-driven Run/Close lifecycle.
package communicator

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"time"

	"meshline/application"
	"meshline/domain"
	"meshline/infrastructure/scheduler"
	"meshline/infrastructure/session"
	"meshline/infrastructure/transport"
	"meshline/infrastructure/upstream"
)

// Config is the subset of settings.Config a Communicator needs; it is a
// separate, narrower type so this package does not import settings and
// dictate how its caller obtains configuration.
type Config struct {
	BindTo         string
	MaxQueueLength int64
	RekeyInterval  time.Duration
	RekeyMaxBytes  uint64
	IdleWindow     time.Duration
	ProtoTimeout   time.Duration
}

// Communicator is the core's single entry point: it owns the listener,
// the scheduler reactor and the upstream bridge, and implements
// application.ConnectRequester so an upstream service can ask it to dial
// out.
type Communicator struct {
	sched    *scheduler.Scheduler
	listener *transport.Listener
	upstream application.UpstreamService
	log      application.Logger
}

// New wires together a Communicator ready to Run. identityPriv/identityPub
// is the long-term Ed25519 keypair naming this node; upstreamSvc is the
// abstract transport consumer spec.md §6 calls the upstream service.
func New(cfg Config, identityPriv ed25519.PrivateKey, identityPub domain.PeerIdentity, upstreamSvc application.UpstreamService, log application.Logger) (*Communicator, error) {
	hostport, err := transport.ParseAddress(cfg.BindTo)
	if err != nil {
		return nil, fmt.Errorf("communicator: parsing bind address: %w", err)
	}

	ln, err := transport.Listen(hostport)
	if err != nil {
		return nil, fmt.Errorf("communicator: listening on %s: %w", hostport, err)
	}

	adapter := upstream.NewAdapter(upstreamSvc, log)
	replay := session.NewReplayStore()

	schedCfg := scheduler.Config{
		MaxQueueLength: cfg.MaxQueueLength,
		RekeyInterval:  cfg.RekeyInterval,
		RekeyMaxBytes:  cfg.RekeyMaxBytes,
		IdleWindow:     cfg.IdleWindow,
		ProtoTimeout:   cfg.ProtoTimeout,
	}
	sched, err := scheduler.New(schedCfg, adapter, replay, identityPriv, identityPub)
	if err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("communicator: building scheduler: %w", err)
	}
	sched.AddListener(ln)

	c := &Communicator{sched: sched, listener: ln, upstream: upstreamSvc, log: log}
	return c, nil
}

// Announce registers this Communicator's listening address with the
// upstream service (spec.md §6's announce_address, direction core ->
// upstream), so peers can be told where to dial this node.
func (c *Communicator) Announce(validity time.Duration) (string, error) {
	return c.upstream.AnnounceAddress(c.listener.Addr().String(), application.NetworkTCP, validity)
}

// OnConnectRequest implements application.ConnectRequester: the upstream
// service asks the core to open an outbound session toward peer at
// textAddress.
func (c *Communicator) OnConnectRequest(peer domain.PeerIdentity, textAddress string) (application.ConnectOutcome, error) {
	hostport, err := transport.ParseAddress(textAddress)
	if err != nil {
		return application.ConnectInvalid, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.sched.Dial(ctx, peer, hostport); err != nil {
		c.log.Printf("communicator: dial to %s (%s) failed: %v", peer, hostport, err)
		return application.ConnectInvalid, err
	}
	return application.ConnectOK, nil
}

// Run drives the reactor loop until ctx is cancelled or a fatal I/O error
// occurs.
func (c *Communicator) Run(ctx context.Context) error {
	return c.sched.Run(ctx)
}

// Close drains every live queue through FINISHING and blocks until the
// scheduler has freed them all, or ctx expires first.
func (c *Communicator) Close(ctx context.Context) error {
	return c.sched.Shutdown(ctx)
}
