package transport

import (
	"context"
	"net"
	"time"
)

// Dialer opens outbound TCP connections to peers the upstream asks the
// core to connect to (on_connect_request, spec.md §6).
//
// Go's net.Dialer.DialContext only returns once the TCP handshake
// completes (or fails), so the connection it hands back is always
// writable immediately — there is no separate "connect is in progress,
// wait for writable" state to model here the way a raw non-blocking
// connect(2) would need. That resolves spec.md §9 OQ3 (when outbound KX
// bytes may first be written) trivially in idiomatic Go: the caller simply
// never attempts to write before Dial returns, which DialContext already
// guarantees.
type Dialer struct {
	Timeout time.Duration
}

// Dial connects to hostport (already parsed by ParseAddress).
func (d Dialer) Dial(ctx context.Context, hostport string) (net.Conn, error) {
	nd := net.Dialer{Timeout: d.Timeout}
	return nd.DialContext(ctx, "tcp", hostport)
}
