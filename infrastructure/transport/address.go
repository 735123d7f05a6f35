// Package transport implements component F: accepting inbound TCP
// connections and initiating outbound ones, per spec.md §4.6 and the
// tcp-HOST:PORT address scheme of §6.
//
// Grounded on the teacher's infrastructure/listeners/tcp_listener contract
// (a minimal Accept/Close interface wrapping net.Listener) and its
// client/transport_connector dialing code, generalized from the teacher's
// fixed single-peer VPN tunnel to the spec's peer-addressed multi-queue
// model.
package transport

import (
	"errors"
	"net"
	"strings"
)

// AddressPrefix is the scheme prefix every address on the wire and on the
// command line carries (spec.md §6).
const AddressPrefix = "tcp-"

var ErrInvalidAddress = errors.New("transport: invalid tcp-HOST:PORT address")

// ParseAddress splits a "tcp-HOST:PORT" address into the host:port pair
// net.Dial and net.Listen expect. A bind specification may omit the host
// entirely ("tcp-:PORT" or "tcp-PORT"), meaning "all addresses".
// communicator.New opens a single wildcard listener on the result;
// DISABLE_V6 is not consulted there.
func ParseAddress(addr string) (hostport string, err error) {
	if !strings.HasPrefix(addr, AddressPrefix) {
		return "", ErrInvalidAddress
	}
	rest := strings.TrimPrefix(addr, AddressPrefix)
	if rest == "" {
		return "", ErrInvalidAddress
	}
	if !strings.Contains(rest, ":") {
		// A bare PORT bind specification: wildcard host.
		if _, convErr := net.LookupPort("tcp", rest); convErr != nil {
			return "", ErrInvalidAddress
		}
		return ":" + rest, nil
	}
	host, port, err := net.SplitHostPort(rest)
	if err != nil {
		return "", ErrInvalidAddress
	}
	if port == "" {
		return "", ErrInvalidAddress
	}
	return net.JoinHostPort(host, port), nil
}
