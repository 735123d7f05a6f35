package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"meshline/application"
	"meshline/domain"
	"meshline/infrastructure/communicator"
)

// stdioUpstream is a minimal application.UpstreamService backed by the
// terminal: delivered payloads are printed, and an operator drives
// outbound connects/sends by typing commands. It exists only to make
// meshlined runnable standalone; a real deployment replaces it with
// whatever service actually consumes meshline's queues.
//
// Grounded on the teacher's mode_selection prompt loop in main.go
// (bufio.Scanner over os.Stdin driving a small command switch).
type stdioUpstream struct {
	log  application.Logger
	comm *communicator.Communicator

	mu     sync.Mutex
	queues map[string]application.MessageQueue
}

func newStdioUpstream(log application.Logger) *stdioUpstream {
	return &stdioUpstream{log: log, queues: make(map[string]application.MessageQueue)}
}

func (u *stdioUpstream) AnnounceAddress(textAddress string, _ application.NetworkType, _ time.Duration) (string, error) {
	return textAddress, nil
}

func (u *stdioUpstream) AddQueue(peer domain.PeerIdentity, remoteAddr string, _ int, _ int, _ application.NetworkType, direction application.Direction, mq application.MessageQueue) (string, error) {
	handle := peerHandle(peer)
	u.mu.Lock()
	u.queues[handle] = mq
	u.mu.Unlock()

	dirName := "inbound"
	if direction == application.DirectionOut {
		dirName = "outbound"
	}
	u.log.Printf("meshlined: %s queue established with %s (%s)", dirName, handle, remoteAddr)
	return handle, nil
}

func (u *stdioUpstream) DeliverReceive(peer domain.PeerIdentity, payload []byte, _ time.Duration, complete application.CompletionFunc) (application.DeliveryOutcome, error) {
	fmt.Printf("[%s] %s\n", peerHandle(peer), string(payload))
	complete()
	return application.DeliveryOK, nil
}

func (u *stdioUpstream) NotifyContinue(handle string) {
	u.log.Printf("meshlined: %s may resume sending", handle)
}

func peerHandle(peer domain.PeerIdentity) string {
	return hex.EncodeToString(peer[:8])
}

// readCommands drives "connect PEERHEX tcp-HOST:PORT" (PEERHEX: the full
// 64-hex-digit identity) and "send HANDLE text..." (HANDLE: the 16-hex-digit
// queue handle logged when the queue was established) typed on stdin until
// ctx is cancelled.
func (u *stdioUpstream) readCommands(ctx context.Context) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		fields := strings.SplitN(strings.TrimSpace(scanner.Text()), " ", 3)
		if len(fields) == 0 || fields[0] == "" {
			continue
		}

		switch fields[0] {
		case "connect":
			if len(fields) != 3 {
				u.log.Printf("meshlined: usage: connect PEERHEX tcp-HOST:PORT")
				continue
			}
			peer, err := parsePeerHex(fields[1])
			if err != nil {
				u.log.Printf("meshlined: %v", err)
				continue
			}
			if _, err := u.comm.OnConnectRequest(peer, fields[2]); err != nil {
				u.log.Printf("meshlined: connect failed: %v", err)
			}
		case "send":
			if len(fields) != 3 {
				u.log.Printf("meshlined: usage: send HANDLE message")
				continue
			}
			u.mu.Lock()
			mq, ok := u.queues[fields[1]]
			u.mu.Unlock()
			if !ok {
				u.log.Printf("meshlined: no queue for %s", fields[1])
				continue
			}
			if err := mq.MQSend([]byte(fields[2])); err != nil {
				u.log.Printf("meshlined: send failed: %v", err)
			}
		default:
			u.log.Printf("meshlined: unknown command %q", fields[0])
		}
	}
}

func parsePeerHex(s string) (domain.PeerIdentity, error) {
	var pid domain.PeerIdentity
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != len(pid) {
		return pid, fmt.Errorf("invalid peer identity %q", s)
	}
	copy(pid[:], raw)
	return pid, nil
}
