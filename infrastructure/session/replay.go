package session

import "sync"

// ReplayStore tracks the highest monotonic_time seen per peer so a
// handshake or rekey signature that does not strictly advance can be
// rejected. spec.md §4.5 and §9 (OQ2) leave persistent monotonic storage
// optional; meshline implements the in-memory form described there and
// documents, rather than silently choosing, the behavior when it is
// disabled: with a nil *ReplayStore, Check always accepts (no replay
// protection), matching the "absent that store, implementations MAY
// accept any time value" text in spec.md §4.5.
type ReplayStore struct {
	mu   sync.Mutex
	seen map[[32]byte]uint64
}

// NewReplayStore returns a ReplayStore backed by an in-memory map. It does
// not persist across restarts; a peer that reconnects after a process
// restart gets a fresh baseline.
func NewReplayStore() *ReplayStore {
	return &ReplayStore{seen: make(map[[32]byte]uint64)}
}

// Check reports whether monotonicTime strictly advances the highest value
// previously observed for peer, and if so records it as the new high-water
// mark. A nil receiver always reports true (replay checking disabled).
func (r *ReplayStore) Check(peer [32]byte, monotonicTime uint64) bool {
	if r == nil {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.seen[peer]; ok && monotonicTime <= prev {
		return false
	}
	r.seen[peer] = monotonicTime
	return true
}
