package queue

import "meshline/domain"

// Map is a PeerIdentity -> []*Queue multimap (spec.md §3's "QueueMap"):
// several Queues may share a peer, e.g. one inbound and one outbound
// connection simultaneously. Grounded on the teacher's generic session
// repository (infrastructure/routing/server_routing/session_management/repository),
// which keys sessions by address rather than identity and holds exactly
// one session per key; this multimap generalizes that shape to "possibly
// more than one" per spec.md's explicit invariant.
//
// The scheduler is the sole goroutine that mutates or ranges over a Map
// once the reactor loop is running (spec.md §5: "the QueueMap is shared
// read/write by the single-threaded loop; no locking needed"); Map itself
// does no locking.
type Map struct {
	byPeer map[domain.PeerIdentity][]*Queue
}

// NewMap returns an empty Map.
func NewMap() *Map {
	return &Map{byPeer: make(map[domain.PeerIdentity][]*Queue)}
}

// Add registers q under its Target. A Queue must never be added twice.
func (m *Map) Add(q *Queue) {
	m.byPeer[q.Target] = append(m.byPeer[q.Target], q)
}

// Remove deregisters q. It is a no-op if q is not present (Remove always
// precedes Destroy, per spec.md §3's "removal precedes destruction", so a
// second call is harmless rather than an error).
func (m *Map) Remove(q *Queue) {
	queues := m.byPeer[q.Target]
	for i, candidate := range queues {
		if candidate == q {
			m.byPeer[q.Target] = append(queues[:i], queues[i+1:]...)
			break
		}
	}
	if len(m.byPeer[q.Target]) == 0 {
		delete(m.byPeer, q.Target)
	}
}

// Get returns every Queue currently registered for peer.
func (m *Map) Get(peer domain.PeerIdentity) []*Queue {
	return m.byPeer[peer]
}

// Len returns the total number of registered queues across all peers.
func (m *Map) Len() int {
	n := 0
	for _, qs := range m.byPeer {
		n += len(qs)
	}
	return n
}

// All returns every registered queue across all peers, for sweeps like
// timeout scanning.
func (m *Map) All() []*Queue {
	all := make([]*Queue, 0, m.Len())
	for _, qs := range m.byPeer {
		all = append(all, qs...)
	}
	return all
}

// ProtoList is the unordered collection of ProtoQueues awaiting their
// initial handshake (spec.md §3's "ProtoQueueList").
type ProtoList struct {
	items map[*ProtoQueue]struct{}
}

// NewProtoList returns an empty ProtoList.
func NewProtoList() *ProtoList {
	return &ProtoList{items: make(map[*ProtoQueue]struct{})}
}

func (l *ProtoList) Add(p *ProtoQueue)    { l.items[p] = struct{}{} }
func (l *ProtoList) Remove(p *ProtoQueue) { delete(l.items, p) }
func (l *ProtoList) Len() int             { return len(l.items) }

// All returns every ProtoQueue currently awaiting its handshake.
func (l *ProtoList) All() []*ProtoQueue {
	all := make([]*ProtoQueue, 0, len(l.items))
	for p := range l.items {
		all = append(all, p)
	}
	return all
}
