// Package upstream implements component G: the bridge between a live
// Queue and the abstract application.UpstreamService contract of spec.md
// §4.7/§6. It is the only package that calls Queue.Submit/Cancel/
// BeginFinishing on the upstream's behalf, and the only package that calls
// application.UpstreamService.DeliverReceive/AddQueue/NotifyContinue on
// the core's behalf.
package upstream

import (
	"sync"

	"meshline/application"
	"meshline/infrastructure/queue"
)

// Adapter implements scheduler.UpstreamService (Register/Deregister) by
// wiring each newly LIVE Queue into an application.UpstreamService.
//
// Grounded on the teacher's transport_handler, which plays the same
// bridging role between a raw tunnel connection and the TUN device: one
// adapter object mediates every connection's inbound/outbound callbacks
// rather than each connection reaching into the upstream directly.
type Adapter struct {
	svc application.UpstreamService
	log application.Logger

	mu      sync.Mutex
	handles map[*queue.Queue]string
}

// NewAdapter constructs an Adapter over an already-configured upstream
// service.
func NewAdapter(svc application.UpstreamService, log application.Logger) *Adapter {
	return &Adapter{svc: svc, log: log, handles: make(map[*queue.Queue]string)}
}

// Register implements scheduler.UpstreamService. It is called once per
// Queue, exactly when that Queue reaches LIVE.
func (a *Adapter) Register(q *queue.Queue) {
	direction := application.DirectionIn
	if q.Outbound {
		direction = application.DirectionOut
	}

	mq := &messageQueue{q: q, log: a.log}
	handle, err := a.svc.AddQueue(q.Target, q.Conn.RemoteAddr().String(), 0, 0, application.NetworkTCP, direction, mq)
	if err != nil {
		a.log.Printf("upstream: add_queue failed for %s: %v", q.Target, err)
		q.BeginFinishing()
		return
	}

	a.mu.Lock()
	a.handles[q] = handle
	a.mu.Unlock()

	q.Deliver = func(payload []byte, complete queue.CompletionFunc) {
		outcome, err := a.svc.DeliverReceive(q.Target, payload, 0, application.CompletionFunc(complete))
		if err != nil {
			a.log.Printf("upstream: deliver_receive error for %s: %v", q.Target, err)
			return
		}
		if outcome == application.DeliveryDropped {
			a.log.Printf("upstream: deliver_receive dropped payload for %s (backpressure)", q.Target)
		}
	}
	q.NotifyContinue = func() {
		a.mu.Lock()
		h := a.handles[q]
		a.mu.Unlock()
		a.svc.NotifyContinue(h)
	}
}

// Deregister implements scheduler.UpstreamService. It is called
// immediately before a Queue is freed.
func (a *Adapter) Deregister(q *queue.Queue) {
	a.mu.Lock()
	delete(a.handles, q)
	a.mu.Unlock()
}

// messageQueue implements application.MessageQueue against one Queue.
type messageQueue struct {
	q   *queue.Queue
	log application.Logger
}

func (m *messageQueue) MQSend(msg []byte) error {
	return m.q.Submit(msg)
}

func (m *messageQueue) MQCancel() {
	m.q.Cancel()
}

func (m *messageQueue) MQDestroy() {
	m.q.BeginFinishing()
}

func (m *messageQueue) MQError(err error) {
	m.log.Printf("upstream: mq_error on queue %s: %v", m.q.Target, err)
	m.q.BeginFinishing()
}
