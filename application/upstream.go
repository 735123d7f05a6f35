package application

import (
	"time"

	"meshline/domain"
)

// NetworkType classifies a queue or announced address the way spec.md §6's
// upstream interface does; meshline only ever deals in NetworkTCP, but the
// type stays open for an upstream implementation that multiplexes other
// transports too.
type NetworkType int

const (
	NetworkUnspecified NetworkType = iota
	NetworkTCP
)

// Direction says which side of a Queue initiated it.
type Direction int

const (
	DirectionIn Direction = iota
	DirectionOut
)

// DeliveryOutcome is deliver_receive's result (spec.md §6).
type DeliveryOutcome int

const (
	DeliveryOK DeliveryOutcome = iota
	DeliveryDropped
)

// ConnectOutcome is on_connect_request's result (spec.md §6).
type ConnectOutcome int

const (
	ConnectOK ConnectOutcome = iota
	ConnectInvalid
)

// CompletionFunc is the completion handler deliver_receive is given: it
// must be invoked once, after the upstream has finished processing a
// delivered payload.
type CompletionFunc func()

// MessageQueue is the per-Queue control surface spec.md §4.7 calls mq: the
// four callbacks the upstream transport service drives directly against
// one queue. infrastructure/upstream's adapter is the only implementation.
type MessageQueue interface {
	// MQSend submits an outbound application message (mq_send).
	MQSend(msg []byte) error
	// MQCancel drops any unsent plaintext (mq_cancel).
	MQCancel()
	// MQDestroy initiates FINISHING (mq_destroy).
	MQDestroy()
	// MQError logs err and initiates FINISHING (mq_error).
	MQError(err error)
}

// UpstreamService is the abstract upstream transport service contract of
// spec.md §6: a registerable consumer capable of announcing addresses,
// opening queues for given peers, receiving inbound payloads, and being
// told it may submit the next message. meshline's core only ever calls
// these; it never implements them. The opposite direction (the upstream
// asking the core to initiate an outbound session) is ConnectRequester.
type UpstreamService interface {
	// AnnounceAddress registers one of the core's listening addresses with
	// the upstream service.
	AnnounceAddress(textAddress string, networkType NetworkType, validity time.Duration) (handle string, err error)

	// AddQueue registers a newly LIVE queue with the upstream service,
	// handing it the MessageQueue the upstream will drive.
	AddQueue(peer domain.PeerIdentity, remoteAddressText string, mtu int, priority int, networkType NetworkType, direction Direction, mq MessageQueue) (queueHandle string, err error)

	// DeliverReceive hands one fully received, MAC-verified payload to the
	// upstream. complete must eventually be invoked by the upstream exactly
	// once, whatever the outcome.
	DeliverReceive(peer domain.PeerIdentity, payload []byte, validity time.Duration, complete CompletionFunc) (DeliveryOutcome, error)

	// NotifyContinue tells the upstream it may submit the next message on
	// queueHandle (the notification spec.md §4.4 calls mq_awaits_continue).
	NotifyContinue(queueHandle string)
}

// ConnectRequester is implemented by the core (infrastructure/communicator)
// and called by the upstream service whenever it wants the core to
// initiate a session toward peer@textAddress (spec.md §6's
// on_connect_request, direction upstream -> core).
type ConnectRequester interface {
	OnConnectRequest(peer domain.PeerIdentity, textAddress string) (ConnectOutcome, error)
}
