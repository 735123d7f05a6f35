package upstream

import (
	"net"
	"testing"
	"time"

	"meshline/application"
	"meshline/domain"
	"meshline/infrastructure/cryptography/primitives"
	"meshline/infrastructure/queue"
	"meshline/infrastructure/session"
)

type fakeLogger struct{}

func (fakeLogger) Printf(format string, v ...any) {}

type fakeUpstream struct {
	added      []domain.PeerIdentity
	delivered  [][]byte
	continued  []string
	nextHandle int
}

func (f *fakeUpstream) AnnounceAddress(string, application.NetworkType, time.Duration) (string, error) {
	return "addr-handle", nil
}

func (f *fakeUpstream) AddQueue(peer domain.PeerIdentity, _ string, _ int, _ int, _ application.NetworkType, _ application.Direction, _ application.MessageQueue) (string, error) {
	f.added = append(f.added, peer)
	f.nextHandle++
	return "queue-handle", nil
}

func (f *fakeUpstream) DeliverReceive(_ domain.PeerIdentity, payload []byte, _ time.Duration, complete application.CompletionFunc) (application.DeliveryOutcome, error) {
	f.delivered = append(f.delivered, append([]byte(nil), payload...))
	complete()
	return application.DeliveryOK, nil
}

func (f *fakeUpstream) NotifyContinue(handle string) {
	f.continued = append(f.continued, handle)
}

func TestAdapterRegisterWiresDeliverAndContinue(t *testing.T) {
	svc := &fakeUpstream{}
	a := NewAdapter(svc, fakeLogger{})

	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	var target domain.PeerIdentity
	target[0] = 0x42
	q := queue.New(c1, target, nil, nil, time.Minute, time.Minute, 1<<20)

	a.Register(q)
	if len(svc.added) != 1 || svc.added[0] != target {
		t.Fatalf("AddQueue not called with expected peer: %+v", svc.added)
	}

	if q.Deliver == nil {
		t.Fatal("Register did not wire Deliver")
	}
	q.Deliver([]byte("hello"), func() {})
	if len(svc.delivered) != 1 || string(svc.delivered[0]) != "hello" {
		t.Fatalf("DeliverReceive not invoked correctly: %+v", svc.delivered)
	}

	if q.NotifyContinue == nil {
		t.Fatal("Register did not wire NotifyContinue")
	}
	q.NotifyContinue()
	if len(svc.continued) != 1 || svc.continued[0] != "queue-handle" {
		t.Fatalf("NotifyContinue not forwarded: %+v", svc.continued)
	}

	a.Deregister(q)
	if _, ok := a.handles[q]; ok {
		t.Fatal("Deregister did not remove handle")
	}
}

func TestMessageQueueCancelAndDestroy(t *testing.T) {
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	targetPub, _, err := primitives.GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	var target domain.PeerIdentity
	copy(target[:], targetPub)
	ephPriv, _, err := primitives.GenerateEphemeral()
	if err != nil {
		t.Fatalf("GenerateEphemeral: %v", err)
	}
	out, err := session.SetupOut(ephPriv, target, time.Now(), time.Minute, 1<<20)
	if err != nil {
		t.Fatalf("SetupOut: %v", err)
	}
	q := queue.New(c1, target, nil, out.Cipher, time.Minute, time.Minute, 1<<20)
	mq := &messageQueue{q: q, log: fakeLogger{}}

	mq.MQCancel()

	mq.MQDestroy()
	if q.State != queue.StateFinishing {
		t.Fatalf("MQDestroy did not transition to FINISHING, got %v", q.State)
	}
}
