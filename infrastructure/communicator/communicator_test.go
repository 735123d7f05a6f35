package communicator

import (
	"context"
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"meshline/application"
	"meshline/domain"
)

func generateTestIdentity(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey, domain.PeerIdentity) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	pid, err := domain.PeerIdentityFromPublicKey(pub)
	require.NoError(t, err)
	return pub, priv, pid
}

type fakeLogger struct{}

func (fakeLogger) Printf(format string, v ...any) {}

type fakeUpstream struct {
	announced []string
}

func (f *fakeUpstream) AnnounceAddress(addr string, _ application.NetworkType, _ time.Duration) (string, error) {
	f.announced = append(f.announced, addr)
	return "addr-handle", nil
}

func (f *fakeUpstream) AddQueue(domain.PeerIdentity, string, int, int, application.NetworkType, application.Direction, application.MessageQueue) (string, error) {
	return "queue-handle", nil
}

func (f *fakeUpstream) DeliverReceive(domain.PeerIdentity, []byte, time.Duration, application.CompletionFunc) (application.DeliveryOutcome, error) {
	return application.DeliveryOK, nil
}

func (f *fakeUpstream) NotifyContinue(string) {}

func testConfig() Config {
	return Config{
		BindTo:         "tcp-0",
		MaxQueueLength: 8,
		RekeyInterval:  time.Minute,
		RekeyMaxBytes:  1 << 20,
		IdleWindow:     time.Minute,
		ProtoTimeout:   5 * time.Second,
	}
}

func TestNewAnnounceAndClose(t *testing.T) {
	_, priv, pub := generateTestIdentity(t)
	svc := &fakeUpstream{}

	c, err := New(testConfig(), priv, pub, svc, fakeLogger{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	_, err = c.Announce(time.Hour)
	require.NoError(t, err)
	require.Len(t, svc.announced, 1)

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer closeCancel()
	require.NoError(t, c.Close(closeCtx))
}

func TestOnConnectRequestRejectsBadAddress(t *testing.T) {
	_, priv, pub := generateTestIdentity(t)
	svc := &fakeUpstream{}

	c, err := New(testConfig(), priv, pub, svc, fakeLogger{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer closeCancel()
		_ = c.Close(closeCtx)
	}()

	var peer domain.PeerIdentity
	outcome, err := c.OnConnectRequest(peer, "not-a-valid-address")
	require.Error(t, err)
	require.Equal(t, application.ConnectInvalid, outcome)
}
