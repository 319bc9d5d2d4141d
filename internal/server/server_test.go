package server

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"sdhcpd/internal/sdhcp"
)

type published struct {
	subject string
	payload []byte
}

type fakeTransport struct {
	mu        sync.Mutex
	messages  []published
	handler   func(ctx context.Context, data []byte) error
	subject   string
	subClosed bool
}

func (f *fakeTransport) Publish(_ context.Context, subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.messages = append(f.messages, published{subject: subject, payload: data})
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Subscribe(_ context.Context, subject string, fn func(ctx context.Context, data []byte) error) (io.Closer, error) {
	f.subject = subject
	f.handler = fn
	return closerFunc(func() error {
		f.subClosed = true
		return nil
	}), nil
}

type closerFunc func() error

func (c closerFunc) Close() error { return c() }

func (f *fakeTransport) deliver(t *testing.T, raw string) {
	t.Helper()
	if f.handler == nil {
		t.Fatal("transport has no subscriber")
	}
	if err := f.handler(context.Background(), []byte(raw)); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
}

func (f *fakeTransport) sent() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]published, len(f.messages))
	copy(out, f.messages)
	return out
}

func newServerFixture(t *testing.T) (*Server, *fakeTransport) {
	t.Helper()
	f := newFixture(t)
	transport := &fakeTransport{}
	metrics := NewMetrics(prometheus.NewRegistry())
	srv, err := New(testConfig(), f.engine, transport, metrics, zerolog.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return srv, transport
}

func TestServerSubscribesToPacketSubject(t *testing.T) {
	srv, transport := newServerFixture(t)
	if transport.subject != "sdhcp.packet" {
		t.Fatalf("subscribed to %q, want sdhcp.packet", transport.subject)
	}
	if err := srv.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !transport.subClosed {
		t.Fatal("Close should tear down the subscription")
	}
}

func TestServerHandshakeOverTransport(t *testing.T) {
	_, transport := newServerFixture(t)

	transport.deliver(t, `{"type":"DHCP_DISCOVER","clientId":"C1","desiredPrefixLength":48}`)

	sent := transport.sent()
	if len(sent) != 1 {
		t.Fatalf("published %d messages, want 1 offer", len(sent))
	}
	if sent[0].subject != "sdhcp.client.C1" {
		t.Fatalf("offer published to %q, want sdhcp.client.C1", sent[0].subject)
	}
	msg, err := sdhcp.Decode(sent[0].payload)
	if err != nil {
		t.Fatalf("decode published offer: %v", err)
	}
	offer, ok := msg.(sdhcp.Offer)
	if !ok {
		t.Fatalf("published %T, want Offer", msg)
	}
	if offer.OfferedAddress != (sdhcp.Address{0, 10, 1024, 0}) {
		t.Fatalf("offered %v", offer.OfferedAddress)
	}

	transport.deliver(t, `{"type":"DHCP_REQUEST","clientId":"C1","serverId":"S1","requestedAddress":[0,10,1024,0],"prefixLength":48}`)

	sent = transport.sent()
	if len(sent) != 2 {
		t.Fatalf("published %d messages, want offer + ack", len(sent))
	}
	msg, err = sdhcp.Decode(sent[1].payload)
	if err != nil {
		t.Fatalf("decode published ack: %v", err)
	}
	if _, ok := msg.(sdhcp.Ack); !ok {
		t.Fatalf("published %T, want Ack", msg)
	}
}

func TestServerDropsMalformedPackets(t *testing.T) {
	_, transport := newServerFixture(t)

	transport.deliver(t, `not json at all`)
	transport.deliver(t, `{"type":"DHCP_BOGUS","clientId":"C1"}`)
	transport.deliver(t, `{"type":"DHCP_DISCOVER"}`)

	if sent := transport.sent(); len(sent) != 0 {
		t.Fatalf("malformed packets produced %d replies", len(sent))
	}
}

func TestServerDropsServerOriginatedPackets(t *testing.T) {
	_, transport := newServerFixture(t)

	transport.deliver(t, `{"type":"DHCP_OFFER","clientId":"C1","serverId":"S9","offeredAddress":[0,0,0,1],"prefixLength":48,"leaseTime":60}`)
	transport.deliver(t, `{"type":"DHCP_ACK","clientId":"C1","serverId":"S9","assignedAddress":[0,0,0,1],"prefixLength":48,"leaseTime":60}`)
	transport.deliver(t, `{"type":"DHCP_NACK","clientId":"C1","serverId":"S9"}`)

	if sent := transport.sent(); len(sent) != 0 {
		t.Fatalf("server-originated packets produced %d replies", len(sent))
	}
}

func TestServerStaysSilentForForeignRequests(t *testing.T) {
	_, transport := newServerFixture(t)

	transport.deliver(t, `{"type":"DHCP_REQUEST","clientId":"C1","serverId":"OTHER","requestedAddress":[0,10,1024,0],"prefixLength":48}`)

	if sent := transport.sent(); len(sent) != 0 {
		t.Fatalf("foreign request produced %d replies", len(sent))
	}
}
