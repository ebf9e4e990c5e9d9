package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/domveil/wire"
)

// testHub hands out pipe transports and keeps the server ends so tests
// can push frames and induce drops.
type testHub struct {
	mu      sync.Mutex
	servers []Transport
	refuse  bool
	dials   int
}

func (h *testHub) Dial(ctx context.Context, from wire.Address) (Transport, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dials++
	if h.refuse {
		return nil, errors.New("dial refused")
	}
	client, server := NewPipe(16)
	h.servers = append(h.servers, server)
	return client, nil
}

func (h *testHub) dialCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dials
}

func (h *testHub) setRefuse(v bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.refuse = v
}

func (h *testHub) server(i int) Transport {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.servers[i]
}

func (h *testHub) lastServer() Transport {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.servers[len(h.servers)-1]
}

// waitFor polls cond until true or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached before deadline")
}

func fastOpts(extra ...Option) []Option {
	opts := []Option{
		WithBackoff(time.Millisecond, 10*time.Millisecond),
		WithGraceWindow(0),
	}
	return append(opts, extra...)
}

func TestConnectIdempotent(t *testing.T) {
	hub := &testHub{}
	c := New(wire.Panel, hub, fastOpts()...)
	t.Cleanup(c.Disconnect)

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("second connect: %v", err)
	}
	if got := hub.dialCount(); got != 1 {
		t.Errorf("dials = %d, want 1", got)
	}
	if c.Status() != StatusConnected {
		t.Errorf("status = %v", c.Status())
	}
}

func TestSendRequiresConnected(t *testing.T) {
	c := New(wire.Panel, &testHub{}, fastOpts()...)

	err := c.Send(wire.Coordinator, &wire.ClearAll{})
	var notConn *ErrNotConnected
	if !errors.As(err, &notConn) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
}

func TestSendStampsEnvelope(t *testing.T) {
	hub := &testHub{}
	c := New(wire.PageAgent(4), hub, fastOpts()...)
	t.Cleanup(c.Disconnect)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	if err := c.Send(wire.Coordinator, &wire.DomainInfo{Domain: "a.com", URL: "https://a.com"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	data, ok := <-hub.server(0).Listen(ctx)
	if !ok {
		t.Fatal("no frame received")
	}
	msg, err := wire.Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	env := msg.Env()
	if env.Source != wire.PageAgent(4) || env.Target != wire.Coordinator {
		t.Errorf("source/target = %v/%v", env.Source, env.Target)
	}
	if env.Timestamp == 0 {
		t.Error("timestamp not stamped")
	}
}

func TestInboundTargetFilter(t *testing.T) {
	hub := &testHub{}
	var mu sync.Mutex
	var got []wire.Message
	c := New(wire.Panel, hub, fastOpts(WithHandler(func(m wire.Message) {
		mu.Lock()
		got = append(got, m)
		mu.Unlock()
	}))...)
	t.Cleanup(c.Disconnect)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	misaddressed := &wire.TabActivated{TabID: 9}
	wire.Stamp(misaddressed, wire.Coordinator, wire.PageAgent(9))
	data, _ := wire.Encode(misaddressed)
	hub.server(0).Send(data)

	addressed := &wire.TabActivated{TabID: 7}
	wire.Stamp(addressed, wire.Coordinator, wire.Panel)
	data, _ = wire.Encode(addressed)
	hub.server(0).Send(data)

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) >= 1
	})
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("delivered %d messages, want 1", len(got))
	}
	if ta, ok := got[0].(*wire.TabActivated); !ok || ta.TabID != 7 {
		t.Errorf("delivered %+v", got[0])
	}
}

func TestReconnectAfterDrop(t *testing.T) {
	hub := &testHub{}
	var mu sync.Mutex
	delivered := 0
	c := New(wire.Panel, hub, fastOpts(WithHandler(func(wire.Message) {
		mu.Lock()
		delivered++
		mu.Unlock()
	}))...)
	t.Cleanup(c.Disconnect)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	// Induce two consecutive drops; the channel must come back each
	// time (attempt count stays below the cap).
	for i := 0; i < 2; i++ {
		hub.lastServer().Close()
		waitFor(t, time.Second, func() bool { return c.Status() == StatusConnected })
	}
	if got := hub.dialCount(); got != 3 {
		t.Errorf("dials = %d, want 3", got)
	}

	// Exactly one delivery after reconnection, no duplicates from
	// stale read loops.
	m := &wire.ClearAll{}
	wire.Stamp(m, wire.Coordinator, wire.Panel)
	data, _ := wire.Encode(m)
	hub.lastServer().Send(data)

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return delivered >= 1
	})
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if delivered != 1 {
		t.Errorf("delivered = %d, want 1", delivered)
	}
}

func TestReconnectExhaustionThenExplicitConnect(t *testing.T) {
	hub := &testHub{}
	c := New(wire.Panel, hub, fastOpts(WithMaxAttempts(3))...)
	t.Cleanup(c.Disconnect)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	hub.setRefuse(true)
	hub.lastServer().Close()

	// 1 initial dial + 3 failed reconnect attempts, then it gives up.
	waitFor(t, time.Second, func() bool { return hub.dialCount() == 4 })
	time.Sleep(30 * time.Millisecond)
	if got := hub.dialCount(); got != 4 {
		t.Errorf("dials = %d, want 4 (no retries past the cap)", got)
	}
	if c.Status() != StatusDisconnected {
		t.Errorf("status = %v, want disconnected", c.Status())
	}

	// An explicit connect succeeds and resets the attempt counter.
	hub.setRefuse(false)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("explicit reconnect: %v", err)
	}
	if c.Status() != StatusConnected {
		t.Errorf("status = %v", c.Status())
	}

	// The reset counter allows a fresh round of automatic retries.
	hub.lastServer().Close()
	waitFor(t, time.Second, func() bool { return c.Status() == StatusConnected })
}

func TestGraceWindowSuppressesReconnect(t *testing.T) {
	hub := &testHub{}
	c := New(wire.Panel, hub,
		WithBackoff(time.Millisecond, 10*time.Millisecond),
		WithGraceWindow(time.Minute))
	t.Cleanup(c.Disconnect)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	// Drop immediately after connect: inside the grace window, so it is
	// treated as transport noise and no reconnect is scheduled.
	hub.lastServer().Close()
	waitFor(t, time.Second, func() bool { return c.Status() == StatusDisconnected })
	time.Sleep(30 * time.Millisecond)
	if got := hub.dialCount(); got != 1 {
		t.Errorf("dials = %d, want 1", got)
	}
}

func TestWithoutReconnect(t *testing.T) {
	hub := &testHub{}
	c := New(wire.Coordinator, hub, fastOpts(WithoutReconnect())...)
	t.Cleanup(c.Disconnect)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	hub.lastServer().Close()
	waitFor(t, time.Second, func() bool { return c.Status() == StatusDisconnected })
	time.Sleep(30 * time.Millisecond)
	if got := hub.dialCount(); got != 1 {
		t.Errorf("dials = %d, want 1", got)
	}
}

func TestExplicitDisconnectIsIdempotent(t *testing.T) {
	hub := &testHub{}
	c := New(wire.Panel, hub, fastOpts()...)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	c.Disconnect()
	c.Disconnect()

	time.Sleep(30 * time.Millisecond)
	if c.Status() != StatusDisconnected {
		t.Errorf("status = %v", c.Status())
	}
	if got := hub.dialCount(); got != 1 {
		t.Errorf("dials = %d, want 1 (no reconnect after explicit disconnect)", got)
	}
}

func TestSendFailureSurfacesAndDisconnects(t *testing.T) {
	hub := &testHub{}
	c := New(wire.Panel, hub, fastOpts()...)
	t.Cleanup(c.Disconnect)
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	// Kill the transport under the channel, then send.
	hub.lastServer().Close()
	err := c.Send(wire.Coordinator, &wire.ClearAll{})
	var sendErr *ErrSendFailed
	var notConn *ErrNotConnected
	if !errors.As(err, &sendErr) && !errors.As(err, &notConn) {
		t.Fatalf("err = %v, want send failure", err)
	}
}
