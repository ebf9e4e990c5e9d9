// Package session maintains one logical duplex connection from a
// context to the coordinator, transparently reconnecting on drop.
//
// A Channel owns exactly one Transport at a time. Unexpected drops
// trigger exponential-backoff reconnection (capped attempts) unless the
// channel was built with WithoutReconnect. The coordinator itself is
// dialed, it never dials, so its channels never reconnect. Drops inside
// a short grace window after a successful connect are treated as
// transport setup noise and ignored, preventing reconnect storms.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/domveil/wire"
)

// Status is the channel connection state.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

const (
	defaultBaseBackoff = 500 * time.Millisecond
	defaultMaxBackoff  = 5 * time.Second
	defaultMaxAttempts = 3
	defaultGraceWindow = time.Second
)

// Handler receives inbound messages addressed to this channel.
type Handler func(wire.Message)

// Channel is a single logical duplex connection to the coordinator.
type Channel struct {
	addr    wire.Address
	dialer  Dialer
	handler Handler
	logger  *slog.Logger

	reconnect   bool
	baseBackoff time.Duration
	maxBackoff  time.Duration
	grace       time.Duration
	maxAttempts int

	mu          sync.Mutex
	status      Status
	transport   Transport
	readCancel  context.CancelFunc
	attempts    int
	explicit    bool
	connectedAt time.Time
}

// Option configures a Channel.
type Option func(*Channel)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Channel) { c.logger = l }
}

// WithHandler sets the inbound message handler.
func WithHandler(h Handler) Option {
	return func(c *Channel) { c.handler = h }
}

// WithoutReconnect disables automatic reconnection. Used for channels
// playing the coordinator role: the coordinator is connected *to*, it
// has no one to reconnect to.
func WithoutReconnect() Option {
	return func(c *Channel) { c.reconnect = false }
}

// WithBackoff tunes the reconnect delay: min(base * 2^attempt, max).
func WithBackoff(base, max time.Duration) Option {
	return func(c *Channel) { c.baseBackoff, c.maxBackoff = base, max }
}

// WithMaxAttempts caps consecutive reconnect attempts.
func WithMaxAttempts(n int) Option {
	return func(c *Channel) { c.maxAttempts = n }
}

// WithGraceWindow sets the post-connect window in which a drop is
// treated as transport noise. Zero disables the window.
func WithGraceWindow(d time.Duration) Option {
	return func(c *Channel) { c.grace = d }
}

// New creates a Channel for the given logical address. The channel is
// disconnected until Connect is called.
func New(addr wire.Address, dialer Dialer, opts ...Option) *Channel {
	c := &Channel{
		addr:        addr,
		dialer:      dialer,
		logger:      slog.Default(),
		reconnect:   true,
		baseBackoff: defaultBaseBackoff,
		maxBackoff:  defaultMaxBackoff,
		grace:       defaultGraceWindow,
		maxAttempts: defaultMaxAttempts,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Addr returns the channel's own logical address.
func (c *Channel) Addr() wire.Address { return c.addr }

// Status returns the current connection state.
func (c *Channel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Connect establishes the transport. Already connected is a no-op.
// An explicit connect resets the reconnect attempt counter.
func (c *Channel) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts = 0
	return c.connectLocked(ctx)
}

func (c *Channel) connectLocked(ctx context.Context) error {
	if c.status == StatusConnected {
		return nil
	}

	// Tear down any stale transport before opening a new one.
	if c.readCancel != nil {
		c.readCancel()
		c.readCancel = nil
	}
	if c.transport != nil {
		c.transport.Close()
		c.transport = nil
	}

	c.status = StatusConnecting
	t, err := c.dialer.Dial(ctx, c.addr)
	if err != nil {
		c.status = StatusDisconnected
		return &ErrConnectFailed{Addr: c.addr, Cause: err}
	}

	readCtx, cancel := context.WithCancel(context.Background())
	c.transport = t
	c.readCancel = cancel
	c.status = StatusConnected
	c.connectedAt = time.Now()
	c.attempts = 0
	c.explicit = false

	go c.readLoop(readCtx, t)
	c.logger.Debug("session: connected", "addr", c.addr)
	return nil
}

// Send stamps the envelope with this channel's address, the target, and
// the current timestamp, then writes it to the transport. A transport
// failure is treated as an implicit disconnect and surfaced to the
// caller; the payload is not retried.
func (c *Channel) Send(target wire.Address, msg wire.Message) error {
	c.mu.Lock()
	if c.status != StatusConnected || c.transport == nil {
		c.mu.Unlock()
		return &ErrNotConnected{Addr: c.addr}
	}
	t := c.transport
	c.mu.Unlock()

	wire.Stamp(msg, c.addr, target)
	data, err := wire.Encode(msg)
	if err != nil {
		return err
	}

	if err := t.Send(data); err != nil {
		// Closing the transport drains the read loop, which runs the
		// normal drop path (state change + reconnect scheduling).
		t.Close()
		return &ErrSendFailed{Addr: c.addr, Target: target, Cause: err}
	}
	return nil
}

// Disconnect is an explicit, idempotent teardown. No reconnection is
// attempted after an explicit disconnect.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.explicit = true
	c.status = StatusDisconnected
	t := c.transport
	c.transport = nil
	if c.readCancel != nil {
		c.readCancel()
		c.readCancel = nil
	}
	c.mu.Unlock()

	if t != nil {
		t.Close()
	}
}

func (c *Channel) readLoop(ctx context.Context, t Transport) {
	for data := range t.Listen(ctx) {
		msg, err := wire.Decode(data)
		if err != nil {
			c.logger.Warn("session: dropping undecodable frame", "addr", c.addr, "error", err)
			continue
		}
		if msg.Env().Target != c.addr {
			// Defense against transports that broadcast instead of
			// addressing point-to-point.
			c.logger.Debug("session: dropping misaddressed envelope",
				"addr", c.addr, "target", msg.Env().Target)
			continue
		}
		if c.handler != nil {
			c.handler(msg)
		}
	}
	c.onDrop(t)
}

// onDrop runs when a transport's read stream ends.
func (c *Channel) onDrop(t Transport) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.transport != t {
		return // superseded by a newer connection
	}
	c.transport = nil
	if c.readCancel != nil {
		c.readCancel()
		c.readCancel = nil
	}
	c.status = StatusDisconnected

	if c.explicit {
		return
	}
	if c.grace > 0 && time.Since(c.connectedAt) < c.grace {
		c.logger.Debug("session: drop within grace window, ignoring", "addr", c.addr)
		return
	}
	if !c.reconnect {
		c.logger.Info("session: transport dropped, reconnection disabled", "addr", c.addr)
		return
	}
	c.scheduleRetryLocked()
}

// scheduleRetryLocked arms one backoff timer. The fired attempt is a
// no-op when a successful connect superseded it in the meantime.
func (c *Channel) scheduleRetryLocked() {
	if c.attempts >= c.maxAttempts {
		c.logger.Error("session: reconnect attempts exhausted",
			"addr", c.addr, "attempts", c.attempts)
		return
	}
	delay := c.baseBackoff << uint(c.attempts)
	if delay > c.maxBackoff {
		delay = c.maxBackoff
	}
	c.attempts++
	c.logger.Info("session: scheduling reconnect",
		"addr", c.addr, "attempt", c.attempts, "delay_ms", delay.Milliseconds())

	go func() {
		time.Sleep(delay)
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.status == StatusConnected || c.status == StatusConnecting || c.explicit {
			return
		}
		if err := c.connectLocked(context.Background()); err != nil {
			c.logger.Warn("session: reconnect failed",
				"addr", c.addr, "attempt", c.attempts, "error", err)
			c.scheduleRetryLocked()
		}
	}()
}
