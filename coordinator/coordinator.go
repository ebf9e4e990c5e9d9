// Package coordinator is the hub between the panel and per-tab page
// agents. It owns the channel registry, tracks the active tab's domain,
// and routes envelopes between channels.
//
// Routing is at-most-once and best-effort: an envelope addressed to an
// unregistered channel is logged and dropped, never queued. The
// registry's conflict rule is last-registration-wins: attaching a new
// transport under a live address forcibly closes the previous one, so
// an address never has two live transports delivering duplicates.
//
// The coordinator holds no durable state. A cold start re-queries the
// host for the active tab and begins with an empty registry; everything
// else lives in the settings store.
package coordinator

import (
	"context"
	"iter"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/hazyhaar/domveil/session"
	"github.com/hazyhaar/domveil/wire"
)

// TabInfo describes the host's currently active tab.
type TabInfo struct {
	TabID    int
	WindowID int
	URL      string
}

// Host is the platform collaborator: tab queries and agent injection.
// Implementations must tolerate concurrent calls.
type Host interface {
	// ActiveTab reports which tab currently has focus.
	ActiveTab(ctx context.Context) (TabInfo, error)

	// Inject loads a fresh page agent into the given tab. Best-effort;
	// the coordinator swallows failures and retries on the next
	// lifecycle event.
	Inject(ctx context.Context, tabID int) error
}

// ActiveTabInfo is the coordinator's in-memory view of the active tab.
// Overwritten on every host lifecycle event, reconstructed from scratch
// after a restart.
type ActiveTabInfo struct {
	TabID    int    `json:"tabId"`
	WindowID int    `json:"windowId"`
	URL      string `json:"url"`
	Domain   string `json:"domain"`
	Eligible bool   `json:"eligible"`
}

// defaultRestricted lists URL prefixes of the host's own privileged
// pages; these never receive an agent or rule application.
var defaultRestricted = []string{
	"chrome://",
	"chrome-extension://",
	"devtools://",
	"edge://",
	"about:",
	"view-source:",
}

type entry struct {
	transport session.Transport
	cancel    context.CancelFunc
}

// Coordinator routes envelopes and tracks the active tab.
type Coordinator struct {
	host       Host
	logger     *slog.Logger
	restricted []string
	bufferSize int

	lifeCtx    context.Context
	lifeCancel context.CancelFunc

	mu         sync.Mutex
	registry   map[wire.Address]*entry
	tabDomains map[int]string
	active     ActiveTabInfo
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithRestrictedPrefixes overrides the injection-ineligible URL
// prefixes.
func WithRestrictedPrefixes(prefixes []string) Option {
	return func(c *Coordinator) { c.restricted = prefixes }
}

// WithBufferSize sets the per-direction frame buffer of dialed pipes.
func WithBufferSize(n int) Option {
	return func(c *Coordinator) { c.bufferSize = n }
}

// New creates a Coordinator over the given host platform.
func New(host Host, opts ...Option) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		host:       host,
		logger:     slog.Default(),
		restricted: defaultRestricted,
		bufferSize: 64,
		lifeCtx:    ctx,
		lifeCancel: cancel,
		registry:   make(map[wire.Address]*entry),
		tabDomains: make(map[int]string),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Start lazily reconstructs the active-tab view. Called once on cold
// start; safe to call again after a worker restart.
func (c *Coordinator) Start(ctx context.Context) {
	c.refresh(ctx)
}

// Close tears down every registered channel.
func (c *Coordinator) Close() {
	c.lifeCancel()
	c.mu.Lock()
	defer c.mu.Unlock()
	for addr, e := range c.registry {
		e.cancel()
		e.transport.Close()
		delete(c.registry, addr)
	}
}

// Dial implements session.Dialer: it opens an in-process pipe and
// registers the far end under the caller's logical address. This is how
// panel and page-agent channels reach the hub.
func (c *Coordinator) Dial(ctx context.Context, from wire.Address) (session.Transport, error) {
	client, server := session.NewPipe(c.bufferSize)
	c.Attach(from, server)
	return client, nil
}

// Attach registers a transport under a logical address, forcibly
// closing any previous transport registered there.
func (c *Coordinator) Attach(addr wire.Address, t session.Transport) {
	c.mu.Lock()
	if old, ok := c.registry[addr]; ok {
		old.cancel()
		old.transport.Close()
		c.logger.Info("coordinator: replacing channel", "addr", addr)
	}
	readCtx, cancel := context.WithCancel(c.lifeCtx)
	c.registry[addr] = &entry{transport: t, cancel: cancel}
	c.mu.Unlock()

	c.logger.Debug("coordinator: channel registered", "addr", addr)
	go c.readLoop(readCtx, addr, t)
}

func (c *Coordinator) readLoop(ctx context.Context, addr wire.Address, t session.Transport) {
	for data := range t.Listen(ctx) {
		c.route(addr, data)
	}
	c.detach(addr, t)
}

func (c *Coordinator) detach(addr wire.Address, t session.Transport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.registry[addr]; ok && e.transport == t {
		e.cancel()
		delete(c.registry, addr)
		c.logger.Debug("coordinator: channel deregistered", "addr", addr)
	}
}

// route dispatches one inbound envelope from the channel registered at
// from. Special-cased types are handled here; everything else is
// forwarded verbatim to its target or dropped.
func (c *Coordinator) route(from wire.Address, data []byte) {
	msg, err := wire.Decode(data)
	if err != nil {
		c.logger.Warn("coordinator: dropping undecodable envelope", "from", from, "error", err)
		return
	}

	switch m := msg.(type) {
	case *wire.DomainInfo:
		c.handleDomainInfo(from, m)
	case *wire.ElementSelected:
		// Forwarded to the panel only, never back to the originating
		// page agent.
		c.sendTo(wire.Panel, m)
	case *wire.ApplyReport:
		c.logger.Info("coordinator: rules applied",
			"from", from, "domain", m.Domain,
			"applied", m.Applied, "attempted", m.Attempted)
	default:
		target := msg.Env().Target
		if target == wire.Coordinator {
			c.logger.Debug("coordinator: unhandled local message",
				"from", from, "type", wire.TypeOf(msg))
			return
		}
		c.forwardRaw(from, target, data)
	}
}

func (c *Coordinator) handleDomainInfo(from wire.Address, m *wire.DomainInfo) {
	if from.Kind == wire.KindPageAgent {
		c.mu.Lock()
		c.tabDomains[from.Tab] = m.Domain
		if c.active.TabID == from.Tab {
			c.active.Domain = m.Domain
		}
		c.mu.Unlock()
	}
	// Echo to the panel so it can reload that domain's rules.
	echo := &wire.DomainInfo{Domain: m.Domain, URL: m.URL}
	c.sendTo(wire.Panel, echo)
}

// forwardRaw delivers the envelope bytes verbatim to the registered
// target channel. At-most-once: unknown targets are dropped with a log.
func (c *Coordinator) forwardRaw(from, target wire.Address, data []byte) {
	c.mu.Lock()
	e, ok := c.registry[target]
	c.mu.Unlock()
	if !ok {
		c.logger.Debug("coordinator: dropping envelope",
			"from", from, "error", &ErrNoRoute{Target: target})
		return
	}
	if err := e.transport.Send(data); err != nil {
		c.logger.Warn("coordinator: forward failed",
			"from", from, "target", target, "error", err)
	}
}

// sendTo stamps and delivers a coordinator-originated message.
func (c *Coordinator) sendTo(target wire.Address, msg wire.Message) {
	c.mu.Lock()
	e, ok := c.registry[target]
	c.mu.Unlock()
	if !ok {
		c.logger.Debug("coordinator: dropping envelope",
			"error", &ErrNoRoute{Target: target}, "type", wire.TypeOf(msg))
		return
	}

	wire.Stamp(msg, wire.Coordinator, target)
	data, err := wire.Encode(msg)
	if err != nil {
		c.logger.Warn("coordinator: encode failed", "target", target, "error", err)
		return
	}
	if err := e.transport.Send(data); err != nil {
		c.logger.Warn("coordinator: send failed", "target", target, "error", err)
	}
}

// --- active-tab tracking ---

// TabActivated is the host callback for tab activation.
func (c *Coordinator) TabActivated(ctx context.Context, tabID, windowID int) {
	c.refresh(ctx)
}

// TabUpdated is the host callback for tab URL/load updates. Only
// completed loads refresh the view.
func (c *Coordinator) TabUpdated(ctx context.Context, tabID int, status, pageURL string) {
	if status != "complete" {
		return
	}
	c.refresh(ctx)
}

// FocusChanged is the host callback for window focus changes.
func (c *Coordinator) FocusChanged(ctx context.Context, windowID int) {
	c.refresh(ctx)
}

// refresh re-reads the active tab and pushes the new domain to the
// interested channels. Host failures are logged and skipped; the next
// lifecycle event retries naturally.
func (c *Coordinator) refresh(ctx context.Context) {
	info, err := c.host.ActiveTab(ctx)
	if err != nil {
		c.logger.Warn("coordinator: active tab query failed", "error", err)
		return
	}

	domain := hostname(info.URL)
	eligible := c.eligible(info.URL)

	agentAddr := wire.PageAgent(info.TabID)
	c.mu.Lock()
	c.active = ActiveTabInfo{
		TabID:    info.TabID,
		WindowID: info.WindowID,
		URL:      info.URL,
		Domain:   domain,
		Eligible: eligible,
	}
	_, hasAgent := c.registry[agentAddr]
	c.mu.Unlock()

	c.logger.Debug("coordinator: active tab",
		"tab", info.TabID, "domain", domain, "eligible", eligible, "agent", hasAgent)

	switch {
	case hasAgent:
		c.sendTo(agentAddr, &wire.InitializeContent{Domain: domain})
	case eligible:
		if err := c.host.Inject(ctx, info.TabID); err != nil {
			c.logger.Warn("coordinator: inject failed", "tab", info.TabID, "error", err)
		}
	}

	c.sendTo(wire.Panel, &wire.DomainInfo{Domain: domain, URL: info.URL})
	c.sendTo(wire.Panel, &wire.TabActivated{TabID: info.TabID})
}

// eligible reports whether a URL may receive an agent. Restricted
// schemes (the host's own privileged pages) never do.
func (c *Coordinator) eligible(pageURL string) bool {
	if pageURL == "" {
		return false
	}
	for _, prefix := range c.restricted {
		if strings.HasPrefix(pageURL, prefix) {
			return false
		}
	}
	return true
}

func hostname(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

// --- inspection ---

// ChannelInfo is a point-in-time snapshot of one registered channel.
type ChannelInfo struct {
	Address string `json:"address"`
	Tab     int    `json:"tab,omitempty"`
}

// Channels returns an iterator over the registered channels.
func (c *Coordinator) Channels() iter.Seq[ChannelInfo] {
	return func(yield func(ChannelInfo) bool) {
		c.mu.Lock()
		addrs := make([]wire.Address, 0, len(c.registry))
		for addr := range c.registry {
			addrs = append(addrs, addr)
		}
		c.mu.Unlock()

		for _, addr := range addrs {
			info := ChannelInfo{Address: addr.String()}
			if addr.Kind == wire.KindPageAgent {
				info.Tab = addr.Tab
			}
			if !yield(info) {
				return
			}
		}
	}
}

// ActiveTab returns the current active-tab snapshot.
func (c *Coordinator) ActiveTab() ActiveTabInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// DomainForTab returns the last announced domain for a tab.
func (c *Coordinator) DomainForTab(tab int) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.tabDomains[tab]
	return d, ok
}
