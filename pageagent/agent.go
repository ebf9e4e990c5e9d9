// Package pageagent owns the live visual state of one page: the hidden
// set, selection mode, and the hover highlight.
//
// The agent is purely presentational: class toggles plus a transient
// cursor style. It never persists anything. Selections and apply
// tallies are reported upward to the coordinator and the panel decides
// what to store.
package pageagent

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/net/html"

	"github.com/hazyhaar/domveil/elemid"
	"github.com/hazyhaar/domveil/session"
	"github.com/hazyhaar/domveil/settings"
	"github.com/hazyhaar/domveil/wire"
)

// Agent manages hidden-element state for a single tab's page.
type Agent struct {
	tabID  int
	doc    *Document
	store  settings.Store
	ch     *session.Channel
	chOpts []session.Option
	logger *slog.Logger

	mu          sync.Mutex
	domain      string
	pageURL     string
	selecting   bool
	highlighted *html.Node
}

// Option configures an Agent.
type Option func(*Agent)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) { a.logger = l }
}

// WithChannelOptions passes extra options to the agent's channel,
// typically backoff tuning.
func WithChannelOptions(opts ...session.Option) Option {
	return func(a *Agent) { a.chOpts = append(a.chOpts, opts...) }
}

// New creates an agent for one tab over a parsed document. The agent's
// channel dials the coordinator under the page-agent address for the
// tab; rules load from the store on initialization.
func New(tabID int, doc *Document, store settings.Store, dialer session.Dialer, opts ...Option) *Agent {
	a := &Agent{
		tabID:  tabID,
		doc:    doc,
		store:  store,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	chOpts := append([]session.Option{
		session.WithLogger(a.logger),
		session.WithHandler(a.handle),
	}, a.chOpts...)
	a.ch = session.New(wire.PageAgent(tabID), dialer, chOpts...)
	return a
}

// Connect opens the channel and announces this page's domain so the
// coordinator can track it and echo it to the panel.
func (a *Agent) Connect(ctx context.Context, domain, pageURL string) error {
	if err := a.ch.Connect(ctx); err != nil {
		return err
	}
	a.mu.Lock()
	a.domain = domain
	a.pageURL = pageURL
	a.mu.Unlock()

	return a.ch.Send(wire.Coordinator, &wire.DomainInfo{Domain: domain, URL: pageURL})
}

// Disconnect tears down the channel.
func (a *Agent) Disconnect() {
	a.ch.Disconnect()
}

// Channel exposes the agent's session channel.
func (a *Agent) Channel() *session.Channel { return a.ch }

// handle dispatches one inbound message from the coordinator.
func (a *Agent) handle(msg wire.Message) {
	switch m := msg.(type) {
	case *wire.InitializeContent:
		a.Initialize(context.Background(), m.Domain)
	case *wire.ToggleSelectionMode:
		a.SetSelectionMode(m.Enabled)
	case *wire.HideElement:
		a.Hide(m.Identifier)
	case *wire.ShowElement:
		a.Unhide(m.Identifier)
	case *wire.ClearAll:
		a.ClearAll()
	default:
		a.logger.Debug("pageagent: ignoring message",
			"tab", a.tabID, "type", wire.TypeOf(msg))
	}
}

// Initialize resets the page to baseline and applies the stored rules
// for the domain in insertion order. Resolution misses are skipped
// silently; the applied/attempted tally is reported upward as an
// observability signal only.
func (a *Agent) Initialize(ctx context.Context, domain string) {
	rs := a.store.Get(ctx, domain)

	a.mu.Lock()
	a.domain = domain
	a.clearLocked()

	applied := 0
	if rs.Enabled {
		for _, rec := range rs.HiddenElements {
			if n := elemid.Resolve(a.doc.Root(), rec); n != nil {
				AddClass(n, HiddenClass)
				applied++
			}
		}
	}
	a.mu.Unlock()

	if !rs.Enabled {
		a.report(domain, 0, 0)
		return
	}
	a.logger.Info("pageagent: rules applied",
		"tab", a.tabID, "domain", domain,
		"applied", applied, "attempted", len(rs.HiddenElements))
	a.report(domain, applied, len(rs.HiddenElements))
}

func (a *Agent) report(domain string, applied, attempted int) {
	err := a.ch.Send(wire.Coordinator, &wire.ApplyReport{
		Domain: domain, Applied: applied, Attempted: attempted,
	})
	if err != nil {
		a.logger.Debug("pageagent: apply report not sent", "tab", a.tabID, "error", err)
	}
}

// SetSelectionMode toggles selection mode. Disabling clears the hover
// highlight and the crosshair cursor.
func (a *Agent) SetSelectionMode(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.selecting == enabled {
		return
	}
	a.selecting = enabled

	if enabled {
		a.doc.EnableCrosshair()
		return
	}
	a.doc.DisableCrosshair()
	if a.highlighted != nil {
		RemoveClass(a.highlighted, HighlightClass)
		a.highlighted = nil
	}
}

// Selecting reports whether selection mode is on.
func (a *Agent) Selecting() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.selecting
}

// PointerEnter moves the hover highlight to n. Only one element is
// highlighted at a time. No-op outside selection mode.
func (a *Agent) PointerEnter(n *html.Node) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.selecting {
		return
	}
	if a.highlighted != nil {
		RemoveClass(a.highlighted, HighlightClass)
	}
	AddClass(n, HighlightClass)
	a.highlighted = n
}

// ClickSelect captures the clicked element's identity, hides it
// immediately, and announces the selection upward. The caller is
// responsible for suppressing the click's default action.
func (a *Agent) ClickSelect(n *html.Node) {
	a.mu.Lock()
	if !a.selecting {
		a.mu.Unlock()
		return
	}
	if a.highlighted == n {
		RemoveClass(n, HighlightClass)
		a.highlighted = nil
	}
	domain := a.domain
	rec := elemid.Identify(n, true)
	AddClass(n, HiddenClass)
	a.mu.Unlock()

	err := a.ch.Send(wire.Coordinator, &wire.ElementSelected{
		Domain:     domain,
		Identifier: rec,
	})
	if err != nil {
		a.logger.Warn("pageagent: selection not announced",
			"tab", a.tabID, "path", rec.DOMPath, "error", err)
	}
}

// Hide resolves a record and applies the hidden treatment. A miss is a
// silent no-op; the rule stays stored for a future visit.
func (a *Agent) Hide(rec elemid.Record) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n := elemid.Resolve(a.doc.Root(), rec); n != nil {
		AddClass(n, HiddenClass)
	}
}

// Unhide resolves a record and removes the hidden treatment. A miss is
// a silent no-op; the element is presumed not currently present.
func (a *Agent) Unhide(rec elemid.Record) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n := elemid.Resolve(a.doc.Root(), rec); n != nil {
		RemoveClass(n, HiddenClass)
	}
}

// ClearAll removes the hidden treatment from every element currently
// carrying it, scanning by marker rather than by stored records.
func (a *Agent) ClearAll() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.clearLocked()
}

func (a *Agent) clearLocked() {
	for _, n := range a.doc.ElementsWithClass(HiddenClass) {
		RemoveClass(n, HiddenClass)
	}
}

// HiddenCount reports how many elements currently carry the hidden
// treatment.
func (a *Agent) HiddenCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.doc.ElementsWithClass(HiddenClass))
}
