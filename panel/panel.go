// Package panel implements the user-facing session: it tracks the
// active tab and domain, persists selections into the rule store, and
// commands the active page agent through the coordinator. Rendering is
// out of scope; a rules-changed callback is the UI hook.
package panel

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hazyhaar/domveil/elemid"
	"github.com/hazyhaar/domveil/session"
	"github.com/hazyhaar/domveil/settings"
	"github.com/hazyhaar/domveil/wire"
)

// RulesChangedFunc is invoked after the rule set for a domain changes,
// or after a domain switch reloads it. Called from the channel's read
// goroutine; implementations should hand off quickly.
type RulesChangedFunc func(domain string, rs settings.RuleSet)

// Session is the panel's side of the protocol.
type Session struct {
	store   settings.Store
	ch      *session.Channel
	chOpts  []session.Option
	logger  *slog.Logger
	onRules RulesChangedFunc

	mu        sync.Mutex
	domain    string
	activeTab int
	hasTab    bool
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.logger = l }
}

// WithRulesChanged registers the rules-changed callback.
func WithRulesChanged(fn RulesChangedFunc) Option {
	return func(s *Session) { s.onRules = fn }
}

// WithChannelOptions passes extra options to the panel's channel,
// typically backoff tuning.
func WithChannelOptions(opts ...session.Option) Option {
	return func(s *Session) { s.chOpts = append(s.chOpts, opts...) }
}

// New creates a panel session dialing the coordinator under the panel
// address.
func New(store settings.Store, dialer session.Dialer, opts ...Option) *Session {
	s := &Session{
		store:  store,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	chOpts := append([]session.Option{
		session.WithLogger(s.logger),
		session.WithHandler(s.handle),
	}, s.chOpts...)
	s.ch = session.New(wire.Panel, dialer, chOpts...)
	return s
}

// Connect opens the channel to the coordinator.
func (s *Session) Connect(ctx context.Context) error {
	return s.ch.Connect(ctx)
}

// Disconnect tears down the channel.
func (s *Session) Disconnect() {
	s.ch.Disconnect()
}

// Channel exposes the panel's session channel.
func (s *Session) Channel() *session.Channel { return s.ch }

// Domain returns the currently tracked domain, empty while no page has
// been announced yet.
func (s *Session) Domain() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.domain
}

// ActiveTab returns the tracked active tab id, false before the first
// tab activation.
func (s *Session) ActiveTab() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeTab, s.hasTab
}

// Rules returns the stored rule set for the current domain, or the
// default while no domain is tracked.
func (s *Session) Rules(ctx context.Context) settings.RuleSet {
	s.mu.Lock()
	domain := s.domain
	s.mu.Unlock()
	if domain == "" {
		return settings.Default()
	}
	return s.store.Get(ctx, domain)
}

// handle dispatches one inbound message from the coordinator.
func (s *Session) handle(msg wire.Message) {
	switch m := msg.(type) {
	case *wire.DomainInfo:
		s.mu.Lock()
		s.domain = m.Domain
		s.mu.Unlock()
		s.notify(m.Domain)
	case *wire.TabActivated:
		s.mu.Lock()
		s.activeTab = m.TabID
		s.hasTab = true
		s.mu.Unlock()
	case *wire.ElementSelected:
		s.persistSelection(m)
	default:
		s.logger.Debug("panel: ignoring message", "type", wire.TypeOf(msg))
	}
}

// persistSelection stores a selection announced by a page agent,
// deduplicating by structural path.
func (s *Session) persistSelection(m *wire.ElementSelected) {
	ctx := context.Background()
	rs := s.store.Get(ctx, m.Domain)
	if rs.ContainsPath(m.Identifier.DOMPath) {
		s.logger.Debug("panel: selection already stored",
			"domain", m.Domain, "path", m.Identifier.DOMPath)
		return
	}
	rs.HiddenElements = append(rs.HiddenElements, m.Identifier)
	if err := s.store.Set(ctx, m.Domain, rs); err != nil {
		s.logger.Error("panel: persist selection",
			"domain", m.Domain, "path", m.Identifier.DOMPath, "error", err)
		return
	}
	s.notify(m.Domain)
}

// Hide persists a rule for the current domain and commands the active
// agent to apply it.
func (s *Session) Hide(ctx context.Context, rec elemid.Record) error {
	domain, err := s.currentDomain()
	if err != nil {
		return err
	}
	rs := s.store.Get(ctx, domain)
	if !rs.ContainsPath(rec.DOMPath) {
		rs.HiddenElements = append(rs.HiddenElements, rec)
		if err := s.store.Set(ctx, domain, rs); err != nil {
			return err
		}
		s.notify(domain)
	}
	return s.sendToAgent(&wire.HideElement{Identifier: rec})
}

// Show removes a rule for the current domain and commands the active
// agent to reveal the element.
func (s *Session) Show(ctx context.Context, rec elemid.Record) error {
	domain, err := s.currentDomain()
	if err != nil {
		return err
	}
	rs := s.store.Get(ctx, domain)
	kept := rs.HiddenElements[:0]
	for _, r := range rs.HiddenElements {
		if !r.SamePath(rec) {
			kept = append(kept, r)
		}
	}
	if len(kept) != len(rs.HiddenElements) {
		rs.HiddenElements = kept
		if err := s.store.Set(ctx, domain, rs); err != nil {
			return err
		}
		s.notify(domain)
	}
	return s.sendToAgent(&wire.ShowElement{Identifier: rec})
}

// ClearAll removes every rule for the current domain and commands the
// active agent to reveal everything.
func (s *Session) ClearAll(ctx context.Context) error {
	domain, err := s.currentDomain()
	if err != nil {
		return err
	}
	rs := s.store.Get(ctx, domain)
	if len(rs.HiddenElements) > 0 {
		rs.HiddenElements = nil
		if err := s.store.Set(ctx, domain, rs); err != nil {
			return err
		}
		s.notify(domain)
	}
	return s.sendToAgent(&wire.ClearAll{})
}

// ToggleSelectionMode switches selection mode on the active agent.
// Selection mode is transient page state and is never persisted.
func (s *Session) ToggleSelectionMode(enabled bool) error {
	return s.sendToAgent(&wire.ToggleSelectionMode{Enabled: enabled})
}

// SetEnabled persists the per-domain enabled flag and reinitializes the
// active agent so the page reflects the new state.
func (s *Session) SetEnabled(ctx context.Context, enabled bool) error {
	domain, err := s.currentDomain()
	if err != nil {
		return err
	}
	rs := s.store.Get(ctx, domain)
	if rs.Enabled != enabled {
		rs.Enabled = enabled
		if err := s.store.Set(ctx, domain, rs); err != nil {
			return err
		}
		s.notify(domain)
	}
	return s.sendToAgent(&wire.InitializeContent{Domain: domain})
}

func (s *Session) currentDomain() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.domain == "" {
		return "", &ErrNoDomain{}
	}
	return s.domain, nil
}

// sendToAgent addresses the active tab's agent through the coordinator.
func (s *Session) sendToAgent(msg wire.Message) error {
	s.mu.Lock()
	tab, ok := s.activeTab, s.hasTab
	s.mu.Unlock()
	if !ok {
		return &ErrNoActiveTab{}
	}
	return s.ch.Send(wire.PageAgent(tab), msg)
}

func (s *Session) notify(domain string) {
	if s.onRules == nil {
		return
	}
	s.onRules(domain, s.store.Get(context.Background(), domain))
}
