// Package rodhost adapts a Chrome instance, driven over CDP via Rod,
// to the coordinator's Host interface. Pages map to stable numeric tab
// ids; the active tab is whichever page reports a visible document.
package rodhost

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/domveil/coordinator"
)

// InjectFunc receives a snapshot of a page's HTML when the coordinator
// asks for an agent on that tab. The reader holds the serialized
// document.
type InjectFunc func(ctx context.Context, tabID int, pageURL string, body io.Reader) error

// Events carries the browser-side notifications the poll loop raises.
// Nil callbacks are skipped.
type Events struct {
	TabActivated func(ctx context.Context, tabID, windowID int)
	TabUpdated   func(ctx context.Context, tabID int, status, pageURL string)
	FocusChanged func(ctx context.Context, windowID int)
}

// Host drives Chrome through Rod and implements coordinator.Host.
type Host struct {
	remote   string
	logger   *slog.Logger
	onInject InjectFunc
	events   Events

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	tabs    map[proto.TargetTargetID]int
	urls    map[int]string
	nextTab int
	active  int
}

// Option configures a Host.
type Option func(*Host)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Host) { h.logger = l }
}

// WithRemote points the host at an already-running Chrome by its
// WebSocket control URL. Empty launches a local headless instance.
func WithRemote(u string) Option {
	return func(h *Host) { h.remote = u }
}

// WithInjector sets the agent bootstrap callback.
func WithInjector(fn InjectFunc) Option {
	return func(h *Host) { h.onInject = fn }
}

// WithEvents sets the poll-loop notification callbacks.
func WithEvents(ev Events) Option {
	return func(h *Host) { h.events = ev }
}

// New creates an unconnected host. Call Connect before use.
func New(opts ...Option) *Host {
	h := &Host{
		logger: slog.Default(),
		tabs:   make(map[proto.TargetTargetID]int),
		urls:   make(map[int]string),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Connect launches or attaches to Chrome.
func (h *Host) Connect(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	u := h.remote
	if u == "" {
		h.lnch = launcher.New().Headless(true)
		launched, err := h.lnch.Launch()
		if err != nil {
			return fmt.Errorf("rodhost: launch chrome: %w", err)
		}
		u = launched
	}

	b := rod.New().Context(ctx).ControlURL(u)
	if err := b.Connect(); err != nil {
		return fmt.Errorf("rodhost: connect %s: %w", u, err)
	}
	h.browser = b
	h.logger.Info("rodhost: connected", "url", u, "remote", h.remote != "")
	return nil
}

// Close disconnects from Chrome and tears down a locally launched
// instance.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var err error
	if h.browser != nil {
		err = h.browser.Close()
		h.browser = nil
	}
	if h.lnch != nil {
		h.lnch.Cleanup()
		h.lnch = nil
	}
	return err
}

// Open creates a new stealth page, navigates it, and returns the
// assigned tab id.
func (h *Host) Open(ctx context.Context, pageURL string) (int, error) {
	h.mu.Lock()
	b := h.browser
	h.mu.Unlock()
	if b == nil {
		return 0, &ErrNotConnected{}
	}

	page, err := stealth.Page(b)
	if err != nil {
		return 0, fmt.Errorf("rodhost: create page: %w", err)
	}

	navCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		page.Close()
		return 0, fmt.Errorf("rodhost: navigate %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		h.logger.Warn("rodhost: wait load timeout", "url", pageURL, "error", err)
	}

	return h.tabID(page.TargetID), nil
}

// ActiveTab reports the currently visible page.
func (h *Host) ActiveTab(ctx context.Context) (coordinator.TabInfo, error) {
	h.mu.Lock()
	b := h.browser
	h.mu.Unlock()
	if b == nil {
		return coordinator.TabInfo{}, &ErrNotConnected{}
	}

	pages, err := b.Context(ctx).Pages()
	if err != nil {
		return coordinator.TabInfo{}, fmt.Errorf("rodhost: list pages: %w", err)
	}
	if len(pages) == 0 {
		return coordinator.TabInfo{}, &ErrNoPages{}
	}

	page := pages.First()
	for _, p := range pages {
		res, err := p.Context(ctx).Eval(`() => document.visibilityState`)
		if err != nil {
			continue
		}
		if res.Value.Str() == "visible" {
			page = p
			break
		}
	}

	info, err := page.Context(ctx).Info()
	if err != nil {
		return coordinator.TabInfo{}, fmt.Errorf("rodhost: page info: %w", err)
	}
	return coordinator.TabInfo{
		TabID:    h.tabID(page.TargetID),
		WindowID: 1,
		URL:      info.URL,
	}, nil
}

// Inject snapshots the tab's document and hands it to the bootstrap
// callback.
func (h *Host) Inject(ctx context.Context, tabID int) error {
	if h.onInject == nil {
		return &ErrNoInjector{}
	}

	page, err := h.pageFor(ctx, tabID)
	if err != nil {
		return err
	}
	info, err := page.Context(ctx).Info()
	if err != nil {
		return fmt.Errorf("rodhost: page info: %w", err)
	}
	res, err := page.Context(ctx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return fmt.Errorf("rodhost: snapshot tab %d: %w", tabID, err)
	}

	h.logger.Info("rodhost: injecting agent", "tab", tabID, "url", info.URL)
	return h.onInject(ctx, tabID, info.URL, strings.NewReader(res.Value.Str()))
}

// Poll watches the browser and raises tab events until ctx is done.
func (h *Host) Poll(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.pollOnce(ctx)
		}
	}
}

func (h *Host) pollOnce(ctx context.Context) {
	tab, err := h.ActiveTab(ctx)
	if err != nil {
		h.logger.Debug("rodhost: poll", "error", err)
		return
	}

	h.mu.Lock()
	prevTab := h.active
	prevURL := h.urls[tab.TabID]
	h.active = tab.TabID
	h.urls[tab.TabID] = tab.URL
	h.mu.Unlock()

	switch {
	case tab.TabID != prevTab:
		if h.events.TabActivated != nil {
			h.events.TabActivated(ctx, tab.TabID, tab.WindowID)
		}
	case tab.URL != prevURL:
		if h.events.TabUpdated != nil {
			h.events.TabUpdated(ctx, tab.TabID, "complete", tab.URL)
		}
	}
}

// tabID assigns or returns the stable id for a CDP target.
func (h *Host) tabID(target proto.TargetTargetID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if id, ok := h.tabs[target]; ok {
		return id
	}
	h.nextTab++
	h.tabs[target] = h.nextTab
	return h.nextTab
}

func (h *Host) pageFor(ctx context.Context, tabID int) (*rod.Page, error) {
	h.mu.Lock()
	b := h.browser
	var target proto.TargetTargetID
	found := false
	for t, id := range h.tabs {
		if id == tabID {
			target, found = t, true
			break
		}
	}
	h.mu.Unlock()

	if b == nil {
		return nil, &ErrNotConnected{}
	}
	if !found {
		return nil, &ErrUnknownTab{TabID: tabID}
	}

	pages, err := b.Context(ctx).Pages()
	if err != nil {
		return nil, fmt.Errorf("rodhost: list pages: %w", err)
	}
	for _, p := range pages {
		if p.TargetID == target {
			return p, nil
		}
	}
	return nil, &ErrUnknownTab{TabID: tabID}
}
