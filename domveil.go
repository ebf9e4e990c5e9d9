// Package domveil hides user-selected DOM elements per domain and
// re-applies those rules on later visits. The coordinator routes
// messages between a panel session and per-tab page agents; element
// identity survives page reloads through structural paths with a
// drift-tolerant fallback.
package domveil

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/domveil/coordinator"
	"github.com/hazyhaar/domveil/host/rodhost"
	"github.com/hazyhaar/domveil/pageagent"
	"github.com/hazyhaar/domveil/panel"
	"github.com/hazyhaar/domveil/session"
	"github.com/hazyhaar/domveil/settings"
)

// Service is the top-level orchestrator: browser host, coordinator,
// rule store, and the admin listener. Create one per instance.
type Service struct {
	cfg    *Config
	logger *slog.Logger

	store *settings.SQLite
	coord *coordinator.Coordinator
	host  *rodhost.Host
	admin *http.Server

	mu     sync.Mutex
	agents map[int]*pageagent.Agent
}

// New creates a Service from configuration. Call Start to connect the
// browser and begin serving.
func New(cfg *Config, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}

	store, err := settings.Open(cfg.Store.Path, settings.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("domveil: open store: %w", err)
	}

	s := &Service{
		cfg:    cfg,
		logger: logger,
		store:  store,
		agents: make(map[int]*pageagent.Agent),
	}

	s.host = rodhost.New(
		rodhost.WithLogger(logger),
		rodhost.WithRemote(cfg.Browser.Remote),
		rodhost.WithInjector(s.bootstrapAgent),
		rodhost.WithEvents(rodhost.Events{
			TabActivated: func(ctx context.Context, tabID, windowID int) {
				s.coord.TabActivated(ctx, tabID, windowID)
			},
			TabUpdated: func(ctx context.Context, tabID int, status, pageURL string) {
				s.coord.TabUpdated(ctx, tabID, status, pageURL)
			},
			FocusChanged: func(ctx context.Context, windowID int) {
				s.coord.FocusChanged(ctx, windowID)
			},
		}),
	)

	coordOpts := []coordinator.Option{coordinator.WithLogger(logger)}
	if len(cfg.RestrictedPrefixes) > 0 {
		coordOpts = append(coordOpts, coordinator.WithRestrictedPrefixes(cfg.RestrictedPrefixes))
	}
	s.coord = coordinator.New(s.host, coordOpts...)

	mux := chi.NewRouter()
	mux.Mount("/admin", coordinator.NewAdmin(s.coord, store, logger).Router())
	s.admin = &http.Server{
		Addr:              cfg.Admin.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s, nil
}

// Start connects the browser, takes an initial active-tab reading, and
// begins polling and serving. It returns once everything is running.
func (s *Service) Start(ctx context.Context) error {
	if err := s.host.Connect(ctx); err != nil {
		return fmt.Errorf("domveil: connect browser: %w", err)
	}

	s.coord.Start(ctx)
	go s.host.Poll(ctx, s.cfg.Browser.PollInterval)

	go func() {
		s.logger.Info("domveil: admin listening", "addr", s.cfg.Admin.Addr)
		if err := s.admin.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("domveil: admin server", "error", err)
		}
	}()

	return nil
}

// Close shuts everything down in reverse dependency order.
func (s *Service) Close() error {
	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.admin.Shutdown(shutCtx); err != nil {
		s.logger.Warn("domveil: admin shutdown", "error", err)
	}

	s.mu.Lock()
	for _, a := range s.agents {
		a.Disconnect()
	}
	s.agents = make(map[int]*pageagent.Agent)
	s.mu.Unlock()

	s.coord.Close()
	if err := s.host.Close(); err != nil {
		s.logger.Warn("domveil: browser close", "error", err)
	}
	return s.store.Close()
}

// Store exposes the rule store, for the MCP surface.
func (s *Service) Store() settings.Store { return s.store }

// Coordinator exposes the coordinator, which also serves as the dialer
// for in-process sessions.
func (s *Service) Coordinator() *coordinator.Coordinator { return s.coord }

// NewPanelSession creates a panel session wired to this service's
// coordinator and store.
func (s *Service) NewPanelSession(opts ...panel.Option) *panel.Session {
	opts = append(opts, panel.WithChannelOptions(s.channelOptions()...))
	return panel.New(s.store, s.coord, opts...)
}

// bootstrapAgent parses a page snapshot and stands up its agent. A
// previous agent for the same tab is replaced.
func (s *Service) bootstrapAgent(ctx context.Context, tabID int, pageURL string, body io.Reader) error {
	doc, err := pageagent.ParseDocument(body)
	if err != nil {
		return err
	}

	domain := ""
	if u, err := url.Parse(pageURL); err == nil {
		domain = u.Hostname()
	}

	agent := pageagent.New(tabID, doc, s.store, s.coord,
		pageagent.WithLogger(s.logger),
		pageagent.WithChannelOptions(s.channelOptions()...))
	if err := agent.Connect(ctx, domain, pageURL); err != nil {
		return fmt.Errorf("domveil: connect agent for tab %d: %w", tabID, err)
	}

	s.mu.Lock()
	if old, ok := s.agents[tabID]; ok {
		old.Disconnect()
	}
	s.agents[tabID] = agent
	s.mu.Unlock()

	return nil
}

func (s *Service) channelOptions() []session.Option {
	return []session.Option{
		session.WithBackoff(s.cfg.Session.BackoffBase, s.cfg.Session.BackoffMax),
		session.WithMaxAttempts(s.cfg.Session.MaxAttempts),
		session.WithGraceWindow(s.cfg.Session.GraceWindow),
	}
}
