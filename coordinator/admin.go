package coordinator

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/domveil/settings"
)

// Admin exposes read-only inspection endpoints over the coordinator and
// the rule store. Intended for a loopback debug listener.
type Admin struct {
	coord  *Coordinator
	store  settings.Store
	logger *slog.Logger
}

// NewAdmin creates the admin surface.
func NewAdmin(coord *Coordinator, store settings.Store, logger *slog.Logger) *Admin {
	if logger == nil {
		logger = slog.Default()
	}
	return &Admin{coord: coord, store: store, logger: logger}
}

// Router returns the chi router for mounting.
func (a *Admin) Router() chi.Router {
	r := chi.NewRouter()
	r.Get("/status", a.handleStatus)
	r.Get("/channels", a.handleChannels)
	r.Get("/rules", a.handleAllRules)
	r.Get("/rules/{domain}", a.handleDomainRules)
	return r
}

func (a *Admin) handleStatus(w http.ResponseWriter, r *http.Request) {
	channels := 0
	for range a.coord.Channels() {
		channels++
	}
	a.writeJSON(w, map[string]any{
		"activeTab": a.coord.ActiveTab(),
		"channels":  channels,
	})
}

func (a *Admin) handleChannels(w http.ResponseWriter, r *http.Request) {
	list := make([]ChannelInfo, 0)
	for info := range a.coord.Channels() {
		list = append(list, info)
	}
	a.writeJSON(w, list)
}

func (a *Admin) handleAllRules(w http.ResponseWriter, r *http.Request) {
	all, err := a.store.ListAll(r.Context())
	if err != nil {
		a.logger.Error("admin: list rules", "error", err)
		http.Error(w, "storage error", http.StatusInternalServerError)
		return
	}
	a.writeJSON(w, all)
}

func (a *Admin) handleDomainRules(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	if err := settings.ValidateDomain(domain); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	a.writeJSON(w, a.store.Get(r.Context(), domain))
}

func (a *Admin) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Warn("admin: encode response", "error", err)
	}
}
