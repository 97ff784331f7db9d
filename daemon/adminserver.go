package main

import (
	"encoding/json"
	"net/http"

	"github.com/olimpiadi-informatica/pixie-sub000/internal/config"
	"github.com/olimpiadi-informatica/pixie-sub000/internal/registry"
	"github.com/olimpiadi-informatica/pixie-sub000/internal/store"
)

// adminUnit is the JSON shape pixiectl reads, avoiding exposure of
// registry.Unit's net.HardwareAddr encoding quirks over the wire.
type adminUnit struct {
	MAC        string `json:"mac"`
	Group      uint8  `json:"group"`
	Row        uint8  `json:"row"`
	Col        uint8  `json:"col"`
	Image      string `json:"image"`
	NextAction string `json:"next_action"`
	CurrAction string `json:"curr_action,omitempty"`
}

type selectorRequest struct {
	Selector string `json:"selector"`
	Action   string `json:"action,omitempty"`
}

func adminUnitsHandler(reg *registry.Registry, cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("selector")
		sel := registry.SelectAll()
		if q != "" {
			parsed, ok := registry.ParseSelector(q, cfg.GroupID, cfg.ValidImage)
			if !ok {
				http.Error(w, "invalid selector", http.StatusBadRequest)
				return
			}
			sel = parsed
		}
		units := reg.Select(sel)
		out := make([]adminUnit, len(units))
		for i, u := range units {
			au := adminUnit{
				MAC:        u.MAC.String(),
				Group:      u.Group,
				Row:        u.Row,
				Col:        u.Col,
				Image:      u.Image,
				NextAction: u.NextAction.String(),
			}
			if u.CurrAction != nil {
				au.CurrAction = u.CurrAction.String()
			}
			out[i] = au
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	}
}

func adminForgetHandler(reg *registry.Registry, cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req selectorRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		sel, ok := registry.ParseSelector(req.Selector, cfg.GroupID, cfg.ValidImage)
		if !ok {
			http.Error(w, "invalid selector", http.StatusBadRequest)
			return
		}
		n := reg.Forget(sel)
		_ = json.NewEncoder(w).Encode(map[string]int{"forgotten": n})
	}
}

func adminSetActionHandler(reg *registry.Registry, cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req selectorRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		action, ok := parseAction(req.Action)
		if !ok {
			http.Error(w, "invalid action", http.StatusBadRequest)
			return
		}
		sel, ok := registry.ParseSelector(req.Selector, cfg.GroupID, cfg.ValidImage)
		if !ok {
			http.Error(w, "invalid selector", http.StatusBadRequest)
			return
		}
		n := reg.SetNextAction(sel, action)
		_ = json.NewEncoder(w).Encode(map[string]int{"updated": n})
	}
}

func parseAction(s string) (registry.Action, bool) {
	switch s {
	case "wait":
		return registry.ActionWait, true
	case "store":
		return registry.ActionStore, true
	case "flash":
		return registry.ActionFlash, true
	case "register":
		return registry.ActionRegister, true
	case "reboot":
		return registry.ActionReboot, true
	case "shutdown":
		return registry.ActionShutdown, true
	default:
		return 0, false
	}
}

func adminImagesHandler(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(st.ImagesStats())
	}
}

func adminGCHandler(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := st.GCChunks(); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func registerAdminRoutes(mux *http.ServeMux, st *store.Store, reg *registry.Registry, cfg *config.Config) {
	mux.Handle("/api/units", adminUnitsHandler(reg, cfg))
	mux.Handle("/api/units/forget", adminForgetHandler(reg, cfg))
	mux.Handle("/api/units/action", adminSetActionHandler(reg, cfg))
	mux.Handle("/api/images", adminImagesHandler(st))
	mux.Handle("/api/gc", adminGCHandler(st))
}
