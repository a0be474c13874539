package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/jason-s-yu/clickrace/internal/presence"
	"github.com/jason-s-yu/clickrace/internal/race"
)

type presenceList struct {
	Active []presence.Peer `json:"active"`
	Now    int64           `json:"now"`
	TTLMs  int64           `json:"ttlMs"`
}

type presenceRequest struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Color   string `json:"color"`
}

// ListPresence handles GET /api/presence.
func (a *API) ListPresence(w http.ResponseWriter, r *http.Request) {
	now := a.now()
	writeJSON(w, http.StatusOK, presenceList{
		Active: a.Presence.Active(now),
		Now:    now.UnixMilli(),
		TTLMs:  a.Presence.TTL().Milliseconds(),
	})
}

// Heartbeat handles POST /api/presence.
func (a *API) Heartbeat(w http.ResponseWriter, r *http.Request) {
	var req presenceRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: bad request body", race.ErrInvalidInput))
		return
	}
	address := strings.TrimSpace(req.Address)
	if address == "" {
		writeError(w, race.ErrMissingAddress)
		return
	}
	a.Presence.Upsert(address, strings.TrimSpace(req.Name), strings.TrimSpace(req.Color), a.now())
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
