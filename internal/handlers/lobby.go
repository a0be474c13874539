// internal/handlers/lobby.go
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/jason-s-yu/clickrace/internal/models"
	"github.com/jason-s-yu/clickrace/internal/race"
	"github.com/sirupsen/logrus"
)

const (
	ActionCreate  = "create"
	ActionJoinAny = "joinAny"
	ActionJoin    = "join"
	ActionLeave   = "leave"
	ActionStart   = "start"
	ActionAdvance = "advance"
	ActionReset   = "reset"
)

// maxBodyBytes caps lobby action request bodies.
const maxBodyBytes = 16 << 10

// LobbyRequest is the body of POST /api/race/lobby. Numeric fields accept numbers or numeric strings.
type LobbyRequest struct {
	Action     string  `json:"action"`
	LobbyID    string  `json:"lobbyId"`
	Address    string  `json:"address"`
	Name       string  `json:"name"`
	Color      string  `json:"color"`
	Capacity   flexInt `json:"capacity"`
	Threshold  flexInt `json:"threshold"`
	MinPlayers flexInt `json:"minPlayers"`
	Amount     flexInt `json:"amount"`
}

func (req LobbyRequest) player() models.Player {
	return models.Player{
		Address: strings.TrimSpace(req.Address),
		Name:    strings.TrimSpace(req.Name),
		Color:   strings.TrimSpace(req.Color),
	}
}

type lobbyList struct {
	Lobbies []models.LobbySummary `json:"lobbies"`
}

// QueryLobby handles GET /api/race/lobby. With ?id= it returns that lobby's snapshot,
// otherwise a summary of every lobby.
func (a *API) QueryLobby(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		writeJSON(w, http.StatusOK, lobbyList{Lobbies: a.Store.List()})
		return
	}
	snap, err := a.Store.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// LobbyAction handles POST /api/race/lobby, dispatching on the body's action field.
func (a *API) LobbyAction(w http.ResponseWriter, r *http.Request) {
	var req LobbyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: bad request body", race.ErrInvalidInput))
		return
	}

	snap, err := a.dispatch(req)
	if err != nil {
		a.log().WithFields(logrus.Fields{
			"action": req.Action,
			"lobby":  req.LobbyID,
			"code":   race.Code(err),
		}).Debug(err.Error())
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (a *API) dispatch(req LobbyRequest) (models.Lobby, error) {
	lobbyID := strings.TrimSpace(req.LobbyID)
	switch req.Action {
	case ActionCreate:
		p := req.player()
		snap, err := a.Store.Create(int(req.Capacity), int(req.Threshold), p)
		if err == nil {
			a.touchPresence(p)
		}
		return snap, err
	case ActionJoinAny:
		p := req.player()
		snap, err := a.Store.JoinAny(p)
		if err == nil {
			a.touchPresence(p)
		}
		return snap, err
	case ActionJoin:
		p := req.player()
		snap, err := a.Store.Join(lobbyID, p)
		if err == nil {
			a.touchPresence(p)
		}
		return snap, err
	case ActionLeave:
		return a.Store.Leave(lobbyID, strings.TrimSpace(req.Address))
	case ActionStart:
		return a.Store.Start(lobbyID, int(req.MinPlayers))
	case ActionAdvance:
		return a.Store.Advance(lobbyID, strings.TrimSpace(req.Address), int(req.Amount))
	case ActionReset:
		return a.Store.Reset(lobbyID)
	}
	return models.Lobby{}, fmt.Errorf("%w: unknown action %q", race.ErrInvalidInput, req.Action)
}

func (a *API) touchPresence(p models.Player) {
	if a.Presence != nil {
		a.Presence.Upsert(p.Address, p.Name, p.Color, a.now())
	}
}
