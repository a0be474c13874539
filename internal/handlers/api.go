// internal/handlers/api.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/jason-s-yu/clickrace/internal/hub"
	"github.com/jason-s-yu/clickrace/internal/models"
	"github.com/jason-s-yu/clickrace/internal/presence"
	"github.com/jason-s-yu/clickrace/internal/race"
	"github.com/sirupsen/logrus"
)

// ResultsReader serves archived races.
type ResultsReader interface {
	Recent(ctx context.Context, limit int) ([]models.RaceResult, error)
}

// API holds the dependencies shared by the HTTP and websocket handlers.
type API struct {
	Store    *race.LobbyStore
	Presence *presence.Tracker
	// Hub backs the websocket feed. Nil disables it. Snapshots reach it through the store's OnUpdate.
	Hub *hub.Hub
	// Results is nil when no archive is configured.
	Results ResultsReader
	Logger  logrus.FieldLogger
	Now     func() time.Time
}

func (a *API) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

func (a *API) log() logrus.FieldLogger {
	if a.Logger != nil {
		return a.Logger
	}
	return logrus.StandardLogger()
}

type errorBody struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, race.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, race.ErrInvalidInput), errors.Is(err, race.ErrNotEnoughPlayers):
		return http.StatusBadRequest
	case errors.Is(err, race.ErrCapacityExceeded), errors.Is(err, race.ErrPhaseConflict):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes {"type":"error","code":...,"message":...} with the status matching err's kind.
func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, status, errorBody{Type: "error", Code: race.Code(err), Message: msg})
}
