// internal/handlers/lobby_ws.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/jason-s-yu/clickrace/internal/middleware"
	"github.com/jason-s-yu/clickrace/internal/models"
	"github.com/jason-s-yu/clickrace/internal/race"
)

const (
	// Subprotocol is the websocket subprotocol clients must offer.
	Subprotocol  = "lobby"
	writeTimeout = 3 * time.Second
)

// LobbyWS handles /api/race/lobby/ws/{id}: the current snapshot is sent immediately, then every
// published snapshot for that lobby. Inbound frames are ignored; mutations go through the POST API.
func (a *API) LobbyWS(origins []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.Hub == nil {
			http.Error(w, "realtime disabled", http.StatusNotFound)
			return
		}
		lobbyID := chi.URLParam(r, "id")

		// subscribe before reading so no snapshot published in between is missed
		sub := a.Hub.Subscribe(lobbyID)
		defer sub.Close()

		snap, err := a.Store.Get(lobbyID)
		found := err == nil
		if err != nil && !errors.Is(err, race.ErrNotFound) {
			writeError(w, err)
			return
		}

		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			Subprotocols:   []string{Subprotocol},
			OriginPatterns: origins,
		})
		if err != nil {
			a.log().Warnf("websocket accept error: %v", err)
			return
		}
		defer c.Close(websocket.StatusInternalError, "handler finished")

		if c.Subprotocol() != Subprotocol {
			c.Close(BadSubprotocolError, "client must speak the lobby subprotocol")
			return
		}
		if !found {
			c.Close(InvalidLobbyIDError, "lobby does not exist")
			return
		}

		middleware.LogWebSocketConnect(a.log(), r.RemoteAddr, r.URL.Path)

		// CloseRead drains and discards client frames and cancels ctx when the peer goes away.
		ctx := c.CloseRead(r.Context())

		err = a.pumpSnapshots(ctx, c, snap, sub.C)
		middleware.LogWebSocketDisconnect(a.log(), r.RemoteAddr, r.URL.Path, err)
		if err == nil || errors.Is(err, context.Canceled) {
			c.Close(websocket.StatusNormalClosure, "")
		}
	}
}

func (a *API) pumpSnapshots(ctx context.Context, c *websocket.Conn, first models.Lobby, feed <-chan models.Lobby) error {
	if err := writeSnapshot(ctx, c, first); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap, ok := <-feed:
			if !ok {
				return nil
			}
			if err := writeSnapshot(ctx, c, snap); err != nil {
				return err
			}
		}
	}
}

func writeSnapshot(ctx context.Context, c *websocket.Conn, snap models.Lobby) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.Write(ctx, websocket.MessageText, payload)
}
