package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/coder/websocket"
	"github.com/jason-s-yu/clickrace/internal/models"
)

const (
	subprotocol       = "lobby"
	minReconnectDelay = 500 * time.Millisecond
	maxReconnectDelay = 10 * time.Second
)

// Follow keeps a websocket feed open for the followed lobby until ctx ends, reconnecting with
// backoff and switching feeds when the session moves to another lobby. Losing the feed only
// costs latency; polling keeps the snapshot fresh.
func (s *Session) Follow(ctx context.Context) error {
	delay := minReconnectDelay
	for {
		s.mu.Lock()
		id, switched := s.lobbyID, s.switched
		s.mu.Unlock()

		if id != "" {
			start := time.Now()
			err := s.subscribeOnce(ctx, id, switched)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err != nil {
				s.log.WithError(err).WithField("lobby", id).Debug("lobby feed dropped")
			}
			if time.Since(start) > maxReconnectDelay {
				delay = minReconnectDelay
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-switched:
			delay = minReconnectDelay
			continue
		case <-time.After(delay):
		}
		delay = min(delay*2, maxReconnectDelay)
	}
}

// subscribeOnce reads one websocket connection until it fails, ctx ends, or the lobby changes.
func (s *Session) subscribeOnce(ctx context.Context, lobbyID string, switched <-chan struct{}) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-switched:
			cancel()
		case <-ctx.Done():
		}
	}()

	c, _, err := websocket.Dial(ctx, s.client.LobbyFeedURL(lobbyID), &websocket.DialOptions{
		Subprotocols: []string{subprotocol},
	})
	if err != nil {
		return err
	}
	defer c.Close(websocket.StatusNormalClosure, "")

	for {
		_, data, err := c.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return nil
			}
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		var snap models.Lobby
		if err := json.Unmarshal(data, &snap); err != nil {
			s.log.WithError(err).Debug("bad lobby frame")
			continue
		}
		s.Apply(snap)
	}
}
