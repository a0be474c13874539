// internal/models/lobby.go
package models

import "strings"

// LobbyStatus is the lobby's position in the race state machine.
type LobbyStatus string

const (
	StatusWaiting   LobbyStatus = "waiting"
	StatusCountdown LobbyStatus = "countdown"
	StatusRunning   LobbyStatus = "running"
	StatusFinished  LobbyStatus = "finished"
)

// Lobby is the JSON snapshot of a single race session. Timestamps are epoch milliseconds;
// optional fields are nil while they do not apply to the current status.
type Lobby struct {
	ID              string      `json:"id"`
	Status          LobbyStatus `json:"status"`
	Players         []Player    `json:"players"`
	Capacity        int         `json:"capacity"`
	Threshold       int         `json:"threshold"`
	CountdownEndsAt *int64      `json:"countdownEndsAt,omitempty"`
	Winner          *string     `json:"winner,omitempty"`
	StartedAt       *int64      `json:"startedAt,omitempty"`
	FinishedAt      *int64      `json:"finishedAt,omitempty"`
	CreatedAt       int64       `json:"createdAt"`
}

// Clone returns a deep copy so callers can hold it without sharing the player slice or optional fields.
func (l Lobby) Clone() Lobby {
	out := l
	out.Players = make([]Player, len(l.Players))
	copy(out.Players, l.Players)
	out.CountdownEndsAt = cloneInt64(l.CountdownEndsAt)
	out.StartedAt = cloneInt64(l.StartedAt)
	out.FinishedAt = cloneInt64(l.FinishedAt)
	if l.Winner != nil {
		w := *l.Winner
		out.Winner = &w
	}
	return out
}

// PlayerIndex returns the index of the player with the given address (case-insensitive), or -1.
func (l *Lobby) PlayerIndex(address string) int {
	key := AddressKey(address)
	for i := range l.Players {
		if AddressKey(l.Players[i].Address) == key {
			return i
		}
	}
	return -1
}

// Player looks up a player by address (case-insensitive).
func (l *Lobby) Player(address string) (Player, bool) {
	if i := l.PlayerIndex(address); i >= 0 {
		return l.Players[i], true
	}
	return Player{}, false
}

// Summary builds the lightweight listing view.
func (l Lobby) Summary() LobbySummary {
	return LobbySummary{
		ID:        l.ID,
		Status:    l.Status,
		Players:   len(l.Players),
		Capacity:  l.Capacity,
		CreatedAt: l.CreatedAt,
	}
}

// LobbySummary is the listing entry returned when no lobby id is queried.
type LobbySummary struct {
	ID        string      `json:"id"`
	Status    LobbyStatus `json:"status"`
	Players   int         `json:"players"`
	Capacity  int         `json:"capacity"`
	CreatedAt int64       `json:"createdAt"`
}

// AddressKey is the canonical comparison form of an address.
func AddressKey(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

func cloneInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
