// internal/race/lobby.go
package race

import (
	"strings"
	"sync"

	"github.com/jason-s-yu/clickrace/internal/models"
)

// Lobby is the store-owned, mutable race session. All access to state goes through mu;
// methods with the Unsafe suffix assume the caller holds it.
type Lobby struct {
	mu sync.Mutex

	state models.Lobby

	// id and createdAt mirror state and never change, so listing can read them without mu.
	id        string
	createdAt int64

	// touchedAt is the epoch-ms of the last mutation, used by idle pruning.
	touchedAt int64
	// removed is set once the store has dropped this lobby so stale pointers fail as not found.
	removed bool
}

func newLobby(id string, capacity, threshold int, now int64) *Lobby {
	return &Lobby{
		state: models.Lobby{
			ID:        id,
			Status:    models.StatusWaiting,
			Players:   []models.Player{},
			Capacity:  CoerceCapacity(capacity),
			Threshold: CoerceThreshold(threshold),
			CreatedAt: now,
		},
		id:        id,
		createdAt: now,
		touchedAt: now,
	}
}

// upsertPlayerUnsafe appends a new player or refreshes display metadata for a returning address.
// Returns false if a new player would exceed capacity.
func (l *Lobby) upsertPlayerUnsafe(p models.Player) bool {
	if i := l.state.PlayerIndex(p.Address); i >= 0 {
		l.state.Players[i].Name = p.Name
		l.state.Players[i].Color = p.Color
		return true
	}
	if len(l.state.Players) >= l.state.Capacity {
		return false
	}
	l.state.Players = append(l.state.Players, models.Player{
		Address: strings.TrimSpace(p.Address),
		Name:    p.Name,
		Color:   p.Color,
	})
	return true
}

// removePlayerUnsafe drops the player with the given address, preserving join order of the rest.
func (l *Lobby) removePlayerUnsafe(address string) bool {
	i := l.state.PlayerIndex(address)
	if i < 0 {
		return false
	}
	l.state.Players = append(l.state.Players[:i], l.state.Players[i+1:]...)
	return true
}

// retainPlayersUnsafe keeps only players whose lowercase address is in keep. Returns how many were dropped.
func (l *Lobby) retainPlayersUnsafe(keep map[string]struct{}) int {
	kept := l.state.Players[:0]
	for _, p := range l.state.Players {
		if _, ok := keep[models.AddressKey(p.Address)]; ok {
			kept = append(kept, p)
		}
	}
	dropped := len(l.state.Players) - len(kept)
	l.state.Players = kept
	return dropped
}

func (l *Lobby) fullUnsafe() bool {
	return len(l.state.Players) >= l.state.Capacity
}
