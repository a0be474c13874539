// Package presence tracks which player addresses have sent a heartbeat recently.
package presence

import (
	"sort"
	"sync"
	"time"

	"github.com/jason-s-yu/clickrace/internal/models"
)

// DefaultTTL is how long a heartbeat keeps an address active.
const DefaultTTL = 15 * time.Second

// Peer is a live player as reported to clients.
type Peer struct {
	Address string `json:"address"`
	Name    string `json:"name"`
	Color   string `json:"color"`
	TS      int64  `json:"ts"` // epoch ms of the last heartbeat
}

// Tracker is an in-memory, TTL-bounded presence registry keyed by lowercase address.
// Expired peers are pruned on every read and write; there is no background sweeper.
type Tracker struct {
	mu    sync.Mutex
	ttl   time.Duration
	peers map[string]Peer
}

// NewTracker returns a tracker with the given TTL (DefaultTTL if ttl <= 0).
func NewTracker(ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Tracker{ttl: ttl, peers: make(map[string]Peer)}
}

// TTL returns the heartbeat lifetime.
func (t *Tracker) TTL() time.Duration { return t.ttl }

// Upsert records a heartbeat. Empty name/color keep the previous values, or derive placeholders from the address.
func (t *Tracker) Upsert(address, name, color string, now time.Time) {
	key := models.AddressKey(address)
	if key == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	prev, ok := t.peers[key]
	if name == "" {
		if ok {
			name = prev.Name
		} else {
			name = "Player " + slice(key, 2, 6)
		}
	}
	if color == "" {
		if ok {
			color = prev.Color
		} else {
			color = "#" + slice(key, 2, 8)
		}
	}
	t.peers[key] = Peer{Address: address, Name: name, Color: color, TS: now.UnixMilli()}
	t.pruneUnsafe(now)
}

// Active returns the live peers, most recent heartbeat first.
func (t *Tracker) Active(now time.Time) []Peer {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pruneUnsafe(now)

	out := make([]Peer, 0, len(t.peers))
	for _, p := range t.peers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TS != out[j].TS {
			return out[i].TS > out[j].TS
		}
		return out[i].Address < out[j].Address
	})
	return out
}

// ActiveAddresses returns the set of live lowercase addresses.
func (t *Tracker) ActiveAddresses(now time.Time) map[string]struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pruneUnsafe(now)

	set := make(map[string]struct{}, len(t.peers))
	for k := range t.peers {
		set[k] = struct{}{}
	}
	return set
}

func (t *Tracker) pruneUnsafe(now time.Time) {
	cutoff := now.Add(-t.ttl).UnixMilli()
	for k, p := range t.peers {
		if p.TS < cutoff {
			delete(t.peers, k)
		}
	}
}

// slice is a bounds-safe s[from:to].
func slice(s string, from, to int) string {
	if from > len(s) {
		return ""
	}
	if to > len(s) {
		to = len(s)
	}
	return s[from:to]
}
