package session

import "github.com/jason-s-yu/clickrace/internal/models"

// MergeMonotonic folds next into prev: every field comes from next except each player's clicks,
// which never drop below what prev showed for the same lobby. A nil prev, another lobby, a race
// that started later than prev's, or a reset since prev's race started returns next unchanged.
func MergeMonotonic(prev *models.Lobby, next models.Lobby) models.Lobby {
	out := next.Clone()
	if prev == nil || prev.ID != next.ID || laterRace(*prev, next) {
		return out
	}
	for i := range out.Players {
		if p, ok := prev.Player(out.Players[i].Address); ok && p.Clicks > out.Players[i].Clicks {
			out.Players[i].Clicks = p.Clicks
		}
	}
	return out
}

// laterRace reports whether next belongs to a different race than prev: one that started after prev's,
// or a lobby reset back to waiting after prev's race had started.
func laterRace(prev, next models.Lobby) bool {
	if prev.StartedAt == nil {
		return false
	}
	if next.StartedAt == nil {
		return true
	}
	return *next.StartedAt > *prev.StartedAt
}
