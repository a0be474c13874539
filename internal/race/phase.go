package race

import (
	"sort"

	"github.com/jason-s-yu/clickrace/internal/models"
)

// AdvancePhaseIfDue applies the time-driven countdown -> running transition. It is a pure function of
// (state, now); every store entry point runs it before reading or mutating a lobby so no caller
// observes a countdown that has already elapsed.
func AdvancePhaseIfDue(l models.Lobby, now int64) models.Lobby {
	if l.Status != models.StatusCountdown {
		return l
	}
	if l.CountdownEndsAt != nil && *l.CountdownEndsAt > now {
		return l
	}
	l.Status = models.StatusRunning
	l.CountdownEndsAt = nil
	l.StartedAt = msPtr(now)
	return l
}

// beginCountdown moves a waiting lobby into countdown ending at now+durationMs.
func beginCountdown(l *models.Lobby, now, durationMs int64) {
	l.Status = models.StatusCountdown
	l.CountdownEndsAt = msPtr(now + durationMs)
}

// resetToWaiting clears all race progress. Players are kept; callers decide whether to clear them.
func resetToWaiting(l *models.Lobby) {
	l.Status = models.StatusWaiting
	l.Winner = nil
	l.StartedAt = nil
	l.FinishedAt = nil
	l.CountdownEndsAt = nil
}

// applyClicks increments a running player's clicks and commits the finish transition
// on the same step. Returns true if this call finished the race.
func applyClicks(l *models.Lobby, idx, amount int, now int64) bool {
	p := &l.Players[idx]
	p.Clicks += amount
	if p.Clicks < l.Threshold || l.Status == models.StatusFinished {
		return false
	}
	winner := p.Address
	l.Status = models.StatusFinished
	l.Winner = &winner
	l.FinishedAt = msPtr(now)
	return true
}

// resultOf builds the archive record for a finished lobby: standings by clicks, join order breaking ties.
func resultOf(l models.Lobby) models.RaceResult {
	standings := make([]models.Player, len(l.Players))
	copy(standings, l.Players)
	sort.SliceStable(standings, func(i, j int) bool { return standings[i].Clicks > standings[j].Clicks })

	r := models.RaceResult{LobbyID: l.ID, Threshold: l.Threshold, Standings: standings}
	if l.Winner != nil {
		r.Winner = *l.Winner
	}
	if l.StartedAt != nil {
		r.StartedAt = *l.StartedAt
	}
	if l.FinishedAt != nil {
		r.FinishedAt = *l.FinishedAt
	}
	return r
}

func msPtr(v int64) *int64 { return &v }
