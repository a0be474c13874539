// internal/race/lobby_store.go
package race

import (
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/clickrace/internal/models"
	"github.com/sirupsen/logrus"
)

// DefaultCountdown is the time between a lobby filling (or being started) and the race running.
const DefaultCountdown = 3 * time.Second

// PresenceSource reports which addresses are currently live. Keys are lowercase addresses.
type PresenceSource interface {
	ActiveAddresses(now time.Time) map[string]struct{}
}

// StoreConfig configures a LobbyStore. Zero values select defaults.
type StoreConfig struct {
	// Now is the store's clock. Defaults to time.Now.
	Now func() time.Time
	// CountdownDuration defaults to DefaultCountdown.
	CountdownDuration time.Duration
	// FinishedRetention removes finished lobbies this long after finishedAt. Zero keeps them until reset.
	FinishedRetention time.Duration
	// IdleLobbyTTL removes empty waiting lobbies untouched for this long. Zero disables.
	IdleLobbyTTL time.Duration
	// Presence, when set, lets Start drop players that are no longer live before counting.
	Presence PresenceSource
	// OnFinish is called once per race, outside the lobby lock, when a lobby becomes finished.
	OnFinish func(models.RaceResult)
	// OnUpdate receives the snapshot of every committed change in commit order. It runs with the
	// lobby lock held and must not block.
	OnUpdate func(models.Lobby)
	Logger   logrus.FieldLogger
}

// LobbyStore is the authoritative in-memory registry of lobbies. The store mutex only guards the
// map; each Lobby carries its own mutex so operations on different lobbies never contend.
type LobbyStore struct {
	mu      sync.RWMutex
	lobbies map[string]*Lobby

	// joinAnyMu serializes matchmaking so two concurrent joinAny calls cannot both create a lobby
	// when one would have been enough.
	joinAnyMu sync.Mutex

	cfg         StoreConfig
	log         logrus.FieldLogger
	totalClicks atomic.Int64
}

// NewLobbyStore returns an empty store.
func NewLobbyStore(cfg StoreConfig) *LobbyStore {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.CountdownDuration <= 0 {
		cfg.CountdownDuration = DefaultCountdown
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	return &LobbyStore{
		lobbies: make(map[string]*Lobby),
		cfg:     cfg,
		log:     cfg.Logger.WithField("component", "lobby_store"),
	}
}

func (s *LobbyStore) nowMs() int64 { return s.cfg.Now().UnixMilli() }

// TotalClicks returns the number of clicks applied across all lobbies since the store was created.
func (s *LobbyStore) TotalClicks() int64 { return s.totalClicks.Load() }

// Create makes a new lobby with first already joined. Capacity and threshold are coerced.
func (s *LobbyStore) Create(capacity, threshold int, first models.Player) (models.Lobby, error) {
	if err := validPlayer(first); err != nil {
		return models.Lobby{}, err
	}
	s.Prune()
	return s.create(capacity, threshold, first), nil
}

func (s *LobbyStore) create(capacity, threshold int, first models.Player) models.Lobby {
	now := s.nowMs()
	l := newLobby(uuid.NewString(), capacity, threshold, now)
	l.upsertPlayerUnsafe(first)
	snap := l.state.Clone()
	// announced before the lobby is reachable, so nothing can be published ahead of it
	s.updated(snap)

	s.mu.Lock()
	s.lobbies[l.state.ID] = l
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{"lobby": snap.ID, "capacity": snap.Capacity, "threshold": snap.Threshold}).Info("lobby created")
	return snap
}

// Join adds p to the lobby, or refreshes p's display metadata if p already joined.
// Filling the lobby starts the countdown.
func (s *LobbyStore) Join(lobbyID string, p models.Player) (models.Lobby, error) {
	if err := validPlayer(p); err != nil {
		return models.Lobby{}, err
	}
	return s.mutate(lobbyID, func(l *Lobby, now int64) error {
		return s.joinUnsafe(l, p, now)
	})
}

func (s *LobbyStore) joinUnsafe(l *Lobby, p models.Player, now int64) error {
	if l.state.Status != models.StatusWaiting {
		return ErrAlreadyStarted
	}
	if !l.upsertPlayerUnsafe(p) {
		return ErrFull
	}
	if l.fullUnsafe() {
		beginCountdown(&l.state, now, s.cfg.CountdownDuration.Milliseconds())
		s.log.WithField("lobby", l.state.ID).Info("lobby full, countdown started")
	}
	return nil
}

// JoinAny joins the oldest waiting lobby with spare capacity, creating a new default lobby if none qualifies.
func (s *LobbyStore) JoinAny(p models.Player) (models.Lobby, error) {
	if err := validPlayer(p); err != nil {
		return models.Lobby{}, err
	}
	s.joinAnyMu.Lock()
	defer s.joinAnyMu.Unlock()

	s.Prune()
	for _, l := range s.byAge() {
		snap, ok := s.tryJoinAny(l, p)
		if ok {
			return snap, nil
		}
	}
	return s.create(0, 0, p), nil
}

func (s *LobbyStore) tryJoinAny(l *Lobby, p models.Player) (models.Lobby, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.removed {
		return models.Lobby{}, false
	}
	now := s.nowMs()
	l.state = AdvancePhaseIfDue(l.state, now)
	if l.state.Status != models.StatusWaiting || l.fullUnsafe() {
		return models.Lobby{}, false
	}
	if err := s.joinUnsafe(l, p, now); err != nil {
		return models.Lobby{}, false
	}
	l.touchedAt = now
	snap := l.state.Clone()
	s.updated(snap)
	return snap, true
}

// Leave removes the player. Leaving is only allowed while waiting or after the race finished;
// a lobby left empty returns to waiting with its race progress cleared.
func (s *LobbyStore) Leave(lobbyID, address string) (models.Lobby, error) {
	if strings.TrimSpace(address) == "" {
		return models.Lobby{}, ErrMissingAddress
	}
	return s.mutate(lobbyID, func(l *Lobby, now int64) error {
		switch l.state.Status {
		case models.StatusCountdown, models.StatusRunning:
			return ErrAlreadyStarted
		}
		l.removePlayerUnsafe(address)
		if len(l.state.Players) == 0 {
			resetToWaiting(&l.state)
		}
		return nil
	})
}

// Start begins the countdown once at least minPlayers (clamped to [2, capacity]) are present.
// With a presence source configured, players that are no longer live are dropped first.
func (s *LobbyStore) Start(lobbyID string, minPlayers int) (models.Lobby, error) {
	return s.mutate(lobbyID, func(l *Lobby, now int64) error {
		if l.state.Status != models.StatusWaiting {
			return ErrAlreadyStarted
		}
		if s.cfg.Presence != nil {
			active := s.cfg.Presence.ActiveAddresses(time.UnixMilli(now))
			if n := l.retainPlayersUnsafe(active); n > 0 {
				s.log.WithFields(logrus.Fields{"lobby": l.state.ID, "dropped": n}).Info("pruned inactive players before start")
			}
		}
		required := ClampMinPlayers(minPlayers, l.state.Capacity)
		if len(l.state.Players) < required {
			return ErrNotEnoughPlayers
		}
		beginCountdown(&l.state, now, s.cfg.CountdownDuration.Milliseconds())
		s.log.WithFields(logrus.Fields{"lobby": l.state.ID, "players": len(l.state.Players)}).Info("countdown started")
		return nil
	})
}

// Advance adds amount (coerced to a positive integer) to the player's clicks. The increment and the
// win check happen in one critical section, so exactly one advance can finish a race.
func (s *LobbyStore) Advance(lobbyID, address string, amount int) (models.Lobby, error) {
	if strings.TrimSpace(address) == "" {
		return models.Lobby{}, ErrMissingAddress
	}
	amount = CoerceAmount(amount)

	var finished *models.RaceResult
	snap, err := s.mutate(lobbyID, func(l *Lobby, now int64) error {
		if l.state.Status != models.StatusRunning {
			return ErrNotRunning
		}
		idx := l.state.PlayerIndex(address)
		if idx < 0 {
			return ErrPlayerNotFound
		}
		s.totalClicks.Add(int64(amount))
		if applyClicks(&l.state, idx, amount, now) {
			r := resultOf(l.state)
			finished = &r
		}
		return nil
	})
	if err != nil {
		return models.Lobby{}, err
	}
	if finished != nil {
		s.log.WithFields(logrus.Fields{"lobby": snap.ID, "winner": finished.Winner}).Info("race finished")
		if s.cfg.OnFinish != nil {
			s.cfg.OnFinish(*finished)
		}
	}
	return snap, nil
}

// Reset returns the lobby to waiting from any state with players, winner, and timestamps cleared.
func (s *LobbyStore) Reset(lobbyID string) (models.Lobby, error) {
	return s.mutate(lobbyID, func(l *Lobby, now int64) error {
		l.state.Players = []models.Player{}
		resetToWaiting(&l.state)
		s.log.WithField("lobby", l.state.ID).Info("lobby reset")
		return nil
	})
}

// Get returns the current snapshot after lazy phase advancement.
func (s *LobbyStore) Get(lobbyID string) (models.Lobby, error) {
	return s.read(lobbyID)
}

// List returns summaries of every lobby, oldest first.
func (s *LobbyStore) List() []models.LobbySummary {
	s.Prune()
	lobbies := s.byAge()
	out := make([]models.LobbySummary, 0, len(lobbies))
	now := s.nowMs()
	for _, l := range lobbies {
		l.mu.Lock()
		if !l.removed {
			l.state = AdvancePhaseIfDue(l.state, now)
			out = append(out, l.state.Summary())
		}
		l.mu.Unlock()
	}
	return out
}

// Prune removes finished lobbies past FinishedRetention and empty waiting lobbies idle past IdleLobbyTTL.
// It returns the number of lobbies removed.
func (s *LobbyStore) Prune() int {
	if s.cfg.FinishedRetention <= 0 && s.cfg.IdleLobbyTTL <= 0 {
		return 0
	}
	now := s.nowMs()
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, l := range s.lobbies {
		l.mu.Lock()
		if s.expiredUnsafe(l, now) {
			l.removed = true
			delete(s.lobbies, id)
			removed++
			s.log.WithField("lobby", id).Debug("lobby pruned")
		}
		l.mu.Unlock()
	}
	return removed
}

func (s *LobbyStore) expiredUnsafe(l *Lobby, now int64) bool {
	st := &l.state
	if st.Status == models.StatusFinished && s.cfg.FinishedRetention > 0 && st.FinishedAt != nil {
		return now-*st.FinishedAt >= s.cfg.FinishedRetention.Milliseconds()
	}
	if st.Status == models.StatusWaiting && len(st.Players) == 0 && s.cfg.IdleLobbyTTL > 0 {
		return now-l.touchedAt >= s.cfg.IdleLobbyTTL.Milliseconds()
	}
	return false
}

// mutate runs fn inside the lobby's critical section after lazy phase advancement.
// The returned snapshot is a copy taken before the lock is released.
func (s *LobbyStore) mutate(lobbyID string, fn func(l *Lobby, now int64) error) (models.Lobby, error) {
	l, err := s.lookup(lobbyID)
	if err != nil {
		return models.Lobby{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.removed {
		return models.Lobby{}, ErrLobbyNotFound
	}
	now := s.nowMs()
	s.advancePhaseUnsafe(l, now)
	if err := fn(l, now); err != nil {
		return models.Lobby{}, err
	}
	l.touchedAt = now
	snap := l.state.Clone()
	s.updated(snap)
	return snap, nil
}

func (s *LobbyStore) updated(snap models.Lobby) {
	if s.cfg.OnUpdate != nil {
		s.cfg.OnUpdate(snap.Clone())
	}
}

func (s *LobbyStore) read(lobbyID string) (models.Lobby, error) {
	l, err := s.lookup(lobbyID)
	if err != nil {
		return models.Lobby{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.removed {
		return models.Lobby{}, ErrLobbyNotFound
	}
	s.advancePhaseUnsafe(l, s.nowMs())
	return l.state.Clone(), nil
}

func (s *LobbyStore) advancePhaseUnsafe(l *Lobby, now int64) {
	prev := l.state.Status
	l.state = AdvancePhaseIfDue(l.state, now)
	if prev != l.state.Status {
		s.log.WithField("lobby", l.state.ID).Info("countdown elapsed, race running")
	}
}

func (s *LobbyStore) lookup(lobbyID string) (*Lobby, error) {
	if strings.TrimSpace(lobbyID) == "" {
		return nil, ErrMissingLobbyID
	}
	s.mu.RLock()
	l, ok := s.lobbies[lobbyID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrLobbyNotFound
	}
	return l, nil
}

// byAge returns the current lobbies ordered by createdAt, then id.
func (s *LobbyStore) byAge() []*Lobby {
	s.mu.RLock()
	out := make([]*Lobby, 0, len(s.lobbies))
	for _, l := range s.lobbies {
		out = append(out, l)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].createdAt != out[j].createdAt {
			return out[i].createdAt < out[j].createdAt
		}
		return out[i].id < out[j].id
	})
	return out
}

func validPlayer(p models.Player) error {
	if strings.TrimSpace(p.Address) == "" || strings.TrimSpace(p.Name) == "" || strings.TrimSpace(p.Color) == "" {
		return ErrMissingPlayer
	}
	return validAddress(p.Address)
}
