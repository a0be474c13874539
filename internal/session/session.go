package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jason-s-yu/clickrace/internal/ledger"
	"github.com/jason-s-yu/clickrace/internal/models"
	"github.com/jason-s-yu/clickrace/internal/race"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Poll intervals: fast when polling is the only feed,
// slow when a realtime feed is attached.
const (
	PollInterval         = 250 * time.Millisecond
	RealtimePollInterval = time.Second
)

// Config wires a Session.
type Config struct {
	Client *Client
	Player models.Player
	// Clicker submits each click to the ledger. Nil skips ledger submission.
	Clicker *ledger.Clicker
	// OnChange receives the merged snapshot after every local change. Calls are serialized
	// and always carry the latest snapshot.
	OnChange func(models.Lobby)
	OnNotice func(Notice)
	Logger   logrus.FieldLogger
}

// Session is one player's view of one lobby. All snapshot updates, whatever the source,
// go through the same monotonic merge.
type Session struct {
	client   *Client
	me       models.Player
	clicker  *ledger.Clicker
	onChange func(models.Lobby)
	onNotice func(Notice)
	log      logrus.FieldLogger

	mu      sync.Mutex
	lobbyID string
	snap    *models.Lobby
	// gen counts authoritative snapshots applied; rollback only happens if it has not moved.
	gen uint64
	// confirmed is the highest authoritative click count seen per player in the current race.
	confirmed map[string]int
	// switched is closed when the session moves to another lobby.
	switched chan struct{}

	notifyMu sync.Mutex
	polls    singleflight.Group
}

// New creates a session that is not yet in a lobby.
func New(cfg Config) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Session{
		client:    cfg.Client,
		me:        cfg.Player,
		clicker:   cfg.Clicker,
		onChange:  cfg.OnChange,
		onNotice:  cfg.OnNotice,
		log:       logger.WithField("player", cfg.Player.Address),
		confirmed: make(map[string]int),
		switched:  make(chan struct{}),
	}
}

// Player returns the identity the session acts as.
func (s *Session) Player() models.Player { return s.me }

// LobbyID returns the lobby the session follows, or "".
func (s *Session) LobbyID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lobbyID
}

// Lobby returns a copy of the merged snapshot.
func (s *Session) Lobby() (models.Lobby, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap == nil {
		return models.Lobby{}, false
	}
	return s.snap.Clone(), true
}

// Generation returns how many authoritative snapshots have been applied.
func (s *Session) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// Apply merges an authoritative snapshot for the followed lobby. Snapshots of other lobbies
// are ignored. It reports whether the snapshot was applied.
func (s *Session) Apply(next models.Lobby) bool {
	s.mu.Lock()
	if s.lobbyID == "" || next.ID != s.lobbyID {
		s.mu.Unlock()
		return false
	}
	s.applyUnsafe(next)
	s.mu.Unlock()
	s.changed()
	return true
}

// adopt follows next's lobby and applies it.
func (s *Session) adopt(next models.Lobby) {
	s.mu.Lock()
	if next.ID != s.lobbyID {
		s.lobbyID = next.ID
		s.snap = nil
		s.confirmed = make(map[string]int)
		close(s.switched)
		s.switched = make(chan struct{})
	}
	s.applyUnsafe(next)
	s.mu.Unlock()
	s.changed()
}

func (s *Session) applyUnsafe(next models.Lobby) {
	fresh := s.snap == nil || s.snap.ID != next.ID || laterRace(*s.snap, next)
	merged := MergeMonotonic(s.snap, next)

	confirmed := make(map[string]int, len(next.Players))
	for _, p := range next.Players {
		key := models.AddressKey(p.Address)
		c := p.Clicks
		if prev, ok := s.confirmed[key]; ok && !fresh && prev > c {
			c = prev
		}
		confirmed[key] = c
	}
	s.confirmed = confirmed
	s.snap = &merged
	s.gen++
}

func (s *Session) changed() {
	if s.onChange == nil {
		return
	}
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	if snap, ok := s.Lobby(); ok {
		s.onChange(snap)
	}
}

func (s *Session) notice(n Notice) {
	s.log.WithFields(logrus.Fields{"kind": n.Kind, "op": n.Op}).WithError(n.Err).Debug("session notice")
	if s.onNotice != nil {
		s.onNotice(n)
	}
}

// lobbyOp runs a lobby mutation, adopting the returned lobby or raising a notice.
func (s *Session) lobbyOp(op string, call func() (models.Lobby, error)) (models.Lobby, error) {
	snap, err := call()
	if err != nil {
		s.notice(Notice{Kind: NoticeLobbyError, Op: op, Err: err})
		return models.Lobby{}, err
	}
	s.adopt(snap)
	merged, _ := s.Lobby()
	return merged, nil
}

// Create opens a new lobby with this player in it.
func (s *Session) Create(ctx context.Context, params CreateParams) (models.Lobby, error) {
	return s.lobbyOp("create", func() (models.Lobby, error) { return s.client.Create(ctx, params, s.me) })
}

// JoinAny joins the oldest open lobby, or a fresh one.
func (s *Session) JoinAny(ctx context.Context) (models.Lobby, error) {
	return s.lobbyOp("joinAny", func() (models.Lobby, error) { return s.client.JoinAny(ctx, s.me) })
}

// Join follows lobbyID after joining it.
func (s *Session) Join(ctx context.Context, lobbyID string) (models.Lobby, error) {
	return s.lobbyOp("join", func() (models.Lobby, error) { return s.client.Join(ctx, lobbyID, s.me) })
}

// Leave removes the player from the followed lobby.
func (s *Session) Leave(ctx context.Context) (models.Lobby, error) {
	id := s.LobbyID()
	return s.lobbyOp("leave", func() (models.Lobby, error) { return s.client.Leave(ctx, id, s.me.Address) })
}

// Start asks the server to begin the countdown.
func (s *Session) Start(ctx context.Context, minPlayers int) (models.Lobby, error) {
	id := s.LobbyID()
	return s.lobbyOp("start", func() (models.Lobby, error) { return s.client.Start(ctx, id, minPlayers) })
}

// Reset clears the followed lobby back to waiting.
func (s *Session) Reset(ctx context.Context) (models.Lobby, error) {
	id := s.LobbyID()
	return s.lobbyOp("reset", func() (models.Lobby, error) { return s.client.Reset(ctx, id) })
}

// Heartbeat refreshes the player's presence on the server.
func (s *Session) Heartbeat(ctx context.Context) error {
	return s.client.Heartbeat(ctx, s.me)
}

// Poll fetches the followed lobby once. A poll already in flight is joined rather than repeated.
func (s *Session) Poll(ctx context.Context) error {
	id := s.LobbyID()
	if id == "" {
		return nil
	}
	_, err, _ := s.polls.Do(id, func() (interface{}, error) {
		snap, err := s.client.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		s.Apply(snap)
		return nil, nil
	})
	return err
}

// Run polls every interval until ctx ends. Poll failures are logged and retried on the next tick.
func (s *Session) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = PollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Poll(ctx); err != nil && ctx.Err() == nil {
				s.log.WithError(err).Debug("poll failed")
				if errors.Is(err, race.ErrNotFound) {
					s.notice(Notice{Kind: NoticeLobbyError, Op: "query", Err: err})
				}
			}
		}
	}
}

// Advance is the optimistic click: the local count moves at once, then the lobby service and the
// ledger are called concurrently. Only a definitive refusal from the lobby service withdraws the
// local increment, and only if no authoritative snapshot arrived meanwhile. Ledger failures never do.
// The returned error joins whichever of the two calls failed.
func (s *Session) Advance(ctx context.Context, amount int) error {
	amount = race.CoerceAmount(amount)

	s.mu.Lock()
	lobbyID := s.lobbyID
	genAt := s.gen
	optimistic := false
	if s.snap != nil && s.snap.Status == models.StatusRunning {
		if i := s.snap.PlayerIndex(s.me.Address); i >= 0 {
			s.snap.Players[i].Clicks += amount
			optimistic = true
		}
	}
	s.mu.Unlock()
	if optimistic {
		s.changed()
	}

	var (
		wg        sync.WaitGroup
		serverErr error
		ledgerErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		snap, err := s.client.Advance(ctx, lobbyID, s.me.Address, amount)
		if err != nil {
			serverErr = err
			return
		}
		s.Apply(snap)
	}()
	if s.clicker != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ledgerErr = s.submitClicks(ctx, amount)
		}()
	}
	wg.Wait()

	if serverErr != nil {
		s.notice(Notice{Kind: NoticeLobbyError, Op: "advance", Err: serverErr})
		if optimistic && definitive(serverErr) && s.rollback(lobbyID, genAt, amount) {
			s.notice(Notice{Kind: NoticeRolledBack, Op: "advance", Err: serverErr})
			s.changed()
		}
	}
	if ledgerErr != nil {
		s.notice(ledgerNotice(ledgerErr))
	}
	return errors.Join(serverErr, ledgerErr)
}

func (s *Session) submitClicks(ctx context.Context, n int) error {
	for i := 0; i < n; i++ {
		if err := s.clicker.Click(ctx); err != nil {
			return err
		}
	}
	return nil
}

// rollback withdraws amount optimistic clicks, never going below the confirmed count.
func (s *Session) rollback(lobbyID string, genAt uint64, amount int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap == nil || s.lobbyID != lobbyID || s.gen != genAt {
		return false
	}
	i := s.snap.PlayerIndex(s.me.Address)
	if i < 0 {
		return false
	}
	clicks := s.snap.Players[i].Clicks - amount
	if floor := s.confirmed[models.AddressKey(s.me.Address)]; clicks < floor {
		clicks = floor
	}
	s.snap.Players[i].Clicks = clicks
	return true
}
