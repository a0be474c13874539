package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jason-s-yu/clickrace/internal/handlers"
	"github.com/jason-s-yu/clickrace/internal/hub"
	"github.com/jason-s-yu/clickrace/internal/ledger"
	"github.com/jason-s-yu/clickrace/internal/models"
	"github.com/jason-s-yu/clickrace/internal/presence"
	"github.com/jason-s-yu/clickrace/internal/race"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quiet() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type noticeLog struct {
	mu      sync.Mutex
	notices []Notice
}

func (n *noticeLog) add(x Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, x)
}

func (n *noticeLog) kinds() []NoticeKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]NoticeKind, 0, len(n.notices))
	for _, x := range n.notices {
		out = append(out, x.Kind)
	}
	return out
}

// newLobbyServer runs the real lobby service with a countdown short enough for tests.
func newLobbyServer(t *testing.T) *httptest.Server {
	t.Helper()
	logger := quiet()
	h := hub.New(logger)
	store := race.NewLobbyStore(race.StoreConfig{
		CountdownDuration: 20 * time.Millisecond,
		OnUpdate:          hub.Fanout{Publishers: []hub.Publisher{h}, Log: logger}.OnUpdate,
		Logger:            logger,
	})
	api := &handlers.API{Store: store, Presence: presence.NewTracker(presence.DefaultTTL), Hub: h, Logger: logger}
	srv := httptest.NewServer(handlers.NewRouter(api, handlers.RouterOptions{}))
	t.Cleanup(srv.Close)
	return srv
}

func racer(addr string) models.Player {
	return models.Player{Address: addr, Name: "racer " + addr, Color: "#ff5a5f"}
}

func newSession(srv *httptest.Server, p models.Player, clicker *ledger.Clicker, notices *noticeLog) *Session {
	cfg := Config{Client: NewClient(srv.URL), Player: p, Clicker: clicker, Logger: quiet()}
	if notices != nil {
		cfg.OnNotice = notices.add
	}
	return New(cfg)
}

// startRace puts a and b in a two-seat lobby and waits for it to run.
func startRace(t *testing.T, a, b *Session) string {
	t.Helper()
	ctx := context.Background()
	l, err := a.Create(ctx, CreateParams{Capacity: 2, Threshold: 5})
	require.NoError(t, err)
	_, err = b.Join(ctx, l.ID)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_ = a.Poll(ctx)
		_ = b.Poll(ctx)
		la, _ := a.Lobby()
		lb, _ := b.Lobby()
		return la.Status == models.StatusRunning && lb.Status == models.StatusRunning
	}, 2*time.Second, 10*time.Millisecond)
	return l.ID
}

func myClicks(t *testing.T, s *Session) int {
	t.Helper()
	l, ok := s.Lobby()
	require.True(t, ok)
	p, ok := l.Player(s.Player().Address)
	require.True(t, ok)
	return p.Clicks
}

func TestClientMapsErrors(t *testing.T) {
	srv := newLobbyServer(t)
	c := NewClient(srv.URL)
	ctx := context.Background()

	_, err := c.Get(ctx, "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, race.ErrNotFound))
	assert.True(t, errors.Is(err, race.ErrLobbyNotFound))
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.Status)

	l, err := c.Create(ctx, CreateParams{Capacity: 2}, racer("0xA"))
	require.NoError(t, err)
	_, err = c.Join(ctx, l.ID, racer("0xB"))
	require.NoError(t, err)
	_, err = c.Join(ctx, l.ID, racer("0xC"))
	assert.True(t, errors.Is(err, race.ErrPhaseConflict))
	assert.True(t, errors.Is(err, race.ErrAlreadyStarted))
	assert.False(t, errors.Is(err, race.ErrNotRunning))

	_, err = c.Create(ctx, CreateParams{}, models.Player{Address: "0xA"})
	assert.True(t, errors.Is(err, race.ErrInvalidInput))

	summaries, err := c.List(ctx)
	require.NoError(t, err)
	assert.Len(t, summaries, 1)

	require.NoError(t, c.Heartbeat(ctx, racer("0xA")))
}

func TestPlainTextErrorsStillClassify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "race not running", http.StatusConflict)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Advance(context.Background(), "l1", "0xA", 1)
	assert.True(t, errors.Is(err, race.ErrPhaseConflict))
}

func TestAdvanceOptimisticThenConfirmed(t *testing.T) {
	srv := newLobbyServer(t)
	var seen []int
	var mu sync.Mutex
	a := New(Config{Client: NewClient(srv.URL), Player: racer("0xA"), Logger: quiet(), OnChange: func(l models.Lobby) {
		if p, ok := l.Player("0xA"); ok {
			mu.Lock()
			seen = append(seen, p.Clicks)
			mu.Unlock()
		}
	}})
	b := newSession(srv, racer("0xB"), nil, nil)
	startRace(t, a, b)

	for i := 0; i < 3; i++ {
		require.NoError(t, a.Advance(context.Background(), 1))
	}
	assert.Equal(t, 3, myClicks(t, a))

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(seen); i++ {
		assert.GreaterOrEqual(t, seen[i], seen[i-1], "displayed clicks regressed: %v", seen)
	}
}

func TestAdvanceLedgerFailureKeepsOptimisticClick(t *testing.T) {
	srv := newLobbyServer(t)
	ml := ledger.NewMemoryLedger(1)
	notices := &noticeLog{}
	clicker := &ledger.Clicker{Account: "0xA", Sender: ml, Nonces: ledger.NewNonceManager(ml)}
	a := newSession(srv, racer("0xA"), clicker, notices)
	b := newSession(srv, racer("0xB"), nil, nil)
	startRace(t, a, b)

	// unfunded account: the ledger refuses, the lobby service accepts
	err := a.Advance(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ledger.ErrInsufficientFunds))
	assert.Equal(t, 1, myClicks(t, a))
	assert.Contains(t, notices.kinds(), NoticeFundingRequired)
	assert.NotContains(t, notices.kinds(), NoticeRolledBack)

	require.NoError(t, a.Poll(context.Background()))
	assert.Equal(t, 1, myClicks(t, a))
}

// stubLobby serves a fixed running lobby for GET and a configurable response for advance.
type stubLobby struct {
	mu      sync.Mutex
	lobby   models.Lobby
	advance func(w http.ResponseWriter)
	gets    atomic.Int32
	release chan struct{}
}

func (s *stubLobby) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		s.gets.Add(1)
		if s.release != nil {
			<-s.release
		}
		s.mu.Lock()
		l := s.lobby
		s.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(l)
		return
	}
	s.advance(w)
}

func runningStub(clicks int) *stubLobby {
	started := int64(10)
	return &stubLobby{lobby: models.Lobby{
		ID: "l1", Status: models.StatusRunning, Capacity: 2, Threshold: 50, StartedAt: &started,
		Players: []models.Player{{Address: "0xA", Name: "A", Color: "#f00", Clicks: clicks}},
	}}
}

func followStub(t *testing.T, s *Session, stub *stubLobby) {
	t.Helper()
	stub.mu.Lock()
	l := stub.lobby
	stub.mu.Unlock()
	s.adopt(l)
}

func TestAdvanceDefinitiveFailureRollsBack(t *testing.T) {
	stub := runningStub(3)
	stub.advance = func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"type":"error","code":"phase_conflict","message":"phase conflict: race not running"}`))
	}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	notices := &noticeLog{}
	s := newSession(srv, racer("0xA"), nil, notices)
	followStub(t, s, stub)

	err := s.Advance(context.Background(), 2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, race.ErrNotRunning))
	assert.Equal(t, 3, myClicks(t, s))
	assert.Equal(t, []NoticeKind{NoticeLobbyError, NoticeRolledBack}, notices.kinds())
}

func TestAdvanceTimeoutDoesNotRollBack(t *testing.T) {
	stub := runningStub(3)
	stub.advance = func(w http.ResponseWriter) { time.Sleep(200 * time.Millisecond) }
	srv := httptest.NewServer(stub)
	defer srv.Close()

	s := newSession(srv, racer("0xA"), nil, nil)
	s.client.HTTP = &http.Client{Timeout: 50 * time.Millisecond}
	followStub(t, s, stub)

	err := s.Advance(context.Background(), 1)
	require.Error(t, err)
	assert.False(t, definitive(err))
	assert.Equal(t, 4, myClicks(t, s))
}

func TestAdvanceNoRollbackAfterNewerSnapshot(t *testing.T) {
	stub := runningStub(3)
	var s *Session
	stub.advance = func(w http.ResponseWriter) {
		// an authoritative snapshot lands while the advance is in flight
		newer := stub.lobby.Clone()
		s.Apply(newer)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"type":"error","code":"phase_conflict","message":"phase conflict: race not running"}`))
	}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	notices := &noticeLog{}
	s = newSession(srv, racer("0xA"), nil, notices)
	followStub(t, s, stub)

	require.Error(t, s.Advance(context.Background(), 1))
	assert.Equal(t, 4, myClicks(t, s))
	assert.NotContains(t, notices.kinds(), NoticeRolledBack)
}

func TestRollbackNeverBelowConfirmed(t *testing.T) {
	s := New(Config{Client: NewClient("http://unused"), Player: racer("0xA"), Logger: quiet()})
	l := runningStub(3).lobby
	s.adopt(l)

	s.mu.Lock()
	s.snap.Players[0].Clicks = 4
	gen := s.gen
	s.mu.Unlock()

	assert.True(t, s.rollback("l1", gen, 10))
	assert.Equal(t, 3, myClicks(t, s))
}

func TestAdvanceOutsideRunningIsNotOptimistic(t *testing.T) {
	stub := runningStub(0)
	stub.lobby.Status = models.StatusCountdown
	stub.advance = func(w http.ResponseWriter) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"type":"error","code":"phase_conflict","message":"phase conflict: race not running"}`))
	}
	srv := httptest.NewServer(stub)
	defer srv.Close()

	notices := &noticeLog{}
	s := newSession(srv, racer("0xA"), nil, notices)
	followStub(t, s, stub)

	require.Error(t, s.Advance(context.Background(), 1))
	assert.Equal(t, 0, myClicks(t, s))
	assert.Equal(t, []NoticeKind{NoticeLobbyError}, notices.kinds())
}

func TestPollCollapsesOverlappingRequests(t *testing.T) {
	stub := runningStub(1)
	stub.release = make(chan struct{})
	srv := httptest.NewServer(stub)
	defer srv.Close()

	s := newSession(srv, racer("0xA"), nil, nil)
	followStub(t, s, stub)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Poll(context.Background()))
		}()
	}
	require.Eventually(t, func() bool { return stub.gets.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(stub.release)
	wg.Wait()
	assert.Equal(t, int32(1), stub.gets.Load())
}

func TestApplyIgnoresOtherLobbies(t *testing.T) {
	s := New(Config{Client: NewClient("http://unused"), Player: racer("0xA"), Logger: quiet()})
	assert.False(t, s.Apply(runningStub(1).lobby), "no lobby followed yet")

	s.adopt(runningStub(1).lobby)
	other := runningStub(9).lobby
	other.ID = "l2"
	assert.False(t, s.Apply(other))
	assert.Equal(t, 1, myClicks(t, s))
	assert.Equal(t, uint64(1), s.Generation())
}

func TestRunPollsUntilCancelled(t *testing.T) {
	stub := runningStub(1)
	srv := httptest.NewServer(stub)
	defer srv.Close()

	s := newSession(srv, racer("0xA"), nil, nil)
	followStub(t, s, stub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx, 10*time.Millisecond) }()

	stub.mu.Lock()
	stub.lobby.Players[0].Clicks = 7
	stub.mu.Unlock()
	require.Eventually(t, func() bool { return myClicks(t, s) == 7 }, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestFollowReceivesPushedSnapshots(t *testing.T) {
	srv := newLobbyServer(t)
	a := newSession(srv, racer("0xA"), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l, err := a.Create(ctx, CreateParams{Capacity: 10})
	require.NoError(t, err)
	go func() { _ = a.Follow(ctx) }()

	// keep joining fresh players until the feed is up and one arrives without polling
	other := NewClient(srv.URL)
	addrs := []string{"0xB", "0xC", "0xD", "0xE", "0xF", "0x10", "0x11", "0x12"}
	require.Eventually(t, func() bool {
		if len(addrs) > 0 {
			_, _ = other.Join(ctx, l.ID, racer(addrs[0]))
			addrs = addrs[1:]
		}
		got, _ := a.Lobby()
		return len(got.Players) >= 2
	}, 3*time.Second, 100*time.Millisecond)
}

func TestHeartbeatShowsUpInPresence(t *testing.T) {
	srv := newLobbyServer(t)
	s := newSession(srv, racer("0xAbC"), nil, nil)
	require.NoError(t, s.Heartbeat(context.Background()))

	resp, err := http.Get(srv.URL + "/api/presence")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body struct {
		Active []presence.Peer `json:"active"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Active, 1)
	assert.Equal(t, "racer 0xAbC", body.Active[0].Name)
}

func TestPollAfterMissedResetStartsFromZero(t *testing.T) {
	srv := newLobbyServer(t)
	ctx := context.Background()
	a := newSession(srv, racer("0xA"), nil, nil)
	b := newSession(srv, racer("0xB"), nil, nil)
	id := startRace(t, a, b)

	for i := 0; i < 5; i++ {
		require.NoError(t, a.Advance(ctx, 1))
	}
	l, _ := a.Lobby()
	require.Equal(t, models.StatusFinished, l.Status)

	// someone else resets and both rejoin between two of a's polls
	other := NewClient(srv.URL)
	_, err := other.Reset(ctx, id)
	require.NoError(t, err)
	_, err = other.Join(ctx, id, racer("0xA"))
	require.NoError(t, err)

	require.NoError(t, a.Poll(ctx))
	l, _ = a.Lobby()
	assert.Equal(t, models.StatusWaiting, l.Status)
	assert.Equal(t, 0, myClicks(t, a))
}
