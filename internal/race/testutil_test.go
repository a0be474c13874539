package race

import (
	"io"
	"sync"
	"time"

	"github.com/jason-s-yu/clickrace/internal/models"
	"github.com/sirupsen/logrus"
)

// fakeClock is a manually advanced clock safe for concurrent readers.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type staticPresence map[string]struct{}

func (p staticPresence) ActiveAddresses(time.Time) map[string]struct{} { return p }

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestStore(clock *fakeClock) *LobbyStore {
	return NewLobbyStore(StoreConfig{Now: clock.Now, Logger: quietLogger()})
}

func player(addr string) models.Player {
	return models.Player{Address: addr, Name: "racer " + addr, Color: "#ff5a5f"}
}
