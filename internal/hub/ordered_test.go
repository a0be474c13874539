package hub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jason-s-yu/clickrace/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stallingPublisher is slow on waiting snapshots only, the case where per-call goroutines reorder.
type stallingPublisher struct {
	mu  sync.Mutex
	got []models.LobbyStatus
}

func (p *stallingPublisher) Publish(_ context.Context, _ string, snap models.Lobby) error {
	if snap.Status == models.StatusWaiting {
		time.Sleep(50 * time.Millisecond)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, snap.Status)
	return nil
}

func TestOrderedKeepsPublishOrder(t *testing.T) {
	slow := &stallingPublisher{}
	o := NewOrdered(slow, 8, time.Second, quiet())

	ctx := context.Background()
	require.NoError(t, o.Publish(ctx, "a", models.Lobby{ID: "a", Status: models.StatusWaiting}))
	require.NoError(t, o.Publish(ctx, "a", models.Lobby{ID: "a", Status: models.StatusCountdown}))
	require.NoError(t, o.Publish(ctx, "a", models.Lobby{ID: "a", Status: models.StatusRunning}))
	o.Close()

	assert.Equal(t, []models.LobbyStatus{models.StatusWaiting, models.StatusCountdown, models.StatusRunning}, slow.got)
	assert.ErrorIs(t, o.Publish(ctx, "a", models.Lobby{ID: "a"}), ErrClosed)
}

// blockingPublisher holds the worker until released.
type blockingPublisher struct{ release chan struct{} }

func (p *blockingPublisher) Publish(context.Context, string, models.Lobby) error {
	<-p.release
	return nil
}

func TestOrderedPublishNeverBlocks(t *testing.T) {
	b := &blockingPublisher{release: make(chan struct{})}
	o := NewOrdered(b, 1, time.Second, quiet())

	ctx := context.Background()
	snap := models.Lobby{ID: "a"}
	// the worker takes the first, the queue holds the second
	require.NoError(t, o.Publish(ctx, "a", snap))
	require.Eventually(t, func() bool {
		return o.Publish(ctx, "a", snap) == nil
	}, time.Second, time.Millisecond)
	assert.ErrorIs(t, o.Publish(ctx, "a", snap), ErrQueueFull)

	close(b.release)
	o.Close()
}

func TestFanoutOnUpdateReachesSubscribers(t *testing.T) {
	h := New(quiet())
	sub := h.Subscribe("a")
	defer sub.Close()

	Fanout{Publishers: []Publisher{h}, Log: quiet()}.OnUpdate(models.Lobby{ID: "a", Threshold: 9})
	assert.Equal(t, 9, recvSnapshot(t, sub.C, 100*time.Millisecond).Threshold)
}
