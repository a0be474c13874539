package hub

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/jason-s-yu/clickrace/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recvSnapshot(t *testing.T, ch <-chan models.Lobby, within time.Duration) models.Lobby {
	t.Helper()
	select {
	case snap, ok := <-ch:
		require.True(t, ok, "subscription closed unexpectedly")
		return snap
	case <-time.After(within):
		t.Fatalf("timed out waiting for snapshot")
		return models.Lobby{}
	}
}

func quiet() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestPublishReachesOnlyThatLobby(t *testing.T) {
	h := New(quiet())
	a := h.Subscribe("a")
	b := h.Subscribe("b")
	defer a.Close()
	defer b.Close()

	require.NoError(t, h.Publish(context.Background(), "a", models.Lobby{ID: "a", Threshold: 3}))

	got := recvSnapshot(t, a.C, 100*time.Millisecond)
	assert.Equal(t, "a", got.ID)
	select {
	case s := <-b.C:
		t.Fatalf("unexpected snapshot on b: %+v", s)
	default:
	}
}

func TestSlowSubscriberKeepsLatest(t *testing.T) {
	h := New(quiet())
	sub := h.Subscribe("a")
	defer sub.Close()

	for i := 1; i <= 5; i++ {
		require.NoError(t, h.Publish(context.Background(), "a", models.Lobby{ID: "a", Threshold: i}))
	}
	got := recvSnapshot(t, sub.C, 100*time.Millisecond)
	assert.Equal(t, 5, got.Threshold)
}

func TestCloseUnsubscribes(t *testing.T) {
	h := New(quiet())
	sub := h.Subscribe("a")
	assert.Equal(t, 1, h.Subscribers("a"))

	sub.Close()
	sub.Close()
	assert.Equal(t, 0, h.Subscribers("a"))
	_, ok := <-sub.C
	assert.False(t, ok)

	assert.NoError(t, h.Publish(context.Background(), "a", models.Lobby{ID: "a"}))
}

type failingPublisher struct{ calls int }

func (f *failingPublisher) Publish(context.Context, string, models.Lobby) error {
	f.calls++
	return errors.New("down")
}

func TestFanoutSwallowsErrors(t *testing.T) {
	h := New(quiet())
	sub := h.Subscribe("a")
	defer sub.Close()
	bad := &failingPublisher{}

	f := Fanout{Publishers: []Publisher{bad, h, nil}, Log: quiet()}
	assert.NoError(t, f.Publish(context.Background(), "a", models.Lobby{ID: "a"}))
	assert.Equal(t, 1, bad.calls)
	recvSnapshot(t, sub.C, 100*time.Millisecond)
}
