// Package hub is the best-effort realtime fan-out of lobby snapshots to subscribers.
// Nothing depends on delivery: clients keep polling and merge whatever arrives.
package hub

import (
	"context"
	"sync"

	"github.com/jason-s-yu/clickrace/internal/models"
	"github.com/sirupsen/logrus"
)

// Publisher pushes a lobby snapshot to whoever is listening for lobbyID.
type Publisher interface {
	Publish(ctx context.Context, lobbyID string, snap models.Lobby) error
}

// Subscription is a single subscriber's feed. C holds at most the latest undelivered snapshot.
type Subscription struct {
	C <-chan models.Lobby

	ch      chan models.Lobby
	lobbyID string
	hub     *Hub
	once    sync.Once
}

// Close unsubscribes and closes C. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() { s.hub.unsubscribe(s) })
}

// Hub manages subscribers grouped by lobby id.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*Subscription]struct{}
	log  logrus.FieldLogger
}

// New creates an empty hub.
func New(logger logrus.FieldLogger) *Hub {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Hub{
		subs: make(map[string]map[*Subscription]struct{}),
		log:  logger.WithField("component", "hub"),
	}
}

// Subscribe registers interest in lobbyID.
func (h *Hub) Subscribe(lobbyID string) *Subscription {
	ch := make(chan models.Lobby, 1)
	sub := &Subscription{C: ch, ch: ch, lobbyID: lobbyID, hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[lobbyID]; !ok {
		h.subs[lobbyID] = make(map[*Subscription]struct{})
	}
	h.subs[lobbyID][sub] = struct{}{}
	return sub
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.subs[sub.lobbyID]; ok {
		if _, ok := subs[sub]; ok {
			delete(subs, sub)
			close(sub.ch)
		}
		if len(subs) == 0 {
			delete(h.subs, sub.lobbyID)
		}
	}
}

// Subscribers returns the number of live subscriptions for lobbyID.
func (h *Hub) Subscribers(lobbyID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[lobbyID])
}

// Publish delivers snap to every subscriber of lobbyID without blocking. A subscriber that has not
// drained its previous snapshot has it replaced by this one.
func (h *Hub) Publish(_ context.Context, lobbyID string, snap models.Lobby) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[lobbyID] {
		msg := snap.Clone()
		select {
		case sub.ch <- msg:
			continue
		default:
		}
		// full: drop the stale snapshot and retry once
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- msg:
		default:
			h.log.WithField("lobby", lobbyID).Debug("subscriber busy, snapshot dropped")
		}
	}
	return nil
}

// Fanout publishes to several publishers, logging failures instead of returning them.
type Fanout struct {
	Publishers []Publisher
	Log        logrus.FieldLogger
}

// Publish never fails; realtime delivery is an optimization.
func (f Fanout) Publish(ctx context.Context, lobbyID string, snap models.Lobby) error {
	for _, p := range f.Publishers {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, lobbyID, snap); err != nil && f.Log != nil {
			f.Log.WithError(err).WithField("lobby", lobbyID).Warn("publish failed")
		}
	}
	return nil
}

// OnUpdate publishes snap to every publisher. It matches race.StoreConfig.OnUpdate.
func (f Fanout) OnUpdate(snap models.Lobby) {
	_ = f.Publish(context.Background(), snap.ID, snap)
}
