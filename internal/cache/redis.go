// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jason-s-yu/clickrace/internal/models"
	"github.com/redis/go-redis/v9"
)

// DefaultChannelPrefix prefixes the pub/sub channel of each lobby.
const DefaultChannelPrefix = "race:lobby:"

// DefaultResultsQueue is the Redis list (queue) finished races are pushed onto for the historian.
const DefaultResultsQueue = "race_results"

// ConnectRedis dials addr and verifies the connection with a ping.
func ConnectRedis(ctx context.Context, addr string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// publisher is the slice of the redis client LobbyPublisher needs.
type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// LobbyPublisher mirrors lobby snapshots onto per-lobby Redis channels so other processes can follow a race.
type LobbyPublisher struct {
	rdb    publisher
	prefix string
}

// NewLobbyPublisher returns a publisher writing to prefix+lobbyID. An empty prefix uses DefaultChannelPrefix.
func NewLobbyPublisher(rdb publisher, prefix string) *LobbyPublisher {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	return &LobbyPublisher{rdb: rdb, prefix: prefix}
}

// Channel returns the channel name for lobbyID.
func (p *LobbyPublisher) Channel(lobbyID string) string {
	return p.prefix + lobbyID
}

// Publish serializes snap and sends it to the lobby's channel.
func (p *LobbyPublisher) Publish(ctx context.Context, lobbyID string, snap models.Lobby) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal lobby snapshot: %w", err)
	}
	if err := p.rdb.Publish(ctx, p.Channel(lobbyID), data).Err(); err != nil {
		return fmt.Errorf("failed to PUBLISH to '%s': %w", p.Channel(lobbyID), err)
	}
	return nil
}

// pusher is the slice of the redis client ResultQueue needs.
type pusher interface {
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// ResultQueue hands finished races to the historian through a Redis list.
type ResultQueue struct {
	rdb  pusher
	name string
}

// NewResultQueue returns a queue writer. An empty name uses DefaultResultsQueue.
func NewResultQueue(rdb pusher, name string) *ResultQueue {
	if name == "" {
		name = DefaultResultsQueue
	}
	return &ResultQueue{rdb: rdb, name: name}
}

// Name returns the list key.
func (q *ResultQueue) Name() string { return q.name }

// Push serializes the result and appends it to the queue.
func (q *ResultQueue) Push(ctx context.Context, result models.RaceResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal RaceResult: %w", err)
	}
	if err := q.rdb.RPush(ctx, q.name, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", q.name, err)
	}
	return nil
}
