package ledger

import (
	"context"
	"fmt"
	"sync"
)

// NonceSource reports the next nonce the backend expects for account, counting pending transactions.
type NonceSource interface {
	PendingNonce(ctx context.Context, account string) (uint64, error)
}

// NonceManager hands out consecutive nonces without a backend round trip per click.
// The first Next after construction or Reset fetches the pending nonce; assignment is serialized.
type NonceManager struct {
	src NonceSource

	mu     sync.Mutex
	next   map[string]uint64
	synced map[string]bool
}

// NewNonceManager returns a manager that fetches each account's starting nonce from src on first use.
func NewNonceManager(src NonceSource) *NonceManager {
	return &NonceManager{
		src:    src,
		next:   make(map[string]uint64),
		synced: make(map[string]bool),
	}
}

// Next reserves the next nonce for account.
func (m *NonceManager) Next(ctx context.Context, account string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.synced[account] {
		n, err := m.src.PendingNonce(ctx, account)
		if err != nil {
			return 0, fmt.Errorf("fetch pending nonce: %w", err)
		}
		m.next[account] = n
		m.synced[account] = true
	}
	n := m.next[account]
	m.next[account] = n + 1
	return n, nil
}

// Reset forgets the cached nonce so the next call re-synchronizes with the backend.
func (m *NonceManager) Reset(account string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.next, account)
	delete(m.synced, account)
}
