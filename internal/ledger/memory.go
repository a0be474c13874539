package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/jason-s-yu/clickrace/internal/models"
)

// MemoryLedger is an in-process ledger: each account has a balance and an expected nonce,
// and every accepted click costs CostPerClick.
type MemoryLedger struct {
	CostPerClick int64

	mu       sync.Mutex
	balances map[string]int64
	nonces   map[string]uint64
	clicks   map[string]int64
}

// NewMemoryLedger returns an empty ledger charging costPerClick per click.
func NewMemoryLedger(costPerClick int64) *MemoryLedger {
	return &MemoryLedger{
		CostPerClick: costPerClick,
		balances:     make(map[string]int64),
		nonces:       make(map[string]uint64),
		clicks:       make(map[string]int64),
	}
}

// Fund credits account.
func (m *MemoryLedger) Fund(account string, amount int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[models.AddressKey(account)] += amount
}

// Balance returns the account's remaining funds.
func (m *MemoryLedger) Balance(_ context.Context, account string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[models.AddressKey(account)], nil
}

// PendingNonce returns the next nonce the ledger will accept for account.
func (m *MemoryLedger) PendingNonce(_ context.Context, account string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nonces[models.AddressKey(account)], nil
}

// Clicks returns how many clicks account has recorded.
func (m *MemoryLedger) Clicks(account string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clicks[models.AddressKey(account)]
}

// SendClick accepts the click only with the expected nonce and enough balance.
func (m *MemoryLedger) SendClick(ctx context.Context, account string, nonce uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := models.AddressKey(account)
	m.mu.Lock()
	defer m.mu.Unlock()
	if want := m.nonces[key]; nonce != want {
		return fmt.Errorf("%w: got %d, want %d", ErrNonceConflict, nonce, want)
	}
	if m.balances[key] < m.CostPerClick {
		return ErrInsufficientFunds
	}
	m.balances[key] -= m.CostPerClick
	m.nonces[key]++
	m.clicks[key]++
	return nil
}
