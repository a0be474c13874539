package ledger

import (
	"context"
	"errors"
	"fmt"
)

// Sender submits one click transaction signed for account with the given nonce.
type Sender interface {
	SendClick(ctx context.Context, account string, nonce uint64) error
}

// Funds reports an account's spendable balance.
type Funds interface {
	Balance(ctx context.Context, account string) (int64, error)
}

// Clicker sends click transactions for one account, managing its nonce.
type Clicker struct {
	Account string
	Sender  Sender
	Nonces  *NonceManager
}

// Click submits one click. Failures are wrapped so Classify and errors.Is both work; a nonce
// conflict resets the nonce cache before returning so the next click re-synchronizes.
func (c *Clicker) Click(ctx context.Context) error {
	nonce, err := c.Nonces.Next(ctx, c.Account)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLedger, err)
	}
	err = c.Sender.SendClick(ctx, c.Account, nonce)
	if err == nil {
		return nil
	}
	switch Classify(err) {
	case KindNonceConflict:
		c.Nonces.Reset(c.Account)
		if !errors.Is(err, ErrNonceConflict) {
			err = fmt.Errorf("%w: %w", ErrNonceConflict, err)
		}
	case KindInsufficientFunds:
		if !errors.Is(err, ErrInsufficientFunds) {
			err = fmt.Errorf("%w: %w", ErrInsufficientFunds, err)
		}
	default:
		if !errors.Is(err, ErrLedger) {
			err = fmt.Errorf("%w: %w", ErrLedger, err)
		}
	}
	return err
}

// EnsureBalance checks that account can pay for clicksNeeded clicks. It returns ErrInsufficientFunds
// when the balance is short, and nil when the balance cannot be read: a flaky backend must not block a join.
func EnsureBalance(ctx context.Context, funds Funds, account string, clicksNeeded int, costPerClick int64) error {
	if funds == nil || clicksNeeded <= 0 || costPerClick <= 0 {
		return nil
	}
	bal, err := funds.Balance(ctx, account)
	if err != nil {
		return nil
	}
	need := int64(clicksNeeded) * costPerClick
	if bal < need {
		return fmt.Errorf("%w: balance %d, need %d for %d clicks", ErrInsufficientFunds, bal, need, clicksNeeded)
	}
	return nil
}
