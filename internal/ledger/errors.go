// Package ledger is the client side of the external value-transfer backend that records
// each click as a transaction.
package ledger

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a ledger failure by how the caller should react.
type Kind int

const (
	KindNone Kind = iota
	KindInsufficientFunds
	KindNonceConflict
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindInsufficientFunds:
		return "insufficient_funds"
	case KindNonceConflict:
		return "nonce_conflict"
	}
	return "other"
}

var (
	ErrLedger            = errors.New("ledger failure")
	ErrInsufficientFunds = fmt.Errorf("%w: insufficient funds", ErrLedger)
	ErrNonceConflict     = fmt.Errorf("%w: nonce conflict", ErrLedger)
)

// Classify maps err onto a Kind. Backends that return plain errors are recognized by message.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}
	switch {
	case errors.Is(err, ErrInsufficientFunds):
		return KindInsufficientFunds
	case errors.Is(err, ErrNonceConflict):
		return KindNonceConflict
	case errors.Is(err, ErrLedger):
		return KindOther
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient funds"), strings.Contains(msg, "insufficient balance"):
		return KindInsufficientFunds
	case strings.Contains(msg, "nonce"):
		return KindNonceConflict
	}
	return KindOther
}
