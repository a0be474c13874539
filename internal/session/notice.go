package session

import (
	"errors"

	"github.com/jason-s-yu/clickrace/internal/ledger"
)

// NoticeKind says what a user-facing notice is about.
type NoticeKind string

const (
	// NoticeLobbyError reports a failed lobby operation. The session stays usable.
	NoticeLobbyError NoticeKind = "lobby_error"

	// NoticeFundingRequired asks the player to top up the ledger account.
	NoticeFundingRequired NoticeKind = "funding_required"

	// NoticeNonceReset reports that the nonce cache was discarded; the next click re-synchronizes.
	NoticeNonceReset NoticeKind = "nonce_reset"

	NoticeLedgerError NoticeKind = "ledger_error"

	// NoticeRolledBack reports that an optimistic click was withdrawn after the server refused it.
	NoticeRolledBack NoticeKind = "rolled_back"
)

// Notice is surfaced to the player; none of them are fatal.
type Notice struct {
	Kind NoticeKind
	Op   string
	Err  error
}

func ledgerNotice(err error) Notice {
	switch ledger.Classify(err) {
	case ledger.KindInsufficientFunds:
		return Notice{Kind: NoticeFundingRequired, Op: "click", Err: err}
	case ledger.KindNonceConflict:
		return Notice{Kind: NoticeNonceReset, Op: "click", Err: err}
	}
	return Notice{Kind: NoticeLedgerError, Op: "click", Err: err}
}

// definitive reports whether err is a refusal from the lobby service, as opposed to a transport
// failure or timeout whose outcome is unknown.
func definitive(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}
