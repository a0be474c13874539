package race

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the store wraps exactly one of these,
// so callers can branch with errors.Is on either the kind or the specific error.
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrCapacityExceeded = errors.New("capacity exceeded")
	ErrPhaseConflict    = errors.New("phase conflict")
	ErrNotEnoughPlayers = errors.New("not enough players")
)

var (
	ErrLobbyNotFound  = fmt.Errorf("%w: lobby", ErrNotFound)
	ErrPlayerNotFound = fmt.Errorf("%w: not in lobby", ErrNotFound)
	ErrMissingPlayer  = fmt.Errorf("%w: missing player fields", ErrInvalidInput)
	ErrMissingAddress = fmt.Errorf("%w: missing address", ErrInvalidInput)
	ErrBadAddress     = fmt.Errorf("%w: malformed address", ErrInvalidInput)
	ErrMissingLobbyID = fmt.Errorf("%w: missing lobbyId", ErrInvalidInput)
	ErrFull           = fmt.Errorf("%w: lobby full", ErrCapacityExceeded)
	ErrAlreadyStarted = fmt.Errorf("%w: race already started", ErrPhaseConflict)
	ErrNotRunning     = fmt.Errorf("%w: race not running", ErrPhaseConflict)
)

// Error codes used on the wire.
const (
	CodeNotFound         = "not_found"
	CodeInvalidInput     = "invalid_input"
	CodeCapacityExceeded = "capacity_exceeded"
	CodePhaseConflict    = "phase_conflict"
	CodeNotEnoughPlayers = "not_enough_players"
	CodeInternal         = "internal"
)

var kinds = []struct {
	code string
	err  error
}{
	{CodeNotFound, ErrNotFound},
	{CodeInvalidInput, ErrInvalidInput},
	{CodeCapacityExceeded, ErrCapacityExceeded},
	{CodePhaseConflict, ErrPhaseConflict},
	{CodeNotEnoughPlayers, ErrNotEnoughPlayers},
}

// Code returns the wire code for err's kind, or CodeInternal if err wraps no known kind.
func Code(err error) string {
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.code
		}
	}
	return CodeInternal
}

// KindForCode maps a wire code back onto its kind sentinel. Unknown codes return nil.
func KindForCode(code string) error {
	for _, k := range kinds {
		if k.code == code {
			return k.err
		}
	}
	return nil
}
