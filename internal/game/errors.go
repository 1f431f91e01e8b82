package game

import (
	"errors"
	"fmt"

	"rps.hh/internal/ledger"
	"rps.hh/internal/match"
	"rps.hh/internal/store"
)

var (
	ErrInvalidInput = match.ErrInvalidInput
	ErrInvalidStake = match.ErrInvalidStake
	ErrInvalidMove  = match.ErrInvalidMove
	ErrSelfJoin     = match.ErrSelfJoin
	ErrInvalidState = match.ErrInvalidState
	ErrForbidden    = match.ErrForbidden
	ErrAlreadyMoved = match.ErrAlreadyMoved

	ErrInsufficientFunds = ledger.ErrInsufficientFunds
	ErrNotFound          = errors.New("match not found")
	ErrUserNotFound      = errors.New("user not found")
	// ErrConflict means the match changed under every attempt; reload and retry.
	ErrConflict         = errors.New("concurrent modification")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// translate maps repository errors onto the coordinator's taxonomy. Domain
// errors pass through untouched.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, store.ErrUserNotFound):
		return ErrUserNotFound
	case errors.Is(err, store.ErrVersionConflict):
		return fmt.Errorf("%w: %w", ErrConflict, err)
	case errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrBalanceOverflow),
		errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrInvalidState),
		errors.Is(err, ErrForbidden),
		errors.Is(err, ErrAlreadyMoved):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
}

// resultLabel names err for metrics and logs.
func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ledger.ErrBalanceOverflow):
		return "balance_overflow"
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrUserNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrAlreadyMoved):
		return "already_moved"
	case errors.Is(err, ErrConflict):
		return "conflict"
	default:
		return "store_unavailable"
	}
}
