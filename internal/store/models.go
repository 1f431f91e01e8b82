package store

import (
	"context"
	"time"

	"rps.hh/internal/ledger"
	"rps.hh/internal/match"
)

type User struct {
	ID        string
	Balance   int64
	CreatedAt time.Time
}

type LedgerEntry struct {
	ID        int64
	UserID    string
	MatchID   string
	Amount    int64
	Direction string
	Reason    ledger.Reason
	CreatedAt time.Time
}

// Tx is the unit of work handed to Atomically. Every call made through it
// commits together or not at all.
type Tx interface {
	ledger.Ledger
	Insert(ctx context.Context, m match.Match) error
	// Save writes m only if the stored version equals expectedVersion and
	// stores expectedVersion+1. A stale version yields ErrVersionConflict.
	Save(ctx context.Context, m match.Match, expectedVersion int64) error
}
