// Package ledger defines the balance contract shared by the stores and the
// match coordinator.
package ledger

import (
	"context"
	"errors"
)

var (
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrBalanceOverflow   = errors.New("balance would overflow")
)

const (
	DirectionDebit  = "debit"
	DirectionCredit = "credit"
)

type Reason string

const (
	ReasonStake   Reason = "stake"
	ReasonPayout  Reason = "payout"
	ReasonRefund  Reason = "refund"
	ReasonDeposit Reason = "deposit"
)

// Ref tags a balance change with what caused it. MatchID is empty for deposits.
type Ref struct {
	MatchID string
	Reason  Reason
}

// Ledger moves funds in and out of a user's balance. Debit must be a single
// conditional update so that concurrent debits can never overdraw.
type Ledger interface {
	Debit(ctx context.Context, userID string, amount int64, ref Ref) error
	Credit(ctx context.Context, userID string, amount int64, ref Ref) error
}

func CheckAmount(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	return nil
}
