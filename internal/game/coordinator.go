// Package game runs the match state machine against a transactional store.
//
// Every transition follows the same cycle: load the match, validate the
// transition on the loaded value, then move funds and save the match with a
// version compare-and-swap inside one store transaction. A version conflict
// rolls the whole transaction back and the cycle restarts from a fresh load,
// so a settlement can never be paid twice.
package game

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"rps.hh/internal/ledger"
	"rps.hh/internal/logging"
	"rps.hh/internal/match"
	"rps.hh/internal/metrics"
	"rps.hh/internal/notify"
	"rps.hh/internal/store"
)

const (
	defaultMaxAttempts = 3
	defaultOpTimeout   = 5 * time.Second
	sweepBatchSize     = 100
)

// Repository is the persistence boundary of the coordinator.
type Repository interface {
	Load(ctx context.Context, id string) (match.Match, error)
	Atomically(ctx context.Context, fn func(store.Tx) error) error
	FindByParticipant(ctx context.Context, userID string) iter.Seq2[match.Match, error]
	FindStaleWaiting(ctx context.Context, before time.Time, limit int) ([]match.Match, error)
}

type Options struct {
	Notifier    notify.Notifier
	Metrics     *metrics.Recorder
	Logger      *slog.Logger
	Now         func() time.Time
	NewID       func() string
	MaxAttempts int
	OpTimeout   time.Duration
}

type Coordinator struct {
	repo        Repository
	notifier    notify.Notifier
	metrics     *metrics.Recorder
	logger      *slog.Logger
	now         func() time.Time
	newID       func() string
	maxAttempts int
	opTimeout   time.Duration
}

func NewCoordinator(repo Repository, opts Options) *Coordinator {
	c := &Coordinator{
		repo:        repo,
		notifier:    opts.Notifier,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
		now:         opts.Now,
		newID:       opts.NewID,
		maxAttempts: opts.MaxAttempts,
		opTimeout:   opts.OpTimeout,
	}
	if c.notifier == nil {
		c.notifier = notify.Nop{}
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.newID == nil {
		c.newID = uuid.NewString
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = defaultMaxAttempts
	}
	if c.opTimeout <= 0 {
		c.opTimeout = defaultOpTimeout
	}
	return c
}

// plan is the outcome of validating one transition against a loaded match.
type plan struct {
	next    match.Match
	debit   match.Payout
	credits []match.Payout
	reason  ledger.Reason
	event   notify.EventType
}

// CreateMatch opens a waiting match and debits the creator's stake with it.
func (c *Coordinator) CreateMatch(ctx context.Context, creatorID string, stake int64) (m match.Match, err error) {
	defer c.observe("create", time.Now(), &err)

	m, err = match.New(c.newID(), creatorID, stake, c.now().UTC())
	if err != nil {
		return match.Match{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	err = c.repo.Atomically(ctx, func(tx store.Tx) error {
		if err := tx.Insert(ctx, m); err != nil {
			return err
		}
		return tx.Debit(ctx, creatorID, stake, ledger.Ref{MatchID: m.ID, Reason: ledger.ReasonStake})
	})
	if err != nil {
		return match.Match{}, translate(err)
	}

	c.notifier.Notify(notify.NewEvent(notify.EventCreated, m))
	return m, nil
}

// JoinMatch seats opponentID in a waiting match and debits the same stake.
func (c *Coordinator) JoinMatch(ctx context.Context, matchID, opponentID string) (m match.Match, err error) {
	defer c.observe("join", time.Now(), &err)

	return c.apply(ctx, "join", matchID, func(cur match.Match) (plan, error) {
		next, err := cur.Join(opponentID, c.now().UTC())
		if err != nil {
			return plan{}, err
		}
		return plan{
			next:  next,
			debit: match.Payout{UserID: opponentID, Amount: cur.Stake},
			event: notify.EventJoined,
		}, nil
	})
}

// SubmitMove records userID's move. The move completing the pair settles the
// match in the same transaction.
func (c *Coordinator) SubmitMove(ctx context.Context, matchID, userID string, mv match.Move) (m match.Match, err error) {
	defer c.observe("move", time.Now(), &err)

	if !mv.Valid() {
		return match.Match{}, ErrInvalidMove
	}

	m, err = c.apply(ctx, "move", matchID, func(cur match.Match) (plan, error) {
		next, payouts, err := cur.Play(userID, mv, c.now().UTC())
		if err != nil {
			return plan{}, err
		}
		p := plan{next: next, event: notify.EventMoved}
		if next.Status == match.StatusFinished {
			p.credits = payouts
			p.reason = ledger.ReasonPayout
			p.event = notify.EventFinished
		}
		return p, nil
	})
	if err == nil {
		if outcome, ok := m.Outcome(); ok {
			c.metrics.RecordSettlement(outcome.String(), m.Pot())
			logging.Info(c.logger, "match_settled",
				slog.String(logging.FieldMatchID, m.ID),
				slog.String("winner_id", m.WinnerID),
				slog.Int64(logging.FieldStake, m.Stake),
			)
		}
	}
	return m, err
}

// CancelMatch lets the creator withdraw a match nobody has joined yet.
func (c *Coordinator) CancelMatch(ctx context.Context, matchID, userID string) (m match.Match, err error) {
	defer c.observe("cancel", time.Now(), &err)

	m, err = c.apply(ctx, "cancel", matchID, func(cur match.Match) (plan, error) {
		next, refund, err := cur.Cancel(userID, c.now().UTC())
		if err != nil {
			return plan{}, err
		}
		return plan{next: next, credits: []match.Payout{refund}, reason: ledger.ReasonRefund, event: notify.EventRefunded}, nil
	})
	if err == nil {
		c.metrics.RecordRefund("cancel")
	}
	return m, err
}

// ExpireStale refunds waiting matches created more than olderThan ago and
// reports how many were refunded. Matches joined or cancelled meanwhile are
// skipped.
func (c *Coordinator) ExpireStale(ctx context.Context, olderThan time.Duration) (int, error) {
	before := c.now().UTC().Add(-olderThan)

	stale, err := c.repo.FindStaleWaiting(ctx, before, sweepBatchSize)
	if err != nil {
		return 0, translate(err)
	}

	refunded := 0
	for _, s := range stale {
		_, err := c.apply(ctx, "expire", s.ID, func(cur match.Match) (plan, error) {
			next, refund, err := cur.Refund(c.now().UTC())
			if err != nil {
				return plan{}, err
			}
			return plan{next: next, credits: []match.Payout{refund}, reason: ledger.ReasonRefund, event: notify.EventRefunded}, nil
		})
		switch {
		case err == nil:
			refunded++
			c.metrics.RecordRefund("expired")
		case errors.Is(err, ErrInvalidState), errors.Is(err, ErrConflict):
			logging.Info(c.logger, "match_expire_skipped",
				slog.String(logging.FieldMatchID, s.ID),
				slog.String(logging.FieldReason, resultLabel(err)),
			)
		default:
			return refunded, err
		}
	}
	return refunded, nil
}

// GetMatch returns a match to one of its participants.
func (c *Coordinator) GetMatch(ctx context.Context, matchID, userID string) (match.Match, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	m, err := c.repo.Load(ctx, matchID)
	if err != nil {
		return match.Match{}, translate(err)
	}
	if !m.IsParticipant(userID) {
		return match.Match{}, ErrForbidden
	}
	return m, nil
}

// ListMatches yields the user's matches, most recent first. The sequence
// queries the store each time it is ranged over.
func (c *Coordinator) ListMatches(ctx context.Context, userID string) iter.Seq2[match.Match, error] {
	return func(yield func(match.Match, error) bool) {
		for m, err := range c.repo.FindByParticipant(ctx, userID) {
			if err != nil {
				yield(match.Match{}, translate(err))
				return
			}
			if !yield(m, nil) {
				return
			}
		}
	}
}

// apply runs the load-validate-commit cycle, retrying on version conflicts.
func (c *Coordinator) apply(ctx context.Context, op, matchID string, validate func(match.Match) (plan, error)) (match.Match, error) {
	ctx, cancel := context.WithTimeout(ctx, c.opTimeout)
	defer cancel()

	for attempt := 1; ; attempt++ {
		cur, err := c.repo.Load(ctx, matchID)
		if err != nil {
			return match.Match{}, translate(err)
		}
		p, err := validate(cur)
		if err != nil {
			return match.Match{}, err
		}

		err = c.repo.Atomically(ctx, func(tx store.Tx) error {
			return c.commit(ctx, tx, cur, p)
		})
		if err == nil {
			p.next.Version = cur.Version + 1
			c.notifier.Notify(notify.NewEvent(p.event, p.next))
			return p.next, nil
		}

		if !errors.Is(err, store.ErrVersionConflict) {
			return match.Match{}, translate(err)
		}
		c.metrics.RecordConflict(op)
		logging.Info(c.logger, "match_version_conflict",
			slog.String(logging.FieldOperation, op),
			slog.String(logging.FieldMatchID, matchID),
			slog.Int(logging.FieldAttempt, attempt),
		)
		if attempt >= c.maxAttempts {
			return match.Match{}, translate(err)
		}
	}
}

func (c *Coordinator) commit(ctx context.Context, tx store.Tx, cur match.Match, p plan) error {
	if p.debit.Amount > 0 {
		ref := ledger.Ref{MatchID: cur.ID, Reason: ledger.ReasonStake}
		if err := tx.Debit(ctx, p.debit.UserID, p.debit.Amount, ref); err != nil {
			return err
		}
	}
	// Credits lock user rows; a fixed order keeps concurrent settlements
	// from deadlocking on each other.
	credits := slices.Clone(p.credits)
	slices.SortFunc(credits, func(a, b match.Payout) int {
		return strings.Compare(a.UserID, b.UserID)
	})
	for _, credit := range credits {
		ref := ledger.Ref{MatchID: cur.ID, Reason: p.reason}
		if err := tx.Credit(ctx, credit.UserID, credit.Amount, ref); err != nil {
			return err
		}
	}
	return tx.Save(ctx, p.next, cur.Version)
}

func (c *Coordinator) observe(op string, start time.Time, err *error) {
	result := resultLabel(*err)
	c.metrics.RecordOperation(op, result, time.Since(start))
	if *err != nil && result == "store_unavailable" {
		logging.Error(c.logger, "match_operation_failed", *err, slog.String(logging.FieldOperation, op))
	}
}
