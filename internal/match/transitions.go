package match

import (
	"fmt"
	"math"
	"time"
)

// MaxStake keeps the pot of two stakes within int64.
const MaxStake = math.MaxInt64 / 2

// New opens a waiting match. The creator's stake is debited by the caller
// in the same store transaction that inserts the match.
func New(id, creatorID string, stake int64, now time.Time) (Match, error) {
	if stake <= 0 {
		return Match{}, ErrInvalidStake
	}
	if stake > MaxStake {
		return Match{}, fmt.Errorf("%w: above %d", ErrInvalidStake, int64(MaxStake))
	}
	return Match{
		ID:        id,
		CreatorID: creatorID,
		Stake:     stake,
		Status:    StatusWaiting,
		Version:   0,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Join seats opponentID and moves the match to in_progress.
func (m Match) Join(opponentID string, now time.Time) (Match, error) {
	if m.Status != StatusWaiting {
		return Match{}, fmt.Errorf("%w: cannot join a %s match", ErrInvalidState, m.Status)
	}
	if opponentID == m.CreatorID {
		return Match{}, ErrSelfJoin
	}
	next := m
	next.OpponentID = opponentID
	next.Status = StatusInProgress
	next.Version++
	next.UpdatedAt = now
	return next, nil
}

// Play records userID's move. When it completes the pair the returned match
// is finished and the payouts owed to the players are returned with it.
func (m Match) Play(userID string, mv Move, now time.Time) (Match, []Payout, error) {
	if !mv.Valid() {
		return Match{}, nil, ErrInvalidMove
	}
	if m.Status != StatusInProgress {
		return Match{}, nil, fmt.Errorf("%w: cannot move in a %s match", ErrInvalidState, m.Status)
	}

	next := m
	switch userID {
	case m.CreatorID:
		if m.CreatorMove != "" {
			return Match{}, nil, ErrAlreadyMoved
		}
		next.CreatorMove = mv
	case m.OpponentID:
		if m.OpponentMove != "" {
			return Match{}, nil, ErrAlreadyMoved
		}
		next.OpponentMove = mv
	default:
		return Match{}, nil, ErrForbidden
	}
	next.Version++
	next.UpdatedAt = now

	if next.CreatorMove == "" || next.OpponentMove == "" {
		return next, nil, nil
	}
	payouts := next.settle()
	return next, payouts, nil
}

func (m *Match) settle() []Payout {
	m.Status = StatusFinished
	switch Resolve(m.CreatorMove, m.OpponentMove) {
	case OutcomeAWins:
		m.WinnerID = m.CreatorID
		return []Payout{{UserID: m.CreatorID, Amount: m.Pot()}}
	case OutcomeBWins:
		m.WinnerID = m.OpponentID
		return []Payout{{UserID: m.OpponentID, Amount: m.Pot()}}
	default:
		m.WinnerID = WinnerDraw
		return []Payout{
			{UserID: m.CreatorID, Amount: m.Stake},
			{UserID: m.OpponentID, Amount: m.Stake},
		}
	}
}

// Cancel refunds a waiting match on behalf of its creator.
func (m Match) Cancel(userID string, now time.Time) (Match, Payout, error) {
	if userID != m.CreatorID {
		return Match{}, Payout{}, ErrForbidden
	}
	return m.Refund(now)
}

// Refund closes a waiting match and returns the creator's stake. It is the
// only way out of waiting other than Join.
func (m Match) Refund(now time.Time) (Match, Payout, error) {
	if m.Status != StatusWaiting {
		return Match{}, Payout{}, fmt.Errorf("%w: cannot refund a %s match", ErrInvalidState, m.Status)
	}
	next := m
	next.Status = StatusRefunded
	next.Version++
	next.UpdatedAt = now
	return next, Payout{UserID: m.CreatorID, Amount: m.Stake}, nil
}

// Outcome reports the result of a finished match from the creator's side.
func (m Match) Outcome() (Outcome, bool) {
	if m.Status != StatusFinished {
		return OutcomeDraw, false
	}
	return Resolve(m.CreatorMove, m.OpponentMove), true
}

// ViewFor hides the other player's move from userID until the match is over.
func (m Match) ViewFor(userID string) Match {
	if m.Status.Terminal() {
		return m
	}
	v := m
	if userID != m.CreatorID {
		v.CreatorMove = ""
	}
	if userID != m.OpponentID {
		v.OpponentMove = ""
	}
	return v
}

// Check verifies the structural invariants of m.
func (m Match) Check() error {
	if m.Stake <= 0 {
		return ErrInvalidStake
	}
	if m.OpponentID != "" && m.OpponentID == m.CreatorID {
		return ErrSelfJoin
	}
	bad := func(reason string) error {
		return fmt.Errorf("%w: %s match %s", ErrInvalidState, m.Status, reason)
	}
	switch m.Status {
	case StatusWaiting, StatusRefunded:
		if m.OpponentID != "" || m.CreatorMove != "" || m.OpponentMove != "" || m.WinnerID != "" {
			return bad("has an opponent, a move or a winner")
		}
	case StatusInProgress:
		if m.OpponentID == "" {
			return bad("has no opponent")
		}
		if m.CreatorMove != "" && m.OpponentMove != "" {
			return bad("has both moves but is not settled")
		}
		if m.WinnerID != "" {
			return bad("has a winner")
		}
	case StatusFinished:
		if m.OpponentID == "" || !m.CreatorMove.Valid() || !m.OpponentMove.Valid() {
			return bad("is missing a move")
		}
		if m.WinnerID != m.CreatorID && m.WinnerID != m.OpponentID && m.WinnerID != WinnerDraw {
			return bad("has no winner")
		}
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidState, m.Status)
	}
	return nil
}
