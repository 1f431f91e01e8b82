package store

import (
	"context"
	"fmt"
	"iter"
	"maps"
	"math"
	"slices"
	"sync"
	"time"

	"rps.hh/internal/ledger"
	"rps.hh/internal/match"
)

// Memory is an in-process store with the same semantics as Store. A
// transaction works on a copy of the state which replaces the live state
// only when fn succeeds.
type Memory struct {
	mu      sync.RWMutex
	state   memState
	nextID  int64
	nowFunc func() time.Time
}

type memState struct {
	users   map[string]User
	matches map[string]match.Match
	entries []LedgerEntry
}

func (s memState) clone() memState {
	return memState{
		users:   maps.Clone(s.users),
		matches: maps.Clone(s.matches),
		entries: slices.Clone(s.entries),
	}
}

func NewMemory() *Memory {
	return &Memory{
		state: memState{
			users:   make(map[string]User),
			matches: make(map[string]match.Match),
		},
		nowFunc: time.Now,
	}
}

func (s *Memory) CreateUser(ctx context.Context, id string, balance int64) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.state.users[id]; ok {
		return User{}, ErrUserExists
	}
	u := User{ID: id, Balance: balance, CreatedAt: s.nowFunc().UTC()}
	s.state.users[id] = u
	return u, nil
}

func (s *Memory) GetUser(ctx context.Context, id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.state.users[id]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func (s *Memory) Deposit(ctx context.Context, id string, amount int64) (User, error) {
	err := s.Atomically(ctx, func(tx Tx) error {
		return tx.Credit(ctx, id, amount, ledger.Ref{Reason: ledger.ReasonDeposit})
	})
	if err != nil {
		return User{}, err
	}
	return s.GetUser(ctx, id)
}

func (s *Memory) LedgerEntries(ctx context.Context, matchID string) ([]LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []LedgerEntry
	for _, e := range s.state.entries {
		if e.MatchID == matchID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Memory) Load(ctx context.Context, id string) (match.Match, error) {
	if err := ctx.Err(); err != nil {
		return match.Match{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.state.matches[id]
	if !ok {
		return match.Match{}, ErrNotFound
	}
	return m, nil
}

func (s *Memory) Atomically(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{store: s, state: s.state.clone()}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.state = tx.state
	return nil
}

func (s *Memory) FindByParticipant(ctx context.Context, userID string) iter.Seq2[match.Match, error] {
	return func(yield func(match.Match, error) bool) {
		s.mu.RLock()
		var found []match.Match
		for _, m := range s.state.matches {
			if m.CreatorID == userID || m.OpponentID == userID {
				found = append(found, m)
			}
		}
		s.mu.RUnlock()

		slices.SortFunc(found, newestFirst)
		for _, m := range found {
			if err := ctx.Err(); err != nil {
				yield(match.Match{}, err)
				return
			}
			if !yield(m, nil) {
				return
			}
		}
	}
}

func (s *Memory) FindStaleWaiting(ctx context.Context, before time.Time, limit int) ([]match.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []match.Match
	for _, m := range s.state.matches {
		if m.Status == match.StatusWaiting && m.CreatedAt.Before(before) {
			out = append(out, m)
		}
	}
	slices.SortFunc(out, func(a, b match.Match) int {
		return -newestFirst(a, b)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func newestFirst(a, b match.Match) int {
	if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
		return c
	}
	switch {
	case a.ID > b.ID:
		return -1
	case a.ID < b.ID:
		return 1
	}
	return 0
}

// memTx runs with Memory.mu held and must not lock it again.
type memTx struct {
	store *Memory
	state memState
}

func (t *memTx) Debit(ctx context.Context, userID string, amount int64, ref ledger.Ref) error {
	if err := ledger.CheckAmount(amount); err != nil {
		return err
	}
	u, ok := t.state.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	if u.Balance < amount {
		return ledger.ErrInsufficientFunds
	}
	u.Balance -= amount
	t.state.users[userID] = u
	t.appendEntry(userID, amount, ledger.DirectionDebit, ref)
	return nil
}

func (t *memTx) Credit(ctx context.Context, userID string, amount int64, ref ledger.Ref) error {
	if err := ledger.CheckAmount(amount); err != nil {
		return err
	}
	u, ok := t.state.users[userID]
	if !ok {
		return ErrUserNotFound
	}
	if amount > math.MaxInt64-u.Balance {
		return ledger.ErrBalanceOverflow
	}
	u.Balance += amount
	t.state.users[userID] = u
	t.appendEntry(userID, amount, ledger.DirectionCredit, ref)
	return nil
}

func (t *memTx) Insert(ctx context.Context, m match.Match) error {
	if _, ok := t.state.users[m.CreatorID]; !ok {
		return ErrUserNotFound
	}
	if _, ok := t.state.matches[m.ID]; ok {
		return fmt.Errorf("match %s already exists", m.ID)
	}
	t.state.matches[m.ID] = m
	return nil
}

func (t *memTx) Save(ctx context.Context, m match.Match, expectedVersion int64) error {
	cur, ok := t.state.matches[m.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != expectedVersion {
		return fmt.Errorf("%w: match %s is no longer at version %d", ErrVersionConflict, m.ID, expectedVersion)
	}
	m.Version = expectedVersion + 1
	m.CreatedAt = cur.CreatedAt
	m.Stake = cur.Stake
	t.state.matches[m.ID] = m
	return nil
}

func (t *memTx) appendEntry(userID string, amount int64, direction string, ref ledger.Ref) {
	t.store.nextID++
	t.state.entries = append(t.state.entries, LedgerEntry{
		ID:        t.store.nextID,
		UserID:    userID,
		MatchID:   ref.MatchID,
		Amount:    amount,
		Direction: direction,
		Reason:    ref.Reason,
		CreatedAt: t.store.nowFunc().UTC(),
	})
}
