package store_test

import (
	"context"
	"errors"
	"iter"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rps.hh/internal/ledger"
	"rps.hh/internal/match"
	"rps.hh/internal/store"
)

// backend is the surface shared by Store and Memory.
type backend interface {
	CreateUser(ctx context.Context, id string, balance int64) (store.User, error)
	GetUser(ctx context.Context, id string) (store.User, error)
	Deposit(ctx context.Context, id string, amount int64) (store.User, error)
	LedgerEntries(ctx context.Context, matchID string) ([]store.LedgerEntry, error)
	Load(ctx context.Context, id string) (match.Match, error)
	Atomically(ctx context.Context, fn func(store.Tx) error) error
	FindByParticipant(ctx context.Context, userID string) iter.Seq2[match.Match, error]
	FindStaleWaiting(ctx context.Context, before time.Time, limit int) ([]match.Match, error)
}

var (
	_ backend = (*store.Store)(nil)
	_ backend = (*store.Memory)(nil)
)

var base = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func runContract(t *testing.T, open func(t *testing.T) backend) {
	t.Run("users", func(t *testing.T) { testUsers(t, open(t)) })
	t.Run("debit is conditional", func(t *testing.T) { testDebit(t, open(t)) })
	t.Run("credit cannot overflow", func(t *testing.T) { testCreditOverflow(t, open(t)) })
	t.Run("concurrent debits never overdraw", func(t *testing.T) { testConcurrentDebits(t, open(t)) })
	t.Run("failed transaction rolls back", func(t *testing.T) { testRollback(t, open(t)) })
	t.Run("save compares versions", func(t *testing.T) { testSaveCAS(t, open(t)) })
	t.Run("participant listing", func(t *testing.T) { testFindByParticipant(t, open(t)) })
	t.Run("stale waiting", func(t *testing.T) { testFindStaleWaiting(t, open(t)) })
}

func insertMatch(t *testing.T, b backend, creatorID string, createdAt time.Time) match.Match {
	t.Helper()
	m, err := match.New(uuid.NewString(), creatorID, 10, createdAt)
	require.NoError(t, err)
	require.NoError(t, b.Atomically(context.Background(), func(tx store.Tx) error {
		return tx.Insert(context.Background(), m)
	}))
	return m
}

func testUsers(t *testing.T, b backend) {
	ctx := context.Background()

	u, err := b.CreateUser(ctx, "alice", 100)
	require.NoError(t, err)
	assert.Equal(t, int64(100), u.Balance)

	_, err = b.CreateUser(ctx, "alice", 5)
	assert.ErrorIs(t, err, store.ErrUserExists)

	_, err = b.GetUser(ctx, "nobody")
	assert.ErrorIs(t, err, store.ErrUserNotFound)

	u, err = b.Deposit(ctx, "alice", 50)
	require.NoError(t, err)
	assert.Equal(t, int64(150), u.Balance)

	_, err = b.Deposit(ctx, "alice", 0)
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	_, err = b.Deposit(ctx, "nobody", 10)
	assert.ErrorIs(t, err, store.ErrUserNotFound)
}

func testDebit(t *testing.T, b backend) {
	ctx := context.Background()
	_, err := b.CreateUser(ctx, "alice", 100)
	require.NoError(t, err)

	debit := func(amount int64) error {
		return b.Atomically(ctx, func(tx store.Tx) error {
			return tx.Debit(ctx, "alice", amount, ledger.Ref{Reason: ledger.ReasonStake})
		})
	}

	assert.ErrorIs(t, debit(-1), ledger.ErrInvalidAmount)
	assert.ErrorIs(t, debit(101), ledger.ErrInsufficientFunds)
	require.NoError(t, debit(100))
	assert.ErrorIs(t, debit(1), ledger.ErrInsufficientFunds)

	u, err := b.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(0), u.Balance)

	err = b.Atomically(ctx, func(tx store.Tx) error {
		return tx.Debit(ctx, "nobody", 1, ledger.Ref{Reason: ledger.ReasonStake})
	})
	assert.ErrorIs(t, err, store.ErrUserNotFound)
}

func testCreditOverflow(t *testing.T, b backend) {
	ctx := context.Background()
	_, err := b.CreateUser(ctx, "carol", math.MaxInt64)
	require.NoError(t, err)

	_, err = b.Deposit(ctx, "carol", 1)
	assert.ErrorIs(t, err, ledger.ErrBalanceOverflow)

	u, err := b.GetUser(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), u.Balance)
}

func testConcurrentDebits(t *testing.T, b backend) {
	ctx := context.Background()
	_, err := b.CreateUser(ctx, "alice", 100)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var ok, insufficient atomic.Int64
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := b.Atomically(ctx, func(tx store.Tx) error {
				return tx.Debit(ctx, "alice", 30, ledger.Ref{Reason: ledger.ReasonStake})
			})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ledger.ErrInsufficientFunds):
				insufficient.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(3), ok.Load())
	assert.Equal(t, int64(7), insufficient.Load())

	u, err := b.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(10), u.Balance)
}

func testRollback(t *testing.T, b backend) {
	ctx := context.Background()
	_, err := b.CreateUser(ctx, "alice", 100)
	require.NoError(t, err)
	m, err := match.New(uuid.NewString(), "alice", 40, base)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = b.Atomically(ctx, func(tx store.Tx) error {
		if err := tx.Insert(ctx, m); err != nil {
			return err
		}
		if err := tx.Debit(ctx, "alice", 40, ledger.Ref{MatchID: m.ID, Reason: ledger.ReasonStake}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	u, err := b.GetUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(100), u.Balance)

	_, err = b.Load(ctx, m.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	entries, err := b.LedgerEntries(ctx, m.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func testSaveCAS(t *testing.T, b backend) {
	ctx := context.Background()
	for _, id := range []string{"alice", "bob"} {
		_, err := b.CreateUser(ctx, id, 100)
		require.NoError(t, err)
	}
	m := insertMatch(t, b, "alice", base)

	joined, err := m.Join("bob", base.Add(time.Second))
	require.NoError(t, err)

	save := func(next match.Match, expected int64) error {
		return b.Atomically(ctx, func(tx store.Tx) error {
			return tx.Save(ctx, next, expected)
		})
	}

	require.NoError(t, save(joined, m.Version))
	assert.ErrorIs(t, save(joined, m.Version), store.ErrVersionConflict)

	got, err := b.Load(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, "bob", got.OpponentID)
	assert.Equal(t, match.StatusInProgress, got.Status)

	missing := joined
	missing.ID = uuid.NewString()
	assert.ErrorIs(t, save(missing, 0), store.ErrNotFound)

	_, err = b.Load(ctx, uuid.NewString())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testFindByParticipant(t *testing.T, b backend) {
	ctx := context.Background()
	for _, id := range []string{"alice", "bob"} {
		_, err := b.CreateUser(ctx, id, 100)
		require.NoError(t, err)
	}
	oldest := insertMatch(t, b, "alice", base)
	middle := insertMatch(t, b, "bob", base.Add(time.Minute))
	newest := insertMatch(t, b, "alice", base.Add(2*time.Minute))

	joined, err := middle.Join("alice", base.Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, b.Atomically(ctx, func(tx store.Tx) error {
		return tx.Save(ctx, joined, middle.Version)
	}))

	collect := func(seq iter.Seq2[match.Match, error]) []string {
		var ids []string
		for m, err := range seq {
			require.NoError(t, err)
			ids = append(ids, m.ID)
		}
		return ids
	}

	seq := b.FindByParticipant(ctx, "alice")
	want := []string{newest.ID, middle.ID, oldest.ID}
	assert.Equal(t, want, collect(seq))
	assert.Equal(t, want, collect(seq), "sequence must be restartable")

	for m, err := range seq {
		require.NoError(t, err)
		assert.Equal(t, newest.ID, m.ID)
		break
	}

	assert.Equal(t, []string{middle.ID}, collect(b.FindByParticipant(ctx, "bob")))
	assert.Empty(t, collect(b.FindByParticipant(ctx, "carol")))
}

func testFindStaleWaiting(t *testing.T, b backend) {
	ctx := context.Background()
	for _, id := range []string{"alice", "bob"} {
		_, err := b.CreateUser(ctx, id, 100)
		require.NoError(t, err)
	}
	stale1 := insertMatch(t, b, "alice", base)
	stale2 := insertMatch(t, b, "alice", base.Add(time.Minute))
	insertMatch(t, b, "alice", base.Add(time.Hour))
	joinedOld := insertMatch(t, b, "alice", base.Add(-time.Hour))

	joined, err := joinedOld.Join("bob", base)
	require.NoError(t, err)
	require.NoError(t, b.Atomically(ctx, func(tx store.Tx) error {
		return tx.Save(ctx, joined, joinedOld.Version)
	}))

	found, err := b.FindStaleWaiting(ctx, base.Add(30*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, stale1.ID, found[0].ID)
	assert.Equal(t, stale2.ID, found[1].ID)

	found, err = b.FindStaleWaiting(ctx, base.Add(30*time.Minute), 1)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, stale1.ID, found[0].ID)
}
