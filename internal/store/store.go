package store

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"rps.hh/internal/ledger"
	"rps.hh/internal/match"
)

// Store persists matches, balances and ledger entries in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const matchColumns = `
    id::text, creator_id, COALESCE(opponent_id, ''), stake,
    COALESCE(creator_move, ''), COALESCE(opponent_move, ''),
    status, COALESCE(winner_id, ''), version, created_at, updated_at`

func (s *Store) CreateUser(ctx context.Context, id string, balance int64) (User, error) {
	var u User
	err := s.pool.QueryRow(ctx, `
        INSERT INTO users (id, balance)
        VALUES ($1, $2)
        RETURNING id, balance, created_at
    `, id, balance).Scan(
		&u.ID,
		&u.Balance,
		&u.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, ErrUserExists
		}
		return User{}, err
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (User, error) {
	var u User
	err := s.pool.QueryRow(ctx, `
        SELECT id, balance, created_at
        FROM users
        WHERE id = $1
    `, id).Scan(&u.ID, &u.Balance, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, err
	}
	return u, nil
}

// Deposit credits amount to the user outside of any match.
func (s *Store) Deposit(ctx context.Context, id string, amount int64) (User, error) {
	err := s.Atomically(ctx, func(tx Tx) error {
		return tx.Credit(ctx, id, amount, ledger.Ref{Reason: ledger.ReasonDeposit})
	})
	if err != nil {
		return User{}, err
	}
	return s.GetUser(ctx, id)
}

// LedgerEntries returns the entries written for a match in insertion order.
func (s *Store) LedgerEntries(ctx context.Context, matchID string) ([]LedgerEntry, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT id, user_id, COALESCE(match_id::text, ''), amount, direction, reason, created_at
        FROM ledger_entries
        WHERE match_id = $1
        ORDER BY id
    `, matchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		var reason string
		if err := rows.Scan(&e.ID, &e.UserID, &e.MatchID, &e.Amount, &e.Direction, &reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Reason = ledger.Reason(reason)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) Load(ctx context.Context, id string) (match.Match, error) {
	if _, err := uuid.Parse(id); err != nil {
		return match.Match{}, ErrNotFound
	}
	m, err := scanMatch(s.pool.QueryRow(ctx, `SELECT `+matchColumns+` FROM matches WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return match.Match{}, ErrNotFound
		}
		return match.Match{}, err
	}
	return m, nil
}

// Atomically runs fn inside one database transaction. Any error from fn
// rolls back every write made through the Tx.
func (s *Store) Atomically(ctx context.Context, fn func(Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return retryable(err)
	}
	return retryable(tx.Commit(ctx))
}

// retryable reports deadlocks and serialization failures as version
// conflicts so callers restart from a fresh load.
func retryable(err error) error {
	if hasCode(err, "40P01") || hasCode(err, "40001") {
		return fmt.Errorf("%w: %w", ErrVersionConflict, err)
	}
	return err
}

// FindByParticipant streams the user's matches, newest first. Each range
// over the sequence runs a fresh query; stopping early releases the rows.
func (s *Store) FindByParticipant(ctx context.Context, userID string) iter.Seq2[match.Match, error] {
	return func(yield func(match.Match, error) bool) {
		rows, err := s.pool.Query(ctx, `
            SELECT `+matchColumns+`
            FROM matches
            WHERE creator_id = $1 OR opponent_id = $1
            ORDER BY created_at DESC, id DESC
        `, userID)
		if err != nil {
			yield(match.Match{}, err)
			return
		}
		defer rows.Close()

		for rows.Next() {
			m, err := scanMatch(rows)
			if !yield(m, err) || err != nil {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(match.Match{}, err)
		}
	}
}

func (s *Store) FindStaleWaiting(ctx context.Context, before time.Time, limit int) ([]match.Match, error) {
	rows, err := s.pool.Query(ctx, `
        SELECT `+matchColumns+`
        FROM matches
        WHERE status = $1 AND created_at < $2
        ORDER BY created_at
        LIMIT $3
    `, string(match.StatusWaiting), before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []match.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMatch(row pgx.Row) (match.Match, error) {
	var m match.Match
	var creatorMove, opponentMove, status string
	err := row.Scan(
		&m.ID,
		&m.CreatorID,
		&m.OpponentID,
		&m.Stake,
		&creatorMove,
		&opponentMove,
		&status,
		&m.WinnerID,
		&m.Version,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return match.Match{}, err
	}
	m.CreatorMove = match.Move(creatorMove)
	m.OpponentMove = match.Move(opponentMove)
	m.Status = match.Status(status)
	return m, nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Debit(ctx context.Context, userID string, amount int64, ref ledger.Ref) error {
	if err := ledger.CheckAmount(amount); err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `
        UPDATE users SET balance = balance - $1
        WHERE id = $2 AND balance >= $1
    `, amount, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		exists, err := t.userExists(ctx, userID)
		if err != nil {
			return err
		}
		if !exists {
			return ErrUserNotFound
		}
		return ledger.ErrInsufficientFunds
	}
	return t.insertLedgerEntry(ctx, userID, amount, ledger.DirectionDebit, ref)
}

func (t *pgTx) Credit(ctx context.Context, userID string, amount int64, ref ledger.Ref) error {
	if err := ledger.CheckAmount(amount); err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, "UPDATE users SET balance = balance + $1 WHERE id = $2", amount, userID)
	if err != nil {
		if isNumericOverflow(err) {
			return ledger.ErrBalanceOverflow
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return t.insertLedgerEntry(ctx, userID, amount, ledger.DirectionCredit, ref)
}

func (t *pgTx) Insert(ctx context.Context, m match.Match) error {
	_, err := t.tx.Exec(ctx, `
        INSERT INTO matches (id, creator_id, opponent_id, stake, creator_move, opponent_move,
                             status, winner_id, version, created_at, updated_at)
        VALUES ($1, $2, NULLIF($3, ''), $4, NULLIF($5, ''), NULLIF($6, ''),
                $7, NULLIF($8, ''), $9, $10, $11)
    `,
		m.ID,
		m.CreatorID,
		m.OpponentID,
		m.Stake,
		string(m.CreatorMove),
		string(m.OpponentMove),
		string(m.Status),
		m.WinnerID,
		m.Version,
		m.CreatedAt,
		m.UpdatedAt,
	)
	if isForeignKeyViolation(err) {
		return ErrUserNotFound
	}
	return err
}

func (t *pgTx) Save(ctx context.Context, m match.Match, expectedVersion int64) error {
	tag, err := t.tx.Exec(ctx, `
        UPDATE matches
        SET opponent_id = NULLIF($3, ''),
            creator_move = NULLIF($4, ''),
            opponent_move = NULLIF($5, ''),
            status = $6,
            winner_id = NULLIF($7, ''),
            version = version + 1,
            updated_at = $8
        WHERE id = $1 AND version = $2
    `,
		m.ID,
		expectedVersion,
		m.OpponentID,
		string(m.CreatorMove),
		string(m.OpponentMove),
		string(m.Status),
		m.WinnerID,
		m.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := t.tx.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM matches WHERE id = $1)", m.ID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return fmt.Errorf("%w: match %s is no longer at version %d", ErrVersionConflict, m.ID, expectedVersion)
}

func (t *pgTx) userExists(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)", userID).Scan(&exists)
	return exists, err
}

func (t *pgTx) insertLedgerEntry(ctx context.Context, userID string, amount int64, direction string, ref ledger.Ref) error {
	_, err := t.tx.Exec(ctx, `
        INSERT INTO ledger_entries (user_id, match_id, amount, direction, reason)
        VALUES ($1, NULLIF($2, '')::uuid, $3, $4, $5)
    `, userID, ref.MatchID, amount, direction, string(ref.Reason))
	return err
}

func isUniqueViolation(err error) bool {
	return hasCode(err, "23505")
}

func isForeignKeyViolation(err error) bool {
	return hasCode(err, "23503")
}

func isNumericOverflow(err error) bool {
	return hasCode(err, "22003")
}

func hasCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == code
}
