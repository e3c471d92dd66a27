package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/efisher/reviewflow/internal/domain/model"
	"github.com/efisher/reviewflow/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.IdempotencyLedger = (*LedgerRepo)(nil)

// LedgerRepo is the SQLite implementation of the IdempotencyLedger port.
// The conditional insert in Begin runs on the single-connection writer, so at
// most one caller acquires any given key. Expired records are purged lazily
// on access rather than by a background sweep.
type LedgerRepo struct {
	db  *DB
	ttl time.Duration
}

// NewLedgerRepo creates a LedgerRepo whose records expire after ttl.
func NewLedgerRepo(db *DB, ttl time.Duration) *LedgerRepo {
	return &LedgerRepo{db: db, ttl: ttl}
}

// Begin atomically creates a pending record for the key if no live record
// exists. Expired records, whatever their state, and failed records are
// removed first: expiry is the crash backstop, and a failed record must not
// block the queue's redelivery retries.
func (r *LedgerRepo) Begin(ctx context.Context, key string) (bool, model.LedgerState, error) {
	now := time.Now()

	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return false, "", fmt.Errorf("begin ledger tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const purgeQuery = `DELETE FROM idempotency_ledger WHERE key = ? AND (expires_at <= ? OR state = 'failed')`
	if _, err := tx.ExecContext(ctx, purgeQuery, key, formatTime(now)); err != nil {
		return false, "", fmt.Errorf("purge expired ledger record: %w", err)
	}

	const insertQuery = `
		INSERT INTO idempotency_ledger (key, state, created_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO NOTHING
	`
	res, err := tx.ExecContext(ctx, insertQuery,
		key, string(model.LedgerPending), formatTime(now), formatTime(now.Add(r.ttl)))
	if err != nil {
		return false, "", fmt.Errorf("create ledger record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, "", fmt.Errorf("ledger rows affected: %w", err)
	}

	acquired := affected == 1
	state := model.LedgerPending
	if !acquired {
		const selectQuery = `SELECT state FROM idempotency_ledger WHERE key = ?`
		var s string
		if err := tx.QueryRowContext(ctx, selectQuery, key).Scan(&s); err != nil {
			return false, "", fmt.Errorf("read existing ledger state: %w", err)
		}
		state = model.LedgerState(s)
	}

	if err := tx.Commit(); err != nil {
		return false, "", fmt.Errorf("commit ledger tx: %w", err)
	}
	return acquired, state, nil
}

// Complete transitions a pending record to the given outcome. Records in any
// other state are left untouched.
func (r *LedgerRepo) Complete(ctx context.Context, key string, outcome model.LedgerState) error {
	if outcome != model.LedgerDone && outcome != model.LedgerFailed {
		return fmt.Errorf("invalid ledger outcome %q", outcome)
	}

	const query = `UPDATE idempotency_ledger SET state = ? WHERE key = ? AND state = ?`
	_, err := r.db.Writer.ExecContext(ctx, query, string(outcome), key, string(model.LedgerPending))
	if err != nil {
		return fmt.Errorf("complete ledger record: %w", err)
	}
	return nil
}

// Get reports the state of a key, treating expired records as absent.
func (r *LedgerRepo) Get(ctx context.Context, key string) (model.LedgerState, bool, error) {
	const query = `SELECT state FROM idempotency_ledger WHERE key = ? AND expires_at > ?`
	var s string
	err := r.db.Reader.QueryRowContext(ctx, query, key, formatTime(time.Now())).Scan(&s)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read ledger state: %w", err)
	}
	return model.LedgerState(s), true, nil
}
