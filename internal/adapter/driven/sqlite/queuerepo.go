package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/efisher/reviewflow/internal/domain/port/driven"
)

// Compile-time interface satisfaction checks.
var (
	_ driven.WorkQueue       = (*QueueRepo)(nil)
	_ driven.DeadLetterStore = (*QueueRepo)(nil)
)

// maxBackoff caps exponential redelivery backoff.
const maxBackoff = time.Hour

// QueueRepo is the SQLite implementation of the WorkQueue and DeadLetterStore
// ports. It provides at-least-once delivery with a visibility timeout:
// received rows stay invisible for the lease duration and reappear if neither
// acked nor dead-lettered. All mutations go through the single-connection
// writer, which serializes competing receivers.
type QueueRepo struct {
	db          *DB
	maxReceive  int           // Deliveries allowed before dead-lettering.
	backoffBase time.Duration // First redelivery delay; doubles per attempt.
}

// NewQueueRepo creates a QueueRepo. maxReceive bounds deliveries per message;
// backoffBase is the initial redelivery delay after a failure.
func NewQueueRepo(db *DB, maxReceive int, backoffBase time.Duration) *QueueRepo {
	return &QueueRepo{db: db, maxReceive: maxReceive, backoffBase: backoffBase}
}

// Enqueue appends a message to the named queue, immediately visible.
func (r *QueueRepo) Enqueue(ctx context.Context, queue string, msg driven.QueueMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal queue message: %w", err)
	}

	now := formatTime(time.Now())
	const query = `
		INSERT INTO work_queue (id, queue, payload, enqueued_at, visible_at, receive_count)
		VALUES (?, ?, ?, ?, ?, 0)
	`
	_, err = r.db.Writer.ExecContext(ctx, query, uuid.NewString(), queue, string(payload), now, now)
	if err != nil {
		return fmt.Errorf("enqueue to %q: %w", queue, err)
	}
	return nil
}

// Receive leases up to max visible messages. Each returned delivery is
// invisible to other receivers until its lease expires.
func (r *QueueRepo) Receive(ctx context.Context, queue string, max int, lease time.Duration) ([]driven.Delivery, error) {
	now := time.Now()

	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin receive tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const selectQuery = `
		SELECT id, payload, receive_count
		FROM work_queue
		WHERE queue = ? AND visible_at <= ?
		ORDER BY rowid
		LIMIT ?
	`
	rows, err := tx.QueryContext(ctx, selectQuery, queue, formatTime(now), max)
	if err != nil {
		return nil, fmt.Errorf("select ready messages: %w", err)
	}

	type leased struct {
		id           string
		payload      string
		receiveCount int
	}
	var candidates []leased
	for rows.Next() {
		var c leased
		if err := rows.Scan(&c.id, &c.payload, &c.receiveCount); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan queue row: %w", err)
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterate queue rows: %w", err)
	}
	_ = rows.Close()

	deliveries := make([]driven.Delivery, 0, len(candidates))
	visibleAt := formatTime(now.Add(lease))
	for _, c := range candidates {
		const leaseQuery = `UPDATE work_queue SET visible_at = ?, receive_count = receive_count + 1 WHERE id = ?`
		if _, err := tx.ExecContext(ctx, leaseQuery, visibleAt, c.id); err != nil {
			return nil, fmt.Errorf("lease message %s: %w", c.id, err)
		}

		var msg driven.QueueMessage
		if err := json.Unmarshal([]byte(c.payload), &msg); err != nil {
			return nil, fmt.Errorf("unmarshal message %s: %w", c.id, err)
		}

		deliveries = append(deliveries, driven.Delivery{
			ID:           c.id,
			Message:      msg,
			ReceiveCount: c.receiveCount + 1,
		})
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit receive tx: %w", err)
	}
	return deliveries, nil
}

// Extend pushes an in-flight delivery's visibility deadline forward.
func (r *QueueRepo) Extend(ctx context.Context, id string, lease time.Duration) error {
	const query = `UPDATE work_queue SET visible_at = ? WHERE id = ?`
	_, err := r.db.Writer.ExecContext(ctx, query, formatTime(time.Now().Add(lease)), id)
	if err != nil {
		return fmt.Errorf("extend lease %s: %w", id, err)
	}
	return nil
}

// Ack removes a processed delivery.
func (r *QueueRepo) Ack(ctx context.Context, id string) error {
	const query = `DELETE FROM work_queue WHERE id = ?`
	_, err := r.db.Writer.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("ack %s: %w", id, err)
	}
	return nil
}

// Fail schedules redelivery with exponential backoff, or moves the message to
// the dead-letter table once the receive bound is exhausted. Failing an id
// that no longer exists is a no-op.
func (r *QueueRepo) Fail(ctx context.Context, id string, reason string) error {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin fail tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const selectQuery = `SELECT queue, payload, receive_count FROM work_queue WHERE id = ?`
	var (
		queue        string
		payload      string
		receiveCount int
	)
	err = tx.QueryRowContext(ctx, selectQuery, id).Scan(&queue, &payload, &receiveCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load failed message %s: %w", id, err)
	}

	if receiveCount >= r.maxReceive {
		const deadLetterQuery = `
			INSERT INTO dead_letters (id, queue, payload, reason, receive_count, failed_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`
		if _, err := tx.ExecContext(ctx, deadLetterQuery, id, queue, payload, reason, receiveCount, formatTime(time.Now())); err != nil {
			return fmt.Errorf("dead-letter %s: %w", id, err)
		}
		const deleteQuery = `DELETE FROM work_queue WHERE id = ?`
		if _, err := tx.ExecContext(ctx, deleteQuery, id); err != nil {
			return fmt.Errorf("remove dead-lettered %s: %w", id, err)
		}
	} else {
		const retryQuery = `UPDATE work_queue SET visible_at = ? WHERE id = ?`
		visibleAt := formatTime(time.Now().Add(r.backoff(receiveCount)))
		if _, err := tx.ExecContext(ctx, retryQuery, visibleAt, id); err != nil {
			return fmt.Errorf("schedule retry %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit fail tx: %w", err)
	}
	return nil
}

// ListDeadLetters returns all dead-lettered messages, newest first.
func (r *QueueRepo) ListDeadLetters(ctx context.Context) ([]driven.DeadLetter, error) {
	const query = `
		SELECT id, queue, payload, reason, receive_count, failed_at
		FROM dead_letters
		ORDER BY failed_at DESC, id
	`
	rows, err := r.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var letters []driven.DeadLetter
	for rows.Next() {
		var (
			dl       driven.DeadLetter
			payload  string
			failedAt string
		)
		if err := rows.Scan(&dl.ID, &dl.Queue, &payload, &dl.Reason, &dl.ReceiveCount, &failedAt); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &dl.Message); err != nil {
			return nil, fmt.Errorf("unmarshal dead letter %s: %w", dl.ID, err)
		}
		dl.FailedAt, err = parseTime(failedAt)
		if err != nil {
			return nil, fmt.Errorf("parse failed_at for %s: %w", dl.ID, err)
		}
		letters = append(letters, dl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dead letters: %w", err)
	}
	return letters, nil
}

// backoff computes the redelivery delay after the given receive count,
// doubling per attempt up to maxBackoff.
func (r *QueueRepo) backoff(receiveCount int) time.Duration {
	d := r.backoffBase
	for i := 1; i < receiveCount; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}
