package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/efisher/reviewflow/internal/domain/model"
	"github.com/efisher/reviewflow/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ResultStore = (*ResultRepo)(nil)

// ResultRepo is the SQLite implementation of the ResultStore port. Inline
// comments and the not-reviewed file list are stored as JSON columns; the
// per-finding placement decisions are transient and not persisted.
type ResultRepo struct {
	db *DB
}

// NewResultRepo creates a ResultRepo.
func NewResultRepo(db *DB) *ResultRepo {
	return &ResultRepo{db: db}
}

// Save persists a review result, replacing any earlier row for the same
// idempotency key.
func (r *ResultRepo) Save(ctx context.Context, result model.ReviewResult) error {
	comments, err := json.Marshal(result.InlineComments)
	if err != nil {
		return fmt.Errorf("marshal inline comments: %w", err)
	}
	notReviewed, err := json.Marshal(result.NotReviewed)
	if err != nil {
		return fmt.Errorf("marshal not-reviewed list: %w", err)
	}

	createdAt := result.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	const query = `
		INSERT INTO review_results
			(idempotency_key, repo_full_name, pr_number, head_sha,
			 mode_used, degraded, summary, inline_comments, unmapped_count,
			 not_reviewed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(idempotency_key) DO UPDATE SET
			repo_full_name = excluded.repo_full_name,
			pr_number = excluded.pr_number,
			head_sha = excluded.head_sha,
			mode_used = excluded.mode_used,
			degraded = excluded.degraded,
			summary = excluded.summary,
			inline_comments = excluded.inline_comments,
			unmapped_count = excluded.unmapped_count,
			not_reviewed = excluded.not_reviewed,
			created_at = excluded.created_at
	`
	_, err = r.db.Writer.ExecContext(ctx, query,
		result.IdempotencyKey,
		result.Repo,
		result.PRNumber,
		result.HeadSHA,
		string(result.ModeUsed),
		boolToInt(result.Degraded),
		result.SummaryText,
		string(comments),
		result.UnmappedCount,
		string(notReviewed),
		formatTime(createdAt),
	)
	if err != nil {
		return fmt.Errorf("save review result: %w", err)
	}
	return nil
}

// GetByKey retrieves a result by idempotency key, or nil when absent.
func (r *ResultRepo) GetByKey(ctx context.Context, key string) (*model.ReviewResult, error) {
	const query = selectResultColumns + ` WHERE idempotency_key = ?`
	row := r.db.Reader.QueryRowContext(ctx, query, key)

	result, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetByPR returns all stored results for a pull request, newest first.
func (r *ResultRepo) GetByPR(ctx context.Context, repo string, prNumber int) ([]model.ReviewResult, error) {
	const query = selectResultColumns + `
		WHERE repo_full_name = ? AND pr_number = ?
		ORDER BY created_at DESC, id
	`
	rows, err := r.db.Reader.QueryContext(ctx, query, repo, prNumber)
	if err != nil {
		return nil, fmt.Errorf("list review results: %w", err)
	}
	defer rows.Close()

	var results []model.ReviewResult
	for rows.Next() {
		result, err := scanResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate review results: %w", err)
	}
	return results, nil
}

const selectResultColumns = `
	SELECT idempotency_key, repo_full_name, pr_number, head_sha,
	       mode_used, degraded, summary, inline_comments, unmapped_count,
	       not_reviewed, created_at
	FROM review_results
`

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanResult(row rowScanner) (*model.ReviewResult, error) {
	var (
		result      model.ReviewResult
		mode        string
		degraded    int
		comments    string
		notReviewed string
		createdAt   string
	)
	err := row.Scan(
		&result.IdempotencyKey,
		&result.Repo,
		&result.PRNumber,
		&result.HeadSHA,
		&mode,
		&degraded,
		&result.SummaryText,
		&comments,
		&result.UnmappedCount,
		&notReviewed,
		&createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan review result: %w", err)
	}

	result.ModeUsed = model.CommentMode(mode)
	result.Degraded = degraded != 0
	if err := json.Unmarshal([]byte(comments), &result.InlineComments); err != nil {
		return nil, fmt.Errorf("unmarshal inline comments: %w", err)
	}
	if err := json.Unmarshal([]byte(notReviewed), &result.NotReviewed); err != nil {
		return nil, fmt.Errorf("unmarshal not-reviewed list: %w", err)
	}
	result.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	return &result, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
