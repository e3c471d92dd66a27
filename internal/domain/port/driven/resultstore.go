package driven

import (
	"context"

	"github.com/efisher/reviewflow/internal/domain/model"
)

// ResultStore defines the driven port for review result persistence.
type ResultStore interface {
	// Save persists a published (or dry-run) review result. Saving the same
	// idempotency key twice replaces the earlier row.
	Save(ctx context.Context, result model.ReviewResult) error

	// GetByKey retrieves a result by idempotency key.
	// Returns nil, nil if no result exists for that key.
	GetByKey(ctx context.Context, key string) (*model.ReviewResult, error)

	// GetByPR returns all stored results for a pull request, newest first.
	GetByPR(ctx context.Context, repo string, prNumber int) ([]model.ReviewResult, error)
}
