package driven

import (
	"context"

	"github.com/efisher/reviewflow/internal/domain/model"
)

// IdempotencyLedger defines the driven port for exactly-once processing state.
//
// The queue delivers at least once; the ledger's conditional create is the
// single synchronization point that collapses redeliveries of the same key
// into one processed review. Records expire by TTL so a key stuck in pending
// (worker crash mid-processing) eventually becomes reprocessable.
type IdempotencyLedger interface {
	// Begin atomically creates a pending record for the key if absent. Failed
	// and expired records are reacquirable so queue redeliveries can retry;
	// done records block until their TTL. acquired=false means another worker
	// holds the key or an earlier attempt already finished it; state reports
	// the existing record's state.
	Begin(ctx context.Context, key string) (acquired bool, state model.LedgerState, err error)

	// Complete transitions a pending record to done or failed. Completing a
	// key that is not pending is a no-op.
	Complete(ctx context.Context, key string, outcome model.LedgerState) error

	// Get reports the current state of a key. found=false when no live
	// (unexpired) record exists.
	Get(ctx context.Context, key string) (state model.LedgerState, found bool, err error)
}
