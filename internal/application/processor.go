package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/efisher/reviewflow/internal/diffmap"
	"github.com/efisher/reviewflow/internal/domain/model"
	"github.com/efisher/reviewflow/internal/domain/port/driven"
	"github.com/efisher/reviewflow/internal/placement"
)

// ErrAlreadyProcessed marks a redelivery of an event whose review already
// completed. The worker acknowledges these instead of retrying.
var ErrAlreadyProcessed = errors.New("event already processed")

// errInFlight marks a redelivery that raced a worker still holding the key.
var errInFlight = errors.New("event processing in flight")

// Processor executes one review event end to end: ledger acquisition, model
// orchestration, placement, and publishing. Process is safe to call for the
// same message from multiple workers; the ledger serializes them.
type Processor struct {
	ledger       driven.IdempotencyLedger
	reader       driven.PullRequestReader
	orchestrator *Orchestrator
	publish      *PublishService
	mode         model.CommentMode
}

// NewProcessor creates a Processor that places comments in the given mode.
func NewProcessor(
	ledger driven.IdempotencyLedger,
	reader driven.PullRequestReader,
	orchestrator *Orchestrator,
	publish *PublishService,
	mode model.CommentMode,
) *Processor {
	return &Processor{
		ledger:       ledger,
		reader:       reader,
		orchestrator: orchestrator,
		publish:      publish,
		mode:         mode,
	}
}

// Process handles one queue message. A nil return or ErrAlreadyProcessed
// means the delivery can be acknowledged; any other error asks the queue to
// redeliver with backoff.
func (p *Processor) Process(ctx context.Context, msg driven.QueueMessage) error {
	acquired, state, err := p.ledger.Begin(ctx, msg.IdempotencyKey)
	if err != nil {
		return fmt.Errorf("acquire ledger key: %w", err)
	}
	if !acquired {
		if state == model.LedgerDone {
			slog.Info("skipping already processed event",
				"repo", msg.Repo, "pr_number", msg.PRNumber, "head_sha", msg.HeadSHA)
			return ErrAlreadyProcessed
		}
		return fmt.Errorf("%w: %s#%d@%s", errInFlight, msg.Repo, msg.PRNumber, msg.HeadSHA)
	}

	// ctx may already be past its processing deadline when review returns.
	// The ledger transition and the error status must still land, otherwise
	// the record stays pending and blocks every redelivery until the TTL.
	cleanupCtx := context.WithoutCancel(ctx)

	if err := p.review(ctx, msg); err != nil {
		if cerr := p.ledger.Complete(cleanupCtx, msg.IdempotencyKey, model.LedgerFailed); cerr != nil {
			slog.Error("marking ledger record failed", "key", msg.IdempotencyKey, "error", cerr)
		}
		p.setStatus(cleanupCtx, msg, driven.RunError, "review failed")
		return err
	}

	if err := p.ledger.Complete(cleanupCtx, msg.IdempotencyKey, model.LedgerDone); err != nil {
		// The review is published; surfacing an error here would re-post it.
		slog.Error("marking ledger record done", "key", msg.IdempotencyKey, "error", err)
	}
	return nil
}

// review runs the pipeline for an acquired event.
func (p *Processor) review(ctx context.Context, msg driven.QueueMessage) error {
	p.setStatus(ctx, msg, driven.RunPending, "review in progress")

	files, err := p.reader.ListChangedFiles(ctx, msg.Repo, msg.PRNumber)
	if err != nil {
		return fmt.Errorf("list changed files: %w", err)
	}

	outcome, err := p.orchestrator.Review(ctx, files)
	if err != nil {
		return fmt.Errorf("orchestrate review: %w", err)
	}
	slog.Info("review pipeline finished",
		"repo", msg.Repo,
		"pr_number", msg.PRNumber,
		"stages", stagePath(outcome.Stages),
		"findings", len(outcome.Findings),
		"not_reviewed", len(outcome.NotReviewed),
	)

	result := placement.Decide(p.mode, outcome.Findings, buildIndexes(files), outcome.NotReviewed)
	result.IdempotencyKey = msg.IdempotencyKey
	result.Repo = msg.Repo
	result.PRNumber = msg.PRNumber
	result.HeadSHA = msg.HeadSHA
	if outcome.Fallback {
		result.ModeUsed = model.ModeSummaryOnly
		result.Degraded = true
		result.InlineComments = nil
		result.SummaryText = "## Automated review\n\n_The reviewer model did not produce usable findings for this revision._\n"
	}

	if _, err := p.publish.Publish(ctx, result); err != nil {
		return err
	}

	p.setStatus(ctx, msg, driven.RunSuccess, "review complete")
	return nil
}

// buildIndexes parses each changed file's patch into a position index.
// Files whose patch fails to parse simply get no index, demoting their
// findings to the summary.
func buildIndexes(files []driven.ChangedFile) map[string]*diffmap.FileIndex {
	indexes := make(map[string]*diffmap.FileIndex, len(files))
	for _, f := range files {
		if f.Patch == "" {
			continue
		}
		idx, err := diffmap.Build(f.Path, f.Patch)
		if err != nil {
			slog.Warn("unparsable patch, findings for file will be demoted", "path", f.Path, "error", err)
			continue
		}
		indexes[f.Path] = idx
	}
	return indexes
}

// setStatus posts the run-status marker; status failures never fail the event.
func (p *Processor) setStatus(ctx context.Context, msg driven.QueueMessage, state driven.RunState, description string) {
	if err := p.publish.SetRunStatus(ctx, msg.Repo, msg.HeadSHA, state, description); err != nil {
		slog.Warn("setting run status failed",
			"repo", msg.Repo, "sha", msg.HeadSHA, "state", string(state), "error", err)
	}
}

func stagePath(stages []Stage) string {
	parts := make([]string, len(stages))
	for i, s := range stages {
		parts[i] = string(s)
	}
	return strings.Join(parts, ">")
}
