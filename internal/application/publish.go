package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/efisher/reviewflow/internal/domain/model"
	"github.com/efisher/reviewflow/internal/domain/port/driven"
)

// Queue names shared by the ingress (producer) and the worker loop (consumer).
const (
	QueueReviews = "reviews"
	// QueueTestGeneration receives a derivative job after each published
	// review; its consumer is a separate service.
	QueueTestGeneration = "test_generation"
)

// PublishService delivers a finished review result: it posts to the hosting
// platform, persists the result, and enqueues the derivative test-generation
// job. In dry-run mode nothing leaves the process; the would-be output is
// logged and persisted only.
type PublishService struct {
	publisher driven.ReviewPublisher
	results   driven.ResultStore
	queue     driven.WorkQueue
	dryRun    bool
}

// NewPublishService creates a PublishService.
func NewPublishService(publisher driven.ReviewPublisher, results driven.ResultStore, queue driven.WorkQueue, dryRun bool) *PublishService {
	return &PublishService{
		publisher: publisher,
		results:   results,
		queue:     queue,
		dryRun:    dryRun,
	}
}

// Publish delivers the result. The platform post is the only step whose
// failure propagates: once comments have landed, a failed result save or
// derivative enqueue is logged and swallowed, because failing the event now
// would re-post the same comments on redelivery.
func (s *PublishService) Publish(ctx context.Context, result model.ReviewResult) (driven.PublishReport, error) {
	if s.dryRun {
		slog.Info("dry run, skipping publish",
			"repo", result.Repo,
			"pr_number", result.PRNumber,
			"mode_used", string(result.ModeUsed),
			"inline_comments", len(result.InlineComments),
			"summary_chars", len(result.SummaryText),
		)
		s.saveResult(ctx, result)
		return driven.PublishReport{}, nil
	}

	report, err := s.publisher.PublishReview(ctx, driven.PublishRequest{
		Repo:     result.Repo,
		PRNumber: result.PRNumber,
		HeadSHA:  result.HeadSHA,
		Summary:  result.SummaryText,
		Comments: result.InlineComments,
	})
	if err != nil {
		return report, fmt.Errorf("publish review for %s#%d: %w", result.Repo, result.PRNumber, err)
	}

	slog.Info("review published",
		"repo", result.Repo,
		"pr_number", result.PRNumber,
		"mode_used", string(result.ModeUsed),
		"inline_posted", report.InlinePosted,
		"inline_rejected", report.InlineRejected,
	)

	s.saveResult(ctx, result)
	s.enqueueTestGeneration(ctx, result)
	return report, nil
}

// SetRunStatus forwards the run-status marker, suppressed in dry-run mode.
func (s *PublishService) SetRunStatus(ctx context.Context, repo, sha string, state driven.RunState, description string) error {
	if s.dryRun {
		slog.Info("dry run, skipping run status", "repo", repo, "sha", sha, "state", string(state))
		return nil
	}
	return s.publisher.SetRunStatus(ctx, repo, sha, state, description)
}

func (s *PublishService) saveResult(ctx context.Context, result model.ReviewResult) {
	if err := s.results.Save(ctx, result); err != nil {
		slog.Error("saving review result failed",
			"repo", result.Repo,
			"pr_number", result.PRNumber,
			"error", err,
		)
	}
}

func (s *PublishService) enqueueTestGeneration(ctx context.Context, result model.ReviewResult) {
	msg := driven.QueueMessage{
		IdempotencyKey: result.IdempotencyKey,
		Repo:           result.Repo,
		PRNumber:       result.PRNumber,
		HeadSHA:        result.HeadSHA,
		EventType:      "review.published",
		EnqueuedAt:     time.Now().UTC(),
	}
	if err := s.queue.Enqueue(ctx, QueueTestGeneration, msg); err != nil {
		slog.Error("enqueueing test generation job failed",
			"repo", result.Repo,
			"pr_number", result.PRNumber,
			"error", err,
		)
	}
}
