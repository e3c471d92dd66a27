package application

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/efisher/reviewflow/internal/domain/port/driven"
)

// deliveryProcessor handles one received queue message.
type deliveryProcessor interface {
	Process(ctx context.Context, msg driven.QueueMessage) error
}

// WorkerConfig tunes the consumer loop.
type WorkerConfig struct {
	Workers        int           // Concurrent deliveries in flight.
	BatchSize      int           // Deliveries fetched per poll.
	Lease          time.Duration // Visibility timeout per delivery.
	ProcessTimeout time.Duration // Hard deadline for one delivery.
	PollInterval   time.Duration // Sleep between empty polls.
}

// Worker consumes review events from the work queue and hands them to the
// processor. Each delivery gets its own deadline and a heartbeat that extends
// the lease while processing runs long.
type Worker struct {
	queue     driven.WorkQueue
	processor deliveryProcessor
	cfg       WorkerConfig
}

// NewWorker creates a Worker.
func NewWorker(queue driven.WorkQueue, processor deliveryProcessor, cfg WorkerConfig) *Worker {
	return &Worker{queue: queue, processor: processor, cfg: cfg}
}

// Start runs the consume loop until the context is canceled. In-flight
// deliveries are waited for before returning.
func (w *Worker) Start(ctx context.Context) {
	slog.Info("worker started",
		"workers", w.cfg.Workers,
		"batch_size", w.cfg.BatchSize,
		"lease", w.cfg.Lease,
	)

	for {
		if ctx.Err() != nil {
			slog.Info("worker stopped")
			return
		}

		n, err := w.consumeBatch(ctx)
		if err != nil {
			slog.Error("receiving from queue failed", "error", err)
		}
		if n > 0 {
			// Drain eagerly while the queue has work.
			continue
		}

		select {
		case <-ctx.Done():
			slog.Info("worker stopped")
			return
		case <-time.After(w.cfg.PollInterval):
		}
	}
}

// consumeBatch receives one batch and processes it with bounded concurrency.
// Returns how many deliveries were received. A failing delivery never affects
// its siblings; each is acked or failed on its own.
func (w *Worker) consumeBatch(ctx context.Context) (int, error) {
	deliveries, err := w.queue.Receive(ctx, QueueReviews, w.cfg.BatchSize, w.cfg.Lease)
	if err != nil {
		return 0, err
	}
	if len(deliveries) == 0 {
		return 0, nil
	}

	var g errgroup.Group
	g.SetLimit(w.cfg.Workers)
	for _, d := range deliveries {
		g.Go(func() error {
			w.handle(ctx, d)
			return nil
		})
	}
	_ = g.Wait()
	return len(deliveries), nil
}

// handle processes one delivery under its own deadline, heartbeating the
// lease so slow model calls do not trigger a concurrent redelivery.
func (w *Worker) handle(ctx context.Context, d driven.Delivery) {
	procCtx, cancel := context.WithTimeout(ctx, w.cfg.ProcessTimeout)
	defer cancel()

	stopHeartbeat := w.heartbeat(procCtx, d.ID)
	err := w.processor.Process(procCtx, d.Message)
	stopHeartbeat()

	// Queue operations below use the outer context: an expired processing
	// deadline must not prevent acking or failing the delivery.
	switch {
	case err == nil:
		if ackErr := w.queue.Ack(ctx, d.ID); ackErr != nil {
			slog.Error("acking delivery failed", "delivery_id", d.ID, "error", ackErr)
		}
	case errors.Is(err, ErrAlreadyProcessed):
		if ackErr := w.queue.Ack(ctx, d.ID); ackErr != nil {
			slog.Error("acking duplicate delivery failed", "delivery_id", d.ID, "error", ackErr)
		}
	default:
		slog.Warn("processing failed",
			"delivery_id", d.ID,
			"repo", d.Message.Repo,
			"pr_number", d.Message.PRNumber,
			"receive_count", d.ReceiveCount,
			"error", err,
		)
		if failErr := w.queue.Fail(ctx, d.ID, err.Error()); failErr != nil {
			slog.Error("failing delivery failed", "delivery_id", d.ID, "error", failErr)
		}
	}
}

// heartbeat extends the delivery's lease every third of its duration until
// the returned stop function is called or ctx ends.
func (w *Worker) heartbeat(ctx context.Context, deliveryID string) func() {
	hbCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(w.cfg.Lease / 3)
		defer ticker.Stop()
		for {
			select {
			case <-hbCtx.Done():
				return
			case <-ticker.C:
				if err := w.queue.Extend(hbCtx, deliveryID, w.cfg.Lease); err != nil {
					slog.Warn("extending lease failed", "delivery_id", deliveryID, "error", err)
				}
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}
