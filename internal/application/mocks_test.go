package application

import (
	"context"
	"sync"
	"time"

	"github.com/efisher/reviewflow/internal/domain/model"
	"github.com/efisher/reviewflow/internal/domain/port/driven"
)

// mockModelClient returns scripted responses in call order.
type mockModelClient struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	calls     []driven.ModelRequest
}

func (m *mockModelClient) Complete(_ context.Context, req driven.ModelRequest) (*driven.ModelResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := len(m.calls)
	m.calls = append(m.calls, req)
	if i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	if i < len(m.responses) {
		return &driven.ModelResponse{RawText: m.responses[i]}, nil
	}
	return &driven.ModelResponse{RawText: "[]"}, nil
}

// mockLedger is an in-memory IdempotencyLedger with the production
// acquisition rules: failed records are reacquirable, done and pending block.
type mockLedger struct {
	mu     sync.Mutex
	states map[string]model.LedgerState
}

func newMockLedger() *mockLedger {
	return &mockLedger{states: make(map[string]model.LedgerState)}
}

func (m *mockLedger) Begin(ctx context.Context, key string) (bool, model.LedgerState, error) {
	if err := ctx.Err(); err != nil {
		return false, "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.states[key]; ok && s != model.LedgerFailed {
		return false, s, nil
	}
	m.states[key] = model.LedgerPending
	return true, model.LedgerPending, nil
}

// Complete refuses expired contexts the way a real ExecContext would.
func (m *mockLedger) Complete(ctx context.Context, key string, outcome model.LedgerState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.states[key] == model.LedgerPending {
		m.states[key] = outcome
	}
	return nil
}

func (m *mockLedger) Get(_ context.Context, key string) (model.LedgerState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.states[key]
	return s, ok, nil
}

// mockReader serves a fixed changed-file list. With waitForCtx set it blocks
// until the caller's context expires, simulating a slow platform call.
type mockReader struct {
	files      []driven.ChangedFile
	err        error
	waitForCtx bool
}

func (m *mockReader) ListChangedFiles(ctx context.Context, _ string, _ int) ([]driven.ChangedFile, error) {
	if m.waitForCtx {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return m.files, m.err
}

// mockPublisher records publishes and run-status transitions.
type mockPublisher struct {
	mu         sync.Mutex
	requests   []driven.PublishRequest
	statuses   []driven.RunState
	report     driven.PublishReport
	publishErr error
	statusErr  error
}

func (m *mockPublisher) PublishReview(_ context.Context, req driven.PublishRequest) (driven.PublishReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishErr != nil {
		return driven.PublishReport{}, m.publishErr
	}
	m.requests = append(m.requests, req)
	return m.report, nil
}

func (m *mockPublisher) SetRunStatus(_ context.Context, _, _ string, state driven.RunState, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.statusErr != nil {
		return m.statusErr
	}
	m.statuses = append(m.statuses, state)
	return nil
}

// mockResultStore records saved results.
type mockResultStore struct {
	mu      sync.Mutex
	saved   []model.ReviewResult
	saveErr error
}

func (m *mockResultStore) Save(_ context.Context, result model.ReviewResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved = append(m.saved, result)
	return nil
}

func (m *mockResultStore) GetByKey(context.Context, string) (*model.ReviewResult, error) {
	return nil, nil
}

func (m *mockResultStore) GetByPR(context.Context, string, int) ([]model.ReviewResult, error) {
	return nil, nil
}

// mockQueue hands out preloaded deliveries once and records outcomes.
type mockQueue struct {
	mu         sync.Mutex
	deliveries []driven.Delivery
	enqueued   map[string][]driven.QueueMessage
	acked      []string
	failed     map[string]string
	extends    int
	enqueueErr error
}

func newMockQueue(deliveries ...driven.Delivery) *mockQueue {
	return &mockQueue{
		deliveries: deliveries,
		enqueued:   make(map[string][]driven.QueueMessage),
		failed:     make(map[string]string),
	}
}

func (m *mockQueue) Enqueue(_ context.Context, queue string, msg driven.QueueMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.enqueueErr != nil {
		return m.enqueueErr
	}
	m.enqueued[queue] = append(m.enqueued[queue], msg)
	return nil
}

func (m *mockQueue) Receive(_ context.Context, _ string, _ int, _ time.Duration) ([]driven.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := m.deliveries
	m.deliveries = nil
	return out, nil
}

func (m *mockQueue) Extend(context.Context, string, time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.extends++
	return nil
}

func (m *mockQueue) Ack(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.acked = append(m.acked, id)
	return nil
}

func (m *mockQueue) Fail(_ context.Context, id string, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.failed[id] = reason
	return nil
}
