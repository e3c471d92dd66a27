package httphandler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efisher/reviewflow/internal/domain/model"
	"github.com/efisher/reviewflow/internal/domain/port/driven"
)

const testSecret = "webhook-secret"

// mockQueue records enqueued messages.
type mockQueue struct {
	enqueued   map[string][]driven.QueueMessage
	enqueueErr error
}

func newMockQueue() *mockQueue {
	return &mockQueue{enqueued: make(map[string][]driven.QueueMessage)}
}

func (m *mockQueue) Enqueue(_ context.Context, queue string, msg driven.QueueMessage) error {
	if m.enqueueErr != nil {
		return m.enqueueErr
	}
	m.enqueued[queue] = append(m.enqueued[queue], msg)
	return nil
}

func (m *mockQueue) Receive(context.Context, string, int, time.Duration) ([]driven.Delivery, error) {
	return nil, nil
}
func (m *mockQueue) Extend(context.Context, string, time.Duration) error { return nil }
func (m *mockQueue) Ack(context.Context, string) error                   { return nil }
func (m *mockQueue) Fail(context.Context, string, string) error          { return nil }

// mockLedger serves fixed states.
type mockLedger struct {
	states map[string]model.LedgerState
	getErr error
}

func newMockLedger() *mockLedger {
	return &mockLedger{states: make(map[string]model.LedgerState)}
}

func (m *mockLedger) Begin(context.Context, string) (bool, model.LedgerState, error) {
	return true, model.LedgerPending, nil
}

func (m *mockLedger) Complete(context.Context, string, model.LedgerState) error { return nil }

func (m *mockLedger) Get(_ context.Context, key string) (model.LedgerState, bool, error) {
	if m.getErr != nil {
		return "", false, m.getErr
	}
	s, ok := m.states[key]
	return s, ok, nil
}

// mockResultStore serves fixed results.
type mockResultStore struct {
	results []model.ReviewResult
	err     error
}

func (m *mockResultStore) Save(context.Context, model.ReviewResult) error { return nil }
func (m *mockResultStore) GetByKey(context.Context, string) (*model.ReviewResult, error) {
	return nil, nil
}
func (m *mockResultStore) GetByPR(context.Context, string, int) ([]model.ReviewResult, error) {
	return m.results, m.err
}

// mockDeadLetterStore serves fixed dead letters.
type mockDeadLetterStore struct {
	letters []driven.DeadLetter
	err     error
}

func (m *mockDeadLetterStore) ListDeadLetters(context.Context) ([]driven.DeadLetter, error) {
	return m.letters, m.err
}

// fixture bundles the handler with its mocks.
type fixture struct {
	queue       *mockQueue
	ledger      *mockLedger
	results     *mockResultStore
	deadLetters *mockDeadLetterStore
	mux         http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		queue:       newMockQueue(),
		ledger:      newMockLedger(),
		results:     &mockResultStore{},
		deadLetters: &mockDeadLetterStore{},
	}
	logger := slog.New(slog.DiscardHandler)
	h := NewHandler(f.queue, f.ledger, f.results, f.deadLetters, []byte(testSecret), logger)
	f.mux = NewServeMux(h, logger)
	return f
}

func TestGetResults(t *testing.T) {
	f := newFixture(t)
	f.results.results = []model.ReviewResult{{
		IdempotencyKey: "key-1",
		Repo:           "octocat/hello-world",
		PRNumber:       42,
		HeadSHA:        "abc123",
		SummaryText:    "summary",
		InlineComments: []model.InlineComment{{Path: "main.go", Position: 2, Body: "b"}},
		ModeUsed:       model.ModeInlineBestEffort,
		CreatedAt:      time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
	}}

	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/repos/octocat/hello-world/results/42", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp []ResultResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.Equal(t, "octocat/hello-world", resp[0].Repository)
	assert.Equal(t, "inline_best_effort", resp[0].ModeUsed)
	assert.Equal(t, "2026-08-30T12:00:00Z", resp[0].CreatedAt)
	require.Len(t, resp[0].InlineComments, 1)
	assert.Equal(t, 2, resp[0].InlineComments[0].Position)
}

func TestGetResults_InvalidNumber(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/repos/octocat/hello-world/results/nope", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetResults_StoreError(t *testing.T) {
	f := newFixture(t)
	f.results.err = errors.New("db gone")

	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/repos/octocat/hello-world/results/42", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestListDeadLetters(t *testing.T) {
	f := newFixture(t)
	f.deadLetters.letters = []driven.DeadLetter{{
		ID:    "d1",
		Queue: "reviews",
		Message: driven.QueueMessage{
			IdempotencyKey: "key-1",
			Repo:           "octocat/hello-world",
			PRNumber:       42,
			HeadSHA:        "abc123",
		},
		Reason:       "model timeout",
		ReceiveCount: 5,
		FailedAt:     time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC),
	}}

	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/deadletters", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp []DeadLetterResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp, 1)
	assert.Equal(t, "d1", resp[0].ID)
	assert.Equal(t, "model timeout", resp[0].Reason)
	assert.Equal(t, 5, resp[0].ReceiveCount)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestHealth_StorageDown(t *testing.T) {
	f := newFixture(t)
	f.ledger.getErr = errors.New("db gone")

	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
