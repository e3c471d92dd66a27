package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efisher/reviewflow/internal/domain/port/driven"
)

const testQueue = "reviews"

func testMessage(key string) driven.QueueMessage {
	return driven.QueueMessage{
		IdempotencyKey: key,
		Repo:           "octocat/hello-world",
		PRNumber:       42,
		HeadSHA:        "abc123def456",
		EventType:      "pull_request",
		EnqueuedAt:     time.Now().UTC().Truncate(time.Second),
	}
}

// makeVisible rewinds a message's visibility deadline so it can be received
// again without waiting out the lease.
func makeVisible(t *testing.T, db *DB, id string) {
	t.Helper()
	_, err := db.Writer.ExecContext(context.Background(),
		`UPDATE work_queue SET visible_at = ? WHERE id = ?`,
		formatTime(time.Now().Add(-time.Minute)), id)
	require.NoError(t, err)
}

func TestQueueRepo_EnqueueAndReceive(t *testing.T) {
	db := setupTestDB(t)
	repo := NewQueueRepo(db, 5, time.Second)
	ctx := context.Background()

	msg := testMessage("key-1")
	require.NoError(t, repo.Enqueue(ctx, testQueue, msg))

	deliveries, err := repo.Receive(ctx, testQueue, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)

	d := deliveries[0]
	assert.NotEmpty(t, d.ID)
	assert.Equal(t, 1, d.ReceiveCount)
	assert.Equal(t, msg.IdempotencyKey, d.Message.IdempotencyKey)
	assert.Equal(t, msg.Repo, d.Message.Repo)
	assert.Equal(t, msg.PRNumber, d.Message.PRNumber)
	assert.Equal(t, msg.HeadSHA, d.Message.HeadSHA)
	assert.Equal(t, msg.EventType, d.Message.EventType)
}

func TestQueueRepo_ReceiveEmptyQueue(t *testing.T) {
	db := setupTestDB(t)
	repo := NewQueueRepo(db, 5, time.Second)

	deliveries, err := repo.Receive(context.Background(), testQueue, 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, deliveries)
}

func TestQueueRepo_LeaseHidesMessage(t *testing.T) {
	db := setupTestDB(t)
	repo := NewQueueRepo(db, 5, time.Second)
	ctx := context.Background()

	require.NoError(t, repo.Enqueue(ctx, testQueue, testMessage("key-1")))

	first, err := repo.Receive(ctx, testQueue, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := repo.Receive(ctx, testQueue, 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, second, "leased message must not be redelivered inside its lease")
}

func TestQueueRepo_ExpiredLeaseRedelivers(t *testing.T) {
	db := setupTestDB(t)
	repo := NewQueueRepo(db, 5, time.Second)
	ctx := context.Background()

	require.NoError(t, repo.Enqueue(ctx, testQueue, testMessage("key-1")))

	first, err := repo.Receive(ctx, testQueue, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, first, 1)

	makeVisible(t, db, first[0].ID)

	second, err := repo.Receive(ctx, testQueue, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.Equal(t, 2, second[0].ReceiveCount)
}

func TestQueueRepo_AckRemoves(t *testing.T) {
	db := setupTestDB(t)
	repo := NewQueueRepo(db, 5, time.Second)
	ctx := context.Background()

	require.NoError(t, repo.Enqueue(ctx, testQueue, testMessage("key-1")))

	deliveries, err := repo.Receive(ctx, testQueue, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)

	require.NoError(t, repo.Ack(ctx, deliveries[0].ID))
	makeVisible(t, db, deliveries[0].ID)

	after, err := repo.Receive(ctx, testQueue, 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, after)
}

func TestQueueRepo_ExtendKeepsMessageInvisible(t *testing.T) {
	db := setupTestDB(t)
	repo := NewQueueRepo(db, 5, time.Second)
	ctx := context.Background()

	require.NoError(t, repo.Enqueue(ctx, testQueue, testMessage("key-1")))

	deliveries, err := repo.Receive(ctx, testQueue, 10, 0)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)

	require.NoError(t, repo.Extend(ctx, deliveries[0].ID, time.Hour))

	after, err := repo.Receive(ctx, testQueue, 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, after)
}

func TestQueueRepo_FailSchedulesBackoff(t *testing.T) {
	db := setupTestDB(t)
	repo := NewQueueRepo(db, 5, time.Minute)
	ctx := context.Background()

	require.NoError(t, repo.Enqueue(ctx, testQueue, testMessage("key-1")))

	deliveries, err := repo.Receive(ctx, testQueue, 10, 0)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)

	require.NoError(t, repo.Fail(ctx, deliveries[0].ID, "model timeout"))

	// Backoff pushes visibility into the future, so nothing is ready now.
	after, err := repo.Receive(ctx, testQueue, 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, after)

	makeVisible(t, db, deliveries[0].ID)

	retried, err := repo.Receive(ctx, testQueue, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, retried, 1)
	assert.Equal(t, 2, retried[0].ReceiveCount)
}

func TestQueueRepo_ExhaustedRetriesDeadLetter(t *testing.T) {
	db := setupTestDB(t)
	repo := NewQueueRepo(db, 2, time.Minute)
	ctx := context.Background()

	msg := testMessage("key-dead")
	require.NoError(t, repo.Enqueue(ctx, testQueue, msg))

	var id string
	for attempt := 0; attempt < 2; attempt++ {
		deliveries, err := repo.Receive(ctx, testQueue, 10, time.Minute)
		require.NoError(t, err)
		require.Len(t, deliveries, 1)
		id = deliveries[0].ID
		require.NoError(t, repo.Fail(ctx, id, "persistent failure"))
		makeVisible(t, db, id)
	}

	// The second Fail hit the receive bound and dead-lettered the message,
	// so forcing visibility afterwards must not resurrect it.
	after, err := repo.Receive(ctx, testQueue, 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, after, "dead-lettered message must never be redelivered")

	letters, err := repo.ListDeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, letters, 1)

	dl := letters[0]
	assert.Equal(t, id, dl.ID)
	assert.Equal(t, testQueue, dl.Queue)
	assert.Equal(t, "persistent failure", dl.Reason)
	assert.Equal(t, 2, dl.ReceiveCount)
	assert.Equal(t, msg.IdempotencyKey, dl.Message.IdempotencyKey)
	assert.Equal(t, msg.Repo, dl.Message.Repo)
	assert.Equal(t, msg.PRNumber, dl.Message.PRNumber)
	assert.Equal(t, msg.HeadSHA, dl.Message.HeadSHA)
	assert.False(t, dl.FailedAt.IsZero())
}

func TestQueueRepo_FailUnknownIDIsNoOp(t *testing.T) {
	db := setupTestDB(t)
	repo := NewQueueRepo(db, 5, time.Second)

	err := repo.Fail(context.Background(), "no-such-id", "whatever")
	require.NoError(t, err)
}

func TestQueueRepo_FIFOWithinQueue(t *testing.T) {
	db := setupTestDB(t)
	repo := NewQueueRepo(db, 5, time.Second)
	ctx := context.Background()

	require.NoError(t, repo.Enqueue(ctx, testQueue, testMessage("key-a")))
	require.NoError(t, repo.Enqueue(ctx, testQueue, testMessage("key-b")))

	deliveries, err := repo.Receive(ctx, testQueue, 1, time.Minute)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, "key-a", deliveries[0].Message.IdempotencyKey)
}

func TestQueueRepo_QueuesAreIsolated(t *testing.T) {
	db := setupTestDB(t)
	repo := NewQueueRepo(db, 5, time.Second)
	ctx := context.Background()

	require.NoError(t, repo.Enqueue(ctx, "reviews", testMessage("key-a")))
	require.NoError(t, repo.Enqueue(ctx, "test_generation", testMessage("key-b")))

	deliveries, err := repo.Receive(ctx, "test_generation", 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)
	assert.Equal(t, "key-b", deliveries[0].Message.IdempotencyKey)
}
