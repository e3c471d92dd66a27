package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efisher/reviewflow/internal/domain/model"
)

func testResult(key string) model.ReviewResult {
	return model.ReviewResult{
		IdempotencyKey: key,
		Repo:           "octocat/hello-world",
		PRNumber:       42,
		HeadSHA:        "abc123",
		SummaryText:    "## Review summary\n\n1 finding.",
		InlineComments: []model.InlineComment{
			{Path: "main.go", Position: 3, Body: "**major** (correctness): nil check missing"},
		},
		UnmappedCount: 1,
		NotReviewed:   []string{"vendor/big.go"},
		ModeUsed:      model.ModeInlineBestEffort,
		Degraded:      false,
		CreatedAt:     time.Now().UTC().Truncate(time.Second),
	}
}

func TestResultRepo_SaveAndGetByKey(t *testing.T) {
	db := setupTestDB(t)
	repo := NewResultRepo(db)
	ctx := context.Background()

	want := testResult("key-1")
	require.NoError(t, repo.Save(ctx, want))

	got, err := repo.GetByKey(ctx, "key-1")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, want.IdempotencyKey, got.IdempotencyKey)
	assert.Equal(t, want.Repo, got.Repo)
	assert.Equal(t, want.PRNumber, got.PRNumber)
	assert.Equal(t, want.HeadSHA, got.HeadSHA)
	assert.Equal(t, want.SummaryText, got.SummaryText)
	assert.Equal(t, want.InlineComments, got.InlineComments)
	assert.Equal(t, want.UnmappedCount, got.UnmappedCount)
	assert.Equal(t, want.NotReviewed, got.NotReviewed)
	assert.Equal(t, want.ModeUsed, got.ModeUsed)
	assert.Equal(t, want.Degraded, got.Degraded)
	assert.Equal(t, want.CreatedAt, got.CreatedAt.UTC())
}

func TestResultRepo_GetByKeyMissing(t *testing.T) {
	db := setupTestDB(t)
	repo := NewResultRepo(db)

	got, err := repo.GetByKey(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestResultRepo_SaveReplacesSameKey(t *testing.T) {
	db := setupTestDB(t)
	repo := NewResultRepo(db)
	ctx := context.Background()

	first := testResult("key-1")
	require.NoError(t, repo.Save(ctx, first))

	second := first
	second.SummaryText = "## Review summary\n\nupdated"
	second.ModeUsed = model.ModeSummaryOnly
	second.Degraded = true
	require.NoError(t, repo.Save(ctx, second))

	got, err := repo.GetByKey(ctx, "key-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, second.SummaryText, got.SummaryText)
	assert.Equal(t, model.ModeSummaryOnly, got.ModeUsed)
	assert.True(t, got.Degraded)

	results, err := repo.GetByPR(ctx, first.Repo, first.PRNumber)
	require.NoError(t, err)
	assert.Len(t, results, 1, "replacing by key must not accumulate rows")
}

func TestResultRepo_GetByPRNewestFirst(t *testing.T) {
	db := setupTestDB(t)
	repo := NewResultRepo(db)
	ctx := context.Background()

	older := testResult("key-old")
	older.CreatedAt = time.Now().UTC().Add(-time.Hour).Truncate(time.Second)
	newer := testResult("key-new")
	newer.CreatedAt = time.Now().UTC().Truncate(time.Second)

	require.NoError(t, repo.Save(ctx, older))
	require.NoError(t, repo.Save(ctx, newer))

	results, err := repo.GetByPR(ctx, older.Repo, older.PRNumber)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "key-new", results[0].IdempotencyKey)
	assert.Equal(t, "key-old", results[1].IdempotencyKey)
}

func TestResultRepo_GetByPREmpty(t *testing.T) {
	db := setupTestDB(t)
	repo := NewResultRepo(db)

	results, err := repo.GetByPR(context.Background(), "octocat/empty", 1)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestResultRepo_SummaryOnlyResultRoundTrips(t *testing.T) {
	db := setupTestDB(t)
	repo := NewResultRepo(db)
	ctx := context.Background()

	want := testResult("key-degraded")
	want.InlineComments = nil
	want.ModeUsed = model.ModeSummaryOnly
	want.Degraded = true
	require.NoError(t, repo.Save(ctx, want))

	got, err := repo.GetByKey(ctx, "key-degraded")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Empty(t, got.InlineComments)
	assert.Equal(t, model.ModeSummaryOnly, got.ModeUsed)
	assert.True(t, got.Degraded)
}
