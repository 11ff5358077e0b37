package repository

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/receipts-intake/constants"
	"github.com/joseph-ayodele/receipts-intake/internal/common"
	"github.com/joseph-ayodele/receipts-intake/internal/entity"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newQueueRepo(t *testing.T) QueueRepository {
	t.Helper()
	ctx := context.Background()
	drv, err := OpenSQLite(ctx, filepath.Join(t.TempDir(), "queue.db"), 0, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = drv.Close() })
	require.NoError(t, MigrateSQLite(drv.DB(), testLogger()))
	// a second run is a no-op
	require.NoError(t, MigrateSQLite(drv.DB(), testLogger()))
	return NewQueueRepository(drv, testLogger())
}

func newItem(name string) *entity.QueueItem {
	return &entity.QueueItem{
		Filename:     name,
		FilePath:     "/inbox/" + name,
		CallingAppID: "ap",
	}
}

func TestQueueItemLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := newQueueRepo(t)

	item := newItem("ready_a.pdf")
	require.NoError(t, repo.Create(ctx, item))
	require.NotEqual(t, uuid.Nil, item.ID)

	got, err := repo.Get(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, constants.QueueStatusPending, got.Status)
	require.Equal(t, 1, got.Attempt)
	require.Empty(t, got.Flags)
	require.Nil(t, got.StartedAt)
	require.Nil(t, got.Classification)

	ok, err := repo.TryStartProcessing(ctx, item.ID)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = repo.TryStartProcessing(ctx, item.ID)
	require.NoError(t, err)
	require.False(t, ok)

	docType := "receipt"
	item.DocumentType = &docType
	item.RequiresReview = true
	item.ReviewType = constants.ReviewQuick
	item.Action = constants.ActionQuickReview
	item.Flags = []string{constants.FlagUnreconciled}
	item.Classification = &entity.Classification{
		DocumentType: "receipt",
		Similarity:   0.91,
		Confidence:   entity.ConfidenceResult{Score: 0.84, Tier: constants.TierMedium},
		Extraction:   entity.NewExtractionResult("TOTAL 4.00", []string{"total_amount"}),
	}
	require.NoError(t, repo.SaveRouting(ctx, item))

	got, err = repo.Get(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, constants.QueueStatusProcessing, got.Status)
	require.True(t, got.AwaitingReview())
	require.Equal(t, "receipt", *got.DocumentType)
	require.Equal(t, []string{constants.FlagUnreconciled}, got.Flags)
	require.Equal(t, constants.TierMedium, got.Classification.Confidence.Tier)
	require.Equal(t, "TOTAL 4.00", got.Classification.Extraction.RawText)
	require.NotNil(t, got.StartedAt)

	review := &entity.ReviewMetadata{Reviewer: "dana", Corrections: map[string]string{"total_amount": "4.10"}}
	require.NoError(t, repo.Complete(ctx, item.ID, review))

	got, err = repo.Get(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, constants.QueueStatusCompleted, got.Status)
	require.Equal(t, "dana", got.Review.Reviewer)
	require.NotNil(t, got.FinishedAt)
}

func TestQueueTransitionsNeverGoBackwards(t *testing.T) {
	ctx := context.Background()
	repo := newQueueRepo(t)

	item := newItem("ready_b.png")
	require.NoError(t, repo.Create(ctx, item))

	// pending items cannot complete or fail without being claimed
	require.ErrorIs(t, repo.Complete(ctx, item.ID, nil), common.ErrInvalidTransition)
	require.ErrorIs(t, repo.Fail(ctx, item.ID, "boom"), common.ErrInvalidTransition)

	ok, err := repo.TryStartProcessing(ctx, item.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, repo.Fail(ctx, item.ID, "ocr unavailable"))

	require.ErrorIs(t, repo.Complete(ctx, item.ID, nil), common.ErrInvalidTransition)
	require.ErrorIs(t, repo.Fail(ctx, item.ID, "again"), common.ErrInvalidTransition)
	_, err = repo.RequestCancel(ctx, item.ID)
	require.ErrorIs(t, err, common.ErrInvalidTransition)
	ok, err = repo.TryStartProcessing(ctx, item.ID)
	require.NoError(t, err)
	require.False(t, ok)

	got, err := repo.Get(ctx, item.ID)
	require.NoError(t, err)
	require.Equal(t, constants.QueueStatusFailed, got.Status)
	require.Equal(t, "ocr unavailable", got.FailureReason)

	_, err = repo.Get(ctx, uuid.New())
	require.ErrorIs(t, err, common.ErrNotFound)
	require.ErrorIs(t, repo.Fail(ctx, uuid.New(), "x"), common.ErrNotFound)
}

func TestConcurrentClaimHasOneWinner(t *testing.T) {
	ctx := context.Background()
	repo := newQueueRepo(t)
	item := newItem("ready_c.jpg")
	require.NoError(t, repo.Create(ctx, item))

	const workers = 16
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.TryStartProcessing(ctx, item.ID)
			require.NoError(t, err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, wins)
}

func TestRequestCancelAndList(t *testing.T) {
	ctx := context.Background()
	repo := newQueueRepo(t)

	a, b, c := newItem("ready_1.pdf"), newItem("ready_2.pdf"), newItem("ready_3.pdf")
	for _, it := range []*entity.QueueItem{a, b, c} {
		require.NoError(t, repo.Create(ctx, it))
	}
	ok, err := repo.TryStartProcessing(ctx, b.ID)
	require.NoError(t, err)
	require.True(t, ok)

	cancelled, err := repo.RequestCancel(ctx, a.ID)
	require.NoError(t, err)
	require.True(t, cancelled.CancelRequested)
	require.Equal(t, constants.QueueStatusPending, cancelled.Status)

	pending, err := repo.List(ctx, QueueFilter{Statuses: []constants.QueueStatus{constants.QueueStatusPending}})
	require.NoError(t, err)
	require.Len(t, pending, 2)

	byPath, err := repo.List(ctx, QueueFilter{FilePath: b.FilePath})
	require.NoError(t, err)
	require.Len(t, byPath, 1)
	require.Equal(t, b.ID, byPath[0].ID)

	limited, err := repo.List(ctx, QueueFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, counts[constants.QueueStatusPending])
	require.Equal(t, 1, counts[constants.QueueStatusProcessing])
}

func TestOneLiveItemPerFile(t *testing.T) {
	ctx := context.Background()
	repo := newQueueRepo(t)

	first := newItem("ready_dup.png")
	require.NoError(t, repo.Create(ctx, first))
	require.ErrorIs(t, repo.Create(ctx, newItem("ready_dup.png")), common.ErrDuplicateFile)

	// a failed item frees the path for a retry
	ok, err := repo.TryStartProcessing(ctx, first.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, repo.Fail(ctx, first.ID, constants.ReasonInterrupted))

	retry := newItem("ready_dup.png")
	retry.Attempt = 2
	require.NoError(t, repo.Create(ctx, retry))

	all, err := repo.List(ctx, QueueFilter{FilePath: first.FilePath})
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestListUpdatedBefore(t *testing.T) {
	ctx := context.Background()
	repo := newQueueRepo(t)
	item := newItem("ready_old.png")
	require.NoError(t, repo.Create(ctx, item))

	none, err := repo.List(ctx, QueueFilter{UpdatedBefore: time.Now().Add(-time.Hour)})
	require.NoError(t, err)
	require.Empty(t, none)

	some, err := repo.List(ctx, QueueFilter{UpdatedBefore: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	require.Len(t, some, 1)
}
