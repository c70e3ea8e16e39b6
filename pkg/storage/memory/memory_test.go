package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lingorelay/lingorelay/pkg/storage"
)

func newRecord(id, submitter string) *storage.StatusRecord {
	return &storage.StatusRecord{
		ID:          id,
		Status:      storage.StatusPending,
		Text:        "hello",
		SubmitterID: submitter,
		SourceLang:  "en",
		TargetLang:  "de",
	}
}

func TestCreateAndGet(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, newRecord("a", "alice")))

	rec, err := s.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, storage.StatusPending, rec.Status)
	require.False(t, rec.CreatedAt.IsZero())

	require.ErrorIs(t, s.Create(ctx, newRecord("a", "alice")), storage.ErrCollision)

	_, err = s.Get(ctx, "missing")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUpdateStatusCompareAndSet(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, newRecord("a", "alice")))

	require.NoError(t, s.UpdateStatus(ctx, "a", storage.StatusPending, storage.StatusProcessing, "", ""))
	require.NoError(t, s.UpdateStatus(ctx, "a", storage.StatusProcessing, storage.StatusCompleted, "hallo", ""))

	rec, err := s.Get(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, storage.StatusCompleted, rec.Status)
	require.Equal(t, "hallo", rec.TranslatedText)

	// A second identical transition is stale: the record already moved on.
	err = s.UpdateStatus(ctx, "a", storage.StatusProcessing, storage.StatusCompleted, "hallo", "")
	require.ErrorIs(t, err, storage.ErrStaleTransition)

	require.ErrorIs(t, s.UpdateStatus(ctx, "missing", storage.StatusPending, storage.StatusProcessing, "", ""), storage.ErrNotFound)
}

func TestAtMostOneTerminalTransitionUnderConcurrency(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, newRecord("a", "alice")))
	require.NoError(t, s.UpdateStatus(ctx, "a", storage.StatusPending, storage.StatusProcessing, "", ""))

	var wg sync.WaitGroup
	wins := make(chan struct{}, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.UpdateStatus(ctx, "a", storage.StatusProcessing, storage.StatusCompleted, "hallo", ""); err == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	var total int
	for range wins {
		total++
	}
	require.Equal(t, 1, total)
}

func TestListBySubmitterOrdersNewestFirst(t *testing.T) {
	now := time.Now()
	s := New(WithClock(func() time.Time {
		now = now.Add(time.Second)
		return now
	}))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Create(ctx, newRecord(fmt.Sprintf("a%d", i), "alice")))
	}
	require.NoError(t, s.Create(ctx, newRecord("b0", "bob")))

	recs, err := s.ListBySubmitter(ctx, "alice", 3, 0)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	require.Equal(t, "a4", recs[0].ID)
	require.Equal(t, "a2", recs[2].ID)

	recs, err = s.ListBySubmitter(ctx, "alice", 3, 3)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	recs, err = s.ListBySubmitter(ctx, "alice", 10, 10)
	require.NoError(t, err)
	require.Empty(t, recs)
}

func TestStats(t *testing.T) {
	s := New()
	ctx := context.Background()

	require.NoError(t, s.Create(ctx, newRecord("a", "alice")))
	require.NoError(t, s.Create(ctx, newRecord("b", "alice")))
	require.NoError(t, s.UpdateStatus(ctx, "a", storage.StatusPending, storage.StatusProcessing, "", ""))
	require.NoError(t, s.UpdateStatus(ctx, "a", storage.StatusProcessing, storage.StatusCompleted, "x", ""))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), stats.Total)
	require.Equal(t, int64(1), stats.Completed)
	require.Equal(t, int64(0), stats.Failed)
	require.InDelta(t, 50.0, stats.SuccessRate(), 0.01)
}
