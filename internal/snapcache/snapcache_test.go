package snapcache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"ticketwatch/internal/components/chrono"
	"ticketwatch/internal/models"
	"time"

	"github.com/stretchr/testify/require"
)

func okResult(eventID string) models.FetchResult {
	return models.FetchResult{
		EventID:   eventID,
		Status:    models.StatusOK,
		Tickets:   []models.TicketListing{{SectionRow: "Sec 1 Row A", Price: "$10"}},
		Timestamp: time.Now(),
	}
}

func TestGetOrFetchHit(t *testing.T) {
	cache := New(16, time.Minute, nil)
	var calls atomic.Int32
	fetch := func(ctx context.Context) (models.FetchResult, error) {
		calls.Add(1)
		return okResult("EVT1"), nil
	}

	first, hit, err := cache.GetOrFetch(context.Background(), "EVT1", fetch)
	require.NoError(t, err)
	require.False(t, hit)

	second, hit, err := cache.GetOrFetch(context.Background(), "EVT1", fetch)
	require.NoError(t, err)
	require.True(t, hit)
	require.Equal(t, first, second)
	require.EqualValues(t, 1, calls.Load())
}

func TestGetOrFetchExpires(t *testing.T) {
	cache := New(16, 50*time.Millisecond, nil)
	var calls atomic.Int32
	fetch := func(ctx context.Context) (models.FetchResult, error) {
		calls.Add(1)
		return okResult("EVT1"), nil
	}

	_, _, err := cache.GetOrFetch(context.Background(), "EVT1", fetch)
	require.NoError(t, err)
	time.Sleep(120 * time.Millisecond)

	_, hit, err := cache.GetOrFetch(context.Background(), "EVT1", fetch)
	require.NoError(t, err)
	require.False(t, hit)
	require.EqualValues(t, 2, calls.Load())
}

func TestGetOrFetchSkipsFailures(t *testing.T) {
	cache := New(16, time.Minute, nil)

	failed := models.FailedResult("EVT1", models.FailureBotGate, "blocked", time.Now())
	res, _, err := cache.GetOrFetch(context.Background(), "EVT1", func(ctx context.Context) (models.FetchResult, error) {
		return failed, nil
	})
	require.NoError(t, err)
	require.False(t, res.OK())
	_, ok := cache.Get("EVT1")
	require.False(t, ok)

	boom := errors.New("boom")
	_, _, err = cache.GetOrFetch(context.Background(), "EVT1", func(ctx context.Context) (models.FetchResult, error) {
		return models.FetchResult{}, boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 0, cache.Len())
}

func TestGetOrFetchCoalesces(t *testing.T) {
	cache := New(16, time.Minute, nil)
	var calls atomic.Int32
	release := make(chan struct{})
	fetch := func(ctx context.Context) (models.FetchResult, error) {
		calls.Add(1)
		<-release
		return okResult("EVT1"), nil
	}

	const callers = 8
	hits := make([]bool, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, hit, err := cache.GetOrFetch(context.Background(), "EVT1", fetch)
			require.NoError(t, err)
			hits[i] = hit
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.EqualValues(t, 1, calls.Load())
	owners := 0
	for _, hit := range hits {
		if !hit {
			owners++
		}
	}
	require.Equal(t, 1, owners)
}

func TestGetOrFetchOutlivesLeaderCancel(t *testing.T) {
	cache := New(16, time.Minute, nil)
	started := make(chan struct{})
	release := make(chan struct{})
	fetch := func(ctx context.Context) (models.FetchResult, error) {
		close(started)
		select {
		case <-release:
			return okResult("EVT1"), nil
		case <-ctx.Done():
			return models.FetchResult{}, ctx.Err()
		}
	}

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, _, err := cache.GetOrFetch(leaderCtx, "EVT1", fetch)
		leaderErr <- err
	}()
	<-started

	type outcome struct {
		res models.FetchResult
		hit bool
		err error
	}
	follower := make(chan outcome, 1)
	go func() {
		res, hit, err := cache.GetOrFetch(context.Background(), "EVT1", fetch)
		follower <- outcome{res, hit, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	require.ErrorIs(t, <-leaderErr, context.Canceled)
	close(release)

	got := <-follower
	require.NoError(t, got.err)
	require.True(t, got.res.OK())
	// the caller that started the call left, so the follower owns the result
	require.False(t, got.hit)
}

func TestGetExpiresFromCaptureTime(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	cache := New(16, 5*time.Second, chrono.FixedTime{At: now})

	old := okResult("EVT1")
	old.Timestamp = now.Add(-6 * time.Second)
	cache.Put("EVT1", old)
	_, ok := cache.Get("EVT1")
	require.False(t, ok)
	require.Equal(t, 0, cache.Len())

	recent := okResult("EVT1")
	recent.Timestamp = now.Add(-time.Second)
	cache.Put("EVT1", recent)
	got, ok := cache.Get("EVT1")
	require.True(t, ok)
	require.Equal(t, recent, got)
}
