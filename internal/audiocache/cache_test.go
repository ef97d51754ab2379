// Package audiocache_test tests artifact memoization and in-flight
// deduplication.
package audiocache_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/book-expert/score-service/internal/audiocache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errGeneration = errors.New("generation failed")

func TestGetMemoizesFirstResult(t *testing.T) {
	t.Parallel()

	cache := audiocache.New()

	var calls atomic.Int32

	generate := func(_ context.Context) ([]byte, error) {
		calls.Add(1)

		return []byte("artifact"), nil
	}

	first, err := cache.Get(context.Background(), "k1", generate)
	require.NoError(t, err)
	assert.Equal(t, []byte("artifact"), first)

	second, err := cache.Get(context.Background(), "k1", generate)
	require.NoError(t, err)
	assert.Equal(t, []byte("artifact"), second)

	assert.Equal(t, int32(1), calls.Load())
}

func TestGetDistinctKeysGenerateIndependently(t *testing.T) {
	t.Parallel()

	cache := audiocache.New()

	var calls atomic.Int32

	generate := func(_ context.Context) ([]byte, error) {
		return []byte{byte(calls.Add(1))}, nil
	}

	first, err := cache.Get(context.Background(), "a", generate)
	require.NoError(t, err)

	second, err := cache.Get(context.Background(), "b", generate)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGetDeduplicatesConcurrentCallers(t *testing.T) {
	t.Parallel()

	cache := audiocache.New()

	release := make(chan struct{})

	var calls atomic.Int32

	generate := func(_ context.Context) ([]byte, error) {
		calls.Add(1)
		<-release

		return []byte("shared"), nil
	}

	const callers = 8

	var wg sync.WaitGroup

	results := make([][]byte, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)

		go func(idx int) {
			defer wg.Done()

			results[idx], errs[idx] = cache.Get(context.Background(), "same", generate)
		}(i)
	}

	close(release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, []byte("shared"), results[i])
	}

	assert.Equal(t, int32(1), calls.Load())
}

func TestGetEvictsFailedGenerationForRetry(t *testing.T) {
	t.Parallel()

	cache := audiocache.New()

	var calls atomic.Int32

	generate := func(_ context.Context) ([]byte, error) {
		if calls.Add(1) == 1 {
			return nil, errGeneration
		}

		return []byte("recovered"), nil
	}

	_, err := cache.Get(context.Background(), "flaky", generate)
	require.ErrorIs(t, err, errGeneration)

	data, err := cache.Get(context.Background(), "flaky", generate)
	require.NoError(t, err)
	assert.Equal(t, []byte("recovered"), data)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGetWaiterStopsOnContextDeadline(t *testing.T) {
	t.Parallel()

	cache := audiocache.New()

	started := make(chan struct{})
	release := make(chan struct{})

	var wg sync.WaitGroup

	// Cleanups run last-in first-out: release the generator, then wait.
	t.Cleanup(wg.Wait)
	t.Cleanup(func() { close(release) })

	wg.Add(1)

	go func() {
		defer wg.Done()

		_, _ = cache.Get(context.Background(), "slow", func(_ context.Context) ([]byte, error) {
			close(started)
			<-release

			return []byte("late"), nil
		})
	}()

	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := cache.Get(ctx, "slow", func(_ context.Context) ([]byte, error) {
		t.Error("waiter must not start a second generation")

		return nil, nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
