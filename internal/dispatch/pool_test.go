package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/derekphilipau/deep-label/internal/inference"
	"github.com/derekphilipau/deep-label/internal/logger"
)

func newTestPool(cfg Config) *Pool {
	return New(cfg, logger.NewNopLogger())
}

func rateLimitedErr() error {
	return &inference.CallError{Class: inference.ClassRateLimited, Status: 429, Msg: "quota"}
}

func transientTestErr() error {
	return &inference.CallError{Class: inference.ClassTransient, Status: 500, Msg: "boom"}
}

func fatalTestErr() error {
	return &inference.CallError{Class: inference.ClassFatal, Status: 400, Msg: "bad request"}
}

func TestPool_NeverExceedsLimit(t *testing.T) {
	const limit = 3
	pool := newTestPool(Config{Limit: limit, MaxAttempts: 1, RetryBase: time.Millisecond, BackoffBase: time.Millisecond})

	var current, peak int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := pool.Do(context.Background(), func(ctx context.Context) (*inference.Response, error) {
				n := atomic.AddInt64(&current, 1)
				for {
					p := atomic.LoadInt64(&peak)
					if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt64(&current, -1)
				return &inference.Response{}, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(limit))
	assert.Equal(t, 0, pool.InFlight())
	assert.Equal(t, int64(20), pool.Snapshot().Successes)
}

func TestPool_QueuesWhenSaturated(t *testing.T) {
	pool := newTestPool(Config{Limit: 1, MaxAttempts: 1, RetryBase: time.Millisecond, BackoffBase: time.Millisecond})

	blocker := make(chan struct{})
	done := make(chan struct{})
	go func() {
		pool.Do(context.Background(), func(ctx context.Context) (*inference.Response, error) {
			<-blocker
			return &inference.Response{}, nil
		})
	}()
	require.Eventually(t, func() bool { return pool.InFlight() == 1 }, time.Second, time.Millisecond)
	go func() {
		pool.Do(context.Background(), func(ctx context.Context) (*inference.Response, error) {
			return &inference.Response{}, nil
		})
		close(done)
	}()

	require.Eventually(t, func() bool { return pool.QueueLen() == 1 }, time.Second, time.Millisecond)
	close(blocker)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("queued task never ran")
	}
}

func TestPool_BackoffDeadline(t *testing.T) {
	base := 30 * time.Millisecond
	pool := newTestPool(Config{Limit: 2, MaxAttempts: 2, RetryBase: time.Millisecond, BackoffBase: base, BackoffMax: time.Second})

	var calls int32
	var firstFail, secondStart time.Time
	_, err := pool.Do(context.Background(), func(ctx context.Context) (*inference.Response, error) {
		switch atomic.AddInt32(&calls, 1) {
		case 1:
			firstFail = time.Now()
			return nil, rateLimitedErr()
		default:
			secondStart = time.Now()
			return &inference.Response{}, nil
		}
	})
	require.NoError(t, err)
	require.Equal(t, int32(2), calls)

	// After the first rate limit the window is base*2^1.
	window := 2 * base
	assert.GreaterOrEqual(t, secondStart.Sub(firstFail), window-time.Millisecond,
		"no dispatch may happen before the backoff deadline")

	streak, _ := pool.Backoff()
	assert.Equal(t, 0, streak, "a single success resets the rate-limit streak")
	assert.Equal(t, int64(1), pool.Snapshot().RateLimitHits)
}

func TestPool_RateLimitDoesNotConsumeAttempt(t *testing.T) {
	pool := newTestPool(Config{Limit: 1, MaxAttempts: 2, RetryBase: time.Millisecond, BackoffBase: time.Millisecond, BackoffMax: 5 * time.Millisecond})

	// One transient failure uses the single spare attempt; the rate limits
	// in between must not push the task over the cap.
	seq := []error{transientTestErr(), rateLimitedErr(), rateLimitedErr(), nil}
	var i int32
	_, err := pool.Do(context.Background(), func(ctx context.Context) (*inference.Response, error) {
		e := seq[atomic.AddInt32(&i, 1)-1]
		if e != nil {
			return nil, e
		}
		return &inference.Response{}, nil
	})
	assert.NoError(t, err)
	assert.Equal(t, int32(4), i)
}

func TestPool_TransientRetriesExhaust(t *testing.T) {
	pool := newTestPool(Config{Limit: 1, MaxAttempts: 3, RetryBase: time.Millisecond, BackoffBase: time.Millisecond})

	var calls int32
	_, err := pool.Do(context.Background(), func(ctx context.Context) (*inference.Response, error) {
		atomic.AddInt32(&calls, 1)
		return nil, transientTestErr()
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retries exhausted")
	assert.Equal(t, int32(3), calls)

	var ce *inference.CallError
	assert.True(t, errors.As(err, &ce), "last error must be preserved in the chain")
}

func TestPool_FatalPropagatesImmediately(t *testing.T) {
	pool := newTestPool(Config{Limit: 1, MaxAttempts: 5, RetryBase: time.Millisecond, BackoffBase: time.Millisecond})

	var calls int32
	_, err := pool.Do(context.Background(), func(ctx context.Context) (*inference.Response, error) {
		atomic.AddInt32(&calls, 1)
		return nil, fatalTestErr()
	})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls, "fatal errors must not be retried")
}

func TestPool_UsageCounters(t *testing.T) {
	pool := newTestPool(Config{
		Limit: 1, MaxAttempts: 1, RetryBase: time.Millisecond, BackoffBase: time.Millisecond,
		CostPerMInputTokens: 1.0, CostPerMOutputTokens: 4.0,
	})

	for i := 0; i < 3; i++ {
		_, err := pool.Do(context.Background(), func(ctx context.Context) (*inference.Response, error) {
			return &inference.Response{Usage: inference.Usage{InputTokens: 1000, OutputTokens: 500}}, nil
		})
		require.NoError(t, err)
	}

	u := pool.Snapshot()
	assert.Equal(t, int64(3), u.Calls)
	assert.Equal(t, int64(3000), u.InputTokens)
	assert.Equal(t, int64(1500), u.OutputTokens)
	assert.InDelta(t, 3000.0/1e6*1.0+1500.0/1e6*4.0, u.EstimatedCost, 1e-9)
}

func TestPool_ContextCancelWhileQueued(t *testing.T) {
	pool := newTestPool(Config{Limit: 1, MaxAttempts: 1, RetryBase: time.Millisecond, BackoffBase: time.Millisecond})

	blocker := make(chan struct{})
	go func() {
		pool.Do(context.Background(), func(ctx context.Context) (*inference.Response, error) {
			<-blocker
			return &inference.Response{}, nil
		})
	}()
	require.Eventually(t, func() bool { return pool.InFlight() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := pool.Do(ctx, func(ctx context.Context) (*inference.Response, error) {
			return &inference.Response{}, nil
		})
		errCh <- err
	}()
	require.Eventually(t, func() bool { return pool.QueueLen() == 1 }, time.Second, time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("queued task did not observe cancellation")
	}
	close(blocker)
}
