package governor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lukavetter/vatlens/internal/common"
)

func testConfig() Config {
	return Config{
		RequestsPerMinute: 1000,
		CostPerMinute:     1000000,
		QueueCapacity:     4,
		FailureThreshold:  5,
		Cooldown:          200 * time.Millisecond,
		MaxAttempts:       3,
		InitialDelay:      time.Millisecond,
		MaxDelay:          5 * time.Millisecond,
	}
}

func TestSubmitRunsCallable(t *testing.T) {
	g := New(testConfig(), nil)

	ran := false
	err := g.Submit(context.Background(), Request{
		Fn: func(_ context.Context) error {
			ran = true
			return nil
		},
	})

	require.NoError(t, err)
	assert.True(t, ran)
}

func TestSubmitNilCallable(t *testing.T) {
	g := New(testConfig(), nil)

	err := g.Submit(context.Background(), Request{})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrMalformedRequest)
}

func TestQueueCapacity(t *testing.T) {
	cfg := testConfig()
	cfg.QueueCapacity = 2
	g := New(cfg, nil)

	release := make(chan struct{})
	started := make(chan struct{}, 2)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = g.Submit(context.Background(), Request{
				Fn: func(_ context.Context) error {
					started <- struct{}{}
					<-release
					return nil
				},
			})
		}()
	}

	// Wait until both slots are occupied.
	<-started
	<-started

	// Third submission must be rejected immediately, not block.
	err := g.Submit(context.Background(), Request{
		Fn: func(_ context.Context) error { return nil },
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrQueueFull)

	close(release)
	wg.Wait()

	// Slots freed, submissions accepted again.
	err = g.Submit(context.Background(), Request{
		Fn: func(_ context.Context) error { return nil },
	})
	assert.NoError(t, err)
}

func TestRetryableErrorsAreRetried(t *testing.T) {
	g := New(testConfig(), nil)

	calls := 0
	err := g.Submit(context.Background(), Request{
		Fn: func(_ context.Context) error {
			calls++
			if calls < 3 {
				return common.ErrServerError
			}
			return nil
		},
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestTerminalErrorsAreNotRetried(t *testing.T) {
	g := New(testConfig(), nil)

	calls := 0
	err := g.Submit(context.Background(), Request{
		Fn: func(_ context.Context) error {
			calls++
			return common.ErrAuthFailure
		},
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrAuthFailure)
	assert.Equal(t, 1, calls)
}

func TestRetryExhaustion(t *testing.T) {
	g := New(testConfig(), nil)

	calls := 0
	err := g.Submit(context.Background(), Request{
		Fn: func(_ context.Context) error {
			calls++
			return fmt.Errorf("upstream: %w", common.ErrServerError)
		},
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrMaxRetries)
	assert.Equal(t, 3, calls)
}

func TestCircuitBreaker(t *testing.T) {
	t.Run("opens after threshold consecutive failures", func(t *testing.T) {
		cfg := testConfig()
		cfg.MaxAttempts = 5
		g := New(cfg, nil)

		// One submission burning the full attempt budget produces exactly
		// five consecutive retryable failures.
		err := g.Submit(context.Background(), Request{
			Fn: func(_ context.Context) error { return common.ErrServerError },
		})
		require.Error(t, err)

		_, _, open := g.Snapshot()
		assert.True(t, open)

		// While open, submissions fail fast without invoking the callable.
		calls := 0
		err = g.Submit(context.Background(), Request{
			Fn: func(_ context.Context) error {
				calls++
				return nil
			},
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, common.ErrCircuitOpen)
		assert.Equal(t, 0, calls)
	})

	t.Run("closes after cooldown and resets counter", func(t *testing.T) {
		cfg := testConfig()
		cfg.MaxAttempts = 5
		cfg.Cooldown = 50 * time.Millisecond
		g := New(cfg, nil)

		err := g.Submit(context.Background(), Request{
			Fn: func(_ context.Context) error { return common.ErrServerError },
		})
		require.Error(t, err)

		_, _, open := g.Snapshot()
		require.True(t, open)

		time.Sleep(60 * time.Millisecond)

		err = g.Submit(context.Background(), Request{
			Fn: func(_ context.Context) error { return nil },
		})
		assert.NoError(t, err)

		// A single new failure must not re-open the breaker: the counter
		// was reset when the breaker closed.
		err = g.Submit(context.Background(), Request{
			MaxAttempts: 1,
			Fn:          func(_ context.Context) error { return common.ErrServerError },
		})
		require.Error(t, err)

		_, _, open = g.Snapshot()
		assert.False(t, open)
	})

	t.Run("success resets consecutive failures", func(t *testing.T) {
		cfg := testConfig()
		g := New(cfg, nil)

		for i := 0; i < 4; i++ {
			err := g.Submit(context.Background(), Request{
				MaxAttempts: 1,
				Fn:          func(_ context.Context) error { return common.ErrServerError },
			})
			require.Error(t, err)
		}

		err := g.Submit(context.Background(), Request{
			Fn: func(_ context.Context) error { return nil },
		})
		require.NoError(t, err)

		// Four more failures still stay under the threshold.
		for i := 0; i < 4; i++ {
			err := g.Submit(context.Background(), Request{
				MaxAttempts: 1,
				Fn:          func(_ context.Context) error { return common.ErrServerError },
			})
			require.Error(t, err)
		}

		_, _, open := g.Snapshot()
		assert.False(t, open)
	})
}

func TestWindowThrottling(t *testing.T) {
	cfg := testConfig()
	// 80% of 5 is 4: the fifth admission has to wait for the window.
	cfg.RequestsPerMinute = 5
	g := New(cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	for i := 0; i < 4; i++ {
		err := g.Submit(ctx, Request{
			Fn: func(_ context.Context) error { return nil },
		})
		require.NoError(t, err)
	}

	err := g.Submit(ctx, Request{
		Fn: func(_ context.Context) error { return nil },
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCostWindowThrottling(t *testing.T) {
	cfg := testConfig()
	// 80% of 100 cost units: a single cost-90 submission saturates the window.
	cfg.CostPerMinute = 100
	g := New(cfg, nil)

	err := g.Submit(context.Background(), Request{
		Cost: 90,
		Fn:   func(_ context.Context) error { return nil },
	})
	require.NoError(t, err)

	// Even an admission that alone exceeds the ceiling is recorded.
	_, usage, _ := g.Snapshot()
	assert.Equal(t, 1, usage)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	err = g.Submit(ctx, Request{
		Cost: 90,
		Fn:   func(_ context.Context) error { return nil },
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHighPriorityAdmittedFirst(t *testing.T) {
	cfg := testConfig()
	cfg.RequestsPerMinute = 1000
	g := New(cfg, nil)

	// Register a high priority waiter, then verify a normal submission
	// yields to it.
	var order []string
	var mu sync.Mutex
	record := func(name string) {
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
	}

	blocked := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = g.Submit(context.Background(), Request{
			Priority: PriorityHigh,
			Fn: func(_ context.Context) error {
				close(blocked)
				time.Sleep(20 * time.Millisecond)
				record("high")
				return nil
			},
		})
	}()

	<-blocked
	err := g.Submit(context.Background(), Request{
		Fn: func(_ context.Context) error {
			record("normal")
			return nil
		},
	})
	require.NoError(t, err)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 2)
	assert.Equal(t, "high", order[0])
}

func TestAdmissionCancellation(t *testing.T) {
	cfg := testConfig()
	cfg.RequestsPerMinute = 2 // 80% ceiling admits a single request
	g := New(cfg, nil)

	err := g.Submit(context.Background(), Request{
		Fn: func(_ context.Context) error { return nil },
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- g.Submit(ctx, Request{
			Fn: func(_ context.Context) error { return nil },
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	err = <-done
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}
