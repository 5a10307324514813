package errs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRefresher struct {
	mu    sync.Mutex
	calls int
	err   error
	delay time.Duration
}

func (f *fakeRefresher) RefreshToken(ctx context.Context) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.err
}

func (f *fakeRefresher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type nopLogger struct{}

func (nopLogger) Error(string, map[string]interface{}) {}
func (nopLogger) Warn(string, map[string]interface{})  {}
func (nopLogger) Info(string, map[string]interface{})  {}

func newTestManager(refresher TokenRefresher, maxBackoff time.Duration) *RecoveryManager {
	return NewRecoveryManager(refresher, nopLogger{}, RetryConfig{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     maxBackoff,
		Multiplier:     2.0,
		Retryable:      IsRetryable,
	})
}

func TestExecuteWithRecoveryPassesThroughSuccess(t *testing.T) {
	m := newTestManager(&fakeRefresher{}, 10*time.Millisecond)

	calls := 0
	err := m.ExecuteWithRecovery(context.Background(), "lookup", func() error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestAuthErrorTriggersRefreshThenRetry(t *testing.T) {
	refresher := &fakeRefresher{}
	m := newTestManager(refresher, 10*time.Millisecond)

	calls := 0
	err := m.ExecuteWithRecovery(context.Background(), "stream-url", func() error {
		calls++
		if calls == 1 {
			return Auth("session expired", nil)
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, refresher.callCount())
}

func TestFailedRefreshAbortsRetryLoop(t *testing.T) {
	refresher := &fakeRefresher{err: errors.New("arl rejected")}
	m := newTestManager(refresher, 10*time.Millisecond)

	calls := 0
	err := m.ExecuteWithRecovery(context.Background(), "stream-url", func() error {
		calls++
		return Auth("session expired", nil)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Contains(t, err.Error(), "token refresh failed")
}

func TestRateLimitOpensSharedGate(t *testing.T) {
	m := newTestManager(&fakeRefresher{}, 40*time.Millisecond)

	start := time.Now()
	calls := 0
	gateOpen := false
	err := m.ExecuteWithRecovery(context.Background(), "charts", func() error {
		calls++
		if calls == 1 {
			return RateLimit("throttled")
		}
		gateOpen = m.RateLimited()
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.False(t, gateOpen, "second attempt ran while the gate was still closed")
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestCallersHoldAtGateBeforeInvokingFn(t *testing.T) {
	m := newTestManager(&fakeRefresher{}, 50*time.Millisecond)
	m.openGate("seed")
	gateOpensAt := time.Now().Add(40 * time.Millisecond) // conservative lower bound

	var early atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.ExecuteWithRecovery(context.Background(), "gated", func() error {
				if time.Now().Before(gateOpensAt) {
					early.Add(1)
				}
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Zero(t, early.Load(), "fn ran before the rate-limit gate passed")
}

func TestConcurrentAuthFailuresRefreshOnce(t *testing.T) {
	refresher := &fakeRefresher{delay: 20 * time.Millisecond}
	m := newTestManager(refresher, 10*time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			first := true
			_ = m.ExecuteWithRecovery(context.Background(), "parallel", func() error {
				if first {
					first = false
					return Auth("session expired", nil)
				}
				return nil
			})
		}()
	}
	wg.Wait()

	// All four hit the auth error at roughly the same time; the refresh
	// must be single-flight, not four storms.
	assert.Equal(t, 1, refresher.callCount())
}

func TestRateLimitGateRespectsContext(t *testing.T) {
	m := newTestManager(&fakeRefresher{}, time.Hour)
	m.openGate("seed")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := m.ExecuteWithRecovery(ctx, "gated", func() error { return nil })
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
