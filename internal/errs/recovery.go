package errs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// TokenRefresher re-establishes the service session after an auth failure.
type TokenRefresher interface {
	RefreshToken(ctx context.Context) error
}

// Logger is the minimal structured logger the recovery manager needs.
type Logger interface {
	Error(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
}

// RecoveryManager wraps operations with the retry loop plus two process-wide
// side effects: single-flight token refresh on auth errors, and a shared
// rate-limit gate that holds every caller until the service stops throttling.
type RecoveryManager struct {
	refresher TokenRefresher
	logger    Logger
	retryCfg  RetryConfig

	mu             sync.RWMutex
	rateLimitUntil time.Time
	refreshing     bool
	refreshDone    chan struct{}
}

// NewRecoveryManager builds a recovery manager. logger may be nil.
func NewRecoveryManager(refresher TokenRefresher, logger Logger, retryCfg RetryConfig) *RecoveryManager {
	return &RecoveryManager{
		refresher: refresher,
		logger:    logger,
		retryCfg:  retryCfg,
	}
}

// RateLimited reports whether the shared rate-limit gate is closed.
func (m *RecoveryManager) RateLimited() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return time.Now().Before(m.rateLimitUntil)
}

// ExecuteWithRecovery runs fn under the retry schedule. Before the first
// attempt (and implicitly before every retry of any concurrent caller) it
// waits out the shared rate-limit gate.
func (m *RecoveryManager) ExecuteWithRecovery(ctx context.Context, operation string, fn func() error) error {
	if err := m.waitForRateLimit(ctx, operation); err != nil {
		return err
	}

	return RetryWithBackoff(ctx, m.retryCfg, func() error {
		if err := m.waitForRateLimit(ctx, operation); err != nil {
			return err
		}

		err := fn()
		if err == nil {
			return nil
		}
		return m.recover(ctx, err, operation)
	})
}

// waitForRateLimit blocks until the gate timestamp has passed.
func (m *RecoveryManager) waitForRateLimit(ctx context.Context, operation string) error {
	m.mu.RLock()
	wait := time.Until(m.rateLimitUntil)
	m.mu.RUnlock()
	if wait <= 0 {
		return nil
	}

	m.logInfo("waiting for rate limit gate", map[string]interface{}{
		"operation": operation,
		"wait":      wait.String(),
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}

// recover inspects err, performs the side effect for its category, and
// returns the error the retry loop should see.
func (m *RecoveryManager) recover(ctx context.Context, err error, operation string) error {
	m.logFailure(err, operation)

	switch {
	case IsAuth(err):
		if refreshErr := m.refreshToken(ctx, operation); refreshErr != nil {
			return fmt.Errorf("token refresh failed: %w", refreshErr)
		}
		// Session restored; the retry loop makes the next attempt.
		return err
	case IsRateLimit(err):
		m.openGate(operation)
		return err
	default:
		return err
	}
}

// refreshToken performs a single-flight refresh. Concurrent callers block
// until the in-flight refresh finishes and share its outcome implicitly:
// their next attempt runs against the refreshed session.
func (m *RecoveryManager) refreshToken(ctx context.Context, operation string) error {
	m.mu.Lock()
	if m.refreshing {
		done := m.refreshDone
		m.mu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
			return nil
		}
	}
	m.refreshing = true
	m.refreshDone = make(chan struct{})
	done := m.refreshDone
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.refreshing = false
		m.mu.Unlock()
		close(done)
	}()

	m.logInfo("refreshing session token", map[string]interface{}{"operation": operation})

	if m.refresher == nil {
		return fmt.Errorf("no token refresher configured")
	}
	if err := m.refresher.RefreshToken(ctx); err != nil {
		if m.logger != nil {
			m.logger.Error("token refresh failed", map[string]interface{}{
				"operation": operation,
				"error":     err.Error(),
			})
		}
		return err
	}

	m.logInfo("token refreshed", map[string]interface{}{"operation": operation})
	return nil
}

// openGate records the process-wide throttle window.
func (m *RecoveryManager) openGate(operation string) {
	until := time.Now().Add(m.retryCfg.MaxBackoff)

	m.mu.Lock()
	if until.After(m.rateLimitUntil) {
		m.rateLimitUntil = until
	}
	m.mu.Unlock()

	m.logInfo("rate limit gate opened", map[string]interface{}{
		"operation": operation,
		"until":     until.Format(time.RFC3339),
	})
}

func (m *RecoveryManager) logFailure(err error, operation string) {
	if m.logger == nil {
		return
	}
	fields := map[string]interface{}{
		"operation": operation,
		"error":     err.Error(),
		"category":  string(KindOf(err)),
	}
	var e *Error
	if errors.As(err, &e) {
		fields["retryable"] = e.Retryable
		fields["status_code"] = e.StatusCode
	}
	m.logger.Warn("operation failed", fields)
}

func (m *RecoveryManager) logInfo(msg string, fields map[string]interface{}) {
	if m.logger != nil {
		m.logger.Info(msg, fields)
	}
}
