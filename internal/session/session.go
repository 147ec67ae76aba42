// Package session keeps the user-data listen key alive for the stream consumers.
package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Token holds the current listen key. The user-data consumer writes it; each
// consumer's keep-alive reads it.
type Token struct {
	mu  sync.RWMutex
	key string
}

// Set replaces the key.
func (t *Token) Set(key string) {
	t.mu.Lock()
	t.key = key
	t.mu.Unlock()
}

// Get returns the key, empty before the first Set.
func (t *Token) Get() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.key
}

// Renewer extends a listen key.
type Renewer interface {
	KeepAliveListenKey(ctx context.Context, listenKey string) error
}

// KeepAlive renews the token on a fixed interval, independent of message flow.
type KeepAlive struct {
	Name     string
	Interval time.Duration
	Renewer  Renewer
	Token    *Token
	Logger   *zap.SugaredLogger
	// OnError is called for each failed renewal, if set.
	OnError func(error)
}

// Run renews until ctx is done or stop is closed.
func (k *KeepAlive) Run(ctx context.Context, stop <-chan struct{}) {
	if k == nil || k.Renewer == nil || k.Token == nil || k.Interval <= 0 {
		return
	}
	logger := k.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	ticker := time.NewTicker(k.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			key := k.Token.Get()
			if key == "" {
				continue
			}
			if err := k.Renewer.KeepAliveListenKey(ctx, key); err != nil {
				logger.Errorw("keepalive_failed", "consumer", k.Name, "error", err)
				if k.OnError != nil {
					k.OnError(err)
				}
				continue
			}
			logger.Infow("keepalive", "consumer", k.Name)
		}
	}
}

// RetryBudget counts consecutive stream failures.
type RetryBudget struct {
	Max      int
	failures int
}

// Fail records a failure and reports whether the budget is exhausted.
func (r *RetryBudget) Fail() bool {
	r.failures++
	return r.failures > r.Max
}

// Reset clears the failure count after a healthy message.
func (r *RetryBudget) Reset() {
	r.failures = 0
}

// Failures returns the current consecutive failure count.
func (r *RetryBudget) Failures() int {
	return r.failures
}

// Sleep waits for d. It returns false if ctx ended or stop closed first.
func Sleep(ctx context.Context, stop <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-stop:
		return false
	case <-t.C:
		return true
	}
}
