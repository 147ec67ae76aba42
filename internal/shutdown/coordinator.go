// Package shutdown holds the process-wide, level-triggered stop flag.
package shutdown

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Coordinator is set once and never cleared. Loops poll Active each
// iteration and may block on Done to wake early from sleeps.
type Coordinator struct {
	active atomic.Bool
	once   sync.Once
	done   chan struct{}

	mu       sync.RWMutex
	reason   string
	raisedAt time.Time

	logger *zap.SugaredLogger
}

// NewCoordinator returns an inactive coordinator.
func NewCoordinator(logger *zap.SugaredLogger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Coordinator{done: make(chan struct{}), logger: logger}
}

// Trigger raises the flag. The first reason wins; it returns false when the
// flag was already raised.
func (c *Coordinator) Trigger(reason string) bool {
	first := false
	c.once.Do(func() {
		c.mu.Lock()
		c.reason = reason
		c.raisedAt = time.Now()
		c.mu.Unlock()
		c.active.Store(true)
		close(c.done)
		first = true
		c.logger.Warnw("shutdown_triggered", "reason", reason)
	})
	return first
}

// Active reports whether shutdown has been requested.
func (c *Coordinator) Active() bool {
	return c.active.Load()
}

// Done is closed when the flag is raised.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Reason returns the first trigger reason and when it was raised.
func (c *Coordinator) Reason() (string, time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reason, c.raisedAt
}
