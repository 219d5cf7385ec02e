package base

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrShutdownTimeout is returned by LifecycleManager.Stop when goroutines do
// not exit within the grace period.
var ErrShutdownTimeout = errors.New("shutdown timeout exceeded")

// LifecycleManager tracks the goroutines of a single collector run and shuts
// them down within a bounded timeout. Goroutines observe cancellation through
// Context or StopChannel.
type LifecycleManager struct {
	ctx      context.Context
	cancel   context.CancelFunc
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	running atomic.Int32
	logger  *zap.Logger
}

// NewLifecycleManager creates a lifecycle manager derived from parent.
// A nil parent means context.Background; a nil logger means no logging.
func NewLifecycleManager(parent context.Context, logger *zap.Logger) *LifecycleManager {
	if parent == nil {
		parent = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(parent)
	return &LifecycleManager{
		ctx:    ctx,
		cancel: cancel,
		stopCh: make(chan struct{}),
		logger: logger,
	}
}

// Context returns the run context cancelled on Stop.
func (lm *LifecycleManager) Context() context.Context {
	return lm.ctx
}

// StopChannel returns a channel closed when shutdown begins.
func (lm *LifecycleManager) StopChannel() <-chan struct{} {
	return lm.stopCh
}

// Start launches fn as a tracked goroutine.
func (lm *LifecycleManager) Start(name string, fn func()) {
	lm.wg.Add(1)
	lm.running.Add(1)
	go func() {
		defer lm.wg.Done()
		defer lm.running.Add(-1)
		lm.logger.Debug("goroutine started", zap.String("goroutine", name))
		fn()
		lm.logger.Debug("goroutine finished", zap.String("goroutine", name))
	}()
}

// GetRunningGoroutines returns the number of tracked goroutines still alive.
func (lm *LifecycleManager) GetRunningGoroutines() int32 {
	return lm.running.Load()
}

// Stop cancels the run context, closes the stop channel, and waits up to
// timeout for all tracked goroutines to exit. Returns ErrShutdownTimeout if
// any are still running when the timeout expires.
func (lm *LifecycleManager) Stop(timeout time.Duration) error {
	lm.cancel()
	lm.stopOnce.Do(func() { close(lm.stopCh) })

	done := make(chan struct{})
	go func() {
		lm.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		lm.logger.Warn("goroutines did not stop in time",
			zap.Int32("still_running", lm.running.Load()),
			zap.Duration("timeout", timeout),
		)
		return ErrShutdownTimeout
	}
}
