package base

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openobs/harvest/pkg/collectors"
)

// fakeCollector is a minimal source built on BaseCollector: it emits events
// from a feed channel and fails fatally when told to.
type fakeCollector struct {
	*BaseCollector
	feed  chan []byte
	fatal chan error
}

func newFakeCollector(t *testing.T, cfg Config) *fakeCollector {
	t.Helper()
	if cfg.Name == "" {
		cfg.Name = "fake"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &fakeCollector{
		BaseCollector: NewBaseCollector(cfg),
		feed:          make(chan []byte, 16),
		fatal:         make(chan error, 1),
	}
}

func (f *fakeCollector) Start(ctx context.Context, out chan<- collectors.Event) error {
	return f.StartRun(ctx, func(runCtx context.Context, lm *LifecycleManager) error {
		lm.Start("emit", func() { f.run(runCtx, out) })
		return nil
	})
}

func (f *fakeCollector) Stop() error {
	return f.StopRun(nil)
}

func (f *fakeCollector) run(ctx context.Context, out chan<- collectors.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-f.fatal:
			f.Fail(err)
			return
		case data := <-f.feed:
			if len(data) == 0 {
				// empty feed entries simulate undeliverable records
				f.RecordFailure(collectors.NewError(collectors.ErrorKindParse, "empty record", nil))
				continue
			}
			f.SendEvent(ctx, out, collectors.Event{
				Timestamp: time.Now(),
				Source:    f.Name(),
				Data:      data,
			})
		}
	}
}

func TestLifecycleStateMachine(t *testing.T) {
	t.Run("stopped before start, running after, stopped after stop", func(t *testing.T) {
		f := newFakeCollector(t, Config{})
		out := make(chan collectors.Event, 1)

		assert.False(t, f.IsRunning())

		require.NoError(t, f.Start(context.Background(), out))
		assert.True(t, f.IsRunning())

		require.NoError(t, f.Stop())
		assert.False(t, f.IsRunning())
	})

	t.Run("double start rejected", func(t *testing.T) {
		f := newFakeCollector(t, Config{})
		out := make(chan collectors.Event, 1)

		require.NoError(t, f.Start(context.Background(), out))
		defer f.Stop()

		err := f.Start(context.Background(), out)
		require.Error(t, err)
		assert.Equal(t, collectors.ErrorKindAlreadyRunning, collectors.KindOf(err))
		assert.True(t, f.IsRunning())
	})

	t.Run("stop without start rejected", func(t *testing.T) {
		f := newFakeCollector(t, Config{})

		err := f.Stop()
		require.Error(t, err)
		assert.Equal(t, collectors.ErrorKindNotRunning, collectors.KindOf(err))
		assert.False(t, f.IsRunning())
	})

	t.Run("restart cycle", func(t *testing.T) {
		f := newFakeCollector(t, Config{})
		out := make(chan collectors.Event, 1)

		for i := 0; i < 3; i++ {
			require.NoError(t, f.Start(context.Background(), out))
			require.NoError(t, f.Stop())
		}
	})
}

func TestStatistics(t *testing.T) {
	t.Run("events collected is monotonic", func(t *testing.T) {
		f := newFakeCollector(t, Config{})
		out := make(chan collectors.Event, 16)

		require.NoError(t, f.Start(context.Background(), out))
		defer f.Stop()

		prev := int64(0)
		for i := 0; i < 5; i++ {
			f.feed <- []byte("event")
			require.Eventually(t, func() bool {
				return f.Stats().EventsCollected > prev
			}, time.Second, 5*time.Millisecond)
			cur := f.Stats().EventsCollected
			assert.GreaterOrEqual(t, cur, prev)
			prev = cur
		}
		assert.Equal(t, int64(5), prev)
	})

	t.Run("per-event failure increments failed and keeps running", func(t *testing.T) {
		f := newFakeCollector(t, Config{})
		out := make(chan collectors.Event, 16)

		require.NoError(t, f.Start(context.Background(), out))
		defer f.Stop()

		f.feed <- nil // parse failure
		require.Eventually(t, func() bool {
			return f.Stats().EventsFailed == 1
		}, time.Second, 5*time.Millisecond)

		stats := f.Stats()
		assert.Equal(t, int64(1), stats.EventsFailed)
		assert.Contains(t, stats.LastError, "parse")
		assert.True(t, f.IsRunning())
	})

	t.Run("counters survive stop start cycles", func(t *testing.T) {
		f := newFakeCollector(t, Config{})
		out := make(chan collectors.Event, 16)

		require.NoError(t, f.Start(context.Background(), out))
		f.feed <- []byte("one")
		require.Eventually(t, func() bool {
			return f.Stats().EventsCollected == 1
		}, time.Second, 5*time.Millisecond)
		require.NoError(t, f.Stop())

		require.NoError(t, f.Start(context.Background(), out))
		defer f.Stop()
		assert.Equal(t, int64(1), f.Stats().EventsCollected)
	})

	t.Run("uptime resets per run", func(t *testing.T) {
		f := newFakeCollector(t, Config{})
		out := make(chan collectors.Event, 1)

		assert.Zero(t, f.Stats().Uptime)

		require.NoError(t, f.Start(context.Background(), out))
		time.Sleep(20 * time.Millisecond)
		assert.Greater(t, f.Stats().Uptime, time.Duration(0))

		require.NoError(t, f.Stop())
		assert.Zero(t, f.Stats().Uptime)
	})
}

func TestFatalFailure(t *testing.T) {
	t.Run("fatal fault stops collector and allows restart", func(t *testing.T) {
		f := newFakeCollector(t, Config{})
		out := make(chan collectors.Event, 1)

		require.NoError(t, f.Start(context.Background(), out))

		f.fatal <- collectors.NewError(collectors.ErrorKindPermission, "access revoked", errors.New("EACCES"))
		require.Eventually(t, func() bool {
			return !f.IsRunning()
		}, time.Second, 5*time.Millisecond)

		stats := f.Stats()
		assert.NotEmpty(t, stats.LastError)
		assert.Contains(t, stats.LastError, "access revoked")

		// recovery path
		require.NoError(t, f.Start(context.Background(), out))
		assert.True(t, f.IsRunning())
		require.NoError(t, f.Stop())
	})
}

func TestBackpressure(t *testing.T) {
	t.Run("blocking send waits for consumer on capacity one", func(t *testing.T) {
		f := newFakeCollector(t, Config{})
		out := make(chan collectors.Event, 1)

		require.NoError(t, f.Start(context.Background(), out))
		defer f.Stop()

		f.feed <- []byte("first")
		f.feed <- []byte("second")

		// second send blocks until the first is drained
		require.Eventually(t, func() bool {
			return f.Stats().EventsCollected == 1
		}, time.Second, 5*time.Millisecond)

		<-out
		require.Eventually(t, func() bool {
			return f.Stats().EventsCollected == 2
		}, time.Second, 5*time.Millisecond)

		assert.Equal(t, int64(0), f.Stats().EventsFailed)
	})

	t.Run("send timeout counts failed delivery instead of dropping silently", func(t *testing.T) {
		f := newFakeCollector(t, Config{SendTimeout: 20 * time.Millisecond})
		out := make(chan collectors.Event, 1)

		require.NoError(t, f.Start(context.Background(), out))
		defer f.Stop()

		f.feed <- []byte("first")
		f.feed <- []byte("second")

		require.Eventually(t, func() bool {
			s := f.Stats()
			return s.EventsCollected == 1 && s.EventsFailed == 1
		}, time.Second, 5*time.Millisecond)

		assert.Contains(t, f.Stats().LastError, "channel full")
		assert.True(t, f.IsRunning())
	})

	t.Run("stop interrupts a send blocked on a full channel", func(t *testing.T) {
		f := newFakeCollector(t, Config{ShutdownTimeout: time.Second})
		out := make(chan collectors.Event, 1)

		require.NoError(t, f.Start(context.Background(), out))

		f.feed <- []byte("first")
		f.feed <- []byte("second") // blocks: nobody drains

		require.Eventually(t, func() bool {
			return f.Stats().EventsCollected == 1
		}, time.Second, 5*time.Millisecond)

		done := make(chan error, 1)
		go func() { done <- f.Stop() }()

		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("Stop did not return within the grace period")
		}
		assert.False(t, f.IsRunning())

		// the blocked event was neither delivered nor counted as collected
		assert.Equal(t, int64(1), f.Stats().EventsCollected)
	})
}

func TestConcurrentTransitions(t *testing.T) {
	t.Run("concurrent stops observe not running at most once", func(t *testing.T) {
		f := newFakeCollector(t, Config{})
		out := make(chan collectors.Event, 1)
		require.NoError(t, f.Start(context.Background(), out))

		results := make(chan error, 2)
		go func() { results <- f.Stop() }()
		go func() { results <- f.Stop() }()

		var ok, misuse int
		for i := 0; i < 2; i++ {
			if err := <-results; err == nil {
				ok++
			} else if collectors.KindOf(err) == collectors.ErrorKindNotRunning {
				misuse++
			}
		}
		assert.Equal(t, 1, ok)
		assert.Equal(t, 1, misuse)
		assert.False(t, f.IsRunning())
	})
}

func TestLifecycleManager(t *testing.T) {
	t.Run("start and stop goroutines", func(t *testing.T) {
		lm := NewLifecycleManager(nil, nil)

		done := make(chan bool, 1)
		lm.Start("worker", func() {
			<-lm.StopChannel()
			done <- true
		})

		assert.Equal(t, int32(1), lm.GetRunningGoroutines())

		err := lm.Stop(time.Second)
		require.NoError(t, err)

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("Goroutine did not stop")
		}
		assert.Equal(t, int32(0), lm.GetRunningGoroutines())
	})

	t.Run("shutdown timeout", func(t *testing.T) {
		lm := NewLifecycleManager(nil, nil)

		release := make(chan struct{})
		lm.Start("stuck", func() { <-release })

		err := lm.Stop(50 * time.Millisecond)
		assert.Equal(t, ErrShutdownTimeout, err)
		close(release)
	})

	t.Run("context cancellation", func(t *testing.T) {
		lm := NewLifecycleManager(nil, nil)

		cancelled := make(chan struct{})
		lm.Start("ctx-aware", func() {
			<-lm.Context().Done()
			close(cancelled)
		})

		require.NoError(t, lm.Stop(time.Second))

		select {
		case <-cancelled:
		case <-time.After(time.Second):
			t.Fatal("Context was not cancelled")
		}
	})
}

func BenchmarkBaseCollector(b *testing.B) {
	bc := NewBaseCollector(Config{Name: "bench", Logger: zap.NewNop()})

	b.Run("RecordEvent", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			bc.RecordEvent()
		}
	})

	b.Run("RecordFailure", func(b *testing.B) {
		err := collectors.NewError(collectors.ErrorKindParse, "bench", nil)
		for i := 0; i < b.N; i++ {
			bc.RecordFailure(err)
		}
	})

	b.Run("Stats", func(b *testing.B) {
		for i := 0; i < b.N; i++ {
			_ = bc.Stats()
		}
	})
}
