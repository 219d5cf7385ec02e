package manager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openobs/harvest/pkg/collectors"
	"github.com/openobs/harvest/pkg/collectors/base"
)

// tickCollector emits a counter event on an interval and can be told to
// fail fatally or to reject the next start.
type tickCollector struct {
	*base.BaseCollector
	interval  time.Duration
	fatal     chan error
	failStart error
}

func newTickCollector(name string, interval time.Duration) *tickCollector {
	return &tickCollector{
		BaseCollector: base.NewBaseCollector(base.Config{Name: name, Logger: zap.NewNop()}),
		interval:      interval,
		fatal:         make(chan error, 1),
	}
}

func (c *tickCollector) Start(ctx context.Context, out chan<- collectors.Event) error {
	return c.StartRun(ctx, func(runCtx context.Context, lm *base.LifecycleManager) error {
		if c.failStart != nil {
			err := c.failStart
			c.failStart = nil
			return err
		}
		lm.Start("tick", func() { c.run(runCtx, out) })
		return nil
	})
}

func (c *tickCollector) Stop() error {
	return c.StopRun(nil)
}

func (c *tickCollector) run(ctx context.Context, out chan<- collectors.Event) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-c.fatal:
			c.Fail(err)
			return
		case <-ticker.C:
			c.SendEvent(ctx, out, collectors.Event{
				Timestamp: time.Now(),
				Source:    c.Name(),
				Data:      []byte("tick"),
			})
		}
	}
}

func TestManagerLifecycle(t *testing.T) {
	t.Run("starts and stops all collectors", func(t *testing.T) {
		m := New(Config{ChannelCapacity: 64}, zap.NewNop())
		a := newTickCollector("a", 10*time.Millisecond)
		b := newTickCollector("b", 10*time.Millisecond)
		require.NoError(t, m.Add(a))
		require.NoError(t, m.Add(b))

		require.NoError(t, m.Start(context.Background()))
		assert.True(t, a.IsRunning())
		assert.True(t, b.IsRunning())
		assert.True(t, m.IsHealthy())

		require.NoError(t, m.Stop())
		assert.False(t, a.IsRunning())
		assert.False(t, b.IsRunning())
	})

	t.Run("events from all collectors arrive on the shared channel", func(t *testing.T) {
		m := New(Config{ChannelCapacity: 64}, zap.NewNop())
		require.NoError(t, m.Add(newTickCollector("a", 5*time.Millisecond)))
		require.NoError(t, m.Add(newTickCollector("b", 5*time.Millisecond)))

		require.NoError(t, m.Start(context.Background()))

		sources := map[string]bool{}
		deadline := time.After(3 * time.Second)
		for len(sources) < 2 {
			select {
			case ev := <-m.Events():
				sources[ev.Source] = true
			case <-deadline:
				t.Fatal("did not receive events from both collectors")
			}
		}

		require.NoError(t, m.Stop())
	})

	t.Run("channel closes after stop so the consumer can finish", func(t *testing.T) {
		m := New(Config{ChannelCapacity: 64}, zap.NewNop())
		require.NoError(t, m.Add(newTickCollector("a", 5*time.Millisecond)))

		require.NoError(t, m.Start(context.Background()))
		require.NoError(t, m.Stop())

		for {
			if _, ok := <-m.Events(); !ok {
				return
			}
		}
	})

	t.Run("double start and stop without start are rejected", func(t *testing.T) {
		m := New(Config{}, zap.NewNop())

		assert.Error(t, m.Stop())

		require.NoError(t, m.Start(context.Background()))
		assert.Error(t, m.Start(context.Background()))
		require.NoError(t, m.Stop())
	})

	t.Run("add after start rejected", func(t *testing.T) {
		m := New(Config{}, zap.NewNop())
		require.NoError(t, m.Start(context.Background()))
		defer m.Stop()

		assert.Error(t, m.Add(newTickCollector("late", time.Second)))
	})

	t.Run("duplicate name rejected", func(t *testing.T) {
		m := New(Config{}, zap.NewNop())
		require.NoError(t, m.Add(newTickCollector("dup", time.Second)))
		assert.Error(t, m.Add(newTickCollector("dup", time.Second)))
	})
}

func TestManagerStats(t *testing.T) {
	m := New(Config{ChannelCapacity: 64}, zap.NewNop())
	c := newTickCollector("ticker", 5*time.Millisecond)
	require.NoError(t, m.Add(c))

	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	require.Eventually(t, func() bool {
		return m.Stats()["ticker"].EventsCollected > 0
	}, 3*time.Second, 10*time.Millisecond)

	stats := m.Stats()["ticker"]
	assert.Equal(t, "ticker", stats.Name)
	assert.True(t, stats.IsRunning)
}

func TestManagerRestart(t *testing.T) {
	t.Run("restarts a collector after a fatal fault", func(t *testing.T) {
		m := New(Config{
			ChannelCapacity: 64,
			PollInterval:    20 * time.Millisecond,
			RestartEnabled:  true,
		}, zap.NewNop())
		c := newTickCollector("flaky", 5*time.Millisecond)
		require.NoError(t, m.Add(c))

		require.NoError(t, m.Start(context.Background()))
		defer m.Stop()

		c.fatal <- collectors.NewError(collectors.ErrorKindNetwork, "endpoint unreachable", nil)
		require.Eventually(t, func() bool {
			return c.Stats().LastError != ""
		}, time.Second, 5*time.Millisecond)

		// the supervisor brings it back
		require.Eventually(t, func() bool {
			return c.IsRunning()
		}, 3*time.Second, 10*time.Millisecond)
		assert.True(t, m.IsHealthy())
	})

	t.Run("down collector stays down when restart is disabled", func(t *testing.T) {
		m := New(Config{
			ChannelCapacity: 64,
			PollInterval:    20 * time.Millisecond,
			RestartEnabled:  false,
		}, zap.NewNop())
		c := newTickCollector("flaky", 5*time.Millisecond)
		require.NoError(t, m.Add(c))

		require.NoError(t, m.Start(context.Background()))
		defer m.Stop()

		c.fatal <- collectors.NewError(collectors.ErrorKindPermission, "revoked", nil)
		require.Eventually(t, func() bool {
			return !c.IsRunning()
		}, 3*time.Second, 5*time.Millisecond)

		time.Sleep(100 * time.Millisecond)
		assert.False(t, c.IsRunning())
		assert.False(t, m.IsHealthy())
	})
}
