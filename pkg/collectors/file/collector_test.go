package file

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openobs/harvest/pkg/collectors"
)

func writeLines(t *testing.T, path string, lines ...string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	defer f.Close()
	for _, line := range lines {
		_, err := f.WriteString(line + "\n")
		require.NoError(t, err)
	}
}

func newTestCollector(t *testing.T, path string, mutate func(*Config)) *Collector {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Name = "file-test"
	cfg.Path = path
	cfg.Logger = zap.NewNop()
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := New(cfg)
	require.NoError(t, err)
	return c
}

func TestNew(t *testing.T) {
	t.Run("requires path", func(t *testing.T) {
		_, err := New(Config{Name: "no-path"})
		require.Error(t, err)
		assert.Equal(t, collectors.ErrorKindConfig, collectors.KindOf(err))
	})

	t.Run("construction does not open the file", func(t *testing.T) {
		c := newTestCollector(t, filepath.Join(t.TempDir(), "missing.log"), nil)
		assert.False(t, c.IsRunning())
	})
}

func TestStartErrors(t *testing.T) {
	t.Run("missing file is a config error", func(t *testing.T) {
		c := newTestCollector(t, filepath.Join(t.TempDir(), "missing.log"), nil)
		out := make(chan collectors.Event, 1)

		err := c.Start(context.Background(), out)
		require.Error(t, err)
		assert.Equal(t, collectors.ErrorKindConfig, collectors.KindOf(err))
		assert.False(t, c.IsRunning())
		assert.NotEmpty(t, c.Stats().LastError)
	})
}

func TestTail(t *testing.T) {
	t.Run("emits appended lines in order", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "app.log")
		writeLines(t, path, "old line before start")

		c := newTestCollector(t, path, nil)
		out := make(chan collectors.Event, 16)

		require.NoError(t, c.Start(context.Background(), out))
		defer c.Stop()

		writeLines(t, path, "first", "second")

		var got []string
		require.Eventually(t, func() bool {
			for {
				select {
				case ev := <-out:
					got = append(got, string(ev.Data))
				default:
					return len(got) == 2
				}
			}
		}, 3*time.Second, 10*time.Millisecond)

		assert.Equal(t, []string{"first", "second"}, got)
		assert.Equal(t, int64(2), c.Stats().EventsCollected)
	})

	t.Run("oversized line is a parse failure and tailing continues", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "app.log")
		writeLines(t, path, "seed")

		c := newTestCollector(t, path, func(cfg *Config) {
			cfg.MaxLineBytes = 32
		})
		out := make(chan collectors.Event, 16)

		require.NoError(t, c.Start(context.Background(), out))
		defer c.Stop()

		writeLines(t, path, strings.Repeat("x", 128), "short after")

		require.Eventually(t, func() bool {
			s := c.Stats()
			return s.EventsFailed == 1 && s.EventsCollected == 1
		}, 3*time.Second, 10*time.Millisecond)

		assert.True(t, c.IsRunning())
		assert.Contains(t, c.Stats().LastError, "exceeds")

		ev := <-out
		assert.Equal(t, "short after", string(ev.Data))
		assert.Equal(t, path, ev.Metadata["path"])
	})

	t.Run("restart cycle on the same file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "app.log")
		writeLines(t, path, "seed")

		c := newTestCollector(t, path, nil)
		out := make(chan collectors.Event, 16)

		require.NoError(t, c.Start(context.Background(), out))
		require.NoError(t, c.Stop())
		assert.False(t, c.IsRunning())

		require.NoError(t, c.Start(context.Background(), out))
		defer c.Stop()
		assert.True(t, c.IsRunning())

		writeLines(t, path, "after restart")
		require.Eventually(t, func() bool {
			select {
			case ev := <-out:
				return string(ev.Data) == "after restart"
			default:
				return false
			}
		}, 3*time.Second, 10*time.Millisecond)
	})
}
