//go:build linux && cgo

package journald

import (
	"context"
	"os"
	"time"

	"github.com/coreos/go-systemd/v22/sdjournal"
	"go.uber.org/zap"

	"github.com/openobs/harvest/pkg/collectors"
	"github.com/openobs/harvest/pkg/collectors/base"
)

func (c *Collector) startJournal(ctx context.Context, lm *base.LifecycleManager, out chan<- collectors.Event) error {
	j, err := sdjournal.NewJournal()
	if err != nil {
		if os.IsPermission(err) {
			return collectors.NewError(collectors.ErrorKindPermission, "access to the journal denied", err)
		}
		return collectors.NewError(collectors.ErrorKindSystem, "failed to open the journal", err)
	}

	for _, m := range c.cfg.Matches {
		if err := j.AddMatch(m); err != nil {
			j.Close()
			return collectors.NewError(collectors.ErrorKindConfig, "invalid journal match "+m, err)
		}
	}

	if err := j.SeekTail(); err != nil {
		j.Close()
		return collectors.NewError(collectors.ErrorKindSystem, "failed to seek journal tail", err)
	}
	// SeekTail positions after the last entry; step back so the first Next
	// lands on genuinely new entries only
	if _, err := j.Previous(); err != nil {
		j.Close()
		return collectors.NewError(collectors.ErrorKindSystem, "failed to position journal cursor", err)
	}

	lm.Start("read", func() { c.readLoop(ctx, j, out) })

	c.Logger().Info("journald collector started",
		zap.String("collector", c.Name()),
		zap.Strings("matches", c.cfg.Matches),
	)
	return nil
}

func (c *Collector) readLoop(ctx context.Context, j *sdjournal.Journal, out chan<- collectors.Event) {
	defer j.Close()

	for ctx.Err() == nil {
		n, err := j.Next()
		if err != nil {
			c.fatal(ctx, collectors.NewError(collectors.ErrorKindSystem, "journal read failed", err))
			return
		}
		if n == 0 {
			j.Wait(c.cfg.WaitInterval)
			continue
		}

		entry, err := j.GetEntry()
		if err != nil {
			// a single unreadable entry does not invalidate the journal
			c.RecordFailure(collectors.NewError(collectors.ErrorKindParse, "failed to decode journal entry", err))
			continue
		}

		c.emit(ctx, out, entry)
	}
}

func (c *Collector) emit(ctx context.Context, out chan<- collectors.Event, entry *sdjournal.JournalEntry) {
	msg, ok := entry.Fields[sdjournal.SD_JOURNAL_FIELD_MESSAGE]
	if !ok {
		c.RecordFailure(collectors.NewError(collectors.ErrorKindParse, "journal entry without MESSAGE field", nil))
		return
	}

	metadata := map[string]string{}
	if unit, ok := entry.Fields[sdjournal.SD_JOURNAL_FIELD_SYSTEMD_UNIT]; ok {
		metadata["unit"] = unit
	}
	if prio, ok := entry.Fields[sdjournal.SD_JOURNAL_FIELD_PRIORITY]; ok {
		metadata["priority"] = prio
	}
	if pid, ok := entry.Fields[sdjournal.SD_JOURNAL_FIELD_PID]; ok {
		metadata["pid"] = pid
	}

	c.SendEvent(ctx, out, collectors.Event{
		Timestamp: time.Unix(0, int64(entry.RealtimeTimestamp)*int64(time.Microsecond)),
		Source:    c.Name(),
		Data:      []byte(msg),
		Metadata:  metadata,
	})
}
