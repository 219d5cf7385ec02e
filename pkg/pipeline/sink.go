package pipeline

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/openobs/harvest/pkg/collectors"
)

// WriterSink writes events as JSON lines to an io.Writer. It is the local
// debugging sink; shipping events to a remote system is a different
// component's job.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSink creates a sink writing to w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

type sinkRecord struct {
	Timestamp time.Time         `json:"timestamp"`
	Source    string            `json:"source"`
	Data      string            `json:"data"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Write serializes the batch, one JSON object per line.
func (s *WriterSink) Write(ctx context.Context, events []collectors.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	enc := json.NewEncoder(s.w)
	for _, ev := range events {
		rec := sinkRecord{
			Timestamp: ev.Timestamp,
			Source:    ev.Source,
			Data:      string(ev.Data),
			Metadata:  ev.Metadata,
		}
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}
	return nil
}

// Close is a no-op; the writer is owned by the caller.
func (s *WriterSink) Close() error {
	return nil
}
