// Package collectors defines the contract every event source in the agent
// implements: a lifecycle-managed producer that pushes events into a shared
// bounded channel and reports health through statistics snapshots.
package collectors

import (
	"context"
	"time"
)

// Event represents a single record collected from any source.
// The payload is opaque raw bytes; interpretation belongs to the consumer.
type Event struct {
	// Timestamp when the event was collected
	Timestamp time.Time

	// Source identifies the collector instance that produced this event
	Source string

	// Data contains the raw bytes from the source
	Data []byte

	// Metadata provides basic context without business logic
	Metadata map[string]string
}

// Collector is the minimal interface that all event sources implement.
//
// Implementations must be safe for concurrent use: Name, Start, Stop,
// IsRunning and Stats may be invoked from multiple goroutines at once, and
// implementations serialize their own state transitions rather than relying
// on callers to do so.
type Collector interface {
	// Name returns the stable, non-empty identifier for this collector
	Name() string

	// Start begins collection in the background, pushing produced events
	// into out. It returns once the collection goroutine is scheduled,
	// not once the first event is produced.
	// Returns a CollectorError of kind AlreadyRunning when called on a
	// running collector; any other error means the source could not be
	// initialized and the collector stays stopped.
	Start(ctx context.Context, out chan<- Event) error

	// Stop requests graceful termination of the collection goroutines and
	// releases all source resources. No events are pushed into the channel
	// after Stop returns. The wait for in-flight work is bounded by the
	// collector's shutdown timeout.
	// Returns a CollectorError of kind NotRunning when called on a stopped
	// collector.
	Stop() error

	// IsRunning reports whether the collection activity is active. It
	// reflects the most recently completed transition.
	IsRunning() bool

	// Stats returns a point-in-time snapshot. It never blocks on the
	// collection activity and never fails.
	Stats() CollectorStats
}
