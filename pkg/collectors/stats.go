package collectors

import "time"

// CollectorStats is an immutable point-in-time health snapshot of a single
// collector. Each field is individually consistent; the snapshot as a whole
// is advisory observability data, not input for correctness decisions.
//
// EventsCollected and EventsFailed are cumulative for the lifetime of the
// collector instance: they survive stop/start cycles and reset only when a
// new instance is constructed. Uptime is measured from the most recent
// successful Start and is zero while stopped.
type CollectorStats struct {
	// Name of the collector instance
	Name string

	// EventsCollected counts events successfully emitted into the channel
	EventsCollected int64

	// EventsFailed counts collection attempts that did not produce a
	// deliverable event (parse failure, timed-out delivery, read error)
	EventsFailed int64

	// IsRunning reports whether the collection activity is active
	IsRunning bool

	// Uptime since the most recent successful Start
	Uptime time.Duration

	// LastError holds the most recent failure description, empty if none
	LastError string
}
