package storage

import (
	"context"
	"time"
)

// Store holds the authoritative state of every submitted job.
//
// Mutations on a single job are serialized and every read observes a
// consistent snapshot. Once a job is completed or failed all mutating calls
// return ErrInvalidTransition.
type Store interface {
	Create(ctx context.Context, params Params) (Job, error)
	Get(ctx context.Context, id string) (Job, error)
	// Results returns the records from index from onward together with the
	// total number of records accumulated so far.
	Results(ctx context.Context, id string, from int) ([]Result, int, error)
	AppendResults(ctx context.Context, id string, records []Result) error
	SetProgress(ctx context.Context, id string, current, target int) error
	MarkRunning(ctx context.Context, id string) error
	Complete(ctx context.Context, id string, filename string) error
	Fail(ctx context.Context, id string, message string) error
	Close() error
}

// Evicter is implemented by backends that need an external retention sweep.
// Redis expires keys on its own and does not implement it.
type Evicter interface {
	// EvictBefore deletes terminal jobs last updated before cutoff and
	// returns how many were removed.
	EvictBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// sliceFrom returns a copy of records[from:], clamping from into range.
func sliceFrom(records []Result, from int) []Result {
	if from < 0 {
		from = 0
	}
	if from >= len(records) {
		return []Result{}
	}
	out := make([]Result, len(records)-from)
	copy(out, records[from:])
	return out
}
