// Package jobrepo implements the Job Repository port (spec.md §4.7): atomic,
// per-job-serialized storage of Job records plus an append-only status
// history. Grounded on the teacher's db.DB/db.JobAccessor port shape, with
// an in-memory adapter for tests and a redis/go-redis/v9 adapter for
// production (teacher used go-redis v6; SPEC_FULL.md upgrades to v9, the
// major the rest of the pack converges on).
package jobrepo

import (
	"context"
	"errors"

	"github.com/cbsinteractive/ump-gateway/internal/job"
	"github.com/cbsinteractive/ump-gateway/internal/ogc"
)

// ErrExists is returned by Create when a job with the same id already exists.
var ErrExists = errors.New("jobrepo: job already exists")

// ErrNotFound is returned by Get/Update/AppendStatus for an unknown id.
var ErrNotFound = errors.New("jobrepo: job not found")

// HistoryEntry is one append-only status snapshot (spec.md §3 StatusHistory
// entry). Seq is strictly increasing per job.
type HistoryEntry struct {
	JobID      string
	Seq        int64
	ObservedAt int64 // unix nanos; repositories never read the clock themselves
	Snapshot   ogc.StatusInfo
}

// Filter narrows List results.
type Filter struct {
	Status []job.StatusCode
	Offset int
	Limit  int
}

// Repository is the Job Repository port. Every mutation is atomic with
// respect to a single job id (internally serialized per-id); callers never
// need their own locking.
type Repository interface {
	Create(ctx context.Context, j *job.Job) error
	Get(ctx context.Context, id string) (*job.Job, error)
	Update(ctx context.Context, j *job.Job) error
	List(ctx context.Context, f Filter) ([]*job.Job, error)
	// AppendStatus appends observedAtNanos/snapshot to id's history with a
	// monotonic seq, a no-op if snapshot is byte-identical (ogc.Equal) to
	// the most recent entry.
	AppendStatus(ctx context.Context, id string, observedAtNanos int64, snapshot ogc.StatusInfo) error
	History(ctx context.Context, id string) ([]HistoryEntry, error)
	// MarkFailed is a convenience wrapper: load, job.MarkFailed, Update, in
	// one atomic per-job operation.
	MarkFailed(ctx context.Context, id string, nowNanos int64, reason string) (*job.Job, error)
}

func sameSnapshot(a, b ogc.StatusInfo) bool {
	return ogc.Equal(a, b)
}
