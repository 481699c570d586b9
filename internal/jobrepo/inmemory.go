package jobrepo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cbsinteractive/ump-gateway/internal/job"
	"github.com/cbsinteractive/ump-gateway/internal/ogc"
)

// InMemory is a Repository backed by a map, guarded by one mutex plus a
// per-job lock map so concurrent operations on different jobs never block
// each other, mirroring the teacher's per-job serialization requirement.
type InMemory struct {
	mu      sync.RWMutex
	jobs    map[string]*job.Job
	history map[string][]HistoryEntry
	locks   map[string]*sync.Mutex
}

// NewInMemory builds an empty in-memory repository.
func NewInMemory() *InMemory {
	return &InMemory{
		jobs:    make(map[string]*job.Job),
		history: make(map[string][]HistoryEntry),
		locks:   make(map[string]*sync.Mutex),
	}
}

func (r *InMemory) lockFor(id string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[id]
	if !ok {
		l = &sync.Mutex{}
		r.locks[id] = l
	}
	return l
}

// Create stores j if no job with the same id exists.
func (r *InMemory) Create(_ context.Context, j *job.Job) error {
	l := r.lockFor(j.ID)
	l.Lock()
	defer l.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[j.ID]; ok {
		return ErrExists
	}
	r.jobs[j.ID] = j.Clone()
	return nil
}

// Get returns a deep copy of the stored job.
func (r *InMemory) Get(_ context.Context, id string) (*job.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return j.Clone(), nil
}

// Update conditionally replaces the stored job, preserving id/created/process_id.
func (r *InMemory) Update(_ context.Context, j *job.Job) error {
	l := r.lockFor(j.ID)
	l.Lock()
	defer l.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.jobs[j.ID]
	if !ok {
		return ErrNotFound
	}
	cp := j.Clone()
	cp.Created = existing.Created
	cp.ProcessID = existing.ProcessID
	r.jobs[j.ID] = cp
	return nil
}

// List returns jobs matching f, newest-created-first, paged by Offset/Limit.
func (r *InMemory) List(_ context.Context, f Filter) ([]*job.Job, error) {
	r.mu.RLock()
	all := make([]*job.Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		all = append(all, j)
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, k int) bool { return all[i].Created.After(all[k].Created) })

	var matched []*job.Job
	for _, j := range all {
		if len(f.Status) > 0 && !containsStatus(f.Status, j.StatusCode) {
			continue
		}
		matched = append(matched, j.Clone())
	}

	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(matched) {
		matched = matched[:f.Limit]
	}
	return matched, nil
}

func containsStatus(list []job.StatusCode, s job.StatusCode) bool {
	for _, c := range list {
		if c == s {
			return true
		}
	}
	return false
}

// AppendStatus appends a history entry, skipping byte-identical repeats.
func (r *InMemory) AppendStatus(_ context.Context, id string, observedAtNanos int64, snapshot ogc.StatusInfo) error {
	l := r.lockFor(id)
	l.Lock()
	defer l.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[id]; !ok {
		return ErrNotFound
	}
	hist := r.history[id]
	if len(hist) > 0 && sameSnapshot(hist[len(hist)-1].Snapshot, snapshot) {
		return nil
	}
	var seq int64
	if len(hist) > 0 {
		seq = hist[len(hist)-1].Seq + 1
	}
	r.history[id] = append(hist, HistoryEntry{
		JobID:      id,
		Seq:        seq,
		ObservedAt: observedAtNanos,
		Snapshot:   snapshot.Clone(),
	})
	return nil
}

// History returns the full append-only history for id, oldest first.
func (r *InMemory) History(_ context.Context, id string) ([]HistoryEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hist, ok := r.history[id]
	if !ok {
		if _, jok := r.jobs[id]; !jok {
			return nil, ErrNotFound
		}
		return nil, nil
	}
	out := make([]HistoryEntry, len(hist))
	copy(out, hist)
	return out, nil
}

// MarkFailed loads, applies job.MarkFailed, and persists in one per-job
// critical section.
func (r *InMemory) MarkFailed(_ context.Context, id string, nowNanos int64, reason string) (*job.Job, error) {
	l := r.lockFor(id)
	l.Lock()
	defer l.Unlock()

	r.mu.Lock()
	existing, ok := r.jobs[id]
	r.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	cp := existing.Clone()
	if cp.Terminal() {
		return cp, nil
	}
	cp.MarkFailed(time.Unix(0, nowNanos).UTC(), reason)

	r.mu.Lock()
	r.jobs[id] = cp.Clone()
	r.mu.Unlock()
	return cp, nil
}
