package jobrepo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cbsinteractive/ump-gateway/internal/job"
	"github.com/cbsinteractive/ump-gateway/internal/ogc"
)

// Redis is a Repository backed by redis/go-redis/v9, grounded on the
// teacher's db/redis package (hash-per-record plus a sorted index), adapted
// from transcode jobs to federated process jobs. Per-job serialization is
// provided by a redis-level lock key (SET NX PX) rather than an in-process
// mutex, since multiple gateway instances may share one redis.
type Redis struct {
	rdb    *redis.Client
	prefix string
	lockTTL time.Duration
}

// NewRedis wraps an existing client. prefix namespaces all keys (e.g.
// "ump:"), letting one redis instance host multiple gateway deployments.
func NewRedis(rdb *redis.Client, prefix string) *Redis {
	return &Redis{rdb: rdb, prefix: prefix, lockTTL: 5 * time.Second}
}

func (r *Redis) jobKey(id string) string     { return r.prefix + "job:" + id }
func (r *Redis) histKey(id string) string    { return r.prefix + "hist:" + id }
func (r *Redis) lockKey(id string) string    { return r.prefix + "lock:" + id }
func (r *Redis) indexKey() string            { return r.prefix + "jobs" }

// withLock acquires a short-lived redis lock for id, retrying briefly on
// contention, runs fn, then releases it. Mirrors the teacher's per-job
// serialization guarantee at the storage layer rather than in-process.
func (r *Redis) withLock(ctx context.Context, id string, fn func() error) error {
	key := r.lockKey(id)
	deadline := time.Now().Add(2 * time.Second)
	for {
		ok, err := r.rdb.SetNX(ctx, key, "1", r.lockTTL).Result()
		if err != nil {
			return fmt.Errorf("jobrepo: acquiring lock for %s: %w", id, err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("jobrepo: timed out acquiring lock for %s", id)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
	}
	defer r.rdb.Del(ctx, key)
	return fn()
}

// Create stores j if absent.
func (r *Redis) Create(ctx context.Context, j *job.Job) error {
	return r.withLock(ctx, j.ID, func() error {
		exists, err := r.rdb.Exists(ctx, r.jobKey(j.ID)).Result()
		if err != nil {
			return err
		}
		if exists == 1 {
			return ErrExists
		}
		encoded, err := json.Marshal(j)
		if err != nil {
			return err
		}
		pipe := r.rdb.TxPipeline()
		pipe.Set(ctx, r.jobKey(j.ID), encoded, 0)
		pipe.ZAdd(ctx, r.indexKey(), redis.Z{Score: float64(j.Created.UnixNano()), Member: j.ID})
		_, err = pipe.Exec(ctx)
		return err
	})
}

// Get loads and decodes the stored job.
func (r *Redis) Get(ctx context.Context, id string) (*job.Job, error) {
	encoded, err := r.rdb.Get(ctx, r.jobKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var j job.Job
	if err := json.Unmarshal(encoded, &j); err != nil {
		return nil, fmt.Errorf("jobrepo: decoding %s: %w", id, err)
	}
	return &j, nil
}

// Update conditionally replaces the stored job, preserving id/created/process_id.
func (r *Redis) Update(ctx context.Context, j *job.Job) error {
	return r.withLock(ctx, j.ID, func() error {
		existing, err := r.Get(ctx, j.ID)
		if err != nil {
			return err
		}
		cp := j.Clone()
		cp.Created = existing.Created
		cp.ProcessID = existing.ProcessID
		encoded, err := json.Marshal(cp)
		if err != nil {
			return err
		}
		return r.rdb.Set(ctx, r.jobKey(j.ID), encoded, 0).Err()
	})
}

// List returns jobs matching f, newest-created-first.
func (r *Redis) List(ctx context.Context, f Filter) ([]*job.Job, error) {
	ids, err := r.rdb.ZRevRange(ctx, r.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	var matched []*job.Job
	for _, id := range ids {
		j, err := r.Get(ctx, id)
		if err == ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		if len(f.Status) > 0 && !containsStatus(f.Status, j.StatusCode) {
			continue
		}
		matched = append(matched, j)
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

// AppendStatus pushes a history entry to a redis list, skipping
// byte-identical repeats of the last entry.
func (r *Redis) AppendStatus(ctx context.Context, id string, observedAtNanos int64, snapshot ogc.StatusInfo) error {
	return r.withLock(ctx, id, func() error {
		if exists, err := r.rdb.Exists(ctx, r.jobKey(id)).Result(); err != nil {
			return err
		} else if exists == 0 {
			return ErrNotFound
		}
		last, err := r.rdb.LIndex(ctx, r.histKey(id), -1).Bytes()
		if err != nil && err != redis.Nil {
			return err
		}
		var seq int64
		if err != redis.Nil {
			var prev HistoryEntry
			if decodeErr := json.Unmarshal(last, &prev); decodeErr == nil {
				if sameSnapshot(prev.Snapshot, snapshot) {
					return nil
				}
				seq = prev.Seq + 1
			}
		}
		entry := HistoryEntry{JobID: id, Seq: seq, ObservedAt: observedAtNanos, Snapshot: snapshot}
		encoded, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return r.rdb.RPush(ctx, r.histKey(id), encoded).Err()
	})
}

// History returns the full append-only history for id, oldest first.
func (r *Redis) History(ctx context.Context, id string) ([]HistoryEntry, error) {
	raw, err := r.rdb.LRange(ctx, r.histKey(id), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]HistoryEntry, 0, len(raw))
	for _, s := range raw {
		var e HistoryEntry
		if err := json.Unmarshal([]byte(s), &e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// MarkFailed loads, applies job.MarkFailed, and persists under one lock.
func (r *Redis) MarkFailed(ctx context.Context, id string, nowNanos int64, reason string) (*job.Job, error) {
	var result *job.Job
	err := r.withLock(ctx, id, func() error {
		j, err := r.Get(ctx, id)
		if err != nil {
			return err
		}
		if j.Terminal() {
			result = j
			return nil
		}
		j.MarkFailed(time.Unix(0, nowNanos).UTC(), reason)
		encoded, err := json.Marshal(j)
		if err != nil {
			return err
		}
		if err := r.rdb.Set(ctx, r.jobKey(id), encoded, 0).Err(); err != nil {
			return err
		}
		result = j
		return nil
	})
	return result, err
}
