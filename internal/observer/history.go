package observer

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/cbsinteractive/ump-gateway/internal/job"
	"github.com/cbsinteractive/ump-gateway/internal/jobrepo"
	"github.com/cbsinteractive/ump-gateway/internal/ogc"
)

// StatusHistoryObserver appends to the append-only history table on
// job-created and status-changed; completion is already covered by the
// status-changed event that made the job terminal, so OnJobCompleted is a
// no-op (spec.md §4.10).
type StatusHistoryObserver struct {
	NoopObserver
	repo jobrepo.Repository
	now  func() int64 // unix nanos; injected so tests can fix it
	log  *logrus.Logger
}

// NewStatusHistoryObserver builds an observer backed by repo. now returns
// the current time as unix nanoseconds (time.Now().UnixNano in production).
func NewStatusHistoryObserver(repo jobrepo.Repository, now func() int64, log *logrus.Logger) *StatusHistoryObserver {
	return &StatusHistoryObserver{repo: repo, now: now, log: log}
}

func (o *StatusHistoryObserver) OnJobCreated(j *job.Job, snapshot ogc.StatusInfo) {
	if err := o.repo.AppendStatus(context.Background(), j.ID, o.now(), snapshot); err != nil {
		o.log.WithError(err).WithField("job_id", j.ID).Warn("status history append failed on creation")
	}
}

func (o *StatusHistoryObserver) OnStatusChanged(j *job.Job, _, newSnapshot ogc.StatusInfo) {
	if err := o.repo.AppendStatus(context.Background(), j.ID, o.now(), newSnapshot); err != nil {
		o.log.WithError(err).WithField("job_id", j.ID).Warn("status history append failed on transition")
	}
}
