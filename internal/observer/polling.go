package observer

import (
	"github.com/cbsinteractive/ump-gateway/internal/job"
	"github.com/cbsinteractive/ump-gateway/internal/ogc"
)

// PollingSchedulerObserver schedules or cancels a job's background poll
// task as its status changes. It is deliberately callback-based rather
// than holding a reference to the Job Manager, so internal/observer never
// imports internal/jobmanager (the Job Manager is the one that imports
// observer, registering this with its own Schedule/Cancel methods bound).
type PollingSchedulerObserver struct {
	NoopObserver
	// Schedule is invoked when a job transitions to a non-terminal status
	// and has a remote_status_url. This observer calls it on every such
	// transition and does no de-duplication; the Job Manager's schedulePoll
	// keeps at most one live task per job id.
	Schedule func(jobID string)
	// Cancel is invoked when a job reaches a terminal status, to stop any
	// live poll task for it.
	Cancel func(jobID string)
}

func (o *PollingSchedulerObserver) OnStatusChanged(j *job.Job, _, newSnapshot ogc.StatusInfo) {
	if j.Terminal() {
		if o.Cancel != nil {
			o.Cancel(j.ID)
		}
		return
	}
	if j.RemoteStatusURL == "" {
		return
	}
	if o.Schedule != nil {
		o.Schedule(j.ID)
	}
}

func (o *PollingSchedulerObserver) OnJobCompleted(j *job.Job, _ ogc.StatusInfo) {
	if o.Cancel != nil {
		o.Cancel(j.ID)
	}
}
