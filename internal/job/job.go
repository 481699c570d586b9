// Package job defines the Job domain model: the durable record of a single
// process execution request and its lifecycle (spec.md §3). Grounded on the
// teacher's job.Job (status/timestamps-on-a-struct shape), generalized from
// a single-provider transcode job to a federated upstream-provider job.
package job

import (
	"fmt"
	"time"

	"github.com/cbsinteractive/ump-gateway/internal/apipath"
	"github.com/cbsinteractive/ump-gateway/internal/ogc"
)

// StatusCode mirrors ogc.StatusCode; re-exported so callers importing job
// don't also need to import ogc for the common case.
type StatusCode = ogc.StatusCode

const (
	StatusAccepted   = ogc.StatusAccepted
	StatusRunning    = ogc.StatusRunning
	StatusSuccessful = ogc.StatusSuccessful
	StatusFailed     = ogc.StatusFailed
	StatusDismissed  = ogc.StatusDismissed
)

// InputsStorage distinguishes how inputs_snapshot is stored, per
// SPEC_FULL.md §5: small bodies inline, large ones referenced by handle.
type InputsStorage string

const (
	// InputsInline means InputsSnapshot holds the decoded inputs value
	// directly.
	InputsInline InputsStorage = "inline"
	// InputsObject marks a job whose inputs body exceeded
	// config.Env.InlineInputsSizeLimit. It is a label only: InputsSnapshot
	// still holds the decoded inputs value, and no object store is written.
	InputsObject InputsStorage = "object"
)

// Link is an OGC-style navigation link attached to a Job.
type Link = ogc.Link

// Job is the durable lifecycle record for one process execution.
type Job struct {
	ID              string        `json:"id"`
	ProcessID       string        `json:"process_id"`
	ProviderName    string        `json:"provider_name"`
	RemoteJobID     string        `json:"remote_job_id,omitempty"`
	RemoteStatusURL string        `json:"remote_status_url,omitempty"`
	StatusCode      StatusCode    `json:"status_code"`
	StatusInfo      ogc.StatusInfo `json:"status_info"`
	InputsSnapshot  interface{}   `json:"inputs_snapshot,omitempty"`
	InputsStorage   InputsStorage `json:"inputs_storage"`
	Diagnostic      string        `json:"diagnostic,omitempty"`
	Created         time.Time     `json:"created"`
	Started         *time.Time    `json:"started,omitempty"`
	Finished        *time.Time    `json:"finished,omitempty"`
	Updated         time.Time     `json:"updated"`
	Links           []Link        `json:"links"`
}

// Terminal reports whether the job's current status can no longer
// transition (spec.md §3 invariant).
func (j *Job) Terminal() bool {
	return j.StatusCode.Terminal()
}

// Snapshot returns a deep copy of the job's current StatusInfo, safe for an
// observer to retain past the call that produced it.
func (j *Job) Snapshot() ogc.StatusInfo {
	return j.StatusInfo.Clone()
}

// Clone returns a deep copy of the job, so repository callers can hand out
// values without aliasing internal state.
func (j *Job) Clone() *Job {
	cp := *j
	cp.StatusInfo = j.StatusInfo.Clone()
	if j.Started != nil {
		t := *j.Started
		cp.Started = &t
	}
	if j.Finished != nil {
		t := *j.Finished
		cp.Finished = &t
	}
	cp.Links = append([]Link(nil), j.Links...)
	return &cp
}

// SelfLink returns the job's canonical self link, minted at creation, under
// the gateway's versioned API mount (internal/apipath.Base).
func SelfLink(id string) Link {
	return Link{Href: apipath.Base + "/jobs/" + id, Rel: "self", Type: "application/json"}
}

// ResultsLink returns the results navigation link for a terminal-successful
// job, under the gateway's versioned API mount.
func ResultsLink(id string) Link {
	return Link{Href: apipath.Base + "/jobs/" + id + "/results", Rel: "results", Type: "application/json"}
}

// ErrTerminalTransition is returned by ApplyDerivedSnapshot when the job is
// already terminal; the spec requires such a claimed transition to be
// logged and ignored, not applied.
type ErrTerminalTransition struct {
	JobID string
	From  StatusCode
}

func (e *ErrTerminalTransition) Error() string {
	return fmt.Sprintf("job: %s is terminal at status %q, ignoring claimed transition", e.JobID, e.From)
}

// ApplyDerivedSnapshot updates the job's remote identifiers and status from
// a newly derived StatusInfo, enforcing the invariants in spec.md §3:
// started is set only on the accepted→non-accepted transition, finished is
// set only on entering a terminal state, and a job already terminal refuses
// any further transition. now is passed in rather than read from time.Now
// so callers control the timestamp (and tests can fix it).
func (j *Job) ApplyDerivedSnapshot(now time.Time, info ogc.StatusInfo, remoteJobID, remoteStatusURL string) error {
	if j.Terminal() {
		return &ErrTerminalTransition{JobID: j.ID, From: j.StatusCode}
	}
	wasAccepted := j.StatusCode == StatusAccepted
	j.StatusCode = info.Status
	j.StatusInfo = info
	if remoteJobID != "" {
		j.RemoteJobID = remoteJobID
	}
	if remoteStatusURL != "" {
		j.RemoteStatusURL = remoteStatusURL
	}
	if wasAccepted && info.Status != StatusAccepted && j.Started == nil {
		t := now
		j.Started = &t
	}
	if j.Terminal() {
		t := now
		j.Finished = &t
		if j.Started == nil {
			j.Started = &t
		}
		if info.Status == StatusSuccessful {
			j.Links = append(j.Links, ResultsLink(j.ID))
		}
	}
	j.Updated = now
	return nil
}

// MarkFailed forces the job into the terminal failed state with a
// human-readable diagnostic, used by forward-exhaustion and poll-timeout
// paths. It bypasses ApplyDerivedSnapshot's terminal guard since callers of
// MarkFailed already know the job isn't terminal (callers MUST check first
// if that matters to them).
func (j *Job) MarkFailed(now time.Time, reason string) {
	j.StatusCode = StatusFailed
	j.Diagnostic = reason
	j.StatusInfo.Status = StatusFailed
	j.StatusInfo.Message = reason
	j.StatusInfo.JobID = j.ID
	j.StatusInfo.ProcessID = j.ProcessID
	if j.Started == nil {
		t := now
		j.Started = &t
	}
	t := now
	j.Finished = &t
	j.Updated = now
}

// New constructs a freshly accepted Job. id must already be minted by the
// caller (google/uuid); New never generates one, keeping randomness at the
// composition boundary.
func New(id, processID, providerName string, inputs interface{}, storage InputsStorage, now time.Time) *Job {
	return &Job{
		ID:             id,
		ProcessID:      processID,
		ProviderName:   providerName,
		StatusCode:     StatusAccepted,
		InputsSnapshot: inputs,
		InputsStorage:  storage,
		Created:        now,
		Updated:        now,
		Links:          []Link{SelfLink(id)},
		StatusInfo: ogc.StatusInfo{
			ProcessID: processID,
			JobID:     id,
			Status:    StatusAccepted,
			Message:   "job accepted",
			Created:   &now,
			Updated:   &now,
		},
	}
}
