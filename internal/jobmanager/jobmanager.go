// Package jobmanager implements the Job Manager (spec.md §4.11): the
// central coordinator for create-and-forward, the background poll loop,
// and graceful shutdown. Grounded on the teacher's service.Service as the
// "one big coordinator wired with explicit dependencies" shape, rebuilt
// around federated providers, Status Derivation, and the Observer Bus.
package jobmanager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/cbsinteractive/ump-gateway/internal/apipath"
	"github.com/cbsinteractive/ump-gateway/internal/exceptions"
	"github.com/cbsinteractive/ump-gateway/internal/httpclient"
	"github.com/cbsinteractive/ump-gateway/internal/job"
	"github.com/cbsinteractive/ump-gateway/internal/jobrepo"
	"github.com/cbsinteractive/ump-gateway/internal/metrics"
	"github.com/cbsinteractive/ump-gateway/internal/observer"
	"github.com/cbsinteractive/ump-gateway/internal/ogc"
	"github.com/cbsinteractive/ump-gateway/internal/process"
	"github.com/cbsinteractive/ump-gateway/internal/processid"
	"github.com/cbsinteractive/ump-gateway/internal/providers"
	"github.com/cbsinteractive/ump-gateway/internal/retry"
	"github.com/cbsinteractive/ump-gateway/internal/statusderive"
	"github.com/cbsinteractive/ump-gateway/internal/verify"
)

// Config holds the Job Manager's tunables. cmd/gateway sources most of them
// from config.Env; PollRetry and GracefulShutdownDeadline are set there as
// fixed values.
type Config struct {
	PollInterval             time.Duration
	PollTimeout              time.Duration // 0 disables the deadline
	ForwardRetry             retry.Policy
	PollRetry                retry.Policy
	VerifyImmediateResults   bool
	GracefulShutdownDeadline time.Duration
	InlineInputsSizeLimit    int
}

// Manager is the Job Manager (spec.md §4.11).
type Manager struct {
	cfg       Config
	repo      jobrepo.Repository
	registry  *providers.Registry
	processes *process.Manager
	port      httpclient.Port
	bus       *observer.Bus
	verifier  *verify.Verifier
	metrics   *metrics.Metrics
	reporter  exceptions.Reporter
	log       *logrus.Logger
	now       func() time.Time

	mu           sync.Mutex
	pollTasks    map[string]context.CancelFunc
	wg           sync.WaitGroup
	shuttingDown bool
	rootCtx      context.Context
	rootCancel   context.CancelFunc
}

// New builds a Job Manager and wires its own PollingSchedulerObserver into
// bus, bound to its own Schedule/Cancel methods (SPEC_FULL.md §6.7 keeps
// this binding out of the observer package to avoid an import cycle).
func New(cfg Config, repo jobrepo.Repository, registry *providers.Registry, processes *process.Manager, port httpclient.Port, bus *observer.Bus, verifier *verify.Verifier, m *metrics.Metrics, reporter exceptions.Reporter, log *logrus.Logger, now func() time.Time) *Manager {
	rootCtx, rootCancel := context.WithCancel(context.Background())
	mgr := &Manager{
		cfg:        cfg,
		repo:       repo,
		registry:   registry,
		processes:  processes,
		port:       port,
		bus:        bus,
		verifier:   verifier,
		metrics:    m,
		reporter:   reporter,
		log:        log,
		now:        now,
		pollTasks:  make(map[string]context.CancelFunc),
		rootCtx:    rootCtx,
		rootCancel: rootCancel,
	}
	bus.Register(&observer.PollingSchedulerObserver{
		Schedule: mgr.schedulePoll,
		Cancel:   mgr.cancelPoll,
	})
	return mgr
}

// CreateAndForward implements spec.md §4.11's primary operation.
func (m *Manager) CreateAndForward(ctx context.Context, canonicalOrBareProcessID string, inputs interface{}, headers map[string]string) (*job.Job, int, map[string]string, ogc.StatusInfo, error) {
	m.mu.Lock()
	shuttingDown := m.shuttingDown
	m.mu.Unlock()
	if shuttingDown {
		return nil, 0, nil, ogc.StatusInfo{}, ErrShuttingDown
	}

	descriptor, err := m.processes.Get(ctx, canonicalOrBareProcessID)
	if err != nil {
		if errors.Is(err, process.ErrNotFound) {
			return nil, 0, nil, ogc.StatusInfo{}, ErrNotFound
		}
		return nil, 0, nil, ogc.StatusInfo{}, fmt.Errorf("jobmanager: resolving process: %w", err)
	}
	id, err := processid.Parse(descriptor.ID)
	if err != nil {
		return nil, 0, nil, ogc.StatusInfo{}, fmt.Errorf("jobmanager: invalid canonical id %q: %w", descriptor.ID, err)
	}
	provider, ok := m.registry.Get(id.Provider)
	if !ok {
		return nil, 0, nil, ogc.StatusInfo{}, ErrNotFound
	}

	now := m.now()
	localID := uuid.NewString()
	storage := job.InputsInline
	if m.cfg.InlineInputsSizeLimit > 0 && approxSize(inputs) > m.cfg.InlineInputsSizeLimit {
		storage = job.InputsObject
	}
	j := job.New(localID, descriptor.ID, provider.Name, inputs, storage, now)

	if err := m.repo.Create(ctx, j); err != nil {
		return nil, 0, nil, ogc.StatusInfo{}, fmt.Errorf("jobmanager: persisting new job: %w", err)
	}
	m.metrics.JobsCreatedTotal.WithLabelValues(provider.Name).Inc()
	m.bus.FireJobCreated(j, j.Snapshot())

	execURL := trimSlash(provider.BaseURL) + "/processes/" + id.Bare + "/execution"
	resp, forwardErr := retry.Do(ctx, m.cfg.ForwardRetry, func() { m.metrics.ForwardRetriesTotal.Inc() }, func(ctx context.Context) (httpclient.Response, error) {
		r, err := m.port.Post(ctx, execURL, inputs, provider.DefaultTimeout, forwardHeaders(provider, headers), true)
		if err != nil {
			return r, err
		}
		if statusErr := retry.ClassifyStatus(r.StatusCode); statusErr != nil {
			return r, statusErr
		}
		return r, nil
	})

	if forwardErr != nil {
		old := j.Snapshot()
		j.MarkFailed(m.now(), fmt.Sprintf("forward request failed: %v", forwardErr))
		if err := m.repo.Update(ctx, j); err != nil {
			m.log.WithError(err).WithField("job_id", j.ID).Error("failed to persist forward-failure job")
		}
		m.bus.FireStatusChanged(j, old, j.Snapshot())
		m.bus.FireJobCompleted(j, j.Snapshot())
		m.metrics.JobsCompletedTotal.WithLabelValues(provider.Name, string(job.StatusFailed)).Inc()
		return j, 201, locationHeader(j.ID), j.StatusInfo, nil
	}

	derived, err := statusderive.Derive(ctx, statusderive.Input{
		ProviderBaseURL: provider.BaseURL,
		ProviderTimeout: provider.DefaultTimeout,
		LocalJobID:      j.ID,
		LocalProcessID:  j.ProcessID,
		Response:        resp,
		Port:            m.port,
	})
	if err != nil {
		m.reporter.ReportException(err)
		derived = statusderive.Result{Info: ogc.StatusInfo{
			JobID: j.ID, ProcessID: j.ProcessID, Status: job.StatusFailed,
			Message: fmt.Sprintf("status derivation failed: %v", err),
		}}
	}

	if m.cfg.VerifyImmediateResults && derived.Info.Status == job.StatusSuccessful && derived.RemoteJobID != "" {
		if verr := m.verifier.Probe(ctx, provider, derived.RemoteJobID, provider.DefaultTimeout); verr != nil {
			derived.Info.Status = job.StatusFailed
			derived.Info.Message = fmt.Sprintf("immediate results verification failed: %v", verr)
			derived.Info.Progress = nil
		}
	}

	m.applySnapshot(ctx, j, derived)
	return j, 201, locationHeader(j.ID), j.StatusInfo, nil
}

// applySnapshot centralizes spec.md §4.11 step 6: persist, fire
// on_status_changed, and on terminal fire on_job_completed too. A claimed
// transition out of a terminal state is logged and discarded, never
// applied (state machine guarantee).
func (m *Manager) applySnapshot(ctx context.Context, j *job.Job, derived statusderive.Result) {
	old := j.Snapshot()
	if err := j.ApplyDerivedSnapshot(m.now(), derived.Info, derived.RemoteJobID, derived.RemoteStatusURL); err != nil {
		m.log.WithError(err).WithField("job_id", j.ID).Warn("discarding claimed transition out of terminal state")
		return
	}
	if err := m.repo.Update(ctx, j); err != nil {
		m.log.WithError(err).WithField("job_id", j.ID).Error("failed to persist derived status")
	}
	m.bus.FireStatusChanged(j, old, j.Snapshot())
	if j.Terminal() {
		m.bus.FireJobCompleted(j, j.Snapshot())
		m.metrics.JobsCompletedTotal.WithLabelValues(j.ProviderName, string(j.StatusCode)).Inc()
	}
}

// Get returns the current state of a job.
func (m *Manager) Get(ctx context.Context, id string) (*job.Job, error) {
	j, err := m.repo.Get(ctx, id)
	if errors.Is(err, jobrepo.ErrNotFound) {
		return nil, ErrJobNotFound
	}
	return j, err
}

// List returns jobs matching f.
func (m *Manager) List(ctx context.Context, f jobrepo.Filter) ([]*job.Job, error) {
	return m.repo.List(ctx, f)
}

func locationHeader(jobID string) map[string]string {
	return map[string]string{"Location": apipath.Base + "/jobs/" + jobID}
}

func forwardHeaders(p providers.Provider, incoming map[string]string) map[string]string {
	h := map[string]string{}
	for k, v := range incoming {
		h[k] = v
	}
	switch p.Auth.Type {
	case "bearer":
		h["Authorization"] = "Bearer " + p.Auth.Token
	case "basic":
		h["Authorization"] = "Basic " + p.Auth.Token
	}
	return h
}

func trimSlash(s string) string {
	if len(s) > 0 && s[len(s)-1] == '/' {
		return s[:len(s)-1]
	}
	return s
}

// approxSize estimates an inputs payload's size in bytes for the
// inline-vs-object storage decision (SPEC_FULL.md §5); callers only need a
// rough bound, not an exact byte count, so fmt.Sprintf is adequate and
// avoids importing encoding/json twice for something this approximate.
func approxSize(v interface{}) int {
	return len(fmt.Sprintf("%v", v))
}
