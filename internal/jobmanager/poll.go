package jobmanager

import (
	"context"
	"errors"
	"time"

	"github.com/cbsinteractive/ump-gateway/internal/httpclient"
	"github.com/cbsinteractive/ump-gateway/internal/job"
	"github.com/cbsinteractive/ump-gateway/internal/jobrepo"
	"github.com/cbsinteractive/ump-gateway/internal/ogc"
	"github.com/cbsinteractive/ump-gateway/internal/retry"
	"github.com/cbsinteractive/ump-gateway/internal/statusderive"
)

// schedulePoll starts a background poll task for jobID unless one is
// already live (spec.md §4.10: at most one live poll task per job id).
// Bound as the PollingSchedulerObserver's Schedule callback.
func (m *Manager) schedulePoll(jobID string) {
	m.mu.Lock()
	if m.shuttingDown {
		m.mu.Unlock()
		return
	}
	if _, live := m.pollTasks[jobID]; live {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(m.rootCtx)
	m.pollTasks[jobID] = cancel
	m.mu.Unlock()

	m.metrics.PollTasksActive.Inc()
	m.wg.Add(1)
	go m.runPollLoop(ctx, jobID)
}

// cancelPoll stops jobID's live poll task, if any. Bound as the
// PollingSchedulerObserver's Cancel callback.
func (m *Manager) cancelPoll(jobID string) {
	m.mu.Lock()
	cancel, ok := m.pollTasks[jobID]
	if ok {
		delete(m.pollTasks, jobID)
	}
	m.mu.Unlock()
	if ok {
		cancel()
	}
}

func (m *Manager) finishPollTask(jobID string) {
	m.mu.Lock()
	if _, ok := m.pollTasks[jobID]; ok {
		delete(m.pollTasks, jobID)
	}
	m.mu.Unlock()
	m.metrics.PollTasksActive.Dec()
	m.wg.Done()
}

// runPollLoop is the per-job background task (spec.md §4.11's Poll loop).
func (m *Manager) runPollLoop(ctx context.Context, jobID string) {
	defer m.finishPollTask(jobID)

	interval := m.cfg.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	deadline := time.Time{}
	if m.cfg.PollTimeout > 0 {
		if j, err := m.repo.Get(ctx, jobID); err == nil {
			deadline = j.Created.Add(m.cfg.PollTimeout)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.metrics.PollIterationsTotal.Inc()
			if !deadline.IsZero() && m.now().After(deadline) {
				m.timeoutJob(ctx, jobID)
				return
			}
			if !m.pollOnce(ctx, jobID) {
				return
			}
		}
	}
}

func (m *Manager) timeoutJob(ctx context.Context, jobID string) {
	j, err := m.repo.Get(ctx, jobID)
	if err != nil || j.Terminal() {
		return
	}
	old := j.Snapshot()
	j.MarkFailed(m.now(), "poll timeout exceeded without reaching a terminal state")
	if err := m.repo.Update(ctx, j); err != nil {
		m.log.WithError(err).WithField("job_id", jobID).Error("failed to persist poll-timeout job")
	}
	m.bus.FireStatusChanged(j, old, j.Snapshot())
	m.bus.FireJobCompleted(j, j.Snapshot())
	m.metrics.JobsCompletedTotal.WithLabelValues(j.ProviderName, string(job.StatusFailed)).Inc()
}

// pollOnce implements spec.md §4.11's poll_once, returning false when the
// loop should stop (job gone, terminal, or missing remote_status_url).
func (m *Manager) pollOnce(ctx context.Context, jobID string) bool {
	j, err := m.repo.Get(ctx, jobID)
	if err != nil {
		if !errors.Is(err, jobrepo.ErrNotFound) {
			m.log.WithError(err).WithField("job_id", jobID).Warn("poll_once: failed to load job")
		}
		return false
	}
	if j.Terminal() || j.RemoteStatusURL == "" {
		return false
	}

	policy := m.cfg.PollRetry
	if policy.MaxAttempts == 0 {
		policy.MaxAttempts = 1
	}
	resp, err := retry.Do(ctx, policy, nil, func(ctx context.Context) (httpclient.Response, error) {
		r, err := m.port.Get(ctx, j.RemoteStatusURL, providerTimeoutOrDefault(m, j), nil, true)
		if err != nil {
			return r, err
		}
		if statusErr := retry.ClassifyStatus(r.StatusCode); statusErr != nil {
			return r, statusErr
		}
		return r, nil
	})
	if err != nil {
		// HTTP errors during polling are logged and the loop continues
		// (spec.md §4.11): they never terminate the job on their own.
		m.log.WithError(err).WithField("job_id", jobID).Debug("poll request failed, will retry next interval")
		return true
	}

	derived, err := statusderive.Derive(ctx, statusderive.Input{
		ProviderBaseURL: providerBaseURLFor(m, j),
		ProviderTimeout: providerTimeoutOrDefault(m, j),
		LocalJobID:      j.ID,
		LocalProcessID:  j.ProcessID,
		Response:        resp,
		Port:            m.port,
	})
	if err != nil {
		m.log.WithError(err).WithField("job_id", jobID).Warn("status derivation failed during poll")
		return true
	}

	if ogc.Equal(derived.Info, j.StatusInfo) {
		// Byte-identical snapshot: no-op per spec.md §4.11 step 3, no
		// history append, no observers fired.
		return true
	}

	m.applySnapshot(ctx, j, derived)
	return !j.Terminal()
}

func providerBaseURLFor(m *Manager, j *job.Job) string {
	if p, ok := m.registry.Get(j.ProviderName); ok {
		return p.BaseURL
	}
	return ""
}

func providerTimeoutOrDefault(m *Manager, j *job.Job) time.Duration {
	if p, ok := m.registry.Get(j.ProviderName); ok && p.DefaultTimeout > 0 {
		return p.DefaultTimeout
	}
	return 30 * time.Second
}

// Shutdown signals every live poll task to stop, waits up to
// GracefulShutdownDeadline for them to exit, and releases the HTTP client.
// New CreateAndForward calls fail with ErrShuttingDown from this point;
// calls already in flight are allowed to complete (spec.md §4.11).
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.shuttingDown = true
	m.mu.Unlock()

	m.rootCancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	deadline := m.cfg.GracefulShutdownDeadline
	if deadline <= 0 {
		deadline = 10 * time.Second
	}
	select {
	case <-done:
	case <-time.After(deadline):
		m.log.Warn("shutdown grace deadline exceeded, some poll tasks may still be unwinding")
	case <-ctx.Done():
		return ctx.Err()
	}
	m.port.Close()
	return nil
}
