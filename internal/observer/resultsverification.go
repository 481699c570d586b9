package observer

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/cbsinteractive/ump-gateway/internal/job"
	"github.com/cbsinteractive/ump-gateway/internal/jobrepo"
	"github.com/cbsinteractive/ump-gateway/internal/ogc"
	"github.com/cbsinteractive/ump-gateway/internal/providers"
	"github.com/cbsinteractive/ump-gateway/internal/verify"
)

// ResultsVerificationObserver re-probes a remote provider's results
// endpoint after a job commits to successful, catching providers that
// acknowledge completion but never actually persist outputs. Fire-and-
// forget: runs in its own goroutine so it never blocks OnJobCompleted's
// caller (the poll loop / create_and_forward path), per spec.md §4.10.
type ResultsVerificationObserver struct {
	NoopObserver
	verifier  *verify.Verifier
	registry  *providers.Registry
	repo      jobrepo.Repository
	now       func() int64
	log       *logrus.Logger
	downgrade bool // policy flag: demote to failed on a failed probe
}

// NewResultsVerificationObserver builds the observer. downgradeOnFailure
// mirrors the original's config-gated "optionally downgrades" behavior.
func NewResultsVerificationObserver(verifier *verify.Verifier, registry *providers.Registry, repo jobrepo.Repository, now func() int64, log *logrus.Logger, downgradeOnFailure bool) *ResultsVerificationObserver {
	return &ResultsVerificationObserver{
		verifier:  verifier,
		registry:  registry,
		repo:      repo,
		now:       now,
		log:       log,
		downgrade: downgradeOnFailure,
	}
}

func (o *ResultsVerificationObserver) OnJobCompleted(j *job.Job, finalSnapshot ogc.StatusInfo) {
	if finalSnapshot.Status != ogc.StatusSuccessful {
		return
	}
	if _, ok := finalSnapshot.LinkByRel("results"); !ok {
		return
	}
	provider, ok := o.registry.Get(j.ProviderName)
	if !ok || j.RemoteJobID == "" {
		// No remote job id means there is no remote results endpoint to
		// probe. The job manager's synchronous check also requires a
		// remote job id, so such jobs are not verified anywhere.
		return
	}

	jobID := j.ID
	go func() {
		err := o.verifier.Probe(context.Background(), provider, j.RemoteJobID, provider.DefaultTimeout)
		if err == nil {
			return
		}
		o.log.WithError(err).WithField("job_id", jobID).Warn("post-completion results verification failed")
		if !o.downgrade {
			return
		}
		if _, err := o.repo.MarkFailed(context.Background(), jobID, o.now(), "results verification probe failed after completion"); err != nil {
			o.log.WithError(err).WithField("job_id", jobID).Error("failed to downgrade job after failed results verification")
		}
	}()
}
