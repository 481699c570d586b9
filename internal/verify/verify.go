// Package verify implements post-completion results verification: a
// GET probe against a provider's remote results endpoint, used both
// by the Job Manager's synchronous immediate-results check and by the
// asynchronous ResultsVerificationObserver (SPEC_FULL.md §6.8). Grounded
// on original_source's `_verify_remote_results`, split out of the job
// manager so both call sites share one implementation.
package verify

import (
	"context"
	"errors"
	"time"

	"github.com/cbsinteractive/ump-gateway/internal/httpclient"
	"github.com/cbsinteractive/ump-gateway/internal/processid"
	"github.com/cbsinteractive/ump-gateway/internal/providers"
)

// ErrVerificationFailed is returned when the probe itself errors or the
// remote endpoint answers with a non-2xx status.
var ErrVerificationFailed = errors.New("verify: remote results probe failed")

// Verifier probes a provider's remote results endpoint for a completed
// remote job.
type Verifier struct {
	port httpclient.Port
}

// New builds a Verifier using port for outbound probes.
func New(port httpclient.Port) *Verifier {
	return &Verifier{port: port}
}

// Probe issues a GET against {provider.BaseURL}/jobs/{remoteJobID}/results
// (the OGC results endpoint shape) and returns ErrVerificationFailed if the
// transport errors or the status is not 2xx.
func (v *Verifier) Probe(ctx context.Context, provider providers.Provider, remoteJobID string, timeout time.Duration) error {
	if remoteJobID == "" {
		return ErrVerificationFailed
	}
	if timeout <= 0 {
		timeout = provider.DefaultTimeout
	}
	url := trimSlash(provider.BaseURL) + "/jobs/" + remoteJobID + "/results"
	resp, err := v.port.Get(ctx, url, timeout, nil, false)
	if err != nil {
		return errors.Join(ErrVerificationFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ErrVerificationFailed
	}
	return nil
}

func trimSlash(s string) string {
	if len(s) > 0 && s[len(s)-1] == '/' {
		return s[:len(s)-1]
	}
	return s
}

// BareID extracts the bare process id segment from a canonical process id,
// used by callers that only hold the canonical form.
func BareID(canonicalProcessID string) string {
	id, err := processid.Parse(canonicalProcessID)
	if err != nil {
		return canonicalProcessID
	}
	return id.Bare
}
