// Package statusderive implements Status Derivation (spec.md §4.9): the
// four ordered strategies that turn an upstream HTTP response into a
// canonical OGC StatusInfo. Grounded on original_source's
// status_derivation_strategies.py / status_derivation_orchestrator.py,
// translated into a Go strategy-interface dispatch in the teacher's style
// of small single-purpose types wired together in one orchestrator.
package statusderive

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/cbsinteractive/ump-gateway/internal/httpclient"
	"github.com/cbsinteractive/ump-gateway/internal/ogc"
)

// maxExcerpt bounds the truncated body excerpt in a Fallback Failure message.
const maxExcerpt = 512

// Input is everything a strategy needs to derive a snapshot from one
// upstream response.
type Input struct {
	ProviderBaseURL string
	ProviderTimeout time.Duration
	LocalJobID      string
	LocalProcessID  string
	Response        httpclient.Response
	Port            httpclient.Port
}

// Result is the derived snapshot, with the local job's public ids already
// substituted in (RemoteJobID/RemoteStatusURL are carried separately; they
// are never written into Info itself, per spec.md §3's invariant that
// remote_job_id never appears on a public route).
type Result struct {
	Info            ogc.StatusInfo
	RemoteJobID     string
	RemoteStatusURL string
}

// Strategy attempts to derive a Result from in. ok=false means "not
// applicable, try the next strategy".
type Strategy interface {
	Derive(ctx context.Context, in Input) (Result, bool, error)
}

// Strategies is the spec-mandated order: Direct, ImmediateResults,
// LocationFollowup, FallbackFailed (always applicable, last resort).
func Strategies() []Strategy {
	return []Strategy{
		DirectStatusInfo{},
		ImmediateResults{},
		LocationFollowup{},
		FallbackFailed{},
	}
}

// Derive runs the strategy chain in order and returns the first applicable
// result. FallbackFailed is always applicable, so this never returns an
// "no strategy matched" error. None of the built-in strategies returns an
// error either: a failed Location Follow-up GET yields a failed StatusInfo,
// so the error return only carries errors from other Strategy values.
func Derive(ctx context.Context, in Input) (Result, error) {
	for _, s := range Strategies() {
		res, ok, err := s.Derive(ctx, in)
		if err != nil {
			return Result{}, err
		}
		if ok {
			return res, nil
		}
	}
	// Unreachable: FallbackFailed.Derive always returns ok=true.
	return Result{}, fmt.Errorf("statusderive: no strategy matched (unreachable)")
}

// bodyMap extracts the response body as a map, if any.
func bodyMap(in Input) (map[string]interface{}, bool) {
	return in.Response.BodyMap()
}

// resolveAgainst resolves ref against base; used for both Location headers
// and provider-relative status URLs. An absolute ref with a different host
// than base is still returned as-is (spec.md §4.9 edge case: separate
// status hosts must still be followed).
func resolveAgainst(base, ref string) string {
	if ref == "" {
		return ""
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	if refURL.IsAbs() {
		return ref
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}

// stringField reads a string field from a loosely-typed body map.
func stringField(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// intField reads an int-ish numeric field (JSON numbers decode as float64).
func intField(m map[string]interface{}, key string) (int, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	}
	return 0, false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func excerptOf(in Input) string {
	if len(in.Response.Raw) > 0 {
		return truncate(string(in.Response.Raw), maxExcerpt)
	}
	return ""
}

func looksLikeStatusInfo(m map[string]interface{}) bool {
	_, hasJobID := m["jobID"]
	_, hasStatus := m["status"]
	return hasJobID && hasStatus
}

func looksLikeImmediateResults(m map[string]interface{}) bool {
	_, hasOutputs := m["outputs"]
	_, hasStatus := m["status"]
	return hasOutputs && !hasStatus
}

func isKnownStatus(s string) bool {
	switch ogc.StatusCode(s) {
	case ogc.StatusAccepted, ogc.StatusRunning, ogc.StatusSuccessful, ogc.StatusFailed, ogc.StatusDismissed:
		return true
	default:
		return false
	}
}

// withLocalIdentity stamps the gateway's own job/process ids onto info,
// since the upstream jobID/processID must never leak onto a public route.
func withLocalIdentity(info ogc.StatusInfo, in Input) ogc.StatusInfo {
	info.JobID = in.LocalJobID
	info.ProcessID = in.LocalProcessID
	if info.Type == "" {
		info.Type = "process"
	}
	return info
}
