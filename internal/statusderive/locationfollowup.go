package statusderive

import (
	"context"
	"fmt"

	"github.com/cbsinteractive/ump-gateway/internal/ogc"
)

// LocationFollowup applies when the body is not a StatusInfo and not an
// immediate-results body, but a Location header is present. It follows the
// header (absolute or provider-relative, even to a different host) with a
// GET through the HTTP Client Port and re-applies Direct/ImmediateResults
// to that response. The resolved URL is recorded as remote_status_url
// regardless of whether the follow-up succeeds (spec.md §4.9).
type LocationFollowup struct{}

func (LocationFollowup) Derive(ctx context.Context, in Input) (Result, bool, error) {
	if m, ok := bodyMap(in); ok && (looksLikeStatusInfo(m) || looksLikeImmediateResults(m)) {
		return Result{}, false, nil
	}
	loc := in.Response.Headers.Get("Location")
	if loc == "" {
		return Result{}, false, nil
	}
	resolved := resolveAgainst(in.ProviderBaseURL, loc)

	resp, err := in.Port.Get(ctx, resolved, in.ProviderTimeout, nil, true)
	if err != nil {
		info := ogc.StatusInfo{
			Status:  ogc.StatusFailed,
			Message: fmt.Sprintf("location follow-up GET to %s failed: %v", resolved, err),
		}
		info = withLocalIdentity(info, in)
		return Result{Info: info, RemoteStatusURL: resolved}, true, nil
	}

	followUp := in
	followUp.Response = resp

	if res, ok, derr := (DirectStatusInfo{}).Derive(ctx, followUp); ok {
		if derr != nil {
			return Result{}, false, derr
		}
		res.RemoteStatusURL = resolved
		return res, true, nil
	}
	if res, ok, derr := (ImmediateResults{}).Derive(ctx, followUp); ok {
		if derr != nil {
			return Result{}, false, derr
		}
		res.RemoteStatusURL = resolved
		return res, true, nil
	}
	res, _, _ := (FallbackFailed{}).Derive(ctx, followUp)
	res.RemoteStatusURL = resolved
	return res, true, nil
}
