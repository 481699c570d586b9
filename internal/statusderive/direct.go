package statusderive

import (
	"context"
	"fmt"

	"github.com/cbsinteractive/ump-gateway/internal/ogc"
)

// DirectStatusInfo applies when the upstream body parses as a StatusInfo
// (has both jobID and status). It captures remote_status_url from the
// Location header, synthesizing one from remote_job_id when no header is
// present (SPEC_FULL.md §6.6), and maps an unrecognized status value to
// failed per spec.md §4.9's edge case.
type DirectStatusInfo struct{}

func (DirectStatusInfo) Derive(_ context.Context, in Input) (Result, bool, error) {
	m, ok := bodyMap(in)
	if !ok || !looksLikeStatusInfo(m) {
		return Result{}, false, nil
	}

	remoteJobID := stringField(m, "jobID")
	rawStatus := stringField(m, "status")

	info := ogc.StatusInfo{}
	if !isKnownStatus(rawStatus) {
		msg := fmt.Sprintf("upstream reported unrecognized status %q", rawStatus)
		info.Status = ogc.StatusFailed
		info.Message = msg
	} else {
		info.Status = ogc.StatusCode(rawStatus)
		info.Message = stringField(m, "message")
		if p, ok := intField(m, "progress"); ok {
			info.Progress = &p
		}
	}
	info = withLocalIdentity(info, in)

	remoteStatusURL := ""
	if loc := in.Response.Headers.Get("Location"); loc != "" {
		remoteStatusURL = resolveAgainst(in.ProviderBaseURL, loc)
	} else if remoteJobID != "" {
		remoteStatusURL = fmt.Sprintf("%s/jobs/%s?f=json", trimSlash(in.ProviderBaseURL), remoteJobID)
	}

	return Result{Info: info, RemoteJobID: remoteJobID, RemoteStatusURL: remoteStatusURL}, true, nil
}

func trimSlash(s string) string {
	if len(s) > 0 && s[len(s)-1] == '/' {
		return s[:len(s)-1]
	}
	return s
}
