package statusderive

import (
	"context"

	"github.com/cbsinteractive/ump-gateway/internal/apipath"
	"github.com/cbsinteractive/ump-gateway/internal/ogc"
)

// ImmediateResults applies when the upstream body contains outputs and no
// status field: the provider executed synchronously. Synthesizes a
// terminal successful StatusInfo with progress=100 and a results link; the
// outputs themselves are never inlined into status_info beyond that link
// (spec.md §4.9).
type ImmediateResults struct{}

func (ImmediateResults) Derive(_ context.Context, in Input) (Result, bool, error) {
	m, ok := bodyMap(in)
	if !ok || !looksLikeImmediateResults(m) {
		return Result{}, false, nil
	}

	full := 100
	info := ogc.StatusInfo{
		Status:   ogc.StatusSuccessful,
		Progress: &full,
		Message:  "immediate synchronous results",
		Links: []ogc.Link{
			{Href: apipath.Base + "/jobs/" + in.LocalJobID + "/results", Rel: "results", Type: "application/json"},
		},
	}
	info = withLocalIdentity(info, in)
	return Result{Info: info}, true, nil
}
