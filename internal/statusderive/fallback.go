package statusderive

import (
	"context"
	"fmt"

	"github.com/cbsinteractive/ump-gateway/internal/ogc"
)

// FallbackFailed is the last-resort strategy: always applicable. Produces
// a failed StatusInfo carrying the upstream status code and a truncated
// body excerpt (spec.md §4.9).
type FallbackFailed struct{}

func (FallbackFailed) Derive(_ context.Context, in Input) (Result, bool, error) {
	msg := fmt.Sprintf("upstream responded with status %d: %s", in.Response.StatusCode, excerptOf(in))
	info := ogc.StatusInfo{Status: ogc.StatusFailed, Message: msg}
	info = withLocalIdentity(info, in)
	return Result{Info: info}, true, nil
}
