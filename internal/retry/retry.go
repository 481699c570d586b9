// Package retry implements the Retry Policy (spec.md §4.8): transient vs.
// terminal classification of upstream HTTP outcomes, wrapped around
// cenkalti/backoff/v4 the way the teacher wraps its provider calls in
// service/service.go's retry loop.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/cbsinteractive/ump-gateway/internal/httpclient"
)

// Policy holds the retry schedule configuration (spec.md §4.8 defaults).
type Policy struct {
	MaxAttempts uint64
	BaseWait    time.Duration
	MaxWait     time.Duration
}

// Default returns the spec-mandated default policy: 3 attempts, 1s base, 5s cap.
func Default() Policy {
	return Policy{MaxAttempts: 3, BaseWait: time.Second, MaxWait: 5 * time.Second}
}

// StatusError represents a non-2xx upstream HTTP response being classified
// by the Retry Policy; Status Derivation receives the Response for the
// terminal case, so this only carries enough to classify.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return "retry: upstream returned non-2xx status"
}

// transient applies spec.md §4.8's classification table.
func transient(err error) bool {
	if err == nil {
		return false
	}
	var transportErr *httpclient.TransportError
	var timeoutErr *httpclient.TimeoutError
	var badGatewayErr *httpclient.BadGatewayError
	if errors.As(err, &transportErr) || errors.As(err, &timeoutErr) || errors.As(err, &badGatewayErr) {
		return true
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == 408 || statusErr.StatusCode == 429:
			return true
		case statusErr.StatusCode >= 502 && statusErr.StatusCode <= 504:
			return true
		case statusErr.StatusCode >= 400 && statusErr.StatusCode < 500:
			return false
		default:
			return false
		}
	}
	return false
}

// ClassifyStatus wraps a raw upstream status code into an error the Policy
// can classify, or nil for 2xx. Callers (Job Manager, Status Derivation)
// use this to turn an httpclient.Response into something Do can retry on.
func ClassifyStatus(statusCode int) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	return &StatusError{StatusCode: statusCode}
}

// Do executes fn under the policy, retrying transient failures with
// exponential backoff (base*2^(n-1), capped at MaxWait, with jitter) up to
// MaxAttempts total tries. A non-transient error is wrapped in
// backoff.Permanent so cenkalti/backoff stops immediately. The last error
// observed is returned verbatim (unwrapped from backoff.Permanent if
// applicable) on exhaustion. onRetry, if non-nil, is called once per retried
// attempt (not on the initial try) so callers can count retries in their own
// metrics without Do importing a metrics package itself; pass nil to ignore.
//
// p.MaxAttempts == 0 is treated as "one attempt, no retries" rather than a
// configuration error: the gateway's own load-bearing call sites always run
// through config.Env.Validate first (see internal/config), so Do itself
// stays permissive and only ever sees an already-validated Policy. PollRetry
// is the one caller that still falls back inline (internal/jobmanager/poll.go)
// since it isn't sourced from config.Env's ForwardMaxRetries field.
func Do[T any](ctx context.Context, p Policy, onRetry func(), fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	var lastErr error

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.BaseWait
	bo.MaxInterval = p.MaxWait
	bo.Multiplier = 2
	bo.MaxElapsedTime = 0 // bounded by attempt count, not elapsed time

	attempts := p.MaxAttempts
	if attempts == 0 {
		attempts = 1
	}
	withCtx := backoff.WithContext(bo, ctx)
	bounded := backoff.WithMaxRetries(withCtx, attempts-1)

	err := backoff.RetryNotify(func() error {
		r, err := fn(ctx)
		if err == nil {
			result = r
			return nil
		}
		lastErr = err
		if transient(err) {
			return err
		}
		return backoff.Permanent(err)
	}, bounded, func(error, time.Duration) {
		if onRetry != nil {
			onRetry()
		}
	})

	if err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			return result, lastErr
		}
		return result, lastErr
	}
	return result, nil
}
