// Package exceptions provides an exception reporting port, grounded on the
// teacher's service/exceptions.Reporter, carried forward unchanged in shape
// since it's a pure ambient concern untouched by the domain rewrite.
package exceptions

import (
	"time"

	"github.com/getsentry/sentry-go"
)

const defaultFlushTimeout = 5 * time.Second

// Reporter sends an error to an external monitoring source.
type Reporter interface {
	ReportException(err error)
}

// NoopReporter discards every exception; used in tests and local dev when
// no UMP_SENTRY_DSN is configured.
type NoopReporter struct{}

// ReportException does nothing.
func (r *NoopReporter) ReportException(_ error) {}

// SentryReporter sends exceptions to Sentry.
type SentryReporter struct{}

// NewSentryReporter initializes the sentry-go client for dsn/env and
// returns a reporter bound to it.
func NewSentryReporter(dsn, env string) (*SentryReporter, error) {
	if err := sentry.Init(sentry.ClientOptions{Dsn: dsn, Environment: env}); err != nil {
		return nil, err
	}
	return &SentryReporter{}, nil
}

// ReportException sends err to Sentry and blocks briefly to flush it.
func (r *SentryReporter) ReportException(err error) {
	sentry.CaptureException(err)
	sentry.Flush(defaultFlushTimeout)
}
