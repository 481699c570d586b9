package jobmanager

import "errors"

// ErrNotFound means the requested process id does not resolve to any
// configured provider (spec.md §4.11 step 1: raised before any Job is
// created or persisted).
var ErrNotFound = errors.New("jobmanager: process not found")

// ErrShuttingDown is returned by CreateAndForward once Shutdown has been
// called; in-flight calls are allowed to finish but no new ones are
// accepted (spec.md §4.11).
var ErrShuttingDown = errors.New("jobmanager: gateway is shutting down")

// ErrJobNotFound is returned by job-id-scoped lookups.
var ErrJobNotFound = errors.New("jobmanager: job not found")
