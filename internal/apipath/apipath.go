// Package apipath holds the single versioned mount prefix every
// self/results/location link the gateway emits must agree on, so a job or
// process link never 404s against the gateway's own router (spec.md:285;
// SPEC_FULL.md §2 commits this concrete system's api_base to
// /v{major}.{minor}/). Kept as its own leaf package, with no imports of its
// own, so both internal/api (the router) and the domain packages that mint
// links (internal/job, internal/handlers, internal/jobmanager) can depend
// on it without creating an import cycle.
package apipath

// Base is the versioned API mount prefix, e.g. "/v1.0".
const Base = "/v1.0"
