// Package config loads gateway configuration: UMP_* environment variables
// via envconfig (the library the teacher's main.go already depended on for
// config.LoadConfig), and the provider catalog from YAML.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Env holds the environment-variable-driven configuration in spec.md §6.
// The colliding `API_SERVER_URL` variable mentioned in the original source
// is dropped in favor of UMP_API_SERVER_URL (see DESIGN.md Open Questions).
type Env struct {
	PollIntervalS      float64 `envconfig:"UMP_POLL_INTERVAL_S" default:"5"`
	PollTimeoutS       float64 `envconfig:"UMP_POLL_TIMEOUT_S"`
	ForwardMaxRetries  int     `envconfig:"UMP_FORWARD_MAX_RETRIES" default:"3"`
	ForwardRetryBaseS  float64 `envconfig:"UMP_FORWARD_RETRY_BASE_S" default:"1.0"`
	ForwardRetryMaxS   float64 `envconfig:"UMP_FORWARD_RETRY_MAX_S" default:"5.0"`
	RewriteRemoteLinks bool    `envconfig:"UMP_REWRITE_REMOTE_LINKS" default:"true"`
	ProcessCacheTTLS   int     `envconfig:"UMP_PROCESS_CACHE_TTL_S" default:"60"`
	APIServerURL       string  `envconfig:"UMP_API_SERVER_URL" default:"http://localhost:5000"`

	// Supplemented (not in spec.md's env var table, but load-bearing per
	// SPEC_FULL.md §6.8 / §5 — the original's JobManagerConfig fields).
	InlineInputsSizeLimit int  `envconfig:"UMP_INLINE_INPUTS_SIZE_LIMIT" default:"65536"`
	VerifyImmediateResults bool `envconfig:"UMP_VERIFY_IMMEDIATE_RESULTS" default:"true"`
	VerifyRemoteResults    bool `envconfig:"UMP_VERIFY_REMOTE_RESULTS" default:"true"`

	RedisAddr string `envconfig:"UMP_REDIS_ADDR" default:"localhost:6379"`
	RedisDB   int    `envconfig:"UMP_REDIS_DB" default:"0"`

	SentryDSN string `envconfig:"UMP_SENTRY_DSN"`
	Env       string `envconfig:"UMP_ENV" default:"development"`

	ProvidersConfigPath string `envconfig:"UMP_PROVIDERS_CONFIG" default:"providers.yaml"`
}

// Load reads Env from the process environment and validates it.
func Load() (Env, error) {
	var e Env
	if err := envconfig.Process("", &e); err != nil {
		return Env{}, fmt.Errorf("config: load env: %w", err)
	}
	if err := e.Validate(); err != nil {
		return Env{}, err
	}
	return e, nil
}

// Validate rejects configurations that would otherwise be silently
// reinterpreted deep inside other packages (spec.md §8). In particular
// UMP_FORWARD_MAX_RETRIES must be a positive attempt count: retry.Do treats
// a zero-valued Policy.MaxAttempts as "exactly one attempt" defensively, but
// that coercion is not how an operator should configure "one attempt" — it
// should be surfaced here, at load time, instead.
func (e Env) Validate() error {
	if e.ForwardMaxRetries <= 0 {
		return fmt.Errorf("config: UMP_FORWARD_MAX_RETRIES must be a positive attempt count, got %d", e.ForwardMaxRetries)
	}
	return nil
}

// PollInterval returns PollIntervalS as a time.Duration.
func (e Env) PollInterval() time.Duration {
	return time.Duration(e.PollIntervalS * float64(time.Second))
}

// PollTimeout returns PollTimeoutS as a time.Duration, or 0 if unset
// (PollTimeoutS <= 0 means "no timeout").
func (e Env) PollTimeout() time.Duration {
	if e.PollTimeoutS <= 0 {
		return 0
	}
	return time.Duration(e.PollTimeoutS * float64(time.Second))
}

// ForwardRetryBase returns ForwardRetryBaseS as a time.Duration.
func (e Env) ForwardRetryBase() time.Duration {
	return time.Duration(e.ForwardRetryBaseS * float64(time.Second))
}

// ForwardRetryMax returns ForwardRetryMaxS as a time.Duration.
func (e Env) ForwardRetryMax() time.Duration {
	return time.Duration(e.ForwardRetryMaxS * float64(time.Second))
}

// ProcessCacheTTL returns ProcessCacheTTLS as a time.Duration.
func (e Env) ProcessCacheTTL() time.Duration {
	return time.Duration(e.ProcessCacheTTLS) * time.Second
}
