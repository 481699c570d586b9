// Package providers holds the read-only, atomically-swappable snapshot of
// configured upstream process providers. The shape is generalized from the
// teacher's provider/provider.go factory registry (Register/GetFactory/List
// over a package-level map) into a remote-config registry: instead of
// registering in-process Factory functions, the registry holds Provider
// value snapshots loaded by the (out-of-scope) config adapter.
package providers

import (
	"sync/atomic"
	"time"

	"github.com/cbsinteractive/ump-gateway/internal/processid"
)

// ResultStorage is where a provider stores completed job results.
type ResultStorage string

const (
	ResultStorageRemote ResultStorage = "remote"
	ResultStorageLocal  ResultStorage = "local"
)

// ProcessPolicy configures gateway behavior for one bare process id within
// a provider.
type ProcessPolicy struct {
	Excluded      bool
	Anonymous     bool
	Deterministic bool
	ResultStorage ResultStorage
	GraphProps    map[string]interface{}
}

// AuthSpec describes how the gateway authenticates to a provider.
type AuthSpec struct {
	Type     string // "none", "bearer", "basic"
	Token    string
	Username string
	Password string
}

// Provider is an immutable snapshot of one configured upstream.
type Provider struct {
	Name           string
	BaseURL        string
	Auth           AuthSpec
	DefaultTimeout time.Duration
	Processes      map[string]ProcessPolicy
}

// Policy returns the configured policy for a bare id, or a default policy
// (all flags false, remote result storage) if unconfigured.
func (p Provider) Policy(bareID string) ProcessPolicy {
	if pol, ok := p.Processes[bareID]; ok {
		return pol
	}
	return ProcessPolicy{ResultStorage: ResultStorageRemote}
}

// snapshot is the immutable, ordered view swapped atomically by Registry.
type snapshot struct {
	order []string
	byName map[string]Provider
}

// Registry is a read-only accessor over the currently configured
// providers. Registry is safe for concurrent use; Swap atomically replaces
// the whole view so in-flight readers always see a consistent snapshot.
type Registry struct {
	ptr atomic.Pointer[snapshot]
}

// NewRegistry builds a Registry from an ordered provider list. Order is
// preserved for the bare-id first-match-wins resolution policy.
func NewRegistry(list []Provider) *Registry {
	r := &Registry{}
	r.Swap(list)
	return r
}

// Swap atomically replaces the registry's contents. Safe to call from a
// background config-reload task while requests are in flight.
func (r *Registry) Swap(list []Provider) {
	s := &snapshot{
		order:  make([]string, 0, len(list)),
		byName: make(map[string]Provider, len(list)),
	}
	for _, p := range list {
		s.order = append(s.order, p.Name)
		s.byName[p.Name] = p
	}
	r.ptr.Store(s)
}

// Get returns the named provider and true if configured.
func (r *Registry) Get(name string) (Provider, bool) {
	s := r.ptr.Load()
	if s == nil {
		return Provider{}, false
	}
	p, ok := s.byName[name]
	return p, ok
}

// List returns providers in configured (registration) order.
func (r *Registry) List() []Provider {
	s := r.ptr.Load()
	if s == nil {
		return nil
	}
	out := make([]Provider, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.byName[name])
	}
	return out
}

// Resolve returns the provider named by a canonical process id's provider
// component.
func (r *Registry) Resolve(canonicalID string) (Provider, bool) {
	id, err := processid.Parse(canonicalID)
	if err != nil {
		return Provider{}, false
	}
	return r.Get(id.Provider)
}
