package process

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cbsinteractive/ump-gateway/internal/cache"
	"github.com/cbsinteractive/ump-gateway/internal/handlers"
	"github.com/cbsinteractive/ump-gateway/internal/httpclient"
	"github.com/cbsinteractive/ump-gateway/internal/processid"
	"github.com/cbsinteractive/ump-gateway/internal/providers"
)

// ErrNotFound is raised when no provider's catalog contains the requested
// process (spec.md §4.6, HTTP 404 equivalent).
var ErrNotFound = errors.New("process: not found")

// ErrAmbiguous is raised by Get in ResolveModeExplicitError when a bare id
// matches more than one provider.
var ErrAmbiguous = errors.New("process: bare id matches more than one provider")

// ResolveMode governs how Get disambiguates a bare (unprefixed) process id
// across multiple providers (spec.md §4.6 Open Question).
type ResolveMode int

const (
	// ResolveModeFirstMatch returns the first match in registry order
	// (the spec-mandated default, a deterministic tie-break).
	ResolveModeFirstMatch ResolveMode = iota
	// ResolveModeExplicitError rejects a bare id matching more than one
	// provider instead of silently picking one.
	ResolveModeExplicitError
)

// Manager is the Process Manager (spec.md §4.6).
type Manager struct {
	registry       *providers.Registry
	port           httpclient.Port
	pipeline       *handlers.Pipeline
	listCache      *cache.TTL[string, []Summary]
	descriptorCache *cache.Descriptor[Descriptor]
	resolveMode    ResolveMode
	maxConcurrency int
}

// Config configures a Manager.
type Config struct {
	CacheTTL       time.Duration
	ResolveMode    ResolveMode
	MaxConcurrency int // 0 means unbounded (errgroup default)
}

// NewManager builds a Process Manager over registry, issuing upstream
// requests through port and transforming documents through pipeline.
func NewManager(registry *providers.Registry, port httpclient.Port, pipeline *handlers.Pipeline, cfg Config) *Manager {
	return &Manager{
		registry:       registry,
		port:           port,
		pipeline:       pipeline,
		listCache:      cache.NewTTL[string, []Summary](cfg.CacheTTL),
		descriptorCache: cache.NewDescriptor[Descriptor](cfg.CacheTTL),
		resolveMode:    cfg.ResolveMode,
		maxConcurrency: cfg.MaxConcurrency,
	}
}

// ListAll fetches every configured provider's process catalog concurrently,
// transforms each document through the handler pipeline, and returns the
// concatenation. One provider's failure never aborts the others (spec.md
// §4.6, SPEC_FULL.md §6.4): errgroup isolates per-goroutine errors into an
// empty contribution rather than cancelling the group.
func (m *Manager) ListAll(ctx context.Context) ([]Summary, error) {
	provs := m.registry.List()
	results := make([][]Summary, len(provs))

	g, gctx := errgroup.WithContext(ctx)
	if m.maxConcurrency > 0 {
		g.SetLimit(m.maxConcurrency)
	}
	for i, p := range provs {
		i, p := i, p
		g.Go(func() error {
			results[i] = m.listOneProvider(gctx, p)
			return nil // never propagate: per-provider isolation
		})
	}
	_ = g.Wait() // errors are never returned from the goroutines above

	var all []Summary
	for _, r := range results {
		all = append(all, r...)
	}
	return all, nil
}

func (m *Manager) listOneProvider(ctx context.Context, p providers.Provider) []Summary {
	if cached, ok := m.listCache.Get(p.Name); ok {
		return cached
	}

	resp, err := m.port.Get(ctx, trimSlash(p.BaseURL)+"/processes", p.DefaultTimeout, authHeaders(p), true)
	if err != nil {
		return nil
	}
	body, ok := resp.BodyMap()
	if !ok {
		return nil
	}
	rawList, _ := body["processes"].([]interface{})

	var summaries []Summary
	for _, raw := range rawList {
		doc, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		policy := p.Policy(stringOf(doc["id"]))
		if policy.Excluded {
			continue
		}
		transformed, err := m.pipeline.Run(p.Name, doc)
		if err != nil {
			continue
		}
		summary := summaryFromDoc(transformed)
		summaries = append(summaries, summary)
		id, err := processid.Parse(summary.ID)
		if err == nil {
			m.descriptorCache.Put(summary.ID, id.Bare, descriptorFromSummary(summary))
		}
	}
	m.listCache.Put(p.Name, summaries)
	return summaries
}

// Get resolves idOrBare to a Descriptor, per spec.md §4.6: a canonical id
// goes straight to its provider; a bare id is resolved across the registry
// according to m.resolveMode.
func (m *Manager) Get(ctx context.Context, idOrBare string) (Descriptor, error) {
	if id, err := processid.Parse(idOrBare); err == nil {
		return m.getCanonical(ctx, id)
	}
	return m.getBare(ctx, idOrBare)
}

func (m *Manager) getCanonical(ctx context.Context, id processid.ID) (Descriptor, error) {
	if cached, ok := m.descriptorCache.GetCanonical(id.String()); ok {
		return cached, nil
	}
	p, ok := m.registry.Get(id.Provider)
	if !ok {
		return Descriptor{}, ErrNotFound
	}
	return m.fetchDescriptor(ctx, p, id)
}

func (m *Manager) getBare(ctx context.Context, bareID string) (Descriptor, error) {
	if cached, ok := m.descriptorCache.GetBare(bareID); ok && m.resolveMode == ResolveModeFirstMatch {
		return cached, nil
	}

	var matches []providers.Provider
	for _, p := range m.registry.List() {
		if _, ok := p.Processes[bareID]; ok || providerListContains(m, ctx, p, bareID) {
			matches = append(matches, p)
			if m.resolveMode == ResolveModeFirstMatch {
				break
			}
		}
	}
	if len(matches) == 0 {
		return Descriptor{}, ErrNotFound
	}
	if m.resolveMode == ResolveModeExplicitError && len(matches) > 1 {
		return Descriptor{}, ErrAmbiguous
	}
	id := processid.ID{Provider: matches[0].Name, Bare: bareID}
	return m.fetchDescriptor(ctx, matches[0], id)
}

// providerListContains checks whether p's cached or freshly-fetched list
// contains bareID, used as a fallback when the static policy map doesn't
// name every process (policies only override, they aren't exhaustive).
func providerListContains(m *Manager, ctx context.Context, p providers.Provider, bareID string) bool {
	for _, s := range m.listOneProvider(ctx, p) {
		id, err := processid.Parse(s.ID)
		if err == nil && id.Bare == bareID {
			return true
		}
	}
	return false
}

func (m *Manager) fetchDescriptor(ctx context.Context, p providers.Provider, id processid.ID) (Descriptor, error) {
	resp, err := m.port.Get(ctx, trimSlash(p.BaseURL)+"/processes/"+id.Bare, p.DefaultTimeout, authHeaders(p), true)
	if err != nil {
		// Synthesize from a known summary rather than failing outright
		// (spec.md §4.6: "if the descriptor endpoint fails, synthesize
		// the descriptor from the summary").
		if cached, ok := m.descriptorCache.GetCanonical(id.String()); ok {
			return cached, nil
		}
		return Descriptor{}, fmt.Errorf("process: fetching descriptor for %s: %w", id, err)
	}
	body, ok := resp.BodyMap()
	if !ok {
		return Descriptor{}, ErrNotFound
	}
	transformed, err := m.pipeline.Run(p.Name, body)
	if err != nil {
		return Descriptor{}, ErrNotFound
	}
	descriptor := descriptorFromDoc(transformed)
	m.descriptorCache.Put(descriptor.ID, id.Bare, descriptor)
	return descriptor, nil
}

func authHeaders(p providers.Provider) map[string]string {
	switch p.Auth.Type {
	case "bearer":
		return map[string]string{"Authorization": "Bearer " + p.Auth.Token}
	case "basic":
		return map[string]string{"Authorization": "Basic " + p.Auth.Token}
	default:
		return nil
	}
}

func trimSlash(s string) string {
	if len(s) > 0 && s[len(s)-1] == '/' {
		return s[:len(s)-1]
	}
	return s
}
