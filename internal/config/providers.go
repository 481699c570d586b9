package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cbsinteractive/ump-gateway/internal/providers"
)

// providersFile mirrors original_source/core/models/providers_config.py:
// a top-level `providers: []` list, each with auth, a default timeout, and
// a map of per-process policy overrides.
type providersFile struct {
	Providers []providerEntry `yaml:"providers"`
}

type providerEntry struct {
	Name             string                    `yaml:"name"`
	BaseURL          string                    `yaml:"base_url"`
	Auth             authEntry                 `yaml:"auth"`
	DefaultTimeoutMS int                       `yaml:"default_timeout_ms"`
	Processes        map[string]processEntry   `yaml:"processes"`
}

type authEntry struct {
	Type     string `yaml:"type"`
	Token    string `yaml:"token"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type processEntry struct {
	Excluded      bool                   `yaml:"excluded"`
	Anonymous     bool                   `yaml:"anonymous"`
	Deterministic bool                   `yaml:"deterministic"`
	ResultStorage string                 `yaml:"result_storage"`
	GraphProps    map[string]interface{} `yaml:"graph_props"`
}

// LoadProviders parses a provider catalog YAML file into ordered Provider
// snapshots ready for providers.NewRegistry / Registry.Swap.
func LoadProviders(path string) ([]providers.Provider, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read providers file %q: %w", path, err)
	}
	return ParseProviders(data)
}

// ParseProviders parses provider catalog YAML bytes, exposed separately
// from LoadProviders so tests and the hot-reload watcher can parse
// in-memory content without touching the filesystem.
func ParseProviders(data []byte) ([]providers.Provider, error) {
	var file providersFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("config: parse providers yaml: %w", err)
	}

	out := make([]providers.Provider, 0, len(file.Providers))
	for _, pe := range file.Providers {
		if pe.Name == "" || pe.BaseURL == "" {
			return nil, fmt.Errorf("config: provider entry missing name or base_url: %+v", pe)
		}
		timeout := time.Duration(pe.DefaultTimeoutMS) * time.Millisecond
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		policies := make(map[string]providers.ProcessPolicy, len(pe.Processes))
		for bareID, proc := range pe.Processes {
			storage := providers.ResultStorageRemote
			if proc.ResultStorage == string(providers.ResultStorageLocal) {
				storage = providers.ResultStorageLocal
			}
			policies[bareID] = providers.ProcessPolicy{
				Excluded:      proc.Excluded,
				Anonymous:     proc.Anonymous,
				Deterministic: proc.Deterministic,
				ResultStorage: storage,
				GraphProps:    proc.GraphProps,
			}
		}
		out = append(out, providers.Provider{
			Name:           pe.Name,
			BaseURL:        pe.BaseURL,
			DefaultTimeout: timeout,
			Auth: providers.AuthSpec{
				Type:     pe.Auth.Type,
				Token:    pe.Auth.Token,
				Username: pe.Auth.Username,
				Password: pe.Auth.Password,
			},
			Processes: policies,
		})
	}
	return out, nil
}
