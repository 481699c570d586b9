// Package handlers implements the ordered transform pipeline applied to
// every raw upstream process document before it enters any cache
// (spec.md §4.5). Grounded on original_source's ProcessManager handler list
// (_handle_process_id, _handle_fill_defaults, _handle_sanitize_metadata,
// _handle_rewrite_links), generalized into free functions over
// map[string]interface{} so the pipeline can run before the document is
// parsed into a typed ProcessSummary/ProcessDescriptor.
package handlers

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/cbsinteractive/ump-gateway/internal/apipath"
	"github.com/cbsinteractive/ump-gateway/internal/processid"
)

// Doc is a raw, not-yet-validated upstream process document.
type Doc = map[string]interface{}

// Handler transforms doc for the given provider, returning the transformed
// document. Returning an error means "drop this document" (e.g. id
// enforcement failed); the pipeline runner stops and returns the error to
// its caller. Nothing in the pipeline logs the dropped document.
type Handler func(providerName string, doc Doc) (Doc, error)

// Pipeline is an ordered, immutable sequence of Handlers.
type Pipeline struct {
	handlers []Handler
}

// New builds the default four-handler pipeline in spec-mandated order:
// ID enforcement, fill defaults, sanitize metadata, link rewrite.
// rewriteLinks/gatewayBaseURL configure the conditional final handler.
func New(rewriteLinks bool, gatewayBaseURL string) *Pipeline {
	return &Pipeline{handlers: []Handler{
		EnforceID,
		FillDefaults,
		SanitizeMetadata,
		RewriteLinks(rewriteLinks, gatewayBaseURL),
	}}
}

// Run applies every handler in order. If any handler returns an error the
// document is dropped (nil and the error are returned to the caller).
func (p *Pipeline) Run(providerName string, doc Doc) (Doc, error) {
	var err error
	for _, h := range p.handlers {
		doc, err = h(providerName, doc)
		if err != nil {
			return nil, err
		}
	}
	return doc, nil
}

// Add appends an extra handler, for callers that need to extend the
// default pipeline (mirrors original_source's add_process_handler).
func (p *Pipeline) Add(h Handler) {
	p.handlers = append(p.handlers, h)
}

// EnforceID overwrites the upstream "id" field with the canonical
// "{provider}:{bare_id}" form. Returns an error (dropping the document) if
// the upstream id is missing or malformed.
func EnforceID(providerName string, doc Doc) (Doc, error) {
	raw, _ := doc["id"].(string)
	if raw == "" {
		return nil, fmt.Errorf("handlers: process document from provider %q missing id", providerName)
	}
	bare := raw
	if id, err := processid.Parse(raw); err == nil && id.Provider == providerName {
		// Upstream already prefixed its own id with our provider name;
		// strip it so Compose doesn't double-prefix.
		bare = id.Bare
	}
	canonical := processid.Compose(providerName, bare)
	if _, err := processid.Parse(canonical); err != nil {
		return nil, fmt.Errorf("handlers: process document from provider %q has malformed id %q", providerName, raw)
	}
	doc["id"] = canonical
	return doc, nil
}

// FillDefaults injects OGC-mandated defaults a sparse upstream catalog may
// omit, never dropping a process purely for missing optional fields.
func FillDefaults(providerName string, doc Doc) (Doc, error) {
	if _, ok := doc["version"]; !ok {
		doc["version"] = "1.0.0"
	}
	if jco, ok := doc["jobControlOptions"].([]interface{}); !ok || len(jco) == 0 {
		doc["jobControlOptions"] = []interface{}{"async-execute"}
	}
	if ot, ok := doc["outputTransmission"].([]interface{}); !ok || len(ot) == 0 {
		doc["outputTransmission"] = []interface{}{"reference", "value"}
	}
	links, _ := doc["links"].([]interface{})
	if !hasSelfLink(links) {
		id, _ := doc["id"].(string)
		title, _ := doc["title"].(string)
		if title == "" {
			title = id
		}
		links = append(links, map[string]interface{}{
			"href":  apipath.Base + "/processes/" + id,
			"rel":   "self",
			"type":  "application/json",
			"title": title,
		})
		doc["links"] = links
	}
	return doc, nil
}

func hasSelfLink(links []interface{}) bool {
	for _, l := range links {
		m, ok := l.(map[string]interface{})
		if !ok {
			continue
		}
		if rel, _ := m["rel"].(string); rel == "self" {
			return true
		}
	}
	return false
}

// requiredMetadataKeys mirrors the original's Metadata model: title, role,
// href must all be present or the entry is dropped.
var requiredMetadataKeys = []string{"title", "role", "href"}

// SanitizeMetadata removes any metadata entry that is not a mapping, or
// that is a mapping missing one of the required keys. Malformed entries are
// dropped silently (not fatal to the document); the number dropped is not
// reported and nothing is logged.
func SanitizeMetadata(providerName string, doc Doc) (Doc, error) {
	if meta, ok := doc["metadata"]; ok {
		doc["metadata"] = sanitizeMetadataList(meta)
		if len(doc["metadata"].([]interface{})) == 0 {
			delete(doc, "metadata")
		}
	}
	if outputs, ok := doc["outputs"].(map[string]interface{}); ok {
		for _, v := range outputs {
			outDef, ok := v.(map[string]interface{})
			if !ok {
				continue
			}
			if meta, ok := outDef["metadata"]; ok {
				cleaned := sanitizeMetadataList(meta)
				if len(cleaned) == 0 {
					delete(outDef, "metadata")
				} else {
					outDef["metadata"] = cleaned
				}
			}
		}
	}
	return doc, nil
}

func sanitizeMetadataList(meta interface{}) []interface{} {
	list, ok := meta.([]interface{})
	if !ok {
		return nil
	}
	valid := make([]interface{}, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		complete := true
		for _, k := range requiredMetadataKeys {
			if _, ok := m[k]; !ok {
				complete = false
				break
			}
		}
		if complete {
			valid = append(valid, m)
		}
	}
	return valid
}

// RewriteLinks returns a handler that, when enabled, rewrites any link
// whose href is rooted at the provider's own base URL-looking host to the
// gateway's public base URL, preserving path/query/fragment. When disabled
// it is a no-op handler (still present in the pipeline for stable indexing).
func RewriteLinks(enabled bool, gatewayBaseURL string) Handler {
	return func(providerName string, doc Doc) (Doc, error) {
		if !enabled {
			return doc, nil
		}
		links, ok := doc["links"].([]interface{})
		if !ok {
			return doc, nil
		}
		id, _ := doc["id"].(string)
		for i, l := range links {
			m, ok := l.(map[string]interface{})
			if !ok {
				continue
			}
			href, _ := m["href"].(string)
			if href == "" {
				continue
			}
			m["href"] = rewriteHref(href, id, gatewayBaseURL)
			links[i] = m
		}
		doc["links"] = links
		return doc, nil
	}
}

// rewriteHref replaces a remote absolute href with a gateway-local one,
// preserving query and fragment. Relative hrefs and hrefs already under the
// gateway base are left untouched.
func rewriteHref(href, canonicalProcessID, gatewayBaseURL string) string {
	u, err := url.Parse(href)
	if err != nil || u.Host == "" {
		return href
	}
	base, err := url.Parse(gatewayBaseURL)
	if err == nil && u.Host == base.Host {
		return href
	}
	rewritten := strings.TrimRight(gatewayBaseURL, "/") + apipath.Base + "/processes/" + canonicalProcessID
	if u.RawQuery != "" {
		rewritten += "?" + u.RawQuery
	}
	if u.Fragment != "" {
		rewritten += "#" + u.Fragment
	}
	return rewritten
}
