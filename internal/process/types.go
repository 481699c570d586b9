// Package process implements the Process Manager (spec.md §4.6): concurrent
// fan-out discovery across providers, the handler pipeline, and two-tier
// caching with bare-id resolution. Grounded on
// original_source/core/managers/process_manager.py, generalized from the
// teacher's single-provider model into a federation across N providers.
package process

import "github.com/cbsinteractive/ump-gateway/internal/ogc"

// Summary is a ProcessSummary (spec.md §3): the catalog-list shape.
type Summary struct {
	ID                 string      `json:"id"`
	Title              string      `json:"title,omitempty"`
	Version            string      `json:"version"`
	JobControlOptions  []string    `json:"jobControlOptions"`
	OutputTransmission []string    `json:"outputTransmission"`
	Links              []ogc.Link  `json:"links"`
}

// Descriptor is a ProcessDescriptor: a Summary extended with the
// inputs/outputs schema and metadata (spec.md §3).
type Descriptor struct {
	Summary
	Inputs   map[string]interface{} `json:"inputs,omitempty"`
	Outputs  map[string]interface{} `json:"outputs,omitempty"`
	Metadata []interface{}          `json:"metadata,omitempty"`
}

func summaryFromDoc(doc map[string]interface{}) Summary {
	s := Summary{
		ID:      stringOf(doc["id"]),
		Title:   stringOf(doc["title"]),
		Version: stringOf(doc["version"]),
		Links:   linksOf(doc["links"]),
	}
	s.JobControlOptions = stringsOf(doc["jobControlOptions"])
	s.OutputTransmission = stringsOf(doc["outputTransmission"])
	return s
}

func descriptorFromDoc(doc map[string]interface{}) Descriptor {
	d := Descriptor{Summary: summaryFromDoc(doc)}
	if in, ok := doc["inputs"].(map[string]interface{}); ok {
		d.Inputs = in
	}
	if out, ok := doc["outputs"].(map[string]interface{}); ok {
		d.Outputs = out
	}
	if meta, ok := doc["metadata"].([]interface{}); ok {
		d.Metadata = meta
	}
	return d
}

// descriptorFromSummary synthesizes a Descriptor from a bare Summary, used
// when a provider's single-process descriptor endpoint fails but the
// summary was already known from the list (spec.md §4.6).
func descriptorFromSummary(s Summary) Descriptor {
	return Descriptor{Summary: s}
}

func stringOf(v interface{}) string {
	s, _ := v.(string)
	return s
}

func stringsOf(v interface{}) []string {
	list, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func linksOf(v interface{}) []ogc.Link {
	list, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]ogc.Link, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		out = append(out, ogc.Link{
			Href:  stringOf(m["href"]),
			Rel:   stringOf(m["rel"]),
			Type:  stringOf(m["type"]),
			Title: stringOf(m["title"]),
		})
	}
	return out
}
