// Package processid implements the canonical "{provider}:{bare_id}" process
// identifier codec. Grounded on original_source's ColonProcessId validator:
// split on the first colon, both halves must be non-empty and match
// [A-Za-z0-9_-]+.
package processid

import (
	"errors"
	"regexp"
	"strings"
)

// ErrInvalid is returned by Parse when s is not a well-formed canonical id.
var ErrInvalid = errors.New("processid: invalid canonical id")

var segment = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ID is a parsed canonical process identifier.
type ID struct {
	Provider string
	Bare     string
}

// String returns the canonical wire form "provider:bare".
func (id ID) String() string {
	return Compose(id.Provider, id.Bare)
}

// Parse splits s on the first colon and validates both halves. Bare ids
// from some upstream catalogs legitimately contain further colons (the
// remote process id itself may be colon-separated); those are preserved
// verbatim in the Bare half since we only ever split on the FIRST colon.
func Parse(s string) (ID, error) {
	i := strings.IndexByte(s, ':')
	if i <= 0 || i == len(s)-1 {
		return ID{}, ErrInvalid
	}
	provider, bare := s[:i], s[i+1:]
	if !segment.MatchString(provider) || !validBare(bare) {
		return ID{}, ErrInvalid
	}
	return ID{Provider: provider, Bare: bare}, nil
}

// validBare allows the bare half to itself contain colons (so a remote
// catalog that names processes "ns:proc" round-trips), requiring only that
// each colon-delimited segment match the usual character class.
func validBare(bare string) bool {
	if bare == "" {
		return false
	}
	for _, part := range strings.Split(bare, ":") {
		if !segment.MatchString(part) {
			return false
		}
	}
	return true
}

// Compose builds the canonical wire form from a provider name and bare id.
// If bare already carries a "provider:" prefix matching provider, it is
// stripped first so Compose(p, Compose(p, b)) == Compose(p, b).
func Compose(provider, bare string) string {
	if id, err := Parse(bare); err == nil && id.Provider == provider {
		bare = id.Bare
	}
	return provider + ":" + bare
}

// Extract cheaply detects whether s carries a provider prefix without
// fully validating it, returning the provider name and true if so.
func Extract(s string) (provider string, ok bool) {
	i := strings.IndexByte(s, ':')
	if i <= 0 || i == len(s)-1 {
		return "", false
	}
	return s[:i], true
}
