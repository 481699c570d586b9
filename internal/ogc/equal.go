package ogc

import "encoding/json"

// Equal reports whether two StatusInfo snapshots would serialize to the
// same bytes. The spec defines "byte-identical" in terms of the wire
// representation, not struct equality (timestamps with different
// monotonic readings but equal wall time must still compare equal), so we
// compare via the same JSON encoding the HTTP surface uses.
func Equal(a, b StatusInfo) bool {
	ab, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return string(ab) == string(bb)
}
