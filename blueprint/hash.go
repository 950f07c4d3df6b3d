package blueprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

// TopologyHash computes a deterministic fingerprint of b's adjacency,
// used as the cache-key prefix in the executor's cache lookup.
func TopologyHash(b *Blueprint) string {
	g := DependencyGraph(b)
	ids := append([]string(nil), g.nodes...)
	sort.Strings(ids)

	var sb strings.Builder
	for _, id := range ids {
		deps := append([]string(nil), g.Dependencies(id)...)
		sort.Strings(deps)
		sb.WriteString(id)
		sb.WriteByte(':')
		sb.WriteString(strings.Join(deps, ","))
		sb.WriteByte(';')
	}

	h := sha256.Sum256([]byte(sb.String()))
	return "sha256:" + hex.EncodeToString(h[:])
}

// CanonicalJSON re-marshals v with sorted map keys, used by the
// executor's cache key. json.Marshal already sorts map[string]any keys;
// this helper exists so callers don't depend on that being an
// implementation detail they assume.
func CanonicalJSON(v interface{}) (json.RawMessage, error) {
	return json.Marshal(v)
}
