package gwconfig

import (
	"encoding/json"
	"hash/fnv"
)

// Hash returns a deterministic fingerprint of cfg. Two configs that differ
// only in the iteration order of a map-valued field (Provider.Params) hash
// equal, because encoding/json always marshals map keys in sorted order;
// fields that are slices (Providers, Models, Pipelines, Guards) are
// order-sensitive, matching how a config source actually produces them.
// Grounded on original_source/src/config/hash.rs.
func Hash(cfg *GatewayConfig) uint64 {
	// json.Marshal never fails on a GatewayConfig: every field is a plain
	// value, slice, or map of plain values.
	b, _ := json.Marshal(cfg)
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
