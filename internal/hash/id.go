// Package hash provides the content hashes used by the container engine.
//
// Sum64 wraps xxHash64 for content keys such as schema and channel
// redefinition checks.
package hash

import "github.com/cespare/xxhash/v2"

// Sum64 computes the xxHash64 of the concatenation of parts.
func Sum64(parts ...[]byte) uint64 {
	d := xxhash.New()
	for _, p := range parts {
		_, _ = d.Write(p)
	}

	return d.Sum64()
}
