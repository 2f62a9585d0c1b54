// Package ptr provides the directory layer's byte-path addressing helpers:
// turning an allocated prefix into the half-open key range its subtree
// occupies, and the handful of predicates operations and tooling need to
// reason about whether one prefix contains or overlaps another.
//
// The teacher's own storage/internal/ptr plays the equivalent role for
// OPA's document store (resolving a storage.Path into the pointer inside a
// decoded JSON value); there is no nested document here to index into, so
// this package addresses byte-string prefixes instead of document paths,
// grounded on the same "resolve an address, don't duplicate the logic at
// every call site" idiom the teacher's ptr package embodies.
package ptr

import "bytes"

// Strinc returns the lexicographically smallest byte string strictly
// greater than every string with b as a prefix: the standard "increment the
// last non-0xFF byte, drop the trailing 0xFF run" trick used to turn a
// prefix into a range's exclusive upper bound.
func Strinc(b []byte) []byte {
	out := append([]byte(nil), b...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] < 0xFF {
			out[i]++
			return out[:i+1]
		}
	}
	// b is all 0xFF bytes: there is no finite byte string that is both a
	// valid successor and an upper bound for every extension of b. This
	// never arises for allocated directory prefixes in practice; extending
	// by one zero byte is an approximation, not a general solution.
	return append(out, 0x00)
}

// Range returns the half-open key range [prefix, end) that covers prefix
// and every key nested under it.
func Range(prefix []byte) (begin, end []byte) {
	return prefix, Strinc(prefix)
}

// Contains reports whether key falls inside prefix's subtree, i.e. key
// equals prefix or has prefix as a byte-string prefix.
func Contains(prefix, key []byte) bool {
	return bytes.HasPrefix(key, prefix)
}

// Overlaps reports whether the subtrees rooted at a and b overlap: neither
// one nests inside the other is not sufficient on its own, since one could
// still be a prefix of the other in either direction.
func Overlaps(a, b []byte) bool {
	return bytes.HasPrefix(a, b) || bytes.HasPrefix(b, a)
}
