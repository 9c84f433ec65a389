package cuckoo

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// Hasher is the object-to-hash bridge a Strategy needs. It is supplied by
// the caller so the core never depends on a concrete hash implementation;
// see XXHashBridge for the bundled default.
//
// Sum64 must be deterministic and platform-independent: the same bytes
// must always produce the same value, on any machine, in any process.
// That determinism is what makes fingerprints (and therefore the
// serialized table) portable across processes.
type Hasher interface {
	// Sum64 hashes an arbitrary byte slice to 64 bits. The low and high
	// 32-bit halves of the result seed, respectively, the primary index
	// and the fingerprint.
	Sum64(data []byte) uint64

	// Hash32 re-hashes a 32-bit integer (used to decorrelate a
	// fingerprint from the offset altIndex derives from it). It must be
	// a different mixing function than the one used to derive that
	// fingerprint in the first place, or the alt-index offset would be
	// trivially related to the fingerprint's own bit pattern.
	Hash32(i int32) int32
}

// XXHashBridge is the default Hasher, built on xxHash64
// (github.com/cespare/xxhash/v2). The reference design calls for a
// 128-bit object hash of which only the low 64 bits are consumed
// (MurmurHash3_128 in the original); xxHash64 supplies that same 64 bits
// of deterministic, platform-independent output with one hash pass
// instead of two, and no pack repo imports a murmur3 package to draw on
// instead.
//
// Hash32 folds xxHash64's 64-bit output down to 32 bits by XORing its
// halves, mirroring the SplitMix64-style decorrelation step the packaged
// probabilistic filters use to turn one hash into a second, unrelated
// one.
type XXHashBridge struct{}

// Sum64 implements Hasher.
func (XXHashBridge) Sum64(data []byte) uint64 {
	return xxhash.Sum64(data)
}

// Hash32 implements Hasher.
func (XXHashBridge) Hash32(i int32) int32 {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(i))
	h := xxhash.Sum64(buf[:])
	folded := uint32(h) ^ uint32(h>>32)
	return int32(folded)
}
