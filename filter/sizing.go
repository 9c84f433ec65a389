// Package filter provides the typed Cuckoo Filter façade, its sizing
// heuristics, its binary serialized form, and a concurrency-safe wrapper
// around it — the parts the core cuckoo hashing engine
// (internal/cuckoo) explicitly leaves to an external collaborator.
package filter

import "math"

// MinEntriesPerBucket and MaxEntriesPerBucket bound the bucket width a
// caller may request; four is the widely cited sweet spot for load
// factor versus fingerprint size, so it is also the default.
const (
	MinEntriesPerBucket = 2
	MaxEntriesPerBucket = 8
	DefaultEntriesPerBucket = 4

	minFingerprintBits = 1
	maxFingerprintBits = 32
)

// EstimateShape translates a desired element capacity and target
// false-positive rate into a BucketTable shape: the number of buckets
// (always even, rounded up to a power of two so index() distributes
// evenly) and the fingerprint width in bits.
//
// Degenerate inputs are clamped rather than rejected, mirroring the
// teacher's EstimateParameters: zero capacity is treated as one item,
// and a false-positive rate outside (0, 1) is pulled back inside it.
//
// The fingerprint width follows the cuckoo filter bound f >= ceil(log2(2b/fpp))
// (b = entriesPerBucket), clamped to the BucketTable invariant [1, 32].
func EstimateShape(capacity uint64, fpp float64, entriesPerBucket uint32) (numBuckets uint64, numBitsPerEntry uint32) {
	if capacity == 0 {
		capacity = 1
	}
	if entriesPerBucket < MinEntriesPerBucket {
		entriesPerBucket = MinEntriesPerBucket
	} else if entriesPerBucket > MaxEntriesPerBucket {
		entriesPerBucket = MaxEntriesPerBucket
	}
	if fpp <= 0 {
		fpp = 1e-6
	} else if fpp >= 1 {
		fpp = 0.5
	}

	f := math.Ceil(math.Log2(2 * float64(entriesPerBucket) / fpp))
	numBitsPerEntry = uint32(f)
	if numBitsPerEntry < minFingerprintBits {
		numBitsPerEntry = minFingerprintBits
	} else if numBitsPerEntry > maxFingerprintBits {
		numBitsPerEntry = maxFingerprintBits
	}

	requiredEntries := uint64(math.Ceil(float64(capacity) / float64(entriesPerBucket)))
	numBuckets = nextEvenPowerOfTwo(requiredEntries)

	return numBuckets, numBitsPerEntry
}

// nextEvenPowerOfTwo rounds n up to the next power of two that is also
// even (i.e. at least 2), the alignment BucketTable requires of
// numBuckets for the alt-index reversibility invariant.
func nextEvenPowerOfTwo(n uint64) uint64 {
	if n < 2 {
		return 2
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	n++
	return n
}
