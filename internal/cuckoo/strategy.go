package cuckoo

import "fmt"

// MaxRelocationAttempts bounds the eviction ("kick") loop a Put falls
// back to once both of an item's candidate buckets are full. Reaching
// this limit means the table is rolled back and Put reports failure; it
// is not a retryable condition.
const MaxRelocationAttempts = 500

// Strategy derives a fingerprint and a pair of candidate bucket indices
// from an element's hash, and implements cuckoo hashing's insert/evict,
// delete, lookup, union and equivalence operations over a Table. A
// Strategy holds no state specific to any one Table — only a Hasher and
// the eviction-victim source described in eviction.go — so a single
// Strategy instance may drive any number of Tables, including
// concurrently (see eviction.go's locking note).
type Strategy struct {
	hasher Hasher
	evict  *evictionSource
}

func newStrategy(hasher Hasher) *Strategy {
	return &Strategy{hasher: hasher, evict: newEvictionSource(evictionSeed)}
}

// Fingerprint scans hash in f-bit windows from the least significant end
// upward and returns the first non-zero window; if every window is zero
// it returns 1. f must be in [1, 32]. The result is always in
// [1, 2^f), never EMPTY.
func Fingerprint(hash uint32, f uint32) uint32 {
	mask := fieldMask(f)
	numWindows := 32 / f
	for w := uint32(0); w < numWindows; w++ {
		window := (hash >> (w * f)) & mask
		if window != 0 {
			return window
		}
	}
	return 1
}

func fieldMask(f uint32) uint32 {
	if f >= 32 {
		return 0xFFFFFFFF
	}
	return (uint32(1) << f) - 1
}

// index computes the primary bucket for a 32-bit hash half, a Euclidean
// (always non-negative) modulo bound to [0, m).
func index(hash int32, m uint64) uint64 {
	return euclidMod(int64(hash), int64(m))
}

// altIndex computes the other bucket a fingerprint found at i is allowed
// to occupy. It is its own inverse: altIndex(altIndex(i, F, m), F, m) ==
// i for every i in [0, m) and every even m, because the offset is always
// odd and parsign flips sign with the parity of i — see the package doc
// and SPEC_FULL §4.3's derivation for why this requires m even.
func (s *Strategy) altIndex(i uint64, fingerprint uint32, m uint64) uint64 {
	offset := parsign(i) * odd(int64(s.hasher.Hash32(int32(fingerprint))))
	return euclidMod(protectedSum(int64(i), offset, int64(m)), int64(m))
}

func parsign(i uint64) int64 {
	if i%2 == 0 {
		return 1
	}
	return -1
}

func odd(i int64) int64 {
	return i | 1
}

// protectedSum returns (i + offset) mod m without risking signed integer
// overflow. If i + offset would overflow int64, it reduces i by m first
// (which does not change the eventual result modulo m) and retries; for
// any i in [0, m) and the small offsets this package produces, at most
// one such reduction is ever needed.
func protectedSum(i, offset, m int64) int64 {
	sum := i + offset
	overflowed := (i > 0 && offset > 0 && sum < 0) || (i < 0 && offset < 0 && sum > 0)
	if !overflowed {
		return sum
	}
	return protectedSum(i-m, offset, m)
}

// euclidMod returns x mod m in [0, m), unlike Go's %, which can be
// negative for negative x.
func euclidMod(x, m int64) uint64 {
	r := x % m
	if r < 0 {
		r += m
	}
	return uint64(r)
}

// candidateSlots computes the fingerprint and the two candidate bucket
// indices for an element, from the shared 64-bit hash split into two
// 32-bit halves per the package's hashing contract.
func (s *Strategy) candidateSlots(item []byte, table *Table) (fingerprint uint32, i1, i2 uint64) {
	h := s.hasher.Sum64(item)
	hash1 := int32(uint32(h))
	hash2 := uint32(h >> 32)

	fingerprint = Fingerprint(hash2, table.numBitsPerEntry)
	i1 = index(hash1, table.numBuckets)
	i2 = s.altIndex(i1, fingerprint, table.numBuckets)
	return fingerprint, i1, i2
}

// Put inserts item's fingerprint into table, preferring an empty slot in
// either candidate bucket and falling back to bounded eviction. It
// reports false, with table left bit-identical to its pre-call state, if
// no slot could be freed within MaxRelocationAttempts.
//
// Put never de-duplicates: inserting the same item twice stores two
// fingerprint copies, and both must be deleted to fully remove it from
// the table. Callers wanting set semantics should precede Put with
// MightContain.
func (s *Strategy) Put(item []byte, table *Table) bool {
	fingerprint, i1, _ := s.candidateSlots(item, table)
	return s.putFingerprint(fingerprint, i1, table)
}

// putFingerprint places fingerprint at bucket i1 or its alternate,
// falling back to eviction. It is the shared core of Put and PutAll,
// which differ only in how they arrive at (fingerprint, i1).
func (s *Strategy) putFingerprint(fingerprint uint32, i1 uint64, table *Table) bool {
	i2 := s.altIndex(i1, fingerprint, table.numBuckets)

	if entry := table.FindEntry(Empty, i1); entry >= 0 {
		table.SwapEntry(fingerprint, i1, uint32(entry))
		return true
	}
	if entry := table.FindEntry(Empty, i2); entry >= 0 {
		table.SwapEntry(fingerprint, i2, uint32(entry))
		return true
	}
	return s.evictAndPlace(fingerprint, i2, table)
}

// displacement is one step of the undo log kept while evicting: the slot
// written, and the value that was there immediately before.
type displacement struct {
	bucket   uint64
	entry    uint32
	previous uint32
	written  uint32
}

// evictAndPlace runs the bounded relocation loop starting at
// startIndex: each iteration writes the arriving fingerprint into a
// randomly-chosen entry of the current bucket, evicting whatever was
// there, then retries the eviction with the evicted value headed for its
// own alternate bucket. It returns true the moment an EMPTY slot is
// freed (including the defensive case where a "kicked" value turns out
// to already be EMPTY), and false — after fully rolling back every
// displacement — if the attempt budget is exhausted.
func (s *Strategy) evictAndPlace(fingerprint uint32, startIndex uint64, table *Table) bool {
	var log []displacement

	currentIndex := startIndex
	currentFingerprint := fingerprint

	for attempt := 0; attempt < MaxRelocationAttempts; attempt++ {
		entry := s.evict.next(table.numEntriesPerBucket)
		kicked := table.SwapEntry(currentFingerprint, currentIndex, entry)
		log = append(log, displacement{bucket: currentIndex, entry: entry, previous: kicked, written: currentFingerprint})

		if kicked == Empty {
			return true
		}

		currentIndex = s.altIndex(currentIndex, kicked, table.numBuckets)
		currentFingerprint = kicked
	}

	s.rollback(table, log)
	return false
}

// rollback undoes a failed eviction attempt in reverse order, restoring
// each displaced slot to the value it held before evictAndPlace touched
// it. Because it is a proper LIFO undo log, this is correct even if the
// same (bucket, entry) was visited more than once along the kick chain.
func (s *Strategy) rollback(table *Table, log []displacement) {
	for i := len(log) - 1; i >= 0; i-- {
		d := log[i]
		restored := table.SwapEntry(d.previous, d.bucket, d.entry)
		if restored != d.written {
			panic(fmt.Sprintf("cuckoo: rollback mismatch at bucket %d entry %d: found %d, expected %d",
				d.bucket, d.entry, restored, d.written))
		}
	}
}

// Delete removes one occurrence of item's fingerprint from table,
// preferring its primary bucket. It reports whether a matching
// fingerprint was found anywhere.
//
// Deleting an item that was never inserted is always safe, but — because
// the table stores only fingerprints, never items — it may remove a
// fingerprint that in fact belongs to some other item sharing both the
// fingerprint and a candidate bucket. This "false delete" is intrinsic
// to fingerprint-only filters, not a bug.
func (s *Strategy) Delete(item []byte, table *Table) bool {
	fingerprint, i1, i2 := s.candidateSlots(item, table)
	if table.SwapAnyEntry(Empty, fingerprint, i1) {
		return true
	}
	return table.SwapAnyEntry(Empty, fingerprint, i2)
}

// MightContain reports whether item's fingerprint is present in either
// of its candidate buckets. It never false-negatives for an item that
// was successfully inserted and has not since been deleted or silently
// evicted by a failed Put.
func (s *Strategy) MightContain(item []byte, table *Table) bool {
	fingerprint, i1, i2 := s.candidateSlots(item, table)
	return table.HasEntry(fingerprint, i1) || table.HasEntry(fingerprint, i2)
}

// PutAll copies every fingerprint in src into dest, attempting each at
// its original bucket or that bucket's alternate and falling back to the
// same bounded eviction Put uses. It reports false and stops at the
// first fingerprint that cannot be placed; dest and src must be
// IsCompatible.
func (s *Strategy) PutAll(dest, src *Table) bool {
	if !dest.IsCompatible(src) {
		return false
	}

	for bucket := uint64(0); bucket < src.numBuckets; bucket++ {
		for entry := uint32(0); entry < src.numEntriesPerBucket; entry++ {
			fingerprint := src.ReadEntry(bucket, entry)
			if fingerprint == Empty {
				continue
			}
			if !s.putFingerprint(fingerprint, bucket, dest) {
				return false
			}
		}
	}
	return true
}

// Equivalent reports whether a and b store the same fingerprint
// multiset, treating a fingerprint's primary and alternate bucket as
// interchangeable: for every (index, altIndex(index, F)) pair touched by
// a non-EMPTY entry in b, the combined count of F across that pair must
// match between a and b. Tables that are not IsCompatible are never
// equivalent.
func (s *Strategy) Equivalent(a, b *Table) bool {
	if !a.IsCompatible(b) {
		return false
	}

	for bucket := uint64(0); bucket < b.numBuckets; bucket++ {
		for entry := uint32(0); entry < b.numEntriesPerBucket; entry++ {
			fingerprint := b.ReadEntry(bucket, entry)
			if fingerprint == Empty {
				continue
			}
			alt := s.altIndex(bucket, fingerprint, b.numBuckets)

			wantCount := b.CountEntry(fingerprint, bucket) + b.CountEntry(fingerprint, alt)
			gotCount := a.CountEntry(fingerprint, bucket) + a.CountEntry(fingerprint, alt)
			if wantCount != gotCount {
				return false
			}
		}
	}
	return true
}
