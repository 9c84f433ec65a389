package cuckoo

import (
	"errors"
	"fmt"
)

// Empty is the reserved entry value meaning "slot unused". A stored
// fingerprint is always in [1, 2^numBitsPerEntry).
const Empty = 0

// Table is a fixed (numBuckets x numEntriesPerBucket) matrix of
// numBitsPerEntry-wide unsigned entries, packed into a dense array of
// 64-bit words. It tracks size (count of non-Empty entries) and checksum
// (the signed sum of every stored entry value) so that structural health
// can be checked in O(1) without a full scan.
//
// Table owns its data array outright; a Strategy holds no state specific
// to any one Table. Table is not safe for concurrent use — callers that
// share one across goroutines must provide their own locking, exactly as
// the Strategy's operations expect a single writer (or an external
// reader-writer lock) at a time.
type Table struct {
	numBuckets          uint64
	numEntriesPerBucket uint32
	numBitsPerEntry     uint32

	data     []uint64
	size     uint64
	checksum int64
}

// NewTable allocates a zeroed Table with the given shape. numBuckets must
// be even and positive (required by altIndex's reversibility invariant,
// see Strategy), numEntriesPerBucket must be positive, and numBitsPerEntry
// must be in [1, 32].
func NewTable(numBuckets uint64, numEntriesPerBucket, numBitsPerEntry uint32) (*Table, error) {
	if numBuckets == 0 || numBuckets%2 != 0 {
		return nil, fmt.Errorf("cuckoo: numBuckets must be even and positive, got %d", numBuckets)
	}
	if numEntriesPerBucket == 0 {
		return nil, errors.New("cuckoo: numEntriesPerBucket must be positive")
	}
	if numBitsPerEntry == 0 || numBitsPerEntry > maxEntryBits {
		return nil, fmt.Errorf("cuckoo: numBitsPerEntry must be in [1, 32], got %d", numBitsPerEntry)
	}

	totalEntries, overflow := checkedMul64(numBuckets, uint64(numEntriesPerBucket), 1)
	if overflow {
		return nil, errors.New("cuckoo: numBuckets * numEntriesPerBucket overflows")
	}
	totalBits, overflow := checkedMul64(totalEntries, uint64(numBitsPerEntry), 1)
	if overflow {
		return nil, errors.New("cuckoo: table size in bits overflows")
	}

	return &Table{
		numBuckets:          numBuckets,
		numEntriesPerBucket: numEntriesPerBucket,
		numBitsPerEntry:     numBitsPerEntry,
		data:                make([]uint64, wordsNeeded(totalBits)),
	}, nil
}

// DataWordCount returns the number of 64-bit words a Table of the given
// shape packs its entries into, the same computation NewTable performs
// internally. Exposed so package filter's codec knows how many words of
// packed data to expect without duplicating the overflow-checked
// arithmetic.
func DataWordCount(numBuckets uint64, numEntriesPerBucket, numBitsPerEntry uint32) (uint64, error) {
	totalEntries, overflow := checkedMul64(numBuckets, uint64(numEntriesPerBucket), 1)
	if overflow {
		return 0, errors.New("cuckoo: numBuckets * numEntriesPerBucket overflows")
	}
	totalBits, overflow := checkedMul64(totalEntries, uint64(numBitsPerEntry), 1)
	if overflow {
		return 0, errors.New("cuckoo: table size in bits overflows")
	}
	return wordsNeeded(totalBits), nil
}

// NewTableFromParts reconstructs a Table from a previously serialized
// shape, data array, size, and checksum — used by package filter's
// codec when decoding a stored filter. It validates the shape exactly as
// NewTable does, and additionally re-derives size and checksum from data
// by a full scan, returning an error if they disagree with the supplied
// values: a mismatch means the bytes were corrupted or hand-edited, and
// per the core's invariant-violation policy that must not be silently
// trusted.
func NewTableFromParts(numBuckets uint64, numEntriesPerBucket, numBitsPerEntry uint32, data []uint64, size uint64, checksum int64) (*Table, error) {
	table, err := NewTable(numBuckets, numEntriesPerBucket, numBitsPerEntry)
	if err != nil {
		return nil, err
	}
	if uint64(len(data)) != uint64(len(table.data)) {
		return nil, fmt.Errorf("cuckoo: data has %d words, shape requires %d", len(data), len(table.data))
	}
	table.data = data

	wantSize, wantChecksum := table.recomputeChecksumAndSize()
	if wantSize != size || wantChecksum != checksum {
		return nil, fmt.Errorf("cuckoo: stored size/checksum (%d, %d) do not match data (%d, %d)",
			size, checksum, wantSize, wantChecksum)
	}
	table.size, table.checksum = size, checksum

	return table, nil
}

// bitOffset returns the starting bit offset of the given (bucket, entry)
// slot within the packed data array.
func (t *Table) bitOffset(bucket uint64, entry uint32) uint64 {
	return (bucket*uint64(t.numEntriesPerBucket) + uint64(entry)) * uint64(t.numBitsPerEntry)
}

// ReadEntry returns the stored value at (bucket, entry); Empty (0) if
// unused.
func (t *Table) ReadEntry(bucket uint64, entry uint32) uint32 {
	return readField(t.data, t.bitOffset(bucket, entry), uint(t.numBitsPerEntry))
}

// FindEntry returns the first entry index in bucket whose value equals
// value, or -1 if none match.
func (t *Table) FindEntry(value uint32, bucket uint64) int {
	for e := uint32(0); e < t.numEntriesPerBucket; e++ {
		if t.ReadEntry(bucket, e) == value {
			return int(e)
		}
	}
	return -1
}

// CountEntry returns the number of entries in bucket equal to value.
func (t *Table) CountEntry(value uint32, bucket uint64) uint32 {
	var count uint32
	for e := uint32(0); e < t.numEntriesPerBucket; e++ {
		if t.ReadEntry(bucket, e) == value {
			count++
		}
	}
	return count
}

// HasEntry reports whether bucket contains an entry equal to value.
func (t *Table) HasEntry(value uint32, bucket uint64) bool {
	return t.FindEntry(value, bucket) >= 0
}

// SwapEntry unconditionally writes newValue into (bucket, entry) and
// returns the value that was there before. size and checksum are updated
// to reflect the change; size is asserted non-negative afterward, since a
// negative size indicates a bookkeeping bug elsewhere in the package.
func (t *Table) SwapEntry(newValue uint32, bucket uint64, entry uint32) uint32 {
	oldValue := writeField(newValue, t.data, t.bitOffset(bucket, entry), uint(t.numBitsPerEntry))

	t.checksum += int64(newValue) - int64(oldValue)

	switch {
	case oldValue == Empty && newValue != Empty:
		t.size++
	case oldValue != Empty && newValue == Empty:
		t.size--
	}

	if int64(t.size) < 0 {
		panic("cuckoo: table size went negative")
	}

	return oldValue
}

// SwapAnyEntry finds the first entry in bucket equal to findValue and, if
// found, overwrites it with newValue and reports true. It reports false
// without modifying the table if no entry matches.
func (t *Table) SwapAnyEntry(newValue, findValue uint32, bucket uint64) bool {
	entry := t.FindEntry(findValue, bucket)
	if entry < 0 {
		return false
	}
	t.SwapEntry(newValue, bucket, uint32(entry))
	return true
}

// Copy returns a deep clone of t: a fresh backing array with the same
// shape, size, and checksum.
func (t *Table) Copy() *Table {
	data := make([]uint64, len(t.data))
	copy(data, t.data)
	return &Table{
		numBuckets:          t.numBuckets,
		numEntriesPerBucket: t.numEntriesPerBucket,
		numBitsPerEntry:     t.numBitsPerEntry,
		data:                data,
		size:                t.size,
		checksum:            t.checksum,
	}
}

// IsCompatible reports whether t and other share the same shape
// parameters, a precondition for Strategy.PutAll and Strategy.Equivalent.
func (t *Table) IsCompatible(other *Table) bool {
	return t.numBuckets == other.numBuckets &&
		t.numEntriesPerBucket == other.numEntriesPerBucket &&
		t.numBitsPerEntry == other.numBitsPerEntry
}

// NumBuckets returns the number of buckets in the table.
func (t *Table) NumBuckets() uint64 { return t.numBuckets }

// NumEntriesPerBucket returns the number of entry slots per bucket.
func (t *Table) NumEntriesPerBucket() uint32 { return t.numEntriesPerBucket }

// NumBitsPerEntry returns the packed width of a single entry, in bits.
func (t *Table) NumBitsPerEntry() uint32 { return t.numBitsPerEntry }

// Size returns the count of non-Empty entries across the whole table.
func (t *Table) Size() uint64 { return t.size }

// Checksum returns the signed sum of every stored entry value.
func (t *Table) Checksum() int64 { return t.checksum }

// Capacity returns numBuckets * numEntriesPerBucket, the maximum number of
// fingerprints the table can ever hold.
func (t *Table) Capacity() uint64 {
	return t.numBuckets * uint64(t.numEntriesPerBucket)
}

// Load returns size / capacity. Cuckoo tables degrade rapidly in
// insertion success rate above roughly 0.95.
func (t *Table) Load() float64 {
	if t.Capacity() == 0 {
		return 0
	}
	return float64(t.size) / float64(t.Capacity())
}

// ExpectedFpp returns the approximate false-positive probability implied
// by the table's current occupancy: (2*size/numBuckets) / 2^numBitsPerEntry.
func (t *Table) ExpectedFpp() float64 {
	loadPerBucket := 2 * float64(t.size) / float64(t.numBuckets)
	return loadPerBucket / float64(uint64(1)<<t.numBitsPerEntry)
}

// BitSize returns the total size of the backing data array, in bits.
func (t *Table) BitSize() uint64 {
	return uint64(len(t.data)) * 64
}

// Data returns the table's packed backing array. Callers must not retain
// or mutate the returned slice outside of this package's operations;
// it is exposed for serialization in package filter.
func (t *Table) Data() []uint64 { return t.data }

// recomputeChecksumAndSize performs a full scan to recompute size and
// checksum from scratch, verifying the diff-updated invariants of
// SwapEntry. It is used by tests and by Decode's corruption check, never
// on the hot path.
func (t *Table) recomputeChecksumAndSize() (size uint64, checksum int64) {
	for b := uint64(0); b < t.numBuckets; b++ {
		for e := uint32(0); e < t.numEntriesPerBucket; e++ {
			v := t.ReadEntry(b, e)
			if v != Empty {
				size++
			}
			checksum += int64(v)
		}
	}
	return size, checksum
}
