package filter

import (
	"errors"

	"cuckoofilter.dev/internal/cuckoo"
)

const (
	// DefaultCapacity and DefaultFalsePositiveRate are used whenever a
	// caller constructs a Config with a zero Capacity or an out-of-range
	// FalsePositiveRate, mirroring the teacher's DefaultConfig.
	DefaultCapacity           = 10_000
	DefaultFalsePositiveRate  = 0.01
)

// Config holds the parameters used to size a fresh CuckooFilter. Unlike
// the teacher's bloom.Config, it never needs to describe a growth
// schedule: a cuckoo table has one fixed shape for its whole lifetime,
// see CuckooFilter's doc comment for why it reports failure instead of
// scaling.
type Config struct {
	// Capacity is the number of items the filter should comfortably
	// hold at the target false-positive rate.
	Capacity uint64

	// FalsePositiveRate is the target false-positive probability at
	// full Capacity load.
	FalsePositiveRate float64

	// EntriesPerBucket is the bucket width; zero selects
	// DefaultEntriesPerBucket, and other values are clamped to
	// [MinEntriesPerBucket, MaxEntriesPerBucket].
	EntriesPerBucket uint32
}

// DefaultConfig returns the default configuration for a new CuckooFilter.
func DefaultConfig() Config {
	return Config{
		Capacity:          DefaultCapacity,
		FalsePositiveRate: DefaultFalsePositiveRate,
		EntriesPerBucket:  DefaultEntriesPerBucket,
	}
}

// CuckooFilter is the typed façade over the cuckoo hashing engine: it
// owns a fixed-shape bucket table, the strategy that operates on it, and
// the configuration used to size it.
//
// A cuckoo filter has no analog of the teacher's scalable bloom filter's
// layer-chaining growth: once its table is full, Put reports failure
// rather than silently allocating more space. A cuckoo table cannot be
// resized in place, because every fingerprint's two candidate buckets are
// derived from the table's current bucket count, and PutAll only merges
// filters of identical shape, so a full filter's fingerprints cannot be
// moved into a larger one either.
type CuckooFilter struct {
	table    *cuckoo.Table
	strategy *cuckoo.Strategy
	config   Config
	strategyID cuckoo.StrategyID
}

// New constructs an empty CuckooFilter sized for cfg by EstimateShape.
// It returns an error only for a Config that, after defaulting, still
// describes a shape the core rejects (see cuckoo.NewTable).
func New(cfg Config) (*CuckooFilter, error) {
	cfg = withDefaults(cfg)

	numBuckets, numBitsPerEntry := EstimateShape(cfg.Capacity, cfg.FalsePositiveRate, cfg.EntriesPerBucket)

	table, err := cuckoo.NewTable(numBuckets, cfg.EntriesPerBucket, numBitsPerEntry)
	if err != nil {
		return nil, err
	}

	strategy, err := cuckoo.NewStrategy(cuckoo.Murmur128BealDupras32, cuckoo.XXHashBridge{})
	if err != nil {
		return nil, err
	}

	return &CuckooFilter{
		table:      table,
		strategy:   strategy,
		config:     cfg,
		strategyID: cuckoo.Murmur128BealDupras32,
	}, nil
}

func withDefaults(cfg Config) Config {
	if cfg.Capacity == 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.FalsePositiveRate <= 0 || cfg.FalsePositiveRate >= 1 {
		cfg.FalsePositiveRate = DefaultFalsePositiveRate
	}
	if cfg.EntriesPerBucket == 0 {
		cfg.EntriesPerBucket = DefaultEntriesPerBucket
	} else if cfg.EntriesPerBucket < MinEntriesPerBucket {
		cfg.EntriesPerBucket = MinEntriesPerBucket
	} else if cfg.EntriesPerBucket > MaxEntriesPerBucket {
		cfg.EntriesPerBucket = MaxEntriesPerBucket
	}
	return cfg
}

// fromTable wraps an already-built table and strategy, used by Decode to
// reconstruct a CuckooFilter from its serialized form without re-running
// sizing.
func fromTable(table *cuckoo.Table, strategyID cuckoo.StrategyID, cfg Config) (*CuckooFilter, error) {
	strategy, err := cuckoo.NewStrategy(strategyID, cuckoo.XXHashBridge{})
	if err != nil {
		return nil, err
	}
	return &CuckooFilter{table: table, strategy: strategy, config: cfg, strategyID: strategyID}, nil
}

// Put inserts item, returning false if the table is structurally full
// and the item could not be placed after bounded eviction. See
// cuckoo.Strategy.Put for the full contract, including its
// no-deduplication behavior.
func (f *CuckooFilter) Put(item []byte) bool {
	return f.strategy.Put(item, f.table)
}

// Delete removes one occurrence of item's fingerprint. See
// cuckoo.Strategy.Delete for the false-delete caveat intrinsic to
// fingerprint-only filters.
func (f *CuckooFilter) Delete(item []byte) bool {
	return f.strategy.Delete(item, f.table)
}

// MightContain reports approximate membership, never false-negative for
// an item that was inserted and not since deleted or lost to a failed
// eviction.
func (f *CuckooFilter) MightContain(item []byte) bool {
	return f.strategy.MightContain(item, f.table)
}

// PutAll merges other into f, returning false and stopping at the first
// fingerprint it cannot place. other must have the same table shape as
// f (same strategy, capacity, entries-per-bucket and fingerprint width).
func (f *CuckooFilter) PutAll(other *CuckooFilter) bool {
	return f.strategy.PutAll(f.table, other.table)
}

// Equivalent reports whether f and other store the same fingerprint
// multiset, per cuckoo.Strategy.Equivalent's index/altIndex-pair rule.
func (f *CuckooFilter) Equivalent(other *CuckooFilter) bool {
	return f.strategy.Equivalent(f.table, other.table)
}

// Size returns the number of fingerprints currently stored.
func (f *CuckooFilter) Size() uint64 { return f.table.Size() }

// Capacity returns the table's maximum fingerprint count.
func (f *CuckooFilter) Capacity() uint64 { return f.table.Capacity() }

// Load returns Size()/Capacity().
func (f *CuckooFilter) Load() float64 { return f.table.Load() }

// ExpectedFPP returns the false-positive probability implied by the
// table's current occupancy.
func (f *CuckooFilter) ExpectedFPP() float64 { return f.table.ExpectedFpp() }

// BitSize returns the size, in bits, of the table's backing storage.
func (f *CuckooFilter) BitSize() uint64 { return f.table.BitSize() }

// StrategyID returns the wire ordinal of the strategy this filter uses.
func (f *CuckooFilter) StrategyID() cuckoo.StrategyID { return f.strategyID }

// Config returns the configuration the filter was sized from. A filter
// produced by Decode does not carry its original configuration: its
// Capacity is the table's slot count and its FalsePositiveRate is the
// table's expected false-positive rate at decode time.
func (f *CuckooFilter) Config() Config { return f.config }

var errNilFilter = errors.New("filter: nil CuckooFilter")
