package cuckoo

import "fmt"

// StrategyID is the stable, on-the-wire discriminator for a cuckoo
// hashing strategy. It is part of the serialized form of any filter
// built on this package: ordinals must never be reordered, renumbered,
// or removed, only appended to.
type StrategyID uint8

const (
	// Murmur128BealDupras32 is the sole strategy defined so far: 64-bit
	// object hash split into two 32-bit halves, fingerprint windowing,
	// and the parity-flip alt-index scheme. Despite the name (carried
	// over from the reference implementation's historical identifier),
	// the bundled Hasher is xxHash64, not MurmurHash3 — the name is a
	// wire-format label, not an implementation requirement.
	Murmur128BealDupras32 StrategyID = 0
)

// strategyNames maps each defined ordinal to its stable identifier.
// Appending a new strategy means adding an entry here with the next
// unused ordinal; it never means editing an existing one.
var strategyNames = map[StrategyID]string{
	Murmur128BealDupras32: "MURMUR128_BEALDUPRAS_32",
}

// String returns the strategy's stable identifier, or "UNKNOWN" for an
// ordinal not yet defined by this build.
func (id StrategyID) String() string {
	if name, ok := strategyNames[id]; ok {
		return name
	}
	return "UNKNOWN"
}

// IsDefined reports whether id names a strategy this build knows how to
// run.
func (id StrategyID) IsDefined() bool {
	_, ok := strategyNames[id]
	return ok
}

// NewStrategy constructs the Strategy implementation for id. The only
// currently defined ordinal yields the partial-key cuckoo hashing engine
// described in package doc; future ordinals would be added here as new
// cases, never by replacing this one.
func NewStrategy(id StrategyID, hasher Hasher) (*Strategy, error) {
	if !id.IsDefined() {
		return nil, fmt.Errorf("cuckoo: unknown strategy ordinal %d", id)
	}
	return newStrategy(hasher), nil
}
