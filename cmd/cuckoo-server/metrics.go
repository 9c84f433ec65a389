package main

import "sync/atomic"

// Metrics holds the atomic counters for monitoring the server's health and
// the cuckoo filter workload it carries. TotalConnections/TotalCommands/
// ActiveConnections track the transport layer; FiltersReserved/ItemsAdded/
// ItemsDeleted track what CF.* commands actually did to the keyspace, the
// numbers an operator watching this server cares about that a generic
// connection/command count can't answer (is the workload write-heavy? are
// deletes keeping pace with adds?).
type Metrics struct {
	TotalConnections  atomic.Uint64 // Counts total connections ever made
	TotalCommands     atomic.Uint64 // Counts total commands ever processed
	ActiveConnections atomic.Int64  // Connections currently open
	FiltersReserved   atomic.Uint64 // CF.RESERVE/auto-reserve calls that created a filter
	ItemsAdded        atomic.Uint64 // Items successfully placed by CF.ADD/CF.MADD
	ItemsDeleted      atomic.Uint64 // Fingerprints removed by CF.DEL
}

// NewMetrics creates and returns a new Metrics struct.
func NewMetrics() *Metrics {
	return &Metrics{}
}
