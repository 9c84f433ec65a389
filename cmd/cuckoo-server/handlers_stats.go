// handlers_stats.go implements memory inspection commands.
//
// This file provides the MEMORY command for inspecting memory usage of stored
// keys. MEMORY USAGE reports a raw byte count; for a CF key, MEMORY SHAPE
// also reports the table shape packed into that blob, since two filters with
// the same byte size can carry very different capacity/load tradeoffs
// depending on entries-per-bucket.
//
// Concurrency Strategy
// ====================
// All commands use View() for read-only access with shared locking, ensuring
// minimal impact on concurrent operations.

package main

import (
	"fmt"
	"io"
	"strings"

	"cuckoofilter.dev/filter"
)

// handleMemory handles the MEMORY command.
// Syntax: MEMORY USAGE <key>
func (app *application) handleMemory(w io.Writer, args []string) {
	if len(args) < 1 {
		app.wrongNumberOfArgsResponse(w, "MEMORY")
		return
	}

	subcommand := strings.ToUpper(args[0])
	subArgs := args[1:]

	switch subcommand {
	case "USAGE":
		app.handleMemoryUsage(w, subArgs)
	case "SHAPE":
		app.handleMemoryShape(w, subArgs)
	default:
		msg := fmt.Sprintf("ERR unknown subcommand '%s'. Try MEMORY USAGE <key> or MEMORY SHAPE <key>", subcommand)
		_ = app.writeErrorResponse(w, msg)
	}
}

// handleMemoryUsage handles MEMORY USAGE <key>.
// Syntax: MEMORY USAGE <key>
func (app *application) handleMemoryUsage(w io.Writer, args []string) {
	//
	// DESIGN
	// ------
	//
	// We report an approximation of the total memory consumed by a key,
	// including the overhead from Go's internal data structures. This follows
	// the Redis MEMORY USAGE semantics: returns nil for missing keys, and an
	// integer byte count for existing ones.
	//
	// The overhead constant (72 bytes) accounts for:
	// - String header for the key (16 bytes)
	// - Slice header for the value (24 bytes)
	// - Map bucket overhead per entry (~32 bytes)
	//

	if len(args) != 1 {
		_ = app.writeErrorResponse(w, "ERR wrong number of arguments for 'MEMORY USAGE' command")
		return
	}

	key := args[0]
	var size int
	found := false

	const mapOverhead = 72

	_ = app.store.View(key, func(data []byte) error {
		if data != nil {
			found = true
			size = len(key) + len(data) + mapOverhead
		}
		return nil
	})

	if !found {
		_ = app.writeNilResponse(w)
		return
	}

	_ = app.writeIntegerResponse(w, size)
}

// handleMemoryShape handles MEMORY SHAPE <key>.
// Syntax: MEMORY SHAPE <key>
//
// Unlike MEMORY USAGE, which treats the value as an opaque byte blob, this
// decodes it as a CKF1 cuckoo filter and reports the table shape packed
// inside: entries per bucket, occupancy, and expected false-positive rate.
// A key whose value isn't a CF filter decodes with an error, which is
// answered with an ERR reply; a missing key is answered with nil.
func (app *application) handleMemoryShape(w io.Writer, args []string) {
	if len(args) != 1 {
		_ = app.writeErrorResponse(w, "ERR wrong number of arguments for 'MEMORY SHAPE' command")
		return
	}

	key := args[0]
	var f *filter.CuckooFilter
	var decodeErr error

	_ = app.store.View(key, func(data []byte) error {
		if data == nil {
			return nil
		}
		f, decodeErr = filter.Decode(data)
		return nil
	})

	if f == nil {
		if decodeErr != nil {
			_ = app.writeErrorResponse(w, fmt.Sprintf("ERR value at key is not a valid cuckoo filter: %v", decodeErr))
			return
		}
		_ = app.writeNilResponse(w)
		return
	}

	var shape strings.Builder
	shape.WriteString(fmt.Sprintf("entries_per_bucket:%d\r\n", f.Config().EntriesPerBucket))
	shape.WriteString(fmt.Sprintf("size:%d\r\n", f.Size()))
	shape.WriteString(fmt.Sprintf("capacity:%d\r\n", f.Capacity()))
	shape.WriteString(fmt.Sprintf("load:%.4f\r\n", f.Load()))
	shape.WriteString(fmt.Sprintf("expected_fpp:%.6f\r\n", f.ExpectedFPP()))
	shape.WriteString(fmt.Sprintf("bit_size:%d\r\n", f.BitSize()))

	_ = app.writeBulkStringResponse(w, shape.String())
}
