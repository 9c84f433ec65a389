// handlers_cf.go implements the Cuckoo Filter commands.
//
// This file provides the server's reason for existing: CF.RESERVE, CF.ADD,
// CF.MADD, CF.EXISTS, CF.MEXISTS, CF.DEL, CF.INFO, and CF.MERGE, wired
// against the cuckoofilter.dev/filter façade rather than the teacher's
// bloom package. Unlike a scalable Bloom filter, a cuckoo filter has a
// fixed shape for its whole life: once full, CF.ADD reports failure
// instead of silently growing, and CF.DEL can remove an item a Bloom
// filter never could.
//
// Storage Format
// ==============
// Each CF key is stored as the filter's serialized byte slice (see
// filter.Encode/filter.Decode), the same "value is an opaque encoded blob"
// convention the teacher uses for its Bloom Filter keys.
//
// Concurrency Strategy
// ====================
// - CF.RESERVE: Uses Mutate() to check-then-create atomically.
// - CF.ADD / CF.MADD / CF.DEL: Use Mutate() for atomic read-modify-write.
// - CF.EXISTS / CF.MEXISTS / CF.INFO: Use View() for read-only access.
// - CF.MERGE: Uses View() on the source and Mutate() on the destination.

package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"cuckoofilter.dev/filter"
)

// defaultFilterConfig builds the filter.Config that CF.ADD's and CF.MADD's
// auto-reserve fall back to, sourced from the server's command-line flags.
func (app *application) defaultFilterConfig() filter.Config {
	return filter.Config{
		Capacity:          app.config.cfDefaultCapacity,
		FalsePositiveRate: app.config.cfDefaultFpp,
		EntriesPerBucket:  app.config.cfEntriesPerBucket,
	}
}

// handleReserve handles the CF.RESERVE command.
// Syntax: CF.RESERVE key capacity [fpp]
//
// Creates an empty cuckoo filter sized for capacity items at the given
// false-positive rate (default from -cf-fpp if omitted). Returns an error
// if the key already holds a filter; unlike CF.ADD, this command never
// silently reuses an existing key.
func (app *application) handleReserve(w io.Writer, args []string) {
	if len(args) < 2 || len(args) > 3 {
		app.wrongNumberOfArgsResponse(w, "CF.RESERVE")
		return
	}

	key := args[0]

	capacity, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil || capacity == 0 {
		_ = app.writeErrorResponse(w, "ERR capacity must be a positive integer")
		return
	}

	fpp := app.config.cfDefaultFpp
	if len(args) == 3 {
		fpp, err = strconv.ParseFloat(args[2], 64)
		if err != nil || fpp <= 0 || fpp >= 1 {
			_ = app.writeErrorResponse(w, "ERR fpp must be a float in (0, 1)")
			return
		}
	}

	cfg := filter.Config{
		Capacity:          capacity,
		FalsePositiveRate: fpp,
		EntriesPerBucket:  app.config.cfEntriesPerBucket,
	}

	var logicErr error
	var created bool

	app.store.Mutate(key, func(data []byte) ([]byte, bool) {
		if data != nil {
			logicErr = fmt.Errorf("key already exists")
			return data, false
		}

		f, err := filter.New(cfg)
		if err != nil {
			logicErr = err
			return data, false
		}

		encoded, err := filter.Encode(f)
		if err != nil {
			logicErr = err
			return data, false
		}

		created = true
		return encoded, true
	})

	if logicErr != nil {
		_ = app.writeErrorResponse(w, "ERR "+logicErr.Error())
		return
	}

	if created {
		app.metrics.FiltersReserved.Add(1)
		app.logCommand("CF.RESERVE", args)
	}

	_ = app.writeSimpleStringResponse(w, "OK")
}

// handleAdd handles the CF.ADD command.
// Syntax: CF.ADD key item
//
// Returns 1 if item was inserted, or 0 if the filter was structurally
// full and eviction could not place it. If key doesn't exist, a filter is
// auto-reserved using the server's default shape before inserting.
func (app *application) handleAdd(w io.Writer, args []string) {
	if len(args) != 2 {
		app.wrongNumberOfArgsResponse(w, "CF.ADD")
		return
	}

	key := args[0]
	item := args[1]

	var added int
	var storeUpdated bool
	var logicErr error

	autoReserved := false

	app.store.Mutate(key, func(data []byte) ([]byte, bool) {
		autoReserved = data == nil
		f, err := app.loadOrCreateFilter(data)
		if err != nil {
			logicErr = err
			return data, false
		}

		if f.Put([]byte(item)) {
			added = 1
			storeUpdated = true
		}

		encoded, err := filter.Encode(f)
		if err != nil {
			logicErr = err
			return data, false
		}

		// Re-encode even on a failed Put: auto-reserve may have created a
		// fresh filter for an absent key that must still be persisted.
		if storeUpdated || data == nil {
			return encoded, true
		}
		return data, false
	})

	if logicErr != nil {
		_ = app.writeErrorResponse(w, "ERR "+logicErr.Error())
		return
	}

	if autoReserved {
		app.metrics.FiltersReserved.Add(1)
	}
	if added == 1 {
		app.metrics.ItemsAdded.Add(1)
	}
	if storeUpdated {
		app.logCommand("CF.ADD", args)
	}

	_ = app.writeIntegerResponse(w, added)
}

// handleMAdd handles the CF.MADD command.
// Syntax: CF.MADD key item [item ...]
//
// Adds one or more items to a cuckoo filter in a single atomic operation.
// Returns an array of integers, one per input item: 1 if inserted, 0 if
// the table was full and that item could not be placed.
func (app *application) handleMAdd(w io.Writer, args []string) {
	if len(args) < 2 {
		app.wrongNumberOfArgsResponse(w, "CF.MADD")
		return
	}

	key := args[0]
	items := args[1:]

	results := make([]int, len(items))
	var storeUpdated bool
	var logicErr error

	autoReserved := false

	app.store.Mutate(key, func(data []byte) ([]byte, bool) {
		autoReserved = data == nil
		f, err := app.loadOrCreateFilter(data)
		if err != nil {
			logicErr = err
			return data, false
		}

		for i, item := range items {
			if f.Put([]byte(item)) {
				results[i] = 1
				storeUpdated = true
			}
		}

		encoded, err := filter.Encode(f)
		if err != nil {
			logicErr = err
			return data, false
		}

		if storeUpdated || data == nil {
			return encoded, true
		}
		return data, false
	})

	if logicErr != nil {
		_ = app.writeErrorResponse(w, "ERR "+logicErr.Error())
		return
	}

	if autoReserved {
		app.metrics.FiltersReserved.Add(1)
	}
	var addedCount uint64
	for _, r := range results {
		if r == 1 {
			addedCount++
		}
	}
	if addedCount > 0 {
		app.metrics.ItemsAdded.Add(addedCount)
	}
	if storeUpdated {
		app.logCommand("CF.MADD", args)
	}

	_ = app.writeIntegerArrayResponse(w, results)
}

// handleExists handles the CF.EXISTS command.
// Syntax: CF.EXISTS key item
//
// Returns 1 if item is probably in the filter, 0 if it is definitely not
// present (or the key does not exist).
func (app *application) handleExists(w io.Writer, args []string) {
	if len(args) != 2 {
		app.wrongNumberOfArgsResponse(w, "CF.EXISTS")
		return
	}

	key := args[0]
	item := args[1]

	var result int

	err := app.store.View(key, func(data []byte) error {
		if data == nil {
			return nil
		}

		f, err := filter.Decode(data)
		if err != nil {
			return err
		}

		if f.MightContain([]byte(item)) {
			result = 1
		}
		return nil
	})
	if err != nil {
		_ = app.writeErrorResponse(w, "ERR "+err.Error())
		return
	}

	_ = app.writeIntegerResponse(w, result)
}

// handleMExists handles the CF.MEXISTS command.
// Syntax: CF.MEXISTS key item [item ...]
//
// Tests membership of one or more items. Returns an array of integers, one
// per input item. If the key does not exist, returns all zeros.
func (app *application) handleMExists(w io.Writer, args []string) {
	if len(args) < 2 {
		app.wrongNumberOfArgsResponse(w, "CF.MEXISTS")
		return
	}

	key := args[0]
	items := args[1:]

	results := make([]int, len(items))

	err := app.store.View(key, func(data []byte) error {
		if data == nil {
			return nil
		}

		f, err := filter.Decode(data)
		if err != nil {
			return err
		}

		for i, item := range items {
			if f.MightContain([]byte(item)) {
				results[i] = 1
			}
		}
		return nil
	})
	if err != nil {
		_ = app.writeErrorResponse(w, "ERR "+err.Error())
		return
	}

	_ = app.writeIntegerArrayResponse(w, results)
}

// handleCFDel handles the CF.DEL command.
// Syntax: CF.DEL key item
//
// Removes one occurrence of item's fingerprint. Returns 1 if a matching
// fingerprint was found and removed, 0 otherwise (including when the key
// does not exist). Unlike a Bloom filter, a cuckoo filter can answer this
// precisely: deleting a fingerprint that was never inserted only risks
// removing an unrelated item that happens to collide.
func (app *application) handleCFDel(w io.Writer, args []string) {
	if len(args) != 2 {
		app.wrongNumberOfArgsResponse(w, "CF.DEL")
		return
	}

	key := args[0]
	item := args[1]

	var deleted int
	var logicErr error

	app.store.Mutate(key, func(data []byte) ([]byte, bool) {
		if data == nil {
			return data, false
		}

		f, err := filter.Decode(data)
		if err != nil {
			logicErr = err
			return data, false
		}

		if !f.Delete([]byte(item)) {
			return data, false
		}
		deleted = 1

		encoded, err := filter.Encode(f)
		if err != nil {
			logicErr = err
			return data, false
		}
		return encoded, true
	})

	if logicErr != nil {
		_ = app.writeErrorResponse(w, "ERR "+logicErr.Error())
		return
	}

	if deleted == 1 {
		app.metrics.ItemsDeleted.Add(1)
		app.logCommand("CF.DEL", args)
	}

	_ = app.writeIntegerResponse(w, deleted)
}

// handleCFInfo handles the CF.INFO command.
// Syntax: CF.INFO key
//
// Reports the filter's shape and occupancy: size, capacity, entries per
// bucket, load factor, expected false-positive rate, and backing bit size.
// Bucket count and fingerprint width are not reported. Returns an error if
// the key does not exist.
func (app *application) handleCFInfo(w io.Writer, args []string) {
	if len(args) != 1 {
		app.wrongNumberOfArgsResponse(w, "CF.INFO")
		return
	}

	key := args[0]

	var infoContent string
	var logicErr error
	var found bool

	err := app.store.View(key, func(data []byte) error {
		if data == nil {
			return nil
		}
		found = true

		f, err := filter.Decode(data)
		if err != nil {
			return err
		}

		cfg := f.Config()

		var b strings.Builder
		b.WriteString("# Filter\r\n")
		b.WriteString(fmt.Sprintf("size:%d\r\n", f.Size()))
		b.WriteString(fmt.Sprintf("capacity:%d\r\n", f.Capacity()))
		b.WriteString(fmt.Sprintf("entries_per_bucket:%d\r\n", cfg.EntriesPerBucket))
		b.WriteString(fmt.Sprintf("load:%f\r\n", f.Load()))
		b.WriteString(fmt.Sprintf("expected_fpp:%f\r\n", f.ExpectedFPP()))
		b.WriteString(fmt.Sprintf("bit_size:%d\r\n", f.BitSize()))
		infoContent = b.String()
		return nil
	})
	if err != nil {
		logicErr = err
	}

	if logicErr != nil {
		_ = app.writeErrorResponse(w, "ERR "+logicErr.Error())
		return
	}

	if !found {
		_ = app.writeErrorResponse(w, "ERR key does not exist")
		return
	}

	_ = app.writeBulkStringResponse(w, infoContent)
}

// handleMerge handles the CF.MERGE command.
// Syntax: CF.MERGE dest src
//
// Merges every fingerprint in src into dest, the same table-shape
// requirement filter.CuckooFilter.PutAll enforces: dest and src must share
// strategy, capacity, entries-per-bucket, and fingerprint width. Returns
// an error if either key is missing, or if src doesn't fit into dest.
func (app *application) handleMerge(w io.Writer, args []string) {
	if len(args) != 2 {
		app.wrongNumberOfArgsResponse(w, "CF.MERGE")
		return
	}

	destKey := args[0]
	srcKey := args[1]

	var srcFilter *filter.CuckooFilter
	err := app.store.View(srcKey, func(data []byte) error {
		if data == nil {
			return fmt.Errorf("source key does not exist")
		}
		f, err := filter.Decode(data)
		if err != nil {
			return err
		}
		srcFilter = f
		return nil
	})
	if err != nil {
		_ = app.writeErrorResponse(w, "ERR "+err.Error())
		return
	}

	var logicErr error
	var merged bool

	app.store.Mutate(destKey, func(data []byte) ([]byte, bool) {
		if data == nil {
			logicErr = fmt.Errorf("destination key does not exist")
			return data, false
		}

		destFilter, err := filter.Decode(data)
		if err != nil {
			logicErr = err
			return data, false
		}

		if !destFilter.PutAll(srcFilter) {
			logicErr = fmt.Errorf("source filter does not fit into destination")
			return data, false
		}

		encoded, err := filter.Encode(destFilter)
		if err != nil {
			logicErr = err
			return data, false
		}

		merged = true
		return encoded, true
	})

	if logicErr != nil {
		_ = app.writeErrorResponse(w, "ERR "+logicErr.Error())
		return
	}

	if merged {
		app.logCommand("CF.MERGE", args)
	}

	_ = app.writeSimpleStringResponse(w, "OK")
}

// loadOrCreateFilter decodes data into a *filter.CuckooFilter, or, when
// data is nil (the key did not previously exist), creates a fresh filter
// using the server's default shape. This is the shared auto-reserve path
// for CF.ADD and CF.MADD.
func (app *application) loadOrCreateFilter(data []byte) (*filter.CuckooFilter, error) {
	if data == nil {
		return filter.New(app.defaultFilterConfig())
	}
	return filter.Decode(data)
}
