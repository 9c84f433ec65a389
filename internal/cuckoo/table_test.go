package cuckoo

import (
	"math/rand"
	"testing"
)

func TestNewTableRejectsBadShape(t *testing.T) {
	cases := []struct {
		name                string
		numBuckets          uint64
		numEntriesPerBucket uint32
		numBitsPerEntry     uint32
	}{
		{"odd buckets", 3, 4, 8},
		{"zero buckets", 0, 4, 8},
		{"zero entries per bucket", 4, 0, 8},
		{"zero bits per entry", 4, 4, 0},
		{"too many bits per entry", 4, 4, 33},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if _, err := NewTable(c.numBuckets, c.numEntriesPerBucket, c.numBitsPerEntry); err == nil {
				t.Fatalf("expected an error for shape %+v", c)
			}
		})
	}
}

func TestNewTableRejectsOverflow(t *testing.T) {
	if _, err := NewTable(1<<40, 1<<20, 32); err == nil {
		t.Fatal("expected overflow error for huge shape")
	}
}

func TestTableSwapEntryUpdatesSizeAndChecksum(t *testing.T) {
	table, err := NewTable(4, 4, 8)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}

	if table.Size() != 0 || table.Checksum() != 0 {
		t.Fatalf("fresh table should be empty, got size=%d checksum=%d", table.Size(), table.Checksum())
	}

	old := table.SwapEntry(42, 2, 1)
	if old != Empty {
		t.Fatalf("expected Empty before first write, got %d", old)
	}
	if table.Size() != 1 || table.Checksum() != 42 {
		t.Fatalf("after one insert: got size=%d checksum=%d, want 1, 42", table.Size(), table.Checksum())
	}

	old = table.SwapEntry(17, 2, 1)
	if old != 42 {
		t.Fatalf("expected previous value 42, got %d", old)
	}
	if table.Size() != 1 || table.Checksum() != 17 {
		t.Fatalf("after overwrite: got size=%d checksum=%d, want 1, 17", table.Size(), table.Checksum())
	}

	old = table.SwapEntry(Empty, 2, 1)
	if old != 17 {
		t.Fatalf("expected previous value 17, got %d", old)
	}
	if table.Size() != 0 || table.Checksum() != 0 {
		t.Fatalf("after clearing: got size=%d checksum=%d, want 0, 0", table.Size(), table.Checksum())
	}
}

func TestTableSizeAndChecksumConsistency(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	table, err := NewTable(16, 4, 8)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}

	for i := 0; i < 5000; i++ {
		bucket := uint64(rng.Intn(16))
		entry := uint32(rng.Intn(4))
		value := uint32(rng.Intn(256))
		table.SwapEntry(value, bucket, entry)

		wantSize, wantChecksum := table.recomputeChecksumAndSize()
		if table.Size() != wantSize || table.Checksum() != wantChecksum {
			t.Fatalf("iteration %d: diff-updated size/checksum drifted from scan: got (%d,%d) want (%d,%d)",
				i, table.Size(), table.Checksum(), wantSize, wantChecksum)
		}
	}
}

func TestTableFindCountHasEntry(t *testing.T) {
	table, err := NewTable(4, 4, 8)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}

	table.SwapEntry(9, 0, 0)
	table.SwapEntry(9, 0, 2)
	table.SwapEntry(5, 0, 3)

	if !table.HasEntry(9, 0) {
		t.Fatal("expected bucket 0 to contain fingerprint 9")
	}
	if table.HasEntry(9, 1) {
		t.Fatal("bucket 1 should not contain fingerprint 9")
	}
	if count := table.CountEntry(9, 0); count != 2 {
		t.Fatalf("expected count 2, got %d", count)
	}
	if entry := table.FindEntry(5, 0); entry != 3 {
		t.Fatalf("expected to find fingerprint 5 at entry 3, got %d", entry)
	}
	if entry := table.FindEntry(99, 0); entry != -1 {
		t.Fatalf("expected -1 for absent fingerprint, got %d", entry)
	}
}

func TestTableSwapAnyEntry(t *testing.T) {
	table, err := NewTable(4, 4, 8)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	table.SwapEntry(3, 1, 0)

	if !table.SwapAnyEntry(8, 3, 1) {
		t.Fatal("expected SwapAnyEntry to find and replace fingerprint 3")
	}
	if table.HasEntry(3, 1) {
		t.Fatal("fingerprint 3 should have been replaced")
	}
	if !table.HasEntry(8, 1) {
		t.Fatal("fingerprint 8 should now be present")
	}
	if table.SwapAnyEntry(1, 99, 1) {
		t.Fatal("SwapAnyEntry should fail to find an absent fingerprint")
	}
}

func TestTableCopyIsIndependent(t *testing.T) {
	table, err := NewTable(4, 4, 8)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	table.SwapEntry(11, 0, 0)

	clone := table.Copy()
	clone.SwapEntry(22, 0, 1)

	if table.HasEntry(22, 0) {
		t.Fatal("mutating the clone should not affect the original")
	}
	if !clone.HasEntry(11, 0) || !clone.HasEntry(22, 0) {
		t.Fatal("clone should carry over the original's entries plus its own new write")
	}
}

func TestTableIsCompatible(t *testing.T) {
	a, _ := NewTable(4, 4, 8)
	b, _ := NewTable(4, 4, 8)
	c, _ := NewTable(8, 4, 8)

	if !a.IsCompatible(b) {
		t.Fatal("tables with identical shape should be compatible")
	}
	if a.IsCompatible(c) {
		t.Fatal("tables with different bucket counts should not be compatible")
	}
}

func TestTableCapacityLoadAndFpp(t *testing.T) {
	table, err := NewTable(10, 4, 8)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	if table.Capacity() != 40 {
		t.Fatalf("expected capacity 40, got %d", table.Capacity())
	}
	if load := table.Load(); load != 0 {
		t.Fatalf("expected load 0 on empty table, got %f", load)
	}

	for e := uint32(0); e < 4; e++ {
		table.SwapEntry(1, 0, e)
	}
	if load := table.Load(); load <= 0 {
		t.Fatalf("expected positive load after inserts, got %f", load)
	}
	if fpp := table.ExpectedFpp(); fpp <= 0 {
		t.Fatalf("expected positive expected FPP after inserts, got %f", fpp)
	}
}

func TestTableBitSizeCoversShape(t *testing.T) {
	table, err := NewTable(4, 4, 8)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	if got, want := table.BitSize(), uint64(4*4*8); got < want {
		t.Fatalf("BitSize() = %d, want at least %d", got, want)
	}
}
