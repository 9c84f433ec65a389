package filter

import "testing"

func TestNewAppliesDefaults(t *testing.T) {
	f, err := New(Config{})
	if err != nil {
		t.Fatalf("New(Config{}): %v", err)
	}
	if f.Capacity() == 0 {
		t.Fatal("expected a non-zero capacity from defaulted config")
	}
}

func TestFilterPutMightContainDelete(t *testing.T) {
	f, err := New(Config{Capacity: 1000, FalsePositiveRate: 0.01})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	items := [][]byte{[]byte("alpha"), []byte("beta"), []byte("gamma")}
	for _, item := range items {
		if !f.Put(item) {
			t.Fatalf("Put(%q) unexpectedly failed", item)
		}
	}
	for _, item := range items {
		if !f.MightContain(item) {
			t.Fatalf("MightContain(%q) should be true after Put", item)
		}
	}
	if f.Size() != uint64(len(items)) {
		t.Fatalf("Size() = %d, want %d", f.Size(), len(items))
	}

	if !f.Delete([]byte("beta")) {
		t.Fatal("expected Delete(\"beta\") to succeed")
	}
	if f.Size() != uint64(len(items))-1 {
		t.Fatalf("Size() after delete = %d, want %d", f.Size(), len(items)-1)
	}
}

func TestFilterPutAllAndEquivalent(t *testing.T) {
	a, err := New(Config{Capacity: 500, FalsePositiveRate: 0.01})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b, err := New(Config{Capacity: 500, FalsePositiveRate: 0.01})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for i := 0; i < 10; i++ {
		if !a.Put([]byte{byte(i)}) {
			t.Fatalf("setup Put %d failed", i)
		}
	}

	if !b.PutAll(a) {
		t.Fatal("expected PutAll to succeed at low load")
	}
	for i := 0; i < 10; i++ {
		if !b.MightContain([]byte{byte(i)}) {
			t.Fatalf("item %d missing from b after PutAll", i)
		}
	}
	if !a.Equivalent(b) {
		t.Fatal("expected a and b to be equivalent after a full PutAll into an initially empty b")
	}
}

func TestFilterObservationalAccessors(t *testing.T) {
	f, err := New(Config{Capacity: 100, FalsePositiveRate: 0.01, EntriesPerBucket: 4})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if f.Load() != 0 {
		t.Fatalf("expected load 0 on an empty filter, got %f", f.Load())
	}
	f.Put([]byte("x"))
	if f.Load() <= 0 {
		t.Fatalf("expected positive load after an insert, got %f", f.Load())
	}
	if f.BitSize() == 0 {
		t.Fatal("expected non-zero bit size")
	}
	if f.ExpectedFPP() < 0 {
		t.Fatal("expected non-negative expected FPP")
	}
	if f.StrategyID().String() != "MURMUR128_BEALDUPRAS_32" {
		t.Fatalf("unexpected strategy name %q", f.StrategyID().String())
	}
}
