package main

import (
	"bytes"
	"strings"
	"testing"
)

// TestMemoryUsageBasic tests MEMORY USAGE on an existing cuckoo filter key.
func TestMemoryUsageBasic(t *testing.T) {
	app := newTestApp(t)
	var buf bytes.Buffer

	// Setup: create a filter key
	app.handleAdd(&buf, []string{"mykey", "hello"})
	buf.Reset()

	// Test MEMORY USAGE
	app.handleMemory(&buf, []string{"USAGE", "mykey"})
	resp := buf.String()

	// Should return an integer (colon prefix)
	if !strings.HasPrefix(resp, ":") {
		t.Errorf("expected integer response, got %q", resp)
	}
}

// TestMemoryUsageMissingKey tests MEMORY USAGE on a non-existent key.
func TestMemoryUsageMissingKey(t *testing.T) {
	app := newTestApp(t)
	var buf bytes.Buffer

	app.handleMemory(&buf, []string{"USAGE", "nonexistent"})

	// Should return nil ($-1)
	if buf.String() != "$-1\r\n" {
		t.Errorf("expected nil response, got %q", buf.String())
	}
}

// TestMemoryUsageCuckooFilter tests MEMORY USAGE on a reserved cuckoo filter.
func TestMemoryUsageCuckooFilter(t *testing.T) {
	app := newTestApp(t)
	var buf bytes.Buffer

	app.handleReserve(&buf, []string{"cf_key", "1000"})
	buf.Reset()
	app.handleAdd(&buf, []string{"cf_key", "item1"})
	buf.Reset()

	app.handleMemory(&buf, []string{"USAGE", "cf_key"})
	resp := buf.String()

	if !strings.HasPrefix(resp, ":") {
		t.Errorf("expected integer response, got %q", resp)
	}
	t.Logf("cuckoo filter memory usage: %s", strings.TrimSpace(resp))
}

// TestMemoryUsageWrongArgs tests MEMORY USAGE with wrong number of arguments.
func TestMemoryUsageWrongArgs(t *testing.T) {
	app := newTestApp(t)
	var buf bytes.Buffer

	tests := []struct {
		name string
		args []string
	}{
		{"no args", []string{}},
		{"usage no key", []string{"USAGE"}},
		{"usage too many args", []string{"USAGE", "key1", "key2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			app.handleMemory(&buf, tt.args)

			if !strings.HasPrefix(buf.String(), "-ERR") {
				t.Errorf("expected error response, got %q", buf.String())
			}
		})
	}
}

// TestMemoryShapeBasic tests MEMORY SHAPE on a reserved cuckoo filter.
func TestMemoryShapeBasic(t *testing.T) {
	app := newTestApp(t)
	var buf bytes.Buffer

	app.handleReserve(&buf, []string{"cf_key", "1000"})
	buf.Reset()
	app.handleAdd(&buf, []string{"cf_key", "item1"})
	buf.Reset()

	app.handleMemory(&buf, []string{"SHAPE", "cf_key"})
	resp := buf.String()

	if !strings.HasPrefix(resp, "$") {
		t.Fatalf("expected bulk string response, got %q", resp)
	}
	if !strings.Contains(resp, "entries_per_bucket:") || !strings.Contains(resp, "expected_fpp:") {
		t.Errorf("expected shape fields in response, got %q", resp)
	}
}

// TestMemoryShapeMissingKey tests MEMORY SHAPE on a non-existent key.
func TestMemoryShapeMissingKey(t *testing.T) {
	app := newTestApp(t)
	var buf bytes.Buffer

	app.handleMemory(&buf, []string{"SHAPE", "nonexistent"})

	if buf.String() != "$-1\r\n" {
		t.Errorf("expected nil response, got %q", buf.String())
	}
}

// TestMemoryShapeNonFilterValue tests MEMORY SHAPE on a key whose value
// isn't a cuckoo filter blob.
func TestMemoryShapeNonFilterValue(t *testing.T) {
	app := newTestApp(t)
	var buf bytes.Buffer

	app.store.Set("plainkey", []byte("not a filter"))

	app.handleMemory(&buf, []string{"SHAPE", "plainkey"})

	if !strings.HasPrefix(buf.String(), "-ERR") {
		t.Errorf("expected error response, got %q", buf.String())
	}
}

// TestMemoryUnknownSubcommand tests MEMORY with an unknown subcommand.
func TestMemoryUnknownSubcommand(t *testing.T) {
	app := newTestApp(t)
	var buf bytes.Buffer

	app.handleMemory(&buf, []string{"UNKNOWN", "key"})

	if !strings.Contains(buf.String(), "unknown subcommand") {
		t.Errorf("expected 'unknown subcommand' error, got %q", buf.String())
	}
}

// TestMemoryUsageCaseInsensitive tests that subcommand is case-insensitive.
func TestMemoryUsageCaseInsensitive(t *testing.T) {
	app := newTestApp(t)
	var buf bytes.Buffer

	app.handleAdd(&buf, []string{"key", "value"})
	buf.Reset()

	// Test lowercase
	app.handleMemory(&buf, []string{"usage", "key"})
	if !strings.HasPrefix(buf.String(), ":") {
		t.Errorf("lowercase 'usage' should work, got %q", buf.String())
	}

	buf.Reset()

	// Test mixed case
	app.handleMemory(&buf, []string{"Usage", "key"})
	if !strings.HasPrefix(buf.String(), ":") {
		t.Errorf("mixed case 'Usage' should work, got %q", buf.String())
	}
}
