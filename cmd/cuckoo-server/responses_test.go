package main

import (
	"bytes"
	"strconv"
	"testing"

	"cuckoofilter.dev/filter"
)

func TestWriteBulkBytesResponse(t *testing.T) {
	app := &application{}

	tests := []struct {
		name  string
		input []byte
		want  string
	}{
		{
			name:  "Simple string",
			input: []byte("hello"),
			want:  "$5\r\nhello\r\n",
		},
		{
			name:  "Empty bytes",
			input: []byte{},
			want:  "$0\r\n\r\n",
		},
		{
			name:  "Binary data with null bytes",
			input: []byte{0x00, 0xFF, 0x10},
			want:  "$3\r\n\x00\xff\x10\r\n",
		},
		{
			name:  "Longer string",
			input: []byte("the quick brown fox jumps over the lazy dog"),
			want:  "$43\r\nthe quick brown fox jumps over the lazy dog\r\n",
		},
		{
			name:  "Single byte",
			input: []byte{65}, // 'A'
			want:  "$1\r\nA\r\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			err := app.writeBulkBytesResponse(&buf, tt.input)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if buf.String() != tt.want {
				t.Errorf("got %q, want %q", buf.String(), tt.want)
			}
		})
	}
}

// TestWriteBulkBytesResponseFilterBlob verifies that an encoded cuckoo
// filter, the actual value every CF key carries in the store, round-trips
// through the bulk-string framing unchanged.
func TestWriteBulkBytesResponseFilterBlob(t *testing.T) {
	app := &application{}

	f, err := filter.New(filter.Config{Capacity: 200, FalsePositiveRate: 0.01, EntriesPerBucket: 4})
	if err != nil {
		t.Fatalf("filter.New: %v", err)
	}
	for _, item := range []string{"alpha", "beta", "gamma"} {
		if !f.Put([]byte(item)) {
			t.Fatalf("Put(%q) failed", item)
		}
	}

	blob, err := filter.Encode(f)
	if err != nil {
		t.Fatalf("filter.Encode: %v", err)
	}

	var buf bytes.Buffer
	if err := app.writeBulkBytesResponse(&buf, blob); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := "$" + strconv.Itoa(len(blob)) + "\r\n" + string(blob) + "\r\n"
	if buf.String() != want {
		t.Errorf("bulk-string framing mismatch: got %d bytes, want %d bytes", buf.Len(), len(want))
	}

	decoded, err := filter.Decode(blob)
	if err != nil {
		t.Fatalf("filter.Decode: %v", err)
	}
	if decoded.Size() != f.Size() {
		t.Errorf("decoded size = %d, want %d", decoded.Size(), f.Size())
	}
}
