package filter

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc64"
	"io"

	"cuckoofilter.dev/internal/cuckoo"
)

// magic identifies the encoded byte stream as a cuckoo filter, the same
// four-byte-preamble convention the teacher uses for its LIM1 snapshot
// format (there, a persistence format; here, a self-describing filter
// blob).
const magic = "CKF1"

var crcTable = crc64.MakeTable(crc64.ISO)

// Encode produces the bit-exact serialized form of f: magic, strategy
// ordinal, shape, size, checksum, the packed data array (big-endian
// words), and a trailing CRC-64 over everything that precedes it. The
// output stream is fed through an io.MultiWriter into the CRC hasher as
// it is written, the same one-pass checksum technique the teacher's
// SaveSnapshotToWriter uses for its own CRC64/ISO trailer.
func Encode(f *CuckooFilter) ([]byte, error) {
	if f == nil {
		return nil, errNilFilter
	}

	var body bytes.Buffer
	checksum := crc64.New(crcTable)
	mw := io.MultiWriter(&body, checksum)
	w := bufio.NewWriter(mw)

	if _, err := w.WriteString(magic); err != nil {
		return nil, err
	}
	if err := binary.Write(w, binary.BigEndian, uint8(f.strategyID)); err != nil {
		return nil, err
	}
	if err := binary.Write(w, binary.BigEndian, f.table.NumBuckets()); err != nil {
		return nil, err
	}
	if err := binary.Write(w, binary.BigEndian, f.table.NumEntriesPerBucket()); err != nil {
		return nil, err
	}
	if err := binary.Write(w, binary.BigEndian, f.table.NumBitsPerEntry()); err != nil {
		return nil, err
	}
	if err := binary.Write(w, binary.BigEndian, f.table.Size()); err != nil {
		return nil, err
	}
	if err := binary.Write(w, binary.BigEndian, f.table.Checksum()); err != nil {
		return nil, err
	}
	for _, word := range f.table.Data() {
		if err := binary.Write(w, binary.BigEndian, word); err != nil {
			return nil, err
		}
	}
	if err := w.Flush(); err != nil {
		return nil, err
	}

	out := body.Bytes()
	out = binary.BigEndian.AppendUint64(out, checksum.Sum64())
	return out, nil
}

// Decode parses the serialized form Encode produces, verifying the
// trailing CRC-64 before trusting any of the fields it frames and
// failing closed on any mismatch — the decode-time half of §7's class 4
// "internal invariant violation must not be silently ignored" policy.
func Decode(data []byte) (*CuckooFilter, error) {
	if len(data) < len(magic)+8 {
		return nil, errors.New("filter: data too short to be a cuckoo filter")
	}

	body, trailer := data[:len(data)-8], data[len(data)-8:]
	wantChecksum := binary.BigEndian.Uint64(trailer)

	checksum := crc64.Checksum(body, crcTable)
	if checksum != wantChecksum {
		return nil, fmt.Errorf("filter: checksum mismatch: stored %x, computed %x", wantChecksum, checksum)
	}

	r := bytes.NewReader(body)

	header := make([]byte, len(magic))
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	if string(header) != magic {
		return nil, fmt.Errorf("filter: bad magic %q", header)
	}

	var strategyOrdinal uint8
	var numBuckets uint64
	var numEntriesPerBucket, numBitsPerEntry uint32
	var size uint64
	var checksumField int64

	for _, field := range []any{&strategyOrdinal, &numBuckets, &numEntriesPerBucket, &numBitsPerEntry, &size, &checksumField} {
		if err := binary.Read(r, binary.BigEndian, field); err != nil {
			return nil, err
		}
	}

	wordCount, err := cuckoo.DataWordCount(numBuckets, numEntriesPerBucket, numBitsPerEntry)
	if err != nil {
		return nil, err
	}

	words := make([]uint64, wordCount)
	for i := range words {
		if err := binary.Read(r, binary.BigEndian, &words[i]); err != nil {
			return nil, err
		}
	}

	table, err := cuckoo.NewTableFromParts(numBuckets, numEntriesPerBucket, numBitsPerEntry, words, size, checksumField)
	if err != nil {
		return nil, err
	}

	cfg := Config{
		Capacity:          table.Capacity(),
		FalsePositiveRate: table.ExpectedFpp(),
		EntriesPerBucket:  numEntriesPerBucket,
	}
	return fromTable(table, cuckoo.StrategyID(strategyOrdinal), cfg)
}
