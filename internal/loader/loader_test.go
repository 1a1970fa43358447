package loader

import (
	"bytes"
	"testing"

	"github.com/vm-wylbur/ntt/internal/nthash"
)

func testMedium() nthash.Hash {
	return nthash.Sum([]byte("test-medium"))
}

func record(fsType string, dev, ino int64, nlink int, size int64, mtime int64, path string) []byte {
	var buf bytes.Buffer
	fields := []string{fsType, itoa(dev), itoa(ino), itoa(int64(nlink)), itoa(size), itoa(mtime), path}
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(fieldSep)
		}
		buf.WriteString(f)
	}
	buf.WriteByte(recordEnd)
	return buf.Bytes()
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var b []byte
	for n > 0 {
		b = append([]byte{byte('0' + n%10)}, b...)
		n /= 10
	}
	if neg {
		b = append([]byte{'-'}, b...)
	}
	return string(b)
}

func TestParseStreamRoundTripsFields(t *testing.T) {
	var stream bytes.Buffer
	stream.Write(record("f", 1, 100, 1, 1024, 1700000000, "/home/user/file.txt"))
	stream.Write(record("d", 1, 101, 2, 0, 1700000001, "/home/user"))

	var stats Stats
	recs, err := parseStream(&stream, &stats)
	if err != nil {
		t.Fatalf("parseStream: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].ino != 100 || string(recs[0].path) != "/home/user/file.txt" {
		t.Fatalf("unexpected first record: %+v", recs[0])
	}
	if stats.RecordsRead != 2 {
		t.Fatalf("expected RecordsRead=2, got %d", stats.RecordsRead)
	}
}

func TestSplitFieldsStopsConsumingSeparatorsAfterTheSixth(t *testing.T) {
	// Only 6 leading separators delimit fields; everything after the
	// 6th, including embedded separator bytes, belongs to the path field.
	raw := []byte(`f` + string(rune(fieldSep)) + `1` + string(rune(fieldSep)) + `2` +
		string(rune(fieldSep)) + `1` + string(rune(fieldSep)) + `0` + string(rune(fieldSep)) + `0` +
		string(rune(fieldSep)) + `weird` + string(rune(fieldSep)) + `path`)
	fields := splitFields(raw)
	if len(fields) != 7 {
		t.Fatalf("expected 7 fields, got %d: %v", len(fields), fields)
	}
	want := "weird" + string(rune(fieldSep)) + "path"
	if string(fields[6]) != want {
		t.Fatalf("path field = %q, want %q (separator byte preserved verbatim)", fields[6], want)
	}
}

func TestParseRecordPreservesRawDelimiterByteInPath(t *testing.T) {
	path := "weird" + string(rune(fieldSep)) + "name"
	raw := record("f", 1, 1, 1, 0, 0, path)
	rec, err := parseRecord(raw[:len(raw)-1])
	if err != nil {
		t.Fatalf("parseRecord: %v", err)
	}
	if string(rec.path) != path {
		t.Fatalf("parseRecord path = %q, want %q (stored and retrievable verbatim)", rec.path, path)
	}
}

func TestDedupeCollapsesConflictingMetadataByFirstSeenWinner(t *testing.T) {
	recs := []rawRecord{
		{fsType: "f", ino: 5, size: 10, path: []byte("/a")},
		{fsType: "f", ino: 5, size: 20, path: []byte("/b")},
	}
	inodes, paths, dups := dedupe(testMedium(), recs)
	if len(inodes) != 1 {
		t.Fatalf("expected 1 deduplicated inode, got %d", len(inodes))
	}
	if inodes[0].Size != 10 {
		t.Fatalf("expected first-seen record's size to win, got %d", inodes[0].Size)
	}
	if len(paths) != 2 {
		t.Fatalf("expected both paths preserved, got %d", len(paths))
	}
	if len(dups) != 1 {
		t.Fatalf("expected 1 duplicate-metadata entry logged, got %d", len(dups))
	}
}

func TestParseRecordFlagsOverlongPathAsTruncated(t *testing.T) {
	longPath := make([]byte, maxPathLength+100)
	for i := range longPath {
		longPath[i] = 'a'
	}
	raw := record("f", 1, 1, 1, 0, 0, string(longPath))
	rec, err := parseRecord(raw[:len(raw)-1])
	if err != nil {
		t.Fatalf("parseRecord: %v", err)
	}
	if !rec.truncated {
		t.Fatalf("expected overlong path to be flagged truncated")
	}
	if len(rec.path) != maxPathLength {
		t.Fatalf("expected path clamped to %d bytes, got %d", maxPathLength, len(rec.path))
	}
}
