package enumerator

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEnumerateWritesOneRecordPerEntry(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("hello"), 0644); err != nil {
		t.Fatalf("write a.txt: %v", err)
	}
	if err := os.Mkdir(filepath.Join(root, "sub"), 0755); err != nil {
		t.Fatalf("mkdir sub: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "sub", "b.txt"), []byte("world"), 0644); err != nil {
		t.Fatalf("write b.txt: %v", err)
	}

	var buf bytes.Buffer
	n, err := Enumerate(root, &buf)
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	if n != 4 {
		t.Fatalf("expected 4 records (root, a.txt, sub, sub/b.txt), got %d", n)
	}

	records := strings.Split(strings.TrimRight(buf.String(), "\x00"), "\x00")
	if len(records) != 4 {
		t.Fatalf("expected 4 NUL-delimited records, got %d", len(records))
	}
	for _, rec := range records {
		fields := strings.Split(rec, string(rune(fieldSep)))
		if len(fields) != 7 {
			t.Fatalf("expected 7 fields per record, got %d in %q", len(fields), rec)
		}
		if fields[0] != "f" && fields[0] != "d" {
			t.Fatalf("unexpected fs_type field %q", fields[0])
		}
	}
}

func TestEnumerateWritesPathFieldUntransformed(t *testing.T) {
	root := t.TempDir()
	name := "weird" + string(rune(fieldSep)) + "name"
	if err := os.WriteFile(filepath.Join(root, name), []byte("x"), 0644); err != nil {
		t.Fatalf("write %q: %v", name, err)
	}

	var buf bytes.Buffer
	if _, err := Enumerate(root, &buf); err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte(name)) {
		t.Fatalf("expected raw path bytes %q to appear untransformed in the stream", name)
	}
}

func TestEnumerateSkipsUnreadableEntries(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "ok.txt"), []byte("x"), 0644); err != nil {
		t.Fatalf("write ok.txt: %v", err)
	}
	blocked := filepath.Join(root, "blocked")
	if err := os.Mkdir(blocked, 0000); err != nil {
		t.Fatalf("mkdir blocked: %v", err)
	}
	defer os.Chmod(blocked, 0755)

	var buf bytes.Buffer
	_, err := Enumerate(root, &buf)
	if err != nil {
		t.Fatalf("Enumerate should tolerate unreadable dirs, got error: %v", err)
	}
}
