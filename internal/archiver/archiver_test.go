package archiver

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/vm-wylbur/ntt/internal/catalog"
	"github.com/vm-wylbur/ntt/internal/config"
	"github.com/vm-wylbur/ntt/internal/nthash"
)

func TestSealProducesVerifiableTarball(t *testing.T) {
	workDir := t.TempDir()
	imagePath := filepath.Join(workDir, "image.raw")
	if err := os.WriteFile(imagePath, []byte("disk image bytes"), 0644); err != nil {
		t.Fatalf("write image: %v", err)
	}

	medium := catalog.Medium{Hash: nthash.Sum([]byte("medium-1"))}
	meta := Metadata{
		RawStream:    []byte("raw enumerator stream"),
		ProblemsJSON: []byte(`{"duplicate_paths":[]}`),
	}

	tarballPath, digest, err := Seal(workDir, medium, imagePath, meta)
	if err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if digest.IsZero() {
		t.Fatalf("expected non-zero digest")
	}

	redigest, err := digestTarball(tarballPath)
	if err != nil {
		t.Fatalf("digestTarball: %v", err)
	}
	if redigest != digest {
		t.Fatalf("digest mismatch on re-read: %s != %s", redigest, digest)
	}

	names := readTarNames(t, tarballPath)
	want := map[string]bool{"image.raw": true, "raw_stream.bin": true, "problems.json": true, "diagnostic_events.json": true}
	for _, n := range names {
		delete(want, n)
	}
	if len(want) != 0 {
		t.Fatalf("tarball missing expected entries: %v", want)
	}
}

func TestGenerateParityRoundTripsThroughReedSolomon(t *testing.T) {
	workDir := t.TempDir()
	tarballPath := filepath.Join(workDir, "archive.tar.gz")
	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	if err := os.WriteFile(tarballPath, payload, 0644); err != nil {
		t.Fatalf("write tarball stub: %v", err)
	}

	cfg := config.ArchiveConfig{ParityDataShards: 4, ParityShardsCount: 2}
	shards, err := GenerateParity(tarballPath, cfg)
	if err != nil {
		t.Fatalf("GenerateParity: %v", err)
	}
	if len(shards) != cfg.ParityDataShards+cfg.ParityShardsCount {
		t.Fatalf("expected %d shards, got %d", cfg.ParityDataShards+cfg.ParityShardsCount, len(shards))
	}

	if err := WriteParityShards(tarballPath, shards); err != nil {
		t.Fatalf("WriteParityShards: %v", err)
	}
	for i := range shards {
		if _, err := os.Stat(tarballPath + ".shard" + itoa(i)); err != nil {
			t.Fatalf("expected shard file %d to exist: %v", i, err)
		}
	}
}

func readTarNames(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open tarball: %v", err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	tr := tar.NewReader(gz)
	var names []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("tar next: %v", err)
		}
		names = append(names, hdr.Name)
	}
	return names
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var b []byte
	for n > 0 {
		b = append([]byte{byte('0' + n%10)}, b...)
		n /= 10
	}
	return string(b)
}
