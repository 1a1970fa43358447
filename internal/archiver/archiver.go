// Package archiver seals a fully-copied medium into a compressed
// tarball, reads it back from disk to compute its digest, and optionally generates
// Reed-Solomon parity shards over the sealed artifact (spec.md §4.7).
package archiver

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/reedsolomon"

	"github.com/vm-wylbur/ntt/internal/catalog"
	"github.com/vm-wylbur/ntt/internal/config"
	"github.com/vm-wylbur/ntt/internal/nthash"
)

// Metadata is the medium's side-car content sealed alongside the image
// (spec.md §4.7: "the image and the medium's metadata (raw stream,
// problems JSON, diagnostic events)").
type Metadata struct {
	RawStream       []byte
	ProblemsJSON    []byte
	DiagnosticEvents []byte
}

// PreconditionError reports which of spec.md §4.7's four archival
// preconditions is unsatisfied.
type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string { return "archiver: precondition unsatisfied: " + e.Reason }

// CheckPreconditions verifies spec.md §4.7's four archival
// preconditions: (a) every inode terminal, (b) no live claim, (c) image
// file exists and matches its expected hash, (d) copy_done is set.
// (a) and (b) are independent failure modes — an inode can be
// non-terminal while claimed by a live worker, terminal but still
// (stalely) claimed, or non-terminal with no claim at all (e.g. a
// crashed worker) — so they are checked as two separate counts rather
// than one combined "unclaimed and copyable" tally, which would miss a
// row violating both at once.
func CheckPreconditions(ctx context.Context, s *catalog.Session, medium catalog.Medium, imagePath string, expectedImageHash nthash.Hash) error {
	if medium.CopyDone == nil {
		return &PreconditionError{Reason: "copy_done is not set"}
	}

	nonTerminal, err := s.CountNonTerminal(ctx, medium.Hash)
	if err != nil {
		return fmt.Errorf("archiver: count non-terminal inodes: %w", err)
	}
	if nonTerminal != 0 {
		return &PreconditionError{Reason: fmt.Sprintf("%d inodes have not reached a terminal status", nonTerminal)}
	}

	liveClaims, err := s.CountLiveClaims(ctx, medium.Hash)
	if err != nil {
		return fmt.Errorf("archiver: count live claims: %w", err)
	}
	if liveClaims != 0 {
		return &PreconditionError{Reason: fmt.Sprintf("%d inodes are still held by a live claim", liveClaims)}
	}

	f, err := os.Open(imagePath)
	if err != nil {
		return &PreconditionError{Reason: fmt.Sprintf("image file %s: %v", imagePath, err)}
	}
	defer f.Close()

	hash, err := hashFile(f)
	if err != nil {
		return fmt.Errorf("archiver: hash image file: %w", err)
	}
	if hash != expectedImageHash {
		return &PreconditionError{Reason: fmt.Sprintf("image file hash mismatch: got %s want %s", hash, expectedImageHash)}
	}
	return nil
}

// Seal produces a gzip-compressed tarball containing the medium's image
// file and its metadata side-car, reads the written tarball back from
// disk to compute its BLAKE3 digest, and returns the tarball's path and
// that digest. A failure to reopen or read the tarball is returned as
// an error; the digest is not compared against any value computed while
// writing. On failure the working data (image, mount points, transient
// files) is left untouched by the caller — Seal itself never deletes
// anything.
func Seal(workingDir string, medium catalog.Medium, imagePath string, meta Metadata) (tarballPath string, digest nthash.Hash, err error) {
	tarballPath = filepath.Join(workingDir, medium.Hash.String()+".tar.gz")

	if err := writeTarball(tarballPath, medium, imagePath, meta); err != nil {
		return "", nthash.Zero, fmt.Errorf("archiver: write tarball: %w", err)
	}

	digest, err = digestTarball(tarballPath)
	if err != nil {
		return tarballPath, nthash.Zero, fmt.Errorf("archiver: verify tarball: %w", err)
	}
	return tarballPath, digest, nil
}

func writeTarball(tarballPath string, medium catalog.Medium, imagePath string, meta Metadata) error {
	out, err := os.Create(tarballPath)
	if err != nil {
		return err
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()

	if err := addFile(tw, imagePath, filepath.Base(imagePath)); err != nil {
		return fmt.Errorf("add image: %w", err)
	}
	if err := addBytes(tw, "raw_stream.bin", meta.RawStream); err != nil {
		return fmt.Errorf("add raw stream: %w", err)
	}
	if err := addBytes(tw, "problems.json", meta.ProblemsJSON); err != nil {
		return fmt.Errorf("add problems: %w", err)
	}
	if err := addBytes(tw, "diagnostic_events.json", meta.DiagnosticEvents); err != nil {
		return fmt.Errorf("add diagnostic events: %w", err)
	}
	return nil
}

func addFile(tw *tar.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = name
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}

func addBytes(tw *tar.Writer, name string, data []byte) error {
	hdr := &tar.Header{Name: name, Mode: 0644, Size: int64(len(data))}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err := tw.Write(data)
	return err
}

// digestTarball reads the sealed tarball back from disk and hashes it.
// The caller receives the digest; nothing here compares it against an
// expected value.
func digestTarball(path string) (nthash.Hash, error) {
	f, err := os.Open(path)
	if err != nil {
		return nthash.Zero, err
	}
	defer f.Close()
	return hashFile(f)
}

func hashFile(r io.Reader) (nthash.Hash, error) {
	s := nthash.NewStreamer()
	if _, err := io.Copy(s, r); err != nil {
		return nthash.Zero, err
	}
	return s.Sum(), nil
}

// GenerateParity produces Reed-Solomon parity shards over the sealed
// tarball, grounded on the teacher's fs/erasure package. This is an
// optional archival hardening step beyond spec.md's baseline tarball
// requirement: a damaged archival copy can be reconstructed from the
// surviving data+parity shards without needing the original bytes.
func GenerateParity(tarballPath string, cfg config.ArchiveConfig) ([][]byte, error) {
	if cfg.ParityShardsCount == 0 {
		return nil, nil
	}
	data, err := os.ReadFile(tarballPath)
	if err != nil {
		return nil, fmt.Errorf("archiver: read tarball for parity: %w", err)
	}

	enc, err := reedsolomon.New(cfg.ParityDataShards, cfg.ParityShardsCount)
	if err != nil {
		return nil, fmt.Errorf("archiver: construct reed-solomon encoder: %w", err)
	}
	shards, err := enc.Split(data)
	if err != nil {
		return nil, fmt.Errorf("archiver: split into shards: %w", err)
	}
	if err := enc.Encode(shards); err != nil {
		return nil, fmt.Errorf("archiver: encode parity shards: %w", err)
	}
	return shards, nil
}

// WriteParityShards persists each shard as "<tarball>.shard<N>" beside
// the sealed tarball.
func WriteParityShards(tarballPath string, shards [][]byte) error {
	for i, shard := range shards {
		path := fmt.Sprintf("%s.shard%d", tarballPath, i)
		if err := os.WriteFile(path, shard, 0644); err != nil {
			return fmt.Errorf("archiver: write shard %d: %w", i, err)
		}
	}
	return nil
}

// RemoveWorkingData deletes the transient image file and mount-point
// directory once the sealed tarball has been verified (spec.md §4.7
// step: "remove the transient image and mount points").
func RemoveWorkingData(imagePath, mountPoint string) error {
	if err := os.Remove(imagePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("archiver: remove image %s: %w", imagePath, err)
	}
	if mountPoint == "" {
		return nil
	}
	if err := os.RemoveAll(mountPoint); err != nil {
		return fmt.Errorf("archiver: remove mount point %s: %w", mountPoint, err)
	}
	return nil
}
