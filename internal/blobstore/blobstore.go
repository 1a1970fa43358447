// Package blobstore implements the content-addressed, two-level
// sharded blob layout described in spec.md §4.1/§6, grounded on
// SharedCode/sop's fs.blobStore (fs/blobstore.go) and its retryable
// FileIO (fs/file_io.go).
package blobstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/vm-wylbur/ntt/internal/ntretry"
	"github.com/vm-wylbur/ntt/internal/nthash"
)

// Permission is the mode every blob file is written with, regardless of
// the calling process's umask (spec.md §4.1).
const Permission os.FileMode = 0644

// dirPermission is the mode for the two-level fan-out directories.
const dirPermission os.FileMode = 0755

// InsertOutcome distinguishes a brand new blob from one that already
// existed and was deduplicated away.
type InsertOutcome int

const (
	Created InsertOutcome = iota
	Deduplicated
)

// Store is the blob store's public surface (spec.md §4.1).
type Store interface {
	Probe(ctx context.Context, hash nthash.Hash) bool
	InsertFromTemp(ctx context.Context, tempPath string, hash nthash.Hash) (InsertOutcome, error)
	HardlinkTo(ctx context.Context, hash nthash.Hash, destPath string) error
	Remove(ctx context.Context, hash nthash.Hash) error
	// Path returns the final on-disk path for hash, without touching disk.
	Path(hash nthash.Hash) string
}

type store struct {
	root string
	fio  FileIO
}

// New instantiates a blob store rooted at root. If fio is nil, the
// default real-filesystem implementation is used.
func New(root string, fio FileIO) Store {
	if fio == nil {
		fio = NewFileIO()
	}
	return &store{root: root, fio: fio}
}

// Path computes <root>/<hash[0:2]>/<hash[2:4]>/<hash> per spec.md §4.1/§6.
func (s *store) Path(hash nthash.Hash) string {
	hx := hash.String()
	return filepath.Join(s.root, hx[0:2], hx[2:4], hx)
}

func (s *store) dir(hash nthash.Hash) string {
	hx := hash.String()
	return filepath.Join(s.root, hx[0:2], hx[2:4])
}

func (s *store) Probe(ctx context.Context, hash nthash.Hash) bool {
	return s.fio.Exists(ctx, s.Path(hash))
}

// InsertFromTemp atomically moves tempPath into its content-addressed
// location. If the destination already exists, tempPath is discarded and
// the outcome is Deduplicated; concurrent inserts of the same hash race
// benignly (spec.md §4.1/§5).
func (s *store) InsertFromTemp(ctx context.Context, tempPath string, hash nthash.Hash) (InsertOutcome, error) {
	dest := s.Path(hash)
	dir := s.dir(hash)

	if s.fio.Exists(ctx, dest) {
		_ = s.fio.Remove(ctx, tempPath)
		return Deduplicated, nil
	}

	if !s.fio.Exists(ctx, dir) {
		if err := s.fio.MkdirAll(ctx, dir, dirPermission); err != nil {
			return Created, fmt.Errorf("blobstore: mkdir %s: %w", dir, err)
		}
	}

	if err := s.fio.Chmod(ctx, tempPath, Permission); err != nil {
		return Created, fmt.Errorf("blobstore: chmod temp %s: %w", tempPath, err)
	}

	if err := s.fio.Rename(ctx, tempPath, dest); err != nil {
		if ntretry.IsFatalStoreCondition(err) {
			return Created, err
		}
		// Lost the race to a concurrent insert of the same content: the
		// destination now exists, so treat this as deduplication rather
		// than a hard failure (spec.md: "concurrent inserts of the same
		// hash produce one file and no error").
		if s.fio.Exists(ctx, dest) {
			_ = s.fio.Remove(ctx, tempPath)
			return Deduplicated, nil
		}
		return Created, fmt.Errorf("blobstore: rename %s -> %s: %w", tempPath, dest, err)
	}
	return Created, nil
}

// HardlinkTo places a hardlink at destPath referencing hash's blob.
// EEXIST against the same blob is tolerated as success (spec.md §4.6
// step 4: "Hardlink placement is idempotent").
func (s *store) HardlinkTo(ctx context.Context, hash nthash.Hash, destPath string) error {
	src := s.Path(hash)
	dir := filepath.Dir(destPath)
	if !s.fio.Exists(ctx, dir) {
		if err := s.fio.MkdirAll(ctx, dir, dirPermission); err != nil {
			return fmt.Errorf("blobstore: mkdir %s: %w", dir, err)
		}
	}
	if err := s.fio.Link(ctx, src, destPath); err != nil {
		if os.IsExist(err) && sameFile(src, destPath) {
			return nil
		}
		return fmt.Errorf("blobstore: link %s -> %s: %w", src, destPath, err)
	}
	return nil
}

func sameFile(a, b string) bool {
	fa, err := os.Stat(a)
	if err != nil {
		return false
	}
	fb, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(fa, fb)
}

// Remove deletes the blob file for hash. Used only by out-of-band
// verification/GC tooling, never the copy path (spec.md §4.1).
func (s *store) Remove(ctx context.Context, hash nthash.Hash) error {
	p := s.Path(hash)
	if !s.fio.Exists(ctx, p) {
		return nil
	}
	return s.fio.Remove(ctx, p)
}

// HashReader is a convenience used by tests and tools to compute a
// blob's content hash directly from the store.
func HashReader(r io.Reader) (nthash.Hash, error) {
	s := nthash.NewStreamer()
	if _, err := io.Copy(s, r); err != nil {
		return nthash.Hash{}, err
	}
	return s.Sum(), nil
}
