package blobstore

import (
	"context"
	"os"
	"strings"

	"github.com/vm-wylbur/ntt/internal/ntretry"
)

// FileIO isolates the small slice of filesystem operations the blob
// store needs, so tests can substitute an in-memory fake. Trimmed from
// the teacher's broader FileIO interface to exactly what InsertFromTemp/
// HardlinkTo/Probe/Remove use.
type FileIO interface {
	Rename(ctx context.Context, oldpath, newpath string) error
	Link(ctx context.Context, oldpath, newpath string) error
	Remove(ctx context.Context, name string) error
	Exists(ctx context.Context, path string) bool
	MkdirAll(ctx context.Context, path string, perm os.FileMode) error
	Chmod(ctx context.Context, name string, perm os.FileMode) error
}

type osFileIO struct{}

// NewFileIO returns the default, real-filesystem FileIO implementation.
func NewFileIO() FileIO {
	return osFileIO{}
}

func (osFileIO) Rename(ctx context.Context, oldpath, newpath string) error {
	return ntretry.Do(ctx, 3, func(context.Context) error {
		if err := os.Rename(oldpath, newpath); err != nil {
			return classify(err)
		}
		return nil
	}, nil)
}

func (osFileIO) Link(ctx context.Context, oldpath, newpath string) error {
	if err := os.Link(oldpath, newpath); err != nil {
		return err
	}
	return nil
}

func (osFileIO) Remove(ctx context.Context, name string) error {
	return ntretry.Do(ctx, 3, func(context.Context) error {
		if err := os.Remove(name); err != nil {
			return classify(err)
		}
		return nil
	}, nil)
}

func (osFileIO) Exists(ctx context.Context, path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}

func (osFileIO) MkdirAll(ctx context.Context, path string, perm os.FileMode) error {
	return ntretry.Do(ctx, 3, func(context.Context) error {
		err := os.MkdirAll(path, perm)
		if err != nil && !strings.Contains(err.Error(), "read-only file system") {
			return classify(err)
		}
		return nil
	}, nil)
}

func (osFileIO) Chmod(ctx context.Context, name string, perm os.FileMode) error {
	return os.Chmod(name, perm)
}

// classify wraps transient errors as retryable for ntretry.Do, while
// letting fatal ENOSPC/EROFS conditions pass straight through un-retried.
func classify(err error) error {
	if ntretry.IsFatalStoreCondition(err) {
		return err
	}
	return ntretry.Classify(err)
}
