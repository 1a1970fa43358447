// Package enumerator walks a mounted image's filesystem tree once and
// writes a flat, field-separated byte stream describing every entry it
// can stat — the ".raw" format consumed by internal/loader.
package enumerator

import (
	"bufio"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"syscall"
)

// Field separator and record terminator of the .raw wire format
// (spec.md §4.3). The path field is always last and is written
// untransformed — a path containing a literal field-separator or
// control byte is not escaped here. The terminator is NUL, which
// cannot appear in a POSIX path, so it never collides with path
// content; internal/loader owns making sense of a path field that
// contains raw separator bytes.
const (
	fieldSep  = 0x1C
	recordEnd = 0x00
)

// fsTypeRune maps a Go os.FileMode to the single-character fs_type field
// spec.md documents: f(ile) d(ir) l(ink) s(ocket) p(ipe) c(har) b(lock).
func fsTypeRune(mode fs.FileMode) byte {
	switch {
	case mode.IsRegular():
		return 'f'
	case mode.IsDir():
		return 'd'
	case mode&fs.ModeSymlink != 0:
		return 'l'
	case mode&fs.ModeSocket != 0:
		return 's'
	case mode&fs.ModeNamedPipe != 0:
		return 'p'
	case mode&fs.ModeCharDevice != 0:
		return 'c'
	case mode&fs.ModeDevice != 0:
		return 'b'
	default:
		return 'f'
	}
}

// Enumerate walks mountRoot once, writing one record per entry
// (including mountRoot itself) to w. It never crosses onto a different
// device — bind mounts and nested filesystems under mountRoot are
// skipped, recorded as a single warning, not walked into (spec.md §4.3:
// "single pass, does not cross mount points").
//
// Unreadable directories or entries whose Lstat fails are logged once at
// Warn and skipped; enumeration continues (spec.md §4.3 edge case:
// "tolerant of unreadable entries — a damaged disk will have many").
// The stream is written lazily as entries are discovered: the whole
// tree is never buffered in memory (spec.md §4.3: "lazy finite byte
// stream").
func Enumerate(mountRoot string, w io.Writer) (recordCount int64, err error) {
	bw := bufio.NewWriterSize(w, 64*1024)
	defer func() {
		if ferr := bw.Flush(); err == nil {
			err = ferr
		}
	}()

	rootInfo, statErr := os.Lstat(mountRoot)
	if statErr != nil {
		return 0, fmt.Errorf("enumerator: stat mount root: %w", statErr)
	}
	rootDev, ok := deviceOf(rootInfo)
	if !ok {
		return 0, fmt.Errorf("enumerator: mount root %s has no stat_t", mountRoot)
	}

	var count int64
	walkErr := filepath.WalkDir(mountRoot, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			slog.Warn("enumerator: unreadable entry, skipping", "path", path, "error", walkErr)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			slog.Warn("enumerator: lstat failed, skipping", "path", path, "error", err)
			return nil
		}

		dev, ok := deviceOf(info)
		if !ok {
			slog.Warn("enumerator: no stat_t available, skipping", "path", path)
			return nil
		}
		if dev != rootDev {
			slog.Warn("enumerator: crossing mount point, not descending", "path", path)
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if err := writeRecord(bw, path, info); err != nil {
			return fmt.Errorf("enumerator: write record for %s: %w", path, err)
		}
		count++
		return nil
	})
	if walkErr != nil {
		return count, fmt.Errorf("enumerator: walk: %w", walkErr)
	}
	return count, nil
}

func writeRecord(w *bufio.Writer, path string, info fs.FileInfo) error {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return fmt.Errorf("no syscall.Stat_t for %s", path)
	}

	fields := []string{
		string(fsTypeRune(info.Mode())),
		strconv.FormatUint(uint64(stat.Dev), 10),
		strconv.FormatUint(stat.Ino, 10),
		strconv.FormatUint(uint64(stat.Nlink), 10),
		strconv.FormatInt(info.Size(), 10),
		strconv.FormatInt(info.ModTime().Unix(), 10),
		path,
	}
	for i, f := range fields {
		if i > 0 {
			if err := w.WriteByte(fieldSep); err != nil {
				return err
			}
		}
		if _, err := w.WriteString(f); err != nil {
			return err
		}
	}
	return w.WriteByte(recordEnd)
}

func deviceOf(info fs.FileInfo) (uint64, bool) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, false
	}
	return uint64(stat.Dev), true
}
