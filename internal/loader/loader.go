// Package loader consumes the enumerator's ".raw" byte stream for a
// single medium and materializes it into the catalog: one partition
// pair, deduplicated inode and path rows, and exclusion decisions
// (spec.md §4.4).
//
// Load is NOT a single atomic transaction: EnsurePartitions,
// BulkInsertInodes, BulkInsertPaths, AppendDuplicatePaths,
// MarkNonCopyable, and SetStageTimestamp run as separate Cassandra
// operations with no enclosing commit. A process crash between any two
// of these steps leaves the partition pair non-empty with enum_done
// never stamped. Per spec.md's idempotence invariant, a retry against a
// non-empty partition pair must fail loudly rather than silently
// overwrite — EnsurePartitions cannot tell a genuine re-load attempt
// apart from a half-loaded partition left by a crash, so it refuses
// both identically with *catalog.PartitionExistsError. A medium stuck
// this way has no automatic repair; an operator must explicitly clear
// it with "ntt repair-load -execute" (catalog.Session.ResetPartitions)
// before Load can be retried.
package loader

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/vm-wylbur/ntt/internal/catalog"
	"github.com/vm-wylbur/ntt/internal/config"
	"github.com/vm-wylbur/ntt/internal/nthash"
)

const (
	fieldSep      = 0x1C
	recordEnd     = 0x00
	maxPathLength = 4096 // spec.md §4.4 edge case: paths are truncated-flagged past this.
)

// rawRecord is one parsed line of the .raw stream before dedup.
type rawRecord struct {
	fsType string
	dev    int64
	ino    int64
	nlink  int
	size   int64
	mtime  time.Time
	path   []byte
	truncated bool
}

// Stats summarizes a completed load, returned to the orchestrator for
// logging and for the medium's problems document.
type Stats struct {
	RecordsRead      int64
	InodesInserted   int64
	PathsInserted    int64
	DuplicatesFound  int64
	ExcludedPaths    int64
	TruncatedPaths   int64
}

// Load parses r as a .raw stream and materializes it into the catalog
// under medium (spec.md §4.4):
//  1. ensure the per-medium partitions exist and are empty
//  2. parse every record, deduplicating by inode number (the first-seen
//     record's metadata wins when two records disagree about an
//     inode's metadata; see dedupe)
//  3. classify each path against the configured exclusion rules
//  4. bulk-insert inodes and paths
//  5. mark non-regular and all-paths-excluded inodes non-copyable
//  6. stamp enum_done
func Load(ctx context.Context, s *catalog.Session, medium nthash.Hash, r io.Reader, cfg config.Options) (Stats, error) {
	var stats Stats

	if err := s.EnsurePartitions(ctx, medium); err != nil {
		return stats, fmt.Errorf("loader: %w", err)
	}

	records, err := parseStream(r, &stats)
	if err != nil {
		return stats, fmt.Errorf("loader: parse stream: %w", err)
	}

	inodes, paths, dupEntries := dedupe(medium, records)
	stats.DuplicatesFound = int64(len(dupEntries))

	rules, err := compileExclusions(cfg.Exclusions)
	if err != nil {
		return stats, fmt.Errorf("loader: %w", err)
	}
	byIno := make(map[int64]catalog.Inode, len(inodes))
	for _, in := range inodes {
		byIno[in.Ino] = in
	}
	for i := range paths {
		in := byIno[paths[i].Ino]
		reason, err := classify(rules, string(paths[i].PathBytes), in.Size, string(in.FSType))
		if err != nil {
			return stats, fmt.Errorf("loader: classify path: %w", err)
		}
		paths[i].ExcludeReason = reason
		if reason != catalog.ExcludeNone {
			stats.ExcludedPaths++
		}
	}

	if err := s.BulkInsertInodes(ctx, medium, inodes); err != nil {
		return stats, fmt.Errorf("loader: %w", err)
	}
	stats.InodesInserted = int64(len(inodes))

	if err := s.BulkInsertPaths(ctx, medium, paths); err != nil {
		return stats, fmt.Errorf("loader: %w", err)
	}
	stats.PathsInserted = int64(len(paths))

	if len(dupEntries) > 0 {
		if err := s.AppendDuplicatePaths(ctx, medium, dupEntries); err != nil {
			return stats, fmt.Errorf("loader: %w", err)
		}
	}

	if err := s.MarkNonCopyable(ctx, medium); err != nil {
		return stats, fmt.Errorf("loader: %w", err)
	}

	if err := s.SetStageTimestamp(ctx, medium, catalog.StageEnum); err != nil {
		return stats, fmt.Errorf("loader: %w", err)
	}

	slog.Info("loader: medium loaded", "medium", medium.String(),
		"records", stats.RecordsRead, "inodes", stats.InodesInserted,
		"paths", stats.PathsInserted, "duplicates", stats.DuplicatesFound,
		"excluded", stats.ExcludedPaths, "truncated", stats.TruncatedPaths)

	return stats, nil
}

func parseStream(r io.Reader, stats *Stats) ([]rawRecord, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	var records []rawRecord

	for {
		raw, err := br.ReadBytes(recordEnd)
		if len(raw) > 1 {
			rec, perr := parseRecord(raw[:len(raw)-1])
			if perr != nil {
				slog.Warn("loader: malformed record, skipping", "error", perr)
			} else {
				stats.RecordsRead++
				if rec.truncated {
					stats.TruncatedPaths++
				}
				records = append(records, rec)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	return records, nil
}

func parseRecord(raw []byte) (rawRecord, error) {
	fields := splitFields(raw)
	if len(fields) != 7 {
		return rawRecord{}, fmt.Errorf("expected 7 fields, got %d", len(fields))
	}

	dev, err := strconv.ParseInt(string(fields[1]), 10, 64)
	if err != nil {
		return rawRecord{}, fmt.Errorf("dev: %w", err)
	}
	ino, err := strconv.ParseInt(string(fields[2]), 10, 64)
	if err != nil {
		return rawRecord{}, fmt.Errorf("ino: %w", err)
	}
	nlink, err := strconv.Atoi(string(fields[3]))
	if err != nil {
		return rawRecord{}, fmt.Errorf("nlink: %w", err)
	}
	size, err := strconv.ParseInt(string(fields[4]), 10, 64)
	if err != nil {
		return rawRecord{}, fmt.Errorf("size: %w", err)
	}
	mtimeUnix, err := strconv.ParseInt(string(fields[5]), 10, 64)
	if err != nil {
		return rawRecord{}, fmt.Errorf("mtime: %w", err)
	}

	path := fields[6]
	truncated := false
	if len(path) > maxPathLength {
		path = path[:maxPathLength]
		truncated = true
	}

	return rawRecord{
		fsType: string(fields[0]), dev: dev, ino: ino, nlink: nlink,
		size: size, mtime: time.Unix(mtimeUnix, 0).UTC(), path: path, truncated: truncated,
	}, nil
}

// splitFields implements the loader's field-local escaping contract
// (spec.md §4.4 step 2): the enumerator writes the path field's bytes
// untransformed, so only fields 1..6 (fs_type, dev, ino, nlink, size,
// mtime) can be split on an unqualified field-separator byte — none of
// them is ever produced containing one. splitFields therefore consumes
// exactly the first 6 separators it encounters and hands back
// everything after the sixth, to the end of the record, as field 7
// (path) untouched — including any literal field-separator, CR, or LF
// bytes a real filename happens to contain. This is what lets a path
// containing byte 0x1C survive the loader and come out stored and
// retrievable verbatim (spec.md edge case).
func splitFields(raw []byte) [][]byte {
	var fields [][]byte
	start := 0
	for i, b := range raw {
		if len(fields) == 6 {
			break
		}
		if b == fieldSep {
			fields = append(fields, raw[start:i])
			start = i + 1
		}
	}
	fields = append(fields, raw[start:])
	return fields
}

// dedupe collapses records sharing an (ino) down to a single winning
// inode, keeping the first-seen record's metadata as the record of
// truth when later records for the same inode number disagree with it
// on size, mtime, or fs_type; each such disagreement is returned as a
// DuplicatePathEntry. Inodes are emitted in ascending ino order. All
// distinct paths observed for an inode are preserved; only the inode
// metadata is collapsed. Identical path bytes recorded under two
// different inode numbers are both kept, each under its own inode, and
// are not reported as duplicates.
func dedupe(medium nthash.Hash, records []rawRecord) ([]catalog.Inode, []catalog.Path, []catalog.DuplicatePathEntry) {
	byIno := map[int64][]rawRecord{}
	var order []int64
	for _, rec := range records {
		if _, seen := byIno[rec.ino]; !seen {
			order = append(order, rec.ino)
		}
		byIno[rec.ino] = append(byIno[rec.ino], rec)
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })

	var inodes []catalog.Inode
	var paths []catalog.Path
	var dups []catalog.DuplicatePathEntry

	for _, ino := range order {
		recs := byIno[ino]
		winner := recs[0]
		for _, r := range recs[1:] {
			if r.size != winner.size || !r.mtime.Equal(winner.mtime) || r.fsType != winner.fsType {
				// Conflicting metadata for the same inode number: keep the
				// first-seen as canonical and log the conflict.
				dups = append(dups, catalog.DuplicatePathEntry{
					PathBytes: r.path, WinnerIno: winner.ino, LoserInos: []int64{r.ino},
				})
			}
		}

		inodes = append(inodes, catalog.Inode{
			MediumHash: medium, Ino: winner.ino, FSType: catalog.FSType(winner.fsType),
			Dev: winner.dev, NLink: winner.nlink, Size: winner.size, MTime: winner.mtime,
			Status: catalog.StatusPending,
		})
		seenPaths := map[string]bool{}
		for _, r := range recs {
			key := string(r.path)
			if seenPaths[key] {
				continue
			}
			seenPaths[key] = true
			paths = append(paths, catalog.Path{MediumHash: medium, Ino: winner.ino, PathBytes: r.path})
		}
	}
	return inodes, paths, dups
}
