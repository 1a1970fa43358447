package catalog

import (
	"context"
	"fmt"

	"github.com/gocql/gocql"

	"github.com/vm-wylbur/ntt/internal/nthash"
)

// maxBatchRows caps how many statements go into one Cassandra
// UnloggedBatch, staying well under the cluster's batch-size guardrails.
const maxBatchRows = 500

// BulkInsertInodes materializes deduplicated inode rows into the
// medium's inode partition (spec.md §4.4 step 4). Used only by the
// loader; each chunk is its own batch, with no transaction enclosing
// the whole load (see the loader package doc).
func (s *Session) BulkInsertInodes(ctx context.Context, medium nthash.Hash, inodes []Inode) error {
	tbl := inodePartition(medium)
	stmt := fmt.Sprintf(`INSERT INTO %s.%s
		(medium_hash, ino, fs_type, dev, nlink, size, mtime, status, claimed_by, errors)
		VALUES (?,?,?,?,?,?,?,?,?,?)`, s.keyspace, tbl)

	for chunk := range chunks(len(inodes), maxBatchRows) {
		batch := s.cql.NewBatch(gocql.UnloggedBatch).WithContext(ctx)
		for _, in := range inodes[chunk.lo:chunk.hi] {
			batch.Query(stmt, medium.String(), in.Ino, string(in.FSType), in.Dev, in.NLink,
				in.Size, in.MTime, string(StatusPending), "", []string{})
		}
		if err := s.cql.ExecuteBatch(batch); err != nil {
			return fmt.Errorf("catalog: bulk insert inodes: %w", err)
		}
	}
	return nil
}

// BulkInsertPaths materializes path rows into the medium's path
// partition (spec.md §4.4 step 5).
func (s *Session) BulkInsertPaths(ctx context.Context, medium nthash.Hash, paths []Path) error {
	tbl := pathPartition(medium)
	stmt := fmt.Sprintf(`INSERT INTO %s.%s
		(medium_hash, ino, path_bytes, exclude_reason)
		VALUES (?,?,?,?)`, s.keyspace, tbl)

	for chunk := range chunks(len(paths), maxBatchRows) {
		batch := s.cql.NewBatch(gocql.UnloggedBatch).WithContext(ctx)
		for _, p := range paths[chunk.lo:chunk.hi] {
			batch.Query(stmt, medium.String(), p.Ino, p.PathBytes, string(p.ExcludeReason))
		}
		if err := s.cql.ExecuteBatch(batch); err != nil {
			return fmt.Errorf("catalog: bulk insert paths: %w", err)
		}
	}
	return nil
}

// SetExcludeReason applies an exclusion decision to an already-inserted
// path row (spec.md §4.4 step 6).
func (s *Session) SetExcludeReason(ctx context.Context, medium nthash.Hash, ino int64, pathBytes []byte, reason ExcludeReason) error {
	tbl := pathPartition(medium)
	stmt := fmt.Sprintf("UPDATE %s.%s SET exclude_reason = ? WHERE medium_hash = ? AND ino = ? AND path_bytes = ?", s.keyspace, tbl)
	return s.query(ctx, stmt, string(reason), medium.String(), ino, pathBytes).Exec()
}

type rowRange struct{ lo, hi int }

func chunks(n, size int) func(func(rowRange) bool) {
	return func(yield func(rowRange) bool) {
		for lo := 0; lo < n; lo += size {
			hi := lo + size
			if hi > n {
				hi = n
			}
			if !yield(rowRange{lo, hi}) {
				return
			}
		}
	}
}
