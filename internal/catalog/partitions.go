package catalog

import (
	"context"
	"fmt"

	"github.com/vm-wylbur/ntt/internal/nthash"
)

// PartitionExistsError is returned by EnsurePartitions when the target
// partition pair already exists and is non-empty. The loader must never
// silently truncate a populated partition (spec.md §3/§4.2/§9).
type PartitionExistsError struct {
	MediumHash string
}

func (e *PartitionExistsError) Error() string {
	return fmt.Sprintf("catalog: partitions for medium %s already exist and are non-empty; refusing to overwrite", e.MediumHash)
}

// EnsurePartitions creates the per-medium inode and path partition
// tables if absent. If they already exist and contain rows, it returns
// a *PartitionExistsError instead of truncating — the teacher's loader
// historically truncated populated partitions on re-run, which spec.md
// §9 calls out as a defect to design away.
func (s *Session) EnsurePartitions(ctx context.Context, medium nthash.Hash) error {
	inodeTbl := inodePartition(medium)
	pathTbl := pathPartition(medium)

	inodeExists, err := s.tableExists(ctx, inodeTbl)
	if err != nil {
		return err
	}
	pathExists, err := s.tableExists(ctx, pathTbl)
	if err != nil {
		return err
	}

	if inodeExists || pathExists {
		nonEmpty, err := s.partitionNonEmpty(ctx, inodeTbl, pathTbl, inodeExists, pathExists)
		if err != nil {
			return err
		}
		if nonEmpty {
			return &PartitionExistsError{MediumHash: medium.String()}
		}
		return nil
	}

	createInode := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
		medium_hash text,
		ino bigint,
		fs_type text,
		dev bigint,
		nlink int,
		size bigint,
		mtime timestamp,
		blob_id text,
		mime_type text,
		copied boolean,
		status text,
		error_type text,
		claimed_by text,
		claimed_at timestamp,
		errors list<text>,
		processed_at timestamp,
		PRIMARY KEY (medium_hash, ino)
	);`, s.keyspace, inodeTbl)

	createPath := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
		medium_hash text,
		ino bigint,
		path_bytes blob,
		exclude_reason text,
		PRIMARY KEY (medium_hash, ino, path_bytes)
	);`, s.keyspace, pathTbl)

	if err := s.query(ctx, createInode).Exec(); err != nil {
		return fmt.Errorf("catalog: create inode partition %s: %w", inodeTbl, err)
	}
	if err := s.query(ctx, createPath).Exec(); err != nil {
		return fmt.Errorf("catalog: create path partition %s: %w", pathTbl, err)
	}
	return nil
}

// ResetPartitions unconditionally truncates a medium's inode and path
// partition tables, if present. This is the operator-invoked repair for
// a medium left non-empty by a crash partway through Load (loader.go's
// doc comment): Load itself never truncates a populated partition — it
// refuses via PartitionExistsError — so clearing one is always an
// explicit, separate action, never automatic.
func (s *Session) ResetPartitions(ctx context.Context, medium nthash.Hash) error {
	inodeTbl := inodePartition(medium)
	pathTbl := pathPartition(medium)

	inodeExists, err := s.tableExists(ctx, inodeTbl)
	if err != nil {
		return err
	}
	if inodeExists {
		if err := s.query(ctx, fmt.Sprintf("TRUNCATE %s.%s", s.keyspace, inodeTbl)).Exec(); err != nil {
			return fmt.Errorf("catalog: truncate inode partition %s: %w", inodeTbl, err)
		}
	}

	pathExists, err := s.tableExists(ctx, pathTbl)
	if err != nil {
		return err
	}
	if pathExists {
		if err := s.query(ctx, fmt.Sprintf("TRUNCATE %s.%s", s.keyspace, pathTbl)).Exec(); err != nil {
			return fmt.Errorf("catalog: truncate path partition %s: %w", pathTbl, err)
		}
	}
	return nil
}

func (s *Session) tableExists(ctx context.Context, table string) (bool, error) {
	iter := s.query(ctx,
		"SELECT table_name FROM system_schema.tables WHERE keyspace_name = ? AND table_name = ?",
		s.keyspace, table).Iter()
	var name string
	found := iter.Scan(&name)
	if err := iter.Close(); err != nil {
		return false, fmt.Errorf("catalog: check table %s: %w", table, err)
	}
	return found, nil
}

func (s *Session) partitionNonEmpty(ctx context.Context, inodeTbl, pathTbl string, inodeExists, pathExists bool) (bool, error) {
	if inodeExists {
		if n, err := s.anyRow(ctx, inodeTbl); err != nil || n {
			return n, err
		}
	}
	if pathExists {
		return s.anyRow(ctx, pathTbl)
	}
	return false, nil
}

func (s *Session) anyRow(ctx context.Context, table string) (bool, error) {
	iter := s.query(ctx, fmt.Sprintf("SELECT medium_hash FROM %s.%s LIMIT 1", s.keyspace, table)).Iter()
	var hash string
	found := iter.Scan(&hash)
	if err := iter.Close(); err != nil {
		return false, fmt.Errorf("catalog: probe %s: %w", table, err)
	}
	return found, nil
}
