package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/vm-wylbur/ntt/internal/nthash"
)

// claimLockDuration bounds how long a Redis advisory claim lock is held
// before it expires. Expiry frees only the Redis lock: a crashed
// worker's rows keep their claimed_by value, and ClaimBatch skips them
// until ReleaseClaim (or recover-failed) clears it.
const claimLockDuration = 10 * time.Minute

// ClaimBatch atomically marks up to limit unclaimed pending/retryable
// inodes as claimed by workerID and returns them with their non-excluded
// paths (spec.md §4.2/§4.6).
//
// Cassandra has no row-level locks, so "skip-locked" is realized with a
// per-row lightweight transaction (IF claimed_by = NULL): a peer whose
// compare-and-set loses simply skips that row instead of blocking,
// which is the property spec.md actually requires ("peers never block
// each other"), not literal SQL SKIP LOCKED syntax. A Redis advisory
// lock (catalog.LockClient, grounded on redis/locker.go) short-circuits
// the common case so most claims never need a failed LWT round trip.
func (s *Session) ClaimBatch(ctx context.Context, medium nthash.Hash, workerID string, limit int) ([]InodeWithPaths, error) {
	tbl := inodePartition(medium)

	candidates, err := s.candidateInodes(ctx, tbl, medium, limit*2)
	if err != nil {
		return nil, err
	}

	var claimed []Inode
	for _, in := range candidates {
		if len(claimed) >= limit {
			break
		}
		lockKeys := s.locks.NewLockKeys(fmt.Sprintf("%s:%d", medium.String(), in.Ino))
		ok, err := s.locks.Lock(ctx, claimLockDuration, lockKeys...)
		if err != nil {
			return nil, fmt.Errorf("catalog: claim lock ino %d: %w", in.Ino, err)
		}
		if !ok {
			continue
		}

		now := time.Now().UTC()
		applied, err := s.tryClaimRow(ctx, tbl, medium, in.Ino, workerID, now)
		if err != nil {
			_ = s.locks.Unlock(ctx, lockKeys...)
			return nil, err
		}
		if !applied {
			// Lost the race to another worker's direct Cassandra claim
			// (bypassing the Redis lock, or a stale lock already expired).
			_ = s.locks.Unlock(ctx, lockKeys...)
			continue
		}
		in.ClaimedBy = workerID
		in.ClaimedAt = &now
		claimed = append(claimed, in)
	}

	result := make([]InodeWithPaths, 0, len(claimed))
	for _, in := range claimed {
		paths, err := s.nonExcludedPaths(ctx, medium, in.Ino)
		if err != nil {
			return nil, err
		}
		result = append(result, InodeWithPaths{Inode: in, Paths: paths})
	}
	return result, nil
}

func (s *Session) candidateInodes(ctx context.Context, tbl string, medium nthash.Hash, limit int) ([]Inode, error) {
	stmt := fmt.Sprintf(`SELECT ino, fs_type, dev, nlink, size, mtime, status, error_type, claimed_by, errors
		FROM %s.%s WHERE medium_hash = ? AND status IN ('pending','failed_retryable') LIMIT ?`, s.keyspace, tbl)
	iter := s.query(ctx, stmt, medium.String(), limit).Iter()

	var out []Inode
	var ino, dev int64
	var nlink int
	var size int64
	var mtime time.Time
	var status, errType, claimedBy, fsType string
	var errs []string
	for iter.Scan(&ino, &fsType, &dev, &nlink, &size, &mtime, &status, &errType, &claimedBy, &errs) {
		if claimedBy != "" {
			continue
		}
		out = append(out, Inode{
			MediumHash: medium, Ino: ino, FSType: FSType(fsType), Dev: dev, NLink: nlink,
			Size: size, MTime: mtime, Status: InodeStatus(status), ErrorType: ErrorType(errType),
			Errors: append([]string(nil), errs...),
		})
		errs = nil
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("catalog: scan claim candidates: %w", err)
	}
	return out, nil
}

// tryClaimRow performs the Cassandra LWT that is this implementation's
// stand-in for a skip-locked row lock (see ClaimBatch doc comment).
func (s *Session) tryClaimRow(ctx context.Context, tbl string, medium nthash.Hash, ino int64, workerID string, at time.Time) (bool, error) {
	stmt := fmt.Sprintf(`UPDATE %s.%s SET claimed_by = ?, claimed_at = ?
		WHERE medium_hash = ? AND ino = ? IF claimed_by = null`, s.keyspace, tbl)
	applied, err := s.query(ctx, stmt, workerID, at, medium.String(), ino).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return false, fmt.Errorf("catalog: claim LWT ino %d: %w", ino, err)
	}
	return applied, nil
}

func (s *Session) nonExcludedPaths(ctx context.Context, medium nthash.Hash, ino int64) ([]Path, error) {
	tbl := pathPartition(medium)
	stmt := fmt.Sprintf("SELECT path_bytes, exclude_reason FROM %s.%s WHERE medium_hash = ? AND ino = ?", s.keyspace, tbl)
	iter := s.query(ctx, stmt, medium.String(), ino).Iter()

	var out []Path
	var pathBytes []byte
	var reason string
	for iter.Scan(&pathBytes, &reason) {
		if reason != "" {
			continue
		}
		cp := make([]byte, len(pathBytes))
		copy(cp, pathBytes)
		out = append(out, Path{MediumHash: medium, Ino: ino, PathBytes: cp, ExcludeReason: ExcludeReason(reason)})
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("catalog: scan paths for ino %d: %w", ino, err)
	}
	return out, nil
}

// ReleaseClaim clears claimed_by/claimed_at on the given inodes and
// drops their advisory locks, used on transient failure or worker
// cancellation (spec.md §4.2/§5).
func (s *Session) ReleaseClaim(ctx context.Context, medium nthash.Hash, inodeIDs []int64) error {
	tbl := inodePartition(medium)
	stmt := fmt.Sprintf("UPDATE %s.%s SET claimed_by = null, claimed_at = null WHERE medium_hash = ? AND ino = ?", s.keyspace, tbl)
	for _, ino := range inodeIDs {
		if err := s.query(ctx, stmt, medium.String(), ino).Exec(); err != nil {
			return fmt.Errorf("catalog: release claim ino %d: %w", ino, err)
		}
		lockKeys := s.locks.NewLockKeys(fmt.Sprintf("%s:%d", medium.String(), ino))
		for _, lk := range lockKeys {
			lk.IsOwner = true
		}
		_ = s.locks.Unlock(ctx, lockKeys...)
	}
	return nil
}
