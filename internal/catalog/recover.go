package catalog

import (
	"context"
	"fmt"

	"github.com/vm-wylbur/ntt/internal/nthash"
)

// RecoverFailed resets failed_retryable inodes of the given error_type
// (or every error_type, when errType is ErrorNone) back to pending, for
// the "recover-failed" CLI command's classifier-scoped reset path
// (spec.md §6/§7). It never touches failed_permanent inodes: those are
// terminal by design.
func (s *Session) RecoverFailed(ctx context.Context, medium nthash.Hash, errType ErrorType) (int64, error) {
	tbl := inodePartition(medium)
	iter := s.query(ctx, fmt.Sprintf(
		"SELECT ino, error_type FROM %s.%s WHERE medium_hash = ? AND status = ?", s.keyspace, tbl),
		medium.String(), string(StatusFailedRetryable)).Iter()

	var ino int64
	var rowErrType string
	var targets []int64
	for iter.Scan(&ino, &rowErrType) {
		if errType != ErrorNone && ErrorType(rowErrType) != errType {
			continue
		}
		targets = append(targets, ino)
	}
	if err := iter.Close(); err != nil {
		return 0, fmt.Errorf("catalog: scan failed_retryable inodes: %w", err)
	}

	resetStmt := fmt.Sprintf(
		"UPDATE %s.%s SET status = ?, error_type = '', claimed_by = null, claimed_at = null WHERE medium_hash = ? AND ino = ?",
		s.keyspace, tbl)
	for _, in := range targets {
		if err := s.query(ctx, resetStmt, string(StatusPending), medium.String(), in).Exec(); err != nil {
			return 0, fmt.Errorf("catalog: reset ino %d: %w", in, err)
		}
	}
	return int64(len(targets)), nil
}
