package catalog

import (
	"context"
	"fmt"

	"github.com/vm-wylbur/ntt/internal/nthash"
)

// StatusCounts tallies a medium's inode partition by status, for the
// read-only status surface (spec.md §6).
type StatusCounts struct {
	Pending         int64 `json:"pending"`
	Success         int64 `json:"success"`
	FailedRetryable int64 `json:"failed_retryable"`
	FailedPermanent int64 `json:"failed_permanent"`
}

// CountByStatus scans a medium's inode partition and tallies rows by
// status. Cassandra has no GROUP BY for this shape of query, so the
// tally is done client-side over a single full scan — acceptable for a
// status-page read, not for anything on the copy hot path.
func (s *Session) CountByStatus(ctx context.Context, medium nthash.Hash) (StatusCounts, error) {
	tbl := inodePartition(medium)
	iter := s.query(ctx, fmt.Sprintf(
		"SELECT status FROM %s.%s WHERE medium_hash = ?", s.keyspace, tbl),
		medium.String()).Iter()

	var counts StatusCounts
	var status string
	for iter.Scan(&status) {
		switch InodeStatus(status) {
		case StatusPending:
			counts.Pending++
		case StatusSuccess:
			counts.Success++
		case StatusFailedRetryable:
			counts.FailedRetryable++
		case StatusFailedPermanent:
			counts.FailedPermanent++
		}
	}
	if err := iter.Close(); err != nil {
		return StatusCounts{}, fmt.Errorf("catalog: count by status for %s: %w", medium, err)
	}
	return counts, nil
}

// Ping verifies the catalog connection is live, for the status daemon's
// health check.
func (s *Session) Ping(ctx context.Context) error {
	return s.query(ctx, "SELECT keyspace_name FROM system_schema.keyspaces LIMIT 1").Exec()
}
