package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"github.com/vm-wylbur/ntt/internal/nthash"
)

// Stage identifies the timestamp the orchestrator sets on a medium once
// a stage's postcondition is verified (spec.md §4.2/§4.8).
type Stage string

const (
	StageEnum Stage = "enum_done"
	StageCopy Stage = "copy_done"
)

// CommitBatch atomically applies a batch's outcomes to the catalog: on
// success it sets status/blob_id/mime_type/processed_at; on retryable
// failure it clears claimed_by and appends the error; on permanent
// failure it pins claimed_by to the MAX_RETRIES_EXCEEDED sentinel so the
// inode is never re-claimed. It also upserts each distinct touched blob
// row's hardlink count (spec.md §4.6).
func (s *Session) CommitBatch(ctx context.Context, medium nthash.Hash, outcomes []Outcome) error {
	tbl := inodePartition(medium)
	now := time.Now().UTC()

	blobHardlinks := map[nthash.Hash]int{}

	batch := s.cql.NewBatch(gocql.UnloggedBatch).WithContext(ctx)
	for _, o := range outcomes {
		switch o.Status {
		case StatusSuccess:
			stmt := fmt.Sprintf(`UPDATE %s.%s SET status=?, copied=true, blob_id=?, mime_type=?, processed_at=?, claimed_by=?, error_type=''
				WHERE medium_hash=? AND ino=?`, s.keyspace, tbl)
			batch.Query(stmt, string(StatusSuccess), o.BlobID.String(), o.MimeType, now, "", medium.String(), o.InodeIno)
			if o.HardlinksPlaced > 0 {
				blobHardlinks[o.BlobID] += o.HardlinksPlaced
			}
		case StatusFailedRetryable:
			stmt := fmt.Sprintf(`UPDATE %s.%s SET status=?, error_type=?, claimed_by=?, claimed_at=null, errors = errors + ?
				WHERE medium_hash=? AND ino=?`, s.keyspace, tbl)
			batch.Query(stmt, string(StatusFailedRetryable), string(o.ErrorType), "", []string{o.ErrorMessage}, medium.String(), o.InodeIno)
		case StatusFailedPermanent:
			stmt := fmt.Sprintf(`UPDATE %s.%s SET status=?, error_type=?, claimed_by=?, errors = errors + ?
				WHERE medium_hash=? AND ino=?`, s.keyspace, tbl)
			batch.Query(stmt, string(StatusFailedPermanent), string(o.ErrorType), ClaimMaxRetriesExceed, []string{o.ErrorMessage}, medium.String(), o.InodeIno)
		default:
			return fmt.Errorf("catalog: commit batch: outcome for ino %d has no status", o.InodeIno)
		}
	}

	if err := s.cql.ExecuteBatch(batch); err != nil {
		return fmt.Errorf("catalog: commit batch: %w", err)
	}

	for blobID, n := range blobHardlinks {
		if err := s.upsertBlobHardlinks(ctx, blobID, n); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) upsertBlobHardlinks(ctx context.Context, blobID nthash.Hash, delta int) error {
	stmt := fmt.Sprintf(`UPDATE %s.blob SET n_hardlinks = n_hardlinks + ? WHERE blob_id = ?`, s.keyspace)
	if err := s.query(ctx, stmt, int64(delta), blobID.String()).Exec(); err != nil {
		return fmt.Errorf("catalog: upsert blob %s hardlinks: %w", blobID, err)
	}
	return nil
}

// MarkNonCopyable sets status='success' with the appropriate sentinel
// claimed_by for inodes the copier must never claim: non-regular
// inodes, and inodes whose every path is excluded (spec.md §4.2/§4.4
// step 7).
func (s *Session) MarkNonCopyable(ctx context.Context, medium nthash.Hash) error {
	inodeTbl := inodePartition(medium)
	pathTbl := pathPartition(medium)

	nonFileStmt := fmt.Sprintf(`UPDATE %s.%s SET status=?, claimed_by=? WHERE medium_hash=? AND ino=?`, s.keyspace, inodeTbl)

	iter := s.query(ctx, fmt.Sprintf("SELECT ino, fs_type FROM %s.%s WHERE medium_hash=?", s.keyspace, inodeTbl), medium.String()).Iter()
	var ino int64
	var fsType string
	var nonFile []int64
	for iter.Scan(&ino, &fsType) {
		if FSType(fsType) != FSRegular {
			nonFile = append(nonFile, ino)
		}
	}
	if err := iter.Close(); err != nil {
		return fmt.Errorf("catalog: scan inodes for non-copyable pass: %w", err)
	}
	for _, in := range nonFile {
		if err := s.query(ctx, nonFileStmt, string(StatusSuccess), ClaimNonFile, medium.String(), in).Exec(); err != nil {
			return fmt.Errorf("catalog: mark non-file ino %d: %w", in, err)
		}
	}

	allExcluded, err := s.inodesWithAllPathsExcluded(ctx, medium, inodeTbl, pathTbl)
	if err != nil {
		return err
	}
	for _, in := range allExcluded {
		if err := s.query(ctx, nonFileStmt, string(StatusSuccess), ClaimAllPathsExcluded, medium.String(), in).Exec(); err != nil {
			return fmt.Errorf("catalog: mark all-excluded ino %d: %w", in, err)
		}
	}
	return nil
}

func (s *Session) inodesWithAllPathsExcluded(ctx context.Context, medium nthash.Hash, inodeTbl, pathTbl string) ([]int64, error) {
	iter := s.query(ctx, fmt.Sprintf("SELECT DISTINCT ino FROM %s.%s WHERE medium_hash=?", s.keyspace, inodeTbl), medium.String()).Iter()
	var ino int64
	var all []int64
	for iter.Scan(&ino) {
		all = append(all, ino)
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("catalog: scan inodes: %w", err)
	}

	var result []int64
	for _, in := range all {
		pIter := s.query(ctx, fmt.Sprintf("SELECT exclude_reason FROM %s.%s WHERE medium_hash=? AND ino=?", s.keyspace, pathTbl), medium.String(), in).Iter()
		var reason string
		hasPath := false
		allExcluded := true
		for pIter.Scan(&reason) {
			hasPath = true
			if reason == "" {
				allExcluded = false
			}
		}
		if err := pIter.Close(); err != nil {
			return nil, fmt.Errorf("catalog: scan paths for ino %d: %w", in, err)
		}
		if hasPath && allExcluded {
			result = append(result, in)
		}
	}
	return result, nil
}

// SetStageTimestamp sets enum_done or copy_done on the medium row, only
// ever moving forward in time (spec.md §3: "enum_done and copy_done are
// only ever set forward").
func (s *Session) SetStageTimestamp(ctx context.Context, medium nthash.Hash, stage Stage) error {
	stmt := fmt.Sprintf("UPDATE %s.medium SET %s = ? WHERE medium_hash = ? IF %s = null", s.keyspace, stage, stage)
	now := time.Now().UTC()
	applied, err := s.query(ctx, stmt, now, medium.String()).MapScanCAS(map[string]interface{}{})
	if err != nil {
		return fmt.Errorf("catalog: set %s: %w", stage, err)
	}
	if !applied {
		// Already set; timestamps are monotonic, so a re-run is a no-op,
		// not an error (spec.md §4.8: "each transition is idempotent").
		return nil
	}
	return nil
}

// sentinelClaims are claimed_by values MarkNonCopyable and CommitBatch
// pin permanently on a terminal inode (non-file, all-paths-excluded,
// retries exhausted). They mark "never claim again," not a live
// worker holding the row, so claim-liveness checks must not count them.
var sentinelClaims = map[string]bool{
	ClaimNonFile:          true,
	ClaimAllPathsExcluded: true,
	ClaimMaxRetriesExceed: true,
}

// CountNonTerminal returns the number of inodes whose status has not
// yet reached a terminal state (pending or failed_retryable),
// regardless of whether they are currently claimed. This is archival
// precondition (a) of spec.md §4.7 ("every inode has terminal status"),
// kept independent of claim state — see CountLiveClaims.
func (s *Session) CountNonTerminal(ctx context.Context, medium nthash.Hash) (int64, error) {
	tbl := inodePartition(medium)
	iter := s.query(ctx, fmt.Sprintf(
		"SELECT status FROM %s.%s WHERE medium_hash=?", s.keyspace, tbl), medium.String()).Iter()
	var status string
	var count int64
	for iter.Scan(&status) {
		if InodeStatus(status) == StatusPending || InodeStatus(status) == StatusFailedRetryable {
			count++
		}
	}
	if err := iter.Close(); err != nil {
		return 0, fmt.Errorf("catalog: count non-terminal: %w", err)
	}
	return count, nil
}

// CountLiveClaims returns the number of inodes currently held by a live
// worker claim, regardless of status. This is archival precondition
// (b) of spec.md §4.7 ("no claim is held by a live worker"). It must be
// checked independently of CountNonTerminal and of this process's own
// worker pool having drained: spec.md §6 allows several independent
// "copy" CLI processes to fan out against the same medium, so a claim
// can still be in flight on another process even after this one's
// copyUntilDrained returns.
func (s *Session) CountLiveClaims(ctx context.Context, medium nthash.Hash) (int64, error) {
	tbl := inodePartition(medium)
	iter := s.query(ctx, fmt.Sprintf(
		"SELECT claimed_by FROM %s.%s WHERE medium_hash=?", s.keyspace, tbl), medium.String()).Iter()
	var claimedBy string
	var count int64
	for iter.Scan(&claimedBy) {
		if claimedBy != "" && !sentinelClaims[claimedBy] {
			count++
		}
	}
	if err := iter.Close(); err != nil {
		return 0, fmt.Errorf("catalog: count live claims: %w", err)
	}
	return count, nil
}

// CountUnclaimedCopyable returns the number of inodes still eligible for
// copying (status pending/failed_retryable with no live claim). Used by
// the orchestrator's copied-state postcondition check (spec.md §4.8).
func (s *Session) CountUnclaimedCopyable(ctx context.Context, medium nthash.Hash) (int64, error) {
	tbl := inodePartition(medium)
	iter := s.query(ctx, fmt.Sprintf(
		"SELECT claimed_by FROM %s.%s WHERE medium_hash=? AND status IN ('pending','failed_retryable')", s.keyspace, tbl),
		medium.String()).Iter()
	var claimedBy string
	var count int64
	for iter.Scan(&claimedBy) {
		if claimedBy == "" {
			count++
		}
	}
	if err := iter.Close(); err != nil {
		return 0, fmt.Errorf("catalog: count unclaimed copyable: %w", err)
	}
	return count, nil
}
