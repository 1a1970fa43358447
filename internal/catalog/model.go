// Package catalog implements the partitioned relational store of medium,
// inode, path, and blob records described in spec.md §3/§4.2, grounded
// on SharedCode/sop's cassandra package (registry.go, storerepository.go,
// connection.go). Unlike the teacher, sessions are explicit per-caller
// values rather than a package-level global connection (spec.md §9).
package catalog

import (
	"encoding/json"
	"time"

	"github.com/vm-wylbur/ntt/internal/nthash"
)

// Health is the imaging-derived health classification of a medium.
type Health string

const (
	HealthOK         Health = "ok"
	HealthIncomplete Health = "incomplete"
	HealthFailed     Health = "failed"
)

// InodeStatus is the lifecycle status of an inode row (spec.md §3/§7).
type InodeStatus string

const (
	StatusPending         InodeStatus = "pending"
	StatusSuccess         InodeStatus = "success"
	StatusFailedRetryable InodeStatus = "failed_retryable"
	StatusFailedPermanent InodeStatus = "failed_permanent"
)

// ErrorType classifies why an inode ended up in a failure status
// (spec.md §4.5/§7).
type ErrorType string

const (
	ErrorNone       ErrorType = ""
	ErrorPath       ErrorType = "path_error"
	ErrorIO         ErrorType = "io_error"
	ErrorHash       ErrorType = "hash_error"
	ErrorPermission ErrorType = "permission_error"
	ErrorUnknown    ErrorType = "unknown"
)

// FSType is the directory-entry type recorded by the Enumerator
// (spec.md §4.3 field 1).
type FSType string

const (
	FSRegular   FSType = "f"
	FSDirectory FSType = "d"
	FSSymlink   FSType = "l"
	FSSocket    FSType = "s"
	FSPipe      FSType = "p"
	FSCharDev   FSType = "c"
	FSBlockDev  FSType = "b"
)

// ExcludeReason records why a path was excluded by the loader
// (spec.md §3/§6), nil when the path is not excluded.
type ExcludeReason string

const (
	ExcludeNone        ExcludeReason = ""
	ExcludePattern     ExcludeReason = "pattern_match"
	ExcludeShellUnsafe ExcludeReason = "shell_unsafe"
)

// Sentinel claimed_by values marking an inode as settled without ever
// having been claimed by a live copy worker (spec.md §4.2/§4.4).
const (
	ClaimNonFile           = "NON_FILE"
	ClaimAllPathsExcluded  = "EXCLUDED: all_paths_excluded"
	ClaimMaxRetriesExceed  = "MAX_RETRIES_EXCEEDED"
)

// Medium is a single physical storage artifact being ingested.
type Medium struct {
	Hash      nthash.Hash
	Label     string
	ImagePath string
	Health    Health
	Problems  Problems
	EnumDone  *time.Time
	CopyDone  *time.Time
}

// Problems is the free-form JSON diagnostics document attached to a
// medium (spec.md §3/§4.5).
type Problems struct {
	DuplicatePaths   []DuplicatePathEntry `json:"duplicate_paths,omitempty"`
	DiagnosticEvents []DiagnosticEvent    `json:"diagnostic_events,omitempty"`
}

// DuplicatePathEntry records a corrupted-directory condition resolved
// by the loader: a record whose metadata disagreed with the first-seen
// record for the same inode number (loader.dedupe).
type DuplicatePathEntry struct {
	PathBytes []byte `json:"path_bytes"`
	WinnerIno int64  `json:"winner_ino"`
	LoserInos []int64 `json:"loser_inos"`
}

// DiagnosticEvent is a structured append-only record of a diagnostic
// classification decision (spec.md §4.5).
type DiagnosticEvent struct {
	Ino             int64     `json:"ino"`
	RetryCount      int       `json:"retry_count"`
	ChecksPerformed []string  `json:"checks_performed"`
	Action          string    `json:"action"`
	Timestamp       time.Time `json:"timestamp"`
	WorkerID        string    `json:"worker_id"`
}

// Marshal serializes Problems to the JSON document stored on the medium
// row.
func (p Problems) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

// Inode mirrors one filesystem inode on the source medium
// (spec.md §3).
type Inode struct {
	MediumHash nthash.Hash
	Ino        int64
	FSType     FSType
	Dev        int64
	NLink      int
	Size       int64
	MTime      time.Time
	BlobID     *nthash.Hash
	MimeType   string
	Copied     bool
	Status     InodeStatus
	ErrorType  ErrorType
	ClaimedBy  string
	ClaimedAt  *time.Time
	Errors     []string
	ProcessedAt *time.Time
}

// Path names an inode within the source filesystem (spec.md §3).
type Path struct {
	MediumHash    nthash.Hash
	Ino           int64
	PathBytes     []byte
	ExcludeReason ExcludeReason
}

// Blob is the catalog's record of a content-addressed blob
// (spec.md §3).
type Blob struct {
	BlobID         nthash.Hash
	NHardlinks     int64
	ExternalBackup bool
	MimeType       string
}

// InodeWithPaths is what ClaimBatch returns: a claimed inode together
// with its non-excluded paths (spec.md §4.2/§4.6).
type InodeWithPaths struct {
	Inode Inode
	Paths []Path
}

// Outcome is what the Copy Worker reports per inode at batch-commit time
// (spec.md §4.6).
type Outcome struct {
	InodeIno        int64
	Status          InodeStatus
	ErrorType       ErrorType
	BlobID          nthash.Hash
	MimeType        string
	HardlinksPlaced int
	ErrorMessage    string
}
