// Package diagnostic turns a Copy Worker exception plus kernel-log
// evidence into a retry/permanent-failure classification, and appends
// the decision as a structured event on the medium (spec.md §4.5).
package diagnostic

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/vm-wylbur/ntt/internal/catalog"
	"github.com/vm-wylbur/ntt/internal/config"
	"github.com/vm-wylbur/ntt/internal/nthash"
)

// ClassifiableError is the sum-type interface the Copy Worker's failure
// paths implement so the diagnostic service can classify them without a
// type switch over concrete error types (spec.md §9 design note:
// "python-style isinstance() chains over exception types are not
// idiomatic Go — prefer a small sum-type interface").
type ClassifiableError interface {
	error
	// Trait returns the classification hint this error carries; the
	// service still consults KernelEvidence for the traits that require
	// dmesg corroboration.
	Trait() Trait
}

// Trait is the exception-side half of spec.md §4.5's classification
// table, independent of kernel-log corroboration.
type Trait int

const (
	TraitUnknown Trait = iota
	TraitNotFound
	TraitOverlongPath
	TraitPermissionDenied
	TraitIOError
	TraitHashMismatch
)

// PathError wraps a "no such file or directory" or overlong-path
// condition encountered while opening or stat-ing a claimed inode.
type PathError struct{ Err error }

func (e *PathError) Error() string  { return "path error: " + e.Err.Error() }
func (e *PathError) Unwrap() error  { return e.Err }
func (e *PathError) Trait() Trait   { return TraitNotFound }

// PermissionError wraps an EACCES/EPERM encountered while reading a
// claimed inode through the mount point.
type PermissionError struct{ Err error }

func (e *PermissionError) Error() string { return "permission error: " + e.Err.Error() }
func (e *PermissionError) Unwrap() error { return e.Err }
func (e *PermissionError) Trait() Trait  { return TraitPermissionDenied }

// IOError wraps a low-level read failure ("input/output error").
type IOError struct{ Err error }

func (e *IOError) Error() string { return "io error: " + e.Err.Error() }
func (e *IOError) Unwrap() error { return e.Err }
func (e *IOError) Trait() Trait  { return TraitIOError }

// HashMismatchError signals the streamed hash disagreed with the
// finalized blob's hash — a step-3 corruption-in-flight condition.
type HashMismatchError struct {
	Want, Got nthash.Hash
}

func (e *HashMismatchError) Error() string {
	return "hash mismatch: want " + e.Want.String() + " got " + e.Got.String()
}
func (e *HashMismatchError) Trait() Trait { return TraitHashMismatch }

// KernelEvidence answers whether the kernel log corroborates an I/O
// fault for a given backing device around the time of the read. A real
// deployment backs this with a dmesg reader; tests supply a fake.
type KernelEvidence interface {
	// TruncatedBeyondEOD reports whether dmesg shows "beyond EOD,
	// truncated" for dev since the given time — a permanent-failure
	// signal even without an explicit I/O error from the read itself.
	TruncatedBeyondEOD(dev int64, since time.Time) bool
	// IOFault reports whether dmesg shows a corroborating I/O fault for
	// dev since the given time.
	IOFault(dev int64, since time.Time) bool
}

// NoKernelEvidence is a KernelEvidence that never corroborates anything,
// for environments where a dmesg reader isn't wired up (e.g. containers
// without host kernel log access).
type NoKernelEvidence struct{}

func (NoKernelEvidence) TruncatedBeyondEOD(int64, time.Time) bool { return false }
func (NoKernelEvidence) IOFault(int64, time.Time) bool            { return false }

// Service classifies exceptions into catalog statuses and records the
// decision, per spec.md §4.5.
type Service struct {
	catalog  *catalog.Session
	evidence KernelEvidence
	policy   config.DiagnosticPolicy
}

// New constructs a diagnostic Service bound to a catalog session and
// kernel-evidence source.
func New(cat *catalog.Session, evidence KernelEvidence, policy config.DiagnosticPolicy) *Service {
	if evidence == nil {
		evidence = NoKernelEvidence{}
	}
	return &Service{catalog: cat, evidence: evidence, policy: policy}
}

// Decision is what Classify returns: the terminal-or-retryable status
// and error_type to record on the inode. A checkpoint sweep that finds
// the inode unrecoverable shows up as Status failed_permanent with
// ErrorType io_error.
type Decision struct {
	Status    catalog.InodeStatus
	ErrorType catalog.ErrorType
}

// Classify converts err plus ancillary evidence into a Decision
// (spec.md §4.5's classification table), appends a diagnostic event to
// the medium, and applies the retry-count checkpoint/cap policy.
func (s *Service) Classify(ctx context.Context, medium nthash.Hash, ino int64, dev int64, retryCount int, since time.Time, err error, workerID string) (Decision, error) {
	checks := []string{}
	decision := s.classifyTrait(err, dev, since, &checks)

	if retryCount == s.policy.CheckpointRetryCount {
		checks = append(checks, "checkpoint_sweep")
		if s.sweepUnrecoverable(dev, since) {
			decision = Decision{Status: catalog.StatusFailedPermanent, ErrorType: catalog.ErrorIO}
		}
	}

	if retryCount >= s.policy.AbsoluteRetryCap && decision.Status != catalog.StatusFailedPermanent {
		// spec.md §4.5: "Omitting this cap creates an infinite retry loop
		// ... non-negotiable."
		checks = append(checks, "absolute_cap")
		decision.Status = catalog.StatusFailedRetryable
	}

	action := string(decision.Status) + ":" + string(decision.ErrorType)
	event := catalog.DiagnosticEvent{
		Ino: ino, RetryCount: retryCount, ChecksPerformed: checks,
		Action: action, Timestamp: time.Now().UTC(), WorkerID: workerID,
	}
	if s.catalog != nil {
		if aerr := s.catalog.AppendDiagnosticEvent(ctx, medium, event); aerr != nil {
			return decision, aerr
		}
	}
	return decision, nil
}

func (s *Service) classifyTrait(err error, dev int64, since time.Time, checks *[]string) Decision {
	var ce ClassifiableError
	trait := TraitUnknown
	if errors.As(err, &ce) {
		trait = ce.Trait()
	} else if os.IsNotExist(err) {
		trait = TraitNotFound
	} else if os.IsPermission(err) {
		trait = TraitPermissionDenied
	} else if strings.Contains(err.Error(), "input/output error") {
		trait = TraitIOError
	}

	switch trait {
	case TraitNotFound:
		return Decision{Status: catalog.StatusFailedRetryable, ErrorType: catalog.ErrorPath}
	case TraitPermissionDenied:
		return Decision{Status: catalog.StatusFailedRetryable, ErrorType: catalog.ErrorPermission}
	case TraitHashMismatch:
		return Decision{Status: catalog.StatusFailedRetryable, ErrorType: catalog.ErrorHash}
	case TraitIOError:
		*checks = append(*checks, "dmesg_io_fault")
		if s.evidence.IOFault(dev, since) {
			return Decision{Status: catalog.StatusFailedPermanent, ErrorType: catalog.ErrorIO}
		}
		return Decision{Status: catalog.StatusFailedRetryable, ErrorType: catalog.ErrorIO}
	default:
		*checks = append(*checks, "dmesg_truncated_eod")
		if s.evidence.TruncatedBeyondEOD(dev, since) {
			return Decision{Status: catalog.StatusFailedPermanent, ErrorType: catalog.ErrorIO}
		}
		return Decision{Status: catalog.StatusFailedRetryable, ErrorType: catalog.ErrorUnknown}
	}
}

// sweepUnrecoverable runs the retry_count==10 checkpoint's full
// diagnostic sweep (spec.md §4.5: "mount check, dmesg inspection,
// path-existence probe, EOF check"). Any corroborating kernel evidence
// of device-level damage is treated as conclusive.
func (s *Service) sweepUnrecoverable(dev int64, since time.Time) bool {
	return s.evidence.TruncatedBeyondEOD(dev, since) || s.evidence.IOFault(dev, since)
}
