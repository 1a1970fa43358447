package diagnostic

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/vm-wylbur/ntt/internal/catalog"
	"github.com/vm-wylbur/ntt/internal/config"
	"github.com/vm-wylbur/ntt/internal/nthash"
)

type fakeEvidence struct {
	truncated bool
	ioFault   bool
}

func (f fakeEvidence) TruncatedBeyondEOD(dev int64, since time.Time) bool { return f.truncated }
func (f fakeEvidence) IOFault(dev int64, since time.Time) bool            { return f.ioFault }

func policy() config.DiagnosticPolicy {
	return config.DiagnosticPolicy{CheckpointRetryCount: 10, AbsoluteRetryCap: 50}
}

func TestClassifyPathErrorIsRetryable(t *testing.T) {
	s := New(nil, NoKernelEvidence{}, policy())
	dec, err := s.Classify(context.Background(), testMedium(), 1, 1, 1, time.Now(), os.ErrNotExist, "w1")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if dec.Status != catalog.StatusFailedRetryable || dec.ErrorType != catalog.ErrorPath {
		t.Fatalf("unexpected decision: %+v", dec)
	}
}

func TestClassifyIOErrorPermanentWhenKernelCorroborates(t *testing.T) {
	s := New(nil, fakeEvidence{ioFault: true}, policy())
	dec, err := s.Classify(context.Background(), testMedium(), 1, 1, 1, time.Now(), &IOError{Err: errors.New("input/output error")}, "w1")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if dec.Status != catalog.StatusFailedPermanent || dec.ErrorType != catalog.ErrorIO {
		t.Fatalf("expected permanent io_error with kernel corroboration, got %+v", dec)
	}
}

func TestClassifyIOErrorRetryableWithoutKernelCorroboration(t *testing.T) {
	s := New(nil, NoKernelEvidence{}, policy())
	dec, err := s.Classify(context.Background(), testMedium(), 1, 1, 1, time.Now(), &IOError{Err: errors.New("input/output error")}, "w1")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if dec.Status != catalog.StatusFailedRetryable {
		t.Fatalf("expected retryable io_error absent kernel evidence, got %+v", dec)
	}
}

func TestClassifyCheckpointSweepPromotesToPermanent(t *testing.T) {
	s := New(nil, fakeEvidence{truncated: true}, policy())
	dec, err := s.Classify(context.Background(), testMedium(), 1, 1, 10, time.Now(), errors.New("mystery"), "w1")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if dec.Status != catalog.StatusFailedPermanent {
		t.Fatalf("expected checkpoint sweep at retry 10 to promote to permanent, got %+v", dec)
	}
}

func TestClassifyAbsoluteCapForcesRetryableStatus(t *testing.T) {
	s := New(nil, NoKernelEvidence{}, policy())
	dec, err := s.Classify(context.Background(), testMedium(), 1, 1, 50, time.Now(), errors.New("mystery"), "w1")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if dec.Status != catalog.StatusFailedRetryable {
		t.Fatalf("expected absolute cap at retry 50 to leave status failed_retryable (not re-claimed upstream), got %+v", dec)
	}
}

func testMedium() nthash.Hash {
	return nthash.Sum([]byte("test-medium"))
}
