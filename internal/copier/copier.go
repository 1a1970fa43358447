// Package copier implements the concurrent claim/process/commit loop
// that streams file content into the blob store with dedup, classifies
// failures via the diagnostic service, and commits outcomes back to the
// catalog in atomic batches (spec.md §4.6).
package copier

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/sync/errgroup"

	"github.com/vm-wylbur/ntt/internal/blobstore"
	"github.com/vm-wylbur/ntt/internal/blobstore/s3backup"
	"github.com/vm-wylbur/ntt/internal/catalog"
	"github.com/vm-wylbur/ntt/internal/config"
	"github.com/vm-wylbur/ntt/internal/diagnostic"
	"github.com/vm-wylbur/ntt/internal/nthash"
)

// sniffWindow bytes are enough for magic-byte MIME sniffing
// (spec.md §4.6 step 3: "magic-byte sniff on first 8 KiB").
const sniffWindow = 8192

// Worker drives the claim/process/commit loop for one worker identity
// against one medium. Multiple Workers (usually one per OS thread
// budget) may run concurrently against the same medium; they never
// block each other (see catalog.ClaimBatch doc comment).
type Worker struct {
	ID         string
	Catalog    *catalog.Session
	Blobs      blobstore.Store
	Diagnostic *diagnostic.Service
	Backup     s3backup.Uploader // optional, nil disables external backup mirroring

	MountRoot      string
	BatchSize      int
	MaxConsecutive int // consecutive empty claims before a worker exits (spec.md §4.6)
	SoftTimeout    time.Duration
	TempDir        string // scratch dir on the same filesystem as the blob store root
}

// Run drives the worker's claim loop until MaxConsecutive consecutive
// empty claims, ctx cancellation, or a fatal store condition.
func (w *Worker) Run(ctx context.Context, medium nthash.Hash) error {
	empty := 0
	for empty < w.MaxConsecutive {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		claimed, err := w.Catalog.ClaimBatch(ctx, medium, w.ID, w.BatchSize)
		if err != nil {
			return fmt.Errorf("copier: claim batch: %w", err)
		}
		if len(claimed) == 0 {
			empty++
			continue
		}
		empty = 0

		if err := w.processBatch(ctx, medium, claimed); err != nil {
			return err
		}
	}
	slog.Info("copier: worker exiting, claim exhausted", "worker_id", w.ID, "medium", medium.String())
	return nil
}

// processBatch processes every claimed inode and commits the batch
// atomically. The result map is seeded with an "unknown error" outcome
// for every claimed inode before any processing happens, then
// overwritten as work completes — the defensive construction spec.md
// §4.6 calls for to prevent the historical "NoneType result" infinite
// re-claim defect: an inode that falls off the map is a bug we want to
// catch at commit time, not observe in production as a silent loop.
func (w *Worker) processBatch(ctx context.Context, medium nthash.Hash, claimed []catalog.InodeWithPaths) error {
	results := make(map[int64]catalog.Outcome, len(claimed))
	for _, c := range claimed {
		results[c.Inode.Ino] = catalog.Outcome{
			InodeIno: c.Inode.Ino, Status: catalog.StatusFailedRetryable,
			ErrorType: catalog.ErrorUnknown, ErrorMessage: "unprocessed: defensive seed value",
		}
	}

	var claimedInos []int64
	for _, c := range claimed {
		claimedInos = append(claimedInos, c.Inode.Ino)
		results[c.Inode.Ino] = w.processOne(ctx, medium, c)
	}

	outcomes := make([]catalog.Outcome, 0, len(results))
	for _, ino := range claimedInos {
		o, ok := results[ino]
		if !ok {
			// Unreachable by construction (seeded above), but the
			// invariant is checked explicitly rather than trusted.
			return fmt.Errorf("copier: invariant violated: ino %d missing from result map at commit time", ino)
		}
		outcomes = append(outcomes, o)
	}

	if err := w.Catalog.CommitBatch(ctx, medium, outcomes); err != nil {
		return fmt.Errorf("copier: commit batch: %w", err)
	}
	return nil
}

// processOne performs steps 1-5 of spec.md §4.6 for a single claimed
// inode. It never returns an error — every failure mode is folded into
// the returned Outcome via the diagnostic service, matching spec.md's
// "do not re-raise; continue to the next inode in the batch."
func (w *Worker) processOne(ctx context.Context, medium nthash.Hash, c catalog.InodeWithPaths) catalog.Outcome {
	ino := c.Inode.Ino
	base := catalog.Outcome{InodeIno: ino}

	if len(c.Paths) == 0 {
		base.Status = catalog.StatusFailedPermanent
		base.ErrorType = catalog.ErrorPath
		base.ErrorMessage = "no non-excluded path available"
		return base
	}
	canonical := string(c.Paths[0].PathBytes)
	fullPath := filepath.Join(w.MountRoot, canonical)

	src, err := openDirectSource(fullPath)
	if err != nil {
		return w.classify(ctx, medium, ino, c.Inode.Dev, len(c.Inode.Errors), err, base)
	}
	defer src.Close()

	timeoutCtx := ctx
	var cancel context.CancelFunc
	if w.SoftTimeout > 0 {
		timeoutCtx, cancel = context.WithTimeout(ctx, w.SoftTimeout)
		defer cancel()
	}

	hash, tmpPath, err := w.streamToTemp(timeoutCtx, src)
	if err != nil {
		return w.classify(ctx, medium, ino, c.Inode.Dev, len(c.Inode.Errors), err, base)
	}
	defer os.Remove(tmpPath)

	mimeType, err := sniffMime(tmpPath)
	if err != nil {
		return w.classify(ctx, medium, ino, c.Inode.Dev, len(c.Inode.Errors), err, base)
	}

	insertOutcome, err := w.Blobs.InsertFromTemp(ctx, tmpPath, hash)
	if err != nil {
		return w.classify(ctx, medium, ino, c.Inode.Dev, len(c.Inode.Errors), err, base)
	}

	if w.Backup != nil && insertOutcome == blobstore.Created {
		data, rerr := os.ReadFile(w.Blobs.Path(hash))
		if rerr == nil {
			if uerr := w.Backup.Upload(ctx, hash, data); uerr != nil {
				slog.Warn("copier: external backup upload failed, continuing", "hash", hash.String(), "error", uerr)
			}
		}
	}

	placed := 0
	for _, p := range c.Paths {
		dst := filepath.Join(w.MountRoot, string(p.PathBytes))
		if err := w.Blobs.HardlinkTo(ctx, hash, dst); err != nil {
			return w.classify(ctx, medium, ino, c.Inode.Dev, len(c.Inode.Errors), err, base)
		}
		placed++
	}

	base.Status = catalog.StatusSuccess
	base.ErrorType = catalog.ErrorNone
	base.BlobID = hash
	base.MimeType = mimeType
	base.HardlinksPlaced = placed
	return base
}

// streamToTemp streams src into a temp file on w.TempDir while updating
// a running BLAKE3 hash, without ever holding the whole file in memory
// (spec.md §4.6 step 2: "streaming, not slurping").
func (w *Worker) streamToTemp(ctx context.Context, src io.Reader) (nthash.Hash, string, error) {
	tmp, err := os.CreateTemp(w.TempDir, "ntt-copy-*")
	if err != nil {
		return nthash.Zero, "", fmt.Errorf("create temp file: %w", err)
	}
	defer tmp.Close()

	hasher := nthash.NewStreamer()
	mw := io.MultiWriter(tmp, hasher)

	done := make(chan error, 1)
	go func() {
		_, err := io.Copy(mw, src)
		done <- err
	}()

	select {
	case <-ctx.Done():
		return nthash.Zero, tmp.Name(), ctx.Err()
	case err := <-done:
		if err != nil {
			return nthash.Zero, tmp.Name(), fmt.Errorf("stream copy: %w", err)
		}
	}

	if err := tmp.Sync(); err != nil {
		return nthash.Zero, tmp.Name(), fmt.Errorf("fsync temp file: %w", err)
	}
	return hasher.Sum(), tmp.Name(), nil
}

func sniffMime(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	buf := make([]byte, sniffWindow)
	n, err := f.Read(buf)
	if err != nil && err != io.EOF {
		return "", err
	}
	mt := mimetype.Detect(buf[:n])
	return mt.String(), nil
}

// classify routes a processing error through the diagnostic service and
// folds its decision into outcome (spec.md §4.6: "invoke the Diagnostic
// Service with the exception and the current retry count"). retryCount
// is the inode's prior attempt count — the length of its append-only
// errors list (catalog.Inode.Errors) as of the claim that produced
// this processing attempt — so the checkpoint sweep and absolute cap
// in diagnostic.Service.Classify (spec.md §4.5) can actually fire.
func (w *Worker) classify(ctx context.Context, medium nthash.Hash, ino int64, dev int64, retryCount int, err error, outcome catalog.Outcome) catalog.Outcome {
	dec, derr := w.Diagnostic.Classify(ctx, medium, ino, dev, retryCount, time.Now(), err, w.ID)
	if derr != nil {
		slog.Warn("copier: diagnostic classification failed, defaulting to retryable", "ino", ino, "error", derr)
		outcome.Status = catalog.StatusFailedRetryable
		outcome.ErrorType = catalog.ErrorUnknown
	} else {
		outcome.Status = dec.Status
		outcome.ErrorType = dec.ErrorType
	}
	outcome.ErrorMessage = err.Error()
	return outcome
}

// Pool runs n Workers concurrently against the same medium, grounded on
// the teacher's TaskRunner (task_runner.go): an errgroup bounded by a
// buffered channel acting as a semaphore.
type Pool struct {
	eg    *errgroup.Group
	slots chan struct{}
}

// NewPool creates a worker pool capped at maxConcurrency simultaneous
// workers.
func NewPool(ctx context.Context, maxConcurrency int) (*Pool, context.Context) {
	eg, gctx := errgroup.WithContext(ctx)
	return &Pool{eg: eg, slots: make(chan struct{}, maxConcurrency)}, gctx
}

// Go schedules a worker's Run under the pool's concurrency cap.
func (p *Pool) Go(run func() error) {
	p.slots <- struct{}{}
	p.eg.Go(func() error {
		defer func() { <-p.slots }()
		return run()
	})
}

// Wait blocks until every scheduled worker has returned, propagating the
// first error (if any), per errgroup semantics.
func (p *Pool) Wait() error {
	return p.eg.Wait()
}
