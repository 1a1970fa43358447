// Package orchestrator drives a single medium through the state machine
// imaged -> mounted -> enumerated -> loaded -> copying -> copied ->
// archived (spec.md §4.8). Run skips enumerate/load when the medium
// passed to it already has enum_done set, and stage timestamps are
// set-once, so a re-run after a crash does not redo a completed load —
// the idempotent-phased-commit idiom the teacher
// applies to its own Transaction/TwoPhaseCommitTransaction split
// (transaction.go), adapted here to a coarser per-stage granularity.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vm-wylbur/ntt/internal/archiver"
	"github.com/vm-wylbur/ntt/internal/blobstore"
	"github.com/vm-wylbur/ntt/internal/catalog"
	"github.com/vm-wylbur/ntt/internal/config"
	"github.com/vm-wylbur/ntt/internal/copier"
	"github.com/vm-wylbur/ntt/internal/diagnostic"
	"github.com/vm-wylbur/ntt/internal/enumerator"
	"github.com/vm-wylbur/ntt/internal/imaging"
	"github.com/vm-wylbur/ntt/internal/loader"
	"github.com/vm-wylbur/ntt/internal/mount"
	"github.com/vm-wylbur/ntt/internal/nthash"
)

// Stage names the orchestrator's state machine positions (spec.md §4.8).
type Stage string

const (
	StageImaged     Stage = "imaged"
	StageMounted    Stage = "mounted"
	StageEnumerated Stage = "enumerated"
	StageLoaded     Stage = "loaded"
	StageCopying    Stage = "copying"
	StageCopied     Stage = "copied"
	StageArchived   Stage = "archived"
)

// Orchestrator holds every collaborator a medium's run needs.
type Orchestrator struct {
	Catalog    *catalog.Session
	Blobs      blobstore.Store
	Mount      mount.Collaborator
	Diagnostic *diagnostic.Service
	Config     config.Options

	MapReader imaging.MapReader
	Forced    bool // force processing of a medium with health=failed
}

// CurrentStage re-derives a medium's state-machine position from
// catalog fields alone — there is no separate "stage" column, since the
// stage is always a pure function of {archived flag, copy_done,
// enum_done, unclaimed-copyable count, mounted flag} and storing it twice would
// invite drift.
func (o *Orchestrator) CurrentStage(ctx context.Context, medium catalog.Medium, mounted bool, archived bool) (Stage, error) {
	if archived {
		return StageArchived, nil
	}
	if medium.CopyDone != nil {
		return StageCopied, nil
	}
	if medium.EnumDone != nil {
		unclaimed, err := o.Catalog.CountUnclaimedCopyable(ctx, medium.Hash)
		if err != nil {
			return "", fmt.Errorf("orchestrator: count unclaimed copyable: %w", err)
		}
		if unclaimed == 0 {
			return StageCopying, nil // enum+load done, nothing claimable left to discover but copy_done unset
		}
		return StageLoaded, nil
	}
	if mounted {
		return StageMounted, nil
	}
	return StageImaged, nil
}

// Run mounts the medium, enumerates and loads it unless enum_done is
// already set, and copies until the claim queue drains and copy_done is
// stamped (StageCopied), stopping at the first error and unmounting on
// return. Archiving is the separate Archive function.
func (o *Orchestrator) Run(ctx context.Context, medium catalog.Medium, imagePath, mapPath, mountRoot string, workerCount int) error {
	mountedLayout, err := o.ensureMounted(ctx, medium, imagePath, mapPath)
	if err != nil {
		return err
	}
	defer func() {
		if uerr := o.Mount.Unmount(ctx, medium.Hash.String(), mountedLayout); uerr != nil {
			slog.Warn("orchestrator: unmount failed", "medium", medium.Hash.String(), "error", uerr)
		}
	}()

	if medium.EnumDone == nil {
		if err := o.enumerateAndLoad(ctx, medium, mountRoot); err != nil {
			return err
		}
	}

	if err := o.copyUntilDrained(ctx, medium, mountRoot, workerCount); err != nil {
		return err
	}

	return nil
}

// ensureMounted checks imaging health (when a map path is given) and
// mounts the image. It does not check whether the image is already
// mounted (spec.md §4.8: "imaged -> mounted requires health check and
// successful mount").
func (o *Orchestrator) ensureMounted(ctx context.Context, medium catalog.Medium, imagePath, mapPath string) (mount.Layout, error) {
	if mapPath != "" {
		f, err := openMap(mapPath)
		if err != nil {
			return mount.Layout{}, fmt.Errorf("orchestrator: open recovery map: %w", err)
		}
		defer f.Close()
		frac, err := o.MapReader.RescuedFraction(f)
		if err != nil {
			return mount.Layout{}, fmt.Errorf("orchestrator: parse recovery map: %w", err)
		}
		health := imaging.Classify(frac, o.Config.Imaging)
		if err := o.Catalog.DemoteHealth(ctx, medium.Hash, health); err != nil {
			return mount.Layout{}, fmt.Errorf("orchestrator: record health: %w", err)
		}
		if imaging.RefuseProcessing(health, o.Forced) {
			return mount.Layout{}, fmt.Errorf("orchestrator: medium %s has health=failed, refusing without force", medium.Hash)
		}
	}

	layout, err := o.Mount.Mount(ctx, medium.Hash.String(), imagePath)
	if err != nil {
		return mount.Layout{}, fmt.Errorf("orchestrator: mount: %w", err)
	}
	return layout, nil
}

// enumerateAndLoad runs the Enumerator and Loader in sequence, the
// "mounted -> enumerated -> loaded" transitions (spec.md §4.8).
func (o *Orchestrator) enumerateAndLoad(ctx context.Context, medium catalog.Medium, mountRoot string) error {
	pr, pw := newPipe()
	defer pr.Close()

	enumErrCh := make(chan error, 1)
	go func() {
		defer pw.Close()
		_, err := enumerator.Enumerate(mountRoot, pw)
		enumErrCh <- err
	}()

	if _, err := loader.Load(ctx, o.Catalog, medium.Hash, pr, o.Config); err != nil {
		return fmt.Errorf("orchestrator: load: %w", err)
	}
	if err := <-enumErrCh; err != nil {
		return fmt.Errorf("orchestrator: enumerate: %w", err)
	}
	return nil
}

// copyUntilDrained runs workerCount copy workers concurrently until the
// claim protocol is exhausted, then verifies and stamps copy_done
// (spec.md §4.8: "on transition to copied, verify count(unclaimed
// copyable inodes) == 0").
func (o *Orchestrator) copyUntilDrained(ctx context.Context, medium catalog.Medium, mountRoot string, workerCount int) error {
	pool, gctx := copier.NewPool(ctx, workerCount)
	for i := 0; i < workerCount; i++ {
		workerID := fmt.Sprintf("worker-%d", i)
		w := &copier.Worker{
			ID: workerID, Catalog: o.Catalog, Blobs: o.Blobs, Diagnostic: o.Diagnostic,
			MountRoot: mountRoot, BatchSize: o.Config.BatchSize,
			MaxConsecutive: o.Config.ClaimDryAttempts, TempDir: o.Config.BlobStoreRoot,
		}
		pool.Go(func() error { return w.Run(gctx, medium.Hash) })
	}
	if err := pool.Wait(); err != nil {
		return fmt.Errorf("orchestrator: copy: %w", err)
	}

	unclaimed, err := o.Catalog.CountUnclaimedCopyable(ctx, medium.Hash)
	if err != nil {
		return fmt.Errorf("orchestrator: verify copy completion: %w", err)
	}
	if unclaimed != 0 {
		return fmt.Errorf("orchestrator: %d inodes still copyable after workers drained", unclaimed)
	}
	return o.Catalog.SetStageTimestamp(ctx, medium.Hash, catalog.StageCopy)
}

// RunCopyOnly drives just the copy stage against an already-mounted
// filesystem root, for the "copy" CLI command used in multi-worker
// fan-out (spec.md §6: a separate entrypoint from the full state
// machine so several processes can each run a slice of workers against
// the same medium).
func (o *Orchestrator) RunCopyOnly(ctx context.Context, medium catalog.Medium, mountRoot string, workerCount int) error {
	return o.copyUntilDrained(ctx, medium, mountRoot, workerCount)
}

// Archive runs the "copied -> archived" transition, delegating to the
// archiver package for precondition checks and sealing.
func Archive(ctx context.Context, s *catalog.Session, medium catalog.Medium, imagePath, mountPoint, workingDir string, expectedImageHash nthash.Hash, meta archiver.Metadata) (string, error) {
	if err := archiver.CheckPreconditions(ctx, s, medium, imagePath, expectedImageHash); err != nil {
		return "", err
	}
	tarballPath, digest, err := archiver.Seal(workingDir, medium, imagePath, meta)
	if err != nil {
		return "", err
	}
	slog.Info("orchestrator: medium archived", "medium", medium.Hash.String(), "tarball", tarballPath, "digest", digest.String())
	if err := archiver.RemoveWorkingData(imagePath, mountPoint); err != nil {
		return tarballPath, fmt.Errorf("orchestrator: remove working data: %w", err)
	}
	return tarballPath, nil
}
