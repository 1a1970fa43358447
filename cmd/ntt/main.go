// Command ntt drives a single medium through the NTT ingestion pipeline:
// orchestrate, copy, and recover-failed are the three CLI surfaces
// spec.md §6 calls essential. repair-load is an operator escape hatch
// for a medium whose load crashed partway through (internal/loader's
// package doc).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/vm-wylbur/ntt/internal/archiver"
	"github.com/vm-wylbur/ntt/internal/blobstore"
	"github.com/vm-wylbur/ntt/internal/catalog"
	"github.com/vm-wylbur/ntt/internal/config"
	"github.com/vm-wylbur/ntt/internal/diagnostic"
	"github.com/vm-wylbur/ntt/internal/mount"
	"github.com/vm-wylbur/ntt/internal/nthash"
	"github.com/vm-wylbur/ntt/internal/ntlog"
	"github.com/vm-wylbur/ntt/internal/orchestrator"
)

// Command-line parsing uses the standard library's flag package
// deliberately rather than a third-party CLI framework: argument
// parsing is an explicit external-collaborator concern the core does
// not own (spec.md §1 non-goals), so it gets no dependency weight.
func main() {
	ntlog.Configure()

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "orchestrate":
		err = runOrchestrate(os.Args[2:])
	case "copy":
		err = runCopy(os.Args[2:])
	case "recover-failed":
		err = runRecoverFailed(os.Args[2:])
	case "repair-load":
		err = runRepairLoad(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		slog.Error("ntt: stage failed", "error", err)
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: ntt <orchestrate|copy|recover-failed|repair-load> [flags] <medium_hash>")
}

func cancelOnSignal() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runOrchestrate(args []string) error {
	fs := flag.NewFlagSet("orchestrate", flag.ExitOnError)
	configPath := fs.String("config", "ntt.config.json", "path to configuration file")
	imagePath := fs.String("image", "", "path to the medium's image file")
	mapPath := fs.String("map", "", "path to the ddrescue recovery map (optional)")
	mountBase := fs.String("mount-base", "/mnt/ntt", "base directory under which images are mounted")
	workers := fs.Int("workers", 4, "number of concurrent copy workers")
	forced := fs.Bool("force", false, "process a medium whose imaging health is failed")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("orchestrate: expected exactly one medium_hash argument")
	}
	mediumHash, err := nthash.Parse(fs.Arg(0))
	if err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := cancelOnSignal()
	defer cancel()

	cat, err := catalog.Open(ctx, cfg.Catalog)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer cat.Close()

	medium, err := cat.GetMedium(ctx, mediumHash)
	if err != nil {
		return fmt.Errorf("get medium: %w", err)
	}

	blobs := blobstore.New(cfg.BlobStoreRoot, nil)
	diagSvc := diagnostic.New(cat, diagnostic.NoKernelEvidence{}, cfg.Diagnostic)

	o := &orchestrator.Orchestrator{
		Catalog: cat, Blobs: blobs, Mount: mount.New(*mountBase),
		Diagnostic: diagSvc, Config: cfg, Forced: *forced,
	}

	mountRoot := fmt.Sprintf("%s/%s", *mountBase, mediumHash.String())
	if err := o.Run(ctx, medium, *imagePath, *mapPath, mountRoot, *workers); err != nil {
		return err
	}

	// Re-read the medium so Archive sees the copy_done stamped by Run.
	medium, err = cat.GetMedium(ctx, mediumHash)
	if err != nil {
		return fmt.Errorf("get medium: %w", err)
	}

	tarballPath, err := orchestrator.Archive(ctx, cat, medium, *imagePath, mountRoot, cfg.Archive.WorkingDir, mediumHash, archiver.Metadata{})
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	slog.Info("ntt: medium sealed", "medium", mediumHash.String(), "tarball", tarballPath)
	return nil
}

func runCopy(args []string) error {
	fs := flag.NewFlagSet("copy", flag.ExitOnError)
	configPath := fs.String("config", "ntt.config.json", "path to configuration file")
	mountRoot := fs.String("mount-root", "", "mounted filesystem root for this medium")
	workers := fs.Int("workers", 4, "number of concurrent copy workers")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("copy: expected exactly one medium_hash argument")
	}
	mediumHash, err := nthash.Parse(fs.Arg(0))
	if err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := cancelOnSignal()
	defer cancel()

	cat, err := catalog.Open(ctx, cfg.Catalog)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer cat.Close()

	medium, err := cat.GetMedium(ctx, mediumHash)
	if err != nil {
		return fmt.Errorf("get medium: %w", err)
	}

	blobs := blobstore.New(cfg.BlobStoreRoot, nil)
	diagSvc := diagnostic.New(cat, diagnostic.NoKernelEvidence{}, cfg.Diagnostic)
	o := &orchestrator.Orchestrator{Catalog: cat, Blobs: blobs, Diagnostic: diagSvc, Config: cfg}

	return o.RunCopyOnly(ctx, medium, *mountRoot, *workers)
}

func runRecoverFailed(args []string) error {
	fs := flag.NewFlagSet("recover-failed", flag.ExitOnError)
	configPath := fs.String("config", "ntt.config.json", "path to configuration file")
	errorType := fs.String("error-type", "", "only reset inodes with this error_type (default: all)")
	execute := fs.Bool("execute", false, "actually perform the reset; without this flag, only log a dry-run notice")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("recover-failed: expected exactly one medium_hash argument")
	}
	mediumHash, err := nthash.Parse(fs.Arg(0))
	if err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := cancelOnSignal()
	defer cancel()

	cat, err := catalog.Open(ctx, cfg.Catalog)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer cat.Close()

	if !*execute {
		slog.Info("ntt: recover-failed dry run; pass --execute to apply", "medium", mediumHash.String(), "error_type", *errorType)
		return nil
	}

	n, err := cat.RecoverFailed(ctx, mediumHash, catalog.ErrorType(*errorType))
	if err != nil {
		return fmt.Errorf("recover failed inodes: %w", err)
	}
	slog.Info("ntt: recovered inodes reset to pending", "medium", mediumHash.String(), "count", n)
	return nil
}

// runRepairLoad clears a medium's inode and path partitions so a load
// that crashed partway through can be retried from scratch. Unlike
// recover-failed, this discards every row rather than resetting
// individual inodes — it is only safe to run when the medium's enum
// stage never completed (internal/loader's package doc), so it refuses
// any medium whose enum_done is set, and without -execute it only logs
// a dry-run notice.
func runRepairLoad(args []string) error {
	fs := flag.NewFlagSet("repair-load", flag.ExitOnError)
	configPath := fs.String("config", "ntt.config.json", "path to configuration file")
	execute := fs.Bool("execute", false, "actually truncate the partitions; without this flag, only report intent")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("repair-load: expected exactly one medium_hash argument")
	}
	mediumHash, err := nthash.Parse(fs.Arg(0))
	if err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := cancelOnSignal()
	defer cancel()

	cat, err := catalog.Open(ctx, cfg.Catalog)
	if err != nil {
		return fmt.Errorf("open catalog: %w", err)
	}
	defer cat.Close()

	medium, err := cat.GetMedium(ctx, mediumHash)
	if err != nil {
		return fmt.Errorf("get medium: %w", err)
	}
	if medium.EnumDone != nil {
		return fmt.Errorf("repair-load: medium %s already completed enumeration; refusing to discard loaded rows", mediumHash.String())
	}

	if !*execute {
		slog.Info("ntt: repair-load dry run; pass --execute to truncate partitions", "medium", mediumHash.String())
		return nil
	}

	if err := cat.ResetPartitions(ctx, mediumHash); err != nil {
		return fmt.Errorf("reset partitions: %w", err)
	}
	slog.Info("ntt: partitions cleared, medium ready for a fresh load", "medium", mediumHash.String())
	return nil
}
