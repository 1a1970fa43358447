// Package mount defines the interface to the external mount
// collaborator (loop-device attach, filesystem-specific mount options,
// RAID/APM/ISO detection) and the JSON layout it reports (spec.md §6).
// The collaborator itself — shelling out to losetup/mount/umount — is
// out of scope for the core; this package specifies the boundary and
// provides the real shell-backed implementation the orchestrator uses
// in production.
package mount

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

// Partition describes one mounted partition of a multi-partition image
// (spec.md §6 JSON layout).
type Partition struct {
	Num    int    `json:"num"`
	Device string `json:"device"`
	Mount  string `json:"mount"`
	FSType string `json:"fstype"`
	Status string `json:"status"`
}

// Layout is the mount collaborator's report of how an image was
// attached: a single whole-disk mount, or one mount per partition.
type Layout struct {
	Layout     string      `json:"layout"` // "single" | "multi"
	Partitions []Partition `json:"partitions"`
}

// Collaborator mounts and unmounts a medium's image file read-only.
// Implementations shell out to losetup/mount/umount; the core never
// manipulates loop devices directly (spec.md §1 non-goal boundary).
type Collaborator interface {
	Mount(ctx context.Context, mediumHash, imagePath string) (Layout, error)
	Unmount(ctx context.Context, mediumHash string, layout Layout) error
}

// shellCollaborator is the production Collaborator, grounded on the
// teacher's convention (task_runner.go, retry.go) of thin wrappers
// around OS-level calls with explicit context and error wrapping.
type shellCollaborator struct {
	rootDir string // e.g. "/mnt/ntt"
}

// New returns a Collaborator that mounts images whole under
// "<rootDir>/<medium_hash>/" and reports a "single" layout. It does not
// attach partitions separately, so it never produces a "multi" layout
// or ".../p<N>/" mount points.
func New(rootDir string) Collaborator {
	return &shellCollaborator{rootDir: rootDir}
}

func (c *shellCollaborator) Mount(ctx context.Context, mediumHash, imagePath string) (Layout, error) {
	mountRoot := fmt.Sprintf("%s/%s", c.rootDir, mediumHash)

	// mount(8) with -o loop,ro,norecovery attaches a loop device and
	// mounts it read-only in one step; the image is always mounted as
	// a single whole-disk filesystem.
	cmd := exec.CommandContext(ctx, "mount", "-o", "loop,ro,norecovery", imagePath, mountRoot)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return Layout{}, fmt.Errorf("mount: %s: %w (%s)", imagePath, err, strings.TrimSpace(string(out)))
	}

	device, err := loopDeviceFor(ctx, imagePath)
	if err != nil {
		return Layout{}, err
	}

	return Layout{
		Layout: "single",
		Partitions: []Partition{
			{Num: 1, Device: device, Mount: mountRoot, FSType: "auto", Status: "mounted"},
		},
	}, nil
}

func (c *shellCollaborator) Unmount(ctx context.Context, mediumHash string, layout Layout) error {
	var errs []string
	for _, p := range layout.Partitions {
		if out, err := exec.CommandContext(ctx, "umount", p.Mount).CombinedOutput(); err != nil {
			errs = append(errs, fmt.Sprintf("umount %s: %v (%s)", p.Mount, err, strings.TrimSpace(string(out))))
		}
		// Detach the loop device recorded for this partition. Other loop
		// devices bound to the same image file are not looked up and
		// stay attached.
		if p.Device != "" {
			if out, err := exec.CommandContext(ctx, "losetup", "-d", p.Device).CombinedOutput(); err != nil {
				errs = append(errs, fmt.Sprintf("losetup -d %s: %v (%s)", p.Device, err, strings.TrimSpace(string(out))))
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("mount: unmount %s: %s", mediumHash, strings.Join(errs, "; "))
	}
	return nil
}

func loopDeviceFor(ctx context.Context, imagePath string) (string, error) {
	out, err := exec.CommandContext(ctx, "losetup", "-j", imagePath).Output()
	if err != nil {
		return "", fmt.Errorf("losetup -j %s: %w", imagePath, err)
	}
	line := strings.TrimSpace(string(out))
	if line == "" {
		return "", fmt.Errorf("no loop device bound to %s", imagePath)
	}
	return strings.SplitN(line, ":", 2)[0], nil
}

// MarshalLayout is a convenience for persisting a Layout into the
// medium's problems document or orchestrator state.
func MarshalLayout(l Layout) ([]byte, error) {
	return json.Marshal(l)
}
