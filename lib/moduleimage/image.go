// Package moduleimage implements the Image Merger (spec.md §4.E): combining
// a staged module image into the active one, resizing to fit, and trimming
// afterward once the real module set is known.
package moduleimage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/c2h5oh/datasize"
	units "github.com/docker/go-units"
)

// LoopDevice is the injected collaborator for the loopback operations the
// merger needs. The merge policy in this file only talks to the interface;
// the production implementation, execLoopDevice in loopdevice.go, shells
// out to dumpe2fs/truncate/e2fsck/resize2fs/mount/umount/mkfs.ext4,
// matching the teacher's split between lib/images (policy) and the
// disk-tool shell-outs in lib/images/disk.go.
type LoopDevice interface {
	// Size returns (used, total) bytes for the ext4 image at path.
	Size(ctx context.Context, path string) (used, total int64, err error)
	// Resize grows or shrinks the ext4 image at path to newSize bytes.
	Resize(ctx context.Context, path string, newSize int64) error
	// Mount loop-mounts the image at path onto a fresh mountpoint, returning it.
	Mount(ctx context.Context, path string) (mountpoint string, err error)
	// MountAt loop-mounts the image at path onto the given (already existing)
	// mountpoint, used when the mount location is fixed (e.g. MOUNTPOINT)
	// rather than a disposable temp directory.
	MountAt(ctx context.Context, path, mountpoint string) error
	// Unmount undoes Mount/MountAt.
	Unmount(ctx context.Context, mountpoint string) error
	// Create creates a new ext4 image of the given size.
	Create(ctx context.Context, path string, size int64) error
}

// skipEntries lists the top-level directories under a module image that the
// merger never treats as a module (spec.md §4.E step 5).
var skipEntries = map[string]bool{
	".core":      true,
	"lost+found": true,
}

// RoundSize implements spec.md's round_size: used is truncated to whole MiB,
// rounded down to a multiple of 32 MiB, and two 32-MiB units of slack are
// added, i.e. ((used/32)+2)*32 expressed in MiB (0 -> 64 MiB, 65 MiB ->
// 128 MiB, 100 MiB -> 160 MiB). datasize.ByteSize keeps the unit
// explicit instead of passing around bare int64 megabyte counts.
func RoundSize(usedBytes int64) int64 {
	usedMB := int64(datasize.ByteSize(usedBytes).MBytes())
	roundedMB := (usedMB/32 + 2) * 32
	return roundedMB * int64(datasize.MB)
}

// MergeImage implements spec.md §4.E steps 1-7. source is the staged
// incoming image (e.g. /cache/magisk.img); target is the active image.
func MergeImage(ctx context.Context, log *slog.Logger, loop LoopDevice, source, target string) error {
	if _, err := os.Stat(source); errors.Is(err, fs.ErrNotExist) {
		log.DebugContext(ctx, "no staged image to merge", "source", source)
		return nil
	} else if err != nil {
		return fmt.Errorf("stat merge source: %w", err)
	}

	if _, err := os.Stat(target); errors.Is(err, fs.ErrNotExist) {
		if err := os.Rename(source, target); err != nil {
			return fmt.Errorf("adopt merge source as target: %w", err)
		}
		log.InfoContext(ctx, "adopted staged image as active image", "target", target)
		return nil
	}

	sUsed, _, err := loop.Size(ctx, source)
	if err != nil {
		return fmt.Errorf("size source image: %w", err)
	}
	tUsed, tTotal, err := loop.Size(ctx, target)
	if err != nil {
		return fmt.Errorf("size target image: %w", err)
	}

	wantSize := RoundSize(sUsed + tUsed)
	if wantSize != tTotal {
		log.InfoContext(ctx, "resizing active image",
			"from", units.HumanSize(float64(tTotal)), "to", units.HumanSize(float64(wantSize)))
		if err := loop.Resize(ctx, target, wantSize); err != nil {
			return fmt.Errorf("resize target image: %w", err)
		}
	}

	sourceMount, err := loop.Mount(ctx, source)
	if err != nil {
		return fmt.Errorf("mount merge source: %w", err)
	}
	defer loop.Unmount(ctx, sourceMount)

	targetMount, err := loop.Mount(ctx, target)
	if err != nil {
		return fmt.Errorf("mount merge target: %w", err)
	}
	defer loop.Unmount(ctx, targetMount)

	entries, err := os.ReadDir(sourceMount)
	if err != nil {
		return fmt.Errorf("enumerate merge source: %w", err)
	}
	for _, e := range entries {
		if skipEntries[e.Name()] {
			continue
		}
		targetEntry := filepath.Join(targetMount, e.Name())
		if _, err := os.Stat(targetEntry); err == nil {
			log.InfoContext(ctx, "module upgrade", "module", e.Name())
			if err := os.RemoveAll(targetEntry); err != nil {
				return fmt.Errorf("remove superseded module %s: %w", e.Name(), err)
			}
		} else {
			log.InfoContext(ctx, "new module", "module", e.Name())
		}
	}

	if err := copyTree(sourceMount, targetMount); err != nil {
		return fmt.Errorf("copy merge source into target: %w", err)
	}

	if err := loop.Unmount(ctx, sourceMount); err != nil {
		return fmt.Errorf("unmount merge source: %w", err)
	}
	if err := loop.Unmount(ctx, targetMount); err != nil {
		return fmt.Errorf("unmount merge target: %w", err)
	}
	if err := os.Remove(source); err != nil {
		return fmt.Errorf("remove merged source image: %w", err)
	}

	return nil
}

// TrimImage resizes img down to RoundSize(used) if that differs from its
// current total, invoked after tree construction once the real module set
// (and thus real disk usage) is known.
func TrimImage(ctx context.Context, log *slog.Logger, loop LoopDevice, img string) error {
	used, total, err := loop.Size(ctx, img)
	if err != nil {
		return fmt.Errorf("size image for trim: %w", err)
	}
	want := RoundSize(used)
	if want == total {
		return nil
	}
	log.InfoContext(ctx, "trimming image",
		"from", units.HumanSize(float64(total)), "to", units.HumanSize(float64(want)))
	return loop.Resize(ctx, img, want)
}

// copyTree recursively copies src into dst, preserving mode bits. Ownership
// and timestamps are not preserved here; both trees are loopback ext4
// mounts the merger controls end to end, and only content identity matters
// once the merge completes.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if rel == "." {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		switch {
		case d.Type()&os.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case d.IsDir():
			return os.MkdirAll(target, info.Mode().Perm())
		default:
			return copyFile(path, target, info.Mode().Perm())
		}
	})
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := out.ReadFrom(in); err != nil {
		return err
	}
	return out.Close()
}
