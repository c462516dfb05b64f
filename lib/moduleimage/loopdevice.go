package moduleimage

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// execLoopDevice implements LoopDevice by shelling out to dumpe2fs,
// truncate, e2fsck, resize2fs, mount -o loop, umount, and mkfs.ext4 (no
// separate losetup step), the same way the teacher's lib/images/disk.go
// shells out to mkfs.ext4 rather than linking an ext4 library.
type execLoopDevice struct{}

// NewExecLoopDevice returns a LoopDevice backed by the system's ext4/loop tools.
func NewExecLoopDevice() LoopDevice { return execLoopDevice{} }

func (execLoopDevice) Size(ctx context.Context, path string) (used, total int64, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, 0, fmt.Errorf("stat image: %w", err)
	}
	total = info.Size()

	out, err := exec.CommandContext(ctx, "dumpe2fs", "-h", path).Output()
	if err != nil {
		return 0, 0, fmt.Errorf("dumpe2fs %s: %w", path, err)
	}

	var blockSize, blockCount, freeBlocks int64
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "Block size:"):
			blockSize, _ = parseTrailingInt(line)
		case strings.HasPrefix(line, "Block count:"):
			blockCount, _ = parseTrailingInt(line)
		case strings.HasPrefix(line, "Free blocks:"):
			freeBlocks, _ = parseTrailingInt(line)
		}
	}
	if blockSize == 0 {
		return 0, 0, fmt.Errorf("dumpe2fs %s: could not determine block size", path)
	}
	used = (blockCount - freeBlocks) * blockSize
	return used, total, nil
}

func parseTrailingInt(line string) (int64, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return 0, fmt.Errorf("no fields in %q", line)
	}
	return strconv.ParseInt(fields[len(fields)-1], 10, 64)
}

func (execLoopDevice) Resize(ctx context.Context, path string, newSize int64) error {
	if err := exec.CommandContext(ctx, "truncate", "-s", strconv.FormatInt(newSize, 10), path).Run(); err != nil {
		return fmt.Errorf("truncate %s: %w", path, err)
	}
	if err := exec.CommandContext(ctx, "e2fsck", "-f", "-y", path).Run(); err != nil {
		return fmt.Errorf("e2fsck %s: %w", path, err)
	}
	if err := exec.CommandContext(ctx, "resize2fs", path).Run(); err != nil {
		return fmt.Errorf("resize2fs %s: %w", path, err)
	}
	return nil
}

func (execLoopDevice) Mount(ctx context.Context, path string) (string, error) {
	mountpoint, err := os.MkdirTemp("", "magicmount-loop-*")
	if err != nil {
		return "", fmt.Errorf("create loop mountpoint: %w", err)
	}
	if err := exec.CommandContext(ctx, "mount", "-t", "ext4", "-o", "loop", path, mountpoint).Run(); err != nil {
		os.Remove(mountpoint)
		return "", fmt.Errorf("loop-mount %s: %w", path, err)
	}
	return mountpoint, nil
}

func (execLoopDevice) MountAt(ctx context.Context, path, mountpoint string) error {
	if err := os.MkdirAll(mountpoint, 0o755); err != nil {
		return fmt.Errorf("create mountpoint %s: %w", mountpoint, err)
	}
	if err := exec.CommandContext(ctx, "mount", "-t", "ext4", "-o", "loop", path, mountpoint).Run(); err != nil {
		return fmt.Errorf("loop-mount %s at %s: %w", path, mountpoint, err)
	}
	return nil
}

func (execLoopDevice) Unmount(ctx context.Context, mountpoint string) error {
	if err := exec.CommandContext(ctx, "umount", mountpoint).Run(); err != nil {
		return fmt.Errorf("unmount %s: %w", mountpoint, err)
	}
	return os.Remove(mountpoint)
}

func (execLoopDevice) Create(ctx context.Context, path string, size int64) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("create image file: %w", err)
	}
	if err := f.Truncate(size); err != nil {
		f.Close()
		return fmt.Errorf("truncate image file: %w", err)
	}
	f.Close()

	if err := exec.CommandContext(ctx, "mkfs.ext4", "-F", path).Run(); err != nil {
		return fmt.Errorf("mkfs.ext4 %s: %w", path, err)
	}
	return nil
}
