package bootstage

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/rootshim/magicmount/lib/overlay"
	"github.com/rootshim/magicmount/lib/paths"
)

// mountEntry is one parsed line of /proc/mounts.
type mountEntry struct {
	device     string
	mountPoint string
}

// parseProcMounts reads /proc/mounts and returns the parsed entries, the
// same file format the minimega container driver greps for its overlay
// teardown.
func parseProcMounts() ([]mountEntry, error) {
	f, err := os.Open("/proc/mounts")
	if err != nil {
		return nil, fmt.Errorf("open /proc/mounts: %w", err)
	}
	defer f.Close()

	var entries []mountEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		entries = append(entries, mountEntry{device: fields[0], mountPoint: fields[1]})
	}
	return entries, scanner.Err()
}

// deviceFor returns the block device backing mountPoint, or "" if not found.
func deviceFor(entries []mountEntry, mountPoint string) string {
	for _, e := range entries {
		if e.mountPoint == mountPoint {
			return e.device
		}
	}
	return ""
}

// MountMirrors implements spec.md §4.G step 8: it discovers the block
// devices backing /system and /vendor via /proc/mounts and bind-mounts them
// read-only under MIRRDIR/system and MIRRDIR/vendor. When /vendor is not a
// separate mount, MIRRDIR/vendor becomes a symlink to MIRRDIR/system/vendor
// and separateVendor is false.
func MountMirrors(fs overlay.ShadowFS, mounter overlay.Mounter, p *paths.Paths) (separateVendor bool, err error) {
	entries, err := parseProcMounts()
	if err != nil {
		return false, err
	}

	systemDevice := deviceFor(entries, "/system")
	if systemDevice == "" {
		return false, fmt.Errorf("no mount entry for /system")
	}

	mirrorSystem := p.MirrorPath("system")
	if err := fs.MkdirAll(mirrorSystem); err != nil {
		return false, fmt.Errorf("create mirror system dir: %w", err)
	}
	if err := overlay.BindMountReadOnly(mounter, systemDevice, mirrorSystem); err != nil {
		return false, fmt.Errorf("mount system mirror: %w", err)
	}

	vendorDevice := deviceFor(entries, "/vendor")
	mirrorVendor := p.MirrorPath("vendor")
	if vendorDevice != "" && vendorDevice != systemDevice {
		if err := fs.MkdirAll(mirrorVendor); err != nil {
			return false, fmt.Errorf("create mirror vendor dir: %w", err)
		}
		if err := overlay.BindMountReadOnly(mounter, vendorDevice, mirrorVendor); err != nil {
			return false, fmt.Errorf("mount vendor mirror: %w", err)
		}
		return true, nil
	}

	if err := fs.Symlink(p.MirrorPath("system/vendor"), mirrorVendor); err != nil {
		return false, fmt.Errorf("symlink mirror vendor: %w", err)
	}
	return false, nil
}
