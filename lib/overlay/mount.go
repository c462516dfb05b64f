package overlay

import (
	"fmt"

	specs "github.com/opencontainers/runtime-spec/specs-go"
	"golang.org/x/sys/unix"
)

// Mounter issues and tears down the bind mounts the engine plans. It is
// injected so tests can record planned mounts instead of invoking the
// mount(2)/umount(2) syscalls, and so production code can share one mount
// plan representation (an OCI runtime-spec specs.Mount) across the Magic
// Mount driver and the Skeleton Cloner.
type Mounter interface {
	Bind(m specs.Mount) error
	Unmount(target string) error
}

// BindMount builds the specs.Mount describing a bind mount of source onto
// target and issues it through mounter. Using the OCI runtime-spec Mount
// type (Source/Destination/Type/Options) keeps the engine's mount plan in a
// vocabulary shared with other Go container/VM tooling instead of a
// bespoke struct.
func BindMount(mounter Mounter, source, target string) error {
	return mounter.Bind(specs.Mount{
		Source:      source,
		Destination: target,
		Type:        "none",
		Options:     []string{"bind"},
	})
}

// BindMountReadOnly is BindMount with the "ro" option added, used for the
// mirror mounts of the live /system and /vendor partitions, which must
// never be written through.
func BindMountReadOnly(mounter Mounter, source, target string) error {
	return mounter.Bind(specs.Mount{
		Source:      source,
		Destination: target,
		Type:        "none",
		Options:     []string{"bind", "ro"},
	})
}

// syscallMounter is the production Mounter: it issues real bind mounts via
// golang.org/x/sys/unix, the same MS_BIND flag vocabulary used by
// linuxkit's parseMountOptions and singularity's Item.mountDir.
type syscallMounter struct{}

// NewSyscallMounter returns a Mounter that performs real bind mounts.
func NewSyscallMounter() Mounter { return syscallMounter{} }

func (syscallMounter) Bind(m specs.Mount) error {
	flags := uintptr(unix.MS_BIND)
	for _, opt := range m.Options {
		switch opt {
		case "rbind":
			flags |= unix.MS_REC
		case "ro":
			flags |= unix.MS_RDONLY
		}
	}
	if err := unix.Mount(m.Source, m.Destination, "", flags, ""); err != nil {
		return fmt.Errorf("bind mount %s -> %s: %w", m.Source, m.Destination, err)
	}
	// The kernel ignores MS_RDONLY when a bind mount is first created; it
	// only takes effect on a remount of the bind.
	if flags&unix.MS_RDONLY != 0 {
		if err := unix.Mount("", m.Destination, "", unix.MS_REMOUNT|unix.MS_BIND|unix.MS_RDONLY, ""); err != nil {
			return fmt.Errorf("remount %s read-only: %w", m.Destination, err)
		}
	}
	return nil
}

func (syscallMounter) Unmount(target string) error {
	if err := unix.Unmount(target, unix.MNT_DETACH); err != nil {
		return fmt.Errorf("unmount %s: %w", target, err)
	}
	return nil
}

// RecordingMounter is a test double that records every planned mount
// instead of issuing it, used to verify the bind-mount set closure property
// (spec.md §8) without root privileges.
type RecordingMounter struct {
	Binds     []specs.Mount
	Unmounted []string
}

func (r *RecordingMounter) Bind(m specs.Mount) error {
	r.Binds = append(r.Binds, m)
	return nil
}

func (r *RecordingMounter) Unmount(target string) error {
	r.Unmounted = append(r.Unmounted, target)
	return nil
}
