package overlay

import (
	"os"
	"path/filepath"

	securejoin "github.com/cyphar/filepath-securejoin"
	"golang.org/x/sys/unix"
)

// DirEntry is the subset of os.DirEntry the constructor and cloner need,
// narrowed so a synthetic test filesystem can satisfy it without touching
// disk.
type DirEntry struct {
	Name string
	Type Type
}

// FS abstracts the filesystem operations the Tree Constructor and Skeleton
// Cloner perform, so tree construction can be exercised against a synthetic
// layout in tests (spec.md §8's filesystem harness) without root privileges
// or real mounts.
type FS interface {
	// ReadDir lists the entries of dir, excluding "." and "..". Returns an
	// empty slice (no error) if dir does not exist — directory-construction
	// failure never surfaces past the constructor (spec.md §7 kind 3).
	ReadDir(dir string) ([]DirEntry, error)
	// Exists reports whether path exists, without following a final
	// symlink: a symlink counts as existing even if its target does not.
	Exists(path string) bool
	// IsSymlink reports whether path exists and is a symlink.
	IsSymlink(path string) bool
	// Join joins a trusted root with path components that may originate
	// from module-supplied data, resolving the result safely under root.
	Join(root string, elem ...string) string
}

// osFS is the production FS backed by the real filesystem.
type osFS struct{}

// NewOSFS returns an FS backed by the host filesystem.
func NewOSFS() FS { return osFS{} }

func (osFS) ReadDir(dir string) ([]DirEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	out := make([]DirEntry, 0, len(entries))
	for _, e := range entries {
		if e.Name() == "." || e.Name() == ".." {
			continue
		}
		var t Type
		switch {
		case e.Type()&os.ModeSymlink != 0:
			t = TypeLnk
		case e.IsDir():
			t = TypeDir
		default:
			t = TypeReg
		}
		out = append(out, DirEntry{Name: e.Name(), Type: t})
	}
	return out, nil
}

func (osFS) Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

func (osFS) IsSymlink(path string) bool {
	info, err := os.Lstat(path)
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeSymlink != 0
}

// Join resolves elem under root via SecureJoin, falling back to a plain
// filepath.Join if root does not exist yet (SecureJoin requires the root to
// be resolvable; shadow directories under DUMMDIR may not exist the first
// time a path under them is computed).
func (osFS) Join(root string, elem ...string) string {
	p, err := securejoin.SecureJoin(root, filepath.Join(elem...))
	if err != nil {
		return filepath.Join(append([]string{root}, elem...)...)
	}
	return p
}

func (osFS) MkdirAll(path string) error {
	return os.MkdirAll(path, 0o755)
}

func (osFS) CreateFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil
		}
		return err
	}
	return f.Close()
}

func (osFS) Readlink(path string) (string, error) {
	return os.Readlink(path)
}

func (osFS) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (osFS) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

func (osFS) Symlink(oldname, newname string) error {
	if err := os.Symlink(oldname, newname); err != nil && !os.IsExist(err) {
		return err
	}
	return nil
}

// CloneAttrs copies owner, mode, and modification time from source to
// target, following the same live-path-to-shadow-path attribute clone the
// teacher's volume-restore path performs before handing a tree back to a
// container.
func (osFS) CloneAttrs(source, target string) error {
	info, err := os.Lstat(source)
	if err != nil {
		return err
	}

	if stat, ok := info.Sys().(*unix.Stat_t); ok {
		if err := os.Chown(target, int(stat.Uid), int(stat.Gid)); err != nil {
			return err
		}
	}

	if err := os.Chmod(target, info.Mode().Perm()); err != nil {
		return err
	}

	mtime := info.ModTime()
	return os.Chtimes(target, mtime, mtime)
}

// osAttrCloner clones the SELinux security context via the "security.selinux"
// extended attribute, the same mechanism libselinux itself uses under the
// hood, avoiding a cgo dependency on libselinux for this one field.
type osAttrCloner struct{}

// NewOSAttrCloner returns an AttrCloner that copies the real SELinux xattr.
// A missing or unsupported xattr (ENODATA/ENOTSUP, e.g. a non-SELinux
// kernel or filesystem) is not an error: there is simply nothing to clone.
func NewOSAttrCloner() AttrCloner { return osAttrCloner{} }

func (osAttrCloner) CloneSELinux(source, target string) error {
	buf := make([]byte, 256)
	n, err := unix.Lgetxattr(source, "security.selinux", buf)
	if err != nil {
		if err == unix.ENODATA || err == unix.ENOTSUP || err == unix.ENOENT {
			return nil
		}
		return err
	}
	if err := unix.Lsetxattr(target, "security.selinux", buf[:n], 0); err != nil {
		if err == unix.ENOTSUP {
			return nil
		}
		return err
	}
	return nil
}

// NoopAttrCloner is wired on platforms/builds that never run under SELinux.
type NoopAttrCloner struct{}

func (NoopAttrCloner) CloneSELinux(string, string) error { return nil }
