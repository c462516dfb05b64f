package overlay

import (
	"fmt"

	"github.com/rootshim/magicmount/lib/paths"
)

// ShadowFS extends FS with the write operations the Skeleton Cloner needs to
// materialize a writable shadow directory: creating placeholder entries and
// cloning ordinary file attributes from a live path onto its shadow copy.
type ShadowFS interface {
	FS
	MkdirAll(path string) error
	CreateFile(path string) error
	Readlink(path string) (string, error)
	Symlink(oldname, newname string) error
	// CloneAttrs copies owner, mode, and timestamps from source to target.
	CloneAttrs(source, target string) error
	// Remove and RemoveAll delete a single entry or a whole subtree, used by
	// the boot-stage driver (the module "remove" sentinel, stale module
	// vendor symlinks, and the installed manager APK).
	Remove(path string) error
	RemoveAll(path string) error
}

// AttrCloner clones the SELinux security context from source to target. It
// is pulled out of ShadowFS because it is the one attribute that depends on
// libselinux: production builds that carry it implement this for real,
// builds that don't wire a no-op implementation, and neither changes what
// ShadowFS's other methods look like.
type AttrCloner interface {
	CloneSELinux(source, target string) error
}

// CloneSkeleton materializes a writable shadow directory for node (spec.md
// §4.C). It is invoked directly by the Magic-Mount Driver for a SKEL node,
// and recursively by itself for INTER/SKEL children encountered while
// populating a shadow — a nested INTER directory inside an already-cloned
// skeleton still needs its own shadow populated, even though, unlike a SKEL
// node, that shadow is never bind-mounted over its own live path.
func CloneSkeleton(fs ShadowFS, selinux AttrCloner, p *paths.Paths, mounter Mounter, node *Node) error {
	fullPath := FullPath(node)

	mirrorDir := p.MirrorPath(fullPath)
	mirrorEntries, err := fs.ReadDir(mirrorDir)
	if err != nil {
		return fmt.Errorf("enumerate mirror %s: %w", mirrorDir, err)
	}
	for _, e := range mirrorEntries {
		dummy := &Node{Name: e.Name, Type: e.Type, Status: Status{Kind: KindDummy}}
		InsertChild(node, dummy)
	}

	shadowDir := p.DummyPath(fullPath)
	if err := fs.MkdirAll(shadowDir); err != nil {
		return fmt.Errorf("create shadow dir %s: %w", shadowDir, err)
	}
	if err := fs.CloneAttrs(fullPath, shadowDir); err != nil {
		return fmt.Errorf("clone attrs %s -> %s: %w", fullPath, shadowDir, err)
	}
	if err := selinux.CloneSELinux(fullPath, shadowDir); err != nil {
		return fmt.Errorf("clone selinux context %s -> %s: %w", fullPath, shadowDir, err)
	}

	if node.Status.Kind == KindSkel {
		if err := BindMount(mounter, shadowDir, fullPath); err != nil {
			return err
		}
	}

	for _, c := range node.Children {
		childLive := fullPath + "/" + c.Name
		childShadow := p.DummyPath(childLive)

		if c.Status.Vendor {
			if c.Type == TypeLnk {
				if target, err := fs.Readlink(p.MirrorPath(childLive)); err == nil {
					_ = fs.Symlink(target, childLive)
				}
			}
			continue
		}

		var source string
		switch {
		case c.Status.Kind == KindModule:
			source = p.ModuleTarget(c.Module, childLive)
		case c.Status.Kind == KindSkel || c.Status.Kind == KindInter:
			if err := CloneSkeleton(fs, selinux, p, mounter, c); err != nil {
				return err
			}
			continue
		default: // KindDummy
			source = p.MirrorPath(childLive)
		}

		switch c.Type {
		case TypeDir:
			if err := fs.MkdirAll(childShadow); err != nil {
				return fmt.Errorf("create shadow entry %s: %w", childShadow, err)
			}
		case TypeReg:
			if err := fs.CreateFile(childShadow); err != nil {
				return fmt.Errorf("create shadow entry %s: %w", childShadow, err)
			}
		case TypeLnk:
			if target, err := fs.Readlink(source); err == nil {
				_ = fs.Symlink(target, childShadow)
			}
		}

		if c.Type != TypeLnk {
			if err := BindMount(mounter, source, childLive); err != nil {
				return err
			}
		}
	}

	return nil
}
