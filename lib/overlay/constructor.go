package overlay

// ConstructTree implements the Tree Constructor (spec.md §4.B). It walks
// MOUNTPOINT/<module>/<FullPath(p)> and, for each entry, decides whether the
// entry can be represented by a module bind mount outright or forces its
// parent to become a writable skeleton, then recurses into any effective
// child that remains INTER or SKEL.
//
// An unopenable module directory (spec.md §7 kind 3: module-local fault)
// contributes no nodes and is not an error — ReadDir already returns an
// empty slice in that case, so this function never fails.
func ConstructTree(fs FS, mountpoint, module string, p *Node) error {
	moduleDir := fs.Join(mountpoint, module, FullPath(p))
	entries, err := fs.ReadDir(moduleDir)
	if err != nil {
		return nil
	}

	for _, e := range entries {
		n := &Node{Name: e.Name, Type: e.Type, Module: module}

		// t is the entry's path on the live filesystem, e.g. "/system/etc/foo.conf".
		t := FullPath(p) + "/" + e.Name

		cloneMode := false
		switch {
		case n.Type == TypeLnk:
			cloneMode = true
		case !fs.Exists(t):
			cloneMode = true
		case FullPath(p) == "/system" && e.Name == "vendor":
			cloneMode = false
		case fs.IsSymlink(t):
			cloneMode = true
		}

		switch {
		case cloneMode:
			// The parent cannot be replaced wholesale and must be cloned as
			// a skeleton. This only raises the parent's kind, never lowers
			// it (a MODULE parent — which can't happen here, since we only
			// ever recurse into INTER/SKEL parents — would stay MODULE).
			if p.Status.Kind < KindSkel {
				p.Status.Kind = KindSkel
			}
			n.Status.Kind = KindModule
		case n.Type == TypeDir:
			replaceSentinel := fs.Join(mountpoint, module, t, ".replace")
			if fs.Exists(replaceSentinel) {
				n.Status.Kind = KindModule
			} else {
				n.Status.Kind = KindInter
			}
		default: // TypeReg
			n.Status.Kind = KindModule
		}

		effective := InsertChild(p, n)

		if effective.Status.Kind == KindInter || effective.Status.Kind == KindSkel {
			if err := ConstructTree(fs, mountpoint, module, effective); err != nil {
				return err
			}
		}
	}

	return nil
}

// HasReplaceSentinel reports whether a module's directory entry carries
// the ".replace" whole-directory-replacement marker. It is the same check
// ConstructTree performs inline for directory entries; nothing else in this
// module calls it.
func HasReplaceSentinel(fs FS, mountpoint, module, livePath string) bool {
	return fs.Exists(fs.Join(mountpoint, module, livePath, ".replace"))
}
