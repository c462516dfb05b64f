package overlay

import "github.com/rootshim/magicmount/lib/paths"

// MagicMount implements the driver dispatch of spec.md §4.D: a MODULE node
// is bind-mounted wholesale and never recursed into (its subtree, if any
// survived construction, is sealed by the mount); a SKEL node is handed to
// the Skeleton Cloner, which owns its own recursion; an INTER node recurses
// into each child; anything else (DUMMY, a bare VENDOR placeholder, or an
// unreachable root) is a no-op.
func MagicMount(fs ShadowFS, selinux AttrCloner, p *paths.Paths, mounter Mounter, node *Node) error {
	switch node.Status.Kind {
	case KindModule:
		fullPath := FullPath(node)
		return BindMount(mounter, p.ModuleTarget(node.Module, fullPath), fullPath)
	case KindSkel:
		return CloneSkeleton(fs, selinux, p, mounter, node)
	case KindInter:
		for _, c := range node.Children {
			if err := MagicMount(fs, selinux, p, mounter, c); err != nil {
				return err
			}
		}
		return nil
	default:
		return nil
	}
}
