package bootstage

import "github.com/rootshim/magicmount/lib/overlay"

// SplinterVendor implements spec.md §4.G step 9. It locates the "vendor"
// child of systemRoot, substitutes a VENDOR placeholder in its place (type
// LNK when vendor isn't separately mounted, otherwise DIR), and re-parents
// the original child as a new, parentless root named "/vendor". If
// systemRoot has no "vendor" child, it returns nil and leaves systemRoot
// unchanged: there is nothing to splinter.
func SplinterVendor(systemRoot *overlay.Node, separateVendor bool) *overlay.Node {
	placeholderType := overlay.TypeLnk
	if separateVendor {
		placeholderType = overlay.TypeDir
	}

	placeholder := &overlay.Node{
		Name:   "vendor",
		Type:   placeholderType,
		Status: overlay.Status{Vendor: true},
	}

	original := overlay.ReplaceChild(systemRoot, "vendor", placeholder)
	if original == nil {
		return nil
	}

	original.Name = "/vendor"
	return original
}
