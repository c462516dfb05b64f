// Package overlay implements the Magic Mount engine: an in-memory n-ary tree
// of overlay nodes with module-precedence merged insertion (component A),
// the tree constructor that walks module payloads into that tree
// (component B), the skeleton cloner that materializes writable shadow
// directories (component C), and the driver that dispatches nodes to bind
// mounts (component D).
package overlay

import (
	"strings"

	"github.com/samber/lo"
)

// Kind is the mutually-exclusive "kind" bit of a node's status. Exactly one
// of these applies to any node; VENDOR (see Status) is an orthogonal marker.
type Kind uint8

const (
	// KindDummy marks a filler child representing an unchanged entry of the
	// live directory being skeletonized. Lowest precedence.
	KindDummy Kind = iota
	// KindInter marks a directory that needs no replacement itself but
	// contains descendants that do.
	KindInter
	// KindSkel marks a directory that must be cloned into a writable shadow
	// because one of its entries needs replacing without replacing the
	// whole directory.
	KindSkel
	// KindModule marks a node contributed wholesale by a module. Highest
	// precedence; for directories this is a leaf in the overlay sense.
	KindModule
)

func (k Kind) String() string {
	switch k {
	case KindDummy:
		return "DUMMY"
	case KindInter:
		return "INTER"
	case KindSkel:
		return "SKEL"
	case KindModule:
		return "MODULE"
	default:
		return "UNKNOWN"
	}
}

// Status bundles a node's precedence kind with the orthogonal VENDOR marker.
type Status struct {
	Kind   Kind
	Vendor bool
}

// Type is the filesystem entry type a node represents.
type Type uint8

const (
	TypeDir Type = iota
	TypeReg
	TypeLnk
)

func (t Type) String() string {
	switch t {
	case TypeDir:
		return "DIR"
	case TypeReg:
		return "REG"
	case TypeLnk:
		return "LNK"
	default:
		return "UNKNOWN"
	}
}

// Node is a single entry in the overlay tree.
type Node struct {
	// Name is the path component this node represents. Never contains "/"
	// except for the tree root, whose Name is itself a slash-prefixed path
	// such as "/system".
	Name string
	Type Type
	// Status carries the node's kind (precedence class) and vendor marker.
	Status Status
	// Module is the identifier of the module that contributed this node.
	// Meaningful only when Status.Kind == KindModule.
	Module string

	Parent   *Node
	Children []*Node
}

// NewRoot creates a root node for the given absolute path (e.g. "/system").
func NewRoot(path string) *Node {
	return &Node{Name: path, Type: TypeDir, Status: Status{Kind: KindInter}}
}

// FullPath returns the slash-joined path from the tree root to node. The
// root's Name is used verbatim as the path prefix (it is already an
// absolute path such as "/system").
func FullPath(node *Node) string {
	if node == nil {
		return ""
	}
	if node.Parent == nil {
		return node.Name
	}

	var parts []string
	for n := node; n.Parent != nil; n = n.Parent {
		parts = append(parts, n.Name)
	}
	// parts were collected leaf-to-root; reverse them.
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}

	root := node
	for root.Parent != nil {
		root = root.Parent
	}

	return root.Name + "/" + strings.Join(parts, "/")
}

// childIndex returns the index of the child named name within parent's
// Children, or -1 if none exists.
func childIndex(parent *Node, name string) int {
	_, idx, ok := lo.FindIndexOf(parent.Children, func(c *Node) bool { return c.Name == name })
	if !ok {
		return -1
	}
	return idx
}
