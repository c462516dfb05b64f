package overlay

import (
	"fmt"
	"path"
	"sort"
	"strings"
)

// fakeEntry models one path in the synthetic filesystem used by the tree
// construction and skeleton cloning tests (spec.md §8's harness): no real
// disk, no root privileges, no mounts.
type fakeEntry struct {
	typ    Type
	target string // symlink target, only meaningful when typ == TypeLnk
}

// fakeFS is an in-memory ShadowFS. Paths are stored and looked up verbatim
// (callers always pass the same absolute-path style the production osFS
// would resolve to), and writes (MkdirAll/CreateFile/Symlink/CloneAttrs)
// just record that the path now exists.
type fakeFS struct {
	entries map[string]fakeEntry
	cloned  [][2]string
}

func newFakeFS() *fakeFS {
	return &fakeFS{entries: make(map[string]fakeEntry)}
}

func (f *fakeFS) addDir(p string) *fakeFS {
	f.entries[clean(p)] = fakeEntry{typ: TypeDir}
	return f
}

func (f *fakeFS) addFile(p string) *fakeFS {
	f.entries[clean(p)] = fakeEntry{typ: TypeReg}
	return f
}

func (f *fakeFS) addSymlink(p, target string) *fakeFS {
	f.entries[clean(p)] = fakeEntry{typ: TypeLnk, target: target}
	return f
}

func clean(p string) string {
	return path.Clean(p)
}

func (f *fakeFS) ReadDir(dir string) ([]DirEntry, error) {
	dir = clean(dir)
	if _, ok := f.entries[dir]; !ok && dir != "/" {
		return nil, nil
	}

	seen := make(map[string]DirEntry)
	prefix := dir
	if prefix != "/" {
		prefix += "/"
	}
	for p, e := range f.entries {
		if p == dir || !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := strings.TrimPrefix(p, prefix)
		if strings.Contains(rest, "/") {
			continue
		}
		seen[rest] = DirEntry{Name: rest, Type: e.typ}
	}

	out := make([]DirEntry, 0, len(seen))
	for _, e := range seen {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *fakeFS) Exists(p string) bool {
	_, ok := f.entries[clean(p)]
	return ok
}

func (f *fakeFS) IsSymlink(p string) bool {
	e, ok := f.entries[clean(p)]
	return ok && e.typ == TypeLnk
}

func (f *fakeFS) Join(root string, elem ...string) string {
	return path.Join(append([]string{root}, elem...)...)
}

func (f *fakeFS) MkdirAll(p string) error {
	f.entries[clean(p)] = fakeEntry{typ: TypeDir}
	return nil
}

func (f *fakeFS) CreateFile(p string) error {
	if _, ok := f.entries[clean(p)]; ok {
		return nil
	}
	f.entries[clean(p)] = fakeEntry{typ: TypeReg}
	return nil
}

func (f *fakeFS) Readlink(p string) (string, error) {
	e, ok := f.entries[clean(p)]
	if !ok || e.typ != TypeLnk {
		return "", fmt.Errorf("not a symlink: %s", p)
	}
	return e.target, nil
}

func (f *fakeFS) Symlink(oldname, newname string) error {
	f.entries[clean(newname)] = fakeEntry{typ: TypeLnk, target: oldname}
	return nil
}

func (f *fakeFS) CloneAttrs(source, target string) error {
	f.cloned = append(f.cloned, [2]string{source, target})
	return nil
}

func (f *fakeFS) Remove(p string) error {
	delete(f.entries, clean(p))
	return nil
}

func (f *fakeFS) RemoveAll(p string) error {
	p = clean(p)
	prefix := p + "/"
	for k := range f.entries {
		if k == p || strings.HasPrefix(k, prefix) {
			delete(f.entries, k)
		}
	}
	return nil
}

type fakeAttrCloner struct{ cloned [][2]string }

func (f *fakeAttrCloner) CloneSELinux(source, target string) error {
	f.cloned = append(f.cloned, [2]string{source, target})
	return nil
}
