package simplemount

import (
	"context"
	"path"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rootshim/magicmount/lib/overlay"
)

type fakeEntry struct {
	typ    overlay.Type
	cloned bool
}

type fakeFS struct {
	entries map[string]*fakeEntry
}

func newFakeFS() *fakeFS {
	return &fakeFS{entries: make(map[string]*fakeEntry)}
}

func (f *fakeFS) addDir(p string) *fakeFS {
	f.entries[path.Clean(p)] = &fakeEntry{typ: overlay.TypeDir}
	return f
}

func (f *fakeFS) addFile(p string) *fakeFS {
	f.entries[path.Clean(p)] = &fakeEntry{typ: overlay.TypeReg}
	return f
}

func (f *fakeFS) ReadDir(dir string) ([]overlay.DirEntry, error) {
	dir = path.Clean(dir)
	prefix := dir
	if prefix != "/" {
		prefix += "/"
	}
	var out []overlay.DirEntry
	seen := map[string]overlay.Type{}
	for p, e := range f.entries {
		if p == dir || !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := strings.TrimPrefix(p, prefix)
		if strings.Contains(rest, "/") {
			continue
		}
		seen[rest] = e.typ
	}
	for name, typ := range seen {
		out = append(out, overlay.DirEntry{Name: name, Type: typ})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *fakeFS) Exists(p string) bool {
	_, ok := f.entries[path.Clean(p)]
	return ok
}
func (f *fakeFS) IsSymlink(p string) bool {
	e, ok := f.entries[path.Clean(p)]
	return ok && e.typ == overlay.TypeLnk
}
func (f *fakeFS) Join(root string, elem ...string) string {
	return path.Join(append([]string{root}, elem...)...)
}
func (f *fakeFS) MkdirAll(p string) error {
	f.entries[path.Clean(p)] = &fakeEntry{typ: overlay.TypeDir}
	return nil
}
func (f *fakeFS) CreateFile(p string) error {
	f.entries[path.Clean(p)] = &fakeEntry{typ: overlay.TypeReg}
	return nil
}
func (f *fakeFS) Readlink(p string) (string, error) { return "", nil }
func (f *fakeFS) Symlink(oldname, newname string) error {
	f.entries[path.Clean(newname)] = &fakeEntry{typ: overlay.TypeLnk}
	return nil
}
func (f *fakeFS) CloneAttrs(source, target string) error {
	if e, ok := f.entries[path.Clean(target)]; ok {
		e.cloned = true
	}
	return nil
}
func (f *fakeFS) Remove(p string) error    { delete(f.entries, path.Clean(p)); return nil }
func (f *fakeFS) RemoveAll(p string) error { delete(f.entries, path.Clean(p)); return nil }

func TestMountBindsFilesPresentInBothTrees(t *testing.T) {
	fs := newFakeFS().
		addDir("/cache").
		addDir("/cache/etc").
		addFile("/cache/etc/hosts").
		addDir("/etc").
		addFile("/etc/hosts")

	mounter := &overlay.RecordingMounter{}
	require.NoError(t, Mount(context.Background(), fs, mounter, "/cache", "/", "etc"))

	require.Len(t, mounter.Binds, 1, "expected exactly one bind mount")
	assert.Equal(t, "/etc/hosts", mounter.Binds[0].Destination)
	assert.True(t, fs.entries["/cache/etc/hosts"].cloned, "expected attributes to be cloned from the live file before mounting")
}

func TestMountSkipsEntriesMissingFromLiveTree(t *testing.T) {
	fs := newFakeFS().
		addDir("/cache").
		addDir("/cache/etc").
		addFile("/cache/etc/resolv.conf")

	mounter := &overlay.RecordingMounter{}
	require.NoError(t, Mount(context.Background(), fs, mounter, "/cache", "/", "etc"))
	assert.Empty(t, mounter.Binds, "expected no mounts when the live target is missing")
}

func TestMountRecursesIntoSubdirectories(t *testing.T) {
	fs := newFakeFS().
		addDir("/cache").
		addDir("/cache/etc").
		addDir("/cache/etc/security").
		addFile("/cache/etc/security/cacerts.bks").
		addDir("/etc").
		addDir("/etc/security").
		addFile("/etc/security/cacerts.bks")

	mounter := &overlay.RecordingMounter{}
	require.NoError(t, Mount(context.Background(), fs, mounter, "/cache", "/", "etc"))

	require.Len(t, mounter.Binds, 1, "expected a single recursive bind")
	assert.Equal(t, "/etc/security/cacerts.bks", mounter.Binds[0].Destination)
}

func TestEnsureCacheRootCreatesDirectory(t *testing.T) {
	dir := t.TempDir() + "/staging"
	require.NoError(t, EnsureCacheRoot(dir))
}
