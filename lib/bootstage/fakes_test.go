package bootstage

import (
	"context"
	"path"
	"sort"
	"strings"

	"github.com/rootshim/magicmount/lib/overlay"
)

// fakeEntry and fakeFS mirror the overlay package's test filesystem harness
// (spec.md §8), reimplemented here since the overlay test double is
// unexported and this package needs its own ShadowFS fake for driver- and
// module-enumeration-level tests.
type fakeEntry struct {
	typ    overlay.Type
	target string
}

type fakeFS struct {
	entries map[string]fakeEntry
}

func newFakeFS() *fakeFS {
	return &fakeFS{entries: make(map[string]fakeEntry)}
}

func (f *fakeFS) addDir(p string) *fakeFS {
	f.entries[path.Clean(p)] = fakeEntry{typ: overlay.TypeDir}
	return f
}

func (f *fakeFS) addFile(p string) *fakeFS {
	f.entries[path.Clean(p)] = fakeEntry{typ: overlay.TypeReg}
	return f
}

func (f *fakeFS) ReadDir(dir string) ([]overlay.DirEntry, error) {
	dir = path.Clean(dir)
	if _, ok := f.entries[dir]; !ok && dir != "/" {
		return nil, nil
	}
	prefix := dir
	if prefix != "/" {
		prefix += "/"
	}
	seen := make(map[string]overlay.DirEntry)
	for p, e := range f.entries {
		if p == dir || !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := strings.TrimPrefix(p, prefix)
		if strings.Contains(rest, "/") {
			continue
		}
		seen[rest] = overlay.DirEntry{Name: rest, Type: e.typ}
	}
	out := make([]overlay.DirEntry, 0, len(seen))
	for _, e := range seen {
		out = append(out, e)
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
	f.entries[path.Clean(p)] = fakeEntry{typ: overlay.TypeDir}
	return nil
}

func (f *fakeFS) CreateFile(p string) error {
	if _, ok := f.entries[path.Clean(p)]; ok {
		return nil
	}
	f.entries[path.Clean(p)] = fakeEntry{typ: overlay.TypeReg}
	return nil
}

func (f *fakeFS) Readlink(p string) (string, error) {
	e := f.entries[path.Clean(p)]
	return e.target, nil
}

func (f *fakeFS) Symlink(oldname, newname string) error {
	f.entries[path.Clean(newname)] = fakeEntry{typ: overlay.TypeLnk, target: oldname}
	return nil
}

func (f *fakeFS) CloneAttrs(source, target string) error { return nil }

func (f *fakeFS) Remove(p string) error {
	delete(f.entries, path.Clean(p))
	return nil
}

func (f *fakeFS) RemoveAll(p string) error {
	p = path.Clean(p)
	prefix := p + "/"
	for k := range f.entries {
		if k == p || strings.HasPrefix(k, prefix) {
			delete(f.entries, k)
		}
	}
	return nil
}

// fakeLoopDevice is a minimal moduleimage.LoopDevice double: every image is
// treated as already the right size, Mount/MountAt are no-ops, and Create
// just marks the path as having been created.
type fakeLoopDevice struct {
	created map[string]int64
	mounted map[string]string
}

func newFakeLoopDevice() *fakeLoopDevice {
	return &fakeLoopDevice{created: make(map[string]int64), mounted: make(map[string]string)}
}

func (f *fakeLoopDevice) Size(ctx context.Context, path string) (int64, int64, error) {
	return 0, 64 * 1024 * 1024, nil
}
func (f *fakeLoopDevice) Resize(ctx context.Context, path string, newSize int64) error { return nil }
func (f *fakeLoopDevice) Mount(ctx context.Context, path string) (string, error)       { return path, nil }
func (f *fakeLoopDevice) MountAt(ctx context.Context, path, mountpoint string) error {
	f.mounted[mountpoint] = path
	return nil
}
func (f *fakeLoopDevice) Unmount(ctx context.Context, mountpoint string) error { return nil }
func (f *fakeLoopDevice) Create(ctx context.Context, path string, size int64) error {
	f.created[path] = size
	return nil
}

// fakeEnvironment is a fully scriptable Environment test double.
type fakeEnvironment struct {
	dataReady         bool
	selinuxPatched    bool
	hideDisabled      bool
	pmReady           bool
	pmReadyErr        error
	uninstallerCalled bool
	disabledSet       bool
	hideStarted       bool
	installedAPK      string
}

func (e *fakeEnvironment) DataReady(ctx context.Context) bool      { return e.dataReady }
func (e *fakeEnvironment) SELinuxPatched(ctx context.Context) bool { return e.selinuxPatched }
func (e *fakeEnvironment) SetDisabledProperty(ctx context.Context) error {
	e.disabledSet = true
	return nil
}
func (e *fakeEnvironment) StartHideSubsystem(ctx context.Context) error {
	e.hideStarted = true
	return nil
}
func (e *fakeEnvironment) HideDisabled(ctx context.Context) bool { return e.hideDisabled }
func (e *fakeEnvironment) LaunchUninstaller(ctx context.Context) { e.uninstallerCalled = true }
func (e *fakeEnvironment) PackageManagerReady(ctx context.Context) (bool, error) {
	return e.pmReady, e.pmReadyErr
}
func (e *fakeEnvironment) InstallManagerPackage(ctx context.Context, apkPath string) error {
	e.installedAPK = apkPath
	return nil
}
