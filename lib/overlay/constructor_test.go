package overlay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructTreeNewFileForcesParentSkeleton(t *testing.T) {
	fs := newFakeFS()
	fs.addDir("/system").addDir("/system/etc")
	fs.addDir("/mnt/mod1/system").addDir("/mnt/mod1/system/etc")
	fs.addFile("/mnt/mod1/system/etc/newfile.conf")

	root := NewRoot("/system")
	require.NoError(t, ConstructTree(fs, "/mnt", "mod1", root))

	etc := Child(root, "etc")
	require.NotNil(t, etc, "expected an etc child node")
	assert.Equal(t, KindSkel, etc.Status.Kind, "expected etc to be promoted to SKEL")

	newfile := Child(etc, "newfile.conf")
	require.NotNil(t, newfile)
	assert.Equal(t, KindModule, newfile.Status.Kind)
	assert.Equal(t, "mod1", newfile.Module)
}

func TestConstructTreeReplaceSentinelStopsRecursion(t *testing.T) {
	fs := newFakeFS()
	fs.addDir("/system").addDir("/system/app").addFile("/system/app/base.apk")
	fs.addDir("/mnt/mod1/system").addDir("/mnt/mod1/system/app")
	fs.addFile("/mnt/mod1/system/app/.replace")
	fs.addFile("/mnt/mod1/system/app/new.apk")

	root := NewRoot("/system")
	require.NoError(t, ConstructTree(fs, "/mnt", "mod1", root))

	app := Child(root, "app")
	require.NotNil(t, app)
	assert.Equal(t, KindModule, app.Status.Kind, "expected app to be a whole-directory MODULE replacement")
	assert.Empty(t, app.Children, "expected no recursion into a .replace directory")
}

func TestConstructTreeConflictKeepsFirstModule(t *testing.T) {
	fs := newFakeFS()
	fs.addDir("/system").addDir("/system/etc")
	fs.addDir("/mnt/mod1/system").addDir("/mnt/mod1/system/etc")
	fs.addFile("/mnt/mod1/system/etc/conflict.conf")
	fs.addDir("/mnt/mod2/system").addDir("/mnt/mod2/system/etc")
	fs.addFile("/mnt/mod2/system/etc/conflict.conf")

	root := NewRoot("/system")
	require.NoError(t, ConstructTree(fs, "/mnt", "mod1", root))
	require.NoError(t, ConstructTree(fs, "/mnt", "mod2", root))

	etc := Child(root, "etc")
	conflict := Child(etc, "conflict.conf")
	require.NotNil(t, conflict)
	assert.Equal(t, "mod1", conflict.Module, "expected the first module inserted to win a precedence tie")
}

func TestConstructTreeSymlinkAlwaysClones(t *testing.T) {
	fs := newFakeFS()
	fs.addDir("/system")
	fs.addDir("/mnt/mod1/system")
	fs.addSymlink("/mnt/mod1/system/lib64", "/system/lib")

	root := NewRoot("/system")
	require.NoError(t, ConstructTree(fs, "/mnt", "mod1", root))

	lib64 := Child(root, "lib64")
	require.NotNil(t, lib64)
	assert.Equal(t, KindModule, lib64.Status.Kind, "expected lib64 as a MODULE symlink leaf")
	assert.Equal(t, TypeLnk, lib64.Type)
	assert.Equal(t, KindSkel, root.Status.Kind, "expected root to be promoted to SKEL by a symlink child")
}

func TestHasReplaceSentinel(t *testing.T) {
	fs := newFakeFS()
	fs.addFile("/mnt/mod1/system/app/.replace")

	assert.True(t, HasReplaceSentinel(fs, "/mnt", "mod1", "/system/app"))
	assert.False(t, HasReplaceSentinel(fs, "/mnt", "mod1", "/system/other"))
}
