package overlay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMagicMountModuleNodeBindsWithoutRecursing(t *testing.T) {
	p := testPaths()
	root := NewRoot("/system")
	module := &Node{Name: "bin", Type: TypeDir, Status: Status{Kind: KindModule}, Module: "busybox"}
	// a stray child that must never be visited once the parent is MODULE
	stray := &Node{Name: "leftover", Type: TypeReg, Status: Status{Kind: KindModule}, Module: "should-not-mount"}
	InsertChild(root, module)
	InsertChild(module, stray)

	fs := newFakeFS()
	mounter := &RecordingMounter{}
	attr := &fakeAttrCloner{}

	require.NoError(t, MagicMount(fs, attr, p, mounter, root))

	require.Len(t, mounter.Binds, 1, "expected exactly one bind mount for the whole MODULE subtree")
	b := mounter.Binds[0]
	assert.Equal(t, "/mnt/busybox/system/bin", b.Source)
	assert.Equal(t, "/system/bin", b.Destination)
}

func TestMagicMountInterRecursesIntoChildren(t *testing.T) {
	p := testPaths()
	root := NewRoot("/system")
	bin := &Node{Name: "bin", Type: TypeDir, Status: Status{Kind: KindModule}, Module: "mod1"}
	InsertChild(root, bin)

	fs := newFakeFS()
	mounter := &RecordingMounter{}
	attr := &fakeAttrCloner{}

	require.NoError(t, MagicMount(fs, attr, p, mounter, root))

	require.Len(t, mounter.Binds, 1, "expected the INTER root to recurse into its MODULE child")
	assert.Equal(t, "/system/bin", mounter.Binds[0].Destination)
}

func TestMagicMountDummyNodeIsNoop(t *testing.T) {
	p := testPaths()
	node := &Node{Name: "etc", Type: TypeDir, Status: Status{Kind: KindDummy}}

	fs := newFakeFS()
	mounter := &RecordingMounter{}
	attr := &fakeAttrCloner{}

	require.NoError(t, MagicMount(fs, attr, p, mounter, node))
	assert.Empty(t, mounter.Binds, "expected no mounts for a DUMMY node")
}

func TestMagicMountSkelDelegatesToCloneSkeleton(t *testing.T) {
	p := testPaths()
	fs := newFakeFS()
	fs.addDir("/mirror/system/etc")

	root := NewRoot("/system")
	etc := &Node{Name: "etc", Type: TypeDir, Status: Status{Kind: KindSkel}}
	newfile := &Node{Name: "new.conf", Type: TypeReg, Status: Status{Kind: KindModule}, Module: "mod1"}
	InsertChild(root, etc)
	InsertChild(etc, newfile)

	mounter := &RecordingMounter{}
	attr := &fakeAttrCloner{}

	require.NoError(t, MagicMount(fs, attr, p, mounter, root))

	sawShadowMount := false
	sawChildMount := false
	for _, b := range mounter.Binds {
		if b.Destination == "/system/etc" {
			sawShadowMount = true
		}
		if b.Destination == "/system/etc/new.conf" {
			sawChildMount = true
		}
	}
	assert.True(t, sawShadowMount, "expected MagicMount to delegate a SKEL node to CloneSkeleton")
	assert.True(t, sawChildMount, "expected the module child to be mounted via CloneSkeleton")
}
