package overlay

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFullPathRoot(t *testing.T) {
	root := NewRoot("/system")
	assert.Equal(t, "/system", FullPath(root))
}

func TestFullPathNestedChild(t *testing.T) {
	root := NewRoot("/system")
	etc := &Node{Name: "etc"}
	hosts := &Node{Name: "hosts"}
	InsertChild(root, etc)
	InsertChild(etc, hosts)

	assert.Equal(t, "/system/etc/hosts", FullPath(hosts))
}

func TestFullPathNil(t *testing.T) {
	assert.Equal(t, "", FullPath(nil))
}

func TestKindStringAndOrdering(t *testing.T) {
	assert.Greater(t, int(KindModule), int(KindSkel))
	assert.Greater(t, int(KindSkel), int(KindInter))
	assert.Greater(t, int(KindInter), int(KindDummy))

	assert.Equal(t, "MODULE", KindModule.String())
	assert.Equal(t, "UNKNOWN", Kind(99).String())
}
