package bootstage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rootshim/magicmount/lib/overlay"
	"github.com/rootshim/magicmount/lib/paths"
)

func TestLoadSystemPropParsesKeyValueLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "system.prop")
	content := "# a comment\n\nro.product.name=device\nro.build.version = 14\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	props, err := loadSystemProp(path)
	require.NoError(t, err)
	assert.Equal(t, "device", props["ro.product.name"])
	assert.Equal(t, "14", props["ro.build.version"])
	assert.Len(t, props, 2)
}

func TestLoadSystemPropMissingFile(t *testing.T) {
	_, err := loadSystemProp("/nonexistent/system.prop")
	assert.Error(t, err)
}

func TestEnumerateModulesSkipsReservedAndRemovedAndDisabled(t *testing.T) {
	fs := newFakeFS().
		addDir("/mnt").
		addDir("/mnt/.core").
		addDir("/mnt/lost+found").
		addDir("/mnt/removeme").
		addFile("/mnt/removeme/remove").
		addDir("/mnt/disabledmod").
		addFile("/mnt/disabledmod/disable").
		addDir("/mnt/plainmod")

	p := paths.New("/mnt", "/mirror", "/dummy", "/core", "/cachemount")
	root := overlay.NewRoot("/system")

	enabled, contributed, err := enumerateModules(context.Background(), discardLogger(), fs, p, root)
	require.NoError(t, err)
	assert.False(t, contributed, "plainmod has no auto_mount/system dir, so nothing is contributed")

	var names []string
	for _, m := range enabled {
		names = append(names, m.ID)
	}
	assert.ElementsMatch(t, []string{"plainmod"}, names)
	assert.False(t, fs.Exists("/mnt/removeme"), "expected the remove-sentinel module directory to be deleted")
}

func TestEnumerateModulesConstructsTreeForAutoMountModules(t *testing.T) {
	fs := newFakeFS().
		addDir("/mnt").
		addDir("/mnt/busybox").
		addFile("/mnt/busybox/auto_mount").
		addDir("/mnt/busybox/system").
		addDir("/mnt/busybox/system/bin").
		addFile("/mnt/busybox/system/bin/busybox")

	p := paths.New("/mnt", "/mirror", "/dummy", "/core", "/cachemount")
	root := overlay.NewRoot("/system")

	enabled, contributed, err := enumerateModules(context.Background(), discardLogger(), fs, p, root)
	require.NoError(t, err)
	assert.True(t, contributed, "expected busybox's auto-mounted system/ tree to contribute")
	assert.Len(t, enabled, 1)
	assert.Equal(t, "busybox", enabled[0].ID)
}
