// Package simplemount implements the pre-data-partition overlay used in
// post-fs (spec.md §4.F): an unconditional bind mount of a cache-resident
// file tree over live paths, with no image work since the data partition
// isn't writable yet at this stage.
package simplemount

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rootshim/magicmount/lib/overlay"
)

// Mount recurses cacheRoot/<relPath> (liveRoot/<relPath> on the live
// filesystem) and bind-mounts every regular file present in both the cache
// copy and the live tree onto its live counterpart, attribute-cloning from
// live to the cache copy first so the mounted file inherits the live file's
// owner/mode. Directories are recursed into; a live target missing for a
// given cache entry is skipped, since there is nothing to bind onto.
func Mount(ctx context.Context, fs overlay.ShadowFS, mounter overlay.Mounter, cacheRoot, liveRoot, relPath string) error {
	cacheDir := filepath.Join(cacheRoot, relPath)
	entries, err := fs.ReadDir(cacheDir)
	if err != nil {
		return fmt.Errorf("enumerate cache dir %s: %w", cacheDir, err)
	}

	for _, e := range entries {
		childRel := filepath.Join(relPath, e.Name)
		liveChild := filepath.Join(liveRoot, childRel)
		cacheChild := filepath.Join(cacheRoot, childRel)

		if !fs.Exists(liveChild) {
			continue
		}

		switch e.Type {
		case overlay.TypeDir:
			if err := Mount(ctx, fs, mounter, cacheRoot, liveRoot, childRel); err != nil {
				return err
			}
		case overlay.TypeReg:
			if err := fs.CloneAttrs(liveChild, cacheChild); err != nil {
				return fmt.Errorf("clone attrs %s -> %s: %w", liveChild, cacheChild, err)
			}
			if err := overlay.BindMount(mounter, cacheChild, liveChild); err != nil {
				return err
			}
		default:
			// Symlinks in the cache staging tree are not part of this
			// overlay; only plain files and directories are meaningful here.
		}
	}

	return nil
}

// EnsureCacheRoot creates cacheRoot if absent, used by callers that stage
// files into it before the first Mount call of a boot.
func EnsureCacheRoot(cacheRoot string) error {
	return os.MkdirAll(cacheRoot, 0o755)
}
