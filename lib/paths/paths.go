// Package paths provides centralized path construction for the boot-stage
// module overlay engine.
//
// Directory Structure:
//
//	{mountpoint}/               mounted active module image; one subdir per module
//	  <module>/
//	    remove, disable, auto_mount, system.prop, <stage>.sh
//	    system/                 overlay payload tree for this module
//	    vendor -> system/vendor (created when the module ships a vendor tree)
//	  .core/
//	    post-fs-data.d/*        common post-fs-data scripts
//	    service.d/*             common service scripts
//	{mirrorDir}/
//	  system/                   read-only bind mount of the live /system partition
//	  vendor/                   read-only bind mount of the live /vendor partition,
//	                            or a symlink to system/vendor when not separately mounted
//	{dummyDir}/<full_path>/     writable shadow directories created by the skeleton cloner
package paths

import (
	"path/filepath"

	securejoin "github.com/cyphar/filepath-securejoin"
)

// secureJoin resolves elem under root via SecureJoin, falling back to a plain
// filepath.Join if root does not exist yet (SecureJoin requires the root to
// be resolvable; mirror/dummy roots may not exist the first time a path
// under them is computed).
func secureJoin(root string, elem ...string) string {
	p, err := securejoin.SecureJoin(root, filepath.Join(elem...))
	if err != nil {
		return filepath.Join(append([]string{root}, elem...)...)
	}
	return p
}

// Paths provides typed path construction for the engine's filesystem layout.
type Paths struct {
	mountpoint  string
	mirrorDir   string
	dummyDir    string
	coreDir     string
	cacheMount  string
	stagedImage string
	mergeImage  string
	activeImage string
}

// New creates a Paths instance rooted at the given directories.
func New(mountpoint, mirrorDir, dummyDir, coreDir, cacheMount string) *Paths {
	return &Paths{
		mountpoint: mountpoint,
		mirrorDir:  mirrorDir,
		dummyDir:   dummyDir,
		coreDir:    coreDir,
		cacheMount: cacheMount,
	}
}

// WithImages sets the staged-image, merge-target, and active-image paths
// consumed by the boot-stage driver (spec.md §6 stage inputs), returning p
// for chaining at construction time.
func (p *Paths) WithImages(stagedImage, mergeImage, activeImage string) *Paths {
	p.stagedImage = stagedImage
	p.mergeImage = mergeImage
	p.activeImage = activeImage
	return p
}

// StagedImage returns the incoming module image staged by the installer
// (e.g. on /cache) that gets merged into the active image at post-fs-data.
func (p *Paths) StagedImage() string { return p.stagedImage }

// MergeImage returns the on-data merge target image.
func (p *Paths) MergeImage() string { return p.mergeImage }

// ActiveImage returns the image mounted at Mountpoint() for the boot.
func (p *Paths) ActiveImage() string { return p.activeImage }

// Mountpoint returns the root of the active module image mount.
func (p *Paths) Mountpoint() string { return p.mountpoint }

// MirrorDir returns the root of the read-only base-partition mirrors.
func (p *Paths) MirrorDir() string { return p.mirrorDir }

// DummyDir returns the root of the writable skeleton shadow tree.
func (p *Paths) DummyDir() string { return p.dummyDir }

// CoreDir returns the root of the common (non-module) script directories.
func (p *Paths) CoreDir() string { return p.coreDir }

// CacheMount returns the root of the cache-resident tree used by SimpleMount.
func (p *Paths) CacheMount() string { return p.cacheMount }

// ModuleDir returns the root directory of a single module.
func (p *Paths) ModuleDir(module string) string {
	return filepath.Join(p.mountpoint, module)
}

// ModuleSystemDir returns the module's overlay payload root (module/system).
func (p *Paths) ModuleSystemDir(module string) string {
	return filepath.Join(p.ModuleDir(module), "system")
}

// ModuleFile returns the path to a named sentinel/config file within a module
// (e.g. "remove", "disable", "auto_mount", "system.prop", "post-fs-data.sh").
func (p *Paths) ModuleFile(module, name string) string {
	return filepath.Join(p.ModuleDir(module), name)
}

// ModuleVendorSymlink returns the path to the module-level vendor symlink
// created when the module ships system/vendor.
func (p *Paths) ModuleVendorSymlink(module string) string {
	return filepath.Join(p.ModuleDir(module), "vendor")
}

// ModuleTarget returns MOUNTPOINT/<module>/<relPath> for a payload path
// relative to the overlay root (e.g. "/system/etc/hosts"). module and
// relPath both originate from module-supplied data, so the join is resolved
// with SecureJoin rather than plain filepath.Join.
func (p *Paths) ModuleTarget(module, relPath string) string {
	return secureJoin(p.mountpoint, module, relPath)
}

// MirrorPath returns MIRRDIR/<relPath> for a path relative to the overlay
// root. relPath is derived from module-supplied tree entries, so the join is
// resolved with SecureJoin.
func (p *Paths) MirrorPath(relPath string) string {
	return secureJoin(p.mirrorDir, relPath)
}

// DummyPath returns DUMMDIR/<relPath> for a path relative to the overlay
// root. relPath is derived from module-supplied tree entries, so the join is
// resolved with SecureJoin.
func (p *Paths) DummyPath(relPath string) string {
	return secureJoin(p.dummyDir, relPath)
}

// CoreScriptDir returns COREDIR/<stage>.d for a named boot stage.
func (p *Paths) CoreScriptDir(stage string) string {
	return filepath.Join(p.coreDir, stage+".d")
}

// CacheTree returns CACHEMOUNT/<relPath> for SimpleMount staging.
func (p *Paths) CacheTree(relPath string) string {
	return filepath.Join(p.cacheMount, relPath)
}

// Sentinel files, named per spec.md §6.
type Sentinels struct {
	Uninstaller string
	DisableFile string
	UnblockFile string
	LateLogMon  string
	HostsFile   string
	ManagerAPK  string
}

// DefaultSentinels returns the conventional sentinel file locations rooted
// at the module image mount point's data partition.
func DefaultSentinels(dataDir string) Sentinels {
	return Sentinels{
		Uninstaller: filepath.Join(dataDir, ".magicmount_uninstall"),
		DisableFile: filepath.Join(dataDir, ".disable"),
		UnblockFile: filepath.Join(dataDir, ".unblock"),
		LateLogMon:  filepath.Join(dataDir, ".late_logmon"),
		HostsFile:   filepath.Join(dataDir, "hosts"),
		ManagerAPK:  filepath.Join(dataDir, "manager.apk"),
	}
}
