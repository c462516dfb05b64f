// Package bootstage sequences the three entry points a boot invokes into
// this engine (spec.md §4.G): post-fs, post-fs-data, and late-start. It owns
// the deterministic ordering — image merge, image mount, script stage,
// per-module tree construction, mirror mount, vendor splinter, magic
// mount — and the stage-fatal/unblock semantics described in spec.md §7.
package bootstage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rootshim/magicmount/lib/ipc"
	"github.com/rootshim/magicmount/lib/moduleimage"
	"github.com/rootshim/magicmount/lib/overlay"
	"github.com/rootshim/magicmount/lib/paths"
	"github.com/rootshim/magicmount/lib/scripts"
	"github.com/rootshim/magicmount/lib/simplemount"
)

// Environment is the set of external collaborators spec.md §1 explicitly
// places out of scope: property-store interaction, SELinux policy
// patching, the hide subsystem, and package installation. The driver only
// needs to know when these are done or to kick them off, never how.
type Environment interface {
	DataReady(ctx context.Context) bool
	SELinuxPatched(ctx context.Context) bool
	SetDisabledProperty(ctx context.Context) error
	StartHideSubsystem(ctx context.Context) error
	HideDisabled(ctx context.Context) bool
	// LaunchUninstaller starts the uninstaller flow detached; its own
	// completion is outside this engine's contract.
	LaunchUninstaller(ctx context.Context)
	// PackageManagerReady reports whether the package manager daemon is up
	// (no "Error:" in its status output, in spec.md's phrasing).
	PackageManagerReady(ctx context.Context) (bool, error)
	// InstallManagerPackage installs the staged manager APK.
	InstallManagerPackage(ctx context.Context, apkPath string) error
}

// Driver sequences the boot stages. Every dependency is injected so the
// sequence can be exercised in tests against fakes (spec.md §8's harness).
type Driver struct {
	Paths      *paths.Paths
	Sentinels  paths.Sentinels
	FS         overlay.ShadowFS
	Mounter    overlay.Mounter
	AttrCloner overlay.AttrCloner
	Loop       moduleimage.LoopDevice
	Env        Environment
	Log        *slog.Logger

	// DefaultImageSize is used when the active image must be created fresh.
	DefaultImageSize int64

	// bg runs detached work (the late-start manager-install poll) so its
	// failures reach the logger instead of vanishing with a bare `go`
	// statement, without making LateStart block on completion.
	bg *errgroup.Group
}

// NewDriver wires bg from ctx so detached work started by LateStart shares
// the daemon's lifetime rather than the short-lived per-stage context.
func NewDriver(ctx context.Context, p *paths.Paths, s paths.Sentinels, fs overlay.ShadowFS, mounter overlay.Mounter, attr overlay.AttrCloner, loop moduleimage.LoopDevice, env Environment, log *slog.Logger, defaultImageSize int64) *Driver {
	bg, _ := errgroup.WithContext(ctx)
	return &Driver{
		Paths:            p,
		Sentinels:        s,
		FS:               fs,
		Mounter:          mounter,
		AttrCloner:       attr,
		Loop:             loop,
		Env:              env,
		Log:              log,
		DefaultImageSize: defaultImageSize,
		bg:               bg,
	}
}

func (d *Driver) unblock(ctx context.Context) error {
	if err := d.FS.CreateFile(d.Sentinels.UnblockFile); err != nil {
		d.Log.ErrorContext(ctx, "create unblock sentinel failed", "err", err)
		return err
	}
	return nil
}

func (d *Driver) fail(ctx context.Context, stage string, cause error) error {
	d.Log.ErrorContext(ctx, "stage fatal", "stage", stage, "err", cause)
	if err := d.FS.CreateFile(d.Sentinels.UnblockFile); err != nil {
		d.Log.ErrorContext(ctx, "create unblock sentinel failed after stage fatal", "err", err)
	}
	return &StageFatalError{Stage: stage, Err: cause}
}

// PostFS implements spec.md §4.G's post-fs entry point.
func (d *Driver) PostFS(ctx context.Context, client ipc.Client) error {
	defer client.Ack(0)

	if d.FS.Exists(d.Sentinels.Uninstaller) || d.FS.Exists(d.Sentinels.DisableFile) {
		return d.unblock(ctx)
	}

	if err := simplemount.Mount(ctx, d.FS, d.Mounter, d.Paths.CacheMount(), "/", "system"); err != nil {
		d.Log.WarnContext(ctx, "simple mount /system failed", "err", err)
	}
	if err := simplemount.Mount(ctx, d.FS, d.Mounter, d.Paths.CacheMount(), "/", "vendor"); err != nil {
		d.Log.WarnContext(ctx, "simple mount /vendor failed", "err", err)
	}

	return d.unblock(ctx)
}

// PostFSData implements spec.md §4.G's post-fs-data entry point.
func (d *Driver) PostFSData(ctx context.Context, client ipc.Client) error {
	defer client.Ack(0)

	if !d.Env.DataReady(ctx) {
		return d.unblock(ctx)
	}
	if d.FS.Exists(d.Sentinels.Uninstaller) {
		d.Env.LaunchUninstaller(ctx)
		return d.unblock(ctx)
	}

	// The cache-staged image is merged before the data-staged one, so when
	// both carry the same module the data-staged copy replaces the
	// cache-staged one in the active image.
	if err := moduleimage.MergeImage(ctx, d.Log, d.Loop, d.Paths.StagedImage(), d.Paths.ActiveImage()); err != nil {
		return d.fail(ctx, "post-fs-data", fmt.Errorf("merge cache-staged image: %w", err))
	}
	if err := moduleimage.MergeImage(ctx, d.Log, d.Loop, d.Paths.MergeImage(), d.Paths.ActiveImage()); err != nil {
		return d.fail(ctx, "post-fs-data", fmt.Errorf("merge data-staged image: %w", err))
	}

	newImg := false
	if !d.FS.Exists(d.Paths.ActiveImage()) {
		if err := d.Loop.Create(ctx, d.Paths.ActiveImage(), d.DefaultImageSize); err != nil {
			return d.fail(ctx, "post-fs-data", fmt.Errorf("create active image: %w", err))
		}
		newImg = true
	}

	if err := d.Loop.MountAt(ctx, d.Paths.ActiveImage(), d.Paths.Mountpoint()); err != nil {
		return d.fail(ctx, "post-fs-data", fmt.Errorf("mount active image: %w", err))
	}
	if newImg {
		if err := d.FS.MkdirAll(d.Paths.CoreScriptDir("post-fs-data")); err != nil {
			d.Log.WarnContext(ctx, "create .core tree failed", "err", err)
		}
		if err := d.FS.MkdirAll(d.Paths.CoreScriptDir("service")); err != nil {
			d.Log.WarnContext(ctx, "create .core tree failed", "err", err)
		}
	}

	if err := scripts.ExecCommonScript(ctx, d.Log, d.Paths.CoreScriptDir("post-fs-data")); err != nil {
		d.Log.WarnContext(ctx, "common post-fs-data scripts failed", "err", err)
	}

	if d.FS.Exists(d.Sentinels.DisableFile) {
		return d.coreOnly(ctx)
	}

	systemRoot := overlay.NewRoot("/system")
	enabled, contributed, err := enumerateModules(ctx, d.Log, d.FS, d.Paths, systemRoot)
	if err != nil {
		return d.fail(ctx, "post-fs-data", fmt.Errorf("enumerate modules: %w", err))
	}

	if err := d.Loop.Unmount(ctx, d.Paths.Mountpoint()); err != nil {
		return d.fail(ctx, "post-fs-data", fmt.Errorf("unmount active image before trim: %w", err))
	}
	if err := moduleimage.TrimImage(ctx, d.Log, d.Loop, d.Paths.ActiveImage()); err != nil {
		return d.fail(ctx, "post-fs-data", fmt.Errorf("trim active image: %w", err))
	}
	if err := d.Loop.MountAt(ctx, d.Paths.ActiveImage(), d.Paths.Mountpoint()); err != nil {
		return d.fail(ctx, "post-fs-data", fmt.Errorf("remount active image after trim: %w", err))
	}

	var vendorRoot *overlay.Node
	if contributed {
		separateVendor, err := MountMirrors(d.FS, d.Mounter, d.Paths)
		if err != nil {
			return d.fail(ctx, "post-fs-data", fmt.Errorf("mount mirrors: %w", err))
		}
		vendorRoot = SplinterVendor(systemRoot, separateVendor)
	}

	if err := overlay.MagicMount(d.FS, d.AttrCloner, d.Paths, d.Mounter, systemRoot); err != nil {
		d.Log.ErrorContext(ctx, "magic mount /system failed", "err", err)
	}
	if vendorRoot != nil {
		if err := overlay.MagicMount(d.FS, d.AttrCloner, d.Paths, d.Mounter, vendorRoot); err != nil {
			d.Log.ErrorContext(ctx, "magic mount /vendor failed", "err", err)
		}
	}

	overlay.DestroySubtree(systemRoot)
	overlay.DestroySubtree(vendorRoot)

	if err := scripts.ExecModuleScript(ctx, d.Log, enabled, "post-fs-data"); err != nil {
		d.Log.WarnContext(ctx, "module post-fs-data scripts failed", "err", err)
	}

	return d.unblock(ctx)
}

// coreOnly implements spec.md §4.G's core_only branch.
func (d *Driver) coreOnly(ctx context.Context) error {
	if d.FS.Exists(d.Sentinels.HostsFile) {
		if err := overlay.BindMount(d.Mounter, d.Sentinels.HostsFile, "/system/etc/hosts"); err != nil {
			d.Log.WarnContext(ctx, "bind hosts file failed", "err", err)
		}
	}
	if !d.Env.HideDisabled(ctx) {
		if err := d.Env.StartHideSubsystem(ctx); err != nil {
			d.Log.WarnContext(ctx, "start hide subsystem failed", "err", err)
		}
	}
	return d.unblock(ctx)
}

// LateStart implements spec.md §4.G's late-start entry point.
func (d *Driver) LateStart(ctx context.Context, client ipc.Client) error {
	defer client.Ack(0)

	for !d.Env.SELinuxPatched(ctx) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}

	if err := scripts.ExecCommonScript(ctx, d.Log, d.Paths.CoreScriptDir("service")); err != nil {
		d.Log.WarnContext(ctx, "common service scripts failed", "err", err)
	}
	if d.FS.Exists(d.Sentinels.DisableFile) {
		return d.Env.SetDisabledProperty(ctx)
	}

	systemRoot := overlay.NewRoot("/system")
	enabled, _, err := enumerateModules(ctx, d.Log, d.FS, d.Paths, systemRoot)
	overlay.DestroySubtree(systemRoot)
	if err != nil {
		d.Log.WarnContext(ctx, "enumerate modules for service scripts failed", "err", err)
	}

	if err := scripts.ExecModuleScript(ctx, d.Log, enabled, "service"); err != nil {
		d.Log.WarnContext(ctx, "module service scripts failed", "err", err)
	}

	if d.FS.Exists(d.Sentinels.ManagerAPK) {
		apk := d.Sentinels.ManagerAPK
		d.bg.Go(func() error {
			return d.pollInstallManager(context.Background(), apk)
		})
	}

	return nil
}

// pollInstallManager checks PackageManagerReady every 5 seconds until the
// package manager daemon reports ready, then calls InstallManagerPackage
// once and, if that succeeds, unlinks the staged APK.
// It runs detached from LateStart so a slow-booting package manager never
// holds up the stage's acknowledgement.
func (d *Driver) pollInstallManager(ctx context.Context, apk string) error {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		ready, err := d.Env.PackageManagerReady(ctx)
		if err != nil {
			d.Log.WarnContext(ctx, "package manager readiness check failed", "err", err)
		} else if ready {
			break
		}
		<-ticker.C
	}

	if err := d.Env.InstallManagerPackage(ctx, apk); err != nil {
		d.Log.ErrorContext(ctx, "manager package install failed", "err", err)
		return err
	}
	if err := d.FS.Remove(apk); err != nil {
		d.Log.WarnContext(ctx, "unlink staged manager apk failed", "err", err)
	}
	return nil
}
