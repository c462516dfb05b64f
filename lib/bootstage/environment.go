package bootstage

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// osEnvironment is the production Environment, shelling out to the same
// property-store and package-manager command-line tools a boot script
// would invoke directly. Every concern it touches is explicitly out of
// scope for this engine (spec.md §1); it exists purely to give the driver
// something real to call during manual end-to-end testing.
type osEnvironment struct {
	dataReadyFile string
	managerPkg    string
}

// NewOSEnvironment returns the production Environment. dataReadyFile is the
// marker this device uses to signal /data is decrypted and mounted (e.g.
// the vold-maintained "/data/.booted" equivalent); managerPkg is the
// application ID probed via `pm path` to decide whether the manager app
// is already installed.
func NewOSEnvironment(dataReadyFile, managerPkg string) Environment {
	return &osEnvironment{dataReadyFile: dataReadyFile, managerPkg: managerPkg}
}

func (e *osEnvironment) DataReady(ctx context.Context) bool {
	_, err := os.Stat(e.dataReadyFile)
	return err == nil
}

func (e *osEnvironment) SELinuxPatched(ctx context.Context) bool {
	out, err := exec.CommandContext(ctx, "getenforce").Output()
	if err != nil {
		return false
	}
	mode := strings.TrimSpace(string(out))
	return mode == "Enforcing" || mode == "Permissive"
}

func (e *osEnvironment) SetDisabledProperty(ctx context.Context) error {
	return exec.CommandContext(ctx, "setprop", "magicmount.disabled", "1").Run()
}

func (e *osEnvironment) StartHideSubsystem(ctx context.Context) error {
	return exec.CommandContext(ctx, "setprop", "ctl.start", "magicmount_hide").Run()
}

func (e *osEnvironment) HideDisabled(ctx context.Context) bool {
	out, err := exec.CommandContext(ctx, "getprop", "persist.magicmount.hide.disable").Output()
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(out)) == "1"
}

func (e *osEnvironment) LaunchUninstaller(ctx context.Context) {
	_ = exec.CommandContext(ctx, "sh", "/system/bin/magicmount-uninstall.sh").Start()
}

func (e *osEnvironment) PackageManagerReady(ctx context.Context) (bool, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "pm", "path", e.managerPkg)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if strings.Contains(stderr.String(), "Error:") || strings.Contains(stderr.String(), "can't find service") {
			return false, nil
		}
		// pm returns non-zero when the package is simply not installed yet,
		// not when the service is unavailable; only the latter means "not ready".
		return true, nil
	}
	return true, nil
}

func (e *osEnvironment) InstallManagerPackage(ctx context.Context, apkPath string) error {
	out, err := exec.CommandContext(ctx, "pm", "install", "-r", apkPath).CombinedOutput()
	if err != nil {
		return fmt.Errorf("pm install: %w: %s", err, out)
	}
	return nil
}
