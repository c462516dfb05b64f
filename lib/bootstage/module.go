package bootstage

import (
	"bufio"
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/samber/lo"

	"github.com/rootshim/magicmount/lib/overlay"
	"github.com/rootshim/magicmount/lib/paths"
	"github.com/rootshim/magicmount/lib/scripts"
)

// enumerateModules implements spec.md §4.G step 6: it walks MOUNTPOINT,
// skipping the ".core" and "lost+found" reserved entries, applies the
// remove/disable sentinels, records each surviving module as enabled, wires
// up the module-level vendor symlink, and invokes the Tree Constructor for
// every module that ships an auto-mounted system/ payload.
//
// It returns the enabled module list (for script execution) and whether any
// module actually contributed a subtree to root.
func enumerateModules(ctx context.Context, log *slog.Logger, fs overlay.ShadowFS, p *paths.Paths, root *overlay.Node) ([]scripts.EnabledModule, bool, error) {
	entries, err := fs.ReadDir(p.Mountpoint())
	if err != nil {
		return nil, false, err
	}

	dirs := lo.Filter(entries, func(e overlay.DirEntry, _ int) bool { return e.Type == overlay.TypeDir })
	names := lo.Map(dirs, func(e overlay.DirEntry, _ int) string { return e.Name })
	names = lo.Filter(names, func(name string, _ int) bool { return name != ".core" && name != "lost+found" })

	var enabled []scripts.EnabledModule
	contributed := false

	for _, name := range names {
		dir := p.ModuleDir(name)

		if fs.Exists(p.ModuleFile(name, "remove")) {
			log.InfoContext(ctx, "removing module", "module", name)
			if err := fs.RemoveAll(dir); err != nil {
				log.WarnContext(ctx, "remove module dir failed", "module", name, "err", err)
			}
			continue
		}
		if fs.Exists(p.ModuleFile(name, "disable")) {
			log.DebugContext(ctx, "module disabled", "module", name)
			continue
		}

		enabled = append(enabled, scripts.EnabledModule{ID: name, Dir: dir})
		if propPath := p.ModuleFile(name, "system.prop"); fs.Exists(propPath) {
			if props, err := loadSystemProp(propPath); err != nil {
				log.WarnContext(ctx, "load system.prop failed", "module", name, "err", err)
			} else {
				log.DebugContext(ctx, "loaded module system.prop", "module", name, "count", len(props))
			}
		}

		if !fs.Exists(p.ModuleFile(name, "auto_mount")) || !fs.Exists(p.ModuleSystemDir(name)) {
			continue
		}

		if vendorDir := p.ModuleFile(name, "system/vendor"); fs.Exists(vendorDir) {
			symlink := p.ModuleVendorSymlink(name)
			if fs.Exists(symlink) || fs.IsSymlink(symlink) {
				_ = fs.Remove(symlink)
			}
			if err := fs.Symlink(vendorDir, symlink); err != nil {
				log.WarnContext(ctx, "create module vendor symlink failed", "module", name, "err", err)
			}
		}

		if err := overlay.ConstructTree(fs, p.Mountpoint(), name, root); err != nil {
			log.WarnContext(ctx, "module tree construction failed", "module", name, "err", err)
			continue
		}
		contributed = true
	}

	return enabled, contributed, nil
}

// loadSystemProp parses key=value lines from a module's system.prop, the
// same trivial format android property files use. Blank lines and lines
// starting with "#" are ignored.
func loadSystemProp(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	props := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		props[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return props, scanner.Err()
}
