// Package scripts runs the common and per-module boot-stage scripts
// (spec.md §4.H): the thin script runner that enumerates executables for a
// stage and waits on each before proceeding.
package scripts

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
)

// EnabledModule is the subset of a module's state the script runner needs:
// its identifier and the directory it lives in under MOUNTPOINT.
type EnabledModule struct {
	ID  string
	Dir string
}

// ExecCommonScript enumerates executable regular files in dir (conventionally
// COREDIR/<stage>.d) and runs each via the shell, waiting on each before
// moving to the next. Scripts run in lexical order of their file names,
// because os.ReadDir returns entries sorted by name; this is a fixed order
// rather than raw directory-enumeration order.
func ExecCommonScript(ctx context.Context, log *slog.Logger, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("enumerate script dir %s: %w", dir, err)
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			log.WarnContext(ctx, "stat common script", "path", filepath.Join(dir, e.Name()), "err", err)
			continue
		}
		if info.Mode()&0o111 == 0 {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if err := runScript(ctx, path); err != nil {
			log.WarnContext(ctx, "common script failed", "path", path, "err", err)
		}
	}
	return nil
}

// ExecModuleScript runs MOUNTPOINT/<m>/<stage>.sh for every enabled module
// that carries one, waiting on each in turn.
func ExecModuleScript(ctx context.Context, log *slog.Logger, modules []EnabledModule, stage string) error {
	for _, m := range modules {
		path := filepath.Join(m.Dir, stage+".sh")
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := runScript(ctx, path); err != nil {
			log.WarnContext(ctx, "module script failed", "module", m.ID, "stage", stage, "err", err)
		}
	}
	return nil
}

func runScript(ctx context.Context, path string) error {
	cmd := exec.CommandContext(ctx, "/system/bin/sh", path)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}
