// Package providers holds the constructor functions google/wire's
// wireinject-tagged injector in cmd/magicmountd/wire.go declares. The
// teacher does not commit a generated wire_gen.go; cmd/magicmountd/main.go's
// buildApplication calls the same functions wire.go's wire.Build call lists,
// by hand and in dependency order, so the graph stays correct for a
// normal (non-wireinject) build even without ever running `wire`.
package providers

import (
	"context"
	"log/slog"

	"github.com/c2h5oh/datasize"
	"github.com/docker/go-units"

	"github.com/rootshim/magicmount/cmd/magicmountd/config"
	"github.com/rootshim/magicmount/lib/bootstage"
	"github.com/rootshim/magicmount/lib/diag"
	"github.com/rootshim/magicmount/lib/logger"
	"github.com/rootshim/magicmount/lib/moduleimage"
	"github.com/rootshim/magicmount/lib/otelsetup"
	"github.com/rootshim/magicmount/lib/overlay"
	"github.com/rootshim/magicmount/lib/paths"
)

// ProvideConfig loads the daemon configuration from the environment.
func ProvideConfig() *config.Config {
	return config.Load()
}

// ProvideContext provides the root application context.
func ProvideContext() context.Context {
	return context.Background()
}

// ProvideOtel initializes the (possibly no-op) OpenTelemetry providers.
func ProvideOtel(ctx context.Context, cfg *config.Config) (*otelsetup.Provider, func(context.Context) error, error) {
	return otelsetup.Init(ctx, otelsetup.Config{Enabled: cfg.OtelEnabled, ServiceName: cfg.ServiceName})
}

// ProvideLogger builds the subsystem-scoped logger, bridged into the OTel
// log provider when telemetry is enabled. NewConfig reads LOG_LEVEL (and
// per-subsystem overrides) straight from the environment, the same place
// cfg.LogLevel came from, so there is nothing left to layer on top here.
func ProvideLogger(cfg *config.Config, otel *otelsetup.Provider) *slog.Logger {
	logCfg := logger.NewConfig()
	return logger.New(logger.SubsystemBootStage, logCfg, otel.LogHandler)
}

// ProvidePaths builds the centralized filesystem-layout abstraction.
func ProvidePaths(cfg *config.Config) *paths.Paths {
	return paths.New(cfg.Mountpoint, cfg.MirrorDir, cfg.DummyDir, cfg.CoreDir, cfg.CacheMount).
		WithImages(cfg.StagedImage, cfg.MergeImage, cfg.ActiveImage)
}

// ProvideSentinels builds the sentinel file path table.
func ProvideSentinels(cfg *config.Config) paths.Sentinels {
	return paths.DefaultSentinels(cfg.DataDir)
}

// ProvideFS provides the production filesystem abstraction used by the
// overlay constructor, skeleton cloner, and boot-stage driver.
func ProvideFS() overlay.ShadowFS {
	return overlay.NewOSFS().(overlay.ShadowFS)
}

// ProvideMounter provides the production bind-mount issuer.
func ProvideMounter() overlay.Mounter {
	return overlay.NewSyscallMounter()
}

// ProvideAttrCloner provides the SELinux-context-aware attribute cloner.
func ProvideAttrCloner() overlay.AttrCloner {
	return overlay.NewOSAttrCloner()
}

// ProvideLoopDevice provides the loopback-image collaborator.
func ProvideLoopDevice() moduleimage.LoopDevice {
	return moduleimage.NewExecLoopDevice()
}

// ProvideDefaultImageSize parses the configured default image size (e.g.
// "64MB") the way the teacher parses MAX_OVERLAY_SIZE, via datasize rather
// than bespoke integer parsing.
func ProvideDefaultImageSize(cfg *config.Config) int64 {
	var size datasize.ByteSize
	if err := size.UnmarshalText([]byte(cfg.DefaultImageSize)); err != nil {
		// units.RAMInBytes accepts a slightly different vocabulary
		// ("64M" without the trailing B); fall back to it before giving up
		// and using the conventional 64 MiB default.
		if v, ferr := units.RAMInBytes(cfg.DefaultImageSize); ferr == nil {
			return v
		}
		return 64 * 1024 * 1024
	}
	return int64(size)
}

// ProvideEnvironment provides the production out-of-scope-subsystem
// collaborator (property store, SELinux status, package manager).
func ProvideEnvironment(cfg *config.Config) bootstage.Environment {
	return bootstage.NewOSEnvironment(cfg.DataDir+"/.data_ready", "com.rootshim.magicmount.manager")
}

// ProvideRecorder provides the diagnostics status recorder shared by
// cmd/magicmountd's run loop (writer, recording each stage's outcome) and
// the diagnostics HTTP server (reader).
func ProvideRecorder() *diag.StatusRecorder {
	return diag.NewStatusRecorder()
}

// ProvideDriver builds the boot-stage driver with every collaborator wired.
func ProvideDriver(
	ctx context.Context,
	p *paths.Paths,
	sentinels paths.Sentinels,
	fs overlay.ShadowFS,
	mounter overlay.Mounter,
	attr overlay.AttrCloner,
	loop moduleimage.LoopDevice,
	env bootstage.Environment,
	log *slog.Logger,
	defaultImageSize int64,
) *bootstage.Driver {
	return bootstage.NewDriver(ctx, p, sentinels, fs, mounter, attr, loop, env, log, defaultImageSize)
}
