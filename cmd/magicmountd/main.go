package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/rootshim/magicmount/cmd/magicmountd/config"
	"github.com/rootshim/magicmount/lib/bootstage"
	"github.com/rootshim/magicmount/lib/diag"
	"github.com/rootshim/magicmount/lib/ipc"
	"github.com/rootshim/magicmount/lib/otelsetup"
	"github.com/rootshim/magicmount/lib/paths"
	"github.com/rootshim/magicmount/lib/providers"
)

// application bundles every wired collaborator the daemon needs for a
// single stage invocation. wire.go declares the wireinject-tagged injector
// this struct mirrors; buildApplication below is the hand-written
// equivalent of what `wire build` would emit for it, since no wire_gen.go
// is committed (matching the teacher, which never commits one either).
type application struct {
	Ctx       context.Context
	Logger    *slog.Logger
	Config    *config.Config
	Paths     *paths.Paths
	Sentinels paths.Sentinels
	Otel      *otelsetup.Provider
	Driver    *bootstage.Driver
	Recorder  *diag.StatusRecorder
}

// buildApplication calls the providers package by hand, in dependency order,
// covering the same providers wire.go's injector lists, and composes their
// cleanup functions into one.
func buildApplication() (*application, func(), error) {
	ctx := providers.ProvideContext()
	cfg := providers.ProvideConfig()

	otel, otelCleanup, err := providers.ProvideOtel(ctx, cfg)
	if err != nil {
		return nil, func() {}, fmt.Errorf("provide otel: %w", err)
	}
	cleanup := func() { _ = otelCleanup(ctx) }

	logger := providers.ProvideLogger(cfg, otel)
	p := providers.ProvidePaths(cfg)
	sentinels := providers.ProvideSentinels(cfg)
	fs := providers.ProvideFS()
	mounter := providers.ProvideMounter()
	attr := providers.ProvideAttrCloner()
	loop := providers.ProvideLoopDevice()
	defaultImageSize := providers.ProvideDefaultImageSize(cfg)
	env := providers.ProvideEnvironment(cfg)
	recorder := providers.ProvideRecorder()

	driver := providers.ProvideDriver(ctx, p, sentinels, fs, mounter, attr, loop, env, logger, defaultImageSize)

	return &application{
		Ctx:       ctx,
		Logger:    logger,
		Config:    cfg,
		Paths:     p,
		Sentinels: sentinels,
		Otel:      otel,
		Driver:    driver,
		Recorder:  recorder,
	}, cleanup, nil
}

func main() {
	if err := run(); err != nil {
		slog.Error("application terminated", "error", err)
		os.Exit(1)
	}
}

// run mirrors the teacher's cmd/api/main.go run() shape: load config, wire
// the application, run it under signal handling and an errgroup, and
// return the first failure. This binary is invoked once per boot stage by
// init. When the diagnostics server is up, run keeps serving it after the
// stage returns nil, until a signal arrives or a goroutine fails; without
// it, run returns as soon as the stage does. Detached late-start work is
// never waited for and ends with the process.
func run() error {
	if len(os.Args) < 2 {
		return fmt.Errorf("usage: %s <post-fs|post-fs-data|late-start>", os.Args[0])
	}
	stage := os.Args[1]

	app, cleanup, err := buildApplication()
	if err != nil {
		return fmt.Errorf("initialize application: %w", err)
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(app.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := app.Logger

	client, closeClient, err := dialIPC(logger)
	if err != nil {
		return fmt.Errorf("dial init ipc: %w", err)
	}
	defer closeClient()

	grp, gctx := errgroup.WithContext(ctx)

	diagServer, err := diag.New(app.Config.DiagSocket, app.Recorder, logger)
	if err != nil {
		logger.Warn("diagnostics server unavailable, continuing without it", "err", err)
	} else {
		grp.Go(func() error {
			return diagServer.Serve(gctx)
		})
	}

	grp.Go(func() error {
		var stageErr error
		switch stage {
		case "post-fs":
			stageErr = app.Driver.PostFS(gctx, client)
		case "post-fs-data":
			stageErr = app.Driver.PostFSData(gctx, client)
		case "late-start":
			stageErr = app.Driver.LateStart(gctx, client)
		default:
			stageErr = fmt.Errorf("unknown boot stage %q", stage)
		}
		app.Recorder.Record(stage, stageErr)
		return stageErr
	})

	return grp.Wait()
}

// dialIPC connects to the init-owned socket handed off via
// MAGICMOUNT_IPC_FD (an inherited file descriptor number, the same
// handoff convention a service launched by init uses for its control
// socket). When unset — e.g. while iterating on this binary outside of a
// real boot — a recording client stands in so Ack still has somewhere to
// go.
func dialIPC(log *slog.Logger) (ipc.Client, func() error, error) {
	fdStr := os.Getenv("MAGICMOUNT_IPC_FD")
	if fdStr == "" {
		log.Warn("MAGICMOUNT_IPC_FD not set, using a recording ipc client")
		rec := ipc.NewRecordingClient()
		return rec, func() error { return nil }, nil
	}

	fd, err := strconv.Atoi(fdStr)
	if err != nil {
		return nil, nil, fmt.Errorf("parse MAGICMOUNT_IPC_FD: %w", err)
	}

	file := os.NewFile(uintptr(fd), "magicmount-ipc")
	conn, err := net.FileConn(file)
	if err != nil {
		return nil, nil, fmt.Errorf("wrap inherited ipc fd: %w", err)
	}

	client := ipc.NewClient(conn)
	return client, client.Close, nil
}
