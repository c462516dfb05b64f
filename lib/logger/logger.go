// Package logger provides structured logging with subsystem-specific levels,
// mirroring the teacher's per-subsystem slog configuration.
package logger

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

type contextKey string

const loggerKey contextKey = "logger"

// Subsystem names for per-subsystem logging configuration.
const (
	SubsystemOverlay   = "OVERLAY"
	SubsystemImage     = "IMAGE"
	SubsystemMirror    = "MIRROR"
	SubsystemScript    = "SCRIPT"
	SubsystemBootStage = "BOOTSTAGE"
	SubsystemDiag      = "DIAG"
)

var allSubsystems = []string{
	SubsystemOverlay, SubsystemImage, SubsystemMirror,
	SubsystemScript, SubsystemBootStage, SubsystemDiag,
}

// Config holds logging configuration.
type Config struct {
	// DefaultLevel is the default log level for all subsystems.
	DefaultLevel slog.Level
	// SubsystemLevels maps subsystem names to their specific log levels.
	SubsystemLevels map[string]slog.Level
	// AddSource adds source file information to log entries.
	AddSource bool
}

// NewConfig creates a Config from environment variables.
// Reads LOG_LEVEL for the default level and LOG_LEVEL_<SUBSYSTEM> for
// per-subsystem overrides.
func NewConfig() Config {
	cfg := Config{
		DefaultLevel:    slog.LevelInfo,
		SubsystemLevels: make(map[string]slog.Level),
	}

	if levelStr := os.Getenv("LOG_LEVEL"); levelStr != "" {
		cfg.DefaultLevel = parseLevel(levelStr)
	}

	for _, subsystem := range allSubsystems {
		envKey := "LOG_LEVEL_" + subsystem
		if levelStr := os.Getenv(envKey); levelStr != "" {
			cfg.SubsystemLevels[subsystem] = parseLevel(levelStr)
		}
	}

	return cfg
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LevelFor returns the configured log level for the given subsystem.
func (c Config) LevelFor(subsystem string) slog.Level {
	if level, ok := c.SubsystemLevels[subsystem]; ok {
		return level
	}
	return c.DefaultLevel
}

// New creates a subsystem-scoped slog.Logger. If otelHandler is non-nil,
// records also flow to it (used to bridge boot-stage logs to an OTLP
// collector when telemetry is enabled).
func New(subsystem string, cfg Config, otelHandler slog.Handler) *slog.Logger {
	level := cfg.LevelFor(subsystem)
	jsonHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.AddSource,
	})

	var base slog.Handler = jsonHandler
	if otelHandler != nil {
		base = &multiHandler{handlers: []slog.Handler{jsonHandler, otelHandler}}
	}

	return slog.New(&subsystemHandler{Handler: base, subsystem: subsystem, level: level})
}

// subsystemHandler tags every record with its subsystem and enforces the
// subsystem's configured level independent of the wrapped handlers' own
// levels.
type subsystemHandler struct {
	slog.Handler
	subsystem string
	level     slog.Level
}

func (h *subsystemHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *subsystemHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(slog.String("subsystem", h.subsystem))
	return h.Handler.Handle(ctx, r)
}

func (h *subsystemHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &subsystemHandler{Handler: h.Handler.WithAttrs(attrs), subsystem: h.subsystem, level: h.level}
}

func (h *subsystemHandler) WithGroup(name string) slog.Handler {
	return &subsystemHandler{Handler: h.Handler.WithGroup(name), subsystem: h.subsystem, level: h.level}
}

// multiHandler fans out log records to multiple handlers.
type multiHandler struct {
	handlers []slog.Handler
}

func (m *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range m.handlers {
		if h.Enabled(ctx, r.Level) {
			if err := h.Handle(ctx, r); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		handlers[i] = h.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		handlers[i] = h.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}

// AddToContext attaches a logger to the context.
func AddToContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext retrieves the logger from context, or the default logger.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
