package logger

import (
	"context"
	"log/slog"
	"os"
)

// New builds the process logger. Local and dev environments get readable
// text at debug level; everything else emits JSON at info.
func New(appEnv string) *slog.Logger {
	var h slog.Handler
	switch appEnv {
	case "local", "dev":
		h = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	default:
		h = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	}
	return slog.New(h).With("service", "virtual-office", "env", appEnv)
}

type ctxKey struct{}

// With stores a logger in ctx.
func With(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From returns the logger stored in ctx, or slog.Default().
func From(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.Default()
}
