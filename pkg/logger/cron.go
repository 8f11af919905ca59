package logger

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Cron adapts l to the scheduler's logger. Scheduler chatter (wake, run,
// skip) goes to debug; job panics and failures go to error.
func Cron(l *slog.Logger) cron.Logger {
	if l == nil {
		l = slog.Default()
	}
	return cronLogger{l: l.With("component", "scheduler")}
}

type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append(keysAndValues, "err", err)...)
}
