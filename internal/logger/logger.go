package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	levelVar   slog.LevelVar
	loggerMu   sync.RWMutex
	baseLogger *slog.Logger
)

func init() {
	levelVar.Set(slog.LevelInfo)
	baseLogger = newLogger(os.Stdout)
}

func newLogger(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: &levelVar})
	return slog.New(handler)
}

// SetOutput redirects every logger, including ones already obtained through With.
func SetOutput(w io.Writer) {
	loggerMu.Lock()
	baseLogger = newLogger(w)
	loggerMu.Unlock()
}

func SetLevel(level string) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		levelVar.Set(slog.LevelDebug)
	case "info":
		levelVar.Set(slog.LevelInfo)
	case "warn", "warning":
		levelVar.Set(slog.LevelWarn)
	case "error":
		levelVar.Set(slog.LevelError)
	default:
		levelVar.Set(slog.LevelInfo)
	}
}

// Enabled reports whether messages at level would be written.
func Enabled(level slog.Level) bool {
	return levelVar.Level() <= level
}

func activeLogger() *slog.Logger {
	loggerMu.RLock()
	l := baseLogger
	loggerMu.RUnlock()
	if l != nil {
		return l
	}
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if baseLogger == nil {
		baseLogger = newLogger(os.Stdout)
	}
	return baseLogger
}

func Debugf(format string, v ...any) {
	activeLogger().Debug(fmt.Sprintf(format, v...))
}

func Infof(format string, v ...any) {
	activeLogger().Info(fmt.Sprintf(format, v...))
}

func Warnf(format string, v ...any) {
	activeLogger().Warn(fmt.Sprintf(format, v...))
}

func Errorf(format string, v ...any) {
	activeLogger().Error(fmt.Sprintf(format, v...))
}

// Fields is a printf-style logger carrying structured attributes, e.g. trade_id.
type Fields struct {
	attrs []any
}

// With returns a logger that appends the given key/value pairs to every line.
func With(args ...any) Fields {
	return Fields{attrs: append([]any(nil), args...)}
}

func (f Fields) With(args ...any) Fields {
	merged := make([]any, 0, len(f.attrs)+len(args))
	merged = append(merged, f.attrs...)
	merged = append(merged, args...)
	return Fields{attrs: merged}
}

func (f Fields) Debugf(format string, v ...any) {
	activeLogger().Debug(fmt.Sprintf(format, v...), f.attrs...)
}

func (f Fields) Infof(format string, v ...any) {
	activeLogger().Info(fmt.Sprintf(format, v...), f.attrs...)
}

func (f Fields) Warnf(format string, v ...any) {
	activeLogger().Warn(fmt.Sprintf(format, v...), f.attrs...)
}

func (f Fields) Errorf(format string, v ...any) {
	activeLogger().Error(fmt.Sprintf(format, v...), f.attrs...)
}

func InfoBlock(block string) {
	block = strings.TrimSpace(block)
	if block == "" {
		return
	}
	for _, line := range strings.Split(block, "\n") {
		Infof("%s", line)
	}
}
