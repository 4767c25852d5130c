package tokenizers

import (
	"log/slog"
	"sync"
)

// Logger receives diagnostics from downloads and library resolution.
// *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

var (
	loggerMu  sync.RWMutex
	pkgLogger Logger = slog.New(slog.DiscardHandler)
)

// SetLogger replaces the package logger. A nil logger discards output.
func SetLogger(l Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	if l == nil {
		l = slog.New(slog.DiscardHandler)
	}
	pkgLogger = l
}

func log() Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return pkgLogger
}
