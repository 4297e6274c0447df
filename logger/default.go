package logger

import "sync/atomic"

var defLogger atomic.Pointer[loggerBox]

type loggerBox struct{ l Logger }

func init() {
	defLogger.Store(&loggerBox{l: NewSlog(InfoLevel, false)})
}

func current() Logger {
	return defLogger.Load().l
}

func Debug(msg string, keysAndValues ...any) {
	current().Debug(msg, keysAndValues...)
}

func Info(msg string, keysAndValues ...any) {
	current().Info(msg, keysAndValues...)
}

func Warn(msg string, keysAndValues ...any) {
	current().Warn(msg, keysAndValues...)
}

func Error(msg string, keysAndValues ...any) {
	current().Error(msg, keysAndValues...)
}

func SetLevel(level Level) {
	current().SetLevel(level)
}

// GetLogger returns the process-wide default logger. Configs created
// afterwards pick it up unless a logger is given with port.WithLogger.
func GetLogger() Logger {
	return current()
}

// SetDefault replaces the process-wide default logger. A nil l is ignored.
func SetDefault(l Logger) {
	if l != nil {
		defLogger.Store(&loggerBox{l: l})
	}
}

func With(keyValues ...any) Logger {
	return current().With(keyValues...)
}
