package huddle

import "go.uber.org/zap"

// Logger defines the logging interface used across the package.
// Args are alternating key/value pairs.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
}

// noopLogger is a no-op logger implementation.
type noopLogger struct{}

func (l *noopLogger) Debug(msg string, args ...interface{}) {}
func (l *noopLogger) Info(msg string, args ...interface{})  {}
func (l *noopLogger) Warn(msg string, args ...interface{})  {}
func (l *noopLogger) Error(msg string, args ...interface{}) {}

// NopLogger returns a Logger that discards everything.
func NopLogger() Logger {
	return &noopLogger{}
}

// ZapLogger adapts a zap logger to Logger.
type ZapLogger struct {
	s *zap.SugaredLogger
}

// NewZapLogger wraps l. A nil l yields a no-op zap logger.
func NewZapLogger(l *zap.Logger) *ZapLogger {
	if l == nil {
		l = zap.NewNop()
	}
	return &ZapLogger{s: l.Sugar()}
}

// Debug implements Logger.
func (z *ZapLogger) Debug(msg string, args ...interface{}) { z.s.Debugw(msg, args...) }

// Info implements Logger.
func (z *ZapLogger) Info(msg string, args ...interface{}) { z.s.Infow(msg, args...) }

// Warn implements Logger.
func (z *ZapLogger) Warn(msg string, args ...interface{}) { z.s.Warnw(msg, args...) }

// Error implements Logger.
func (z *ZapLogger) Error(msg string, args ...interface{}) { z.s.Errorw(msg, args...) }

// Sync flushes buffered log entries.
func (z *ZapLogger) Sync() error {
	return z.s.Sync()
}
