package logger

import (
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the structured logging surface components depend on.
type Logger interface {
	InfoObj(msg, key string, obj interface{})
	DebugObj(msg, key string, obj interface{})
	WarnObj(msg, key string, obj interface{})
	ErrorObj(msg, key string, obj interface{})
}

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) InfoObj(string, string, interface{})  {}
func (NopLogger) DebugObj(string, string, interface{}) {}
func (NopLogger) WarnObj(string, string, interface{})  {}
func (NopLogger) ErrorObj(string, string, interface{}) {}

// Zap implements Logger on top of a zap.Logger.
type Zap struct {
	l *zap.Logger
}

func (z *Zap) InfoObj(msg, key string, obj interface{})  { z.l.Info(msg, zap.Any(key, obj)) }
func (z *Zap) DebugObj(msg, key string, obj interface{}) { z.l.Debug(msg, zap.Any(key, obj)) }
func (z *Zap) WarnObj(msg, key string, obj interface{})  { z.l.Warn(msg, zap.Any(key, obj)) }
func (z *Zap) ErrorObj(msg, key string, obj interface{}) { z.l.Error(msg, zap.Any(key, obj)) }

// Sync flushes buffered entries.
func (z *Zap) Sync() error { return z.l.Sync() }

// New builds a JSON zap logger at the given level writing to w. The CLI passes
// stderr so command output on stdout stays machine readable.
func New(levelName string, w io.Writer) *Zap {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderCfg),
		zapcore.Lock(zapcore.AddSync(w)),
		ParseLevel(levelName),
	)

	l := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return &Zap{l: l}
}

// ParseLevel maps a config level name to a zap level, defaulting to info.
func ParseLevel(name string) zapcore.Level {
	switch name {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Ensure returns log, or a NopLogger when log is nil.
func Ensure(log Logger) Logger {
	if log == nil {
		return NopLogger{}
	}
	return log
}
