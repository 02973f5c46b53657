package logger

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Leveled logger used by the auth service, backed by a zap SugaredLogger.
// Init(level) selects the level; request-scoped fields travel in the context
// via WithContext / FromContext.

var (
	mu    sync.RWMutex
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	base  = newLogger(zapcore.Lock(os.Stdout))
)

type ctxKey struct{}

func newLogger(ws zapcore.WriteSyncer) *zap.SugaredLogger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.RFC3339TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), ws, level)
	return zap.New(core).Sugar()
}

// Init sets the global log level (case-insensitive: debug, info, warn, error, fatal).
// Call early during startup. Default level is Info.
func Init(l string) {
	switch strings.ToLower(strings.TrimSpace(l)) {
	case "debug":
		level.SetLevel(zapcore.DebugLevel)
	case "warn", "warning":
		level.SetLevel(zapcore.WarnLevel)
	case "error":
		level.SetLevel(zapcore.ErrorLevel)
	case "fatal":
		level.SetLevel(zapcore.FatalLevel)
	default:
		level.SetLevel(zapcore.InfoLevel)
	}
}

// SetOutput redirects log output. Used by tests to capture lines.
func SetOutput(ws zapcore.WriteSyncer) {
	mu.Lock()
	defer mu.Unlock()
	base = newLogger(ws)
}

// L returns the process logger.
func L() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// WithContext returns a context whose logger carries the given key/value pairs
// in addition to any already attached.
func WithContext(ctx context.Context, keysAndValues ...interface{}) context.Context {
	return context.WithValue(ctx, ctxKey{}, FromContext(ctx).With(keysAndValues...))
}

// FromContext returns the logger stored in ctx, or the process logger.
func FromContext(ctx context.Context) *zap.SugaredLogger {
	if ctx != nil {
		if l, ok := ctx.Value(ctxKey{}).(*zap.SugaredLogger); ok {
			return l
		}
	}
	return L()
}

func Debugf(format string, v ...interface{}) { L().Debugf(format, v...) }
func Infof(format string, v ...interface{})  { L().Infof(format, v...) }
func Warnf(format string, v ...interface{})  { L().Warnf(format, v...) }
func Errorf(format string, v ...interface{}) { L().Errorf(format, v...) }

func Fatalf(format string, v ...interface{}) {
	L().Errorf(format, v...)
	_ = L().Sync()
	os.Exit(1)
}

// Println kept for brief messages (maps to Info)
func Println(v ...interface{}) {
	L().Info(strings.TrimSuffix(fmt.Sprintln(v...), "\n"))
}

// Debug/Info/Warn/Error helpers that accept a single string
func Debug(v string) { L().Debug(v) }
func Info(v string)  { L().Info(v) }
func Warn(v string)  { L().Warn(v) }
func Error(v string) { L().Error(v) }

// LevelString returns the current level as text.
func LevelString() string {
	switch level.Level() {
	case zapcore.DebugLevel:
		return "debug"
	case zapcore.WarnLevel:
		return "warn"
	case zapcore.ErrorLevel:
		return "error"
	case zapcore.FatalLevel:
		return "fatal"
	}
	return "info"
}
