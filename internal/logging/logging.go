package logging

import (
	"context"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	sugar *zap.SugaredLogger
	once  sync.Once
	mu    sync.RWMutex
)

// Logger is the structured logging surface used across the gateway. It is
// kept to key/value events so any zap-compatible logger can stand in.
type Logger interface {
	Infow(msg string, keysAndValues ...interface{})
	Debugw(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
	Sync() error
}

type noopLogger struct{}

func (noopLogger) Infow(string, ...interface{})  {}
func (noopLogger) Debugw(string, ...interface{}) {}
func (noopLogger) Warnw(string, ...interface{})  {}
func (noopLogger) Errorw(string, ...interface{}) {}
func (noopLogger) Sync() error                   { return nil }

// callerOptions skip the one package-level helper frame between the call
// site and the logger.
var callerOptions = []zap.Option{zap.AddCaller(), zap.AddCallerSkip(1)}

// current starts as a no-op so packages can log before Init runs (tests,
// library use).
var current Logger = noopLogger{}

// Init builds the process-wide zap logger from LOG_LEVEL and redirects the
// standard library logger into it. Output always goes to stderr: in stdio
// mode stdout is the MCP channel, and a worker's stderr is relayed into the
// gateway log by the bridge. Safe to call more than once.
func Init() *zap.SugaredLogger {
	once.Do(func() {
		cfg := zap.Config{
			Encoding:         "json",
			EncoderConfig:    zap.NewProductionEncoderConfig(),
			OutputPaths:      []string{"stderr"},
			ErrorOutputPaths: []string{"stderr"},
		}
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.EncoderConfig.CallerKey = "caller"
		cfg.Level = zap.NewAtomicLevelAt(levelFromEnv(os.Getenv("LOG_LEVEL")))

		logger, err := cfg.Build(append(callerOptions, zap.AddStacktrace(zap.ErrorLevel))...)
		if err != nil {
			logger = zap.NewNop()
		}
		_ = zap.RedirectStdLog(logger)
		sugar = logger.Sugar()
		SetLogger(sugar)
	})
	return sugar
}

func levelFromEnv(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zap.DebugLevel
	case "warn", "warning":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	default:
		return zap.InfoLevel
	}
}

// Sugar returns the logger built by Init, or nil before Init.
func Sugar() *zap.SugaredLogger { return sugar }

// SetLogger replaces the package-level logger. Passing nil restores the
// logger built by Init, or the no-op logger if Init was never called.
func SetLogger(l Logger) {
	mu.Lock()
	defer mu.Unlock()
	switch {
	case l != nil:
		current = l
	case sugar != nil:
		current = sugar
	default:
		current = noopLogger{}
	}
}

// GetLogger returns the current Logger.
func GetLogger() Logger {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

func Infow(msg string, keysAndValues ...interface{})  { GetLogger().Infow(msg, keysAndValues...) }
func Debugw(msg string, keysAndValues ...interface{}) { GetLogger().Debugw(msg, keysAndValues...) }
func Warnw(msg string, keysAndValues ...interface{})  { GetLogger().Warnw(msg, keysAndValues...) }
func Errorw(msg string, keysAndValues ...interface{}) { GetLogger().Errorw(msg, keysAndValues...) }

// Sync flushes any buffered logs.
func Sync() error { return GetLogger().Sync() }

type ctxKeyType struct{}

// WithFields returns a context carrying the given key/value pairs, appended
// to any already present.
func WithFields(ctx context.Context, kv ...interface{}) context.Context {
	if len(kv) == 0 {
		return ctx
	}
	prev, _ := ctx.Value(ctxKeyType{}).([]interface{})
	merged := make([]interface{}, 0, len(prev)+len(kv))
	merged = append(merged, prev...)
	merged = append(merged, kv...)
	return context.WithValue(ctx, ctxKeyType{}, merged)
}

// FromContext returns the fields attached with WithFields.
func FromContext(ctx context.Context) []interface{} {
	if ctx == nil {
		return nil
	}
	v, _ := ctx.Value(ctxKeyType{}).([]interface{})
	return v
}

func merge(ctx context.Context, kv []interface{}) []interface{} {
	ctxFields := FromContext(ctx)
	if len(ctxFields) == 0 {
		return kv
	}
	merged := make([]interface{}, 0, len(ctxFields)+len(kv))
	merged = append(merged, ctxFields...)
	return append(merged, kv...)
}

// InfowCtx logs msg with the fields carried by ctx followed by kv.
func InfowCtx(ctx context.Context, msg string, kv ...interface{}) {
	GetLogger().Infow(msg, merge(ctx, kv)...)
}

// DebugwCtx is the debug-level variant of InfowCtx.
func DebugwCtx(ctx context.Context, msg string, kv ...interface{}) {
	GetLogger().Debugw(msg, merge(ctx, kv)...)
}

// WarnwCtx is the warn-level variant of InfowCtx.
func WarnwCtx(ctx context.Context, msg string, kv ...interface{}) {
	GetLogger().Warnw(msg, merge(ctx, kv)...)
}

// ErrorwCtx is the error-level variant of InfowCtx.
func ErrorwCtx(ctx context.Context, msg string, kv ...interface{}) {
	GetLogger().Errorw(msg, merge(ctx, kv)...)
}

// Canonical dot-separated field builders, so log queries stay uniform.

func ConnectionFields(connID, remote string) []interface{} {
	if remote == "" {
		return []interface{}{"conn.id", connID}
	}
	return []interface{}{"conn.id", connID, "conn.remote", remote}
}

func SessionFields(sessionID string) []interface{} {
	return []interface{}{"session.id", sessionID}
}

func GroupFields(group string) []interface{} {
	return []interface{}{"auth.group", group}
}

func OperationFields(kind, operation string) []interface{} {
	return []interface{}{"doc.kind", kind, "op.name", operation}
}
