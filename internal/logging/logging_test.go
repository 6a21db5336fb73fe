package logging

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type recordingLogger struct {
	mu      sync.Mutex
	entries []entry
}

type entry struct {
	level string
	msg   string
	kv    []interface{}
}

func (r *recordingLogger) add(level, msg string, kv []interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry{level: level, msg: msg, kv: kv})
}

func (r *recordingLogger) Infow(msg string, kv ...interface{})  { r.add("info", msg, kv) }
func (r *recordingLogger) Debugw(msg string, kv ...interface{}) { r.add("debug", msg, kv) }
func (r *recordingLogger) Warnw(msg string, kv ...interface{})  { r.add("warn", msg, kv) }
func (r *recordingLogger) Errorw(msg string, kv ...interface{}) { r.add("error", msg, kv) }
func (r *recordingLogger) Sync() error                          { return nil }

func TestInfowCtxMergesContextFields(t *testing.T) {
	rec := &recordingLogger{}
	SetLogger(rec)
	t.Cleanup(func() { SetLogger(nil) })

	ctx := WithFields(context.Background(), ConnectionFields("c1", "")...)
	ctx = WithFields(ctx, "extra", 1)
	InfowCtx(ctx, "hello", "k", "v")

	if len(rec.entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(rec.entries))
	}
	got := rec.entries[0].kv
	want := []interface{}{"conn.id", "c1", "extra", 1, "k", "v"}
	if len(got) != len(want) {
		t.Fatalf("kv mismatch: want=%v got=%v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("kv[%d] mismatch: want=%v got=%v", i, want[i], got[i])
		}
	}
}

func TestSetLoggerNilFallsBackToNoop(t *testing.T) {
	SetLogger(nil)
	if sugar == nil {
		if _, ok := GetLogger().(noopLogger); !ok {
			t.Fatalf("expected noop logger before Init, got %T", GetLogger())
		}
	}
	// must not panic
	Warnw("nothing to see")
}

func TestLevelFromEnv(t *testing.T) {
	cases := map[string]string{
		"":        "info",
		"DEBUG":   "debug",
		"warning": "warn",
		"error":   "error",
		"bogus":   "info",
	}
	for in, want := range cases {
		if got := levelFromEnv(in).String(); got != want {
			t.Fatalf("levelFromEnv(%q): want=%s got=%s", in, want, got)
		}
	}
}

func TestHelpersReportCallerSite(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	SetLogger(zap.New(core, callerOptions...).Sugar())
	t.Cleanup(func() { SetLogger(nil) })

	ctx := WithFields(context.Background(), "k", "v")
	Infow("plain")
	InfowCtx(ctx, "info")
	DebugwCtx(ctx, "debug")
	WarnwCtx(ctx, "warn")
	ErrorwCtx(ctx, "error")

	entries := logs.All()
	if len(entries) != 5 {
		t.Fatalf("expected 5 entries, got %d", len(entries))
	}
	for _, e := range entries {
		if got := filepath.Base(e.Caller.File); got != "logging_test.go" {
			t.Fatalf("%s: caller reported as %s", e.Message, got)
		}
	}
}
