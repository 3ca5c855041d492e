package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/vantagelink/rollout/internal/config"
	"github.com/vantagelink/rollout/model"
)

// captureLogger writes JSON entries into buf so tests can assert fields.
func captureLogger(buf *bytes.Buffer) *zap.Logger {
	enc := zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		LevelKey:    "level",
		MessageKey:  "msg",
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	})
	return zap.New(zapcore.NewCore(enc, zapcore.AddSync(buf), zapcore.DebugLevel))
}

func lastEntry(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("parse log entry: %v (raw: %s)", err, buf.String())
	}
	return entry
}

func TestNewLogger_LevelSelection(t *testing.T) {
	cases := []struct {
		configured  string
		debugOn     bool
		description string
	}{
		{"debug", true, "explicit debug"},
		{"info", false, "explicit info"},
		{"warn", false, "explicit warn"},
		{"bogus", false, "unparseable level falls back to info"},
	}
	for _, tc := range cases {
		t.Run(tc.configured, func(t *testing.T) {
			logger, err := NewLogger(config.ObservabilityConfig{LogLevel: tc.configured})
			if err != nil {
				t.Fatalf("NewLogger(%q): %v", tc.configured, err)
			}
			defer logger.Sync()

			if got := logger.Core().Enabled(zapcore.DebugLevel); got != tc.debugOn {
				t.Errorf("%s: debug enabled = %v, want %v", tc.description, got, tc.debugOn)
			}
		})
	}
}

func TestNewLogger_WarnLevelDisablesInfo(t *testing.T) {
	logger, err := NewLogger(config.ObservabilityConfig{LogLevel: "warn"})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	defer logger.Sync()

	if logger.Core().Enabled(zapcore.InfoLevel) {
		t.Error("info should be disabled at warn level")
	}
	if !logger.Core().Enabled(zapcore.WarnLevel) {
		t.Error("warn should be enabled at warn level")
	}
}

func TestLoggerContextRoundTrip(t *testing.T) {
	stored := zap.NewNop()
	ctx := WithLogger(context.Background(), stored)

	if got := LoggerFrom(ctx, nil); got != stored {
		t.Error("LoggerFrom should return the attached logger")
	}

	fallback := zap.NewNop()
	if got := LoggerFrom(context.Background(), fallback); got != fallback {
		t.Error("LoggerFrom should fall back when nothing is attached")
	}
}

func TestRequestLogger_CarriesIdentityFields(t *testing.T) {
	var buf bytes.Buffer
	logger := captureLogger(&buf)

	ctx := model.WithRequestContext(context.Background(), &model.RequestContext{
		SubjectID:     "user-42",
		CorrelationID: "corr-abc",
		TraceID:       "trace-xyz",
	})
	ctx = WithLogger(ctx, logger)

	RequestLogger(ctx, logger).Info("hello")

	entry := lastEntry(t, &buf)
	for key, want := range map[string]string{
		"subject_id":     "user-42",
		"correlation_id": "corr-abc",
		"trace_id":       "trace-xyz",
		"msg":            "hello",
	} {
		if entry[key] != want {
			t.Errorf("%s = %v, want %q", key, entry[key], want)
		}
	}
}

func TestRequestLogger_OmitsEmptyTraceID(t *testing.T) {
	var buf bytes.Buffer
	logger := captureLogger(&buf)

	ctx := model.WithRequestContext(context.Background(), &model.RequestContext{
		SubjectID:     "user-42",
		CorrelationID: "corr-abc",
	})

	RequestLogger(ctx, logger).Info("no trace")

	if _, ok := lastEntry(t, &buf)["trace_id"]; ok {
		t.Error("trace_id should be absent when the request carries no trace")
	}
}

func TestRequestLogger_WorksWithoutRequestContext(t *testing.T) {
	var buf bytes.Buffer
	logger := captureLogger(&buf)

	RequestLogger(context.Background(), logger).Info("bare")

	entry := lastEntry(t, &buf)
	if entry["msg"] != "bare" {
		t.Errorf("msg = %v, want bare", entry["msg"])
	}
	if _, ok := entry["subject_id"]; ok {
		t.Error("subject_id should be absent without a request context")
	}
}
