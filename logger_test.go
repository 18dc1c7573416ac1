package kueri

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLoggerForwardsLevels(t *testing.T) {
	core, observed := observer.New(zapcore.DebugLevel)
	logger := NewZapLogger(zap.New(core))

	logger.Debug("d", "k", "v")
	logger.Info("i")
	logger.Warn("w")
	logger.Error("e")

	entries := observed.All()
	if len(entries) != 4 {
		t.Fatalf("entries = %d, want 4", len(entries))
	}

	wantLevels := []zapcore.Level{
		zapcore.DebugLevel,
		zapcore.InfoLevel,
		zapcore.WarnLevel,
		zapcore.ErrorLevel,
	}
	for i, want := range wantLevels {
		if entries[i].Level != want {
			t.Errorf("entry %d level = %v, want %v", i, entries[i].Level, want)
		}
	}

	if entries[0].Message != "d" {
		t.Errorf("message = %q", entries[0].Message)
	}
	fields := entries[0].ContextMap()
	if fields["k"] != "v" {
		t.Errorf("context = %v", fields)
	}
}

func TestSimpleLoggerHandlesOddPairs(t *testing.T) {
	l := NewSimpleLogger()

	// Must not panic on a dangling key.
	l.Debug("message", "key")
	l.Info("message", "key", "value", "dangling")
}
