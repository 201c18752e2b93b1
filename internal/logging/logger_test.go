package logging

import (
	"errors"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLoggerDefaultsToDebug(t *testing.T) {
	logger, err := NewLogger("", "")
	if err != nil {
		t.Fatalf("expected logger, got error: %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("expected debug level to be enabled by default")
	}
}

func TestNewLoggerRejectsUnknownSettings(t *testing.T) {
	if _, err := NewLogger("loud", "console"); err == nil {
		t.Fatal("expected error for unknown level")
	}
	if _, err := NewLogger("info", "xml"); err == nil {
		t.Fatal("expected error for unknown format")
	}
}

func TestWithOperationAddsFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	WithOperation(zap.New(core), "bridge.call", "req-1").Info("hello")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["operation"] != "bridge.call" || fields["request_id"] != "req-1" {
		t.Fatalf("unexpected fields: %v", fields)
	}
}

func TestOperationErrorUnwraps(t *testing.T) {
	base := errors.New("boom")
	err := NewOperationError("staging.write", "req-9", base)
	if !errors.Is(err, base) {
		t.Fatal("expected wrapped error to match base")
	}
	if got := err.Error(); got != "staging.write (request_id=req-9): boom" {
		t.Fatalf("unexpected message: %s", got)
	}
	if NewOperationError("noop", "", nil) != nil {
		t.Fatal("expected nil for nil error")
	}
}

func TestOperationOfReturnsInnermost(t *testing.T) {
	inner := NewOperationError("gradio.upload", "", errors.New("reset"))
	outer := NewOperationError("usecase.call_remote", "req-1", inner)
	if got := OperationOf(outer); got != "gradio.upload" {
		t.Fatalf("expected gradio.upload, got %s", got)
	}
	if got := OperationOf(errors.New("plain")); got != "unknown" {
		t.Fatalf("expected unknown, got %s", got)
	}
}
