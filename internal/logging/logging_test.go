package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		" WARN ":  zapcore.WarnLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
		"":        zapcore.InfoLevel,
		"verbose": zapcore.InfoLevel,
	}
	for input, want := range cases {
		if got := parseLevel(input); got != want {
			t.Fatalf("parseLevel(%q) = %s, want %s", input, got, want)
		}
	}
}

func TestNewHonorsLevel(t *testing.T) {
	for _, env := range []string{"dev", "prod"} {
		l := New(Config{Env: env, Level: "warn", ServiceName: "fieldsync"})
		if l == nil {
			t.Fatalf("%s: expected logger", env)
		}
		if l.Core().Enabled(zapcore.InfoLevel) {
			t.Fatalf("%s: info should be disabled at warn level", env)
		}
		if !l.Core().Enabled(zapcore.WarnLevel) {
			t.Fatalf("%s: warn should be enabled", env)
		}
	}
}

func TestPrintfWritesComponentField(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	printer := Printf(zap.New(core), "engine")
	printer.Printf("queued %s as mutation %d", "POST /v1/orders", 3)

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Message != "queued POST /v1/orders as mutation 3" {
		t.Fatalf("unexpected message %q", entries[0].Message)
	}
	if got := entries[0].ContextMap()["component"]; got != "engine" {
		t.Fatalf("expected component=engine, got %v", got)
	}
}

func TestPrintfAcceptsNilLogger(t *testing.T) {
	Printf(nil, "").Printf("dropped %d", 1)
}

func TestPrinterSeparatesFailuresFromProgress(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	printer := Printf(zap.New(core), "engine")
	printer.Printf("sync drained %d queued mutations", 2)
	printer.Warnf("replay of mutation %d failed", 7)

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Level != zapcore.InfoLevel {
		t.Fatalf("expected progress at info, got %s", entries[0].Level)
	}
	if entries[1].Level != zapcore.WarnLevel || entries[1].Message != "replay of mutation 7 failed" {
		t.Fatalf("expected failure at warn, got %s %q", entries[1].Level, entries[1].Message)
	}
	if got := entries[1].ContextMap()["component"]; got != "engine" {
		t.Fatalf("expected component=engine, got %v", got)
	}
}
