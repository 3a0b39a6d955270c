package telemetry_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/jensholdgaard/auctionsync/internal/config"
	"github.com/jensholdgaard/auctionsync/internal/telemetry"
)

func TestNewNopProvider(t *testing.T) {
	p := telemetry.NewNopProvider()

	if p.TracerProvider == nil || p.MeterProvider == nil || p.LoggerProvider == nil || p.Logger == nil {
		t.Fatalf("incomplete provider: %+v", p)
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
}

func TestSetup_WithoutEndpoint(t *testing.T) {
	cfg := config.Default().Telemetry
	cfg.OTLPEndpoint = ""

	p, err := telemetry.Setup(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	defer p.Shutdown(context.Background())

	_, span := p.TracerProvider.Tracer("test").Start(context.Background(), "op")
	if !span.SpanContext().IsValid() {
		t.Error("expected a recording tracer without an exporter")
	}
	span.End()
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{" warn ", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := telemetry.ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestNewJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := telemetry.NewJSONLogger(&buf, "warn")

	logger.Info("hidden")
	logger.Warn("shown", slog.String("auction_id", "a1"))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected exactly one JSON line, got %q: %v", buf.String(), err)
	}
	if line["msg"] != "shown" || line["auction_id"] != "a1" {
		t.Errorf("logged %v", line)
	}
}

func TestLogWithTrace(t *testing.T) {
	logger := slog.Default()
	if got := telemetry.LogWithTrace(context.Background(), logger); got != logger {
		t.Error("expected the same logger without a span")
	}

	p := telemetry.NewNopProvider()
	ctx, span := p.TracerProvider.Tracer("test").Start(context.Background(), "test-span")
	defer span.End()

	var buf bytes.Buffer
	enriched := telemetry.LogWithTrace(ctx, telemetry.NewJSONLogger(&buf, "info"))
	enriched.Info("traced")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatal(err)
	}
	if line["trace_id"] != span.SpanContext().TraceID().String() {
		t.Errorf("trace_id = %v", line["trace_id"])
	}
}
