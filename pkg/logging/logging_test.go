package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestJSONOutputCarriesComponent(t *testing.T) {
	var buf bytes.Buffer
	log := New("debug", true, &buf).WithComponent("dood-extractor").WithTarget("https://dood.so/d/x", "dood", 1)
	log.Debug("pattern miss")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v (%s)", err, buf.String())
	}
	if rec["component"] != "dood-extractor" {
		t.Errorf("component = %v", rec["component"])
	}
	if rec["hint"] != "dood" {
		t.Errorf("hint = %v", rec["hint"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := New("warn", false, &buf)
	log.Info("hidden")
	log.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestFromContext(t *testing.T) {
	log := Discard()
	ctx := log.WithContext(context.Background())
	if FromContext(ctx) != log {
		t.Error("expected the attached logger")
	}
	if FromContext(context.Background()) == nil {
		t.Error("expected a default logger")
	}
}
