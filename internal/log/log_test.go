package log

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{" WARN ", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"", LevelInfo},
		{"verbose", LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestLevelFilteringAndFormat(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetLevel(LevelWarn)
	defer func() {
		SetLevel(LevelInfo)
	}()

	Info("hidden", "k", 1)
	Warn("shown", "day", "2026-10-19", "summary", "VL Info")
	Error("failed", errors.New("boom"), "leg", 2)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info line should be filtered at WARN level: %s", out)
	}
	if !strings.Contains(out, `[WARN] shown day=2026-10-19 summary="VL Info"`) {
		t.Errorf("unexpected warn line: %s", out)
	}
	if !strings.Contains(out, "[ERROR] failed err=boom leg=2") {
		t.Errorf("unexpected error line: %s", out)
	}
}
