package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]LogLevel{
		"debug":   DEBUG,
		"INFO":    INFO,
		"warning": WARN,
		"Error":   ERROR,
		"none":    SILENT,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil {
			t.Fatalf("ParseLevel(%q) error: %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}

	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("ParseLevel(loud) expected error")
	}
}

func TestLoggerFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(WARN, &buf, false)

	l.Info("Upload", "hidden %d", 1)
	l.Warn("Upload", "shown %d", 2)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info message written at WARN level: %q", out)
	}
	if !strings.Contains(out, "[WARN] [Upload] shown 2") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestModuleLogger(t *testing.T) {
	var buf bytes.Buffer
	l := New(DEBUG, &buf, false)

	m := l.With("Pipeline").Sub("video")
	m.Debug("frame %d", 3)

	if !strings.Contains(buf.String(), "[DEBUG] [Pipeline/video] frame 3") {
		t.Fatalf("unexpected output: %q", buf.String())
	}
}

func TestSilentLevelWritesNothing(t *testing.T) {
	var buf bytes.Buffer
	l := New(SILENT, &buf, true)
	l.Error("X", "boom")
	if buf.Len() != 0 {
		t.Fatalf("silent logger wrote %q", buf.String())
	}
}
