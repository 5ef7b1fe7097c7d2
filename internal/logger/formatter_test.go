package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func writeFixed(t *testing.T, fields map[string]interface{}) string {
	t.Helper()
	var buf bytes.Buffer
	w := NewFixedFormatWriter(&buf)
	data, _ := json.Marshal(fields)
	data = append(data, '\n')

	n, err := w.Write(data)
	if err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if n != len(data) {
		t.Errorf("Write returned %d, want %d", n, len(data))
	}
	return buf.String()
}

func TestFixedFormatWriter_ServiceLine(t *testing.T) {
	line := writeFixed(t, map[string]interface{}{
		"level":       "info",
		"time":        "2026-10-17T09:12:00.12+09:00",
		"component":   "broker",
		"service":     "monitor",
		"message":     "Service started",
		"connections": 0,
	})

	want := "2026-10-17 09:12:00.120 [INF] [broker    ] [monitor   ] Service started connections=0\n"
	if line != want {
		t.Errorf("got  %q\nwant %q", line, want)
	}
}

func TestFixedFormatWriter_NoServiceColumn(t *testing.T) {
	line := writeFixed(t, map[string]interface{}{
		"level":     "debug",
		"time":      "2026-10-17T09:12:00Z",
		"component": "main",
		"message":   "Loading configuration",
	})

	if !strings.Contains(line, "[DBG] [main      ] [          ] Loading configuration\n") {
		t.Errorf("unexpected line: %q", line)
	}
}

func TestFixedFormatWriter_DropsCallerAndQuotes(t *testing.T) {
	line := writeFixed(t, map[string]interface{}{
		"level":     "error",
		"time":      "2026-10-17T09:12:00Z",
		"component": "broker",
		"service":   "client",
		"message":   "Failed to close stream endpoints",
		"caller":    "broker/connection.go:88",
		"error":     "close |0: file already closed",
	})

	if strings.Contains(line, "caller=") {
		t.Errorf("caller should be dropped: %q", line)
	}
	if !strings.Contains(line, `error="close |0: file already closed"`) {
		t.Errorf("error field not quoted: %q", line)
	}
}

func TestFixedFormatWriter_TruncatesLongColumns(t *testing.T) {
	line := writeFixed(t, map[string]interface{}{
		"level":     "warn",
		"time":      "2026-10-17T09:12:00Z",
		"component": "logging-watcher",
		"service":   "a-very-long-service-name",
		"message":   "x",
	})

	if !strings.Contains(line, "[logging-wa] [a-very-lon]") {
		t.Errorf("columns not truncated: %q", line)
	}
}

func TestFixedFormatWriter_PassesThroughNonJSON(t *testing.T) {
	var buf bytes.Buffer
	w := NewFixedFormatWriter(&buf)

	input := []byte("plain text\n")
	if _, err := w.Write(input); err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if buf.String() != "plain text\n" {
		t.Errorf("non-JSON input altered: %q", buf.String())
	}
}

func TestFixedFormatWriter_UnknownLevel(t *testing.T) {
	line := writeFixed(t, map[string]interface{}{
		"time":    "2026-10-17T09:12:00Z",
		"message": "no level",
	})
	if !strings.Contains(line, "[???]") {
		t.Errorf("expected placeholder level: %q", line)
	}
}

func TestFormatTimestamp(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"offset", "2026-10-17T12:00:00+09:00", "2026-10-17 12:00:00.000"},
		{"utc", "2026-10-17T12:00:00Z", "2026-10-17 12:00:00.000"},
		{"nanos", "2026-10-17T12:00:00.123456789-05:00", "2026-10-17 12:00:00.123"},
		{"empty", "", "                       "},
		{"garbage", "yesterday", "yesterday              "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := formatTimestamp(tt.input)
			if got != tt.want {
				t.Errorf("formatTimestamp(%q) = %q, want %q", tt.input, got, tt.want)
			}
			if len(got) != len(timestampLayout) {
				t.Errorf("length = %d, want %d", len(got), len(timestampLayout))
			}
		})
	}
}

func TestFormatExtra_Sorted(t *testing.T) {
	got := formatExtra(map[string]interface{}{
		"views":   3,
		"attempt": "first",
		"id":      7,
	})
	if got != "attempt=first id=7 views=3" {
		t.Errorf("formatExtra not sorted: %q", got)
	}
}

func TestFormatExtra_Empty(t *testing.T) {
	if got := formatExtra(map[string]interface{}{}); got != "" {
		t.Errorf("empty fields should return empty string: %q", got)
	}
}
