package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

// FixedFormatWriter rewrites zerolog JSON lines into fixed columns:
//
//	2026-10-17 09:12:00.120 [INF] [broker    ] [monitor   ] Service started connections=0
//	2026-10-17 09:12:03.004 [WRN] [broker    ] [monitor   ] Service has outstanding connections connections=2
//
// Lines that are not JSON objects pass through untouched.
type FixedFormatWriter struct {
	w io.Writer
}

// NewFixedFormatWriter wraps w.
func NewFixedFormatWriter(w io.Writer) *FixedFormatWriter {
	return &FixedFormatWriter{w: w}
}

var levelAbbrev = map[string]string{
	"trace": "TRC",
	"debug": "DBG",
	"info":  "INF",
	"warn":  "WRN",
	"error": "ERR",
	"fatal": "FTL",
	"panic": "PNC",
}

const (
	columnWidth     = 10
	timestampLayout = "2006-01-02 15:04:05.000"
)

func (f *FixedFormatWriter) Write(p []byte) (int, error) {
	var fields map[string]interface{}
	if err := json.Unmarshal(p, &fields); err != nil {
		return f.w.Write(p)
	}

	ts := formatTimestamp(popString(fields, "time"))
	lvl, ok := levelAbbrev[popString(fields, "level")]
	if !ok {
		lvl = "???"
	}
	component := fitColumn(popString(fields, "component"))
	service := fitColumn(popString(fields, "service"))
	message := popString(fields, "message")
	delete(fields, "caller")

	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] [%s] [%s] %s", ts, lvl, component, service, message)
	if extra := formatExtra(fields); extra != "" {
		b.WriteByte(' ')
		b.WriteString(extra)
	}
	b.WriteByte('\n')

	_, err := io.WriteString(f.w, b.String())
	// zerolog checks n against len(p)
	return len(p), err
}

func popString(fields map[string]interface{}, key string) string {
	v, ok := fields[key]
	if !ok {
		return ""
	}
	delete(fields, key)
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func fitColumn(s string) string {
	if len(s) > columnWidth {
		s = s[:columnWidth]
	}
	return fmt.Sprintf("%-*s", columnWidth, s)
}

// formatTimestamp renders an RFC3339 timestamp in its own zone with millisecond precision.
// Unparseable input is padded or cut to the column width.
func formatTimestamp(ts string) string {
	if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
		return t.Format(timestampLayout)
	}
	if len(ts) >= len(timestampLayout) {
		return ts[:len(timestampLayout)]
	}
	return ts + strings.Repeat(" ", len(timestampLayout)-len(ts))
}

func formatExtra(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		s := fmt.Sprintf("%v", fields[k])
		if strings.ContainsAny(s, " \t\n\"") {
			parts = append(parts, fmt.Sprintf("%s=%q", k, s))
		} else {
			parts = append(parts, k+"="+s)
		}
	}
	return strings.Join(parts, " ")
}
