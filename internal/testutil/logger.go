package testutil

import (
	"fmt"
	"strings"
	"sync"
)

// RecordingLogger keeps every log line in memory as "LEVEL msg k=v ...".
type RecordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (r *RecordingLogger) Debug(msg string, fields ...interface{}) { r.add("DEBUG", msg, fields) }
func (r *RecordingLogger) Info(msg string, fields ...interface{})  { r.add("INFO", msg, fields) }
func (r *RecordingLogger) Warn(msg string, fields ...interface{})  { r.add("WARN", msg, fields) }

func (r *RecordingLogger) Error(msg string, err error, fields ...interface{}) {
	r.add("ERROR", msg, append([]interface{}{"error", err}, fields...))
}

func (r *RecordingLogger) add(level, msg string, fields []interface{}) {
	var b strings.Builder
	b.WriteString(level)
	b.WriteByte(' ')
	b.WriteString(msg)
	for i := 0; i+1 < len(fields); i += 2 {
		fmt.Fprintf(&b, " %v=%v", fields[i], fields[i+1])
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, b.String())
}

// Lines returns a copy of the recorded lines.
func (r *RecordingLogger) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

// Contains reports whether any recorded line contains substr.
func (r *RecordingLogger) Contains(substr string) bool {
	for _, l := range r.Lines() {
		if strings.Contains(l, substr) {
			return true
		}
	}
	return false
}
