package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestJSONLogger_WritesEntry(t *testing.T) {
	var buf bytes.Buffer
	l := NewJSONLogger(&buf, false)
	l.Info("stack up", map[string]any{"namespace": "app-x-1", "err": errors.New("boom")})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if entry["level"] != "info" {
		t.Errorf("level = %v, want info", entry["level"])
	}
	if entry["msg"] != "stack up" {
		t.Errorf("msg = %v, want %q", entry["msg"], "stack up")
	}
	if entry["namespace"] != "app-x-1" {
		t.Errorf("namespace = %v", entry["namespace"])
	}
	if entry["err"] != "boom" {
		t.Errorf("err = %v, want boom", entry["err"])
	}
}

func TestJSONLogger_DebugGatedOnVerbose(t *testing.T) {
	var buf bytes.Buffer
	NewJSONLogger(&buf, false).Debug("hidden", nil)
	if buf.Len() != 0 {
		t.Errorf("debug entry written with verbose=false: %q", buf.String())
	}

	NewJSONLogger(&buf, true).Debug("shown", nil)
	if !strings.Contains(buf.String(), "shown") {
		t.Errorf("debug entry missing with verbose=true: %q", buf.String())
	}
}

func TestTextLogger_SortedFields(t *testing.T) {
	var buf bytes.Buffer
	NewTextLogger(&buf, false).Warn("readiness", map[string]any{"b": 2, "a": 1})

	got := buf.String()
	want := "WARN  readiness a=1 b=2\n"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatal("OrNop(nil) returned nil")
	}
	l := NewTextLogger(&bytes.Buffer{}, false)
	if OrNop(l) != Logger(l) {
		t.Error("OrNop should return the given logger")
	}
}
