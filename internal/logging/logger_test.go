package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"ctecache/internal/logging"
)

func TestLoggerWritesStructuredEntries(t *testing.T) {
	var buf bytes.Buffer
	l := logging.NewLogger(logging.Config{Level: logging.DEBUG, NodeID: "test-node"})
	l.AddWriter(&buf)

	l.Info(context.Background(), logging.ComponentMaterialize, logging.ActionPut, "handle admitted",
		map[string]interface{}{"fingerprint": "fp1"})

	l.Close()

	line := strings.TrimSpace(buf.String())
	if line == "" {
		t.Fatalf("logger wrote no output")
	}

	var entry logging.LogEntry
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log output is not valid JSON: %v (%q)", err, line)
	}
	if entry.Component != logging.ComponentMaterialize {
		t.Errorf("Component = %q, want %q", entry.Component, logging.ComponentMaterialize)
	}
	if entry.Action != logging.ActionPut {
		t.Errorf("Action = %q, want %q", entry.Action, logging.ActionPut)
	}
	if entry.Message != "handle admitted" {
		t.Errorf("Message = %q, want %q", entry.Message, "handle admitted")
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := logging.NewLogger(logging.Config{Level: logging.WARN, NodeID: "test-node"})
	l.AddWriter(&buf)

	l.Debug(context.Background(), logging.ComponentMaterialize, logging.ActionLookup, "should be filtered")
	l.Warn(context.Background(), logging.ComponentMaterialize, logging.ActionLookup, "should appear")
	l.Close()

	out := buf.String()
	if strings.Contains(out, "should be filtered") {
		t.Errorf("debug entry leaked through a WARN-level logger")
	}
	if !strings.Contains(out, "should appear") {
		t.Errorf("warn entry missing from output")
	}
}

func TestLogLevelFromString(t *testing.T) {
	cases := map[string]logging.LogLevel{
		"debug":   logging.DEBUG,
		"info":    logging.INFO,
		"WARN":    logging.WARN,
		"warning": logging.WARN,
		"error":   logging.ERROR,
		"fatal":   logging.FATAL,
		"bogus":   logging.INFO,
	}
	for in, want := range cases {
		if got := logging.LogLevelFromString(in); got != want {
			t.Errorf("LogLevelFromString(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestStartTimerRecordsDuration(t *testing.T) {
	var buf bytes.Buffer
	l := logging.NewLogger(logging.Config{Level: logging.DEBUG, NodeID: "test-node"})
	l.AddWriter(&buf)

	stop := l.StartTimer(context.Background(), logging.ComponentMaterialize, logging.ActionCommit, "commit")
	time.Sleep(time.Millisecond)
	stop()
	l.Close()

	var entry logging.LogEntry
	if err := json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry); err != nil {
		t.Fatalf("log output is not valid JSON: %v", err)
	}
	if entry.Duration == nil {
		t.Fatalf("expected a recorded duration")
	}
}
