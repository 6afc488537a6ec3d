package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func TestFromContextAddsKnownKeys(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "debug", "json")
	t.Cleanup(func() { InitWithWriter(&bytes.Buffer{}, "info", "json") })

	ctx := WithContext(context.Background(), ProjectIDKey, "p-1")
	ctx = WithContext(ctx, StageKey, "retrieving")
	Error(ctx, "retrieval degraded", errors.New("milvus down"), "attempt", 2)

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v (%s)", err, buf.String())
	}
	if line["project_id"] != "p-1" {
		t.Fatalf("project_id: got %v", line["project_id"])
	}
	if line["stage"] != "retrieving" {
		t.Fatalf("stage: got %v", line["stage"])
	}
	if line["error"] != "milvus down" {
		t.Fatalf("error: got %v", line["error"])
	}
	if line["msg"] != "retrieval degraded" {
		t.Fatalf("msg: got %v", line["msg"])
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]string{
		"debug":   "DEBUG",
		"WARNING": "WARN",
		"error":   "ERROR",
		"":        "INFO",
		"bogus":   "INFO",
	}
	for in, want := range cases {
		if got := parseLevel(in).String(); got != want {
			t.Fatalf("parseLevel(%q): got %s, want %s", in, got, want)
		}
	}
}
