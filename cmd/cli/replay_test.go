// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeReplay(t *testing.T, name, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write replay file: %v", err)
	}
	return path
}

func TestRunReplayYAML(t *testing.T) {
	path := writeReplay(t, "run.yaml", `
execution_id: exec-7
batches:
  - events:
      - {level: info, message: third, sequence: 3}
  - events:
      - {level: info, message: first, sequence: 1}
      - {level: info, message: first-dup, sequence: 1}
  - events:
      - {level: warning, message: fifth, sequence: 5}
complete:
  status: succeeded
`)

	var out bytes.Buffer
	if err := runReplay(path, &out, slog.New(slog.NewTextHandler(io.Discard, nil))); err != nil {
		t.Fatalf("replay: %v", err)
	}

	text := out.String()
	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 3 transcript lines and a summary, got %q", text)
	}
	for i, want := range []string{"first", "third", "fifth"} {
		if !strings.HasSuffix(lines[i], want) {
			t.Fatalf("line %d: expected %q in %q", i, want, lines[i])
		}
	}
	if !strings.Contains(lines[3], `"completed":true`) || !strings.Contains(lines[3], `"status":"SUCCEEDED"`) {
		t.Fatalf("unexpected summary %q", lines[3])
	}
}

func TestRunReplayJSONWithoutCompletion(t *testing.T) {
	path := writeReplay(t, "run.json", `{
  "batches": [
    {"events": [{"level": "info", "message": "b", "sequence": 2}]},
    {"events": [{"level": "info", "message": "legacy"}]}
  ]
}`)

	var out bytes.Buffer
	if err := runReplay(path, &out, slog.New(slog.NewTextHandler(io.Discard, nil))); err != nil {
		t.Fatalf("replay: %v", err)
	}

	text := out.String()
	if !strings.Contains(text, "legacy") || strings.Contains(text, " b\n") {
		t.Fatalf("expected only the legacy entry emitted, got %q", text)
	}
	if !strings.Contains(text, `"pending":1`) || !strings.Contains(text, `"execution_id":"replay"`) {
		t.Fatalf("unexpected summary in %q", text)
	}
}

func TestRunReplayRejectsBadStatus(t *testing.T) {
	path := writeReplay(t, "bad.yaml", "complete:\n  status: exploded\n")

	err := runReplay(path, io.Discard, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err == nil {
		t.Fatal("expected invalid status to fail")
	}
}

func TestRunReplayMissingFile(t *testing.T) {
	err := runReplay(filepath.Join(t.TempDir(), "nope.yaml"), io.Discard, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err == nil {
		t.Fatal("expected missing file to fail")
	}
}
