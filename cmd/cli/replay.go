// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/adiadia/execstream/internal/domain"
	"github.com/adiadia/execstream/internal/stream"
	"gopkg.in/yaml.v3"
)

// replayFile describes a captured delivery of log batches. JSON files parse
// as YAML too.
type replayFile struct {
	ExecutionID      string        `yaml:"execution_id"`
	ExpectedSequence int64         `yaml:"expected_sequence"`
	Batches          []replayBatch `yaml:"batches"`
	Complete         *replayFinal  `yaml:"complete"`
	Expect           *replayExpect `yaml:"expect"`
}

type replayBatch struct {
	Events []domain.LogEvent `yaml:"events"`
}

type replayFinal struct {
	Status string `yaml:"status"`
	Error  string `yaml:"error"`
}

// replayExpect is the transcript a fixture must produce. Unset fields are
// not checked.
type replayExpect struct {
	Sequences []int64  `yaml:"sequences"`
	Messages  []string `yaml:"messages"`
	Pending   *int     `yaml:"pending"`
	Expected  *int64   `yaml:"expected_sequence"`
	Completed *bool    `yaml:"completed"`
}

func (e *replayExpect) check(st stream.State) error {
	if e == nil {
		return nil
	}

	if e.Sequences != nil {
		var got []int64
		for _, ev := range st.Log {
			if n, ok := ev.Sequence.Value(); ok {
				got = append(got, n)
			}
		}
		if !slices.Equal(got, e.Sequences) {
			return fmt.Errorf("sequences: want %v, got %v", e.Sequences, got)
		}
	}
	if e.Messages != nil {
		got := make([]string, 0, len(st.Log))
		for _, ev := range st.Log {
			got = append(got, ev.Message)
		}
		if !slices.Equal(got, e.Messages) {
			return fmt.Errorf("messages: want %q, got %q", e.Messages, got)
		}
	}
	if e.Pending != nil && *e.Pending != len(st.Pending) {
		return fmt.Errorf("pending: want %d, got %d", *e.Pending, len(st.Pending))
	}
	if e.Expected != nil && *e.Expected != st.Expected {
		return fmt.Errorf("expected_sequence: want %d, got %d", *e.Expected, st.Expected)
	}
	if e.Completed != nil && *e.Completed != st.Completed {
		return fmt.Errorf("completed: want %v, got %v", *e.Completed, st.Completed)
	}
	return nil
}

func loadReplay(path string) (replayFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return replayFile{}, fmt.Errorf("read replay file: %w", err)
	}

	var rf replayFile
	if err := yaml.Unmarshal(raw, &rf); err != nil {
		return replayFile{}, fmt.Errorf("parse replay file %s: %w", path, err)
	}
	if strings.TrimSpace(rf.ExecutionID) == "" {
		rf.ExecutionID = "replay"
	}
	return rf, nil
}

// runReplay feeds every batch of the file through a fresh store and prints
// the resulting transcript.
func runReplay(path string, out io.Writer, logger *slog.Logger) error {
	rf, err := loadReplay(path)
	if err != nil {
		return err
	}

	st, err := replay(rf, logger)
	if err != nil {
		return err
	}

	return printTranscript(out, st)
}

func replay(rf replayFile, logger *slog.Logger) (stream.State, error) {
	store := stream.NewStore(logger)
	id := rf.ExecutionID
	store.Open(id, stream.InitialState{Expected: rf.ExpectedSequence})

	for i, batch := range rf.Batches {
		if err := store.Ingest(id, batch.Events); err != nil {
			return stream.State{}, fmt.Errorf("batch %d: %w", i, err)
		}
	}

	if rf.Complete != nil {
		var opts []stream.CompleteOption
		if s := strings.ToUpper(strings.TrimSpace(rf.Complete.Status)); s != "" {
			status := domain.ExecutionStatus(s)
			if !status.Valid() {
				return stream.State{}, fmt.Errorf("complete: %w: %s", domain.ErrInvalidExecutionStatus, s)
			}
			opts = append(opts, stream.WithFinalStatus(status))
		}
		if rf.Complete.Error != "" {
			if err := store.SetError(id, rf.Complete.Error); err != nil {
				return stream.State{}, err
			}
		}
		if err := store.Complete(id, opts...); err != nil {
			return stream.State{}, err
		}
	}

	st, _ := store.Snapshot(id)
	return st, nil
}

func printTranscript(out io.Writer, st stream.State) error {
	for _, ev := range st.Log {
		if _, err := fmt.Fprintf(out, "%6s %-7s %s %s\n",
			ev.Sequence, ev.Level, ev.Timestamp, ev.Message); err != nil {
			return err
		}
	}

	summary := map[string]any{
		"execution_id":      st.ExecutionID,
		"emitted":           len(st.Log),
		"pending":           len(st.Pending),
		"expected_sequence": st.Expected,
		"completed":         st.Completed,
	}
	if st.Status != "" {
		summary["status"] = st.Status
	}
	if st.LastError != "" {
		summary["last_error"] = st.LastError
	}

	enc := json.NewEncoder(out)
	return enc.Encode(summary)
}
