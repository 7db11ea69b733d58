// SPDX-License-Identifier: Apache-2.0

// Package follower feeds execution streams from the durable execution store.
// It plays the transport and execution-status roles for executions whose
// producers write to Postgres instead of pushing over HTTP.
package follower

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/adiadia/execstream/internal/domain"
	"github.com/adiadia/execstream/internal/metrics"
	"github.com/adiadia/execstream/internal/stream"
	"github.com/google/uuid"
)

type LogSource interface {
	ListLogsAfter(ctx context.Context, executionID uuid.UUID, afterSeq int64) ([]domain.LogEvent, error)
}

type ExecutionSource interface {
	GetExecution(ctx context.Context, id uuid.UUID) (domain.ExecutionRecord, error)
}

// Sink is the subset of *stream.Store the follower drives.
type Sink interface {
	Open(id string, init stream.InitialState) bool
	Expected(id string) (int64, error)
	Ingest(id string, events []domain.LogEvent) error
	UpdateStatus(id string, status domain.ExecutionStatus) error
	SetConnection(id string, connected bool) error
	SetError(id string, message string) error
	Complete(id string, opts ...stream.CompleteOption) error
}

type Deps struct {
	Logs         LogSource
	Executions   ExecutionSource
	Sink         Sink
	Logger       *slog.Logger
	PollInterval time.Duration
}

type follow struct {
	cancel context.CancelFunc
	done   chan struct{}
}

type Follower struct {
	logs         LogSource
	executions   ExecutionSource
	sink         Sink
	logger       *slog.Logger
	pollInterval time.Duration

	mu      sync.Mutex
	running map[uuid.UUID]*follow
}

func New(deps Deps) *Follower {
	l := deps.Logger
	if l == nil {
		l = slog.Default()
	}

	interval := deps.PollInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}

	return &Follower{
		logs:         deps.Logs,
		executions:   deps.Executions,
		sink:         deps.Sink,
		logger:       l,
		pollInterval: interval,
		running:      make(map[uuid.UUID]*follow, 8),
	}
}

// PollOnce reads the execution record, then every stored log past the
// stream's contiguous prefix, and pushes both into the sink. It reports
// whether the stream was completed.
//
// The record is read first: when it is terminal, all of its logs are already
// stored, so the logs read afterwards are the final ones. Logs still held in
// the pending buffer are read again on the next poll; the store drops the
// repeats, and a lower sequence committed late is still picked up.
func (f *Follower) PollOnce(ctx context.Context, executionID uuid.UUID) (bool, error) {
	id := executionID.String()

	expected, err := f.sink.Expected(id)
	if err != nil {
		return false, err
	}

	rec, err := f.executions.GetExecution(ctx, executionID)
	if err != nil {
		return false, err
	}

	events, err := f.logs.ListLogsAfter(ctx, executionID, expected-1)
	if err != nil {
		return false, err
	}

	if len(events) > 0 {
		if err := f.sink.Ingest(id, events); err != nil {
			return false, err
		}
	}

	if err := f.sink.UpdateStatus(id, rec.Status); err != nil {
		return false, err
	}

	if !rec.Status.IsTerminal() {
		return false, nil
	}

	if rec.Error != "" {
		if err := f.sink.SetError(id, rec.Error); err != nil {
			return false, err
		}
	}

	opts := []stream.CompleteOption{stream.WithFinalStatus(rec.Status)}
	if len(rec.Result) > 0 {
		opts = append(opts, stream.WithResult(rec.Result))
	}
	if err := f.sink.Complete(id, opts...); err != nil {
		return false, err
	}

	return true, nil
}

// Follow opens the stream for executionID and polls until the execution is
// terminal, the stream is cleared, or ctx is done.
func (f *Follower) Follow(ctx context.Context, executionID uuid.UUID) error {
	id := executionID.String()
	f.sink.Open(id, stream.InitialState{})
	_ = f.sink.SetConnection(id, true)

	f.logger.Info("follow started", "execution_id", id, "interval", f.pollInterval)

	ticker := time.NewTicker(f.pollInterval)
	defer ticker.Stop()

	for {
		done, err := f.PollOnce(ctx, executionID)

		switch {
		case err == nil && done:
			metrics.IncFollowerPoll("complete")
			_ = f.sink.SetConnection(id, false)
			f.logger.Info("follow completed", "execution_id", id)
			return nil
		case errors.Is(err, domain.ErrUnknownExecution):
			f.logger.Info("follow stopped: stream cleared", "execution_id", id)
			return nil
		case errors.Is(err, domain.ErrExecutionNotFound):
			metrics.IncFollowerPoll("not_found")
			f.abandon(id)
			f.logger.Warn("follow stopped: execution not found", "execution_id", id)
			return err
		case err != nil && ctx.Err() != nil:
			// Fall through to the ctx check below.
		case err != nil:
			metrics.IncFollowerPoll("error")
			f.logger.Error("follow poll failed", "execution_id", id, "error", err)
		default:
			metrics.IncFollowerPoll("ok")
		}

		select {
		case <-ctx.Done():
			_ = f.sink.SetConnection(id, false)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// abandon ends the stream of an execution the store does not know, so
// consumers tailing it stop waiting.
func (f *Follower) abandon(id string) {
	_ = f.sink.SetError(id, domain.ErrExecutionNotFound.Error())
	_ = f.sink.SetConnection(id, false)
	_ = f.sink.Complete(id)
}

// Start runs Follow in the background. It reports false if executionID is
// already being followed.
func (f *Follower) Start(ctx context.Context, executionID uuid.UUID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.running[executionID]; ok {
		return false
	}

	ctx, cancel := context.WithCancel(ctx)
	fl := &follow{cancel: cancel, done: make(chan struct{})}
	f.running[executionID] = fl

	go func() {
		defer close(fl.done)
		defer f.forget(executionID, fl)

		if err := f.Follow(ctx, executionID); err != nil && !errors.Is(err, context.Canceled) {
			f.logger.Warn("follow ended", "execution_id", executionID, "error", err)
		}
	}()

	return true
}

// Stop cancels the follow for executionID and waits for it to exit.
func (f *Follower) Stop(executionID uuid.UUID) bool {
	f.mu.Lock()
	fl, ok := f.running[executionID]
	f.mu.Unlock()

	if !ok {
		return false
	}

	fl.cancel()
	<-fl.done
	return true
}

func (f *Follower) Running(executionID uuid.UUID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, ok := f.running[executionID]
	return ok
}

// Shutdown stops every running follow.
func (f *Follower) Shutdown() {
	f.mu.Lock()
	all := make([]*follow, 0, len(f.running))
	for _, fl := range f.running {
		all = append(all, fl)
	}
	f.mu.Unlock()

	for _, fl := range all {
		fl.cancel()
		<-fl.done
	}
}

func (f *Follower) forget(executionID uuid.UUID, fl *follow) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.running[executionID] == fl {
		delete(f.running, executionID)
	}
	fl.cancel()
}
