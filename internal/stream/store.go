// SPDX-License-Identifier: Apache-2.0

// Package stream reassembles out-of-order, possibly duplicated execution log
// events into gap-free ordered transcripts, one per execution id.
package stream

import (
	"encoding/json"
	"log/slog"
	"slices"
	"sync"

	"github.com/adiadia/execstream/internal/domain"
	"github.com/adiadia/execstream/internal/metrics"
)

// FirstSequence is the sequence number a new stream expects first.
const FirstSequence int64 = 1

// InitialState seeds a stream on Open. Zero values mean defaults.
type InitialState struct {
	Expected  int64
	Status    domain.ExecutionStatus
	Connected bool
}

// State is a point-in-time copy of one execution stream.
type State struct {
	ExecutionID string                 `json:"execution_id"`
	Log         []domain.LogEvent      `json:"log"`
	Pending     []domain.LogEvent      `json:"pending"`
	Expected    int64                  `json:"expected_sequence"`
	Connected   bool                   `json:"connected"`
	Completed   bool                   `json:"completed"`
	Status      domain.ExecutionStatus `json:"status,omitempty"`
	Result      json.RawMessage        `json:"result,omitempty"`
	LastError   string                 `json:"last_error,omitempty"`
}

type streamState struct {
	log       []domain.LogEvent
	pending   []domain.LogEvent
	expected  int64
	connected bool
	completed bool
	status    domain.ExecutionStatus
	result    json.RawMessage
	lastError string
}

// Store holds the stream registry. It is safe for concurrent use; every
// operation applies fully before the next one starts.
type Store struct {
	mu         sync.Mutex
	streams    map[string]*streamState
	logger     *slog.Logger
	onComplete func(State)
}

type StoreOption func(*Store)

// WithCompletionHook registers fn to run once per stream, after the call to
// Complete that first marks it terminal. fn runs outside the store lock.
func WithCompletionHook(fn func(State)) StoreOption {
	return func(s *Store) {
		s.onComplete = fn
	}
}

func NewStore(logger *slog.Logger, opts ...StoreOption) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	metrics.Init()

	s := &Store{
		streams: make(map[string]*streamState, 16),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open creates the stream for id unless it already exists. It reports
// whether a new stream was created; an existing stream is left untouched.
func (s *Store) Open(id string, init InitialState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.streams[id]; ok {
		s.logger.Debug("stream already open", "execution_id", id)
		return false
	}

	expected := init.Expected
	if expected <= 0 {
		expected = FirstSequence
	}

	s.streams[id] = &streamState{
		log:       make([]domain.LogEvent, 0, 32),
		expected:  expected,
		connected: init.Connected,
		status:    init.Status,
	}
	metrics.AddOpenStreams(1)

	s.logger.Info("stream opened", "execution_id", id, "expected_seq", expected)
	return true
}

// Ingest applies a batch of events to the stream for id.
//
// A batch in which no event carries a sequence is appended verbatim. Otherwise
// sequenced events are merged into the pending buffer and the contiguous run
// starting at the expected sequence is appended to the log. Sequences below
// the expected value are duplicates and are dropped.
func (s *Store) Ingest(id string, events []domain.LogEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.lookup(id, "ingest")
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	var sequenced, unsequenced []domain.LogEvent
	for _, ev := range events {
		if ev.Sequence.Present() {
			sequenced = append(sequenced, ev)
		} else {
			unsequenced = append(unsequenced, ev)
		}
	}

	if len(unsequenced) > 0 {
		st.log = append(st.log, unsequenced...)
		metrics.AddEventsIngested(metrics.PathLegacy, len(unsequenced))
		metrics.AddEventsEmitted(len(unsequenced))
	}
	if len(sequenced) == 0 {
		return nil
	}
	metrics.AddEventsIngested(metrics.PathSequenced, len(sequenced))

	pendingBefore := len(st.pending)
	merged := make([]domain.LogEvent, 0, len(st.pending)+len(sequenced))
	merged = append(merged, st.pending...)
	merged = append(merged, sequenced...)
	sortBySequence(merged)

	emitted := 0
	dropped := 0
	remaining := make([]domain.LogEvent, 0, len(merged))
	for _, ev := range merged {
		n, _ := ev.Sequence.Value()
		switch {
		case n == st.expected:
			st.log = append(st.log, ev)
			st.expected++
			emitted++
		case n < st.expected:
			dropped++
		default:
			// Equal sequences sort adjacently; keep only the first arrival.
			if last := len(remaining) - 1; last >= 0 {
				if prev, _ := remaining[last].Sequence.Value(); prev == n {
					dropped++
					continue
				}
			}
			remaining = append(remaining, ev)
		}
	}
	st.pending = remaining

	metrics.AddEventsEmitted(emitted)
	metrics.AddDuplicatesDropped(dropped)
	metrics.AddPendingEvents(len(remaining) - pendingBefore)

	if dropped > 0 {
		s.logger.Debug("duplicate log events dropped",
			"execution_id", id,
			"dropped", dropped,
			"expected_seq", st.expected,
		)
	}

	return nil
}

// UpdateStatus overwrites the execution status tag.
func (s *Store) UpdateStatus(id string, status domain.ExecutionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.lookup(id, "update_status")
	if err != nil {
		return err
	}

	st.status = status
	return nil
}

// SetConnection overwrites the connectivity flag. Buffering is unaffected.
func (s *Store) SetConnection(id string, connected bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.lookup(id, "set_connection")
	if err != nil {
		return err
	}

	st.connected = connected
	return nil
}

type completeOptions struct {
	result json.RawMessage
	status domain.ExecutionStatus
}

type CompleteOption func(*completeOptions)

// WithResult attaches the final execution payload.
func WithResult(payload json.RawMessage) CompleteOption {
	return func(o *completeOptions) {
		o.result = payload
	}
}

// WithFinalStatus sets the status tag as part of completion.
func WithFinalStatus(status domain.ExecutionStatus) CompleteOption {
	return func(o *completeOptions) {
		o.status = status
	}
}

// Complete marks the stream terminal and flushes the pending buffer to the
// log in sequence order, gaps included.
func (s *Store) Complete(id string, opts ...CompleteOption) error {
	final, first, err := s.complete(id, opts)
	if err != nil {
		return err
	}
	if first && s.onComplete != nil {
		s.onComplete(final)
	}
	return nil
}

func (s *Store) complete(id string, opts []CompleteOption) (State, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.lookup(id, "complete")
	if err != nil {
		return State{}, false, err
	}

	var o completeOptions
	for _, opt := range opts {
		opt(&o)
	}

	flushed := len(st.pending)
	if flushed > 0 {
		sortBySequence(st.pending)
		st.log = append(st.log, st.pending...)

		last, _ := st.pending[flushed-1].Sequence.Value()
		if last >= st.expected {
			st.expected = last + 1
		}
		st.pending = nil

		metrics.AddForcedFlush(flushed)
		metrics.AddEventsEmitted(flushed)
		metrics.AddPendingEvents(-flushed)
	}

	first := !st.completed
	st.completed = true
	if o.result != nil {
		st.result = slices.Clone(o.result)
	}
	if o.status != "" {
		st.status = o.status
	}

	s.logger.Info("stream completed",
		"execution_id", id,
		"status", st.status,
		"log_len", len(st.log),
		"forced_flush", flushed,
	)
	return snapshotOf(id, st), first, nil
}

// Clear removes the stream entirely.
func (s *Store) Clear(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.lookup(id, "clear")
	if err != nil {
		return err
	}

	metrics.AddPendingEvents(-len(st.pending))
	delete(s.streams, id)
	metrics.AddOpenStreams(-1)

	s.logger.Info("stream cleared", "execution_id", id)
	return nil
}

// SetError records a terminal error description. The log is not touched.
func (s *Store) SetError(id string, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.lookup(id, "set_error")
	if err != nil {
		return err
	}

	st.lastError = message
	s.logger.Warn("stream error recorded", "execution_id", id, "error", message)
	return nil
}

// Snapshot returns a deep copy of the stream for id.
func (s *Store) Snapshot(id string) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.streams[id]
	if !ok {
		return State{}, false
	}
	return snapshotOf(id, st), true
}

func snapshotOf(id string, st *streamState) State {
	return State{
		ExecutionID: id,
		Log:         cloneEvents(st.log),
		Pending:     cloneEvents(st.pending),
		Expected:    st.expected,
		Connected:   st.connected,
		Completed:   st.completed,
		Status:      st.status,
		Result:      slices.Clone(st.result),
		LastError:   st.lastError,
	}
}

// LogSince returns the transcript entries at index offset and later, and
// whether the stream has completed.
func (s *Store) LogSince(id string, offset int) ([]domain.LogEvent, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.lookup(id, "log_since")
	if err != nil {
		return nil, false, err
	}

	if offset < 0 {
		offset = 0
	}
	if offset >= len(st.log) {
		return nil, st.completed, nil
	}

	return cloneEvents(st.log[offset:]), st.completed, nil
}

// Exists reports whether a stream is open for id.
func (s *Store) Exists(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.streams[id]
	return ok
}

// Expected returns the next sequence number the stream for id will emit.
func (s *Store) Expected(id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.lookup(id, "expected")
	if err != nil {
		return 0, err
	}
	return st.expected, nil
}

// IDs lists the execution ids of all open streams.
func (s *Store) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.streams))
	for id := range s.streams {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (s *Store) lookup(id string, op string) (*streamState, error) {
	st, ok := s.streams[id]
	if !ok {
		metrics.IncUnknownStream(op)
		s.logger.Warn("operation on unknown execution stream", "execution_id", id, "op", op)
		return nil, domain.ErrUnknownExecution
	}
	return st, nil
}

func sortBySequence(events []domain.LogEvent) {
	slices.SortStableFunc(events, func(a, b domain.LogEvent) int {
		x, _ := a.Sequence.Value()
		y, _ := b.Sequence.Value()
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		default:
			return 0
		}
	})
}

func cloneEvents(events []domain.LogEvent) []domain.LogEvent {
	if events == nil {
		return []domain.LogEvent{}
	}
	return slices.Clone(events)
}
