// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"context"

	"github.com/adiadia/execstream/internal/domain"
	"github.com/adiadia/execstream/internal/stream"
	"github.com/google/uuid"
)

// StreamStore is the reassembler surface the transport exposes.
type StreamStore interface {
	Open(id string, init stream.InitialState) bool
	Ingest(id string, events []domain.LogEvent) error
	UpdateStatus(id string, status domain.ExecutionStatus) error
	SetConnection(id string, connected bool) error
	Complete(id string, opts ...stream.CompleteOption) error
	Clear(id string) error
	SetError(id string, message string) error
	Exists(id string) bool
	Snapshot(id string) (stream.State, bool)
	LogSince(id string, offset int) ([]domain.LogEvent, bool, error)
	Expected(id string) (int64, error)
	IDs() []string
}

type Follower interface {
	Start(ctx context.Context, executionID uuid.UUID) bool
	Stop(executionID uuid.UUID) bool
}

type HealthChecker interface {
	Check(ctx context.Context) error
}
