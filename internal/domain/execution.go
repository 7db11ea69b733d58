// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type ExecutionStatus string

const (
	ExecutionPending  ExecutionStatus = "PENDING"
	ExecutionRunning  ExecutionStatus = "RUNNING"
	ExecutionWaiting  ExecutionStatus = "WAITING_APPROVAL"
	ExecutionSuccess  ExecutionStatus = "SUCCEEDED"
	ExecutionFailed   ExecutionStatus = "FAILED"
	ExecutionCanceled ExecutionStatus = "CANCELED"
)

// IsTerminal reports whether no further log events are expected for the status.
func (s ExecutionStatus) IsTerminal() bool {
	switch s {
	case ExecutionSuccess, ExecutionFailed, ExecutionCanceled:
		return true
	default:
		return false
	}
}

// Valid reports whether s is one of the known execution statuses.
func (s ExecutionStatus) Valid() bool {
	switch s {
	case ExecutionPending, ExecutionRunning, ExecutionWaiting,
		ExecutionSuccess, ExecutionFailed, ExecutionCanceled:
		return true
	default:
		return false
	}
}

// ExecutionRecord is the durable backend view of a workflow run.
type ExecutionRecord struct {
	ID        uuid.UUID       `json:"id"`
	Status    ExecutionStatus `json:"status"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}
