// SPDX-License-Identifier: Apache-2.0

package domain

import "errors"

var ErrUnknownExecution = errors.New("unknown execution stream")
var ErrInvalidEventBatch = errors.New("invalid event batch")
var ErrInvalidExecutionStatus = errors.New("invalid execution status")
var ErrExecutionNotFound = errors.New("execution not found")
