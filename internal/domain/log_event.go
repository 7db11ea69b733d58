// SPDX-License-Identifier: Apache-2.0

package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
)

// Sequence is an optional producer-assigned sequence number.
// The zero value is absent.
type Sequence struct {
	n   int64
	set bool
}

// Seq returns a present sequence number.
func Seq(n int64) Sequence {
	return Sequence{n: n, set: true}
}

// NoSeq returns an absent sequence number.
func NoSeq() Sequence {
	return Sequence{}
}

// Value returns the sequence number and whether it is present.
func (s Sequence) Value() (int64, bool) {
	return s.n, s.set
}

func (s Sequence) Present() bool {
	return s.set
}

// IsZero lets `omitzero` drop absent sequences on encode.
func (s Sequence) IsZero() bool {
	return !s.set
}

func (s Sequence) String() string {
	if !s.set {
		return "none"
	}
	return strconv.FormatInt(s.n, 10)
}

func (s Sequence) MarshalJSON() ([]byte, error) {
	if !s.set {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatInt(s.n, 10)), nil
}

func (s *Sequence) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = Sequence{}
		return nil
	}

	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if n < 0 {
		return errors.New("sequence must be non-negative")
	}

	*s = Seq(n)
	return nil
}

// UnmarshalYAML accepts the same shapes as the JSON form for replay files.
func (s *Sequence) UnmarshalYAML(unmarshal func(any) error) error {
	var n *int64
	if err := unmarshal(&n); err != nil {
		return err
	}
	if n == nil {
		*s = Sequence{}
		return nil
	}
	if *n < 0 {
		return errors.New("sequence must be non-negative")
	}

	*s = Seq(*n)
	return nil
}

type LogEvent struct {
	Level     string   `json:"level" yaml:"level"`
	Message   string   `json:"message" yaml:"message"`
	Timestamp string   `json:"timestamp" yaml:"timestamp"`
	Sequence  Sequence `json:"sequence,omitzero" yaml:"sequence"`
}
