// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package queue implements the durable per-session work queue and the
// single-consumer loop that drains it.
//
// Events are claimed with claim-and-delete semantics: a claimed event no
// longer exists in storage. A crash between claim and persistence of the
// result loses that event, but an event can never be processed twice.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// EventType distinguishes observation work from summary requests.
type EventType string

const (
	TypeObservation EventType = "observation"
	TypeSummarize   EventType = "summarize"
)

// Well-known event kinds. Tool events use the tool name as kind.
const (
	KindPrompt    = "prompt"
	KindSummarize = "summarize"
)

// ErrUnknownSession is returned when an event references a session that has
// no durable record.
var ErrUnknownSession = errors.New("unknown session")

// PendingEvent is one unit of queued work.
type PendingEvent struct {
	ID                   int64     `json:"id"`
	SessionID            string    `json:"sessionId"`
	Type                 EventType `json:"type"`
	Kind                 string    `json:"kind"`
	Payload              string    `json:"payload,omitempty"`
	Cwd                  string    `json:"cwd,omitempty"`
	PromptNumber         int       `json:"promptNumber,omitempty"`
	LastAssistantMessage string    `json:"lastAssistantMessage,omitempty"`
	EnqueuedAtEpoch      int64     `json:"enqueuedAtEpoch"` // milliseconds
}

// EnqueuedAt returns the enqueue time.
func (e *PendingEvent) EnqueuedAt() time.Time {
	return time.UnixMilli(e.EnqueuedAtEpoch)
}

// ToolPayload is the Payload of a tool event. Input and Output hold the raw
// JSON the assistant's tool produced.
type ToolPayload struct {
	Input  json.RawMessage `json:"input,omitempty"`
	Output json.RawMessage `json:"output,omitempty"`
}

// EncodeToolPayload marshals a tool payload for storage.
func EncodeToolPayload(input, output json.RawMessage) (string, error) {
	b, err := json.Marshal(ToolPayload{Input: input, Output: output})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ToolPayload decodes the event's payload. A payload that is not a tool
// envelope is returned whole as a JSON string input.
func (e *PendingEvent) ToolPayload() ToolPayload {
	var p ToolPayload
	if err := json.Unmarshal([]byte(e.Payload), &p); err == nil && (p.Input != nil || p.Output != nil) {
		return p
	}
	raw, _ := json.Marshal(e.Payload)
	return ToolPayload{Input: raw}
}

// Store is the durable per-session FIFO.
type Store interface {
	// Enqueue persists ev, filling in ID and a zero EnqueuedAtEpoch.
	Enqueue(ctx context.Context, ev *PendingEvent) (int64, error)

	// ClaimOldest atomically selects and deletes the session's oldest event
	// (by enqueue time, then id). Returns nil, nil when the queue is empty.
	ClaimOldest(ctx context.Context, sessionID string) (*PendingEvent, error)

	// Count returns the number of queued events for a session.
	Count(ctx context.Context, sessionID string) (int, error)

	// CountAll returns the number of queued events across all sessions.
	CountAll(ctx context.Context) (int, error)

	// SessionsWithPending lists sessions with queued events, oldest work first.
	SessionsWithPending(ctx context.Context, limit int) ([]string, error)

	// Pending lists a session's queued events in claim order without claiming.
	Pending(ctx context.Context, sessionID string) ([]*PendingEvent, error)
}

// Signal is a coalescing wake-up channel. Any number of Notify calls made
// while the consumer is busy collapse into one pending wake.
type Signal chan struct{}

// NewSignal creates a signal with room for one pending wake.
func NewSignal() Signal {
	return make(Signal, 1)
}

// Notify wakes the consumer without blocking. It reports whether a new wake
// was queued (false when one was already pending).
func (s Signal) Notify() bool {
	select {
	case s <- struct{}{}:
		return true
	default:
		return false
	}
}

// Batch is the set of events drained in one pass before the backend is invoked.
type Batch struct {
	SessionID string
	Events    []*PendingEvent

	// EarliestEnqueuedAt is the enqueue epoch (ms) of the oldest member, 0 when empty.
	EarliestEnqueuedAt int64
}

// NewBatch creates an empty batch for a session.
func NewBatch(sessionID string) *Batch {
	return &Batch{SessionID: sessionID}
}

// Add appends ev and tracks the earliest enqueue time.
func (b *Batch) Add(ev *PendingEvent) {
	b.Events = append(b.Events, ev)
	if b.EarliestEnqueuedAt == 0 || ev.EnqueuedAtEpoch < b.EarliestEnqueuedAt {
		b.EarliestEnqueuedAt = ev.EnqueuedAtEpoch
	}
}

// Len returns the number of events in the batch.
func (b *Batch) Len() int {
	return len(b.Events)
}

// Summarize returns the summarize request in the batch, if any.
func (b *Batch) Summarize() *PendingEvent {
	for _, ev := range b.Events {
		if ev.Type == TypeSummarize {
			return ev
		}
	}
	return nil
}

// Observations returns the non-summarize events.
func (b *Batch) Observations() []*PendingEvent {
	out := make([]*PendingEvent, 0, len(b.Events))
	for _, ev := range b.Events {
		if ev.Type != TypeSummarize {
			out = append(out, ev)
		}
	}
	return out
}
