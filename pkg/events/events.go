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

// Package events broadcasts lifecycle and processing notifications to live
// observers over SSE and WebSocket.
package events

import (
	"time"
)

// Type names an event on the wire.
type Type string

const (
	TypeConnected         Type = "connected"
	TypeNewObservation    Type = "new_observation"
	TypeNewSummary        Type = "new_summary"
	TypeNewPrompt         Type = "new_prompt"
	TypeSessionStarted    Type = "session_started"
	TypeSessionCompleted  Type = "session_completed"
	TypeObservationQueued Type = "observation_queued"
	TypeProcessingStatus  Type = "processing_status"
)

// Event is one notification. Data is type specific and JSON encoded as-is.
type Event struct {
	Type      Type   `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Timestamp int64  `json:"timestamp"` // ms
	Data      any    `json:"data,omitempty"`
}

// New creates an event stamped with the current time.
func New(t Type, sessionID string, data any) Event {
	return Event{Type: t, SessionID: sessionID, Timestamp: time.Now().UnixMilli(), Data: data}
}

// ProcessingStatus is the aggregate work indicator.
type ProcessingStatus struct {
	IsProcessing   bool `json:"isProcessing"`
	QueueDepth     int  `json:"queueDepth"`
	ActiveSessions int  `json:"activeSessions"`
}

// StatusEvent wraps a status snapshot.
func StatusEvent(s ProcessingStatus) Event {
	return New(TypeProcessingStatus, "", s)
}

// Sink receives events. Publish must not block.
type Sink interface {
	Publish(Event)
}

// NopSink discards events.
type NopSink struct{}

func (NopSink) Publish(Event) {}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Publish(ev Event) { f(ev) }
