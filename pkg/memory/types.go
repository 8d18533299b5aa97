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

// Package memory persists the durable side of the observer: session rows,
// numbered user prompts, and the observation and summary records produced by
// the response pipeline. Records are written once and never mutated here.
package memory

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a session row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when an agent session id is already bound to a
	// different session, or would equal the session's own id.
	ErrConflict = errors.New("conflict")
)

// Session status values stored in sessions.status.
const (
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

const isoLayout = "2006-01-02T15:04:05.000Z"

// FormatEpoch renders a millisecond epoch as a UTC ISO-8601 string.
func FormatEpoch(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(isoLayout)
}

// SessionRecord is the durable row for one observed conversation.
type SessionRecord struct {
	ID               int64  `json:"id"`
	SessionID        string `json:"sessionId"`
	AgentSessionID   string `json:"agentSessionId,omitempty"` // empty means unbound
	Project          string `json:"project"`
	UserPrompt       string `json:"userPrompt,omitempty"`
	Status           string `json:"status"`
	PromptCounter    int    `json:"promptCounter"`
	StartedAt        string `json:"startedAt"`
	StartedAtEpoch   int64  `json:"startedAtEpoch"`
	CompletedAtEpoch int64  `json:"completedAtEpoch,omitempty"`
}

// UserPrompt is one numbered prompt submitted in a session.
type UserPrompt struct {
	ID             int64  `json:"id"`
	SessionID      string `json:"sessionId"`
	PromptNumber   int    `json:"promptNumber"`
	Text           string `json:"text"`
	CreatedAt      string `json:"createdAt"`
	CreatedAtEpoch int64  `json:"createdAtEpoch"`
}

// Observation is one structured record extracted from agent output.
// Optional text fields are nil when the agent omitted them.
type Observation struct {
	ID              int64    `json:"id"`
	SessionID       string   `json:"sessionId"`
	AgentSessionID  string   `json:"agentSessionId,omitempty"`
	Project         string   `json:"project"`
	Type            string   `json:"type"`
	Title           *string  `json:"title"`
	Subtitle        *string  `json:"subtitle"`
	Narrative       *string  `json:"narrative"`
	Facts           []string `json:"facts"`
	Concepts        []string `json:"concepts"`
	FilesRead       []string `json:"filesRead"`
	FilesModified   []string `json:"filesModified"`
	PromptNumber    int      `json:"promptNumber,omitempty"`
	DiscoveryTokens int      `json:"discoveryTokens"`
	CreatedAt       string   `json:"createdAt"`
	CreatedAtEpoch  int64    `json:"createdAtEpoch"`
}

// Summary is the end-of-prompt progress summary for a session.
type Summary struct {
	ID              int64   `json:"id"`
	SessionID       string  `json:"sessionId"`
	AgentSessionID  string  `json:"agentSessionId,omitempty"`
	Project         string  `json:"project"`
	Request         *string `json:"request"`
	Investigated    *string `json:"investigated"`
	Learned         *string `json:"learned"`
	Completed       *string `json:"completed"`
	NextSteps       *string `json:"nextSteps"`
	Notes           *string `json:"notes"`
	PromptNumber    int     `json:"promptNumber,omitempty"`
	DiscoveryTokens int     `json:"discoveryTokens"`
	CreatedAt       string  `json:"createdAt"`
	CreatedAtEpoch  int64   `json:"createdAtEpoch"`
}

// Results is everything produced by one processed batch. CreatedAtEpoch and
// DiscoveryTokens are stamped onto every record.
type Results struct {
	SessionID       string
	AgentSessionID  string
	Project         string
	PromptNumber    int
	Observations    []*Observation
	Summary         *Summary
	CreatedAtEpoch  int64
	DiscoveryTokens int
}

// Empty reports whether there is nothing to persist.
func (r *Results) Empty() bool {
	return len(r.Observations) == 0 && r.Summary == nil
}
