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
package session

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/teradata-labs/recall/pkg/llm"
	"github.com/teradata-labs/recall/pkg/queue"
)

// DefaultHistoryLimit bounds the replayed conversation for stateless backends.
const DefaultHistoryLimit = 40

// ActiveSession is the in-memory state of one observed conversation. It is
// owned by the Registry; the pipeline mutates it between batches through the
// methods below.
type ActiveSession struct {
	SessionID string
	Project   string
	StartedAt time.Time

	mu                  sync.Mutex
	state               State
	agentSessionID      string
	live                bool // a reply was received in this process
	lastPromptIndex     int
	lastPrompt          string
	inputTokens         int64
	outputTokens        int64
	earliestUnprocessed *int64
	activeProvider      int
	history             []llm.Message
	historyLimit        int

	ctx      context.Context
	cancel   context.CancelFunc
	wake     queue.Signal
	consumer *queue.Consumer
	done     chan struct{}
	bind     func(ctx context.Context, sessionID, agentSessionID string) error
}

// AgentSessionID returns the bound backend conversation id, empty if none.
func (s *ActiveSession) AgentSessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agentSessionID
}

func (s *ActiveSession) setAgentSessionID(id string) {
	s.mu.Lock()
	s.agentSessionID = id
	s.mu.Unlock()
}

// BindAgentSessionID durably binds id to this session through the registry.
func (s *ActiveSession) BindAgentSessionID(ctx context.Context, id string) error {
	return s.bind(ctx, s.SessionID, id)
}

// ResumeHint returns the id to resume the backend conversation with. It is
// withheld on the first prompt so a stale id from an earlier process is
// never resumed into a new conversation.
func (s *ActiveSession) ResumeHint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.agentSessionID == "" || s.lastPromptIndex <= 1 {
		return ""
	}
	return s.agentSessionID
}

// Live reports whether the backend conversation was started in this process.
func (s *ActiveSession) Live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.live
}

// MarkLive records a successful reply.
func (s *ActiveSession) MarkLive() {
	s.mu.Lock()
	s.live = true
	s.mu.Unlock()
}

// LastPromptIndex returns the number of the latest user prompt.
func (s *ActiveSession) LastPromptIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPromptIndex
}

// LastPrompt returns the latest user prompt text.
func (s *ActiveSession) LastPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPrompt
}

func (s *ActiveSession) setPrompt(n int, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n >= s.lastPromptIndex {
		s.lastPromptIndex = n
		s.lastPrompt = text
	}
}

// AddUsage accumulates token counts.
func (s *ActiveSession) AddUsage(input, output int) {
	s.mu.Lock()
	s.inputTokens += int64(input)
	s.outputTokens += int64(output)
	s.mu.Unlock()
}

// Usage returns cumulative input and output tokens.
func (s *ActiveSession) Usage() (input, output int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inputTokens, s.outputTokens
}

// EarliestUnprocessedTimestamp returns the enqueue epoch (ms) of the oldest
// claimed event not yet persisted, or nil.
func (s *ActiveSession) EarliestUnprocessedTimestamp() *int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.earliestUnprocessed == nil {
		return nil
	}
	v := *s.earliestUnprocessed
	return &v
}

// ClearEarliestUnprocessed resets the timestamp after a batch is flushed.
func (s *ActiveSession) ClearEarliestUnprocessed() {
	s.mu.Lock()
	s.earliestUnprocessed = nil
	s.mu.Unlock()
}

func (s *ActiveSession) noteClaimed(ev *queue.PendingEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.earliestUnprocessed == nil || ev.EnqueuedAtEpoch < *s.earliestUnprocessed {
		ts := ev.EnqueuedAtEpoch
		s.earliestUnprocessed = &ts
	}
}

// ActiveProvider returns the index of the backend currently in use.
func (s *ActiveSession) ActiveProvider() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeProvider
}

// SetActiveProvider switches the backend used for later batches.
func (s *ActiveSession) SetActiveProvider(i int) {
	s.mu.Lock()
	s.activeProvider = i
	s.mu.Unlock()
}

// History returns a copy of the conversation replayed to stateless backends.
func (s *ActiveSession) History() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.history)
}

// AppendHistory adds turns, dropping the oldest beyond the limit while
// keeping the opening message.
func (s *ActiveSession) AppendHistory(msgs ...llm.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, msgs...)
	over := len(s.history) - s.historyLimit
	if over <= 0 {
		return
	}
	// Trim in pairs so user and assistant turns keep alternating.
	if over%2 == 1 {
		over++
	}
	if 1+over >= len(s.history) {
		s.history = s.history[:1]
		return
	}
	s.history = append(s.history[:1], s.history[1+over:]...)
}

// ResetHistory starts a fresh backend conversation.
func (s *ActiveSession) ResetHistory() {
	s.mu.Lock()
	s.history = nil
	s.live = false
	s.mu.Unlock()
}

// State returns the lifecycle stage.
func (s *ActiveSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *ActiveSession) transition(to State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == to {
		return true
	}
	if !canTransition(s.state, to) {
		return false
	}
	s.state = to
	return true
}

// Busy reports whether the consumer holds claimed, unhandled events.
func (s *ActiveSession) Busy() bool {
	return s.consumer != nil && s.consumer.Busy()
}

// Done is closed when the consumer loop has exited.
func (s *ActiveSession) Done() <-chan struct{} {
	return s.done
}

// Wake resumes an idle consumer.
func (s *ActiveSession) Wake() {
	s.wake.Notify()
}

// Snapshot is a point-in-time view for status endpoints.
type Snapshot struct {
	SessionID       string `json:"sessionId"`
	AgentSessionID  string `json:"agentSessionId,omitempty"`
	Project         string `json:"project"`
	State           string `json:"state"`
	LastPromptIndex int    `json:"lastPromptIndex"`
	InputTokens     int64  `json:"inputTokens"`
	OutputTokens    int64  `json:"outputTokens"`
	ActiveProvider  int    `json:"activeProvider"`
	Busy            bool   `json:"busy"`
	Claimed         int64  `json:"claimed"`
	StartedAt       string `json:"startedAt"`
}

// Snapshot returns the session's current view.
func (s *ActiveSession) Snapshot() Snapshot {
	busy := s.Busy()
	var claimed int64
	if s.consumer != nil {
		claimed = s.consumer.Claimed()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		SessionID:       s.SessionID,
		AgentSessionID:  s.agentSessionID,
		Project:         s.Project,
		State:           s.state.String(),
		LastPromptIndex: s.lastPromptIndex,
		InputTokens:     s.inputTokens,
		OutputTokens:    s.outputTokens,
		ActiveProvider:  s.activeProvider,
		Busy:            busy,
		Claimed:         claimed,
		StartedAt:       s.StartedAt.UTC().Format(time.RFC3339),
	}
}
