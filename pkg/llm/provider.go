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

// Package llm defines the observer backend contract shared by every provider
// (Anthropic, Bedrock, Gemini, OpenRouter), the error classification that
// drives provider fallback, and cross-cutting helpers: rate limiting, token
// estimation and tracing.
package llm

import (
	"context"

	"github.com/google/uuid"
)

// Role of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of the observer conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request is one observer invocation.
type Request struct {
	System   string
	Messages []Message

	// AgentSessionID is the resume hint. Empty starts a fresh backend
	// conversation.
	AgentSessionID string

	// MaxTokens caps the reply. Providers apply their own default when 0.
	MaxTokens int
}

// Usage reports tokens spent on one invocation.
type Usage struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// Total returns input plus output tokens.
func (u Usage) Total() int {
	return u.InputTokens + u.OutputTokens
}

// Response is the observer's reply.
type Response struct {
	Text string

	// AgentSessionID identifies the backend conversation; the caller binds it
	// to the session after the first successful reply.
	AgentSessionID string

	Usage      Usage
	Model      string
	StopReason string
}

// Provider is one interchangeable observer backend. Implementations must
// honour ctx cancellation on the network round trip.
type Provider interface {
	Name() string
	Model() string
	Invoke(ctx context.Context, req *Request) (*Response, error)
}

// ConversationID returns the request's resume hint, or mints a new id for a
// fresh conversation. Backends without server-side sessions use it as their
// agent session id.
func ConversationID(req *Request) string {
	if req.AgentSessionID != "" {
		return req.AgentSessionID
	}
	return uuid.NewString()
}

// DefaultMaxTokens is used when a request does not set MaxTokens.
const DefaultMaxTokens = 4096

// MaxTokensOrDefault returns req.MaxTokens or DefaultMaxTokens.
func MaxTokensOrDefault(req *Request) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return DefaultMaxTokens
}
