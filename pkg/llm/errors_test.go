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

package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"nil", nil, ClassTerminal},
		{"503 message", errors.New("503 Service Unavailable"), ClassTransient},
		{"429", errors.New("status 429 Too Many Requests"), ClassTransient},
		{"500", errors.New("HTTP 500"), ClassTransient},
		{"502", errors.New("bad gateway 502"), ClassTransient},
		{"econnrefused", errors.New("connect ECONNREFUSED 127.0.0.1:443"), ClassTransient},
		{"etimedout", errors.New("ETIMEDOUT"), ClassTransient},
		{"fetch failed", errors.New("TypeError: fetch failed"), ClassTransient},
		{"go connection refused", errors.New("dial tcp: connect: connection refused"), ClassTransient},
		{"rate limit", errors.New("Rate limit exceeded"), ClassTransient},
		{"overloaded", errors.New("overloaded_error"), ClassTransient},
		{"deadline", fmt.Errorf("post: %w", context.DeadlineExceeded), ClassTransient},
		{"net timeout", fmt.Errorf("read: %w", timeoutErr{}), ClassTransient},
		{"status error", &StatusError{Provider: "gemini", StatusCode: 529}, ClassTransient},
		{"abort", errors.New("AbortError: The operation was aborted"), ClassCancelled},
		{"context canceled", fmt.Errorf("post: %w", context.Canceled), ClassCancelled},
		{"ErrCancelled", ErrCancelled, ClassCancelled},
		{"503 body says aborted", &StatusError{Provider: "gemini", StatusCode: 503, Body: "upstream request aborted, please retry"}, ClassTransient},
		{"429 body names AbortError", &StatusError{Provider: "openrouter", StatusCode: 429, Body: "AbortError upstream"}, ClassTransient},
		{"wrapped 502 body says aborted", fmt.Errorf("invoke: %w", &StatusError{Provider: "openrouter", StatusCode: 502, Body: "aborted"}), ClassTransient},
		{"aborted without error name", errors.New("stream aborted"), ClassTerminal},
		{"bad request", &StatusError{Provider: "openrouter", StatusCode: 400, Body: "invalid model"}, ClassTerminal},
		{"auth", errors.New("invalid x-api-key"), ClassTerminal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestIsCancellation_StatusErrorNeverCancels(t *testing.T) {
	assert.False(t, IsCancellation(&StatusError{Provider: "gemini", StatusCode: 503, Body: "AbortError"}))
	assert.True(t, IsCancellation(errors.New("AbortError: The operation was aborted")))
	assert.True(t, IsCancellation(fmt.Errorf("call: %w", context.Canceled)))
	assert.False(t, IsCancellation(errors.New("request aborted")))
}

func TestErrCancelledWrapsContextCanceled(t *testing.T) {
	assert.ErrorIs(t, ErrCancelled, context.Canceled)

	err := Cancelled(errors.New("AbortError"))
	assert.ErrorIs(t, err, ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, err.Error(), "AbortError")

	orig := fmt.Errorf("wrapped: %w", context.Canceled)
	assert.Same(t, orig, Cancelled(orig))
}

func TestStatusError_TruncatesBody(t *testing.T) {
	body := make([]byte, 1000)
	for i := range body {
		body[i] = 'x'
	}
	err := &StatusError{Provider: "gemini", StatusCode: 503, Body: string(body)}
	assert.Less(t, len(err.Error()), 600)
	assert.Contains(t, err.Error(), "503")
}

func TestConversationID(t *testing.T) {
	assert.Equal(t, "agent-1", ConversationID(&Request{AgentSessionID: "agent-1"}))
	a, b := ConversationID(&Request{}), ConversationID(&Request{})
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}
