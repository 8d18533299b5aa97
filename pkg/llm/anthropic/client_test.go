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

package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/recall/pkg/llm"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{APIKey: "test-key", BaseURL: srv.URL + "/", Model: "claude-test"})
	require.NoError(t, err)
	return c
}

func userOnly(text string) *llm.Request {
	return &llm.Request{Messages: []llm.Message{{Role: llm.RoleUser, Content: text}}}
}

func TestClient_Invoke(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Api-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-test",
			"content": [{"type": "text", "text": "<observation><type>change</type></observation>"}],
			"stop_reason": "end_turn", "stop_sequence": null,
			"usage": {"input_tokens": 42, "output_tokens": 7}
		}`))
	})

	resp, err := c.Invoke(context.Background(), &llm.Request{
		System: "observe",
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: "first"},
			{Role: llm.RoleAssistant, Content: "ok"},
			{Role: llm.RoleUser, Content: "tool event"},
		},
		AgentSessionID: "conv-1",
		MaxTokens:      512,
	})
	require.NoError(t, err)
	assert.Equal(t, "<observation><type>change</type></observation>", resp.Text)
	assert.Equal(t, "conv-1", resp.AgentSessionID)
	assert.Equal(t, 42, resp.Usage.InputTokens)
	assert.Equal(t, 7, resp.Usage.OutputTokens)
	assert.Equal(t, "end_turn", resp.StopReason)

	assert.Equal(t, "claude-test", got["model"])
	assert.EqualValues(t, 512, got["max_tokens"])
	assert.Len(t, got["messages"], 3)
}

func TestClient_MintsConversationID(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"m","type":"message","role":"assistant","model":"x",
			"content":[{"type":"text","text":"hi"}],"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":1}}`))
	})
	resp, err := c.Invoke(context.Background(), userOnly("x"))
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AgentSessionID)
}

func TestClient_ServerErrorIsTransient(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`))
	})
	_, err := c.Invoke(context.Background(), userOnly("x"))
	require.Error(t, err)
	assert.Equal(t, llm.ClassTransient, llm.Classify(err))

	var se *llm.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, 503, se.StatusCode)
}

func TestClient_BadRequestIsTerminal(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"invalid_request_error","message":"bad model"}}`))
	})
	_, err := c.Invoke(context.Background(), userOnly("x"))
	require.Error(t, err)
	assert.Equal(t, llm.ClassTerminal, llm.Classify(err))
}

func TestClient_CancelledContext(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Invoke(ctx, userOnly("x"))
	require.Error(t, err)
	assert.Equal(t, llm.ClassCancelled, llm.Classify(err))
}

func TestNewClient_Validation(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	_, err := NewClient(Config{})
	assert.Error(t, err)

	t.Setenv("ANTHROPIC_DEFAULT_MODEL", "claude-env")
	c, err := NewClient(Config{APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "claude-env", c.Model())
	assert.Equal(t, "anthropic", c.Name())

	_, err = c.Invoke(context.Background(), &llm.Request{})
	assert.Error(t, err)
}
