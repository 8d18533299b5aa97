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

// Package gemini is the Google Gemini observer backend, spoken over the
// REST generateContent endpoint.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/teradata-labs/recall/pkg/llm"
)

const (
	DefaultModel   = "gemini-2.5-flash"
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	DefaultTimeout = 60 * time.Second
)

// Config holds configuration for the Gemini client.
type Config struct {
	APIKey    string // Default: GEMINI_API_KEY
	Model     string
	BaseURL   string
	MaxTokens int
	Timeout   time.Duration

	// RateLimiter throttles free-tier keys. Optional.
	RateLimiter *llm.RateLimiter
}

// Client implements llm.Provider for Google Gemini.
type Client struct {
	apiKey      string
	model       string
	baseURL     string
	maxTokens   int
	httpClient  *http.Client
	rateLimiter *llm.RateLimiter
}

// NewClient creates a new Gemini client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		maxTokens:   cfg.MaxTokens,
		rateLimiter: cfg.RateLimiter,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (c *Client) Name() string  { return "gemini" }
func (c *Client) Model() string { return c.model }

// Invoke sends the conversation. Gemini is stateless; the full history is
// replayed on every call.
func (c *Client) Invoke(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	if len(req.Messages) == 0 {
		return nil, fmt.Errorf("no messages to send")
	}
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}
	body := &GenerateContentRequest{
		Contents: convertMessages(req.Messages),
		GenerationConfig: GenerationConfig{
			MaxOutputTokens: llm.MaxTokensOrDefault(&llm.Request{MaxTokens: maxTokens}),
		},
	}
	if req.System != "" {
		body.SystemInstruction = &Content{Parts: []Part{{Text: req.System}}}
	}

	resp, err := c.callAPI(ctx, body)
	if err != nil {
		return nil, err
	}

	out := &llm.Response{
		AgentSessionID: llm.ConversationID(req),
		Model:          c.model,
		Usage: llm.Usage{
			InputTokens:  resp.UsageMetadata.PromptTokenCount,
			OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
		},
	}
	if resp.ModelVersion != "" {
		out.Model = resp.ModelVersion
	}
	if len(resp.Candidates) > 0 {
		cand := resp.Candidates[0]
		out.StopReason = stopReason(cand.FinishReason)
		var text strings.Builder
		for _, p := range cand.Content.Parts {
			text.WriteString(p.Text)
		}
		out.Text = text.String()
	}
	c.rateLimiter.RecordTokenUsage(int64(out.Usage.Total()))
	return out, nil
}

func (c *Client) callAPI(ctx context.Context, body *GenerateContentRequest) (*GenerateContentResponse, error) {
	apiURL := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.model)

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini: HTTP request failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("gemini: failed to read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, &llm.StatusError{Provider: "gemini", StatusCode: httpResp.StatusCode, Body: string(respBody)}
	}

	var resp GenerateContentResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("gemini: failed to unmarshal response: %w", err)
	}
	if resp.Error != nil {
		return nil, &llm.StatusError{Provider: "gemini", StatusCode: resp.Error.Code, Body: resp.Error.Message}
	}
	return &resp, nil
}

func convertMessages(messages []llm.Message) []Content {
	out := make([]Content, 0, len(messages))
	for _, m := range messages {
		role := "user"
		if m.Role == llm.RoleAssistant {
			role = "model"
		}
		out = append(out, Content{Role: role, Parts: []Part{{Text: m.Content}}})
	}
	return out
}

func stopReason(finish string) string {
	switch finish {
	case "STOP":
		return "end_turn"
	case "MAX_TOKENS":
		return "max_tokens"
	case "SAFETY", "RECITATION":
		return "content_filter"
	default:
		return finish
	}
}

var _ llm.Provider = (*Client)(nil)
