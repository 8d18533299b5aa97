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

// Package openrouter is the OpenRouter observer backend, an OpenAI-compatible
// chat completions API in front of many hosted models.
package openrouter

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
	DefaultModel   = "xiaomi/mimo-v2-flash:free"
	DefaultBaseURL = "https://openrouter.ai/api/v1"
	DefaultTimeout = 60 * time.Second
	DefaultAppName = "recall"
)

// Config holds configuration for the OpenRouter client.
type Config struct {
	APIKey    string // Default: OPENROUTER_API_KEY
	Model     string
	BaseURL   string
	SiteURL   string // sent as HTTP-Referer for attribution
	AppName   string // sent as X-Title
	MaxTokens int
	Timeout   time.Duration

	RateLimiter *llm.RateLimiter
}

// Client implements llm.Provider for OpenRouter.
type Client struct {
	apiKey      string
	model       string
	baseURL     string
	siteURL     string
	appName     string
	maxTokens   int
	httpClient  *http.Client
	rateLimiter *llm.RateLimiter
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENROUTER_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openrouter API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.AppName == "" {
		cfg.AppName = DefaultAppName
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		siteURL:     cfg.SiteURL,
		appName:     cfg.AppName,
		maxTokens:   cfg.MaxTokens,
		rateLimiter: cfg.RateLimiter,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (c *Client) Name() string  { return "openrouter" }
func (c *Client) Model() string { return c.model }

// Invoke sends the full conversation; OpenRouter keeps no server state.
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
	body := &ChatCompletionRequest{
		Model:     c.model,
		Messages:  convertMessages(req.System, req.Messages),
		MaxTokens: llm.MaxTokensOrDefault(&llm.Request{MaxTokens: maxTokens}),
	}

	resp, err := c.callAPI(ctx, body)
	if err != nil {
		return nil, err
	}

	out := &llm.Response{
		AgentSessionID: llm.ConversationID(req),
		Model:          resp.Model,
		Usage: llm.Usage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	if out.Model == "" {
		out.Model = c.model
	}
	if len(resp.Choices) > 0 {
		out.Text = resp.Choices[0].Message.Content
		out.StopReason = stopReason(resp.Choices[0].FinishReason)
	}
	c.rateLimiter.RecordTokenUsage(int64(out.Usage.Total()))
	return out, nil
}

func (c *Client) callAPI(ctx context.Context, body *ChatCompletionRequest) (*ChatCompletionResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("X-Title", c.appName)
	if c.siteURL != "" {
		httpReq.Header.Set("HTTP-Referer", c.siteURL)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openrouter: HTTP request failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("openrouter: failed to read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, &llm.StatusError{Provider: "openrouter", StatusCode: httpResp.StatusCode, Body: string(respBody)}
	}

	var resp ChatCompletionResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("openrouter: failed to unmarshal response: %w", err)
	}
	if resp.Error != nil {
		return nil, &llm.StatusError{Provider: "openrouter", StatusCode: resp.Error.Code, Body: resp.Error.Message}
	}
	return &resp, nil
}

func convertMessages(system string, messages []llm.Message) []ChatMessage {
	out := make([]ChatMessage, 0, len(messages)+1)
	if system != "" {
		out = append(out, ChatMessage{Role: "system", Content: system})
	}
	for _, m := range messages {
		out = append(out, ChatMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}

func stopReason(finish string) string {
	switch finish {
	case "stop":
		return "end_turn"
	case "length":
		return "max_tokens"
	default:
		return finish
	}
}

var _ llm.Provider = (*Client)(nil)
