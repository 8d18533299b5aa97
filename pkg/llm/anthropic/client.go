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

// Package anthropic is the Claude Messages API observer backend.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/teradata-labs/recall/pkg/llm"
)

const (
	// DefaultModel is a fast, inexpensive model suited to observation.
	DefaultModel   = "claude-haiku-4-5"
	DefaultTimeout = 120 * time.Second
)

// Config holds configuration for the Anthropic client.
type Config struct {
	APIKey    string
	Model     string // Default: claude-haiku-4-5, or ANTHROPIC_DEFAULT_MODEL
	BaseURL   string // Default: SDK default
	Timeout   time.Duration
	MaxTokens int

	// RateLimiter is optional and may be shared between clients.
	RateLimiter *llm.RateLimiter
}

// Client implements llm.Provider over the official SDK.
type Client struct {
	client      anthropicsdk.Client
	model       string
	maxTokens   int
	rateLimiter *llm.RateLimiter
}

// NewClient creates a client. SDK retries are disabled; transient failures
// are handled by provider fallback.
func NewClient(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	if cfg.Model == "" {
		if env := os.Getenv("ANTHROPIC_DEFAULT_MODEL"); env != "" {
			cfg.Model = env
		} else {
			cfg.Model = DefaultModel
		}
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
		option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Client{
		client:      anthropicsdk.NewClient(opts...),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		rateLimiter: cfg.RateLimiter,
	}, nil
}

func (c *Client) Name() string  { return "anthropic" }
func (c *Client) Model() string { return c.model }

// Invoke sends the conversation. The Messages API keeps no server-side
// state, so the agent session id is a local conversation handle.
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
	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(c.model),
		MaxTokens: int64(llm.MaxTokensOrDefault(&llm.Request{MaxTokens: maxTokens})),
		Messages:  convertMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: req.System}}
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, convertError(err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	usage := llm.Usage{
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}
	c.rateLimiter.RecordTokenUsage(int64(usage.Total()))

	return &llm.Response{
		Text:           text.String(),
		AgentSessionID: llm.ConversationID(req),
		Usage:          usage,
		Model:          string(msg.Model),
		StopReason:     string(msg.StopReason),
	}, nil
}

func convertMessages(messages []llm.Message) []anthropicsdk.MessageParam {
	out := make([]anthropicsdk.MessageParam, 0, len(messages))
	for _, m := range messages {
		block := anthropicsdk.NewTextBlock(m.Content)
		if m.Role == llm.RoleAssistant {
			out = append(out, anthropicsdk.NewAssistantMessage(block))
		} else {
			out = append(out, anthropicsdk.NewUserMessage(block))
		}
	}
	return out
}

// convertError keeps the SDK error chain and exposes the HTTP status to the
// fallback classifier.
func convertError(err error) error {
	var apiErr *anthropicsdk.Error
	if errors.As(err, &apiErr) {
		return fmt.Errorf("anthropic: %w: %w", &llm.StatusError{
			Provider:   "anthropic",
			StatusCode: apiErr.StatusCode,
			Body:       apiErr.RawJSON(),
		}, err)
	}
	return fmt.Errorf("anthropic: %w", err)
}

var _ llm.Provider = (*Client)(nil)
