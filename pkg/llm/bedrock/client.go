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

// Package bedrock is the AWS Bedrock Converse observer backend.
package bedrock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/teradata-labs/recall/pkg/llm"
)

const (
	DefaultRegion  = "us-west-2"
	DefaultModelID = "us.anthropic.claude-haiku-4-5-20251001-v1:0"
)

// ConverseAPI is the subset of the runtime client used here.
type ConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Config holds configuration for the Bedrock client. Credentials resolve in
// order: explicit keys, named profile, default chain.
type Config struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Profile         string

	ModelID   string
	MaxTokens int

	RateLimiter *llm.RateLimiter

	// API overrides the runtime client. Used by tests.
	API ConverseAPI
}

// Client implements llm.Provider over the Converse API.
type Client struct {
	api         ConverseAPI
	modelID     string
	maxTokens   int
	rateLimiter *llm.RateLimiter
}

// NewClient creates a Bedrock client, loading AWS configuration unless an
// API override is supplied.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Region == "" {
		if env := os.Getenv("AWS_REGION"); env != "" {
			cfg.Region = env
		} else {
			cfg.Region = DefaultRegion
		}
	}
	if cfg.ModelID == "" {
		cfg.ModelID = DefaultModelID
	}

	api := cfg.API
	if api == nil {
		opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
		switch {
		case cfg.AccessKeyID != "" && cfg.SecretAccessKey != "":
			opts = append(opts, config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken,
			)))
		case cfg.Profile != "":
			opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
		}
		awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		// Retries belong to provider fallback.
		api = bedrockruntime.NewFromConfig(awsCfg, func(o *bedrockruntime.Options) {
			o.RetryMaxAttempts = 1
		})
	}

	return &Client{
		api:         api,
		modelID:     cfg.ModelID,
		maxTokens:   cfg.MaxTokens,
		rateLimiter: cfg.RateLimiter,
	}, nil
}

func (c *Client) Name() string  { return "bedrock" }
func (c *Client) Model() string { return c.modelID }

// Invoke runs one Converse call.
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
	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(c.modelID),
		Messages: convertMessages(req.Messages),
		InferenceConfig: &types.InferenceConfiguration{
			MaxTokens: aws.Int32(int32(llm.MaxTokensOrDefault(&llm.Request{MaxTokens: maxTokens}))),
		},
	}
	if req.System != "" {
		input.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: req.System},
		}
	}

	out, err := c.api.Converse(ctx, input)
	if err != nil {
		return nil, convertError(err)
	}

	var text strings.Builder
	if msg, ok := out.Output.(*types.ConverseOutputMemberMessage); ok {
		for _, block := range msg.Value.Content {
			if tb, ok := block.(*types.ContentBlockMemberText); ok {
				text.WriteString(tb.Value)
			}
		}
	}

	var usage llm.Usage
	if out.Usage != nil {
		usage.InputTokens = int(aws.ToInt32(out.Usage.InputTokens))
		usage.OutputTokens = int(aws.ToInt32(out.Usage.OutputTokens))
	}
	c.rateLimiter.RecordTokenUsage(int64(usage.Total()))

	return &llm.Response{
		Text:           text.String(),
		AgentSessionID: llm.ConversationID(req),
		Usage:          usage,
		Model:          c.modelID,
		StopReason:     string(out.StopReason),
	}, nil
}

func convertMessages(messages []llm.Message) []types.Message {
	out := make([]types.Message, 0, len(messages))
	for _, m := range messages {
		role := types.ConversationRoleUser
		if m.Role == llm.RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		out = append(out, types.Message{
			Role:    role,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: m.Content}},
		})
	}
	return out
}

func convertError(err error) error {
	var re *awshttp.ResponseError
	if errors.As(err, &re) {
		return fmt.Errorf("bedrock converse failed: %w: %w", &llm.StatusError{
			Provider:   "bedrock",
			StatusCode: re.HTTPStatusCode(),
			Body:       re.Err.Error(),
		}, err)
	}
	return fmt.Errorf("bedrock converse failed: %w", err)
}

var _ llm.Provider = (*Client)(nil)
