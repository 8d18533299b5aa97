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
// Package factory builds observer backends and the ordered fallback chain
// from configuration.
package factory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/recall/pkg/llm"
	"github.com/teradata-labs/recall/pkg/llm/anthropic"
	"github.com/teradata-labs/recall/pkg/llm/bedrock"
	"github.com/teradata-labs/recall/pkg/llm/gemini"
	"github.com/teradata-labs/recall/pkg/llm/openrouter"
	"github.com/teradata-labs/recall/pkg/observability"
)

// Provider names accepted in the chain.
const (
	ProviderAnthropic  = "anthropic"
	ProviderBedrock    = "bedrock"
	ProviderGemini     = "gemini"
	ProviderOpenRouter = "openrouter"
)

// DefaultChain is used when no chain is configured.
var DefaultChain = []string{ProviderAnthropic, ProviderGemini, ProviderOpenRouter}

// ProviderFactory creates observer backends based on configuration.
type ProviderFactory struct {
	config FactoryConfig
}

// FactoryConfig holds configuration for creating providers.
type FactoryConfig struct {
	// Chain is the fallback order. Unknown names are an error; providers
	// without credentials are skipped.
	Chain []string

	// Anthropic configuration
	AnthropicAPIKey  string
	AnthropicModel   string
	AnthropicBaseURL string

	// Bedrock configuration
	BedrockRegion          string
	BedrockAccessKeyID     string
	BedrockSecretAccessKey string
	BedrockSessionToken    string
	BedrockProfile         string
	BedrockModelID         string

	// Gemini configuration
	GeminiAPIKey  string
	GeminiModel   string
	GeminiBaseURL string
	GeminiRPM     int // 0 disables rate limiting

	// OpenRouter configuration
	OpenRouterAPIKey  string
	OpenRouterModel   string
	OpenRouterBaseURL string
	OpenRouterSiteURL string
	OpenRouterAppName string

	// Common settings
	MaxTokens int
	Timeout   time.Duration

	Tracer observability.Tracer
	Logger *zap.Logger
}

// NewProviderFactory creates a new provider factory.
func NewProviderFactory(config FactoryConfig) *ProviderFactory {
	if config.MaxTokens == 0 {
		config.MaxTokens = llm.DefaultMaxTokens
	}
	if len(config.Chain) == 0 {
		config.Chain = DefaultChain
	}
	if config.Tracer == nil {
		config.Tracer = observability.NewNoOpTracer()
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &ProviderFactory{config: config}
}

// CreateProvider creates one instrumented provider by name.
func (f *ProviderFactory) CreateProvider(ctx context.Context, name string) (llm.Provider, error) {
	var (
		p   llm.Provider
		err error
	)
	switch strings.ToLower(strings.TrimSpace(name)) {
	case ProviderAnthropic:
		p, err = f.createAnthropicProvider()
	case ProviderBedrock:
		p, err = f.createBedrockProvider(ctx)
	case ProviderGemini:
		p, err = f.createGeminiProvider()
	case ProviderOpenRouter:
		p, err = f.createOpenRouterProvider()
	default:
		return nil, fmt.Errorf("unsupported provider: %s", name)
	}
	if err != nil {
		return nil, err
	}
	return llm.NewInstrumentedProvider(p, f.config.Tracer), nil
}

// BuildChain creates every configured provider in order. Providers that
// cannot be created (usually missing credentials) are logged and skipped.
func (f *ProviderFactory) BuildChain(ctx context.Context) ([]llm.Provider, error) {
	chain := make([]llm.Provider, 0, len(f.config.Chain))
	seen := make(map[string]bool, len(f.config.Chain))
	for _, name := range f.config.Chain {
		key := strings.ToLower(strings.TrimSpace(name))
		if seen[key] {
			continue
		}
		seen[key] = true

		p, err := f.CreateProvider(ctx, key)
		if err != nil {
			if !IsKnownProvider(key) {
				return nil, err
			}
			f.config.Logger.Warn("Provider unavailable, skipping",
				zap.String("provider", key), zap.Error(err))
			continue
		}
		f.config.Logger.Info("Provider ready",
			zap.String("provider", p.Name()), zap.String("model", p.Model()))
		chain = append(chain, p)
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("no observer provider available (chain: %s)", strings.Join(f.config.Chain, ", "))
	}
	return chain, nil
}

// IsProviderAvailable checks if a provider is available (credentials/config present).
func (f *ProviderFactory) IsProviderAvailable(ctx context.Context, provider string) bool {
	_, err := f.CreateProvider(ctx, provider)
	return err == nil
}

// IsKnownProvider reports whether name is a supported backend.
func IsKnownProvider(name string) bool {
	switch name {
	case ProviderAnthropic, ProviderBedrock, ProviderGemini, ProviderOpenRouter:
		return true
	}
	return false
}

func (f *ProviderFactory) createAnthropicProvider() (llm.Provider, error) {
	return anthropic.NewClient(anthropic.Config{
		APIKey:    f.config.AnthropicAPIKey,
		Model:     f.config.AnthropicModel,
		BaseURL:   f.config.AnthropicBaseURL,
		MaxTokens: f.config.MaxTokens,
		Timeout:   f.config.Timeout,
	})
}

func (f *ProviderFactory) createBedrockProvider(ctx context.Context) (llm.Provider, error) {
	return bedrock.NewClient(ctx, bedrock.Config{
		Region:          f.config.BedrockRegion,
		AccessKeyID:     f.config.BedrockAccessKeyID,
		SecretAccessKey: f.config.BedrockSecretAccessKey,
		SessionToken:    f.config.BedrockSessionToken,
		Profile:         f.config.BedrockProfile,
		ModelID:         f.config.BedrockModelID,
		MaxTokens:       f.config.MaxTokens,
	})
}

func (f *ProviderFactory) createGeminiProvider() (llm.Provider, error) {
	var rl *llm.RateLimiter
	if f.config.GeminiRPM > 0 {
		rlCfg := llm.DefaultRateLimiterConfig()
		rlCfg.Enabled = true
		rlCfg.RequestsPerMinute = float64(f.config.GeminiRPM)
		rlCfg.Logger = f.config.Logger
		rl = llm.NewRateLimiter(rlCfg)
	}
	return gemini.NewClient(gemini.Config{
		APIKey:      f.config.GeminiAPIKey,
		Model:       f.config.GeminiModel,
		BaseURL:     f.config.GeminiBaseURL,
		MaxTokens:   f.config.MaxTokens,
		Timeout:     f.config.Timeout,
		RateLimiter: rl,
	})
}

func (f *ProviderFactory) createOpenRouterProvider() (llm.Provider, error) {
	return openrouter.NewClient(openrouter.Config{
		APIKey:    f.config.OpenRouterAPIKey,
		Model:     f.config.OpenRouterModel,
		BaseURL:   f.config.OpenRouterBaseURL,
		SiteURL:   f.config.OpenRouterSiteURL,
		AppName:   f.config.OpenRouterAppName,
		MaxTokens: f.config.MaxTokens,
		Timeout:   f.config.Timeout,
	})
}
