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
package factory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/recall/pkg/llm"
)

func clearProviderEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"ANTHROPIC_API_KEY", "ANTHROPIC_DEFAULT_MODEL", "GEMINI_API_KEY", "OPENROUTER_API_KEY"} {
		t.Setenv(k, "")
	}
}

func TestBuildChain_Order(t *testing.T) {
	clearProviderEnv(t)
	f := NewProviderFactory(FactoryConfig{
		Chain:            []string{"openrouter", "Anthropic", "gemini", "anthropic"},
		AnthropicAPIKey:  "a",
		GeminiAPIKey:     "g",
		GeminiRPM:        15,
		OpenRouterAPIKey: "o",
	})
	chain, err := f.BuildChain(context.Background())
	require.NoError(t, err)
	require.Len(t, chain, 3)
	assert.Equal(t, "openrouter", chain[0].Name())
	assert.Equal(t, "anthropic", chain[1].Name())
	assert.Equal(t, "gemini", chain[2].Name())

	_, ok := chain[0].(*llm.InstrumentedProvider)
	assert.True(t, ok, "providers are instrumented")
}

func TestBuildChain_SkipsUnconfigured(t *testing.T) {
	clearProviderEnv(t)
	f := NewProviderFactory(FactoryConfig{GeminiAPIKey: "g"})
	chain, err := f.BuildChain(context.Background())
	require.NoError(t, err)
	require.Len(t, chain, 1)
	assert.Equal(t, "gemini", chain[0].Name())
}

func TestBuildChain_Errors(t *testing.T) {
	clearProviderEnv(t)

	_, err := NewProviderFactory(FactoryConfig{}).BuildChain(context.Background())
	assert.Error(t, err, "empty chain")

	_, err = NewProviderFactory(FactoryConfig{Chain: []string{"ollama"}, GeminiAPIKey: "g"}).BuildChain(context.Background())
	assert.ErrorContains(t, err, "unsupported provider")
}

func TestIsProviderAvailable(t *testing.T) {
	clearProviderEnv(t)
	f := NewProviderFactory(FactoryConfig{OpenRouterAPIKey: "o"})
	assert.True(t, f.IsProviderAvailable(context.Background(), ProviderOpenRouter))
	assert.False(t, f.IsProviderAvailable(context.Background(), ProviderAnthropic))
	assert.False(t, f.IsProviderAvailable(context.Background(), "unknown"))
}
