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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/recall/pkg/observability"
)

type stubProvider struct {
	resp *Response
	err  error
}

func (s *stubProvider) Name() string  { return "stub" }
func (s *stubProvider) Model() string { return "stub-1" }
func (s *stubProvider) Invoke(context.Context, *Request) (*Response, error) {
	return s.resp, s.err
}

func TestInstrumentedProvider_Success(t *testing.T) {
	tracer := observability.NewMockTracer()
	p := NewInstrumentedProvider(&stubProvider{resp: &Response{
		Text:  "<observation><type>change</type></observation>",
		Usage: Usage{InputTokens: 120, OutputTokens: 30},
	}}, tracer)

	assert.Equal(t, "stub", p.Name())
	assert.Equal(t, "stub-1", p.Model())

	resp, err := p.Invoke(context.Background(), &Request{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, 150, resp.Usage.Total())

	spans := tracer.SpansByName(SpanLLMInvoke)
	require.Len(t, spans, 1)
	assert.Equal(t, "stub", spans[0].Attributes[AttrLLMProvider])
	assert.Equal(t, false, spans[0].Attributes[AttrLLMResumed])

	in := tracer.MetricsByName(MetricLLMTokensIn)
	require.Len(t, in, 1)
	assert.Equal(t, float64(120), in[0].Value)
}

func TestInstrumentedProvider_EstimatesMissingUsage(t *testing.T) {
	p := NewInstrumentedProvider(&stubProvider{resp: &Response{Text: "some reply text"}}, nil)
	resp, err := p.Invoke(context.Background(), &Request{
		System:   "you are an observer",
		Messages: []Message{{Role: RoleUser, Content: "observe this tool call"}},
	})
	require.NoError(t, err)
	assert.Positive(t, resp.Usage.InputTokens)
	assert.Positive(t, resp.Usage.OutputTokens)
}

func TestInstrumentedProvider_Errors(t *testing.T) {
	tracer := observability.NewMockTracer()

	p := NewInstrumentedProvider(&stubProvider{err: errors.New("503 Service Unavailable")}, tracer)
	_, err := p.Invoke(context.Background(), &Request{})
	require.Error(t, err)
	errs := tracer.MetricsByName(MetricLLMErrors)
	require.Len(t, errs, 1)
	assert.Equal(t, "transient", errs[0].Labels[AttrLLMErrorClass])

	// Cancellation is not counted as a failure.
	p = NewInstrumentedProvider(&stubProvider{err: ErrCancelled}, tracer)
	_, err = p.Invoke(context.Background(), &Request{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, tracer.MetricsByName(MetricLLMErrors), 1)

	p = NewInstrumentedProvider(&stubProvider{}, tracer)
	_, err = p.Invoke(context.Background(), &Request{})
	assert.Error(t, err)
}

func TestTokenCounter(t *testing.T) {
	tc := GetTokenCounter()
	assert.Same(t, tc, GetTokenCounter())
	assert.Zero(t, tc.CountTokens(""))
	assert.Positive(t, tc.CountTokens("hello world"))

	fallback := &TokenCounter{}
	assert.Equal(t, 2, fallback.CountTokens("12345678"))
}
