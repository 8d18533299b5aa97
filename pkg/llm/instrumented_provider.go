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
	"fmt"
	"time"

	"github.com/teradata-labs/recall/pkg/observability"
)

// Span and metric names for backend calls.
const (
	SpanLLMInvoke        = "llm.invoke"
	MetricLLMCalls       = "llm.calls"
	MetricLLMErrors      = "llm.errors"
	MetricLLMLatency     = "llm.latency_ms"
	MetricLLMTokensIn    = "llm.tokens.input"
	MetricLLMTokensOut   = "llm.tokens.output"
	AttrLLMProvider      = "llm.provider"
	AttrLLMModel         = "llm.model"
	AttrLLMErrorClass    = "llm.error_class"
	AttrLLMResumed       = "llm.resumed"
	AttrLLMMessagesCount = "llm.messages.count"
)

// InstrumentedProvider wraps a Provider with tracing and metrics, and fills
// in estimated usage when the backend reports none.
type InstrumentedProvider struct {
	provider Provider
	tracer   observability.Tracer
	counter  *TokenCounter
}

// NewInstrumentedProvider wraps provider. A nil tracer disables tracing.
func NewInstrumentedProvider(provider Provider, tracer observability.Tracer) *InstrumentedProvider {
	if tracer == nil {
		tracer = observability.NewNoOpTracer()
	}
	return &InstrumentedProvider{provider: provider, tracer: tracer, counter: GetTokenCounter()}
}

func (p *InstrumentedProvider) Name() string  { return p.provider.Name() }
func (p *InstrumentedProvider) Model() string { return p.provider.Model() }

// Unwrap returns the underlying provider.
func (p *InstrumentedProvider) Unwrap() Provider { return p.provider }

// Invoke calls the wrapped provider inside an llm.invoke span.
func (p *InstrumentedProvider) Invoke(ctx context.Context, req *Request) (*Response, error) {
	ctx, span := p.tracer.StartSpan(ctx, SpanLLMInvoke)
	defer p.tracer.EndSpan(span)

	labels := map[string]string{
		AttrLLMProvider: p.provider.Name(),
		AttrLLMModel:    p.provider.Model(),
	}
	span.SetAttribute(AttrLLMProvider, p.provider.Name())
	span.SetAttribute(AttrLLMModel, p.provider.Model())
	span.SetAttribute(AttrLLMMessagesCount, len(req.Messages))
	span.SetAttribute(AttrLLMResumed, req.AgentSessionID != "")

	start := time.Now()
	resp, err := p.provider.Invoke(ctx, req)
	duration := time.Since(start)

	if err != nil {
		class := Classify(err)
		span.SetAttribute(AttrLLMErrorClass, class.String())
		if class != ClassCancelled {
			span.RecordError(err)
			p.tracer.RecordMetric(MetricLLMErrors, 1, map[string]string{
				AttrLLMProvider:   p.provider.Name(),
				AttrLLMModel:      p.provider.Model(),
				AttrLLMErrorClass: class.String(),
			})
		}
		return nil, err
	}
	if resp == nil {
		err := fmt.Errorf("%s returned no response", p.provider.Name())
		span.RecordError(err)
		return nil, err
	}

	if resp.Usage.InputTokens == 0 {
		resp.Usage.InputTokens = p.counter.EstimateRequest(req)
	}
	if resp.Usage.OutputTokens == 0 && resp.Text != "" {
		resp.Usage.OutputTokens = p.counter.CountTokens(resp.Text)
	}

	span.SetAttribute("llm.tokens.input", resp.Usage.InputTokens)
	span.SetAttribute("llm.tokens.output", resp.Usage.OutputTokens)
	span.SetAttribute("llm.duration_ms", duration.Milliseconds())

	p.tracer.RecordMetric(MetricLLMCalls, 1, labels)
	p.tracer.RecordMetric(MetricLLMLatency, float64(duration.Milliseconds()), labels)
	p.tracer.RecordMetric(MetricLLMTokensIn, float64(resp.Usage.InputTokens), labels)
	p.tracer.RecordMetric(MetricLLMTokensOut, float64(resp.Usage.OutputTokens), labels)
	return resp, nil
}
