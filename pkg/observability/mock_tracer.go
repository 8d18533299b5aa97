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

package observability

import (
	"context"
	"sync"
	"time"
)

// Metric is a captured RecordMetric call.
type Metric struct {
	Name   string
	Value  float64
	Labels map[string]string
}

// MockTracer captures spans and metrics for inspection in tests.
type MockTracer struct {
	mu      sync.RWMutex
	spans   []*Span
	metrics []Metric
}

// NewMockTracer creates a new mock tracer.
func NewMockTracer() *MockTracer {
	return &MockTracer{}
}

func (m *MockTracer) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, *Span) {
	span := newSpan(ctx, name, opts)
	span.StartTime = time.Now()
	return ContextWithSpan(ctx, span), span
}

func (m *MockTracer) EndSpan(span *Span) {
	if span == nil {
		return
	}
	span.EndTime = time.Now()
	span.Duration = span.EndTime.Sub(span.StartTime)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.spans = append(m.spans, span)
}

func (m *MockTracer) RecordMetric(name string, value float64, labels map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = append(m.metrics, Metric{Name: name, Value: value, Labels: labels})
}

// SpansByName returns every ended span with the given name.
func (m *MockTracer) SpansByName(name string) []*Span {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Span
	for _, s := range m.spans {
		if s.Name == name {
			out = append(out, s)
		}
	}
	return out
}

// MetricsByName returns every recorded metric with the given name.
func (m *MockTracer) MetricsByName(name string) []Metric {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Metric
	for _, metric := range m.metrics {
		if metric.Name == name {
			out = append(out, metric)
		}
	}
	return out
}

var _ Tracer = (*MockTracer)(nil)
