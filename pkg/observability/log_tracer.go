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
	"time"

	"go.uber.org/zap"
)

// LogTracer writes finished spans and metrics to a zap logger at debug
// level, failed spans at warn. Used by recalld when tracing is enabled
// without an external collector.
type LogTracer struct {
	logger *zap.Logger
}

// NewLogTracer creates a tracer backed by logger.
func NewLogTracer(logger *zap.Logger) *LogTracer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogTracer{logger: logger.Named("trace")}
}

func (t *LogTracer) StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, *Span) {
	span := newSpan(ctx, name, opts)
	span.StartTime = time.Now()
	return ContextWithSpan(ctx, span), span
}

func (t *LogTracer) EndSpan(span *Span) {
	if span == nil {
		return
	}
	span.EndTime = time.Now()
	span.Duration = span.EndTime.Sub(span.StartTime)

	fields := make([]zap.Field, 0, len(span.Attributes)+4)
	fields = append(fields,
		zap.String("span", span.Name),
		zap.String("trace_id", span.TraceID),
		zap.Duration("duration", span.Duration))
	for k, v := range span.Attributes {
		fields = append(fields, zap.Any(k, v))
	}

	if span.Status == StatusError {
		t.logger.Warn("span failed", append(fields, zap.String("error", span.Message))...)
		return
	}
	t.logger.Debug("span", fields...)
}

func (t *LogTracer) RecordMetric(name string, value float64, labels map[string]string) {
	t.logger.Debug("metric",
		zap.String("metric", name),
		zap.Float64("value", value),
		zap.Any("labels", labels))
}

var _ Tracer = (*LogTracer)(nil)
