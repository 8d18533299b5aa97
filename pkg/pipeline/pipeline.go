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

// Package pipeline turns a drained batch into stored memory: it renders the
// batch as an observer turn, invokes the session's backend with fallback
// across the provider chain, parses the reply and persists the results with
// the batch's original timestamp.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/recall/pkg/events"
	"github.com/teradata-labs/recall/pkg/llm"
	"github.com/teradata-labs/recall/pkg/memory"
	"github.com/teradata-labs/recall/pkg/mode"
	"github.com/teradata-labs/recall/pkg/observability"
	"github.com/teradata-labs/recall/pkg/parser"
	"github.com/teradata-labs/recall/pkg/prompts"
	"github.com/teradata-labs/recall/pkg/queue"
	"github.com/teradata-labs/recall/pkg/session"
)

const (
	SpanProcessBatch = "pipeline.process_batch"
	MetricFallback   = "llm.fallback"
)

// ModeSource supplies the active observation mode. *mode.Manager implements it.
type ModeSource interface {
	Active() *mode.Mode
}

// Config configures a Pipeline.
type Config struct {
	// Providers is the fallback chain, primary first.
	Providers []llm.Provider

	Memory *memory.Store
	Modes  ModeSource
	Events events.Sink

	// MaxTokens caps each reply. Zero uses the provider default.
	MaxTokens int

	Logger *zap.Logger
	Tracer observability.Tracer
}

// Pipeline processes batches for every session. It holds no per-session
// state; that lives on the ActiveSession.
type Pipeline struct {
	providers []llm.Provider
	memory    *memory.Store
	modes     ModeSource
	events    events.Sink
	parser    *parser.Parser
	maxTokens int
	logger    *zap.Logger
	tracer    observability.Tracer
	now       func() time.Time
}

// New validates cfg.
func New(cfg Config) (*Pipeline, error) {
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("at least one provider is required")
	}
	if cfg.Memory == nil {
		return nil, fmt.Errorf("memory store is required")
	}
	if cfg.Events == nil {
		cfg.Events = events.NopSink{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewNoOpTracer()
	}
	return &Pipeline{
		providers: cfg.Providers,
		memory:    cfg.Memory,
		modes:     cfg.Modes,
		events:    cfg.Events,
		parser:    parser.New(cfg.Logger),
		maxTokens: cfg.MaxTokens,
		logger:    cfg.Logger,
		tracer:    cfg.Tracer,
		now:       time.Now,
	}, nil
}

func (p *Pipeline) mode() *mode.Mode {
	if p.modes != nil {
		if m := p.modes.Active(); m != nil {
			return m
		}
	}
	return mode.Code()
}

// ProcessBatch implements session.BatchProcessor. A cancelled invocation
// returns an error wrapping context.Canceled so the consumer stops.
func (p *Pipeline) ProcessBatch(ctx context.Context, sess *session.ActiveSession, batch *queue.Batch) error {
	ctx, span := p.tracer.StartSpan(ctx, SpanProcessBatch)
	defer p.tracer.EndSpan(span)
	span.SetAttribute("session_id", sess.SessionID)
	span.SetAttribute("batch_size", batch.Len())

	// The batch keeps the time its oldest event was enqueued, whether or not
	// the flush succeeds.
	createdAt := p.batchTimestamp(sess, batch)
	defer sess.ClearEarliestUnprocessed()

	m := p.mode()

	// A conversation started by an earlier process is resumed only from the
	// second prompt on; otherwise the backend starts fresh.
	var resume string
	if sess.Live() {
		resume = sess.AgentSessionID()
	} else {
		resume = sess.ResumeHint()
		if resume == "" {
			sess.ResetHistory()
		}
	}
	history := sess.History()

	turn := p.renderTurn(sess, batch, len(history) == 0)
	userMsg := llm.Message{Role: llm.RoleUser, Content: turn}
	req := &llm.Request{
		System:         prompts.System(m, sess.Project),
		Messages:       append(history, userMsg),
		AgentSessionID: resume,
		MaxTokens:      p.maxTokens,
	}
	span.SetAttribute("resumed", resume != "")

	resp, err := p.invoke(ctx, sess, req)
	if err != nil {
		span.RecordError(err)
		return err
	}

	sess.AppendHistory(userMsg, llm.Message{Role: llm.RoleAssistant, Content: resp.Text})
	sess.MarkLive()
	sess.AddUsage(resp.Usage.InputTokens, resp.Usage.OutputTokens)

	var bindErr error
	if resp.AgentSessionID != "" && resp.AgentSessionID != sess.AgentSessionID() {
		if bindErr = sess.BindAgentSessionID(ctx, resp.AgentSessionID); bindErr != nil {
			p.logger.Warn("Failed to bind agent session id",
				zap.String("session_id", sess.SessionID),
				zap.String("agent_session_id", resp.AgentSessionID),
				zap.Error(bindErr))
		}
	}

	results := &memory.Results{
		SessionID:       sess.SessionID,
		AgentSessionID:  sess.AgentSessionID(),
		Project:         sess.Project,
		PromptNumber:    promptNumber(sess, batch),
		Observations:    p.parser.ParseObservations(resp.Text, m),
		Summary:         p.parser.ParseSummary(resp.Text),
		CreatedAtEpoch:  createdAt,
		DiscoveryTokens: resp.Usage.Total(),
	}
	if err := p.memory.StoreResults(ctx, results); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to store results for session %s: %w", sess.SessionID, err)
	}

	p.logger.Info("Batch processed",
		zap.String("session_id", sess.SessionID),
		zap.Int("batch_size", batch.Len()),
		zap.Int("observations", len(results.Observations)),
		zap.Bool("summary", results.Summary != nil),
		zap.Int("tokens", resp.Usage.Total()))
	p.publish(sess, results)

	if bindErr != nil {
		return fmt.Errorf("batch stored but agent session id was not bound: %w", bindErr)
	}
	return nil
}

// batchTimestamp returns the enqueue time of the oldest claimed event.
func (p *Pipeline) batchTimestamp(sess *session.ActiveSession, batch *queue.Batch) int64 {
	if ts := sess.EarliestUnprocessedTimestamp(); ts != nil && *ts > 0 {
		return *ts
	}
	var earliest int64
	for _, ev := range batch.Events {
		if ev.EnqueuedAtEpoch > 0 && (earliest == 0 || ev.EnqueuedAtEpoch < earliest) {
			earliest = ev.EnqueuedAtEpoch
		}
	}
	if earliest == 0 {
		earliest = p.now().UnixMilli()
	}
	return earliest
}

// renderTurn renders the batch as one user message. A fresh conversation
// without a prompt event in the batch is opened with the session's latest
// prompt so the backend has the request context.
func (p *Pipeline) renderTurn(sess *session.ActiveSession, batch *queue.Batch, fresh bool) string {
	var parts []string

	hasPrompt := false
	for _, ev := range batch.Events {
		if ev.Kind == queue.KindPrompt {
			hasPrompt = true
			break
		}
	}
	if fresh && !hasPrompt {
		if text := sess.LastPrompt(); text != "" {
			parts = append(parts, promptText(text, sess.LastPromptIndex(), p.now()))
		}
	}

	for _, ev := range batch.Events {
		switch {
		case ev.Type == queue.TypeSummarize:
			parts = append(parts, prompts.Summary(ev.LastAssistantMessage))
		case ev.Kind == queue.KindPrompt:
			parts = append(parts, promptText(ev.Payload, ev.PromptNumber, ev.EnqueuedAt()))
		default:
			parts = append(parts, prompts.Observation(ev))
		}
	}
	return strings.Join(parts, "\n\n")
}

func promptText(text string, n int, at time.Time) string {
	if n <= 1 {
		return prompts.Init(text, at)
	}
	return prompts.Continuation(text, n, at)
}

func promptNumber(sess *session.ActiveSession, batch *queue.Batch) int {
	n := 0
	for _, ev := range batch.Events {
		n = max(n, ev.PromptNumber)
	}
	if n == 0 {
		n = sess.LastPromptIndex()
	}
	return n
}

// invoke calls the session's active provider, moving along the chain on
// transient failures. Each provider is tried at most once per batch, and
// the same in-memory request is replayed; the queue is never touched.
func (p *Pipeline) invoke(ctx context.Context, sess *session.ActiveSession, req *llm.Request) (*llm.Response, error) {
	n := len(p.providers)
	start := sess.ActiveProvider()
	if start < 0 || start >= n {
		start = 0
	}

	var errs []error
	for i := range n {
		idx := (start + i) % n
		provider := p.providers[idx]

		resp, err := provider.Invoke(ctx, req)
		if err == nil {
			return resp, nil
		}

		switch llm.Classify(err) {
		case llm.ClassCancelled:
			p.logger.Debug("Observer call abandoned",
				zap.String("session_id", sess.SessionID),
				zap.String("provider", provider.Name()))
			return nil, llm.Cancelled(err)

		case llm.ClassTransient:
			next := (idx + 1) % n
			sess.SetActiveProvider(next)
			errs = append(errs, fmt.Errorf("%s: %w", provider.Name(), err))
			p.tracer.RecordMetric(MetricFallback, 1, map[string]string{
				"from": provider.Name(),
				"to":   p.providers[next].Name(),
			})
			p.logger.Warn("Provider failed transiently, falling back",
				zap.String("session_id", sess.SessionID),
				zap.String("provider", provider.Name()),
				zap.String("next_provider", p.providers[next].Name()),
				zap.Error(err))

		default:
			p.logger.Error("Observer call failed",
				zap.String("session_id", sess.SessionID),
				zap.String("provider", provider.Name()),
				zap.Error(err))
			return nil, fmt.Errorf("provider %s: %w", provider.Name(), err)
		}
	}

	sess.SetActiveProvider(0)
	return nil, fmt.Errorf("%w after %d attempts: %w", llm.ErrProvidersExhausted, len(errs), errors.Join(errs...))
}

func (p *Pipeline) publish(sess *session.ActiveSession, r *memory.Results) {
	for _, obs := range r.Observations {
		p.events.Publish(events.New(events.TypeNewObservation, sess.SessionID, obs))
	}
	if r.Summary != nil {
		p.events.Publish(events.New(events.TypeNewSummary, sess.SessionID, r.Summary))
	}
}

// ProviderNames lists the chain in fallback order.
func (p *Pipeline) ProviderNames() []string {
	names := make([]string, len(p.providers))
	for i, pr := range p.providers {
		names[i] = pr.Name() + "/" + pr.Model()
	}
	return names
}
