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

// Package session owns the process-wide table of active sessions: one
// consumer loop per session, its cancellation, and aggregate status.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/teradata-labs/recall/internal/csync"
	"github.com/teradata-labs/recall/pkg/events"
	"github.com/teradata-labs/recall/pkg/memory"
	"github.com/teradata-labs/recall/pkg/observability"
	"github.com/teradata-labs/recall/pkg/queue"
)

var (
	// ErrSessionNotFound is returned for sessions with no durable record.
	ErrSessionNotFound = errors.New("session not found")

	// ErrConflict is returned when an agent session id is bound elsewhere.
	ErrConflict = memory.ErrConflict

	// ErrRegistryClosed is returned after Shutdown.
	ErrRegistryClosed = errors.New("session registry is shut down")
)

// DefaultSkipTools are tool names never sent to the observer.
var DefaultSkipTools = []string{
	"ListMcpResourcesTool", "SlashCommand", "Skill", "TodoWrite", "AskUserQuestion",
}

const (
	DefaultRecoveryLimit = 50
	DefaultDrainTimeout  = 30 * time.Second
)

// BatchProcessor handles one drained batch for a session.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, sess *ActiveSession, batch *queue.Batch) error
}

// BatchProcessorFunc adapts a function to BatchProcessor.
type BatchProcessorFunc func(ctx context.Context, sess *ActiveSession, batch *queue.Batch) error

func (f BatchProcessorFunc) ProcessBatch(ctx context.Context, sess *ActiveSession, batch *queue.Batch) error {
	return f(ctx, sess, batch)
}

// Config configures a Registry.
type Config struct {
	Memory    *memory.Store
	Queue     queue.Store
	Processor BatchProcessor
	Events    events.Sink

	MaxBatchSize int
	RetryBackoff time.Duration

	// SkipTools are dropped at enqueue. nil selects DefaultSkipTools.
	SkipTools []string

	// DrainTimeout bounds how long Complete waits for queued work.
	DrainTimeout time.Duration

	HistoryLimit int

	Logger *zap.Logger
	Tracer observability.Tracer
}

// Registry is the table of active sessions.
type Registry struct {
	cfg      Config
	sessions *csync.Map[string, *ActiveSession]
	group    singleflight.Group
	skip     map[string]bool

	baseCtx context.Context
	stopAll context.CancelFunc
	closed  atomic.Bool

	logger *zap.Logger
	tracer observability.Tracer
}

// NewRegistry validates cfg and creates an empty registry.
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.Memory == nil {
		return nil, fmt.Errorf("memory store is required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("queue store is required")
	}
	if cfg.Processor == nil {
		return nil, fmt.Errorf("batch processor is required")
	}
	if cfg.Events == nil {
		cfg.Events = events.NopSink{}
	}
	if cfg.SkipTools == nil {
		cfg.SkipTools = DefaultSkipTools
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewNoOpTracer()
	}

	skip := make(map[string]bool, len(cfg.SkipTools))
	for _, name := range cfg.SkipTools {
		skip[strings.TrimSpace(name)] = true
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		cfg:      cfg,
		sessions: csync.NewMap[string, *ActiveSession](),
		skip:     skip,
		baseCtx:  ctx,
		stopAll:  cancel,
		logger:   cfg.Logger,
		tracer:   cfg.Tracer,
	}, nil
}

// GetOrCreate returns the active session, creating the durable row and
// starting its consumer on first use. Concurrent calls for one id share a
// single creation.
func (r *Registry) GetOrCreate(ctx context.Context, sessionID, project, prompt string) (*ActiveSession, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("session id cannot be empty")
	}
	if r.closed.Load() {
		return nil, ErrRegistryClosed
	}
	if s, err := r.lookup(ctx, sessionID); s != nil || err != nil {
		return s, err
	}

	// The shared creation must not fail for every waiter when the first
	// caller goes away.
	createCtx := context.WithoutCancel(ctx)
	v, err, _ := r.group.Do(sessionID, func() (any, error) {
		if s, err := r.lookup(createCtx, sessionID); s != nil || err != nil {
			return s, err
		}
		return r.create(createCtx, sessionID, project, prompt)
	})
	if err != nil {
		return nil, err
	}
	return v.(*ActiveSession), nil
}

// lookup returns the running session for id. A session that is stopping is
// waited out so the caller starts a fresh loop instead of reusing a dead one.
func (r *Registry) lookup(ctx context.Context, sessionID string) (*ActiveSession, error) {
	s, ok := r.sessions.Get(sessionID)
	if !ok {
		return nil, nil
	}
	if s.ctx.Err() == nil {
		return s, nil
	}
	select {
	case <-s.done:
		return nil, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for session %s to stop: %w", sessionID, ctx.Err())
	}
}

func (r *Registry) create(ctx context.Context, sessionID, project, prompt string) (*ActiveSession, error) {
	rec, err := r.cfg.Memory.CreateSession(ctx, sessionID, project, prompt)
	if err != nil {
		return nil, err
	}
	if rec.Status != memory.StatusActive {
		if err := r.cfg.Memory.SetStatus(ctx, sessionID, memory.StatusActive); err != nil {
			return nil, err
		}
	}

	lastPrompt := rec.UserPrompt
	if rec.PromptCounter > 0 {
		if prompts, err := r.cfg.Memory.ListUserPrompts(ctx, sessionID); err == nil && len(prompts) > 0 {
			lastPrompt = prompts[len(prompts)-1].Text
		}
	}

	sessCtx, cancel := context.WithCancel(WithSessionID(r.baseCtx, sessionID))
	sess := &ActiveSession{
		SessionID:       sessionID,
		Project:         rec.Project,
		StartedAt:       time.Now(),
		state:           StateCreated,
		agentSessionID:  rec.AgentSessionID,
		lastPromptIndex: rec.PromptCounter,
		lastPrompt:      lastPrompt,
		historyLimit:    r.cfg.HistoryLimit,
		ctx:             sessCtx,
		cancel:          cancel,
		wake:            queue.NewSignal(),
		done:            make(chan struct{}),
		bind:            r.BindAgentSessionID,
	}

	consumer, err := queue.NewConsumer(queue.ConsumerConfig{
		SessionID: sessionID,
		Store:     r.cfg.Queue,
		Wake:      sess.wake,
		Handler: queue.BatchHandlerFunc(func(ctx context.Context, b *queue.Batch) error {
			return r.handleBatch(ctx, sess, b)
		}),
		MaxBatchSize: r.cfg.MaxBatchSize,
		RetryBackoff: r.cfg.RetryBackoff,
		OnClaim:      sess.noteClaimed,
		Logger:       r.logger,
		Tracer:       r.tracer,
	})
	if err != nil {
		cancel()
		return nil, err
	}
	sess.consumer = consumer

	sess.transition(StateStarting)
	r.sessions.Set(sessionID, sess)
	go r.run(sess)
	sess.transition(StateActive)

	r.logger.Info("Session started",
		zap.String("session_id", sessionID),
		zap.String("project", sess.Project),
		zap.Int("prompt_counter", rec.PromptCounter))
	r.cfg.Events.Publish(events.New(events.TypeSessionStarted, sessionID, map[string]any{
		"project": sess.Project,
	}))
	return sess, nil
}

// run drives the consumer. However the loop ends, the session leaves the
// table before done closes so the next request starts a fresh one.
func (r *Registry) run(sess *ActiveSession) {
	defer close(sess.done)

	if err := sess.consumer.Run(sess.ctx); err != nil {
		r.logger.Error("Consumer loop failed", zap.String("session_id", sess.SessionID), zap.Error(err))
	}
	if sess.ctx.Err() == nil {
		r.logger.Info("Consumer loop ended", zap.String("session_id", sess.SessionID))
		sess.transition(StateTerminated)
		sess.cancel()
	}
	r.sessions.CompareAndDelete(sess.SessionID, func(cur *ActiveSession) bool { return cur == sess })
}

func (r *Registry) handleBatch(ctx context.Context, sess *ActiveSession, b *queue.Batch) error {
	err := r.cfg.Processor.ProcessBatch(ctx, sess, b)
	// The consumer clears busy only after this returns.
	r.broadcastStatus(context.WithoutCancel(ctx), sess)
	return err
}

// SubmitPrompt records a user prompt and queues it for the observer. The
// prompt number is returned. A prompt that is private after tag stripping
// is recorded but not queued.
func (r *Registry) SubmitPrompt(ctx context.Context, sessionID, project, prompt string) (*ActiveSession, int, error) {
	clean := strings.TrimSpace(StripPrivateTags(prompt))

	sess, err := r.GetOrCreate(ctx, sessionID, project, clean)
	if err != nil {
		return nil, 0, err
	}
	n, err := r.cfg.Memory.SaveUserPrompt(ctx, sessionID, clean)
	if err != nil {
		return nil, 0, r.mapStoreErr(err)
	}
	sess.setPrompt(n, clean)
	sess.transition(StateActive)

	if IsPrivateOnly(prompt) {
		r.logger.Debug("Prompt entirely private, not observed",
			zap.String("session_id", sessionID), zap.Int("prompt_number", n))
		return sess, n, nil
	}

	if _, err := r.cfg.Queue.Enqueue(ctx, &queue.PendingEvent{
		SessionID:    sessionID,
		Type:         queue.TypeObservation,
		Kind:         queue.KindPrompt,
		Payload:      clean,
		PromptNumber: n,
	}); err != nil {
		return nil, 0, r.mapStoreErr(err)
	}
	sess.Wake()

	r.cfg.Events.Publish(events.New(events.TypeNewPrompt, sessionID, map[string]any{
		"promptNumber": n,
		"prompt":       clean,
		"project":      sess.Project,
	}))
	return sess, n, nil
}

// Enqueue queues a tool event for an existing session and wakes its
// consumer. Skipped tools return id 0 and no error.
func (r *Registry) Enqueue(ctx context.Context, sessionID string, ev *queue.PendingEvent) (int64, error) {
	if ev == nil {
		return 0, fmt.Errorf("event cannot be nil")
	}
	rec, err := r.cfg.Memory.GetSession(ctx, sessionID)
	if err != nil {
		return 0, r.mapStoreErr(err)
	}
	if ev.Type != queue.TypeSummarize && r.skip[ev.Kind] {
		r.logger.Debug("Skipping tool", zap.String("session_id", sessionID), zap.String("tool", ev.Kind))
		return 0, nil
	}
	sess, err := r.GetOrCreate(ctx, sessionID, rec.Project, "")
	if err != nil {
		return 0, err
	}

	ev.SessionID = sessionID
	ev.Payload = StripPrivateTags(ev.Payload)
	ev.LastAssistantMessage = StripPrivateTags(ev.LastAssistantMessage)
	if ev.PromptNumber == 0 {
		ev.PromptNumber = sess.LastPromptIndex()
	}

	id, err := r.cfg.Queue.Enqueue(ctx, ev)
	if err != nil {
		return 0, r.mapStoreErr(err)
	}
	sess.Wake()

	r.cfg.Events.Publish(events.New(events.TypeObservationQueued, sessionID, map[string]any{
		"eventId": id,
		"kind":    ev.Kind,
	}))
	return id, nil
}

// RequestSummary moves the session to completing and queues a summary
// request.
func (r *Registry) RequestSummary(ctx context.Context, sessionID, lastAssistantMessage string) error {
	rec, err := r.cfg.Memory.GetSession(ctx, sessionID)
	if err != nil {
		return r.mapStoreErr(err)
	}
	sess, err := r.GetOrCreate(ctx, sessionID, rec.Project, "")
	if err != nil {
		return err
	}
	sess.transition(StateCompleting)

	_, err = r.Enqueue(ctx, sessionID, &queue.PendingEvent{
		Type:                 queue.TypeSummarize,
		Kind:                 queue.KindSummarize,
		LastAssistantMessage: lastAssistantMessage,
		PromptNumber:         sess.LastPromptIndex(),
	})
	return err
}

// BindAgentSessionID binds a backend conversation id to a session. A
// conflicting binding fails with ErrConflict and leaves the first intact.
func (r *Registry) BindAgentSessionID(ctx context.Context, sessionID, agentSessionID string) error {
	if err := r.cfg.Memory.BindAgentSessionID(ctx, sessionID, agentSessionID); err != nil {
		return r.mapStoreErr(err)
	}
	if s, ok := r.sessions.Get(sessionID); ok {
		s.setAgentSessionID(agentSessionID)
	}
	return nil
}

// Complete lets queued work drain (bounded by DrainTimeout), stops the
// session and marks it completed. Completing an inactive session only
// updates the durable row.
func (r *Registry) Complete(ctx context.Context, sessionID string) error {
	if _, err := r.cfg.Memory.GetSession(ctx, sessionID); err != nil {
		return r.mapStoreErr(err)
	}

	sess, wasActive := r.sessions.Get(sessionID)
	if wasActive {
		r.waitIdle(ctx, sess)
		if err := r.stop(ctx, sess); err != nil {
			return err
		}
	}
	if err := r.cfg.Memory.SetStatus(ctx, sessionID, memory.StatusCompleted); err != nil {
		return r.mapStoreErr(err)
	}

	if wasActive {
		in, out := sess.Usage()
		r.logger.Info("Session completed",
			zap.String("session_id", sessionID),
			zap.Int64("input_tokens", in),
			zap.Int64("output_tokens", out))
		r.cfg.Events.Publish(events.New(events.TypeSessionCompleted, sessionID, nil))
		r.BroadcastStatus(ctx)
	}
	return nil
}

// Cancel stops the session immediately. Queued events stay durable and are
// picked up by recovery.
func (r *Registry) Cancel(ctx context.Context, sessionID string) error {
	sess, ok := r.sessions.Get(sessionID)
	if !ok {
		return nil
	}
	if err := r.stop(ctx, sess); err != nil {
		return err
	}
	r.logger.Info("Session cancelled", zap.String("session_id", sessionID))
	r.BroadcastStatus(ctx)
	return nil
}

// stop fires cancellation and waits for the loop, which removes the entry
// itself. Giving up on the wait leaves the loop to finish on its own.
func (r *Registry) stop(ctx context.Context, sess *ActiveSession) error {
	sess.transition(StateTerminated)
	sess.cancel()
	select {
	case <-sess.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for session %s to stop: %w", sess.SessionID, ctx.Err())
	}
}

func (r *Registry) waitIdle(ctx context.Context, sess *ActiveSession) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.DrainTimeout)
	defer cancel()

	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()
	for {
		n, err := r.cfg.Queue.Count(ctx, sess.SessionID)
		if err == nil && n == 0 && !sess.Busy() {
			return
		}
		select {
		case <-ctx.Done():
			r.logger.Warn("Completing session with work outstanding",
				zap.String("session_id", sess.SessionID), zap.Int("queued", n))
			return
		case <-sess.done:
			return
		case <-ticker.C:
		}
	}
}

// TotalOutstandingWork counts queued events plus sessions mid-batch.
func (r *Registry) TotalOutstandingWork(ctx context.Context) (int, error) {
	n, err := r.cfg.Queue.CountAll(ctx)
	if err != nil {
		return 0, err
	}
	for _, s := range r.sessions.Values() {
		if s.Busy() {
			n++
		}
	}
	return n, nil
}

// Status returns the aggregate processing status.
func (r *Registry) Status(ctx context.Context) (events.ProcessingStatus, error) {
	return r.status(ctx, nil)
}

func (r *Registry) status(ctx context.Context, finished *ActiveSession) (events.ProcessingStatus, error) {
	depth, err := r.cfg.Queue.CountAll(ctx)
	if err != nil {
		return events.ProcessingStatus{}, err
	}
	busy := 0
	for _, s := range r.sessions.Values() {
		if s != finished && s.Busy() {
			busy++
		}
	}
	r.tracer.RecordMetric("queue.depth", float64(depth), nil)
	return events.ProcessingStatus{
		IsProcessing:   depth+busy > 0,
		QueueDepth:     depth,
		ActiveSessions: r.sessions.Len(),
	}, nil
}

// BroadcastStatus publishes the current processing status.
func (r *Registry) BroadcastStatus(ctx context.Context) {
	r.broadcastStatus(ctx, nil)
}

func (r *Registry) broadcastStatus(ctx context.Context, finished *ActiveSession) {
	st, err := r.status(ctx, finished)
	if err != nil {
		r.logger.Warn("Failed to compute processing status", zap.Error(err))
		return
	}
	r.cfg.Events.Publish(events.StatusEvent(st))
}

// Get returns the active session.
func (r *Registry) Get(sessionID string) (*ActiveSession, bool) {
	return r.sessions.Get(sessionID)
}

// ActiveCount returns the number of active sessions.
func (r *Registry) ActiveCount() int {
	return r.sessions.Len()
}

// Snapshot returns every active session ordered by start time.
func (r *Registry) Snapshot() []Snapshot {
	sessions := r.sessions.Values()
	slices.SortFunc(sessions, func(a, b *ActiveSession) int {
		return a.StartedAt.Compare(b.StartedAt)
	})
	out := make([]Snapshot, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Snapshot())
	}
	return out
}

// RecoverPending starts consumers for sessions with queued work and no
// active loop. It returns the number of sessions started.
func (r *Registry) RecoverPending(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = DefaultRecoveryLimit
	}
	ids, err := r.cfg.Queue.SessionsWithPending(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending sessions: %w", err)
	}

	started := 0
	for _, id := range ids {
		if s, ok := r.sessions.Get(id); ok && s.ctx.Err() == nil {
			continue
		}
		rec, err := r.cfg.Memory.GetSession(ctx, id)
		if err != nil {
			r.logger.Warn("Skipping pending queue for unknown session", zap.String("session_id", id), zap.Error(err))
			continue
		}
		sess, err := r.GetOrCreate(ctx, id, rec.Project, "")
		if err != nil {
			return started, err
		}
		sess.Wake()
		started++
	}
	if started > 0 {
		r.logger.Info("Recovered pending queues", zap.Int("sessions", started))
	}
	return started, nil
}

// Shutdown cancels every session and waits for every loop.
func (r *Registry) Shutdown(ctx context.Context) error {
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}
	r.stopAll()

	g, gctx := errgroup.WithContext(ctx)
	for _, s := range r.sessions.Values() {
		s.transition(StateTerminated)
		g.Go(func() error {
			select {
			case <-s.done:
				return nil
			case <-gctx.Done():
				return fmt.Errorf("session %s did not stop: %w", s.SessionID, gctx.Err())
			}
		})
	}
	return g.Wait()
}

func (r *Registry) mapStoreErr(err error) error {
	switch {
	case errors.Is(err, memory.ErrNotFound), errors.Is(err, queue.ErrUnknownSession):
		return fmt.Errorf("%w: %w", ErrSessionNotFound, err)
	default:
		return err
	}
}
