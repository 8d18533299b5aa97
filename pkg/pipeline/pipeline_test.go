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

package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/recall/pkg/events"
	"github.com/teradata-labs/recall/pkg/llm"
	"github.com/teradata-labs/recall/pkg/memory"
	"github.com/teradata-labs/recall/pkg/observability"
	"github.com/teradata-labs/recall/pkg/queue"
	"github.com/teradata-labs/recall/pkg/session"
	"github.com/teradata-labs/recall/pkg/storage/sqlite"
)

const observationReply = `Noted.
<observation>
  <type>feature</type>
  <title>Queue consumer added</title>
  <narrative>The consumer drains events greedily.</narrative>
  <facts><fact>batches close on summarize</fact></facts>
  <concepts><concept>pattern</concept></concepts>
  <files_modified><file>pkg/queue/consumer.go</file></files_modified>
</observation>`

// fakeProvider fails with queued errors, then replies.
type fakeProvider struct {
	name    string
	reply   string
	agentID string

	mu    sync.Mutex
	errs  []error
	calls []llm.Request
}

func (f *fakeProvider) Name() string  { return f.name }
func (f *fakeProvider) Model() string { return f.name + "-model" }

func (f *fakeProvider) Invoke(_ context.Context, req *llm.Request) (*llm.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, *req)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	id := f.agentID
	if id == "" {
		id = llm.ConversationID(req)
	}
	return &llm.Response{
		Text:           f.reply,
		AgentSessionID: id,
		Usage:          llm.Usage{InputTokens: 120, OutputTokens: 30},
		Model:          f.Model(),
	}, nil
}

func (f *fakeProvider) Calls() []llm.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]llm.Request(nil), f.calls...)
}

// blockingProvider holds every call until its context ends.
type blockingProvider struct {
	name    string
	started chan struct{}
	once    sync.Once
}

func (b *blockingProvider) Name() string  { return b.name }
func (b *blockingProvider) Model() string { return b.name + "-model" }

func (b *blockingProvider) Invoke(ctx context.Context, _ *llm.Request) (*llm.Response, error) {
	b.once.Do(func() { close(b.started) })
	<-ctx.Done()
	return nil, ctx.Err()
}

type eventLog struct {
	mu  sync.Mutex
	evs []events.Event
	got chan events.Type
}

func newEventLog() *eventLog {
	return &eventLog{got: make(chan events.Type, 256)}
}

func (l *eventLog) Publish(ev events.Event) {
	l.mu.Lock()
	l.evs = append(l.evs, ev)
	l.mu.Unlock()
	l.got <- ev.Type
}

func (l *eventLog) count(t events.Type) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, ev := range l.evs {
		if ev.Type == t {
			n++
		}
	}
	return n
}

func (l *eventLog) waitFor(t *testing.T, want events.Type) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case got := <-l.got:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

type fixture struct {
	mem      *memory.Store
	queue    *queue.SQLiteStore
	reg      *session.Registry
	pipeline *Pipeline
	events   *eventLog
	tracer   *observability.MockTracer
}

func newFixture(t *testing.T, providers ...llm.Provider) *fixture {
	t.Helper()
	ctx := context.Background()
	db, err := sqlite.Open(ctx, sqlite.Options{Path: filepath.Join(t.TempDir(), "recall.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	tracer := observability.NewMockTracer()
	mem, err := memory.NewStore(db, memory.Options{Tracer: tracer})
	require.NoError(t, err)
	t.Cleanup(mem.Close)

	log := newEventLog()
	p, err := New(Config{Providers: providers, Memory: mem, Events: log, Tracer: tracer})
	require.NoError(t, err)

	q := queue.NewSQLiteStore(db, tracer, nil)
	reg, err := session.NewRegistry(session.Config{
		Memory:       mem,
		Queue:        q,
		Processor:    p,
		Events:       log,
		RetryBackoff: 10 * time.Millisecond,
		Tracer:       tracer,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = reg.Shutdown(ctx)
	})
	return &fixture{mem: mem, queue: q, reg: reg, pipeline: p, events: log, tracer: tracer}
}

func toolBatch(sessionID string, enqueuedAt int64, kinds ...string) *queue.Batch {
	b := queue.NewBatch(sessionID)
	for _, k := range kinds {
		b.Add(&queue.PendingEvent{
			SessionID:       sessionID,
			Type:            queue.TypeObservation,
			Kind:            k,
			Payload:         `{"input":{"path":"main.go"},"output":"ok"}`,
			EnqueuedAtEpoch: enqueuedAt,
		})
	}
	return b
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
	_, err = New(Config{Providers: []llm.Provider{&fakeProvider{name: "a"}}})
	assert.Error(t, err)
}

func TestProcessBatch_FallbackOnTransientError(t *testing.T) {
	primary := &fakeProvider{name: "primary", errs: []error{
		&llm.StatusError{Provider: "primary", StatusCode: 503, Body: "overloaded"},
	}}
	secondary := &fakeProvider{name: "secondary", reply: observationReply}
	f := newFixture(t, primary, secondary)
	ctx := context.Background()

	sess, err := f.reg.GetOrCreate(ctx, "S1", "recall", "")
	require.NoError(t, err)

	require.NoError(t, f.pipeline.ProcessBatch(ctx, sess, toolBatch("S1", 1000, "Edit")))

	require.Len(t, primary.Calls(), 1)
	require.Len(t, secondary.Calls(), 1)
	assert.Equal(t, primary.Calls()[0].Messages, secondary.Calls()[0].Messages, "same batch is replayed")
	assert.Equal(t, 1, sess.ActiveProvider())
	assert.Len(t, f.tracer.MetricsByName(MetricFallback), 1)

	obs, err := f.mem.ListObservations(ctx, "S1", 0)
	require.NoError(t, err)
	assert.Len(t, obs, 1)

	// The session stays on the backend that worked.
	require.NoError(t, f.pipeline.ProcessBatch(ctx, sess, toolBatch("S1", 2000, "Read")))
	assert.Len(t, primary.Calls(), 1)
	assert.Len(t, secondary.Calls(), 2)
}

func TestProcessBatch_FallbackLeavesQueueUntouched(t *testing.T) {
	primary := &fakeProvider{name: "primary", errs: []error{errors.New("fetch failed: ECONNREFUSED")}}
	secondary := &fakeProvider{name: "secondary", reply: observationReply}
	f := newFixture(t, primary, secondary)
	ctx := context.Background()

	_, _, err := f.reg.SubmitPrompt(ctx, "S1", "recall", "build the consumer")
	require.NoError(t, err)
	f.events.waitFor(t, events.TypeNewObservation)

	n, err := f.queue.Count(ctx, "S1")
	require.NoError(t, err)
	assert.Zero(t, n)

	obs, err := f.mem.ListObservations(ctx, "S1", 0)
	require.NoError(t, err)
	assert.Len(t, obs, 1, "batch processed exactly once")
	assert.Len(t, primary.Calls(), 1)
	assert.Len(t, secondary.Calls(), 1)
}

func TestProcessBatch_AbortDoesNotFallBack(t *testing.T) {
	primary := &fakeProvider{name: "primary", errs: []error{errors.New("AbortError: The operation was aborted")}}
	secondary := &fakeProvider{name: "secondary", reply: observationReply}
	f := newFixture(t, primary, secondary)
	ctx := context.Background()

	sess, err := f.reg.GetOrCreate(ctx, "S1", "recall", "")
	require.NoError(t, err)

	err = f.pipeline.ProcessBatch(ctx, sess, toolBatch("S1", 1000, "Bash"))
	require.Error(t, err)
	assert.ErrorIs(t, err, llm.ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, sess.ActiveProvider())
	assert.Empty(t, secondary.Calls())
	assert.Nil(t, sess.EarliestUnprocessedTimestamp())
}

func TestProcessBatch_AbortEndsConsumerLoop(t *testing.T) {
	primary := &fakeProvider{name: "primary", errs: []error{errors.New("AbortError: request aborted by user")}}
	f := newFixture(t, primary)
	ctx := context.Background()

	sess, _, err := f.reg.SubmitPrompt(ctx, "S1", "recall", "go")
	require.NoError(t, err)

	select {
	case <-sess.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("consumer kept running after abort")
	}
	assert.Zero(t, sess.ActiveProvider())
}

func TestProcessBatch_CancelDuringInvokeDoesNotFallBack(t *testing.T) {
	primary := &blockingProvider{name: "primary", started: make(chan struct{})}
	secondary := &fakeProvider{name: "secondary", reply: observationReply}
	f := newFixture(t, primary, secondary)
	ctx := context.Background()

	sess, _, err := f.reg.SubmitPrompt(ctx, "S1", "recall", "go")
	require.NoError(t, err)

	select {
	case <-primary.started:
	case <-time.After(5 * time.Second):
		t.Fatal("provider was never called")
	}

	require.NoError(t, f.reg.Cancel(ctx, "S1"))
	require.NoError(t, f.reg.Cancel(ctx, "S1"))

	select {
	case <-sess.Done():
	default:
		t.Fatal("consumer still running after Cancel")
	}
	assert.Zero(t, sess.ActiveProvider())
	assert.Empty(t, secondary.Calls())
	assert.Empty(t, f.tracer.MetricsByName(MetricFallback))
	assert.Zero(t, f.reg.ActiveCount())
}

func TestProcessBatch_TerminalErrorDoesNotSwitch(t *testing.T) {
	primary := &fakeProvider{name: "primary", errs: []error{
		&llm.StatusError{Provider: "primary", StatusCode: 400, Body: "bad request"},
	}}
	secondary := &fakeProvider{name: "secondary", reply: observationReply}
	f := newFixture(t, primary, secondary)
	ctx := context.Background()

	sess, err := f.reg.GetOrCreate(ctx, "S1", "recall", "")
	require.NoError(t, err)

	err = f.pipeline.ProcessBatch(ctx, sess, toolBatch("S1", 1000, "Bash"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, llm.ErrProvidersExhausted)
	assert.Zero(t, sess.ActiveProvider())
	assert.Empty(t, secondary.Calls())
}

func TestProcessBatch_ExhaustionResetsToPrimary(t *testing.T) {
	busy := func(name string) error { return &llm.StatusError{Provider: name, StatusCode: 429} }
	primary := &fakeProvider{name: "primary", errs: []error{busy("primary")}}
	secondary := &fakeProvider{name: "secondary", errs: []error{busy("secondary")}}
	f := newFixture(t, primary, secondary)
	ctx := context.Background()

	sess, err := f.reg.GetOrCreate(ctx, "S1", "recall", "")
	require.NoError(t, err)

	err = f.pipeline.ProcessBatch(ctx, sess, toolBatch("S1", 1000, "Bash"))
	require.ErrorIs(t, err, llm.ErrProvidersExhausted)
	assert.Contains(t, err.Error(), "primary")
	assert.Contains(t, err.Error(), "secondary")
	assert.Zero(t, sess.ActiveProvider())
	assert.Len(t, primary.Calls(), 1)
	assert.Len(t, secondary.Calls(), 1)
}

func TestProcessBatch_PreservesEnqueueTimestamp(t *testing.T) {
	provider := &fakeProvider{name: "primary", reply: observationReply}
	f := newFixture(t, provider)
	ctx := context.Background()

	const t0 = int64(1_700_000_000_000)
	_, err := f.reg.GetOrCreate(ctx, "S1", "recall", "")
	require.NoError(t, err)
	_, err = f.reg.Enqueue(ctx, "S1", &queue.PendingEvent{
		Kind:            "Write",
		Payload:         `{"input":{"path":"a.go"}}`,
		EnqueuedAtEpoch: t0,
	})
	require.NoError(t, err)
	f.events.waitFor(t, events.TypeProcessingStatus)

	obs, err := f.mem.ListObservations(ctx, "S1", 0)
	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.Equal(t, t0, obs[0].CreatedAtEpoch)
	assert.Equal(t, memory.FormatEpoch(t0), obs[0].CreatedAt)

	sess, ok := f.reg.Get("S1")
	require.True(t, ok)
	assert.Nil(t, sess.EarliestUnprocessedTimestamp(), "cleared after flush")
}

func TestProcessBatch_ResumeWithheldOnFirstPrompt(t *testing.T) {
	provider := &fakeProvider{name: "primary", reply: "nothing notable"}
	f := newFixture(t, provider)
	ctx := context.Background()

	_, err := f.mem.CreateSession(ctx, "S1", "recall", "")
	require.NoError(t, err)
	require.NoError(t, f.mem.BindAgentSessionID(ctx, "S1", "stale-agent"))

	sess, n, err := f.reg.SubmitPrompt(ctx, "S1", "recall", "first request")
	require.NoError(t, err)
	require.Equal(t, 1, n)
	f.events.waitFor(t, events.TypeProcessingStatus)

	calls := provider.Calls()
	require.Len(t, calls, 1)
	assert.Empty(t, calls[0].AgentSessionID)
	assert.Contains(t, calls[0].Messages[0].Content, "first request")

	// The fresh conversation is bound in place of the stale one.
	rec, err := f.mem.GetSession(ctx, "S1")
	require.NoError(t, err)
	assert.NotEqual(t, "stale-agent", rec.AgentSessionID)
	assert.NotEmpty(t, rec.AgentSessionID)

	// Still on prompt 1, a later batch stays in the conversation this
	// process started.
	require.True(t, sess.Live())
	require.NoError(t, f.pipeline.ProcessBatch(ctx, sess, toolBatch("S1", 2000, "Read")))
	calls = provider.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, rec.AgentSessionID, calls[1].AgentSessionID)
}

func TestProcessBatch_ResumesAfterRestart(t *testing.T) {
	provider := &fakeProvider{name: "primary", reply: observationReply}
	f := newFixture(t, provider)
	ctx := context.Background()

	_, err := f.mem.CreateSession(ctx, "S1", "recall", "")
	require.NoError(t, err)
	for _, p := range []string{"first request", "second request"} {
		_, err := f.mem.SaveUserPrompt(ctx, "S1", p)
		require.NoError(t, err)
	}
	require.NoError(t, f.mem.BindAgentSessionID(ctx, "S1", "agent-7"))

	sess, err := f.reg.GetOrCreate(ctx, "S1", "recall", "")
	require.NoError(t, err)
	require.NoError(t, f.pipeline.ProcessBatch(ctx, sess, toolBatch("S1", 1000, "Grep")))

	calls := provider.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "agent-7", calls[0].AgentSessionID)
	require.Len(t, calls[0].Messages, 1)
	first := calls[0].Messages[0].Content
	assert.Contains(t, first, "second request", "fresh conversation opens with the latest prompt")
	assert.Contains(t, first, "<prompt_number>2</prompt_number>")
	assert.Contains(t, first, "Grep")

	obs, err := f.mem.ListObservations(ctx, "S1", 0)
	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.Equal(t, 2, obs[0].PromptNumber)
	assert.Equal(t, "agent-7", obs[0].AgentSessionID)

	// Later batches continue the live conversation with its history.
	require.NoError(t, f.pipeline.ProcessBatch(ctx, sess, toolBatch("S1", 2000, "Read")))
	calls = provider.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "agent-7", calls[1].AgentSessionID)
	assert.Len(t, calls[1].Messages, 3)
	assert.Equal(t, llm.RoleAssistant, calls[1].Messages[1].Role)
}

func TestProcessBatch_LenientParsing(t *testing.T) {
	provider := &fakeProvider{name: "primary", reply: `<observation>
  <type>nonsense</type>
  <title>Odd type</title>
  <concepts><concept>bugfix</concept><concept>gotcha</concept></concepts>
</observation>`}
	f := newFixture(t, provider)
	ctx := context.Background()

	sess, err := f.reg.GetOrCreate(ctx, "S1", "recall", "")
	require.NoError(t, err)
	require.NoError(t, f.pipeline.ProcessBatch(ctx, sess, toolBatch("S1", 1000, "Bash")))

	obs, err := f.mem.ListObservations(ctx, "S1", 0)
	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.Equal(t, "bugfix", obs[0].Type)
	assert.Nil(t, obs[0].Narrative)
	require.NotNil(t, obs[0].Title)
	assert.Equal(t, "Odd type", *obs[0].Title)
	assert.Equal(t, []string{"gotcha"}, obs[0].Concepts)
	assert.Equal(t, 150, obs[0].DiscoveryTokens)
}

func TestProcessBatch_Summary(t *testing.T) {
	provider := &fakeProvider{name: "primary", reply: `<summary>
  <request>Build the queue</request>
  <completed>Consumer and store</completed>
</summary>`}
	f := newFixture(t, provider)
	ctx := context.Background()

	sess, err := f.reg.GetOrCreate(ctx, "S1", "recall", "")
	require.NoError(t, err)

	b := queue.NewBatch("S1")
	b.Add(&queue.PendingEvent{
		SessionID:            "S1",
		Type:                 queue.TypeSummarize,
		Kind:                 queue.KindSummarize,
		LastAssistantMessage: "Done with the queue.",
		EnqueuedAtEpoch:      5000,
	})
	require.NoError(t, f.pipeline.ProcessBatch(ctx, sess, b))

	calls := provider.Calls()
	require.Len(t, calls, 1)
	last := calls[0].Messages[len(calls[0].Messages)-1].Content
	assert.Contains(t, last, "Done with the queue.")

	sums, err := f.mem.ListSummaries(ctx, "S1")
	require.NoError(t, err)
	require.Len(t, sums, 1)
	require.NotNil(t, sums[0].Request)
	assert.Equal(t, "Build the queue", *sums[0].Request)
	assert.Nil(t, sums[0].Learned)
	assert.Equal(t, int64(5000), sums[0].CreatedAtEpoch)
	assert.Equal(t, 1, f.events.count(events.TypeNewSummary))

	in, out := sess.Usage()
	assert.Equal(t, int64(120), in)
	assert.Equal(t, int64(30), out)
}

func TestProcessBatch_BindConflictStillStores(t *testing.T) {
	provider := &fakeProvider{name: "primary", reply: observationReply, agentID: "taken"}
	f := newFixture(t, provider)
	ctx := context.Background()

	_, err := f.mem.CreateSession(ctx, "OTHER", "recall", "")
	require.NoError(t, err)
	require.NoError(t, f.mem.BindAgentSessionID(ctx, "OTHER", "taken"))

	sess, err := f.reg.GetOrCreate(ctx, "S1", "recall", "")
	require.NoError(t, err)

	err = f.pipeline.ProcessBatch(ctx, sess, toolBatch("S1", 1000, "Edit"))
	require.ErrorIs(t, err, session.ErrConflict)

	obs, err := f.mem.ListObservations(ctx, "S1", 0)
	require.NoError(t, err)
	assert.Len(t, obs, 1)
	assert.Empty(t, sess.AgentSessionID())

	other, err := f.mem.GetSession(ctx, "OTHER")
	require.NoError(t, err)
	assert.Equal(t, "taken", other.AgentSessionID)
}

func TestRenderTurn(t *testing.T) {
	p := &Pipeline{now: func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }}
	b := queue.NewBatch("S1")
	b.Add(&queue.PendingEvent{Kind: queue.KindPrompt, Payload: "add tests", PromptNumber: 3, EnqueuedAtEpoch: 1000})
	b.Add(&queue.PendingEvent{Kind: "Edit", Payload: `{"input":{"file":"x.go"}}`, EnqueuedAtEpoch: 2000, Cwd: "/src"})

	turn := p.renderTurn(&session.ActiveSession{}, b, true)
	assert.Contains(t, turn, "<prompt_number>3</prompt_number>")
	assert.Contains(t, turn, "add tests")
	assert.Contains(t, turn, "Edit")
	assert.Contains(t, turn, "/src")
	assert.Equal(t, 1, strings.Count(turn, "<user_request>"))
}
