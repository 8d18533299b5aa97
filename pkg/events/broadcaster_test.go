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
package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestBroadcaster_FanOut(t *testing.T) {
	b := NewBroadcaster(8, nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a := b.Subscribe(ctx)
	c := b.Subscribe(ctx)
	require.Equal(t, 2, b.SubscriberCount())

	b.Publish(New(TypeNewPrompt, "s1", map[string]int{"promptNumber": 1}))

	for _, ch := range []<-chan Event{a, c} {
		ev := receive(t, ch)
		assert.Equal(t, TypeNewPrompt, ev.Type)
		assert.Equal(t, "s1", ev.SessionID)
		assert.NotZero(t, ev.Timestamp)
	}
}

func TestBroadcaster_SlowSubscriberDropped(t *testing.T) {
	b := NewBroadcaster(1, nil)
	defer b.Close()

	ch := b.Subscribe(context.Background())
	b.Publish(New(TypeNewPrompt, "s", nil))
	b.Publish(New(TypeNewPrompt, "s", nil)) // buffer full

	assert.Equal(t, 0, b.SubscriberCount())
	<-ch
	_, ok := <-ch
	assert.False(t, ok)
}

func TestBroadcaster_UnsubscribeOnCancel(t *testing.T) {
	b := NewBroadcaster(0, nil)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch := b.Subscribe(ctx)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber not removed")
	}
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestBroadcaster_Close(t *testing.T) {
	b := NewBroadcaster(0, nil)
	ch := b.Subscribe(context.Background())
	b.Close()
	_, ok := <-ch
	assert.False(t, ok)

	b.Publish(New(TypeConnected, "", nil)) // no panic after close
}

func TestStatusEventJSON(t *testing.T) {
	ev := StatusEvent(ProcessingStatus{IsProcessing: true, QueueDepth: 3, ActiveSessions: 2})
	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "processing_status", decoded["type"])
	assert.NotContains(t, decoded, "sessionId")
	status := decoded["data"].(map[string]any)
	assert.Equal(t, true, status["isProcessing"])
	assert.EqualValues(t, 3, status["queueDepth"])
	assert.EqualValues(t, 2, status["activeSessions"])
}

func TestSinks(t *testing.T) {
	NopSink{}.Publish(New(TypeConnected, "", nil))

	var got []Type
	var s Sink = SinkFunc(func(ev Event) { got = append(got, ev.Type) })
	s.Publish(New(TypeNewSummary, "s", nil))
	assert.Equal(t, []Type{TypeNewSummary}, got)
}
