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

package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/recall/pkg/events"
	"github.com/teradata-labs/recall/pkg/queue"
)

func TestSweeper_RecoversOrphanedQueue(t *testing.T) {
	rec := newRecorder()
	h := newHarness(t, rec)
	ctx := context.Background()

	_, err := h.mem.CreateSession(ctx, "S1", "recall", "")
	require.NoError(t, err)
	_, err = h.queue.Enqueue(ctx, &queue.PendingEvent{SessionID: "S1", Kind: "Write", Payload: "{}"})
	require.NoError(t, err)

	sw, err := NewSweeper(h.reg, SweeperConfig{RecoverSchedule: Every(time.Second), StatusSchedule: "@every 1s"})
	require.NoError(t, err)
	sw.Start(ctx)
	sw.Start(ctx)
	defer func() { require.NoError(t, sw.Stop(ctx)) }()

	select {
	case <-rec.got:
	case <-time.After(5 * time.Second):
		t.Fatal("sweeper did not recover the queue")
	}
	assert.Equal(t, [][]string{{"Write"}}, rec.Batches())
	assert.Eventually(t, func() bool {
		return len(h.events.ofType(events.TypeProcessingStatus)) > 0
	}, 5*time.Second, 50*time.Millisecond)
}

func TestSweeper_Validation(t *testing.T) {
	_, err := NewSweeper(nil, SweeperConfig{})
	assert.Error(t, err)

	h := newHarness(t, newRecorder())
	_, err = NewSweeper(h.reg, SweeperConfig{RecoverSchedule: "every tuesday"})
	assert.Error(t, err)

	sw, err := NewSweeper(h.reg, SweeperConfig{})
	require.NoError(t, err)
	require.NoError(t, sw.Stop(context.Background()), "stopping an unstarted sweeper is a no-op")
}
