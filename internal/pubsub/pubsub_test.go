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

package pubsub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroker_FanOut(t *testing.T) {
	b := NewBroker[int](4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := b.Subscribe(ctx)
	c := b.Subscribe(ctx)
	require.Equal(t, 2, b.SubscriberCount())

	b.Publish(7)
	assert.Equal(t, 7, <-a)
	assert.Equal(t, 7, <-c)
}

func TestBroker_UnsubscribeOnCancel(t *testing.T) {
	b := NewBroker[int](1)
	ctx, cancel := context.WithCancel(context.Background())
	ch := b.Subscribe(ctx)
	cancel()

	require.Eventually(t, func() bool { return b.SubscriberCount() == 0 }, time.Second, 5*time.Millisecond)
	_, ok := <-ch
	assert.False(t, ok)
}

func TestBroker_SlowSubscriberDropped(t *testing.T) {
	b := NewBroker[int](1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := b.Subscribe(ctx)
	b.Publish(1)
	b.Publish(2) // buffer full, subscriber dropped

	assert.Equal(t, 0, b.SubscriberCount())
	assert.Equal(t, 1, <-ch)
	_, ok := <-ch
	assert.False(t, ok)
}

func TestBroker_Shutdown(t *testing.T) {
	b := NewBroker[string](0)
	ch := b.Subscribe(context.Background())
	b.Shutdown()
	b.Shutdown()
	b.Publish("ignored")

	_, ok := <-ch
	assert.False(t, ok)

	late := b.Subscribe(context.Background())
	_, ok = <-late
	assert.False(t, ok)
}
