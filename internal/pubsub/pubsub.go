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

// Package pubsub provides a small generic fan-out broker.
package pubsub

import (
	"context"
	"sync"
)

// DefaultBufferSize is the per-subscriber channel capacity.
const DefaultBufferSize = 64

// Broker fans out published values to every live subscriber. A subscriber
// whose buffer is full is disconnected (its channel closed) rather than
// allowed to stall publishers.
type Broker[T any] struct {
	mu      sync.RWMutex
	subs    map[chan T]struct{}
	bufSize int
	closed  bool
}

// NewBroker creates a broker. bufSize <= 0 selects DefaultBufferSize.
func NewBroker[T any](bufSize int) *Broker[T] {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	return &Broker[T]{
		subs:    make(map[chan T]struct{}),
		bufSize: bufSize,
	}
}

// Subscribe registers a subscriber that lives until ctx is done, the broker
// shuts down, or the subscriber falls behind.
func (b *Broker[T]) Subscribe(ctx context.Context) <-chan T {
	ch := make(chan T, b.bufSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.remove(ch)
	}()
	return ch
}

// Publish delivers v to every subscriber without blocking.
func (b *Broker[T]) Publish(v T) {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return
	}
	var slow []chan T
	for ch := range b.subs {
		select {
		case ch <- v:
		default:
			slow = append(slow, ch)
		}
	}
	b.mu.RUnlock()

	for _, ch := range slow {
		b.remove(ch)
	}
}

// SubscriberCount returns the number of live subscribers.
func (b *Broker[T]) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Shutdown closes every subscriber channel. Later publishes are dropped.
func (b *Broker[T]) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
}

func (b *Broker[T]) remove(ch chan T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
}
