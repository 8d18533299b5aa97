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

	"go.uber.org/zap"

	"github.com/teradata-labs/recall/internal/pubsub"
)

// Broadcaster fans events out to every subscriber. Subscribers that fall
// behind are disconnected instead of slowing publishers.
type Broadcaster struct {
	broker *pubsub.Broker[Event]
	logger *zap.Logger
}

// NewBroadcaster creates a broadcaster with the given per-subscriber buffer.
// bufSize <= 0 selects the broker default.
func NewBroadcaster(bufSize int, logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		broker: pubsub.NewBroker[Event](bufSize),
		logger: logger,
	}
}

// Subscribe returns a channel of events that closes when ctx is done, the
// broadcaster closes, or the subscriber is dropped for being slow.
func (b *Broadcaster) Subscribe(ctx context.Context) <-chan Event {
	return b.broker.Subscribe(ctx)
}

// Publish delivers ev to all subscribers without blocking.
func (b *Broadcaster) Publish(ev Event) {
	b.logger.Debug("Broadcasting event",
		zap.String("type", string(ev.Type)),
		zap.String("session_id", ev.SessionID),
		zap.Int("subscribers", b.broker.SubscriberCount()))
	b.broker.Publish(ev)
}

// SubscriberCount returns the number of live subscribers.
func (b *Broadcaster) SubscriberCount() int {
	return b.broker.SubscriberCount()
}

// Close disconnects every subscriber.
func (b *Broadcaster) Close() {
	b.broker.Shutdown()
}

var _ Sink = (*Broadcaster)(nil)
