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

package queue

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/recall/pkg/observability"
)

const (
	DefaultMaxBatchSize = 20
	DefaultRetryBackoff = time.Second
)

// BatchHandler processes one drained batch. Returning an error that wraps
// context.Canceled stops the consumer cleanly.
type BatchHandler interface {
	HandleBatch(ctx context.Context, batch *Batch) error
}

// BatchHandlerFunc adapts a function to BatchHandler.
type BatchHandlerFunc func(ctx context.Context, batch *Batch) error

func (f BatchHandlerFunc) HandleBatch(ctx context.Context, batch *Batch) error {
	return f(ctx, batch)
}

// ConsumerConfig configures a per-session consumer.
type ConsumerConfig struct {
	SessionID string
	Store     Store
	Wake      Signal
	Handler   BatchHandler

	// MaxBatchSize closes a batch early. Default 20.
	MaxBatchSize int

	// RetryBackoff is the pause after a storage error. Default 1s.
	RetryBackoff time.Duration

	// OnClaim is called for every claimed event before it joins the batch.
	OnClaim func(ev *PendingEvent)

	Logger *zap.Logger
	Tracer observability.Tracer
}

// Consumer drains one session's queue. Run must be called at most once.
type Consumer struct {
	cfg     ConsumerConfig
	logger  *zap.Logger
	tracer  observability.Tracer
	busy    atomic.Bool
	claimed atomic.Int64
}

// NewConsumer validates cfg and applies defaults.
func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	if cfg.SessionID == "" {
		return nil, fmt.Errorf("session id cannot be empty")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Handler == nil {
		return nil, fmt.Errorf("batch handler is required")
	}
	if cfg.Wake == nil {
		cfg.Wake = NewSignal()
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultMaxBatchSize
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewNoOpTracer()
	}
	return &Consumer{
		cfg:    cfg,
		logger: cfg.Logger.With(zap.String("session_id", cfg.SessionID)),
		tracer: cfg.Tracer,
	}, nil
}

// Wake returns the signal that resumes an idle consumer.
func (c *Consumer) Wake() Signal {
	return c.cfg.Wake
}

// Busy reports whether the consumer is claiming or holds claimed events that
// have not been handled yet. Queued plus busy never misses an event in flight.
func (c *Consumer) Busy() bool {
	return c.busy.Load()
}

// Claimed returns the number of events claimed so far.
func (c *Consumer) Claimed() int64 {
	return c.claimed.Load()
}

// Run drains the queue until ctx is cancelled or the handler reports
// cancellation. Events are claimed greedily; the accumulated batch is handed
// off when the queue runs dry, when it reaches MaxBatchSize, or when a
// summarize event joins it. An idle consumer blocks on Wake or ctx.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Debug("consumer started")
	defer c.logger.Debug("consumer stopped")
	defer c.busy.Store(false)

	batch := NewBatch(c.cfg.SessionID)
	for {
		if ctx.Err() != nil {
			if batch.Len() > 0 {
				// Claimed events are already gone from storage.
				c.logger.Warn("dropping unprocessed batch on cancellation",
					zap.Int("batch_size", batch.Len()))
			}
			return nil
		}

		// Set before the claim commits so an observer never sees an empty
		// queue and an idle consumer while an event is in flight.
		c.busy.Store(true)
		ev, err := c.cfg.Store.ClaimOldest(ctx, c.cfg.SessionID)
		if err != nil {
			if batch.Len() == 0 {
				c.busy.Store(false)
			}
			if ctx.Err() != nil {
				continue
			}
			c.logger.Warn("claim failed, backing off",
				zap.Error(err),
				zap.Duration("backoff", c.cfg.RetryBackoff))
			c.sleep(ctx, c.cfg.RetryBackoff)
			continue
		}

		if ev != nil {
			c.claimed.Add(1)
			if c.cfg.OnClaim != nil {
				c.cfg.OnClaim(ev)
			}
			batch.Add(ev)
			if ev.Type == TypeSummarize || batch.Len() >= c.cfg.MaxBatchSize {
				if stop := c.flush(ctx, batch); stop {
					return nil
				}
				batch = NewBatch(c.cfg.SessionID)
			}
			continue
		}

		if batch.Len() > 0 {
			if stop := c.flush(ctx, batch); stop {
				return nil
			}
			batch = NewBatch(c.cfg.SessionID)
			continue
		}

		c.busy.Store(false)
		select {
		case <-c.cfg.Wake:
		case <-ctx.Done():
		}
	}
}

// flush hands the batch to the handler and reports whether the loop must stop.
func (c *Consumer) flush(ctx context.Context, batch *Batch) bool {
	defer c.busy.Store(false)

	c.tracer.RecordMetric("queue.batch_size", float64(batch.Len()), map[string]string{
		"session_id": c.cfg.SessionID,
	})

	err := c.cfg.Handler.HandleBatch(ctx, batch)
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled):
		c.logger.Debug("batch abandoned on cancellation", zap.Int("batch_size", batch.Len()))
		return true
	default:
		c.logger.Error("batch processing failed",
			zap.Error(err),
			zap.Int("batch_size", batch.Len()))
		return false
	}
}

func (c *Consumer) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
