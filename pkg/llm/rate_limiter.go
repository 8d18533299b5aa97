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

package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RateLimiterConfig configures the request limiter for rate-limited
// backends such as free-tier Gemini.
type RateLimiterConfig struct {
	// Enabled turns limiting on. A disabled limiter never waits.
	Enabled bool

	// RequestsPerMinute is the sustained request rate.
	RequestsPerMinute float64

	// BurstCapacity is the bucket size. Default 1.
	BurstCapacity int

	// MinDelay is the minimum spacing between requests.
	MinDelay time.Duration

	Logger *zap.Logger
}

// DefaultRateLimiterConfig returns limits matching the Gemini free tier.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		Enabled:           true,
		RequestsPerMinute: 10,
		BurstCapacity:     1,
		Logger:            zap.NewNop(),
	}
}

// RateLimiterMetrics tracks limiter activity.
type RateLimiterMetrics struct {
	TotalRequests   int64
	DelayedRequests int64
	TokensConsumed  int64
	TotalWait       time.Duration
}

// RateLimiter is a token bucket shared by every session using a provider.
type RateLimiter struct {
	config RateLimiterConfig

	mu          sync.Mutex
	tokens      float64
	maxTokens   float64
	refillRate  float64 // tokens per second
	lastRefill  time.Time
	lastRequest time.Time
	metrics     RateLimiterMetrics

	now func() time.Time
}

// NewRateLimiter creates a limiter with a full bucket.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.BurstCapacity <= 0 {
		config.BurstCapacity = 1
	}
	rl := &RateLimiter{
		config:     config,
		tokens:     float64(config.BurstCapacity),
		maxTokens:  float64(config.BurstCapacity),
		refillRate: config.RequestsPerMinute / 60,
		now:        time.Now,
	}
	rl.lastRefill = rl.now()
	return rl
}

// Wait blocks until a request may be sent or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl == nil || !rl.config.Enabled {
		return nil
	}
	if rl.refillRate <= 0 {
		return fmt.Errorf("rate limiter misconfigured: requests per minute must be positive")
	}

	start := rl.now()
	delayed := false
	for {
		d := rl.reserve()
		if d <= 0 {
			break
		}
		if !delayed {
			rl.config.Logger.Debug("Rate limit reached, delaying request", zap.Duration("wait", d))
			delayed = true
		}
		t := time.NewTimer(d)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}

	rl.mu.Lock()
	rl.metrics.TotalRequests++
	if delayed {
		rl.metrics.DelayedRequests++
		rl.metrics.TotalWait += rl.now().Sub(start)
	}
	rl.mu.Unlock()
	return nil
}

// reserve takes a token if one is available and returns 0, otherwise it
// returns how long to wait before trying again.
func (rl *RateLimiter) reserve() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.tokens = min(rl.maxTokens, rl.tokens+now.Sub(rl.lastRefill).Seconds()*rl.refillRate)
	rl.lastRefill = now

	if gap := rl.config.MinDelay - now.Sub(rl.lastRequest); !rl.lastRequest.IsZero() && gap > 0 {
		return gap
	}
	if rl.tokens >= 1 {
		rl.tokens--
		rl.lastRequest = now
		return 0
	}
	return time.Duration((1 - rl.tokens) / rl.refillRate * float64(time.Second))
}

// RecordTokenUsage adds to the consumed token total.
func (rl *RateLimiter) RecordTokenUsage(tokens int64) {
	if rl == nil {
		return
	}
	rl.mu.Lock()
	rl.metrics.TokensConsumed += tokens
	rl.mu.Unlock()
}

// Metrics returns a snapshot of limiter activity.
func (rl *RateLimiter) Metrics() RateLimiterMetrics {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.metrics
}
