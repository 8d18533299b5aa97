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
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// SweeperConfig configures periodic maintenance.
type SweeperConfig struct {
	// RecoverSchedule is a cron spec ("@every 30s", "*/5 * * * *") for
	// restarting consumers of orphaned queues. Empty disables.
	RecoverSchedule string

	// StatusSchedule re-broadcasts processing status. Empty disables.
	StatusSchedule string

	// RecoveryLimit caps sessions restarted per sweep.
	RecoveryLimit int
}

// Sweeper runs recovery and status heartbeats on a cron engine.
type Sweeper struct {
	registry *Registry
	cfg      SweeperConfig
	engine   *cron.Cron
	logger   *zap.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// NewSweeper registers the configured jobs. Start must be called to run them.
func NewSweeper(r *Registry, cfg SweeperConfig) (*Sweeper, error) {
	if r == nil {
		return nil, fmt.Errorf("registry is required")
	}
	s := &Sweeper{
		registry: r,
		cfg:      cfg,
		engine:   cron.New(),
		logger:   r.logger.Named("sweeper"),
	}

	if cfg.RecoverSchedule != "" {
		if _, err := s.engine.AddFunc(cfg.RecoverSchedule, s.recover); err != nil {
			return nil, fmt.Errorf("invalid recovery schedule %q: %w", cfg.RecoverSchedule, err)
		}
	}
	if cfg.StatusSchedule != "" {
		if _, err := s.engine.AddFunc(cfg.StatusSchedule, s.heartbeat); err != nil {
			return nil, fmt.Errorf("invalid status schedule %q: %w", cfg.StatusSchedule, err)
		}
	}
	return s, nil
}

// Every returns the cron spec for a fixed interval.
func Every(d time.Duration) string {
	return "@every " + d.String()
}

// Start begins running jobs. Jobs use ctx for their storage calls.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = true
	s.engine.Start()
	s.logger.Info("Sweeper started",
		zap.String("recover_schedule", s.cfg.RecoverSchedule),
		zap.String("status_schedule", s.cfg.StatusSchedule))
}

// Stop halts the engine and waits for running jobs or ctx.
func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	jobs := s.engine.Stop()
	select {
	case <-jobs.Done():
		s.logger.Info("Sweeper stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sweeper jobs still running: %w", ctx.Err())
	}
}

func (s *Sweeper) jobContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

func (s *Sweeper) recover() {
	n, err := s.registry.RecoverPending(s.jobContext(), s.cfg.RecoveryLimit)
	if err != nil {
		s.logger.Warn("Recovery sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("Recovery sweep restarted sessions", zap.Int("sessions", n))
	}
}

func (s *Sweeper) heartbeat() {
	s.registry.BroadcastStatus(s.jobContext())
}
