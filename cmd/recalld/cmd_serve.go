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
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teradata-labs/recall/internal/log"
	"github.com/teradata-labs/recall/internal/version"
	"github.com/teradata-labs/recall/pkg/events"
	"github.com/teradata-labs/recall/pkg/llm/factory"
	"github.com/teradata-labs/recall/pkg/memory"
	"github.com/teradata-labs/recall/pkg/mode"
	"github.com/teradata-labs/recall/pkg/pipeline"
	"github.com/teradata-labs/recall/pkg/queue"
	"github.com/teradata-labs/recall/pkg/server"
	"github.com/teradata-labs/recall/pkg/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the observer service",
	Long: `Start the HTTP observer service.

Queued work left over from a previous run is recovered on startup: a consumer
is started for every session that still has pending events.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := setupLogging(config)
	if err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	defer func() { _ = log.Sync() }()

	logger.Info("Starting recalld",
		zap.String("version", version.Get()),
		zap.String("data_dir", config.DataDir))

	tracer := newTracer(config, logger)
	ctx := context.Background()

	db, err := openDatabase(ctx, config, logger, tracer)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	memStore, err := memory.NewStore(db, memory.Options{Logger: logger, Tracer: tracer})
	if err != nil {
		return fmt.Errorf("failed to create memory store: %w", err)
	}
	defer memStore.Close()
	queueStore := queue.NewSQLiteStore(db, tracer, logger)

	modes, err := mode.NewManager(mode.ManagerOptions{
		Dir:    config.Mode.Dir,
		Active: config.Mode.Name,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("failed to load modes: %w", err)
	}
	logger.Info("Observation mode", zap.String("mode", modes.Active().Name), zap.Strings("available", modes.Names()))

	var modeWatcher *mode.Watcher
	if config.Mode.HotReload && modes.Dir() != "" {
		modeWatcher, err = mode.NewWatcher(modes, mode.WatcherConfig{
			Logger: logger,
			OnUpdate: func(eventType, path string, err error) {
				if err != nil {
					logger.Warn("Mode reload failed", zap.String("path", path), zap.Error(err))
					return
				}
				logger.Info("Mode reloaded", zap.String("event", eventType), zap.String("path", path))
			},
		})
		if err != nil {
			logger.Warn("Mode hot-reload disabled", zap.Error(err))
		} else if err := modeWatcher.Start(ctx); err != nil {
			logger.Warn("Mode hot-reload disabled", zap.Error(err))
			modeWatcher = nil
		}
	}

	fc := config.FactoryConfig()
	fc.Tracer = tracer
	fc.Logger = logger
	providers, err := factory.NewProviderFactory(fc).BuildChain(ctx)
	if err != nil {
		return err
	}

	broadcaster := events.NewBroadcaster(0, logger)
	defer broadcaster.Close()

	pipe, err := pipeline.New(pipeline.Config{
		Providers: providers,
		Memory:    memStore,
		Modes:     modes,
		Events:    broadcaster,
		MaxTokens: config.Providers.MaxTokens,
		Logger:    logger,
		Tracer:    tracer,
	})
	if err != nil {
		return err
	}

	registry, err := session.NewRegistry(session.Config{
		Memory:       memStore,
		Queue:        queueStore,
		Processor:    pipe,
		Events:       broadcaster,
		MaxBatchSize: config.Queue.MaxBatchSize,
		RetryBackoff: time.Duration(config.Queue.RetryBackoffMs) * time.Millisecond,
		SkipTools:    config.Privacy.SkipTools,
		DrainTimeout: time.Duration(config.Queue.DrainTimeoutSeconds) * time.Second,
		HistoryLimit: config.Queue.HistoryLimit,
		Logger:       logger,
		Tracer:       tracer,
	})
	if err != nil {
		return err
	}

	if _, err := registry.RecoverPending(ctx, config.Queue.RecoveryLimit); err != nil {
		logger.Warn("Startup recovery failed", zap.Error(err))
	}

	sweeper, err := session.NewSweeper(registry, session.SweeperConfig{
		RecoverSchedule: config.Queue.SweepSchedule,
		StatusSchedule:  config.Queue.StatusSchedule,
		RecoveryLimit:   config.Queue.RecoveryLimit,
	})
	if err != nil {
		return err
	}
	sweeper.Start(ctx)

	addr := net.JoinHostPort(config.Server.Host, strconv.Itoa(config.Server.Port))
	httpSrv, err := server.NewHTTPServer(server.Config{
		Addr:        addr,
		Registry:    registry,
		Memory:      memStore,
		Broadcaster: broadcaster,
		Providers:   pipe.ProviderNames(),
		CORS:        config.Server.CORS.CORS(),
		KeepAlive:   time.Duration(config.Server.KeepAliveSeconds) * time.Second,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	fmt.Printf("recalld %s listening on http://%s\n", version.Get(), addr)

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.Start() }()

	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigch)

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-sigch:
		logger.Info("Shutting down gracefully... (press Ctrl+C again to force)")
		go func() {
			<-sigch
			logger.Warn("Force shutdown requested")
			os.Exit(1)
		}()
	}

	timeout := time.Duration(config.Server.ShutdownTimeoutSeconds) * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Stop intake first so no new work lands behind the drain.
	if err := httpSrv.Stop(shutdownCtx); err != nil {
		logger.Warn("Error stopping HTTP server", zap.Error(err))
	}
	if err := sweeper.Stop(shutdownCtx); err != nil {
		logger.Warn("Error stopping sweeper", zap.Error(err))
	}
	if modeWatcher != nil {
		if err := modeWatcher.Stop(); err != nil {
			logger.Warn("Error stopping mode watcher", zap.Error(err))
		}
	}
	if err := registry.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Error stopping sessions", zap.Error(err))
	}

	logger.Info("Shutdown complete")
	return nil
}
