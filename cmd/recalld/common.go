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
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/recall/internal/log"
	"github.com/teradata-labs/recall/pkg/observability"
	"github.com/teradata-labs/recall/pkg/storage/sqlite"
)

// setupLogging installs the global logger from config.
func setupLogging(cfg *Config) (*zap.Logger, error) {
	return log.Setup(log.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	})
}

// cliLogger is used by the short-lived subcommands.
func cliLogger(cfg *Config) *zap.Logger {
	logger, err := log.Setup(log.Options{Level: "warn", Format: "console", File: cfg.Logging.File})
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func newTracer(cfg *Config, logger *zap.Logger) observability.Tracer {
	if cfg.Observability.Enabled {
		return observability.NewLogTracer(logger)
	}
	return observability.NewNoOpTracer()
}

// openDatabase opens and migrates the memory database.
func openDatabase(ctx context.Context, cfg *Config, logger *zap.Logger, tracer observability.Tracer) (*sql.DB, error) {
	return openDatabaseWith(ctx, cfg, logger, tracer, false)
}

func openDatabaseWith(ctx context.Context, cfg *Config, logger *zap.Logger, tracer observability.Tracer, skipMigrations bool) (*sql.DB, error) {
	return sqlite.Open(ctx, sqlite.Options{
		Path:            cfg.Database.Path,
		EncryptDatabase: cfg.Database.Encrypt,
		EncryptionKey:   cfg.Database.Key,
		BusyTimeout:     time.Duration(cfg.Database.BusyTimeoutMs) * time.Millisecond,
		Logger:          logger,
		Tracer:          tracer,
		SkipMigrations:  skipMigrations,
	})
}
