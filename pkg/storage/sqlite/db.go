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

// Package sqlite opens the recall memory database, applies its embedded
// schema migrations, and provides online backup.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/recall/internal/sqlitedriver"
	"github.com/teradata-labs/recall/pkg/observability"
)

// KeyEnv supplies the SQLCipher key when Options.EncryptionKey is empty.
const KeyEnv = "RECALL_DB_KEY"

// Options configures the memory database.
type Options struct {
	// Path to the SQLite file. Parent directories are created.
	Path string

	// EncryptDatabase enables SQLCipher encryption at rest (CGO builds only).
	EncryptDatabase bool

	// EncryptionKey for SQLCipher; falls back to RECALL_DB_KEY.
	EncryptionKey string

	// BusyTimeout defaults to 5s.
	BusyTimeout time.Duration

	// SkipMigrations leaves the schema as found. Used by the migrate command.
	SkipMigrations bool

	Logger *zap.Logger
	Tracer observability.Tracer
}

// Open opens the database and migrates it to the latest schema.
//
// The pool is limited to one connection. Every store in the process shares
// it, which serializes writers inside database/sql instead of surfacing
// SQLITE_BUSY on lock upgrades, and keeps per-connection pragmas (key,
// foreign_keys) in force.
func Open(ctx context.Context, opts Options) (*sql.DB, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.BusyTimeout == 0 {
		opts.BusyTimeout = 5 * time.Second
	}

	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open(sqlitedriver.DriverName, opts.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := configure(ctx, db, opts); err != nil {
		_ = db.Close()
		return nil, err
	}

	applied := 0
	if !opts.SkipMigrations {
		migrator, err := NewMigrator(db, opts.Tracer)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		applied, err = migrator.MigrateUp(ctx)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	opts.Logger.Info("Memory database ready",
		zap.String("path", opts.Path),
		zap.String("driver", sqlitedriver.Backend()),
		zap.Bool("encrypted", opts.EncryptDatabase),
		zap.Int("migrations_applied", applied))

	return db, nil
}

func configure(ctx context.Context, db *sql.DB, opts Options) error {
	if opts.EncryptDatabase {
		if !sqlitedriver.EncryptionSupported {
			return fmt.Errorf("database encryption requires a CGO build (driver %s)", sqlitedriver.Backend())
		}
		key := opts.EncryptionKey
		if key == "" {
			key = os.Getenv(KeyEnv)
		}
		if key == "" {
			return fmt.Errorf("encryption enabled but no key provided (set EncryptionKey or %s)", KeyEnv)
		}
		// PRAGMA key must be the first statement on the connection.
		if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA key = '%s'", strings.ReplaceAll(key, "'", "''"))); err != nil {
			return fmt.Errorf("failed to set encryption key: %w", err)
		}
	}

	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", opts.BusyTimeout.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("failed to apply %q: %w", p, err)
		}
	}
	return nil
}
