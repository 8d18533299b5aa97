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

package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/recall/internal/sqlitedriver"
	"github.com/teradata-labs/recall/pkg/observability"
)

func newRawDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open(sqlitedriver.DriverName, filepath.Join(t.TempDir(), "raw.db"))
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&count)
	require.NoError(t, err)
	return count > 0
}

func TestMigrateUp_FreshDB(t *testing.T) {
	db := newRawDB(t)
	ctx := context.Background()

	migrator, err := NewMigrator(db, observability.NewNoOpTracer())
	require.NoError(t, err)

	applied, err := migrator.MigrateUp(ctx)
	require.NoError(t, err)
	assert.Equal(t, migrator.Latest(), applied)

	version, err := migrator.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, migrator.Latest(), version)

	for _, table := range requiredTables {
		assert.True(t, tableExists(t, db, table), "table %s should exist", table)
	}

	// Second run is a no-op.
	applied, err = migrator.MigrateUp(ctx)
	require.NoError(t, err)
	assert.Zero(t, applied)
}

func TestMigrateDown(t *testing.T) {
	db := newRawDB(t)
	ctx := context.Background()

	migrator, err := NewMigrator(db, nil)
	require.NoError(t, err)
	_, err = migrator.MigrateUp(ctx)
	require.NoError(t, err)

	rolled, err := migrator.MigrateDown(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, migrator.Latest(), rolled)
	assert.False(t, tableExists(t, db, "pending_events"))

	version, err := migrator.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Zero(t, version)
}

func TestMigratorFS_StatusAndOrdering(t *testing.T) {
	db := newRawDB(t)
	ctx := context.Background()

	fsys := fstest.MapFS{
		"000002_add_b.up.sql":   {Data: []byte("CREATE TABLE b (id INTEGER);")},
		"000002_add_b.down.sql": {Data: []byte("DROP TABLE b;")},
		"000001_add_a.up.sql":   {Data: []byte("CREATE TABLE a (id INTEGER);")},
		"README.md":             {Data: []byte("ignored")},
	}
	migrator, err := NewMigratorFS(db, fsys, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, migrator.Latest())

	status, err := migrator.Status(ctx)
	require.NoError(t, err)
	require.Len(t, status, 2)
	assert.Equal(t, "add_a", status[0].Description)
	assert.False(t, status[0].Applied)

	_, err = migrator.MigrateUp(ctx)
	require.NoError(t, err)

	rolled, err := migrator.MigrateDown(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, rolled)
	assert.True(t, tableExists(t, db, "a"))
	assert.False(t, tableExists(t, db, "b"))

	// Version 1 has no down script.
	_, err = migrator.MigrateDown(ctx, 1)
	assert.ErrorContains(t, err, "no down migration for version 1")
}

func TestMigratorFS_MissingUp(t *testing.T) {
	_, err := NewMigratorFS(newRawDB(t), fstest.MapFS{
		"000003_orphan.down.sql": {Data: []byte("SELECT 1;")},
	}, nil)
	assert.ErrorContains(t, err, "has no up script")
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "recall.db")

	db, err := Open(ctx, Options{Path: path})
	require.NoError(t, err)
	defer db.Close()

	var fk int
	require.NoError(t, db.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)

	var mode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	// Foreign keys reject events for unknown sessions.
	_, err = db.Exec(`INSERT INTO pending_events (session_id, event_type, kind, enqueued_at_epoch)
		VALUES ('nope', 'observation', 'Read', 1)`)
	assert.Error(t, err)

	// agent_session_id must differ from session_id.
	_, err = db.Exec(`INSERT INTO sessions (session_id, agent_session_id, project, started_at, started_at_epoch)
		VALUES ('same', 'same', 'p', '2026-01-01T00:00:00Z', 1)`)
	assert.Error(t, err)
}

func TestOpen_Validation(t *testing.T) {
	ctx := context.Background()

	_, err := Open(ctx, Options{})
	assert.ErrorContains(t, err, "database path is required")

	t.Setenv(KeyEnv, "")
	_, err = Open(ctx, Options{Path: filepath.Join(t.TempDir(), "enc.db"), EncryptDatabase: true})
	require.Error(t, err)
	if sqlitedriver.EncryptionSupported {
		assert.ErrorContains(t, err, "no key provided")
	} else {
		assert.ErrorContains(t, err, "requires a CGO build")
	}
}

func TestBackup(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, Options{Path: filepath.Join(t.TempDir(), "recall.db")})
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`INSERT INTO sessions (session_id, project, started_at, started_at_epoch)
		VALUES ('s1', 'recall', '2026-01-01T00:00:00Z', 1)`)
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "backups")
	path, err := Backup(ctx, db, dir, false)
	require.NoError(t, err)
	assert.FileExists(t, path)

	require.NoError(t, VerifyBackup(ctx, path))

	bogus := filepath.Join(dir, "not-a-db")
	require.NoError(t, os.WriteFile(bogus, []byte("garbage"), 0o600))
	assert.Error(t, VerifyBackup(ctx, bogus))
}
