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

package sqlitedriver

import (
	"database/sql"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDriverRegistered(t *testing.T) {
	assert.True(t, slices.Contains(sql.Drivers(), DriverName))
	assert.Contains(t, []string{"sqlcipher", "modernc"}, Backend())
}

func TestPendingEventsRoundTrip(t *testing.T) {
	db, err := sql.Open(DriverName, filepath.Join(t.TempDir(), "driver.db"))
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE pending_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		enqueued_at_epoch INTEGER NOT NULL
	)`)
	require.NoError(t, err)

	_, err = db.Exec("INSERT INTO pending_events (session_id, enqueued_at_epoch) VALUES (?, ?), (?, ?)",
		"s1", 100, "s1", 50)
	require.NoError(t, err)

	var id int64
	err = db.QueryRow(`SELECT id FROM pending_events WHERE session_id = ?
		ORDER BY enqueued_at_epoch ASC, id ASC LIMIT 1`, "s1").Scan(&id)
	require.NoError(t, err)
	assert.Equal(t, int64(2), id)
}

func TestWALMode(t *testing.T) {
	db, err := sql.Open(DriverName, filepath.Join(t.TempDir(), "wal.db"))
	require.NoError(t, err)
	defer db.Close()

	var mode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode=WAL").Scan(&mode))
	assert.Equal(t, "wal", mode)
}
