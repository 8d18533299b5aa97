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
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/teradata-labs/recall/internal/sqlitedriver"
)

// requiredTables must exist in any usable memory database.
var requiredTables = []string{"sessions", "user_prompts", "pending_events", "observations", "session_summaries"}

// Backup writes a consistent copy of the live database into dir using
// VACUUM INTO, then verifies it. The file is named
// recall.db.backup.<timestamp>. A failed backup leaves no partial file.
// Encrypted copies keep the source key and are not re-opened for verification.
func Backup(ctx context.Context, db *sql.DB, dir string, encrypted bool) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("backup: create %q: %w", dir, err)
	}
	backupPath := filepath.Join(dir, "recall.db.backup."+time.Now().Format("20060102T150405"))

	if _, err := db.ExecContext(ctx, "VACUUM INTO ?", backupPath); err != nil {
		_ = os.Remove(backupPath)
		return "", fmt.Errorf("backup: vacuum into %q: %w", backupPath, err)
	}

	if encrypted {
		return backupPath, nil
	}
	if err := VerifyBackup(ctx, backupPath); err != nil {
		_ = os.Remove(backupPath)
		return "", err
	}
	return backupPath, nil
}

// VerifyBackup runs PRAGMA integrity_check on path and confirms the memory
// tables are present.
func VerifyBackup(ctx context.Context, path string) error {
	db, err := sql.Open(sqlitedriver.DriverName, path)
	if err != nil {
		return fmt.Errorf("verify backup: open %q: %w", path, err)
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("verify backup: integrity check on %q: %w", path, err)
	}
	if result != "ok" {
		return fmt.Errorf("verify backup: integrity check failed on %q: %s", path, result)
	}

	for _, table := range requiredTables {
		var n int
		if err := db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&n); err != nil {
			return fmt.Errorf("verify backup: inspect %q: %w", path, err)
		}
		if n == 0 {
			return fmt.Errorf("verify backup: %q is missing table %s", path, table)
		}
	}
	return nil
}
