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

	"github.com/spf13/cobra"

	"github.com/teradata-labs/recall/pkg/storage/sqlite"
)

var backupDir string

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Write a verified copy of the memory database",
	Long: `Write a consistent copy of the memory database with VACUUM INTO and run an
integrity check on it. Safe while the service is running.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		logger := cliLogger(config)
		tracer := newTracer(config, logger)
		db, err := openDatabase(ctx, config, logger, tracer)
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()

		dir := backupDir
		if dir == "" {
			dir = config.Database.BackupDir
		}
		path, err := sqlite.Backup(ctx, db, dir, config.Database.Encrypt)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Backup written to %s\n", path)
		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify-backup [path]",
	Short: "Check an unencrypted backup file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		if err := sqlite.VerifyBackup(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ %s is intact\n", args[0])
		return nil
	},
}

func init() {
	backupCmd.Flags().StringVar(&backupDir, "dir", "", "output directory (default: database.backup_dir)")
	rootCmd.AddCommand(backupCmd, verifyCmd)
}
