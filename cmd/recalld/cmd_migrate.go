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
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/teradata-labs/recall/pkg/storage/sqlite"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the memory database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(cmd.Context(), func(ctx context.Context, m *sqlite.Migrator) error {
			n, err := m.MigrateUp(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Applied %d migration(s); schema at version %d\n", n, m.Latest())
			return nil
		})
	},
}

var migrateDownSteps int

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		if migrateDownSteps < 1 {
			return fmt.Errorf("--steps must be at least 1")
		}
		return withMigrator(cmd.Context(), func(ctx context.Context, m *sqlite.Migrator) error {
			n, err := m.MigrateDown(ctx, migrateDownSteps)
			if err != nil {
				return err
			}
			v, err := m.CurrentVersion(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Rolled back %d migration(s); schema at version %d\n", n, v)
			return nil
		})
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show applied and pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(cmd.Context(), func(ctx context.Context, m *sqlite.Migrator) error {
			statuses, err := m.Status(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "VERSION\tSTATE\tDESCRIPTION")
			for _, s := range statuses {
				state := "pending"
				if s.Applied {
					state = "applied"
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\n", s.Version, state, s.Description)
			}
			return tw.Flush()
		})
	},
}

func init() {
	migrateDownCmd.Flags().IntVar(&migrateDownSteps, "steps", 1, "number of migrations to roll back")
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateStatusCmd)
	rootCmd.AddCommand(migrateCmd)
}

func withMigrator(ctx context.Context, fn func(context.Context, *sqlite.Migrator) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := cliLogger(config)
	tracer := newTracer(config, logger)
	db, err := openDatabaseWith(ctx, config, logger, tracer, true)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	m, err := sqlite.NewMigrator(db, tracer)
	if err != nil {
		return err
	}
	return fn(ctx, m)
}
