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
	"time"

	"github.com/spf13/cobra"

	"github.com/teradata-labs/recall/pkg/queue"
)

var queueLimit int

var queueCmd = &cobra.Command{
	Use:   "queue [session-id]",
	Short: "Inspect pending work",
	Long: `Without arguments, list sessions that still have queued events. With a
session id, list that session's events in claim order.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runQueue,
}

func init() {
	queueCmd.Flags().IntVar(&queueLimit, "limit", 100, "maximum sessions to list")
	rootCmd.AddCommand(queueCmd)
}

func runQueue(cmd *cobra.Command, args []string) error {
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

	store := queue.NewSQLiteStore(db, tracer, logger)
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)

	if len(args) == 1 {
		events, err := store.Pending(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(tw, "ID\tTYPE\tKIND\tPROMPT\tENQUEUED")
		for _, ev := range events {
			fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n", ev.ID, ev.Type, ev.Kind, ev.PromptNumber,
				ev.EnqueuedAt().Format(time.RFC3339))
		}
		return tw.Flush()
	}

	total, err := store.CountAll(ctx)
	if err != nil {
		return err
	}
	ids, err := store.SessionsWithPending(ctx, queueLimit)
	if err != nil {
		return err
	}
	fmt.Fprintln(tw, "SESSION\tPENDING")
	for _, id := range ids {
		n, err := store.Count(ctx, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%d\n", id, n)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Printf("\n%d event(s) across %d session(s)\n", total, len(ids))
	return nil
}
