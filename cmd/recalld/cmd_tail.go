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
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/r3labs/sse/v2"
	"github.com/spf13/cobra"

	"github.com/teradata-labs/recall/pkg/events"
)

var (
	tailURL     string
	tailSession string
	tailRaw     bool
)

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Follow the live event stream of a running service",
	RunE:  runTail,
}

func init() {
	tailCmd.Flags().StringVar(&tailURL, "url", "", "stream URL (default: http://<host>:<port>/stream)")
	tailCmd.Flags().StringVar(&tailSession, "session", "", "only show events for this session")
	tailCmd.Flags().BoolVar(&tailRaw, "raw", false, "print event JSON as received")
	rootCmd.AddCommand(tailCmd)
}

func runTail(cmd *cobra.Command, args []string) error {
	url := tailURL
	if url == "" {
		url = "http://" + net.JoinHostPort(config.Server.Host, strconv.Itoa(config.Server.Port)) + "/stream"
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := sse.NewClient(url)
	client.OnDisconnect(func(c *sse.Client) {
		fmt.Fprintln(os.Stderr, "stream disconnected, reconnecting...")
	})

	err := client.SubscribeRawWithContext(ctx, func(msg *sse.Event) {
		if len(msg.Data) == 0 {
			return
		}
		var ev events.Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			return
		}
		if tailSession != "" && ev.SessionID != "" && ev.SessionID != tailSession {
			return
		}
		if tailRaw {
			fmt.Println(string(msg.Data))
			return
		}
		fmt.Println(formatEvent(ev))
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("stream %s: %w", url, err)
	}
	return nil
}

func formatEvent(ev events.Event) string {
	ts := time.UnixMilli(ev.Timestamp).Format("15:04:05")
	data, _ := json.Marshal(ev.Data)
	if ev.SessionID == "" {
		return fmt.Sprintf("%s %-18s %s", ts, ev.Type, data)
	}
	return fmt.Sprintf("%s %-18s [%s] %s", ts, ev.Type, ev.SessionID, data)
}
