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
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	recallconfig "github.com/teradata-labs/recall/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage recalld configuration",
	Long:  `Manage configuration files and secrets for recalld.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate example configuration file",
	Long:  `Generate an example recall.yaml in the data directory (~/.recall by default).`,
	RunE:  runConfigInit,
}

var configSetKeyCmd = &cobra.Command{
	Use:   "set-key [key-name]",
	Short: "Save a secret to the system keyring",
	Long: `Save an API key or the database key to the system keyring.

The value is read from stdin without echo and stored in your system's secure
credential storage (Keychain on macOS, Credential Manager on Windows, Secret
Service on Linux).

Run 'recalld config list-keys' to see available key names.`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigSetKey,
}

var configGetKeyCmd = &cobra.Command{
	Use:   "get-key [key-name]",
	Short: "Show a masked secret from the system keyring",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigGetKey,
}

var configDeleteKeyCmd = &cobra.Command{
	Use:   "delete-key [key-name]",
	Short: "Delete a secret from the system keyring",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigDeleteKey,
}

var configListKeysCmd = &cobra.Command{
	Use:   "list-keys",
	Short: "List secret names recalld reads from the keyring",
	Run: func(cmd *cobra.Command, args []string) {
		for _, k := range ListAvailableSecretKeys() {
			fmt.Println(k)
		}
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Run:   runConfigShow,
}

var configForce bool

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing config file")
	configCmd.AddCommand(configInitCmd, configSetKeyCmd, configGetKeyCmd,
		configDeleteKeyCmd, configListKeysCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}

const exampleConfig = `# recalld configuration
# Secrets (API keys, database key) belong in the keyring or RECALL_* env vars:
#   recalld config set-key anthropic_api_key

server:
  host: 127.0.0.1
  port: 37777
  keepalive_seconds: 15
  cors:
    enabled: true
    allowed_origins: ["*"]

database:
  path: ~/.recall/recall.db
  encrypt: false

logging:
  level: info
  format: json

queue:
  max_batch_size: 20
  retry_backoff_ms: 1000
  sweep_schedule: "@every 1m"
  status_schedule: "@every 30s"
  drain_timeout_seconds: 30

providers:
  # Tried in order; a backend that is rate limited or unavailable hands the
  # batch to the next one.
  chain: [anthropic, gemini, openrouter]
  max_tokens: 4096
  anthropic:
    model: claude-haiku-4-5
  gemini:
    model: gemini-2.5-flash
    rpm: 10
  openrouter:
    model: xiaomi/mimo-v2-flash:free
  bedrock:
    region: us-west-2

mode:
  name: code
  dir: ~/.recall/modes
  hot_reload: true

privacy:
  skip_tools: [ListMcpResourcesTool, SlashCommand, Skill, TodoWrite, AskUserQuestion]
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	dir := recallconfig.GetRecallDataDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	path := filepath.Join(dir, DefaultConfigFileName+".yaml")
	if _, err := os.Stat(path); err == nil && !configForce {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	if err := os.WriteFile(path, []byte(exampleConfig), 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	fmt.Printf("✓ Wrote %s\n", path)
	return nil
}

func runConfigSetKey(cmd *cobra.Command, args []string) error {
	keyName := args[0]
	if !isSecretKey(keyName) {
		return fmt.Errorf("invalid key name: %s (available: %s)", keyName, strings.Join(ListAvailableSecretKeys(), ", "))
	}

	// Read secret from stdin (without echo)
	fmt.Printf("Enter %s (input hidden): ", keyName)
	secretBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return fmt.Errorf("error reading input: %w", err)
	}
	secret := strings.TrimSpace(string(secretBytes))
	if secret == "" {
		return fmt.Errorf("secret cannot be empty")
	}

	if err := SaveSecretToKeyring(keyName, secret); err != nil {
		return fmt.Errorf("error saving to keyring: %w", err)
	}
	fmt.Printf("✓ Saved %s to system keyring\n", keyName)
	return nil
}

func runConfigGetKey(cmd *cobra.Command, args []string) error {
	keyName := args[0]
	secret, err := GetSecretFromKeyring(keyName)
	if err != nil {
		return fmt.Errorf("key not found in keyring (set it with: recalld config set-key %s): %w", keyName, err)
	}
	fmt.Printf("%s: %s\n", keyName, maskSecret(secret))
	return nil
}

func runConfigDeleteKey(cmd *cobra.Command, args []string) error {
	keyName := args[0]
	if err := DeleteSecretFromKeyring(keyName); err != nil {
		return fmt.Errorf("error deleting key: %w", err)
	}
	fmt.Printf("✓ Deleted %s from system keyring\n", keyName)
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) {
	c := config
	fmt.Println("Current Configuration:")
	fmt.Println("======================")
	fmt.Println()

	fmt.Printf("Data dir: %s\n\n", c.DataDir)

	fmt.Println("Server:")
	fmt.Printf("  Address: %s:%d\n", c.Server.Host, c.Server.Port)
	fmt.Printf("  CORS: %t %v\n", c.Server.CORS.Enabled, c.Server.CORS.AllowedOrigins)
	fmt.Println()

	fmt.Println("Database:")
	fmt.Printf("  Path: %s\n", c.Database.Path)
	fmt.Printf("  Encrypted: %t\n", c.Database.Encrypt)
	fmt.Println()

	fmt.Println("Queue:")
	fmt.Printf("  Max batch: %d\n", c.Queue.MaxBatchSize)
	fmt.Printf("  Sweep: %q  Status: %q\n", c.Queue.SweepSchedule, c.Queue.StatusSchedule)
	fmt.Println()

	fmt.Println("Providers:")
	fmt.Printf("  Chain: %s\n", strings.Join(c.Providers.Chain, " -> "))
	fmt.Printf("  Anthropic: %s key=%s\n", c.Providers.Anthropic.Model, maskSecret(c.Providers.Anthropic.APIKey))
	fmt.Printf("  Gemini: %s key=%s\n", c.Providers.Gemini.Model, maskSecret(c.Providers.Gemini.APIKey))
	fmt.Printf("  OpenRouter: %s key=%s\n", c.Providers.OpenRouter.Model, maskSecret(c.Providers.OpenRouter.APIKey))
	fmt.Printf("  Bedrock: %s (%s)\n", c.Providers.Bedrock.ModelID, c.Providers.Bedrock.Region)
	fmt.Println()

	fmt.Println("Mode:")
	fmt.Printf("  Active: %s  Dir: %s  Hot reload: %t\n", c.Mode.Name, c.Mode.Dir, c.Mode.HotReload)
}

func maskSecret(s string) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "..." + s[len(s)-4:]
}
