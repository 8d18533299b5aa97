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
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	recallconfig "github.com/teradata-labs/recall/pkg/config"
	"github.com/teradata-labs/recall/pkg/events"
	"github.com/teradata-labs/recall/pkg/session"
)

// isolate points the data dir at a temp dir, clears vendor env vars and
// swaps the keyring for an in-memory mock.
func isolate(t *testing.T) string {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	keyring.MockInit()

	dir := t.TempDir()
	t.Setenv(recallconfig.DataDirEnv, dir)
	for _, k := range []string{"ANTHROPIC_API_KEY", "GEMINI_API_KEY", "OPENROUTER_API_KEY", "RECALL_DB_KEY", "AWS_PROFILE"} {
		t.Setenv(k, "")
	}
	return dir
}

func TestLoadConfig_Defaults(t *testing.T) {
	dir := isolate(t)

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 37777, cfg.Server.Port)
	assert.Equal(t, filepath.Join(dir, "recall.db"), cfg.Database.Path)
	assert.Equal(t, 20, cfg.Queue.MaxBatchSize)
	assert.Equal(t, "@every 1m", cfg.Queue.SweepSchedule)
	assert.Equal(t, session.DefaultRecoveryLimit, cfg.Queue.RecoveryLimit)
	assert.Equal(t, []string{"anthropic", "gemini", "openrouter"}, cfg.Providers.Chain)
	assert.Equal(t, "code", cfg.Mode.Name)
	assert.ElementsMatch(t, session.DefaultSkipTools, cfg.Privacy.SkipTools)
	assert.True(t, cfg.Server.CORS.Enabled)
	assert.False(t, cfg.Server.CORS.AllowCredentials)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 4000
queue:
  max_batch_size: 5
providers:
  chain: [gemini, bedrock]
  gemini:
    model: gemini-test
mode:
  name: email
  dir: ~/modes
`), 0o644))

	t.Setenv("RECALL_SERVER_PORT", "4100")
	t.Setenv("GEMINI_API_KEY", "g-key")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 4100, cfg.Server.Port, "env overrides file")
	assert.Equal(t, 5, cfg.Queue.MaxBatchSize)
	assert.Equal(t, []string{"gemini", "bedrock"}, cfg.Providers.Chain)
	assert.Equal(t, "gemini-test", cfg.Providers.Gemini.Model)
	assert.Equal(t, "g-key", cfg.Providers.Gemini.APIKey)
	assert.Equal(t, "email", cfg.Mode.Name)
	assert.NotContains(t, cfg.Mode.Dir, "~", "paths are expanded")
}

func TestLoadConfig_MissingFileIsError(t *testing.T) {
	isolate(t)
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadConfig_KeyringSecrets(t *testing.T) {
	isolate(t)
	require.NoError(t, SaveSecretToKeyring("anthropic_api_key", "sk-from-keyring"))
	require.NoError(t, SaveSecretToKeyring("db_key", "db-secret"))

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "sk-from-keyring", cfg.Providers.Anthropic.APIKey)
	assert.Equal(t, "db-secret", cfg.Database.Key)

	// Env wins over the keyring.
	viper.Reset()
	t.Setenv("ANTHROPIC_API_KEY", "sk-from-env")
	cfg, err = LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "sk-from-env", cfg.Providers.Anthropic.APIKey)

	require.NoError(t, DeleteSecretFromKeyring("anthropic_api_key"))
	_, err = GetSecretFromKeyring("anthropic_api_key")
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	isolate(t)
	base, err := LoadConfig("")
	require.NoError(t, err)

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "invalid port"},
		{"no db path", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"encrypt without key", func(c *Config) { c.Database.Encrypt = true; c.Database.Key = "" }, "requires a key"},
		{"encrypt with key", func(c *Config) { c.Database.Encrypt = true; c.Database.Key = "k" }, ""},
		{"batch size", func(c *Config) { c.Queue.MaxBatchSize = 0 }, "max_batch_size"},
		{"bad schedule", func(c *Config) { c.Queue.SweepSchedule = "every minute" }, "queue.sweep_schedule"},
		{"disabled schedule", func(c *Config) { c.Queue.StatusSchedule = "" }, ""},
		{"empty chain", func(c *Config) { c.Providers.Chain = nil }, "at least one provider"},
		{"unknown provider", func(c *Config) { c.Providers.Chain = []string{"anthropic", "ollama"} }, "unknown provider"},
		{"log format", func(c *Config) { c.Logging.Format = "text" }, "logging.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := *base
			c.Providers.Chain = append([]string(nil), base.Providers.Chain...)
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFactoryConfigMapping(t *testing.T) {
	cfg := &Config{Providers: ProvidersConfig{
		Chain:          []string{"openrouter"},
		MaxTokens:      1000,
		TimeoutSeconds: 30,
		Gemini:         GeminiConfig{RPM: 7},
		OpenRouter:     OpenRouterConfig{APIKey: "or", Model: "m", AppName: "recall"},
	}}
	fc := cfg.FactoryConfig()
	assert.Equal(t, []string{"openrouter"}, fc.Chain)
	assert.Equal(t, "or", fc.OpenRouterAPIKey)
	assert.Equal(t, "recall", fc.OpenRouterAppName)
	assert.Equal(t, 7, fc.GeminiRPM)
	assert.Equal(t, 1000, fc.MaxTokens)
	assert.Equal(t, "30s", fc.Timeout.String())
}

func TestSecretKeys(t *testing.T) {
	keys := ListAvailableSecretKeys()
	assert.Contains(t, keys, "anthropic_api_key")
	assert.Contains(t, keys, "db_key")
	assert.True(t, isSecretKey("gemini_api_key"))
	assert.False(t, isSecretKey("server.port"))

	assert.Equal(t, "(not set)", maskSecret(""))
	assert.Equal(t, "****", maskSecret("short"))
	assert.Equal(t, "sk-a...wxyz", maskSecret("sk-abcdefghijklmnopqrstuvwxyz"))
}

func TestFormatEvent(t *testing.T) {
	line := formatEvent(events.New(events.TypeNewObservation, "s1", map[string]int{"id": 3}))
	assert.Contains(t, line, "new_observation")
	assert.Contains(t, line, "[s1]")
}
