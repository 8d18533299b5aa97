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
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
	"github.com/zalando/go-keyring"

	recallconfig "github.com/teradata-labs/recall/pkg/config"
	"github.com/teradata-labs/recall/pkg/llm/factory"
	"github.com/teradata-labs/recall/pkg/server"
	"github.com/teradata-labs/recall/pkg/session"
	"github.com/teradata-labs/recall/pkg/storage/sqlite"
)

const (
	// ServiceName for keyring storage
	ServiceName = "recall"
	// DefaultConfigFileName is the name of the config file
	DefaultConfigFileName = "recall"
)

// Config holds all configuration for recalld.
// Priority: CLI flags > env vars > config file > defaults
type Config struct {
	// DataDir comes from RECALL_DATA_DIR or ~/.recall and is never read from
	// the config file, which lives inside it.
	DataDir string `mapstructure:"-"`

	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Logging       LoggingConfig       `mapstructure:"logging"`
	Queue         QueueConfig         `mapstructure:"queue"`
	Providers     ProvidersConfig     `mapstructure:"providers"`
	Mode          ModeConfig          `mapstructure:"mode"`
	Privacy       PrivacyConfig       `mapstructure:"privacy"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host                   string     `mapstructure:"host"`
	Port                   int        `mapstructure:"port"`
	KeepAliveSeconds       int        `mapstructure:"keepalive_seconds"`
	ShutdownTimeoutSeconds int        `mapstructure:"shutdown_timeout_seconds"`
	CORS                   CORSConfig `mapstructure:"cors"`
}

// CORSConfig mirrors server.CORSConfig for the config file.
type CORSConfig struct {
	Enabled          bool     `mapstructure:"enabled"`
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	ExposedHeaders   []string `mapstructure:"exposed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

// DatabaseConfig configures the memory database.
type DatabaseConfig struct {
	Path          string `mapstructure:"path"`
	Encrypt       bool   `mapstructure:"encrypt"`
	Key           string `mapstructure:"key"` // From env/keyring only
	BusyTimeoutMs int    `mapstructure:"busy_timeout_ms"`
	BackupDir     string `mapstructure:"backup_dir"`
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// QueueConfig configures consumers and recovery.
type QueueConfig struct {
	MaxBatchSize        int    `mapstructure:"max_batch_size"`
	RetryBackoffMs      int    `mapstructure:"retry_backoff_ms"`
	RecoveryLimit       int    `mapstructure:"recovery_limit"`
	SweepSchedule       string `mapstructure:"sweep_schedule"`
	StatusSchedule      string `mapstructure:"status_schedule"`
	DrainTimeoutSeconds int    `mapstructure:"drain_timeout_seconds"`
	HistoryLimit        int    `mapstructure:"history_limit"`
}

// ProvidersConfig lists the backend chain and per-backend settings.
type ProvidersConfig struct {
	Chain          []string         `mapstructure:"chain"`
	MaxTokens      int              `mapstructure:"max_tokens"`
	TimeoutSeconds int              `mapstructure:"timeout_seconds"`
	Anthropic      AnthropicConfig  `mapstructure:"anthropic"`
	Bedrock        BedrockConfig    `mapstructure:"bedrock"`
	Gemini         GeminiConfig     `mapstructure:"gemini"`
	OpenRouter     OpenRouterConfig `mapstructure:"openrouter"`
}

type AnthropicConfig struct {
	APIKey  string `mapstructure:"api_key"` // From env/keyring only
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
}

type BedrockConfig struct {
	Region          string `mapstructure:"region"`
	AccessKeyID     string `mapstructure:"access_key_id"`     // From env/keyring only
	SecretAccessKey string `mapstructure:"secret_access_key"` // From env/keyring only
	SessionToken    string `mapstructure:"session_token"`     // From env/keyring only
	Profile         string `mapstructure:"profile"`
	ModelID         string `mapstructure:"model_id"`
}

type GeminiConfig struct {
	APIKey  string `mapstructure:"api_key"` // From env/keyring only
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
	RPM     int    `mapstructure:"rpm"`
}

type OpenRouterConfig struct {
	APIKey  string `mapstructure:"api_key"` // From env/keyring only
	Model   string `mapstructure:"model"`
	BaseURL string `mapstructure:"base_url"`
	SiteURL string `mapstructure:"site_url"`
	AppName string `mapstructure:"app_name"`
}

// ModeConfig selects the observation mode.
type ModeConfig struct {
	Name      string `mapstructure:"name"`
	Dir       string `mapstructure:"dir"`
	HotReload bool   `mapstructure:"hot_reload"`
}

// PrivacyConfig controls what never reaches the observer.
type PrivacyConfig struct {
	SkipTools []string `mapstructure:"skip_tools"`
}

// ObservabilityConfig toggles span and metric logging.
type ObservabilityConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoadConfig loads configuration from multiple sources with priority:
// 1. CLI flags (highest priority)
// 2. Environment variables (RECALL_*)
// 3. Config file
// 4. Defaults (lowest priority)
func LoadConfig(cfgFile string) (*Config, error) {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(recallconfig.GetRecallDataDir())
		viper.AddConfigPath(".")
		viper.SetConfigName(DefaultConfigFileName) // recall.yaml
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file %s: %w", viper.ConfigFileUsed(), err)
		}
	}

	viper.SetEnvPrefix("RECALL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	bindSecretEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	config.DataDir = recallconfig.GetRecallDataDir()
	config.Database.Path = recallconfig.ExpandPath(config.Database.Path)
	if config.Mode.Dir != "" {
		config.Mode.Dir = recallconfig.ExpandPath(config.Mode.Dir)
	}

	// Keyring might not be available; secrets can still come from env.
	_ = loadSecretsFromKeyring(&config)

	return &config, nil
}

// bindSecretEnv registers env names for keys without defaults, which
// AutomaticEnv alone does not surface to Unmarshal. The vendor variable
// names are accepted as well.
func bindSecretEnv() {
	_ = viper.BindEnv("database.key", "RECALL_DATABASE_KEY", sqlite.KeyEnv)
	_ = viper.BindEnv("providers.anthropic.api_key", "RECALL_PROVIDERS_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")
	_ = viper.BindEnv("providers.gemini.api_key", "RECALL_PROVIDERS_GEMINI_API_KEY", "GEMINI_API_KEY")
	_ = viper.BindEnv("providers.openrouter.api_key", "RECALL_PROVIDERS_OPENROUTER_API_KEY", "OPENROUTER_API_KEY")
	_ = viper.BindEnv("providers.bedrock.access_key_id", "RECALL_PROVIDERS_BEDROCK_ACCESS_KEY_ID")
	_ = viper.BindEnv("providers.bedrock.secret_access_key", "RECALL_PROVIDERS_BEDROCK_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("providers.bedrock.session_token", "RECALL_PROVIDERS_BEDROCK_SESSION_TOKEN")
	_ = viper.BindEnv("providers.bedrock.profile", "RECALL_PROVIDERS_BEDROCK_PROFILE", "AWS_PROFILE")
	_ = viper.BindEnv("logging.file", "RECALL_LOGGING_FILE")
}

// setDefaults sets default configuration values.
func setDefaults() {
	dataDir := recallconfig.GetRecallDataDir()

	viper.SetDefault("server.host", "127.0.0.1")
	viper.SetDefault("server.port", 37777)
	viper.SetDefault("server.keepalive_seconds", 15)
	viper.SetDefault("server.shutdown_timeout_seconds", 30)

	cors := server.DefaultCORSConfig()
	viper.SetDefault("server.cors.enabled", cors.Enabled)
	viper.SetDefault("server.cors.allowed_origins", cors.AllowedOrigins)
	viper.SetDefault("server.cors.allowed_methods", cors.AllowedMethods)
	viper.SetDefault("server.cors.allowed_headers", cors.AllowedHeaders)
	viper.SetDefault("server.cors.exposed_headers", cors.ExposedHeaders)
	viper.SetDefault("server.cors.allow_credentials", cors.AllowCredentials) // MUST be false with wildcard origins
	viper.SetDefault("server.cors.max_age", cors.MaxAge)

	viper.SetDefault("database.path", filepath.Join(dataDir, "recall.db"))
	viper.SetDefault("database.encrypt", false)
	viper.SetDefault("database.busy_timeout_ms", 5000)
	viper.SetDefault("database.backup_dir", recallconfig.GetRecallSubDir("backups"))

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")

	viper.SetDefault("queue.max_batch_size", 20)
	viper.SetDefault("queue.retry_backoff_ms", 1000)
	viper.SetDefault("queue.recovery_limit", session.DefaultRecoveryLimit)
	viper.SetDefault("queue.sweep_schedule", "@every 1m")
	viper.SetDefault("queue.status_schedule", "@every 30s")
	viper.SetDefault("queue.drain_timeout_seconds", 30)
	viper.SetDefault("queue.history_limit", session.DefaultHistoryLimit)

	viper.SetDefault("providers.chain", factory.DefaultChain)
	viper.SetDefault("providers.max_tokens", 4096)
	viper.SetDefault("providers.timeout_seconds", 120)
	viper.SetDefault("providers.anthropic.model", "claude-haiku-4-5")
	viper.SetDefault("providers.bedrock.region", "us-west-2")
	viper.SetDefault("providers.bedrock.model_id", "us.anthropic.claude-haiku-4-5-20251001-v1:0") // Cross-region inference profile
	viper.SetDefault("providers.gemini.model", "gemini-2.5-flash")
	viper.SetDefault("providers.gemini.rpm", 10) // free tier
	viper.SetDefault("providers.openrouter.model", "xiaomi/mimo-v2-flash:free")
	viper.SetDefault("providers.openrouter.app_name", "recall")

	viper.SetDefault("mode.name", "code")
	viper.SetDefault("mode.dir", recallconfig.GetRecallSubDir("modes"))
	viper.SetDefault("mode.hot_reload", true)

	viper.SetDefault("privacy.skip_tools", session.DefaultSkipTools)

	viper.SetDefault("observability.enabled", false)
}

// Validate checks the loaded configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Database.Encrypt && c.Database.Key == "" {
		return fmt.Errorf("database.encrypt requires a key (set RECALL_DB_KEY or save to keyring with 'recalld config set-key db_key')")
	}
	if c.Queue.MaxBatchSize < 1 {
		return fmt.Errorf("queue.max_batch_size must be positive, got %d", c.Queue.MaxBatchSize)
	}
	if c.Queue.RetryBackoffMs < 0 {
		return fmt.Errorf("queue.retry_backoff_ms cannot be negative")
	}
	for name, spec := range map[string]string{
		"queue.sweep_schedule":  c.Queue.SweepSchedule,
		"queue.status_schedule": c.Queue.StatusSchedule,
	} {
		if spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, spec, err)
		}
	}
	if len(c.Providers.Chain) == 0 {
		return fmt.Errorf("providers.chain must name at least one provider")
	}
	for _, name := range c.Providers.Chain {
		if !factory.IsKnownProvider(name) {
			return fmt.Errorf("unknown provider %q in providers.chain (supported: %s)",
				name, strings.Join(factory.DefaultChain, ", ")+", bedrock")
		}
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	return nil
}

// FactoryConfig maps provider settings onto the LLM factory.
func (c *Config) FactoryConfig() factory.FactoryConfig {
	p := c.Providers
	return factory.FactoryConfig{
		Chain:                  p.Chain,
		AnthropicAPIKey:        p.Anthropic.APIKey,
		AnthropicModel:         p.Anthropic.Model,
		AnthropicBaseURL:       p.Anthropic.BaseURL,
		BedrockRegion:          p.Bedrock.Region,
		BedrockAccessKeyID:     p.Bedrock.AccessKeyID,
		BedrockSecretAccessKey: p.Bedrock.SecretAccessKey,
		BedrockSessionToken:    p.Bedrock.SessionToken,
		BedrockProfile:         p.Bedrock.Profile,
		BedrockModelID:         p.Bedrock.ModelID,
		GeminiAPIKey:           p.Gemini.APIKey,
		GeminiModel:            p.Gemini.Model,
		GeminiBaseURL:          p.Gemini.BaseURL,
		GeminiRPM:              p.Gemini.RPM,
		OpenRouterAPIKey:       p.OpenRouter.APIKey,
		OpenRouterModel:        p.OpenRouter.Model,
		OpenRouterBaseURL:      p.OpenRouter.BaseURL,
		OpenRouterSiteURL:      p.OpenRouter.SiteURL,
		OpenRouterAppName:      p.OpenRouter.AppName,
		MaxTokens:              p.MaxTokens,
		Timeout:                time.Duration(p.TimeoutSeconds) * time.Second,
	}
}

// CORS converts the config block for the server package.
func (c CORSConfig) CORS() server.CORSConfig {
	return server.CORSConfig{
		Enabled:          c.Enabled,
		AllowedOrigins:   c.AllowedOrigins,
		AllowedMethods:   c.AllowedMethods,
		AllowedHeaders:   c.AllowedHeaders,
		ExposedHeaders:   c.ExposedHeaders,
		AllowCredentials: c.AllowCredentials,
		MaxAge:           c.MaxAge,
	}
}

// SecretMapping defines how to load a secret from keyring into the config.
type SecretMapping struct {
	KeyringKey string
	Setter     func(*Config, string)
	IsSet      func(*Config) bool // Returns true if the value is already set (skip keyring lookup)
}

// GetSecretMappings returns every secret recalld can read from the keyring.
func GetSecretMappings() []SecretMapping {
	return []SecretMapping{
		{
			KeyringKey: "anthropic_api_key",
			Setter:     func(c *Config, val string) { c.Providers.Anthropic.APIKey = val },
			IsSet:      func(c *Config) bool { return c.Providers.Anthropic.APIKey != "" },
		},
		{
			KeyringKey: "gemini_api_key",
			Setter:     func(c *Config, val string) { c.Providers.Gemini.APIKey = val },
			IsSet:      func(c *Config) bool { return c.Providers.Gemini.APIKey != "" },
		},
		{
			KeyringKey: "openrouter_api_key",
			Setter:     func(c *Config, val string) { c.Providers.OpenRouter.APIKey = val },
			IsSet:      func(c *Config) bool { return c.Providers.OpenRouter.APIKey != "" },
		},
		{
			KeyringKey: "bedrock_access_key_id",
			Setter:     func(c *Config, val string) { c.Providers.Bedrock.AccessKeyID = val },
			IsSet:      func(c *Config) bool { return c.Providers.Bedrock.AccessKeyID != "" },
		},
		{
			KeyringKey: "bedrock_secret_access_key",
			Setter:     func(c *Config, val string) { c.Providers.Bedrock.SecretAccessKey = val },
			IsSet:      func(c *Config) bool { return c.Providers.Bedrock.SecretAccessKey != "" },
		},
		{
			KeyringKey: "bedrock_session_token",
			Setter:     func(c *Config, val string) { c.Providers.Bedrock.SessionToken = val },
			IsSet:      func(c *Config) bool { return c.Providers.Bedrock.SessionToken != "" },
		},
		{
			KeyringKey: "db_key",
			Setter:     func(c *Config, val string) { c.Database.Key = val },
			IsSet:      func(c *Config) bool { return c.Database.Key != "" },
		},
	}
}

func loadSecretsFromKeyring(config *Config) error {
	for _, mapping := range GetSecretMappings() {
		if mapping.IsSet(config) {
			continue
		}
		value, err := GetSecretFromKeyring(mapping.KeyringKey)
		if err == nil && value != "" {
			mapping.Setter(config, value)
		}
	}
	return nil
}

// GetSecretFromKeyring retrieves a secret from the system keyring.
func GetSecretFromKeyring(key string) (string, error) {
	return keyring.Get(ServiceName, key)
}

// SaveSecretToKeyring stores a secret in the system keyring.
func SaveSecretToKeyring(key, value string) error {
	return keyring.Set(ServiceName, key, value)
}

// DeleteSecretFromKeyring removes a secret from the system keyring.
func DeleteSecretFromKeyring(key string) error {
	return keyring.Delete(ServiceName, key)
}

// ListAvailableSecretKeys returns the keyring key names.
func ListAvailableSecretKeys() []string {
	mappings := GetSecretMappings()
	keys := make([]string, 0, len(mappings))
	for _, m := range mappings {
		keys = append(keys, m.KeyringKey)
	}
	return keys
}

func isSecretKey(key string) bool {
	for _, k := range ListAvailableSecretKeys() {
		if k == key {
			return true
		}
	}
	return false
}
