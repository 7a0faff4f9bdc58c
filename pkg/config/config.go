package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	envConfigPath        = "MEHRANBOT_CONFIG"
	envDownloadDir       = "MEHRANBOT_DOWNLOAD_DIR"
	envTelegramBotToken  = "TELEGRAM_BOT_TOKEN"
	envTelegramAllowFrom = "TELEGRAM_ALLOW_FROM"
	envDiscordBotToken   = "DISCORD_BOT_TOKEN"
	envDiscordAllowFrom  = "DISCORD_ALLOW_FROM"
)

const (
	LLMBackendCLI    = "cli"
	LLMBackendOllama = "ollama"
	LLMBackendOpenAI = "openai"
)

const (
	defaultTelegramMaxUploadMB = 50
	defaultDiscordMaxUploadMB  = 25
	defaultLLMModel            = "deepseek-r1:14b"
	defaultLLMCommand          = "ollama"
	defaultLLMTimeoutSeconds   = 30
	defaultPricesBaseURL       = "https://query1.finance.yahoo.com"
	defaultPriceCacheTTL       = 300
	defaultPriceCacheSize      = 1024
	defaultPriceTimeoutSeconds = 10
	defaultLookupConcurrency   = 4
	defaultMediaCommand        = "yt-dlp"
	defaultMediaDownloadDir    = "./downloads"
	defaultMediaTimeoutSeconds = 600
	defaultMediaStaleMinutes   = 60
	defaultDispatchWorkers     = 8
	defaultDispatchQueueSize   = 100
	defaultGatewayHost         = "0.0.0.0"
	defaultGatewayPort         = 18790
)

// Config is the root runtime configuration.
type Config struct {
	Channels ChannelsConfig `json:"channels" yaml:"channels"`
	LLM      LLMConfig      `json:"llm" yaml:"llm"`
	Prices   PricesConfig   `json:"prices" yaml:"prices"`
	Media    MediaConfig    `json:"media" yaml:"media"`
	Dispatch DispatchConfig `json:"dispatch" yaml:"dispatch"`
	Gateway  GatewayConfig  `json:"gateway" yaml:"gateway"`
	Logging  LoggingConfig  `json:"logging,omitempty" yaml:"logging,omitempty"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty" yaml:"format,omitempty"`
	Level     string `json:"level,omitempty" yaml:"level,omitempty"`
	AddSource bool   `json:"add_source,omitempty" yaml:"add_source,omitempty"`
}

// ChannelsConfig stores transport adapter settings.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`
	Discord  DiscordConfig  `json:"discord" yaml:"discord"`
}

// TelegramConfig configures Telegram channel integration.
type TelegramConfig struct {
	Enabled     bool     `json:"enabled" yaml:"enabled"`
	Token       string   `json:"token" yaml:"token"`
	AllowFrom   []string `json:"allow_from" yaml:"allow_from"`
	MaxUploadMB int      `json:"max_upload_mb" yaml:"max_upload_mb"`
}

// DiscordConfig configures Discord channel integration.
type DiscordConfig struct {
	Enabled     bool     `json:"enabled" yaml:"enabled"`
	Token       string   `json:"token" yaml:"token"`
	AllowFrom   []string `json:"allow_from" yaml:"allow_from"`
	MaxUploadMB int      `json:"max_upload_mb" yaml:"max_upload_mb"`
}

// LLMConfig selects and configures the local language-model backend.
type LLMConfig struct {
	Backend        string   `json:"backend" yaml:"backend"`
	Model          string   `json:"model" yaml:"model"`
	Command        string   `json:"command" yaml:"command"`
	Args           []string `json:"args" yaml:"args"`
	BaseURL        string   `json:"base_url" yaml:"base_url"`
	APIKeyEnv      string   `json:"api_key_env" yaml:"api_key_env"`
	TimeoutSeconds int      `json:"timeout_seconds" yaml:"timeout_seconds"`
}

// PricesConfig configures the quote source and its cache.
type PricesConfig struct {
	BaseURL               string `json:"base_url" yaml:"base_url"`
	CacheTTLSeconds       int    `json:"cache_ttl_seconds" yaml:"cache_ttl_seconds"`
	CacheSize             int    `json:"cache_size" yaml:"cache_size"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds" yaml:"request_timeout_seconds"`
	LookupConcurrency     int    `json:"lookup_concurrency" yaml:"lookup_concurrency"`
}

// MediaConfig configures the media retrieval executable and artifact storage.
type MediaConfig struct {
	Command           string `json:"command" yaml:"command"`
	DownloadDir       string `json:"download_dir" yaml:"download_dir"`
	TimeoutSeconds    int    `json:"timeout_seconds" yaml:"timeout_seconds"`
	StaleAfterMinutes int    `json:"stale_after_minutes" yaml:"stale_after_minutes"`
}

// DispatchConfig sizes the dispatch worker pool.
type DispatchConfig struct {
	Workers   int `json:"workers" yaml:"workers"`
	QueueSize int `json:"queue_size" yaml:"queue_size"`
}

// GatewayConfig configures the status server bind settings.
type GatewayConfig struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

// Timeout returns the configured model call bound.
func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// CacheTTL returns how long a quote stays valid.
func (c PricesConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// RequestTimeout returns the per-request HTTP bound.
func (c PricesConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// Timeout returns the retrieval bound.
func (c MediaConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// StaleAfter returns the age after which leftover artifacts are swept.
func (c MediaConfig) StaleAfter() time.Duration {
	return time.Duration(c.StaleAfterMinutes) * time.Minute
}

// MaxUploadBytes converts the configured megabyte ceiling into bytes.
func (c TelegramConfig) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) * 1024 * 1024
}

// MaxUploadBytes converts the configured megabyte ceiling into bytes.
func (c DiscordConfig) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) * 1024 * 1024
}

// LoadConfig resolves the config file (if any), unmarshals it, and applies
// environment overrides and defaults.
func LoadConfig() (*Config, error) {
	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}

	var cfg Config
	if configPath != "" {
		content, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := unmarshal(configPath, content, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	return &cfg, nil
}

// Validate rejects configurations that cannot start a chat gateway.
//
// Tokens are never defaulted: an enabled channel without one is fatal.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is required")
	}

	var errs []error
	if c.Channels.Telegram.Enabled && strings.TrimSpace(c.Channels.Telegram.Token) == "" {
		errs = append(errs, fmt.Errorf("channels.telegram.token is required (or set %s)", envTelegramBotToken))
	}
	if c.Channels.Discord.Enabled && strings.TrimSpace(c.Channels.Discord.Token) == "" {
		errs = append(errs, fmt.Errorf("channels.discord.token is required (or set %s)", envDiscordBotToken))
	}

	switch c.LLM.Backend {
	case LLMBackendCLI, LLMBackendOllama, LLMBackendOpenAI:
	default:
		errs = append(errs, fmt.Errorf("llm.backend %q is not supported", c.LLM.Backend))
	}

	return errors.Join(errs...)
}

func unmarshal(path string, content []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(content, cfg)
	default:
		return json.Unmarshal(content, cfg)
	}
}

// applyEnvOverrides injects selected env-driven settings on top of file config.
func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	// A token in the environment implies the channel should run.
	if token := strings.TrimSpace(os.Getenv(envTelegramBotToken)); token != "" {
		cfg.Channels.Telegram.Token = token
		cfg.Channels.Telegram.Enabled = true
	}
	if rawAllowFrom := strings.TrimSpace(os.Getenv(envTelegramAllowFrom)); rawAllowFrom != "" {
		cfg.Channels.Telegram.AllowFrom = parseCSV(rawAllowFrom)
	}

	if token := strings.TrimSpace(os.Getenv(envDiscordBotToken)); token != "" {
		cfg.Channels.Discord.Token = token
		cfg.Channels.Discord.Enabled = true
	}
	if rawAllowFrom := strings.TrimSpace(os.Getenv(envDiscordAllowFrom)); rawAllowFrom != "" {
		cfg.Channels.Discord.AllowFrom = parseCSV(rawAllowFrom)
	}

	if dir := strings.TrimSpace(os.Getenv(envDownloadDir)); dir != "" {
		cfg.Media.DownloadDir = dir
	}
}

// applyDefaults fills every zero value that has a sensible default.
func applyDefaults(cfg *Config) {
	if cfg.Channels.Telegram.MaxUploadMB <= 0 {
		cfg.Channels.Telegram.MaxUploadMB = defaultTelegramMaxUploadMB
	}
	if cfg.Channels.Discord.MaxUploadMB <= 0 {
		cfg.Channels.Discord.MaxUploadMB = defaultDiscordMaxUploadMB
	}

	cfg.LLM.Backend = strings.ToLower(strings.TrimSpace(cfg.LLM.Backend))
	if cfg.LLM.Backend == "" {
		cfg.LLM.Backend = LLMBackendCLI
	}
	if strings.TrimSpace(cfg.LLM.Model) == "" {
		cfg.LLM.Model = defaultLLMModel
	}
	if strings.TrimSpace(cfg.LLM.Command) == "" {
		cfg.LLM.Command = defaultLLMCommand
	}
	if len(cfg.LLM.Args) == 0 {
		cfg.LLM.Args = []string{"run", cfg.LLM.Model}
	}
	if cfg.LLM.TimeoutSeconds <= 0 {
		cfg.LLM.TimeoutSeconds = defaultLLMTimeoutSeconds
	}

	if strings.TrimSpace(cfg.Prices.BaseURL) == "" {
		cfg.Prices.BaseURL = defaultPricesBaseURL
	}
	if cfg.Prices.CacheTTLSeconds <= 0 {
		cfg.Prices.CacheTTLSeconds = defaultPriceCacheTTL
	}
	if cfg.Prices.CacheSize <= 0 {
		cfg.Prices.CacheSize = defaultPriceCacheSize
	}
	if cfg.Prices.RequestTimeoutSeconds <= 0 {
		cfg.Prices.RequestTimeoutSeconds = defaultPriceTimeoutSeconds
	}
	if cfg.Prices.LookupConcurrency <= 0 {
		cfg.Prices.LookupConcurrency = defaultLookupConcurrency
	}

	if strings.TrimSpace(cfg.Media.Command) == "" {
		cfg.Media.Command = defaultMediaCommand
	}
	if strings.TrimSpace(cfg.Media.DownloadDir) == "" {
		cfg.Media.DownloadDir = defaultMediaDownloadDir
	}
	if cfg.Media.TimeoutSeconds <= 0 {
		cfg.Media.TimeoutSeconds = defaultMediaTimeoutSeconds
	}
	if cfg.Media.StaleAfterMinutes <= 0 {
		cfg.Media.StaleAfterMinutes = defaultMediaStaleMinutes
	}

	if cfg.Dispatch.Workers <= 0 {
		cfg.Dispatch.Workers = defaultDispatchWorkers
	}
	if cfg.Dispatch.QueueSize <= 0 {
		cfg.Dispatch.QueueSize = defaultDispatchQueueSize
	}

	if strings.TrimSpace(cfg.Gateway.Host) == "" {
		cfg.Gateway.Host = defaultGatewayHost
	}
	if cfg.Gateway.Port <= 0 {
		cfg.Gateway.Port = defaultGatewayPort
	}
}

// parseCSV splits comma-separated values and returns a trimmed compact slice.
func parseCSV(input string) []string {
	parts := strings.Split(input, ",")
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		clean = append(clean, trimmed)
	}

	return slices.Clip(clean)
}

// findConfigPath resolves the active config file location.
//
// Precedence is MEHRANBOT_CONFIG first, then cwd-local fallback paths. An
// empty result means no file exists and defaults plus environment apply.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv(envConfigPath)); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("%s does not point to a file: %s", envConfigPath, value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config", "config.json"),
		filepath.Join(cwd, "config.yaml"),
		filepath.Join(cwd, "config", "config.yaml"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", nil
}
