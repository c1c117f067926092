package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/titanous/json5"
)

const (
	envConfigPath        = "SQUADBOT_CONFIG"
	envTelegramBotToken  = "TELEGRAM_BOT_TOKEN"
	envTelegramAllowFrom = "TELEGRAM_ALLOW_FROM"
	envDirectoryDSN      = "SQUADBOT_DIRECTORY_DSN"
)

// Config is the root runtime configuration loaded from config.json.
type Config struct {
	Channels     ChannelsConfig                   `json:"channels"`
	Providers    ProvidersConfig                  `json:"providers"`
	Intent       IntentConfig                     `json:"intent"`
	Admission    AdmissionConfig                  `json:"admission"`
	Timeouts     TimeoutsConfig                   `json:"timeouts"`
	Validation   ValidationConfig                 `json:"validation"`
	Directory    DirectoryConfig                  `json:"directory"`
	Registration RegistrationConfig               `json:"registration"`
	Routing      RoutingConfig                    `json:"routing"`
	Handlers     map[string]HandlerEndpointConfig `json:"handlers,omitempty"`
	Gateway      GatewayConfig                    `json:"gateway"`
	Telemetry    TelemetryConfig                  `json:"telemetry,omitempty"`
	Logging      LoggingConfig                    `json:"logging,omitempty"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty"`
	Level     string `json:"level,omitempty"`
	AddSource bool   `json:"add_source,omitempty"`
}

// ProvidersConfig stores per-provider connection settings.
type ProvidersConfig struct {
	OpenCode OpenCodeProviderConfig `json:"opencode"`
	OpenAI   OpenAIProviderConfig   `json:"openai"`
}

// OpenCodeProviderConfig configures the OpenCode server used for intent extraction.
type OpenCodeProviderConfig struct {
	BaseURL               string `json:"base_url"`
	Username              string `json:"username"`
	PasswordEnv           string `json:"password_env"`
	Agent                 string `json:"agent"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
}

// OpenAIProviderConfig configures the OpenAI client used for intent extraction.
type OpenAIProviderConfig struct {
	BaseURL               string `json:"base_url"`
	Organization          string `json:"organization"`
	Project               string `json:"project"`
	APIKeyEnv             string `json:"api_key_env"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
}

// IntentConfig selects the intent-extraction backend.
type IntentConfig struct {
	Provider string          `json:"provider"`
	Model    string          `json:"model"`
	Keywords []KeywordConfig `json:"keywords,omitempty"`
}

// KeywordConfig maps a phrase to an intent for the keyword backend.
type KeywordConfig struct {
	Phrase     string  `json:"phrase"`
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence,omitempty"`
}

// ChannelsConfig stores transport adapter settings.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

// TelegramConfig configures Telegram channel integration.
type TelegramConfig struct {
	Enabled           bool                 `json:"enabled"`
	Token             string               `json:"token"`
	AllowFrom         []string             `json:"allow_from"`
	DefaultTenant     string               `json:"default_tenant"`
	Teams             []TelegramTeamConfig `json:"teams"`
	SendRatePerSecond float64              `json:"send_rate_per_second"`
}

// TelegramTeamConfig binds a tenant to its Telegram chats.
type TelegramTeamConfig struct {
	TenantID         string `json:"tenant_id"`
	MainChatID       int64  `json:"main_chat_id"`
	LeadershipChatID int64  `json:"leadership_chat_id"`
}

// AdmissionConfig bounds per-tenant load.
type AdmissionConfig struct {
	MaxConcurrent        int `json:"max_concurrent"`
	MaxPerWindow         int `json:"max_per_window"`
	WindowSeconds        int `json:"window_seconds"`
	SweepIntervalSeconds int `json:"sweep_interval_seconds"`
}

// TimeoutsConfig bounds every suspending call in the request pipeline.
type TimeoutsConfig struct {
	RegistrationSeconds int            `json:"registration_seconds"`
	IntentSeconds       int            `json:"intent_seconds"`
	HandlerSeconds      int            `json:"handler_seconds"`
	PerHandlerSeconds   map[string]int `json:"per_handler_seconds,omitempty"`
}

// ValidationConfig bounds inbound message shape.
type ValidationConfig struct {
	MaxTextLength int `json:"max_text_length"`
}

// DirectoryConfig selects the membership directory backend.
type DirectoryConfig struct {
	Driver  string             `json:"driver"`
	DSN     string             `json:"dsn"`
	Members []MembershipConfig `json:"members,omitempty"`
}

// MembershipConfig seeds one record into the in-memory directory.
type MembershipConfig struct {
	Directory string `json:"directory"`
	TenantID  string `json:"tenant_id"`
	SenderID  int64  `json:"sender_id"`
	Name      string `json:"name"`
	Role      string `json:"role"`
	Status    string `json:"status"`
}

// RegistrationConfig tunes the registration status resolver.
type RegistrationConfig struct {
	SystemSenders      []int64 `json:"system_senders,omitempty"`
	MaxRetries         int     `json:"max_retries"`
	RetryBackoffMillis int     `json:"retry_backoff_ms"`
}

// RoutingConfig holds both declarative routing tables.
type RoutingConfig struct {
	Watch    bool                `json:"watch"`
	Commands []CommandRuleConfig `json:"commands"`
	Intents  []IntentRuleConfig  `json:"intents"`
}

// CommandRuleConfig is one direct-command rule.
type CommandRuleConfig struct {
	ID          string   `json:"id"`
	Priority    int      `json:"priority"`
	Command     string   `json:"command"`
	Channels    []string `json:"channels,omitempty"`
	Handler     string   `json:"handler"`
	Description string   `json:"description,omitempty"`
	Disabled    bool     `json:"disabled,omitempty"`
}

// IntentRuleConfig is one intent-routing rule.
type IntentRuleConfig struct {
	ID            string   `json:"id"`
	Priority      int      `json:"priority"`
	Intent        string   `json:"intent"`
	Channels      []string `json:"channels,omitempty"`
	MinTier       string   `json:"min_tier,omitempty"`
	MinConfidence float64  `json:"min_confidence,omitempty"`
	Handler       string   `json:"handler"`
	Disabled      bool     `json:"disabled,omitempty"`
}

// HandlerEndpointConfig registers a specialist handler reached over HTTP.
type HandlerEndpointConfig struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

// GatewayConfig configures HTTP status server bind settings.
type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// TelemetryConfig enables OTLP trace export when Endpoint is set.
type TelemetryConfig struct {
	Endpoint    string  `json:"endpoint,omitempty"`
	Insecure    bool    `json:"insecure,omitempty"`
	ServiceName string  `json:"service_name,omitempty"`
	SampleRatio float64 `json:"sample_ratio,omitempty"`
}

// LoadConfig resolves config.json, unmarshals it, and applies environment overrides.
func LoadConfig() (*Config, error) {
	configPath, err := ResolvePath()
	if err != nil {
		return nil, err
	}

	return LoadFile(configPath)
}

// LoadFile reads one config file, applies env overrides and defaults.
func LoadFile(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := json5.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyEnvOverrides(&cfg)
	cfg.ApplyDefaults()

	return &cfg, nil
}

// ApplyDefaults fills unset limits and timeouts.
func (c *Config) ApplyDefaults() {
	if c.Admission.MaxConcurrent <= 0 {
		c.Admission.MaxConcurrent = 10
	}
	if c.Admission.MaxPerWindow <= 0 {
		c.Admission.MaxPerWindow = 60
	}
	if c.Admission.WindowSeconds <= 0 {
		c.Admission.WindowSeconds = 60
	}
	if c.Admission.SweepIntervalSeconds <= 0 {
		c.Admission.SweepIntervalSeconds = 300
	}
	if c.Timeouts.RegistrationSeconds <= 0 {
		c.Timeouts.RegistrationSeconds = 10
	}
	if c.Timeouts.IntentSeconds <= 0 {
		c.Timeouts.IntentSeconds = 15
	}
	if c.Timeouts.HandlerSeconds <= 0 {
		c.Timeouts.HandlerSeconds = 20
	}
	if c.Validation.MaxTextLength <= 0 {
		c.Validation.MaxTextLength = 4096
	}
	// A negative max_retries disables retries; zero means the default.
	if c.Registration.MaxRetries == 0 {
		c.Registration.MaxRetries = 2
	}
	if c.Registration.MaxRetries < 0 {
		c.Registration.MaxRetries = 0
	}
	if c.Registration.RetryBackoffMillis <= 0 {
		c.Registration.RetryBackoffMillis = 100
	}
	if strings.TrimSpace(c.Directory.Driver) == "" {
		c.Directory.Driver = "memory"
	}
	if strings.TrimSpace(c.Intent.Provider) == "" {
		c.Intent.Provider = "keyword"
	}
	if c.Channels.Telegram.SendRatePerSecond <= 0 {
		c.Channels.Telegram.SendRatePerSecond = 25
	}
}

func (t TimeoutsConfig) Registration() time.Duration {
	return time.Duration(t.RegistrationSeconds) * time.Second
}

func (t TimeoutsConfig) Intent() time.Duration {
	return time.Duration(t.IntentSeconds) * time.Second
}

func (t TimeoutsConfig) Handler() time.Duration {
	return time.Duration(t.HandlerSeconds) * time.Second
}

// HandlerOverrides returns per-handler timeouts keyed by handler id.
func (t TimeoutsConfig) HandlerOverrides() map[string]time.Duration {
	overrides := make(map[string]time.Duration, len(t.PerHandlerSeconds))
	for id, seconds := range t.PerHandlerSeconds {
		if seconds > 0 {
			overrides[strings.TrimSpace(id)] = time.Duration(seconds) * time.Second
		}
	}

	return overrides
}

func (r RegistrationConfig) RetryBackoff() time.Duration {
	return time.Duration(r.RetryBackoffMillis) * time.Millisecond
}

// applyEnvOverrides injects selected env-driven settings on top of file config.
func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if token := strings.TrimSpace(os.Getenv(envTelegramBotToken)); token != "" {
		cfg.Channels.Telegram.Token = token
	}

	if rawAllowFrom := strings.TrimSpace(os.Getenv(envTelegramAllowFrom)); rawAllowFrom != "" {
		cfg.Channels.Telegram.AllowFrom = parseCSV(rawAllowFrom)
	}

	if dsn := strings.TrimSpace(os.Getenv(envDirectoryDSN)); dsn != "" {
		cfg.Directory.DSN = dsn
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

// ResolvePath resolves the active config file location.
//
// Precedence is SQUADBOT_CONFIG first, then cwd-local fallback paths.
func ResolvePath() (string, error) {
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
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("config.json not found (checked %s and %s)", candidates[0], candidates[1])
}
