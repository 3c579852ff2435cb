// Package config loads the relay configuration from a JSON5 file with env overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/titanous/json5"
)

// Defaults for the capability-delivery timings (milliseconds in the file).
const (
	DefaultButtonTimeoutMs = 10_000
	DefaultPendingTTLMs    = 30_000
	DefaultCapabilityTTLMs = 270_000
	DefaultMaxRetries      = 10
	DefaultListen          = "127.0.0.1:18790"
	DefaultAuthURL         = "https://bots.qq.com"
	DefaultAPIBase         = "https://api.sgroup.qq.com"
	SandboxAPIBase         = "https://sandbox.api.sgroup.qq.com"
	DefaultClickAction     = "click_inline_keyboard_button"
	DefaultWakePrompt      = "{mention} {code}"
)

// Config is the complete relay configuration.
type Config struct {
	Bot       BotConfig       `json:"bot"`
	Gateway   GatewayConfig   `json:"gateway"`
	Delivery  DeliveryConfig  `json:"delivery"`
	Wake      WakeConfig      `json:"wake"`
	Host      HostConfig      `json:"host"`
	Store     StoreConfig     `json:"store"`
	Server    ServerConfig    `json:"server"`
	Log       LogConfig       `json:"log"`
	Telemetry TelemetryConfig `json:"telemetry"`
}

// BotConfig holds the official bot identity.
type BotConfig struct {
	AppID        string `json:"app_id"`
	ClientSecret string `json:"client_secret"`
	AuthURL      string `json:"auth_url,omitempty"`
	APIBase      string `json:"api_base,omitempty"`
	Sandbox      bool   `json:"sandbox,omitempty"`
	// SendRPS caps official send calls per second (0 = unlimited).
	SendRPS float64 `json:"send_rps,omitempty"`
}

// GatewayConfig tunes the gateway connection.
type GatewayConfig struct {
	Intents    []string `json:"intents,omitempty"`
	MaxRetries int      `json:"max_retries,omitempty"`
	Shard      [2]int   `json:"shard,omitempty"`
	Resume     *bool    `json:"resume,omitempty"`
}

// DeliveryConfig tunes the three-tier delivery.
type DeliveryConfig struct {
	ButtonTimeoutMs int    `json:"button_timeout_ms,omitempty"`
	PendingTTLMs    int    `json:"pending_ttl_ms,omitempty"`
	CapabilityTTLMs int    `json:"capability_ttl_ms,omitempty"`
	FallbackToHost  bool   `json:"fallback_to_host,omitempty"`
	KeyboardID      string `json:"keyboard_id,omitempty"` // markdown keyboard template id
}

// WakeConfig controls the wake-handshake tier.
type WakeConfig struct {
	Enabled bool `json:"enabled"`
	// MentionTarget is the host-side account id of the official bot (mentioned in the prompt).
	MentionTarget string `json:"mention_target,omitempty"`
	// TrustedSender is the openid under which the official bot sees the host account.
	// Required when Enabled.
	TrustedSender string `json:"trusted_sender,omitempty"`
	// Prompt is the in-band prompt template; {mention} and {code} are substituted.
	Prompt string `json:"prompt,omitempty"`
}

// HostConfig configures the low-capability host account adapter.
type HostConfig struct {
	OneBot OneBotConfig `json:"onebot"`
}

// OneBotConfig points at a OneBot v11 HTTP endpoint.
type OneBotConfig struct {
	URL         string `json:"url"`
	AccessToken string `json:"access_token,omitempty"`
	ClickAction string `json:"click_action,omitempty"`
	BotAppID    string `json:"bot_appid,omitempty"`
	TimeoutMs   int    `json:"timeout_ms,omitempty"`
}

// StoreConfig selects the ButtonBinding backend.
type StoreConfig struct {
	Driver        string `json:"driver,omitempty"` // file | sqlite | postgres | redis
	Path          string `json:"path,omitempty"`
	PostgresDSN   string `json:"postgres_dsn,omitempty"`
	RedisAddr     string `json:"redis_addr,omitempty"`
	RedisPassword string `json:"redis_password,omitempty"`
	RedisDB       int    `json:"redis_db,omitempty"`
	RedisPrefix   string `json:"redis_prefix,omitempty"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Listen       string `json:"listen,omitempty"`
	Token        string `json:"token,omitempty"`
	RateLimitRPM int    `json:"rate_limit_rpm,omitempty"`
}

// LogConfig configures slog.
type LogConfig struct {
	Level  string `json:"level,omitempty"`
	Format string `json:"format,omitempty"` // text | json
}

// TelemetryConfig enables OTLP span export. Empty endpoint disables it.
type TelemetryConfig struct {
	Endpoint    string            `json:"endpoint,omitempty"`
	Protocol    string            `json:"protocol,omitempty"` // grpc (default) | http
	Insecure    bool              `json:"insecure,omitempty"`
	ServiceName string            `json:"service_name,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads path (JSON5), applies env overrides and defaults.
// A missing file yields the defaults plus env.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json5.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg.applyEnv()
	if err := cfg.openSecrets(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "file", "sqlite", "postgres", "redis":
	default:
		return fmt.Errorf("store.driver %q: must be file, sqlite, postgres or redis", c.Store.Driver)
	}
	if c.Store.Driver == "postgres" && c.Store.PostgresDSN == "" {
		return fmt.Errorf("store.postgres_dsn is required for the postgres driver")
	}
	if c.Store.Driver == "redis" && c.Store.RedisAddr == "" {
		return fmt.Errorf("store.redis_addr is required for the redis driver")
	}
	if c.Gateway.MaxRetries < 1 {
		return fmt.Errorf("gateway.max_retries must be >= 1")
	}
	if c.Wake.Enabled && c.Host.OneBot.URL == "" {
		return fmt.Errorf("wake.enabled requires host.onebot.url")
	}
	if c.Wake.Enabled && strings.TrimSpace(c.Wake.TrustedSender) == "" {
		return fmt.Errorf("wake.enabled requires wake.trusted_sender")
	}
	return nil
}

// ResumeEnabled reports whether the gateway should try RESUME after a drop.
func (c *Config) ResumeEnabled() bool {
	return c.Gateway.Resume == nil || *c.Gateway.Resume
}

// ButtonTimeout returns the button-path wait bound.
func (c *Config) ButtonTimeout() time.Duration {
	return time.Duration(c.Delivery.ButtonTimeoutMs) * time.Millisecond
}

// PendingTTL returns the wake-handshake pending lifetime.
func (c *Config) PendingTTL() time.Duration {
	return time.Duration(c.Delivery.PendingTTLMs) * time.Millisecond
}

// CapabilityTTL returns the capability cache lifetime.
func (c *Config) CapabilityTTL() time.Duration {
	return time.Duration(c.Delivery.CapabilityTTLMs) * time.Millisecond
}

func (c *Config) applyEnv() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("QQRELAY_APP_ID", &c.Bot.AppID)
	envStr("QQRELAY_CLIENT_SECRET", &c.Bot.ClientSecret)
	envStr("QQRELAY_SERVER_TOKEN", &c.Server.Token)
	envStr("QQRELAY_ONEBOT_URL", &c.Host.OneBot.URL)
	envStr("QQRELAY_ONEBOT_TOKEN", &c.Host.OneBot.AccessToken)
	envStr("QQRELAY_POSTGRES_DSN", &c.Store.PostgresDSN)
	envStr("QQRELAY_REDIS_ADDR", &c.Store.RedisAddr)
	envStr("QQRELAY_LOG_LEVEL", &c.Log.Level)
	envStr("QQRELAY_OTLP_ENDPOINT", &c.Telemetry.Endpoint)
}

func (c *Config) applyDefaults() {
	if c.Bot.AuthURL == "" {
		c.Bot.AuthURL = DefaultAuthURL
	}
	if c.Bot.APIBase == "" {
		c.Bot.APIBase = DefaultAPIBase
		if c.Bot.Sandbox {
			c.Bot.APIBase = SandboxAPIBase
		}
	}
	c.Gateway.Intents = NormalizeIntents(c.Gateway.Intents)
	if c.Gateway.MaxRetries == 0 {
		c.Gateway.MaxRetries = DefaultMaxRetries
	}
	if c.Gateway.Shard == [2]int{} {
		c.Gateway.Shard = [2]int{0, 1}
	}
	if c.Delivery.ButtonTimeoutMs <= 0 {
		c.Delivery.ButtonTimeoutMs = DefaultButtonTimeoutMs
	}
	if c.Delivery.PendingTTLMs <= 0 {
		c.Delivery.PendingTTLMs = DefaultPendingTTLMs
	}
	if c.Delivery.CapabilityTTLMs <= 0 {
		c.Delivery.CapabilityTTLMs = DefaultCapabilityTTLMs
	}
	if c.Wake.Prompt == "" {
		c.Wake.Prompt = DefaultWakePrompt
	}
	if c.Host.OneBot.ClickAction == "" {
		c.Host.OneBot.ClickAction = DefaultClickAction
	}
	if c.Host.OneBot.TimeoutMs <= 0 {
		c.Host.OneBot.TimeoutMs = 15_000
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "file"
	}
	if c.Store.Path == "" && (c.Store.Driver == "file" || c.Store.Driver == "sqlite") {
		name := "bindings.json"
		if c.Store.Driver == "sqlite" {
			name = "bindings.db"
		}
		c.Store.Path = filepath.Join(DataDir(), name)
	}
	if c.Store.RedisPrefix == "" {
		c.Store.RedisPrefix = "qqrelay:binding:"
	}
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	c.Log.Level = strings.ToLower(c.Log.Level)
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "qqrelay"
	}
}

// HomeDir returns ~/.qqrelay (or $QQRELAY_HOME).
func HomeDir() string {
	if v := os.Getenv("QQRELAY_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".qqrelay"
	}
	return filepath.Join(home, ".qqrelay")
}

// DataDir returns the directory for local state files.
func DataDir() string {
	return filepath.Join(HomeDir(), "data")
}

// DefaultPath returns the config file path used when none is given.
func DefaultPath() string {
	if v := os.Getenv("QQRELAY_CONFIG"); v != "" {
		return v
	}
	return filepath.Join(HomeDir(), "config.json5")
}

// Save writes cfg as indented JSON (valid JSON5) with 0600 permissions.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return os.Rename(tmp, path)
}

// Redacted returns a copy with secrets masked, for display.
func (c *Config) Redacted() *Config {
	out := *c
	out.Bot.ClientSecret = maskSecret(c.Bot.ClientSecret)
	out.Server.Token = maskSecret(c.Server.Token)
	out.Host.OneBot.AccessToken = maskSecret(c.Host.OneBot.AccessToken)
	out.Store.PostgresDSN = maskSecret(c.Store.PostgresDSN)
	out.Store.RedisPassword = maskSecret(c.Store.RedisPassword)
	if len(c.Telemetry.Headers) > 0 {
		out.Telemetry.Headers = make(map[string]string, len(c.Telemetry.Headers))
		for k := range c.Telemetry.Headers {
			out.Telemetry.Headers[k] = "***"
		}
	}
	return &out
}

func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "***"
}
