// Package config loads the gateway configuration from a json5 file with a
// GOINBOX_* environment overlay, and hot-reloads it when the file changes.
package config

import (
	"sync"
	"time"

	"github.com/nextlevelbuilder/goinbox/internal/agent"
	"github.com/nextlevelbuilder/goinbox/internal/channels"
	"github.com/nextlevelbuilder/goinbox/internal/providers"
	"github.com/nextlevelbuilder/goinbox/internal/store"
	"github.com/nextlevelbuilder/goinbox/internal/tracing"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config is the root configuration.
type Config struct {
	Environment string            `json:"environment,omitempty"` // "development" (default) or "production"
	LogFormat   string            `json:"log_format,omitempty"`  // "text" (default) or "json"
	Gateway     GatewayConfig     `json:"gateway"`
	Database    DatabaseConfig    `json:"database"`
	Redis       RedisConfig       `json:"redis"`
	Providers   ProvidersConfig   `json:"providers"`
	Agent       AgentConfig       `json:"agent"`
	WhatsApp    WhatsAppConfig    `json:"whatsapp"`
	Telemetry   tracing.Config    `json:"telemetry"`
	Maintenance MaintenanceConfig `json:"maintenance"`

	mu sync.RWMutex
}

// GatewayConfig configures the HTTP/WebSocket listener.
type GatewayConfig struct {
	Host           string   `json:"host,omitempty"`
	Port           int      `json:"port,omitempty"`
	Token          string   `json:"token,omitempty"`           // operator bearer token
	AllowedOrigins []string `json:"allowed_origins,omitempty"` // WebSocket origins; empty allows any
	MaxWSClients   int      `json:"max_ws_clients,omitempty"`

	WebhookRateLimit RateLimitConfig `json:"webhook_rate_limit"`
}

// RateLimitConfig is the fixed-window webhook limit per client IP.
type RateLimitConfig struct {
	MaxHits   int `json:"max_hits,omitempty"`
	WindowSec int `json:"window_sec,omitempty"`
	MaxKeys   int `json:"max_keys,omitempty"`
}

// DatabaseConfig configures Postgres. An empty DSN runs on in-memory stores.
type DatabaseConfig struct {
	PostgresDSN        string `json:"-"` // env only: GOINBOX_POSTGRES_DSN
	MaxOpenConns       int    `json:"max_open_conns,omitempty"`
	MaxIdleConns       int    `json:"max_idle_conns,omitempty"`
	ConnMaxLifetimeSec int    `json:"conn_max_lifetime_sec,omitempty"`
	MigrationsDir      string `json:"migrations_dir,omitempty"`
}

// RedisConfig configures the shared run lease backend. An empty Addr keeps
// leases in process memory.
type RedisConfig struct {
	Addr     string `json:"addr,omitempty"`
	Password string `json:"-"` // env only: GOINBOX_REDIS_PASSWORD
	DB       int    `json:"db,omitempty"`
	Prefix   string `json:"prefix,omitempty"`
}

// ProvidersConfig selects the language model provider.
type ProvidersConfig struct {
	Default       string         `json:"default,omitempty"` // "openai" or "anthropic"
	Model         string         `json:"model,omitempty"`
	MaxTokens     int            `json:"max_tokens,omitempty"`
	TimeoutSec    int            `json:"timeout_sec,omitempty"`
	RetryAttempts int            `json:"retry_attempts"`
	OpenAI        ProviderConfig `json:"openai"`
	Anthropic     ProviderConfig `json:"anthropic"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key,omitempty"`
	BaseURL string `json:"base_url,omitempty"`
	Model   string `json:"model,omitempty"` // overrides ProvidersConfig.Model
}

// AgentConfig holds runtime limits shared by every tenant's agent.
type AgentConfig struct {
	MaxKnowledgeItems  int `json:"max_knowledge_items,omitempty"`
	MaxKnowledgeChars  int `json:"max_knowledge_chars,omitempty"`
	MaxHistoryTurns    int `json:"max_history_turns,omitempty"`
	LeaseTTLSec        int `json:"lease_ttl_sec,omitempty"`
	LeaseCooldownMs    int `json:"lease_cooldown_ms"`
	DispatchTimeoutSec int `json:"dispatch_timeout_sec,omitempty"`
}

// WhatsAppConfig throttles outbound sends per connection.
type WhatsAppConfig struct {
	RatePerSecond float64 `json:"rate_per_second,omitempty"`
	Burst         int     `json:"burst,omitempty"`
}

// MaintenanceConfig schedules the lease and rate-limit sweep (cron syntax).
type MaintenanceConfig struct {
	Schedule string `json:"schedule,omitempty"`
}

// IsProduction reports whether the gateway runs in production mode.
func (c *Config) IsProduction() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Environment == EnvProduction
}

// ProviderSettings returns the selected provider's credential and model.
// Read on every run so a reloaded key applies without a restart.
func (c *Config) ProviderSettings() providers.Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p := c.Providers
	pc := p.OpenAI
	if p.Default == "anthropic" {
		pc = p.Anthropic
	}
	model := pc.Model
	if model == "" {
		model = p.Model
	}
	return providers.Settings{
		Provider:  p.Default,
		APIKey:    pc.APIKey,
		Model:     model,
		BaseURL:   pc.BaseURL,
		MaxTokens: p.MaxTokens,
	}
}

// RetryConfig converts the provider timeout and retry budget.
func (c *Config) RetryConfig() providers.RetryConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rc := providers.DefaultRetryConfig()
	if c.Providers.RetryAttempts >= 0 {
		rc.Attempts = c.Providers.RetryAttempts
	}
	if c.Providers.TimeoutSec > 0 {
		rc.Timeout = time.Duration(c.Providers.TimeoutSec) * time.Second
	}
	return rc
}

func (c *Config) PromptLimits() agent.PromptLimits {
	c.mu.RLock()
	defer c.mu.RUnlock()
	l := agent.DefaultPromptLimits()
	if c.Agent.MaxKnowledgeItems > 0 {
		l.MaxKnowledgeItems = c.Agent.MaxKnowledgeItems
	}
	if c.Agent.MaxKnowledgeChars > 0 {
		l.MaxKnowledgeChars = c.Agent.MaxKnowledgeChars
	}
	if c.Agent.MaxHistoryTurns > 0 {
		l.MaxHistoryTurns = c.Agent.MaxHistoryTurns
	}
	return l
}

func (c *Config) LeaseConfig() agent.LeaseConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return agent.LeaseConfig{
		TTL:      time.Duration(c.Agent.LeaseTTLSec) * time.Second,
		Cooldown: time.Duration(c.Agent.LeaseCooldownMs) * time.Millisecond,
	}
}

func (c *Config) DispatchTimeout() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Duration(c.Agent.DispatchTimeoutSec) * time.Second
}

func (c *Config) WebhookRateLimit() channels.RateLimitConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	rl := c.Gateway.WebhookRateLimit
	return channels.RateLimitConfig{
		MaxHits: rl.MaxHits,
		Window:  time.Duration(rl.WindowSec) * time.Second,
		MaxKeys: rl.MaxKeys,
	}
}

func (c *Config) StoreConfig() store.StoreConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return store.StoreConfig{
		PostgresDSN:     c.Database.PostgresDSN,
		MaxOpenConns:    c.Database.MaxOpenConns,
		MaxIdleConns:    c.Database.MaxIdleConns,
		ConnMaxLifetime: c.Database.ConnMaxLifetimeSec,
	}
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
func (c *Config) ReplaceFrom(src *Config) {
	src.mu.RLock()
	defer src.mu.RUnlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Environment = src.Environment
	c.LogFormat = src.LogFormat
	c.Gateway = src.Gateway
	c.Database = src.Database
	c.Redis = src.Redis
	c.Providers = src.Providers
	c.Agent = src.Agent
	c.WhatsApp = src.WhatsApp
	c.Telemetry = src.Telemetry
	c.Maintenance = src.Maintenance
}
