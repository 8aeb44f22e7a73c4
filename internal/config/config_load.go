package config

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/fsnotify/fsnotify"
	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Environment: EnvDevelopment,
		LogFormat:   "text",
		Gateway: GatewayConfig{
			Host:         "0.0.0.0",
			Port:         18800,
			MaxWSClients: 256,
			WebhookRateLimit: RateLimitConfig{
				MaxHits:   120,
				WindowSec: 60,
				MaxKeys:   4096,
			},
		},
		Database: DatabaseConfig{
			MaxOpenConns:       25,
			MaxIdleConns:       10,
			ConnMaxLifetimeSec: 1800,
			MigrationsDir:      "migrations",
		},
		Redis: RedisConfig{Prefix: "goinbox"},
		Providers: ProvidersConfig{
			Default:       "openai",
			Model:         "gpt-4o-mini",
			MaxTokens:     800,
			TimeoutSec:    60,
			RetryAttempts: 2,
		},
		Agent: AgentConfig{
			MaxKnowledgeItems:  12,
			MaxKnowledgeChars:  2000,
			MaxHistoryTurns:    20,
			LeaseTTLSec:        120,
			LeaseCooldownMs:    3000,
			DispatchTimeoutSec: 300,
		},
		WhatsApp: WhatsAppConfig{RatePerSecond: 1, Burst: 3},
		Maintenance: MaintenanceConfig{
			Schedule: "* * * * *",
		},
	}
}

// Load reads config from a json5 file, then overlays env vars.
// A missing file yields the defaults plus env.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err == nil {
		if err := json5.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				*dst = n
			}
		}
	}

	envStr("GOINBOX_ENV", &c.Environment)
	envStr("GOINBOX_LOG_FORMAT", &c.LogFormat)

	envStr("GOINBOX_HOST", &c.Gateway.Host)
	envInt("GOINBOX_PORT", &c.Gateway.Port)
	envStr("GOINBOX_GATEWAY_TOKEN", &c.Gateway.Token)
	if v := os.Getenv("GOINBOX_ALLOWED_ORIGINS"); v != "" {
		c.Gateway.AllowedOrigins = strings.Split(v, ",")
	}

	envStr("GOINBOX_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("GOINBOX_MIGRATIONS_DIR", &c.Database.MigrationsDir)

	envStr("GOINBOX_REDIS_ADDR", &c.Redis.Addr)
	envStr("GOINBOX_REDIS_PASSWORD", &c.Redis.Password)

	envStr("GOINBOX_PROVIDER", &c.Providers.Default)
	envStr("GOINBOX_MODEL", &c.Providers.Model)
	envStr("GOINBOX_OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)
	envStr("GOINBOX_OPENAI_BASE_URL", &c.Providers.OpenAI.BaseURL)
	envStr("GOINBOX_ANTHROPIC_API_KEY", &c.Providers.Anthropic.APIKey)
	envStr("GOINBOX_ANTHROPIC_BASE_URL", &c.Providers.Anthropic.BaseURL)

	envStr("GOINBOX_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("GOINBOX_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("GOINBOX_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("GOINBOX_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}

	envStr("GOINBOX_MAINTENANCE_SCHEDULE", &c.Maintenance.Schedule)
}

// Validate rejects values the gateway cannot start with.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch c.Environment {
	case EnvDevelopment, EnvProduction:
	default:
		return fmt.Errorf("invalid environment %q", c.Environment)
	}
	switch c.LogFormat {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid log_format %q", c.LogFormat)
	}
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("invalid gateway port %d", c.Gateway.Port)
	}
	switch c.Providers.Default {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("unknown provider %q", c.Providers.Default)
	}
	if c.Maintenance.Schedule != "" && !gronx.New().IsValid(c.Maintenance.Schedule) {
		return fmt.Errorf("invalid maintenance schedule %q", c.Maintenance.Schedule)
	}
	if c.Environment == EnvProduction && c.Gateway.Token == "" {
		return fmt.Errorf("gateway token is required in production")
	}
	return nil
}

// Hash returns a short SHA-256 of the config, secrets included, so a reload
// that changes nothing can be skipped.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(struct {
		Data     any
		DSN      string
		RedisPwd string
	}{c.snapshotLocked(), c.Database.PostgresDSN, c.Redis.Password})
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

func (c *Config) snapshotLocked() map[string]any {
	return map[string]any{
		"environment": c.Environment,
		"log_format":  c.LogFormat,
		"gateway":     c.Gateway,
		"database":    c.Database,
		"redis":       c.Redis,
		"providers":   c.Providers,
		"agent":       c.Agent,
		"whatsapp":    c.WhatsApp,
		"telemetry":   c.Telemetry,
		"maintenance": c.Maintenance,
	}
}

const watchDebounce = 250 * time.Millisecond

// Watch reloads path into c whenever the file changes and calls onChange with
// the updated config. The parent directory is watched so editors that replace
// the file by rename are picked up. A file that fails to load is logged and
// the previous config kept. Watch returns once the watcher is running; it
// stops when ctx is done.
func (c *Config) Watch(ctx context.Context, path string, onChange func(*Config)) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch config dir: %w", err)
	}

	var mu sync.Mutex
	var timer *time.Timer
	reload := func() {
		next, err := Load(abs)
		if err != nil {
			slog.Warn("config.reload_failed", "path", abs, "error", err)
			return
		}
		if next.Hash() == c.Hash() {
			return
		}
		c.ReplaceFrom(next)
		slog.Info("config.reloaded", "path", abs)
		if onChange != nil {
			onChange(c)
		}
	}
	schedule := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(watchDebounce, reload)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				mu.Lock()
				if timer != nil {
					timer.Stop()
				}
				mu.Unlock()
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
					schedule()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Warn("config.watch_error", "error", err)
			}
		}
	}()
	return nil
}
