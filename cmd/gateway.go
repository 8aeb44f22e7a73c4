package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/nextlevelbuilder/goinbox/internal/agent"
	"github.com/nextlevelbuilder/goinbox/internal/bootstrap"
	"github.com/nextlevelbuilder/goinbox/internal/bus"
	"github.com/nextlevelbuilder/goinbox/internal/channels"
	"github.com/nextlevelbuilder/goinbox/internal/channels/internalchat"
	"github.com/nextlevelbuilder/goinbox/internal/channels/whatsapp"
	"github.com/nextlevelbuilder/goinbox/internal/config"
	"github.com/nextlevelbuilder/goinbox/internal/gateway"
	httpapi "github.com/nextlevelbuilder/goinbox/internal/http"
	"github.com/nextlevelbuilder/goinbox/internal/inbox"
	"github.com/nextlevelbuilder/goinbox/internal/metrics"
	"github.com/nextlevelbuilder/goinbox/internal/providers"
	"github.com/nextlevelbuilder/goinbox/internal/store"
	"github.com/nextlevelbuilder/goinbox/internal/store/mem"
	"github.com/nextlevelbuilder/goinbox/internal/store/pg"
	"github.com/nextlevelbuilder/goinbox/internal/tracing"
	"github.com/nextlevelbuilder/goinbox/pkg/protocol"
)

// drainTimeout bounds how long shutdown waits for in-flight reply runs.
const drainTimeout = 30 * time.Second

func runGateway() {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		setupLogging("")
		slog.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}
	setupLogging(cfg.LogFormat)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Telemetry, Version, cfg.Environment)
	if err != nil {
		slog.Error("failed to set up tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := shutdownTracing(sctx); err != nil {
			slog.Warn("tracing shutdown", "error", err)
		}
	}()

	stores, mode, err := openStores(cfg)
	if err != nil {
		slog.Error("failed to open stores", "error", err)
		os.Exit(1)
	}
	if stores.Close != nil {
		defer stores.Close()
	}

	if seedFile != "" {
		if err := bootstrap.SeedFile(ctx, stores, seedFile); err != nil {
			slog.Error("failed to seed", "path", seedFile, "error", err)
			os.Exit(1)
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)
	msgBus := bus.New()

	leases, sweepLeases, err := openLeases(ctx, cfg)
	if err != nil {
		slog.Error("failed to set up run leases", "error", err)
		os.Exit(1)
	}

	waAdapter := whatsapp.NewAdapter(stores.Connections, whatsapp.AdapterConfig{
		RatePerSecond: cfg.WhatsApp.RatePerSecond,
		Burst:         cfg.WhatsApp.Burst,
	})
	internalAdapter := internalchat.New()
	registry, err := channels.NewRegistry(internalAdapter, waAdapter)
	if err != nil {
		slog.Error("failed to register channels", "error", err)
		os.Exit(1)
	}

	resolver := providers.NewResolver(cfg.ProviderSettings)
	runner := agent.NewRunner(agent.RunnerConfig{
		Stores:       stores,
		Channels:     registry,
		Providers:    resolver,
		Leases:       leases,
		Bus:          msgBus,
		Metrics:      m,
		PromptLimits: cfg.PromptLimits(),
		Retry:        cfg.RetryConfig(),
	})
	dispatcher := agent.NewDispatcher(runner, msgBus, m, cfg.DispatchTimeout())
	svc := inbox.NewService(stores, registry, leases, dispatcher, msgBus)

	limiter := channels.NewWebhookRateLimiter(cfg.WebhookRateLimit())
	server := gateway.NewServer(cfg, msgBus,
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		httpapi.NewWebhookHandler(stores.Connections, waAdapter, svc, limiter, m, cfg.IsProduction()),
		httpapi.NewThreadsHandler(svc, internalAdapter, cfg.Gateway.Token),
		httpapi.NewAgentHandler(stores.Agents, cfg.Gateway.Token),
	)

	if err := cfg.Watch(ctx, cfgPath, func(c *config.Config) {
		ps := c.ProviderSettings()
		slog.Info("provider settings reloaded", "provider", ps.Provider, "model", ps.Model, "has_key", ps.APIKey != "")
	}); err != nil {
		slog.Warn("config watcher unavailable", "error", err)
	}

	tasks := []maintenanceTask{
		{name: "webhook_limiter", run: limiter.Prune},
	}
	if sweepLeases != nil {
		tasks = append(tasks, maintenanceTask{name: "leases", run: sweepLeases})
	}
	go runMaintenance(ctx, cfg.Maintenance.Schedule, tasks)

	slog.Info("goinbox gateway starting",
		"version", Version,
		"protocol", protocol.ProtocolVersion,
		"environment", cfg.Environment,
		"mode", mode,
		"provider", cfg.ProviderSettings().Provider,
	)

	if err := server.Start(ctx); err != nil {
		slog.Error("gateway error", "error", err)
		os.Exit(1)
	}

	slog.Info("graceful shutdown initiated")
	drainCtx, drainCancel := context.WithTimeout(context.Background(), drainTimeout)
	defer drainCancel()
	if err := dispatcher.Wait(drainCtx); err != nil {
		slog.Warn("shutdown: reply runs still in flight", "error", err)
	}
}

// openStores picks Postgres when a DSN is configured and in-memory stores otherwise.
func openStores(cfg *config.Config) (*store.Stores, string, error) {
	sc := cfg.StoreConfig()
	if sc.PostgresDSN == "" {
		slog.Warn("no GOINBOX_POSTGRES_DSN set, using in-memory stores (data is lost on restart)")
		stores, _ := mem.NewStores()
		return stores, "standalone", nil
	}
	stores, err := pg.NewPGStores(sc)
	if err != nil {
		return nil, "", err
	}
	return stores, "postgres", nil
}

// openLeases returns the Redis lease manager when Redis is configured, else the
// in-process one plus its sweep function.
func openLeases(ctx context.Context, cfg *config.Config) (agent.LeaseManager, func() int, error) {
	lc := cfg.LeaseConfig()
	if cfg.Redis.Addr == "" {
		mgr := agent.NewMemoryLeaseManager(lc)
		return mgr, mgr.Sweep, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("ping redis %s: %w", cfg.Redis.Addr, err)
	}
	slog.Info("run leases backed by redis", "addr", cfg.Redis.Addr)
	return agent.NewRedisLeaseManager(client, cfg.Redis.Prefix, lc), nil, nil
}
