package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/qqrelay/internal/bus"
	"github.com/nextlevelbuilder/qqrelay/internal/capability"
	"github.com/nextlevelbuilder/qqrelay/internal/config"
	"github.com/nextlevelbuilder/qqrelay/internal/delivery"
	"github.com/nextlevelbuilder/qqrelay/internal/host"
	"github.com/nextlevelbuilder/qqrelay/internal/host/onebot"
	httpapi "github.com/nextlevelbuilder/qqrelay/internal/http"
	"github.com/nextlevelbuilder/qqrelay/internal/metrics"
	"github.com/nextlevelbuilder/qqrelay/internal/qqbot"
	"github.com/nextlevelbuilder/qqrelay/internal/telemetry"
	"github.com/nextlevelbuilder/qqrelay/pkg/protocol"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway client and the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func newLogger(w io.Writer, format string, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func logLevel(cfg *config.Config) slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	return config.ParseLevel(cfg.Log.Level)
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	level := new(slog.LevelVar)
	level.Set(logLevel(cfg))
	slog.SetDefault(newLogger(os.Stderr, cfg.Log.Format, level))

	if cfg.Bot.AppID == "" || cfg.Bot.ClientSecret == "" {
		return fmt.Errorf("bot.app_id and bot.client_secret are required (run `qqrelay onboard`)")
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Endpoint != "" {
		tp, err := telemetry.Setup(ctx, telemetry.Config{
			Endpoint:    cfg.Telemetry.Endpoint,
			Protocol:    cfg.Telemetry.Protocol,
			Insecure:    cfg.Telemetry.Insecure,
			ServiceName: cfg.Telemetry.ServiceName,
			Version:     Version,
			Headers:     cfg.Telemetry.Headers,
		})
		if err != nil {
			slog.Warn("telemetry disabled", "error", err)
		} else {
			defer func() {
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				tp.Shutdown(sctx)
			}()
		}
	}

	m := metrics.New()

	tokens := qqbot.NewTokenManager(cfg.Bot.AppID, cfg.Bot.ClientSecret, cfg.Bot.AuthURL, nil)
	defer tokens.Stop()
	api := qqbot.NewAPIClient(cfg.Bot.APIBase, cfg.Bot.AppID, tokens, cfg.Bot.SendRPS)

	bindings, err := openBindingStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("open binding store: %w", err)
	}
	defer bindings.Close()

	var hostAccount host.Host
	if cfg.Host.OneBot.URL != "" {
		hostAccount = onebot.New(onebot.Config{
			URL:         cfg.Host.OneBot.URL,
			AccessToken: cfg.Host.OneBot.AccessToken,
			ClickAction: cfg.Host.OneBot.ClickAction,
			BotAppID:    firstNonEmpty(cfg.Host.OneBot.BotAppID, cfg.Bot.AppID),
			Timeout:     time.Duration(cfg.Host.OneBot.TimeoutMs) * time.Millisecond,
		})
	} else {
		slog.Warn("no host adapter configured; only cached capabilities can deliver")
	}

	orch := delivery.New(api, hostAccount, bindings,
		capability.NewCache(cfg.CapabilityTTL()), capability.NewWaiters(), m,
		delivery.Options{
			ButtonTimeout:  cfg.ButtonTimeout(),
			PendingTTL:     cfg.PendingTTL(),
			FallbackToHost: cfg.Delivery.FallbackToHost,
			KeyboardID:     cfg.Delivery.KeyboardID,
			Wake:           wakeOptions(cfg),
		})

	events := bus.New(bus.DefaultQueueSize)
	events.Subscribe("delivery", orch.HandleEvent)

	gw := qqbot.NewGateway(tokens, api, events, qqbot.GatewayOptions{
		Intents:    protocol.BuildIntents(cfg.Gateway.Intents),
		Shard:      cfg.Gateway.Shard,
		MaxRetries: cfg.Gateway.MaxRetries,
		Resume:     cfg.ResumeEnabled(),
		Observer:   m,
	})
	sup := qqbot.NewSupervisor(gw)

	server := httpapi.NewServer(httpapi.Deps{
		Delivery:     orch,
		Bindings:     bindings,
		Gateway:      sup,
		Metrics:      m.Handler(),
		Token:        cfg.Server.Token,
		RateLimitRPM: cfg.Server.RateLimitRPM,
		Version:      Version,
	})

	if watcher, err := config.NewWatcher(cfgPath); err != nil {
		slog.Warn("config hot reload disabled", "error", err)
	} else {
		watcher.OnReload(func(next *config.Config) {
			level.Set(logLevel(next))
			orch.UpdateWake(wakeOptions(next))
		})
		if err := watcher.Start(); err != nil {
			slog.Warn("config hot reload disabled", "error", err)
		} else {
			defer watcher.Stop()
		}
	}

	if cfg.Server.Token == "" {
		slog.Warn("server.token is empty; the HTTP API accepts unauthenticated requests", "listen", cfg.Server.Listen)
	}
	slog.Info("qqrelay starting", "version", Version, "store", cfg.Store.Driver, "wake", cfg.Wake.Enabled)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return events.Run(gctx) })
	g.Go(func() error { return orch.Run(gctx) })
	g.Go(func() error { return sup.Run(gctx) })
	g.Go(func() error { return server.ListenAndServe(gctx, cfg.Server.Listen) })
	err = g.Wait()
	slog.Info("qqrelay stopped")
	return err
}

func wakeOptions(cfg *config.Config) delivery.WakeOptions {
	return delivery.WakeOptions{
		Enabled:       cfg.Wake.Enabled,
		MentionTarget: cfg.Wake.MentionTarget,
		TrustedSender: cfg.Wake.TrustedSender,
		Prompt:        cfg.Wake.Prompt,
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
