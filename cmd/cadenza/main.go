// Command cadenza is the main entry point for the Cadenza music bot.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/cadenza/internal/config"
	discordbot "github.com/MrWong99/cadenza/internal/discord"
	"github.com/MrWong99/cadenza/internal/discord/commands"
	"github.com/MrWong99/cadenza/internal/health"
	"github.com/MrWong99/cadenza/internal/observe"
	"github.com/MrWong99/cadenza/internal/resolver"
	"github.com/MrWong99/cadenza/internal/session"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// .env is optional; real deployments set DISCORD_TOKEN directly.
	_ = godotenv.Load()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "cadenza: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "cadenza: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logLevel := new(slog.LevelVar)
	logLevel.Set(cfg.Server.LogLevel.SlogLevel())
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("cadenza starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Metrics provider ──────────────────────────────────────────────────────
	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise metrics provider", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(shutdownCtx); err != nil {
			slog.Warn("metrics shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Discord bot ───────────────────────────────────────────────────────────
	bot, err := discordbot.New(ctx, discordbot.Config{
		Token:    cfg.Discord.Token,
		GuildID:  cfg.Discord.GuildID,
		DJRoleID: cfg.Discord.DJRoleID,
	})
	if err != nil {
		slog.Error("failed to create Discord bot", "err", err)
		return 1
	}
	slog.Info("discord bot connected", "guild_id", cfg.Discord.GuildID)

	// ── Resolver and session manager ──────────────────────────────────────────
	res := resolver.New(
		resolver.WithTimeout(cfg.Resolver.Timeout.Std()),
		resolver.WithSearchRateLimit(cfg.Resolver.SearchRateLimit),
	)
	manager := session.NewManager(session.Config{
		Platform: bot.Platform(),
		Resolver: res,
		Metrics:  metrics,
		Logger:   logger,
	})

	// Tear down sessions when their voice channel empties.
	watcher := session.NewWatcher(manager, bot, logger)
	bot.SetMembershipHandler(watcher)

	// ── Slash commands ────────────────────────────────────────────────────────
	music := commands.NewMusicCommands(manager, bot.Permissions(), version, bot.VoiceChannelOf)
	music.Register(bot.Router())

	// ── Status board (optional) ───────────────────────────────────────────────
	if cfg.Discord.StatusChannelID != "" {
		board := discordbot.NewStatusBoard(discordbot.StatusBoardConfig{
			Poster:    bot.Session(),
			ChannelID: cfg.Discord.StatusChannelID,
			Status:    manager,
			GuildName: bot.GuildName,
		})
		board.Start(ctx)
		defer board.Stop()
	}

	// ── Config hot reload (log level and resolver settings) ───────────────────
	cfgWatcher, err := config.NewWatcher(*configPath, func(old, next *config.Config) {
		diff := config.Diff(old, next)
		if diff.LogLevelChanged {
			logLevel.Set(diff.NewLogLevel.SlogLevel())
			slog.Info("log level changed", "level", diff.NewLogLevel)
		}
		if diff.ResolverChanged {
			slog.Info("resolver config changed, restart required to apply",
				"timeout", diff.NewResolver.Timeout.Std(),
			)
		}
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer cfgWatcher.Stop()
	}

	// ── HTTP server (metrics and health probes) ───────────────────────────────
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	healthHandler := health.New(
		func() int { return len(manager.ActiveGuilds()) },
		health.Gateway(bot.GatewayReady),
	)
	healthHandler.Register(mux)

	httpServer := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("http server listening", "addr", cfg.Server.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "err", err)
		}
	}()

	// ── Run until shutdown signal ─────────────────────────────────────────────
	slog.Info("cadenza ready — press Ctrl+C to shut down")
	if err := bot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("discord bot error", "err", err)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	// Disconnect from every voice channel before closing the gateway.
	for _, guildID := range manager.ActiveGuilds() {
		if err := manager.Leave(shutdownCtx, guildID); err != nil {
			slog.Warn("failed to leave voice channel", "guild_id", guildID, "err", err)
		}
	}

	if err := bot.Close(); err != nil {
		slog.Warn("discord bot close error", "err", err)
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http server shutdown error", "err", err)
	}

	slog.Info("goodbye")
	return 0
}
