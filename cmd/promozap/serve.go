package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/promozap/promozap/internal/config"
	"github.com/promozap/promozap/internal/copywriter"
	"github.com/promozap/promozap/internal/db"
	"github.com/promozap/promozap/internal/dedup"
	"github.com/promozap/promozap/internal/handlers"
	"github.com/promozap/promozap/internal/links"
	"github.com/promozap/promozap/internal/logger"
	"github.com/promozap/promozap/internal/notify"
	"github.com/promozap/promozap/internal/offers"
	"github.com/promozap/promozap/internal/server"
	"github.com/promozap/promozap/internal/session"
	"github.com/promozap/promozap/internal/shopee"
	"github.com/promozap/promozap/internal/supervisor"
	"github.com/promozap/promozap/internal/transport"
	"github.com/promozap/promozap/internal/transport/gateway"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDBConn,
			provideSessionStore,
			provideHub,
			provideDialer,
			provideResolver,
			provideShopeeClient,
			provideCopywriter,
			provideDedupWindow,
			providePipeline,
			provideSupervisor,
			providePingHandler,
			provideBotHandler,
			provideWSHandler,
			provideServer,
		),
		fx.Invoke(
			startSupervisor,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideConfig() (config.Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.Postgres); err != nil {
		return nil, fmt.Errorf("db migrate: %w", err)
	}
	conn, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { conn.Close(); return nil }})
	return conn, nil
}

func provideSessionStore(log *slog.Logger, conn *pgxpool.Pool, cfg config.Config) *session.Store {
	return session.NewStore(log, conn, cfg.WhatsApp.CacheDir)
}

func provideHub(log *slog.Logger) *notify.Hub {
	return notify.NewHub(log)
}

func provideDialer(log *slog.Logger, cfg config.Config) transport.Dialer {
	return gateway.NewDialer(log, cfg.WhatsApp.GatewayURL)
}

func provideResolver(log *slog.Logger) *links.Resolver {
	return links.NewResolver(log)
}

func provideShopeeClient(log *slog.Logger, cfg config.Config) *shopee.Client {
	return shopee.NewClient(log, cfg.Shopee)
}

func provideCopywriter(log *slog.Logger, cfg config.Config) *copywriter.Generator {
	return copywriter.NewGenerator(log, cfg.Gemini)
}

func provideDedupWindow(cfg config.Config) *dedup.Window {
	return dedup.NewWindow(cfg.Dedup.Window(), cfg.Dedup.MaxTracked)
}

func providePipeline(log *slog.Logger, cfg config.Config, resolver *links.Resolver, client *shopee.Client, writer *copywriter.Generator, window *dedup.Window) *offers.Pipeline {
	return offers.NewPipeline(log, cfg.WhatsApp.MonitoredJID, cfg.WhatsApp.TargetJID, resolver, client, writer, window)
}

func provideSupervisor(log *slog.Logger, cfg config.Config, dialer transport.Dialer, store *session.Store, hub *notify.Hub, pipeline *offers.Pipeline) *supervisor.Supervisor {
	return supervisor.New(log, supervisor.Config{
		SessionKey:    cfg.WhatsApp.SessionKey,
		CacheDir:      cfg.WhatsApp.CacheDir,
		MaxReconnects: cfg.WhatsApp.MaxReconnects,
	}, dialer, store, hub, pipeline)
}

func providePingHandler(log *slog.Logger) *handlers.PingHandler {
	return handlers.NewPingHandler(log)
}

func provideBotHandler(log *slog.Logger, sup *supervisor.Supervisor) *handlers.BotHandler {
	return handlers.NewBotHandler(log, sup)
}

func provideWSHandler(log *slog.Logger, hub *notify.Hub) *handlers.WSHandler {
	return handlers.NewWSHandler(log, hub)
}

func provideServer(cfg config.Config, log *slog.Logger, pingHandler *handlers.PingHandler, botHandler *handlers.BotHandler, wsHandler *handlers.WSHandler) *server.Server {
	return server.NewServer(cfg.Server.Addr, log, pingHandler, botHandler, wsHandler)
}

func startSupervisor(lc fx.Lifecycle, logger *slog.Logger, sup *supervisor.Supervisor) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := sup.Start(ctx); err != nil && !errors.Is(err, supervisor.ErrAlreadyRunning) {
				return err
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return sup.Stop(ctx)
		},
	})
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
