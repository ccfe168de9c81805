package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/seikyu-ai/seikyubot/internal/bot"
	"github.com/seikyu-ai/seikyubot/internal/config"
	"github.com/seikyu-ai/seikyubot/internal/conversation"
	"github.com/seikyu-ai/seikyubot/internal/db"
	"github.com/seikyu-ai/seikyubot/internal/dedup"
	"github.com/seikyu-ai/seikyubot/internal/extract"
	"github.com/seikyu-ai/seikyubot/internal/handlers"
	"github.com/seikyu-ai/seikyubot/internal/invoice"
	"github.com/seikyu-ai/seikyubot/internal/issuer"
	"github.com/seikyu-ai/seikyubot/internal/lark"
	"github.com/seikyu-ai/seikyubot/internal/logger"
	"github.com/seikyu-ai/seikyubot/internal/pdf"
	"github.com/seikyu-ai/seikyubot/internal/server"
	"github.com/seikyu-ai/seikyubot/internal/webhook"
)

func runServe(cfgPath string) {
	fx.New(
		fx.Provide(
			func() (config.Config, error) { return provideConfig(cfgPath) },
			provideLogger,
			provideDBPool,
			invoice.NewService,
			conversation.NewStore,
			provideIssuerRegistry,
			provideLarkClient,
			provideExtractClient,
			provideRenderer,
			provideRouter,
			provideSweeper,
			provideServerHandler(handlers.NewPingHandler),
			provideServerHandler(provideWebhookHandler),
			provideServerHandler(provideInvoiceHandler),
			provideServer,
		),
		fx.Invoke(
			startSweeper,
			startServer,
		),
		fx.WithLogger(func(log *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: log.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideConfig(cfgPath string) (config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBPool(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	if err := db.Migrate(cfg.Postgres); err != nil {
		return nil, fmt.Errorf("db migrate: %w", err)
	}
	pool, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { pool.Close(); return nil }})
	return pool, nil
}

func provideIssuerRegistry(cfg config.Config) *issuer.Registry {
	return issuer.NewRegistry(cfg.Issuer)
}

func provideLarkClient(log *slog.Logger, cfg config.Config) *lark.Client {
	return lark.NewClient(log, cfg.Lark)
}

func provideExtractClient(log *slog.Logger, cfg config.Config) *extract.Client {
	return extract.NewClient(log, cfg.Gemini)
}

func provideRenderer(log *slog.Logger) pdf.Renderer {
	return pdf.NewChromeRenderer(log)
}

func provideRouter(log *slog.Logger, larkClient *lark.Client, extractor *extract.Client, states *conversation.Store, invoices *invoice.Service, registry *issuer.Registry, cfg config.Config) *bot.Router {
	ttl := time.Duration(cfg.App.SelectionTTLMinutes) * time.Minute
	return bot.NewRouter(
		log,
		dedup.NewBoundedCache(dedup.DefaultCapacity),
		larkClient,
		larkClient,
		extractor,
		states,
		invoices,
		registry,
		cfg.App.BaseURL,
		ttl,
	)
}

func provideWebhookHandler(log *slog.Logger, router *bot.Router, cfg config.Config) *webhook.Handler {
	return webhook.NewHandler(log, dedup.NewBoundedCache(dedup.DefaultCapacity), router, cfg.Lark.VerificationToken)
}

func provideInvoiceHandler(log *slog.Logger, invoices *invoice.Service, larkClient *lark.Client, renderer pdf.Renderer) *handlers.InvoiceHandler {
	return handlers.NewInvoiceHandler(log, invoices, larkClient, renderer)
}

func provideSweeper(log *slog.Logger, states *conversation.Store, larkClient *lark.Client) *conversation.Sweeper {
	return conversation.NewSweeper(log, states, larkClient, bot.TimeoutNotice)
}

type serverParams struct {
	fx.In
	Logger   *slog.Logger
	Config   config.Config
	Handlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.Config.Server.Addr, params.Handlers...)
}

func startSweeper(lc fx.Lifecycle, sweeper *conversation.Sweeper) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error { return sweeper.Start() },
		OnStop:  func(context.Context) error { sweeper.Stop(); return nil },
	})
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server failed", slog.Any("error", err))
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
