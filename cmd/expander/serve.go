package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/memohai/expander/internal/config"
	"github.com/memohai/expander/internal/dispatch"
	"github.com/memohai/expander/internal/expand"
	"github.com/memohai/expander/internal/gateway"
	"github.com/memohai/expander/internal/handlers"
	gatewaychecker "github.com/memohai/expander/internal/healthcheck/checkers/gateway"
	"github.com/memohai/expander/internal/link"
	"github.com/memohai/expander/internal/logger"
	"github.com/memohai/expander/internal/remote"
	"github.com/memohai/expander/internal/server"
	"github.com/memohai/expander/internal/snapshot"
	"github.com/memohai/expander/internal/version"
)

func runServe(cfgPath string) {
	fx.New(
		fx.Supply(configPath(cfgPath)),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideGateway,
			provideSnapshot,
			provideRemoteResolver,
			provideMatcher,
			provideExpandResolver,
			providePipeline,
			provideDispatcher,
			provideServerHandler(handlers.NewPingHandler),
			provideServerHandler(provideHealthHandler),
			provideServerHandler(handlers.NewMetricsHandler),
			provideServer,
		),
		fx.Invoke(
			startDispatcher,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

type configPath string

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideConfig(path configPath) (config.Config, error) {
	return loadConfig(string(path))
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideGateway(log *slog.Logger, cfg config.Config) (*gateway.Gateway, error) {
	return gateway.New(log, cfg.Discord.Token, cfg.Discord.Status)
}

func provideSnapshot(cfg config.Config) *snapshot.State {
	return snapshot.NewState(cfg.Discord.MessageCacheSize)
}

func provideRemoteResolver(log *slog.Logger, gw *gateway.Gateway) *remote.Resolver {
	return remote.NewResolver(log, gw.Session())
}

func provideMatcher(cfg config.Config) (*link.Matcher, error) {
	return link.NewMatcher(cfg.Expander.LinkHosts)
}

func provideExpandResolver(log *slog.Logger, snap *snapshot.State, fetcher *remote.Resolver) *expand.Resolver {
	return expand.NewResolver(log, snap, fetcher)
}

func providePipeline(log *slog.Logger, cfg config.Config, matcher *link.Matcher, resolver *expand.Resolver, poster *remote.Resolver) *expand.Pipeline {
	return expand.NewPipeline(log, matcher, resolver, poster, expand.SummaryOptions{
		Color:                 cfg.Expander.EmbedColor,
		DefaultAvatarFallback: cfg.Expander.DefaultAvatarFallback,
	})
}

func provideDispatcher(log *slog.Logger, cfg config.Config, snap *snapshot.State, pipeline *expand.Pipeline, gw *gateway.Gateway) *dispatch.Dispatcher {
	return dispatch.NewDispatcher(log, snap, pipeline, dispatch.Options{
		MaxConcurrency:    cfg.Expander.MaxConcurrency,
		UserRatePerMinute: cfg.Expander.UserRatePerMinute,
		OnReady:           gw.AnnouncePresence,
	})
}

func provideHealthHandler(log *slog.Logger, gw *gateway.Gateway, d *dispatch.Dispatcher) *handlers.HealthHandler {
	return handlers.NewHealthHandler(log, gatewaychecker.NewChecker(log, gw, d))
}

type serverParams struct {
	fx.In

	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.Config.Server.Addr, params.ServerHandlers...)
}

// startDispatcher opens the gateway and consumes its events until shutdown.
// A terminated event stream stops the whole process.
func startDispatcher(lc fx.Lifecycle, logger *slog.Logger, gw *gateway.Gateway, d *dispatch.Dispatcher, shutdowner fx.Shutdowner) {
	runCtx, cancel := context.WithCancel(context.Background())
	runDone := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("starting expander", slog.String("version", version.GetInfo()))
			if err := gw.Open(); err != nil {
				cancel()
				close(runDone)
				return err
			}
			go func() {
				defer close(runDone)
				if err := d.Run(runCtx, gw); err != nil {
					logger.Error("dispatcher stopped", slog.Any("error", err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			select {
			case <-runDone:
			case <-ctx.Done():
			}
			if err := d.Wait(ctx); err != nil {
				logger.Warn("in-flight expansions abandoned", slog.Int64("in_flight", d.InFlight()), slog.Any("error", err))
			}
			if err := gw.Close(); err != nil {
				return fmt.Errorf("gateway close: %w", err)
			}
			return nil
		},
	})
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner, cfg config.Config) {
	if !cfg.Server.Enabled {
		logger.Info("http server disabled")
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("http server listening", slog.String("addr", srv.Addr()))
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
