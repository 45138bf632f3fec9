package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/genricoloni/medianotify/internal/artcache"
	"github.com/genricoloni/medianotify/internal/bridge"
	"github.com/genricoloni/medianotify/internal/config"
	"github.com/genricoloni/medianotify/internal/domain"
	"github.com/genricoloni/medianotify/internal/engine"
	"github.com/genricoloni/medianotify/internal/fetcher"
	"github.com/genricoloni/medianotify/internal/metadata"
	"github.com/genricoloni/medianotify/internal/monitor"
	"github.com/genricoloni/medianotify/internal/notifier"
	"github.com/genricoloni/medianotify/internal/processor"
	"github.com/genricoloni/medianotify/internal/registry"
	"github.com/genricoloni/medianotify/internal/render"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

const _debounce = 500 * time.Millisecond

// options is filled from the command line flags
var options config.Options

// AppOptions is the application graph without the fx logger
var AppOptions = fx.Options(
	fx.Provide(
		func() config.Options { return options },
		newLogger,
		config.NewAppConfig,
		func(c *config.AppConfig) domain.Config { return c },
		func(c *config.AppConfig) render.ChannelProvider { return c },

		// Art pipeline
		fx.Annotate(processor.NewIconProcessor, fx.As(new(domain.ImageProcessor))),
		fx.Annotate(fetcher.NewHTTPFetcher, fx.As(new(domain.Fetcher))),
		registry.New,
		newArtCache,
		metadata.NewBuilder,
		render.NewRenderer,

		// Notification server
		newNotifier,
		func(n *notifier.Notifier) domain.NotificationSink { return n },
		func(n *notifier.Notifier) domain.ActionSource { return n },

		// Media players
		func(logger *zap.Logger) *monitor.MprisMonitor {
			return monitor.NewMprisMonitor(logger, monitor.DialSessionBus)
		},
		func(m *monitor.MprisMonitor) domain.PlayerController { return m },
		bridge.NewDirectory,
		bridge.NewRelay,
		func(r *bridge.Relay) domain.EventSink { return r },

		engine.NewEngine,
		newBridge,
	),
	fx.Invoke(registerHooks),
)

var rootCmd = &cobra.Command{
	Use:   "medianotify",
	Short: "Media notifications with transport buttons for MPRIS players",
	Long: `medianotify shows one desktop notification per running MPRIS media player,
with album art and previous / play-pause / next buttons.`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&options.File, "config", "c", "", "config file (default: $XDG_CONFIG_HOME/medianotify/config.toml)")
	rootCmd.PersistentFlags().StringVar(&options.LogLevel, "log-level", "info", "log level: debug, info, warn, error")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	app := fx.New(
		AppOptions,
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
	)

	// Handle graceful shutdown
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := app.Start(ctx); err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), app.StopTimeout())
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		return fmt.Errorf("failed to stop: %w", err)
	}
	return nil
}

// newLogger creates a new zap logger instance at the requested level
func newLogger(opts config.Options) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if opts.LogLevel != "" {
		level, err := zap.ParseAtomicLevel(opts.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %w", err)
		}
		cfg.Level = level
	}
	return cfg.Build()
}

func newArtCache(
	logger *zap.Logger,
	f domain.Fetcher,
	proc domain.ImageProcessor,
	reg *registry.Registry,
	cfg *config.AppConfig,
) *artcache.Cache {
	return artcache.New(logger, f, proc, reg, artcache.Settings{FetchTimeout: cfg.FetchTimeout()})
}

func newNotifier(logger *zap.Logger, cfg *config.AppConfig) *notifier.Notifier {
	return notifier.New(logger, notifier.Settings{
		AppName:       cfg.AppName(),
		ExpireTimeout: cfg.ExpireTimeout(),
	}, notifier.DialSessionBus)
}

func newBridge(
	logger *zap.Logger,
	cfg *config.AppConfig,
	dir *bridge.Directory,
	m *monitor.MprisMonitor,
	e *engine.Engine,
) *bridge.Bridge {
	return bridge.New(logger, dir, m, e, bridge.Settings{
		Priority: cfg.Priority(),
		Debounce: _debounce,
	})
}

type lifecycle interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// registerHooks starts components in dependency order; fx stops them in reverse
func registerHooks(
	lc fx.Lifecycle,
	logger *zap.Logger,
	n *notifier.Notifier,
	relay *bridge.Relay,
	e *engine.Engine,
	m *monitor.MprisMonitor,
	b *bridge.Bridge,
) {
	for _, c := range []lifecycle{n, relay, e, m, b} {
		lc.Append(fx.Hook{OnStart: c.Start, OnStop: c.Stop})
	}

	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go logFetchErrors(logger, e.Errors(), done)
			logger.Info("medianotify daemon started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			close(done)
			logger.Info("Shutting down")
			return nil
		},
	})
}

func logFetchErrors(logger *zap.Logger, errs <-chan error, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case err := <-errs:
			var fe *domain.FetchError
			if errors.As(err, &fe) {
				logger.Warn("Album art fetch failed",
					zap.Int("id", fe.ID),
					zap.String("url", fe.URL),
					zap.Error(fe.Err))
				continue
			}
			logger.Warn("Album art fetch failed", zap.Error(err))
		}
	}
}
