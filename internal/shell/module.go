// Package shell composes the messaging core into a runnable per-session
// engine: config, logging, the session lock, the cache store, the REST
// gateway, the live channel and the background workers.
package shell

import (
	"context"
	"fmt"
	"time"

	"github.com/kariuki-john/remas-mobile/internal/badge"
	"github.com/kariuki-john/remas-mobile/internal/bus"
	"github.com/kariuki-john/remas-mobile/internal/channel"
	"github.com/kariuki-john/remas-mobile/internal/chat"
	"github.com/kariuki-john/remas-mobile/internal/config"
	"github.com/kariuki-john/remas-mobile/internal/directory"
	"github.com/kariuki-john/remas-mobile/internal/identity"
	"github.com/kariuki-john/remas-mobile/internal/lock"
	"github.com/kariuki-john/remas-mobile/internal/logging"
	"github.com/kariuki-john/remas-mobile/internal/rest"
	"github.com/kariuki-john/remas-mobile/internal/session"
	"github.com/kariuki-john/remas-mobile/internal/store"
	msgsync "github.com/kariuki-john/remas-mobile/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	ConfigPath  string // optional override for testing; empty = use default
}

// Module returns the fx module for the engine, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("shell",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			provideTokenSource,
			provideIdentity,
			provideRESTClient,
			provideChannelManager,
			provideSyncEngine,
			provideBadgeAggregator,
			provideDirectory,
			provideChatScreen,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = session.ConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.CacheDBPath(p.SessionName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideTokenSource(p Params) identity.TokenSource {
	// Read per call so a re-login is picked up without a restart.
	return identity.TokenFunc(func() string {
		return session.ReadToken(p.SessionName)
	})
}

// provideIdentity resolves who is logged in. A missing token is not
// fatal at wiring time: the engine comes up logged out and every
// identity-requiring operation refuses individually.
func provideIdentity(tokens identity.TokenSource, logger *zap.Logger) identity.Identity {
	ident, err := identity.ResolveFrom(tokens)
	if err != nil {
		logger.Warn("no usable identity, starting logged out", zap.Error(err))
		return identity.Identity{}
	}
	logger.Info("identity resolved", zap.String("email", ident.Email))
	return ident
}

func provideRESTClient(cfg *config.Config, tokens identity.TokenSource, logger *zap.Logger) *rest.Client {
	return rest.NewClient(cfg.APIBaseURL, tokens, logger)
}

func provideChannelManager(cfg *config.Config, tokens identity.TokenSource, b *bus.Bus, logger *zap.Logger) *channel.Manager {
	return channel.NewManager(cfg.ChannelURL, tokens, b, logger)
}

func provideSyncEngine(db *store.DB, b *bus.Bus, ident identity.Identity, logger *zap.Logger) *msgsync.Engine {
	return msgsync.NewEngine(db, b, func() string { return ident.Email }, logger)
}

func provideBadgeAggregator(cfg *config.Config, client *rest.Client, b *bus.Bus, logger *zap.Logger) *badge.Aggregator {
	interval := time.Duration(cfg.BadgePollSeconds) * time.Second
	return badge.NewAggregator(client, b, interval, cfg.PageSize, logger)
}

func provideDirectory(client *rest.Client, db *store.DB, logger *zap.Logger) *directory.Directory {
	return directory.New(client, db, logger)
}

func provideChatScreen(client *rest.Client, ch *channel.Manager, b *bus.Bus, eng *msgsync.Engine, db *store.DB, ident identity.Identity, logger *zap.Logger) *chat.Screen {
	return chat.NewScreen(client, ch, b, eng, db, ident.Email, logger)
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, db *store.DB, engine *msgsync.Engine, aggregator *badge.Aggregator, screen *chat.Screen, ident identity.Identity, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			engine.Start(context.Background())

			if ident.Email != "" {
				aggregator.Start(context.Background())
			} else {
				logger.Info("badge polling disabled until login")
			}

			logger.Info("engine started", zap.String("email", ident.Email))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			screen.Unmount()
			aggregator.Stop()
			engine.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("engine stopped")
			return nil
		},
	})
}
