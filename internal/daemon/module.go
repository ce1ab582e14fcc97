package daemon

import (
	"context"
	"fmt"

	"github.com/matheus3301/wppcrm/internal/api"
	"github.com/matheus3301/wppcrm/internal/assign"
	"github.com/matheus3301/wppcrm/internal/bus"
	"github.com/matheus3301/wppcrm/internal/cache"
	"github.com/matheus3301/wppcrm/internal/config"
	"github.com/matheus3301/wppcrm/internal/gateway"
	"github.com/matheus3301/wppcrm/internal/lock"
	"github.com/matheus3301/wppcrm/internal/logging"
	"github.com/matheus3301/wppcrm/internal/message"
	"github.com/matheus3301/wppcrm/internal/notify"
	"github.com/matheus3301/wppcrm/internal/outbox"
	"github.com/matheus3301/wppcrm/internal/profile"
	"github.com/matheus3301/wppcrm/internal/restapi"
	"github.com/matheus3301/wppcrm/internal/roster"
	"github.com/matheus3301/wppcrm/internal/store"
	intsync "github.com/matheus3301/wppcrm/internal/sync"
	"github.com/matheus3301/wppcrm/internal/timeline"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile passed to the fx module.
type Params struct {
	ProfileName string
	SocketPath  string // optional override for testing; empty = use default
	// Config overrides reading the profile config.toml when set.
	Config *config.Profile
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideLock,
			provideStore,
			providePaths,
			provideCache,
			provideSweeper,
			provideTimeline,
			provideSyncEngine,
			provideRESTClient,
			provideCoordinator,
			provideRoster,
			provideNotifier,
			provideLedger,
			provideReconciler,
			provideConsole,
			NewServer,
			NewMetricsServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Profile, error) {
	cfg := p.Config
	if cfg == nil {
		var err error
		cfg, err = config.LoadProfile(profile.ConfigPath(p.ProfileName))
		if err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("profile %q: %w", p.ProfileName, err)
	}
	return cfg, nil
}

func provideLogger(p Params, cfg *config.Profile) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName, cfg.LogLevel)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(profile.Dir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// provideStore depends on the lock so no second daemon opens the database.
func provideStore(p Params, cfg *config.Profile, _ *lock.Lock, b *bus.Bus, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.DBPath(p.ProfileName)
	db, err := store.Open(dbPath,
		store.WithBus(b),
		store.WithLogger(logger),
		store.WithCacheQuota(cfg.Cache.Quota),
	)
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

func providePaths(cfg *config.Profile) gateway.Paths {
	return gateway.Paths{CompanyID: cfg.CompanyID}
}

func provideCache(db *store.DB, cfg *config.Profile, logger *zap.Logger) (*cache.Cache, error) {
	return cache.New(db, cache.Options{
		TTL:         cfg.Cache.TTL.Duration,
		MaxMessages: cfg.Cache.MaxMessages,
		EntryLimit:  cfg.Cache.EntryLimit,
		TotalLimit:  cfg.Cache.TotalLimit,
	}, logger.Named("cache"))
}

func provideSweeper(c *cache.Cache, cfg *config.Profile, b *bus.Bus, logger *zap.Logger) *cache.Sweeper {
	return cache.NewSweeper(c, cfg.Cache.SweepInterval.Duration, b, logger.Named("cache"))
}

func provideTimeline(b *bus.Bus) *timeline.Timeline {
	return timeline.New(b)
}

func provideSyncEngine(db *store.DB, paths gateway.Paths, c *cache.Cache, tl *timeline.Timeline, cfg *config.Profile, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, paths, message.NewNormalizer(logger.Named("normalizer")), c, tl, logger.Named("sync"), intsync.Options{
		SelfName:               cfg.Operator.Name,
		RefetchInitialInterval: cfg.Sync.RefetchInterval.Duration,
		RefetchMaxRetries:      cfg.Sync.RefetchRetries,
	})
}

func provideRESTClient(cfg *config.Profile, logger *zap.Logger) *restapi.Client {
	return restapi.New(restapi.Config{
		BaseURL: cfg.API.BaseURL,
		Token:   cfg.API.Token,
		Timeout: cfg.API.Timeout.Duration,
		Rate:    cfg.API.Rate,
		Burst:   cfg.API.Burst,
	}, logger.Named("restapi"))
}

func provideCoordinator(cfg *config.Profile, client *restapi.Client, tl *timeline.Timeline, c *cache.Cache, engine *intsync.Engine, db *store.DB, b *bus.Bus, logger *zap.Logger) *outbox.Coordinator {
	return outbox.NewCoordinator(outbox.Config{
		CompanyID: cfg.CompanyID,
		Sender:    client,
		Timeline:  tl,
		Cache:     c,
		Refetcher: engine,
		Journal:   db,
		Bus:       b,
		Logger:    logger.Named("outbox"),
	})
}

func provideRoster(cfg *config.Profile, b *bus.Bus, logger *zap.Logger) *roster.Roster {
	return roster.New(cfg.Phones, b, logger.Named("roster"))
}

// provideNotifier returns a nil Notifier when notifications are off.
func provideNotifier(cfg *config.Profile, client *restapi.Client, db *store.DB, paths gateway.Paths, logger *zap.Logger) (assign.Notifier, *notify.Messenger) {
	if !cfg.Ledger.Notify {
		return nil, nil
	}
	m := notify.NewMessenger(notify.Config{
		CompanyID:  cfg.CompanyID,
		Sender:     client,
		Gateway:    db,
		Paths:      paths,
		SenderName: cfg.Operator.Name,
		PhoneIndex: cfg.Operator.PhoneIndex,
		Timeout:    cfg.API.Timeout.Duration,
		Logger:     logger.Named("notify"),
	})
	return m, m
}

func provideLedger(db *store.DB, paths gateway.Paths, n assign.Notifier, b *bus.Bus, logger *zap.Logger) *assign.Ledger {
	return assign.NewLedger(db, paths, n, b, logger.Named("ledger"))
}

func provideReconciler(l *assign.Ledger, cfg *config.Profile, logger *zap.Logger) *assign.Reconciler {
	return assign.NewReconciler(l, cfg.Ledger.ReconcileInterval.Duration, logger.Named("ledger"))
}

func provideConsole(p Params, cfg *config.Profile, r *roster.Roster, l *assign.Ledger, co *outbox.Coordinator, engine *intsync.Engine, tl *timeline.Timeline, db *store.DB, b *bus.Bus, logger *zap.Logger) *api.Console {
	return api.NewConsole(api.Deps{
		Profile: p.ProfileName,
		Operator: api.Operator{
			Name:       cfg.Operator.Name,
			Role:       cfg.Operator.Role,
			PhoneIndex: cfg.Operator.PhoneIndex,
		},
		Roster:   r,
		Ledger:   l,
		Outbox:   co,
		Engine:   engine,
		Timeline: tl,
		DB:       db,
		Bus:      b,
		Logger:   logger.Named("api"),
	})
}

// components groups what the lifecycle starts and stops.
type components struct {
	fx.In

	Server     *Server
	Metrics    *MetricsServer
	Lock       *lock.Lock
	DB         *store.DB
	Paths      gateway.Paths
	Roster     *roster.Roster
	Engine     *intsync.Engine
	Outbox     *outbox.Coordinator
	Sweeper    *cache.Sweeper
	Reconciler *assign.Reconciler
	Messenger  *notify.Messenger
	Logger     *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, c components) {
	// Background loops outlive the OnStart context.
	runCtx, cancel := context.WithCancel(context.Background())
	logger := c.Logger

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if err := c.Roster.Start(runCtx, c.DB, c.Paths); err != nil {
				return fmt.Errorf("start roster: %w", err)
			}
			c.Sweeper.Start(runCtx)
			c.Reconciler.Start(runCtx)

			go func() {
				if err := c.Server.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()
			c.Metrics.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			c.Server.Stop(ctx)
			c.Metrics.Stop(ctx)
			c.Reconciler.Stop()
			c.Sweeper.Stop()
			c.Outbox.Wait()
			if c.Messenger != nil {
				c.Messenger.Wait()
			}
			c.Engine.Stop()
			c.Roster.Stop()
			cancel()
			if err := c.DB.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := c.Lock.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
