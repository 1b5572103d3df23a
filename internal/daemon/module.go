package daemon

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/matheus3301/chatd/internal/api"
	"github.com/matheus3301/chatd/internal/bus"
	"github.com/matheus3301/chatd/internal/config"
	"github.com/matheus3301/chatd/internal/conv"
	"github.com/matheus3301/chatd/internal/hub"
	"github.com/matheus3301/chatd/internal/ingest"
	"github.com/matheus3301/chatd/internal/lock"
	"github.com/matheus3301/chatd/internal/logging"
	"github.com/matheus3301/chatd/internal/provider"
	"github.com/matheus3301/chatd/internal/session"
	"github.com/matheus3301/chatd/internal/status"
	"github.com/matheus3301/chatd/internal/store"
	"github.com/matheus3301/chatd/internal/webhook"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved instance configuration passed to the fx module.
type Params struct {
	InstanceName string
	Listen       string // optional override; empty = config value
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideKeyedLocks,
			provideLock,
			provideStore,
			provideIngestor,
			provideTracker,
			provideAggregator,
			provideHub,
			provideSimulator,
			provideWebhookHandler,
			provideMessageService,
			provideConversationService,
			provideRouter,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		// Missing config is normal on first run.
		return config.Default(), nil
	}
	return cfg, nil
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.InstanceName), p.InstanceName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideKeyedLocks() *lock.Keyed {
	return lock.NewKeyed()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Flock, error) {
	if err := session.EnsureDir(p.InstanceName); err != nil {
		return nil, err
	}
	logger.Info("acquiring instance lock", zap.String("instance", p.InstanceName))
	l, err := lock.Acquire(session.Dir(p.InstanceName))
	if err != nil {
		return nil, err
	}
	logger.Info("instance lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.InstanceName)
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

func provideIngestor(db *store.DB, b *bus.Bus, locks *lock.Keyed, logger *zap.Logger) *ingest.Ingestor {
	return ingest.NewIngestor(db, b, locks, logger)
}

func provideTracker(db *store.DB, b *bus.Bus, locks *lock.Keyed, logger *zap.Logger) *status.Tracker {
	return status.NewTracker(db, b, locks, logger)
}

func provideAggregator(db *store.DB, b *bus.Bus, logger *zap.Logger) *conv.Aggregator {
	return conv.NewAggregator(db, b, logger)
}

func provideHub(b *bus.Bus, logger *zap.Logger) *hub.Hub {
	return hub.New(b, logger)
}

func provideSimulator(b *bus.Bus, tracker *status.Tracker, logger *zap.Logger) *provider.Simulator {
	return provider.NewSimulator(b, tracker, logger)
}

func provideWebhookHandler(cfg *config.Config, ing *ingest.Ingestor, tracker *status.Tracker, logger *zap.Logger) *webhook.Handler {
	return webhook.NewHandler(ing, tracker, cfg.Webhook.VerifyToken, logger)
}

func provideMessageService(db *store.DB, ing *ingest.Ingestor, tracker *status.Tracker, logger *zap.Logger) *api.MessageService {
	return api.NewMessageService(db, ing, tracker, logger)
}

func provideConversationService(db *store.DB, agg *conv.Aggregator, tracker *status.Tracker, logger *zap.Logger) *api.ConversationService {
	return api.NewConversationService(db, agg, tracker, logger)
}

func provideRouter(
	msgs *api.MessageService,
	convs *api.ConversationService,
	wh *webhook.Handler,
	h *hub.Hub,
	ing *ingest.Ingestor,
	tracker *status.Tracker,
	logger *zap.Logger,
) *gin.Engine {
	return api.NewRouter(msgs, convs, wh, h, ing, tracker, logger)
}

func registerLifecycle(
	lc fx.Lifecycle,
	cfg *config.Config,
	srv *Server,
	lk *lock.Flock,
	agg *conv.Aggregator,
	h *hub.Hub,
	sim *provider.Simulator,
	logger *zap.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Seed the conversation list from the store before events flow.
			if err := agg.Rebuild(); err != nil {
				return err
			}
			agg.Start(context.Background())
			h.Start(context.Background())
			if cfg.Provider.SimulateReceipts {
				sim.Start(context.Background())
			}

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("http server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.Stop(ctx)
			if cfg.Provider.SimulateReceipts {
				sim.Stop()
			}
			h.Stop()
			agg.Stop()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
