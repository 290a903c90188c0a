package cli

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/bigdegenenergy/open-cloud-ops/custodian/internal/alert"
	"github.com/bigdegenenergy/open-cloud-ops/custodian/internal/compliance"
	"github.com/bigdegenenergy/open-cloud-ops/custodian/internal/database"
	"github.com/bigdegenenergy/open-cloud-ops/custodian/internal/health"
	"github.com/bigdegenenergy/open-cloud-ops/custodian/internal/service"
	"github.com/bigdegenenergy/open-cloud-ops/custodian/internal/sla"
	"github.com/bigdegenenergy/open-cloud-ops/custodian/internal/store"
	"github.com/bigdegenenergy/open-cloud-ops/custodian/pkg/cache"
	"github.com/bigdegenenergy/open-cloud-ops/custodian/pkg/config"
)

// application holds the wired components shared by the serve and check
// commands.
type application struct {
	cfg    *config.Config
	logger zerolog.Logger

	pool     *pgxpool.Pool
	store    store.Store
	cache    *cache.Cache
	nats     *alert.NATSPublisher
	registry *sla.Registry
	engine   *service.Engine
	health   *health.Checker
}

// newApplication connects to the backing services and builds the engine.
// Redis and NATS are optional: when they cannot be reached the service runs
// without caching and logs alerts instead of publishing them.
func newApplication(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*application, error) {
	app := &application{
		cfg:    cfg,
		logger: logger,
		health: health.NewChecker(2 * time.Second),
	}

	if err := app.openStore(ctx); err != nil {
		return nil, err
	}
	app.openCache(ctx)
	publisher := app.openPublisher()

	app.registry = sla.NewDefaultRegistry()
	if cfg.SLATargetsFile != "" {
		n, err := sla.LoadTargetsFile(app.registry, cfg.SLATargetsFile)
		if err != nil {
			app.Close()
			return nil, err
		}
		logger.Info().Int("count", n).Str("file", cfg.SLATargetsFile).Msg("SLA targets loaded")
	}

	var deduper alert.Deduper
	if app.cache != nil {
		deduper = app.cache
	}
	dispatcher := alert.NewDispatcher(publisher, deduper, cfg.AlertDedupWindow, logger)

	opts := []service.Option{
		service.WithNotifier(dispatcher),
		service.WithWindowDays(cfg.SLAWindowDays),
		service.WithCacheTTL(cfg.CacheTTL),
	}
	if app.cache != nil {
		opts = append(opts, service.WithCache(app.cache))
	}
	app.engine = service.NewEngine(
		app.store,
		app.store,
		compliance.NewChecker(cfg.OfflineWarningDays),
		sla.NewMonitor(app.registry),
		logger,
		opts...,
	)

	return app, nil
}

func (app *application) openStore(ctx context.Context) error {
	switch app.cfg.Store {
	case config.StoreMemory:
		app.store = store.NewMemoryStore()
		app.logger.Warn().Msg("Using in-memory store; data is lost on restart")
		return nil
	default:
		pool, err := database.Open(ctx, app.cfg.DatabaseURL)
		if err != nil {
			return errors.Wrap(err, "connecting to database")
		}
		if err := database.Migrate(ctx, pool, app.logger); err != nil {
			pool.Close()
			return errors.Wrap(err, "migrating database")
		}
		app.pool = pool
		app.store = store.NewPgStore(pool)
		app.health.Register("postgres", true, pool.Ping)
		app.logger.Info().Msg("Database connected")
		return nil
	}
}

func (app *application) openCache(ctx context.Context) {
	if app.cfg.RedisURL == "" {
		app.logger.Info().Msg("Redis disabled; caching and alert deduplication are off")
		return
	}
	c, err := cache.NewCache(ctx, app.cfg.RedisURL, app.logger)
	if err != nil {
		app.logger.Warn().Err(err).Msg("Redis unavailable; running without cache")
		return
	}
	app.cache = c
	app.health.Register("redis", false, c.Ping)
}

func (app *application) openPublisher() alert.Publisher {
	if app.cfg.NATSURL == "" {
		return alert.NewLogPublisher(app.logger)
	}
	pub, err := alert.NewNATSPublisher(app.cfg.NATSURL, app.cfg.NATSSubject)
	if err != nil {
		app.logger.Warn().Err(err).Msg("NATS unavailable; alerts will be logged")
		return alert.NewLogPublisher(app.logger)
	}
	app.nats = pub
	app.health.Register("nats", false, pub.Ping)
	app.logger.Info().Str("subject", app.cfg.NATSSubject).Msg("Publishing alerts to NATS")
	return pub
}

// Close releases every connection the application opened.
func (app *application) Close() {
	if app.nats != nil {
		app.nats.Close()
	}
	if app.cache != nil {
		if err := app.cache.Close(); err != nil {
			app.logger.Warn().Err(err).Msg("Closing Redis")
		}
	}
	if app.pool != nil {
		app.pool.Close()
	}
}
