package commands

import (
	"context"
	"fmt"
	"gallery/internal/api"
	"gallery/internal/config"
	"gallery/internal/gallery"
	"gallery/internal/harvest"
	"gallery/internal/monitoring"
	"gallery/internal/page"
	"gallery/internal/proxy"
	"gallery/internal/storage"
	"gallery/pkg/logger"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// app is everything a command needs, built from one config file.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	metrics  *monitoring.Metrics
	renderer *page.Renderer
	gallery  *gallery.Gallery
	pg       *storage.PostgresStore
	redis    *storage.RedisStore
}

func newApp(path string) (*app, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(logger.Config{Level: cfg.LogLevel, Development: cfg.Development})
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: log, metrics: monitoring.NewMetrics()}
	if cfg.RenderIndex {
		a.renderer = page.NewRenderer(cfg.HTTPTimeout)
	}
	client := page.NewClient(page.ClientOptions{
		Timeout:  cfg.HTTPTimeout,
		Proxies:  proxy.NewManager(cfg.Proxies, cfg.UserAgents),
		Renderer: a.renderer,
		Observer: a.metrics,
		Logger:   log,
	})
	a.gallery, err = gallery.New(gallery.Options{
		GalleryURL:  cfg.GalleryURL,
		DataFolder:  cfg.DataFolder,
		ImageFolder: cfg.ImagesFolder,
		Schema:      cfg.Schema,
		Client:      client,
		Logger:      log,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// connect opens the optional stores named in the config.
func (a *app) connect(ctx context.Context) error {
	if a.cfg.PostgresURL != "" {
		pg, err := storage.NewPostgresStore(ctx, a.cfg.PostgresURL)
		if err != nil {
			return err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return fmt.Errorf("migrate: %w", err)
		}
		a.pg = pg
		a.logger.Info("postgres export enabled")
	}
	if a.cfg.RedisAddr != "" {
		a.redis = storage.NewRedisStore(a.cfg.RedisAddr)
		if err := a.redis.Ping(ctx); err != nil {
			return fmt.Errorf("redis %s: %w", a.cfg.RedisAddr, err)
		}
		a.logger.Info("redis scrape marks enabled", zap.String("addr", a.cfg.RedisAddr))
	}
	return nil
}

func (a *app) harvester() *harvest.Harvester {
	opts := harvest.Options{Config: a.cfg, Gallery: a.gallery, Metrics: a.metrics, Logger: a.logger}
	// typed nils must not reach the interfaces
	if a.pg != nil {
		opts.Sink = a.pg
	}
	if a.redis != nil {
		opts.Dedup = a.redis
	}
	return harvest.New(opts)
}

func (a *app) checks() map[string]api.Pinger {
	out := map[string]api.Pinger{}
	if a.pg != nil {
		out["postgres"] = a.pg
	}
	if a.redis != nil {
		out["redis"] = a.redis
	}
	return out
}

func (a *app) close() error {
	var err error
	if a.renderer != nil {
		a.renderer.Close()
	}
	if a.pg != nil {
		a.pg.Close()
	}
	if a.redis != nil {
		err = multierr.Append(err, a.redis.Close())
	}
	_ = a.logger.Sync()
	return err
}
