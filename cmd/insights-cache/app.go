package main

import (
	"context"
	"fmt"
	"time"

	"github.com/radiusdt/insights-cache/internal/cache"
	"github.com/radiusdt/insights-cache/internal/clients"
	"github.com/radiusdt/insights-cache/internal/collector"
	"github.com/radiusdt/insights-cache/internal/config"
	"github.com/radiusdt/insights-cache/internal/database"
	"github.com/radiusdt/insights-cache/internal/events"
	"github.com/radiusdt/insights-cache/internal/funnel"
	"github.com/radiusdt/insights-cache/internal/insights"
	"github.com/radiusdt/insights-cache/internal/metrics"
	"github.com/radiusdt/insights-cache/internal/period"
	"github.com/radiusdt/insights-cache/internal/platform"
	"github.com/radiusdt/insights-cache/internal/platform/google"
	"github.com/radiusdt/insights-cache/internal/platform/meta"
	"github.com/radiusdt/insights-cache/internal/storage"
	"go.uber.org/zap"
)

// app is the wired object graph shared by serve and collect.
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	metrics   *metrics.Metrics
	db        *database.PostgresDB
	redis     *database.RedisDB
	publisher interface{ Close() error }
	directory clients.Directory
	gateway   *storage.Gateway
	router    *cache.Router
	service   *insights.Service
	collector *collector.Collector
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	if cfg.Metrics.Enabled {
		a.metrics = metrics.NewMetrics("insights")
	}

	directory, err := clients.LoadFile(cfg.Clients.File)
	if err != nil {
		return nil, fmt.Errorf("failed to load client directory: %w", err)
	}
	a.directory = directory

	mode, err := funnel.ParseSynonymMode(cfg.Funnel.SynonymMode)
	if err != nil {
		return nil, err
	}

	// Try to connect to PostgreSQL
	var store storage.SummaryStore
	db, err := database.NewPostgresDB(ctx, cfg.Database, logger)
	if err != nil {
		logger.Warn("PostgreSQL not available, using in-memory summary store", zap.Error(err))
		store = storage.NewInMemorySummaryStore()
	} else {
		a.db = db
		store = storage.NewPostgresSummaryStore(db.Pool)
	}

	// Try to connect to Redis
	var (
		entries cache.EntryStore
		claimer cache.Claimer
	)
	if cfg.Redis.Enabled {
		rdb, err := database.NewRedisDB(ctx, cfg.Redis, logger)
		if err != nil {
			logger.Warn("Redis not available, cache entries are local to this replica", zap.Error(err))
		} else {
			a.redis = rdb
			entries = cache.NewRedisEntryStore(rdb.Client, cfg.Cache.EntryExpiry)
			claimer = cache.NewRedisClaimer(rdb.Client)
		}
	}

	var publisher storage.Publisher = events.NopPublisher{}
	a.publisher = events.NopPublisher{}
	if len(cfg.Kafka.Brokers) > 0 {
		kp, err := events.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, a.metrics, logger)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("failed to create kafka publisher: %w", err)
		}
		publisher, a.publisher = kp, kp
	}

	var sources []platform.Source
	if cfg.Meta.AccessToken != "" {
		sources = append(sources, meta.New(cfg.Meta, nil, a.metrics, logger))
	} else {
		logger.Warn("Meta access token not set, meta source disabled")
	}
	if cfg.Google.DeveloperToken != "" {
		sources = append(sources, google.New(cfg.Google, nil, a.metrics, logger))
	} else {
		logger.Warn("Google developer token not set, google source disabled")
	}

	resolver := period.NewResolver(cfg.Location())
	pipeline := insights.NewPipeline(directory, platform.NewSources(sources...), funnel.New(funnel.WithMode(mode)), logger)
	a.gateway = storage.NewGateway(store, publisher, a.metrics, logger)
	a.router = cache.NewRouter(cache.Config{
		Resolver: resolver,
		Store:    a.gateway,
		Entries:  entries,
		Claimer:  claimer,
		Fetcher:  pipeline,
		Options: cache.Options{
			TTL:          cfg.Cache.TTL,
			FetchTimeout: cfg.Cache.FetchTimeout,
			ClaimTTL:     cfg.Cache.ClaimTTL,
			ClaimWait:    cfg.Cache.ClaimWait,
		},
		Metrics: a.metrics,
		Logger:  logger,
	})
	a.service = insights.NewService(directory, a.router)
	a.collector = collector.New(directory, pipeline, a.gateway, a.router, resolver, cfg.Collector, a.metrics, logger)

	list, _ := directory.List(ctx)
	logger.Info("insights cache wired",
		zap.Int("clients", len(list)),
		zap.Int("sources", len(sources)),
		zap.String("synonym_mode", mode.String()),
		zap.Bool("postgres", a.db != nil),
		zap.Bool("redis", a.redis != nil),
		zap.Bool("kafka", len(cfg.Kafka.Brokers) > 0),
	)
	return a, nil
}

// reportDBStats copies pool statistics into the metrics until ctx is done.
func (a *app) reportDBStats(ctx context.Context, every time.Duration) {
	if a.db == nil || a.metrics == nil {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			st := a.db.Stats()
			a.metrics.UpdateDBStats(st.Idle, st.InUse, st.Total)
		}
	}
}

func (a *app) close() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("failed to close publisher", zap.Error(err))
		}
	}
	if a.redis != nil {
		a.redis.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}
