// Package collector writes closed periods to the summary store so historical
// requests can be served without touching an ad platform.
package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/radiusdt/insights-cache/internal/cache"
	"github.com/radiusdt/insights-cache/internal/clients"
	"github.com/radiusdt/insights-cache/internal/config"
	"github.com/radiusdt/insights-cache/internal/metrics"
	"github.com/radiusdt/insights-cache/internal/models"
	"github.com/radiusdt/insights-cache/internal/period"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Writer persists a collected summary.
type Writer interface {
	Upsert(ctx context.Context, s *models.PeriodSummary) (*models.PeriodSummary, error)
}

// Pruner drops cache state for periods that have closed.
type Pruner interface {
	PruneStale(ctx context.Context, now time.Time) (int, error)
}

// Result counts the outcome of one collection pass.
type Result struct {
	Written int
	Failed  int
}

// Collector aggregates closed periods for every client and platform.
type Collector struct {
	directory clients.Directory
	fetcher   cache.Fetcher
	writer    Writer
	pruner    Pruner
	resolver  *period.Resolver
	cfg       config.CollectorConfig
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time

	mu   sync.Mutex
	cron *cron.Cron
}

func New(
	directory clients.Directory,
	fetcher cache.Fetcher,
	writer Writer,
	pruner Pruner,
	resolver *period.Resolver,
	cfg config.CollectorConfig,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Collector {
	if resolver == nil {
		resolver = period.NewResolver(time.UTC)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Collector{
		directory: directory,
		fetcher:   fetcher,
		writer:    writer,
		pruner:    pruner,
		resolver:  resolver,
		cfg:       cfg,
		metrics:   m,
		logger:    logger,
		now:       time.Now,
	}
}

// CollectPeriod aggregates the full period of type t containing day for
// every client and platform. One failing client does not stop the others.
func (c *Collector) CollectPeriod(ctx context.Context, t models.SummaryType, day time.Time) (Result, error) {
	rng := period.Bounds(t, day)
	if !c.closed(rng) {
		return Result{}, fmt.Errorf("%w: period %s is still open", models.ErrInvalidRange, rng)
	}

	list, err := c.directory.List(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to list clients: %w", err)
	}

	var (
		mu   sync.Mutex
		res  Result
		errs []error
	)
	var g errgroup.Group
	g.SetLimit(c.cfg.Concurrency)
	for _, client := range list {
		for _, p := range client.Platforms() {
			key := models.SummaryKey{
				ClientID:    client.ID,
				Platform:    p,
				SummaryType: t,
				SummaryDate: rng.Start,
			}
			g.Go(func() error {
				err := c.collectOne(ctx, key, rng)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					res.Failed++
					errs = append(errs, fmt.Errorf("%s: %w", key, err))
				} else {
					res.Written++
				}
				return nil
			})
		}
	}
	g.Wait()

	if c.metrics != nil {
		c.metrics.RecordCollectorRun(string(t), len(errs) == 0)
	}
	c.logger.Info("collected closed period",
		zap.String("summary_type", string(t)),
		zap.String("range", rng.String()),
		zap.Int("written", res.Written),
		zap.Int("failed", res.Failed),
	)
	return res, errors.Join(errs...)
}

func (c *Collector) collectOne(ctx context.Context, key models.SummaryKey, rng period.Range) error {
	s, err := c.fetcher.Fetch(ctx, key, rng)
	if err != nil {
		c.logger.Warn("failed to collect period",
			zap.String("client_id", key.ClientID),
			zap.String("platform", string(key.Platform)),
			zap.String("period_id", key.PeriodID()),
			zap.Error(err),
		)
		return err
	}
	s.SetKey(key)
	s.LastUpdated = c.now().UTC()
	_, err = c.writer.Upsert(ctx, s)
	return err
}

// CollectPrevious collects the most recently closed period of type t.
func (c *Collector) CollectPrevious(ctx context.Context, t models.SummaryType) (Result, error) {
	prev := c.resolver.Previous(t, c.now())
	return c.CollectPeriod(ctx, t, prev.Start)
}

// Backfill collects every closed period of type t whose key falls in
// [from, to]. Periods still open are skipped.
func (c *Collector) Backfill(ctx context.Context, t models.SummaryType, from, to time.Time) (Result, error) {
	if to.Before(from) {
		return Result{}, fmt.Errorf("%w: backfill end before start", models.ErrInvalidRange)
	}
	var (
		total Result
		errs  []error
	)
	for d := period.Bounds(t, from).Start; !d.After(to); d = period.Bounds(t, d).End.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		if !c.closed(period.Bounds(t, d)) {
			break
		}
		res, err := c.CollectPeriod(ctx, t, d)
		total.Written += res.Written
		total.Failed += res.Failed
		if err != nil {
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}

func (c *Collector) closed(rng period.Range) bool {
	return rng.End.Before(c.resolver.Today(c.now()))
}

// Start schedules the weekly, monthly and prune jobs.
func (c *Collector) Start(ctx context.Context) error {
	cl := cronLogger{c.logger.Sugar()}
	sched := cron.New(
		cron.WithLocation(c.resolver.Location()),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	jobs := []struct {
		name string
		spec string
		run  func()
	}{
		{"weekly", c.cfg.WeeklySpec, func() { c.CollectPrevious(ctx, models.SummaryWeekly) }},
		{"monthly", c.cfg.MonthlySpec, func() { c.CollectPrevious(ctx, models.SummaryMonthly) }},
		{"prune", c.cfg.PruneSpec, func() { c.prune(ctx) }},
	}
	for _, j := range jobs {
		if j.spec == "" || (j.name == "prune" && c.pruner == nil) {
			continue
		}
		if _, err := sched.AddFunc(j.spec, j.run); err != nil {
			return fmt.Errorf("invalid %s schedule %q: %w", j.name, j.spec, err)
		}
	}

	c.mu.Lock()
	c.cron = sched
	c.mu.Unlock()
	sched.Start()

	c.logger.Info("collector started",
		zap.String("weekly", c.cfg.WeeklySpec),
		zap.String("monthly", c.cfg.MonthlySpec),
		zap.String("prune", c.cfg.PruneSpec),
	)
	return nil
}

// Stop halts scheduling and waits up to the context deadline for running jobs.
func (c *Collector) Stop(ctx context.Context) {
	c.mu.Lock()
	sched := c.cron
	c.cron = nil
	c.mu.Unlock()
	if sched == nil {
		return
	}
	select {
	case <-sched.Stop().Done():
	case <-ctx.Done():
		c.logger.Warn("collector stop timed out waiting for running jobs")
	}
}

func (c *Collector) prune(ctx context.Context) {
	if _, err := c.pruner.PruneStale(ctx, c.now()); err != nil {
		c.logger.Warn("failed to prune cache entries", zap.Error(err))
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
