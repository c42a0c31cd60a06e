// Package cache routes period metric requests to the durable store, a fresh
// cached snapshot or a single live re-aggregation per key.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/radiusdt/insights-cache/internal/metrics"
	"github.com/radiusdt/insights-cache/internal/models"
	"github.com/radiusdt/insights-cache/internal/period"
	"go.uber.org/zap"
)

// State is the lifecycle position of one cache key.
type State int

const (
	StateEmpty State = iota
	StateFetching
	StateReady
)

func (s State) String() string {
	switch s {
	case StateFetching:
		return "FETCHING"
	case StateReady:
		return "READY"
	default:
		return "EMPTY"
	}
}

// Fetcher runs the live pipeline for one key: platform source, normalizer
// and aggregator. The returned summary need not carry identifying fields.
type Fetcher interface {
	Fetch(ctx context.Context, key models.SummaryKey, r period.Range) (*models.PeriodSummary, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, key models.SummaryKey, r period.Range) (*models.PeriodSummary, error)

func (f FetcherFunc) Fetch(ctx context.Context, key models.SummaryKey, r period.Range) (*models.PeriodSummary, error) {
	return f(ctx, key, r)
}

// SummaryGateway is the durable summary store as the router sees it.
type SummaryGateway interface {
	Get(ctx context.Context, key models.SummaryKey) (*models.PeriodSummary, error)
	Upsert(ctx context.Context, s *models.PeriodSummary) (*models.PeriodSummary, error)
}

// Options tunes the router.
type Options struct {
	TTL          time.Duration
	FetchTimeout time.Duration
	ClaimTTL     time.Duration
	ClaimWait    time.Duration
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = 30 * time.Minute
	}
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = 2 * time.Minute
	}
	if o.ClaimTTL < o.FetchTimeout {
		o.ClaimTTL = o.FetchTimeout + 30*time.Second
	}
	if o.ClaimWait <= 0 {
		o.ClaimWait = 250 * time.Millisecond
	}
	return o
}

// flight is one in-progress fetch. val and err are written before done closes.
type flight struct {
	done chan struct{}
	val  *models.PeriodSummary
	err  error
}

// keyState is the in-process view of one cache key. Each key has its own
// lock; distinct keys never contend.
type keyState struct {
	key models.SummaryKey

	mu        sync.Mutex
	flight    *flight
	attempt   uint64
	committed uint64
	snapshot  *models.CacheEntry
}

// observe installs e as the snapshot when it is newer than the current one.
func (st *keyState) observe(e *models.CacheEntry) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.snapshot == nil || supersedes(e, st.snapshot) {
		st.snapshot = e
	}
}

// Router is the smart cache router.
type Router struct {
	resolver *period.Resolver
	store    SummaryGateway
	entries  EntryStore
	claimer  Claimer
	fetcher  Fetcher
	opts     Options
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time

	states sync.Map // string -> *keyState
}

// Config wires a Router. Entries and Claimer default to in-process versions.
type Config struct {
	Resolver *period.Resolver
	Store    SummaryGateway
	Entries  EntryStore
	Claimer  Claimer
	Fetcher  Fetcher
	Options  Options
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
	Now      func() time.Time
}

func NewRouter(cfg Config) *Router {
	r := &Router{
		resolver: cfg.Resolver,
		store:    cfg.Store,
		entries:  cfg.Entries,
		claimer:  cfg.Claimer,
		fetcher:  cfg.Fetcher,
		opts:     cfg.Options.withDefaults(),
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}
	if r.resolver == nil {
		r.resolver = period.NewResolver(time.UTC)
	}
	if r.entries == nil {
		r.entries = NewMemoryEntryStore()
	}
	if r.claimer == nil {
		r.claimer = LocalClaimer{}
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Resolve returns the summary for the period rng falls in. Closed periods
// come only from the durable store; a missing row is models.ErrNoData.
func (r *Router) Resolve(ctx context.Context, clientID string, platform models.Platform, rng period.Range) (*models.PeriodSummary, error) {
	now := r.now()
	c, err := r.resolver.Classify(rng, now)
	if err != nil {
		return nil, err
	}
	key := models.SummaryKey{
		ClientID:    clientID,
		Platform:    platform,
		SummaryType: c.Type,
		SummaryDate: c.Key,
	}

	if !c.IsCurrent {
		return r.historical(ctx, key)
	}

	// The current period is fetched from its first day up to today, so every
	// caller sharing the key sees the same period-to-date aggregate.
	fetchRange := period.Bounds(c.Type, c.Key)
	if today := r.resolver.Today(now); today.Before(fetchRange.End) {
		fetchRange.End = today
	}
	return r.current(ctx, key, fetchRange)
}

func (r *Router) historical(ctx context.Context, key models.SummaryKey) (*models.PeriodSummary, error) {
	s, err := r.store.Get(ctx, key)
	if errors.Is(err, models.ErrNotFound) {
		r.record(key, "no_data")
		return nil, fmt.Errorf("%s: %w", key, models.ErrNoData)
	}
	if err != nil {
		return nil, err
	}
	r.record(key, "historical")
	return s, nil
}

func (r *Router) current(ctx context.Context, key models.SummaryKey, rng period.Range) (*models.PeriodSummary, error) {
	ck := key.String()
	st := r.state(key)

	st.mu.Lock()
	snap := st.snapshot
	st.mu.Unlock()

	// Another replica may have refreshed the shared entry.
	if !snap.Fresh(r.now(), r.opts.TTL) {
		e, err := r.entries.Get(ctx, ck)
		switch {
		case err == nil:
			st.observe(e)
		case !errors.Is(err, models.ErrNotFound):
			r.logger.Warn("failed to read cache entry",
				zap.String("key", ck),
				zap.Error(err),
			)
		}
	}

	st.mu.Lock()
	if st.snapshot.Fresh(r.now(), r.opts.TTL) {
		data := st.snapshot.Data.Clone()
		st.mu.Unlock()
		r.record(key, "fresh")
		return data, nil
	}

	if f := st.flight; f != nil {
		snap := st.snapshot
		st.mu.Unlock()
		if snap != nil {
			r.record(key, "stale")
			return snap.Data.Clone(), nil
		}
		return r.wait(ctx, key, f)
	}

	st.attempt++
	f := &flight{done: make(chan struct{})}
	st.flight = f
	attempt := st.attempt
	snap = st.snapshot
	st.mu.Unlock()

	// The fetch outlives the caller that started it; waiters and the
	// durable store still get the result.
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opts.FetchTimeout)
	go func() {
		defer cancel()
		r.run(fetchCtx, st, f, attempt, snap, rng)
	}()

	return r.wait(ctx, key, f)
}

func (r *Router) wait(ctx context.Context, key models.SummaryKey, f *flight) (*models.PeriodSummary, error) {
	start := r.now()
	select {
	case <-f.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if r.metrics != nil {
		r.metrics.RecordWait(string(key.Platform), r.now().Sub(start))
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.val.Clone(), nil
}

// run performs one fetch for st and publishes its outcome on f.
func (r *Router) run(ctx context.Context, st *keyState, f *flight, attempt uint64, snap *models.CacheEntry, rng period.Range) {
	defer func() {
		st.mu.Lock()
		st.flight = nil
		st.mu.Unlock()
		close(f.done)
	}()

	key := st.key
	ck := key.String()
	log := r.logger.With(
		zap.String("client_id", key.ClientID),
		zap.String("platform", string(key.Platform)),
		zap.String("period_id", key.PeriodID()),
		zap.Uint64("attempt", attempt),
	)

	token, served, err := r.claim(ctx, st, snap)
	if err != nil {
		f.val, f.err = r.fail(key, snap, err, log)
		return
	}
	if served != nil {
		f.val = served
		return
	}
	defer func() {
		if err := r.claimer.Release(context.WithoutCancel(ctx), ck, token); err != nil {
			log.Warn("failed to release fetch claim", zap.Error(err))
		}
	}()

	startedAt := r.now().UTC()
	summary, err := r.fetcher.Fetch(ctx, key, rng)
	if r.metrics != nil {
		r.metrics.RecordUpstreamFetch(string(key.Platform), err == nil, r.now().Sub(startedAt))
	}
	if err != nil {
		f.val, f.err = r.fail(key, snap, err, log)
		return
	}

	summary.SetKey(key)
	summary.LastUpdated = r.now().UTC()
	row := summary.Rounded()

	entry := &models.CacheEntry{
		ClientID:    key.ClientID,
		Platform:    key.Platform,
		PeriodID:    key.PeriodID(),
		Data:        *row.Clone(),
		LastUpdated: row.LastUpdated,
		Attempt:     attempt,
		StartedAt:   startedAt,
	}

	st.mu.Lock()
	if attempt > st.committed {
		st.committed = attempt
		st.snapshot = entry
	}
	st.mu.Unlock()

	if ok, err := r.entries.Commit(ctx, ck, entry); err != nil {
		log.Warn("failed to commit cache entry", zap.Error(err))
	} else if !ok {
		log.Debug("cache entry superseded by a later fetch")
	}

	// A failed durable write is logged; the caller still gets the value.
	if _, err := r.store.Upsert(ctx, row); err != nil {
		log.Error("failed to persist period summary", zap.Error(err))
	}

	r.record(key, "fetched")
	log.Info("period summary refreshed",
		zap.Int("campaigns", len(row.CampaignData)),
		zap.Duration("duration", r.now().Sub(startedAt)),
	)
	f.val = row
}

// claim takes the cross-replica claim. When another replica holds it, the
// prior snapshot is served, or the shared entry is polled until that
// replica commits or its claim lapses.
func (r *Router) claim(ctx context.Context, st *keyState, snap *models.CacheEntry) (string, *models.PeriodSummary, error) {
	ck := st.key.String()
	for {
		token, ok, err := r.claimer.Claim(ctx, ck, r.opts.ClaimTTL)
		if err != nil {
			r.logger.Warn("fetch claim unavailable, fetching without it",
				zap.String("key", ck),
				zap.Error(err),
			)
			return "", nil, nil
		}
		if ok {
			return token, nil, nil
		}
		if snap != nil {
			r.record(st.key, "stale")
			return "", snap.Data.Clone(), nil
		}

		t := time.NewTimer(r.opts.ClaimWait)
		select {
		case <-ctx.Done():
			t.Stop()
			return "", nil, ctx.Err()
		case <-t.C:
		}

		e, err := r.entries.Get(ctx, ck)
		if err == nil && e.Fresh(r.now(), r.opts.TTL) {
			st.observe(e)
			r.record(st.key, "fresh")
			return "", e.Data.Clone(), nil
		}
	}
}

// fail maps a fetch error to the caller outcome: the prior snapshot when one
// exists, otherwise an UpstreamFetchError.
func (r *Router) fail(key models.SummaryKey, snap *models.CacheEntry, err error, log *zap.Logger) (*models.PeriodSummary, error) {
	if snap != nil {
		log.Warn("fetch failed, serving stale snapshot",
			zap.Time("snapshot_updated", snap.LastUpdated),
			zap.Error(err),
		)
		r.record(key, "stale")
		return snap.Data.Clone(), nil
	}
	log.Error("fetch failed", zap.Error(err))
	r.record(key, "error")
	if models.IsUpstream(err) {
		return nil, err
	}
	return nil, &models.UpstreamFetchError{Platform: key.Platform, ClientID: key.ClientID, Err: err}
}

// State reports the lifecycle state of the cache key for key.
func (r *Router) State(key models.SummaryKey) State {
	v, ok := r.states.Load(key.String())
	if !ok {
		return StateEmpty
	}
	st := v.(*keyState)
	st.mu.Lock()
	defer st.mu.Unlock()
	switch {
	case st.flight != nil:
		return StateFetching
	case st.snapshot != nil:
		return StateReady
	default:
		return StateEmpty
	}
}

// PruneStale drops state and entries for periods that are no longer current
// at now. Keys with a fetch in flight are kept.
func (r *Router) PruneStale(ctx context.Context, now time.Time) (int, error) {
	removed, remaining := 0, 0
	r.states.Range(func(k, v any) bool {
		st := v.(*keyState)
		st.mu.Lock()
		busy := st.flight != nil
		st.mu.Unlock()
		if !busy && !r.isCurrent(st.key.SummaryType, st.key.SummaryDate, now) {
			r.states.Delete(k)
			removed++
		} else {
			remaining++
		}
		return true
	})

	pruned, err := r.entries.Prune(ctx, func(e *models.CacheEntry) bool {
		t, d, err := models.ParsePeriodID(e.PeriodID)
		return err == nil && r.isCurrent(t, d, now)
	})
	if r.metrics != nil {
		r.metrics.RecordPruned(pruned, remaining)
	}
	if err != nil {
		return removed, err
	}
	if removed > 0 || pruned > 0 {
		r.logger.Info("pruned orphaned cache entries",
			zap.Int("states", removed),
			zap.Int("entries", pruned),
		)
	}
	return removed + pruned, nil
}

func (r *Router) isCurrent(t models.SummaryType, key time.Time, now time.Time) bool {
	c, err := r.resolver.Classify(period.Bounds(t, key), now)
	return err == nil && c.IsCurrent
}

func (r *Router) state(key models.SummaryKey) *keyState {
	ck := key.String()
	if v, ok := r.states.Load(ck); ok {
		return v.(*keyState)
	}
	v, _ := r.states.LoadOrStore(ck, &keyState{key: key})
	return v.(*keyState)
}

func (r *Router) record(key models.SummaryKey, result string) {
	if r.metrics != nil {
		r.metrics.RecordLookup(string(key.Platform), result)
	}
}
