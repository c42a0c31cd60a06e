package collector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/radiusdt/insights-cache/internal/cache"
	"github.com/radiusdt/insights-cache/internal/clients"
	"github.com/radiusdt/insights-cache/internal/config"
	"github.com/radiusdt/insights-cache/internal/models"
	"github.com/radiusdt/insights-cache/internal/period"
	"github.com/radiusdt/insights-cache/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var now = time.Date(2026, 10, 15, 10, 0, 0, 0, time.UTC)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type recorder struct {
	mu     sync.Mutex
	ranges map[string]period.Range
	fail   map[string]bool
}

func (r *recorder) fetch(ctx context.Context, key models.SummaryKey, rng period.Range) (*models.PeriodSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail[key.ClientID] {
		return nil, &models.UpstreamFetchError{Platform: key.Platform, Err: errors.New("boom")}
	}
	r.ranges[key.String()] = rng
	return &models.PeriodSummary{TotalSpend: 10.005, TotalClicks: 3}, nil
}

type pruner struct {
	calls int
}

func (p *pruner) PruneStale(ctx context.Context, now time.Time) (int, error) {
	p.calls++
	return 0, nil
}

type fixture struct {
	c     *Collector
	rec   *recorder
	store *storage.InMemorySummaryStore
}

func newFixture(t *testing.T, concurrency int) *fixture {
	t.Helper()
	dir := clients.NewStaticDirectory(
		&clients.Client{ID: "hotel-sol", MetaAccountID: "act_1", GoogleCustomerID: "111-222-3333"},
		&clients.Client{ID: "casa-azul", MetaAccountID: "act_2"},
	)
	rec := &recorder{ranges: map[string]period.Range{}, fail: map[string]bool{}}
	store := storage.NewInMemorySummaryStore()
	gw := storage.NewGateway(store, nil, nil, zap.NewNop())
	c := New(dir, cache.FetcherFunc(rec.fetch), gw, &pruner{}, period.NewResolver(time.UTC),
		config.CollectorConfig{Concurrency: concurrency, WeeklySpec: "30 3 * * 1", MonthlySpec: "45 3 1 * *", PruneSpec: "@hourly"},
		nil, zap.NewNop())
	c.now = func() time.Time { return now }
	return &fixture{c: c, rec: rec, store: store}
}

func TestCollectPreviousWeekly(t *testing.T) {
	f := newFixture(t, 2)
	ctx := context.Background()

	res, err := f.c.CollectPrevious(ctx, models.SummaryWeekly)
	require.NoError(t, err)
	assert.Equal(t, Result{Written: 3}, res)
	assert.Equal(t, 3, f.store.Len())

	key := models.SummaryKey{
		ClientID: "hotel-sol", Platform: models.PlatformGoogle,
		SummaryType: models.SummaryWeekly, SummaryDate: day(2026, 10, 5),
	}
	assert.Equal(t, period.Range{Start: day(2026, 10, 5), End: day(2026, 10, 11)}, f.rec.ranges[key.String()])

	s, err := f.store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 10.01, s.TotalSpend)
	assert.Equal(t, now, s.LastUpdated)
}

func TestCollectPreviousMonthly(t *testing.T) {
	f := newFixture(t, 1)

	_, err := f.c.CollectPrevious(context.Background(), models.SummaryMonthly)
	require.NoError(t, err)

	key := models.SummaryKey{
		ClientID: "casa-azul", Platform: models.PlatformMeta,
		SummaryType: models.SummaryMonthly, SummaryDate: day(2026, 9, 1),
	}
	assert.Equal(t, period.Range{Start: day(2026, 9, 1), End: day(2026, 9, 30)}, f.rec.ranges[key.String()])
}

func TestCollectPeriodRejectsOpenPeriod(t *testing.T) {
	f := newFixture(t, 1)

	_, err := f.c.CollectPeriod(context.Background(), models.SummaryWeekly, day(2026, 10, 14))
	assert.ErrorIs(t, err, models.ErrInvalidRange)
	_, err = f.c.CollectPeriod(context.Background(), models.SummaryMonthly, day(2026, 11, 3))
	assert.ErrorIs(t, err, models.ErrInvalidRange)
	assert.Zero(t, f.store.Len())
}

func TestCollectPeriodContinuesPastFailures(t *testing.T) {
	f := newFixture(t, 4)
	f.rec.fail["hotel-sol"] = true

	res, err := f.c.CollectPeriod(context.Background(), models.SummaryWeekly, day(2026, 10, 7))
	require.Error(t, err)
	assert.True(t, models.IsUpstream(err))
	assert.Equal(t, Result{Written: 1, Failed: 2}, res)
	assert.Equal(t, 1, f.store.Len())
}

func TestBackfillStopsAtOpenPeriod(t *testing.T) {
	f := newFixture(t, 3)

	res, err := f.c.Backfill(context.Background(), models.SummaryWeekly, day(2026, 9, 23), day(2026, 10, 31))
	require.NoError(t, err)

	// weeks of 09-21, 09-28 and 10-05 are closed, 10-12 is open
	assert.Equal(t, Result{Written: 9}, res)
	assert.Equal(t, 9, f.store.Len())

	_, err = f.store.Get(context.Background(), models.SummaryKey{
		ClientID: "casa-azul", Platform: models.PlatformMeta,
		SummaryType: models.SummaryWeekly, SummaryDate: day(2026, 9, 21),
	})
	assert.NoError(t, err)
}

func TestBackfillRejectsInvertedRange(t *testing.T) {
	f := newFixture(t, 1)
	_, err := f.c.Backfill(context.Background(), models.SummaryMonthly, day(2026, 9, 1), day(2026, 8, 1))
	assert.ErrorIs(t, err, models.ErrInvalidRange)
}

func TestStartRejectsBadSchedule(t *testing.T) {
	f := newFixture(t, 1)
	f.c.cfg.WeeklySpec = "every tuesday"
	assert.Error(t, f.c.Start(context.Background()))
}

func TestStartStop(t *testing.T) {
	f := newFixture(t, 1)
	require.NoError(t, f.c.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	f.c.Stop(ctx)
	// a second stop is a no-op
	f.c.Stop(ctx)
}
