package insights

import (
	"context"
	"fmt"

	"github.com/radiusdt/insights-cache/internal/clients"
	"github.com/radiusdt/insights-cache/internal/funnel"
	"github.com/radiusdt/insights-cache/internal/models"
	"github.com/radiusdt/insights-cache/internal/period"
	"github.com/radiusdt/insights-cache/internal/platform"
	"go.uber.org/zap"
)

// Pipeline is the live aggregation path: platform source, per-client
// normalizer and campaign aggregator.
type Pipeline struct {
	directory  clients.Directory
	sources    platform.Sources
	normalizer *funnel.Normalizer
	logger     *zap.Logger
}

func NewPipeline(directory clients.Directory, sources platform.Sources, normalizer *funnel.Normalizer, logger *zap.Logger) *Pipeline {
	if normalizer == nil {
		normalizer = funnel.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		directory:  directory,
		sources:    sources,
		normalizer: normalizer,
		logger:     logger,
	}
}

// Fetch aggregates r for key from the platform. Platform failures are
// returned as *models.UpstreamFetchError.
func (p *Pipeline) Fetch(ctx context.Context, key models.SummaryKey, r period.Range) (*models.PeriodSummary, error) {
	client, err := p.directory.Get(ctx, key.ClientID)
	if err != nil {
		return nil, err
	}
	account, err := accountFor(client, key.Platform)
	if err != nil {
		return nil, err
	}
	src, err := p.sources.Get(key.Platform)
	if err != nil {
		return nil, err
	}

	rows, err := src.FetchInsights(ctx, account, r)
	if err != nil {
		return nil, &models.UpstreamFetchError{Platform: key.Platform, ClientID: key.ClientID, Err: err}
	}

	campaigns := BuildCampaigns(p.normalizer.ForClient(client.CustomEvents), rows)
	s := Aggregate(campaigns)
	s.SetKey(key)

	p.logger.Debug("aggregated period",
		zap.String("client_id", key.ClientID),
		zap.String("platform", string(key.Platform)),
		zap.String("period_id", key.PeriodID()),
		zap.String("range", r.String()),
		zap.Int("campaigns", len(campaigns)),
	)
	return s, nil
}

// PeriodResolver answers a period request; *cache.Router implements it.
type PeriodResolver interface {
	Resolve(ctx context.Context, clientID string, platform models.Platform, r period.Range) (*models.PeriodSummary, error)
}

// Service is the caller-facing entry point.
type Service struct {
	directory clients.Directory
	router    PeriodResolver
}

func NewService(directory clients.Directory, router PeriodResolver) *Service {
	return &Service{directory: directory, router: router}
}

// GetPeriodMetrics returns the summary for the period r falls in. The result
// is the same whether it came from the store, the cache or a live fetch.
// A closed period that was never collected yields models.ErrNoData.
func (s *Service) GetPeriodMetrics(ctx context.Context, clientID string, p models.Platform, r period.Range) (*models.PeriodSummary, error) {
	if _, err := models.ParsePlatform(string(p)); err != nil {
		return nil, err
	}
	client, err := s.directory.Get(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if _, err := accountFor(client, p); err != nil {
		return nil, err
	}
	return s.router.Resolve(ctx, client.ID, p, r)
}

func accountFor(c *clients.Client, p models.Platform) (string, error) {
	account := c.AccountID(p)
	if account == "" {
		return "", fmt.Errorf("%w: client %s has no %s account", models.ErrUnsupportedPlatform, c.ID, p)
	}
	return account, nil
}
