// Package meta reads campaign insights from the Meta Graph API.
package meta

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/radiusdt/insights-cache/internal/config"
	"github.com/radiusdt/insights-cache/internal/metrics"
	"github.com/radiusdt/insights-cache/internal/models"
	"github.com/radiusdt/insights-cache/internal/period"
	"github.com/radiusdt/insights-cache/internal/platform"
	"go.uber.org/zap"
)

const (
	insightFields = "campaign_id,campaign_name,spend,impressions,clicks,conversions,actions,action_values"
	pageLimit     = 500
	// maxPages guards against a paging cursor that never ends.
	maxPages = 200
)

// Client is a platform.Source backed by the Graph insights edge.
type Client struct {
	baseURL     string
	version     string
	accessToken string
	req         *platform.Requester
	logger      *zap.Logger
}

// New builds a client from cfg. httpClient may be nil.
func New(cfg config.MetaConfig, httpClient platform.HTTPClient, m *metrics.Metrics, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	req := platform.NewRequester(string(models.PlatformMeta), httpClient, cfg.RPS, cfg.Burst, cfg.MaxRetries, logger)
	req.Metrics = m
	return &Client{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		version:     cfg.APIVersion,
		accessToken: cfg.AccessToken,
		req:         req,
		logger:      logger,
	}
}

func (c *Client) Platform() models.Platform { return models.PlatformMeta }

type insightsPage struct {
	Data   []insightRow `json:"data"`
	Paging struct {
		Next string `json:"next"`
	} `json:"paging"`
}

type insightRow struct {
	CampaignID   models.LenientValue `json:"campaign_id"`
	CampaignName string              `json:"campaign_name"`
	Spend        models.LenientValue `json:"spend"`
	Impressions  models.LenientValue `json:"impressions"`
	Clicks       models.LenientValue `json:"clicks"`
	Conversions  []models.RawAction  `json:"conversions"`
	Actions      []models.RawAction  `json:"actions"`
	ActionValues []models.RawAction  `json:"action_values"`
}

// FetchInsights returns one row per campaign for the account over r.
func (c *Client) FetchInsights(ctx context.Context, accountID string, r period.Range) ([]models.RawInsight, error) {
	next := c.firstPageURL(accountID, r)
	var out []models.RawInsight

	for page := 0; next != ""; page++ {
		if page >= maxPages {
			return nil, fmt.Errorf("meta insights for %s exceeded %d pages", accountID, maxPages)
		}
		pageURL := next
		var p insightsPage
		err := c.req.DoJSON(ctx, func(ctx context.Context) (*http.Request, error) {
			return http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
		}, &p)
		if err != nil {
			return nil, fmt.Errorf("meta insights for %s: %w", accountID, err)
		}
		for _, row := range p.Data {
			out = append(out, row.toRaw())
		}
		next = p.Paging.Next
	}

	c.logger.Debug("fetched meta insights",
		zap.String("account_id", accountID),
		zap.String("range", r.String()),
		zap.Int("campaigns", len(out)),
	)
	return out, nil
}

func (c *Client) firstPageURL(accountID string, r period.Range) string {
	if !strings.HasPrefix(accountID, "act_") {
		accountID = "act_" + accountID
	}
	timeRange, _ := json.Marshal(map[string]string{
		"since": r.Start.Format(time.DateOnly),
		"until": r.End.Format(time.DateOnly),
	})

	q := url.Values{}
	q.Set("level", "campaign")
	q.Set("fields", insightFields)
	q.Set("time_range", string(timeRange))
	q.Set("limit", strconv.Itoa(pageLimit))
	q.Set("access_token", c.accessToken)
	return fmt.Sprintf("%s/%s/%s/insights?%s", c.baseURL, c.version, accountID, q.Encode())
}

func (row insightRow) toRaw() models.RawInsight {
	var conversions float64
	for _, a := range row.Conversions {
		conversions += models.ParseAmount(a.Value)
	}
	return models.RawInsight{
		CampaignID:   string(row.CampaignID),
		CampaignName: row.CampaignName,
		Spend:        string(row.Spend),
		Impressions:  string(row.Impressions),
		Clicks:       string(row.Clicks),
		Conversions:  strconv.FormatFloat(conversions, 'f', -1, 64),
		Actions:      row.Actions,
		ActionValues: row.ActionValues,
	}
}
