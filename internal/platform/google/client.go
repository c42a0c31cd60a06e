// Package google reads campaign metrics from the Google Ads REST searchStream
// endpoint and maps conversion actions onto raw actions.
package google

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
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

const campaignQuery = `SELECT campaign.id, campaign.name, metrics.cost_micros, metrics.impressions, metrics.clicks, metrics.conversions
FROM campaign
WHERE segments.date BETWEEN '%s' AND '%s'`

const conversionQuery = `SELECT campaign.id, segments.conversion_action_name, metrics.all_conversions, metrics.all_conversions_value
FROM campaign
WHERE segments.date BETWEEN '%s' AND '%s' AND metrics.all_conversions > 0`

// Client is a platform.Source backed by googleAds:searchStream.
type Client struct {
	baseURL         string
	version         string
	developerToken  string
	accessToken     string
	loginCustomerID string
	req             *platform.Requester
	logger          *zap.Logger
}

// New builds a client from cfg. httpClient may be nil.
func New(cfg config.GoogleConfig, httpClient platform.HTTPClient, m *metrics.Metrics, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	req := platform.NewRequester(string(models.PlatformGoogle), httpClient, cfg.RPS, cfg.Burst, cfg.MaxRetries, logger)
	req.Metrics = m
	return &Client{
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		version:         cfg.APIVersion,
		developerToken:  cfg.DeveloperToken,
		accessToken:     cfg.AccessToken,
		loginCustomerID: strings.ReplaceAll(cfg.LoginCustomerID, "-", ""),
		req:             req,
		logger:          logger,
	}
}

func (c *Client) Platform() models.Platform { return models.PlatformGoogle }

type streamBatch struct {
	Results []streamRow `json:"results"`
}

type streamRow struct {
	Campaign struct {
		ID   models.LenientValue `json:"id"`
		Name string              `json:"name"`
	} `json:"campaign"`
	Segments struct {
		ConversionActionName string `json:"conversionActionName"`
	} `json:"segments"`
	Metrics struct {
		CostMicros          models.LenientValue `json:"costMicros"`
		Impressions         models.LenientValue `json:"impressions"`
		Clicks              models.LenientValue `json:"clicks"`
		Conversions         models.LenientValue `json:"conversions"`
		AllConversions      models.LenientValue `json:"allConversions"`
		AllConversionsValue models.LenientValue `json:"allConversionsValue"`
	} `json:"metrics"`
}

// FetchInsights returns one row per campaign for the customer over r.
func (c *Client) FetchInsights(ctx context.Context, customerID string, r period.Range) ([]models.RawInsight, error) {
	customerID = strings.ReplaceAll(customerID, "-", "")
	since, until := r.Start.Format(time.DateOnly), r.End.Format(time.DateOnly)

	campaigns, err := c.search(ctx, customerID, fmt.Sprintf(campaignQuery, since, until))
	if err != nil {
		return nil, fmt.Errorf("google campaign metrics for %s: %w", customerID, err)
	}
	conversions, err := c.search(ctx, customerID, fmt.Sprintf(conversionQuery, since, until))
	if err != nil {
		return nil, fmt.Errorf("google conversion actions for %s: %w", customerID, err)
	}

	out := make([]models.RawInsight, 0, len(campaigns))
	index := make(map[string]int, len(campaigns))
	for _, row := range campaigns {
		id := string(row.Campaign.ID)
		if i, ok := index[id]; ok {
			// searchStream may split one campaign across rows; fold them.
			out[i] = mergeMetrics(out[i], row)
			continue
		}
		index[id] = len(out)
		out = append(out, models.RawInsight{
			CampaignID:   id,
			CampaignName: row.Campaign.Name,
			Spend:        microsToAmount(row.Metrics.CostMicros),
			Impressions:  string(row.Metrics.Impressions),
			Clicks:       string(row.Metrics.Clicks),
			Conversions:  string(row.Metrics.Conversions),
		})
	}

	for _, row := range conversions {
		i, ok := index[string(row.Campaign.ID)]
		if !ok {
			continue
		}
		actionType := actionTypeFor(row.Segments.ConversionActionName)
		if actionType == "" {
			continue
		}
		out[i].Actions = append(out[i].Actions, models.RawAction{
			ActionType: actionType,
			Value:      string(row.Metrics.AllConversions),
		})
		if v := string(row.Metrics.AllConversionsValue); v != "" {
			out[i].ActionValues = append(out[i].ActionValues, models.RawAction{
				ActionType: actionType,
				Value:      v,
			})
		}
	}

	c.logger.Debug("fetched google insights",
		zap.String("customer_id", customerID),
		zap.String("range", r.String()),
		zap.Int("campaigns", len(out)),
	)
	return out, nil
}

func (c *Client) search(ctx context.Context, customerID, query string) ([]streamRow, error) {
	body, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return nil, err
	}
	endpoint := fmt.Sprintf("%s/%s/customers/%s/googleAds:searchStream", c.baseURL, c.version, customerID)

	var batches []streamBatch
	err = c.req.DoJSON(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
		req.Header.Set("developer-token", c.developerToken)
		if c.loginCustomerID != "" {
			req.Header.Set("login-customer-id", c.loginCustomerID)
		}
		return req, nil
	}, &batches)
	if err != nil {
		return nil, err
	}

	var rows []streamRow
	for _, b := range batches {
		rows = append(rows, b.Results...)
	}
	return rows, nil
}

// actionTypeFor turns a conversion action display name into an action type
// the funnel rules understand, e.g. "Phone Call" -> "phone_call".
func actionTypeFor(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.Join(strings.Fields(name), "_")
}

func microsToAmount(n models.LenientValue) string {
	return strconv.FormatFloat(models.ParseAmount(string(n))/1e6, 'f', -1, 64)
}

func mergeMetrics(dst models.RawInsight, row streamRow) models.RawInsight {
	sum := func(a, b string) string {
		return strconv.FormatFloat(models.ParseAmount(a)+models.ParseAmount(b), 'f', -1, 64)
	}
	dst.Spend = sum(dst.Spend, microsToAmount(row.Metrics.CostMicros))
	dst.Impressions = sum(dst.Impressions, string(row.Metrics.Impressions))
	dst.Clicks = sum(dst.Clicks, string(row.Metrics.Clicks))
	dst.Conversions = sum(dst.Conversions, string(row.Metrics.Conversions))
	return dst
}
