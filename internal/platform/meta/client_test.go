package meta

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/radiusdt/insights-cache/internal/config"
	"github.com/radiusdt/insights-cache/internal/models"
	"github.com/radiusdt/insights-cache/internal/period"
	"github.com/radiusdt/insights-cache/internal/platform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig(baseURL string) config.MetaConfig {
	return config.MetaConfig{
		BaseURL:     baseURL,
		APIVersion:  "v19.0",
		AccessToken: "token",
		MaxRetries:  2,
		Timeout:     5 * time.Second,
	}
}

func testRange() period.Range {
	return period.Range{
		Start: time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC),
	}
}

func TestFetchInsightsFollowsPaging(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("after") == "" {
			assert.Equal(t, "/v19.0/act_123/insights", r.URL.Path)
			assert.Equal(t, "campaign", r.URL.Query().Get("level"))
			assert.Equal(t, "token", r.URL.Query().Get("access_token"))
			assert.JSONEq(t, `{"since":"2026-10-12","until":"2026-10-18"}`, r.URL.Query().Get("time_range"))
			json.NewEncoder(w).Encode(map[string]any{
				"data": []map[string]any{{
					"campaign_id":   "c1",
					"campaign_name": "Brand",
					"spend":         "120.50",
					"impressions":   "10000",
					"clicks":        "250",
					"conversions": []map[string]string{
						{"action_type": "purchase", "value": "4"},
						{"action_type": "lead", "value": "2"},
					},
					"actions": []map[string]string{
						{"action_type": "search", "value": "400"},
						{"action_type": "omni_search", "value": "400"},
					},
					"action_values": []map[string]string{
						{"action_type": "purchase", "value": "999.99"},
					},
				}},
				"paging": map[string]string{"next": srv.URL + "/v19.0/act_123/insights?after=abc"},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{
				"campaign_id": "c2", "campaign_name": "Generic",
				"spend": "10", "impressions": "100", "clicks": "1",
			}},
		})
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), srv.Client(), nil, zap.NewNop())
	rows, err := c.FetchInsights(context.Background(), "123", testRange())
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "c1", rows[0].CampaignID)
	assert.Equal(t, "120.50", rows[0].Spend)
	assert.Equal(t, "6", rows[0].Conversions)
	assert.Len(t, rows[0].Actions, 2)
	assert.Equal(t, []models.RawAction{{ActionType: "purchase", Value: "999.99"}}, rows[0].ActionValues)
	assert.Equal(t, "c2", rows[1].CampaignID)
	assert.Equal(t, "0", rows[1].Conversions)
}

func TestFetchInsightsRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"data":[]}`))
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), srv.Client(), nil, zap.NewNop())
	c.req.BaseDelay = time.Millisecond
	rows, err := c.FetchInsights(context.Background(), "act_123", testRange())
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Equal(t, int32(2), calls.Load())
}

func TestFetchInsightsDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"Invalid OAuth access token","code":190}}`))
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), srv.Client(), nil, zap.NewNop())
	_, err := c.FetchInsights(context.Background(), "act_123", testRange())
	require.Error(t, err)

	var se *platform.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestFetchInsightsHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.MaxRetries = 10
	c := New(cfg, srv.Client(), nil, zap.NewNop())
	c.req.BaseDelay = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.FetchInsights(ctx, "act_123", testRange())
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFetchInsightsAcceptsNumericValues(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{
			"campaign_id": 42, "campaign_name": "Brand",
			"spend": 120.5, "impressions": 10000, "clicks": null,
			"conversions": [{"action_type": "purchase", "value": 4}],
			"actions": [
				{"action_type": "search", "value": 400},
				{"action_type": "view_content", "value": {"oops": true}}
			],
			"action_values": [{"action_type": "purchase", "value": 18262}]
		}]}`))
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), srv.Client(), nil, zap.NewNop())
	rows, err := c.FetchInsights(context.Background(), "123", testRange())
	require.NoError(t, err)
	require.Len(t, rows, 1)

	assert.Equal(t, "42", rows[0].CampaignID)
	assert.Equal(t, "120.5", rows[0].Spend)
	assert.Equal(t, "10000", rows[0].Impressions)
	assert.Equal(t, "", rows[0].Clicks)
	assert.Equal(t, "4", rows[0].Conversions)
	assert.Equal(t, []models.RawAction{
		{ActionType: "search", Value: "400"},
		{ActionType: "view_content", Value: ""},
	}, rows[0].Actions)
	assert.Equal(t, []models.RawAction{{ActionType: "purchase", Value: "18262"}}, rows[0].ActionValues)
}

func TestFetchInsightsDoesNotRetryUndecodableBody(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`<html>maintenance</html>`))
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL), srv.Client(), nil, zap.NewNop())
	c.req.BaseDelay = time.Millisecond
	_, err := c.FetchInsights(context.Background(), "123", testRange())
	require.Error(t, err)

	var de *platform.DecodeError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, int32(1), calls.Load())
}
