package platform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/radiusdt/insights-cache/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// HTTPClient is the subset of *http.Client the sources use.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// StatusError is a non-2xx platform response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the request may succeed when repeated.
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Requester performs rate-limited JSON calls with exponential backoff and jitter.
type Requester struct {
	Platform   string
	Client     HTTPClient
	Limiter    *rate.Limiter
	MaxRetries int
	BaseDelay  time.Duration
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

// NewRequester returns a Requester allowing rps requests per second with burst.
func NewRequester(platform string, client HTTPClient, rps float64, burst, maxRetries int, logger *zap.Logger) *Requester {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	if burst < 1 {
		burst = 1
	}
	return &Requester{
		Platform:   platform,
		Client:     client,
		Limiter:    rate.NewLimiter(limit, burst),
		MaxRetries: maxRetries,
		BaseDelay:  200 * time.Millisecond,
		Logger:     logger,
	}
}

// DecodeError is a 2xx response whose body could not be decoded. Repeating
// the request would return the same body, so it is never retried.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return "failed to decode response: " + e.Err.Error() }

func (e *DecodeError) Unwrap() error { return e.Err }

// DoJSON sends the request produced by build and decodes a 2xx body into dst.
// build is called once per attempt so request bodies can be replayed.
func (r *Requester) DoJSON(ctx context.Context, build func(ctx context.Context) (*http.Request, error), dst any) error {
	var lastErr error
	for attempt := 0; attempt <= r.MaxRetries; attempt++ {
		if attempt > 0 {
			if r.Metrics != nil {
				r.Metrics.RecordUpstreamRetry(r.Platform)
			}
			if err := sleep(ctx, r.backoff(attempt)); err != nil {
				return err
			}
		}
		if err := r.Limiter.Wait(ctx); err != nil {
			return err
		}

		req, err := build(ctx)
		if err != nil {
			return fmt.Errorf("failed to build request: %w", err)
		}
		err = r.do(req, dst)
		if err == nil {
			return nil
		}
		lastErr = err

		var se *StatusError
		if errors.As(err, &se) && !se.Retryable() {
			return err
		}
		var de *DecodeError
		if errors.As(err, &de) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.Logger.Warn("platform request failed",
			zap.String("platform", r.Platform),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
	return lastErr
}

func (r *Requester) do(req *http.Request, dst any) error {
	resp, err := r.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return &DecodeError{Err: err}
	}
	return nil
}

// backoff is exponential in the attempt number plus up to half a base of jitter.
func (r *Requester) backoff(attempt int) time.Duration {
	d := time.Duration(1<<(attempt-1)) * r.BaseDelay
	if half := int64(r.BaseDelay / 2); half > 0 {
		d += time.Duration(rand.Int63n(half))
	}
	return d
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
