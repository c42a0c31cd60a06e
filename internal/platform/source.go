// Package platform defines the ad-platform data sources and the HTTP
// plumbing they share.
package platform

import (
	"context"
	"fmt"

	"github.com/radiusdt/insights-cache/internal/models"
	"github.com/radiusdt/insights-cache/internal/period"
)

// Source returns campaign-level raw insights for one ad account.
type Source interface {
	Platform() models.Platform
	FetchInsights(ctx context.Context, accountID string, r period.Range) ([]models.RawInsight, error)
}

// Sources indexes the configured sources by platform.
type Sources map[models.Platform]Source

// NewSources builds a Sources from the given list; nil entries are skipped.
func NewSources(list ...Source) Sources {
	out := make(Sources, len(list))
	for _, s := range list {
		if s != nil {
			out[s.Platform()] = s
		}
	}
	return out
}

// Get returns the source for p or ErrUnsupportedPlatform.
func (s Sources) Get(p models.Platform) (Source, error) {
	src, ok := s[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s not configured", models.ErrUnsupportedPlatform, p)
	}
	return src, nil
}
