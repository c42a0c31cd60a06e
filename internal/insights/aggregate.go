package insights

import (
	"github.com/radiusdt/insights-cache/internal/funnel"
	"github.com/radiusdt/insights-cache/internal/models"
)

// BuildCampaigns converts raw platform rows into typed campaign insights,
// normalizing each campaign's actions independently.
func BuildCampaigns(n *funnel.Normalizer, rows []models.RawInsight) []models.CampaignInsight {
	out := make([]models.CampaignInsight, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.CampaignInsight{
			CampaignID:    r.CampaignID,
			CampaignName:  r.CampaignName,
			Spend:         models.ParseAmount(r.Spend),
			Impressions:   models.ParseCount(r.Impressions),
			Clicks:        models.ParseCount(r.Clicks),
			Conversions:   models.ParseCount(r.Conversions),
			FunnelMetrics: n.Normalize(r.Actions, r.ActionValues),
		})
	}
	return out
}

// Aggregate sums campaign metrics into a summary. Identifying fields are left
// for the caller. Nothing is rounded here.
func Aggregate(campaigns []models.CampaignInsight) *models.PeriodSummary {
	s := &models.PeriodSummary{
		CampaignData: make([]models.CampaignInsight, len(campaigns)),
	}
	copy(s.CampaignData, campaigns)

	var f models.FunnelMetrics
	for _, c := range campaigns {
		s.TotalSpend += c.Spend
		s.TotalImpressions += c.Impressions
		s.TotalClicks += c.Clicks
		s.TotalConversions += c.Conversions
		f = f.Add(c.FunnelMetrics)
	}

	s.BookingStep1 = f.BookingStep1
	s.BookingStep2 = f.BookingStep2
	s.BookingStep3 = f.BookingStep3
	s.Reservations = f.Reservations
	s.ReservationValue = f.ReservationValue
	s.ClickToCall = f.ClickToCall
	s.EmailContacts = f.EmailContacts

	calculateDerivedMetrics(s)
	return s
}

func calculateDerivedMetrics(s *models.PeriodSummary) {
	// CTR
	if s.TotalImpressions > 0 {
		s.AverageCTR = float64(s.TotalClicks) / float64(s.TotalImpressions) * 100
	}

	// CPC
	if s.TotalClicks > 0 {
		s.AverageCPC = s.TotalSpend / float64(s.TotalClicks)
	}

	// ROAS
	if s.TotalSpend > 0 {
		s.ROAS = s.ReservationValue / s.TotalSpend
	}

	// Cost per reservation
	if s.Reservations > 0 {
		s.CostPerReservation = s.TotalSpend / float64(s.Reservations)
	}
}
