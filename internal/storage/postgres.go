package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/radiusdt/insights-cache/internal/models"
	"github.com/radiusdt/insights-cache/internal/period"
)

// SQLSTATE codes treated as concurrent-write conflicts.
var conflictCodes = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"23505": true, // unique_violation, racing first inserts
	"55P03": true, // lock_not_available
}

// PostgresSummaryStore implements SummaryStore on the period_summaries table.
type PostgresSummaryStore struct {
	pool *pgxpool.Pool
}

func NewPostgresSummaryStore(pool *pgxpool.Pool) *PostgresSummaryStore {
	return &PostgresSummaryStore{pool: pool}
}

func (r *PostgresSummaryStore) Get(ctx context.Context, key models.SummaryKey) (*models.PeriodSummary, error) {
	var (
		s            models.PeriodSummary
		platform     string
		summaryType  string
		campaignJSON []byte
	)
	err := r.pool.QueryRow(ctx, `
		SELECT client_id, platform, summary_type, summary_date,
			   total_spend, total_impressions, total_clicks, total_conversions,
			   average_ctr, average_cpc,
			   click_to_call, email_contacts,
			   booking_step_1, booking_step_2, booking_step_3,
			   reservations, reservation_value, roas, cost_per_reservation,
			   campaign_data, last_updated
		FROM period_summaries
		WHERE client_id = $1 AND platform = $2 AND summary_type = $3 AND summary_date = $4
	`, key.ClientID, string(key.Platform), string(key.SummaryType), period.Day(key.SummaryDate)).Scan(
		&s.ClientID, &platform, &summaryType, &s.SummaryDate,
		&s.TotalSpend, &s.TotalImpressions, &s.TotalClicks, &s.TotalConversions,
		&s.AverageCTR, &s.AverageCPC,
		&s.ClickToCall, &s.EmailContacts,
		&s.BookingStep1, &s.BookingStep2, &s.BookingStep3,
		&s.Reservations, &s.ReservationValue, &s.ROAS, &s.CostPerReservation,
		&campaignJSON, &s.LastUpdated,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get period summary: %w", err)
	}

	s.Platform = models.Platform(platform)
	s.SummaryType = models.SummaryType(summaryType)
	s.SummaryDate = period.Day(s.SummaryDate)
	s.LastUpdated = s.LastUpdated.UTC()

	s.CampaignData = []models.CampaignInsight{}
	if len(campaignJSON) > 0 {
		if err := json.Unmarshal(campaignJSON, &s.CampaignData); err != nil {
			return nil, fmt.Errorf("failed to parse campaign data: %w", err)
		}
	}
	return &s, nil
}

func (r *PostgresSummaryStore) Upsert(ctx context.Context, s *models.PeriodSummary) error {
	campaigns := s.CampaignData
	if campaigns == nil {
		campaigns = []models.CampaignInsight{}
	}
	campaignJSON, err := json.Marshal(campaigns)
	if err != nil {
		return fmt.Errorf("failed to marshal campaign data: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO period_summaries (
			client_id, platform, summary_type, summary_date,
			total_spend, total_impressions, total_clicks, total_conversions,
			average_ctr, average_cpc,
			click_to_call, email_contacts,
			booking_step_1, booking_step_2, booking_step_3,
			reservations, reservation_value, roas, cost_per_reservation,
			campaign_data, last_updated
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
		ON CONFLICT (client_id, platform, summary_type, summary_date) DO UPDATE SET
			total_spend = EXCLUDED.total_spend,
			total_impressions = EXCLUDED.total_impressions,
			total_clicks = EXCLUDED.total_clicks,
			total_conversions = EXCLUDED.total_conversions,
			average_ctr = EXCLUDED.average_ctr,
			average_cpc = EXCLUDED.average_cpc,
			click_to_call = EXCLUDED.click_to_call,
			email_contacts = EXCLUDED.email_contacts,
			booking_step_1 = EXCLUDED.booking_step_1,
			booking_step_2 = EXCLUDED.booking_step_2,
			booking_step_3 = EXCLUDED.booking_step_3,
			reservations = EXCLUDED.reservations,
			reservation_value = EXCLUDED.reservation_value,
			roas = EXCLUDED.roas,
			cost_per_reservation = EXCLUDED.cost_per_reservation,
			campaign_data = EXCLUDED.campaign_data,
			last_updated = EXCLUDED.last_updated
	`,
		s.ClientID, string(s.Platform), string(s.SummaryType), period.Day(s.SummaryDate),
		s.TotalSpend, s.TotalImpressions, s.TotalClicks, s.TotalConversions,
		s.AverageCTR, s.AverageCPC,
		s.ClickToCall, s.EmailContacts,
		s.BookingStep1, s.BookingStep2, s.BookingStep3,
		s.Reservations, s.ReservationValue, s.ROAS, s.CostPerReservation,
		campaignJSON, s.LastUpdated.UTC().Truncate(time.Microsecond),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && conflictCodes[pgErr.Code] {
			return fmt.Errorf("failed to upsert period summary: %w: %s", models.ErrWriteConflict, pgErr.Message)
		}
		return fmt.Errorf("failed to upsert period summary: %w", err)
	}
	return nil
}
