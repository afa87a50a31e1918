package engagement

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// StatField names one counter in a daily stats bucket
type StatField string

const (
	StatEmailsSent      StatField = "emails_sent"
	StatEmailsDelivered StatField = "emails_delivered"
	StatEmailsOpened    StatField = "emails_opened"
	StatUniqueOpens     StatField = "unique_opens"
	StatEmailsClicked   StatField = "emails_clicked"
	StatUniqueClicks    StatField = "unique_clicks"
	StatEmailsBounced   StatField = "emails_bounced"
)

// statColumns whitelists the counter columns that Increment may touch.
// The field name is interpolated into SQL, so it must never come from input.
var statColumns = map[StatField]bool{
	StatEmailsSent:      true,
	StatEmailsDelivered: true,
	StatEmailsOpened:    true,
	StatUniqueOpens:     true,
	StatEmailsClicked:   true,
	StatUniqueClicks:    true,
	StatEmailsBounced:   true,
}

// StatsAggregator maintains per-(date, campaign) counters. Every increment is
// a single server-side upsert so concurrent events for the same bucket never
// lose an update. There is deliberately no read-modify-write path.
type StatsAggregator struct {
	db *sql.DB
}

// NewStatsAggregator creates a new daily stats aggregator
func NewStatsAggregator(db *sql.DB) *StatsAggregator {
	return &StatsAggregator{db: db}
}

// Increment bumps one counter in the day's bucket for a campaign, creating
// the bucket on first use
func (a *StatsAggregator) Increment(ctx context.Context, date time.Time, campaignID uuid.UUID, field StatField) error {
	if !statColumns[field] {
		return fmt.Errorf("stats: unknown counter field %q", field)
	}

	query := fmt.Sprintf(`
		INSERT INTO daily_stats (stat_date, campaign_id, %[1]s)
		VALUES ($1, $2, 1)
		ON CONFLICT (stat_date, campaign_id) DO UPDATE SET %[1]s = daily_stats.%[1]s + 1
	`, field)

	_, err := a.db.ExecContext(ctx, query, date.UTC().Truncate(24*time.Hour), campaignID)
	return err
}

// Get retrieves one daily stats bucket. Returns (nil, nil) when no events
// have been recorded for that day.
func (a *StatsAggregator) Get(ctx context.Context, date time.Time, campaignID uuid.UUID) (*DailyStat, error) {
	st := &DailyStat{}
	err := a.db.QueryRowContext(ctx, `
		SELECT stat_date, campaign_id, emails_sent, emails_delivered, emails_opened,
			unique_opens, emails_clicked, unique_clicks, emails_bounced
		FROM daily_stats WHERE stat_date = $1 AND campaign_id = $2
	`, date.UTC().Truncate(24*time.Hour), campaignID).Scan(
		&st.StatDate, &st.CampaignID, &st.EmailsSent, &st.EmailsDelivered, &st.EmailsOpened,
		&st.UniqueOpens, &st.EmailsClicked, &st.UniqueClicks, &st.EmailsBounced)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return st, err
}

// Range retrieves daily stats for a campaign between two dates, inclusive,
// oldest first. Consumed read-only by the analytics dashboard.
func (a *StatsAggregator) Range(ctx context.Context, campaignID uuid.UUID, from, to time.Time) ([]*DailyStat, error) {
	rows, err := a.db.QueryContext(ctx, `
		SELECT stat_date, campaign_id, emails_sent, emails_delivered, emails_opened,
			unique_opens, emails_clicked, unique_clicks, emails_bounced
		FROM daily_stats
		WHERE campaign_id = $1 AND stat_date BETWEEN $2 AND $3
		ORDER BY stat_date
	`, campaignID, from.UTC().Truncate(24*time.Hour), to.UTC().Truncate(24*time.Hour))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []*DailyStat
	for rows.Next() {
		st := &DailyStat{}
		if err := rows.Scan(&st.StatDate, &st.CampaignID, &st.EmailsSent, &st.EmailsDelivered,
			&st.EmailsOpened, &st.UniqueOpens, &st.EmailsClicked, &st.UniqueClicks, &st.EmailsBounced); err != nil {
			return nil, err
		}
		stats = append(stats, st)
	}
	return stats, rows.Err()
}
