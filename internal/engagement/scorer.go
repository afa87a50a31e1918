package engagement

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Action is a score-affecting contact action
type Action string

const (
	ActionOpen   Action = "open"
	ActionClick  Action = "click"
	ActionReply  Action = "reply"
	ActionBounce Action = "bounce"
)

// Scoring weights and tier thresholds. These are a documented policy choice:
// the score is a ranking signal shown directly to users, so it must be a
// deterministic function of the counters.
const (
	WeightOpen   = 1.0
	WeightClick  = 3.0
	WeightReply  = 10.0
	WeightBounce = -5.0

	TierHotThreshold  = 25.0
	TierWarmThreshold = 10.0
	TierCoolThreshold = 3.0
)

// ComputeScore returns the weighted engagement score for a set of counters
func ComputeScore(opens, clicks, replies, bounces int) float64 {
	return float64(opens)*WeightOpen +
		float64(clicks)*WeightClick +
		float64(replies)*WeightReply +
		float64(bounces)*WeightBounce
}

// TierFor maps a score to its display tier
func TierFor(score float64) Tier {
	switch {
	case score >= TierHotThreshold:
		return TierHot
	case score >= TierWarmThreshold:
		return TierWarm
	case score >= TierCoolThreshold:
		return TierCool
	default:
		return TierCold
	}
}

// actionColumns maps an action to its counter and last-seen columns.
// Interpolated into SQL, so values must stay hardcoded.
var actionColumns = map[Action]struct{ counter, lastAt string }{
	ActionOpen:   {"total_opens", "last_open_at"},
	ActionClick:  {"total_clicks", "last_click_at"},
	ActionReply:  {"total_replies", "last_reply_at"},
	ActionBounce: {"total_bounces", ""},
}

// Scorer maintains rolling per-contact counters and recomputes the weighted
// engagement score after every mutation
type Scorer struct {
	db *sql.DB
}

// NewScorer creates a new contact engagement scorer
func NewScorer(db *sql.DB) *Scorer {
	return &Scorer{db: db}
}

// RecordAction increments the matching counter for a contact, creating the
// row lazily on first use, then synchronously recomputes score and tier.
// The increment is a single server-side upsert, and the recompute derives
// score and tier from the stored counters server-side, so concurrent
// qualifying events never lose an update.
func (s *Scorer) RecordAction(ctx context.Context, contactID uuid.UUID, action Action, at time.Time) error {
	cols, ok := actionColumns[action]
	if !ok {
		return fmt.Errorf("scorer: unknown action %q", action)
	}

	var query string
	var args []interface{}
	if cols.lastAt != "" {
		query = fmt.Sprintf(`
			INSERT INTO contact_engagement (contact_id, %[1]s, %[2]s, updated_at)
			VALUES ($1, 1, $2, NOW())
			ON CONFLICT (contact_id) DO UPDATE SET
				%[1]s = contact_engagement.%[1]s + 1,
				%[2]s = EXCLUDED.%[2]s,
				updated_at = NOW()
		`, cols.counter, cols.lastAt)
		args = []interface{}{contactID, at}
	} else {
		query = fmt.Sprintf(`
			INSERT INTO contact_engagement (contact_id, %[1]s, updated_at)
			VALUES ($1, 1, NOW())
			ON CONFLICT (contact_id) DO UPDATE SET
				%[1]s = contact_engagement.%[1]s + 1,
				updated_at = NOW()
		`, cols.counter)
		args = []interface{}{contactID}
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return err
	}

	return s.recomputeScore(ctx, contactID)
}

// recomputeScore rewrites engagement_score and tier from the stored counters
func (s *Scorer) recomputeScore(ctx context.Context, contactID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE contact_engagement SET
			engagement_score = total_opens * $2 + total_clicks * $3 + total_replies * $4 + total_bounces * $5
		WHERE contact_id = $1
	`, contactID, WeightOpen, WeightClick, WeightReply, WeightBounce)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE contact_engagement SET
			tier = CASE
				WHEN engagement_score >= $2 THEN 'hot'
				WHEN engagement_score >= $3 THEN 'warm'
				WHEN engagement_score >= $4 THEN 'cool'
				ELSE 'cold'
			END
		WHERE contact_id = $1
	`, contactID, TierHotThreshold, TierWarmThreshold, TierCoolThreshold)
	return err
}

// Get retrieves the engagement row for a contact. Returns (nil, nil) when the
// contact has no qualifying events yet.
func (s *Scorer) Get(ctx context.Context, contactID uuid.UUID) (*ContactEngagement, error) {
	ce := &ContactEngagement{}
	err := s.db.QueryRowContext(ctx, `
		SELECT contact_id, total_opens, total_clicks, total_replies, total_bounces,
			last_open_at, last_click_at, last_reply_at, engagement_score, tier, updated_at
		FROM contact_engagement WHERE contact_id = $1
	`, contactID).Scan(
		&ce.ContactID, &ce.TotalOpens, &ce.TotalClicks, &ce.TotalReplies, &ce.TotalBounces,
		&ce.LastOpenAt, &ce.LastClickAt, &ce.LastReplyAt, &ce.EngagementScore, &ce.Tier, &ce.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return ce, err
}
