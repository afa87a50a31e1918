package engagement

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Store provides database operations for the email lifecycle and the
// engagement event log. All first-occurrence updates are single conditional
// statements so that duplicate webhook deliveries racing on the same email
// cannot both observe a null column.
type Store struct {
	db *sql.DB
}

// NewStore creates a new engagement store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// FindByProviderID resolves a provider message id to the owning email joined
// with its contact-campaign pairing. Returns (nil, nil) when unmatched.
func (s *Store) FindByProviderID(ctx context.Context, providerMessageID string) (*MatchedEmail, error) {
	query := `SELECT e.id, e.contact_campaign_id, e.provider_message_id, e.subject,
		e.sent_at, e.delivered_at, e.opened_at, e.clicked_at, e.bounced_at, e.bounce_reason,
		cc.contact_id, cc.campaign_id, cc.unified_thread_id
		FROM emails e
		JOIN contact_campaigns cc ON cc.id = e.contact_campaign_id
		WHERE e.provider_message_id = $1`

	m := &MatchedEmail{}
	err := s.db.QueryRowContext(ctx, query, providerMessageID).Scan(
		&m.ID, &m.ContactCampaignID, &m.ProviderMessageID, &m.Subject,
		&m.SentAt, &m.DeliveredAt, &m.OpenedAt, &m.ClickedAt, &m.BouncedAt, &m.BounceReason,
		&m.ContactID, &m.CampaignID, &m.UnifiedThreadID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

// GetEmail retrieves an email by ID
func (s *Store) GetEmail(ctx context.Context, emailID uuid.UUID) (*Email, error) {
	query := `SELECT id, contact_campaign_id, provider_message_id, subject,
		sent_at, delivered_at, opened_at, clicked_at, bounced_at, bounce_reason
		FROM emails WHERE id = $1`

	e := &Email{}
	err := s.db.QueryRowContext(ctx, query, emailID).Scan(
		&e.ID, &e.ContactCampaignID, &e.ProviderMessageID, &e.Subject,
		&e.SentAt, &e.DeliveredAt, &e.OpenedAt, &e.ClickedAt, &e.BouncedAt, &e.BounceReason)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

// MarkSent sets sent_at if unset. The send path normally records this before
// dispatch; the webhook event backfills it when that write was missed.
func (s *Store) MarkSent(ctx context.Context, emailID uuid.UUID, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE emails SET sent_at = $2 WHERE id = $1 AND sent_at IS NULL`,
		emailID, at)
	return err
}

// MarkDelivered sets delivered_at if unset
func (s *Store) MarkDelivered(ctx context.Context, emailID uuid.UUID, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE emails SET delivered_at = $2 WHERE id = $1 AND delivered_at IS NULL`,
		emailID, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkOpened sets opened_at if unset. The returned bool is true only for the
// request that won the conditional write, so first-open side effects fire
// exactly once under duplicate delivery.
func (s *Store) MarkOpened(ctx context.Context, emailID uuid.UUID, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE emails SET opened_at = $2 WHERE id = $1 AND opened_at IS NULL`,
		emailID, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkClicked sets clicked_at if unset, same contract as MarkOpened
func (s *Store) MarkClicked(ctx context.Context, emailID uuid.UUID, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE emails SET clicked_at = $2 WHERE id = $1 AND clicked_at IS NULL`,
		emailID, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkBounced records a bounce. The timestamp is kept from the first bounce;
// the reason always reflects the most recent one (a second bounce is rare and
// informational). The returned bool is true for the first bounce only.
func (s *Store) MarkBounced(ctx context.Context, emailID uuid.UUID, at time.Time, reason string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE emails SET bounced_at = $2 WHERE id = $1 AND bounced_at IS NULL`,
		emailID, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE emails SET bounce_reason = $2 WHERE id = $1`,
		emailID, reason)
	return n > 0, err
}

// RecordLinkClick increments the per-URL click counter for an email,
// creating the row on first click
func (s *Store) RecordLinkClick(ctx context.Context, emailID uuid.UUID, originalURL string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO email_link_clicks (email_id, original_url, click_count, last_clicked_at)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (email_id, original_url) DO UPDATE SET
			click_count = email_link_clicks.click_count + 1,
			last_clicked_at = EXCLUDED.last_clicked_at
	`, emailID, originalURL, at)
	return err
}

// GetLinkClick retrieves the click counter for one URL of an email
func (s *Store) GetLinkClick(ctx context.Context, emailID uuid.UUID, originalURL string) (*EmailLinkClick, error) {
	lc := &EmailLinkClick{}
	err := s.db.QueryRowContext(ctx, `
		SELECT email_id, original_url, click_count, last_clicked_at
		FROM email_link_clicks WHERE email_id = $1 AND original_url = $2
	`, emailID, originalURL).Scan(&lc.EmailID, &lc.OriginalURL, &lc.ClickCount, &lc.LastClickedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return lc, err
}

// RecordEvent appends a row to the engagement event log
func (s *Store) RecordEvent(ctx context.Context, ev *EngagementEvent) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.EventAt.IsZero() {
		ev.EventAt = time.Now().UTC()
	}

	emailID := uuid.NullUUID{}
	if ev.EmailID != nil {
		emailID = uuid.NullUUID{UUID: *ev.EmailID, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO engagement_events (id, unified_thread_id, email_id, event_type, event_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, ev.ID, ev.UnifiedThreadID, emailID, ev.EventType, ev.EventAt, ev.Metadata)
	return err
}

// ListEvents retrieves the engagement event log for an email, oldest first
func (s *Store) ListEvents(ctx context.Context, emailID uuid.UUID) ([]*EngagementEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, unified_thread_id, email_id, event_type, event_at, metadata
		FROM engagement_events WHERE email_id = $1 ORDER BY event_at
	`, emailID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*EngagementEvent
	for rows.Next() {
		ev := &EngagementEvent{}
		var emailID uuid.NullUUID
		if err := rows.Scan(&ev.ID, &ev.UnifiedThreadID, &emailID, &ev.EventType, &ev.EventAt, &ev.Metadata); err != nil {
			return nil, err
		}
		if emailID.Valid {
			id := emailID.UUID
			ev.EmailID = &id
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
