package engagement

import (
	"time"

	"github.com/google/uuid"
)

// EventType is the canonical engagement event type
type EventType string

const (
	EventSent       EventType = "sent"
	EventDelivered  EventType = "delivered"
	EventOpened     EventType = "opened"
	EventClicked    EventType = "clicked"
	EventReplied    EventType = "replied"
	EventBounced    EventType = "bounced"
	EventComplained EventType = "complained"
)

// PipelineStage is the sales-funnel position of a contact within a campaign
type PipelineStage string

const (
	StageSent          PipelineStage = "sent"
	StageOpened        PipelineStage = "opened"
	StageReplied       PipelineStage = "replied"
	StageInterested    PipelineStage = "interested"
	StageMeeting       PipelineStage = "meeting"
	StageClosed        PipelineStage = "closed"
	StageNotInterested PipelineStage = "not_interested"
)

// stageOrder drives forward/backward comparisons for the main funnel.
// not_interested sits outside the order as a terminal branch.
var stageOrder = map[PipelineStage]int{
	StageSent:       0,
	StageOpened:     1,
	StageReplied:    2,
	StageInterested: 3,
	StageMeeting:    4,
	StageClosed:     5,
}

// IsValid reports whether s is a known pipeline stage
func (s PipelineStage) IsValid() bool {
	if s == StageNotInterested {
		return true
	}
	_, ok := stageOrder[s]
	return ok
}

// IsTerminal reports whether no further transitions leave s
func (s PipelineStage) IsTerminal() bool {
	return s == StageClosed || s == StageNotInterested
}

// Coarse maps the pipeline stage onto the legacy coarse stage field that the
// contact browser still reads.
func (s PipelineStage) Coarse() string {
	switch s {
	case StageSent:
		return "contacted"
	case StageOpened, StageReplied:
		return "engaged"
	case StageInterested, StageMeeting:
		return "qualified"
	case StageClosed:
		return "won"
	case StageNotInterested:
		return "lost"
	default:
		return "contacted"
	}
}

// Tier buckets an engagement score for display
type Tier string

const (
	TierCold Tier = "cold"
	TierCool Tier = "cool"
	TierWarm Tier = "warm"
	TierHot  Tier = "hot"
)

// Email is the per-email delivery lifecycle record. Timestamps are set at
// most once; clicked_at implies opened_at.
type Email struct {
	ID                uuid.UUID  `json:"id"`
	ContactCampaignID uuid.UUID  `json:"contact_campaign_id"`
	ProviderMessageID string     `json:"provider_message_id"`
	Subject           string     `json:"subject"`
	SentAt            *time.Time `json:"sent_at,omitempty"`
	DeliveredAt       *time.Time `json:"delivered_at,omitempty"`
	OpenedAt          *time.Time `json:"opened_at,omitempty"`
	ClickedAt         *time.Time `json:"clicked_at,omitempty"`
	BouncedAt         *time.Time `json:"bounced_at,omitempty"`
	BounceReason      *string    `json:"bounce_reason,omitempty"`
}

// EngagementEvent is an append-only log row written once per meaningful
// state transition. EmailID is nil for thread-level events (manual replies)
// that are not tied to a single email.
type EngagementEvent struct {
	ID              uuid.UUID  `json:"id"`
	UnifiedThreadID uuid.UUID  `json:"unified_thread_id"`
	EmailID         *uuid.UUID `json:"email_id,omitempty"`
	EventType       EventType  `json:"event_type"`
	EventAt         time.Time  `json:"event_at"`
	Metadata        string     `json:"metadata,omitempty"`
}

// DailyStat holds per-(date, campaign) counters. Raw counters count every
// webhook delivery; unique counters count the first occurrence per email.
type DailyStat struct {
	StatDate        time.Time `json:"stat_date"`
	CampaignID      uuid.UUID `json:"campaign_id"`
	EmailsSent      int       `json:"emails_sent"`
	EmailsDelivered int       `json:"emails_delivered"`
	EmailsOpened    int       `json:"emails_opened"`
	UniqueOpens     int       `json:"unique_opens"`
	EmailsClicked   int       `json:"emails_clicked"`
	UniqueClicks    int       `json:"unique_clicks"`
	EmailsBounced   int       `json:"emails_bounced"`
}

// ContactEngagement holds rolling per-contact counters and the derived score
type ContactEngagement struct {
	ContactID       uuid.UUID  `json:"contact_id"`
	TotalOpens      int        `json:"total_opens"`
	TotalClicks     int        `json:"total_clicks"`
	TotalReplies    int        `json:"total_replies"`
	TotalBounces    int        `json:"total_bounces"`
	LastOpenAt      *time.Time `json:"last_open_at,omitempty"`
	LastClickAt     *time.Time `json:"last_click_at,omitempty"`
	LastReplyAt     *time.Time `json:"last_reply_at,omitempty"`
	EngagementScore float64    `json:"engagement_score"`
	Tier            Tier       `json:"tier"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// ContactCampaign is the pipeline aspect of a contact-campaign pairing
type ContactCampaign struct {
	ID              uuid.UUID     `json:"id"`
	ContactID       uuid.UUID     `json:"contact_id"`
	CampaignID      uuid.UUID     `json:"campaign_id"`
	UnifiedThreadID uuid.UUID     `json:"unified_thread_id"`
	PipelineStage   PipelineStage `json:"pipeline_stage"`
	Stage           string        `json:"stage"`
	OpenedAt        *time.Time    `json:"opened_at,omitempty"`
	RepliedAt       *time.Time    `json:"replied_at,omitempty"`
}

// EmailLinkClick is a per-link click counter keyed by URL
type EmailLinkClick struct {
	EmailID       uuid.UUID `json:"email_id"`
	OriginalURL   string    `json:"original_url"`
	ClickCount    int       `json:"click_count"`
	LastClickedAt time.Time `json:"last_clicked_at"`
}

// MatchedEmail is an Email joined with its contact-campaign pairing, as
// resolved from a provider message id on the webhook path.
type MatchedEmail struct {
	Email
	ContactID       uuid.UUID `json:"contact_id"`
	CampaignID      uuid.UUID `json:"campaign_id"`
	UnifiedThreadID uuid.UUID `json:"unified_thread_id"`
}
