package resend

import "time"

// Webhook header names used by Resend
const (
	HeaderSignature = "resend-signature"
	HeaderTimestamp = "resend-timestamp"
)

// Event types delivered by the Resend webhook
const (
	EventSent            = "email.sent"
	EventDelivered       = "email.delivered"
	EventDeliveryDelayed = "email.delivery_delayed"
	EventOpened          = "email.opened"
	EventClicked         = "email.clicked"
	EventBounced         = "email.bounced"
	EventComplained      = "email.complained"
)

// WebhookEvent is the raw Resend webhook payload
type WebhookEvent struct {
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
	Data      EventData `json:"data"`
}

// EventData carries the per-event payload
type EventData struct {
	EmailID string   `json:"email_id"`
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`

	Click  *ClickData  `json:"click,omitempty"`
	Bounce *BounceData `json:"bounce,omitempty"`
}

// ClickData is attached to email.clicked events
type ClickData struct {
	Link      string    `json:"link"`
	Timestamp time.Time `json:"timestamp"`
}

// BounceData is attached to email.bounced events
type BounceData struct {
	Type    string `json:"type"` // "hard" or "soft"
	Message string `json:"message"`
}
