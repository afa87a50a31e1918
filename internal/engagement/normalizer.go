package engagement

import (
	"time"

	"github.com/salmanemhb/astantcrm/internal/resend"
)

// Event is the canonical internal engagement event, normalized from a
// provider payload
type Event struct {
	Type            EventType
	ProviderEmailID string
	OccurredAt      time.Time

	// clicked only
	ClickLink string
	ClickAt   time.Time

	// bounced only
	BounceType    string
	BounceMessage string
}

// Normalize maps a Resend webhook payload to a canonical event. The second
// return value is false for event types that are accepted but not acted upon
// (delivery delays, unknown future types) so the ingress can acknowledge them
// without dispatching.
func Normalize(w *resend.WebhookEvent) (Event, bool) {
	ev := Event{
		ProviderEmailID: w.Data.EmailID,
		OccurredAt:      w.CreatedAt,
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	switch w.Type {
	case resend.EventSent:
		ev.Type = EventSent
	case resend.EventDelivered:
		ev.Type = EventDelivered
	case resend.EventOpened:
		ev.Type = EventOpened
	case resend.EventClicked:
		ev.Type = EventClicked
		if w.Data.Click != nil {
			ev.ClickLink = w.Data.Click.Link
			if !w.Data.Click.Timestamp.IsZero() {
				ev.ClickAt = w.Data.Click.Timestamp
			} else {
				ev.ClickAt = ev.OccurredAt
			}
		} else {
			ev.ClickAt = ev.OccurredAt
		}
	case resend.EventBounced:
		ev.Type = EventBounced
		if w.Data.Bounce != nil {
			ev.BounceType = w.Data.Bounce.Type
			ev.BounceMessage = w.Data.Bounce.Message
		}
	case resend.EventComplained:
		ev.Type = EventComplained
	default:
		// email.delivery_delayed and any future provider types fall through
		// here: acknowledged with 200, never dispatched.
		return Event{}, false
	}

	return ev, true
}
