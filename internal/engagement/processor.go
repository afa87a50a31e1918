package engagement

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// lookupCacheTTL bounds how long a provider-message-id match stays cached.
// The cached value is identity only (ids, never lifecycle timestamps), so
// staleness cannot corrupt conditional updates.
const lookupCacheTTL = 24 * time.Hour

// Result reports what the processor did with an event
type Result struct {
	Matched   bool
	Processed bool
}

// Processor fans a normalized engagement event out to the email state store,
// the daily stats aggregator, the contact scorer, and the pipeline
// reconciler. Downstream failures are logged and never abort the fan-out:
// the ESP has already been told the event was received, and its retry
// semantics are whole-payload, so partial work must stay idempotent rather
// than fail the request.
type Processor struct {
	store    *Store
	stats    *StatsAggregator
	scorer   *Scorer
	pipeline *Reconciler
	redis    *redis.Client // optional lookup cache, may be nil
}

// NewProcessor creates a new event processor. redisClient may be nil, in
// which case every lookup goes to the database.
func NewProcessor(store *Store, stats *StatsAggregator, scorer *Scorer, pipeline *Reconciler, redisClient *redis.Client) *Processor {
	return &Processor{
		store:    store,
		stats:    stats,
		scorer:   scorer,
		pipeline: pipeline,
		redis:    redisClient,
	}
}

// matchRef is the cached identity of a matched email. Lifecycle timestamps
// are deliberately excluded; conditional updates re-check them in SQL.
type matchRef struct {
	EmailID           uuid.UUID `json:"email_id"`
	ContactCampaignID uuid.UUID `json:"contact_campaign_id"`
	ContactID         uuid.UUID `json:"contact_id"`
	CampaignID        uuid.UUID `json:"campaign_id"`
	UnifiedThreadID   uuid.UUID `json:"unified_thread_id"`
}

// Process applies one normalized event. An unmatched provider email id is not
// an error: the ESP retries non-2xx responses forever, so the caller must
// acknowledge events that can never be matched.
func (p *Processor) Process(ctx context.Context, ev Event) (Result, error) {
	ref, err := p.lookup(ctx, ev.ProviderEmailID)
	if err != nil {
		return Result{}, fmt.Errorf("lookup email %q: %w", ev.ProviderEmailID, err)
	}
	if ref == nil {
		return Result{Matched: false}, nil
	}

	ok := true
	switch ev.Type {
	case EventSent:
		ok = p.processSent(ctx, ref, ev)
	case EventDelivered:
		ok = p.processDelivered(ctx, ref, ev)
	case EventOpened:
		ok = p.processOpened(ctx, ref, ev)
	case EventClicked:
		ok = p.processClicked(ctx, ref, ev)
	case EventBounced:
		ok = p.processBounced(ctx, ref, ev)
	case EventComplained:
		ok = p.processComplained(ctx, ref, ev)
	default:
		log.Printf("[Processor] ignoring unhandled event type %q for email %s", ev.Type, ref.EmailID)
	}

	return Result{Matched: true, Processed: ok}, nil
}

func (p *Processor) processSent(ctx context.Context, ref *matchRef, ev Event) bool {
	ok := true
	if err := p.store.MarkSent(ctx, ref.EmailID, ev.OccurredAt); err != nil {
		ok = p.fail("mark sent", ref.EmailID, err)
	}
	if err := p.stats.Increment(ctx, ev.OccurredAt, ref.CampaignID, StatEmailsSent); err != nil {
		ok = p.fail("increment emails_sent", ref.EmailID, err)
	}
	return ok
}

func (p *Processor) processDelivered(ctx context.Context, ref *matchRef, ev Event) bool {
	ok := true
	first, err := p.store.MarkDelivered(ctx, ref.EmailID, ev.OccurredAt)
	if err != nil {
		ok = p.fail("mark delivered", ref.EmailID, err)
	}
	if err := p.stats.Increment(ctx, ev.OccurredAt, ref.CampaignID, StatEmailsDelivered); err != nil {
		ok = p.fail("increment emails_delivered", ref.EmailID, err)
	}
	if first {
		if err := p.recordEvent(ctx, ref, EventDelivered, ev.OccurredAt, ""); err != nil {
			ok = p.fail("record delivered event", ref.EmailID, err)
		}
	}
	return ok
}

func (p *Processor) processOpened(ctx context.Context, ref *matchRef, ev Event) bool {
	ok := true
	// Raw volume counts every delivery, including duplicates
	if err := p.stats.Increment(ctx, ev.OccurredAt, ref.CampaignID, StatEmailsOpened); err != nil {
		ok = p.fail("increment emails_opened", ref.EmailID, err)
	}

	first, err := p.store.MarkOpened(ctx, ref.EmailID, ev.OccurredAt)
	if err != nil {
		return p.fail("mark opened", ref.EmailID, err)
	}
	if first {
		if !p.applyFirstOpen(ctx, ref, ev.OccurredAt) {
			ok = false
		}
	}
	return ok
}

// applyFirstOpen runs the side effects that must fire exactly once per
// email: unique-open counting, scoring, the automatic stage advance, and the
// event log row. Callers gate it on the conditional opened_at write.
func (p *Processor) applyFirstOpen(ctx context.Context, ref *matchRef, at time.Time) bool {
	ok := true
	if err := p.stats.Increment(ctx, at, ref.CampaignID, StatUniqueOpens); err != nil {
		ok = p.fail("increment unique_opens", ref.EmailID, err)
	}
	if err := p.scorer.RecordAction(ctx, ref.ContactID, ActionOpen, at); err != nil {
		ok = p.fail("score open", ref.EmailID, err)
	}
	if _, err := p.pipeline.AdvanceOnOpen(ctx, ref.ContactCampaignID); err != nil {
		ok = p.fail("advance stage on open", ref.EmailID, err)
	}
	if err := p.recordEvent(ctx, ref, EventOpened, at, ""); err != nil {
		ok = p.fail("record opened event", ref.EmailID, err)
	}
	return ok
}

func (p *Processor) processClicked(ctx context.Context, ref *matchRef, ev Event) bool {
	ok := true

	// Click implies open. ESPs do not guarantee ordering, so a click that
	// arrives before its open (or before delivered) backfills the open state
	// first. The conditional write makes this a no-op when the open already
	// landed.
	firstOpen, err := p.store.MarkOpened(ctx, ref.EmailID, ev.OccurredAt)
	if err != nil {
		ok = p.fail("backfill open on click", ref.EmailID, err)
	} else if firstOpen {
		if !p.applyFirstOpen(ctx, ref, ev.OccurredAt) {
			ok = false
		}
	}

	if err := p.stats.Increment(ctx, ev.OccurredAt, ref.CampaignID, StatEmailsClicked); err != nil {
		ok = p.fail("increment emails_clicked", ref.EmailID, err)
	}

	firstClick, err := p.store.MarkClicked(ctx, ref.EmailID, ev.OccurredAt)
	if err != nil {
		ok = p.fail("mark clicked", ref.EmailID, err)
	} else if firstClick {
		if err := p.stats.Increment(ctx, ev.OccurredAt, ref.CampaignID, StatUniqueClicks); err != nil {
			ok = p.fail("increment unique_clicks", ref.EmailID, err)
		}
		if err := p.scorer.RecordAction(ctx, ref.ContactID, ActionClick, ev.OccurredAt); err != nil {
			ok = p.fail("score click", ref.EmailID, err)
		}
		if err := p.recordEvent(ctx, ref, EventClicked, ev.OccurredAt, metadataJSON(map[string]string{"link": ev.ClickLink})); err != nil {
			ok = p.fail("record clicked event", ref.EmailID, err)
		}
	}

	// The per-URL counter counts every click delivery, first or not
	if ev.ClickLink != "" {
		at := ev.ClickAt
		if at.IsZero() {
			at = ev.OccurredAt
		}
		if err := p.store.RecordLinkClick(ctx, ref.EmailID, ev.ClickLink, at); err != nil {
			ok = p.fail("record link click", ref.EmailID, err)
		}
	}
	return ok
}

func (p *Processor) processBounced(ctx context.Context, ref *matchRef, ev Event) bool {
	ok := true
	first, err := p.store.MarkBounced(ctx, ref.EmailID, ev.OccurredAt, ev.BounceMessage)
	if err != nil {
		ok = p.fail("mark bounced", ref.EmailID, err)
	}
	if err := p.stats.Increment(ctx, ev.OccurredAt, ref.CampaignID, StatEmailsBounced); err != nil {
		ok = p.fail("increment emails_bounced", ref.EmailID, err)
	}
	if first {
		if err := p.scorer.RecordAction(ctx, ref.ContactID, ActionBounce, ev.OccurredAt); err != nil {
			ok = p.fail("score bounce", ref.EmailID, err)
		}
		meta := metadataJSON(map[string]string{"bounce_type": ev.BounceType, "message": ev.BounceMessage})
		if err := p.recordEvent(ctx, ref, EventBounced, ev.OccurredAt, meta); err != nil {
			ok = p.fail("record bounced event", ref.EmailID, err)
		}
	}
	return ok
}

func (p *Processor) processComplained(ctx context.Context, ref *matchRef, ev Event) bool {
	// No lifecycle field changes. The event row is the record, surfaced for
	// manual review.
	log.Printf("[Processor] spam complaint for email %s (contact %s)", ref.EmailID, ref.ContactID)
	if err := p.recordEvent(ctx, ref, EventComplained, ev.OccurredAt, ""); err != nil {
		return p.fail("record complained event", ref.EmailID, err)
	}
	return true
}

// ManualAction applies a user-driven quick action against a contact-campaign
// pairing, using the same primitives as the webhook path. Valid actions:
// opened, unmark_opened, replied.
func (p *Processor) ManualAction(ctx context.Context, contactCampaignID uuid.UUID, action string) (PipelineStage, error) {
	now := time.Now().UTC()

	switch action {
	case "opened":
		return p.pipeline.MarkOpened(ctx, contactCampaignID, now)
	case "unmark_opened":
		return p.pipeline.UnmarkOpened(ctx, contactCampaignID)
	case "replied":
		stage, err := p.pipeline.MarkReplied(ctx, contactCampaignID, now)
		if err != nil {
			return "", err
		}
		// Replies only arrive through this path, so scoring and the event
		// log are updated here rather than by the webhook fan-out.
		cc, err := p.pipeline.Get(ctx, contactCampaignID)
		if err != nil || cc == nil {
			log.Printf("[Processor] replied: load pairing %s: %v", contactCampaignID, err)
			return stage, nil
		}
		if err := p.scorer.RecordAction(ctx, cc.ContactID, ActionReply, now); err != nil {
			log.Printf("[Processor] replied: score reply for contact %s: %v", cc.ContactID, err)
		}
		evt := &EngagementEvent{UnifiedThreadID: cc.UnifiedThreadID, EventType: EventReplied, EventAt: now}
		if err := p.store.RecordEvent(ctx, evt); err != nil {
			log.Printf("[Processor] replied: record event for thread %s: %v", cc.UnifiedThreadID, err)
		}
		return stage, nil
	default:
		return "", fmt.Errorf("unknown tracking action %q", action)
	}
}

// lookup resolves a provider message id, consulting the redis cache first
func (p *Processor) lookup(ctx context.Context, providerMessageID string) (*matchRef, error) {
	key := "engagement:msgid:" + providerMessageID

	if p.redis != nil {
		if data, err := p.redis.Get(ctx, key).Bytes(); err == nil {
			ref := &matchRef{}
			if err := json.Unmarshal(data, ref); err == nil {
				return ref, nil
			}
		} else if err != redis.Nil {
			log.Printf("[Processor] redis lookup failed, falling back to DB: %v", err)
		}
	}

	m, err := p.store.FindByProviderID(ctx, providerMessageID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, nil
	}

	ref := &matchRef{
		EmailID:           m.ID,
		ContactCampaignID: m.ContactCampaignID,
		ContactID:         m.ContactID,
		CampaignID:        m.CampaignID,
		UnifiedThreadID:   m.UnifiedThreadID,
	}

	if p.redis != nil {
		if data, err := json.Marshal(ref); err == nil {
			if err := p.redis.Set(ctx, key, data, lookupCacheTTL).Err(); err != nil {
				log.Printf("[Processor] redis cache write failed: %v", err)
			}
		}
	}

	return ref, nil
}

func (p *Processor) recordEvent(ctx context.Context, ref *matchRef, eventType EventType, at time.Time, metadata string) error {
	emailID := ref.EmailID
	return p.store.RecordEvent(ctx, &EngagementEvent{
		UnifiedThreadID: ref.UnifiedThreadID,
		EmailID:         &emailID,
		EventType:       eventType,
		EventAt:         at,
		Metadata:        metadata,
	})
}

// fail logs a downstream failure and returns false for the caller's ok flag
func (p *Processor) fail(op string, emailID uuid.UUID, err error) bool {
	log.Printf("[Processor] %s for email %s: %v", op, emailID, err)
	return false
}

func metadataJSON(fields map[string]string) string {
	data, err := json.Marshal(fields)
	if err != nil {
		return ""
	}
	return string(data)
}
