package engagement

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Reconciler derives and updates the pipeline stage for a contact-campaign
// pairing, merging automatic (event-driven) and manual (user-driven)
// transitions. Automatic transitions never regress a stage a human has
// already advanced; manual transitions always win.
type Reconciler struct {
	db *sql.DB
}

// NewReconciler creates a new pipeline stage reconciler
func NewReconciler(db *sql.DB) *Reconciler {
	return &Reconciler{db: db}
}

// AdvanceOnOpen moves the stage to opened on an automatic open event, but
// only when the current stage is sent. The guard lives in the WHERE clause so
// a concurrent manual transition cannot be clobbered. Returns true when the
// stage actually advanced.
func (r *Reconciler) AdvanceOnOpen(ctx context.Context, contactCampaignID uuid.UUID) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE contact_campaigns
		SET pipeline_stage = $2, stage = $3, updated_at = NOW()
		WHERE id = $1 AND pipeline_stage = $4
	`, contactCampaignID, StageOpened, StageOpened.Coarse(), StageSent)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// SetStage overwrites the stage unconditionally. This is the manual escape
// hatch for human judgment and intentionally ignores the current stage.
func (r *Reconciler) SetStage(ctx context.Context, contactCampaignID uuid.UUID, stage PipelineStage) error {
	if !stage.IsValid() {
		return fmt.Errorf("pipeline: unknown stage %q", stage)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE contact_campaigns
		SET pipeline_stage = $2, stage = $3, updated_at = NOW()
		WHERE id = $1
	`, contactCampaignID, stage, stage.Coarse())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MarkOpened is the manual quick-action: set opened_at (kept from the first
// mark) and force the stage to opened
func (r *Reconciler) MarkOpened(ctx context.Context, contactCampaignID uuid.UUID, at time.Time) (PipelineStage, error) {
	_, err := r.db.ExecContext(ctx, `
		UPDATE contact_campaigns
		SET opened_at = COALESCE(opened_at, $2), pipeline_stage = $3, stage = $4, updated_at = NOW()
		WHERE id = $1
	`, contactCampaignID, at, StageOpened, StageOpened.Coarse())
	return StageOpened, err
}

// UnmarkOpened clears opened_at without reverting the stage. A UI
// convenience, not a strict inverse of MarkOpened.
func (r *Reconciler) UnmarkOpened(ctx context.Context, contactCampaignID uuid.UUID) (PipelineStage, error) {
	var stage PipelineStage
	err := r.db.QueryRowContext(ctx, `
		UPDATE contact_campaigns
		SET opened_at = NULL, updated_at = NOW()
		WHERE id = $1
		RETURNING pipeline_stage
	`, contactCampaignID).Scan(&stage)
	return stage, err
}

// MarkReplied is the manual quick-action: set replied_at (kept from the first
// mark) and force the stage to replied
func (r *Reconciler) MarkReplied(ctx context.Context, contactCampaignID uuid.UUID, at time.Time) (PipelineStage, error) {
	_, err := r.db.ExecContext(ctx, `
		UPDATE contact_campaigns
		SET replied_at = COALESCE(replied_at, $2), pipeline_stage = $3, stage = $4, updated_at = NOW()
		WHERE id = $1
	`, contactCampaignID, at, StageReplied, StageReplied.Coarse())
	return StageReplied, err
}

// Get retrieves a contact-campaign pairing by ID. Returns (nil, nil) when
// absent.
func (r *Reconciler) Get(ctx context.Context, contactCampaignID uuid.UUID) (*ContactCampaign, error) {
	cc := &ContactCampaign{}
	err := r.db.QueryRowContext(ctx, `
		SELECT id, contact_id, campaign_id, unified_thread_id, pipeline_stage, stage, opened_at, replied_at
		FROM contact_campaigns WHERE id = $1
	`, contactCampaignID).Scan(
		&cc.ID, &cc.ContactID, &cc.CampaignID, &cc.UnifiedThreadID,
		&cc.PipelineStage, &cc.Stage, &cc.OpenedAt, &cc.RepliedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return cc, err
}
