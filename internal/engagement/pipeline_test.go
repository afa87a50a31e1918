package engagement

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
)

func TestPipelineStageValidity(t *testing.T) {
	valid := []PipelineStage{
		StageSent, StageOpened, StageReplied, StageInterested,
		StageMeeting, StageClosed, StageNotInterested,
	}
	for _, s := range valid {
		if !s.IsValid() {
			t.Errorf("%q should be valid", s)
		}
	}
	if PipelineStage("archived").IsValid() {
		t.Error("unknown stage should be invalid")
	}
}

func TestPipelineStageTerminal(t *testing.T) {
	if !StageClosed.IsTerminal() || !StageNotInterested.IsTerminal() {
		t.Error("closed and not_interested are terminal")
	}
	if StageSent.IsTerminal() || StageMeeting.IsTerminal() {
		t.Error("funnel stages before closed are not terminal")
	}
}

func TestPipelineStageCoarse(t *testing.T) {
	tests := []struct {
		stage PipelineStage
		want  string
	}{
		{StageSent, "contacted"},
		{StageOpened, "engaged"},
		{StageReplied, "engaged"},
		{StageInterested, "qualified"},
		{StageMeeting, "qualified"},
		{StageClosed, "won"},
		{StageNotInterested, "lost"},
	}
	for _, tt := range tests {
		if got := tt.stage.Coarse(); got != tt.want {
			t.Errorf("%q.Coarse() = %q, want %q", tt.stage, got, tt.want)
		}
	}
}

func TestAdvanceOnOpenFromSent(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	rec := NewReconciler(db)
	ccID := uuid.New()

	// Stage is sent: the guarded update lands
	mock.ExpectExec("UPDATE contact_campaigns").
		WithArgs(ccID, string(StageOpened), "engaged", string(StageSent)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	advanced, err := rec.AdvanceOnOpen(context.Background(), ccID)
	if err != nil {
		t.Fatalf("AdvanceOnOpen() error: %v", err)
	}
	if !advanced {
		t.Error("AdvanceOnOpen() from sent should advance")
	}
}

func TestAdvanceOnOpenDoesNotClobberManualStage(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	rec := NewReconciler(db)
	ccID := uuid.New()

	// Stage was manually moved past sent: the WHERE guard matches no rows
	mock.ExpectExec("UPDATE contact_campaigns").
		WithArgs(ccID, string(StageOpened), "engaged", string(StageSent)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	advanced, err := rec.AdvanceOnOpen(context.Background(), ccID)
	if err != nil {
		t.Fatalf("AdvanceOnOpen() error: %v", err)
	}
	if advanced {
		t.Error("AdvanceOnOpen() must not touch a stage that is no longer sent")
	}
}

func TestSetStageUnconditional(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	rec := NewReconciler(db)
	ccID := uuid.New()

	mock.ExpectExec("UPDATE contact_campaigns").
		WithArgs(ccID, string(StageNotInterested), "lost").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := rec.SetStage(context.Background(), ccID, StageNotInterested); err != nil {
		t.Fatalf("SetStage() error: %v", err)
	}
}

func TestSetStageUnknownPairing(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	rec := NewReconciler(db)
	ccID := uuid.New()

	mock.ExpectExec("UPDATE contact_campaigns").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := rec.SetStage(context.Background(), ccID, StageInterested)
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("SetStage() on a missing pairing should return sql.ErrNoRows, got %v", err)
	}
}

func TestSetStageInvalid(t *testing.T) {
	db, _, cleanup := setupTestDB(t)
	defer cleanup()

	rec := NewReconciler(db)
	if err := rec.SetStage(context.Background(), uuid.New(), PipelineStage("archived")); err == nil {
		t.Error("SetStage() with an unknown stage should error")
	}
}

func TestMarkRepliedForcesStage(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	rec := NewReconciler(db)
	ccID := uuid.New()
	now := time.Now()

	mock.ExpectExec("UPDATE contact_campaigns").
		WithArgs(ccID, now, string(StageReplied), "engaged").
		WillReturnResult(sqlmock.NewResult(0, 1))

	stage, err := rec.MarkReplied(context.Background(), ccID, now)
	if err != nil {
		t.Fatalf("MarkReplied() error: %v", err)
	}
	if stage != StageReplied {
		t.Errorf("MarkReplied() stage = %q, want replied", stage)
	}
}

func TestUnmarkOpenedKeepsStage(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	rec := NewReconciler(db)
	ccID := uuid.New()

	mock.ExpectQuery("UPDATE contact_campaigns").
		WithArgs(ccID).
		WillReturnRows(sqlmock.NewRows([]string{"pipeline_stage"}).AddRow("interested"))

	stage, err := rec.UnmarkOpened(context.Background(), ccID)
	if err != nil {
		t.Fatalf("UnmarkOpened() error: %v", err)
	}
	if stage != StageInterested {
		t.Errorf("UnmarkOpened() stage = %q, want interested (unchanged)", stage)
	}
}
