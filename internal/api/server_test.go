package api

import (
	"bytes"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/salmanemhb/astantcrm/internal/config"
	"github.com/salmanemhb/astantcrm/internal/engagement"
	"github.com/salmanemhb/astantcrm/internal/resend"
)

func newTestServer(t *testing.T) (*Server, sqlmock.Sqlmock, *resend.Verifier, func()) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	secret := "whsec_" + base64.StdEncoding.EncodeToString([]byte("test-signing-key"))
	verifier, err := resend.NewVerifier(secret, true, 0)
	require.NoError(t, err)

	store := engagement.NewStore(db)
	stats := engagement.NewStatsAggregator(db)
	scorer := engagement.NewScorer(db)
	pipeline := engagement.NewReconciler(db)
	processor := engagement.NewProcessor(store, stats, scorer, pipeline, nil)

	srv := NewServer(config.ServerConfig{Port: 8080, Host: "localhost"}, verifier, processor, store, stats, scorer, pipeline)
	return srv, mock, verifier, func() { db.Close() }
}

func signedWebhookRequest(t *testing.T, v *resend.Verifier, body []byte) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/resend", bytes.NewReader(body))
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	req.Header.Set(resend.HeaderTimestamp, ts)
	req.Header.Set(resend.HeaderSignature, v.Sign(ts, body))
	return req
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, _, cleanup := newTestServer(t)
	defer cleanup()

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	srv, mock, _, cleanup := newTestServer(t)
	defer cleanup()

	body := []byte(`{"type":"email.opened","data":{"email_id":"re_123"}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/resend", bytes.NewReader(body))
	req.Header.Set(resend.HeaderTimestamp, strconv.FormatInt(time.Now().Unix(), 10))
	req.Header.Set(resend.HeaderSignature, "v1,Zm9yZ2VkLXNpZ25hdHVyZQ==")

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	// A rejected request must not touch the database
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhookRejectsMissingSignature(t *testing.T) {
	srv, _, _, cleanup := newTestServer(t)
	defer cleanup()

	body := []byte(`{"type":"email.opened","data":{"email_id":"re_123"}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/resend", bytes.NewReader(body))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhookMalformedPayload(t *testing.T) {
	srv, _, verifier, cleanup := newTestServer(t)
	defer cleanup()

	// Correctly signed garbage: authentication passes, parsing fails
	body := []byte(`{not json`)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, signedWebhookRequest(t, verifier, body))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestWebhookIgnoredEventType(t *testing.T) {
	srv, mock, verifier, cleanup := newTestServer(t)
	defer cleanup()

	body := []byte(`{"type":"email.delivery_delayed","data":{"email_id":"re_123"}}`)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, signedWebhookRequest(t, verifier, body))

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Received bool `json:"received"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Received)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWebhookUnmatchedEmailStillAcknowledged(t *testing.T) {
	srv, mock, verifier, cleanup := newTestServer(t)
	defer cleanup()

	mock.ExpectQuery("SELECT e.id, e.contact_campaign_id").
		WithArgs("re_unknown").
		WillReturnError(sql.ErrNoRows)

	body := []byte(`{"type":"email.opened","data":{"email_id":"re_unknown"}}`)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, signedWebhookRequest(t, verifier, body))

	// Non-2xx would make the ESP redeliver forever
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Received bool  `json:"received"`
		Matched  *bool `json:"matched"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Received)
	require.NotNil(t, resp.Matched)
	assert.False(t, *resp.Matched)
}

func TestWebhookMatchedOpen(t *testing.T) {
	srv, mock, verifier, cleanup := newTestServer(t)
	defer cleanup()

	emailID := uuid.New()
	rows := sqlmock.NewRows([]string{
		"id", "contact_campaign_id", "provider_message_id", "subject",
		"sent_at", "delivered_at", "opened_at", "clicked_at", "bounced_at", "bounce_reason",
		"contact_id", "campaign_id", "unified_thread_id",
	}).AddRow(emailID, uuid.New(), "re_match", "Hello", nil, nil, nil, nil, nil, nil,
		uuid.New(), uuid.New(), uuid.New())

	mock.ExpectQuery("SELECT e.id, e.contact_campaign_id").WithArgs("re_match").WillReturnRows(rows)
	mock.ExpectExec("INSERT INTO daily_stats").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE emails SET opened_at").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO daily_stats").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO contact_engagement").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE contact_engagement").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE contact_engagement").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE contact_campaigns").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO engagement_events").WillReturnResult(sqlmock.NewResult(0, 1))

	body := []byte(`{"type":"email.opened","created_at":"2026-08-20T14:30:00Z","data":{"email_id":"re_match"}}`)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, signedWebhookRequest(t, verifier, body))

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Received  bool  `json:"received"`
		Processed *bool `json:"processed"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Processed)
	assert.True(t, *resp.Processed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestManualTrackingInvalidID(t *testing.T) {
	srv, _, _, cleanup := newTestServer(t)
	defer cleanup()

	body := []byte(`{"contact_campaign_id":"not-a-uuid","action":"opened"}`)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/tracking/manual", bytes.NewReader(body)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestManualTrackingOpened(t *testing.T) {
	srv, mock, _, cleanup := newTestServer(t)
	defer cleanup()

	ccID := uuid.New()
	mock.ExpectExec("UPDATE contact_campaigns").WillReturnResult(sqlmock.NewResult(0, 1))

	body := []byte(`{"contact_campaign_id":"` + ccID.String() + `","action":"opened"}`)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/tracking/manual", bytes.NewReader(body)))

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success bool   `json:"success"`
		Stage   string `json:"stage"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "opened", resp.Stage)
}

func TestPipelineStageUnknownStage(t *testing.T) {
	srv, _, _, cleanup := newTestServer(t)
	defer cleanup()

	body := []byte(`{"contactCampaignId":"` + uuid.New().String() + `","stage":"archived"}`)
	req := httptest.NewRequest(http.MethodPatch, "/api/pipeline", bytes.NewReader(body))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPipelineStageMissingPairing(t *testing.T) {
	srv, mock, _, cleanup := newTestServer(t)
	defer cleanup()

	mock.ExpectExec("UPDATE contact_campaigns").WillReturnResult(sqlmock.NewResult(0, 0))

	body := []byte(`{"contactCampaignId":"` + uuid.New().String() + `","stage":"interested"}`)
	req := httptest.NewRequest(http.MethodPatch, "/api/pipeline", bytes.NewReader(body))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPipelineStageManualOverride(t *testing.T) {
	srv, mock, _, cleanup := newTestServer(t)
	defer cleanup()

	mock.ExpectExec("UPDATE contact_campaigns").WillReturnResult(sqlmock.NewResult(0, 1))

	body := []byte(`{"contactCampaignId":"` + uuid.New().String() + `","stage":"not_interested"}`)
	req := httptest.NewRequest(http.MethodPatch, "/api/pipeline", bytes.NewReader(body))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestDailyStatsRequiresCampaignID(t *testing.T) {
	srv, _, _, cleanup := newTestServer(t)
	defer cleanup()

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/analytics/daily", nil))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDailyStats(t *testing.T) {
	srv, mock, _, cleanup := newTestServer(t)
	defer cleanup()

	campaignID := uuid.New()
	d := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{
		"stat_date", "campaign_id", "emails_sent", "emails_delivered", "emails_opened",
		"unique_opens", "emails_clicked", "unique_clicks", "emails_bounced",
	}).AddRow(d, campaignID, 100, 95, 40, 30, 12, 8, 2)

	mock.ExpectQuery("SELECT stat_date, campaign_id").WillReturnRows(rows)

	url := "/api/analytics/daily?campaign_id=" + campaignID.String() + "&from=2026-08-14&to=2026-08-21"
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, url, nil))

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Days []struct {
			EmailsSent  int `json:"emails_sent"`
			UniqueOpens int `json:"unique_opens"`
		} `json:"days"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Days, 1)
	assert.Equal(t, 100, resp.Days[0].EmailsSent)
	assert.Equal(t, 30, resp.Days[0].UniqueOpens)
}

func TestContactEngagementNotFound(t *testing.T) {
	srv, mock, _, cleanup := newTestServer(t)
	defer cleanup()

	contactID := uuid.New()
	mock.ExpectQuery("SELECT contact_id, total_opens").WillReturnError(sql.ErrNoRows)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/analytics/contacts/"+contactID.String()+"/engagement", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEmailEventsNotFound(t *testing.T) {
	srv, mock, _, cleanup := newTestServer(t)
	defer cleanup()

	emailID := uuid.New()
	mock.ExpectQuery("SELECT id, contact_campaign_id").WillReturnError(sql.ErrNoRows)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/analytics/emails/"+emailID.String()+"/events", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
