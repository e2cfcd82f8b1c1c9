package webserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/casewatch/bigcases-bot/src/BCApi/config"
	"github.com/casewatch/bigcases-bot/src/BCBot/pipeline"
	"github.com/casewatch/bigcases-bot/src/shared/queue"
	"github.com/casewatch/bigcases-bot/src/shared/types"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	engine *gin.Engine
	db     *gorm.DB
	rdb    *redis.Client
	cfg    config.Config
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&types.Subscription{},
		&types.FilingWebhookEvent{},
		&types.Channel{},
		&types.ChannelSubscription{},
		&types.Group{},
		&types.Sponsorship{},
		&types.Purchase{},
		&types.Post{},
	))

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := config.Config{
		QueueName:    "test",
		WebhookToken: "hook-secret",
		AdminToken:   "admin-secret",
		JWTSecret:    "jwt-secret",
		AllowOrigins: []string{"*"},
	}
	q := queue.New(rdb, cfg.QueueName)

	return &testServer{engine: New(cfg, db, q), db: db, rdb: rdb, cfg: cfg}
}

func (ts *testServer) request(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ts.engine.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) queuedJobs(t *testing.T) []queue.Job {
	t.Helper()
	blobs, err := ts.rdb.LRange(context.Background(), "test:ready", 0, -1).Result()
	require.NoError(t, err)
	jobs := make([]queue.Job, 0, len(blobs))
	for _, b := range blobs {
		var job queue.Job
		require.NoError(t, json.Unmarshal([]byte(b), &job))
		jobs = append(jobs, job)
	}
	return jobs
}

func (ts *testServer) login(t *testing.T) string {
	t.Helper()
	rec := ts.request(t, http.MethodPost, "/auth/login", gin.H{"token": ts.cfg.AdminToken}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Token
}

func hookHeaders(token string) map[string]string {
	return map[string]string{"X-Webhook-Token": token}
}

func docketAlertBody(docketID, docID uint64, description string) gin.H {
	return gin.H{
		"payload": gin.H{
			"results": []gin.H{{
				"docket":      docketID,
				"description": description,
				"recap_documents": []gin.H{{
					"id":              docID,
					"pacer_doc_id":    fmt.Sprintf("pacer-%d", docID),
					"document_number": "23",
				}},
			}},
		},
	}
}

func minuteEntryBody(docketID uint64, description string) gin.H {
	return gin.H{
		"payload": gin.H{
			"results": []gin.H{{
				"docket":      docketID,
				"description": description,
				"recap_documents": []gin.H{{
					"id":              0,
					"document_number": "",
				}},
			}},
		},
	}
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.request(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhookRejectsBadToken(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodPost, "/webhooks/docket-alert", docketAlertBody(1, 2, "x"), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.request(t, http.MethodPost, "/webhooks/docket-alert", docketAlertBody(1, 2, "x"), hookHeaders("wrong"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var count int64
	require.NoError(t, ts.db.Model(&types.FilingWebhookEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestDocketAlertStoresEventAndEnqueues(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodPost, "/webhooks/docket-alert",
		docketAlertBody(68123473, 501, "MOTION to Dismiss"), hookHeaders("hook-secret"))
	require.Equal(t, http.StatusOK, rec.Code)

	var event types.FilingWebhookEvent
	require.NoError(t, ts.db.First(&event).Error)
	assert.EqualValues(t, 68123473, event.DocketID)
	assert.EqualValues(t, 501, event.DocID)
	assert.Equal(t, "MOTION to Dismiss", event.Description)
	assert.Equal(t, types.StatusReceived, event.Status)

	jobs := ts.queuedJobs(t)
	require.Len(t, jobs, 1)
	assert.Equal(t, pipeline.JobLinkFiling, jobs[0].Type)
}

func TestDocketAlertStripsMarkup(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodPost, "/webhooks/docket-alert",
		docketAlertBody(68123473, 501, `<script>alert(1)</script>MOTION to <b>Dismiss</b>`),
		hookHeaders("hook-secret"))
	require.Equal(t, http.StatusOK, rec.Code)

	var event types.FilingWebhookEvent
	require.NoError(t, ts.db.First(&event).Error)
	assert.Equal(t, "MOTION to Dismiss", event.Description)
}

func TestDocketAlertReplayConvergesOnOneEvent(t *testing.T) {
	ts := newTestServer(t)
	body := docketAlertBody(68123473, 501, "MOTION to Dismiss")

	for i := 0; i < 3; i++ {
		rec := ts.request(t, http.MethodPost, "/webhooks/docket-alert", body, hookHeaders("hook-secret"))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	var count int64
	require.NoError(t, ts.db.Model(&types.FilingWebhookEvent{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestDocketAlertMinuteEntriesStayDistinct(t *testing.T) {
	ts := newTestServer(t)
	hdr := hookHeaders("hook-secret")

	rec := ts.request(t, http.MethodPost, "/webhooks/docket-alert",
		docketAlertBody(68123473, 501, "MOTION to Dismiss"), hdr)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ts.request(t, http.MethodPost, "/webhooks/docket-alert",
		minuteEntryBody(68123473, "Minute order granting extension"), hdr)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ts.request(t, http.MethodPost, "/webhooks/docket-alert",
		minuteEntryBody(68123473, "Minute order denying stay"), hdr)
	require.Equal(t, http.StatusOK, rec.Code)

	var count int64
	require.NoError(t, ts.db.Model(&types.FilingWebhookEvent{}).Count(&count).Error)
	assert.EqualValues(t, 3, count, "filing and two distinct minute entries")

	// Identical re-delivery still converges on the stored row.
	rec = ts.request(t, http.MethodPost, "/webhooks/docket-alert",
		minuteEntryBody(68123473, "Minute order granting extension"), hdr)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, ts.db.Model(&types.FilingWebhookEvent{}).Count(&count).Error)
	assert.EqualValues(t, 3, count)

	var minutes []types.FilingWebhookEvent
	require.NoError(t, ts.db.Where("doc_id = ?", 0).Find(&minutes).Error)
	require.Len(t, minutes, 2)
	for _, e := range minutes {
		assert.Empty(t, e.DocumentNumber)
		assert.NotEmpty(t, e.DescriptionHash)
	}
}

func TestRecapFetchResolvesWaitingEvent(t *testing.T) {
	ts := newTestServer(t)
	event := types.FilingWebhookEvent{
		DocketID: 68123473, DocID: 501, DocumentNumber: "23",
		Status: types.StatusWaitingForDocument,
	}
	require.NoError(t, ts.db.Create(&event).Error)

	rec := ts.request(t, http.MethodPost, "/webhooks/recap-fetch",
		gin.H{"payload": gin.H{"recap_document": 501, "docket": 68123473, "status": 2}},
		hookHeaders("hook-secret"))
	require.Equal(t, http.StatusOK, rec.Code)

	jobs := ts.queuedJobs(t)
	require.Len(t, jobs, 1)
	assert.Equal(t, pipeline.JobFetchCompleted, jobs[0].Type)

	var payload struct {
		RecordID   uint64 `json:"record_id"`
		RecordType string `json:"record_type"`
	}
	require.NoError(t, json.Unmarshal(jobs[0].Payload, &payload))
	assert.Equal(t, event.ID, payload.RecordID)
	assert.Equal(t, pipeline.RecordFilingWebhook, payload.RecordType)
}

func TestRecapFetchFallsBackToSubscription(t *testing.T) {
	ts := newTestServer(t)
	sub := types.Subscription{CLDocketID: 68123473, Name: "United States v. Smith", CLURL: "https://example.com", CourtID: "nysd"}
	require.NoError(t, ts.db.Create(&sub).Error)

	rec := ts.request(t, http.MethodPost, "/webhooks/recap-fetch",
		gin.H{"payload": gin.H{"recap_document": 999, "docket": 68123473, "status": 2}},
		hookHeaders("hook-secret"))
	require.Equal(t, http.StatusOK, rec.Code)

	jobs := ts.queuedJobs(t)
	require.Len(t, jobs, 1)

	var payload struct {
		RecordID   uint64 `json:"record_id"`
		RecordType string `json:"record_type"`
	}
	require.NoError(t, json.Unmarshal(jobs[0].Payload, &payload))
	assert.Equal(t, sub.ID, payload.RecordID)
	assert.Equal(t, pipeline.RecordSubscription, payload.RecordType)
}

func TestRecapFetchUnknownDocumentIsIgnored(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodPost, "/webhooks/recap-fetch",
		gin.H{"payload": gin.H{"recap_document": 999, "docket": 1, "status": 2}},
		hookHeaders("hook-secret"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ignored")
	assert.Empty(t, ts.queuedJobs(t))
}

func TestLoginRejectsBadToken(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.request(t, http.MethodPost, "/auth/login", gin.H{"token": "nope"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAdminRequiresJWT(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.request(t, http.MethodGet, "/api/v1/channels", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.request(t, http.MethodGet, "/api/v1/channels", nil,
		map[string]string{"Authorization": "Bearer garbage"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestFollowCaseCreatesSubscriptionAndEnqueues(t *testing.T) {
	ts := newTestServer(t)
	ch := types.Channel{Service: types.ServiceMastodon, Name: "main", Enabled: true}
	require.NoError(t, ts.db.Create(&ch).Error)
	token := ts.login(t)

	rec := ts.request(t, http.MethodPost, "/api/v1/subscriptions", gin.H{
		"cl_docket_id": 68123473,
		"name":         "In re Example Corp.",
		"cl_url":       "https://www.courtlistener.com/docket/68123473/in-re-example/",
		"court_id":     "nysb",
		"channel_ids":  []uint64{ch.ID},
	}, map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, http.StatusCreated, rec.Code)

	var sub types.Subscription
	require.NoError(t, ts.db.First(&sub).Error)
	assert.EqualValues(t, 68123473, sub.CLDocketID)
	assert.True(t, sub.Bankruptcy, "nysb is a bankruptcy court")

	var link types.ChannelSubscription
	require.NoError(t, ts.db.First(&link).Error)
	assert.Equal(t, ch.ID, link.ChannelID)
	assert.Equal(t, sub.ID, link.SubscriptionID)

	jobs := ts.queuedJobs(t)
	require.Len(t, jobs, 1)
	assert.Equal(t, pipeline.JobCheckNewCase, jobs[0].Type)
}

func TestFollowCaseValidatesInput(t *testing.T) {
	ts := newTestServer(t)
	token := ts.login(t)

	// Missing channels.
	rec := ts.request(t, http.MethodPost, "/api/v1/subscriptions", gin.H{
		"cl_docket_id": 68123473,
		"name":         "In re Example Corp.",
		"cl_url":       "https://www.courtlistener.com/docket/68123473/",
		"court_id":     "nysd",
	}, map[string]string{"Authorization": "Bearer " + token})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateChannelTogglesEnabled(t *testing.T) {
	ts := newTestServer(t)
	ch := types.Channel{Service: types.ServiceMastodon, Name: "main", Enabled: true}
	require.NoError(t, ts.db.Create(&ch).Error)
	token := ts.login(t)
	auth := map[string]string{"Authorization": "Bearer " + token}

	rec := ts.request(t, http.MethodPatch, fmt.Sprintf("/api/v1/channels/%d", ch.ID),
		gin.H{"enabled": false}, auth)
	require.Equal(t, http.StatusOK, rec.Code)

	var got types.Channel
	require.NoError(t, ts.db.First(&got, ch.ID).Error)
	assert.False(t, got.Enabled)

	rec = ts.request(t, http.MethodPatch, "/api/v1/channels/9999", gin.H{"enabled": true}, auth)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListChannels(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, ts.db.Create(&types.Channel{Service: types.ServiceMastodon, Name: "main", Enabled: true}).Error)
	require.NoError(t, ts.db.Create(&types.Channel{Service: types.ServiceDiscord, Name: "alerts", Enabled: false}).Error)
	token := ts.login(t)

	rec := ts.request(t, http.MethodGet, "/api/v1/channels", nil,
		map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Channels []struct {
			Name    string `json:"name"`
			Enabled bool   `json:"enabled"`
		} `json:"channels"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Channels, 2)
	assert.Equal(t, "main", resp.Channels[0].Name)
	assert.False(t, resp.Channels[1].Enabled)
}
