package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"settlement-service/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "whsec_test"

type fakeIngestor struct {
	calls     int
	duplicate bool
	fail      bool
}

func (f *fakeIngestor) Ingest(_ context.Context, rawPayload []byte) (*models.InboundEvent, bool, error) {
	f.calls++
	if f.fail {
		return nil, false, fmt.Errorf("db unavailable")
	}
	if f.duplicate {
		return nil, true, nil
	}
	return &models.InboundEvent{ID: 1, RawPayload: rawPayload}, false, nil
}

type fakeReader struct {
	commissions []models.Commission
	split       *models.CommissionSplit
	event       *models.InboundEvent
}

func (f *fakeReader) GetEventByExternalID(_ context.Context, externalEventID string) (*models.InboundEvent, error) {
	if f.event == nil || f.event.ExternalEventID != externalEventID {
		return nil, fmt.Errorf("event not found: %s", externalEventID)
	}
	return f.event, nil
}

func (f *fakeReader) GetCommissionsByOrderID(_ context.Context, _ int64) ([]models.Commission, error) {
	return f.commissions, nil
}

func (f *fakeReader) GetSplitByOrderID(_ context.Context, _ int64) (*models.CommissionSplit, error) {
	return f.split, nil
}

type fakeLimiter struct {
	allowed bool
	err     error
}

func (f *fakeLimiter) AllowWebhook(_ context.Context, _ string, _ int, _ time.Duration) (bool, error) {
	return f.allowed, f.err
}

func newTestRouter(ingestor *fakeIngestor, reader *fakeReader, limiter RateLimiter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	handler := NewHandler(ingestor, reader, limiter, testToken, 10)
	router := gin.New()
	handler.SetupRoutes(router)
	return router
}

func postWebhook(router *gin.Engine, token string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/payments", bytes.NewReader(body))
	if token != "" {
		req.Header.Set("X-Webhook-Token", token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestWebhookAcceptsAuthenticatedDelivery(t *testing.T) {
	ingestor := &fakeIngestor{}
	router := newTestRouter(ingestor, &fakeReader{}, nil)

	w := postWebhook(router, testToken, []byte(`{"id":"evt_1","event":"PAYMENT_CONFIRMED"}`))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, ingestor.calls)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["received"])
	assert.NotContains(t, resp, "duplicate")
}

func TestWebhookRejectsBadToken(t *testing.T) {
	ingestor := &fakeIngestor{}
	router := newTestRouter(ingestor, &fakeReader{}, nil)

	w := postWebhook(router, "wrong-token", []byte(`{"id":"evt_1"}`))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, 0, ingestor.calls, "unauthenticated payload must not reach the ingestor")
}

func TestWebhookRejectsMissingToken(t *testing.T) {
	ingestor := &fakeIngestor{}
	router := newTestRouter(ingestor, &fakeReader{}, nil)

	w := postWebhook(router, "", []byte(`{"id":"evt_1"}`))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, 0, ingestor.calls)
}

func TestWebhookAcknowledgesDuplicate(t *testing.T) {
	ingestor := &fakeIngestor{duplicate: true}
	router := newTestRouter(ingestor, &fakeReader{}, nil)

	w := postWebhook(router, testToken, []byte(`{"id":"evt_1","event":"PAYMENT_CONFIRMED"}`))

	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, true, resp["duplicate"])
}

func TestWebhookReturns500WhenPersistFails(t *testing.T) {
	ingestor := &fakeIngestor{fail: true}
	router := newTestRouter(ingestor, &fakeReader{}, nil)

	w := postWebhook(router, testToken, []byte(`{"id":"evt_1","event":"PAYMENT_CONFIRMED"}`))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestWebhookRateLimitExceeded(t *testing.T) {
	ingestor := &fakeIngestor{}
	router := newTestRouter(ingestor, &fakeReader{}, &fakeLimiter{allowed: false})

	w := postWebhook(router, testToken, []byte(`{"id":"evt_1"}`))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, 0, ingestor.calls)
}

func TestWebhookRateLimiterFailsOpen(t *testing.T) {
	ingestor := &fakeIngestor{}
	router := newTestRouter(ingestor, &fakeReader{}, &fakeLimiter{err: fmt.Errorf("redis down")})

	w := postWebhook(router, testToken, []byte(`{"id":"evt_1","event":"PAYMENT_CONFIRMED"}`))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, ingestor.calls)
}

func TestGetOrderCommissions(t *testing.T) {
	reader := &fakeReader{
		commissions: []models.Commission{
			{ID: 11, OrderID: 100, Level: 1, AmountCents: 40000, Status: models.CommissionStatusPending},
		},
		split: &models.CommissionSplit{ID: 5, OrderID: 100, TotalCents: 40000, Status: models.SplitStatusExecuted},
	}
	router := newTestRouter(&fakeIngestor{}, reader, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/100/commissions", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		OrderID     int64               `json:"order_id"`
		Commissions []models.Commission `json:"commissions"`
		Split       *models.CommissionSplit
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(100), resp.OrderID)
	require.Len(t, resp.Commissions, 1)
	assert.Equal(t, int64(40000), resp.Commissions[0].AmountCents)
}

func TestGetOrderCommissionsRejectsBadID(t *testing.T) {
	router := newTestRouter(&fakeIngestor{}, &fakeReader{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/not-a-number/commissions", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetEvent(t *testing.T) {
	reader := &fakeReader{
		event: &models.InboundEvent{ID: 1, ExternalEventID: "evt_1", EventType: models.ProviderEventPaymentConfirmed},
	}
	router := newTestRouter(&fakeIngestor{}, reader, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/events/evt_1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/events/evt_missing", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHealthEndpoints(t *testing.T) {
	router := newTestRouter(&fakeIngestor{}, &fakeReader{}, nil)

	for _, path := range []string{"/health", "/ready"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}
