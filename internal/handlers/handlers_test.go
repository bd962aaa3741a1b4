package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	bursarapi "bursar/pkg/api/bursar"

	"bursar/internal/checkout"
	"bursar/internal/correlation"
	"bursar/internal/flow"
	"bursar/internal/notifications"
	"bursar/internal/pending"
	"bursar/internal/provider"
	"bursar/internal/settlement"
)

type stubProvider struct {
	result *provider.ConfirmationResult
	err    error
}

func (s *stubProvider) Confirm(_ context.Context, _, _ string) (*provider.ConfirmationResult, error) {
	return s.result, s.err
}

type stubSettler struct {
	result *settlement.Result
	err    error
	// transientErr is returned while failuresLeft > 0, then settles succeed.
	transientErr error
	failuresLeft int
	ids          []string
}

func (s *stubSettler) Settle(_ context.Context, _ checkout.PaymentIntent, clientTransactionID string, _ *provider.ConfirmationResult) (*settlement.Result, error) {
	s.ids = append(s.ids, clientTransactionID)
	if s.failuresLeft > 0 {
		s.failuresLeft--
		return nil, s.transientErr
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func (s *stubSettler) PersistInstrument(_ context.Context, _, _ string, _ *provider.ConfirmationResult) error {
	return nil
}

type staticRate int64

func (r staticRate) UnitPriceCents(_ context.Context, _ string) (int64, error) {
	return int64(r), nil
}

func setupTest(t *testing.T, prov *stubProvider, settler *stubSettler) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mockDB, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { mockDB.Close() })

	if prov == nil {
		prov = &stubProvider{result: &provider.ConfirmationResult{Approved: true, AmountCents: 1000}}
	}
	if settler == nil {
		settler = &stubSettler{result: &settlement.Result{WalletBalanceAfterCents: 5000, Success: true}}
	}

	recent := correlation.New(nil)
	orch := flow.NewOrchestrator(flow.Config{
		Intents:         checkout.NewBuilder(staticRate(5)),
		Pending:         pending.NewMemoryStore(),
		Provider:        prov,
		Settler:         settler,
		Recent:          recent,
		Logger:          logrus.New(),
		ProviderBaseURL: "https://provider.example",
	})

	Init(mockDB, logrus.New(), orch, notifications.NewListener(recent, logrus.New()))
	t.Cleanup(func() { db = nil })

	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set("user_id", "u-1")
		c.Set("wallet_id", "w-1")
		c.Set("email", "u@example.com")
	})
	router.POST("/checkout", StartCheckout)
	router.GET("/checkout/return", CheckoutReturn)
	router.POST("/checkout/:client_transaction_id/retry", RetryCheckout)
	router.POST("/checkout/preview", PreviewRedemption)
	router.POST("/notifications/push", HandlePushNotification)
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestStartCheckoutProviderReturnsRedirect(t *testing.T) {
	router := setupTest(t, nil, nil)

	w := doJSON(t, router, "POST", "/checkout", bursarapi.StartCheckoutRequest{
		AmountCents:    4000,
		AmountEditable: true,
		Method:         "provider",
	})

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp bursarapi.StartCheckoutResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.RedirectURL == "" || resp.ClientTransactionID == "" {
		t.Fatalf("expected redirect and transaction id: %+v", resp)
	}
	if resp.Settled {
		t.Fatal("provider checkout must not be settled inline")
	}
}

func TestStartCheckoutInvalidAmountIs400(t *testing.T) {
	router := setupTest(t, nil, nil)

	w := doJSON(t, router, "POST", "/checkout", bursarapi.StartCheckoutRequest{
		AmountCents:    0,
		AmountEditable: true,
		Method:         "provider",
	})

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestStartCheckoutWalletBalanceSettlesInline(t *testing.T) {
	router := setupTest(t, nil, nil)

	w := doJSON(t, router, "POST", "/checkout", bursarapi.StartCheckoutRequest{
		AmountCents:    100,
		AmountEditable: true,
		Method:         "wallet_balance",
	})

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp bursarapi.StartCheckoutResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Settled || resp.WalletBalanceAfter != 5000 {
		t.Fatalf("expected inline settlement: %+v", resp)
	}
}

func TestCheckoutReturnMissingParamsIs400(t *testing.T) {
	router := setupTest(t, nil, nil)

	w := doJSON(t, router, "GET", "/checkout/return", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestCheckoutReturnProviderRejectionIs402(t *testing.T) {
	router := setupTest(t, &stubProvider{err: &checkout.ProviderRejected{Status: "Declined"}}, nil)

	w := doJSON(t, router, "GET", "/checkout/return?clientTxId=ct-1&handle=h-1", nil)
	if w.Code != http.StatusPaymentRequired {
		t.Fatalf("expected 402, got %d: %s", w.Code, w.Body.String())
	}
}

func TestCheckoutReturnTransportFailureIsRetryable502(t *testing.T) {
	router := setupTest(t, nil, &stubSettler{err: &checkout.SettlementTransportError{}})

	w := doJSON(t, router, "GET", "/checkout/return?clientTxId=ct-1&handle=h-1", nil)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", w.Code, w.Body.String())
	}

	var resp bursarapi.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Retryable {
		t.Fatal("transport failures must be marked retryable")
	}
}

func TestStartCheckoutInlineFailureRetriesWithSameID(t *testing.T) {
	settler := &stubSettler{
		result:       &settlement.Result{WalletBalanceAfterCents: 5000, Success: true},
		transientErr: &checkout.SettlementTransportError{},
		failuresLeft: 1,
	}
	router := setupTest(t, nil, settler)

	w := doJSON(t, router, "POST", "/checkout", bursarapi.StartCheckoutRequest{
		AmountCents:    100,
		AmountEditable: true,
		Method:         "wallet_balance",
	})
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", w.Code, w.Body.String())
	}

	var errResp bursarapi.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !errResp.Retryable || errResp.ClientTransactionID == "" {
		t.Fatalf("a retryable inline failure must report its id: %+v", errResp)
	}

	w = doJSON(t, router, "POST", "/checkout/"+errResp.ClientTransactionID+"/retry", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp bursarapi.CheckoutReturnResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Settled || resp.ClientTransactionID != errResp.ClientTransactionID {
		t.Fatalf("expected settlement under the original id: %+v", resp)
	}

	if len(settler.ids) != 2 || settler.ids[0] != settler.ids[1] {
		t.Fatalf("the ledger must see one idempotency key: %v", settler.ids)
	}
}

func TestCheckoutReturnSettlementRejectionEchoesBackendMessage(t *testing.T) {
	router := setupTest(t, nil, &stubSettler{err: &checkout.SettlementRejected{
		StatusCode: http.StatusConflict,
		Message:    "stock exhausted",
	}})

	w := doJSON(t, router, "GET", "/checkout/return?clientTxId=ct-1&handle=h-1", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}

	var resp bursarapi.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Error != "stock exhausted" {
		t.Fatalf("backend message must surface verbatim, got %q", resp.Error)
	}
}

func TestPreviewRedemptionToggle(t *testing.T) {
	router := setupTest(t, nil, nil)

	coupon := bursarapi.Redemption{ID: "r-1", Code: "SAVE20", Kind: "discount", PercentOrValue: 20}

	w := doJSON(t, router, "POST", "/checkout/preview", bursarapi.PreviewRedemptionRequest{
		AmountCents: 5000,
		Selected:    coupon,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp bursarapi.PreviewRedemptionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.EffectiveAmountCents != 4000 || resp.Applied == nil {
		t.Fatalf("expected applied discount: %+v", resp)
	}

	// Selecting the same coupon again deselects it.
	w = doJSON(t, router, "POST", "/checkout/preview", bursarapi.PreviewRedemptionRequest{
		AmountCents: 5000,
		Current:     &coupon,
		Selected:    coupon,
	})
	resp = bursarapi.PreviewRedemptionResponse{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Applied != nil || resp.EffectiveAmountCents != 5000 {
		t.Fatalf("expected coupon deselected: %+v", resp)
	}
}

func TestHandlePushNotificationEnriches(t *testing.T) {
	router := setupTest(t, nil, nil)

	// Settle once so the correlation cache has a record.
	w := doJSON(t, router, "POST", "/checkout", bursarapi.StartCheckoutRequest{
		AmountCents:    100,
		AmountEditable: true,
		Method:         "wallet_balance",
		Resource:       &bursarapi.ResourceRef{ID: "res-1", Name: "day pass", Quantity: 1},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, "POST", "/notifications/push", bursarapi.PushNotificationRequest{
		Type:    "balance_updated",
		Payload: bursarapi.PushPayload{AmountCents: 100},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp bursarapi.PushNotificationResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Event.Matched || resp.Event.ResourceName != "day pass" {
		t.Fatalf("expected enriched event: %+v", resp.Event)
	}
}

func TestHandlePushNotificationUnknownTypeIs400(t *testing.T) {
	router := setupTest(t, nil, nil)

	w := doJSON(t, router, "POST", "/notifications/push", bursarapi.PushNotificationRequest{
		Type:    "mystery",
		Payload: bursarapi.PushPayload{AmountCents: 100},
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestCheckoutStatusPending(t *testing.T) {
	gin.SetMode(gin.TestMode)

	mockDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	defer mockDB.Close()

	db = mockDB
	logger = logrus.New()
	t.Cleanup(func() { db = nil })

	mock.ExpectQuery("SELECT created_at FROM bursar.pending_transactions").
		WithArgs("ct-1").
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))

	router := gin.New()
	router.GET("/checkout/:client_transaction_id/status", CheckoutStatus)

	req := httptest.NewRequest("GET", "/checkout/ct-1/status", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp bursarapi.CheckoutStatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Pending || resp.CreatedAt == nil {
		t.Fatalf("expected pending status: %+v", resp)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
