package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"bursar/internal/checkout"
)

func newTestClient(serverURL string, timeout time.Duration) *Client {
	return NewClient(Config{
		BaseURL:     serverURL,
		BearerToken: "provider-token",
		Timeout:     timeout,
		Logger:      logrus.New(),
	})
}

func TestConfirmApproved(t *testing.T) {
	var gotAuth string
	var gotBody confirmRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(confirmResponse{
			TransactionStatus: "Approved",
			Amount:            4000,
			Reference:         "REF-9",
			TransactionID:     "prov-1",
			CardToken:         "tok-1",
			CardHolder:        "Jane Doe",
			CardBrand:         "visa",
			LastDigits:        "4242",
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL, 0)
	result, err := client.Confirm(context.Background(), "handle-1", "ct-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotAuth != "Bearer provider-token" {
		t.Fatalf("wrong auth header: %q", gotAuth)
	}
	if gotBody.ID != "handle-1" || gotBody.ClientTxID != "ct-1" {
		t.Fatalf("wrong request body: %+v", gotBody)
	}
	if !result.Approved || result.AmountCents != 4000 || result.ProviderTransactionID != "prov-1" {
		t.Fatalf("wrong result: %+v", result)
	}
	if result.InstrumentToken != "tok-1" || result.InstrumentHolderName != "Jane Doe" {
		t.Fatalf("instrument fields not mapped: %+v", result)
	}
}

func TestConfirmRejectedStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(confirmResponse{
			TransactionStatus: "Declined",
			TransactionID:     "prov-2",
		})
	}))
	defer server.Close()

	client := newTestClient(server.URL, 0)
	_, err := client.Confirm(context.Background(), "handle-2", "ct-2")

	var rejected *checkout.ProviderRejected
	if !errors.As(err, &rejected) {
		t.Fatalf("expected ProviderRejected, got %v", err)
	}
	if rejected.ProviderTransactionID != "prov-2" || rejected.Status != "Declined" {
		t.Fatalf("wrong rejection: %+v", rejected)
	}
}

func TestConfirmServerErrorIsTransport(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(server.URL, 0)
	_, err := client.Confirm(context.Background(), "handle-3", "ct-3")

	var transport *checkout.ProviderTransportError
	if !errors.As(err, &transport) {
		t.Fatalf("expected ProviderTransportError, got %v", err)
	}
	if !checkout.IsRetryable(err) {
		t.Fatal("transport error must be retryable")
	}
}

func TestConfirmTimesOut(t *testing.T) {
	block := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer server.Close()
	defer close(block)

	client := newTestClient(server.URL, 100*time.Millisecond)
	_, err := client.Confirm(context.Background(), "handle-4", "ct-4")

	var timedOut *checkout.ConfirmationTimedOut
	if !errors.As(err, &timedOut) {
		t.Fatalf("expected ConfirmationTimedOut, got %v", err)
	}
	if timedOut.ProviderTransactionID != "handle-4" {
		t.Fatalf("wrong handle: %+v", timedOut)
	}
	if !checkout.IsRetryable(err) {
		t.Fatal("timeout must be retryable")
	}
}

func TestConfirmUnreachableProvider(t *testing.T) {
	client := newTestClient("http://127.0.0.1:1", 0)
	_, err := client.Confirm(context.Background(), "handle-5", "ct-5")

	var transport *checkout.ProviderTransportError
	if !errors.As(err, &transport) {
		t.Fatalf("expected ProviderTransportError, got %v", err)
	}
}
