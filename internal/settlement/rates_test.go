package settlement

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestRateSourceCachesLedgerAnswer(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		json.NewEncoder(w).Encode(ratesResponse{UnitPriceCents: 7})
	}))
	defer server.Close()

	rates := NewRateSource(newTestClient(t, server.URL), 5)

	for i := 0; i < 3; i++ {
		rate, err := rates.UnitPriceCents(context.Background(), "w-1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rate != 7 {
			t.Fatalf("expected ledger rate 7, got %d", rate)
		}
	}

	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("expected one ledger call, got %d", n)
	}
}

func TestRateSourceFallsBackToDefault(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	rates := NewRateSource(newTestClient(t, server.URL), 5)

	rate, err := rates.UnitPriceCents(context.Background(), "w-1")
	if err != nil {
		t.Fatalf("expected fallback, got error %v", err)
	}
	if rate != 5 {
		t.Fatalf("expected default rate 5, got %d", rate)
	}
}

func TestRateSourceRejectsNonPositiveRate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(ratesResponse{UnitPriceCents: 0})
	}))
	defer server.Close()

	rates := NewRateSource(newTestClient(t, server.URL), 0)

	if _, err := rates.UnitPriceCents(context.Background(), "w-1"); err == nil {
		t.Fatal("expected error for non-positive rate with no default")
	}
}
