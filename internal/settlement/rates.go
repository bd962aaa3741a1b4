package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"bursar/pkg/cache"
)

// RateSource resolves the wallet unit price in minor units. The rate is a
// deployment constant served by the ledger but cached locally so checkout
// intent builds never block on it.
type RateSource struct {
	client           *Client
	cache            *cache.Cache
	defaultRateCents int64
}

// NewRateSource wraps the ledger client with a cached rate lookup.
// defaultRateCents is used until the ledger answers, and whenever it is
// unreachable.
func NewRateSource(client *Client, defaultRateCents int64) *RateSource {
	return &RateSource{
		client: client,
		cache: cache.New(cache.Options{
			TTL:                  5 * time.Minute,
			StaleWhileRevalidate: 30 * time.Minute,
			MaxEntries:           4,
		}, cache.Hooks{}),
		defaultRateCents: defaultRateCents,
	}
}

type ratesResponse struct {
	UnitPriceCents int64 `json:"unitPriceCents"`
}

// UnitPriceCents returns the price of one wallet unit in minor units.
func (r *RateSource) UnitPriceCents(ctx context.Context, walletID string) (int64, error) {
	val, err := r.cache.Get(ctx, "unit-rate", func(ctx context.Context, _ string) (interface{}, error) {
		rate, err := r.fetchRate(ctx)
		if err != nil {
			return nil, err
		}
		return rate, nil
	})
	if err != nil {
		if r.defaultRateCents > 0 {
			return r.defaultRateCents, nil
		}
		return 0, err
	}
	return val.(int64), nil
}

func (r *RateSource) fetchRate(ctx context.Context) (int64, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", r.client.baseURL+"/wallet/rates", nil)
	if err != nil {
		return 0, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+r.client.sessionToken)

	resp, err := r.client.httpClient.Do(httpReq)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("rates endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}

	var rates ratesResponse
	if err := json.Unmarshal(body, &rates); err != nil {
		return 0, fmt.Errorf("failed to decode rates response: %w", err)
	}
	if rates.UnitPriceCents <= 0 {
		return 0, fmt.Errorf("rates endpoint returned non-positive unit price %d", rates.UnitPriceCents)
	}

	return rates.UnitPriceCents, nil
}
