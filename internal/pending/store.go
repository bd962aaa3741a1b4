// Package pending persists in-flight provider transactions across the
// redirect boundary. The process that resumes after the provider redirect
// may not be the process that initiated it, so everything needed to resume
// lives here, never in memory.
package pending

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no pending transaction exists for the id.
// Callers treat this as an explicit resume state (resumed without context),
// not as a failure.
var ErrNotFound = errors.New("no pending transaction found")

// RedemptionSnapshot captures the redemption exactly as applied at the
// moment control transferred to the provider.
type RedemptionSnapshot struct {
	ID                   string  `json:"id"`
	Code                 string  `json:"code"`
	Value                float64 `json:"value"`
	OriginalAmountCents  int64   `json:"originalAmount"`
	EffectiveAmountCents int64   `json:"effectiveAmount"`
	IsFreeEntry          bool    `json:"isFreeEntry"`
}

// ResourceSnapshot captures the catalog resource attached to the intent, so
// a resumed purchase still decrements the right stock.
type ResourceSnapshot struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
}

// Transaction is the durable snapshot required to settle a checkout in a
// later request: after the provider redirect returns, or on a retry of an
// inline settlement whose first attempt failed in transport.
type Transaction struct {
	ClientTransactionID string
	TargetWalletID      string
	PresetPaymentRef    string
	Channel             string
	AmountCents         int64
	IsFreeEntry         bool
	WalletUnitsUsed     int64
	Resource            *ResourceSnapshot
	Redemption          *RedemptionSnapshot
	CreatedAt           time.Time
}

// Store is the durability boundary of the checkout flow. Save must complete
// strictly before control transfers to the provider. Clear is only invoked
// on definitively terminal outcomes (settled, or provider-rejected); it is
// NOT called after transient settlement failures, so a retry keeps its
// redemption, resource and target context.
type Store interface {
	Save(ctx context.Context, tx Transaction) error
	Load(ctx context.Context, clientTransactionID string) (*Transaction, error)
	Clear(ctx context.Context, clientTransactionID string) error
	// DeleteOlderThan removes abandoned entries and returns how many were swept.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
