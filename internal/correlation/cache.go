// Package correlation keeps a short-lived memory of recent settlements so
// that push notifications, which arrive with only an amount, can be
// enriched with business context. Best-effort: amount collisions inside the
// match window are possible and resolved most-recent-first.
package correlation

import (
	"sync"
	"time"
)

// Kind classifies a recent transaction record.
type Kind string

const (
	KindWalletTopup       Kind = "wallet_topup"
	KindProviderPayment   Kind = "provider_payment"
	KindFreeEntry         Kind = "free_entry"
	KindRedemptionApplied Kind = "redemption_applied"
)

// Record is one recently settled transaction.
type Record struct {
	Timestamp        time.Time
	AmountCents      int64
	Kind             Kind
	ResourceName     string
	ResourceQuantity int
	RedemptionCode   string
	WalletUnitsUsed  int64
	CounterpartyName string
}

const (
	maxEntries = 10
	maxAge     = 5 * time.Minute

	// DefaultMatchWindow bounds FindNear lookups.
	DefaultMatchWindow = 30 * time.Second

	// amountToleranceCents is "within 0.01" in minor units.
	amountToleranceCents = 1
)

// Cache is an explicitly constructed, capacity- and time-bounded store of
// recent settlements. Safe for interleaved writes from the settlement path
// and reads from the push notification callback.
type Cache struct {
	mu      sync.Mutex
	now     func() time.Time
	records []Record // most recent first
}

// New creates a cache with the given clock. Pass time.Now in production;
// tests inject a fake clock to exercise eviction deterministically.
func New(now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{now: now}
}

// Record prepends the entry, then drops anything older than five minutes
// and truncates to the ten most recent.
func (c *Cache) Record(r Record) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if r.Timestamp.IsZero() {
		r.Timestamp = c.now()
	}

	c.records = append([]Record{r}, c.records...)
	c.prune()
}

// caller holds c.mu
func (c *Cache) prune() {
	cutoff := c.now().Add(-maxAge)
	kept := c.records[:0]
	for _, r := range c.records {
		if r.Timestamp.After(cutoff) {
			kept = append(kept, r)
		}
	}
	if len(kept) > maxEntries {
		kept = kept[:maxEntries]
	}
	c.records = kept
}

// FindNear returns the most recent record whose amount is within one minor
// unit of the query and whose age is under maxAge. Returns nil when nothing
// matches.
func (c *Cache) FindNear(amountCents int64, maxAge time.Duration) *Record {
	if maxAge <= 0 {
		maxAge = DefaultMatchWindow
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-maxAge)
	for _, r := range c.records {
		if !r.Timestamp.After(cutoff) {
			continue
		}
		diff := r.AmountCents - amountCents
		if diff >= -amountToleranceCents && diff <= amountToleranceCents {
			out := r
			return &out
		}
	}
	return nil
}

// Len reports how many records are currently held (after age pruning).
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prune()
	return len(c.records)
}
