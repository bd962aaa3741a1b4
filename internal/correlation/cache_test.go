package correlation

import (
	"fmt"
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestCache() (*Cache, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return New(clock.Now), clock
}

func TestRecordCapsAtTenEntries(t *testing.T) {
	cache, _ := newTestCache()

	for i := 0; i < 11; i++ {
		cache.Record(Record{AmountCents: int64(1000 + 10*i), Kind: KindWalletTopup})
	}

	if cache.Len() != 10 {
		t.Fatalf("expected 10 entries, got %d", cache.Len())
	}

	// The oldest entry fell off; the newest is still findable.
	if got := cache.FindNear(1000, time.Minute); got != nil {
		t.Fatalf("expected oldest entry evicted, found %+v", got)
	}
	if got := cache.FindNear(1100, time.Minute); got == nil {
		t.Fatal("expected newest entry present")
	}
}

func TestRecordEvictsByAge(t *testing.T) {
	cache, clock := newTestCache()

	cache.Record(Record{AmountCents: 500, Kind: KindFreeEntry})
	clock.Advance(6 * time.Minute)
	cache.Record(Record{AmountCents: 600, Kind: KindWalletTopup})

	if cache.Len() != 1 {
		t.Fatalf("expected stale entry evicted, got %d entries", cache.Len())
	}
}

func TestFindNearAmountTolerance(t *testing.T) {
	cache, _ := newTestCache()
	cache.Record(Record{AmountCents: 1000, Kind: KindProviderPayment, ResourceName: "ticket"})

	for _, amount := range []int64{999, 1000, 1001} {
		got := cache.FindNear(amount, time.Minute)
		if got == nil {
			t.Fatalf("amount %d: expected match within one cent", amount)
		}
		if got.ResourceName != "ticket" {
			t.Fatalf("amount %d: wrong record %+v", amount, got)
		}
	}

	for _, amount := range []int64{998, 1002} {
		if got := cache.FindNear(amount, time.Minute); got != nil {
			t.Fatalf("amount %d: expected no match, got %+v", amount, got)
		}
	}
}

func TestFindNearRespectsMatchWindow(t *testing.T) {
	cache, clock := newTestCache()
	cache.Record(Record{AmountCents: 1000, Kind: KindWalletTopup})

	clock.Advance(10 * time.Second)
	if got := cache.FindNear(1000, DefaultMatchWindow); got == nil {
		t.Fatal("expected match at 10s age")
	}

	clock.Advance(30 * time.Second)
	if got := cache.FindNear(1000, DefaultMatchWindow); got != nil {
		t.Fatalf("expected no match at 40s age, got %+v", got)
	}
}

func TestFindNearPrefersMostRecent(t *testing.T) {
	cache, clock := newTestCache()

	cache.Record(Record{AmountCents: 1000, Kind: KindWalletTopup, RedemptionCode: "old"})
	clock.Advance(time.Second)
	cache.Record(Record{AmountCents: 1000, Kind: KindWalletTopup, RedemptionCode: "new"})

	got := cache.FindNear(1000, time.Minute)
	if got == nil || got.RedemptionCode != "new" {
		t.Fatalf("expected most recent record, got %+v", got)
	}
}

func TestConcurrentRecordAndFind(t *testing.T) {
	cache := New(nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			cache.Record(Record{AmountCents: int64(i), Kind: KindWalletTopup})
		}
	}()
	for i := 0; i < 500; i++ {
		cache.FindNear(int64(i), time.Minute)
	}
	<-done

	if cache.Len() > 10 {
		t.Fatalf("capacity exceeded: %d", cache.Len())
	}
}

func TestFindNearEmptyCache(t *testing.T) {
	cache, _ := newTestCache()
	if got := cache.FindNear(100, 0); got != nil {
		t.Fatalf("expected nil on empty cache, got %+v", got)
	}
}

func ExampleCache_FindNear() {
	cache := New(nil)
	cache.Record(Record{AmountCents: 2500, Kind: KindProviderPayment, ResourceName: "day pass"})

	if match := cache.FindNear(2500, 0); match != nil {
		fmt.Println(match.ResourceName)
	}
	// Output: day pass
}
