package market

import (
	"testing"
	"time"

	"github.com/dexgate/dexgate/internal/model"
	"github.com/shopspring/decimal"
)

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func TestRecordAggregatesSameBucket(t *testing.T) {
	s := NewSampler(model.Provider{ID: "p"}, nil)

	base := int64(1_700_000_000) - 1_700_000_000%60
	s.record(tick{TokenID: "tok", Price: d(1.0), Volume: d(10), Unix: base + 1})
	s.record(tick{TokenID: "tok", Price: d(1.1), Volume: d(5), Unix: base + 30})

	buckets := s.VolumeBuckets("tok")
	if len(buckets) != 1 {
		t.Fatalf("same minute must share a bucket, got %d", len(buckets))
	}
	if !buckets[0].Volume.Equal(d(15)) {
		t.Fatalf("volume = %s", buckets[0].Volume)
	}

	price, ok := s.LastPrice("tok")
	if !ok || !price.Equal(d(1.1)) {
		t.Fatalf("last price = %s ok=%v", price, ok)
	}
}

func TestRecordRollsBucketsAndCaps(t *testing.T) {
	s := NewSampler(model.Provider{ID: "p"}, nil)

	base := int64(1_700_000_000) - 1_700_000_000%60
	for i := 0; i < 15; i++ {
		s.record(tick{TokenID: "tok", Price: d(1.0), Volume: d(1), Unix: base + int64(i*60)})
	}

	buckets := s.VolumeBuckets("tok")
	if len(buckets) != 10 {
		t.Fatalf("bucket window must cap at 10, got %d", len(buckets))
	}
	// Oldest buckets evicted; window ends at the newest minute.
	if buckets[9].StartUnix != base+14*60 {
		t.Fatalf("newest bucket start = %d", buckets[9].StartUnix)
	}
	if buckets[0].StartUnix != base+5*60 {
		t.Fatalf("oldest retained bucket start = %d", buckets[0].StartUnix)
	}
}

func TestLastPriceStaleness(t *testing.T) {
	s := NewSampler(model.Provider{ID: "p"}, nil)
	s.record(tick{TokenID: "tok", Price: d(2.0), Volume: d(1), Unix: time.Now().Unix()})

	if _, ok := s.LastPrice("tok"); !ok {
		t.Fatal("fresh price should be available")
	}
	if _, ok := s.LastPrice("other"); ok {
		t.Fatal("unknown token must report no price")
	}

	// Age the window beyond the freshness cutoff.
	s.mu.Lock()
	s.windows["tok"].updatedAt = time.Now().Add(-31 * time.Second)
	s.mu.Unlock()
	if _, ok := s.LastPrice("tok"); ok {
		t.Fatal("stale price must not be served")
	}
}

func TestSubscribeDeduplicates(t *testing.T) {
	s := NewSampler(model.Provider{ID: "p"}, []string{"a"})
	s.Subscribe([]string{"a", "b"})
	s.Subscribe([]string{"b", "c"})

	if len(s.tokens) != 3 {
		t.Fatalf("tokens = %v", s.tokens)
	}
}
