package executor

import (
	"math/rand"
	"testing"
	"time"

	"github.com/dexgate/dexgate/internal/model"
	"github.com/dexgate/dexgate/internal/rpc"
	"github.com/shopspring/decimal"
)

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func TestSelectStyleThresholds(t *testing.T) {
	liq := d(100_000)
	cases := []struct {
		notional float64
		want     model.ExecutionStyle
	}{
		{500, model.StyleMarket},    // 0.5% of pool
		{999, model.StyleMarket},    // just under 1%
		{1000, model.StyleTWAP},     // exactly 1%
		{3000, model.StyleTWAP},     // 3%
		{5000, model.StyleTWAP},     // 5% boundary stays TWAP
		{5001, model.StyleVWAP},     // just over 5%
		{10_000, model.StyleVWAP},   // 10% boundary stays VWAP
		{10_001, model.StyleIceberg},
		{50_000, model.StyleIceberg},
	}
	for _, tc := range cases {
		if got := SelectStyle(d(tc.notional), liq); got != tc.want {
			t.Errorf("SelectStyle(%v) = %v, want %v", tc.notional, got, tc.want)
		}
	}
}

func TestSelectStyleUnknownLiquidity(t *testing.T) {
	if got := SelectStyle(d(5000), decimal.Zero); got != model.StyleMarket {
		t.Fatalf("zero liquidity should fall back to market, got %v", got)
	}
}

func sumSlices(slices []Slice) decimal.Decimal {
	total := decimal.Zero
	for _, s := range slices {
		total = total.Add(s.Notional)
	}
	return total
}

func TestTWAPScheduleShape(t *testing.T) {
	notional := d(3000)
	sched := BuildSchedule(model.StyleTWAP, notional, nil, ScheduleConfig{}, nil)

	if len(sched.Slices) != 5 {
		t.Fatalf("expected 5 TWAP slices, got %d", len(sched.Slices))
	}
	if !sumSlices(sched.Slices).Equal(notional) {
		t.Fatalf("slices must sum to notional exactly, got %s", sumSlices(sched.Slices))
	}
	if sched.Slices[0].Delay != 0 {
		t.Fatalf("first slice must run immediately, delay %v", sched.Slices[0].Delay)
	}
	for _, s := range sched.Slices[1:] {
		if s.Delay < 30*time.Second {
			t.Fatalf("slice %d interval %v below 30s floor", s.Num, s.Delay)
		}
	}
}

func TestMarketScheduleIsSingleSlice(t *testing.T) {
	sched := BuildSchedule(model.StyleMarket, d(500), nil, ScheduleConfig{}, nil)
	if len(sched.Slices) != 1 || !sched.Slices[0].Notional.Equal(d(500)) {
		t.Fatalf("market order should be one full slice, got %+v", sched.Slices)
	}
}

func TestVWAPScheduleWeightsByVolume(t *testing.T) {
	notional := d(10_000)
	buckets := []rpc.VolumeBucket{
		{StartUnix: 1, Volume: d(900)},
		{StartUnix: 2, Volume: d(100)},
	}
	sched := BuildSchedule(model.StyleVWAP, notional, buckets, ScheduleConfig{VWAPSlices: 2}, nil)

	if len(sched.Slices) != 2 {
		t.Fatalf("expected 2 slices, got %d", len(sched.Slices))
	}
	if !sumSlices(sched.Slices).Equal(notional) {
		t.Fatalf("slices must sum to notional, got %s", sumSlices(sched.Slices))
	}
	if !sched.Slices[0].Notional.GreaterThan(sched.Slices[1].Notional) {
		t.Fatalf("heavier bucket should carry heavier slice: %s vs %s",
			sched.Slices[0].Notional, sched.Slices[1].Notional)
	}
	if !sched.Slices[0].Notional.Equal(d(9000)) {
		t.Fatalf("expected 90/10 split, first slice %s", sched.Slices[0].Notional)
	}
}

func TestVWAPScheduleDegradesWithoutVolume(t *testing.T) {
	notional := d(10_000)
	sched := BuildSchedule(model.StyleVWAP, notional, nil, ScheduleConfig{}, nil)

	if len(sched.Slices) != 10 {
		t.Fatalf("expected default 10 slices, got %d", len(sched.Slices))
	}
	if !sumSlices(sched.Slices).Equal(notional) {
		t.Fatalf("slices must sum to notional, got %s", sumSlices(sched.Slices))
	}
	// Even split: every slice equal to within rounding on the last.
	per := sched.Slices[0].Notional
	for _, s := range sched.Slices[:9] {
		if !s.Notional.Equal(per) {
			t.Fatalf("expected even split, slice %d = %s", s.Num, s.Notional)
		}
	}
}

func TestIcebergScheduleJitter(t *testing.T) {
	notional := d(50_000)
	rng := rand.New(rand.NewSource(42))
	sched := BuildSchedule(model.StyleIceberg, notional, nil, ScheduleConfig{}, rng)

	if len(sched.Slices) != 20 {
		t.Fatalf("expected 20 iceberg slices, got %d", len(sched.Slices))
	}
	if !sumSlices(sched.Slices).Equal(notional) {
		t.Fatalf("slices must sum to notional, got %s", sumSlices(sched.Slices))
	}

	base := 10 * time.Minute / 20
	sawJitter := false
	for _, s := range sched.Slices[1:] {
		lo := time.Duration(float64(base) * 0.7)
		hi := time.Duration(float64(base) * 1.3)
		if s.Delay < lo || s.Delay > hi {
			t.Fatalf("slice %d delay %v outside jitter band [%v, %v]", s.Num, s.Delay, lo, hi)
		}
		if s.Delay != base {
			sawJitter = true
		}
	}
	if !sawJitter {
		t.Fatal("expected at least one jittered delay")
	}
}

func TestAdverseBps(t *testing.T) {
	cases := []struct {
		side model.Side
		ref  float64
		fill float64
		want int64
	}{
		{model.SideBuy, 1.00, 1.02, 200},  // paid 2% more
		{model.SideBuy, 1.00, 0.99, 0},    // favorable
		{model.SideSell, 1.00, 0.98, 200}, // received 2% less
		{model.SideSell, 1.00, 1.05, 0},   // favorable
		{model.SideBuy, 0, 1.0, 0},        // no reference
	}
	for _, tc := range cases {
		if got := adverseBps(tc.side, d(tc.ref), d(tc.fill)); got != tc.want {
			t.Errorf("adverseBps(%s, %v, %v) = %d, want %d", tc.side, tc.ref, tc.fill, got, tc.want)
		}
	}
}
