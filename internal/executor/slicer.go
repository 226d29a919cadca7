package executor

import (
	"math/rand"
	"time"

	"github.com/dexgate/dexgate/internal/model"
	"github.com/dexgate/dexgate/internal/rpc"
	"github.com/shopspring/decimal"
)

// Style-selection thresholds as fraction of pool liquidity.
var (
	marketMaxPct  = decimal.NewFromFloat(0.01)
	twapMaxPct    = decimal.NewFromFloat(0.05)
	vwapMaxPct    = decimal.NewFromFloat(0.10)
)

// Slice is one scheduled child order. Delay is measured from the resolution
// of the previous slice; slices execute strictly in sequence.
type Slice struct {
	Num      int
	Notional decimal.Decimal
	Delay    time.Duration
}

// Schedule is a computed slicing plan for one order.
type Schedule struct {
	Style  model.ExecutionStyle
	Slices []Slice
}

type ScheduleConfig struct {
	TWAPSlices       int
	TWAPInterval     time.Duration
	VWAPSlices       int
	VWAPBudget       time.Duration
	IcebergSlices    int
	IcebergJitterPct float64
}

func (c ScheduleConfig) withDefaults() ScheduleConfig {
	if c.TWAPSlices <= 0 {
		c.TWAPSlices = 5
	}
	if c.TWAPInterval < 30*time.Second {
		c.TWAPInterval = 30 * time.Second
	}
	if c.VWAPSlices <= 0 {
		c.VWAPSlices = 10
	}
	if c.VWAPBudget <= 0 {
		c.VWAPBudget = 10 * time.Minute
	}
	if c.IcebergSlices < 20 {
		c.IcebergSlices = 20
	}
	if c.IcebergJitterPct <= 0 {
		c.IcebergJitterPct = 0.3
	}
	return c
}

// SelectStyle picks the execution style from order size relative to pool
// liquidity. Callers that pin a style skip this.
func SelectStyle(notional, poolLiquidity decimal.Decimal) model.ExecutionStyle {
	if poolLiquidity.LessThanOrEqual(decimal.Zero) {
		return model.StyleMarket
	}
	ratio := notional.Div(poolLiquidity)
	switch {
	case ratio.LessThan(marketMaxPct):
		return model.StyleMarket
	case ratio.LessThanOrEqual(twapMaxPct):
		return model.StyleTWAP
	case ratio.LessThanOrEqual(vwapMaxPct):
		return model.StyleVWAP
	default:
		return model.StyleIceberg
	}
}

// BuildSchedule computes the slicing plan. Pure aside from the injected
// randomness source (iceberg jitter), so tests pin the rng.
func BuildSchedule(style model.ExecutionStyle, notional decimal.Decimal, buckets []rpc.VolumeBucket, cfg ScheduleConfig, rng *rand.Rand) Schedule {
	cfg = cfg.withDefaults()

	switch style {
	case model.StyleTWAP:
		return Schedule{Style: style, Slices: evenSlices(notional, cfg.TWAPSlices, cfg.TWAPInterval, nil, 0)}
	case model.StyleVWAP:
		return Schedule{Style: style, Slices: vwapSlices(notional, buckets, cfg)}
	case model.StyleIceberg:
		interval := cfg.VWAPBudget / time.Duration(cfg.IcebergSlices)
		if interval < 5*time.Second {
			interval = 5 * time.Second
		}
		return Schedule{Style: style, Slices: evenSlices(notional, cfg.IcebergSlices, interval, rng, cfg.IcebergJitterPct)}
	default:
		return Schedule{
			Style:  model.StyleMarket,
			Slices: []Slice{{Num: 1, Notional: notional}},
		}
	}
}

// evenSlices splits notional into n equal parts. The remainder from integer
// division of the decimal lands on the last slice so the total is exact.
// When rng is set, each delay gets uniform jitter of +/- jitterPct.
func evenSlices(notional decimal.Decimal, n int, interval time.Duration, rng *rand.Rand, jitterPct float64) []Slice {
	per := notional.Div(decimal.NewFromInt(int64(n))).RoundDown(8)
	slices := make([]Slice, n)
	assigned := decimal.Zero
	for i := 0; i < n; i++ {
		amt := per
		if i == n-1 {
			amt = notional.Sub(assigned)
		}
		assigned = assigned.Add(amt)

		delay := time.Duration(0)
		if i > 0 {
			delay = interval
			if rng != nil && jitterPct > 0 {
				j := 1 + jitterPct*(2*rng.Float64()-1)
				delay = time.Duration(float64(interval) * j)
			}
		}
		slices[i] = Slice{Num: i + 1, Notional: amt, Delay: delay}
	}
	return slices
}

// vwapSlices weights slices toward observed high-volume sub-windows. With
// no volume data it degrades to an even split across the time budget.
func vwapSlices(notional decimal.Decimal, buckets []rpc.VolumeBucket, cfg ScheduleConfig) []Slice {
	n := cfg.VWAPSlices
	interval := cfg.VWAPBudget / time.Duration(n)

	// Cycle buckets across slices and normalize by the cycled weight sum so
	// heavier observed windows get heavier slices and the plan sums exactly
	// to the order notional.
	weights := make([]decimal.Decimal, n)
	weightSum := decimal.Zero
	for i := 0; i < n; i++ {
		w := decimal.Zero
		if len(buckets) > 0 {
			w = buckets[i%len(buckets)].Volume
		}
		if w.IsNegative() {
			w = decimal.Zero
		}
		weights[i] = w
		weightSum = weightSum.Add(w)
	}
	if !weightSum.IsPositive() {
		return evenSlices(notional, n, interval, nil, 0)
	}

	slices := make([]Slice, n)
	assigned := decimal.Zero
	for i := 0; i < n; i++ {
		amt := notional.Mul(weights[i]).Div(weightSum).RoundDown(8)
		if i == n-1 {
			amt = notional.Sub(assigned)
		}
		assigned = assigned.Add(amt)

		delay := time.Duration(0)
		if i > 0 {
			delay = interval
		}
		slices[i] = Slice{Num: i + 1, Notional: amt, Delay: delay}
	}
	return slices
}
