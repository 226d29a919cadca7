package risk

import (
	"testing"

	"github.com/dexgate/dexgate/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func TestClassifyTiers(t *testing.T) {
	cases := []struct {
		name string
		mcap float64
		liq  float64
		want model.RiskTier
	}{
		{"established", 600_000_000, 2_000_000, model.TierEstablished},
		{"established boundary", 500_000_000, 1_000_000, model.TierEstablished},
		{"big mcap thin liquidity drops to mid", 600_000_000, 500_000, model.TierMid},
		{"mid", 80_000_000, 150_000, model.TierMid},
		{"mid boundary", 50_000_000, 100_000, model.TierMid},
		{"micro", 5_000_000, 50_000, model.TierMicro},
		{"micro boundary", 1_000_000, 20_000, model.TierMicro},
		{"shitcoin", 500_000, 10_000, model.TierShitcoin},
		{"mcap ok liquidity too thin", 5_000_000, 1_000, model.TierShitcoin},
		{"zero everything", 0, 0, model.TierShitcoin},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Classify(d(tc.mcap), d(tc.liq))
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestClassifyIsDeterministic(t *testing.T) {
	for i := 0; i < 100; i++ {
		assert.Equal(t, model.TierMid, Classify(d(80_000_000), d(150_000)))
	}
}

func TestDefaultParamsPerTier(t *testing.T) {
	cases := []struct {
		tier model.RiskTier
		size float64
		sl   float64
		tp   float64
	}{
		{model.TierEstablished, 1.0, -0.15, 0.30},
		{model.TierMid, 0.85, -0.12, 0.25},
		{model.TierMicro, 0.7, -0.10, 0.20},
		{model.TierShitcoin, 0.5, -0.07, 0.15},
	}
	for _, tc := range cases {
		p := DefaultParams(tc.tier)
		assert.True(t, p.SizeMultiplier.Equal(d(tc.size)), "%s size", tc.tier)
		assert.True(t, p.StopLossPct.Equal(d(tc.sl)), "%s stop loss", tc.tier)
		assert.True(t, p.TakeProfitPct.Equal(d(tc.tp)), "%s take profit", tc.tier)
	}
}

func TestDefaultParamsUnknownTierIsConservative(t *testing.T) {
	p := DefaultParams(model.RiskTier("BOGUS"))
	assert.True(t, p.SizeMultiplier.Equal(d(0.5)))
}
