package risk

import (
	"github.com/dexgate/dexgate/internal/model"
	"github.com/shopspring/decimal"
)

// Tier thresholds in USD. Evaluated in descending order, first match wins;
// a token must clear both the market-cap and liquidity bar for a tier.
var (
	establishedMcap = decimal.NewFromInt(500_000_000)
	establishedLiq  = decimal.NewFromInt(1_000_000)
	midMcap         = decimal.NewFromInt(50_000_000)
	midLiq          = decimal.NewFromInt(100_000)
	microMcap       = decimal.NewFromInt(1_000_000)
	microLiq        = decimal.NewFromInt(20_000)
)

// Params are the immutable sizing and exit defaults carried by a tier.
type Params struct {
	SizeMultiplier decimal.Decimal
	StopLossPct    decimal.Decimal // negative
	TakeProfitPct  decimal.Decimal // positive
}

var tierParams = map[model.RiskTier]Params{
	model.TierEstablished: {
		SizeMultiplier: decimal.NewFromFloat(1.0),
		StopLossPct:    decimal.NewFromFloat(-0.15),
		TakeProfitPct:  decimal.NewFromFloat(0.30),
	},
	model.TierMid: {
		SizeMultiplier: decimal.NewFromFloat(0.85),
		StopLossPct:    decimal.NewFromFloat(-0.12),
		TakeProfitPct:  decimal.NewFromFloat(0.25),
	},
	model.TierMicro: {
		SizeMultiplier: decimal.NewFromFloat(0.7),
		StopLossPct:    decimal.NewFromFloat(-0.10),
		TakeProfitPct:  decimal.NewFromFloat(0.20),
	},
	model.TierShitcoin: {
		SizeMultiplier: decimal.NewFromFloat(0.5),
		StopLossPct:    decimal.NewFromFloat(-0.07),
		TakeProfitPct:  decimal.NewFromFloat(0.15),
	},
}

// Classify buckets a token by market cap and liquidity. Pure function:
// identical inputs always yield the identical tier.
func Classify(marketCapUSD, liquidityUSD decimal.Decimal) model.RiskTier {
	switch {
	case marketCapUSD.GreaterThanOrEqual(establishedMcap) && liquidityUSD.GreaterThanOrEqual(establishedLiq):
		return model.TierEstablished
	case marketCapUSD.GreaterThanOrEqual(midMcap) && liquidityUSD.GreaterThanOrEqual(midLiq):
		return model.TierMid
	case marketCapUSD.GreaterThanOrEqual(microMcap) && liquidityUSD.GreaterThanOrEqual(microLiq):
		return model.TierMicro
	default:
		return model.TierShitcoin
	}
}

// DefaultParams returns the sizing/exit defaults for a tier. Unknown tiers
// get the most conservative bucket.
func DefaultParams(tier model.RiskTier) Params {
	if p, ok := tierParams[tier]; ok {
		return p
	}
	return tierParams[model.TierShitcoin]
}
