package risk

import (
	"context"
	"testing"

	"github.com/dexgate/dexgate/internal/model"
	"github.com/dexgate/dexgate/internal/pkg/apperrors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

type fakeCounter struct{ open int }

func (f fakeCounter) CountOpen(ctx context.Context) (int, error) { return f.open, nil }

func testEngine(open int) *Engine {
	return NewEngine(Config{
		MaxOrderValue:       decimal.NewFromInt(1000),
		MaxPositionPct:      decimal.NewFromFloat(0.1),
		TreasuryValue:       decimal.NewFromInt(10000),
		MaxOpenPositions:    3,
		MaxDailyValue:       decimal.NewFromInt(5000),
		MaxDailyOrders:      5,
		DailyLossHalt:       decimal.NewFromInt(500),
		BlacklistedTokenIDs: []string{"rug111"},
	}, NewMemoryUsageStore(), fakeCounter{open: open})
}

func req(notional float64) model.OrderRequest {
	return model.OrderRequest{TokenID: "tok", Side: "BUY", Notional: notional}
}

func TestCheckOrderPasses(t *testing.T) {
	e := testEngine(0)
	assert.NoError(t, e.CheckOrder(context.Background(), req(500)))
}

func TestCheckOrderRejectsNonPositive(t *testing.T) {
	e := testEngine(0)
	err := e.CheckOrder(context.Background(), req(0))
	assert.True(t, apperrors.IsType(err, apperrors.ErrRiskReject))
}

func TestCheckOrderMaxValue(t *testing.T) {
	e := testEngine(0)
	err := e.CheckOrder(context.Background(), req(1500))
	assert.True(t, apperrors.IsType(err, apperrors.ErrRiskReject))
}

func TestCheckOrderTreasuryCap(t *testing.T) {
	// 10% of 10000 = 1000; MaxOrderValue also 1000, so shrink the treasury
	// to make the position cap the binding limit.
	e := NewEngine(Config{
		MaxOrderValue:  decimal.NewFromInt(1000),
		MaxPositionPct: decimal.NewFromFloat(0.1),
		TreasuryValue:  decimal.NewFromInt(2000),
	}, nil, nil)
	err := e.CheckOrder(context.Background(), req(300))
	assert.True(t, apperrors.IsType(err, apperrors.ErrRiskReject))
	assert.NoError(t, e.CheckOrder(context.Background(), req(150)))
}

func TestCheckOrderBlacklist(t *testing.T) {
	e := testEngine(0)
	r := req(100)
	r.TokenID = "rug111"
	err := e.CheckOrder(context.Background(), r)
	assert.True(t, apperrors.IsType(err, apperrors.ErrRiskReject))
}

func TestCheckOrderMaxOpenPositions(t *testing.T) {
	e := testEngine(3)
	err := e.CheckOrder(context.Background(), req(100))
	assert.True(t, apperrors.IsType(err, apperrors.ErrRiskReject))
}

func TestCheckOrderDailyCaps(t *testing.T) {
	e := testEngine(0)
	ctx := context.Background()

	// Burn the daily order budget.
	for i := 0; i < 5; i++ {
		e.PostOrderHook(ctx, decimal.NewFromInt(100))
	}
	err := e.CheckOrder(ctx, req(100))
	assert.True(t, apperrors.IsType(err, apperrors.ErrRiskReject))
}

func TestCheckOrderDailyVolumeCap(t *testing.T) {
	e := testEngine(0)
	ctx := context.Background()
	e.PostOrderHook(ctx, decimal.NewFromInt(4800))

	err := e.CheckOrder(ctx, req(300))
	assert.True(t, apperrors.IsType(err, apperrors.ErrRiskReject))
	assert.NoError(t, e.CheckOrder(ctx, req(100)))
}

func TestCheckOrderDailyLossHalt(t *testing.T) {
	e := testEngine(0)
	ctx := context.Background()
	e.RecordRealizedPnL(ctx, decimal.NewFromInt(-600))

	err := e.CheckOrder(ctx, req(100))
	assert.True(t, apperrors.IsType(err, apperrors.ErrRiskReject))
}

func TestKillSwitchBlocksEverything(t *testing.T) {
	e := testEngine(0)
	e.EngageKillSwitch()

	assert.ErrorIs(t, e.CheckKillSwitch(), apperrors.ErrHaltedByKill)
	err := e.CheckOrder(context.Background(), req(100))
	assert.ErrorIs(t, err, apperrors.ErrHaltedByKill)

	e.ReleaseKillSwitch()
	assert.NoError(t, e.CheckKillSwitch())
}

func TestSizeWithSentiment(t *testing.T) {
	base := decimal.NewFromInt(100)

	// Neutral confidence leaves the tier-scaled size untouched.
	neutral := SizeWithSentiment(base, model.TierEstablished, 0.5)
	assert.True(t, neutral.Equal(decimal.NewFromInt(100)), "got %s", neutral)

	// Full confidence scales 1.5x, zero confidence 0.5x.
	bullish := SizeWithSentiment(base, model.TierEstablished, 1.0)
	assert.True(t, bullish.Equal(decimal.NewFromInt(150)), "got %s", bullish)
	bearish := SizeWithSentiment(base, model.TierEstablished, 0.0)
	assert.True(t, bearish.Equal(decimal.NewFromInt(50)), "got %s", bearish)

	// Tier multiplier compounds with sentiment.
	micro := SizeWithSentiment(base, model.TierMicro, 0.5)
	assert.True(t, micro.Equal(decimal.NewFromInt(70)), "got %s", micro)

	// Out-of-range confidence falls back to neutral.
	weird := SizeWithSentiment(base, model.TierEstablished, 7.5)
	assert.True(t, weird.Equal(decimal.NewFromInt(100)), "got %s", weird)
}
