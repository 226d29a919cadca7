package executor

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/dexgate/dexgate/internal/audit"
	"github.com/dexgate/dexgate/internal/model"
	"github.com/dexgate/dexgate/internal/pkg/apperrors"
	"github.com/dexgate/dexgate/internal/pkg/logger"
	"github.com/dexgate/dexgate/internal/pkg/metrics"
	"github.com/dexgate/dexgate/internal/reliable"
	"github.com/dexgate/dexgate/internal/risk"
	"github.com/dexgate/dexgate/internal/rpc"
	"github.com/dexgate/dexgate/internal/signer"
	"github.com/dexgate/dexgate/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Config struct {
	PaperTrading     bool
	Schedule         ScheduleConfig
	SlippageAbortBps int
}

// ExitOverrides carries the caller's optional stop-loss, take-profit and
// trailing-stop percentages. Nil fields fall back to tier defaults.
type ExitOverrides struct {
	StopLossPct   *float64
	TakeProfitPct *float64
	TrailingPct   *float64
}

// Router turns an accepted order into a slice schedule and walks it
// strictly in sequence. It is the only writer of order records after
// creation and of position size and entry price.
type Router struct {
	caller    *reliable.Caller
	signer    signer.Signer
	risk      *risk.Engine
	orders    store.OrderStore
	positions store.PositionStore
	audit     *audit.Emitter
	cfg       Config

	rngMu sync.Mutex
	rng   *rand.Rand

	volumeSource func(tokenID string) []rpc.VolumeBucket
}

func NewRouter(caller *reliable.Caller, sg signer.Signer, riskEngine *risk.Engine, orders store.OrderStore, positions store.PositionStore, emitter *audit.Emitter, cfg Config) *Router {
	if cfg.SlippageAbortBps <= 0 {
		cfg.SlippageAbortBps = 150
	}
	return &Router{
		caller:    caller,
		signer:    sg,
		risk:      riskEngine,
		orders:    orders,
		positions: positions,
		audit:     emitter,
		cfg:       cfg,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetVolumeSource wires a live bucket lookup from the market stream. When
// set, fresh stream buckets take precedence over the buckets carried on
// quotes; the quote buckets remain the fallback for cold tokens.
func (r *Router) SetVolumeSource(fn func(tokenID string) []rpc.VolumeBucket) {
	r.volumeSource = fn
}

// Route executes one order to a terminal status. It never returns before
// the order record reflects the outcome, so callers can run it in a
// goroutine and poll the store.
func (r *Router) Route(ctx context.Context, o model.Order, ov ExitOverrides) (model.Order, error) {
	o.Status = model.OrderRouting
	if err := r.orders.Save(ctx, o); err != nil {
		return o, err
	}

	quote, err := r.caller.GetQuote(ctx, rpc.QuoteRequest{
		TokenID:     o.TokenID,
		Side:        string(o.Side),
		Notional:    o.Notional,
		SlippageBps: o.SlippageBps,
	})
	if err != nil {
		return r.finish(ctx, o, nil, fmt.Sprintf("initial quote failed: %v", err))
	}

	style := o.Style
	if style == "" || style == model.StyleAuto {
		style = SelectStyle(o.Notional, quote.PoolLiquidity)
	}
	o.Style = style

	buckets := quote.VolumeBuckets
	if r.volumeSource != nil {
		if fresh := r.volumeSource(o.TokenID); len(fresh) > 0 {
			buckets = fresh
		}
	}

	r.rngMu.Lock()
	schedule := BuildSchedule(style, o.Notional, buckets, r.cfg.Schedule, r.rng)
	r.rngMu.Unlock()

	logger.Info("routing order",
		"order_id", o.ID, "token", o.TokenID, "side", o.Side,
		"style", style, "slices", len(schedule.Slices), "notional", o.Notional)

	fills, abortReason := r.walkSchedule(ctx, o, schedule, quote.Price)

	done, err := r.finish(ctx, o, fills, abortReason)
	if err != nil {
		return done, err
	}
	if done.FilledNotional.IsPositive() {
		if err := r.applyPositionEffects(ctx, done, ov, quote, fills); err != nil {
			logger.Error("position update failed", "order_id", done.ID, "error", err)
		}
	}
	return done, nil
}

// walkSchedule runs the slices in order. The remaining counter is
// decremented before each submission so a crash mid-slice can only
// under-fill, never over-fill.
func (r *Router) walkSchedule(ctx context.Context, o model.Order, schedule Schedule, refPrice decimal.Decimal) ([]model.Fill, string) {
	var fills []model.Fill
	remaining := o.Notional

	for _, slice := range schedule.Slices {
		if slice.Delay > 0 {
			select {
			case <-time.After(slice.Delay):
			case <-ctx.Done():
				return fills, "cancelled"
			}
		}

		if err := r.risk.CheckKillSwitch(); err != nil {
			return fills, "kill switch engaged"
		}

		amt := slice.Notional
		if amt.GreaterThan(remaining) {
			amt = remaining
		}
		if !amt.IsPositive() {
			break
		}
		remaining = remaining.Sub(amt)

		fill, err := r.executeSlice(ctx, o, amt, slice.Num)
		if err != nil {
			// A cancel landing mid-slice is a cancellation, not a failure.
			if ctx.Err() != nil {
				return fills, "cancelled"
			}
			metrics.SlicesTotal.WithLabelValues(string(schedule.Style), "failed").Inc()
			logger.Warn("slice failed, aborting remainder",
				"order_id", o.ID, "slice", slice.Num, "error", err)
			return fills, fmt.Sprintf("slice %d failed: %v", slice.Num, err)
		}

		metrics.SlicesTotal.WithLabelValues(string(schedule.Style), "filled").Inc()
		fills = append(fills, fill)
		r.saveProgress(ctx, o, fills)

		// The ceiling applies to the volume-weighted average across all
		// fills so far, not the latest slice alone.
		_, avg := aggregateFills(fills)
		if bps := adverseBps(o.Side, refPrice, avg); bps >= int64(r.cfg.SlippageAbortBps) {
			logger.Warn("cumulative slippage ceiling hit, aborting remainder",
				"order_id", o.ID, "slice", slice.Num, "deviation_bps", bps)
			return fills, fmt.Sprintf("slippage %dbps exceeded ceiling %dbps", bps, r.cfg.SlippageAbortBps)
		}
	}
	return fills, ""
}

// executeSlice submits one child order through the reliable path. In paper
// mode no transaction is built or sent; the slice fills at the quoted price.
func (r *Router) executeSlice(ctx context.Context, o model.Order, amt decimal.Decimal, sliceNum int) (model.Fill, error) {
	req := rpc.QuoteRequest{
		TokenID:     o.TokenID,
		Side:        string(o.Side),
		Notional:    amt,
		SlippageBps: o.SlippageBps,
	}

	if r.cfg.PaperTrading {
		q, err := r.caller.GetQuote(ctx, req)
		if err != nil {
			return model.Fill{}, err
		}
		return model.Fill{
			OrderID:  o.ID,
			SliceNum: sliceNum,
			Notional: amt,
			Price:    q.Price,
			TxSig:    "paper-" + uuid.NewString(),
			FilledAt: time.Now(),
		}, nil
	}

	var fillPrice decimal.Decimal
	prep := func(ctx context.Context, p model.Provider, attempt int) (string, error) {
		// Later attempts bid a higher priority fee so a transaction that
		// failed to land is not rebuilt with the same losing bid.
		req.PriorityFee = r.caller.SuggestPriorityFee(ctx) * uint64(attempt)
		q, err := r.caller.GetQuote(ctx, req)
		if err != nil {
			return "", err
		}
		if q.SwapTransaction == "" {
			return "", apperrors.NewPermanent("quote carried no swap transaction", nil)
		}
		fillPrice = q.Price
		return r.signer.Sign(ctx, q.SwapTransaction)
	}

	res, err := r.caller.SubmitTransaction(ctx, prep)
	if err != nil {
		return model.Fill{}, err
	}
	return model.Fill{
		OrderID:  o.ID,
		SliceNum: sliceNum,
		Notional: amt,
		Price:    fillPrice,
		TxSig:    res.Signature,
		FilledAt: time.Now(),
	}, nil
}

// adverseBps measures how far the fill moved against the order relative to
// the reference price. Favorable moves count as zero.
func adverseBps(side model.Side, ref, fill decimal.Decimal) int64 {
	if !ref.IsPositive() {
		return 0
	}
	dev := fill.Sub(ref)
	if side == model.SideSell {
		dev = dev.Neg()
	}
	if dev.LessThanOrEqual(decimal.Zero) {
		return 0
	}
	return dev.Div(ref).Mul(decimal.NewFromInt(10000)).IntPart()
}

func (r *Router) saveProgress(ctx context.Context, o model.Order, fills []model.Fill) {
	o.FilledNotional, o.AvgFillPrice = aggregateFills(fills)
	if err := r.orders.Save(ctx, o); err != nil {
		logger.Error("order progress save failed", "order_id", o.ID, "error", err)
	}
}

// finish stamps the terminal status from what actually filled.
func (r *Router) finish(ctx context.Context, o model.Order, fills []model.Fill, abortReason string) (model.Order, error) {
	o.FilledNotional, o.AvgFillPrice = aggregateFills(fills)
	switch {
	case o.FilledNotional.GreaterThanOrEqual(o.Notional):
		o.Status = model.OrderFilled
	case o.FilledNotional.IsPositive():
		o.Status = model.OrderPartiallyFilled
		o.FailReason = abortReason
	case abortReason == "cancelled":
		o.Status = model.OrderCancelled
		o.FailReason = abortReason
	default:
		o.Status = model.OrderFailed
		o.FailReason = abortReason
	}

	metrics.OrdersTotal.WithLabelValues(string(o.Status), string(o.Side)).Inc()
	r.audit.Emit(model.AuditEvent{
		Kind:    "order_" + string(o.Status),
		OrderID: o.ID,
		TokenID: o.TokenID,
		Detail: map[string]any{
			"filled_notional": o.FilledNotional.String(),
			"avg_fill_price":  o.AvgFillPrice.String(),
			"fail_reason":     o.FailReason,
		},
	})

	err := r.orders.Save(ctx, o)
	return o, err
}

func aggregateFills(fills []model.Fill) (filled, avgPrice decimal.Decimal) {
	weighted := decimal.Zero
	for _, f := range fills {
		filled = filled.Add(f.Notional)
		weighted = weighted.Add(f.Price.Mul(f.Notional))
	}
	if filled.IsPositive() {
		avgPrice = weighted.Div(filled)
	}
	return filled, avgPrice
}

// applyPositionEffects folds the order's fills into position state. Buys
// create or grow a position; sells referencing a position shrink it and
// realize PnL. Status transitions stay with the store CAS owned by the
// monitor and the service layer.
func (r *Router) applyPositionEffects(ctx context.Context, o model.Order, ov ExitOverrides, quote rpc.Quote, fills []model.Fill) error {
	if o.Side == model.SideBuy {
		return r.applyBuy(ctx, o, ov, quote)
	}
	if o.PositionID != "" {
		return r.applySell(ctx, o, fills)
	}
	return nil
}

func (r *Router) applyBuy(ctx context.Context, o model.Order, ov ExitOverrides, quote rpc.Quote) error {
	pos, err := r.positions.GetOpenByToken(ctx, o.TokenID)
	switch err {
	case nil:
		// Existing position: weighted-average the entry, grow the size.
		newSize := pos.SizeRemaining.Add(o.FilledNotional)
		pos.EntryPrice = pos.EntryPrice.Mul(pos.SizeRemaining).
			Add(o.AvgFillPrice.Mul(o.FilledNotional)).
			Div(newSize)
		pos.SizeRemaining = newSize
		applyExitLevels(&pos, ov, pos.EntryPrice)
		if err := r.positions.Save(ctx, pos); err != nil {
			return err
		}
	case store.ErrNotFound:
		tier := risk.Classify(quote.MarketCap, quote.PoolLiquidity)
		pos = model.Position{
			ID:            uuid.NewString(),
			TokenID:       o.TokenID,
			EntryPrice:    o.AvgFillPrice,
			SizeRemaining: o.FilledNotional,
			RiskTier:      tier,
			PeakPrice:     o.AvgFillPrice,
			Status:        model.PositionOpen,
			CreatedAt:     time.Now(),
		}
		applyExitLevels(&pos, ov, o.AvgFillPrice)
		if err := r.positions.Save(ctx, pos); err != nil {
			return err
		}
		_ = r.positions.AppendEvent(ctx, model.PositionEvent{
			ID:         uuid.NewString(),
			PositionID: pos.ID,
			Type:       model.EventPositionCreated,
			Payload: fmt.Sprintf(`{"order_id":%q,"tier":%q,"entry_price":%q}`,
				o.ID, tier, pos.EntryPrice),
		})
		r.audit.Emit(model.AuditEvent{
			Kind:     "position_opened",
			OrderID:  o.ID,
			Position: pos.ID,
			TokenID:  o.TokenID,
			Detail:   map[string]any{"tier": string(tier), "size": pos.SizeRemaining.String()},
		})
	default:
		return err
	}

	return r.positions.AppendEvent(ctx, model.PositionEvent{
		ID:         uuid.NewString(),
		PositionID: pos.ID,
		Type:       model.EventFill,
		Payload: fmt.Sprintf(`{"order_id":%q,"notional":%q,"avg_price":%q}`,
			o.ID, o.FilledNotional, o.AvgFillPrice),
	})
}

// applySell reduces the position by the entry-price value of the sold
// quantity and realizes the difference as PnL.
func (r *Router) applySell(ctx context.Context, o model.Order, fills []model.Fill) error {
	pos, err := r.positions.Get(ctx, o.PositionID)
	if err != nil {
		return err
	}

	reduction := decimal.Zero
	proceeds := decimal.Zero
	for _, f := range fills {
		if !f.Price.IsPositive() {
			continue
		}
		qty := f.Notional.Div(f.Price)
		reduction = reduction.Add(qty.Mul(pos.EntryPrice))
		proceeds = proceeds.Add(f.Notional)
	}
	pnl := proceeds.Sub(reduction)

	pos.SizeRemaining = pos.SizeRemaining.Sub(reduction)
	if pos.SizeRemaining.IsNegative() {
		pos.SizeRemaining = decimal.Zero
	}
	if err := r.positions.Save(ctx, pos); err != nil {
		return err
	}

	r.risk.RecordRealizedPnL(ctx, pnl)
	r.audit.Emit(model.AuditEvent{
		Kind:     "position_reduced",
		OrderID:  o.ID,
		Position: pos.ID,
		TokenID:  o.TokenID,
		Detail:   map[string]any{"pnl": pnl.String(), "size_remaining": pos.SizeRemaining.String()},
	})
	return r.positions.AppendEvent(ctx, model.PositionEvent{
		ID:         uuid.NewString(),
		PositionID: pos.ID,
		Type:       model.EventFill,
		Payload: fmt.Sprintf(`{"order_id":%q,"proceeds":%q,"pnl":%q}`,
			o.ID, proceeds, pnl),
	})
}

// applyExitLevels recomputes stop-loss, take-profit and trailing settings
// around entry. Caller overrides win; otherwise tier defaults apply.
func applyExitLevels(pos *model.Position, ov ExitOverrides, entry decimal.Decimal) {
	p := risk.DefaultParams(pos.RiskTier)

	slPct := p.StopLossPct
	if ov.StopLossPct != nil {
		slPct = decimal.NewFromFloat(*ov.StopLossPct)
	}
	tpPct := p.TakeProfitPct
	if ov.TakeProfitPct != nil {
		tpPct = decimal.NewFromFloat(*ov.TakeProfitPct)
	}

	one := decimal.NewFromInt(1)
	pos.StopLossPrice = entry.Mul(one.Add(slPct))
	pos.TakeProfitPrice = entry.Mul(one.Add(tpPct))

	if ov.TrailingPct != nil && *ov.TrailingPct > 0 {
		pos.TrailingActive = true
		pos.TrailingPct = decimal.NewFromFloat(*ov.TrailingPct)
		if pos.PeakPrice.LessThan(entry) {
			pos.PeakPrice = entry
		}
	}
}
