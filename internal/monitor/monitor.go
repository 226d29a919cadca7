package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dexgate/dexgate/internal/audit"
	"github.com/dexgate/dexgate/internal/executor"
	"github.com/dexgate/dexgate/internal/model"
	"github.com/dexgate/dexgate/internal/pkg/logger"
	"github.com/dexgate/dexgate/internal/pkg/metrics"
	"github.com/dexgate/dexgate/internal/risk"
	"github.com/dexgate/dexgate/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PriceFunc resolves the current price for a token. Wired from the market
// stream with a quote fallback; a failure skips that position for the tick.
type PriceFunc func(ctx context.Context, tokenID string) (decimal.Decimal, error)

type Config struct {
	TickInterval  time.Duration
	MaxConcurrent int
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = 15 * time.Second
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 8
	}
	return c
}

// Monitor walks open positions every tick and fires exit orders when a
// stop-loss, take-profit or trailing stop is breached. The store CAS is
// what makes the exit fire exactly once even when a manual close races a
// tick.
type Monitor struct {
	positions store.PositionStore
	router    *executor.Router
	risk      *risk.Engine
	price     PriceFunc
	audit     *audit.Emitter
	cfg       Config

	cancel context.CancelFunc
	done   chan struct{}
}

func New(positions store.PositionStore, router *executor.Router, riskEngine *risk.Engine, price PriceFunc, emitter *audit.Emitter, cfg Config) *Monitor {
	return &Monitor{
		positions: positions,
		router:    router,
		risk:      riskEngine,
		price:     price,
		audit:     emitter,
		cfg:       cfg.withDefaults(),
	}
}

// Recover releases positions left in CLOSING by a crash mid-exit. They go
// back to OPEN so the next tick re-evaluates and retries the exit. Called
// once at startup, before the loop begins.
func (m *Monitor) Recover(ctx context.Context) error {
	stuck, err := m.positions.List(ctx, model.PositionClosing)
	if err != nil {
		return err
	}
	for _, pos := range stuck {
		won, err := m.positions.CompareAndSwapStatus(ctx, pos.ID, model.PositionClosing, model.PositionOpen)
		if err != nil {
			return err
		}
		if !won {
			continue
		}
		logger.Warn("recovered position stuck in closing", "position_id", pos.ID, "token", pos.TokenID)
		_ = m.positions.AppendEvent(ctx, model.PositionEvent{
			ID:         uuid.NewString(),
			PositionID: pos.ID,
			Type:       model.EventExitFailed,
			Payload:    `{"reason":"interrupted by restart"}`,
		})
	}
	return nil
}

func (m *Monitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.loop(ctx)
}

func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
		<-m.done
	}
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)
	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.runOnce(ctx)
		}
	}
}

// runOnce evaluates every open position concurrently, bounded by
// MaxConcurrent. A panic in one evaluation must not kill the loop.
func (m *Monitor) runOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("monitor tick panicked", "panic", r)
		}
	}()

	open, err := m.positions.ListOpen(ctx)
	if err != nil {
		logger.Error("monitor could not list open positions", "error", err)
		return
	}
	if len(open) == 0 {
		return
	}

	sem := make(chan struct{}, m.cfg.MaxConcurrent)
	var wg sync.WaitGroup
	for _, pos := range open {
		wg.Add(1)
		sem <- struct{}{}
		go func(pos model.Position) {
			defer wg.Done()
			defer func() { <-sem }()
			m.checkOne(ctx, pos)
		}(pos)
	}
	wg.Wait()
}

func (m *Monitor) checkOne(ctx context.Context, pos model.Position) {
	price, err := m.price(ctx, pos.TokenID)
	if err != nil {
		// One token's dead feed must not stall the rest of the book.
		logger.Debug("price unavailable, skipping position this tick",
			"position_id", pos.ID, "token", pos.TokenID, "error", err)
		return
	}

	result, updated := EvaluateExit(pos, price)
	if updated.PeakPrice.GreaterThan(pos.PeakPrice) {
		if err := m.positions.Save(ctx, updated); err != nil {
			logger.Error("peak price save failed", "position_id", pos.ID, "error", err)
		}
	}
	if result == model.NoAction {
		return
	}

	logger.Info("exit trigger",
		"position_id", pos.ID, "token", pos.TokenID,
		"reason", result.String(), "price", price, "entry", pos.EntryPrice)

	if err := m.ClosePosition(ctx, updated, result.String()); err != nil {
		metrics.ExitTriggers.WithLabelValues(result.String(), "failed").Inc()
		logger.Error("exit failed, position stays open",
			"position_id", pos.ID, "reason", result.String(), "error", err)
		return
	}
	metrics.ExitTriggers.WithLabelValues(result.String(), "closed").Inc()
}

// EvaluateExit decides whether a position must be exited at price. Trailing
// stop outranks stop-loss outranks take-profit. The peak always ratchets up
// first, trailing or not, so a trailing stop activated later starts from
// the true high rather than a stale one.
func EvaluateExit(pos model.Position, price decimal.Decimal) (model.ExitCheckResult, model.Position) {
	if price.GreaterThan(pos.PeakPrice) {
		pos.PeakPrice = price
	}

	if pos.TrailingActive && pos.PeakPrice.IsPositive() {
		floor := pos.PeakPrice.Mul(decimal.NewFromInt(1).Sub(pos.TrailingPct))
		if price.LessThanOrEqual(floor) {
			return model.TriggerTrailingStop, pos
		}
	}
	if pos.StopLossPrice.IsPositive() && price.LessThanOrEqual(pos.StopLossPrice) {
		return model.TriggerStopLoss, pos
	}
	if pos.TakeProfitPrice.IsPositive() && price.GreaterThanOrEqual(pos.TakeProfitPrice) {
		return model.TriggerTakeProfit, pos
	}
	return model.NoAction, pos
}

// ClosePosition drives the exit chain: OPEN -> CLOSING via CAS, a market
// sell for the remaining size, then CLOSING -> CLOSED on a full fill or
// CLOSING -> OPEN when the exit order could not fill. Losing the first CAS
// means another actor is already closing; that is a no-op, not an error.
func (m *Monitor) ClosePosition(ctx context.Context, pos model.Position, reason string) error {
	if err := m.risk.CheckKillSwitch(); err != nil {
		return err
	}

	won, err := m.positions.CompareAndSwapStatus(ctx, pos.ID, model.PositionOpen, model.PositionClosing)
	if err != nil {
		return err
	}
	if !won {
		logger.Debug("position already closing elsewhere", "position_id", pos.ID)
		return nil
	}

	_ = m.positions.AppendEvent(ctx, model.PositionEvent{
		ID:         uuid.NewString(),
		PositionID: pos.ID,
		Type:       model.EventExitTrigger,
		Payload:    fmt.Sprintf(`{"reason":%q}`, reason),
	})

	order := model.Order{
		ID:         uuid.NewString(),
		TokenID:    pos.TokenID,
		Side:       model.SideSell,
		Notional:   pos.SizeRemaining,
		Style:      model.StyleMarket,
		Status:     model.OrderPending,
		PositionID: pos.ID,
		CreatedAt:  time.Now(),
	}

	done, err := m.router.Route(ctx, order, executor.ExitOverrides{})
	if err == nil && done.Status == model.OrderFilled {
		if _, casErr := m.positions.CompareAndSwapStatus(ctx, pos.ID, model.PositionClosing, model.PositionClosed); casErr != nil {
			return casErr
		}
		_ = m.positions.AppendEvent(ctx, model.PositionEvent{
			ID:         uuid.NewString(),
			PositionID: pos.ID,
			Type:       model.EventPositionClosed,
			Payload:    fmt.Sprintf(`{"order_id":%q,"reason":%q}`, done.ID, reason),
		})
		m.audit.Emit(model.AuditEvent{
			Kind:     "position_closed",
			OrderID:  done.ID,
			Position: pos.ID,
			TokenID:  pos.TokenID,
			Detail:   map[string]any{"reason": reason},
		})
		return nil
	}

	// Exit did not fully fill. Reopen so the next tick retries, and raise an
	// alert event since the position is now unprotected drift.
	if _, casErr := m.positions.CompareAndSwapStatus(ctx, pos.ID, model.PositionClosing, model.PositionOpen); casErr != nil {
		return casErr
	}
	failReason := "exit order did not fill"
	if err != nil {
		failReason = err.Error()
	} else if done.FailReason != "" {
		failReason = done.FailReason
	}
	_ = m.positions.AppendEvent(ctx, model.PositionEvent{
		ID:         uuid.NewString(),
		PositionID: pos.ID,
		Type:       model.EventExitFailed,
		Payload:    fmt.Sprintf(`{"order_id":%q,"reason":%q,"error":%q}`, order.ID, reason, failReason),
	})
	m.audit.Emit(model.AuditEvent{
		Kind:     "exit_failed",
		OrderID:  order.ID,
		Position: pos.ID,
		TokenID:  pos.TokenID,
		Detail:   map[string]any{"reason": reason, "error": failReason},
	})
	return fmt.Errorf("exit order for position %s did not fill: %s", pos.ID, failReason)
}
