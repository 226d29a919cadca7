package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dexgate/dexgate/internal/audit"
	"github.com/dexgate/dexgate/internal/executor"
	"github.com/dexgate/dexgate/internal/model"
	"github.com/dexgate/dexgate/internal/monitor"
	"github.com/dexgate/dexgate/internal/pkg/apperrors"
	"github.com/dexgate/dexgate/internal/pkg/logger"
	"github.com/dexgate/dexgate/internal/reliable"
	"github.com/dexgate/dexgate/internal/risk"
	"github.com/dexgate/dexgate/internal/rpc"
	"github.com/dexgate/dexgate/internal/sentiment"
	"github.com/dexgate/dexgate/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Engine is the facade the HTTP layer talks to. Order placement is
// asynchronous: PlaceOrder returns as soon as the order is accepted and
// persisted, and the router drives it to a terminal status in the
// background.
type Engine struct {
	orders    store.OrderStore
	positions store.PositionStore
	router    *executor.Router
	monitor   *monitor.Monitor
	risk      *risk.Engine
	caller    *reliable.Caller
	sentiment *sentiment.Client
	audit     *audit.Emitter

	baseCtx context.Context
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func NewEngine(baseCtx context.Context, orders store.OrderStore, positions store.PositionStore, router *executor.Router, mon *monitor.Monitor, riskEngine *risk.Engine, caller *reliable.Caller, sentimentClient *sentiment.Client, emitter *audit.Emitter) *Engine {
	return &Engine{
		orders:    orders,
		positions: positions,
		router:    router,
		monitor:   mon,
		risk:      riskEngine,
		caller:    caller,
		sentiment: sentimentClient,
		audit:     emitter,
		baseCtx:   baseCtx,
		cancels:   make(map[string]context.CancelFunc),
	}
}

// PlaceOrder validates, sizes and accepts a new order. The returned order
// is in PENDING or ROUTING; callers poll GetOrder for the outcome.
func (e *Engine) PlaceOrder(ctx context.Context, req model.OrderRequest) (model.Order, error) {
	if err := rpc.ValidateAddress(req.TokenID); err != nil {
		return model.Order{}, apperrors.NewInvalidRequest(fmt.Sprintf("token_id is not a valid mint: %v", err))
	}

	if req.Side == string(model.SideBuy) {
		sized, err := e.sizeEntry(ctx, req)
		if err != nil {
			return model.Order{}, err
		}
		req.Notional = sized
	}

	if err := e.risk.CheckOrder(ctx, req); err != nil {
		return model.Order{}, err
	}

	style := model.ExecutionStyle(req.Style)
	if style == "" {
		style = model.StyleAuto
	}

	order := model.Order{
		ID:          uuid.NewString(),
		TokenID:     req.TokenID,
		Side:        model.Side(req.Side),
		Notional:    decimal.NewFromFloat(req.Notional),
		SlippageBps: req.SlippageBps,
		Style:       style,
		Status:      model.OrderPending,
		CreatedAt:   time.Now(),
	}
	if err := e.orders.Save(ctx, order); err != nil {
		return model.Order{}, err
	}
	e.risk.PostOrderHook(ctx, order.Notional)

	ov := executor.ExitOverrides{
		StopLossPct:   req.StopLossPct,
		TakeProfitPct: req.TakeProfitPct,
		TrailingPct:   req.TrailingPct,
	}

	// Execution outlives the HTTP request; it is tied to process lifetime
	// and cancellable per order.
	runCtx, cancel := context.WithCancel(e.baseCtx)
	e.mu.Lock()
	e.cancels[order.ID] = cancel
	e.mu.Unlock()

	go func() {
		defer func() {
			e.mu.Lock()
			delete(e.cancels, order.ID)
			e.mu.Unlock()
			cancel()
		}()
		if _, err := e.router.Route(runCtx, order, ov); err != nil {
			logger.Error("order routing failed", "order_id", order.ID, "error", err)
		}
	}()

	return order, nil
}

// sizeEntry adjusts the requested notional by the token's tier multiplier
// and the sentiment confidence. A dead sentiment feed or failed quote
// leaves the requested size untouched apart from tier scaling.
func (e *Engine) sizeEntry(ctx context.Context, req model.OrderRequest) (float64, error) {
	quote, err := e.caller.GetQuote(ctx, rpc.QuoteRequest{
		TokenID:  req.TokenID,
		Side:     req.Side,
		Notional: decimal.NewFromFloat(req.Notional),
	})
	if err != nil {
		return 0, apperrors.New(apperrors.ErrUpstream, "could not quote token for sizing", err)
	}

	tier := risk.Classify(quote.MarketCap, quote.PoolLiquidity)
	confidence := e.sentiment.Score(ctx, req.TokenID)
	sized := risk.SizeWithSentiment(decimal.NewFromFloat(req.Notional), tier, confidence)

	logger.Debug("entry sized",
		"token", req.TokenID, "tier", tier, "confidence", confidence,
		"requested", req.Notional, "sized", sized)

	f, _ := sized.Float64()
	return f, nil
}

func (e *Engine) GetOrder(ctx context.Context, id string) (model.Order, error) {
	o, err := e.orders.Get(ctx, id)
	if err == store.ErrNotFound {
		return model.Order{}, apperrors.NewNotFound("order not found")
	}
	return o, err
}

func (e *Engine) ListOrders(ctx context.Context, status model.OrderStatus) ([]model.Order, error) {
	return e.orders.List(ctx, status)
}

// CancelOrder stops an in-flight order. Slices already submitted stay
// submitted; the order lands in CANCELLED or PARTIALLY_FILLED.
func (e *Engine) CancelOrder(ctx context.Context, id string) (model.Order, error) {
	o, err := e.GetOrder(ctx, id)
	if err != nil {
		return model.Order{}, err
	}
	if o.Status.Terminal() {
		return model.Order{}, apperrors.New(apperrors.ErrConflict, "order already finished", nil)
	}

	e.mu.Lock()
	cancel, ok := e.cancels[id]
	e.mu.Unlock()
	if ok {
		cancel()
		return o, nil
	}

	// Never picked up by the router; cancel directly.
	o.Status = model.OrderCancelled
	o.FailReason = "cancelled"
	if err := e.orders.Save(ctx, o); err != nil {
		return model.Order{}, err
	}
	return o, nil
}

func (e *Engine) GetPosition(ctx context.Context, id string) (model.Position, error) {
	p, err := e.positions.Get(ctx, id)
	if err == store.ErrNotFound {
		return model.Position{}, apperrors.NewNotFound("position not found")
	}
	return p, err
}

func (e *Engine) ListPositions(ctx context.Context, status model.PositionStatus) ([]model.Position, error) {
	return e.positions.List(ctx, status)
}

func (e *Engine) ListPositionEvents(ctx context.Context, id string) ([]model.PositionEvent, error) {
	if _, err := e.GetPosition(ctx, id); err != nil {
		return nil, err
	}
	return e.positions.ListEvents(ctx, id)
}

// ForceClosePosition drives the same CAS exit chain the monitor uses, so a
// manual close and a triggered exit can never both fire.
func (e *Engine) ForceClosePosition(ctx context.Context, id string) (model.Position, error) {
	pos, err := e.GetPosition(ctx, id)
	if err != nil {
		return model.Position{}, err
	}
	if pos.Status != model.PositionOpen {
		return model.Position{}, apperrors.New(apperrors.ErrConflict, "position is not open", nil)
	}

	if err := e.monitor.ClosePosition(ctx, pos, "manual"); err != nil {
		return model.Position{}, err
	}
	return e.GetPosition(ctx, id)
}

// EngageKillSwitch halts all new submissions, entries and exits alike.
func (e *Engine) EngageKillSwitch() {
	e.risk.EngageKillSwitch()
	e.audit.Emit(model.AuditEvent{Kind: "kill_switch_engaged"})
	logger.Warn("kill switch engaged")
}

func (e *Engine) ReleaseKillSwitch() {
	e.risk.ReleaseKillSwitch()
	e.audit.Emit(model.AuditEvent{Kind: "kill_switch_released"})
	logger.Info("kill switch released")
}

func (e *Engine) KillSwitchEngaged() bool { return e.risk.KillSwitchEngaged() }
