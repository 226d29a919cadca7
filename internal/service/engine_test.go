package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dexgate/dexgate/internal/audit"
	"github.com/dexgate/dexgate/internal/breaker"
	"github.com/dexgate/dexgate/internal/executor"
	"github.com/dexgate/dexgate/internal/model"
	"github.com/dexgate/dexgate/internal/monitor"
	"github.com/dexgate/dexgate/internal/pkg/apperrors"
	"github.com/dexgate/dexgate/internal/provider"
	"github.com/dexgate/dexgate/internal/reliable"
	"github.com/dexgate/dexgate/internal/risk"
	"github.com/dexgate/dexgate/internal/rpc"
	"github.com/dexgate/dexgate/internal/sentiment"
	"github.com/dexgate/dexgate/internal/signer"
	"github.com/dexgate/dexgate/internal/store"
	"github.com/shopspring/decimal"
)

// testMint is the wrapped-SOL mint, a well-formed 32-byte base58 address.
const testMint = "So11111111111111111111111111111111111111112"

type fixture struct {
	engine    *Engine
	positions *store.MemoryPositionStore
	orders    *store.MemoryOrderStore
	risk      *risk.Engine
}

// newFixture wires the full paper-trading stack against one scripted quote
// server.
func newFixture(t *testing.T, price float64) *fixture {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"token_id":       r.URL.Query().Get("token_id"),
			"price":          price,
			"pool_liquidity": 2_000_000,
			"market_cap":     600_000_000,
		})
	}))
	t.Cleanup(srv.Close)

	registry := provider.NewRegistry()
	registry.Register(model.Provider{ID: "test", EndpointURL: srv.URL, QuoteURL: srv.URL, Tier: 1})
	caller := reliable.NewCaller(registry, breaker.NewGroup(breaker.Config{}), rpc.NewClient(), reliable.Config{
		MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 2.0,
	})

	positions := store.NewMemoryPositionStore()
	orders := store.NewMemoryOrderStore()
	riskEngine := risk.NewEngine(risk.Config{
		MaxOrderValue:    decimal.NewFromInt(10_000),
		MaxOpenPositions: 10,
	}, risk.NewMemoryUsageStore(), positions)
	emitter := audit.NewEmitter(audit.Options{})

	router := executor.NewRouter(caller, signer.Static{}, riskEngine, orders, positions, emitter, executor.Config{
		PaperTrading: true,
	})
	priceFn := func(ctx context.Context, tokenID string) (decimal.Decimal, error) {
		return decimal.NewFromFloat(price), nil
	}
	mon := monitor.New(positions, router, riskEngine, priceFn, emitter, monitor.Config{})

	engine := NewEngine(context.Background(), orders, positions, router, mon, riskEngine, caller,
		sentiment.NewClient("", time.Second), emitter)
	return &fixture{engine: engine, positions: positions, orders: orders, risk: riskEngine}
}

func (f *fixture) waitTerminal(t *testing.T, orderID string) model.Order {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		o, err := f.engine.GetOrder(context.Background(), orderID)
		if err == nil && o.Status.Terminal() {
			return o
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("order %s never reached a terminal status", orderID)
	return model.Order{}
}

func TestPlaceOrderFlowsToFilled(t *testing.T) {
	f := newFixture(t, 1.0)

	order, err := f.engine.PlaceOrder(context.Background(), model.OrderRequest{
		TokenID: testMint, Side: "BUY", Notional: 500,
	})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if order.Status != model.OrderPending {
		t.Fatalf("initial status = %s", order.Status)
	}

	done := f.waitTerminal(t, order.ID)
	if done.Status != model.OrderFilled {
		t.Fatalf("status = %s (%s)", done.Status, done.FailReason)
	}

	// Neutral sentiment and established tier leave the size untouched.
	if !done.Notional.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("notional = %s", done.Notional)
	}

	pos, err := f.positions.GetOpenByToken(context.Background(), testMint)
	if err != nil {
		t.Fatalf("no position: %v", err)
	}
	if pos.Status != model.PositionOpen {
		t.Fatalf("position status = %s", pos.Status)
	}
}

func TestPlaceOrderRejectsBadTokenID(t *testing.T) {
	f := newFixture(t, 1.0)

	for _, tok := range []string{"tok", "", "0OIl-not-base58", "abc"} {
		_, err := f.engine.PlaceOrder(context.Background(), model.OrderRequest{
			TokenID: tok, Side: "BUY", Notional: 100,
		})
		if !apperrors.IsType(err, apperrors.ErrInvalidRequest) {
			t.Fatalf("token %q: expected invalid request, got %v", tok, err)
		}
	}
}

func TestPlaceOrderRejectedByRisk(t *testing.T) {
	f := newFixture(t, 1.0)

	_, err := f.engine.PlaceOrder(context.Background(), model.OrderRequest{
		TokenID: testMint, Side: "BUY", Notional: 50_000,
	})
	if !apperrors.IsType(err, apperrors.ErrRiskReject) {
		t.Fatalf("expected risk reject, got %v", err)
	}
}

func TestPlaceOrderBlockedByKillSwitch(t *testing.T) {
	f := newFixture(t, 1.0)
	f.engine.EngageKillSwitch()

	_, err := f.engine.PlaceOrder(context.Background(), model.OrderRequest{
		TokenID: testMint, Side: "BUY", Notional: 100,
	})
	if !apperrors.IsType(err, apperrors.ErrKillSwitch) {
		t.Fatalf("expected kill switch error, got %v", err)
	}
}

func TestCancelFinishedOrderConflicts(t *testing.T) {
	f := newFixture(t, 1.0)

	order, err := f.engine.PlaceOrder(context.Background(), model.OrderRequest{
		TokenID: testMint, Side: "BUY", Notional: 100,
	})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	f.waitTerminal(t, order.ID)

	_, err = f.engine.CancelOrder(context.Background(), order.ID)
	if !apperrors.IsType(err, apperrors.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestGetOrderNotFound(t *testing.T) {
	f := newFixture(t, 1.0)
	_, err := f.engine.GetOrder(context.Background(), "missing")
	if !apperrors.IsType(err, apperrors.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestForceClosePosition(t *testing.T) {
	f := newFixture(t, 1.0)
	ctx := context.Background()

	order, err := f.engine.PlaceOrder(ctx, model.OrderRequest{
		TokenID: testMint, Side: "BUY", Notional: 500,
	})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	f.waitTerminal(t, order.ID)

	pos, err := f.positions.GetOpenByToken(ctx, testMint)
	if err != nil {
		t.Fatalf("no position: %v", err)
	}

	closed, err := f.engine.ForceClosePosition(ctx, pos.ID)
	if err != nil {
		t.Fatalf("force close: %v", err)
	}
	if closed.Status != model.PositionClosed {
		t.Fatalf("status = %s", closed.Status)
	}

	// Closing twice conflicts: the position already left OPEN.
	_, err = f.engine.ForceClosePosition(ctx, pos.ID)
	if !apperrors.IsType(err, apperrors.ErrConflict) {
		t.Fatalf("expected conflict on double close, got %v", err)
	}

	events, _ := f.positions.ListEvents(ctx, pos.ID)
	var sawTrigger, sawClosed bool
	for _, ev := range events {
		switch ev.Type {
		case model.EventExitTrigger:
			sawTrigger = true
		case model.EventPositionClosed:
			sawClosed = true
		}
	}
	if !sawTrigger || !sawClosed {
		t.Fatalf("missing lifecycle events: trigger=%v closed=%v", sawTrigger, sawClosed)
	}
}
