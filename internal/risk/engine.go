package risk

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dexgate/dexgate/internal/model"
	"github.com/dexgate/dexgate/internal/pkg/apperrors"
	"github.com/dexgate/dexgate/internal/pkg/metrics"
	"github.com/shopspring/decimal"
)

// UsageRepo tracks per-day order counts, traded volume and realized PnL.
type UsageRepo interface {
	GetDailyUsage(ctx context.Context) (orders int, volume float64, err error)
	AddDailyUsage(ctx context.Context, orders int, volume float64) error
	GetDailyPnL(ctx context.Context) (float64, error)
	AddDailyPnL(ctx context.Context, delta float64) error
}

type Config struct {
	MaxOrderValue       decimal.Decimal
	MaxPositionPct      decimal.Decimal // of treasury
	TreasuryValue       decimal.Decimal
	MaxOpenPositions    int
	MaxDailyValue       decimal.Decimal
	MaxDailyOrders      int
	DailyLossHalt       decimal.Decimal // positive number; halt when -PnL exceeds it
	BlacklistedTokenIDs []string
}

// OpenPositionCounter reports how many positions are currently open.
type OpenPositionCounter interface {
	CountOpen(ctx context.Context) (int, error)
}

// Engine runs every pre-trade check. A returned error means the order must
// be rejected.
type Engine struct {
	cfg       Config
	repo      UsageRepo
	positions OpenPositionCounter
	blacklist map[string]bool

	killSwitch atomic.Bool
}

func NewEngine(cfg Config, repo UsageRepo, positions OpenPositionCounter) *Engine {
	bl := make(map[string]bool, len(cfg.BlacklistedTokenIDs))
	for _, id := range cfg.BlacklistedTokenIDs {
		bl[id] = true
	}
	return &Engine{cfg: cfg, repo: repo, positions: positions, blacklist: bl}
}

// EngageKillSwitch halts all new entry and exit order creation.
func (e *Engine) EngageKillSwitch()  { e.killSwitch.Store(true) }
func (e *Engine) ReleaseKillSwitch() { e.killSwitch.Store(false) }
func (e *Engine) KillSwitchEngaged() bool { return e.killSwitch.Load() }

// CheckKillSwitch is the cheap gate checked before every submission,
// entries and exits alike.
func (e *Engine) CheckKillSwitch() error {
	if e.killSwitch.Load() {
		metrics.RiskRejects.WithLabelValues("kill_switch").Inc()
		return apperrors.ErrHaltedByKill
	}
	return nil
}

// CheckOrder runs all pre-trade checks for a new entry order.
func (e *Engine) CheckOrder(ctx context.Context, req model.OrderRequest) error {
	if err := e.CheckKillSwitch(); err != nil {
		return err
	}

	notional := decimal.NewFromFloat(req.Notional)
	if notional.LessThanOrEqual(decimal.Zero) {
		metrics.RiskRejects.WithLabelValues("invalid_size").Inc()
		return apperrors.NewRiskReject("risk reject: notional must be positive")
	}

	// Single order cap
	if e.cfg.MaxOrderValue.IsPositive() && notional.GreaterThan(e.cfg.MaxOrderValue) {
		metrics.RiskRejects.WithLabelValues("max_value").Inc()
		return apperrors.NewRiskReject(fmt.Sprintf(
			"risk reject: order value %s exceeds limit %s", notional, e.cfg.MaxOrderValue))
	}

	// Per-position treasury cap
	if e.cfg.MaxPositionPct.IsPositive() && e.cfg.TreasuryValue.IsPositive() {
		maxNotional := e.cfg.TreasuryValue.Mul(e.cfg.MaxPositionPct)
		if notional.GreaterThan(maxNotional) {
			metrics.RiskRejects.WithLabelValues("position_cap").Inc()
			return apperrors.NewRiskReject(fmt.Sprintf(
				"risk reject: order value %s exceeds %s%% of treasury (%s)",
				notional, e.cfg.MaxPositionPct.Mul(decimal.NewFromInt(100)), maxNotional))
		}
	}

	// Blacklist
	if e.blacklist[req.TokenID] {
		metrics.RiskRejects.WithLabelValues("blacklisted").Inc()
		return apperrors.NewRiskReject(fmt.Sprintf("risk reject: token %s is blacklisted", req.TokenID))
	}

	// Concurrent open positions
	if e.cfg.MaxOpenPositions > 0 && e.positions != nil {
		open, err := e.positions.CountOpen(ctx)
		if err != nil {
			return fmt.Errorf("risk check failed: %w", err)
		}
		if open >= e.cfg.MaxOpenPositions {
			metrics.RiskRejects.WithLabelValues("max_positions").Inc()
			return apperrors.NewRiskReject(fmt.Sprintf(
				"risk reject: open position limit reached (%d)", e.cfg.MaxOpenPositions))
		}
	}

	// Daily caps
	if e.repo != nil && (e.cfg.MaxDailyValue.IsPositive() || e.cfg.MaxDailyOrders > 0) {
		orders, volume, err := e.repo.GetDailyUsage(ctx)
		if err != nil {
			return fmt.Errorf("risk check failed: %w", err)
		}
		vol := decimal.NewFromFloat(volume)
		if e.cfg.MaxDailyValue.IsPositive() && vol.Add(notional).GreaterThan(e.cfg.MaxDailyValue) {
			metrics.RiskRejects.WithLabelValues("daily_volume_limit").Inc()
			return apperrors.NewRiskReject(fmt.Sprintf(
				"risk reject: daily volume limit exceeded (curr: %s, new: %s, max: %s)",
				vol, notional, e.cfg.MaxDailyValue))
		}
		if e.cfg.MaxDailyOrders > 0 && orders+1 > e.cfg.MaxDailyOrders {
			metrics.RiskRejects.WithLabelValues("daily_order_limit").Inc()
			return apperrors.NewRiskReject(fmt.Sprintf(
				"risk reject: daily order limit exceeded (curr: %d, max: %d)",
				orders, e.cfg.MaxDailyOrders))
		}
	}

	// Daily-loss halt
	if e.repo != nil && e.cfg.DailyLossHalt.IsPositive() {
		pnl, err := e.repo.GetDailyPnL(ctx)
		if err != nil {
			return fmt.Errorf("risk check failed: %w", err)
		}
		if decimal.NewFromFloat(pnl).Neg().GreaterThanOrEqual(e.cfg.DailyLossHalt) {
			metrics.RiskRejects.WithLabelValues("daily_loss_halt").Inc()
			return apperrors.NewRiskReject(fmt.Sprintf(
				"risk reject: daily loss halt engaged (pnl: %.2f, halt: %s)", pnl, e.cfg.DailyLossHalt))
		}
	}

	return nil
}

// PostOrderHook updates usage counters after a successful entry.
func (e *Engine) PostOrderHook(ctx context.Context, notional decimal.Decimal) {
	if e.repo == nil {
		return
	}
	f, _ := notional.Float64()
	_ = e.repo.AddDailyUsage(ctx, 1, f)
}

// RecordRealizedPnL folds a closed position's PnL into the daily number.
func (e *Engine) RecordRealizedPnL(ctx context.Context, pnl decimal.Decimal) {
	if e.repo == nil {
		return
	}
	f, _ := pnl.Float64()
	_ = e.repo.AddDailyPnL(ctx, f)
}

// SizeWithSentiment adjusts a base notional by tier multiplier and the
// optional sentiment confidence (0..1, neutral 0.5). Confidence shifts the
// size between 0.5x and 1.5x of the tier-adjusted amount.
func SizeWithSentiment(base decimal.Decimal, tier model.RiskTier, confidence float64) decimal.Decimal {
	p := DefaultParams(tier)
	sized := base.Mul(p.SizeMultiplier)
	if confidence < 0 || confidence > 1 {
		confidence = 0.5
	}
	factor := decimal.NewFromFloat(0.5 + confidence)
	return sized.Mul(factor)
}

// MemoryUsageStore is the in-process UsageRepo used when redis is not
// configured.
type MemoryUsageStore struct {
	mu     sync.Mutex
	day    string
	orders int
	volume float64
	pnl    float64
}

func NewMemoryUsageStore() *MemoryUsageStore {
	return &MemoryUsageStore{day: today()}
}

func today() string { return time.Now().Format("2006-01-02") }

func (s *MemoryUsageStore) rolloverLocked() {
	if d := today(); d != s.day {
		s.day = d
		s.orders = 0
		s.volume = 0
		s.pnl = 0
	}
}

func (s *MemoryUsageStore) GetDailyUsage(ctx context.Context) (int, float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rolloverLocked()
	return s.orders, s.volume, nil
}

func (s *MemoryUsageStore) AddDailyUsage(ctx context.Context, orders int, volume float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rolloverLocked()
	s.orders += orders
	s.volume += volume
	return nil
}

func (s *MemoryUsageStore) GetDailyPnL(ctx context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rolloverLocked()
	return s.pnl, nil
}

func (s *MemoryUsageStore) AddDailyPnL(ctx context.Context, delta float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rolloverLocked()
	s.pnl += delta
	return nil
}
