package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dexgate/dexgate/internal/model"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	"github.com/jmoiron/sqlx"
)

func NewDB(dsn string) (*sqlx.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database dsn is empty")
	}

	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to db: %w", err)
	}

	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(1 * time.Hour)

	return db, nil
}

// PostgresPositionStore persists positions and the append-only position
// event log. The event log is the source of truth for reconstructing state
// after a restart.
type PostgresPositionStore struct {
	db *sqlx.DB
}

func NewPostgresPositionStore(db *sqlx.DB) *PostgresPositionStore {
	s := &PostgresPositionStore{db: db}
	_ = s.ensureSchema(context.Background())
	return s
}

func (s *PostgresPositionStore) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS positions (
			id TEXT PRIMARY KEY,
			token_id TEXT NOT NULL,
			entry_price NUMERIC NOT NULL,
			size_remaining NUMERIC NOT NULL,
			risk_tier TEXT NOT NULL,
			stop_loss_price NUMERIC NOT NULL,
			take_profit_price NUMERIC NOT NULL,
			trailing_active BOOLEAN NOT NULL DEFAULT FALSE,
			trailing_pct NUMERIC NOT NULL DEFAULT 0,
			peak_price NUMERIC NOT NULL DEFAULT 0,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			closed_at TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_positions_status ON positions(status);
		CREATE TABLE IF NOT EXISTS position_events (
			id TEXT PRIMARY KEY,
			position_id TEXT NOT NULL,
			type TEXT NOT NULL,
			payload TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_position_events_position ON position_events(position_id, created_at);
	`)
	return err
}

func (s *PostgresPositionStore) Save(ctx context.Context, p model.Position) error {
	p.UpdatedAt = time.Now()
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO positions (
			id, token_id, entry_price, size_remaining, risk_tier,
			stop_loss_price, take_profit_price, trailing_active, trailing_pct,
			peak_price, status, created_at, updated_at, closed_at
		) VALUES (
			:id, :token_id, :entry_price, :size_remaining, :risk_tier,
			:stop_loss_price, :take_profit_price, :trailing_active, :trailing_pct,
			:peak_price, :status, :created_at, :updated_at, :closed_at
		)
		ON CONFLICT (id) DO UPDATE SET
			entry_price = EXCLUDED.entry_price,
			size_remaining = EXCLUDED.size_remaining,
			risk_tier = EXCLUDED.risk_tier,
			stop_loss_price = EXCLUDED.stop_loss_price,
			take_profit_price = EXCLUDED.take_profit_price,
			trailing_active = EXCLUDED.trailing_active,
			trailing_pct = EXCLUDED.trailing_pct,
			peak_price = EXCLUDED.peak_price,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at,
			closed_at = EXCLUDED.closed_at
	`, p)
	return err
}

func (s *PostgresPositionStore) Get(ctx context.Context, id string) (model.Position, error) {
	var p model.Position
	err := s.db.GetContext(ctx, &p, `SELECT * FROM positions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Position{}, ErrNotFound
	}
	return p, err
}

func (s *PostgresPositionStore) GetOpenByToken(ctx context.Context, tokenID string) (model.Position, error) {
	var p model.Position
	err := s.db.GetContext(ctx, &p,
		`SELECT * FROM positions WHERE token_id = $1 AND status = $2 LIMIT 1`,
		tokenID, model.PositionOpen)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Position{}, ErrNotFound
	}
	return p, err
}

func (s *PostgresPositionStore) List(ctx context.Context, status model.PositionStatus) ([]model.Position, error) {
	var out []model.Position
	var err error
	if status == "" {
		err = s.db.SelectContext(ctx, &out, `SELECT * FROM positions ORDER BY created_at`)
	} else {
		err = s.db.SelectContext(ctx, &out,
			`SELECT * FROM positions WHERE status = $1 ORDER BY created_at`, status)
	}
	return out, err
}

func (s *PostgresPositionStore) ListOpen(ctx context.Context) ([]model.Position, error) {
	return s.List(ctx, model.PositionOpen)
}

func (s *PostgresPositionStore) CountOpen(ctx context.Context) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM positions WHERE status IN ($1, $2)`,
		model.PositionOpen, model.PositionClosing)
	return n, err
}

// CompareAndSwapStatus is a single conditional UPDATE; the row count tells
// the caller whether it won the transition.
func (s *PostgresPositionStore) CompareAndSwapStatus(ctx context.Context, id string, expected, next model.PositionStatus) (bool, error) {
	var closedAt any
	if next == model.PositionClosed {
		closedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE positions
		SET status = $3, updated_at = NOW(), closed_at = COALESCE($4, closed_at)
		WHERE id = $1 AND status = $2
	`, id, expected, next, closedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *PostgresPositionStore) AppendEvent(ctx context.Context, ev model.PositionEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO position_events (id, position_id, type, payload, created_at)
		VALUES (:id, :position_id, :type, :payload, :created_at)
	`, ev)
	return err
}

func (s *PostgresPositionStore) ListEvents(ctx context.Context, positionID string) ([]model.PositionEvent, error) {
	var out []model.PositionEvent
	err := s.db.SelectContext(ctx, &out,
		`SELECT * FROM position_events WHERE position_id = $1 ORDER BY created_at`, positionID)
	return out, err
}

// PostgresOrderStore persists orders.
type PostgresOrderStore struct {
	db *sqlx.DB
}

func NewPostgresOrderStore(db *sqlx.DB) *PostgresOrderStore {
	s := &PostgresOrderStore{db: db}
	_ = s.ensureSchema(context.Background())
	return s
}

func (s *PostgresOrderStore) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS orders (
			id TEXT PRIMARY KEY,
			token_id TEXT NOT NULL,
			side TEXT NOT NULL,
			notional NUMERIC NOT NULL,
			slippage_bps INT NOT NULL DEFAULT 0,
			style TEXT NOT NULL,
			status TEXT NOT NULL,
			position_id TEXT NOT NULL DEFAULT '',
			filled_notional NUMERIC NOT NULL DEFAULT 0,
			avg_fill_price NUMERIC NOT NULL DEFAULT 0,
			fail_reason TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status);
	`)
	return err
}

func (s *PostgresOrderStore) Save(ctx context.Context, o model.Order) error {
	o.UpdatedAt = time.Now()
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO orders (
			id, token_id, side, notional, slippage_bps, style, status, position_id,
			filled_notional, avg_fill_price, fail_reason, created_at, updated_at
		) VALUES (
			:id, :token_id, :side, :notional, :slippage_bps, :style, :status, :position_id,
			:filled_notional, :avg_fill_price, :fail_reason, :created_at, :updated_at
		)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			filled_notional = EXCLUDED.filled_notional,
			avg_fill_price = EXCLUDED.avg_fill_price,
			fail_reason = EXCLUDED.fail_reason,
			updated_at = EXCLUDED.updated_at
	`, o)
	return err
}

func (s *PostgresOrderStore) Get(ctx context.Context, id string) (model.Order, error) {
	var o model.Order
	err := s.db.GetContext(ctx, &o, `SELECT * FROM orders WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Order{}, ErrNotFound
	}
	return o, err
}

func (s *PostgresOrderStore) List(ctx context.Context, status model.OrderStatus) ([]model.Order, error) {
	var out []model.Order
	var err error
	if status == "" {
		err = s.db.SelectContext(ctx, &out, `SELECT * FROM orders ORDER BY created_at`)
	} else {
		err = s.db.SelectContext(ctx, &out,
			`SELECT * FROM orders WHERE status = $1 ORDER BY created_at`, status)
	}
	return out, err
}
