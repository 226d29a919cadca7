package store

import (
	"context"
	"errors"

	"github.com/dexgate/dexgate/internal/model"
)

var ErrNotFound = errors.New("record not found")

// PositionStore owns Position records. CompareAndSwapStatus is the single
// synchronization primitive for status transitions: it is the only way a
// Position leaves OPEN, so at most one caller ever wins the right to submit
// an exit order.
type PositionStore interface {
	Save(ctx context.Context, p model.Position) error
	Get(ctx context.Context, id string) (model.Position, error)
	GetOpenByToken(ctx context.Context, tokenID string) (model.Position, error)
	List(ctx context.Context, status model.PositionStatus) ([]model.Position, error)
	ListOpen(ctx context.Context) ([]model.Position, error)
	CountOpen(ctx context.Context) (int, error)
	CompareAndSwapStatus(ctx context.Context, id string, expected, next model.PositionStatus) (bool, error)

	AppendEvent(ctx context.Context, ev model.PositionEvent) error
	ListEvents(ctx context.Context, positionID string) ([]model.PositionEvent, error)
}

// OrderStore owns Order records; the execution router is the only writer
// for in-flight orders.
type OrderStore interface {
	Save(ctx context.Context, o model.Order) error
	Get(ctx context.Context, id string) (model.Order, error)
	List(ctx context.Context, status model.OrderStatus) ([]model.Order, error)
}
